package routes

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/dataset"
)

type AnalysisHandler struct {
	service *dataset.Service
}

func NewAnalysisHandler(service *dataset.Service) *AnalysisHandler {
	return &AnalysisHandler{service: service}
}

func (h *AnalysisHandler) Register(r *mux.Router) {
	r.HandleFunc("/analysis", h.handleList).Methods(http.MethodGet)
	r.HandleFunc("/analysis/{module}", h.handleCompute).Methods(http.MethodGet)
}

func (h *AnalysisHandler) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"modules": h.service.Modules()})
}

type analysisResponse struct {
	Result models.AnalysisResult `json:"result"`
	Stale  bool                  `json:"stale"`
}

func (h *AnalysisHandler) handleCompute(w http.ResponseWriter, r *http.Request) {
	module := mux.Vars(r)["module"]

	filters, err := parseFilters(r)
	if err != nil {
		http.Error(w, "invalid filters: "+err.Error(), http.StatusBadRequest)
		return
	}

	result, stale, err := h.service.Analyze(r.Context(), module, filters)
	if err != nil {
		if errors.Is(err, dataset.ErrUnknownModule) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).WithField("module", module).Error("analysis failed")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if stale {
		w.Header().Set("X-Dashboard-Stale", "true")
	}
	writeJSON(w, analysisResponse{Result: result, Stale: stale})
}
