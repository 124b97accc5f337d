package routes

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/dataset"
)

type DatasetHandler struct {
	service *dataset.Service
}

func NewDatasetHandler(service *dataset.Service) *DatasetHandler {
	return &DatasetHandler{service: service}
}

func (h *DatasetHandler) Register(r *mux.Router) {
	r.HandleFunc("/dataset/status", h.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/dataset/exclusions", h.handleExclusions).Methods(http.MethodGet)
	r.HandleFunc("/dataset/refreshes", h.handleRefreshes).Methods(http.MethodGet)
	r.HandleFunc("/dataset/refresh", h.handleRefresh).Methods(http.MethodPost)
	r.HandleFunc("/redcap/det", h.handleDET).Methods(http.MethodPost)
}

func (h *DatasetHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ds, stale, err := h.service.Current(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to load dataset")
		http.Error(w, "dataset unavailable", http.StatusBadGateway)
		return
	}

	byReason := make(map[string]int)
	for _, ex := range ds.Exclusions {
		byReason[ex.Reason]++
	}

	writeJSON(w, map[string]interface{}{
		"snapshot_id":          ds.SnapshotID,
		"fetched_at":           ds.FetchedAt,
		"stale":                stale,
		"observations":         len(ds.Observations),
		"participants":         len(ds.Participants),
		"exclusions":           len(ds.Exclusions),
		"exclusions_by_reason": byReason,
	})
}

// handleExclusions serves the current snapshot's exclusion log, or the
// audited log of a past snapshot when snapshot_id is given.
func (h *DatasetHandler) handleExclusions(w http.ResponseWriter, r *http.Request) {
	if snapshotID := r.URL.Query().Get("snapshot_id"); snapshotID != "" {
		exclusions, err := h.service.Exclusions(r.Context(), snapshotID, parseLimit(r))
		if err != nil {
			logger.Log.WithError(err).Error("failed to list exclusions")
			http.Error(w, "failed to list exclusions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]interface{}{
			"snapshot_id": snapshotID,
			"exclusions":  exclusions,
		})
		return
	}

	ds, stale, err := h.service.Current(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("failed to load dataset")
		http.Error(w, "dataset unavailable", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{
		"snapshot_id": ds.SnapshotID,
		"stale":       stale,
		"exclusions":  ds.Exclusions,
	})
}

func (h *DatasetHandler) handleRefreshes(w http.ResponseWriter, r *http.Request) {
	runs, err := h.service.Refreshes(r.Context(), parseLimit(r))
	if err != nil {
		logger.Log.WithError(err).Error("failed to list refreshes")
		http.Error(w, "failed to list refreshes", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"refreshes": runs})
}

func (h *DatasetHandler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Invalidate(r.Context(), "manual refresh"); err != nil {
		logger.Log.WithError(err).Error("failed to invalidate dataset")
		http.Error(w, "failed to invalidate dataset", http.StatusInternalServerError)
		return
	}

	ds, stale, err := h.service.Current(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("refresh failed")
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}
	writeJSON(w, map[string]interface{}{
		"snapshot_id":  ds.SnapshotID,
		"fetched_at":   ds.FetchedAt,
		"stale":        stale,
		"observations": len(ds.Observations),
	})
}

// handleDET receives a REDCap Data Entry Trigger. REDCap posts a form
// body on every saved record; the cached snapshot is dropped so the next
// dashboard read picks up the change.
func (h *DatasetHandler) handleDET(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid trigger payload", http.StatusBadRequest)
		return
	}

	logger.Log.WithFields(map[string]interface{}{
		"project_id": r.PostFormValue("project_id"),
		"record":     r.PostFormValue("record"),
		"instrument": r.PostFormValue("instrument"),
	}).Info("Data entry trigger received")

	if err := h.service.Invalidate(r.Context(), "data entry trigger"); err != nil {
		logger.Log.WithError(err).Error("failed to invalidate dataset")
		http.Error(w, "failed to invalidate dataset", http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]interface{}{"status": "invalidated", "at": time.Now().UTC()})
}
