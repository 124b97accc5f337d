package routes

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
)

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.WithError(err).Error("failed to write json response")
	}
}

func parseLimit(r *http.Request) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return limit
}

// parseFilters reads analysis filters from query parameters:
// participants (comma-separated codes), date_start, date_end (YYYY-MM-DD),
// and residence.
func parseFilters(r *http.Request) (models.Filters, error) {
	var filters models.Filters
	q := r.URL.Query()

	if raw := q.Get("participants"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id != "" {
				filters.ParticipantIDs = append(filters.ParticipantIDs, id)
			}
		}
	}
	if raw := q.Get("date_start"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return models.Filters{}, err
		}
		filters.DateStart = &t
	}
	if raw := q.Get("date_end"); raw != "" {
		t, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return models.Filters{}, err
		}
		// The end date is inclusive.
		t = t.Add(24*time.Hour - time.Nanosecond)
		filters.DateEnd = &t
	}
	filters.Residence = q.Get("residence")

	return filters, nil
}
