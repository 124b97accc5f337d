package analysis

import (
	"fmt"

	"github.com/rm4health/dashboard/pkg/common/models"
)

// Module is one dashboard analysis view. Compute is a pure function of the
// dataset snapshot and filters: no I/O, no hidden state, and identical
// inputs yield an identical result, which makes every module independently
// cacheable by (module name, filters, snapshot version).
type Module interface {
	Name() string
	Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error)
}

// ComputationError marks a module precondition failure: a dataset the
// module cannot process, with the offending field named.
type ComputationError struct {
	Module string
	Field  string
	Detail string
}

func (e *ComputationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("analysis %s: field %q: %s", e.Module, e.Field, e.Detail)
	}
	return fmt.Sprintf("analysis %s: %s", e.Module, e.Detail)
}

// filterObservations restricts the observations considered before
// aggregation. Unset filter members mean no restriction. When a date range
// is set, observations without timestamps cannot be placed in the range
// and are excluded. Table ordering is preserved.
func filterObservations(dataset *models.Dataset, filters models.Filters) []models.Observation {
	var allowed map[string]struct{}
	if len(filters.ParticipantIDs) > 0 {
		allowed = make(map[string]struct{}, len(filters.ParticipantIDs))
		for _, id := range filters.ParticipantIDs {
			allowed[id] = struct{}{}
		}
	}

	out := make([]models.Observation, 0, len(dataset.Observations))
	for _, obs := range dataset.Observations {
		if allowed != nil {
			if _, ok := allowed[obs.ParticipantCode]; !ok {
				continue
			}
		}
		if filters.Residence != "" {
			participant, ok := dataset.Participants[obs.ParticipantCode]
			if !ok || participant.Residence != filters.Residence {
				continue
			}
		}
		if filters.DateStart != nil || filters.DateEnd != nil {
			if obs.Timestamp == nil {
				continue
			}
			if filters.DateStart != nil && obs.Timestamp.Before(*filters.DateStart) {
				continue
			}
			if filters.DateEnd != nil && obs.Timestamp.After(*filters.DateEnd) {
				continue
			}
		}
		out = append(out, obs)
	}
	return out
}

// filterParticipants restricts the participant directory the same way.
func filterParticipants(dataset *models.Dataset, filters models.Filters) map[string]models.Participant {
	var allowed map[string]struct{}
	if len(filters.ParticipantIDs) > 0 {
		allowed = make(map[string]struct{}, len(filters.ParticipantIDs))
		for _, id := range filters.ParticipantIDs {
			allowed[id] = struct{}{}
		}
	}

	out := make(map[string]models.Participant, len(dataset.Participants))
	for code, participant := range dataset.Participants {
		if allowed != nil {
			if _, ok := allowed[code]; !ok {
				continue
			}
		}
		if filters.Residence != "" && participant.Residence != filters.Residence {
			continue
		}
		out[code] = participant
	}
	return out
}

// newResult stamps the shared result metadata. The computation timestamp
// is pinned to the snapshot's fetch time so identical inputs produce an
// identical result.
func newResult(module string, dataset *models.Dataset, sourceRecords, participants int, metrics map[string]interface{}) models.AnalysisResult {
	return models.AnalysisResult{
		Module:           module,
		ComputedAt:       dataset.FetchedAt,
		SnapshotID:       dataset.SnapshotID,
		SourceRecords:    sourceRecords,
		ParticipantCount: participants,
		Metrics:          metrics,
	}
}

func requireDataset(module string, dataset *models.Dataset) error {
	if dataset == nil {
		return &ComputationError{Module: module, Detail: "nil dataset"}
	}
	return nil
}
