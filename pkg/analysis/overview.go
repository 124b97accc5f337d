package analysis

import (
	"time"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// OverviewModule summarizes the dataset: participant and observation
// counts, per-field completeness, instrument breakdown, and most recent
// activity. An empty table yields a zeroed result, not an error.
type OverviewModule struct {
	policy instrument.Policy
}

func NewOverviewModule(policy instrument.Policy) *OverviewModule {
	return &OverviewModule{policy: policy}
}

func (m *OverviewModule) Name() string { return "overview" }

type FieldCoverage struct {
	Present  int     `json:"present"`
	Total    int     `json:"total"`
	Coverage float64 `json:"coverage"`
}

func (m *OverviewModule) Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error) {
	if err := requireDataset(m.Name(), dataset); err != nil {
		return models.AnalysisResult{}, err
	}

	observations := filterObservations(dataset, filters)
	participants := filterParticipants(dataset, filters)

	complete := 0
	byInstrument := make(map[string]int)
	fieldPresent := make(map[string]int)
	fieldTotal := make(map[string]int)
	var lastActivity *time.Time

	for _, obs := range observations {
		if obs.Complete {
			complete++
		}
		byInstrument[obs.Instrument]++
		for name, value := range obs.Fields {
			fieldTotal[name]++
			if !value.IsMissing() {
				fieldPresent[name]++
			}
		}
		if obs.Timestamp != nil && (lastActivity == nil || obs.Timestamp.After(*lastActivity)) {
			ts := *obs.Timestamp
			lastActivity = &ts
		}
	}

	coverage := make(map[string]FieldCoverage, len(fieldTotal))
	for name, total := range fieldTotal {
		coverage[name] = FieldCoverage{
			Present:  fieldPresent[name],
			Total:    total,
			Coverage: round2(float64(fieldPresent[name]) / float64(total)),
		}
	}

	completeRate := 0.0
	if len(observations) > 0 {
		completeRate = round2(float64(complete) / float64(len(observations)))
	}

	metrics := map[string]interface{}{
		"participants":               len(participants),
		"observations":               len(observations),
		"complete_observations":      complete,
		"complete_rate":              completeRate,
		"observations_by_instrument": byInstrument,
		"field_coverage":             coverage,
		"last_activity":              lastActivity,
		"exclusions":                 len(dataset.Exclusions),
	}

	return newResult(m.Name(), dataset, len(observations), len(participants), metrics), nil
}
