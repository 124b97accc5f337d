package analysis

import (
	"sort"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// OtherVisitType buckets visit codes not in the configured known list.
const OtherVisitType = "other"

// UtilizationModule aggregates healthcare-utilization observations: visit
// totals per type and per participant, and co-occurrence of visits with
// the configured clinical indicator.
type UtilizationModule struct {
	policy instrument.Policy
}

func NewUtilizationModule(policy instrument.Policy) *UtilizationModule {
	return &UtilizationModule{policy: policy}
}

func (m *UtilizationModule) Name() string { return "utilization" }

type VisitTypeStats struct {
	Visits  int     `json:"visits"`
	Records int     `json:"records"`
	Share   float64 `json:"share"`
}

type ParticipantUtilization struct {
	Code    string         `json:"code"`
	Visits  int            `json:"visits"`
	ByType  map[string]int `json:"by_type"`
	Records int            `json:"records"`
}

func (m *UtilizationModule) Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error) {
	if err := requireDataset(m.Name(), dataset); err != nil {
		return models.AnalysisResult{}, err
	}

	observations := filterObservations(dataset, filters)
	participants := filterParticipants(dataset, filters)

	known := make(map[string]struct{}, len(m.policy.Utilization.KnownVisitTypes))
	for _, t := range m.policy.Utilization.KnownVisitTypes {
		known[t] = struct{}{}
	}

	totalVisits := 0
	typeVisits := make(map[string]int)
	typeRecords := make(map[string]int)
	perParticipant := make(map[string]*ParticipantUtilization)

	// Visits co-occurring with the indicator, for flagging participants
	// whose healthcare contact coincides with medication changes.
	indicatorRecords := 0
	withIndicator := 0

	for _, obs := range observations {
		if obs.Utilization == nil {
			continue
		}
		entry := obs.Utilization

		visitType := entry.VisitType
		if visitType == "" {
			visitType = OtherVisitType
		} else if _, ok := known[visitType]; !ok {
			visitType = OtherVisitType
		}

		// A record without an explicit count is one visit.
		count := 1
		if entry.VisitCount != nil {
			count = int(*entry.VisitCount)
		}

		totalVisits += count
		typeVisits[visitType] += count
		typeRecords[visitType]++

		pu, ok := perParticipant[obs.ParticipantCode]
		if !ok {
			pu = &ParticipantUtilization{Code: obs.ParticipantCode, ByType: make(map[string]int)}
			perParticipant[obs.ParticipantCode] = pu
		}
		pu.Visits += count
		pu.ByType[visitType] += count
		pu.Records++

		if entry.MedicationChanges != nil {
			indicatorRecords++
			if *entry.MedicationChanges > 0 && count > 0 {
				withIndicator++
			}
		}
	}

	byType := make(map[string]VisitTypeStats, len(typeVisits))
	for t, visits := range typeVisits {
		share := 0.0
		if totalVisits > 0 {
			share = round2(float64(visits) / float64(totalVisits))
		}
		byType[t] = VisitTypeStats{Visits: visits, Records: typeRecords[t], Share: share}
	}

	ranked := make([]ParticipantUtilization, 0, len(perParticipant))
	for _, pu := range perParticipant {
		ranked = append(ranked, *pu)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Visits != ranked[j].Visits {
			return ranked[i].Visits > ranked[j].Visits
		}
		return ranked[i].Code < ranked[j].Code
	})

	cooccurrenceRate := 0.0
	if indicatorRecords > 0 {
		cooccurrenceRate = round2(float64(withIndicator) / float64(indicatorRecords))
	}

	metrics := map[string]interface{}{
		"total_visits":    totalVisits,
		"visits_by_type":  byType,
		"per_participant": ranked,
		"indicator_cooccurrence": map[string]interface{}{
			"indicator":         m.policy.Utilization.IndicatorField,
			"records_observed":  indicatorRecords,
			"records_with_both": withIndicator,
			"rate":              cooccurrenceRate,
		},
	}

	return newResult(m.Name(), dataset, len(observations), len(participants), metrics), nil
}
