package analysis

import (
	"sort"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// Correlation status values.
const (
	CorrelationComputed      = "computed"
	CorrelationNotComputable = "not computable"
)

// SleepModule aggregates sleep-diary observations: duration and quality
// statistics, time within the recommended duration range, disturbance
// tallies, and the correlation between sleep quality and the configured
// biomarker. The correlation is reported only when the paired series
// reaches the configured minimum overlap.
type SleepModule struct {
	policy instrument.Policy
}

func NewSleepModule(policy instrument.Policy) *SleepModule {
	return &SleepModule{policy: policy}
}

func (m *SleepModule) Name() string { return "sleep" }

type ParticipantSleep struct {
	Code            string   `json:"code"`
	Records         int      `json:"records"`
	AverageDuration *float64 `json:"average_duration,omitempty"`
	AverageQuality  *float64 `json:"average_quality,omitempty"`
}

type CorrelationReport struct {
	Status      string  `json:"status"`
	Coefficient float64 `json:"coefficient,omitempty"`
	Overlap     int     `json:"overlap"`
	MinOverlap  int     `json:"min_overlap"`
	Biomarker   string  `json:"biomarker"`
}

func (m *SleepModule) Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error) {
	if err := requireDataset(m.Name(), dataset); err != nil {
		return models.AnalysisResult{}, err
	}

	observations := filterObservations(dataset, filters)
	participants := filterParticipants(dataset, filters)

	var durations, qualities, efficiencies []float64
	withinRange := 0
	disturbances := make(map[string]int)
	perParticipant := make(map[string]*participantSleepAcc)

	var qualitySeries, biomarkerSeries []float64

	for _, obs := range observations {
		if obs.Sleep == nil {
			continue
		}
		entry := obs.Sleep

		acc, ok := perParticipant[obs.ParticipantCode]
		if !ok {
			acc = &participantSleepAcc{}
			perParticipant[obs.ParticipantCode] = acc
		}
		acc.records++

		if entry.DurationHours != nil {
			d := *entry.DurationHours
			durations = append(durations, d)
			acc.durations = append(acc.durations, d)
			if d >= m.policy.Sleep.RecommendedMinHours && d <= m.policy.Sleep.RecommendedMaxHours {
				withinRange++
			}
		}
		if entry.Quality != nil {
			qualities = append(qualities, *entry.Quality)
			acc.qualities = append(acc.qualities, *entry.Quality)
		}
		if entry.Efficiency != nil {
			efficiencies = append(efficiencies, *entry.Efficiency)
		}
		for _, d := range entry.Disturbances {
			disturbances[d]++
		}

		// The biomarker is paired within the same observation; diaries that
		// capture both on one row contribute to the correlation.
		if entry.Quality != nil {
			if b, ok := obs.Number(m.policy.Sleep.BiomarkerField); ok {
				qualitySeries = append(qualitySeries, *entry.Quality)
				biomarkerSeries = append(biomarkerSeries, b)
			}
		}
	}

	withinRate := 0.0
	if len(durations) > 0 {
		withinRate = round2(float64(withinRange) / float64(len(durations)))
	}

	codes := make([]string, 0, len(perParticipant))
	for code := range perParticipant {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	participantStats := make([]ParticipantSleep, 0, len(codes))
	for _, code := range codes {
		acc := perParticipant[code]
		ps := ParticipantSleep{Code: code, Records: acc.records}
		if len(acc.durations) > 0 {
			v := round2(mean(acc.durations))
			ps.AverageDuration = &v
		}
		if len(acc.qualities) > 0 {
			v := round2(mean(acc.qualities))
			ps.AverageQuality = &v
		}
		participantStats = append(participantStats, ps)
	}

	correlation := CorrelationReport{
		Status:     CorrelationNotComputable,
		Overlap:    len(qualitySeries),
		MinOverlap: m.policy.Sleep.MinCorrelationOverlap,
		Biomarker:  m.policy.Sleep.BiomarkerField,
	}
	if len(qualitySeries) >= m.policy.Sleep.MinCorrelationOverlap {
		if r, ok := pearson(qualitySeries, biomarkerSeries); ok {
			correlation.Status = CorrelationComputed
			correlation.Coefficient = round2(r)
		}
	}

	metrics := map[string]interface{}{
		"duration": map[string]interface{}{
			"records":           len(durations),
			"average_hours":     round2(mean(durations)),
			"median_hours":      round2(median(durations)),
			"recommended_min":   m.policy.Sleep.RecommendedMinHours,
			"recommended_max":   m.policy.Sleep.RecommendedMaxHours,
			"within_range":      withinRange,
			"within_range_rate": withinRate,
		},
		"quality": map[string]interface{}{
			"records": len(qualities),
			"average": round2(mean(qualities)),
			"median":  round2(median(qualities)),
		},
		"efficiency": map[string]interface{}{
			"records": len(efficiencies),
			"average": round2(mean(efficiencies)),
		},
		"disturbances":    disturbances,
		"per_participant": participantStats,
		"correlation":     correlation,
	}

	return newResult(m.Name(), dataset, len(observations), len(participants), metrics), nil
}

type participantSleepAcc struct {
	records   int
	durations []float64
	qualities []float64
}
