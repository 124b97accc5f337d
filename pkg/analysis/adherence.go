package analysis

import (
	"sort"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// Adherence bands.
const (
	AdherenceHigh     = "high"
	AdherenceModerate = "moderate"
	AdherenceLow      = "low"
)

// AdherenceModule computes per-participant medication compliance from
// medication-log observations. Compliance is taken doses over expected
// doses; participants without any schedule data are listed separately
// rather than scored. Risk factors cover missed-dose streaks and reported
// side effects.
type AdherenceModule struct {
	policy instrument.Policy
}

func NewAdherenceModule(policy instrument.Policy) *AdherenceModule {
	return &AdherenceModule{policy: policy}
}

func (m *AdherenceModule) Name() string { return "adherence" }

type ParticipantAdherence struct {
	Code              string   `json:"code"`
	Records           int      `json:"records"`
	ExpectedDoses     float64  `json:"expected_doses"`
	TakenDoses        float64  `json:"taken_doses"`
	ComplianceRate    float64  `json:"compliance_rate"`
	Band              string   `json:"band"`
	LongestMissStreak int      `json:"longest_miss_streak"`
	SideEffects       []string `json:"side_effects,omitempty"`
}

func (m *AdherenceModule) Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error) {
	if err := requireDataset(m.Name(), dataset); err != nil {
		return models.AnalysisResult{}, err
	}

	observations := filterObservations(dataset, filters)
	participants := filterParticipants(dataset, filters)

	type acc struct {
		records     int
		expected    float64
		taken       float64
		hasSchedule bool
		streak      int
		longest     int
		sideEffects map[string]struct{}
	}
	perParticipant := make(map[string]*acc)

	for _, obs := range observations {
		if obs.Medication == nil {
			continue
		}
		entry := obs.Medication

		a, ok := perParticipant[obs.ParticipantCode]
		if !ok {
			a = &acc{sideEffects: make(map[string]struct{})}
			perParticipant[obs.ParticipantCode] = a
		}
		a.records++

		if entry.ExpectedDoses != nil {
			a.hasSchedule = true
			a.expected += *entry.ExpectedDoses
			if entry.TakenDoses != nil {
				a.taken += *entry.TakenDoses
			}
		} else if entry.Taken != nil {
			// Boolean diaries count one expected dose per entry.
			a.hasSchedule = true
			a.expected++
			if *entry.Taken {
				a.taken++
			}
		}

		// Observations are chronological per participant, so consecutive
		// missed entries form a streak.
		missed := false
		switch {
		case entry.Taken != nil:
			missed = !*entry.Taken
		case entry.TakenDoses != nil:
			missed = *entry.TakenDoses == 0
		case entry.MissedDoses != nil:
			missed = *entry.MissedDoses > 0
		}
		if missed {
			a.streak++
			if a.streak > a.longest {
				a.longest = a.streak
			}
		} else {
			a.streak = 0
		}

		for _, se := range entry.SideEffects {
			a.sideEffects[se] = struct{}{}
		}
	}

	var scored []ParticipantAdherence
	var noSchedule []string
	var complianceRates []float64
	highCount, lowCount := 0, 0
	withSideEffects := 0
	withMissStreak := 0

	codes := make([]string, 0, len(perParticipant))
	for code := range perParticipant {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	for _, code := range codes {
		a := perParticipant[code]
		if !a.hasSchedule || a.expected == 0 {
			noSchedule = append(noSchedule, code)
			continue
		}

		rate := round2(a.taken / a.expected)
		band := AdherenceModerate
		switch {
		case rate >= m.policy.Adherence.HighThreshold:
			band = AdherenceHigh
			highCount++
		case rate < m.policy.Adherence.LowThreshold:
			band = AdherenceLow
			lowCount++
		}

		effects := make([]string, 0, len(a.sideEffects))
		for se := range a.sideEffects {
			effects = append(effects, se)
		}
		sort.Strings(effects)
		if len(effects) > 0 {
			withSideEffects++
		}
		if a.longest > 0 {
			withMissStreak++
		}

		scored = append(scored, ParticipantAdherence{
			Code:              code,
			Records:           a.records,
			ExpectedDoses:     a.expected,
			TakenDoses:        a.taken,
			ComplianceRate:    rate,
			Band:              band,
			LongestMissStreak: a.longest,
			SideEffects:       effects,
		})
		complianceRates = append(complianceRates, rate)
	}

	// Ranking: lowest compliance first, those are the ones to follow up.
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].ComplianceRate != scored[j].ComplianceRate {
			return scored[i].ComplianceRate < scored[j].ComplianceRate
		}
		return scored[i].Code < scored[j].Code
	})

	metrics := map[string]interface{}{
		"participants":       scored,
		"no_schedule":        noSchedule,
		"average_compliance": round2(mean(complianceRates)),
		"high_adherence":     highCount,
		"low_adherence":      lowCount,
		"thresholds": map[string]float64{
			"high": m.policy.Adherence.HighThreshold,
			"low":  m.policy.Adherence.LowThreshold,
		},
		"risk_factors": map[string]int{
			"with_miss_streak":  withMissStreak,
			"with_side_effects": withSideEffects,
		},
	}

	return newResult(m.Name(), dataset, len(observations), len(participants), metrics), nil
}
