package analysis

import (
	"sort"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// UnknownResidence groups participants without a recorded residence.
const UnknownResidence = "unknown"

// ResidenceModule compares participant groups by residence setting:
// demographics and the configured metric averages per group. Participants
// with no residence recorded form their own group rather than being
// dropped.
type ResidenceModule struct {
	policy instrument.Policy
}

func NewResidenceModule(policy instrument.Policy) *ResidenceModule {
	return &ResidenceModule{policy: policy}
}

func (m *ResidenceModule) Name() string { return "residence" }

type ResidenceGroup struct {
	Residence          string             `json:"residence"`
	Participants       int                `json:"participants"`
	Observations       int                `json:"observations"`
	AverageAge         *float64           `json:"average_age,omitempty"`
	GenderDistribution map[string]int     `json:"gender_distribution,omitempty"`
	MetricAverages     map[string]float64 `json:"metric_averages,omitempty"`
}

func (m *ResidenceModule) Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error) {
	if err := requireDataset(m.Name(), dataset); err != nil {
		return models.AnalysisResult{}, err
	}

	observations := filterObservations(dataset, filters)
	participants := filterParticipants(dataset, filters)

	groupOf := func(code string) string {
		p, ok := participants[code]
		if !ok || p.Residence == "" {
			return UnknownResidence
		}
		return p.Residence
	}

	type acc struct {
		participants int
		observations int
		ages         []float64
		genders      map[string]int
		metricValues map[string][]float64
	}
	groups := make(map[string]*acc)
	getGroup := func(label string) *acc {
		g, ok := groups[label]
		if !ok {
			g = &acc{genders: make(map[string]int), metricValues: make(map[string][]float64)}
			groups[label] = g
		}
		return g
	}

	for code, p := range participants {
		g := getGroup(groupOf(code))
		g.participants++
		if p.Age != nil {
			g.ages = append(g.ages, *p.Age)
		}
		if p.Gender != "" {
			g.genders[p.Gender]++
		}
	}

	for _, obs := range observations {
		label := groupOf(obs.ParticipantCode)
		g, ok := groups[label]
		if !ok {
			// Observation for a participant outside the filtered directory.
			continue
		}
		g.observations++
		for _, field := range m.policy.Longitudinal.MetricFields {
			if v, numOK := obs.Number(field); numOK {
				g.metricValues[field] = append(g.metricValues[field], v)
			}
		}
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]ResidenceGroup, 0, len(labels))
	for _, label := range labels {
		g := groups[label]
		rg := ResidenceGroup{
			Residence:          label,
			Participants:       g.participants,
			Observations:       g.observations,
			GenderDistribution: g.genders,
		}
		if len(g.ages) > 0 {
			age := round2(mean(g.ages))
			rg.AverageAge = &age
		}
		if len(g.metricValues) > 0 {
			rg.MetricAverages = make(map[string]float64, len(g.metricValues))
			for field, values := range g.metricValues {
				rg.MetricAverages[field] = round2(mean(values))
			}
		}
		out = append(out, rg)
	}

	metrics := map[string]interface{}{
		"groups":      out,
		"group_count": len(out),
	}

	return newResult(m.Name(), dataset, len(observations), len(participants), metrics), nil
}
