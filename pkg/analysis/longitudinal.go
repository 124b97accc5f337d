package analysis

import (
	"math"
	"sort"
	"time"

	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// Trend directions reported per metric series.
const (
	TrendRising       = "rising"
	TrendFalling      = "falling"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient data"
)

// stableSlopeEpsilon bounds the least-squares slope below which a series
// is reported as stable rather than drifting.
const stableSlopeEpsilon = 1e-9

// LongitudinalModule builds per-participant time series for the configured
// metric fields and classifies each series' trend. A participant with
// fewer than two points for a metric is reported with insufficient data,
// never dropped.
type LongitudinalModule struct {
	policy instrument.Policy
}

func NewLongitudinalModule(policy instrument.Policy) *LongitudinalModule {
	return &LongitudinalModule{policy: policy}
}

func (m *LongitudinalModule) Name() string { return "longitudinal" }

type SeriesPoint struct {
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Value     float64    `json:"value"`
}

type MetricTrend struct {
	Direction string        `json:"direction"`
	Slope     float64       `json:"slope"`
	First     float64       `json:"first"`
	Last      float64       `json:"last"`
	Points    []SeriesPoint `json:"points"`
}

type ParticipantTrend struct {
	Code      string                 `json:"code"`
	Records   int                    `json:"records"`
	FirstSeen *time.Time             `json:"first_seen,omitempty"`
	LastSeen  *time.Time             `json:"last_seen,omitempty"`
	SpanDays  int                    `json:"span_days"`
	Metrics   map[string]MetricTrend `json:"metrics"`
}

func (m *LongitudinalModule) Compute(dataset *models.Dataset, filters models.Filters) (models.AnalysisResult, error) {
	if err := requireDataset(m.Name(), dataset); err != nil {
		return models.AnalysisResult{}, err
	}

	observations := filterObservations(dataset, filters)
	participants := filterParticipants(dataset, filters)

	// Observations arrive ordered by participant then timestamp, so series
	// built by appending stay chronological.
	byParticipant := make(map[string][]models.Observation)
	for _, obs := range observations {
		byParticipant[obs.ParticipantCode] = append(byParticipant[obs.ParticipantCode], obs)
	}

	codes := make([]string, 0, len(byParticipant))
	for code := range byParticipant {
		codes = append(codes, code)
	}
	sort.Strings(codes)

	trends := make([]ParticipantTrend, 0, len(codes))
	for _, code := range codes {
		trends = append(trends, m.participantTrend(code, byParticipant[code]))
	}

	metrics := map[string]interface{}{
		"metric_fields": m.policy.Longitudinal.MetricFields,
		"participants":  trends,
	}

	return newResult(m.Name(), dataset, len(observations), len(participants), metrics), nil
}

func (m *LongitudinalModule) participantTrend(code string, observations []models.Observation) ParticipantTrend {
	trend := ParticipantTrend{
		Code:    code,
		Records: len(observations),
		Metrics: make(map[string]MetricTrend, len(m.policy.Longitudinal.MetricFields)),
	}

	for _, obs := range observations {
		if obs.Timestamp == nil {
			continue
		}
		if trend.FirstSeen == nil || obs.Timestamp.Before(*trend.FirstSeen) {
			ts := *obs.Timestamp
			trend.FirstSeen = &ts
		}
		if trend.LastSeen == nil || obs.Timestamp.After(*trend.LastSeen) {
			ts := *obs.Timestamp
			trend.LastSeen = &ts
		}
	}
	if trend.FirstSeen != nil && trend.LastSeen != nil {
		trend.SpanDays = int(trend.LastSeen.Sub(*trend.FirstSeen).Hours() / 24)
	}

	for _, field := range m.policy.Longitudinal.MetricFields {
		var points []SeriesPoint
		var values []float64
		for _, obs := range observations {
			if v, ok := obs.Number(field); ok {
				points = append(points, SeriesPoint{Timestamp: obs.Timestamp, Value: v})
				values = append(values, v)
			}
		}
		trend.Metrics[field] = classify(points, values)
	}
	return trend
}

func classify(points []SeriesPoint, values []float64) MetricTrend {
	if len(values) < 2 {
		mt := MetricTrend{Direction: TrendInsufficient, Points: points}
		if len(values) == 1 {
			mt.First = values[0]
			mt.Last = values[0]
		}
		return mt
	}

	s := slope(values)
	direction := TrendStable
	switch {
	case math.Abs(s) < stableSlopeEpsilon:
		direction = TrendStable
	case s > 0:
		direction = TrendRising
	default:
		direction = TrendFalling
	}

	return MetricTrend{
		Direction: direction,
		Slope:     s,
		First:     values[0],
		Last:      values[len(values)-1],
		Points:    points,
	}
}
