package instrument

import (
	"errors"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Policy gathers every per-project decision the normalizer and analysis
// modules must not hard-code: which field marks an instrument complete,
// which fields feed which analysis, and the tunable thresholds.
type Policy struct {
	Instruments  map[string]InstrumentPolicy `yaml:"instruments" json:"instruments"`
	Demographics DemographicsPolicy          `yaml:"demographics" json:"demographics"`
	Longitudinal LongitudinalPolicy          `yaml:"longitudinal" json:"longitudinal"`
	Sleep        SleepPolicy                 `yaml:"sleep" json:"sleep"`
	Adherence    AdherencePolicy             `yaml:"adherence" json:"adherence"`
	Utilization  UtilizationPolicy           `yaml:"utilization" json:"utilization"`
}

type InstrumentPolicy struct {
	CompletenessField string `yaml:"completeness_field" json:"completeness_field"`
	DateField         string `yaml:"date_field" json:"date_field"`
}

type DemographicsPolicy struct {
	Instrument     string `yaml:"instrument" json:"instrument"`
	ResidenceField string `yaml:"residence_field" json:"residence_field"`
	// Legacy projects recorded residence under a location field instead.
	ResidenceFallbackField string `yaml:"residence_fallback_field" json:"residence_fallback_field"`
	AgeField               string `yaml:"age_field" json:"age_field"`
	GenderField            string `yaml:"gender_field" json:"gender_field"`
	EnrollmentDateField    string `yaml:"enrollment_date_field" json:"enrollment_date_field"`
}

type LongitudinalPolicy struct {
	MetricFields []string `yaml:"metric_fields" json:"metric_fields"`
}

type SleepPolicy struct {
	Instrument        string `yaml:"instrument" json:"instrument"`
	DurationField     string `yaml:"duration_field" json:"duration_field"`
	QualityField      string `yaml:"quality_field" json:"quality_field"`
	EfficiencyField   string `yaml:"efficiency_field" json:"efficiency_field"`
	DisturbancesField string `yaml:"disturbances_field" json:"disturbances_field"`
	BedtimeField      string `yaml:"bedtime_field" json:"bedtime_field"`
	WakeTimeField     string `yaml:"wake_time_field" json:"wake_time_field"`
	// Second biomarker correlated against sleep quality.
	BiomarkerField        string  `yaml:"biomarker_field" json:"biomarker_field"`
	MinCorrelationOverlap int     `yaml:"min_correlation_overlap" json:"min_correlation_overlap"`
	RecommendedMinHours   float64 `yaml:"recommended_min_hours" json:"recommended_min_hours"`
	RecommendedMaxHours   float64 `yaml:"recommended_max_hours" json:"recommended_max_hours"`
}

type AdherencePolicy struct {
	Instrument       string  `yaml:"instrument" json:"instrument"`
	ExpectedField    string  `yaml:"expected_field" json:"expected_field"`
	TakenField       string  `yaml:"taken_field" json:"taken_field"`
	TakenFlagField   string  `yaml:"taken_flag_field" json:"taken_flag_field"`
	MissedField      string  `yaml:"missed_field" json:"missed_field"`
	ScoreField       string  `yaml:"score_field" json:"score_field"`
	SideEffectsField string  `yaml:"side_effects_field" json:"side_effects_field"`
	HighThreshold    float64 `yaml:"high_threshold" json:"high_threshold"`
	LowThreshold     float64 `yaml:"low_threshold" json:"low_threshold"`
}

type UtilizationPolicy struct {
	Instrument      string   `yaml:"instrument" json:"instrument"`
	VisitTypeField  string   `yaml:"visit_type_field" json:"visit_type_field"`
	VisitCountField string   `yaml:"visit_count_field" json:"visit_count_field"`
	KnownVisitTypes []string `yaml:"known_visit_types" json:"known_visit_types"`
	// Clinical indicator checked for co-occurrence with visits.
	IndicatorField string `yaml:"indicator_field" json:"indicator_field"`
}

// Load reads a policy file, falling back to the built-in defaults when no
// path is configured.
func Load(path string) (Policy, error) {
	if path == "" {
		return DefaultPolicy(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Policy{}, err
	}

	var policy Policy
	if err := yaml.Unmarshal(content, &policy); err != nil {
		return Policy{}, err
	}
	if len(policy.Instruments) == 0 {
		return Policy{}, errors.New("no instruments configured")
	}
	applyDefaults(&policy)
	return policy, nil
}

// CompletenessField resolves the designated completeness field for an
// instrument, following the REDCap "<form>_complete" convention unless the
// policy overrides it.
func (p Policy) CompletenessField(instrument string) string {
	if ip, ok := p.Instruments[instrument]; ok && ip.CompletenessField != "" {
		return ip.CompletenessField
	}
	return instrument + "_complete"
}

// DateField resolves the timestamp field for an instrument, empty when the
// instrument has none.
func (p Policy) DateField(instrument string) string {
	if ip, ok := p.Instruments[instrument]; ok {
		return ip.DateField
	}
	return ""
}

func DefaultPolicy() Policy {
	return Policy{
		Instruments: map[string]InstrumentPolicy{
			"participant_information": {DateField: "enrollment_date"},
			"sleep_diary":             {DateField: "sleep_date"},
			"medication_log":          {DateField: "med_date"},
			"healthcare_utilization":  {DateField: "visit_date"},
		},
		Demographics: DemographicsPolicy{
			Instrument:             "participant_information",
			ResidenceField:         "residence_type",
			ResidenceFallbackField: "location",
			AgeField:               "age",
			GenderField:            "gender",
			EnrollmentDateField:    "enrollment_date",
		},
		Longitudinal: LongitudinalPolicy{
			MetricFields: []string{"health_score", "sleep_duration", "sleep_quality", "adherence_score"},
		},
		Sleep: SleepPolicy{
			Instrument:            "sleep_diary",
			DurationField:         "sleep_duration",
			QualityField:          "sleep_quality",
			EfficiencyField:       "sleep_efficiency",
			DisturbancesField:     "sleep_disturbances",
			BedtimeField:          "bedtime",
			WakeTimeField:         "wake_time",
			BiomarkerField:        "health_score",
			MinCorrelationOverlap: 5,
			RecommendedMinHours:   7,
			RecommendedMaxHours:   9,
		},
		Adherence: AdherencePolicy{
			Instrument:       "medication_log",
			ExpectedField:    "expected_doses",
			TakenField:       "taken_doses",
			TakenFlagField:   "medication_taken",
			MissedField:      "missed_doses",
			ScoreField:       "adherence_score",
			SideEffectsField: "side_effects",
			HighThreshold:    0.8,
			LowThreshold:     0.5,
		},
		Utilization: UtilizationPolicy{
			Instrument:      "healthcare_utilization",
			VisitTypeField:  "visit_type",
			VisitCountField: "visit_count",
			KnownVisitTypes: []string{"primary_care", "specialist", "emergency", "hospitalization"},
			IndicatorField:  "medication_changes",
		},
	}
}

func applyDefaults(p *Policy) {
	defaults := DefaultPolicy()
	if p.Demographics.Instrument == "" {
		p.Demographics = defaults.Demographics
	}
	if len(p.Longitudinal.MetricFields) == 0 {
		p.Longitudinal = defaults.Longitudinal
	}
	if p.Sleep.Instrument == "" {
		p.Sleep = defaults.Sleep
	}
	if p.Sleep.MinCorrelationOverlap <= 0 {
		p.Sleep.MinCorrelationOverlap = defaults.Sleep.MinCorrelationOverlap
	}
	if p.Sleep.RecommendedMinHours <= 0 {
		p.Sleep.RecommendedMinHours = defaults.Sleep.RecommendedMinHours
	}
	if p.Sleep.RecommendedMaxHours <= 0 {
		p.Sleep.RecommendedMaxHours = defaults.Sleep.RecommendedMaxHours
	}
	if p.Adherence.Instrument == "" {
		p.Adherence = defaults.Adherence
	}
	if p.Adherence.HighThreshold <= 0 {
		p.Adherence.HighThreshold = defaults.Adherence.HighThreshold
	}
	if p.Adherence.LowThreshold <= 0 {
		p.Adherence.LowThreshold = defaults.Adherence.LowThreshold
	}
	if p.Utilization.Instrument == "" {
		p.Utilization = defaults.Utilization
	}
}
