package models

import (
	"time"
)

// Raw REDCap payloads

// RawRecord is one exported REDCap instrument instance: a flat mapping from
// field name to the string value REDCap returned (possibly empty). Raw
// records are discarded after normalization.
type RawRecord map[string]string

// Well-known REDCap export fields.
const (
	FieldParticipantID  = "participant_id"
	FieldRecordID       = "record_id"
	FieldEventName      = "redcap_event_name"
	FieldRepeatInstance = "redcap_repeat_instance"

	// A form's completeness marker is "<form>_complete"; "2" means complete.
	CompleteSuffix = "_complete"
	CompleteValue  = "2"
)

// ParticipantCode resolves the participant identifier, falling back to the
// record id the way the upstream project does.
func (r RawRecord) ParticipantCode() string {
	if code := r[FieldParticipantID]; code != "" {
		return code
	}
	return r[FieldRecordID]
}

// Data dictionary

type FieldType string

const (
	FieldTypeText        FieldType = "text"
	FieldTypeNumber      FieldType = "number"
	FieldTypeDate        FieldType = "date"
	FieldTypeCategorical FieldType = "categorical"
	FieldTypeCheckbox    FieldType = "checkbox"
	FieldTypeYesNo       FieldType = "yesno"
)

// DictionaryField describes one project field from the REDCap metadata
// export: its instrument, validated type, and coded-choice labels.
type DictionaryField struct {
	Name       string            `json:"field_name"`
	Instrument string            `json:"form_name"`
	Type       FieldType         `json:"field_type"`
	Label      string            `json:"field_label"`
	Choices    map[string]string `json:"choices,omitempty"` // code -> label
}

type DataDictionary struct {
	Fields map[string]DictionaryField `json:"fields"`
}

func (d DataDictionary) Lookup(name string) (DictionaryField, bool) {
	f, ok := d.Fields[name]
	return f, ok
}

// Typed values

type ValueKind int

const (
	KindMissing ValueKind = iota
	KindNumber
	KindText
	KindDate
	KindBool
	KindOptions
)

// Value is one decoded field value. Exactly one of the typed members is
// meaningful, selected by Kind; a missing value has Kind == KindMissing.
type Value struct {
	Kind    ValueKind  `json:"kind"`
	Number  float64    `json:"number,omitempty"`
	Text    string     `json:"text,omitempty"`
	Date    *time.Time `json:"date,omitempty"`
	Bool    bool       `json:"bool,omitempty"`
	Options []string   `json:"options,omitempty"`
}

func (v Value) IsMissing() bool { return v.Kind == KindMissing }

func MissingValue() Value            { return Value{Kind: KindMissing} }
func NumberValue(n float64) Value    { return Value{Kind: KindNumber, Number: n} }
func TextValue(s string) Value       { return Value{Kind: KindText, Text: s} }
func DateValue(t time.Time) Value    { return Value{Kind: KindDate, Date: &t} }
func BoolValue(b bool) Value         { return Value{Kind: KindBool, Bool: b} }
func OptionsValue(o []string) Value  { return Value{Kind: KindOptions, Options: o} }

// Normalized dataset

type Participant struct {
	Code           string     `json:"code"`
	EnrollmentDate *time.Time `json:"enrollment_date,omitempty"`
	Residence      string     `json:"residence,omitempty"`
	Age            *float64   `json:"age,omitempty"`
	Gender         string     `json:"gender,omitempty"`
}

// SleepEntry carries the typed sleep-diary fields of an observation.
type SleepEntry struct {
	DurationHours *float64   `json:"duration_hours,omitempty"`
	Quality       *float64   `json:"quality,omitempty"`
	Efficiency    *float64   `json:"efficiency,omitempty"`
	Disturbances  []string   `json:"disturbances,omitempty"`
	Bedtime       *time.Time `json:"bedtime,omitempty"`
	WakeTime      *time.Time `json:"wake_time,omitempty"`
}

// MedicationEntry carries the typed medication-log fields of an observation.
type MedicationEntry struct {
	ExpectedDoses  *float64 `json:"expected_doses,omitempty"`
	TakenDoses     *float64 `json:"taken_doses,omitempty"`
	Taken          *bool    `json:"taken,omitempty"`
	MissedDoses    *float64 `json:"missed_doses,omitempty"`
	AdherenceScore *float64 `json:"adherence_score,omitempty"`
	SideEffects    []string `json:"side_effects,omitempty"`
}

// UtilizationEntry carries the typed healthcare-utilization fields of an
// observation.
type UtilizationEntry struct {
	VisitType         string   `json:"visit_type,omitempty"`
	VisitCount        *float64 `json:"visit_count,omitempty"`
	MedicationChanges *float64 `json:"medication_changes,omitempty"`
}

// Observation is one normalized, typed data point. Fields holds every
// decoded value for coverage reporting; the typed entries are populated for
// the instrument the observation belongs to.
type Observation struct {
	ParticipantCode string     `json:"participant_code"`
	Instrument      string     `json:"instrument"`
	Instance        int        `json:"instance"`
	Timestamp       *time.Time `json:"timestamp,omitempty"`
	Complete        bool       `json:"complete"`

	Fields map[string]Value `json:"fields"`

	Sleep       *SleepEntry       `json:"sleep,omitempty"`
	Medication  *MedicationEntry  `json:"medication,omitempty"`
	Utilization *UtilizationEntry `json:"utilization,omitempty"`
}

// Number returns the decoded numeric value of a field, when present.
func (o Observation) Number(field string) (float64, bool) {
	v, ok := o.Fields[field]
	if !ok || v.Kind != KindNumber {
		return 0, false
	}
	return v.Number, true
}

// Exclusion records one raw record dropped during normalization, so that
// exclusions are reportable rather than silent.
type Exclusion struct {
	RecordIndex     int    `json:"record_index"`
	ParticipantCode string `json:"participant_code,omitempty"`
	Instrument      string `json:"instrument,omitempty"`
	Reason          string `json:"reason"`
}

// Dataset is the normalized table handed to analysis modules. It is
// immutable once published; a refresh produces a new Dataset rather than
// mutating this one in place.
type Dataset struct {
	SnapshotID   string                 `json:"snapshot_id"`
	FetchedAt    time.Time              `json:"fetched_at"`
	Observations []Observation          `json:"observations"`
	Participants map[string]Participant `json:"participants"`
	Exclusions   []Exclusion            `json:"exclusions"`
}

// Analysis contracts

// Filters restricts the observations an analysis module considers. Unset
// members mean no restriction.
type Filters struct {
	ParticipantIDs []string   `json:"participant_ids,omitempty"`
	DateStart      *time.Time `json:"date_start,omitempty"`
	DateEnd        *time.Time `json:"date_end,omitempty"`
	Residence      string     `json:"residence,omitempty"`
}

// AnalysisResult is the immutable summary a module emits: named metrics
// plus computation metadata. Metric names and shapes are stable per module.
type AnalysisResult struct {
	Module           string                 `json:"module"`
	ComputedAt       time.Time              `json:"computed_at"`
	SnapshotID       string                 `json:"snapshot_id"`
	SourceRecords    int                    `json:"source_records"`
	ParticipantCount int                    `json:"participant_count"`
	Metrics          map[string]interface{} `json:"metrics"`
}

// Event bus models

type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // dataset.refreshed, cache.invalidated
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventDatasetRefreshed = "dataset.refreshed"
	EventCacheInvalidated = "cache.invalidated"
)
