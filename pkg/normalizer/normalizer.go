package normalizer

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

// Structural export fields that never appear in the data dictionary.
const (
	redcapFieldPrefix = "redcap_"
	checkboxSeparator = "___"
)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// Normalizer converts raw REDCap records into the typed dataset the
// analysis modules consume.
type Normalizer struct {
	policy instrument.Policy
}

func New(policy instrument.Policy) *Normalizer {
	return &Normalizer{policy: policy}
}

// Normalize decodes every raw record against the data dictionary. Records
// missing a participant code or their instrument's completeness field are
// excluded and logged; partially filled rows are kept with per-field
// missing markers. A field referenced by a record but absent from the
// dictionary fails the whole pass with a DataIntegrityError.
func (n *Normalizer) Normalize(records []models.RawRecord, dict models.DataDictionary) (*models.Dataset, error) {
	dataset := &models.Dataset{
		Observations: make([]models.Observation, 0, len(records)),
		Participants: make(map[string]models.Participant),
	}
	instanceSeq := make(map[string]int)

	for i, record := range records {
		code := record.ParticipantCode()
		if code == "" {
			dataset.Exclusions = append(dataset.Exclusions, models.Exclusion{
				RecordIndex: i,
				Reason:      "missing participant code",
			})
			continue
		}

		inst, err := n.resolveInstrument(record, dict)
		if err != nil {
			return nil, err
		}
		if inst == "" {
			dataset.Exclusions = append(dataset.Exclusions, models.Exclusion{
				RecordIndex:     i,
				ParticipantCode: code,
				Reason:          "no instrument fields present",
			})
			continue
		}
		if _, ok := record[n.policy.CompletenessField(inst)]; !ok {
			dataset.Exclusions = append(dataset.Exclusions, models.Exclusion{
				RecordIndex:     i,
				ParticipantCode: code,
				Instrument:      inst,
				Reason:          "missing completeness field " + n.policy.CompletenessField(inst),
			})
			continue
		}

		obs, badDate, err := n.decodeRecord(record, dict, inst)
		if err != nil {
			return nil, err
		}
		if badDate {
			dataset.Exclusions = append(dataset.Exclusions, models.Exclusion{
				RecordIndex:     i,
				ParticipantCode: code,
				Instrument:      inst,
				Reason:          "unparseable date in field " + n.policy.DateField(inst),
			})
			continue
		}

		obs.ParticipantCode = code
		obs.Instrument = inst
		obs.Instance = n.resolveInstance(record, code, inst, instanceSeq)

		n.upsertParticipant(dataset, record, obs)
		dataset.Observations = append(dataset.Observations, obs)
	}

	sortObservations(dataset.Observations)

	for _, ex := range dataset.Exclusions {
		logger.Log.WithFields(map[string]interface{}{
			"record_index": ex.RecordIndex,
			"participant":  ex.ParticipantCode,
			"instrument":   ex.Instrument,
			"reason":       ex.Reason,
		}).Warn("Excluded record during normalization")
	}

	return dataset, nil
}

// resolveInstrument identifies the instrument a record belongs to from the
// dictionary entries of its populated fields. Structural export fields
// (redcap_*, *_complete, identifiers) carry no instrument information.
func (n *Normalizer) resolveInstrument(record models.RawRecord, dict models.DataDictionary) (string, error) {
	votes := make(map[string]int)
	for field, value := range record {
		if isStructuralField(field) || value == "" {
			continue
		}
		base := checkboxBase(field)
		df, ok := dict.Lookup(base)
		if !ok {
			return "", &DataIntegrityError{Field: base, Detail: "referenced by record but absent from data dictionary"}
		}
		votes[df.Instrument]++
	}

	best := ""
	bestCount := 0
	for inst, count := range votes {
		if count > bestCount || (count == bestCount && inst < best) {
			best = inst
			bestCount = count
		}
	}
	return best, nil
}

func (n *Normalizer) resolveInstance(record models.RawRecord, code, inst string, seq map[string]int) int {
	if raw := record[models.FieldRepeatInstance]; raw != "" {
		if idx, err := strconv.Atoi(raw); err == nil {
			return idx
		}
	}
	key := code + "\x00" + inst
	seq[key]++
	return seq[key]
}

// decodeRecord builds the typed observation. badDate reports an
// unparseable non-empty value in the instrument's designated date field,
// which fails the row.
func (n *Normalizer) decodeRecord(record models.RawRecord, dict models.DataDictionary, inst string) (models.Observation, bool, error) {
	obs := models.Observation{
		Fields:   make(map[string]models.Value),
		Complete: record[n.policy.CompletenessField(inst)] == models.CompleteValue,
	}

	checkboxSelections := make(map[string][]string)

	for field, raw := range record {
		if isStructuralField(field) {
			continue
		}

		base := checkboxBase(field)
		df, ok := dict.Lookup(base)
		if !ok {
			return obs, false, &DataIntegrityError{Field: base, Detail: "referenced by record but absent from data dictionary"}
		}

		if df.Type == models.FieldTypeCheckbox && base != field {
			if raw == "1" {
				option := strings.TrimPrefix(field, base+checkboxSeparator)
				if label, ok := df.Choices[option]; ok {
					option = label
				}
				checkboxSelections[base] = append(checkboxSelections[base], option)
			} else if _, seen := obs.Fields[base]; !seen {
				obs.Fields[base] = models.MissingValue()
			}
			continue
		}

		obs.Fields[field] = n.decodeValue(df, raw, &obs)
	}

	for base, options := range checkboxSelections {
		sort.Strings(options)
		obs.Fields[base] = models.OptionsValue(options)
	}

	badDate := false
	if dateField := n.policy.DateField(inst); dateField != "" {
		raw := record[dateField]
		if raw != "" {
			if ts, ok := parseDate(raw); ok {
				obs.Timestamp = &ts
			} else {
				badDate = true
			}
		}
	}

	n.attachTypedEntry(&obs, inst)
	return obs, badDate, nil
}

func (n *Normalizer) decodeValue(df models.DictionaryField, raw string, obs *models.Observation) models.Value {
	if raw == "" {
		return models.MissingValue()
	}

	switch df.Type {
	case models.FieldTypeNumber:
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return models.NumberValue(f)
		}
		return models.MissingValue()
	case models.FieldTypeDate:
		if ts, ok := parseDate(raw); ok {
			return models.DateValue(ts)
		}
		// Unparseable non-empty date outside the designated field marks
		// the row incomplete rather than failing it.
		obs.Complete = false
		return models.MissingValue()
	case models.FieldTypeCategorical:
		if label, ok := df.Choices[raw]; ok {
			return models.TextValue(label)
		}
		return models.TextValue(raw)
	case models.FieldTypeYesNo:
		return models.BoolValue(raw == "1" || strings.EqualFold(raw, "true"))
	default:
		return models.TextValue(raw)
	}
}

func (n *Normalizer) attachTypedEntry(obs *models.Observation, inst string) {
	switch inst {
	case n.policy.Sleep.Instrument:
		entry := &models.SleepEntry{
			DurationHours: numberPtr(obs, n.policy.Sleep.DurationField),
			Quality:       numberPtr(obs, n.policy.Sleep.QualityField),
			Efficiency:    numberPtr(obs, n.policy.Sleep.EfficiencyField),
		}
		if v, ok := obs.Fields[n.policy.Sleep.DisturbancesField]; ok && v.Kind == models.KindOptions {
			entry.Disturbances = v.Options
		}
		if v, ok := obs.Fields[n.policy.Sleep.BedtimeField]; ok && v.Kind == models.KindDate {
			entry.Bedtime = v.Date
		}
		if v, ok := obs.Fields[n.policy.Sleep.WakeTimeField]; ok && v.Kind == models.KindDate {
			entry.WakeTime = v.Date
		}
		obs.Sleep = entry
	case n.policy.Adherence.Instrument:
		entry := &models.MedicationEntry{
			ExpectedDoses:  numberPtr(obs, n.policy.Adherence.ExpectedField),
			TakenDoses:     numberPtr(obs, n.policy.Adherence.TakenField),
			MissedDoses:    numberPtr(obs, n.policy.Adherence.MissedField),
			AdherenceScore: numberPtr(obs, n.policy.Adherence.ScoreField),
		}
		if v, ok := obs.Fields[n.policy.Adherence.TakenFlagField]; ok && v.Kind == models.KindBool {
			taken := v.Bool
			entry.Taken = &taken
		}
		if v, ok := obs.Fields[n.policy.Adherence.SideEffectsField]; ok {
			switch v.Kind {
			case models.KindOptions:
				entry.SideEffects = v.Options
			case models.KindText:
				entry.SideEffects = []string{v.Text}
			}
		}
		obs.Medication = entry
	case n.policy.Utilization.Instrument:
		entry := &models.UtilizationEntry{
			VisitCount:        numberPtr(obs, n.policy.Utilization.VisitCountField),
			MedicationChanges: numberPtr(obs, n.policy.Utilization.IndicatorField),
		}
		if v, ok := obs.Fields[n.policy.Utilization.VisitTypeField]; ok && v.Kind == models.KindText {
			entry.VisitType = v.Text
		}
		obs.Utilization = entry
	}
}

func (n *Normalizer) upsertParticipant(dataset *models.Dataset, record models.RawRecord, obs models.Observation) {
	code := record.ParticipantCode()
	participant, ok := dataset.Participants[code]
	if !ok {
		participant = models.Participant{Code: code}
	}

	demo := n.policy.Demographics
	if participant.Residence == "" {
		if v, ok := obs.Fields[demo.ResidenceField]; ok && v.Kind == models.KindText {
			participant.Residence = v.Text
		} else if v, ok := obs.Fields[demo.ResidenceFallbackField]; ok && v.Kind == models.KindText {
			participant.Residence = v.Text
		}
	}
	if participant.Age == nil {
		if v, ok := obs.Fields[demo.AgeField]; ok && v.Kind == models.KindNumber {
			age := v.Number
			participant.Age = &age
		}
	}
	if participant.Gender == "" {
		if v, ok := obs.Fields[demo.GenderField]; ok && v.Kind == models.KindText {
			participant.Gender = v.Text
		}
	}
	if participant.EnrollmentDate == nil {
		if v, ok := obs.Fields[demo.EnrollmentDateField]; ok && v.Kind == models.KindDate {
			participant.EnrollmentDate = v.Date
		}
	}

	dataset.Participants[code] = participant
}

// sortObservations orders the table ascending by timestamp within each
// (participant, instrument) group; rows without timestamps keep their
// input order. Longitudinal analysis depends on this ordering and must not
// re-sort by another key.
func sortObservations(observations []models.Observation) {
	sort.SliceStable(observations, func(i, j int) bool {
		a, b := observations[i], observations[j]
		if a.ParticipantCode != b.ParticipantCode {
			return a.ParticipantCode < b.ParticipantCode
		}
		if a.Instrument != b.Instrument {
			return a.Instrument < b.Instrument
		}
		if a.Timestamp != nil && b.Timestamp != nil {
			return a.Timestamp.Before(*b.Timestamp)
		}
		return false
	})
}

func isStructuralField(field string) bool {
	return field == models.FieldParticipantID ||
		field == models.FieldRecordID ||
		strings.HasPrefix(field, redcapFieldPrefix) ||
		strings.HasSuffix(field, models.CompleteSuffix)
}

func checkboxBase(field string) string {
	if idx := strings.Index(field, checkboxSeparator); idx > 0 {
		return field[:idx]
	}
	return field
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func numberPtr(obs *models.Observation, field string) *float64 {
	if v, ok := obs.Fields[field]; ok && v.Kind == models.KindNumber {
		f := v.Number
		return &f
	}
	return nil
}
