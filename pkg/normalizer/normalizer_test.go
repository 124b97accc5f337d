package normalizer

import (
	"errors"
	"os"
	"testing"

	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
)

func testDictionary() models.DataDictionary {
	fields := map[string]models.DictionaryField{
		"enrollment_date": {Name: "enrollment_date", Instrument: "participant_information", Type: models.FieldTypeDate},
		"residence_type": {
			Name: "residence_type", Instrument: "participant_information", Type: models.FieldTypeCategorical,
			Choices: map[string]string{"1": "community", "2": "care_home"},
		},
		"age": {Name: "age", Instrument: "participant_information", Type: models.FieldTypeNumber},
		"gender": {
			Name: "gender", Instrument: "participant_information", Type: models.FieldTypeCategorical,
			Choices: map[string]string{"1": "female", "2": "male"},
		},
		"sleep_date":     {Name: "sleep_date", Instrument: "sleep_diary", Type: models.FieldTypeDate},
		"sleep_duration": {Name: "sleep_duration", Instrument: "sleep_diary", Type: models.FieldTypeNumber},
		"sleep_quality":  {Name: "sleep_quality", Instrument: "sleep_diary", Type: models.FieldTypeNumber},
		"sleep_disturbances": {
			Name: "sleep_disturbances", Instrument: "sleep_diary", Type: models.FieldTypeCheckbox,
			Choices: map[string]string{"1": "noise", "2": "pain"},
		},
	}
	return models.DataDictionary{Fields: fields}
}

func newTestNormalizer() *Normalizer {
	return New(instrument.DefaultPolicy())
}

func TestNormalizeExcludesRecordsMissingParticipantCode(t *testing.T) {
	records := []models.RawRecord{
		{"sleep_duration": "7.5", "sleep_diary_complete": "2"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 0 {
		t.Fatalf("expected no observations, got %d", len(dataset.Observations))
	}
	if len(dataset.Exclusions) != 1 {
		t.Fatalf("expected one exclusion, got %d", len(dataset.Exclusions))
	}
	if dataset.Exclusions[0].Reason != "missing participant code" {
		t.Fatalf("unexpected reason %q", dataset.Exclusions[0].Reason)
	}
}

func TestNormalizeExcludesRecordsMissingCompletenessField(t *testing.T) {
	records := []models.RawRecord{
		{"participant_id": "P001", "sleep_duration": "7.5"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 0 {
		t.Fatalf("expected no observations, got %d", len(dataset.Observations))
	}
	if len(dataset.Exclusions) != 1 {
		t.Fatalf("expected one exclusion, got %d", len(dataset.Exclusions))
	}
	ex := dataset.Exclusions[0]
	if ex.Instrument != "sleep_diary" || ex.ParticipantCode != "P001" {
		t.Fatalf("unexpected exclusion %+v", ex)
	}
}

func TestNormalizeExcludesUnparseableDesignatedDate(t *testing.T) {
	records := []models.RawRecord{
		{"participant_id": "P001", "sleep_date": "not-a-date", "sleep_duration": "8", "sleep_diary_complete": "2"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 0 {
		t.Fatalf("expected no observations, got %d", len(dataset.Observations))
	}
	if len(dataset.Exclusions) != 1 {
		t.Fatalf("expected one exclusion, got %d", len(dataset.Exclusions))
	}
	if dataset.Exclusions[0].Reason != "unparseable date in field sleep_date" {
		t.Fatalf("unexpected reason %q", dataset.Exclusions[0].Reason)
	}
}

func TestNormalizeDecodesCheckboxSelections(t *testing.T) {
	records := []models.RawRecord{
		{
			"participant_id":         "P001",
			"sleep_date":             "2026-03-01",
			"sleep_disturbances___1": "1",
			"sleep_disturbances___2": "0",
			"sleep_diary_complete":   "2",
		},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 1 {
		t.Fatalf("expected one observation, got %d", len(dataset.Observations))
	}
	obs := dataset.Observations[0]
	v, ok := obs.Fields["sleep_disturbances"]
	if !ok || v.Kind != models.KindOptions {
		t.Fatalf("expected options value, got %+v", v)
	}
	if len(v.Options) != 1 || v.Options[0] != "noise" {
		t.Fatalf("unexpected options %v", v.Options)
	}
	if obs.Sleep == nil || len(obs.Sleep.Disturbances) != 1 {
		t.Fatalf("expected typed sleep entry with disturbances, got %+v", obs.Sleep)
	}
}

func TestNormalizeFailsOnFieldAbsentFromDictionary(t *testing.T) {
	records := []models.RawRecord{
		{"participant_id": "P001", "mystery_field": "42", "sleep_diary_complete": "2"},
	}

	_, err := newTestNormalizer().Normalize(records, testDictionary())
	var integrityErr *DataIntegrityError
	if !errors.As(err, &integrityErr) {
		t.Fatalf("expected DataIntegrityError, got %v", err)
	}
	if integrityErr.Field != "mystery_field" {
		t.Fatalf("unexpected field %q", integrityErr.Field)
	}
}

func TestNormalizeOrdersObservationsChronologically(t *testing.T) {
	records := []models.RawRecord{
		{"participant_id": "P001", "sleep_date": "2026-03-05", "sleep_duration": "6", "sleep_diary_complete": "2"},
		{"participant_id": "P001", "sleep_date": "2026-03-01", "sleep_duration": "8", "sleep_diary_complete": "2"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 2 {
		t.Fatalf("expected two observations, got %d", len(dataset.Observations))
	}
	first, second := dataset.Observations[0], dataset.Observations[1]
	if !first.Timestamp.Before(*second.Timestamp) {
		t.Fatal("expected observations ordered by timestamp")
	}
	if first.Sleep == nil || first.Sleep.DurationHours == nil || *first.Sleep.DurationHours != 8 {
		t.Fatalf("unexpected first observation %+v", first.Sleep)
	}
}

func TestNormalizeMarksIncompleteRows(t *testing.T) {
	records := []models.RawRecord{
		{"participant_id": "P001", "sleep_date": "2026-03-01", "sleep_duration": "8", "sleep_diary_complete": "0"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 1 {
		t.Fatalf("expected one observation, got %d", len(dataset.Observations))
	}
	if dataset.Observations[0].Complete {
		t.Fatal("expected incomplete observation")
	}
}

func TestNormalizeBuildsParticipantDirectory(t *testing.T) {
	records := []models.RawRecord{
		{
			"participant_id":                   "P001",
			"enrollment_date":                  "2026-01-15",
			"residence_type":                   "2",
			"age":                              "78",
			"gender":                           "1",
			"participant_information_complete": "2",
		},
		{"participant_id": "P001", "sleep_date": "2026-03-01", "sleep_duration": "7", "sleep_diary_complete": "2"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	participant, ok := dataset.Participants["P001"]
	if !ok {
		t.Fatal("expected participant P001")
	}
	if participant.Residence != "care_home" {
		t.Fatalf("unexpected residence %q", participant.Residence)
	}
	if participant.Age == nil || *participant.Age != 78 {
		t.Fatalf("unexpected age %v", participant.Age)
	}
	if participant.Gender != "female" {
		t.Fatalf("unexpected gender %q", participant.Gender)
	}
	if participant.EnrollmentDate == nil {
		t.Fatal("expected enrollment date")
	}
}

func TestNormalizeFallsBackToRecordID(t *testing.T) {
	records := []models.RawRecord{
		{"record_id": "7", "sleep_date": "2026-03-01", "sleep_duration": "7", "sleep_diary_complete": "2"},
	}

	dataset, err := newTestNormalizer().Normalize(records, testDictionary())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(dataset.Observations) != 1 || dataset.Observations[0].ParticipantCode != "7" {
		t.Fatalf("expected record id fallback, got %+v", dataset.Observations)
	}
}

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}
