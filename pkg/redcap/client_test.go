package redcap

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
)

func TestExportRecords(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostFormValue("token") != "secret" {
			t.Fatalf("unexpected token %q", r.PostFormValue("token"))
		}
		if r.PostFormValue("content") != "record" {
			t.Fatalf("unexpected content %q", r.PostFormValue("content"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"participant_id":"P001","sleep_duration":7.5,"sleep_diary_complete":2}]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5*time.Second)
	records, err := client.ExportRecords(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %d", len(records))
	}
	record := records[0]
	if record["participant_id"] != "P001" {
		t.Fatalf("unexpected participant id %q", record["participant_id"])
	}
	if record["sleep_duration"] != "7.5" {
		t.Fatalf("expected stringified number, got %q", record["sleep_duration"])
	}
	if record["sleep_diary_complete"] != "2" {
		t.Fatalf("expected integer without fraction, got %q", record["sleep_diary_complete"])
	}
}

func TestExportDictionary(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.PostFormValue("content") != "metadata" {
			t.Fatalf("unexpected content %q", r.PostFormValue("content"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"field_name":"residence_type","form_name":"participant_information","field_type":"radio","field_label":"Residence","select_choices_or_calculations":"1, Community | 2, Care home"},
			{"field_name":"sleep_date","form_name":"sleep_diary","field_type":"text","text_validation_type_or_show_slider_number":"date_ymd"},
			{"field_name":"sleep_duration","form_name":"sleep_diary","field_type":"text","text_validation_type_or_show_slider_number":"number"},
			{"field_name":"medication_taken","form_name":"medication_log","field_type":"yesno"}
		]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5*time.Second)
	dict, err := client.ExportDictionary(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	residence, ok := dict.Lookup("residence_type")
	if !ok || residence.Type != models.FieldTypeCategorical {
		t.Fatalf("unexpected residence field %+v", residence)
	}
	if residence.Choices["2"] != "Care home" {
		t.Fatalf("unexpected choices %v", residence.Choices)
	}
	if f, _ := dict.Lookup("sleep_date"); f.Type != models.FieldTypeDate {
		t.Fatalf("expected date type, got %v", f.Type)
	}
	if f, _ := dict.Lookup("sleep_duration"); f.Type != models.FieldTypeNumber {
		t.Fatalf("expected number type, got %v", f.Type)
	}
	if f, _ := dict.Lookup("medication_taken"); f.Type != models.FieldTypeYesNo {
		t.Fatalf("expected yesno type, got %v", f.Type)
	}
}

func TestExportRecordsPermanentFailureDoesNotRetry(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-token", 5*time.Second, WithRetries(3, time.Millisecond))
	_, err := client.ExportRecords(context.Background())

	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("expected FetchError, got %v", err)
	}
	if fetchErr.StatusCode != http.StatusForbidden {
		t.Fatalf("unexpected status %d", fetchErr.StatusCode)
	}
	if fetchErr.Retriable() {
		t.Fatal("4xx failures must not be retriable")
	}
	if attempts != 1 {
		t.Fatalf("expected one attempt, got %d", attempts)
	}
}

func TestExportRecordsRetriesTransientFailure(t *testing.T) {
	attempts := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", 5*time.Second, WithRetries(3, time.Millisecond))
	records, err := client.ExportRecords(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected empty export, got %d records", len(records))
	}
	if attempts != 3 {
		t.Fatalf("expected three attempts, got %d", attempts)
	}
}

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}
