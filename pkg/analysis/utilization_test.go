package analysis

import (
	"testing"

	"github.com/rm4health/dashboard/pkg/common/models"
)

func TestUtilizationBucketsUnknownTypes(t *testing.T) {
	observations := []models.Observation{
		utilizationObs("P001", 0, "emergency", fptr(2), nil),
		utilizationObs("P001", 1, "dental", fptr(1), nil),
		utilizationObs("P002", 0, "", nil, nil),
	}
	module := NewUtilizationModule(testPolicy())
	result, err := module.Compute(testDataset(observations, nil), models.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.Metrics["total_visits"] != 4 {
		t.Fatalf("expected four visits, got %v", result.Metrics["total_visits"])
	}

	byType := result.Metrics["visits_by_type"].(map[string]VisitTypeStats)
	if byType["emergency"].Visits != 2 {
		t.Fatalf("unexpected emergency stats %+v", byType["emergency"])
	}
	// Unknown code and missing type both land in the other bucket; the
	// missing count defaults to one visit.
	if byType[OtherVisitType].Visits != 2 || byType[OtherVisitType].Records != 2 {
		t.Fatalf("unexpected other stats %+v", byType[OtherVisitType])
	}
}

func TestUtilizationPerParticipantRanking(t *testing.T) {
	observations := []models.Observation{
		utilizationObs("P001", 0, "primary_care", fptr(1), nil),
		utilizationObs("P002", 0, "primary_care", fptr(3), nil),
	}
	module := NewUtilizationModule(testPolicy())
	result, err := module.Compute(testDataset(observations, nil), models.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ranked := result.Metrics["per_participant"].([]ParticipantUtilization)
	if len(ranked) != 2 || ranked[0].Code != "P002" {
		t.Fatalf("expected P002 ranked first, got %+v", ranked)
	}
}

func TestUtilizationIndicatorCooccurrence(t *testing.T) {
	observations := []models.Observation{
		utilizationObs("P001", 0, "emergency", fptr(1), fptr(1)),
		utilizationObs("P001", 1, "primary_care", fptr(1), fptr(0)),
		utilizationObs("P002", 0, "specialist", fptr(1), nil),
	}
	module := NewUtilizationModule(testPolicy())
	result, err := module.Compute(testDataset(observations, nil), models.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cooccurrence := result.Metrics["indicator_cooccurrence"].(map[string]interface{})
	if cooccurrence["records_observed"] != 2 {
		t.Fatalf("expected two observed records, got %v", cooccurrence["records_observed"])
	}
	if cooccurrence["records_with_both"] != 1 {
		t.Fatalf("expected one co-occurrence, got %v", cooccurrence["records_with_both"])
	}
	if cooccurrence["rate"] != 0.5 {
		t.Fatalf("expected rate 0.5, got %v", cooccurrence["rate"])
	}
}
