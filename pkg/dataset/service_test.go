package dataset

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rm4health/dashboard/pkg/analysis"
	"github.com/rm4health/dashboard/pkg/cache"
	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/instrument"
	"github.com/rm4health/dashboard/pkg/normalizer"
)

type fakeFetcher struct {
	records int
	fail    bool
	calls   int
}

func (f *fakeFetcher) ExportRecords(ctx context.Context) ([]models.RawRecord, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("redcap unavailable")
	}
	records := make([]models.RawRecord, 0, f.records)
	for i := 0; i < f.records; i++ {
		records = append(records, models.RawRecord{
			"participant_id":       "P001",
			"sleep_date":           "2026-03-01",
			"sleep_duration":       "7.5",
			"sleep_diary_complete": "2",
		})
	}
	return records, nil
}

func (f *fakeFetcher) ExportDictionary(ctx context.Context) (models.DataDictionary, error) {
	if f.fail {
		return models.DataDictionary{}, errors.New("redcap unavailable")
	}
	return models.DataDictionary{Fields: map[string]models.DictionaryField{
		"sleep_date":     {Name: "sleep_date", Instrument: "sleep_diary", Type: models.FieldTypeDate},
		"sleep_duration": {Name: "sleep_duration", Instrument: "sleep_diary", Type: models.FieldTypeNumber},
	}}, nil
}

func newTestService(fetcher *fakeFetcher, datasetTTL time.Duration) *Service {
	policy := instrument.DefaultPolicy()
	return NewService(
		fetcher,
		normalizer.New(policy),
		cache.NewMemoryCache(),
		analysis.NewRegistry(policy),
		datasetTTL,
		time.Minute,
	)
}

func TestServiceCachesSnapshot(t *testing.T) {
	fetcher := &fakeFetcher{records: 2}
	service := newTestService(fetcher, time.Minute)

	first, stale, err := service.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stale {
		t.Fatal("fresh snapshot reported stale")
	}
	second, _, err := service.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 1 {
		t.Fatalf("expected one fetch, got %d", fetcher.calls)
	}
	if first.SnapshotID != second.SnapshotID {
		t.Fatal("cached reads must return the same snapshot")
	}
	if len(first.Observations) != 2 {
		t.Fatalf("unexpected observation count %d", len(first.Observations))
	}
}

func TestServiceInvalidateForcesRefresh(t *testing.T) {
	fetcher := &fakeFetcher{records: 1}
	service := newTestService(fetcher, time.Minute)

	first, _, err := service.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := service.Invalidate(context.Background(), "test"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, _, err := service.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fetcher.calls != 2 {
		t.Fatalf("expected refetch after invalidation, got %d calls", fetcher.calls)
	}
	if first.SnapshotID == second.SnapshotID {
		t.Fatal("refresh must produce a new snapshot")
	}
}

func TestServiceServesStaleSnapshotOnFetchFailure(t *testing.T) {
	fetcher := &fakeFetcher{records: 1}
	// Zero TTL: every read recomputes.
	service := newTestService(fetcher, 0)

	first, _, err := service.Current(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fetcher.fail = true
	second, stale, err := service.Current(context.Background())
	if err != nil {
		t.Fatalf("expected stale serving, got error: %v", err)
	}
	if !stale {
		t.Fatal("expected stale flag")
	}
	if second.SnapshotID != first.SnapshotID {
		t.Fatal("stale read must return the prior snapshot")
	}
}

func TestServiceAnalyzeUnknownModule(t *testing.T) {
	service := newTestService(&fakeFetcher{records: 1}, time.Minute)
	_, _, err := service.Analyze(context.Background(), "nope", models.Filters{})
	if !errors.Is(err, ErrUnknownModule) {
		t.Fatalf("expected ErrUnknownModule, got %v", err)
	}
}

func TestServiceAnalyze(t *testing.T) {
	service := newTestService(&fakeFetcher{records: 3}, time.Minute)

	result, stale, err := service.Analyze(context.Background(), "overview", models.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stale {
		t.Fatal("fresh analysis reported stale")
	}
	if result.Module != "overview" {
		t.Fatalf("unexpected module %q", result.Module)
	}
	if result.SourceRecords != 3 {
		t.Fatalf("unexpected source records %d", result.SourceRecords)
	}

	again, _, err := service.Analyze(context.Background(), "overview", models.Filters{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if again.SnapshotID != result.SnapshotID {
		t.Fatal("memoized analysis must share the snapshot")
	}
}

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}
