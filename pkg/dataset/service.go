package dataset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rm4health/dashboard/pkg/analysis"
	"github.com/rm4health/dashboard/pkg/cache"
	"github.com/rm4health/dashboard/pkg/common/logger"
	"github.com/rm4health/dashboard/pkg/common/models"
	"github.com/rm4health/dashboard/pkg/normalizer"
	"github.com/rm4health/dashboard/pkg/observability/metrics"
)

const datasetKey = "dataset"

// ErrUnknownModule reports a request for an analysis module that is not
// registered.
var ErrUnknownModule = errors.New("unknown analysis module")

// Fetcher exports raw records and project metadata from REDCap.
type Fetcher interface {
	ExportRecords(ctx context.Context) ([]models.RawRecord, error)
	ExportDictionary(ctx context.Context) (models.DataDictionary, error)
}

type eventPublisher interface {
	PublishEvent(ctx context.Context, eventType, source string, data map[string]interface{}) error
}

// Service orchestrates the dashboard data path: fetch raw records,
// normalize them into a snapshot, memoize the snapshot and every analysis
// result in the cache, and emit refresh events. Each refresh produces a
// new snapshot; published snapshots are never mutated.
type Service struct {
	fetcher     Fetcher
	normalizer  *normalizer.Normalizer
	cache       cache.Cache
	registry    *analysis.Registry
	datasetTTL  time.Duration
	analysisTTL time.Duration

	repo     *Repository
	producer eventPublisher
}

type Option func(*Service)

// WithRepository enables the postgres refresh audit trail.
func WithRepository(repo *Repository) Option {
	return func(s *Service) { s.repo = repo }
}

// WithProducer publishes refresh and invalidation events to the bus so
// other workers can drop their own cached copies.
func WithProducer(producer eventPublisher) Option {
	return func(s *Service) { s.producer = producer }
}

func NewService(fetcher Fetcher, norm *normalizer.Normalizer, c cache.Cache, registry *analysis.Registry, datasetTTL, analysisTTL time.Duration, opts ...Option) *Service {
	s := &Service{
		fetcher:     fetcher,
		normalizer:  norm,
		cache:       c,
		registry:    registry,
		datasetTTL:  datasetTTL,
		analysisTTL: analysisTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns the cached dataset snapshot, refreshing it when the TTL
// has lapsed. stale is true when the refresh failed and an older snapshot
// was served instead.
func (s *Service) Current(ctx context.Context) (*models.Dataset, bool, error) {
	payload, stale, err := s.cache.GetOrCompute(ctx, datasetKey, s.datasetTTL, func(ctx context.Context) (interface{}, error) {
		return s.refresh(ctx)
	})
	if err != nil {
		return nil, false, err
	}
	dataset, err := decodeDataset(payload)
	if err != nil {
		return nil, false, err
	}
	if stale {
		metrics.ObserveStaleServe()
	}
	return dataset, stale, nil
}

// Analyze runs one analysis module against the current snapshot,
// memoizing the result per (module, snapshot, filters). A stale snapshot
// marks the analysis stale as well.
func (s *Service) Analyze(ctx context.Context, module string, filters models.Filters) (models.AnalysisResult, bool, error) {
	mod, ok := s.registry.Get(module)
	if !ok {
		return models.AnalysisResult{}, false, fmt.Errorf("%w: %q", ErrUnknownModule, module)
	}

	dataset, datasetStale, err := s.Current(ctx)
	if err != nil {
		return models.AnalysisResult{}, false, err
	}

	key := analysisKey(module, dataset.SnapshotID, filters)
	payload, stale, err := s.cache.GetOrCompute(ctx, key, s.analysisTTL, func(ctx context.Context) (interface{}, error) {
		result, err := mod.Compute(dataset, filters)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
	if err != nil {
		return models.AnalysisResult{}, false, err
	}
	result, err := decodeResult(payload)
	if err != nil {
		return models.AnalysisResult{}, false, err
	}
	metrics.ObserveAnalysis()
	return result, stale || datasetStale, nil
}

// Modules lists the registered analysis module names.
func (s *Service) Modules() []string {
	return s.registry.Names()
}

// Invalidate drops the cached snapshot so the next read refreshes, and
// announces the invalidation on the bus.
func (s *Service) Invalidate(ctx context.Context, reason string) error {
	if err := s.cache.Invalidate(ctx, datasetKey); err != nil {
		return err
	}
	s.publish(ctx, models.EventCacheInvalidated, map[string]interface{}{
		"key":    datasetKey,
		"reason": reason,
	})
	return nil
}

// InvalidateLocal drops the cached snapshot without re-announcing, used
// when applying an invalidation received from the bus.
func (s *Service) InvalidateLocal(ctx context.Context) error {
	return s.cache.Invalidate(ctx, datasetKey)
}

// ClearAll empties the cache, snapshot and analysis results alike.
func (s *Service) ClearAll(ctx context.Context, reason string) error {
	if err := s.cache.ClearAll(ctx); err != nil {
		return err
	}
	s.publish(ctx, models.EventCacheInvalidated, map[string]interface{}{
		"key":    "*",
		"reason": reason,
	})
	return nil
}

// Refreshes exposes the audit trail when the repository is configured.
func (s *Service) Refreshes(ctx context.Context, limit int) ([]RefreshRun, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListRefreshes(ctx, limit)
}

// Exclusions returns the persisted exclusion log for an audited snapshot,
// which may long since have been replaced in the cache.
func (s *Service) Exclusions(ctx context.Context, snapshotID string, limit int) ([]models.Exclusion, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListExclusions(ctx, snapshotID, limit)
}

func (s *Service) refresh(ctx context.Context) (*models.Dataset, error) {
	startedAt := time.Now().UTC()

	dict, err := s.fetcher.ExportDictionary(ctx)
	if err != nil {
		s.recordFailure(ctx, startedAt, err)
		return nil, err
	}
	records, err := s.fetcher.ExportRecords(ctx)
	if err != nil {
		s.recordFailure(ctx, startedAt, err)
		return nil, err
	}

	dataset, err := s.normalizer.Normalize(records, dict)
	if err != nil {
		s.recordFailure(ctx, startedAt, err)
		return nil, err
	}
	dataset.SnapshotID = uuid.New().String()
	dataset.FetchedAt = time.Now().UTC()

	logger.Log.WithFields(map[string]interface{}{
		"snapshot_id":  dataset.SnapshotID,
		"records":      len(records),
		"observations": len(dataset.Observations),
		"participants": len(dataset.Participants),
		"exclusions":   len(dataset.Exclusions),
	}).Info("Dataset refreshed")
	metrics.ObserveRefresh(len(dataset.Observations), len(dataset.Participants), len(dataset.Exclusions))

	if s.repo != nil {
		if err := s.repo.RecordRefresh(ctx, dataset, startedAt); err != nil {
			logger.Log.WithError(err).Warn("Failed to record refresh audit trail")
		}
	}
	s.publish(ctx, models.EventDatasetRefreshed, map[string]interface{}{
		"snapshot_id":  dataset.SnapshotID,
		"observations": len(dataset.Observations),
		"participants": len(dataset.Participants),
		"exclusions":   len(dataset.Exclusions),
	})

	return dataset, nil
}

func (s *Service) recordFailure(ctx context.Context, startedAt time.Time, err error) {
	metrics.ObserveRefreshFailure()
	if s.repo == nil {
		return
	}
	if recordErr := s.repo.RecordFailure(ctx, startedAt, err); recordErr != nil {
		logger.Log.WithError(recordErr).Warn("Failed to record refresh failure")
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.producer == nil {
		return
	}
	if err := s.producer.PublishEvent(ctx, eventType, "dashboard-api", data); err != nil {
		logger.Log.WithError(err).WithField("event_type", eventType).Warn("Failed to publish event")
	}
}

// analysisKey is stable for a given module, snapshot, and filter set, so
// identical requests share one cache entry.
func analysisKey(module, snapshotID string, filters models.Filters) string {
	raw, _ := json.Marshal(filters)
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("analysis:%s:%s:%s", module, snapshotID, hex.EncodeToString(sum[:8]))
}

// Cache backends hand back either the live value or its JSON encoding.

func decodeDataset(payload interface{}) (*models.Dataset, error) {
	switch v := payload.(type) {
	case *models.Dataset:
		return v, nil
	case json.RawMessage:
		var dataset models.Dataset
		if err := json.Unmarshal(v, &dataset); err != nil {
			return nil, fmt.Errorf("decode cached dataset: %w", err)
		}
		return &dataset, nil
	case []byte:
		var dataset models.Dataset
		if err := json.Unmarshal(v, &dataset); err != nil {
			return nil, fmt.Errorf("decode cached dataset: %w", err)
		}
		return &dataset, nil
	default:
		return nil, fmt.Errorf("unexpected cached dataset payload %T", payload)
	}
}

func decodeResult(payload interface{}) (models.AnalysisResult, error) {
	switch v := payload.(type) {
	case models.AnalysisResult:
		return v, nil
	case json.RawMessage:
		var result models.AnalysisResult
		if err := json.Unmarshal(v, &result); err != nil {
			return models.AnalysisResult{}, fmt.Errorf("decode cached analysis result: %w", err)
		}
		return result, nil
	case []byte:
		var result models.AnalysisResult
		if err := json.Unmarshal(v, &result); err != nil {
			return models.AnalysisResult{}, fmt.Errorf("decode cached analysis result: %w", err)
		}
		return result, nil
	default:
		return models.AnalysisResult{}, fmt.Errorf("unexpected cached analysis payload %T", payload)
	}
}
