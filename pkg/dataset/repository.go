package dataset

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rm4health/dashboard/pkg/common/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository persists the refresh audit trail: one row per snapshot plus
// the exclusion log, so data managers can review what each refresh
// dropped long after the snapshot itself has been replaced.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

type refreshRunModel struct {
	ID           uuid.UUID      `gorm:"primaryKey;column:id"`
	SnapshotID   string         `gorm:"column:snapshot_id;uniqueIndex"`
	StartedAt    time.Time      `gorm:"column:started_at"`
	CompletedAt  time.Time      `gorm:"column:completed_at"`
	Status       string         `gorm:"column:status"`
	Error        string         `gorm:"column:error"`
	Observations int            `gorm:"column:observations"`
	Participants int            `gorm:"column:participants"`
	Exclusions   int            `gorm:"column:exclusions"`
	Summary      datatypes.JSON `gorm:"column:summary"`
	CreatedAt    time.Time      `gorm:"column:created_at"`
}

func (refreshRunModel) TableName() string { return "refresh_runs" }

type exclusionModel struct {
	ID              int64     `gorm:"primaryKey;column:id"`
	SnapshotID      string    `gorm:"column:snapshot_id;index"`
	RecordIndex     int       `gorm:"column:record_index"`
	ParticipantCode string    `gorm:"column:participant_code"`
	Instrument      string    `gorm:"column:instrument"`
	Reason          string    `gorm:"column:reason"`
	CreatedAt       time.Time `gorm:"column:created_at"`
}

func (exclusionModel) TableName() string { return "refresh_exclusions" }

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&refreshRunModel{}, &exclusionModel{})
}

// RefreshRun is one audited dataset refresh.
type RefreshRun struct {
	ID           uuid.UUID              `json:"id"`
	SnapshotID   string                 `json:"snapshot_id"`
	StartedAt    time.Time              `json:"started_at"`
	CompletedAt  time.Time              `json:"completed_at"`
	Status       string                 `json:"status"`
	Error        string                 `json:"error,omitempty"`
	Observations int                    `json:"observations"`
	Participants int                    `json:"participants"`
	Exclusions   int                    `json:"exclusions"`
	Summary      map[string]interface{} `json:"summary,omitempty"`
}

func (r *Repository) RecordRefresh(ctx context.Context, dataset *models.Dataset, startedAt time.Time) error {
	byReason := make(map[string]int)
	for _, ex := range dataset.Exclusions {
		byReason[ex.Reason]++
	}
	summary, _ := json.Marshal(map[string]interface{}{"exclusions_by_reason": byReason})

	run := &refreshRunModel{
		ID:           uuid.New(),
		SnapshotID:   dataset.SnapshotID,
		StartedAt:    startedAt,
		CompletedAt:  dataset.FetchedAt,
		Status:       "succeeded",
		Observations: len(dataset.Observations),
		Participants: len(dataset.Participants),
		Exclusions:   len(dataset.Exclusions),
		Summary:      datatypes.JSON(summary),
		CreatedAt:    time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return err
	}

	for _, ex := range dataset.Exclusions {
		entry := &exclusionModel{
			SnapshotID:      dataset.SnapshotID,
			RecordIndex:     ex.RecordIndex,
			ParticipantCode: ex.ParticipantCode,
			Instrument:      ex.Instrument,
			Reason:          ex.Reason,
			CreatedAt:       time.Now().UTC(),
		}
		if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) RecordFailure(ctx context.Context, startedAt time.Time, refreshErr error) error {
	run := &refreshRunModel{
		ID:          uuid.New(),
		SnapshotID:  "",
		StartedAt:   startedAt,
		CompletedAt: time.Now().UTC(),
		Status:      "failed",
		Error:       refreshErr.Error(),
		CreatedAt:   time.Now().UTC(),
	}
	return r.db.WithContext(ctx).Create(run).Error
}

func (r *Repository) ListRefreshes(ctx context.Context, limit int) ([]RefreshRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []refreshRunModel
	if err := r.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	runs := make([]RefreshRun, 0, len(rows))
	for _, row := range rows {
		run := RefreshRun{
			ID:           row.ID,
			SnapshotID:   row.SnapshotID,
			StartedAt:    row.StartedAt,
			CompletedAt:  row.CompletedAt,
			Status:       row.Status,
			Error:        row.Error,
			Observations: row.Observations,
			Participants: row.Participants,
			Exclusions:   row.Exclusions,
		}
		if len(row.Summary) > 0 {
			var summary map[string]interface{}
			_ = json.Unmarshal(row.Summary, &summary)
			run.Summary = summary
		}
		runs = append(runs, run)
	}
	return runs, nil
}

func (r *Repository) ListExclusions(ctx context.Context, snapshotID string, limit int) ([]models.Exclusion, error) {
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var rows []exclusionModel
	query := r.db.WithContext(ctx).Order("record_index").Limit(limit)
	if snapshotID != "" {
		query = query.Where("snapshot_id = ?", snapshotID)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	exclusions := make([]models.Exclusion, 0, len(rows))
	for _, row := range rows {
		exclusions = append(exclusions, models.Exclusion{
			RecordIndex:     row.RecordIndex,
			ParticipantCode: row.ParticipantCode,
			Instrument:      row.Instrument,
			Reason:          row.Reason,
		})
	}
	return exclusions, nil
}
