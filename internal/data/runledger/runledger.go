// Package runledger keeps one row per annotation run so failed records can
// be found and reprocessed by hand.
package runledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/feedback-annotator/internal/domain"
	"github.com/yungbote/feedback-annotator/internal/platform/logger"
)

type AnnotationRun struct {
	ID              uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	Backend         string         `gorm:"column:backend;not null;index" json:"backend"`
	State           string         `gorm:"column:state;not null;index" json:"state"`
	Selected        int            `gorm:"column:selected;not null;default:0" json:"selected"`
	Scored          int            `gorm:"column:scored;not null;default:0" json:"scored"`
	FailedToScore   int            `gorm:"column:failed_to_score;not null;default:0" json:"failed_to_score"`
	Persisted       int            `gorm:"column:persisted;not null;default:0" json:"persisted"`
	FailedToPersist int            `gorm:"column:failed_to_persist;not null;default:0" json:"failed_to_persist"`
	NotAttempted    int            `gorm:"column:not_attempted;not null;default:0" json:"not_attempted"`
	Canceled        bool           `gorm:"column:canceled;not null;default:false" json:"canceled"`
	Error           string         `gorm:"column:error" json:"error,omitempty"`
	Failures        datatypes.JSON `gorm:"column:failures" json:"failures"`
	StartedAt       time.Time      `gorm:"column:started_at;not null;index" json:"started_at"`
	FinishedAt      time.Time      `gorm:"column:finished_at;not null" json:"finished_at"`
	CreatedAt       time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
}

func (AnnotationRun) TableName() string { return "annotation_run" }

// RecordFailures decodes the failures column.
func (r *AnnotationRun) RecordFailures() ([]domain.RecordFailure, error) {
	if r == nil || len(r.Failures) == 0 {
		return nil, nil
	}
	var out []domain.RecordFailure
	if err := json.Unmarshal(r.Failures, &out); err != nil {
		return nil, fmt.Errorf("decode failures of run %s: %w", r.ID, err)
	}
	return out, nil
}

type Repo interface {
	Record(ctx context.Context, report domain.RunReport) (*AnnotationRun, error)
	Latest(ctx context.Context, limit int) ([]*AnnotationRun, error)
	Get(ctx context.Context, id uuid.UUID) (*AnnotationRun, error)
}

type repo struct {
	db  *gorm.DB
	log *logger.Logger
}

// New migrates the ledger table and returns a Repo on db.
func New(ctx context.Context, db *gorm.DB, baseLog *logger.Logger) (Repo, error) {
	if db == nil {
		return nil, fmt.Errorf("runledger: db required")
	}
	if err := db.WithContext(ctx).AutoMigrate(&AnnotationRun{}); err != nil {
		return nil, fmt.Errorf("runledger: migrate: %w", err)
	}
	return &repo{db: db, log: baseLog.With("repo", "RunLedger")}, nil
}

func (r *repo) Record(ctx context.Context, report domain.RunReport) (*AnnotationRun, error) {
	id, err := uuid.Parse(report.RunID)
	if err != nil {
		id = uuid.New()
	}
	failures, err := json.Marshal(report.Failures)
	if err != nil {
		return nil, fmt.Errorf("encode failures: %w", err)
	}
	if report.Failures == nil {
		failures = []byte("[]")
	}
	row := &AnnotationRun{
		ID:              id,
		Backend:         report.Backend,
		State:           string(report.State),
		Selected:        report.Selected,
		Scored:          report.Scored,
		FailedToScore:   report.FailedToScore,
		Persisted:       report.Persisted,
		FailedToPersist: report.FailedToPersist,
		NotAttempted:    report.NotAttempted,
		Canceled:        report.Canceled,
		Error:           report.Error,
		Failures:        datatypes.JSON(failures),
		StartedAt:       report.StartedAt,
		FinishedAt:      report.FinishedAt,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	r.log.Debug("Recorded annotation run", "run_id", id.String(), "state", row.State, "failures", len(report.Failures))
	return row, nil
}

func (r *repo) Latest(ctx context.Context, limit int) ([]*AnnotationRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var out []*AnnotationRun
	if err := r.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *repo) Get(ctx context.Context, id uuid.UUID) (*AnnotationRun, error) {
	var row AnnotationRun
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
