package dao

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/statemachine"
)

type StepJobDao interface {
	// GetOrCreate returns the job stored under job.IdempotencyKey, inserting job if there is none.
	GetOrCreate(ctx context.Context, job *model.StepJob) (*model.StepJob, bool, error)
	GetByKey(ctx context.Context, key string) (*model.StepJob, error)
	GetVideoJob(ctx context.Context, pipelineID string) (*model.StepJob, error)
	ListByPipeline(ctx context.Context, pipelineID string) ([]*model.StepJob, error)
	// ListStalePending lists Pending jobs untouched since before, optionally only of kinds.
	ListStalePending(ctx context.Context, before time.Time, limit int, kinds ...statemachine.StepKind) ([]*model.StepJob, error)

	// The Mark* methods are conditioned on the current status and report whether a row changed.
	MarkDispatched(ctx context.Context, id uint, externalID string, result datatypes.JSON) (bool, error)
	MarkCompleted(ctx context.Context, id uint) (bool, error)
	MarkFailed(ctx context.Context, id uint, kind, detail string) (bool, error)
	// Reattempt moves a Failed job back to Pending and bumps its attempt count.
	Reattempt(ctx context.Context, id uint) (bool, error)
}

type stepJobDAO struct {
	db *gorm.DB
}

func NewStepJobDao(db *gorm.DB) StepJobDao {
	return &stepJobDAO{db: db}
}

func (d *stepJobDAO) GetOrCreate(ctx context.Context, job *model.StepJob) (*model.StepJob, bool, error) {
	existing, err := d.GetByKey(ctx, job.IdempotencyKey)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, common.ErrUnknownJob) {
		return nil, false, err
	}

	if err := d.db.WithContext(ctx).Create(job).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// lost the insert race, the winner's row is the job
			existing, err := d.GetByKey(ctx, job.IdempotencyKey)
			return existing, false, err
		}
		return nil, false, err
	}
	return job, true, nil
}

func (d *stepJobDAO) GetByKey(ctx context.Context, key string) (*model.StepJob, error) {
	var job model.StepJob
	if err := d.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&job).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrUnknownJob
		}
		return nil, err
	}
	return &job, nil
}

func (d *stepJobDAO) GetVideoJob(ctx context.Context, pipelineID string) (*model.StepJob, error) {
	return d.GetByKey(ctx, model.IdempotencyKey(pipelineID, statemachine.VideoGenerate, ""))
}

func (d *stepJobDAO) ListByPipeline(ctx context.Context, pipelineID string) ([]*model.StepJob, error) {
	var jobs []*model.StepJob
	if err := d.db.WithContext(ctx).Where("pipeline_id = ?", pipelineID).Order("id").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *stepJobDAO) ListStalePending(ctx context.Context, before time.Time, limit int, kinds ...statemachine.StepKind) ([]*model.StepJob, error) {
	query := d.db.WithContext(ctx).Where("status = ? AND updated_at < ?", model.JobPending, before)
	if len(kinds) > 0 {
		query = query.Where("step_kind IN ?", kinds)
	}
	var jobs []*model.StepJob
	if err := query.
		Order("updated_at").
		Limit(limit).
		Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (d *stepJobDAO) MarkDispatched(ctx context.Context, id uint, externalID string, result datatypes.JSON) (bool, error) {
	now := time.Now()
	updates := map[string]any{"updated_at": now, "dispatched_at": now}
	if externalID != "" {
		updates["external_id"] = externalID
	}
	if len(result) > 0 {
		updates["result"] = result
	}
	return d.update(ctx, id, []model.JobStatus{model.JobPending}, updates)
}

func (d *stepJobDAO) MarkCompleted(ctx context.Context, id uint) (bool, error) {
	// a timed out job may still report success late
	return d.update(ctx, id, []model.JobStatus{model.JobPending, model.JobFailed}, map[string]any{
		"status":     model.JobCompleted,
		"updated_at": time.Now(),
	})
}

func (d *stepJobDAO) MarkFailed(ctx context.Context, id uint, kind, detail string) (bool, error) {
	return d.update(ctx, id, []model.JobStatus{model.JobPending}, map[string]any{
		"status":       model.JobFailed,
		"error_kind":   kind,
		"error_detail": detail,
		"updated_at":   time.Now(),
	})
}

func (d *stepJobDAO) Reattempt(ctx context.Context, id uint) (bool, error) {
	return d.update(ctx, id, []model.JobStatus{model.JobFailed}, map[string]any{
		"status":        model.JobPending,
		"attempt_count": gorm.Expr("attempt_count + 1"),
		"dispatched_at": nil,
		"updated_at":    time.Now(),
	})
}

func (d *stepJobDAO) update(ctx context.Context, id uint, from []model.JobStatus, updates map[string]any) (bool, error) {
	res := d.db.WithContext(ctx).Model(&model.StepJob{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
