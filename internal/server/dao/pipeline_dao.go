package dao

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/statemachine"
)

type PipelineDao interface {
	Create(ctx context.Context, pipeline *model.Pipeline) error
	GetPipelineById(ctx context.Context, id string) (*model.Pipeline, error)
	// GetPipelineByVideoId resolves webhooks that only carry the provider's video id.
	GetPipelineByVideoId(ctx context.Context, videoID string) (*model.Pipeline, error)
	ListByBusiness(ctx context.Context, businessID string) ([]*model.Pipeline, error)
	// UpdateState moves the pipeline from -> to only if it is still in from.
	UpdateState(ctx context.Context, id string, from, to statemachine.State, fields model.PipelineUpdate) (*model.Pipeline, error)
	// ListStalled lists started, unfinished pipelines untouched since before that have no
	// Pending step job, so nothing in flight will move them.
	ListStalled(ctx context.Context, before time.Time, limit int) ([]*model.Pipeline, error)
	// Touch bumps updated_at if the pipeline is still in state.
	Touch(ctx context.Context, id string, state statemachine.State) (bool, error)
}

type pipelineDAO struct {
	db *gorm.DB
}

func NewPipelineDao(db *gorm.DB) PipelineDao {
	return &pipelineDAO{db: db}
}

func (d *pipelineDAO) Create(ctx context.Context, pipeline *model.Pipeline) error {
	if pipeline.State == "" {
		pipeline.State = statemachine.Created
	}
	if pipeline.State != statemachine.Created {
		return fmt.Errorf("create pipeline in state %s: %w", pipeline.State, common.ErrInvalidTransition)
	}
	return d.db.WithContext(ctx).Create(pipeline).Error
}

func (d *pipelineDAO) GetPipelineById(ctx context.Context, id string) (*model.Pipeline, error) {
	var pipeline model.Pipeline
	err := d.db.WithContext(ctx).Where("id = ?", id).Take(&pipeline).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrPipelineNotExists
		}
		return nil, err
	}
	return &pipeline, nil
}

func (d *pipelineDAO) GetPipelineByVideoId(ctx context.Context, videoID string) (*model.Pipeline, error) {
	if videoID == "" {
		return nil, common.ErrPipelineNotExists
	}
	var pipeline model.Pipeline
	err := d.db.WithContext(ctx).Where("heygen_video_id = ?", videoID).Take(&pipeline).Error
	if err == nil {
		return &pipeline, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	// the id is only on the generation job until the video is ready
	var job model.StepJob
	err = d.db.WithContext(ctx).
		Where("external_id = ? AND step_kind = ?", videoID, statemachine.VideoGenerate).
		Take(&job).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, common.ErrPipelineNotExists
		}
		return nil, err
	}
	return d.GetPipelineById(ctx, job.PipelineID)
}

func (d *pipelineDAO) ListByBusiness(ctx context.Context, businessID string) ([]*model.Pipeline, error) {
	var pipelines []*model.Pipeline
	if err := d.db.WithContext(ctx).
		Where("business_id = ?", businessID).
		Order("created_at DESC").
		Find(&pipelines).Error; err != nil {
		return nil, err
	}
	return pipelines, nil
}

func (d *pipelineDAO) ListStalled(ctx context.Context, before time.Time, limit int) ([]*model.Pipeline, error) {
	pending := d.db.Model(&model.StepJob{}).
		Select("1").
		Where("step_jobs.pipeline_id = pipelines.id AND step_jobs.status = ?", model.JobPending)

	var pipelines []*model.Pipeline
	if err := d.db.WithContext(ctx).
		Where("state NOT IN ?", []statemachine.State{statemachine.Created, statemachine.Completed, statemachine.Failed}).
		Where("updated_at < ?", before).
		Where("NOT EXISTS (?)", pending).
		Order("updated_at").
		Limit(limit).
		Find(&pipelines).Error; err != nil {
		return nil, err
	}
	return pipelines, nil
}

func (d *pipelineDAO) Touch(ctx context.Context, id string, state statemachine.State) (bool, error) {
	res := d.db.WithContext(ctx).Model(&model.Pipeline{}).
		Where("id = ? AND state = ?", id, state).
		UpdateColumn("updated_at", time.Now())
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (d *pipelineDAO) UpdateState(ctx context.Context, id string, from, to statemachine.State, fields model.PipelineUpdate) (*model.Pipeline, error) {
	if !statemachine.CanTransition(from, to) {
		return nil, fmt.Errorf("%s -> %s: %w", from, to, common.ErrInvalidTransition)
	}

	var updated model.Pipeline
	err := d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.Pipeline
		if err := tx.Where("id = ?", id).Take(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return common.ErrPipelineNotExists
			}
			return err
		}
		if current.State != from {
			return fmt.Errorf("pipeline %s is %s, not %s: %w", id, current.State, from, common.ErrInvalidTransition)
		}

		updates := map[string]any{
			"state":      to,
			"updated_at": time.Now(),
		}
		if fields.Remark != "" {
			updates["remark"] = fields.Remark
		}
		query := tx.Model(&model.Pipeline{}).Where("id = ? AND state = ?", id, from)
		if fields.HeygenVideoID != "" {
			if current.HeygenVideoID != "" && current.HeygenVideoID != fields.HeygenVideoID {
				return fmt.Errorf("pipeline %s: %w", id, common.ErrVideoIDImmutable)
			}
			updates["heygen_video_id"] = fields.HeygenVideoID
			query = query.Where("(heygen_video_id = '' OR heygen_video_id IS NULL OR heygen_video_id = ?)", fields.HeygenVideoID)
		}
		if fields.VideoURL != "" && current.VideoURL == "" {
			updates["video_url"] = fields.VideoURL
		}

		res := query.Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("pipeline %s changed concurrently: %w", id, common.ErrInvalidTransition)
		}
		return tx.Where("id = ?", id).Take(&updated).Error
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
