package engine

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/executor"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/scheduler"
	"mangosqueezy/internal/server/statemachine"
)

// HandleCallback applies one verified callback. A nil error means the callback was applied
// or safely ignored; the caller answers 200 then and 400 otherwise.
func (e *Engine) HandleCallback(ctx context.Context, payload *scheduler.Payload) error {
	cb := payload.Callback
	log := e.Logger.With(
		zap.String("schedule_id", payload.ScheduleID),
		zap.String("event", string(cb.Event)),
		zap.String("idempotency_key", cb.JobKey()))

	p, err := e.resolvePipeline(ctx, cb)
	if err != nil {
		log.Warn("callback for unknown pipeline", zap.String("pipeline_id", cb.PipelineID), zap.String("video_id", cb.VideoID))
		return err
	}

	switch cb.Event {
	case statemachine.EventVideoRequested, statemachine.EventNotified:
		_, err = e.fire(ctx, p, cb.Event, nil, model.PipelineUpdate{})
		return err
	case statemachine.EventStart:
		return fmt.Errorf("start is not a callback: %w", common.ErrRequestInvalid)
	}

	job, err := e.resolveJob(ctx, p, cb)
	if err != nil {
		log.Warn("callback for unknown job", zap.String("pipeline_id", p.ID), zap.Error(err))
		return err
	}

	switch {
	case cb.Event == statemachine.EventRetryStep:
		return e.retryStep(ctx, p, job)
	case cb.Event == statemachine.EventStepFailed || cb.Error != "":
		return e.reportFailure(ctx, job, cb.Error)
	case cb.Event == statemachine.EventOutreachSent:
		if job.StepKind != statemachine.Outreach {
			return fmt.Errorf("outreachSent for %s job: %w", job.StepKind, common.ErrRequestInvalid)
		}
		if _, err := e.Jobs.MarkCompleted(ctx, job.ID); err != nil {
			return err
		}
		log.Info("outreach delivered", zap.String("pipeline_id", p.ID))
		return nil
	}
	return e.completeStep(ctx, p, job, cb)
}

func (e *Engine) resolvePipeline(ctx context.Context, cb scheduler.Callback) (*model.Pipeline, error) {
	var (
		p   *model.Pipeline
		err error
	)
	if cb.PipelineID != "" {
		p, err = e.Pipelines.GetPipelineById(ctx, cb.PipelineID)
	} else {
		p, err = e.Pipelines.GetPipelineByVideoId(ctx, cb.VideoID)
	}
	if errors.Is(err, common.ErrPipelineNotExists) {
		return nil, fmt.Errorf("%v: %w", err, common.ErrUnknownJob)
	}
	return p, err
}

func (e *Engine) resolveJob(ctx context.Context, p *model.Pipeline, cb scheduler.Callback) (*model.StepJob, error) {
	var (
		job *model.StepJob
		err error
	)
	if key := cb.JobKey(); key != "" {
		job, err = e.Jobs.GetByKey(ctx, key)
	} else if cb.Event == statemachine.EventVideoReady {
		job, err = e.Jobs.GetVideoJob(ctx, p.ID)
	} else {
		return nil, fmt.Errorf("%s without a job key: %w", cb.Event, common.ErrUnknownJob)
	}
	if err != nil {
		return nil, err
	}
	if job.PipelineID != p.ID {
		return nil, fmt.Errorf("job %s belongs to another pipeline: %w", job.IdempotencyKey, common.ErrUnknownJob)
	}
	if want := job.StepKind.CompletionEvent(); cb.Event != want &&
		cb.Event != statemachine.EventRetryStep && cb.Event != statemachine.EventStepFailed {
		return nil, fmt.Errorf("%s does not complete a %s job: %w", cb.Event, job.StepKind, common.ErrRequestInvalid)
	}
	return job, nil
}

// completeStep marks job Completed and fires its completion event. An early event is
// rejected before the job is touched so the redelivery still finds it Pending. A duplicate
// goes through fire too, which resumes the effects if the pipeline is still where the
// first delivery left it.
func (e *Engine) completeStep(ctx context.Context, p *model.Pipeline, job *model.StepJob, cb scheduler.Callback) error {
	decision, err := statemachine.Transition(p.State, cb.Event)
	if err != nil {
		return err
	}
	if job.Status != model.JobCompleted {
		if _, err := e.Jobs.MarkCompleted(ctx, job.ID); err != nil {
			return err
		}
	}

	var fields model.PipelineUpdate
	if cb.Event == statemachine.EventVideoReady && !decision.Noop {
		fields.HeygenVideoID = cb.VideoID
		if fields.HeygenVideoID == "" {
			fields.HeygenVideoID = job.ExternalID
		}
		if fields.HeygenVideoID == "" {
			return fmt.Errorf("videoReady without a video id: %w", common.ErrRequestInvalid)
		}
		fields.VideoURL = cb.VideoURL
	}
	_, err = e.fire(ctx, p, cb.Event, job, fields)
	return err
}

// reportFailure handles a provider reporting that job failed asynchronously.
func (e *Engine) reportFailure(ctx context.Context, job *model.StepJob, reason string) error {
	if reason == "" {
		reason = "provider reported failure"
	}
	ok, err := e.Jobs.MarkFailed(ctx, job.ID, executor.ErrorKindProvider, reason)
	if err != nil || !ok {
		return err
	}
	job.Status = model.JobFailed
	return e.retryOrFail(ctx, job, reason)
}

func (e *Engine) retryStep(ctx context.Context, p *model.Pipeline, job *model.StepJob) error {
	if job.Status != model.JobFailed || p.State.Terminal() {
		e.Logger.Debug("retry not needed",
			zap.String("idempotency_key", job.IdempotencyKey),
			zap.String("status", string(job.Status)),
			zap.String("state", string(p.State)))
		return nil
	}

	var target *model.Affiliate
	if job.StepKind == statemachine.Outreach {
		affiliates, err := e.affiliates(ctx, p)
		if err != nil {
			return err
		}
		for i := range affiliates {
			if model.IdempotencyKey(p.ID, statemachine.Outreach, affiliates[i].Handle) == job.IdempotencyKey {
				target = &affiliates[i]
				break
			}
		}
		if target == nil {
			target = &model.Affiliate{Handle: job.Target}
		}
	}
	return e.runStep(ctx, p, job.StepKind, target)
}

func (e *Engine) affiliates(ctx context.Context, p *model.Pipeline) ([]model.Affiliate, error) {
	search, err := e.Jobs.GetByKey(ctx, model.IdempotencyKey(p.ID, statemachine.AffiliateSearch, ""))
	if err != nil {
		return nil, err
	}
	return search.Affiliates()
}

// fanOutOutreach runs one Outreach job per affiliate the search found, bounded by
// OutreachConcurrency. It returns once every job was dispatched or handed to retry.
func (e *Engine) fanOutOutreach(ctx context.Context, p *model.Pipeline, search *model.StepJob) error {
	var (
		affiliates []model.Affiliate
		err        error
	)
	if search != nil && search.StepKind == statemachine.AffiliateSearch {
		affiliates, err = search.Affiliates()
	} else {
		affiliates, err = e.affiliates(ctx, p)
	}
	if err != nil {
		return fmt.Errorf("load affiliates: %w", err)
	}

	// no shared cancel: each affiliate's job is settled even when a sibling fails
	var g errgroup.Group
	g.SetLimit(e.OutreachConcurrency)
	for i := range affiliates {
		a := affiliates[i]
		g.Go(func() error {
			return e.runStep(ctx, p, statemachine.Outreach, &a)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	e.Logger.Info("outreach dispatched", zap.String("pipeline_id", p.ID), zap.Int("affiliates", len(affiliates)))
	return nil
}
