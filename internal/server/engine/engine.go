// Package engine applies API actions and verified callbacks to pipelines. Each call makes
// at most one state transition; the store's compare-and-set serializes writers of the
// same pipeline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/dao"
	"mangosqueezy/internal/server/executor"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/notify"
	"mangosqueezy/internal/server/scheduler"
	"mangosqueezy/internal/server/statemachine"
)

const ErrorKindTimeout = "Timeout"

type StepExecutor interface {
	Execute(ctx context.Context, p *model.Pipeline, kind statemachine.StepKind, target *model.Affiliate) (*model.StepJob, error)
}

type Scheduler interface {
	executor.Scheduler
	EnqueueEvent(ctx context.Context, pipelineID string, event statemachine.Event, delay time.Duration, callbackURL string) (string, error)
}

type Dependencies struct {
	Pipelines           dao.PipelineDao
	Jobs                dao.StepJobDao
	Executor            StepExecutor
	Scheduler           Scheduler
	Sink                notify.Sink
	Retry               statemachine.RetryPolicy
	CallbackURL         string
	OutreachConcurrency int
	StepTimeout         time.Duration
	VideoStepTimeout    time.Duration
	Logger              *zap.Logger
	Now                 func() time.Time
}

type Engine struct {
	Dependencies
}

func New(deps Dependencies) *Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Sink == nil {
		deps.Sink = notify.NewLogSink(deps.Logger)
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = statemachine.DefaultRetryPolicy()
	}
	if deps.OutreachConcurrency <= 0 {
		deps.OutreachConcurrency = 5
	}
	if deps.StepTimeout <= 0 {
		deps.StepTimeout = 15 * time.Minute
	}
	if deps.VideoStepTimeout <= 0 {
		deps.VideoStepTimeout = time.Hour
	}
	return &Engine{Dependencies: deps}
}

var remarks = map[statemachine.State]string{
	statemachine.SearchingAffiliates: "searching for affiliates",
	statemachine.Outreaching:         "reaching out to affiliates",
	statemachine.GeneratingVideo:     "generating campaign video",
	statemachine.PublishingVideo:     "publishing campaign video",
	statemachine.NotifyingAffiliates: "notifying affiliates",
	statemachine.Completed:           "campaign completed",
}

func (e *Engine) Create(ctx context.Context, businessID string, cfg *model.CampaignConfig) (*model.Pipeline, error) {
	if businessID == "" {
		return nil, common.ErrTokenInvalid
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, common.ErrRequestInvalid)
	}
	p := &model.Pipeline{
		ID:              uuid.NewString(),
		BusinessID:      businessID,
		ProductID:       cfg.ProductID,
		AffiliateCount:  cfg.AffiliateCount,
		State:           statemachine.Created,
		Remark:          "waiting to start",
		Description:     cfg.Description,
		VideoScript:     cfg.VideoScript,
		OutreachMessage: cfg.OutreachMessage,
	}
	if err := e.Pipelines.Create(ctx, p); err != nil {
		return nil, err
	}
	e.Logger.Info("pipeline created", zap.String("pipeline_id", p.ID), zap.String("business_id", businessID))
	return p, nil
}

// Get returns a pipeline owned by businessID with its step jobs.
func (e *Engine) Get(ctx context.Context, businessID, id string) (*model.Pipeline, []*model.StepJob, error) {
	p, err := e.owned(ctx, businessID, id)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := e.Jobs.ListByPipeline(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return p, jobs, nil
}

func (e *Engine) List(ctx context.Context, businessID string) ([]*model.Pipeline, error) {
	return e.Pipelines.ListByBusiness(ctx, businessID)
}

// Start fires start. Starting an already started pipeline is a no-op.
func (e *Engine) Start(ctx context.Context, businessID, id string) (*model.Pipeline, error) {
	p, err := e.owned(ctx, businessID, id)
	if err != nil {
		return nil, err
	}
	return e.fire(ctx, p, statemachine.EventStart, nil, model.PipelineUpdate{})
}

func (e *Engine) owned(ctx context.Context, businessID, id string) (*model.Pipeline, error) {
	p, err := e.Pipelines.GetPipelineById(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.BusinessID != businessID {
		return nil, common.ErrPipelineNotExists
	}
	return p, nil
}

// fire runs event against p: decide, compare-and-set, then carry out the effects on the
// committed pipeline. A stale event or a lost race returns the current pipeline unchanged.
// An event redelivered to the state it moved the pipeline into runs its effects again, since
// the first run may have been cut short after the commit.
func (e *Engine) fire(ctx context.Context, p *model.Pipeline, event statemachine.Event, job *model.StepJob, fields model.PipelineUpdate) (*model.Pipeline, error) {
	log := e.Logger.With(zap.String("pipeline_id", p.ID), zap.String("event", string(event)))

	decision, err := statemachine.Transition(p.State, event)
	if err != nil {
		log.Info("event rejected", zap.String("state", string(p.State)), zap.Error(err))
		return nil, err
	}
	if decision.Noop {
		resume, ok := statemachine.Resume(p.State, event)
		if !ok {
			log.Debug("stale event ignored", zap.String("state", string(p.State)))
			return p, nil
		}
		log.Debug("resuming effects", zap.String("state", string(p.State)))
		return p, e.runEffects(ctx, p, resume.Effects, job)
	}

	if fields.Remark == "" {
		fields.Remark = remarks[decision.Next]
	}
	updated, err := e.Pipelines.UpdateState(ctx, p.ID, decision.From, decision.Next, fields)
	if errors.Is(err, common.ErrInvalidTransition) {
		log.Info("lost transition race", zap.String("from", string(decision.From)))
		return e.Pipelines.GetPipelineById(ctx, p.ID)
	}
	if err != nil {
		return nil, err
	}
	log.Info("pipeline transitioned",
		zap.String("from", string(decision.From)),
		zap.String("to", string(decision.Next)))

	if err := e.runEffects(ctx, updated, decision.Effects, job); err != nil {
		return updated, err
	}
	return updated, nil
}

func (e *Engine) runEffects(ctx context.Context, p *model.Pipeline, effects []statemachine.Effect, job *model.StepJob) error {
	for _, eff := range effects {
		switch eff.Kind {
		case statemachine.EffectExecute:
			var err error
			if eff.Step == statemachine.Outreach {
				err = e.fanOutOutreach(ctx, p, job)
			} else {
				err = e.runStep(ctx, p, eff.Step, nil)
			}
			if err != nil {
				return err
			}
		case statemachine.EffectSchedule:
			if _, err := e.Scheduler.EnqueueEvent(ctx, p.ID, eff.Event, 0, e.CallbackURL); err != nil {
				return fmt.Errorf("schedule %s: %w", eff.Event, err)
			}
		case statemachine.EffectNotify:
			e.Sink.Notify(ctx, notify.New(notificationKind(eff.Event), p))
		case statemachine.EffectRecordVideo:
			// stored with the transition itself
		}
	}
	return nil
}

func notificationKind(event statemachine.Event) notify.Kind {
	switch event {
	case statemachine.EventNotified:
		return notify.KindCompleted
	case statemachine.EventStepFailed:
		return notify.KindExhaustedRetries
	}
	return notify.KindStateChanged
}

// runStep executes one step. Provider failures go to the retry decision and are not
// returned; anything else is.
func (e *Engine) runStep(ctx context.Context, p *model.Pipeline, kind statemachine.StepKind, target *model.Affiliate) error {
	job, err := e.Executor.Execute(ctx, p, kind, target)
	if errors.Is(err, common.ErrProvider) && job != nil {
		return e.retryOrFail(ctx, job, err.Error())
	}
	return err
}

// retryOrFail is the retry decision for a job that just became Failed.
func (e *Engine) retryOrFail(ctx context.Context, job *model.StepJob, reason string) error {
	log := e.Logger.With(
		zap.String("pipeline_id", job.PipelineID),
		zap.String("idempotency_key", job.IdempotencyKey),
		zap.Int("attempt", job.AttemptCount))

	if !e.Retry.Exhausted(job.AttemptCount) {
		delay := e.Retry.Delay(job.AttemptCount)
		if _, err := e.Scheduler.Enqueue(ctx, job, statemachine.EventRetryStep, scheduler.Callback{}, delay, e.CallbackURL); err != nil {
			return fmt.Errorf("schedule retry: %w", err)
		}
		log.Info("step retry scheduled", zap.Duration("delay", delay))
		return nil
	}

	log.Warn("step failed for good",
		zap.String("reason", reason),
		zap.Error(fmt.Errorf("%s: %w", job.IdempotencyKey, common.ErrExhaustedRetries)))
	p, err := e.Pipelines.GetPipelineById(ctx, job.PipelineID)
	if err != nil {
		return err
	}
	_, err = e.fire(ctx, p, statemachine.EventStepFailed, job, model.PipelineUpdate{
		Remark: fmt.Sprintf("%s failed after %d attempts", job.StepKind, job.AttemptCount),
	})
	return err
}

func (e *Engine) timeout(kind statemachine.StepKind) time.Duration {
	if kind == statemachine.VideoGenerate {
		return e.VideoStepTimeout
	}
	return e.StepTimeout
}

// SweepTimeouts fails Pending jobs that outlived their step timeout and runs the retry
// decision for each. It returns how many jobs it timed out.
func (e *Engine) SweepTimeouts(ctx context.Context) (int, error) {
	now := e.Now()
	jobs, err := e.Jobs.ListStalePending(ctx, now.Add(-e.StepTimeout), 100,
		statemachine.AffiliateSearch, statemachine.Outreach, statemachine.VideoPublish)
	if err != nil {
		return 0, err
	}
	videos, err := e.Jobs.ListStalePending(ctx, now.Add(-e.VideoStepTimeout), 100, statemachine.VideoGenerate)
	if err != nil {
		return 0, err
	}
	jobs = append(jobs, videos...)

	var n int
	var errs []error
	for _, job := range jobs {
		detail := fmt.Errorf("no completion within %s: %w", e.timeout(job.StepKind), common.ErrTimeout)
		ok, err := e.Jobs.MarkFailed(ctx, job.ID, ErrorKindTimeout, detail.Error())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !ok {
			continue
		}
		n++
		job.Status = model.JobFailed
		job.ErrorKind = ErrorKindTimeout
		if err := e.retryOrFail(ctx, job, detail.Error()); err != nil {
			errs = append(errs, err)
		}
	}
	if n > 0 {
		e.Logger.Info("timed out stale jobs", zap.Int("count", n))
	}
	return n, errors.Join(errs...)
}

// ResumeStalled re-runs the entry effects of pipelines parked in a started, unfinished state
// with no Pending job, which happens when an effect failed after its transition committed
// and the callback was never redelivered. It returns how many pipelines it resumed.
func (e *Engine) ResumeStalled(ctx context.Context) (int, error) {
	pipelines, err := e.Pipelines.ListStalled(ctx, e.Now().Add(-e.StepTimeout), 100)
	if err != nil {
		return 0, err
	}

	var n int
	var errs []error
	for _, p := range pipelines {
		event, ok := statemachine.EnteredBy(p.State)
		if !ok {
			continue
		}
		resume, ok := statemachine.Resume(p.State, event)
		if !ok {
			continue
		}
		// pushes the pipeline out of the next sweep's window
		touched, err := e.Pipelines.Touch(ctx, p.ID, p.State)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !touched {
			continue
		}
		n++
		e.Logger.Info("resuming stalled pipeline",
			zap.String("pipeline_id", p.ID),
			zap.String("state", string(p.State)),
			zap.String("event", string(event)))
		if err := e.runEffects(ctx, p, resume.Effects, nil); err != nil {
			errs = append(errs, fmt.Errorf("resume %s: %w", p.ID, err))
		}
	}
	return n, errors.Join(errs...)
}
