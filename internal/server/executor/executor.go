// Package executor performs one pipeline step against its provider. A step is keyed by
// its idempotency key: while a job for the key is Pending or Completed the provider is
// not called again.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/dao"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/provider"
	"mangosqueezy/internal/server/scheduler"
	"mangosqueezy/internal/server/statemachine"
)

const tracerName = "mangosqueezy/internal/server/executor"

const ErrorKindProvider = "ProviderError"

type Provider interface {
	SearchAffiliates(ctx context.Context, req provider.SearchRequest) ([]model.Affiliate, error)
	SendOutreach(ctx context.Context, req provider.OutreachRequest) error
	GenerateVideo(ctx context.Context, req provider.VideoRequest) (string, error)
	PublishVideo(ctx context.Context, req provider.PublishRequest) error
}

type Scheduler interface {
	Enqueue(ctx context.Context, job *model.StepJob, event statemachine.Event, data scheduler.Callback, delay time.Duration, callbackURL string) (string, error)
}

type Executor struct {
	jobs        dao.StepJobDao
	provider    Provider
	scheduler   Scheduler
	callbackURL string
	actor       string
	tracer      trace.Tracer
	logger      *zap.Logger
}

func New(jobs dao.StepJobDao, p Provider, s Scheduler, callbackURL, actor string, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		jobs:        jobs,
		provider:    p,
		scheduler:   s,
		callbackURL: callbackURL,
		actor:       actor,
		tracer:      otel.Tracer(tracerName),
		logger:      logger,
	}
}

// Execute runs kind for pipeline. target is the affiliate for Outreach and nil otherwise.
//
// A Failed job is re-run with its attempt count incremented. A provider failure marks the
// job Failed and returns an error wrapping common.ErrProvider; the pipeline is not touched.
func (e *Executor) Execute(ctx context.Context, p *model.Pipeline, kind statemachine.StepKind, target *model.Affiliate) (*model.StepJob, error) {
	if kind == statemachine.Payout || !kind.Valid() {
		return nil, fmt.Errorf("step %q is not executable: %w", kind, common.ErrRequestInvalid)
	}
	var handle string
	if kind == statemachine.Outreach {
		if target == nil || target.Handle == "" {
			return nil, fmt.Errorf("outreach needs an affiliate: %w", common.ErrRequestInvalid)
		}
		handle = target.Handle
	}

	key := model.IdempotencyKey(p.ID, kind, handle)
	job, created, err := e.jobs.GetOrCreate(ctx, &model.StepJob{
		PipelineID:     p.ID,
		StepKind:       kind,
		Target:         handle,
		IdempotencyKey: key,
		AttemptCount:   1,
		Status:         model.JobPending,
	})
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", key, err)
	}

	if !created {
		switch job.Status {
		case model.JobPending:
			if job.DispatchedAt != nil {
				// the provider already took this attempt; make sure its completion is queued
				if _, err := e.enqueueCompletion(ctx, job); err != nil {
					return job, err
				}
			}
			return job, nil
		case model.JobCompleted:
			return job, nil
		case model.JobFailed:
			ok, err := e.jobs.Reattempt(ctx, job.ID)
			if err != nil {
				return nil, fmt.Errorf("reattempt %s: %w", key, err)
			}
			if !ok {
				// another caller re-ran it first
				return e.jobs.GetByKey(ctx, key)
			}
			job.AttemptCount++
			job.Status = model.JobPending
		}
	}

	if err := e.dispatch(ctx, p, job, target); err != nil {
		return job, err
	}
	return job, nil
}

func (e *Executor) dispatch(ctx context.Context, p *model.Pipeline, job *model.StepJob, target *model.Affiliate) error {
	ctx, span := e.tracer.Start(ctx, "executor.dispatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("pipeline.id", p.ID),
			attribute.String("step.kind", string(job.StepKind)),
			attribute.String("step.idempotency_key", job.IdempotencyKey),
			attribute.Int("step.attempt", job.AttemptCount),
		))
	defer span.End()

	log := e.logger.With(
		zap.String("pipeline_id", p.ID),
		zap.String("step_kind", string(job.StepKind)),
		zap.String("idempotency_key", job.IdempotencyKey),
		zap.Int("attempt", job.AttemptCount))

	var (
		externalID string
		result     datatypes.JSON
		err        error
	)
	switch job.StepKind {
	case statemachine.AffiliateSearch:
		var affiliates []model.Affiliate
		affiliates, err = e.provider.SearchAffiliates(ctx, provider.SearchRequest{
			Description:    p.Description,
			AffiliateCount: p.AffiliateCount,
			PipelineID:     p.ID,
		})
		if err == nil {
			result, err = json.Marshal(affiliates)
		}
	case statemachine.Outreach:
		err = e.provider.SendOutreach(ctx, provider.OutreachRequest{
			Actor:      e.actor,
			Message:    model.RenderOutreach(p.OutreachMessage, *target),
			PipelineID: p.ID,
			Handle:     target.Handle,
			Platform:   target.Platform,
		})
	case statemachine.VideoGenerate:
		externalID, err = e.provider.GenerateVideo(ctx, provider.VideoRequest{
			Script:     p.VideoScript,
			CallbackID: job.IdempotencyKey,
		})
	case statemachine.VideoPublish:
		err = e.provider.PublishVideo(ctx, provider.PublishRequest{
			VideoID:    p.HeygenVideoID,
			VideoURL:   p.VideoURL,
			PipelineID: p.ID,
		})
	}

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "provider call failed")
		log.Warn("step failed", zap.Error(err))
		if _, markErr := e.jobs.MarkFailed(ctx, job.ID, ErrorKindProvider, err.Error()); markErr != nil {
			return errors.Join(err, markErr)
		}
		job.Status = model.JobFailed
		job.ErrorKind = ErrorKindProvider
		if !errors.Is(err, common.ErrProvider) {
			err = fmt.Errorf("%v: %w", err, common.ErrProvider)
		}
		return fmt.Errorf("%s: %w", job.IdempotencyKey, err)
	}

	if _, err := e.jobs.MarkDispatched(ctx, job.ID, externalID, result); err != nil {
		return fmt.Errorf("record dispatch %s: %w", job.IdempotencyKey, err)
	}
	now := time.Now()
	job.ExternalID = externalID
	job.Result = result
	job.DispatchedAt = &now

	if job.StepKind == statemachine.VideoGenerate {
		log.Info("video requested", zap.String("video_id", externalID))
		return nil
	}

	scheduleID, err := e.enqueueCompletion(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enqueue completion failed")
		return err
	}
	log.Info("step dispatched", zap.String("schedule_id", scheduleID))
	return nil
}

// enqueueCompletion schedules the completion callback of a dispatched job. The schedule id
// is derived from the job, so enqueueing twice delivers once.
func (e *Executor) enqueueCompletion(ctx context.Context, job *model.StepJob) (string, error) {
	// the video provider reports videoReady itself
	if job.StepKind == statemachine.VideoGenerate {
		return "", nil
	}
	var cb scheduler.Callback
	if job.StepKind == statemachine.AffiliateSearch {
		affiliates, err := job.Affiliates()
		if err != nil {
			return "", fmt.Errorf("decode affiliates %s: %w", job.IdempotencyKey, err)
		}
		cb.Affiliates = affiliates
	}
	scheduleID, err := e.scheduler.Enqueue(ctx, job, job.StepKind.CompletionEvent(), cb, 0, e.callbackURL)
	if err != nil {
		return "", fmt.Errorf("enqueue completion %s: %w", job.IdempotencyKey, err)
	}
	return scheduleID, nil
}
