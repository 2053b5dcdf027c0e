package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/statemachine"
	"mangosqueezy/pkg/queue"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

type taskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Adapter turns delayed callbacks into asynq tasks. The schedule id doubles as the
// asynq task id, so scheduling the same callback twice is a no-op.
type Adapter struct {
	client   taskEnqueuer
	maxRetry int
	logger   *zap.Logger
}

func NewAdapter(client *asynq.Client, maxRetry int, logger *zap.Logger) *Adapter {
	return newAdapter(client, maxRetry, logger)
}

func newAdapter(client taskEnqueuer, maxRetry int, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{client: client, maxRetry: maxRetry, logger: logger}
}

// ScheduleID is "<key>:<event>:<attempt>" for job callbacks.
func ScheduleID(job *model.StepJob, event statemachine.Event) string {
	return job.IdempotencyKey + ":" + string(event) + ":" + strconv.Itoa(job.AttemptCount)
}

// Enqueue schedules event for job after delay. data carries event specific fields.
func (a *Adapter) Enqueue(ctx context.Context, job *model.StepJob, event statemachine.Event, data Callback, delay time.Duration, callbackURL string) (string, error) {
	data.PipelineID = job.PipelineID
	data.IdempotencyKey = job.IdempotencyKey
	data.Event = event
	return a.submit(ctx, ScheduleID(job, event), data, delay, callbackURL)
}

// EnqueueEvent schedules a pipeline level event that belongs to no single job.
func (a *Adapter) EnqueueEvent(ctx context.Context, pipelineID string, event statemachine.Event, delay time.Duration, callbackURL string) (string, error) {
	cb := Callback{PipelineID: pipelineID, Event: event}
	return a.submit(ctx, pipelineID+":"+string(event), cb, delay, callbackURL)
}

func (a *Adapter) submit(ctx context.Context, scheduleID string, cb Callback, delay time.Duration, callbackURL string) (string, error) {
	env, err := EncodeEnvelope(scheduleID, cb)
	if err != nil {
		return "", err
	}
	payload, err := queue.DeliverPayload{URL: callbackURL, Envelope: env}.Marshal()
	if err != nil {
		return "", err
	}

	task := asynq.NewTask(queue.TypeDeliverCallback, payload)
	_, err = a.client.EnqueueContext(ctx, task,
		asynq.TaskID(scheduleID),
		asynq.Queue(queue.QueueCallbacks),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(a.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		a.logger.Debug("callback already scheduled", zap.String("schedule_id", scheduleID))
		return scheduleID, nil
	}
	if err != nil {
		return "", fmt.Errorf("enqueue %s: %w", scheduleID, err)
	}
	a.logger.Info("callback scheduled",
		zap.String("schedule_id", scheduleID),
		zap.String("event", string(cb.Event)),
		zap.Duration("delay", delay))
	return scheduleID, nil
}
