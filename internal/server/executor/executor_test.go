package executor

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/dao"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/statemachine"
	"mangosqueezy/internal/server/testutil"
)

type fixture struct {
	exec     *Executor
	jobs     dao.StepJobDao
	provider *testutil.Provider
	sched    *testutil.Scheduler
	pipeline *model.Pipeline
}

func newFixture(t *testing.T) *fixture {
	db := testutil.OpenDB(t)
	pipelines := dao.NewPipelineDao(db)
	p := &model.Pipeline{
		ID:              uuid.NewString(),
		BusinessID:      "biz-1",
		ProductID:       "mango-jam",
		AffiliateCount:  3,
		Description:     "small batch mango jam",
		VideoScript:     "Meet our jam",
		OutreachMessage: "Hi {{handle}}, want to try our jam?",
	}
	require.NoError(t, pipelines.Create(context.Background(), p))

	f := &fixture{
		jobs:     dao.NewStepJobDao(db),
		provider: testutil.NewProvider(3, "abc123"),
		sched:    testutil.NewScheduler(),
		pipeline: p,
	}
	f.exec = New(f.jobs, f.provider, f.sched, "http://localhost/callback", "mango", nil)
	return f
}

func TestExecuteSearchSchedulesCompletion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	job, err := f.exec.Execute(ctx, f.pipeline, statemachine.AffiliateSearch, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 1, job.AttemptCount)
	assert.Equal(t, f.pipeline.ID+":AffiliateSearch", job.IdempotencyKey)

	affiliates, err := job.Affiliates()
	require.NoError(t, err)
	assert.Len(t, affiliates, 3)

	scheduled := f.sched.Drain()
	require.Len(t, scheduled, 1)
	assert.Equal(t, statemachine.EventAffiliatesFound, scheduled[0].Callback.Event)
	assert.Equal(t, job.IdempotencyKey, scheduled[0].Callback.IdempotencyKey)
	assert.Len(t, scheduled[0].Callback.Affiliates, 3)
}

func TestExecuteIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.exec.Execute(ctx, f.pipeline, statemachine.VideoGenerate, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	jobs, err := f.jobs.ListByPipeline(ctx, f.pipeline.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 1, f.provider.Calls(statemachine.VideoGenerate))
	assert.Equal(t, "abc123", jobs[0].ExternalID)
	// videoReady comes from the video provider, nothing is scheduled
	assert.Empty(t, f.sched.Drain())

	_, err = f.jobs.MarkCompleted(ctx, jobs[0].ID)
	require.NoError(t, err)
	job, err := f.exec.Execute(ctx, f.pipeline, statemachine.VideoGenerate, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 1, f.provider.Calls(statemachine.VideoGenerate))
}

func TestExecuteProviderFailureThenRetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.provider.FailNext(statemachine.AffiliateSearch, 1)

	job, err := f.exec.Execute(ctx, f.pipeline, statemachine.AffiliateSearch, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrProvider))
	assert.Equal(t, model.JobFailed, job.Status)

	stored, err := f.jobs.GetByKey(ctx, job.IdempotencyKey)
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, stored.Status)
	assert.Equal(t, ErrorKindProvider, stored.ErrorKind)
	assert.Empty(t, f.sched.Drain())

	job, err = f.exec.Execute(ctx, f.pipeline, statemachine.AffiliateSearch, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, job.AttemptCount)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 2, f.provider.Calls(statemachine.AffiliateSearch))

	scheduled := f.sched.Drain()
	require.Len(t, scheduled, 1)
	assert.Equal(t, job.IdempotencyKey+":affiliatesFound:2", scheduled[0].ScheduleID)
}

func TestExecuteOutreachKeyedPerAffiliate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a := model.Affiliate{Handle: "@Mango_Fan", Platform: "instagram"}
	job, err := f.exec.Execute(ctx, f.pipeline, statemachine.Outreach, &a)
	require.NoError(t, err)
	assert.Equal(t, f.pipeline.ID+":Outreach:@mango_fan", job.IdempotencyKey)

	_, err = f.exec.Execute(ctx, f.pipeline, statemachine.Outreach, &model.Affiliate{Handle: " @mango_fan "})
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.Calls(statemachine.Outreach))
	require.Len(t, f.provider.Outreached, 1)
	assert.Equal(t, "Hi @Mango_Fan, want to try our jam?", f.provider.Outreached[0].Message)

	_, err = f.exec.Execute(ctx, f.pipeline, statemachine.Outreach, nil)
	assert.ErrorIs(t, err, common.ErrRequestInvalid)
}

func TestExecuteRejectsPayout(t *testing.T) {
	f := newFixture(t)
	_, err := f.exec.Execute(context.Background(), f.pipeline, statemachine.Payout, nil)
	assert.ErrorIs(t, err, common.ErrRequestInvalid)
}

func TestExecuteSchedulerFailureKeepsJobPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sched.Err = errors.New("redis down")

	_, err := f.exec.Execute(ctx, f.pipeline, statemachine.VideoPublish, nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, common.ErrProvider))

	stored, err := f.jobs.GetByKey(ctx, model.IdempotencyKey(f.pipeline.ID, statemachine.VideoPublish, ""))
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, stored.Status)
	assert.NotNil(t, stored.DispatchedAt)

	// running the step again queues the lost completion without publishing twice
	f.sched.Err = nil
	job, err := f.exec.Execute(ctx, f.pipeline, statemachine.VideoPublish, nil)
	require.NoError(t, err)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, 1, f.provider.Calls(statemachine.VideoPublish))
	scheduled := f.sched.Drain()
	require.Len(t, scheduled, 1)
	assert.Equal(t, statemachine.EventPublished, scheduled[0].Callback.Event)
}

func TestExecuteRequeuesSearchCompletionWithAffiliates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.sched.Err = errors.New("redis down")
	_, err := f.exec.Execute(ctx, f.pipeline, statemachine.AffiliateSearch, nil)
	require.Error(t, err)

	f.sched.Err = nil
	_, err = f.exec.Execute(ctx, f.pipeline, statemachine.AffiliateSearch, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.provider.Calls(statemachine.AffiliateSearch))
	scheduled := f.sched.Drain()
	require.Len(t, scheduled, 1)
	assert.Equal(t, statemachine.EventAffiliatesFound, scheduled[0].Callback.Event)
	assert.Len(t, scheduled[0].Callback.Affiliates, 3)
}
