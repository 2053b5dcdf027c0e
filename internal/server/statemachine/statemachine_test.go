package statemachine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mangosqueezy/internal/common"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestTransition_HappyPath(t *testing.T) {
	steps := []struct {
		event Event
		next  State
	}{
		{EventStart, SearchingAffiliates},
		{EventAffiliatesFound, Outreaching},
		{EventVideoRequested, GeneratingVideo},
		{EventVideoReady, PublishingVideo},
		{EventPublished, NotifyingAffiliates},
		{EventNotified, Completed},
	}

	state := Created
	for _, step := range steps {
		d, err := Transition(state, step.event)
		require.NoError(t, err, step.event)
		require.False(t, d.Noop)
		assert.Equal(t, state, d.From)
		assert.Equal(t, step.next, d.Next)
		assert.True(t, CanTransition(state, d.Next))
		state = d.Next
	}
}

func TestTransition_Effects(t *testing.T) {
	d, err := Transition(Created, EventStart)
	require.NoError(t, err)
	assert.Equal(t, []Effect{{Kind: EffectExecute, Step: AffiliateSearch}}, d.Effects)

	d, err = Transition(SearchingAffiliates, EventAffiliatesFound)
	require.NoError(t, err)
	require.Len(t, d.Effects, 2)
	assert.Equal(t, Effect{Kind: EffectExecute, Step: Outreach}, d.Effects[0])
	assert.Equal(t, Effect{Kind: EffectSchedule, Event: EventVideoRequested}, d.Effects[1])

	d, err = Transition(GeneratingVideo, EventVideoReady)
	require.NoError(t, err)
	assert.Equal(t, EffectRecordVideo, d.Effects[0].Kind)
	assert.Equal(t, VideoPublish, d.Effects[1].Step)
}

func TestTransition_StaleEventIsNoop(t *testing.T) {
	d, err := Transition(PublishingVideo, EventVideoReady)
	require.NoError(t, err)
	assert.True(t, d.Noop)
	assert.Equal(t, PublishingVideo, d.Next)
	assert.Empty(t, d.Effects)

	d, err = Transition(Completed, EventStart)
	require.NoError(t, err)
	assert.True(t, d.Noop)

	d, err = Transition(Failed, EventPublished)
	require.NoError(t, err)
	assert.True(t, d.Noop)
}

func TestTransition_EarlyEventIsInvalid(t *testing.T) {
	_, err := Transition(Created, EventVideoReady)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = Transition(SearchingAffiliates, EventNotified)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = Transition(State("paused"), EventStart)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)

	_, err = Transition(Outreaching, EventOutreachSent)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestTransition_StepFailed(t *testing.T) {
	for _, s := range order[:len(order)-1] {
		d, err := Transition(s, EventStepFailed)
		require.NoError(t, err)
		assert.Equal(t, Failed, d.Next, s)
		assert.Equal(t, []Effect{{Kind: EffectNotify, Event: EventStepFailed}}, d.Effects)
	}
	for _, s := range []State{Completed, Failed} {
		d, err := Transition(s, EventStepFailed)
		require.NoError(t, err)
		assert.True(t, d.Noop)
	}
}

// Whatever order events arrive in, the state never moves backwards along the path.
func TestTransition_NeverRegresses(t *testing.T) {
	events := []Event{EventStart, EventAffiliatesFound, EventVideoRequested, EventVideoReady, EventPublished, EventNotified}
	for _, s := range order {
		for _, e := range events {
			d, err := Transition(s, e)
			if err != nil {
				continue
			}
			assert.GreaterOrEqual(t, d.Next.rank(), s.rank(), "%s + %s", s, e)
		}
	}
}

func TestResume(t *testing.T) {
	d, ok := Resume(NotifyingAffiliates, EventPublished)
	require.True(t, ok)
	assert.Equal(t, NotifyingAffiliates, d.Next)
	assert.Equal(t, []Effect{{Kind: EffectSchedule, Event: EventNotified}}, d.Effects, "notify is not repeated")

	d, ok = Resume(Outreaching, EventAffiliatesFound)
	require.True(t, ok)
	assert.Len(t, d.Effects, 2)

	_, ok = Resume(GeneratingVideo, EventAffiliatesFound)
	assert.False(t, ok, "pipeline moved past the event's target")
	_, ok = Resume(Completed, EventNotified)
	assert.False(t, ok)
	_, ok = Resume(Failed, EventStepFailed)
	assert.False(t, ok)

	for _, s := range order[1 : len(order)-1] {
		event, ok := EnteredBy(s)
		require.True(t, ok, s)
		_, ok = Resume(s, event)
		assert.True(t, ok, s)
	}
	_, ok = EnteredBy(Created)
	assert.False(t, ok)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Created, SearchingAffiliates))
	assert.False(t, CanTransition(Created, Outreaching), "skipping a step")
	assert.False(t, CanTransition(Outreaching, SearchingAffiliates), "regressing")
	assert.True(t, CanTransition(GeneratingVideo, Failed))
	assert.False(t, CanTransition(Completed, Failed))
	assert.False(t, CanTransition(Failed, Created))
}

func TestStepKind_CompletionEvent(t *testing.T) {
	assert.Equal(t, EventAffiliatesFound, AffiliateSearch.CompletionEvent())
	assert.Equal(t, EventOutreachSent, Outreach.CompletionEvent())
	assert.Equal(t, EventVideoReady, VideoGenerate.CompletionEvent())
	assert.Equal(t, EventPublished, VideoPublish.CompletionEvent())
	assert.Equal(t, Event(""), Payout.CompletionEvent())
}

func TestRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, time.Second, p.Delay(1))
	assert.Equal(t, 2*time.Second, p.Delay(2))
	assert.Equal(t, 4*time.Second, p.Delay(3))
	assert.Equal(t, 8*time.Second, p.Delay(4))
	assert.Equal(t, 10*time.Second, p.Delay(5))
	assert.Equal(t, 10*time.Second, p.Delay(9))

	assert.False(t, p.Exhausted(1))
	assert.False(t, p.Exhausted(2))
	assert.True(t, p.Exhausted(3))
}
