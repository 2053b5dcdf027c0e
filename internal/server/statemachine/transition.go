package statemachine

import (
	"fmt"

	"mangosqueezy/internal/common"
)

type EffectKind string

const (
	// EffectExecute runs Step through the step executor. Outreach fans out once per affiliate.
	EffectExecute EffectKind = "execute"
	// EffectSchedule asks the scheduler to deliver Event back to the pipeline.
	EffectSchedule EffectKind = "schedule"
	// EffectNotify sends the transition to the notification sink.
	EffectNotify EffectKind = "notify"
	// EffectRecordVideo stores the generated video id and url on the pipeline.
	EffectRecordVideo EffectKind = "record_video"
)

type Effect struct {
	Kind  EffectKind
	Step  StepKind
	Event Event
}

type Decision struct {
	From    State
	Next    State
	Effects []Effect
	// Noop is set when the event is stale: the pipeline already moved past the event's source state.
	Noop bool
}

type rule struct {
	from    State
	next    State
	effects []Effect
}

var table = map[Event]rule{
	EventStart: {
		from:    Created,
		next:    SearchingAffiliates,
		effects: []Effect{{Kind: EffectExecute, Step: AffiliateSearch}},
	},
	EventAffiliatesFound: {
		from: SearchingAffiliates,
		next: Outreaching,
		effects: []Effect{
			{Kind: EffectExecute, Step: Outreach},
			{Kind: EffectSchedule, Event: EventVideoRequested},
		},
	},
	EventVideoRequested: {
		from:    Outreaching,
		next:    GeneratingVideo,
		effects: []Effect{{Kind: EffectExecute, Step: VideoGenerate}},
	},
	EventVideoReady: {
		from: GeneratingVideo,
		next: PublishingVideo,
		effects: []Effect{
			{Kind: EffectRecordVideo},
			{Kind: EffectExecute, Step: VideoPublish},
		},
	},
	EventPublished: {
		from: PublishingVideo,
		next: NotifyingAffiliates,
		effects: []Effect{
			{Kind: EffectNotify, Event: EventPublished},
			{Kind: EffectSchedule, Event: EventNotified},
		},
	},
	EventNotified: {
		from:    NotifyingAffiliates,
		next:    Completed,
		effects: []Effect{{Kind: EffectNotify, Event: EventNotified}},
	},
}

// Transition decides what event does to a pipeline in state current.
//
// Events whose source state is already behind current are stale and return a Noop decision.
// Events that arrive before their source state is reached fail with ErrInvalidTransition so
// the scheduler redelivers them later. EventStepFailed moves any non-terminal state to Failed.
// EventOutreachSent and EventRetryStep carry job bookkeeping only and never reach here.
func Transition(current State, event Event) (Decision, error) {
	if !current.Valid() {
		return Decision{}, fmt.Errorf("unknown state %q: %w", current, common.ErrInvalidTransition)
	}

	if event == EventStepFailed {
		if current.Terminal() {
			return Decision{From: current, Next: current, Noop: true}, nil
		}
		return Decision{
			From:    current,
			Next:    Failed,
			Effects: []Effect{{Kind: EffectNotify, Event: EventStepFailed}},
		}, nil
	}

	r, ok := table[event]
	if !ok {
		return Decision{}, fmt.Errorf("event %q has no transition: %w", event, common.ErrInvalidTransition)
	}

	switch {
	case current == r.from:
		return Decision{From: current, Next: r.next, Effects: r.effects}, nil
	case current == Failed:
		return Decision{From: current, Next: current, Noop: true}, nil
	case current.rank() > r.from.rank():
		return Decision{From: current, Next: current, Noop: true}, nil
	default:
		return Decision{}, fmt.Errorf("%s in state %s: %w", event, current, common.ErrInvalidTransition)
	}
}

// Resume returns the effects of event for a pipeline that event already moved into
// current, so effects cut short by an error after the commit can run again. Notifications
// are left out since they went out before anything that can fail. ok is false unless
// current is the state event leads to.
func Resume(current State, event Event) (Decision, bool) {
	r, ok := table[event]
	if !ok || r.next != current || current.Terminal() {
		return Decision{}, false
	}
	var effects []Effect
	for _, eff := range r.effects {
		if eff.Kind != EffectNotify {
			effects = append(effects, eff)
		}
	}
	return Decision{From: current, Next: current, Effects: effects}, true
}

// EnteredBy returns the event that moves a pipeline into s.
func EnteredBy(s State) (Event, bool) {
	for event, r := range table {
		if r.next == s {
			return event, true
		}
	}
	return "", false
}

// CanTransition reports whether to is a single legal step from from.
func CanTransition(from, to State) bool {
	if to == Failed {
		return !from.Terminal()
	}
	for _, r := range table {
		if r.from == from && r.next == to {
			return true
		}
	}
	return false
}
