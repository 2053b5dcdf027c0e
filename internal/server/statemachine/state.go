// Package statemachine holds the campaign pipeline transition table. It does no I/O: callers
// feed it the current state and an event and carry out the effects it returns.
package statemachine

type State string

const (
	Created             State = "created"
	SearchingAffiliates State = "searching_affiliates"
	Outreaching         State = "outreaching"
	GeneratingVideo     State = "generating_video"
	PublishingVideo     State = "publishing_video"
	NotifyingAffiliates State = "notifying_affiliates"
	Completed           State = "completed"
	Failed              State = "failed"
)

// order is the forward path; Failed sits outside it.
var order = []State{
	Created,
	SearchingAffiliates,
	Outreaching,
	GeneratingVideo,
	PublishingVideo,
	NotifyingAffiliates,
	Completed,
}

func (s State) rank() int {
	for i, st := range order {
		if st == s {
			return i
		}
	}
	return -1
}

func (s State) Valid() bool {
	return s == Failed || s.rank() >= 0
}

func (s State) Terminal() bool {
	return s == Completed || s == Failed
}

type Event string

const (
	EventStart           Event = "start"
	EventAffiliatesFound Event = "affiliatesFound"
	EventVideoRequested  Event = "videoRequested"
	EventVideoReady      Event = "videoReady"
	EventPublished       Event = "published"
	EventNotified        Event = "notified"
	EventStepFailed      Event = "stepFailed"

	// EventOutreachSent completes a single Outreach job; it never moves the pipeline.
	EventOutreachSent Event = "outreachSent"
	// EventRetryStep re-runs a failed job.
	EventRetryStep Event = "retryStep"
)

func (e Event) Valid() bool {
	switch e {
	case EventStart, EventAffiliatesFound, EventVideoRequested, EventVideoReady, EventPublished,
		EventNotified, EventStepFailed, EventOutreachSent, EventRetryStep:
		return true
	}
	return false
}

type StepKind string

const (
	AffiliateSearch StepKind = "AffiliateSearch"
	Outreach        StepKind = "Outreach"
	VideoGenerate   StepKind = "VideoGenerate"
	VideoPublish    StepKind = "VideoPublish"
	Payout          StepKind = "Payout"
)

func (k StepKind) Valid() bool {
	switch k {
	case AffiliateSearch, Outreach, VideoGenerate, VideoPublish, Payout:
		return true
	}
	return false
}

// CompletionEvent is the event a finished job of this kind reports back with.
func (k StepKind) CompletionEvent() Event {
	switch k {
	case AffiliateSearch:
		return EventAffiliatesFound
	case Outreach:
		return EventOutreachSent
	case VideoGenerate:
		return EventVideoReady
	case VideoPublish:
		return EventPublished
	}
	return ""
}
