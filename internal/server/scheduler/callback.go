package scheduler

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"mangosqueezy/internal/common"
	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/statemachine"
	"mangosqueezy/pkg/queue"
)

// Callback is the decoded body of an Envelope.
type Callback struct {
	PipelineID     string             `json:"pipelineId,omitempty"`
	IdempotencyKey string             `json:"idempotencyKey,omitempty"`
	Event          statemachine.Event `json:"event"`
	VideoID        string             `json:"videoId,omitempty"`
	VideoURL       string             `json:"videoUrl,omitempty"`
	// CallbackID is how the video provider echoes the job key it was given.
	CallbackID string            `json:"callbackId,omitempty"`
	Affiliates []model.Affiliate `json:"affiliates,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// JobKey is the idempotency key the callback reports on, if any.
func (c Callback) JobKey() string {
	if c.IdempotencyKey != "" {
		return c.IdempotencyKey
	}
	return c.CallbackID
}

// Payload is a verified, decoded callback.
type Payload struct {
	ScheduleID string
	Callback   Callback
}

func EncodeEnvelope(scheduleID string, cb Callback) (queue.Envelope, error) {
	body, err := json.Marshal(cb)
	if err != nil {
		return queue.Envelope{}, err
	}
	return queue.Envelope{
		ScheduleID: scheduleID,
		Body:       base64.StdEncoding.EncodeToString(body),
	}, nil
}

func DecodeEnvelope(raw []byte) (*Payload, error) {
	var env queue.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", common.ErrRequestInvalid)
	}
	body, err := base64.StdEncoding.DecodeString(env.Body)
	if err != nil {
		return nil, fmt.Errorf("decode envelope body: %w", common.ErrRequestInvalid)
	}
	var cb Callback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, fmt.Errorf("decode callback: %w", common.ErrRequestInvalid)
	}
	if !cb.Event.Valid() {
		return nil, fmt.Errorf("unknown event %q: %w", cb.Event, common.ErrRequestInvalid)
	}
	if cb.PipelineID == "" && cb.VideoID == "" {
		return nil, fmt.Errorf("callback names no pipeline: %w", common.ErrRequestInvalid)
	}
	return &Payload{ScheduleID: env.ScheduleID, Callback: cb}, nil
}

// VerifyCallback authenticates rawBody before decoding it; nothing is parsed from an
// unverified request.
func (s *Signer) VerifyCallback(rawBody []byte, signatureHeader string) (*Payload, error) {
	if err := s.Verify(rawBody, signatureHeader); err != nil {
		return nil, err
	}
	return DecodeEnvelope(rawBody)
}
