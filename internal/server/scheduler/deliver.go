package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"mangosqueezy/pkg/queue"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Deliverer is the worker side of the Adapter: it signs the envelope and POSTs it.
// A non-2xx answer fails the task so asynq redelivers it.
type Deliverer struct {
	signer     *Signer
	httpClient *http.Client
	logger     *zap.Logger
}

func NewDeliverer(signer *Signer, timeout time.Duration, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{
		signer:     signer,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
}

func (d *Deliverer) ProcessTask(ctx context.Context, t *asynq.Task) error {
	p, err := queue.UnmarshalDeliverPayload(t.Payload())
	if err != nil {
		return fmt.Errorf("bad deliver payload: %v: %w", err, asynq.SkipRetry)
	}
	body, err := json.Marshal(p.Envelope)
	if err != nil {
		return fmt.Errorf("marshal envelope: %v: %w", err, asynq.SkipRetry)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build callback request: %v: %w", err, asynq.SkipRetry)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, d.signer.Sign(body))

	resp, err := d.httpClient.Do(req)
	if err != nil {
		d.logger.Warn("callback delivery failed", zap.String("schedule_id", p.Envelope.ScheduleID), zap.Error(err))
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		d.logger.Warn("callback rejected",
			zap.String("schedule_id", p.Envelope.ScheduleID),
			zap.Int("status", resp.StatusCode),
			zap.ByteString("body", respBody))
		return fmt.Errorf("callback %s answered %d", p.Envelope.ScheduleID, resp.StatusCode)
	}
	d.logger.Info("callback delivered", zap.String("schedule_id", p.Envelope.ScheduleID))
	return nil
}

// Register mounts the deliverer on an asynq mux.
func (d *Deliverer) Register(mux *asynq.ServeMux) {
	mux.Handle(queue.TypeDeliverCallback, d)
}
