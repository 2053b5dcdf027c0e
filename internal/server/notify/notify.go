// Package notify tells the business owner about pipeline milestones. Sinks are fire and
// forget: a failed notification is logged and never changes pipeline state.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"mangosqueezy/internal/server/model"
)

type Kind string

const (
	KindCompleted        Kind = "PipelineCompleted"
	KindExhaustedRetries Kind = "ExhaustedRetries"
	KindStateChanged     Kind = "StateChanged"
)

type Notification struct {
	Kind       Kind      `json:"kind"`
	PipelineID string    `json:"pipeline_id"`
	BusinessID string    `json:"business_id"`
	State      string    `json:"state"`
	Remark     string    `json:"remark,omitempty"`
	At         time.Time `json:"at"`
}

func New(kind Kind, p *model.Pipeline) Notification {
	return Notification{
		Kind:       kind,
		PipelineID: p.ID,
		BusinessID: p.BusinessID,
		State:      string(p.State),
		Remark:     p.Remark,
		At:         time.Now().UTC(),
	}
}

type Sink interface {
	Notify(ctx context.Context, n Notification)
}

type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Notify(_ context.Context, n Notification) {
	s.logger.Info("pipeline notification",
		zap.String("kind", string(n.Kind)),
		zap.String("pipeline_id", n.PipelineID),
		zap.String("business_id", n.BusinessID),
		zap.String("state", n.State),
		zap.String("remark", n.Remark))
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes notifications keyed by pipeline id.
type KafkaSink struct {
	writer messageWriter
	logger *zap.Logger
}

func NewKafkaSink(brokers []string, topic string, logger *zap.Logger) (*KafkaSink, error) {
	if len(brokers) == 0 || topic == "" {
		return nil, errors.New("kafka sink requires brokers and a topic")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Warn("kafka notification dropped", zap.Int("count", len(msgs)), zap.Error(err))
			}
		},
	}
	return &KafkaSink{writer: w, logger: logger}, nil
}

func (s *KafkaSink) Notify(ctx context.Context, n Notification) {
	value, err := json.Marshal(n)
	if err != nil {
		s.logger.Warn("encode notification", zap.Error(err))
		return
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(n.PipelineID),
		Value: value,
		Time:  n.At,
	})
	if err != nil {
		s.logger.Warn("publish notification", zap.String("pipeline_id", n.PipelineID), zap.Error(err))
	}
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

type Multi []Sink

func (m Multi) Notify(ctx context.Context, n Notification) {
	for _, s := range m {
		s.Notify(ctx, n)
	}
}
