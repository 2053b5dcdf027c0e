package notify

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"mangosqueezy/internal/server/model"
	"mangosqueezy/internal/server/statemachine"
)

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *recordingWriter) Close() error { return nil }

type recordingSink struct{ got []Notification }

func (s *recordingSink) Notify(_ context.Context, n Notification) { s.got = append(s.got, n) }

func testPipeline() *model.Pipeline {
	return &model.Pipeline{ID: "p1", BusinessID: "b1", State: statemachine.Completed}
}

func TestKafkaSink(t *testing.T) {
	w := &recordingWriter{}
	s := &KafkaSink{writer: w, logger: zap.NewNop()}

	s.Notify(context.Background(), New(KindCompleted, testPipeline()))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "p1", string(w.msgs[0].Key))

	var n Notification
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &n))
	assert.Equal(t, KindCompleted, n.Kind)
	assert.Equal(t, "completed", n.State)
}

func TestKafkaSinkSwallowsErrors(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := &KafkaSink{writer: &recordingWriter{err: errors.New("broker down")}, logger: zap.New(core)}

	assert.NotPanics(t, func() { s.Notify(context.Background(), New(KindExhaustedRetries, testPipeline())) })
	assert.Equal(t, 1, logs.FilterMessage("publish notification").Len())
}

func TestNewKafkaSinkValidates(t *testing.T) {
	_, err := NewKafkaSink(nil, "topic", zap.NewNop())
	assert.Error(t, err)
	_, err = NewKafkaSink([]string{"localhost:9092"}, "", zap.NewNop())
	assert.Error(t, err)
}

func TestMultiAndLogSink(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	rec := &recordingSink{}
	m := Multi{NewLogSink(zap.New(core)), rec}

	m.Notify(context.Background(), New(KindExhaustedRetries, testPipeline()))
	assert.Len(t, rec.got, 1)
	assert.Equal(t, 1, logs.FilterMessage("pipeline notification").Len())
}
