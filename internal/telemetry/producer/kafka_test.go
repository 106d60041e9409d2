package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-control-plane/backend/internal/telemetry/domain"
)

type fakeWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
	dl     bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	_, f.dl = ctx.Deadline()
	f.msgs = append(f.msgs, msgs...)
	return f.err
}

func (f *fakeWriter) Close() error {
	f.closed++
	return nil
}

func TestNewKafkaProducer_DisabledWithoutConfig(t *testing.T) {
	assert.Nil(t, NewKafkaProducer(nil, "events"))
	assert.Nil(t, NewKafkaProducer([]string{"localhost:9092"}, ""))

	var p *KafkaProducer
	require.NoError(t, p.Emit(context.Background(), domain.NewEvent("x", "test", time.Now())))
	require.NoError(t, p.Close())
}

func TestKafkaProducer_EmitKeysByAccount(t *testing.T) {
	w := &fakeWriter{}
	p := &KafkaProducer{writer: w, topic: "hotspot-events"}
	ev := domain.NewEvent(domain.EventAccountProvisioned, "lifecycle", time.Now())
	ev.AccountID = "acc-9"

	require.NoError(t, p.Emit(context.Background(), ev))
	require.Len(t, w.msgs, 1)
	assert.True(t, w.dl, "write carries a deadline")
	assert.Equal(t, []byte("acc-9"), w.msgs[0].Key)
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &decoded))
	assert.Equal(t, "account_provisioned", decoded["eventType"])
	assert.Equal(t, "acc-9", decoded["accountId"])

	require.NoError(t, p.Emit(context.Background(), nil))
	assert.Len(t, w.msgs, 1, "nil event is ignored")
}

func TestKafkaProducer_EmitError(t *testing.T) {
	w := &fakeWriter{err: errors.New("leader not available")}
	p := &KafkaProducer{writer: w}
	err := p.Emit(context.Background(), domain.NewEvent("x", "test", time.Now()))
	require.Error(t, err)
	require.NoError(t, p.Close())
	assert.Equal(t, 1, w.closed)
}
