package payment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
)

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	fetchErrs []error
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

type recordingHandler struct {
	mu   sync.Mutex
	seen []Completed
	err  error
}

func (h *recordingHandler) OnPaymentCompleted(_ context.Context, c Completed) (*accountdomain.Account, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seen = append(h.seen, c)
	if h.err != nil {
		return nil, h.err
	}
	return &accountdomain.Account{ID: "acc-1", Identity: "etu1001"}, nil
}

func (h *recordingHandler) calls() []Completed {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Completed(nil), h.seen...)
}

func TestNewConsumer_Disabled(t *testing.T) {
	assert.Nil(t, NewConsumer(nil, "payments", "g", &recordingHandler{}, slogtest.Make(t, nil)))
	assert.Nil(t, NewConsumer([]string{"localhost:9092"}, "", "g", &recordingHandler{}, slogtest.Make(t, nil)))

	var c *Consumer
	require.NoError(t, c.Run(context.Background()))
	require.NoError(t, c.Close())
}

func TestConsumer_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := &fakeReader{
		fetchErrs: []error{errors.New("rebalance in progress")},
		queue: []kafka.Message{
			{Offset: 1, Value: []byte(`{"paymentId":"pay-1","status":"completed","amount":2000,"method":"cash","transactionId":"TX-1","payerRef":"+237600000000","createdBy":"cashier"}`)},
			{Offset: 2, Value: []byte(`{"paymentId":"pay-2","status":"pending","amount":2000}`)},
			{Offset: 3, Value: []byte(`not json`)},
			{Offset: 4, Value: []byte(`{"paymentId":"pay-3","status":"completed","amount":500}`)},
		},
	}
	handler := &recordingHandler{}
	c := &Consumer{reader: reader, handler: handler, log: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 4 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Close())
	assert.True(t, reader.closed)

	assert.Equal(t, []int64{1, 2, 3, 4}, reader.commits(), "every message is committed, handled or not")
	calls := handler.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, Completed{
		PaymentID: "pay-1", Amount: 2000, PayerRef: "+237600000000", TransactionID: "TX-1", Method: "cash", CreatedBy: "cashier",
	}, calls[0])
	assert.Equal(t, "pay-3", calls[1].PaymentID)
}

func TestConsumer_HandlerErrorStillCommits(t *testing.T) {
	defer goleak.VerifyNone(t)

	reader := &fakeReader{queue: []kafka.Message{
		{Offset: 7, Value: []byte(`{"paymentId":"pay-1","status":"completed","amount":1000}`)},
	}}
	handler := &recordingHandler{err: errors.New("router down")}
	c := &Consumer{reader: reader, handler: handler, log: slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	require.Eventually(t, func() bool { return len(reader.commits()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Len(t, handler.calls(), 1)
}
