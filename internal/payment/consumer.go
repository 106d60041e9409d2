package payment

import (
	"context"
	"encoding/json"
	"time"

	"cdr.dev/slog"
	"github.com/segmentio/kafka-go"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/payment/domain"
)

// handleTimeout bounds provisioning of a single message.
const handleTimeout = 30 * time.Second

// Message is the JSON body of a payment decision on the payments topic.
type Message struct {
	PaymentID     string `json:"paymentId"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Method        string `json:"method"`
	TransactionID string `json:"transactionId"`
	PayerRef      string `json:"payerRef"`
	CreatedBy     string `json:"createdBy"`
}

// Handler receives completed payments.
type Handler interface {
	OnPaymentCompleted(ctx context.Context, c Completed) (*accountdomain.Account, error)
}

// messageReader is the subset of *kafka.Reader used by Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds completed payments from Kafka into a Handler. Each message is committed after it
// is handled; provisioning failures are recorded on the payment, so they are not redelivered.
type Consumer struct {
	reader  messageReader
	handler Handler
	log     slog.Logger
}

// NewConsumer returns nil when brokers or topic are empty, which disables consumption.
func NewConsumer(brokers []string, topic, groupID string, handler Handler, logger slog.Logger) *Consumer {
	if len(brokers) == 0 || topic == "" {
		return nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 1,
		MaxBytes: 1e6,
		MaxWait:  time.Second,
	})
	return &Consumer{reader: reader, handler: handler, log: logger.Named("payment_consumer")}
}

// Run consumes until ctx is cancelled. It returns nil on cancellation.
func (c *Consumer) Run(ctx context.Context) error {
	if c == nil {
		return nil
	}
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn(ctx, "kafka fetch failed", slog.Error(err))
			continue
		}
		c.handle(ctx, msg)
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.log.Warn(ctx, "kafka commit failed", slog.F("offset", msg.Offset), slog.Error(err))
		}
	}
}

func (c *Consumer) handle(ctx context.Context, msg kafka.Message) {
	var m Message
	if err := json.Unmarshal(msg.Value, &m); err != nil {
		c.log.Warn(ctx, "dropping undecodable payment message", slog.F("offset", msg.Offset), slog.Error(err))
		return
	}
	if domain.Status(m.Status) != domain.StatusCompleted {
		c.log.Debug(ctx, "ignoring payment message", slog.F("payment_id", m.PaymentID), slog.F("status", m.Status))
		return
	}
	handleCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), handleTimeout)
	defer cancel()
	a, err := c.handler.OnPaymentCompleted(handleCtx, Completed{
		PaymentID:     m.PaymentID,
		Amount:        m.Amount,
		PayerRef:      m.PayerRef,
		TransactionID: m.TransactionID,
		Method:        domain.Method(m.Method),
		CreatedBy:     m.CreatedBy,
	})
	if err != nil {
		c.log.Error(ctx, "payment provisioning failed", slog.F("payment_id", m.PaymentID),
			slog.F("transaction_id", m.TransactionID), slog.Error(err))
		return
	}
	c.log.Info(ctx, "payment message handled", slog.F("payment_id", m.PaymentID), slog.F("identity", a.Identity))
}

// Close closes the Kafka reader. Safe on a nil Consumer.
func (c *Consumer) Close() error {
	if c == nil || c.reader == nil {
		return nil
	}
	return c.reader.Close()
}
