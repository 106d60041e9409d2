package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types emitted by the control plane.
const (
	EventAccountProvisioned     = "account_provisioned"
	EventAccountProvisionFailed = "account_provision_failed"
	EventAccountExpired         = "account_expired"
	EventAccountDisabled        = "account_disabled"
	EventAccountEnabled         = "account_enabled"
	EventAccountDeleted         = "account_deleted"
	EventSessionStarted         = "session_started"
	EventSessionsClosed         = "sessions_closed"
	EventCounterReset           = "session_counter_reset"
	EventReconcileCycle         = "reconcile_cycle"
	EventPaymentProvisioned     = "payment_provisioned"
	EventPaymentFlagged         = "payment_flagged"
)

// Event is a lifecycle or reconciliation event. Its JSON form is what goes to Kafka and Loki.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"eventType"`
	AccountID string          `json:"accountId,omitempty"`
	Identity  string          `json:"identity,omitempty"`
	SessionID string          `json:"sessionId,omitempty"`
	PaymentID string          `json:"paymentId,omitempty"`
	Actor     string          `json:"actor,omitempty"`
	Source    string          `json:"source"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent returns an event with a fresh id stamped at at.
func NewEvent(eventType, source string, at time.Time) *Event {
	return &Event{ID: uuid.New().String(), Type: eventType, Source: source, CreatedAt: at.UTC()}
}

// WithMetadata sets Metadata to the JSON encoding of m. Encoding failures leave Metadata empty.
func (e *Event) WithMetadata(m map[string]any) *Event {
	if len(m) == 0 {
		return e
	}
	if b, err := json.Marshal(m); err == nil {
		e.Metadata = b
	}
	return e
}
