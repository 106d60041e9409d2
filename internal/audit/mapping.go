package audit

import "hotspot-control-plane/backend/internal/telemetry/domain"

// Audited resources.
const (
	ResourceAccount = "account"
	ResourceSession = "session"
	ResourcePayment = "payment"
)

// ActionResource holds the audit action and resource derived from an event type.
type ActionResource struct {
	Action   string
	Resource string
}

// eventActions lists the event types written to the audit trail. Periodic reconcile
// bookkeeping (cycle summaries, session open/close) is left to the event stream.
var eventActions = map[string]ActionResource{
	domain.EventAccountProvisioned:     {Action: "provision", Resource: ResourceAccount},
	domain.EventAccountProvisionFailed: {Action: "provision_failed", Resource: ResourceAccount},
	domain.EventAccountExpired:         {Action: "expire", Resource: ResourceAccount},
	domain.EventAccountDisabled:        {Action: "disable", Resource: ResourceAccount},
	domain.EventAccountEnabled:         {Action: "enable", Resource: ResourceAccount},
	domain.EventAccountDeleted:         {Action: "delete", Resource: ResourceAccount},
	domain.EventCounterReset:           {Action: "counter_reset", Resource: ResourceSession},
	domain.EventPaymentProvisioned:     {Action: "provision", Resource: ResourcePayment},
	domain.EventPaymentFlagged:         {Action: "flag_manual", Resource: ResourcePayment},
}

// ForEvent returns the action and resource for an event type, and false when the type is not audited.
func ForEvent(eventType string) (ActionResource, bool) {
	ar, ok := eventActions[eventType]
	return ar, ok
}

// resourceID picks the id of the audited resource from the event.
func resourceID(resource string, e *domain.Event) string {
	switch resource {
	case ResourceSession:
		return e.SessionID
	case ResourcePayment:
		return e.PaymentID
	default:
		return e.AccountID
	}
}
