package domain

import (
	"errors"
	"time"
)

var (
	// ErrPaymentNotFound is returned when no payment has the requested id.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrTransactionTaken is returned when another payment already carries the transaction id.
	ErrTransactionTaken = errors.New("payment transaction id already recorded")
	// ErrInvalidPayment is returned for a completion message without a payment or transaction id.
	ErrInvalidPayment = errors.New("payment id or transaction id required")
)

// Status of a payment. Only completed payments provision accounts.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Method is how the payer paid.
type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodCash        Method = "cash"
	MethodCard        Method = "card"
)

// ParseMethod returns the method for s. Unknown values map to mobile_money.
func ParseMethod(s string) Method {
	switch m := Method(s); m {
	case MethodMobileMoney, MethodCash, MethodCard:
		return m
	}
	return MethodMobileMoney
}

// Payment is a decided payment and the account it bought.
type Payment struct {
	ID string
	// Amount is in whole currency units.
	Amount        int64
	Status        Status
	Method        Method
	TransactionID string
	// PayerRef identifies the payer, e.g. a phone number.
	PayerRef  string
	AccountID string
	// NeedsManualProvisioning is set when the account could not be created on the router.
	NeedsManualProvisioning bool
	// ManualOnly is set with NeedsManualProvisioning when a retry cannot succeed, e.g. the kept
	// account was deleted or has expired. Automatic retries skip such payments.
	ManualOnly bool
	Notes      string
	CreatedBy               string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Provisioned reports whether the payment already has a working account.
func (p *Payment) Provisioned() bool {
	return p.AccountID != "" && !p.NeedsManualProvisioning
}
