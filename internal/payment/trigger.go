// Package payment turns completed payments into provisioned hotspot accounts.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/account/lifecycle"
	"hotspot-control-plane/backend/internal/payment/domain"
	"hotspot-control-plane/backend/internal/payment/tiers"
	"hotspot-control-plane/backend/internal/telemetry"
	telemetrydomain "hotspot-control-plane/backend/internal/telemetry/domain"
)

const eventSource = "payment"

// Provisioner is the account surface the trigger needs.
type Provisioner interface {
	Provision(ctx context.Context, spec lifecycle.Spec) (*accountdomain.Account, error)
	RetryProvision(ctx context.Context, id string) (*accountdomain.Account, error)
	Get(ctx context.Context, id string) (*accountdomain.Account, error)
}

// Store is the payment persistence the trigger needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Payment, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*domain.Payment, error)
	Save(ctx context.Context, p *domain.Payment) error
	ListRetryable(ctx context.Context, limit int) ([]*domain.Payment, error)
}

// Completed is a payment decided as completed by the payment collaborator.
type Completed struct {
	PaymentID     string
	Amount        int64
	PayerRef      string
	TransactionID string
	Method        domain.Method
	CreatedBy     string
}

// Trigger provisions one account per completed payment.
type Trigger struct {
	accounts Provisioner
	store    Store
	tiers    tiers.Resolver
	clock    quartz.Clock
	log      slog.Logger
	emitter  telemetry.EventEmitter

	// mu serializes handling so a redelivered message cannot provision twice.
	mu sync.Mutex
}

// NewTrigger returns a Trigger. A nil resolver uses the built-in tier table.
func NewTrigger(accounts Provisioner, store Store, resolver tiers.Resolver, clock quartz.Clock, logger slog.Logger, emitter telemetry.EventEmitter) *Trigger {
	if resolver == nil {
		resolver = tiers.Static{}
	}
	return &Trigger{
		accounts: accounts,
		store:    store,
		tiers:    resolver,
		clock:    clock,
		log:      logger.Named("payment"),
		emitter:  emitter,
	}
}

// OnPaymentCompleted records the payment as completed and provisions the account its amount buys.
// An already linked payment returns its account unchanged. If provisioning fails the payment is
// flagged for manual provisioning, keeping any inactive account id, and the error is returned.
func (t *Trigger) OnPaymentCompleted(ctx context.Context, c Completed) (*accountdomain.Account, error) {
	c.PaymentID = strings.TrimSpace(c.PaymentID)
	c.TransactionID = strings.TrimSpace(c.TransactionID)
	if c.PaymentID == "" && c.TransactionID == "" {
		return nil, domain.ErrInvalidPayment
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, err := t.load(ctx, c)
	if err != nil {
		return nil, err
	}
	if p.Provisioned() {
		t.log.Debug(ctx, "payment already provisioned", slog.F("payment_id", p.ID), slog.F("account_id", p.AccountID))
		return t.accounts.Get(ctx, p.AccountID)
	}
	p.Status = domain.StatusCompleted
	p.UpdatedAt = t.clock.Now().UTC()
	if err := t.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("payment: record payment %s: %w", p.ID, err)
	}
	return t.provision(ctx, p)
}

// RetryFlagged re-runs provisioning for up to limit retryable flagged payments, least recently
// attempted first, so a failing payment moves behind the others. Returns how many payments now
// have a working account.
func (t *Trigger) RetryFlagged(ctx context.Context, limit int) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	flagged, err := t.store.ListRetryable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("payment: list flagged payments: %w", err)
	}
	var (
		merr  *multierror.Error
		fixed int
	)
	for _, p := range flagged {
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		if _, err := t.provision(ctx, p); err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		fixed++
	}
	return fixed, merr.ErrorOrNil()
}

func (t *Trigger) load(ctx context.Context, c Completed) (*domain.Payment, error) {
	var (
		p   *domain.Payment
		err error
	)
	if c.PaymentID != "" {
		p, err = t.store.GetByID(ctx, c.PaymentID)
	} else {
		p, err = t.store.GetByTransactionID(ctx, c.TransactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("payment: load payment: %w", err)
	}
	if p != nil {
		return p, nil
	}
	id := c.PaymentID
	if id == "" {
		id = uuid.New().String()
	}
	now := t.clock.Now().UTC()
	return &domain.Payment{
		ID:            id,
		Amount:        c.Amount,
		Method:        domain.ParseMethod(string(c.Method)),
		TransactionID: c.TransactionID,
		PayerRef:      c.PayerRef,
		CreatedBy:     c.CreatedBy,
		CreatedAt:     now,
	}, nil
}

// provision creates the account for p, or retries the kept one, and links or flags the payment.
func (t *Trigger) provision(ctx context.Context, p *domain.Payment) (*accountdomain.Account, error) {
	var (
		a   *accountdomain.Account
		err error
	)
	if p.AccountID != "" {
		a, err = t.accounts.RetryProvision(ctx, p.AccountID)
	} else {
		tier := t.tiers.Resolve(ctx, p.Amount)
		a, err = t.accounts.Provision(ctx, lifecycle.Spec{
			Duration:   tier.Duration,
			Bandwidth:  tier.Bandwidth,
			MaxDevices: 1,
			Comment:    "Auto-created from payment " + p.ID,
			CreatedBy:  p.CreatedBy,
		})
	}
	if err != nil {
		return nil, t.flag(ctx, p, err)
	}

	p.AccountID = a.ID
	p.NeedsManualProvisioning = false
	p.ManualOnly = false
	p.Notes = ""
	p.UpdatedAt = t.clock.Now().UTC()
	if err := t.store.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("payment: link payment %s to account %s: %w", p.ID, a.ID, err)
	}
	t.log.Info(ctx, "payment provisioned", slog.F("payment_id", p.ID), slog.F("account_id", a.ID),
		slog.F("identity", a.Identity), slog.F("amount", p.Amount))
	t.emit(ctx, telemetrydomain.EventPaymentProvisioned, p, a.Identity, map[string]any{
		"amount":    p.Amount,
		"duration":  string(a.Duration),
		"bandwidth": string(a.Bandwidth),
	})
	return a, nil
}

func (t *Trigger) flag(ctx context.Context, p *domain.Payment, cause error) error {
	var pe *lifecycle.ProvisionError
	identity := ""
	if errors.As(cause, &pe) {
		p.AccountID = pe.AccountID
		identity = pe.Identity
	}
	p.NeedsManualProvisioning = true
	p.ManualOnly = permanent(cause)
	p.Notes = cause.Error()
	p.UpdatedAt = t.clock.Now().UTC()
	t.log.Warn(ctx, "payment needs manual provisioning", slog.F("payment_id", p.ID),
		slog.F("account_id", p.AccountID), slog.F("manual_only", p.ManualOnly), slog.Error(cause))

	err := fmt.Errorf("payment: provision payment %s: %w", p.ID, cause)
	if serr := t.store.Save(ctx, p); serr != nil {
		err = multierror.Append(err, fmt.Errorf("flag payment %s: %w", p.ID, serr))
	}
	t.emit(ctx, telemetrydomain.EventPaymentFlagged, p, identity, map[string]any{
		"error":       cause.Error(),
		"manual_only": p.ManualOnly,
	})
	return err
}

// permanent reports whether retrying the kept account can never succeed.
func permanent(err error) bool {
	return errors.Is(err, accountdomain.ErrAccountNotFound) || errors.Is(err, accountdomain.ErrAccountExpired)
}

func (t *Trigger) emit(ctx context.Context, eventType string, p *domain.Payment, identity string, meta map[string]any) {
	if t.emitter == nil {
		return
	}
	ev := telemetrydomain.NewEvent(eventType, eventSource, t.clock.Now()).WithMetadata(meta)
	ev.PaymentID = p.ID
	ev.AccountID = p.AccountID
	ev.Identity = identity
	ev.Actor = p.CreatedBy
	telemetry.EmitAsync(ctx, t.log, t.emitter, ev)
}
