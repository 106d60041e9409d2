// Package lifecycle drives hotspot accounts through provisioning, manual enable/disable,
// expiration and deletion, keeping the store and the router credential in step.
package lifecycle

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/gateway"
	"hotspot-control-plane/backend/internal/telemetry"
	telemetrydomain "hotspot-control-plane/backend/internal/telemetry/domain"
	telemetryotel "hotspot-control-plane/backend/internal/telemetry/otel"
)

const (
	eventSource = "lifecycle"
	// identityAttempts bounds retries when a generated identity collides.
	identityAttempts = 10
	secretLength     = 8
	secretAlphabet   = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	// resyncBatch bounds the router disables one resync run attempts.
	resyncBatch = 200
)

// Store is the account persistence the manager needs.
type Store interface {
	GetByID(ctx context.Context, id string) (*domain.Account, error)
	Create(ctx context.Context, a *domain.Account) error
	Save(ctx context.Context, a *domain.Account) error
	Delete(ctx context.Context, id string) error
	ListPastDue(ctx context.Context, now time.Time) ([]*domain.Account, error)
	ListDeviceSyncPending(ctx context.Context, limit int) ([]*domain.Account, error)
}

// Gateway is the router surface the manager needs.
type Gateway interface {
	CreateCredential(ctx context.Context, spec gateway.CredentialSpec) (string, error)
	EnableCredential(ctx context.Context, name string) error
	DisableCredential(ctx context.Context, name string) error
	DeleteCredential(ctx context.Context, name string) error
	LookupCredential(ctx context.Context, name string) (*gateway.Credential, error)
}

// Spec is a provisioning request.
type Spec struct {
	Duration   domain.DurationClass
	Bandwidth  domain.BandwidthProfile
	MaxDevices int
	Comment    string
	// Identity overrides the generated name when set.
	Identity  string
	CreatedBy string
}

// ProvisionError is returned when the router credential could not be created.
// The account row is kept inactive under AccountID so provisioning can be retried.
type ProvisionError struct {
	AccountID string
	Identity  string
	Err       error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("lifecycle: provision account %s (%s): %v", e.AccountID, e.Identity, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Options are the optional collaborators of a Manager.
type Options struct {
	// IdentityPrefix prefixes generated identities; "etu" when empty.
	IdentityPrefix string
	Emitter        telemetry.EventEmitter
	Metrics        *telemetryotel.Metrics
}

// Manager owns the account state machine.
type Manager struct {
	store   Store
	gw      Gateway
	clock   quartz.Clock
	log     slog.Logger
	emitter telemetry.EventEmitter
	metrics *telemetryotel.Metrics
	prefix  string

	newIdentity func() (string, error)
	newSecret   func() (string, error)
}

// NewManager returns a Manager. clock is quartz.NewReal() outside tests.
func NewManager(store Store, gw Gateway, clock quartz.Clock, logger slog.Logger, opts Options) *Manager {
	prefix := strings.TrimSpace(opts.IdentityPrefix)
	if prefix == "" {
		prefix = "etu"
	}
	m := &Manager{
		store:   store,
		gw:      gw,
		clock:   clock,
		log:     logger.Named("lifecycle"),
		emitter: opts.Emitter,
		metrics: opts.Metrics,
		prefix:  prefix,
	}
	m.newIdentity = func() (string, error) {
		n, err := rand.Int(rand.Reader, big.NewInt(9000))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s%d", m.prefix, 1000+n.Int64()), nil
	}
	m.newSecret = randomSecret
	return m
}

func randomSecret() (string, error) {
	b := make([]byte, secretLength)
	max := big.NewInt(int64(len(secretAlphabet)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = secretAlphabet[n.Int64()]
	}
	return string(b), nil
}

// Get returns the account or ErrAccountNotFound.
func (m *Manager) Get(ctx context.Context, id string) (*domain.Account, error) {
	a, err := m.store.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lifecycle: get account %s: %w", id, err)
	}
	if a == nil {
		return nil, domain.ErrAccountNotFound
	}
	return a, nil
}

// Provision creates an account in two phases: a tentative active row without a router reference,
// then the router credential, then the final row with the reference. If the router step fails the
// row is flipped inactive and kept, and a *ProvisionError is returned.
func (m *Manager) Provision(ctx context.Context, spec Spec) (*domain.Account, error) {
	maxDevices := spec.MaxDevices
	if maxDevices == 0 {
		maxDevices = domain.DefaultDevices
	}
	if maxDevices < domain.MinDevices || maxDevices > domain.MaxDevicesCap {
		return nil, domain.ErrInvalidMaxDevices
	}
	secret, err := m.newSecret()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: generate secret: %w", err)
	}
	now := m.clock.Now().UTC()
	duration := domain.ParseDurationClass(string(spec.Duration))
	comment := strings.TrimSpace(spec.Comment)
	if comment == "" {
		comment = "Created via API - " + now.Format(time.RFC3339)
	}
	a := &domain.Account{
		ID:         uuid.New().String(),
		Secret:     secret,
		Duration:   duration,
		Bandwidth:  domain.ParseBandwidthProfile(string(spec.Bandwidth)),
		MaxDevices: maxDevices,
		ExpiresAt:  duration.ExpiresAt(now),
		Active:     true,
		Comment:    comment,
		CreatedBy:  spec.CreatedBy,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.reserve(ctx, a, strings.TrimSpace(spec.Identity)); err != nil {
		return nil, err
	}
	if err := m.provisionDevice(ctx, a, spec.CreatedBy); err != nil {
		return nil, err
	}
	return a, nil
}

// reserve persists the tentative row under the override identity or a generated one.
func (m *Manager) reserve(ctx context.Context, a *domain.Account, override string) error {
	if override != "" {
		if !domain.ValidIdentity(override) {
			return domain.ErrInvalidIdentity
		}
		a.Identity = override
		if err := m.store.Create(ctx, a); err != nil {
			if errors.Is(err, domain.ErrIdentityTaken) {
				return err
			}
			return fmt.Errorf("lifecycle: create account: %w", err)
		}
		return nil
	}
	for i := 0; i < identityAttempts; i++ {
		identity, err := m.newIdentity()
		if err != nil {
			return fmt.Errorf("lifecycle: generate identity: %w", err)
		}
		a.Identity = identity
		err = m.store.Create(ctx, a)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrIdentityTaken) {
			return fmt.Errorf("lifecycle: create account: %w", err)
		}
		m.log.Debug(ctx, "generated identity collided", slog.F("identity", identity))
	}
	return fmt.Errorf("lifecycle: no free identity after %d attempts: %w", identityAttempts, domain.ErrIdentityTaken)
}

// provisionDevice creates the router credential for a stored account and records the reference.
func (m *Manager) provisionDevice(ctx context.Context, a *domain.Account, actor string) error {
	ref, err := m.gw.CreateCredential(ctx, gateway.CredentialSpec{
		Name:        a.Identity,
		Secret:      a.Secret,
		Profile:     a.Bandwidth.DeviceProfile(),
		LimitUptime: a.Duration.LimitUptime(),
		SharedUsers: a.MaxDevices,
		Comment:     a.Comment,
		Disabled:    a.Suspended,
	})
	if err != nil {
		return m.failProvision(ctx, a, actor, err)
	}
	return m.finishProvision(ctx, a, actor, ref)
}

func (m *Manager) failProvision(ctx context.Context, a *domain.Account, actor string, cause error) error {
	m.metrics.RecordDeviceError(ctx, "create_credential")
	m.metrics.RecordProvision(ctx, "failed")
	m.log.Warn(ctx, "router credential not created, account kept inactive",
		slog.F("account_id", a.ID), slog.F("identity", a.Identity), slog.Error(cause))

	a.Active = false
	a.UpdatedAt = m.clock.Now().UTC()
	err := cause
	if serr := m.store.Save(ctx, a); serr != nil {
		err = multierror.Append(cause, fmt.Errorf("persist inactive account: %w", serr))
	}
	m.emit(ctx, telemetrydomain.EventAccountProvisionFailed, a, actor, map[string]any{"error": cause.Error()})
	return &ProvisionError{AccountID: a.ID, Identity: a.Identity, Err: err}
}

func (m *Manager) finishProvision(ctx context.Context, a *domain.Account, actor, ref string) error {
	a.ExternalRef = ref
	a.Active = !a.Suspended
	a.UpdatedAt = m.clock.Now().UTC()
	if err := m.store.Save(ctx, a); err != nil {
		return fmt.Errorf("lifecycle: persist provisioned account %s: %w", a.ID, err)
	}
	m.metrics.RecordProvision(ctx, "ok")
	m.log.Info(ctx, "account provisioned", slog.F("account_id", a.ID), slog.F("identity", a.Identity),
		slog.F("duration", a.Duration), slog.F("bandwidth", a.Bandwidth))
	m.emit(ctx, telemetrydomain.EventAccountProvisioned, a, actor, map[string]any{
		"duration":    string(a.Duration),
		"bandwidth":   string(a.Bandwidth),
		"max_devices": a.MaxDevices,
	})
	return nil
}

// RetryProvision re-attempts the router step for an account still in provisioning.
// A credential already present on the router under the identity is adopted instead of recreated.
func (m *Manager) RetryProvision(ctx context.Context, id string) (*domain.Account, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.ExternalRef != "" {
		return a, nil
	}
	now := m.clock.Now().UTC()
	if a.Expired || (a.ExpiresAt != nil && !a.ExpiresAt.After(now)) {
		return nil, domain.ErrAccountExpired
	}
	existing, err := m.gw.LookupCredential(ctx, a.Identity)
	if err != nil {
		m.metrics.RecordDeviceError(ctx, "lookup_credential")
		return nil, &ProvisionError{AccountID: a.ID, Identity: a.Identity, Err: err}
	}
	if existing != nil {
		if existing.Disabled != a.Suspended {
			var err error
			if a.Suspended {
				err = m.gw.DisableCredential(ctx, a.Identity)
			} else {
				err = m.gw.EnableCredential(ctx, a.Identity)
			}
			if err != nil {
				return nil, m.failProvision(ctx, a, "", err)
			}
		}
		if err := m.finishProvision(ctx, a, "", existing.ExternalRef); err != nil {
			return nil, err
		}
		return a, nil
	}
	if err := m.provisionDevice(ctx, a, ""); err != nil {
		return nil, err
	}
	return a, nil
}

// ExpireSweep demotes every active account whose expiry has passed. All rows are marked expired,
// inactive and pending a router disable before the router is contacted, so an unreachable router
// cannot hold back the stored state. The disables then run best-effort; whatever is left pending
// is picked up by ResyncExpired. Returns the number of accounts demoted.
func (m *Manager) ExpireSweep(ctx context.Context) (int, error) {
	now := m.clock.Now().UTC()
	candidates, err := m.store.ListPastDue(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: list past-due accounts: %w", err)
	}
	var (
		merr    *multierror.Error
		demoted []*domain.Account
	)
	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		a.Expired = true
		a.Active = false
		a.DeviceSyncPending = true
		a.UpdatedAt = now
		if err := m.store.Save(ctx, a); err != nil {
			m.log.Error(ctx, "failed to expire account", slog.F("account_id", a.ID), slog.Error(err))
			merr = multierror.Append(merr, fmt.Errorf("expire %s: %w", a.ID, err))
			continue
		}
		demoted = append(demoted, a)
		m.emit(ctx, telemetrydomain.EventAccountExpired, a, "", nil)
	}
	m.metrics.RecordExpired(ctx, len(demoted))
	if len(demoted) == 0 {
		return 0, merr.ErrorOrNil()
	}

	synced, serr := m.syncDevice(ctx, demoted)
	m.log.Info(ctx, "expiration sweep finished", slog.F("expired", len(demoted)),
		slog.F("candidates", len(candidates)), slog.F("device_synced", synced))
	if serr != nil {
		m.log.Warn(ctx, "router disables left pending", slog.F("pending", len(demoted)-synced), slog.Error(serr))
	}
	return len(demoted), merr.ErrorOrNil()
}

// syncDevice disables the router credential of each expired account and clears its pending mark.
// It stops at the first ErrDeviceUnavailable; the remaining accounts keep their mark.
func (m *Manager) syncDevice(ctx context.Context, accounts []*domain.Account) (int, error) {
	var (
		merr   *multierror.Error
		synced int
	)
	for _, a := range accounts {
		if err := ctx.Err(); err != nil {
			merr = multierror.Append(merr, err)
			break
		}
		err := m.gw.DisableCredential(ctx, a.Identity)
		if err != nil && !errors.Is(err, gateway.ErrCredentialNotFound) {
			m.metrics.RecordDeviceError(ctx, "disable_credential")
			m.log.Warn(ctx, "failed to disable router credential", slog.F("account_id", a.ID),
				slog.F("identity", a.Identity), slog.Error(err))
			merr = multierror.Append(merr, fmt.Errorf("disable %s: %w", a.Identity, err))
			if errors.Is(err, gateway.ErrDeviceUnavailable) {
				break
			}
			continue
		}
		a.DeviceSyncPending = false
		a.UpdatedAt = m.clock.Now().UTC()
		if err := m.store.Save(ctx, a); err != nil && !errors.Is(err, domain.ErrAccountNotFound) {
			merr = multierror.Append(merr, fmt.Errorf("clear pending %s: %w", a.ID, err))
			continue
		}
		synced++
	}
	return synced, merr.ErrorOrNil()
}

// Delete removes the router credential best-effort and then the account row.
func (m *Manager) Delete(ctx context.Context, id string) error {
	a, err := m.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := m.gw.DeleteCredential(ctx, a.Identity); err != nil && !errors.Is(err, gateway.ErrCredentialNotFound) {
		m.metrics.RecordDeviceError(ctx, "delete_credential")
		m.log.Warn(ctx, "failed to delete router credential", slog.F("account_id", a.ID),
			slog.F("identity", a.Identity), slog.Error(err))
	}
	if err := m.store.Delete(ctx, a.ID); err != nil {
		return fmt.Errorf("lifecycle: delete account %s: %w", a.ID, err)
	}
	m.emit(ctx, telemetrydomain.EventAccountDeleted, a, "", nil)
	return nil
}

// Disable deactivates an account without expiring it. The row is saved before the router call;
// a router failure is returned so the caller can retry.
func (m *Manager) Disable(ctx context.Context, id string) (*domain.Account, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.Expired {
		return nil, domain.ErrAccountExpired
	}
	a.Active = false
	a.Suspended = true
	a.UpdatedAt = m.clock.Now().UTC()
	if err := m.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("lifecycle: disable account %s: %w", a.ID, err)
	}
	m.emit(ctx, telemetrydomain.EventAccountDisabled, a, "", nil)
	if a.ExternalRef == "" {
		return a, nil
	}
	if err := m.gw.DisableCredential(ctx, a.Identity); err != nil {
		m.metrics.RecordDeviceError(ctx, "disable_credential")
		return a, fmt.Errorf("lifecycle: disable credential %s: %w", a.Identity, err)
	}
	return a, nil
}

// Enable reactivates a manually disabled account. Expired accounts are never revived.
func (m *Manager) Enable(ctx context.Context, id string) (*domain.Account, error) {
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := m.clock.Now().UTC()
	if a.Expired || (a.ExpiresAt != nil && !a.ExpiresAt.After(now)) {
		return nil, domain.ErrAccountExpired
	}
	if a.ExternalRef == "" {
		return nil, domain.ErrNotProvisioned
	}
	a.Active = true
	a.Suspended = false
	a.UpdatedAt = now
	if err := m.store.Save(ctx, a); err != nil {
		return nil, fmt.Errorf("lifecycle: enable account %s: %w", a.ID, err)
	}
	m.emit(ctx, telemetrydomain.EventAccountEnabled, a, "", nil)
	if err := m.gw.EnableCredential(ctx, a.Identity); err != nil {
		m.metrics.RecordDeviceError(ctx, "enable_credential")
		return a, fmt.Errorf("lifecycle: enable credential %s: %w", a.Identity, err)
	}
	return a, nil
}

// ResyncExpired retries the router disable for expired accounts still marked pending, oldest
// attempt first. Returns the number of credentials confirmed disabled.
func (m *Manager) ResyncExpired(ctx context.Context) (int, error) {
	pending, err := m.store.ListDeviceSyncPending(ctx, resyncBatch)
	if err != nil {
		return 0, fmt.Errorf("lifecycle: list pending router disables: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}
	synced, err := m.syncDevice(ctx, pending)
	if err != nil {
		return synced, fmt.Errorf("lifecycle: resync %d of %d expired accounts: %w", synced, len(pending), err)
	}
	return synced, nil
}

func (m *Manager) emit(ctx context.Context, eventType string, a *domain.Account, actor string, meta map[string]any) {
	if m.emitter == nil {
		return
	}
	ev := telemetrydomain.NewEvent(eventType, eventSource, m.clock.Now()).WithMetadata(meta)
	ev.AccountID = a.ID
	ev.Identity = a.Identity
	ev.Actor = actor
	telemetry.EmitAsync(ctx, m.log, m.emitter, ev)
}
