package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/account/repository"
	"hotspot-control-plane/backend/internal/gateway"
	telemetrydomain "hotspot-control-plane/backend/internal/telemetry/domain"
)

// fakeGateway records credential calls. Errors are keyed by method name.
type fakeGateway struct {
	mu       sync.Mutex
	creds    map[string]*gateway.Credential
	errs     map[string]error
	calls    []string
	nextRef  int
	lastSpec gateway.CredentialSpec
	// disableDelay makes DisableCredential take this long, or until ctx is done.
	disableDelay time.Duration
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{creds: map[string]*gateway.Credential{}, errs: map[string]error{}}
}

func (g *fakeGateway) record(call, name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, call+":"+name)
	return g.errs[call]
}

func (g *fakeGateway) CreateCredential(_ context.Context, spec gateway.CredentialSpec) (string, error) {
	if err := g.record("create", spec.Name); err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nextRef++
	ref := fmt.Sprintf("*%X", g.nextRef)
	g.lastSpec = spec
	g.creds[spec.Name] = &gateway.Credential{ExternalRef: ref, Name: spec.Name, Disabled: spec.Disabled}
	return ref, nil
}

func (g *fakeGateway) setDisabled(call, name string, disabled bool) error {
	if err := g.record(call, name); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	c, ok := g.creds[name]
	if !ok {
		return &gateway.OperationError{Op: call, Reason: "no such user", Err: gateway.ErrCredentialNotFound}
	}
	c.Disabled = disabled
	return nil
}

func (g *fakeGateway) EnableCredential(_ context.Context, name string) error {
	return g.setDisabled("enable", name, false)
}

func (g *fakeGateway) DisableCredential(ctx context.Context, name string) error {
	if g.disableDelay > 0 {
		select {
		case <-time.After(g.disableDelay):
		case <-ctx.Done():
			return &gateway.OperationError{Op: "disable", Reason: "timed out", Err: ctx.Err()}
		}
	}
	return g.setDisabled("disable", name, true)
}

func (g *fakeGateway) count(call string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if strings.HasPrefix(c, call+":") {
			n++
		}
	}
	return n
}

func (g *fakeGateway) DeleteCredential(_ context.Context, name string) error {
	if err := g.record("delete", name); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.creds, name)
	return nil
}

func (g *fakeGateway) LookupCredential(_ context.Context, name string) (*gateway.Credential, error) {
	if err := g.record("lookup", name); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.creds[name]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (g *fakeGateway) setErr(call string, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.errs[call] = err
}

func (g *fakeGateway) credential(name string) *gateway.Credential {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.creds[name]
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []*telemetrydomain.Event
}

func (r *recordingEmitter) Emit(_ context.Context, e *telemetrydomain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *recordingEmitter) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

type harness struct {
	m       *Manager
	store   *repository.MemoryRepository
	gw      *fakeGateway
	clock   *quartz.Mock
	emitter *recordingEmitter
}

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:   repository.NewMemoryRepository(),
		gw:      newFakeGateway(),
		clock:   quartz.NewMock(t),
		emitter: &recordingEmitter{},
	}
	h.clock.Set(start)
	logger := slogtest.Make(t, &slogtest.Options{IgnoreErrors: true})
	h.m = NewManager(h.store, h.gw, h.clock, logger, Options{IdentityPrefix: "etu", Emitter: h.emitter})
	return h
}

func TestProvision_Success(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration7d, Bandwidth: domain.Bandwidth2Mbps, MaxDevices: 3, CreatedBy: "op-1"})
	require.NoError(t, err)

	assert.Regexp(t, `^etu[1-9][0-9]{3}$`, a.Identity)
	assert.Len(t, a.Secret, 8)
	assert.True(t, a.Active)
	assert.NotEmpty(t, a.ExternalRef)
	assert.Equal(t, 3, a.MaxDevices)
	require.NotNil(t, a.ExpiresAt)
	assert.Equal(t, start.Add(7*24*time.Hour), *a.ExpiresAt)
	assert.Equal(t, "Created via API - 2026-03-01T12:00:00Z", a.Comment)

	spec := h.gw.lastSpec
	assert.Equal(t, a.Identity, spec.Name)
	assert.Equal(t, a.Secret, spec.Secret)
	assert.Equal(t, "2mbps", spec.Profile)
	assert.Equal(t, "7d", spec.LimitUptime)
	assert.Equal(t, 3, spec.SharedUsers)

	stored, err := h.store.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ExternalRef, stored.ExternalRef)
	assert.Equal(t, domain.StateActive, stored.State(start))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{telemetrydomain.EventAccountProvisioned}, h.emitter.types())
	}, time.Second, 10*time.Millisecond)
}

func TestProvision_Defaults(t *testing.T) {
	h := newHarness(t)
	a, err := h.m.Provision(context.Background(), Spec{Duration: "bogus", Bandwidth: "bogus", Comment: " promo "})
	require.NoError(t, err)
	assert.Equal(t, domain.Duration24h, a.Duration)
	assert.Equal(t, domain.Bandwidth1Mbps, a.Bandwidth)
	assert.Equal(t, 1, a.MaxDevices)
	assert.Equal(t, "promo", a.Comment)
	assert.Equal(t, "1d", h.gw.lastSpec.LimitUptime)
}

func TestProvision_Unlimited(t *testing.T) {
	h := newHarness(t)
	a, err := h.m.Provision(context.Background(), Spec{Duration: domain.DurationUnlimited})
	require.NoError(t, err)
	assert.Nil(t, a.ExpiresAt)
	assert.Equal(t, "0", h.gw.lastSpec.LimitUptime)
}

func TestProvision_InvalidMaxDevices(t *testing.T) {
	h := newHarness(t)
	for _, n := range []int{-1, 11} {
		_, err := h.m.Provision(context.Background(), Spec{MaxDevices: n})
		assert.ErrorIs(t, err, domain.ErrInvalidMaxDevices)
	}
	assert.Empty(t, h.gw.calls)
}

func TestProvision_IdentityOverride(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.m.Provision(ctx, Spec{Identity: "guest.lobby"})
	require.NoError(t, err)
	assert.Equal(t, "guest.lobby", a.Identity)

	_, err = h.m.Provision(ctx, Spec{Identity: "guest.lobby"})
	assert.ErrorIs(t, err, domain.ErrIdentityTaken)

	_, err = h.m.Provision(ctx, Spec{Identity: "a b"})
	assert.ErrorIs(t, err, domain.ErrInvalidIdentity)
}

func TestProvision_GeneratedIdentityRetriesCollisions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.m.Provision(ctx, Spec{Identity: "etu1111"})
	require.NoError(t, err)

	names := []string{"etu1111", "etu1111", "etu2222"}
	h.m.newIdentity = func() (string, error) {
		n := names[0]
		names = names[1:]
		return n, nil
	}
	a, err := h.m.Provision(ctx, Spec{})
	require.NoError(t, err)
	assert.Equal(t, "etu2222", a.Identity)
}

func TestProvision_GeneratedIdentityGivesUp(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.m.Provision(ctx, Spec{Identity: "etu1111"})
	require.NoError(t, err)

	h.m.newIdentity = func() (string, error) { return "etu1111", nil }
	_, err = h.m.Provision(ctx, Spec{})
	assert.ErrorIs(t, err, domain.ErrIdentityTaken)
}

func TestProvision_DeviceFailureKeepsInactiveRow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.setErr("create", fmt.Errorf("%w: dial tcp: refused", gateway.ErrDeviceUnavailable))

	a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration48h})
	require.Error(t, err)
	assert.Nil(t, a)

	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)
	assert.ErrorIs(t, err, gateway.ErrDeviceUnavailable)

	stored, err := h.store.GetByID(ctx, perr.AccountID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.False(t, stored.Active)
	assert.Empty(t, stored.ExternalRef)
	assert.Equal(t, perr.Identity, stored.Identity)
	assert.Equal(t, domain.StateProvisioning, stored.State(start))

	require.Eventually(t, func() bool {
		return assert.ObjectsAreEqual([]string{telemetrydomain.EventAccountProvisionFailed}, h.emitter.types())
	}, time.Second, 10*time.Millisecond)
}

func TestRetryProvision(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.setErr("create", &gateway.OperationError{Op: "create", Reason: "timed out"})
	_, err := h.m.Provision(ctx, Spec{})
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)

	h.gw.setErr("create", nil)
	a, err := h.m.RetryProvision(ctx, perr.AccountID)
	require.NoError(t, err)
	assert.True(t, a.Active)
	assert.NotEmpty(t, a.ExternalRef)

	// Already provisioned: no further router calls.
	calls := len(h.gw.calls)
	again, err := h.m.RetryProvision(ctx, perr.AccountID)
	require.NoError(t, err)
	assert.Equal(t, a.ExternalRef, again.ExternalRef)
	assert.Len(t, h.gw.calls, calls)
}

func TestRetryProvision_AdoptsExistingCredential(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.setErr("create", errors.New("boom"))
	_, err := h.m.Provision(ctx, Spec{Identity: "lobby01"})
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)

	// The credential exists on the router, disabled, from an earlier partial attempt.
	h.gw.creds["lobby01"] = &gateway.Credential{ExternalRef: "*AA", Name: "lobby01", Disabled: true}

	a, err := h.m.RetryProvision(ctx, perr.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "*AA", a.ExternalRef)
	assert.False(t, h.gw.credential("lobby01").Disabled)
}

func TestRetryProvision_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.m.RetryProvision(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrAccountNotFound)

	h.gw.setErr("create", errors.New("boom"))
	_, err = h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)

	h.clock.Advance(25 * time.Hour)
	_, err = h.m.RetryProvision(ctx, perr.AccountID)
	assert.ErrorIs(t, err, domain.ErrAccountExpired)
}

func TestExpireSweep(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	short, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
	require.NoError(t, err)
	long, err := h.m.Provision(ctx, Spec{Duration: domain.Duration30d})
	require.NoError(t, err)
	unlimited, err := h.m.Provision(ctx, Spec{Duration: domain.DurationUnlimited})
	require.NoError(t, err)

	n, err := h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	h.clock.Advance(24*time.Hour + time.Second)
	n, err = h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := h.store.GetByID(ctx, short.ID)
	assert.True(t, got.Expired)
	assert.False(t, got.Active)
	assert.True(t, h.gw.credential(short.Identity).Disabled)

	for _, id := range []string{long.ID, unlimited.ID} {
		got, _ := h.store.GetByID(ctx, id)
		assert.True(t, got.Active)
		assert.False(t, got.Expired)
	}

	// Re-running never touches an expired account again.
	n, err = h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpireSweep_DeviceFailureIsLogged(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
	require.NoError(t, err)

	h.gw.setErr("disable", &gateway.OperationError{Op: "disable", Reason: "transport failure"})
	h.clock.Advance(48 * time.Hour)
	n, err := h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ := h.store.GetByID(ctx, a.ID)
	assert.True(t, got.Expired)
	assert.False(t, h.gw.credential(a.Identity).Disabled)

	// A later resync catches up.
	h.gw.setErr("disable", nil)
	synced, err := h.m.ResyncExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, synced)
	assert.True(t, h.gw.credential(a.Identity).Disabled)
}

func TestResyncExpired_ReportsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
	require.NoError(t, err)
	h.clock.Advance(48 * time.Hour)

	h.gw.setErr("disable", errors.New("boom"))
	_, err = h.m.ExpireSweep(ctx)
	require.NoError(t, err)

	synced, err := h.m.ResyncExpired(ctx)
	assert.Zero(t, synced)
	assert.Error(t, err)
	got, _ := h.store.GetByID(ctx, a.ID)
	assert.True(t, got.DeviceSyncPending)
}

func TestResyncExpired_OnlyPendingAccounts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
		require.NoError(t, err)
	}
	h.clock.Advance(48 * time.Hour)
	n, err := h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Equal(t, 3, h.gw.count("disable"))

	// Confirmed disables are never re-issued.
	for i := 0; i < 3; i++ {
		synced, err := h.m.ResyncExpired(ctx)
		require.NoError(t, err)
		assert.Zero(t, synced)
	}
	assert.Equal(t, 3, h.gw.count("disable"))
}

func TestExpireSweep_SlowDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 10; i++ {
		a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
		require.NoError(t, err)
		ids = append(ids, a.ID)
	}
	h.clock.Advance(25 * time.Hour)
	h.gw.disableDelay = 50 * time.Millisecond

	sweepCtx, cancel := context.WithTimeout(ctx, 130*time.Millisecond)
	defer cancel()
	n, err := h.m.ExpireSweep(sweepCtx)
	require.NoError(t, err)
	assert.Equal(t, 10, n)

	pastDue, err := h.store.ListPastDue(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, pastDue, "every past-due account is demoted in the store")
	pending := 0
	for _, id := range ids {
		got, _ := h.store.GetByID(ctx, id)
		assert.True(t, got.Expired)
		assert.False(t, got.Active)
		if got.DeviceSyncPending {
			pending++
		}
	}
	assert.Positive(t, pending, "disables cut off by the deadline stay pending")

	h.gw.disableDelay = 0
	synced, err := h.m.ResyncExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, pending, synced)
	for _, id := range ids {
		got, _ := h.store.GetByID(ctx, id)
		assert.False(t, got.DeviceSyncPending)
		assert.True(t, h.gw.credential(got.Identity).Disabled)
	}
}

func TestExpireSweep_StopsAtUnavailableDevice(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		_, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
		require.NoError(t, err)
	}
	h.clock.Advance(25 * time.Hour)
	h.gw.setErr("disable", fmt.Errorf("%w: dial tcp: i/o timeout", gateway.ErrDeviceUnavailable))

	n, err := h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, h.gw.count("disable"))

	pending, err := h.store.ListDeviceSyncPending(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, pending, 4)

	synced, err := h.m.ResyncExpired(ctx)
	assert.ErrorIs(t, err, gateway.ErrDeviceUnavailable)
	assert.Zero(t, synced)
	assert.Equal(t, 2, h.gw.count("disable"))

	h.gw.setErr("disable", nil)
	synced, err = h.m.ResyncExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, synced)
}

func TestRetryProvision_KeepsSuspendedAccountDisabled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.setErr("create", errors.New("boom"))
	_, err := h.m.Provision(ctx, Spec{Identity: "lobby02"})
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)

	_, err = h.m.Disable(ctx, perr.AccountID)
	require.NoError(t, err)

	h.gw.setErr("create", nil)
	a, err := h.m.RetryProvision(ctx, perr.AccountID)
	require.NoError(t, err)
	assert.False(t, a.Active)
	assert.True(t, a.Suspended)
	assert.NotEmpty(t, a.ExternalRef)
	assert.True(t, h.gw.lastSpec.Disabled)
	assert.True(t, h.gw.credential("lobby02").Disabled)

	stored, _ := h.store.GetByID(ctx, a.ID)
	assert.Equal(t, domain.StateDisabled, stored.State(h.clock.Now()))

	got, err := h.m.Enable(ctx, a.ID)
	require.NoError(t, err)
	assert.True(t, got.Active)
	assert.False(t, got.Suspended)
	assert.False(t, h.gw.credential("lobby02").Disabled)
}

func TestRetryProvision_SuspendedAdoptsAndDisables(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.setErr("create", errors.New("boom"))
	_, err := h.m.Provision(ctx, Spec{Identity: "lobby03"})
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)
	_, err = h.m.Disable(ctx, perr.AccountID)
	require.NoError(t, err)

	// An earlier partial attempt left the credential enabled on the router.
	h.gw.creds["lobby03"] = &gateway.Credential{ExternalRef: "*BB", Name: "lobby03"}

	a, err := h.m.RetryProvision(ctx, perr.AccountID)
	require.NoError(t, err)
	assert.Equal(t, "*BB", a.ExternalRef)
	assert.False(t, a.Active)
	assert.True(t, h.gw.credential("lobby03").Disabled)
}

func TestDelete(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.m.Delete(ctx, "missing"), domain.ErrAccountNotFound)

	a, err := h.m.Provision(ctx, Spec{})
	require.NoError(t, err)

	// Router failure does not block removal from the store.
	h.gw.setErr("delete", errors.New("boom"))
	require.NoError(t, h.m.Delete(ctx, a.ID))
	got, err := h.store.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDisableEnable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration7d})
	require.NoError(t, err)

	got, err := h.m.Disable(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisabled, got.State(h.clock.Now()))
	assert.True(t, h.gw.credential(a.Identity).Disabled)

	got, err = h.m.Enable(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, got.State(h.clock.Now()))
	assert.False(t, h.gw.credential(a.Identity).Disabled)

	// Router failure is reported after the store is updated.
	h.gw.setErr("disable", errors.New("boom"))
	_, err = h.m.Disable(ctx, a.ID)
	require.Error(t, err)
	stored, _ := h.store.GetByID(ctx, a.ID)
	assert.False(t, stored.Active)
}

func TestEnable_ExpiredNeverRevived(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a, err := h.m.Provision(ctx, Spec{Duration: domain.Duration24h})
	require.NoError(t, err)

	h.clock.Advance(25 * time.Hour)
	_, err = h.m.Enable(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrAccountExpired)

	_, err = h.m.ExpireSweep(ctx)
	require.NoError(t, err)
	_, err = h.m.Enable(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrAccountExpired)
	_, err = h.m.Disable(ctx, a.ID)
	assert.ErrorIs(t, err, domain.ErrAccountExpired)
}

func TestEnable_NotProvisioned(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.setErr("create", errors.New("boom"))
	_, err := h.m.Provision(ctx, Spec{})
	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)

	_, err = h.m.Enable(ctx, perr.AccountID)
	assert.ErrorIs(t, err, domain.ErrNotProvisioned)
}
