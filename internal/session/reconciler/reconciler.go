// Package reconciler imports the router's live session table into the session store.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"cdr.dev/slog"
	"github.com/coder/quartz"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/bandwidth"
	"hotspot-control-plane/backend/internal/gateway"
	"hotspot-control-plane/backend/internal/session/domain"
	"hotspot-control-plane/backend/internal/telemetry"
	telemetrydomain "hotspot-control-plane/backend/internal/telemetry/domain"
	telemetryotel "hotspot-control-plane/backend/internal/telemetry/otel"
)

const eventSource = "reconciler"

// SessionLister reads the router's active-session table.
type SessionLister interface {
	ListActiveSessions(ctx context.Context) ([]gateway.SessionSnapshot, error)
}

// Store is the session persistence the reconciler needs.
type Store interface {
	FindActiveByExternalID(ctx context.Context, externalID string) (*domain.Session, error)
	Save(ctx context.Context, s *domain.Session) error
	CloseActiveNotIn(ctx context.Context, liveIDs []string, at time.Time) (int, error)
}

// AccountLookup resolves a router user name to its account; nil, nil when unknown.
type AccountLookup interface {
	GetByIdentity(ctx context.Context, identity string) (*accountdomain.Account, error)
}

// SampleSink receives every successful listing so rate samples track the live set.
type SampleSink interface {
	Observe(snaps []gateway.SessionSnapshot, at time.Time) []bandwidth.Usage
}

// Result counts what one cycle did.
type Result struct {
	Created     int
	Updated     int
	Closed      int
	Skipped     int
	Rebaselined int
	Failed      int
}

// Options are the optional collaborators of a Reconciler.
type Options struct {
	Samples SampleSink
	Emitter telemetry.EventEmitter
	Metrics *telemetryotel.Metrics
	Tracer  trace.Tracer
}

// Reconciler runs reconcile cycles. Cycles must not overlap; the scheduler guarantees that.
type Reconciler struct {
	live     SessionLister
	store    Store
	accounts AccountLookup
	clock    quartz.Clock
	log      slog.Logger
	opts     Options
}

// New returns a Reconciler.
func New(live SessionLister, store Store, accounts AccountLookup, clock quartz.Clock, logger slog.Logger, opts Options) *Reconciler {
	if opts.Tracer == nil {
		opts.Tracer = telemetryotel.Tracer()
	}
	return &Reconciler{
		live:     live,
		store:    store,
		accounts: accounts,
		clock:    clock,
		log:      logger.Named("reconciler"),
		opts:     opts,
	}
}

// Reconcile runs one cycle: list the router's live sessions, update or create the matching
// active rows, then close every active row that left the live set.
// A listing failure aborts the cycle before any store write. Per-session failures are
// logged and counted; the cycle continues.
func (r *Reconciler) Reconcile(ctx context.Context) (Result, error) {
	var res Result
	started := r.clock.Now()
	ctx, span := r.opts.Tracer.Start(ctx, "session.reconcile")
	defer span.End()

	live, err := r.live.ListActiveSessions(ctx)
	if err != nil {
		r.opts.Metrics.RecordDeviceError(ctx, "list_sessions")
		r.finish(ctx, span, res, started, err)
		return res, fmt.Errorf("reconciler: list live sessions: %w", err)
	}
	now := r.clock.Now().UTC()
	if r.opts.Samples != nil {
		r.opts.Samples.Observe(live, now)
	}

	seen := make(map[string]struct{}, len(live))
	liveIDs := make([]string, 0, len(live))
	for _, snap := range live {
		if snap.ExternalID == "" {
			res.Skipped++
			continue
		}
		if _, dup := seen[snap.ExternalID]; dup {
			continue
		}
		seen[snap.ExternalID] = struct{}{}
		liveIDs = append(liveIDs, snap.ExternalID)

		if err := r.apply(ctx, snap, now, &res); err != nil {
			res.Failed++
			r.log.Error(ctx, "failed to reconcile session", slog.F("external_id", snap.ExternalID),
				slog.F("identity", snap.Identity), slog.Error(err))
		}
	}

	closed, err := r.store.CloseActiveNotIn(ctx, liveIDs, now)
	if err != nil {
		r.finish(ctx, span, res, started, err)
		return res, fmt.Errorf("reconciler: close departed sessions: %w", err)
	}
	res.Closed = closed
	if closed > 0 {
		r.emit(ctx, telemetrydomain.NewEvent(telemetrydomain.EventSessionsClosed, eventSource, now).
			WithMetadata(map[string]any{"count": closed}))
	}
	r.finish(ctx, span, res, started, nil)
	return res, nil
}

// apply updates the active row for snap or creates one for a known account.
func (r *Reconciler) apply(ctx context.Context, snap gateway.SessionSnapshot, now time.Time, res *Result) error {
	existing, err := r.store.FindActiveByExternalID(ctx, snap.ExternalID)
	if err != nil {
		return fmt.Errorf("find active session: %w", err)
	}
	if existing != nil {
		prevIn, prevOut := existing.BytesIn-existing.BytesInOffset, existing.BytesOut-existing.BytesOutOffset
		reset := existing.ApplyCounters(snap.BytesIn, snap.BytesOut)
		if snap.Address != "" {
			existing.Address = snap.Address
		}
		if snap.MACAddress != "" {
			existing.MACAddress = snap.MACAddress
		}
		existing.UpdatedAt = now
		if err := r.store.Save(ctx, existing); err != nil {
			return fmt.Errorf("save session %s: %w", existing.ID, err)
		}
		res.Updated++
		if reset {
			res.Rebaselined++
			r.log.Warn(ctx, "router counter went backwards, re-baselined",
				slog.F("session_id", existing.ID), slog.F("external_id", snap.ExternalID),
				slog.F("previous_in", prevIn), slog.F("current_in", snap.BytesIn),
				slog.F("previous_out", prevOut), slog.F("current_out", snap.BytesOut))
			ev := telemetrydomain.NewEvent(telemetrydomain.EventCounterReset, eventSource, now).
				WithMetadata(map[string]any{"previous_in": prevIn, "current_in": snap.BytesIn,
					"previous_out": prevOut, "current_out": snap.BytesOut})
			ev.AccountID = existing.AccountID
			ev.SessionID = existing.ID
			r.emit(ctx, ev)
		}
		return nil
	}

	account, err := r.accounts.GetByIdentity(ctx, snap.Identity)
	if err != nil {
		return fmt.Errorf("resolve identity: %w", err)
	}
	if account == nil {
		res.Skipped++
		r.log.Debug(ctx, "live session has no account", slog.F("identity", snap.Identity),
			slog.F("external_id", snap.ExternalID))
		return nil
	}
	s := &domain.Session{
		ID:          uuid.New().String(),
		AccountID:   account.ID,
		ExternalID:  snap.ExternalID,
		Address:     snap.Address,
		MACAddress:  snap.MACAddress,
		ConnectedAt: now,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.ApplyCounters(snap.BytesIn, snap.BytesOut)
	if err := r.store.Save(ctx, s); err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	res.Created++
	ev := telemetrydomain.NewEvent(telemetrydomain.EventSessionStarted, eventSource, now).
		WithMetadata(map[string]any{"external_id": snap.ExternalID, "address": snap.Address})
	ev.AccountID = account.ID
	ev.Identity = account.Identity
	ev.SessionID = s.ID
	r.emit(ctx, ev)
	return nil
}

func (r *Reconciler) finish(ctx context.Context, span trace.Span, res Result, started time.Time, err error) {
	elapsed := r.clock.Since(started)
	span.SetAttributes(
		attribute.Int("reconcile.created", res.Created),
		attribute.Int("reconcile.updated", res.Updated),
		attribute.Int("reconcile.closed", res.Closed),
		attribute.Int("reconcile.skipped", res.Skipped),
		attribute.Int("reconcile.failed", res.Failed),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	r.opts.Metrics.RecordReconcile(ctx, res.Created, res.Updated, res.Closed, res.Failed, res.Rebaselined,
		elapsed.Seconds(), err == nil)
	if err != nil {
		return
	}
	r.log.Debug(ctx, "reconcile cycle finished", slog.F("created", res.Created), slog.F("updated", res.Updated),
		slog.F("closed", res.Closed), slog.F("skipped", res.Skipped), slog.F("failed", res.Failed),
		slog.F("elapsed", elapsed))
	r.emit(ctx, telemetrydomain.NewEvent(telemetrydomain.EventReconcileCycle, eventSource, r.clock.Now()).
		WithMetadata(map[string]any{
			"created": res.Created, "updated": res.Updated, "closed": res.Closed,
			"skipped": res.Skipped, "rebaselined": res.Rebaselined, "failed": res.Failed,
		}))
}

func (r *Reconciler) emit(ctx context.Context, ev *telemetrydomain.Event) {
	if r.opts.Emitter == nil {
		return
	}
	telemetry.EmitAsync(ctx, r.log, r.opts.Emitter, ev)
}
