package audit

import (
	"context"
	"time"

	"cdr.dev/slog"
	"github.com/google/uuid"

	auditdomain "hotspot-control-plane/backend/internal/audit/domain"
	auditrepo "hotspot-control-plane/backend/internal/audit/repository"
	"hotspot-control-plane/backend/internal/telemetry"
	"hotspot-control-plane/backend/internal/telemetry/domain"
)

// SystemActor is recorded when an entry has no actor (e.g. scheduled sweeps).
const SystemActor = "_system"

// Logger persists audit entries. It is also an EventEmitter, so lifecycle events reach the audit trail
// through the same fan-out as Kafka and OTel.
type Logger struct {
	repo auditrepo.Repository
	log  slog.Logger
}

var _ telemetry.EventEmitter = (*Logger)(nil)

// NewLogger returns a Logger that persists to repo. repo may be nil; the logger is then a no-op.
func NewLogger(repo auditrepo.Repository, logger slog.Logger) *Logger {
	return &Logger{repo: repo, log: logger}
}

// LogEvent writes one audit log entry. Best-effort: errors are logged and not returned.
func (l *Logger) LogEvent(ctx context.Context, actorID, action, resource, resourceID, metadata string) {
	err := l.create(ctx, &auditdomain.AuditLog{
		ActorID:    actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Metadata:   metadata,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		l.log.Warn(ctx, "failed to write audit entry",
			slog.F("action", action), slog.F("resource", resource), slog.Error(err))
	}
}

// Emit records audited event types; other events are ignored.
func (l *Logger) Emit(ctx context.Context, event *domain.Event) error {
	if event == nil {
		return nil
	}
	ar, ok := ForEvent(event.Type)
	if !ok {
		return nil
	}
	actor := event.Actor
	if actor == "" {
		actor = event.Source
	}
	return l.create(ctx, &auditdomain.AuditLog{
		ActorID:    actor,
		Action:     ar.Action,
		Resource:   ar.Resource,
		ResourceID: resourceID(ar.Resource, event),
		Metadata:   string(event.Metadata),
		CreatedAt:  event.CreatedAt,
	})
}

func (l *Logger) create(ctx context.Context, entry *auditdomain.AuditLog) error {
	if l.repo == nil {
		return nil
	}
	entry.ID = uuid.New().String()
	if entry.ActorID == "" {
		entry.ActorID = SystemActor
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	return l.repo.Create(ctx, entry)
}
