package telemetry

import (
	"context"

	"github.com/hashicorp/go-multierror"

	"hotspot-control-plane/backend/internal/telemetry/domain"
)

// EventEmitter emits events (e.g. to Kafka, OTel Logs or the audit table). Best-effort; callers log and ignore errors.
type EventEmitter interface {
	Emit(ctx context.Context, event *domain.Event) error
}

// Multi fans an event out to every emitter and combines their errors.
type Multi []EventEmitter

// NewMulti drops nil emitters.
func NewMulti(emitters ...EventEmitter) Multi {
	out := make(Multi, 0, len(emitters))
	for _, e := range emitters {
		if e != nil {
			out = append(out, e)
		}
	}
	return out
}

func (m Multi) Emit(ctx context.Context, event *domain.Event) error {
	var merr *multierror.Error
	for _, e := range m {
		if err := e.Emit(ctx, event); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	return merr.ErrorOrNil()
}
