package telemetry

import (
	"context"
	"time"

	"cdr.dev/slog"

	"hotspot-control-plane/backend/internal/telemetry/domain"
)

// emitTimeout is the max time allowed for a single async emit. Used by EmitAsync and by ShutdownDrainDuration.
const emitTimeout = 5 * time.Second

// ShutdownDrainDuration is how long to wait after the scheduler stops before shutting down OTel providers,
// so in-flight async emits have time to complete. Must be >= emitTimeout.
const ShutdownDrainDuration = emitTimeout

// EmitAsync runs Emit in a goroutine with a short timeout so the caller is not blocked; errors are logged.
//
// emitter and event may be nil; EmitAsync then returns without starting a goroutine.
// The goroutine keeps ctx values but not its cancellation, so a finished job does not abort the emit.
func EmitAsync(ctx context.Context, logger slog.Logger, emitter EventEmitter, event *domain.Event) {
	if emitter == nil || event == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	go func() {
		emitCtx, cancel := context.WithTimeout(base, emitTimeout)
		defer cancel()
		if err := emitter.Emit(emitCtx, event); err != nil {
			logger.Warn(emitCtx, "async emit failed", slog.F("event_type", event.Type), slog.Error(err))
		}
	}()
}
