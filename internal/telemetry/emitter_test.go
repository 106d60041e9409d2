package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-control-plane/backend/internal/telemetry/domain"
)

func TestMulti_FansOutAndCombinesErrors(t *testing.T) {
	ok := &mockEventEmitter{}
	bad1 := &mockEventEmitter{emitErr: errors.New("kafka down")}
	bad2 := &mockEventEmitter{emitErr: errors.New("audit insert failed")}
	m := NewMulti(ok, nil, bad1, bad2)
	require.Len(t, m, 3, "nil emitters are dropped")

	err := m.Emit(context.Background(), domain.NewEvent(domain.EventAccountExpired, "sweep", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kafka down")
	assert.Contains(t, err.Error(), "audit insert failed")
	assert.Equal(t, 1, ok.count())
	assert.Equal(t, 1, bad1.count())
	assert.Equal(t, 1, bad2.count())
}

func TestMulti_NoErrors(t *testing.T) {
	require.NoError(t, NewMulti().Emit(context.Background(), domain.NewEvent("x", "test", time.Now())))
	require.NoError(t, NewMulti(&mockEventEmitter{}).Emit(context.Background(), domain.NewEvent("x", "test", time.Now())))
}

func TestEvent_WithMetadata(t *testing.T) {
	e := domain.NewEvent(domain.EventReconcileCycle, "reconciler", time.Now()).WithMetadata(map[string]any{"closed": 3})
	assert.JSONEq(t, `{"closed":3}`, string(e.Metadata))
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, time.UTC, e.CreatedAt.Location())

	empty := domain.NewEvent("x", "test", time.Now()).WithMetadata(nil)
	assert.Nil(t, empty.Metadata)
}
