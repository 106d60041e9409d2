package bandwidth

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"cdr.dev/slog/sloggers/slogtest"
	"github.com/coder/quartz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/gateway"
)

type stubLister struct {
	snaps []gateway.SessionSnapshot
	err   error
}

func (s *stubLister) ListActiveSessions(context.Context) ([]gateway.SessionSnapshot, error) {
	return s.snaps, s.err
}

type stubAccounts map[string]*domain.Account

func (s stubAccounts) GetByIdentity(_ context.Context, identity string) (*domain.Account, error) {
	return s[identity], nil
}

func TestMonitor_RealTimeSortedByTotal(t *testing.T) {
	ctx := context.Background()
	clk := quartz.NewMock(t)
	lister := &stubLister{snaps: []gateway.SessionSnapshot{
		snap("*1", 10, 10),
		snap("*2", 5000, 5000),
		snap("*3", 300, 300),
	}}
	m := NewMonitor(lister, NewEstimator(time.Minute, 100), nil, clk, slogtest.Make(t, nil))

	usage, err := m.RealTime(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 3)
	assert.Equal(t, []string{"*2", "*3", "*1"}, []string{usage[0].ExternalID, usage[1].ExternalID, usage[2].ExternalID})

	lister.snaps = []gateway.SessionSnapshot{snap("*2", 15000, 5000)}
	clk.Advance(10 * time.Second).MustWait(ctx)
	usage, err = m.RealTime(ctx)
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.InDelta(t, 1000, usage[0].InRate, 1e-9)
}

func TestMonitor_StatsTopTenWithAccounts(t *testing.T) {
	ctx := context.Background()
	var snaps []gateway.SessionSnapshot
	for i := 1; i <= 12; i++ {
		snaps = append(snaps, gateway.SessionSnapshot{
			ExternalID: fmt.Sprintf("*%d", i),
			Identity:   fmt.Sprintf("etu%04d", i),
			BytesIn:    int64(i) * 100,
			BytesOut:   int64(i) * 100,
		})
	}
	accounts := stubAccounts{"etu0012": {ID: "acc-12"}}
	m := NewMonitor(&stubLister{snaps: snaps}, NewEstimator(time.Minute, 100), accounts, quartz.NewMock(t), slogtest.Make(t, nil))

	st, err := m.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 12, st.ActiveUsers)
	assert.Equal(t, int64(7800), st.TotalBytesIn)
	assert.Equal(t, int64(7800), st.TotalBytesOut)
	assert.Equal(t, int64(15600), st.TotalBytes)
	assert.Equal(t, int64(1300), st.AveragePerUser)
	require.Len(t, st.Top, 10)
	assert.Equal(t, "etu0012", st.Top[0].Identity)
	assert.Equal(t, "acc-12", st.Top[0].AccountID)
	assert.Empty(t, st.Top[1].AccountID)
	assert.Equal(t, "etu0003", st.Top[9].Identity)
}

func TestMonitor_EmptyLiveSet(t *testing.T) {
	m := NewMonitor(&stubLister{}, NewEstimator(time.Minute, 100), nil, quartz.NewMock(t), slogtest.Make(t, nil))
	st, err := m.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, st.ActiveUsers)
	assert.Zero(t, st.AveragePerUser)
	assert.Empty(t, st.Top)
	assert.Equal(t, "0 B", st.TotalHuman)
}

func TestMonitor_ListErrorPropagates(t *testing.T) {
	m := NewMonitor(&stubLister{err: gateway.ErrDeviceUnavailable}, NewEstimator(time.Minute, 100), nil, quartz.NewMock(t), slogtest.Make(t, nil))
	_, err := m.Stats(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, gateway.ErrDeviceUnavailable))
}
