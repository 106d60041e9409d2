package bandwidth

import (
	"context"
	"fmt"
	"sort"

	"cdr.dev/slog"
	"github.com/coder/quartz"

	"hotspot-control-plane/backend/internal/account/domain"
	"hotspot-control-plane/backend/internal/gateway"
)

// topUsers is the number of sessions reported in Stats.Top.
const topUsers = 10

// SessionLister is the gateway subset the monitor needs.
type SessionLister interface {
	ListActiveSessions(ctx context.Context) ([]gateway.SessionSnapshot, error)
}

// AccountLookup resolves a router identity to its account, or nil if unknown.
type AccountLookup interface {
	GetByIdentity(ctx context.Context, identity string) (*domain.Account, error)
}

// TopUser is one entry of the heaviest sessions.
type TopUser struct {
	Identity   string
	AccountID  string // empty when the identity has no account
	TotalBytes int64
	TotalHuman string
	InRate     float64
	OutRate    float64
}

// Stats aggregates the live set.
type Stats struct {
	ActiveUsers    int
	TotalBytesIn   int64
	TotalBytesOut  int64
	TotalBytes     int64
	AveragePerUser int64
	TotalHuman     string
	AverageHuman   string
	Top            []TopUser
}

// Monitor reports live usage from the router through the shared Estimator.
type Monitor struct {
	sessions SessionLister
	est      *Estimator
	accounts AccountLookup
	clock    quartz.Clock
	log      slog.Logger
}

// NewMonitor returns a Monitor. accounts may be nil; Top entries then carry no account id.
func NewMonitor(sessions SessionLister, est *Estimator, accounts AccountLookup, clock quartz.Clock, logger slog.Logger) *Monitor {
	return &Monitor{sessions: sessions, est: est, accounts: accounts, clock: clock, log: logger.Named("bandwidth")}
}

// RealTime polls the router and returns usage sorted by total bytes, heaviest first.
func (m *Monitor) RealTime(ctx context.Context) ([]Usage, error) {
	snaps, err := m.sessions.ListActiveSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("bandwidth: list active sessions: %w", err)
	}
	usage := m.est.Observe(snaps, m.clock.Now())
	sort.SliceStable(usage, func(i, j int) bool { return usage[i].TotalBytes > usage[j].TotalBytes })
	return usage, nil
}

// Stats summarizes RealTime: totals, average per user and the ten heaviest sessions.
func (m *Monitor) Stats(ctx context.Context) (*Stats, error) {
	usage, err := m.RealTime(ctx)
	if err != nil {
		return nil, err
	}
	return m.summarize(ctx, usage), nil
}

func (m *Monitor) summarize(ctx context.Context, usage []Usage) *Stats {
	st := &Stats{ActiveUsers: len(usage)}
	for _, u := range usage {
		st.TotalBytesIn += u.BytesIn
		st.TotalBytesOut += u.BytesOut
	}
	st.TotalBytes = st.TotalBytesIn + st.TotalBytesOut
	if st.ActiveUsers > 0 {
		st.AveragePerUser = st.TotalBytes / int64(st.ActiveUsers)
	}
	st.TotalHuman = FormatBytes(st.TotalBytes)
	st.AverageHuman = FormatBytes(st.AveragePerUser)

	n := min(len(usage), topUsers)
	st.Top = make([]TopUser, 0, n)
	for _, u := range usage[:n] {
		top := TopUser{
			Identity:   u.Identity,
			TotalBytes: u.TotalBytes,
			TotalHuman: u.TotalHuman,
			InRate:     u.InRate,
			OutRate:    u.OutRate,
		}
		if m.accounts != nil && u.Identity != "" {
			acc, err := m.accounts.GetByIdentity(ctx, u.Identity)
			if err != nil {
				m.log.Warn(ctx, "resolve top user", slog.F("identity", u.Identity), slog.Error(err))
			} else if acc != nil {
				top.AccountID = acc.ID
			}
		}
		st.Top = append(st.Top, top)
	}
	return st
}
