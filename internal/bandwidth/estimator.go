// Package bandwidth derives per-session throughput from the router's cumulative byte counters.
package bandwidth

import (
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/patrickmn/go-cache"

	"hotspot-control-plane/backend/internal/gateway"
)

// minElapsed stands in for elapsed time when two observations are closer than this.
const minElapsed = time.Millisecond

// Speed returns bytes per second between two counter readings taken elapsed apart.
// Counter decreases and non-positive elapsed (clock skew) yield 0.
func Speed(current, previous int64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	delta := current - previous
	if delta <= 0 {
		return 0
	}
	if elapsed < minElapsed {
		elapsed = minElapsed
	}
	return float64(delta) / elapsed.Seconds()
}

type sample struct {
	bytesIn  int64
	bytesOut int64
	at       time.Time
}

// Usage is one live session with derived rates.
type Usage struct {
	ExternalID string
	Identity   string
	Address    string
	MACAddress string
	BytesIn    int64
	BytesOut   int64
	TotalBytes int64
	// InRate and OutRate are bytes per second since the previous observation; 0 on first sight.
	InRate  float64
	OutRate float64
	Uptime  time.Duration

	BytesInHuman  string
	BytesOutHuman string
	TotalHuman    string
}

// Estimator keeps the last counter sample per router session id.
// Samples expire after ttl without a refresh, and at most max sessions are tracked.
type Estimator struct {
	mu      sync.Mutex
	samples *cache.Cache
	max     int
}

// NewEstimator returns an Estimator. max <= 0 means 10000.
func NewEstimator(ttl time.Duration, max int) *Estimator {
	if max <= 0 {
		max = 10000
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Estimator{samples: cache.New(ttl, ttl), max: max}
}

// Observe computes usage for the live set at time at, records new samples,
// and forgets every session that is not in snaps.
func (e *Estimator) Observe(snaps []gateway.SessionSnapshot, at time.Time) []Usage {
	e.mu.Lock()
	defer e.mu.Unlock()

	live := make(map[string]struct{}, len(snaps))
	out := make([]Usage, 0, len(snaps))
	for _, s := range snaps {
		if s.ExternalID == "" {
			continue
		}
		if _, dup := live[s.ExternalID]; dup {
			continue
		}
		live[s.ExternalID] = struct{}{}

		u := newUsage(s)
		if v, ok := e.samples.Get(s.ExternalID); ok {
			prev := v.(sample)
			elapsed := at.Sub(prev.at)
			u.InRate = Speed(s.BytesIn, prev.bytesIn, elapsed)
			u.OutRate = Speed(s.BytesOut, prev.bytesOut, elapsed)
			e.samples.Set(s.ExternalID, sample{bytesIn: s.BytesIn, bytesOut: s.BytesOut, at: at}, cache.DefaultExpiration)
		} else if e.samples.ItemCount() < e.max {
			e.samples.Set(s.ExternalID, sample{bytesIn: s.BytesIn, bytesOut: s.BytesOut, at: at}, cache.DefaultExpiration)
		}
		out = append(out, u)
	}

	for id := range e.samples.Items() {
		if _, ok := live[id]; !ok {
			e.samples.Delete(id)
		}
	}
	return out
}

// Len is the number of tracked sessions.
func (e *Estimator) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.samples.ItemCount()
}

// Reset drops all samples.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.samples.Flush()
}

func newUsage(s gateway.SessionSnapshot) Usage {
	total := s.BytesIn + s.BytesOut
	return Usage{
		ExternalID:    s.ExternalID,
		Identity:      s.Identity,
		Address:       s.Address,
		MACAddress:    s.MACAddress,
		BytesIn:       s.BytesIn,
		BytesOut:      s.BytesOut,
		TotalBytes:    total,
		Uptime:        s.Uptime,
		BytesInHuman:  FormatBytes(s.BytesIn),
		BytesOutHuman: FormatBytes(s.BytesOut),
		TotalHuman:    FormatBytes(total),
	}
}

// FormatBytes renders n as IEC units (e.g. "1.5 MiB"). Negative values render as "0 B".
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	return humanize.IBytes(uint64(n))
}

// FormatRate renders bytes per second as bits per second (e.g. "2.1 Mbps").
func FormatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 bps"
	}
	return humanize.SIWithDigits(bytesPerSecond*8, 1, "bps")
}
