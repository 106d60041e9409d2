package domain

import (
	"errors"
	"time"
)

// ErrActiveConflict is returned when another active session already holds the external id.
var ErrActiveConflict = errors.New("another active session has this external id")

// Session is one hotspot login as seen on the router, imported by the reconciler.
type Session struct {
	ID        string
	AccountID string
	// ExternalID is the router's id for the active entry. At most one active row per value.
	ExternalID string
	Address    string
	MACAddress string
	// BytesIn and BytesOut are cumulative and never decrease while the session is active.
	BytesIn  int64
	BytesOut int64
	// BytesInOffset and BytesOutOffset hold the router counter values folded in after a counter reset.
	// BytesIn - BytesInOffset is the last raw router value.
	BytesInOffset  int64
	BytesOutOffset int64
	ConnectedAt    time.Time
	DisconnectedAt *time.Time
	Active         bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// ApplyCounters stores new raw router counters. A raw value lower than the previous one means the
// router restarted its counter: the previous raw value is folded into the offset so the cumulative
// total stays monotonic. Reports whether either counter was re-baselined.
func (s *Session) ApplyCounters(rawIn, rawOut int64) (reset bool) {
	var resetIn, resetOut bool
	s.BytesIn, s.BytesInOffset, resetIn = rebase(s.BytesIn, s.BytesInOffset, rawIn)
	s.BytesOut, s.BytesOutOffset, resetOut = rebase(s.BytesOut, s.BytesOutOffset, rawOut)
	return resetIn || resetOut
}

func rebase(total, offset, raw int64) (int64, int64, bool) {
	if raw < 0 {
		raw = 0
	}
	prevRaw := total - offset
	if raw >= prevRaw {
		return offset + raw, offset, false
	}
	offset += prevRaw
	return offset + raw, offset, true
}

// TotalBytes is BytesIn + BytesOut.
func (s *Session) TotalBytes() int64 {
	return s.BytesIn + s.BytesOut
}
