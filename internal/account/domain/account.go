package domain

import (
	"regexp"
	"time"
)

// DurationClass is the purchased validity of an account.
type DurationClass string

const (
	Duration24h       DurationClass = "24h"
	Duration48h       DurationClass = "48h"
	Duration7d        DurationClass = "7d"
	Duration30d       DurationClass = "30d"
	DurationUnlimited DurationClass = "unlimited"
)

// ParseDurationClass returns the class for s. Unknown values map to 24h, never to unlimited.
func ParseDurationClass(s string) DurationClass {
	d := DurationClass(s)
	if d.Valid() {
		return d
	}
	return Duration24h
}

// Valid reports whether d is one of the known classes.
func (d DurationClass) Valid() bool {
	switch d {
	case Duration24h, Duration48h, Duration7d, Duration30d, DurationUnlimited:
		return true
	}
	return false
}

// TTL is the validity window. Zero for unlimited; unknown classes behave as 24h.
func (d DurationClass) TTL() time.Duration {
	switch d {
	case Duration48h:
		return 48 * time.Hour
	case Duration7d:
		return 7 * 24 * time.Hour
	case Duration30d:
		return 30 * 24 * time.Hour
	case DurationUnlimited:
		return 0
	default:
		return 24 * time.Hour
	}
}

// LimitUptime is the router's limit-uptime value. "0" disables the limit.
func (d DurationClass) LimitUptime() string {
	switch d {
	case Duration48h:
		return "2d"
	case Duration7d:
		return "7d"
	case Duration30d:
		return "30d"
	case DurationUnlimited:
		return "0"
	default:
		return "1d"
	}
}

// ExpiresAt returns from+TTL, or nil for unlimited.
func (d DurationClass) ExpiresAt(from time.Time) *time.Time {
	if d == DurationUnlimited {
		return nil
	}
	t := from.Add(d.TTL())
	return &t
}

// BandwidthProfile is the rate cap tier; its value is also the router user profile name.
type BandwidthProfile string

const (
	Bandwidth1Mbps BandwidthProfile = "1mbps"
	Bandwidth2Mbps BandwidthProfile = "2mbps"
	Bandwidth5Mbps BandwidthProfile = "5mbps"
)

// ParseBandwidthProfile returns the profile for s. Unknown values map to 1mbps.
func ParseBandwidthProfile(s string) BandwidthProfile {
	b := BandwidthProfile(s)
	if b.Valid() {
		return b
	}
	return Bandwidth1Mbps
}

func (b BandwidthProfile) Valid() bool {
	switch b {
	case Bandwidth1Mbps, Bandwidth2Mbps, Bandwidth5Mbps:
		return true
	}
	return false
}

// RateLimit is the router rate-limit string (rx/tx) for the profile.
func (b BandwidthProfile) RateLimit() string {
	switch b {
	case Bandwidth2Mbps:
		return "2M/2M"
	case Bandwidth5Mbps:
		return "5M/5M"
	default:
		return "1M/1M"
	}
}

// DeviceProfile is the router user profile name.
func (b BandwidthProfile) DeviceProfile() string {
	if !b.Valid() {
		return string(Bandwidth1Mbps)
	}
	return string(b)
}

// State is the derived lifecycle state. A deleted account has no row.
type State string

const (
	StateProvisioning State = "provisioning"
	StateActive       State = "active"
	StateDisabled     State = "disabled"
	StateExpired      State = "expired"
)

// Limits on MaxDevices (router shared-users).
const (
	MinDevices     = 1
	MaxDevicesCap  = 10
	DefaultDevices = 1
)

// Account is a time-limited hotspot credential and its router counterpart.
type Account struct {
	ID         string
	Identity   string
	Secret     string
	Duration   DurationClass
	Bandwidth  BandwidthProfile
	MaxDevices int
	ExpiresAt  *time.Time // nil for unlimited
	Active     bool
	Expired    bool
	// Suspended is set by an operator disable and cleared by enable. A suspended account stays
	// inactive even when a late provisioning retry succeeds.
	Suspended bool
	// DeviceSyncPending marks an expired account whose router credential is not confirmed disabled.
	DeviceSyncPending bool
	// ExternalRef is the router's id for the user; empty until provisioned.
	ExternalRef string
	Comment     string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// State derives the lifecycle state at now.
func (a *Account) State(now time.Time) State {
	switch {
	case a.Expired:
		return StateExpired
	case a.ExternalRef == "":
		return StateProvisioning
	case a.ExpiresAt != nil && !a.ExpiresAt.After(now):
		return StateExpired
	case a.Active:
		return StateActive
	default:
		return StateDisabled
	}
}

// PastDue reports whether the account should be demoted by an expiration sweep at now.
func (a *Account) PastDue(now time.Time) bool {
	return a.Active && !a.Expired && a.ExpiresAt != nil && a.ExpiresAt.Before(now)
}

var identityPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{2,31}$`)

// ValidIdentity reports whether s can be used as a hotspot user name.
func ValidIdentity(s string) bool {
	return identityPattern.MatchString(s)
}
