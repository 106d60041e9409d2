// Package tiers maps a payment amount to the account it buys.
package tiers

import (
	"context"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
)

// Tier is what an amount buys.
type Tier struct {
	Duration  accountdomain.DurationClass
	Bandwidth accountdomain.BandwidthProfile
}

// Resolver maps an amount (whole currency units) to a tier. It never fails; unknown input gets the lowest tier.
type Resolver interface {
	Resolve(ctx context.Context, amount int64) Tier
}

// Static is the built-in pricing table.
type Static struct{}

var _ Resolver = Static{}

func (Static) Resolve(_ context.Context, amount int64) Tier {
	switch {
	case amount >= 5000:
		return Tier{Duration: accountdomain.Duration30d, Bandwidth: accountdomain.Bandwidth5Mbps}
	case amount >= 2000:
		return Tier{Duration: accountdomain.Duration7d, Bandwidth: accountdomain.Bandwidth2Mbps}
	case amount >= 1000:
		return Tier{Duration: accountdomain.Duration48h, Bandwidth: accountdomain.Bandwidth2Mbps}
	default:
		return Tier{Duration: accountdomain.Duration24h, Bandwidth: accountdomain.Bandwidth1Mbps}
	}
}
