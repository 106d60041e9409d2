package tiers

import (
	"context"
	"fmt"
	"os"

	"cdr.dev/slog"
	"github.com/open-policy-agent/opa/v1/rego"

	accountdomain "hotspot-control-plane/backend/internal/account/domain"
)

const tierQuery = "data.hotspot.pricing.tier"

// DefaultPolicy is the built-in pricing table as Rego. A replacement must define
// data.hotspot.pricing.tier as an object with "duration" and "bandwidth" strings.
const DefaultPolicy = `package hotspot.pricing

default tier = {"duration": "24h", "bandwidth": "1mbps"}

tier = {"duration": "30d", "bandwidth": "5mbps"} if {
	input.amount >= 5000
}

tier = {"duration": "7d", "bandwidth": "2mbps"} if {
	input.amount >= 2000
	input.amount < 5000
}

tier = {"duration": "48h", "bandwidth": "2mbps"} if {
	input.amount >= 1000
	input.amount < 2000
}
`

// OPA evaluates the pricing table as a Rego policy, falling back to the static table when
// evaluation fails or returns something unusable.
type OPA struct {
	query    rego.PreparedEvalQuery
	fallback Static
	log      slog.Logger
}

var _ Resolver = (*OPA)(nil)

// NewOPA compiles policy (DefaultPolicy when empty).
func NewOPA(ctx context.Context, policy string, logger slog.Logger) (*OPA, error) {
	if policy == "" {
		policy = DefaultPolicy
	}
	q, err := rego.New(
		rego.Query(tierQuery),
		rego.Module("pricing.rego", policy),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("tiers: compile pricing policy: %w", err)
	}
	return &OPA{query: q, log: logger.Named("tiers")}, nil
}

// LoadOPA reads the policy from path; an empty path uses DefaultPolicy.
func LoadOPA(ctx context.Context, path string, logger slog.Logger) (*OPA, error) {
	if path == "" {
		return NewOPA(ctx, "", logger)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("tiers: read pricing policy: %w", err)
	}
	return NewOPA(ctx, string(b), logger)
}

func (o *OPA) Resolve(ctx context.Context, amount int64) Tier {
	tier, err := o.eval(ctx, amount)
	if err != nil {
		o.log.Warn(ctx, "pricing policy evaluation failed, using built-in table",
			slog.F("amount", amount), slog.Error(err))
		return o.fallback.Resolve(ctx, amount)
	}
	return tier
}

// HealthCheck evaluates the policy once for a known amount.
func (o *OPA) HealthCheck(ctx context.Context) error {
	_, err := o.eval(ctx, 0)
	return err
}

func (o *OPA) eval(ctx context.Context, amount int64) (Tier, error) {
	rs, err := o.query.Eval(ctx, rego.EvalInput(map[string]any{"amount": amount}))
	if err != nil {
		return Tier{}, err
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return Tier{}, fmt.Errorf("tiers: policy returned no result")
	}
	obj, ok := rs[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Tier{}, fmt.Errorf("tiers: policy result is %T, want object", rs[0].Expressions[0].Value)
	}
	duration, _ := obj["duration"].(string)
	bandwidth, _ := obj["bandwidth"].(string)
	t := Tier{
		Duration:  accountdomain.DurationClass(duration),
		Bandwidth: accountdomain.BandwidthProfile(bandwidth),
	}
	if !t.Duration.Valid() || !t.Bandwidth.Valid() {
		return Tier{}, fmt.Errorf("tiers: policy returned unknown tier %q/%q", duration, bandwidth)
	}
	return t, nil
}
