package guard

import (
	"fmt"
	"strings"

	"github.com/MrEthical07/goGuard/ratelimit"
)

// ChargePolicy decides when a tier consumes quota.
type ChargePolicy uint8

const (
	// ChargeOnSuccess dry-runs the tier before the guarded work and reserves
	// only after it succeeded.
	ChargeOnSuccess ChargePolicy = iota
	// ChargeOnAttempt reserves before the guarded work runs.
	ChargeOnAttempt
)

func (p ChargePolicy) String() string {
	switch p {
	case ChargeOnSuccess:
		return "success"
	case ChargeOnAttempt:
		return "attempt"
	default:
		return fmt.Sprintf("ChargePolicy(%d)", uint8(p))
	}
}

// UnmarshalText accepts "success" and "attempt".
func (p *ChargePolicy) UnmarshalText(text []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(text))) {
	case "", "success", "on_success":
		*p = ChargeOnSuccess
	case "attempt", "on_attempt":
		*p = ChargeOnAttempt
	default:
		return fmt.Errorf("unknown charge policy %q", text)
	}
	return nil
}

// MarshalText renders the policy name.
func (p ChargePolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// TierConfig is one challenge tier: a counter configuration and when it charges.
type TierConfig struct {
	ratelimit.Config `yaml:",inline"`
	Policy           ChargePolicy `yaml:"policy"`
}

// Validate checks the counter configuration and the policy value.
func (c TierConfig) Validate() error {
	if c.Policy > ChargeOnAttempt {
		return fmt.Errorf("unknown charge policy %d", c.Policy)
	}
	return c.Config.Validate()
}
