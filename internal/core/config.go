package core

import (
	"fmt"

	"TaniLedger/internal/ledger"
	fpmath "TaniLedger/internal/math"
)

const defaultLRUCapacity = 1_000_000

// Config is the protocol configuration injected into the core. Nothing in the
// core reads globals; tests build independent cores from their own Config.
type Config struct {
	// Platform fee on marketplace purchases, 0..10000
	PlatformFeeBps int64

	// Identity credited with platform fees
	FeeCollector string

	// Identities allowed to verify assets
	Verifiers []string

	// Accepted payment tokens. The first one is the primary token: assets and
	// loans are denominated in it.
	PaymentTokens []string

	// Tier-1 dedup capacity (default 1M)
	IdempotencyLRUCapacity int
}

// Validate checks the configuration and returns it normalized.
func (c Config) Validate() (Config, error) {
	if c.PlatformFeeBps < 0 || c.PlatformFeeBps > fpmath.BpsDenominator {
		return c, fmt.Errorf("platform fee bps %d outside [0, %d]", c.PlatformFeeBps, fpmath.BpsDenominator)
	}

	c.FeeCollector = ledger.NormalizeIdentity(c.FeeCollector)
	if c.FeeCollector == "" {
		return c, fmt.Errorf("fee collector is required")
	}

	verifiers := make([]string, 0, len(c.Verifiers))
	for _, v := range c.Verifiers {
		if v = ledger.NormalizeIdentity(v); v != "" {
			verifiers = append(verifiers, v)
		}
	}
	c.Verifiers = verifiers

	tokens := make([]string, 0, len(c.PaymentTokens))
	seen := make(map[string]bool, len(c.PaymentTokens))
	for _, t := range c.PaymentTokens {
		t = ledger.NormalizeToken(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return c, fmt.Errorf("at least one payment token is required")
	}
	c.PaymentTokens = tokens

	if c.IdempotencyLRUCapacity <= 0 {
		c.IdempotencyLRUCapacity = defaultLRUCapacity
	}

	return c, nil
}

// PrimaryToken is the token assets and loans are denominated in.
func (c Config) PrimaryToken() string {
	if len(c.PaymentTokens) == 0 {
		return ""
	}
	return c.PaymentTokens[0]
}
