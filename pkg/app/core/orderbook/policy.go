package orderbook

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/util"
)

// ToleranceMode decides whether a market variant compares the two readings
// against the market tolerance before settling
type ToleranceMode uint8

const (
	// ToleranceEnforce settles only when |client - provider| <= tolerance.
	// A tolerance of 0 requires equal readings.
	ToleranceEnforce ToleranceMode = iota
	// ToleranceBypass settles as soon as both readings are given
	ToleranceBypass
)

func (m ToleranceMode) String() string {
	if m == ToleranceBypass {
		return "bypass"
	}
	return "enforce"
}

// ParseToleranceMode parses "enforce" or "bypass"
func ParseToleranceMode(s string) (ToleranceMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "enforce":
		return ToleranceEnforce, nil
	case "bypass":
		return ToleranceBypass, nil
	default:
		return 0, fmt.Errorf("unknown tolerance mode %q", s)
	}
}

// Policy holds the tolerance mode of each market variant
type Policy struct {
	Unmetered ToleranceMode
	Metered   ToleranceMode
}

// DefaultPolicy enforces tolerance on metered markets only
func DefaultPolicy() Policy {
	return Policy{Unmetered: ToleranceBypass, Metered: ToleranceEnforce}
}

// Mode returns the tolerance mode for variant v
func (p Policy) Mode(v market.Variant) ToleranceMode {
	if v == market.Metered {
		return p.Metered
	}
	return p.Unmetered
}

// Agrees reports whether the readings are close enough to settle on m
func (p Policy) Agrees(m *market.Market, client, provider *uint256.Int) bool {
	if p.Mode(m.Variant) == ToleranceBypass {
		return true
	}
	return !util.AbsDiff(client, provider).Gt(&m.Tolerance)
}
