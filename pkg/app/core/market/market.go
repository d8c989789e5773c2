package market

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
)

// Variant selects how orders against a market are priced and settled
type Variant uint8

const (
	// Unmetered markets sell discrete units: quantity is a unit count
	Unmetered Variant = iota
	// Metered markets treat the order quantity as a pre-funded budget and
	// settle on two independently reported readings
	Metered
)

func (v Variant) String() string {
	switch v {
	case Unmetered:
		return "unmetered"
	case Metered:
		return "metered"
	default:
		return fmt.Sprintf("variant(%d)", uint8(v))
	}
}

// ParseVariant parses "metered" or "unmetered" (case-insensitive)
func ParseVariant(s string) (Variant, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "unmetered", "":
		return Unmetered, nil
	case "metered":
		return Metered, nil
	default:
		return 0, fmt.Errorf("unknown market variant %q", s)
	}
}

// Market is one provider's offer.
// Active starts true; shutdown is permanent.
type Market struct {
	ID        core.ID
	Provider  core.Identity
	Price     uint256.Int
	MinStake  uint256.Int // advisory, not enforced at order time
	StakeRate uint256.Int
	Tolerance uint256.Int // only consulted for metered markets
	Variant   Variant
	Active    bool
}

// Params is the mutable pricing configuration of a market
type Params struct {
	Price     *uint256.Int
	MinStake  *uint256.Int
	StakeRate *uint256.Int
	Tolerance *uint256.Int
}

// validate checks stakeRate >= 1 and that price*stakeRate fits the domain
func validate(price, stakeRate *uint256.Int) error {
	if stakeRate.Lt(uint256.NewInt(1)) {
		return fmt.Errorf("stake rate must be at least 1: %w", core.ErrInvalidState)
	}
	if _, overflow := new(uint256.Int).MulOverflow(price, stakeRate); overflow {
		return fmt.Errorf("price %s * stake rate %s: %w", price.Dec(), stakeRate.Dec(), core.ErrArithmeticOverflow)
	}
	return nil
}
