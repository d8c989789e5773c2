package util

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
)

// FloorAverage returns floor((a+b)/2) without computing a+b:
// (a>>1) + (b>>1) + (a&b&1). FloorAverage(10, 15) = 5 + 7 + 0 = 12.
func FloorAverage(a, b *uint256.Int) *uint256.Int {
	ha := new(uint256.Int).Rsh(a, 1)
	hb := new(uint256.Int).Rsh(b, 1)
	carry := new(uint256.Int).And(a, b)
	carry.And(carry, uint256.NewInt(1))
	return ha.Add(ha, hb).Add(ha, carry)
}

// Mul returns a*b or an error wrapping core.ErrArithmeticOverflow.
func Mul(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%s * %s: %w", a.Dec(), b.Dec(), core.ErrArithmeticOverflow)
	}
	return z, nil
}

// Add returns a+b or an error wrapping core.ErrArithmeticOverflow.
func Add(a, b *uint256.Int) (*uint256.Int, error) {
	z, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, fmt.Errorf("%s + %s: %w", a.Dec(), b.Dec(), core.ErrArithmeticOverflow)
	}
	return z, nil
}

// AbsDiff returns |a-b|.
func AbsDiff(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int).Sub(b, a)
	}
	return new(uint256.Int).Sub(a, b)
}

// MaxUint256 returns 2^256-1.
func MaxUint256() *uint256.Int {
	return new(uint256.Int).Not(new(uint256.Int))
}
