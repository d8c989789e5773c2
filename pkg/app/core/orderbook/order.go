package orderbook

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
)

// Role is one side of an order. Per-role order state is indexed by Role.
type Role uint8

const (
	ClientRole Role = iota
	ProviderRole
)

func (r Role) String() string {
	if r == ProviderRole {
		return "provider"
	}
	return "client"
}

// Counterparty returns the other role
func (r Role) Counterparty() Role {
	return 1 - r
}

// Order is an in-flight order. A deleted or never-created order reads as the
// zero Order; use Book.Exists to tell the two apart from an all-zero order.
type Order struct {
	ID       core.ID
	MarketID core.ID
	Client   core.Identity
	Provider core.Identity // snapshot of the market's provider

	Price    uint256.Int // snapshot of the market price at creation
	Stake    uint256.Int
	Fee      uint256.Int
	Quantity uint256.Int

	Active        bool // both roles confirmed and stakes are locked
	Confirmed     [2]bool
	Readings      [2]uint256.Int
	Given         [2]bool // sticky once set
	BilateralSeek [2]bool
}

// Party returns the identity acting in role r
func (o *Order) Party(r Role) core.Identity {
	if r == ProviderRole {
		return o.Provider
	}
	return o.Client
}

// rolesOf returns the roles caller plays in the order: none for a third
// party, both for a self-dealer.
func (o *Order) rolesOf(caller core.Identity) []Role {
	var roles []Role
	if caller == o.Client {
		roles = append(roles, ClientRole)
	}
	if caller == o.Provider {
		roles = append(roles, ProviderRole)
	}
	return roles
}

func both(flags [2]bool) bool {
	return flags[ClientRole] && flags[ProviderRole]
}
