package orderbook

import (
	"fmt"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/auth"
	"github.com/uhyunpark/marketstake/pkg/util"
)

// Markets resolves the market an order was placed on
type Markets interface {
	Get(id core.ID) (market.Market, error)
}

// Ledgers are the client-side and provider-side balance books.
// Both may be the same instance.
type Ledgers struct {
	Client   *ledger.Ledger
	Provider *ledger.Ledger
}

func (l Ledgers) of(r Role) *ledger.Ledger {
	if r == ProviderRole {
		return l.Provider
	}
	return l.Client
}

type ConfirmResult struct {
	Order     Order
	Roles     []Role
	Activated bool
}

type CompleteResult struct {
	Order   Order
	Roles   []Role
	Settled bool
	Cost    *uint256.Int // set when Settled
}

type CancelResult struct {
	Order   Order
	Roles   []Role
	Charged bool // false when the order was cancelled before activation
	Payer   Role
	Forced  bool // the market was shut down, so the provider paid
}

type BilateralResult struct {
	Order    Order
	Roles    []Role
	Resolved bool
}

// Confirm sets the caller's confirmation flag(s). The confirmation that
// completes both flags locks both stakes and credits the provisional gains
// (fee to the client, 2*fee to the provider). On failure nothing changes,
// including the flag.
func (ob *OrderBook) Confirm(tok *auth.Token, led Ledgers, id core.ID, caller core.Identity) (ConfirmResult, error) {
	if err := ob.guard.Check(tok); err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, roles, err := ob.lookup(id, caller)
	if err != nil {
		return ConfirmResult{}, fmt.Errorf("confirm: %w", err)
	}
	if o.Active {
		return ConfirmResult{}, fmt.Errorf("confirm: order %s already active: %w", id.Hex(), core.ErrInvalidState)
	}

	for _, r := range roles {
		o.Confirmed[r] = true
	}
	res := ConfirmResult{Roles: roles}
	if both(o.Confirmed) {
		if err := ob.activate(tok, led, &o); err != nil {
			return ConfirmResult{}, fmt.Errorf("confirm: order %s: %w", id.Hex(), err)
		}
		res.Activated = true
	}
	ob.put(o)
	res.Order = o
	return res, nil
}

func (ob *OrderBook) activate(tok *auth.Token, led Ledgers, o *Order) error {
	for _, r := range []Role{ClientRole, ProviderRole} {
		if led.of(r).Pending(o.Party(r)).Lt(&o.Stake) {
			return fmt.Errorf("%s %s cannot cover stake %s: %w", r, o.Party(r).Hex(), o.Stake.Dec(), core.ErrInsufficientFunds)
		}
	}
	providerCredit, err := util.Add(&o.Fee, &o.Fee)
	if err != nil {
		return err
	}
	if err := led.Client.Lock(tok, o.Client, &o.Stake); err != nil {
		return err
	}
	if err := led.Provider.Lock(tok, o.Provider, &o.Stake); err != nil {
		return err
	}
	if err := led.Client.CreditGains(tok, o.Client, &o.Fee); err != nil {
		return err
	}
	if err := led.Provider.CreditGains(tok, o.Provider, providerCredit); err != nil {
		return err
	}
	o.Active = true
	return nil
}

// Complete records the caller's reading. Once both readings are given and
// agree under the book's tolerance policy, the order is filled at
// cost = price * FloorAverage(client, provider): both stakes are released,
// cost moves from client to provider, and the order is deleted.
// Readings may be revised until then.
func (ob *OrderBook) Complete(tok *auth.Token, led Ledgers, markets Markets, id core.ID, caller core.Identity, reading *uint256.Int) (CompleteResult, error) {
	if err := ob.guard.Check(tok); err != nil {
		return CompleteResult{}, fmt.Errorf("complete: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, roles, err := ob.lookup(id, caller)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("complete: %w", err)
	}
	if !o.Active {
		return CompleteResult{}, fmt.Errorf("complete: order %s not active: %w", id.Hex(), core.ErrInvalidState)
	}
	for _, r := range roles {
		o.Readings[r].Set(reading)
		o.Given[r] = true
	}
	res := CompleteResult{Order: o, Roles: roles}

	if !both(o.Given) {
		ob.put(o)
		return res, nil
	}
	m, err := markets.Get(o.MarketID)
	if err != nil {
		return CompleteResult{}, fmt.Errorf("complete: order %s: %w", id.Hex(), err)
	}
	if !ob.policy.Agrees(&m, &o.Readings[ClientRole], &o.Readings[ProviderRole]) {
		ob.put(o)
		return res, nil
	}

	cost, err := util.Mul(&o.Price, util.FloorAverage(&o.Readings[ClientRole], &o.Readings[ProviderRole]))
	if err != nil {
		return CompleteResult{}, fmt.Errorf("complete: order %s cost: %w", id.Hex(), err)
	}
	if err := ob.release(tok, led, &o); err != nil {
		return CompleteResult{}, fmt.Errorf("complete: order %s: %w", id.Hex(), err)
	}
	if err := led.Client.Transfer(tok, o.Client, cost, led.Provider, o.Provider); err != nil {
		return CompleteResult{}, fmt.Errorf("complete: order %s settlement: %w", id.Hex(), err)
	}
	ob.delete(id)
	res.Settled = true
	res.Cost = cost
	return res, nil
}

// Cancel cancels the order unilaterally. Before activation it is simply
// deleted. After activation the paying role forfeits fee to the other:
// the caller's role, the provider for a self-dealer, and always the provider
// once the market is shut down.
func (ob *OrderBook) Cancel(tok *auth.Token, led Ledgers, markets Markets, id core.ID, caller core.Identity) (CancelResult, error) {
	if err := ob.guard.Check(tok); err != nil {
		return CancelResult{}, fmt.Errorf("cancel: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, roles, err := ob.lookup(id, caller)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel: %w", err)
	}
	res := CancelResult{Order: o, Roles: roles}
	if !o.Active {
		ob.delete(id)
		return res, nil
	}

	m, err := markets.Get(o.MarketID)
	if err != nil {
		return CancelResult{}, fmt.Errorf("cancel: order %s: %w", id.Hex(), err)
	}
	payer := roles[len(roles)-1]
	if !m.Active {
		payer = ProviderRole
		res.Forced = true
	}
	if o.Stake.Lt(&o.Fee) {
		return CancelResult{}, fmt.Errorf("cancel: order %s stake %s below fee %s: %w",
			id.Hex(), o.Stake.Dec(), o.Fee.Dec(), core.ErrInvalidState)
	}
	// the fee leaves the payer's locked stake straight into the payee's pending
	payee := payer.Counterparty()
	if err := led.of(payer).UnlockTo(tok, o.Party(payer), &o.Fee, led.of(payee), o.Party(payee)); err != nil {
		return CancelResult{}, fmt.Errorf("cancel: order %s fee: %w", id.Hex(), err)
	}
	if err := releaseRole(tok, led, &o, payer, new(uint256.Int).Sub(&o.Stake, &o.Fee)); err != nil {
		return CancelResult{}, fmt.Errorf("cancel: order %s: %w", id.Hex(), err)
	}
	if err := releaseRole(tok, led, &o, payee, &o.Stake); err != nil {
		return CancelResult{}, fmt.Errorf("cancel: order %s: %w", id.Hex(), err)
	}
	ob.delete(id)
	res.Charged = true
	res.Payer = payer
	return res, nil
}

// BilateralCancel records the caller's wish for a no-fault cancel. When both
// roles have sought it, both stakes are released without fee and the order is
// deleted. Seeking again from the same role is not an error.
func (ob *OrderBook) BilateralCancel(tok *auth.Token, led Ledgers, id core.ID, caller core.Identity) (BilateralResult, error) {
	if err := ob.guard.Check(tok); err != nil {
		return BilateralResult{}, fmt.Errorf("bilateral cancel: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()

	o, roles, err := ob.lookup(id, caller)
	if err != nil {
		return BilateralResult{}, fmt.Errorf("bilateral cancel: %w", err)
	}
	if !o.Active {
		return BilateralResult{}, fmt.Errorf("bilateral cancel: order %s not active: %w", id.Hex(), core.ErrInvalidState)
	}
	for _, r := range roles {
		o.BilateralSeek[r] = true
	}
	res := BilateralResult{Order: o, Roles: roles}
	if !both(o.BilateralSeek) {
		ob.put(o)
		return res, nil
	}
	if err := ob.release(tok, led, &o); err != nil {
		return BilateralResult{}, fmt.Errorf("bilateral cancel: order %s: %w", id.Hex(), err)
	}
	ob.delete(id)
	res.Resolved = true
	return res, nil
}

// release returns both stakes to their owners' pending and clears the
// activation gains
func (ob *OrderBook) release(tok *auth.Token, led Ledgers, o *Order) error {
	for _, r := range []Role{ClientRole, ProviderRole} {
		if err := releaseRole(tok, led, o, r, &o.Stake); err != nil {
			return err
		}
	}
	return nil
}

// releaseRole unlocks amount of r's stake and clears r's activation gains
func releaseRole(tok *auth.Token, led Ledgers, o *Order, r Role, amount *uint256.Int) error {
	l, party := led.of(r), o.Party(r)
	if err := l.Unlock(tok, party, amount); err != nil {
		return err
	}
	_, err := l.ClearGains(tok, party)
	return err
}
