// Package orderbook keeps the in-flight orders placed against markets and
// runs their lifecycle: confirmation, activation, and the settlement paths
// (fill, unilateral cancel, bilateral cancel, shutdown-forced cancel).
package orderbook

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/journal"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/auth"
	"github.com/uhyunpark/marketstake/pkg/util"
)

const idTag = "order"

// Entry is one order's state as reported by Changes.
// Exists is false for an order deleted by the operation.
type Entry struct {
	ID     core.ID
	Order  Order
	Exists bool
}

type OrderBook struct {
	mu     sync.RWMutex
	guard  *auth.Guard
	policy Policy
	orders map[core.ID]Order
	seq    uint64

	journal  *journal.Journal[core.ID, Order]
	seqSaved uint64
}

// NewOrderBook creates an empty book owned by owner
func NewOrderBook(policy Policy, owner *auth.Token) *OrderBook {
	return &OrderBook{
		guard:   auth.NewGuard(owner),
		policy:  policy,
		orders:  make(map[core.ID]Order),
		journal: journal.New[core.ID, Order](),
	}
}

// Guard exposes the capability guard so bootstrap can hand the book over
func (ob *OrderBook) Guard() *auth.Guard { return ob.guard }

func (ob *OrderBook) Policy() Policy { return ob.policy }

// Exists reports whether the order is live
func (ob *OrderBook) Exists(id core.ID) bool {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	_, ok := ob.orders[id]
	return ok
}

// Get returns the order, or the zero Order if it does not exist
func (ob *OrderBook) Get(id core.ID) Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.orders[id]
}

func (ob *OrderBook) Confirmations(id core.ID) [2]bool { return ob.Get(id).Confirmed }

func (ob *OrderBook) Readings(id core.ID) [2]uint256.Int { return ob.Get(id).Readings }

func (ob *OrderBook) Given(id core.ID) [2]bool { return ob.Get(id).Given }

func (ob *OrderBook) BilateralSought(id core.ID) [2]bool { return ob.Get(id).BilateralSeek }

// List returns live orders sorted by ID. A zero marketID lists every market.
func (ob *OrderBook) List(marketID core.ID) []Order {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	out := make([]Order, 0, len(ob.orders))
	for _, o := range ob.orders {
		if marketID != (core.ID{}) && o.MarketID != marketID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Sequence returns the number of orders ever created
func (ob *OrderBook) Sequence() uint64 {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.seq
}

// Amounts derives stake and fee for quantity on market m.
//
// Unmetered: fee = price*quantity, stake = fee*stakeRate.
// Metered:   fee = quantity (a pre-funded budget), stake = quantity*stakeRate.
//
// The provider's activation credit (2*fee) must also fit the domain.
func Amounts(m *market.Market, quantity *uint256.Int) (stake, fee *uint256.Int, err error) {
	if m.Variant == market.Metered {
		fee = quantity.Clone()
		stake, err = util.Mul(quantity, &m.StakeRate)
	} else {
		fee, err = util.Mul(&m.Price, quantity)
		if err == nil {
			stake, err = util.Mul(fee, &m.StakeRate)
		}
	}
	if err != nil {
		return nil, nil, err
	}
	if _, err := util.Add(fee, fee); err != nil {
		return nil, nil, err
	}
	return stake, fee, nil
}

// Create places a new unconfirmed order by client against m
func (ob *OrderBook) Create(tok *auth.Token, m *market.Market, client core.Identity, quantity *uint256.Int) (core.ID, error) {
	if err := ob.guard.Check(tok); err != nil {
		return core.ID{}, fmt.Errorf("create order: %w", err)
	}
	if !m.Active {
		return core.ID{}, fmt.Errorf("create order: market %s is shut down: %w", m.ID.Hex(), core.ErrInvalidState)
	}
	stake, fee, err := Amounts(m, quantity)
	if err != nil {
		return core.ID{}, fmt.Errorf("create order on market %s: %w", m.ID.Hex(), err)
	}

	ob.mu.Lock()
	defer ob.mu.Unlock()

	ob.seq++
	o := Order{
		ID:       core.DeriveID(idTag, client, ob.seq),
		MarketID: m.ID,
		Client:   client,
		Provider: m.Provider,
	}
	o.Price.Set(&m.Price)
	o.Stake.Set(stake)
	o.Fee.Set(fee)
	o.Quantity.Set(quantity)
	ob.put(o)
	return o.ID, nil
}

// lookup returns the order and the caller's roles in it.
// Caller holds ob.mu.
func (ob *OrderBook) lookup(id core.ID, caller core.Identity) (Order, []Role, error) {
	o, ok := ob.orders[id]
	if !ok {
		return Order{}, nil, fmt.Errorf("order %s: %w", id.Hex(), core.ErrNotFound)
	}
	roles := o.rolesOf(caller)
	if len(roles) == 0 {
		return Order{}, nil, fmt.Errorf("%s is not a party to order %s: %w", caller.Hex(), id.Hex(), core.ErrAccessDenied)
	}
	return o, roles, nil
}

// Restore installs a persisted order verbatim. Bootstrap only.
func (ob *OrderBook) Restore(tok *auth.Token, o Order) error {
	if err := ob.guard.Check(tok); err != nil {
		return fmt.Errorf("restore order: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.put(o)
	return nil
}

// RestoreSequence installs the persisted ID sequence. Bootstrap only.
func (ob *OrderBook) RestoreSequence(tok *auth.Token, seq uint64) error {
	if err := ob.guard.Check(tok); err != nil {
		return fmt.Errorf("restore order sequence: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.seq = seq
	return nil
}

// Caller holds ob.mu.
func (ob *OrderBook) put(o Order) {
	old, existed := ob.orders[o.ID]
	ob.journal.Touch(o.ID, old, existed)
	ob.orders[o.ID] = o
}

// Caller holds ob.mu.
func (ob *OrderBook) delete(id core.ID) {
	old, existed := ob.orders[id]
	ob.journal.Touch(id, old, existed)
	delete(ob.orders, id)
}
