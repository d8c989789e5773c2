package market

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/journal"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

// idTag domain-separates market IDs from order IDs
const idTag = "market"

// Entry is one market's state as reported by Changes.
// Exists is always true for markets: they are never deleted.
type Entry struct {
	Market Market
	Exists bool
}

// Registry is the catalog of markets of a single variant.
// Mutations require the capability token holding the registry's guard;
// provider ownership is enforced on top of that per market.
type Registry struct {
	mu      sync.RWMutex
	guard   *auth.Guard
	variant Variant
	markets map[core.ID]Market
	seq     uint64

	journal  *journal.Journal[core.ID, Market]
	seqSaved uint64
}

// NewRegistry creates an empty registry owned by owner
func NewRegistry(variant Variant, owner *auth.Token) *Registry {
	return &Registry{
		guard:   auth.NewGuard(owner),
		variant: variant,
		markets: make(map[core.ID]Market),
		journal: journal.New[core.ID, Market](),
	}
}

// Guard exposes the capability guard so bootstrap can hand the registry over
func (r *Registry) Guard() *auth.Guard { return r.guard }

// Variant returns the variant every market in this registry has
func (r *Registry) Variant() Variant { return r.variant }

// Exists checks if a market is registered
func (r *Registry) Exists(id core.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[id]
	return ok
}

// Get returns a copy of the market
func (r *Registry) Get(id core.ID) (Market, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.markets[id]
	if !ok {
		return Market{}, fmt.Errorf("market %s: %w", id.Hex(), core.ErrNotFound)
	}
	return m, nil
}

// List returns every market sorted by ID
func (r *Registry) List() []Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Sequence returns the number of markets ever created
func (r *Registry) Sequence() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq
}

// Add registers a new active market owned by provider.
// Rejects stakeRate < 1 (ErrInvalidState) and price*stakeRate overflow.
func (r *Registry) Add(tok *auth.Token, provider core.Identity, p Params) (core.ID, error) {
	if err := r.guard.Check(tok); err != nil {
		return core.ID{}, fmt.Errorf("add market: %w", err)
	}
	if err := validate(p.Price, p.StakeRate); err != nil {
		return core.ID{}, fmt.Errorf("add market: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	id := core.DeriveID(idTag, provider, r.seq)
	m := Market{
		ID:       id,
		Provider: provider,
		Variant:  r.variant,
		Active:   true,
	}
	m.Price.Set(p.Price)
	m.MinStake.Set(p.MinStake)
	m.StakeRate.Set(p.StakeRate)
	m.Tolerance.Set(p.Tolerance)
	r.put(m)
	return id, nil
}

// ChangePrice sets a new unit price
func (r *Registry) ChangePrice(tok *auth.Token, caller core.Identity, id core.ID, price *uint256.Int) error {
	return r.update(tok, caller, id, "change price", func(m *Market) error {
		if err := validate(price, &m.StakeRate); err != nil {
			return err
		}
		m.Price.Set(price)
		return nil
	})
}

// ChangeMinStake sets the advisory minimum stake
func (r *Registry) ChangeMinStake(tok *auth.Token, caller core.Identity, id core.ID, minStake *uint256.Int) error {
	return r.update(tok, caller, id, "change min stake", func(m *Market) error {
		m.MinStake.Set(minStake)
		return nil
	})
}

// ChangeStakeRate sets the stake multiplier
func (r *Registry) ChangeStakeRate(tok *auth.Token, caller core.Identity, id core.ID, stakeRate *uint256.Int) error {
	return r.update(tok, caller, id, "change stake rate", func(m *Market) error {
		if err := validate(&m.Price, stakeRate); err != nil {
			return err
		}
		m.StakeRate.Set(stakeRate)
		return nil
	})
}

// ChangeTolerance sets the maximum reading disagreement for metered settlement
func (r *Registry) ChangeTolerance(tok *auth.Token, caller core.Identity, id core.ID, tolerance *uint256.Int) error {
	return r.update(tok, caller, id, "change tolerance", func(m *Market) error {
		m.Tolerance.Set(tolerance)
		return nil
	})
}

// Shutdown deactivates the market permanently.
// A second shutdown fails with ErrInvalidState.
func (r *Registry) Shutdown(tok *auth.Token, caller core.Identity, id core.ID) error {
	return r.update(tok, caller, id, "shutdown", func(m *Market) error {
		m.Active = false
		return nil
	})
}

// update runs fn on a copy of the market after the ownership and lifecycle
// checks, storing the result only if fn succeeds
func (r *Registry) update(tok *auth.Token, caller core.Identity, id core.ID, op string, fn func(*Market) error) error {
	if err := r.guard.Check(tok); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.markets[id]
	if !ok {
		return fmt.Errorf("%s: market %s: %w", op, id.Hex(), core.ErrNotFound)
	}
	if m.Provider != caller {
		return fmt.Errorf("%s: %s is not the provider of market %s: %w", op, caller.Hex(), id.Hex(), core.ErrAccessDenied)
	}
	if !m.Active {
		return fmt.Errorf("%s: market %s is shut down: %w", op, id.Hex(), core.ErrInvalidState)
	}
	if err := fn(&m); err != nil {
		return fmt.Errorf("%s: market %s: %w", op, id.Hex(), err)
	}
	r.put(m)
	return nil
}

// Restore installs a persisted market verbatim. Bootstrap only.
func (r *Registry) Restore(tok *auth.Token, m Market) error {
	if err := r.guard.Check(tok); err != nil {
		return fmt.Errorf("restore market: %w", err)
	}
	if m.Variant != r.variant {
		return fmt.Errorf("restore market %s: %s market in %s registry: %w",
			m.ID.Hex(), m.Variant, r.variant, core.ErrInvalidState)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.put(m)
	return nil
}

// RestoreSequence installs the persisted ID sequence. Bootstrap only.
func (r *Registry) RestoreSequence(tok *auth.Token, seq uint64) error {
	if err := r.guard.Check(tok); err != nil {
		return fmt.Errorf("restore market sequence: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq = seq
	return nil
}

// Caller holds r.mu.
func (r *Registry) put(m Market) {
	old, existed := r.markets[m.ID]
	r.journal.Touch(m.ID, old, existed)
	r.markets[m.ID] = m
}
