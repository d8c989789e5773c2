// Package ledger keeps per-identity escrow balances in three buckets:
// pending (withdrawable), locked (staked collateral), and gains (provisional
// settlement credit held while an order is active).
//
// A ledger instance represents one role (client side or provider side), so
// the same identity holds independent balances in each role's ledger.
package ledger

import (
	"fmt"
	"sort"
	"sync"

	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/journal"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

// Balance is an account's state in one ledger. None of the buckets can go
// negative: every debit is checked against the bucket first.
type Balance struct {
	Pending uint256.Int
	Locked  uint256.Int
	Gains   uint256.Int
}

// IsZero reports whether all three buckets are empty.
func (b Balance) IsZero() bool {
	return b.Pending.IsZero() && b.Locked.IsZero() && b.Gains.IsZero()
}

// Entry is one account's balance as seen by Accounts and Changes.
// Exists is false for an account whose balance was emptied.
type Entry struct {
	Account core.Identity
	Balance Balance
	Exists  bool
}

// Ledger is a role-scoped balance book. Mutations require the capability
// token that currently holds the ledger's guard.
type Ledger struct {
	mu       sync.RWMutex
	name     string
	guard    *auth.Guard
	accounts map[core.Identity]Balance // empty balances are not stored
	journal  *journal.Journal[core.Identity, Balance]
}

// New creates an empty ledger owned by owner. name identifies the ledger in
// storage keys and log lines (e.g. "client", "provider").
func New(name string, owner *auth.Token) *Ledger {
	return &Ledger{
		name:     name,
		guard:    auth.NewGuard(owner),
		accounts: make(map[core.Identity]Balance),
		journal:  journal.New[core.Identity, Balance](),
	}
}

// Name returns the ledger's storage name.
func (l *Ledger) Name() string { return l.name }

// Guard exposes the capability guard so bootstrap can hand the ledger over.
func (l *Ledger) Guard() *auth.Guard { return l.guard }

// Balance returns the account's buckets (zero for unknown accounts).
func (l *Ledger) Balance(acct core.Identity) Balance {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.accounts[acct]
}

// Pending returns a copy of the account's pending bucket.
func (l *Ledger) Pending(acct core.Identity) *uint256.Int {
	b := l.Balance(acct)
	return b.Pending.Clone()
}

// Locked returns a copy of the account's locked bucket.
func (l *Ledger) Locked(acct core.Identity) *uint256.Int {
	b := l.Balance(acct)
	return b.Locked.Clone()
}

// Gains returns a copy of the account's gains bucket.
func (l *Ledger) Gains(acct core.Identity) *uint256.Int {
	b := l.Balance(acct)
	return b.Gains.Clone()
}

// Accounts returns every non-empty account, sorted by address.
func (l *Ledger) Accounts() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Entry, 0, len(l.accounts))
	for acct, bal := range l.accounts {
		out = append(out, Entry{Account: acct, Balance: bal, Exists: true})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Account.Cmp(out[j].Account) < 0
	})
	return out
}

// Deposit credits amount to pending.
func (l *Ledger) Deposit(tok *auth.Token, acct core.Identity, amount *uint256.Int) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s deposit: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	if _, overflow := bal.Pending.AddOverflow(&bal.Pending, amount); overflow {
		return fmt.Errorf("ledger %s deposit %s to %s: %w", l.name, amount.Dec(), acct.Hex(), core.ErrArithmeticOverflow)
	}
	l.put(acct, bal)
	return nil
}

// Withdraw empties pending and returns the paid-out amount, which may be zero.
func (l *Ledger) Withdraw(tok *auth.Token, acct core.Identity) (*uint256.Int, error) {
	if err := l.guard.Check(tok); err != nil {
		return nil, fmt.Errorf("ledger %s withdraw: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	out := bal.Pending.Clone()
	bal.Pending.Clear()
	l.put(acct, bal)
	return out, nil
}

// Lock moves amount from pending to locked.
// Returns core.ErrInsufficientFunds if pending < amount.
func (l *Ledger) Lock(tok *auth.Token, acct core.Identity, amount *uint256.Int) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s lock: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	if bal.Pending.Lt(amount) {
		return fmt.Errorf("ledger %s lock %s for %s (pending %s): %w",
			l.name, amount.Dec(), acct.Hex(), bal.Pending.Dec(), core.ErrInsufficientFunds)
	}
	if _, overflow := bal.Locked.AddOverflow(&bal.Locked, amount); overflow {
		return fmt.Errorf("ledger %s lock %s for %s: %w", l.name, amount.Dec(), acct.Hex(), core.ErrArithmeticOverflow)
	}
	bal.Pending.Sub(&bal.Pending, amount)
	l.put(acct, bal)
	return nil
}

// Unlock moves amount from locked back to the same account's pending.
func (l *Ledger) Unlock(tok *auth.Token, acct core.Identity, amount *uint256.Int) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s unlock: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	if bal.Locked.Lt(amount) {
		return fmt.Errorf("ledger %s unlock %s for %s (locked %s): %w",
			l.name, amount.Dec(), acct.Hex(), bal.Locked.Dec(), core.ErrInsufficientFunds)
	}
	if _, overflow := bal.Pending.AddOverflow(&bal.Pending, amount); overflow {
		return fmt.Errorf("ledger %s unlock %s for %s: %w", l.name, amount.Dec(), acct.Hex(), core.ErrArithmeticOverflow)
	}
	bal.Locked.Sub(&bal.Locked, amount)
	l.put(acct, bal)
	return nil
}

// UnlockTo releases amount from acct's locked bucket into the pending bucket
// of (dst, to). When the destination is acct's own pending this is Unlock.
func (l *Ledger) UnlockTo(tok *auth.Token, acct core.Identity, amount *uint256.Int, dst *Ledger, to core.Identity) error {
	if err := l.Unlock(tok, acct, amount); err != nil {
		return err
	}
	if dst == l && to == acct {
		return nil
	}
	return l.Transfer(tok, acct, amount, dst, to)
}

// Debit removes amount from pending.
func (l *Ledger) Debit(tok *auth.Token, acct core.Identity, amount *uint256.Int) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s debit: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	if bal.Pending.Lt(amount) {
		return fmt.Errorf("ledger %s debit %s from %s (pending %s): %w",
			l.name, amount.Dec(), acct.Hex(), bal.Pending.Dec(), core.ErrInsufficientFunds)
	}
	bal.Pending.Sub(&bal.Pending, amount)
	l.put(acct, bal)
	return nil
}

// Transfer moves amount from acct's pending to the pending bucket of
// (dst, to). dst may be this ledger. Nothing moves if either side fails.
func (l *Ledger) Transfer(tok *auth.Token, acct core.Identity, amount *uint256.Int, dst *Ledger, to core.Identity) error {
	if err := dst.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s transfer: %w", dst.name, err)
	}
	if dst == l && to == acct {
		if l.Pending(acct).Lt(amount) {
			return fmt.Errorf("ledger %s transfer %s from %s: %w", l.name, amount.Dec(), acct.Hex(), core.ErrInsufficientFunds)
		}
		return nil
	}
	if _, overflow := new(uint256.Int).AddOverflow(dst.Pending(to), amount); overflow {
		return fmt.Errorf("ledger %s credit %s to %s: %w", dst.name, amount.Dec(), to.Hex(), core.ErrArithmeticOverflow)
	}
	if err := l.Debit(tok, acct, amount); err != nil {
		return err
	}
	return dst.Deposit(tok, to, amount)
}

// CreditGains adds amount to the provisional gains bucket.
func (l *Ledger) CreditGains(tok *auth.Token, acct core.Identity, amount *uint256.Int) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s credit gains: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	if _, overflow := bal.Gains.AddOverflow(&bal.Gains, amount); overflow {
		return fmt.Errorf("ledger %s gains %s for %s: %w", l.name, amount.Dec(), acct.Hex(), core.ErrArithmeticOverflow)
	}
	l.put(acct, bal)
	return nil
}

// ClearGains zeroes the gains bucket and returns what it held.
func (l *Ledger) ClearGains(tok *auth.Token, acct core.Identity) (*uint256.Int, error) {
	if err := l.guard.Check(tok); err != nil {
		return nil, fmt.Errorf("ledger %s clear gains: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.accounts[acct]
	out := bal.Gains.Clone()
	bal.Gains.Clear()
	l.put(acct, bal)
	return out, nil
}

// Restore installs a persisted balance verbatim. Bootstrap only.
func (l *Ledger) Restore(tok *auth.Token, acct core.Identity, bal Balance) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s restore: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.put(acct, bal)
	return nil
}

// put stores bal (deleting empty balances), journaling the previous value.
// Caller holds l.mu.
func (l *Ledger) put(acct core.Identity, bal Balance) {
	old, existed := l.accounts[acct]
	l.journal.Touch(acct, old, existed)
	if bal.IsZero() {
		delete(l.accounts, acct)
		return
	}
	l.accounts[acct] = bal
}
