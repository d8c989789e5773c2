package ledger

import (
	"fmt"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

// Begin opens an operation: every balance touched from now on can be undone
// by Rollback.
func (l *Ledger) Begin(tok *auth.Token) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s begin: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal.Begin()
	return nil
}

// Changes lists the current state of every account touched by the open
// operation, in first-touch order.
func (l *Ledger) Changes(tok *auth.Token) ([]Entry, error) {
	if err := l.guard.Check(tok); err != nil {
		return nil, fmt.Errorf("ledger %s changes: %w", l.name, err)
	}
	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := l.journal.Keys()
	out := make([]Entry, 0, len(keys))
	for _, acct := range keys {
		bal, ok := l.accounts[acct]
		out = append(out, Entry{Account: acct, Balance: bal, Exists: ok})
	}
	return out, nil
}

// Commit makes the open operation permanent.
func (l *Ledger) Commit(tok *auth.Token) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s commit: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal.Commit()
	return nil
}

// Rollback restores every account touched by the open operation.
func (l *Ledger) Rollback(tok *auth.Token) error {
	if err := l.guard.Check(tok); err != nil {
		return fmt.Errorf("ledger %s rollback: %w", l.name, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.journal.Rollback(func(acct core.Identity, bal Balance, existed bool) {
		if !existed {
			delete(l.accounts, acct)
			return
		}
		l.accounts[acct] = bal
	})
	return nil
}
