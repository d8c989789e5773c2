package market

import (
	"fmt"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

// Begin opens an operation. The ID sequence is saved with it.
func (r *Registry) Begin(tok *auth.Token) error {
	if err := r.guard.Check(tok); err != nil {
		return fmt.Errorf("registry begin: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal.Begin()
	r.seqSaved = r.seq
	return nil
}

// Changes returns the markets touched by the open operation and the current
// ID sequence.
func (r *Registry) Changes(tok *auth.Token) ([]Entry, uint64, error) {
	if err := r.guard.Check(tok); err != nil {
		return nil, 0, fmt.Errorf("registry changes: %w", err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.journal.Keys()
	out := make([]Entry, 0, len(keys))
	for _, id := range keys {
		m, ok := r.markets[id]
		out = append(out, Entry{Market: m, Exists: ok})
	}
	return out, r.seq, nil
}

func (r *Registry) Commit(tok *auth.Token) error {
	if err := r.guard.Check(tok); err != nil {
		return fmt.Errorf("registry commit: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal.Commit()
	return nil
}

// Rollback restores touched markets and the ID sequence
func (r *Registry) Rollback(tok *auth.Token) error {
	if err := r.guard.Check(tok); err != nil {
		return fmt.Errorf("registry rollback: %w", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.journal.Open() {
		r.seq = r.seqSaved
	}
	r.journal.Rollback(func(id core.ID, m Market, existed bool) {
		if !existed {
			delete(r.markets, id)
			return
		}
		r.markets[id] = m
	})
	return nil
}
