package orderbook

import (
	"fmt"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

func (ob *OrderBook) Begin(tok *auth.Token) error {
	if err := ob.guard.Check(tok); err != nil {
		return fmt.Errorf("order book begin: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.journal.Begin()
	ob.seqSaved = ob.seq
	return nil
}

// Changes returns the orders touched by the open operation (deleted ones
// with Exists=false) and the current ID sequence
func (ob *OrderBook) Changes(tok *auth.Token) ([]Entry, uint64, error) {
	if err := ob.guard.Check(tok); err != nil {
		return nil, 0, fmt.Errorf("order book changes: %w", err)
	}
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	keys := ob.journal.Keys()
	out := make([]Entry, 0, len(keys))
	for _, id := range keys {
		o, ok := ob.orders[id]
		out = append(out, Entry{ID: id, Order: o, Exists: ok})
	}
	return out, ob.seq, nil
}

func (ob *OrderBook) Commit(tok *auth.Token) error {
	if err := ob.guard.Check(tok); err != nil {
		return fmt.Errorf("order book commit: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.journal.Commit()
	return nil
}

func (ob *OrderBook) Rollback(tok *auth.Token) error {
	if err := ob.guard.Check(tok); err != nil {
		return fmt.Errorf("order book rollback: %w", err)
	}
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if ob.journal.Open() {
		ob.seq = ob.seqSaved
	}
	ob.journal.Rollback(func(id core.ID, o Order, existed bool) {
		if !existed {
			delete(ob.orders, id)
			return
		}
		ob.orders[id] = o
	})
	return nil
}
