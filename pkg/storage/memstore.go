package storage

import (
	"sync"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
	"github.com/uhyunpark/marketstake/pkg/app/stake"
)

type accountSlot struct {
	ledger  string
	account core.Identity
}

// InMemoryStore keeps committed state in maps. Used when no data directory
// is configured and in tests.
type InMemoryStore struct {
	mu        sync.Mutex
	balances  map[accountSlot]ledger.Balance
	markets   map[core.ID]market.Market
	orders    map[core.ID]orderbook.Order
	marketSeq uint64
	orderSeq  uint64
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		balances: make(map[accountSlot]ledger.Balance),
		markets:  make(map[core.ID]market.Market),
		orders:   make(map[core.ID]orderbook.Order),
	}
}

func (s *InMemoryStore) Persist(cs stake.ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, lc := range cs.Ledgers {
		for _, e := range lc.Entries {
			k := accountSlot{lc.Ledger, e.Account}
			if !e.Exists {
				delete(s.balances, k)
				continue
			}
			s.balances[k] = e.Balance
		}
	}
	for _, e := range cs.Markets {
		s.markets[e.Market.ID] = e.Market
	}
	for _, e := range cs.Orders {
		if !e.Exists {
			delete(s.orders, e.ID)
			continue
		}
		s.orders[e.ID] = e.Order
	}
	s.marketSeq = cs.MarketSeq
	s.orderSeq = cs.OrderSeq
	return nil
}

func (s *InMemoryStore) Load() (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Balances:  make(map[string][]ledger.Entry),
		MarketSeq: s.marketSeq,
		OrderSeq:  s.orderSeq,
	}
	for k, b := range s.balances {
		snap.Balances[k.ledger] = append(snap.Balances[k.ledger], ledger.Entry{Account: k.account, Balance: b, Exists: true})
	}
	for _, m := range s.markets {
		snap.Markets = append(snap.Markets, m)
	}
	for _, o := range s.orders {
		snap.Orders = append(snap.Orders, o)
	}
	return snap, nil
}

func (s *InMemoryStore) Close() error { return nil }

var _ stake.Persister = (*InMemoryStore)(nil)
