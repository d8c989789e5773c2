package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
	"github.com/uhyunpark/marketstake/pkg/app/stake"
)

// Snapshot is the full committed state read back at boot
type Snapshot struct {
	Balances  map[string][]ledger.Entry // by ledger name
	Markets   []market.Market
	MarketSeq uint64
	Orders    []orderbook.Order
	OrderSeq  uint64
}

// PebbleStore persists committed operations. Each ChangeSet is written as
// one synced batch, so a crash never leaves half an operation on disk.
type PebbleStore struct {
	db *pebble.DB
}

// NewPebbleStore opens a Pebble database at the given path
func NewPebbleStore(path string) (*PebbleStore, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

// Persist writes one operation's changes atomically
func (s *PebbleStore) Persist(cs stake.ChangeSet) error {
	b := s.db.NewBatch()
	defer b.Close()

	for _, lc := range cs.Ledgers {
		for _, e := range lc.Entries {
			key := balanceKey(lc.Ledger, e.Account)
			if !e.Exists {
				if err := b.Delete(key, nil); err != nil {
					return fmt.Errorf("failed to delete balance: %w", err)
				}
				continue
			}
			val, err := encodeBalance(lc.Ledger, e)
			if err != nil {
				return fmt.Errorf("failed to marshal balance: %w", err)
			}
			if err := b.Set(key, val, nil); err != nil {
				return fmt.Errorf("failed to save balance: %w", err)
			}
		}
	}
	for _, e := range cs.Markets {
		val, err := encodeMarket(&e.Market)
		if err != nil {
			return fmt.Errorf("failed to marshal market: %w", err)
		}
		if err := b.Set(marketKey(e.Market.ID), val, nil); err != nil {
			return fmt.Errorf("failed to save market: %w", err)
		}
	}
	for _, e := range cs.Orders {
		if !e.Exists {
			if err := b.Delete(orderKey(e.ID), nil); err != nil {
				return fmt.Errorf("failed to delete order: %w", err)
			}
			continue
		}
		val, err := encodeOrder(&e.Order)
		if err != nil {
			return fmt.Errorf("failed to marshal order: %w", err)
		}
		if err := b.Set(orderKey(e.ID), val, nil); err != nil {
			return fmt.Errorf("failed to save order: %w", err)
		}
	}
	if err := b.Set(keyMarketSeq, encodeSeq(cs.MarketSeq), nil); err != nil {
		return fmt.Errorf("failed to save market sequence: %w", err)
	}
	if err := b.Set(keyOrderSeq, encodeSeq(cs.OrderSeq), nil); err != nil {
		return fmt.Errorf("failed to save order sequence: %w", err)
	}

	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

// Load reads back every committed record
func (s *PebbleStore) Load() (Snapshot, error) {
	snap := Snapshot{Balances: make(map[string][]ledger.Entry)}

	err := s.scan([]byte(prefixBalance), func(val []byte) error {
		name, e, err := decodeBalance(val)
		if err != nil {
			return err
		}
		snap.Balances[name] = append(snap.Balances[name], e)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	err = s.scan([]byte(prefixMarket), func(val []byte) error {
		m, err := decodeMarket(val)
		if err != nil {
			return err
		}
		snap.Markets = append(snap.Markets, m)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	err = s.scan([]byte(prefixOrder), func(val []byte) error {
		o, err := decodeOrder(val)
		if err != nil {
			return err
		}
		snap.Orders = append(snap.Orders, o)
		return nil
	})
	if err != nil {
		return Snapshot{}, err
	}

	if snap.MarketSeq, err = s.getSeq(keyMarketSeq); err != nil {
		return Snapshot{}, err
	}
	if snap.OrderSeq, err = s.getSeq(keyOrderSeq); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *PebbleStore) scan(prefix []byte, fn func(val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Value()); err != nil {
			return fmt.Errorf("key %s: %w", iter.Key(), err)
		}
	}
	return iter.Error()
}

// getSeq returns 0 when the sequence was never written
func (s *PebbleStore) getSeq(key []byte) (uint64, error) {
	val, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return decodeSeq(val)
}

var _ stake.Persister = (*PebbleStore)(nil)
