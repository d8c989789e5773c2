// Package bootstrap assembles a running orchestrator: it builds the ledgers,
// registry and order book under a one-off bootstrap capability, replays
// persisted state into them, then hands every component to the
// orchestrator's capability. The bootstrap capability is dead afterwards.
package bootstrap

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
	"github.com/uhyunpark/marketstake/pkg/app/stake"
	"github.com/uhyunpark/marketstake/pkg/auth"
	"github.com/uhyunpark/marketstake/pkg/storage"
)

// Ledger names, which are also their storage namespaces
const (
	ClientLedger   = "client"
	ProviderLedger = "provider"
	SharedLedger   = "shared"
)

// Store is persistence that can also replay its committed state
type Store interface {
	stake.Persister
	Load() (storage.Snapshot, error)
}

type Options struct {
	Variant      market.Variant
	SharedLedger bool // one ledger instance backs both roles
	Policy       orderbook.Policy
	Store        Store // nil runs in memory only
	Logger       *zap.SugaredLogger
	OnEvent      func(stake.Event)
	HistorySize  int
}

// Build creates the components, restores them from opts.Store, and returns
// the orchestrator holding exclusive capability over all of them
func Build(opts Options) (*stake.App, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	boot := auth.NewToken("bootstrap")

	var clients, providers *ledger.Ledger
	if opts.SharedLedger {
		clients = ledger.New(SharedLedger, boot)
		providers = clients
	} else {
		clients = ledger.New(ClientLedger, boot)
		providers = ledger.New(ProviderLedger, boot)
	}
	registry := market.NewRegistry(opts.Variant, boot)
	book := orderbook.NewOrderBook(opts.Policy, boot)

	if opts.Store != nil {
		snap, err := opts.Store.Load()
		if err != nil {
			return nil, fmt.Errorf("load state: %w", err)
		}
		if err := restore(boot, snap, clients, providers, registry, book); err != nil {
			return nil, fmt.Errorf("restore state: %w", err)
		}
		opts.Logger.Infow("state restored",
			"markets", len(snap.Markets),
			"orders", len(snap.Orders),
			"marketSeq", snap.MarketSeq,
			"orderSeq", snap.OrderSeq)
	}

	appTok := auth.NewToken("orchestrator")
	guards := []*auth.Guard{clients.Guard(), registry.Guard(), book.Guard()}
	if providers != clients {
		guards = append(guards, providers.Guard())
	}
	for _, g := range guards {
		if err := g.Transfer(boot, appTok); err != nil {
			return nil, fmt.Errorf("hand over capability: %w", err)
		}
	}

	var persister stake.Persister
	if opts.Store != nil {
		persister = opts.Store
	}
	return stake.New(appTok, clients, providers, registry, book, stake.Config{
		Logger:      opts.Logger,
		Persister:   persister,
		OnEvent:     opts.OnEvent,
		HistorySize: opts.HistorySize,
	}), nil
}

func restore(tok *auth.Token, snap storage.Snapshot, clients, providers *ledger.Ledger, registry *market.Registry, book *orderbook.OrderBook) error {
	ledgers := map[string]*ledger.Ledger{clients.Name(): clients, providers.Name(): providers}
	for name, entries := range snap.Balances {
		l, ok := ledgers[name]
		if !ok {
			return fmt.Errorf("balances for unknown ledger %q (shared ledger setting changed?): %w", name, core.ErrInvalidState)
		}
		for _, e := range entries {
			if err := l.Restore(tok, e.Account, e.Balance); err != nil {
				return err
			}
		}
	}

	for _, m := range snap.Markets {
		if err := registry.Restore(tok, m); err != nil {
			return err
		}
	}
	if err := registry.RestoreSequence(tok, snap.MarketSeq); err != nil {
		return err
	}

	for _, o := range snap.Orders {
		if !registry.Exists(o.MarketID) {
			return fmt.Errorf("order %s references unknown market %s: %w", o.ID.Hex(), o.MarketID.Hex(), core.ErrNotFound)
		}
		if err := book.Restore(tok, o); err != nil {
			return err
		}
	}
	return book.RestoreSequence(tok, snap.OrderSeq)
}
