// Package stake is the orchestrator of the marketplace: the only holder of
// the capability over the ledgers, market registry and order book. Every
// operation runs serialized and atomically: it either commits all of its
// mutations (persisted in one batch) or none of them.
package stake

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
	"github.com/uhyunpark/marketstake/pkg/auth"
	"github.com/uhyunpark/marketstake/pkg/util"
)

const defaultHistorySize = 1024

// LedgerChanges are the touched accounts of one ledger
type LedgerChanges struct {
	Ledger  string
	Entries []ledger.Entry
}

// ChangeSet is everything one committed operation changed
type ChangeSet struct {
	Ledgers   []LedgerChanges
	Markets   []market.Entry
	MarketSeq uint64
	Orders    []orderbook.Entry
	OrderSeq  uint64
}

// Persister durably stores a ChangeSet. A failed Persist aborts the
// operation.
type Persister interface {
	Persist(cs ChangeSet) error
}

type Config struct {
	Logger      *zap.SugaredLogger // defaults to a no-op logger
	Persister   Persister          // nil keeps state in memory only
	OnEvent     func(Event)        // called under the app lock; must not call back into App
	HistorySize int                // retained events for Events(since)
	Clock       util.Clock         // defaults to the wall clock
}

type App struct {
	mu sync.Mutex

	tok       *auth.Token
	clients   *ledger.Ledger
	providers *ledger.Ledger
	registry  *market.Registry
	book      *orderbook.OrderBook

	persister Persister
	log       *zap.SugaredLogger
	onEvent   func(Event)
	clock     util.Clock

	buffered    []Event
	history     []Event
	historySize int
	eventSeq    uint64
}

// New binds an orchestrator to its components. tok must already hold the
// guard of every component; clients and providers may be the same ledger.
func New(tok *auth.Token, clients, providers *ledger.Ledger, registry *market.Registry, book *orderbook.OrderBook, cfg Config) *App {
	if tok == nil || clients == nil || providers == nil || registry == nil || book == nil {
		panic("stake: nil component")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.Clock == nil {
		cfg.Clock = util.RealClock{}
	}
	RegisterMetrics()
	return &App{
		tok:         tok,
		clients:     clients,
		providers:   providers,
		registry:    registry,
		book:        book,
		persister:   cfg.Persister,
		log:         cfg.Logger,
		onEvent:     cfg.OnEvent,
		clock:       cfg.Clock,
		historySize: cfg.HistorySize,
	}
}

// Raw component access is not serialized with operations and may expose
// uncommitted state. Bootstrap and tests only; serve reads through query.go.
func (a *App) ClientLedger() *ledger.Ledger   { return a.clients }
func (a *App) ProviderLedger() *ledger.Ledger { return a.providers }
func (a *App) Registry() *market.Registry     { return a.registry }
func (a *App) Book() *orderbook.OrderBook     { return a.book }
func (a *App) SharedLedger() bool             { return a.clients == a.providers }
func (a *App) ledgers() orderbook.Ledgers {
	return orderbook.Ledgers{Client: a.clients, Provider: a.providers}
}
func (a *App) distinctLedgers() []*ledger.Ledger { return uniqueLedgers(a.clients, a.providers) }

func uniqueLedgers(clients, providers *ledger.Ledger) []*ledger.Ledger {
	if clients == providers {
		return []*ledger.Ledger{clients}
	}
	return []*ledger.Ledger{clients, providers}
}

// run executes fn as one atomic operation
func (a *App) run(op string, caller core.Identity, fn func() error) error {
	start := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()

	err := a.begin()
	if err == nil {
		err = fn()
	}
	if err == nil {
		err = a.persist()
	}
	if err != nil {
		if rbErr := a.rollback(); rbErr != nil {
			a.log.Errorw("rollback failed", "op", op, "err", rbErr)
		}
		a.buffered = a.buffered[:0]
		a.log.Infow("operation rejected", "op", op, "caller", caller.Hex(), "kind", core.Kind(err), "err", err)
		recordOperation(op, err, a.clock.Now().Sub(start))
		return err
	}
	if err := a.commit(); err != nil {
		a.log.Errorw("commit failed", "op", op, "err", err)
	}
	a.publish()
	a.log.Debugw("operation committed", "op", op, "caller", caller.Hex())
	recordOperation(op, nil, a.clock.Now().Sub(start))
	return nil
}

func (a *App) begin() error {
	for _, l := range a.distinctLedgers() {
		if err := l.Begin(a.tok); err != nil {
			return err
		}
	}
	if err := a.registry.Begin(a.tok); err != nil {
		return err
	}
	return a.book.Begin(a.tok)
}

func (a *App) persist() error {
	if a.persister == nil {
		return nil
	}
	var cs ChangeSet
	for _, l := range a.distinctLedgers() {
		entries, err := l.Changes(a.tok)
		if err != nil {
			return err
		}
		if len(entries) > 0 {
			cs.Ledgers = append(cs.Ledgers, LedgerChanges{Ledger: l.Name(), Entries: entries})
		}
	}
	var err error
	if cs.Markets, cs.MarketSeq, err = a.registry.Changes(a.tok); err != nil {
		return err
	}
	if cs.Orders, cs.OrderSeq, err = a.book.Changes(a.tok); err != nil {
		return err
	}
	if err := a.persister.Persist(cs); err != nil {
		return fmt.Errorf("persist: %w", err)
	}
	return nil
}

func (a *App) commit() error {
	for _, l := range a.distinctLedgers() {
		if err := l.Commit(a.tok); err != nil {
			return err
		}
	}
	if err := a.registry.Commit(a.tok); err != nil {
		return err
	}
	return a.book.Commit(a.tok)
}

func (a *App) rollback() error {
	var first error
	keep := func(err error) {
		if err != nil && first == nil {
			first = err
		}
	}
	keep(a.book.Rollback(a.tok))
	keep(a.registry.Rollback(a.tok))
	for _, l := range a.distinctLedgers() {
		keep(l.Rollback(a.tok))
	}
	return first
}
