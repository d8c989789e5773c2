package stake

import (
	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
)

// Read-side queries. They take the app lock, so they never observe an
// operation half applied or one that is later rolled back.

// Account returns acct's balances on the client and provider ledgers
func (a *App) Account(acct core.Identity) (client, provider ledger.Balance) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.clients.Balance(acct), a.providers.Balance(acct)
}

func (a *App) Markets() []market.Market {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry.List()
}

func (a *App) Market(id core.ID) (market.Market, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.registry.Get(id)
}

// FindOrder returns the order and whether it exists
func (a *App) FindOrder(id core.ID) (orderbook.Order, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.book.Exists(id) {
		return orderbook.Order{}, false
	}
	return a.book.Get(id), true
}

// Orders lists open orders, restricted to marketID unless it is zero
func (a *App) Orders(marketID core.ID) []orderbook.Order {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.book.List(marketID)
}
