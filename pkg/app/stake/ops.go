package stake

import (
	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/app/core/orderbook"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

// AddMarket registers a market owned by caller
func (a *App) AddMarket(caller core.Identity, price, minStake, stakeRate, tolerance *uint256.Int) (core.ID, error) {
	var id core.ID
	err := a.run("add_market", caller, func() error {
		var err error
		id, err = a.registry.Add(a.tok, caller, market.Params{
			Price: orZero(price), MinStake: orZero(minStake), StakeRate: orZero(stakeRate), Tolerance: orZero(tolerance),
		})
		if err != nil {
			return err
		}
		a.emit(Event{Type: MarketCreated, MarketID: idRef(id), Account: caller, Value: orZero(price).Dec()})
		return nil
	})
	if err != nil {
		return core.ID{}, err
	}
	return id, nil
}

type marketChange func(r *market.Registry, tok *auth.Token, caller core.Identity, id core.ID, v *uint256.Int) error

func (a *App) changeMarket(op string, typ EventType, change marketChange, caller core.Identity, id core.ID, v *uint256.Int) error {
	v = orZero(v)
	return a.run(op, caller, func() error {
		if err := change(a.registry, a.tok, caller, id, v); err != nil {
			return err
		}
		a.emit(Event{Type: typ, MarketID: idRef(id), Account: caller, Value: v.Dec()})
		return nil
	})
}

func (a *App) ChangePrice(caller core.Identity, id core.ID, price *uint256.Int) error {
	return a.changeMarket("change_price", MarketPriceChanged, (*market.Registry).ChangePrice, caller, id, price)
}

// ChangeMinStake updates the advisory minimum stake
func (a *App) ChangeMinStake(caller core.Identity, id core.ID, minStake *uint256.Int) error {
	return a.changeMarket("change_min_stake", MarketMinStakeChanged, (*market.Registry).ChangeMinStake, caller, id, minStake)
}

func (a *App) ChangeStakeRate(caller core.Identity, id core.ID, stakeRate *uint256.Int) error {
	return a.changeMarket("change_stake_rate", MarketStakeRateChanged, (*market.Registry).ChangeStakeRate, caller, id, stakeRate)
}

func (a *App) ChangeTolerance(caller core.Identity, id core.ID, tolerance *uint256.Int) error {
	return a.changeMarket("change_tolerance", MarketToleranceChanged, (*market.Registry).ChangeTolerance, caller, id, tolerance)
}

// ShutdownMarket deactivates the market for good. Active orders on it can
// still be cancelled, with the provider paying the fee.
func (a *App) ShutdownMarket(caller core.Identity, id core.ID) error {
	return a.run("shutdown_market", caller, func() error {
		if err := a.registry.Shutdown(a.tok, caller, id); err != nil {
			return err
		}
		a.emit(Event{Type: MarketShutdown, MarketID: idRef(id), Account: caller})
		return nil
	})
}

func (a *App) DepositClient(caller core.Identity, amount *uint256.Int) error {
	return a.deposit("deposit_client", ClientDeposited, a.clients, caller, amount)
}

func (a *App) DepositProvider(caller core.Identity, amount *uint256.Int) error {
	return a.deposit("deposit_provider", ProviderDeposited, a.providers, caller, amount)
}

func (a *App) deposit(op string, typ EventType, l *ledger.Ledger, caller core.Identity, amount *uint256.Int) error {
	amount = orZero(amount)
	return a.run(op, caller, func() error {
		if err := l.Deposit(a.tok, caller, amount); err != nil {
			return err
		}
		a.emit(Event{Type: typ, Account: caller, Amount: amount.Dec()})
		return nil
	})
}

// WithdrawClient pays out the caller's whole client-side pending balance
func (a *App) WithdrawClient(caller core.Identity) (*uint256.Int, error) {
	return a.withdraw("withdraw_client", ClientWithdrawn, a.clients, caller)
}

// WithdrawProvider pays out the caller's whole provider-side pending balance
func (a *App) WithdrawProvider(caller core.Identity) (*uint256.Int, error) {
	return a.withdraw("withdraw_provider", ProviderWithdrawn, a.providers, caller)
}

func (a *App) withdraw(op string, typ EventType, l *ledger.Ledger, caller core.Identity) (*uint256.Int, error) {
	var out *uint256.Int
	err := a.run(op, caller, func() error {
		var err error
		if out, err = l.Withdraw(a.tok, caller); err != nil {
			return err
		}
		a.emit(Event{Type: typ, Account: caller, Amount: out.Dec()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Order places an unconfirmed order by caller on market marketID
func (a *App) Order(caller core.Identity, marketID core.ID, quantity *uint256.Int) (core.ID, error) {
	var id core.ID
	quantity = orZero(quantity)
	err := a.run("order", caller, func() error {
		m, err := a.registry.Get(marketID)
		if err != nil {
			return err
		}
		if id, err = a.book.Create(a.tok, &m, caller, quantity); err != nil {
			return err
		}
		o := a.book.Get(id)
		a.emit(Event{
			Type: OrderCreated, MarketID: idRef(marketID), OrderID: idRef(id), Account: caller,
			Value: quantity.Dec(), Stake: o.Stake.Dec(), Fee: o.Fee.Dec(),
		})
		return nil
	})
	if err != nil {
		return core.ID{}, err
	}
	return id, nil
}

func (a *App) Confirm(caller core.Identity, id core.ID) error {
	return a.run("confirm", caller, func() error {
		res, err := a.book.Confirm(a.tok, a.ledgers(), id, caller)
		if err != nil {
			return err
		}
		for _, r := range res.Roles {
			a.emit(a.orderEvent(OrderConfirmed, &res.Order, caller, r))
		}
		if res.Activated {
			e := a.orderEvent(OrderActivated, &res.Order, caller, orderbook.ClientRole)
			e.Role = ""
			e.Stake, e.Fee = res.Order.Stake.Dec(), res.Order.Fee.Dec()
			a.emit(e)
		}
		return nil
	})
}

// CompleteOrder records the caller's reading and settles the order once
// both readings agree
func (a *App) CompleteOrder(caller core.Identity, id core.ID, reading *uint256.Int) error {
	reading = orZero(reading)
	return a.run("complete_order", caller, func() error {
		res, err := a.book.Complete(a.tok, a.ledgers(), a.registry, id, caller, reading)
		if err != nil {
			return err
		}
		for _, r := range res.Roles {
			e := a.orderEvent(OrderReadingRecorded, &res.Order, caller, r)
			e.Reading = reading.Dec()
			a.emit(e)
		}
		if res.Settled {
			e := a.orderEvent(OrderFilled, &res.Order, caller, orderbook.ClientRole)
			e.Role = ""
			e.Amount = dec(res.Cost)
			a.emit(e)
		}
		return nil
	})
}

func (a *App) CancelOrder(caller core.Identity, id core.ID) error {
	return a.run("cancel_order", caller, func() error {
		res, err := a.book.Cancel(a.tok, a.ledgers(), a.registry, id, caller)
		if err != nil {
			return err
		}
		e := a.orderEvent(OrderCancelled, &res.Order, caller, res.Roles[len(res.Roles)-1])
		if res.Charged {
			e.Payer = res.Payer.String()
			e.Amount = res.Order.Fee.Dec()
		}
		a.emit(e)
		return nil
	})
}

func (a *App) BilateralCancelOrder(caller core.Identity, id core.ID) error {
	return a.run("bilateral_cancel_order", caller, func() error {
		res, err := a.book.BilateralCancel(a.tok, a.ledgers(), id, caller)
		if err != nil {
			return err
		}
		for _, r := range res.Roles {
			a.emit(a.orderEvent(OrderBilateralSought, &res.Order, caller, r))
		}
		if res.Resolved {
			e := a.orderEvent(OrderBilateralCancelled, &res.Order, caller, orderbook.ClientRole)
			e.Role = ""
			a.emit(e)
		}
		return nil
	})
}

func (a *App) orderEvent(typ EventType, o *orderbook.Order, caller core.Identity, r orderbook.Role) Event {
	return Event{
		Type:     typ,
		MarketID: idRef(o.MarketID),
		OrderID:  idRef(o.ID),
		Account:  caller,
		Role:     r.String(),
	}
}

// orZero treats a nil amount as zero
func orZero(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v
}
