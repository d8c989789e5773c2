package orderbook

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/app/core/ledger"
	"github.com/uhyunpark/marketstake/pkg/app/core/market"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

var (
	client   = common.HexToAddress("0x1000000000000000000000000000000000000001")
	provider = common.HexToAddress("0x2000000000000000000000000000000000000002")
	outsider = common.HexToAddress("0x3000000000000000000000000000000000000003")
)

const (
	price     = 10
	stakeRate = 2
	minStake  = 25
	tolerance = 10
	quantity  = 1000
	stake     = quantity * stakeRate // metered
	fee       = quantity
	deposit   = 3 * stake
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func maxU256() *uint256.Int { return new(uint256.Int).Not(new(uint256.Int)) }

type fixture struct {
	tok      *auth.Token
	led      Ledgers
	registry *market.Registry
	book     *OrderBook
	marketID core.ID
}

func newFixture(t *testing.T, variant market.Variant) *fixture {
	t.Helper()
	tok := auth.NewToken("test")
	f := &fixture{
		tok:      tok,
		led:      Ledgers{Client: ledger.New("client", tok), Provider: ledger.New("provider", tok)},
		registry: market.NewRegistry(variant, tok),
		book:     NewOrderBook(DefaultPolicy(), tok),
	}
	id, err := f.registry.Add(tok, provider, market.Params{
		Price: u(price), MinStake: u(minStake), StakeRate: u(stakeRate), Tolerance: u(tolerance),
	})
	if err != nil {
		t.Fatalf("add market: %v", err)
	}
	f.marketID = id
	return f
}

func (f *fixture) market(t *testing.T) *market.Market {
	t.Helper()
	m, err := f.registry.Get(f.marketID)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	return &m
}

func (f *fixture) order(t *testing.T, by core.Identity, qty uint64) core.ID {
	t.Helper()
	id, err := f.book.Create(f.tok, f.market(t), by, u(qty))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return id
}

func (f *fixture) fund(t *testing.T, c, p core.Identity) {
	t.Helper()
	if err := f.led.Client.Deposit(f.tok, c, u(deposit)); err != nil {
		t.Fatalf("client deposit: %v", err)
	}
	if err := f.led.Provider.Deposit(f.tok, p, u(deposit)); err != nil {
		t.Fatalf("provider deposit: %v", err)
	}
}

// activeOrder returns a confirmed, funded order of quantity 1000
func (f *fixture) activeOrder(t *testing.T) core.ID {
	t.Helper()
	id := f.order(t, client, quantity)
	f.fund(t, client, provider)
	if _, err := f.book.Confirm(f.tok, f.led, id, client); err != nil {
		t.Fatalf("client confirm: %v", err)
	}
	res, err := f.book.Confirm(f.tok, f.led, id, provider)
	if err != nil {
		t.Fatalf("provider confirm: %v", err)
	}
	if !res.Activated {
		t.Fatal("second confirmation should activate")
	}
	return id
}

func checkLedger(t *testing.T, l *ledger.Ledger, acct core.Identity, pending, locked, gains uint64) {
	t.Helper()
	b := l.Balance(acct)
	if !b.Pending.Eq(u(pending)) || !b.Locked.Eq(u(locked)) || !b.Gains.Eq(u(gains)) {
		t.Errorf("%s %s = {pending %s locked %s gains %s}, want {%d %d %d}",
			l.Name(), acct.Hex(), b.Pending.Dec(), b.Locked.Dec(), b.Gains.Dec(), pending, locked, gains)
	}
}

func checkDeleted(t *testing.T, b *OrderBook, id core.ID) {
	t.Helper()
	if b.Exists(id) {
		t.Fatal("order should be deleted")
	}
	if b.Get(id) != (Order{}) {
		t.Error("deleted order should read as the zero order")
	}
}

func TestAmounts(t *testing.T) {
	tests := []struct {
		name      string
		variant   market.Variant
		qty       uint64
		wantStake uint64
		wantFee   uint64
	}{
		{"unmetered single unit", market.Unmetered, 1, price * stakeRate, price},
		{"unmetered five units", market.Unmetered, 5, 5 * price * stakeRate, 5 * price},
		{"metered budget", market.Metered, quantity, stake, fee},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.variant)
			id := f.order(t, client, tt.qty)
			o := f.book.Get(id)
			if !o.Stake.Eq(u(tt.wantStake)) || !o.Fee.Eq(u(tt.wantFee)) {
				t.Errorf("stake/fee = %s/%s, want %d/%d", o.Stake.Dec(), o.Fee.Dec(), tt.wantStake, tt.wantFee)
			}
			if !o.Price.Eq(u(price)) || o.Client != client || o.Provider != provider || o.MarketID != f.marketID {
				t.Errorf("unexpected order snapshot: %+v", o)
			}
			if o.Active || o.Confirmed != [2]bool{} {
				t.Error("new order should be unconfirmed")
			}
		})
	}
}

func TestCreateOverflowLeavesNoOrder(t *testing.T) {
	for _, variant := range []market.Variant{market.Unmetered, market.Metered} {
		t.Run(variant.String(), func(t *testing.T) {
			f := newFixture(t, variant)
			_, err := f.book.Create(f.tok, f.market(t), client, maxU256())
			if !errors.Is(err, core.ErrArithmeticOverflow) {
				t.Fatalf("got %v, want ErrArithmeticOverflow", err)
			}
			if len(f.book.List(core.ID{})) != 0 || f.book.Sequence() != 0 {
				t.Error("failed create left state behind")
			}
		})
	}
}

func TestCreateOnShutdownMarket(t *testing.T) {
	f := newFixture(t, market.Metered)
	f.registry.Shutdown(f.tok, provider, f.marketID)
	_, err := f.book.Create(f.tok, f.market(t), client, u(1))
	if !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestConfirmOrderIndependence(t *testing.T) {
	tests := []struct {
		name  string
		first core.Identity
		then  core.Identity
	}{
		{"client first", client, provider},
		{"provider first", provider, client},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, market.Metered)
			id := f.order(t, client, quantity)
			f.fund(t, client, provider)

			res, err := f.book.Confirm(f.tok, f.led, id, tt.first)
			if err != nil {
				t.Fatalf("first confirm: %v", err)
			}
			if res.Activated {
				t.Fatal("first confirmation must not activate")
			}
			checkLedger(t, f.led.Client, client, deposit, 0, 0)
			checkLedger(t, f.led.Provider, provider, deposit, 0, 0)

			if _, err := f.book.Confirm(f.tok, f.led, id, tt.then); err != nil {
				t.Fatalf("second confirm: %v", err)
			}
			if !f.book.Get(id).Active || f.book.Confirmations(id) != [2]bool{true, true} {
				t.Fatal("order should be active and fully confirmed")
			}
			checkLedger(t, f.led.Client, client, deposit-stake, stake, fee)
			checkLedger(t, f.led.Provider, provider, deposit-stake, stake, 2*fee)
		})
	}
}

func TestConfirmInsufficientFunds(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.order(t, client, quantity)
	f.led.Client.Deposit(f.tok, client, u(deposit))
	f.led.Provider.Deposit(f.tok, provider, u(stake-1))

	if _, err := f.book.Confirm(f.tok, f.led, id, client); err != nil {
		t.Fatalf("client confirm: %v", err)
	}
	_, err := f.book.Confirm(f.tok, f.led, id, provider)
	if !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	if f.book.Confirmations(id) != [2]bool{true, false} {
		t.Errorf("confirmations = %v, the failed confirm must not stick", f.book.Confirmations(id))
	}
	checkLedger(t, f.led.Client, client, deposit, 0, 0)
	checkLedger(t, f.led.Provider, provider, stake-1, 0, 0)
}

func TestConfirmActiveOrder(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.activeOrder(t)
	if _, err := f.book.Confirm(f.tok, f.led, id, client); !errors.Is(err, core.ErrInvalidState) {
		t.Fatalf("got %v, want ErrInvalidState", err)
	}
}

func TestCancelBeforeActivationIsFree(t *testing.T) {
	for _, canceller := range []core.Identity{client, provider} {
		t.Run(canceller.Hex(), func(t *testing.T) {
			f := newFixture(t, market.Metered)
			id := f.order(t, client, quantity)
			f.fund(t, client, provider)
			f.book.Confirm(f.tok, f.led, id, client)

			res, err := f.book.Cancel(f.tok, f.led, f.registry, id, canceller)
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if res.Charged {
				t.Error("unconfirmed cancel should not charge a fee")
			}
			checkDeleted(t, f.book, id)
			checkLedger(t, f.led.Client, client, deposit, 0, 0)
			checkLedger(t, f.led.Provider, provider, deposit, 0, 0)
		})
	}
}

func TestCancelActiveChargesCaller(t *testing.T) {
	tests := []struct {
		name            string
		canceller       core.Identity
		clientPending   uint64
		providerPending uint64
		payer           Role
	}{
		{"client cancels", client, deposit - fee, deposit + fee, ClientRole},
		{"provider cancels", provider, deposit + fee, deposit - fee, ProviderRole},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, market.Metered)
			id := f.activeOrder(t)

			res, err := f.book.Cancel(f.tok, f.led, f.registry, id, tt.canceller)
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if !res.Charged || res.Payer != tt.payer || res.Forced {
				t.Errorf("result = %+v, want charged payer %s", res, tt.payer)
			}
			checkDeleted(t, f.book, id)
			checkLedger(t, f.led.Client, client, tt.clientPending, 0, 0)
			checkLedger(t, f.led.Provider, provider, tt.providerPending, 0, 0)
		})
	}
}

func TestShutdownForcesProviderToPay(t *testing.T) {
	for _, canceller := range []core.Identity{client, provider} {
		t.Run(canceller.Hex(), func(t *testing.T) {
			f := newFixture(t, market.Metered)
			id := f.activeOrder(t)
			if err := f.registry.Shutdown(f.tok, provider, f.marketID); err != nil {
				t.Fatalf("shutdown: %v", err)
			}

			res, err := f.book.Cancel(f.tok, f.led, f.registry, id, canceller)
			if err != nil {
				t.Fatalf("cancel: %v", err)
			}
			if !res.Forced || res.Payer != ProviderRole {
				t.Errorf("result = %+v, want forced provider payment", res)
			}
			checkLedger(t, f.led.Client, client, deposit+fee, 0, 0)
			checkLedger(t, f.led.Provider, provider, deposit-fee, 0, 0)
		})
	}
}

func TestMeteredSettlement(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.activeOrder(t)

	res, err := f.book.Complete(f.tok, f.led, f.registry, id, client, u(10))
	if err != nil || res.Settled {
		t.Fatalf("client reading: settled=%v err=%v", res.Settled, err)
	}
	res, err = f.book.Complete(f.tok, f.led, f.registry, id, provider, u(30))
	if err != nil {
		t.Fatalf("provider reading: %v", err)
	}
	if res.Settled {
		t.Fatal("readings 20 apart must not settle with tolerance 10")
	}
	if f.book.Given(id) != [2]bool{true, true} || !f.book.Get(id).Active {
		t.Fatal("order should stay active with both readings given")
	}
	checkLedger(t, f.led.Client, client, deposit-stake, stake, fee)

	res, err = f.book.Complete(f.tok, f.led, f.registry, id, provider, u(15))
	if err != nil {
		t.Fatalf("revised reading: %v", err)
	}
	cost := uint64(price * 12) // floor((10+15)/2)
	if !res.Settled || !res.Cost.Eq(u(cost)) {
		t.Fatalf("result = settled %v cost %v, want cost %d", res.Settled, res.Cost, cost)
	}
	checkDeleted(t, f.book, id)
	checkLedger(t, f.led.Client, client, deposit-cost, 0, 0)
	checkLedger(t, f.led.Provider, provider, deposit+cost, 0, 0)
}

func TestZeroToleranceRequiresEquality(t *testing.T) {
	f := newFixture(t, market.Metered)
	f.registry.ChangeTolerance(f.tok, provider, f.marketID, u(0))
	id := f.activeOrder(t)

	f.book.Complete(f.tok, f.led, f.registry, id, client, u(7))
	res, _ := f.book.Complete(f.tok, f.led, f.registry, id, provider, u(8))
	if res.Settled {
		t.Fatal("unequal readings settled at tolerance 0")
	}
	res, _ = f.book.Complete(f.tok, f.led, f.registry, id, provider, u(7))
	if !res.Settled || !res.Cost.Eq(u(price*7)) {
		t.Fatalf("equal readings should settle at %d, got %+v", price*7, res)
	}
}

func TestUnmeteredBypassesTolerance(t *testing.T) {
	f := newFixture(t, market.Unmetered)
	id := f.order(t, client, 1)
	f.fund(t, client, provider)
	f.book.Confirm(f.tok, f.led, id, client)
	f.book.Confirm(f.tok, f.led, id, provider)

	f.book.Complete(f.tok, f.led, f.registry, id, client, u(1))
	res, err := f.book.Complete(f.tok, f.led, f.registry, id, provider, u(100))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !res.Settled {
		t.Fatal("unmetered order should settle regardless of disagreement")
	}
}

func TestBilateralCancel(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.activeOrder(t)

	res, err := f.book.BilateralCancel(f.tok, f.led, id, client)
	if err != nil || res.Resolved {
		t.Fatalf("first seek: resolved=%v err=%v", res.Resolved, err)
	}
	// seeking twice from the same side is idempotent
	if _, err := f.book.BilateralCancel(f.tok, f.led, id, client); err != nil {
		t.Fatalf("repeat seek: %v", err)
	}
	if !f.book.Get(id).Active {
		t.Fatal("lone seek must leave the order active")
	}
	checkLedger(t, f.led.Client, client, deposit-stake, stake, fee)
	checkLedger(t, f.led.Provider, provider, deposit-stake, stake, 2*fee)

	res, err = f.book.BilateralCancel(f.tok, f.led, id, provider)
	if err != nil || !res.Resolved {
		t.Fatalf("second seek: resolved=%v err=%v", res.Resolved, err)
	}
	checkDeleted(t, f.book, id)
	checkLedger(t, f.led.Client, client, deposit, 0, 0)
	checkLedger(t, f.led.Provider, provider, deposit, 0, 0)
}

func TestThirdPartyDenied(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.activeOrder(t)

	tests := []struct {
		name string
		call func() error
	}{
		{"confirm", func() error { _, err := f.book.Confirm(f.tok, f.led, id, outsider); return err }},
		{"cancel", func() error { _, err := f.book.Cancel(f.tok, f.led, f.registry, id, outsider); return err }},
		{"bilateral", func() error { _, err := f.book.BilateralCancel(f.tok, f.led, id, outsider); return err }},
		{"complete", func() error { _, err := f.book.Complete(f.tok, f.led, f.registry, id, outsider, u(1)); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, core.ErrAccessDenied) {
				t.Errorf("got %v, want ErrAccessDenied", err)
			}
		})
	}
	if !f.book.Get(id).Active {
		t.Error("denied calls mutated the order")
	}
}

func TestUnknownOrder(t *testing.T) {
	f := newFixture(t, market.Metered)
	missing := common.HexToHash("0xdead")
	if _, err := f.book.Confirm(f.tok, f.led, missing, client); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("confirm: got %v, want ErrNotFound", err)
	}
	if _, err := f.book.Cancel(f.tok, f.led, f.registry, missing, client); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("cancel: got %v, want ErrNotFound", err)
	}
}

func TestSelfDealing(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.order(t, provider, quantity)
	f.fund(t, provider, provider)

	res, err := f.book.Confirm(f.tok, f.led, id, provider)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !res.Activated || len(res.Roles) != 2 {
		t.Fatalf("self-dealer confirm should activate in one call: %+v", res)
	}
	checkLedger(t, f.led.Client, provider, deposit-stake, stake, fee)
	checkLedger(t, f.led.Provider, provider, deposit-stake, stake, 2*fee)

	done, err := f.book.Complete(f.tok, f.led, f.registry, id, provider, u(10))
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !done.Settled || !done.Cost.Eq(u(price*10)) {
		t.Fatalf("self-dealer reading should settle at price*reading: %+v", done)
	}
	checkLedger(t, f.led.Client, provider, deposit-price*10, 0, 0)
	checkLedger(t, f.led.Provider, provider, deposit+price*10, 0, 0)
}

func TestSelfDealingCancelChargesProviderRole(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.order(t, provider, quantity)
	f.fund(t, provider, provider)
	f.book.Confirm(f.tok, f.led, id, provider)

	res, err := f.book.Cancel(f.tok, f.led, f.registry, id, provider)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if res.Payer != ProviderRole {
		t.Errorf("payer = %s, want provider", res.Payer)
	}
	checkLedger(t, f.led.Client, provider, deposit+fee, 0, 0)
	checkLedger(t, f.led.Provider, provider, deposit-fee, 0, 0)
}

func TestSharedLedgerSelfDealing(t *testing.T) {
	f := newFixture(t, market.Metered)
	f.led.Provider = f.led.Client
	id := f.order(t, provider, quantity)
	f.led.Client.Deposit(f.tok, provider, u(deposit))

	if _, err := f.book.Confirm(f.tok, f.led, id, provider); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	checkLedger(t, f.led.Client, provider, deposit-2*stake, 2*stake, 3*fee)

	res, err := f.book.BilateralCancel(f.tok, f.led, id, provider)
	if err != nil || !res.Resolved {
		t.Fatalf("self-dealer bilateral cancel should resolve at once: %+v %v", res, err)
	}
	checkLedger(t, f.led.Client, provider, deposit, 0, 0)
}

func TestCancelFeeComesOutOfLockedStake(t *testing.T) {
	f := newFixture(t, market.Metered)
	id := f.activeOrder(t)
	// the client spends everything it had not staked
	if err := f.led.Client.Debit(f.tok, client, u(deposit-stake)); err != nil {
		t.Fatalf("debit: %v", err)
	}
	checkLedger(t, f.led.Client, client, 0, stake, fee)

	res, err := f.book.Cancel(f.tok, f.led, f.registry, id, client)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Charged || res.Payer != ClientRole {
		t.Fatalf("result = %+v, want client charged", res)
	}
	checkDeleted(t, f.book, id)
	checkLedger(t, f.led.Client, client, stake-fee, 0, 0)
	checkLedger(t, f.led.Provider, provider, deposit+fee, 0, 0)
}

func TestSharedLedgerSelfDealingCancel(t *testing.T) {
	f := newFixture(t, market.Metered)
	f.led.Provider = f.led.Client
	id := f.order(t, provider, quantity)
	if err := f.led.Client.Deposit(f.tok, provider, u(deposit)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if _, err := f.book.Confirm(f.tok, f.led, id, provider); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	res, err := f.book.Cancel(f.tok, f.led, f.registry, id, provider)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if !res.Charged || res.Payer != ProviderRole {
		t.Errorf("result = %+v, want provider charged", res)
	}
	// the fee is paid to itself, so both stakes come back whole
	checkLedger(t, f.led.Client, provider, deposit, 0, 0)
}
