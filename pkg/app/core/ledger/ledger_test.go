package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/uhyunpark/marketstake/pkg/app/core"
	"github.com/uhyunpark/marketstake/pkg/auth"
)

var (
	alice = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob   = common.HexToAddress("0xBB00000000000000000000000000000000000000")
)

func u(v uint64) *uint256.Int { return uint256.NewInt(v) }

func maxU256() *uint256.Int { return new(uint256.Int).Not(new(uint256.Int)) }

func newTestLedger(t *testing.T, name string) (*Ledger, *auth.Token) {
	t.Helper()
	tok := auth.NewToken("test")
	return New(name, tok), tok
}

func checkBalance(t *testing.T, l *Ledger, acct common.Address, pending, locked, gains uint64) {
	t.Helper()
	b := l.Balance(acct)
	if !b.Pending.Eq(u(pending)) {
		t.Errorf("%s pending = %s, want %d", l.Name(), b.Pending.Dec(), pending)
	}
	if !b.Locked.Eq(u(locked)) {
		t.Errorf("%s locked = %s, want %d", l.Name(), b.Locked.Dec(), locked)
	}
	if !b.Gains.Eq(u(gains)) {
		t.Errorf("%s gains = %s, want %d", l.Name(), b.Gains.Dec(), gains)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	l, tok := newTestLedger(t, "client")

	if err := l.Deposit(tok, alice, u(100)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	checkBalance(t, l, alice, 100, 0, 0)

	out, err := l.Withdraw(tok, alice)
	if err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if !out.Eq(u(100)) {
		t.Errorf("withdrawn = %s, want 100", out.Dec())
	}
	checkBalance(t, l, alice, 0, 0, 0)

	// Withdrawing an empty balance is a zero payout, not an error
	out, err = l.Withdraw(tok, alice)
	if err != nil {
		t.Fatalf("empty withdraw failed: %v", err)
	}
	if !out.IsZero() {
		t.Errorf("empty withdraw paid %s", out.Dec())
	}
	if len(l.Accounts()) != 0 {
		t.Errorf("empty accounts should not be stored, got %d", len(l.Accounts()))
	}
}

func TestDepositOverflow(t *testing.T) {
	l, tok := newTestLedger(t, "client")
	if err := l.Deposit(tok, alice, maxU256()); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	err := l.Deposit(tok, alice, u(1))
	if !errors.Is(err, core.ErrArithmeticOverflow) {
		t.Fatalf("got %v, want ErrArithmeticOverflow", err)
	}
	if !l.Pending(alice).Eq(maxU256()) {
		t.Error("failed deposit changed the balance")
	}
}

func TestLockUnlock(t *testing.T) {
	l, tok := newTestLedger(t, "provider")
	l.Deposit(tok, alice, u(1000))

	if err := l.Lock(tok, alice, u(1001)); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("over-lock: got %v, want ErrInsufficientFunds", err)
	}
	checkBalance(t, l, alice, 1000, 0, 0)

	if err := l.Lock(tok, alice, u(600)); err != nil {
		t.Fatalf("lock failed: %v", err)
	}
	checkBalance(t, l, alice, 400, 600, 0)

	if err := l.Unlock(tok, alice, u(601)); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("over-unlock: got %v, want ErrInsufficientFunds", err)
	}
	if err := l.Unlock(tok, alice, u(600)); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	checkBalance(t, l, alice, 1000, 0, 0)
}

func TestUnlockToOtherLedger(t *testing.T) {
	tok := auth.NewToken("test")
	client := New("client", tok)
	provider := New("provider", tok)

	if err := client.Deposit(tok, alice, u(500)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := client.Lock(tok, alice, u(300)); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if err := client.UnlockTo(tok, alice, u(100), provider, bob); err != nil {
		t.Fatalf("unlockTo failed: %v", err)
	}
	// 100 of the 300 locked left for bob; 200 stays locked
	checkBalance(t, client, alice, 200, 200, 0)
	checkBalance(t, provider, bob, 100, 0, 0)

	// releasing to alice's own pending is a plain unlock
	if err := client.UnlockTo(tok, alice, u(200), client, alice); err != nil {
		t.Fatalf("unlockTo self failed: %v", err)
	}
	checkBalance(t, client, alice, 400, 0, 0)

	if err := client.UnlockTo(tok, alice, u(1), provider, bob); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Errorf("unlockTo with nothing locked: got %v, want ErrInsufficientFunds", err)
	}
	checkBalance(t, client, alice, 400, 0, 0)
}

func TestTransfer(t *testing.T) {
	tok := auth.NewToken("test")
	client := New("client", tok)
	provider := New("provider", tok)
	client.Deposit(tok, alice, u(50))

	if err := client.Transfer(tok, alice, u(51), provider, bob); !errors.Is(err, core.ErrInsufficientFunds) {
		t.Fatalf("got %v, want ErrInsufficientFunds", err)
	}
	checkBalance(t, provider, bob, 0, 0, 0)

	provider.Deposit(tok, bob, maxU256())
	if err := client.Transfer(tok, alice, u(1), provider, bob); !errors.Is(err, core.ErrArithmeticOverflow) {
		t.Fatalf("got %v, want ErrArithmeticOverflow", err)
	}
	checkBalance(t, client, alice, 50, 0, 0)

	// same ledger, same account: balance unchanged
	if err := client.Transfer(tok, alice, u(20), client, alice); err != nil {
		t.Fatalf("self transfer failed: %v", err)
	}
	checkBalance(t, client, alice, 50, 0, 0)
}

func TestGains(t *testing.T) {
	l, tok := newTestLedger(t, "client")
	if err := l.CreditGains(tok, alice, u(1000)); err != nil {
		t.Fatalf("credit gains failed: %v", err)
	}
	l.CreditGains(tok, alice, u(1000))
	checkBalance(t, l, alice, 0, 0, 2000)

	cleared, err := l.ClearGains(tok, alice)
	if err != nil {
		t.Fatalf("clear gains failed: %v", err)
	}
	if !cleared.Eq(u(2000)) {
		t.Errorf("cleared = %s, want 2000", cleared.Dec())
	}
	checkBalance(t, l, alice, 0, 0, 0)
}

func TestUnauthorizedCallerRejected(t *testing.T) {
	l, tok := newTestLedger(t, "client")
	l.Deposit(tok, alice, u(10))
	intruder := auth.NewToken("intruder")

	tests := []struct {
		name string
		call func() error
	}{
		{"deposit", func() error { return l.Deposit(intruder, alice, u(1)) }},
		{"withdraw", func() error { _, err := l.Withdraw(intruder, alice); return err }},
		{"lock", func() error { return l.Lock(intruder, alice, u(1)) }},
		{"unlock", func() error { return l.Unlock(intruder, alice, u(1)) }},
		{"debit", func() error { return l.Debit(intruder, alice, u(1)) }},
		{"credit gains", func() error { return l.CreditGains(intruder, alice, u(1)) }},
		{"clear gains", func() error { _, err := l.ClearGains(intruder, alice); return err }},
		{"begin", func() error { return l.Begin(intruder) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.call(); !errors.Is(err, core.ErrAccessDenied) {
				t.Errorf("got %v, want ErrAccessDenied", err)
			}
		})
	}
	checkBalance(t, l, alice, 10, 0, 0)
}

func TestRollbackRestoresTouchedAccounts(t *testing.T) {
	l, tok := newTestLedger(t, "client")
	l.Deposit(tok, alice, u(100))

	if err := l.Begin(tok); err != nil {
		t.Fatalf("begin failed: %v", err)
	}
	l.Lock(tok, alice, u(40))
	l.CreditGains(tok, alice, u(5))
	l.Deposit(tok, bob, u(9))

	changes, err := l.Changes(tok)
	if err != nil {
		t.Fatalf("changes failed: %v", err)
	}
	if len(changes) != 2 || changes[0].Account != alice || changes[1].Account != bob {
		t.Fatalf("changes = %+v, want alice then bob", changes)
	}

	if err := l.Rollback(tok); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	checkBalance(t, l, alice, 100, 0, 0)
	checkBalance(t, l, bob, 0, 0, 0)
	if len(l.Accounts()) != 1 {
		t.Errorf("accounts = %d, want 1", len(l.Accounts()))
	}

	// After commit nothing is left to undo
	l.Begin(tok)
	l.Deposit(tok, bob, u(9))
	l.Commit(tok)
	l.Rollback(tok)
	checkBalance(t, l, bob, 9, 0, 0)
}
