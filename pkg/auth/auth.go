// Package auth holds the capability tokens that gate mutation of the ledger,
// market registry, and order book.
//
// A component is constructed with the token of whoever builds it (the
// bootstrap procedure). Bootstrap then calls Transfer to hand the component
// to the orchestrator's token, which revokes its own. Every mutating call on a
// component presents a token and is rejected with core.ErrAccessDenied unless
// it is the current holder.
package auth

import (
	"fmt"
	"sync"

	"github.com/uhyunpark/marketstake/pkg/app/core"
)

// Token is an unforgeable capability. Only its pointer identity matters.
type Token struct {
	name string
}

// NewToken creates a fresh capability. The name is used in error messages only.
func NewToken(name string) *Token {
	return &Token{name: name}
}

func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

// Guard records which token currently holds mutation rights.
type Guard struct {
	mu     sync.RWMutex
	holder *Token
}

// NewGuard returns a guard held by owner.
func NewGuard(owner *Token) *Guard {
	return &Guard{holder: owner}
}

// Check fails with core.ErrAccessDenied unless t is the current holder.
func (g *Guard) Check(t *Token) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if t == nil || t != g.holder {
		return fmt.Errorf("capability %s: %w", t, core.ErrAccessDenied)
	}
	return nil
}

// Holds reports whether t is the current holder.
func (g *Guard) Holds(t *Token) bool {
	return g.Check(t) == nil
}

// Transfer moves mutation rights from the current holder to next. from must
// be the current holder; afterwards from is rejected by Check.
func (g *Guard) Transfer(from, next *Token) error {
	if next == nil {
		return fmt.Errorf("transfer to nil capability: %w", core.ErrInvalidState)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if from == nil || from != g.holder {
		return fmt.Errorf("capability %s: %w", from, core.ErrAccessDenied)
	}
	g.holder = next
	return nil
}
