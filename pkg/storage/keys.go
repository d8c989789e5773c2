package storage

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema:
//
//   bal:<ledger>:<address> → balanceRecord
//   mkt:<marketID>         → marketRecord
//   ord:<orderID>          → orderRecord
//   seq:market, seq:order  → 8-byte big-endian ID sequence
//
// Empty balances and deleted orders have no key.

const (
	prefixBalance = "bal:"
	prefixMarket  = "mkt:"
	prefixOrder   = "ord:"
)

var (
	keyMarketSeq = []byte("seq:market")
	keyOrderSeq  = []byte("seq:order")
)

// balanceKey returns the key for one account in one ledger
// Format: "bal:{ledger}:{address}"
func balanceKey(ledger string, addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, ledger, addr.Hex()))
}

// marketKey returns the key for a market
// Format: "mkt:{id}"
func marketKey(id common.Hash) []byte {
	return []byte(prefixMarket + id.Hex())
}

// orderKey returns the key for an order
// Format: "ord:{id}"
func orderKey(id common.Hash) []byte {
	return []byte(prefixOrder + id.Hex())
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
