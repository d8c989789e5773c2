package core

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Identity is a pre-authenticated caller. The runtime supplies it; the core
// never derives or verifies it.
type Identity = common.Address

// ID identifies markets and orders. The zero ID is never issued.
type ID = common.Hash

// DeriveID hashes (tag, owner, seq) into an identifier.
// Example: DeriveID("market", provider, 1) → keccak256("market" || provider || seq)
func DeriveID(tag string, owner Identity, seq uint64) ID {
	return crypto.Keccak256Hash([]byte(tag), owner.Bytes(), uint256.NewInt(seq).PaddedBytes(32))
}
