// Package xelis provides chain bindings for the contract miner: JSON-RPC
// access to a node and wallet, the contract event subscription, address
// decoding, and the proof-of-work hash primitives.
package xelis

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// HashSize is the byte length of every digest on this chain.
const HashSize = 32

// AddressSize is the byte length of a decoded miner address:
// a 1-byte prefix followed by the 32-byte public key payload.
const AddressSize = 33

// Hash is a 32-byte chain digest. Unlike Bitcoin hashes it is displayed
// in natural byte order.
type Hash [HashSize]byte

// String returns the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether the hash is all zeroes.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// ParseHash parses a 64-character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length: %d", len(b))
	}
	copy(h[:], b)
	return h, nil
}

// MinerAddress is the decoded 33-byte form of a bech32 wallet address.
// It is decoded once at startup and immutable for the process lifetime.
type MinerAddress [AddressSize]byte

// String returns the address bytes as lowercase hex.
func (a MinerAddress) String() string {
	return hex.EncodeToString(a[:])
}

// MiningParameters is a wholesale snapshot of the contract's mutable mining
// state plus the local template timestamp. A snapshot is immutable once it
// has been captured into a header digest; refreshes replace it atomically.
type MiningParameters struct {
	BlockHeight       uint64
	Difficulty        *big.Int
	PreviousHash      Hash
	TemplateTimestamp uint64 // unix milliseconds
}

// CandidateSolution is a nonce whose final hash met the difficulty target.
// It exists only between discovery and submission.
type CandidateSolution struct {
	Nonce             uint64
	HeaderDigest      Hash
	FinalHash         Hash
	TemplateTimestamp uint64
}

// Contract return codes for the submit entry point.
const (
	ReturnCodeSuccess        int64 = 0
	ReturnCodeSupplyReached  int64 = 1
	ReturnCodeTimestampRange int64 = 2
	ReturnCodeTimestampStale int64 = 3
	ReturnCodePoWRejected    int64 = 4
)

// ReturnCodeMeaning maps a contract return code to a human-readable
// description. Unknown codes are surfaced as-is for diagnostics.
func ReturnCodeMeaning(code int64) string {
	switch code {
	case ReturnCodeSuccess:
		return "success - block mined"
	case ReturnCodeSupplyReached:
		return "max supply reached - mining complete"
	case ReturnCodeTimestampRange:
		return "timestamp out of accepted window"
	case ReturnCodeTimestampStale:
		return "timestamp is stale"
	case ReturnCodePoWRejected:
		return "pow verification failed"
	default:
		return fmt.Sprintf("unknown return code %d", code)
	}
}
