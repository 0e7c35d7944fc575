package xelis

import (
	"bytes"
	"encoding/binary"
	"math/big"
	"sync"

	"github.com/zeebo/blake3"
	"golang.org/x/crypto/sha3"

	"github.com/xelminer/xelminer/pkg/errors"
)

// headerLen is the serialized block header length:
// LE u64 height | 33-byte miner address | 32-byte LE difficulty |
// 32-byte previous hash | LE u64 timestamp.
const headerLen = 8 + AddressSize + 32 + HashSize + 8

// maxTarget is 2^256 - 1, the easiest possible difficulty target.
var maxTarget = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// bigIntPool reduces allocations in target calculations on the refresh path.
var bigIntPool = sync.Pool{
	New: func() any {
		return new(big.Int)
	},
}

// HeaderDigest computes the BLAKE3-256 digest of the block template fields.
// The digest is computed once per search cycle and fixed for every nonce
// attempted against it. Pure and deterministic.
func HeaderDigest(blockHeight uint64, miner MinerAddress, difficulty *big.Int, prevHash Hash, timestamp uint64) Hash {
	var header [headerLen]byte

	binary.LittleEndian.PutUint64(header[0:8], blockHeight)
	copy(header[8:41], miner[:])
	difficultyToLE(difficulty, header[41:73])
	copy(header[73:105], prevHash[:])
	binary.LittleEndian.PutUint64(header[105:113], timestamp)

	return Hash(blake3.Sum256(header[:]))
}

// difficultyToLE writes difficulty as a 32-byte little-endian integer.
func difficultyToLE(difficulty *big.Int, dst []byte) {
	var be [32]byte
	difficulty.FillBytes(be[:])
	for i := 0; i < 32; i++ {
		dst[i] = be[31-i]
	}
}

// NonceHasher computes final hashes for successive nonces against a fixed
// header digest. It owns its scratch buffer, so FinalHash performs no heap
// allocation per invocation. Not safe for concurrent use.
type NonceHasher struct {
	buf [HashSize + 8]byte
}

// NewNonceHasher returns a hasher primed with the given header digest.
func NewNonceHasher(header Hash) *NonceHasher {
	h := &NonceHasher{}
	h.Reset(header)
	return h
}

// Reset re-primes the hasher with a new header digest.
func (h *NonceHasher) Reset(header Hash) {
	copy(h.buf[:HashSize], header[:])
}

// FinalHash computes SHA3-256(SHA3-256(header || LE u64 nonce)).
// This is the hot path of the whole miner.
func (h *NonceHasher) FinalHash(nonce uint64) Hash {
	binary.LittleEndian.PutUint64(h.buf[HashSize:], nonce)
	first := sha3.Sum256(h.buf[:])
	return Hash(sha3.Sum256(first[:]))
}

// FinalHash is the one-shot form of NonceHasher.FinalHash.
func FinalHash(header Hash, nonce uint64) Hash {
	h := NewNonceHasher(header)
	return h.FinalHash(nonce)
}

// TargetFromDifficulty computes target = (2^256 - 1) / difficulty.
// Difficulty must be a positive integer; a non-positive value signals a
// chain-state inconsistency and yields a validation error.
func TargetFromDifficulty(difficulty *big.Int) (*big.Int, error) {
	if difficulty == nil || difficulty.Sign() <= 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "target_from_difficulty",
			"difficulty must be a positive integer").
			WithContext("difficulty", difficulty)
	}
	return new(big.Int).Div(maxTarget, difficulty), nil
}

// TargetBytes renders a target as its 32-byte big-endian form, suitable for
// allocation-free comparisons in the search loop.
func TargetBytes(target *big.Int) [HashSize]byte {
	var b [HashSize]byte
	target.FillBytes(b[:])
	return b
}

// MeetsTarget reports whether the final hash, interpreted as a big-endian
// unsigned integer, is less than or equal to the target. Smaller hash wins.
func MeetsTarget(final Hash, target *[HashSize]byte) bool {
	return bytes.Compare(final[:], target[:]) <= 0
}

// MeetsDifficulty checks a final hash directly against a difficulty value.
// The search loop uses the precomputed TargetBytes/MeetsTarget pair instead;
// this form exists for one-off checks and for verifying the equivalence of
// the two paths.
func MeetsDifficulty(final Hash, difficulty *big.Int) (bool, error) {
	if difficulty == nil || difficulty.Sign() <= 0 {
		return false, errors.New(errors.ErrorTypeValidation, "meets_difficulty",
			"difficulty must be a positive integer")
	}

	target := bigIntPool.Get().(*big.Int)
	defer bigIntPool.Put(target)
	hashVal := bigIntPool.Get().(*big.Int)
	defer bigIntPool.Put(hashVal)

	target.Div(maxTarget, difficulty)
	hashVal.SetBytes(final[:])

	return hashVal.Cmp(target) <= 0, nil
}
