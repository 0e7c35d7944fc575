package xelis

import (
	"strings"

	"github.com/btcsuite/btcd/btcutil/bech32"

	"github.com/xelminer/xelminer/pkg/errors"
)

// addressPrefix is the human-readable part of a wallet address.
const addressPrefix = "xet"

// charset is the bech32 character set used by the address data part.
const charset = "qpzry9x8gf2tvdw0s3jn54khce6mua7l"

// DecodeAddress converts a human-readable "xet:..." wallet address into its
// fixed 33-byte form: a zero prefix byte followed by the first 32 bytes of
// the regrouped data part. Decoding failures are configuration errors; the
// process must not start with an undecodable miner address.
func DecodeAddress(address string) (MinerAddress, error) {
	var addr MinerAddress

	prefix, data, found := strings.Cut(address, ":")
	if !found || prefix != addressPrefix {
		return addr, errors.New(errors.ErrorTypeConfig, "decode_address",
			"address must have the form xet:<data>").
			WithContext("address", address)
	}

	// Map each character to its 5-bit value.
	fiveBit := make([]byte, len(data))
	for i, c := range data {
		idx := strings.IndexRune(charset, c)
		if idx < 0 {
			return addr, errors.New(errors.ErrorTypeConfig, "decode_address",
				"address contains a character outside the bech32 charset").
				WithContext("position", i)
		}
		fiveBit[i] = byte(idx)
	}

	// Regroup 5-bit values into bytes. Padding keeps the trailing partial
	// group; only the first 32 payload bytes are used.
	payload, err := bech32.ConvertBits(fiveBit, 5, 8, true)
	if err != nil {
		return addr, errors.Wrap(err, errors.ErrorTypeConfig, "decode_address",
			"failed to regroup address data")
	}
	if len(payload) < AddressSize-1 {
		return addr, errors.New(errors.ErrorTypeConfig, "decode_address",
			"address payload too short").
			WithContext("payload_len", len(payload))
	}

	copy(addr[1:], payload[:AddressSize-1])
	return addr, nil
}
