// BLS public key well-formedness checks.
//
// The coordination layer never performs BLS arithmetic (key-share math and
// aggregation happen off-chain in the keyper network), but it does record
// 48-byte compressed G1 public keys for keypers and finalized epoch keys.
// Before a key is recorded it must at least be structurally plausible:
// correct length, compression bit set, not the point at infinity, not all
// zero. A full subgroup check is available when built with the "blst" tag
// (see blskey_blst.go).
package crypto

import "errors"

// BLS pubkey validation errors.
var (
	ErrBLSKeyLength   = errors.New("crypto: bls pubkey must be 48 bytes")
	ErrBLSKeyFormat   = errors.New("crypto: bls pubkey compression bit not set")
	ErrBLSKeyInfinity = errors.New("crypto: bls pubkey is the point at infinity")
	ErrBLSKeyZero     = errors.New("crypto: bls pubkey is all zero")
	ErrBLSKeyGroup    = errors.New("crypto: bls pubkey failed group check")
)

// validateBLSPubKeyFormat performs the backend-independent structural checks
// on a compressed G1 public key.
func validateBLSPubKeyFormat(key []byte) error {
	if len(key) != 48 {
		return ErrBLSKeyLength
	}
	// Compressed points carry the compression flag in the top bit.
	if key[0]&0x80 == 0 {
		if allZero(key) {
			return ErrBLSKeyZero
		}
		return ErrBLSKeyFormat
	}
	// Infinity flag set means the identity element, never a valid pubkey.
	if key[0]&0x40 != 0 {
		return ErrBLSKeyInfinity
	}
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
