//go:build blst

// Strict BLS public key validation using the supranational/blst library.
//
// Build with: go build -tags blst
package crypto

import (
	blst "github.com/supranational/blst/bindings/go"
)

// ValidateBLSPubKey checks that key is a valid compressed BLS12-381 G1
// public key: structurally well-formed, on the curve, in the correct
// subgroup, and not the identity element.
func ValidateBLSPubKey(key []byte) error {
	if err := validateBLSPubKeyFormat(key); err != nil {
		return err
	}
	pk := new(blst.P1Affine).Uncompress(key)
	if pk == nil {
		return ErrBLSKeyGroup
	}
	// KeyValidate covers the subgroup check and rejects infinity.
	if !pk.KeyValidate() {
		return ErrBLSKeyGroup
	}
	return nil
}
