//go:build !blst

package crypto

// ValidateBLSPubKey checks that key is a plausible compressed BLS12-381 G1
// public key. Without the "blst" build tag only the structural checks run;
// curve membership and subgroup order are not verified.
func ValidateBLSPubKey(key []byte) error {
	return validateBLSPubKeyFormat(key)
}
