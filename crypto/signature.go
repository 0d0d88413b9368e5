// ECDSA signature recovery for committee attestations.
//
// Keypers attest to decryption results with 65-byte compact signatures
// (R || S || V) over a 32-byte digest. Recovery maps a signature back to the
// signer's ledger address, which is then checked against the active keyper
// set. S is required to be in the lower half of the curve order, so a
// signature cannot be mauled into a second valid encoding.
package crypto

import (
	"errors"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/cipherseq/cipherseq/core/types"
)

// SignatureLength is the byte length of a compact signature: R (32) || S (32) || V (1).
const SignatureLength = 65

// Errors for signature recovery.
var (
	ErrSigInvalidLength = errors.New("crypto: signature must be 65 bytes")
	ErrSigInvalidV      = errors.New("crypto: invalid recovery id")
	ErrSigInvalidValues = errors.New("crypto: signature values out of range")
	ErrSigRecoverFailed = errors.New("crypto: public key recovery failed")
)

// RecoverSigner recovers the ledger address that produced sig over digest.
// V may be encoded as 0/1 (raw recovery id) or 27/28 (legacy offset).
// Malleable signatures (S in the upper half of the curve order) are rejected.
func RecoverSigner(digest types.Hash, sig []byte) (types.Address, error) {
	if len(sig) != SignatureLength {
		return types.Address{}, ErrSigInvalidLength
	}

	v := sig[64]
	if v == 27 || v == 28 {
		v -= 27
	}
	if v > 1 {
		return types.Address{}, ErrSigInvalidV
	}

	normalized := make([]byte, SignatureLength)
	copy(normalized, sig[:64])
	normalized[64] = v

	if !gethcrypto.ValidateSignatureValues(v, bigFromBytes(sig[:32]), bigFromBytes(sig[32:64]), true) {
		return types.Address{}, ErrSigInvalidValues
	}

	pub, err := gethcrypto.SigToPub(digest.Bytes(), normalized)
	if err != nil {
		return types.Address{}, ErrSigRecoverFailed
	}
	return types.BytesToAddress(gethcrypto.PubkeyToAddress(*pub).Bytes()), nil
}

func bigFromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// VerifySigner reports whether sig over digest recovers to want.
func VerifySigner(digest types.Hash, sig []byte, want types.Address) bool {
	got, err := RecoverSigner(digest, sig)
	if err != nil {
		return false
	}
	return got == want
}
