// Package types defines the core data structures shared by the cipherseq
// coordination layer: fixed-size hashes, account addresses, and BLS public
// key material.
package types

import (
	"encoding/hex"
	"fmt"
)

const (
	HashLength      = 32
	AddressLength   = 20
	BLSPubKeyLength = 48
)

// Hash represents the 32-byte Keccak256 hash of data.
type Hash [HashLength]byte

// Address represents the 20-byte identifier of a ledger account.
type Address [AddressLength]byte

// BLSPubKey is a compressed BLS12-381 G1 public key, the fixed-length key
// material recorded for keypers and finalized epoch keys.
type BLSPubKey [BLSPubKeyLength]byte

// BytesToHash converts bytes to Hash, left-padding if shorter than 32 bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	h.SetBytes(b)
	return h
}

// HexToHash converts a hex string to Hash.
func HexToHash(s string) Hash {
	return BytesToHash(fromHex(s))
}

// Bytes returns the byte representation of the hash.
func (h Hash) Bytes() []byte { return h[:] }

// Hex returns the hex string representation of the hash.
func (h Hash) Hex() string { return fmt.Sprintf("0x%x", h[:]) }

// SetBytes sets the hash from a byte slice, left-padding if necessary.
func (h *Hash) SetBytes(b []byte) {
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
}

// IsZero returns whether the hash is all zeros.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// String implements fmt.Stringer.
func (h Hash) String() string { return h.Hex() }

// BytesToAddress converts bytes to Address, left-padding if shorter than 20 bytes.
func BytesToAddress(b []byte) Address {
	var a Address
	a.SetBytes(b)
	return a
}

// HexToAddress converts a hex string to Address.
func HexToAddress(s string) Address {
	return BytesToAddress(fromHex(s))
}

// Bytes returns the byte representation of the address.
func (a Address) Bytes() []byte { return a[:] }

// Hex returns the hex string representation of the address.
func (a Address) Hex() string { return fmt.Sprintf("0x%x", a[:]) }

// SetBytes sets the address from a byte slice.
func (a *Address) SetBytes(b []byte) {
	if len(b) > AddressLength {
		b = b[len(b)-AddressLength:]
	}
	copy(a[AddressLength-len(b):], b)
}

// IsZero returns whether the address is all zeros.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String implements fmt.Stringer.
func (a Address) String() string { return a.Hex() }

// BytesToBLSPubKey converts bytes to a BLSPubKey. Bytes longer than 48 are
// truncated from the left, shorter input is left-padded.
func BytesToBLSPubKey(b []byte) BLSPubKey {
	var k BLSPubKey
	if len(b) > BLSPubKeyLength {
		b = b[len(b)-BLSPubKeyLength:]
	}
	copy(k[BLSPubKeyLength-len(b):], b)
	return k
}

// Bytes returns the byte representation of the public key.
func (k BLSPubKey) Bytes() []byte { return k[:] }

// Hex returns the hex string representation of the public key.
func (k BLSPubKey) Hex() string { return fmt.Sprintf("0x%x", k[:]) }

// IsZero returns whether the key is all zeros.
func (k BLSPubKey) IsZero() bool {
	return k == BLSPubKey{}
}

// String implements fmt.Stringer.
func (k BLSPubKey) String() string { return k.Hex() }

// fromHex decodes a hex string, stripping an optional "0x" prefix.
func fromHex(s string) []byte {
	if has0xPrefix(s) {
		s = s[2:]
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, _ := hex.DecodeString(s)
	return b
}

func has0xPrefix(s string) bool {
	return len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X')
}
