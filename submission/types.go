// Package submission implements the encrypted submission queue. Users
// submit transactions encrypted under an epoch's threshold key; the queue
// validates them against the epoch key store, escrows their execution
// funds, and holds them in an append-only order until the committee commits
// an ordering and decrypts them.
package submission

import (
	"encoding/binary"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/crypto"
)

// TxStatus is the lifecycle state of an encrypted transaction.
//
// The machine is linear: Pending → Ordered → Decrypted → Executed/Failed.
// Pending and Ordered may expire on timeout, and Pending may be cancelled
// by the sender (also recorded as Expired). Executed, Failed, and Expired
// are terminal.
type TxStatus uint8

const (
	StatusPending TxStatus = iota
	StatusOrdered
	StatusDecrypted
	StatusExecuted
	StatusFailed
	StatusExpired
)

// String returns a human-readable status name.
func (s TxStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOrdered:
		return "ordered"
	case StatusDecrypted:
		return "decrypted"
	case StatusExecuted:
		return "executed"
	case StatusFailed:
		return "failed"
	case StatusExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition is possible.
func (s TxStatus) Terminal() bool {
	return s == StatusExecuted || s == StatusFailed || s == StatusExpired
}

// EncryptedTx is one encrypted submission held by the queue.
type EncryptedTx struct {
	ID               types.Hash
	Sender           types.Address
	EncryptedPayload []byte
	PayloadHash      types.Hash
	Epoch            uint64
	Budget           uint64
	FeeCeiling       *uint256.Int
	Escrow           *uint256.Int
	SubmittedAt      uint64
	Position         uint64
	Status           TxStatus
}

// Refund names an escrow amount to return to a sender after a cancel,
// expiry, or execution settles. Moving the value is the caller's job and
// happens strictly after the queue's bookkeeping is committed.
type Refund struct {
	ID     types.Hash
	Sender types.Address
	Amount *uint256.Int
}

// Stats aggregates queue activity counters.
type Stats struct {
	Submitted uint64
	Executed  uint64
	Failed    uint64
	Expired   uint64
	Cancelled uint64
}

// hashPayload computes the payload hash recorded alongside the ciphertext
// and later bound into the decryption proof commitment.
func hashPayload(payload []byte) types.Hash {
	return crypto.Keccak256Hash(payload)
}

// ComputeTxID derives the transaction identifier from the sender, the
// payload hash, and the submission height. The height term makes the same
// payload resubmittable at a later height while keeping the identifier
// deterministic for any single submission.
func ComputeTxID(sender types.Address, payloadHash types.Hash, height uint64) types.Hash {
	var h [8]byte
	binary.BigEndian.PutUint64(h[:], height)
	return crypto.Keccak256Hash(sender.Bytes(), payloadHash.Bytes(), h[:])
}
