// Package pipeline orders encrypted transactions into committed batches,
// verifies threshold decryption proofs against them, and drives execution
// of the revealed plaintext calls.
package pipeline

import (
	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
)

// OrderingCommitment is the immutable record of one committed batch.
type OrderingCommitment struct {
	BatchID      types.Hash
	OrderingRoot types.Hash
	TxCount      int
	CommitHeight uint64
	Committer    types.Address
	Signature    []byte
}

// DecryptedTx is the revealed counterpart of an encrypted transaction,
// created by a verified decryption proof. Paired 1:1 with the queue record.
type DecryptedTx struct {
	ID          types.Hash
	Destination types.Address
	Data        []byte
	Value       *uint256.Int
	DecryptedAt uint64
	Executed    bool
	Success     bool
}

// ExecutionResult reports what an executor consumed and transferred.
type ExecutionResult struct {
	// BudgetUsed is the portion of the execution budget consumed. The
	// pipeline clamps it to the recorded budget when charging fees.
	BudgetUsed uint64

	// Err is non-nil when the call reverted or could not run. Budget is
	// still charged for failed calls.
	Err error
}

// Executor performs the plaintext call of a decrypted transaction. The
// node wires in a ledger-backed implementation; tests use stubs.
type Executor interface {
	Execute(destination types.Address, data []byte, value *uint256.Int, budget uint64) ExecutionResult
}
