package node

import (
	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/ledger"
	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/pipeline"
)

// LedgerExecutor performs revealed calls as plain value transfers out of
// the vault. Budget is charged as a base cost plus a per-byte cost on the
// call data; there is no contract execution environment behind it.
type LedgerExecutor struct {
	ledger   ledger.Transferrer
	vault    types.Address
	baseCost uint64
	byteCost uint64
}

// NewLedgerExecutor returns an executor settling against l from vault.
func NewLedgerExecutor(l ledger.Transferrer, vault types.Address, baseCost, byteCost uint64) *LedgerExecutor {
	return &LedgerExecutor{ledger: l, vault: vault, baseCost: baseCost, byteCost: byteCost}
}

// Execute transfers value from the vault to the destination and reports
// the budget consumed. A failed transfer fails the call; budget is still
// charged.
func (e *LedgerExecutor) Execute(destination types.Address, data []byte, value *uint256.Int, budget uint64) pipeline.ExecutionResult {
	used := e.baseCost + uint64(len(data))*e.byteCost
	if used > budget {
		return pipeline.ExecutionResult{BudgetUsed: budget, Err: ErrBudgetExhausted}
	}
	if value != nil && !value.IsZero() {
		if err := e.ledger.Transfer(e.vault, destination, value); err != nil {
			return pipeline.ExecutionResult{BudgetUsed: used, Err: err}
		}
	}
	return pipeline.ExecutionResult{BudgetUsed: used}
}
