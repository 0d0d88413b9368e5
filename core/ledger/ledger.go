// Package ledger models the hosting chain's account balances for stake and
// escrow movements. The coordination layer never holds value itself; it
// instructs the ledger to move funds between caller accounts and the module
// vault, and treats a failed transfer as reportable but never as a reason to
// roll back already-committed bookkeeping.
package ledger

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
)

var (
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrNilAmount           = errors.New("ledger: nil amount")
	ErrSelfTransfer        = errors.New("ledger: transfer to self")
)

// Transferrer moves value between ledger accounts. Components accept this
// interface so tests can substitute failing ledgers.
type Transferrer interface {
	Transfer(from, to types.Address, amount *uint256.Int) error
}

// Ledger is an in-memory account balance table. Thread-safe.
type Ledger struct {
	mu       sync.RWMutex
	balances map[types.Address]*uint256.Int
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		balances: make(map[types.Address]*uint256.Int),
	}
}

// Mint credits an account, creating it if absent. Used to seed test and
// genesis balances.
func (l *Ledger) Mint(account types.Address, amount *uint256.Int) {
	if amount == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.credit(account, amount)
}

// BalanceOf returns a copy of the account's balance, zero if absent.
func (l *Ledger) BalanceOf(account types.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if bal, ok := l.balances[account]; ok {
		return new(uint256.Int).Set(bal)
	}
	return uint256.NewInt(0)
}

// Transfer moves amount from one account to another. The debit and credit
// are applied atomically under the ledger lock; a failure leaves both
// balances untouched.
func (l *Ledger) Transfer(from, to types.Address, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	if from == to {
		return ErrSelfTransfer
	}
	if amount.IsZero() {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal, ok := l.balances[from]
	if !ok || bal.Lt(amount) {
		return ErrInsufficientBalance
	}
	bal.Sub(bal, amount)
	l.credit(to, amount)
	return nil
}

// credit adds amount to an account. Caller holds the lock.
func (l *Ledger) credit(account types.Address, amount *uint256.Int) {
	if bal, ok := l.balances[account]; ok {
		bal.Add(bal, amount)
		return
	}
	l.balances[account] = new(uint256.Int).Set(amount)
}
