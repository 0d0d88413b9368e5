// Package keyper implements the committee membership registry. Keypers are
// the committee members that run the off-chain threshold key generation and
// decryption; the registry tracks their identity, key material, endpoint,
// stake, and active flag, and is the leaf dependency for quorum checks in
// the ceremony and for signer checks in proof verification.
package keyper

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/crypto"
	"github.com/cipherseq/cipherseq/log"
)

// Registry errors.
var (
	ErrAlreadyRegistered = errors.New("keyper: identity already active")
	ErrStakeTooLow       = errors.New("keyper: stake below minimum")
	ErrMalformedKey      = errors.New("keyper: malformed key material")
	ErrRegistryFull      = errors.New("keyper: committee at capacity")
	ErrUnknownKeyper     = errors.New("keyper: unknown identity")
	ErrAlreadyInactive   = errors.New("keyper: already inactive")
	ErrNotAuthorized     = errors.New("keyper: caller not authorized")
	ErrStillActive       = errors.New("keyper: stake locked while active")
	ErrNoStake           = errors.New("keyper: no stake to withdraw")
)

// Keyper is one committee member's identity record.
type Keyper struct {
	Account      types.Address
	PubKey       types.BLSPubKey
	Endpoint     string
	RegisteredAt uint64
	Active       bool
	Stake        *uint256.Int
	SlashCount   uint64
}

// SlashEvent records one stake reduction for the slash history query.
type SlashEvent struct {
	Account types.Address
	Amount  *uint256.Int
	Reason  string
}

// RegistryConfig configures the keyper registry.
type RegistryConfig struct {
	// MinStake is the minimum stake required to register and to stay active.
	MinStake *uint256.Int

	// MaxKeypers caps committee size. Zero means unlimited.
	MaxKeypers int
}

// DefaultRegistryConfig returns permissive defaults suitable for tests.
func DefaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		MinStake:   uint256.NewInt(1),
		MaxKeypers: 0,
	}
}

// Registry tracks committee membership and stake. Thread-safe.
type Registry struct {
	mu sync.RWMutex

	config RegistryConfig
	admin  types.Address

	keypers map[types.Address]*Keyper
	slashes []SlashEvent

	// activeCount is maintained incrementally on every activation change,
	// never recomputed by full scan outside of RecountActive.
	activeCount int

	logger *log.Logger
}

// NewRegistry creates an empty registry administered by admin.
func NewRegistry(config RegistryConfig, admin types.Address, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Default()
	}
	return &Registry{
		config:  config,
		admin:   admin,
		keypers: make(map[types.Address]*Keyper),
		logger:  logger.Module("keyper"),
	}
}

// Register adds account to the committee. A previously deactivated identity
// may re-register; any unreturned stake is folded into the fresh stake and
// the slash history is preserved. Fails if the identity is already active,
// the stake is below minimum, the key material is malformed, or the
// committee is at capacity.
func (r *Registry) Register(account types.Address, pubKey []byte, endpoint string, stake *uint256.Int, height uint64) error {
	if stake == nil || stake.Lt(r.config.MinStake) {
		return ErrStakeTooLow
	}
	if err := crypto.ValidateBLSPubKey(pubKey); err != nil {
		return ErrMalformedKey
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, known := r.keypers[account]
	if known && existing.Active {
		return ErrAlreadyRegistered
	}
	if r.config.MaxKeypers > 0 && r.activeCount >= r.config.MaxKeypers {
		return ErrRegistryFull
	}

	total := new(uint256.Int).Set(stake)
	var slashCount uint64
	if known {
		total.Add(total, existing.Stake)
		slashCount = existing.SlashCount
	}

	r.keypers[account] = &Keyper{
		Account:      account,
		PubKey:       types.BytesToBLSPubKey(pubKey),
		Endpoint:     endpoint,
		RegisteredAt: height,
		Active:       true,
		Stake:        total,
		SlashCount:   slashCount,
	}
	r.activeCount++

	r.logger.Info("keyper registered",
		"account", account.Hex(), "stake", total.String(), "height", height)
	return nil
}

// Deactivate removes account from the active set. Callable by the keyper
// itself or the administrator.
func (r *Registry) Deactivate(caller, account types.Address, reason string) error {
	if caller != account && caller != r.admin {
		return ErrNotAuthorized
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keypers[account]
	if !ok {
		return ErrUnknownKeyper
	}
	if !k.Active {
		return ErrAlreadyInactive
	}

	k.Active = false
	r.activeCount--

	r.logger.Info("keyper deactivated", "account", account.Hex(), "reason", reason)
	return nil
}

// Slash reduces account's stake by amount. Administrator only. If the
// remaining stake drops below the minimum the keyper is auto-deactivated.
// Slashing more than the remaining stake burns everything that is left.
func (r *Registry) Slash(caller, account types.Address, amount *uint256.Int, reason string) error {
	if caller != r.admin {
		return ErrNotAuthorized
	}
	if amount == nil {
		return ErrStakeTooLow
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keypers[account]
	if !ok {
		return ErrUnknownKeyper
	}

	burned := new(uint256.Int).Set(amount)
	if k.Stake.Lt(burned) {
		burned.Set(k.Stake)
	}
	k.Stake.Sub(k.Stake, burned)
	k.SlashCount++
	r.slashes = append(r.slashes, SlashEvent{
		Account: account,
		Amount:  burned,
		Reason:  reason,
	})

	if k.Active && k.Stake.Lt(r.config.MinStake) {
		k.Active = false
		r.activeCount--
		r.logger.Warn("keyper auto-deactivated after slash",
			"account", account.Hex(), "remaining", k.Stake.String())
	}

	r.logger.Info("keyper slashed",
		"account", account.Hex(), "amount", burned.String(), "reason", reason)
	return nil
}

// WithdrawStake releases the caller's stake. Only registered, inactive
// keypers may withdraw. Returns the released amount; moving the value is
// the caller's responsibility with the module vault, and a failed transfer
// must not undo the withdrawal bookkeeping.
func (r *Registry) WithdrawStake(caller types.Address) (*uint256.Int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k, ok := r.keypers[caller]
	if !ok {
		return nil, ErrUnknownKeyper
	}
	if k.Active {
		return nil, ErrStillActive
	}
	if k.Stake.IsZero() {
		return nil, ErrNoStake
	}

	amount := new(uint256.Int).Set(k.Stake)
	k.Stake.Clear()

	r.logger.Info("stake withdrawn", "account", caller.Hex(), "amount", amount.String())
	return amount, nil
}

// Get returns a copy of the identity record for account.
func (r *Registry) Get(account types.Address) (Keyper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	k, ok := r.keypers[account]
	if !ok {
		return Keyper{}, false
	}
	cp := *k
	cp.Stake = new(uint256.Int).Set(k.Stake)
	return cp, true
}

// IsActive reports whether account is an active committee member.
func (r *Registry) IsActive(account types.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keypers[account]
	return ok && k.Active
}

// ActiveCount returns the incrementally maintained active member count.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.activeCount
}

// ActiveAccounts returns the accounts of all active keypers.
func (r *Registry) ActiveAccounts() []types.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	accounts := make([]types.Address, 0, r.activeCount)
	for addr, k := range r.keypers {
		if k.Active {
			accounts = append(accounts, addr)
		}
	}
	return accounts
}

// StakeOf returns a copy of account's current stake, zero if unknown.
func (r *Registry) StakeOf(account types.Address) *uint256.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if k, ok := r.keypers[account]; ok {
		return new(uint256.Int).Set(k.Stake)
	}
	return uint256.NewInt(0)
}

// SlashHistory returns the recorded slash events for account, oldest first.
func (r *Registry) SlashHistory(account types.Address) []SlashEvent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var events []SlashEvent
	for _, e := range r.slashes {
		if e.Account == account {
			events = append(events, e)
		}
	}
	return events
}

// RecountActive walks the full member table and returns the number of
// active keypers. Diagnostic only; the incremental counter is authoritative.
func (r *Registry) RecountActive() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, k := range r.keypers {
		if k.Active {
			count++
		}
	}
	return count
}

// Admin returns the administrator account.
func (r *Registry) Admin() types.Address {
	return r.admin
}
