// Package node wires the keyper registry, DKG ceremony, epoch key store,
// submission queue and ordering pipeline together over one ledger, and
// settles every stake and escrow movement around their bookkeeping.
package node

import (
	"errors"
	"fmt"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/dkg"
	"github.com/cipherseq/cipherseq/keyper"
	"github.com/cipherseq/cipherseq/submission"
)

// Config holds all configuration for a coordinator.
type Config struct {
	// Admin is the administrator account for the registry, ceremony and
	// key store.
	Admin types.Address

	// Vault is the module account holding stakes and escrows.
	Vault types.Address

	// Registry configures committee membership and stake bounds.
	Registry keyper.RegistryConfig

	// Ceremony configures the DKG threshold and phase windows.
	Ceremony dkg.CeremonyConfig

	// Keys configures epoch key validity.
	Keys dkg.KeyStoreConfig

	// Queue configures submission admission control.
	Queue submission.QueueConfig

	// BaseExecutionCost is the budget charged for every executed call.
	BaseExecutionCost uint64

	// DataByteCost is the additional budget charged per call-data byte.
	DataByteCost uint64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Admin:             types.HexToAddress("0x01"),
		Vault:             types.HexToAddress("0x02"),
		Registry:          keyper.DefaultRegistryConfig(),
		Ceremony:          dkg.DefaultCeremonyConfig(),
		Keys:              dkg.DefaultKeyStoreConfig(),
		Queue:             submission.DefaultQueueConfig(),
		BaseExecutionCost: 21_000,
		DataByteCost:      16,
	}
}

// Validate checks configuration values for correctness.
func (c *Config) Validate() error {
	if c.Admin.IsZero() {
		return errors.New("config: admin address must not be zero")
	}
	if c.Vault.IsZero() {
		return errors.New("config: vault address must not be zero")
	}
	if c.Admin == c.Vault {
		return errors.New("config: admin and vault must differ")
	}
	if c.Registry.MinStake == nil {
		return errors.New("config: minimum stake must be set")
	}
	if c.Ceremony.Threshold < 1 {
		return fmt.Errorf("config: invalid ceremony threshold: %d", c.Ceremony.Threshold)
	}
	if c.Queue.MinBudget > c.Queue.MaxBudget {
		return fmt.Errorf("config: budget bounds inverted: %d > %d", c.Queue.MinBudget, c.Queue.MaxBudget)
	}
	if c.BaseExecutionCost == 0 {
		return errors.New("config: base execution cost must be positive")
	}
	return nil
}
