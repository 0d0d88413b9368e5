package node

import (
	"errors"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/ledger"
	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/dkg"
	"github.com/cipherseq/cipherseq/keyper"
	"github.com/cipherseq/cipherseq/log"
	"github.com/cipherseq/cipherseq/pipeline"
	"github.com/cipherseq/cipherseq/submission"
)

// Coordinator errors.
var (
	ErrInvalidConfig   = errors.New("node: invalid configuration")
	ErrBudgetExhausted = errors.New("node: execution budget exhausted")
)

// Coordinator hosts all components over a single ledger and performs the
// value movements around their bookkeeping. Every state mutation commits
// before the matching transfer is attempted; a failed refund transfer is
// reported and logged but never rolls the mutation back.
type Coordinator struct {
	config Config

	ledger   *ledger.Ledger
	registry *keyper.Registry
	keys     *dkg.KeyStore
	ceremony *dkg.Ceremony
	queue    *submission.Queue
	pipeline *pipeline.Pipeline

	logger *log.Logger
}

// NewCoordinator builds a fully wired coordinator from config.
func NewCoordinator(config Config, logger *log.Logger) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = log.Default()
	}
	logger = logger.Module("node")

	l := ledger.New()
	registry := keyper.NewRegistry(config.Registry, config.Admin, logger)
	keys := dkg.NewKeyStore(config.Keys, config.Admin, logger)
	ceremony := dkg.NewCeremony(config.Ceremony, registry, keys, config.Admin, logger)
	queue := submission.NewQueue(config.Queue, keys, logger)
	executor := NewLedgerExecutor(l, config.Vault, config.BaseExecutionCost, config.DataByteCost)
	pl := pipeline.NewPipeline(registry, keys, queue, executor, logger)

	return &Coordinator{
		config:   config,
		ledger:   l,
		registry: registry,
		keys:     keys,
		ceremony: ceremony,
		queue:    queue,
		pipeline: pl,
		logger:   logger,
	}, nil
}

// Component accessors. State-changing operations that move no value may be
// called on the components directly.

func (c *Coordinator) Ledger() *ledger.Ledger       { return c.ledger }
func (c *Coordinator) Registry() *keyper.Registry   { return c.registry }
func (c *Coordinator) Keys() *dkg.KeyStore          { return c.keys }
func (c *Coordinator) Ceremony() *dkg.Ceremony      { return c.ceremony }
func (c *Coordinator) Queue() *submission.Queue     { return c.queue }
func (c *Coordinator) Pipeline() *pipeline.Pipeline { return c.pipeline }

// RegisterKeyper moves the stake into the vault and registers the account.
// The deposit is returned if registration is rejected.
func (c *Coordinator) RegisterKeyper(account types.Address, pubKey []byte, endpoint string, stake *uint256.Int, height uint64) error {
	if stake == nil {
		return keyper.ErrStakeTooLow
	}
	if err := c.ledger.Transfer(account, c.config.Vault, stake); err != nil {
		return err
	}
	if err := c.registry.Register(account, pubKey, endpoint, stake, height); err != nil {
		// The deposit just arrived in the vault, this cannot fail.
		c.ledger.Transfer(c.config.Vault, account, stake)
		return err
	}
	return nil
}

// WithdrawStake zeroes the caller's recorded stake and pays it out of the
// vault. The payout failing does not restore the recorded stake; the
// amount is reported so the caller can claim it out of band.
func (c *Coordinator) WithdrawStake(caller types.Address) (*uint256.Int, error) {
	amount, err := c.registry.WithdrawStake(caller)
	if err != nil {
		return nil, err
	}
	if err := c.ledger.Transfer(c.config.Vault, caller, amount); err != nil {
		c.logger.Error("stake payout failed",
			"account", caller.Hex(), "amount", amount, "err", err)
		return amount, err
	}
	return amount, nil
}

// SubmitEncrypted moves the escrow into the vault and enqueues the
// encrypted transaction. The escrow is returned if admission fails.
func (c *Coordinator) SubmitEncrypted(sender types.Address, payload []byte, epoch uint64, budget uint64, feeCeiling, escrow *uint256.Int, height uint64) (types.Hash, error) {
	if escrow == nil {
		return types.Hash{}, submission.ErrInsufficientEscrow
	}
	if err := c.ledger.Transfer(sender, c.config.Vault, escrow); err != nil {
		return types.Hash{}, err
	}
	id, err := c.queue.Submit(sender, payload, epoch, budget, feeCeiling, escrow, height)
	if err != nil {
		c.ledger.Transfer(c.config.Vault, sender, escrow)
		return types.Hash{}, err
	}
	return id, nil
}

// CancelSubmission expires the sender's pending transaction and pays the
// escrow back.
func (c *Coordinator) CancelSubmission(caller types.Address, id types.Hash) error {
	refund, err := c.queue.Cancel(caller, id)
	if err != nil {
		return err
	}
	c.payRefund(refund)
	return nil
}

// ExpireSubmissions expires timed-out transactions and pays their escrows
// back. Callable by anyone. Returns the refunds issued.
func (c *Coordinator) ExpireSubmissions(ids []types.Hash, height uint64) []submission.Refund {
	refunds := c.queue.MarkExpired(ids, height)
	for _, r := range refunds {
		c.payRefund(r)
	}
	return refunds
}

// CommitOrdering records a batch commitment. Moves no value.
func (c *Coordinator) CommitOrdering(caller types.Address, batchID types.Hash, orderedIDs []types.Hash, orderingRoot types.Hash, signature []byte, height uint64) error {
	return c.pipeline.CommitOrdering(caller, batchID, orderedIDs, orderingRoot, signature, height)
}

// SubmitDecryption reveals an ordered transaction under a threshold proof.
// Moves no value.
func (c *Coordinator) SubmitDecryption(caller types.Address, id types.Hash, destination types.Address, data []byte, value *uint256.Int, proof []byte, height uint64) error {
	return c.pipeline.SubmitDecryption(caller, id, destination, data, value, proof, height)
}

// Execute runs a decrypted transaction and pays the unused escrow back to
// the original sender.
func (c *Coordinator) Execute(id types.Hash) error {
	refund, err := c.pipeline.Execute(id)
	if err != nil {
		return err
	}
	c.payRefund(refund)
	return nil
}

// payRefund settles a refund out of the vault. Failure is reported, never
// propagated: the bookkeeping that produced the refund has already
// committed and must not be rolled back.
func (c *Coordinator) payRefund(r submission.Refund) {
	if r.Amount == nil || r.Amount.IsZero() {
		return
	}
	if err := c.ledger.Transfer(c.config.Vault, r.Sender, r.Amount); err != nil {
		c.logger.Error("escrow refund failed",
			"id", r.ID.Hex(), "sender", r.Sender.Hex(), "amount", r.Amount, "err", err)
	}
}
