package pipeline

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/crypto"
	"github.com/cipherseq/cipherseq/dkg"
	"github.com/cipherseq/cipherseq/keyper"
	"github.com/cipherseq/cipherseq/log"
	"github.com/cipherseq/cipherseq/submission"
)

// Pipeline errors. Proof failures are always ErrProofInvalid (proof.go).
var (
	ErrNotCommittee    = errors.New("pipeline: caller is not an active keyper")
	ErrEmptyBatch      = errors.New("pipeline: batch contains no transactions")
	ErrRootMismatch    = errors.New("pipeline: ordering root does not match batch contents")
	ErrBatchConflict   = errors.New("pipeline: batch id already committed with a different root")
	ErrUnknownTx       = errors.New("pipeline: unknown transaction")
	ErrNotOrdered      = errors.New("pipeline: transaction is not ordered")
	ErrNotDecrypted    = errors.New("pipeline: transaction is not decrypted")
	ErrValueTooLarge   = errors.New("pipeline: revealed value exceeds escrow")
	ErrAlreadyExecuted = errors.New("pipeline: transaction already executed")
	ErrReentrantCall   = errors.New("pipeline: reentrant execution")
)

// Pipeline coordinates ordering commitments, decryption-proof verification
// and execution on top of the submission queue.
type Pipeline struct {
	mu sync.Mutex

	registry *keyper.Registry
	keys     *dkg.KeyStore
	queue    *submission.Queue
	executor Executor

	batches   map[types.Hash]*OrderingCommitment
	decrypted map[types.Hash]*DecryptedTx
	inflight  map[types.Hash]bool // reentrancy guard for Execute

	logger *log.Logger
}

// NewPipeline wires the pipeline to the committee registry, the epoch key
// store, the submission queue, and an executor for revealed calls.
func NewPipeline(registry *keyper.Registry, keys *dkg.KeyStore, queue *submission.Queue, executor Executor, logger *log.Logger) *Pipeline {
	if logger == nil {
		logger = log.Default()
	}
	return &Pipeline{
		registry:  registry,
		keys:      keys,
		queue:     queue,
		executor:  executor,
		batches:   make(map[types.Hash]*OrderingCommitment),
		decrypted: make(map[types.Hash]*DecryptedTx),
		inflight:  make(map[types.Hash]bool),
		logger:    logger.Module("pipeline"),
	}
}

// CommitOrdering records a batch commitment and assigns positions to every
// listed transaction still pending. The ordering root must equal the
// Merkle root over the listed ids. Re-submitting an identical batch is a
// no-op for entries already past Pending; the same batch id with a
// different root is a hard failure.
func (p *Pipeline) CommitOrdering(caller types.Address, batchID types.Hash, orderedIDs []types.Hash, orderingRoot types.Hash, signature []byte, height uint64) error {
	if !p.registry.IsActive(caller) {
		return ErrNotCommittee
	}
	if len(orderedIDs) == 0 {
		return ErrEmptyBatch
	}
	if crypto.MerkleRoot(orderedIDs) != orderingRoot {
		return ErrRootMismatch
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.batches[batchID]; ok {
		if existing.OrderingRoot != orderingRoot {
			return ErrBatchConflict
		}
	} else {
		p.batches[batchID] = &OrderingCommitment{
			BatchID:      batchID,
			OrderingRoot: orderingRoot,
			TxCount:      len(orderedIDs),
			CommitHeight: height,
			Committer:    caller,
			Signature:    append([]byte(nil), signature...),
		}
	}

	ordered := 0
	for i, id := range orderedIDs {
		if err := p.queue.SetOrdered(id, uint64(i)); err == nil {
			ordered++
		}
	}
	p.logger.Info("ordering committed",
		"batch", batchID.Hex(), "txs", len(orderedIDs), "newly_ordered", ordered, "height", height)
	return nil
}

// SubmitDecryption reveals the plaintext fields of an ordered transaction
// backed by a threshold decryption proof. On success the transaction moves
// to Decrypted and the revealed record is stored for Execute.
func (p *Pipeline) SubmitDecryption(caller types.Address, id types.Hash, destination types.Address, data []byte, value *uint256.Int, proof []byte, height uint64) error {
	if !p.registry.IsActive(caller) {
		return ErrNotCommittee
	}
	if value == nil {
		value = uint256.NewInt(0)
	}

	tx, ok := p.queue.Get(id)
	if !ok {
		return ErrUnknownTx
	}
	if tx.Status != submission.StatusOrdered {
		return ErrNotOrdered
	}
	if value.Gt(tx.Escrow) {
		return ErrValueTooLarge
	}

	key := p.keys.KeyForEpoch(tx.Epoch)
	if !p.keys.IsValid(tx.Epoch, height) {
		return ErrProofInvalid
	}
	commitment := ComputeCommitment(tx.PayloadHash, destination, data, value)
	if err := verifyProof(proof, tx.Epoch, commitment, key.Threshold, p.registry); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.queue.SetDecrypted(id); err != nil {
		return err
	}
	p.decrypted[id] = &DecryptedTx{
		ID:          id,
		Destination: destination,
		Data:        append([]byte(nil), data...),
		Value:       new(uint256.Int).Set(value),
		DecryptedAt: height,
	}
	p.logger.Info("transaction decrypted",
		"id", id.Hex(), "destination", destination.Hex(), "height", height)
	return nil
}

// Execute runs the revealed call of a decrypted transaction. Callable by
// anyone. The status transition and fee accounting are committed before
// the refund is returned to the caller for settlement; a failed refund
// transfer must never roll back the execution result. Budget is charged
// on failed calls too.
func (p *Pipeline) Execute(id types.Hash) (submission.Refund, error) {
	p.mu.Lock()
	if p.inflight[id] {
		p.mu.Unlock()
		return submission.Refund{}, ErrReentrantCall
	}
	dec, ok := p.decrypted[id]
	if !ok {
		p.mu.Unlock()
		return submission.Refund{}, ErrNotDecrypted
	}
	if dec.Executed {
		p.mu.Unlock()
		return submission.Refund{}, ErrAlreadyExecuted
	}
	tx, ok := p.queue.Get(id)
	if !ok || tx.Status != submission.StatusDecrypted {
		p.mu.Unlock()
		return submission.Refund{}, ErrNotDecrypted
	}
	p.inflight[id] = true
	p.mu.Unlock()

	// The escrow must cover the worst case before the executor runs:
	// once the executor has moved value there is no way to claw it back.
	// budget × feeCeiling cannot overflow, it was checked at submission.
	worst := new(uint256.Int).Mul(uint256.NewInt(tx.Budget), tx.FeeCeiling)
	worst.Add(worst, dec.Value)

	var result ExecutionResult
	if worst.Gt(tx.Escrow) || worst.Lt(dec.Value) {
		result = ExecutionResult{Err: ErrValueTooLarge}
	} else {
		result = p.executor.Execute(dec.Destination, dec.Data, dec.Value, tx.Budget)
	}

	used := result.BudgetUsed
	if used > tx.Budget {
		used = tx.Budget
	}
	fee := new(uint256.Int).Mul(uint256.NewInt(used), tx.FeeCeiling)

	spent := new(uint256.Int).Set(fee)
	success := result.Err == nil
	if success {
		spent.Add(spent, dec.Value)
	}

	refund := new(uint256.Int).Sub(new(uint256.Int).Set(tx.Escrow), spent)

	p.mu.Lock()
	dec.Executed = true
	dec.Success = success
	err := p.queue.SetExecuted(id, success)
	delete(p.inflight, id)
	p.mu.Unlock()
	if err != nil {
		return submission.Refund{}, err
	}

	if !success && result.Err != nil {
		p.logger.Warn("execution failed", "id", id.Hex(), "err", result.Err)
	} else {
		p.logger.Info("transaction executed",
			"id", id.Hex(), "success", success, "budget_used", used)
	}
	return submission.Refund{ID: id, Sender: tx.Sender, Amount: refund}, nil
}

// Batch returns the recorded commitment for batchID.
func (p *Pipeline) Batch(batchID types.Hash) (OrderingCommitment, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	c, ok := p.batches[batchID]
	if !ok {
		return OrderingCommitment{}, false
	}
	cp := *c
	cp.Signature = append([]byte(nil), c.Signature...)
	return cp, true
}

// Decrypted returns the revealed record for id, if a verified decryption
// has been submitted.
func (p *Pipeline) Decrypted(id types.Hash) (DecryptedTx, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	d, ok := p.decrypted[id]
	if !ok {
		return DecryptedTx{}, false
	}
	cp := *d
	cp.Data = append([]byte(nil), d.Data...)
	cp.Value = new(uint256.Int).Set(d.Value)
	return cp, true
}

// StatusOf returns the queue status of id.
func (p *Pipeline) StatusOf(id types.Hash) (submission.TxStatus, error) {
	return p.queue.StatusOf(id)
}

// StatusNameOf returns the human-readable status of id, or "unknown".
func (p *Pipeline) StatusNameOf(id types.Hash) string {
	status, err := p.queue.StatusOf(id)
	if err != nil {
		return "unknown"
	}
	return status.String()
}

// StatusBatch returns the status names for a batch of ids, in order, for
// bulk polling. Unknown ids report "unknown".
func (p *Pipeline) StatusBatch(ids []types.Hash) []string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = p.StatusNameOf(id)
	}
	return names
}
