package submission

import (
	"errors"
	"sync"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/dkg"
	"github.com/cipherseq/cipherseq/log"
)

// Queue errors.
var (
	ErrEmptyPayload      = errors.New("submission: encrypted payload is empty")
	ErrPayloadTooLarge   = errors.New("submission: payload exceeds maximum size")
	ErrBudgetOutOfBounds = errors.New("submission: execution budget out of bounds")
	ErrEpochKeyInvalid   = errors.New("submission: epoch key not valid")
	ErrInsufficientEscrow = errors.New("submission: escrow below budget times fee ceiling")
	ErrEscrowOverflow    = errors.New("submission: required escrow overflows")
	ErrIDCollision       = errors.New("submission: transaction id already exists")
	ErrQueueFull         = errors.New("submission: queue at capacity")
	ErrSenderThrottled   = errors.New("submission: per-sender submission cap reached")
	ErrUnknownTx         = errors.New("submission: unknown transaction")
	ErrNotSender         = errors.New("submission: caller is not the sender")
	ErrNotPending        = errors.New("submission: transaction is not pending")
	ErrNotOrdered        = errors.New("submission: transaction is not ordered")
	ErrNotDecrypted      = errors.New("submission: transaction is not decrypted")
)

// QueueConfig configures admission control for the submission queue.
type QueueConfig struct {
	// MaxPayloadSize is the largest accepted encrypted payload in bytes.
	MaxPayloadSize int

	// MinBudget and MaxBudget bound the execution budget.
	MinBudget uint64
	MaxBudget uint64

	// DecryptionTimeout is the number of heights after submission before a
	// still-undecrypted transaction may be expired permissionlessly.
	DecryptionTimeout uint64

	// MaxQueueSize caps outstanding (non-terminal) transactions. Zero
	// means unlimited.
	MaxQueueSize int

	// MaxPerSenderPerHeight caps submissions per sender per height. Zero
	// means unlimited.
	MaxPerSenderPerHeight int
}

// DefaultQueueConfig returns permissive admission defaults.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		MaxPayloadSize:    128 * 1024,
		MinBudget:         21_000,
		MaxBudget:         30_000_000,
		DecryptionTimeout: 1_000,
	}
}

type senderHeight struct {
	sender types.Address
	height uint64
}

// Queue holds encrypted transactions pending ordering and decryption.
// Thread-safe.
type Queue struct {
	mu sync.RWMutex

	config QueueConfig
	keys   *dkg.KeyStore

	txs      map[types.Hash]*EncryptedTx
	order    []types.Hash // append-only submission order
	bySender map[types.Address][]types.Hash
	byHeight map[senderHeight]int

	outstanding int // non-terminal transactions, maintained incrementally
	stats       Stats

	logger *log.Logger
}

// NewQueue creates an empty queue validating epochs against keys.
func NewQueue(config QueueConfig, keys *dkg.KeyStore, logger *log.Logger) *Queue {
	if logger == nil {
		logger = log.Default()
	}
	return &Queue{
		config:   config,
		keys:     keys,
		txs:      make(map[types.Hash]*EncryptedTx),
		bySender: make(map[types.Address][]types.Hash),
		byHeight: make(map[senderHeight]int),
		logger:   logger.Module("submission"),
	}
}

// Submit accepts an encrypted transaction into the queue. The escrow must
// already be held by the module vault; the queue only checks that it covers
// budget × feeCeiling. Returns the derived transaction id.
func (q *Queue) Submit(sender types.Address, payload []byte, epoch uint64, budget uint64, feeCeiling, escrow *uint256.Int, height uint64) (types.Hash, error) {
	if len(payload) == 0 {
		return types.Hash{}, ErrEmptyPayload
	}
	if q.config.MaxPayloadSize > 0 && len(payload) > q.config.MaxPayloadSize {
		return types.Hash{}, ErrPayloadTooLarge
	}
	if budget < q.config.MinBudget || budget > q.config.MaxBudget {
		return types.Hash{}, ErrBudgetOutOfBounds
	}
	if feeCeiling == nil || escrow == nil {
		return types.Hash{}, ErrInsufficientEscrow
	}
	if !q.keys.IsValid(epoch, height) {
		return types.Hash{}, ErrEpochKeyInvalid
	}

	required, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(budget), feeCeiling)
	if overflow {
		return types.Hash{}, ErrEscrowOverflow
	}
	if escrow.Lt(required) {
		return types.Hash{}, ErrInsufficientEscrow
	}

	payloadHash := hashPayload(payload)
	id := ComputeTxID(sender, payloadHash, height)

	q.mu.Lock()
	defer q.mu.Unlock()

	// A collision is a hard failure, never an overwrite.
	if _, exists := q.txs[id]; exists {
		return types.Hash{}, ErrIDCollision
	}
	if q.config.MaxQueueSize > 0 && q.outstanding >= q.config.MaxQueueSize {
		return types.Hash{}, ErrQueueFull
	}
	sh := senderHeight{sender, height}
	if q.config.MaxPerSenderPerHeight > 0 && q.byHeight[sh] >= q.config.MaxPerSenderPerHeight {
		return types.Hash{}, ErrSenderThrottled
	}

	tx := &EncryptedTx{
		ID:               id,
		Sender:           sender,
		EncryptedPayload: append([]byte(nil), payload...),
		PayloadHash:      payloadHash,
		Epoch:            epoch,
		Budget:           budget,
		FeeCeiling:       new(uint256.Int).Set(feeCeiling),
		Escrow:           new(uint256.Int).Set(escrow),
		SubmittedAt:      height,
		Status:           StatusPending,
	}
	q.txs[id] = tx
	q.order = append(q.order, id)
	q.bySender[sender] = append(q.bySender[sender], id)
	q.byHeight[sh]++
	q.outstanding++
	q.stats.Submitted++

	q.logger.Info("transaction submitted",
		"id", id.Hex(), "sender", sender.Hex(), "epoch", epoch, "height", height)
	return id, nil
}

// Cancel expires a still-pending transaction at the original sender's
// request. Returns the full escrow refund owed to the sender; the caller
// moves the value after this bookkeeping has committed.
func (q *Queue) Cancel(caller types.Address, id types.Hash) (Refund, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, ok := q.txs[id]
	if !ok {
		return Refund{}, ErrUnknownTx
	}
	if tx.Sender != caller {
		return Refund{}, ErrNotSender
	}
	if tx.Status != StatusPending {
		return Refund{}, ErrNotPending
	}

	tx.Status = StatusExpired
	q.outstanding--
	q.stats.Cancelled++
	q.stats.Expired++

	q.logger.Info("transaction cancelled", "id", id.Hex())
	return Refund{ID: id, Sender: tx.Sender, Amount: new(uint256.Int).Set(tx.Escrow)}, nil
}

// MarkExpired expires every listed transaction that is still Pending or
// Ordered and whose decryption timeout has elapsed at height. Ineligible
// ids are skipped, not errors: the call is permissionless and deliberately
// tolerant so stuck escrow can always be released. Returns the refunds owed.
func (q *Queue) MarkExpired(ids []types.Hash, height uint64) []Refund {
	q.mu.Lock()
	defer q.mu.Unlock()

	var refunds []Refund
	for _, id := range ids {
		tx, ok := q.txs[id]
		if !ok {
			continue
		}
		if tx.Status != StatusPending && tx.Status != StatusOrdered {
			continue
		}
		if height <= tx.SubmittedAt+q.config.DecryptionTimeout {
			continue
		}

		tx.Status = StatusExpired
		q.outstanding--
		q.stats.Expired++
		refunds = append(refunds, Refund{
			ID:     id,
			Sender: tx.Sender,
			Amount: new(uint256.Int).Set(tx.Escrow),
		})
		q.logger.Info("transaction expired", "id", id.Hex(), "height", height)
	}
	return refunds
}

// SetOrdered transitions a pending transaction to Ordered at the given
// batch position. Called by the ordering pipeline.
func (q *Queue) SetOrdered(id types.Hash, position uint64) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, ok := q.txs[id]
	if !ok {
		return ErrUnknownTx
	}
	if tx.Status != StatusPending {
		return ErrNotPending
	}
	tx.Status = StatusOrdered
	tx.Position = position
	return nil
}

// SetDecrypted transitions an ordered transaction to Decrypted. Called by
// the decryption pipeline after proof verification.
func (q *Queue) SetDecrypted(id types.Hash) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, ok := q.txs[id]
	if !ok {
		return ErrUnknownTx
	}
	if tx.Status != StatusOrdered {
		return ErrNotOrdered
	}
	tx.Status = StatusDecrypted
	return nil
}

// SetExecuted finalizes a decrypted transaction as Executed or Failed.
func (q *Queue) SetExecuted(id types.Hash, success bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	tx, ok := q.txs[id]
	if !ok {
		return ErrUnknownTx
	}
	if tx.Status != StatusDecrypted {
		return ErrNotDecrypted
	}
	if success {
		tx.Status = StatusExecuted
		q.stats.Executed++
	} else {
		tx.Status = StatusFailed
		q.stats.Failed++
	}
	q.outstanding--
	return nil
}

// Get returns a copy of the transaction record.
func (q *Queue) Get(id types.Hash) (EncryptedTx, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tx, ok := q.txs[id]
	if !ok {
		return EncryptedTx{}, false
	}
	return copyTx(tx), true
}

// StatusOf returns the transaction's current status.
func (q *Queue) StatusOf(id types.Hash) (TxStatus, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	tx, ok := q.txs[id]
	if !ok {
		return 0, ErrUnknownTx
	}
	return tx.Status, nil
}

// QueueDepth returns the number of outstanding (non-terminal) transactions.
func (q *Queue) QueueDepth() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.outstanding
}

// PendingBySender returns the ids of sender's still-pending transactions in
// submission order.
func (q *Queue) PendingBySender(sender types.Address) []types.Hash {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ids []types.Hash
	for _, id := range q.bySender[sender] {
		if q.txs[id].Status == StatusPending {
			ids = append(ids, id)
		}
	}
	return ids
}

// Stats returns a snapshot of the aggregate activity counters.
func (q *Queue) Stats() Stats {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.stats
}

// Timeout returns the configured decryption timeout in heights.
func (q *Queue) Timeout() uint64 {
	return q.config.DecryptionTimeout
}

func copyTx(tx *EncryptedTx) EncryptedTx {
	cp := *tx
	cp.EncryptedPayload = append([]byte(nil), tx.EncryptedPayload...)
	cp.FeeCeiling = new(uint256.Int).Set(tx.FeeCeiling)
	cp.Escrow = new(uint256.Int).Set(tx.Escrow)
	return cp
}
