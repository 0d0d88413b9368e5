package pipeline

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/crypto"
	"github.com/cipherseq/cipherseq/dkg"
	"github.com/cipherseq/cipherseq/keyper"
	"github.com/cipherseq/cipherseq/log"
	"github.com/cipherseq/cipherseq/submission"
)

var (
	pAdmin  = types.HexToAddress("0xad")
	pSender = types.HexToAddress("0x51")
)

// stubExecutor records calls and returns a canned result.
type stubExecutor struct {
	result ExecutionResult
	calls  int

	lastDest   types.Address
	lastData   []byte
	lastValue  *uint256.Int
	lastBudget uint64

	// reenter, when set, calls back into the pipeline mid-execution to
	// exercise the reentrancy guard.
	reenter func()
}

func (e *stubExecutor) Execute(dest types.Address, data []byte, value *uint256.Int, budget uint64) ExecutionResult {
	e.calls++
	e.lastDest = dest
	e.lastData = data
	e.lastValue = value
	e.lastBudget = budget
	if e.reenter != nil {
		e.reenter()
	}
	return e.result
}

// fixture holds a wired pipeline with three active keypers, a finalized
// epoch key at threshold 2, and one ordered-ready submission.
type fixture struct {
	registry *keyper.Registry
	keys     *dkg.KeyStore
	queue    *submission.Queue
	executor *stubExecutor
	pipeline *Pipeline
	signers  []testSigner
}

const fixtureEpoch = 1

func newFixture(t *testing.T) *fixture {
	t.Helper()

	registry := keyper.NewRegistry(keyper.DefaultRegistryConfig(), pAdmin, log.Discard())
	blsKey := make([]byte, 48)
	blsKey[0] = 0xa0

	signers := make([]testSigner, 3)
	for i := range signers {
		signers[i] = newTestSigner(t)
		blsKey[47] = byte(i + 1)
		if err := registry.Register(signers[i].addr, blsKey, "keyper.example:9000", uint256.NewInt(100), 1); err != nil {
			t.Fatalf("Register keyper %d: %v", i, err)
		}
	}

	keys := dkg.NewKeyStore(dkg.KeyStoreConfig{KeyValidityWindow: 10_000}, pAdmin, log.Discard())
	blsKey[47] = 0xff
	if err := keys.Put(&dkg.EpochKey{
		Epoch:         fixtureEpoch,
		AggregatedKey: types.BytesToBLSPubKey(blsKey),
		Threshold:     2,
		KeyperCount:   3,
		ExpiryHeight:  10_000,
	}); err != nil {
		t.Fatalf("seed epoch key: %v", err)
	}

	queue := submission.NewQueue(submission.DefaultQueueConfig(), keys, log.Discard())
	executor := &stubExecutor{}
	return &fixture{
		registry: registry,
		keys:     keys,
		queue:    queue,
		executor: executor,
		pipeline: NewPipeline(registry, keys, queue, executor, log.Discard()),
		signers:  signers,
	}
}

// submit places one encrypted transaction and returns its id and record.
func (f *fixture) submit(t *testing.T, payload []byte, escrow uint64) types.Hash {
	t.Helper()
	id, err := f.queue.Submit(pSender, payload, fixtureEpoch, 21_000,
		uint256.NewInt(1), uint256.NewInt(escrow), 10)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	return id
}

// orderOne commits a single-transaction batch so the id reaches Ordered.
func (f *fixture) orderOne(t *testing.T, id types.Hash) {
	t.Helper()
	ids := []types.Hash{id}
	root := crypto.MerkleRoot(ids)
	batchID := crypto.Keccak256Hash([]byte("batch"), id[:])
	if err := f.pipeline.CommitOrdering(f.signers[0].addr, batchID, ids, root, []byte{0x01}, 20); err != nil {
		t.Fatalf("CommitOrdering: %v", err)
	}
}

// decrypt submits a valid two-signer proof revealing dest, data and value.
func (f *fixture) decrypt(t *testing.T, id types.Hash, dest types.Address, data []byte, value *uint256.Int) {
	t.Helper()
	tx, ok := f.queue.Get(id)
	if !ok {
		t.Fatal("transaction vanished")
	}
	commitment := ComputeCommitment(tx.PayloadHash, dest, data, value)
	proof := buildProof(t, fixtureEpoch, commitment, f.signers[:2])
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, data, value, proof, 30); err != nil {
		t.Fatalf("SubmitDecryption: %v", err)
	}
}

func TestCommitOrdering(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, []byte("a"), 21_000)
	b := f.submit(t, []byte("b"), 21_000)

	ids := []types.Hash{a, b}
	root := crypto.MerkleRoot(ids)
	batchID := crypto.Keccak256Hash([]byte("batch-1"))

	if err := f.pipeline.CommitOrdering(f.signers[0].addr, batchID, ids, root, []byte{0x01}, 20); err != nil {
		t.Fatalf("CommitOrdering: %v", err)
	}

	for i, id := range ids {
		tx, _ := f.queue.Get(id)
		if tx.Status != submission.StatusOrdered || tx.Position != uint64(i) {
			t.Errorf("tx %d: status=%v position=%d", i, tx.Status, tx.Position)
		}
	}

	batch, ok := f.pipeline.Batch(batchID)
	if !ok {
		t.Fatal("Batch should find the commitment")
	}
	if batch.TxCount != 2 || batch.OrderingRoot != root || batch.Committer != f.signers[0].addr {
		t.Errorf("unexpected commitment: %+v", batch)
	}
}

func TestCommitOrderingRejections(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, []byte("a"), 21_000)
	ids := []types.Hash{a}
	root := crypto.MerkleRoot(ids)
	batchID := crypto.Keccak256Hash([]byte("batch"))

	if err := f.pipeline.CommitOrdering(pSender, batchID, ids, root, nil, 20); err != ErrNotCommittee {
		t.Errorf("outsider: got %v, want ErrNotCommittee", err)
	}
	if err := f.pipeline.CommitOrdering(f.signers[0].addr, batchID, nil, root, nil, 20); err != ErrEmptyBatch {
		t.Errorf("empty batch: got %v, want ErrEmptyBatch", err)
	}
	wrongRoot := crypto.Keccak256Hash([]byte("wrong"))
	if err := f.pipeline.CommitOrdering(f.signers[0].addr, batchID, ids, wrongRoot, nil, 20); err != ErrRootMismatch {
		t.Errorf("wrong root: got %v, want ErrRootMismatch", err)
	}

	if err := f.pipeline.CommitOrdering(f.signers[0].addr, batchID, ids, root, nil, 20); err != nil {
		t.Fatalf("CommitOrdering: %v", err)
	}
	// Same batch, same root: idempotent. Different root: conflict.
	if err := f.pipeline.CommitOrdering(f.signers[1].addr, batchID, ids, root, nil, 21); err != nil {
		t.Errorf("idempotent re-commit: %v", err)
	}
	b := f.submit(t, []byte("b"), 21_000)
	otherIDs := []types.Hash{b}
	if err := f.pipeline.CommitOrdering(f.signers[0].addr, batchID, otherIDs, crypto.MerkleRoot(otherIDs), nil, 21); err != ErrBatchConflict {
		t.Errorf("conflicting root: got %v, want ErrBatchConflict", err)
	}
}

func TestCommitOrderingIdempotentPerTx(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, []byte("a"), 21_000)
	f.orderOne(t, a)
	f.decrypt(t, a, types.HexToAddress("0xd1"), []byte("call"), uint256.NewInt(0))

	// Re-committing the same batch leaves the decrypted entry untouched.
	ids := []types.Hash{a}
	batchID := crypto.Keccak256Hash([]byte("batch"), a[:])
	if err := f.pipeline.CommitOrdering(f.signers[1].addr, batchID, ids, crypto.MerkleRoot(ids), nil, 25); err != nil {
		t.Fatalf("re-commit: %v", err)
	}
	if status, _ := f.queue.StatusOf(a); status != submission.StatusDecrypted {
		t.Errorf("status = %v, want decrypted", status)
	}
}

func TestSubmitDecryption(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 25_000)
	f.orderOne(t, id)

	dest := types.HexToAddress("0xd1")
	data := []byte{0xca, 0x11}
	value := uint256.NewInt(2_000)
	f.decrypt(t, id, dest, data, value)

	if status, _ := f.queue.StatusOf(id); status != submission.StatusDecrypted {
		t.Fatalf("status = %v, want decrypted", status)
	}
	dec, ok := f.pipeline.Decrypted(id)
	if !ok {
		t.Fatal("Decrypted should find the record")
	}
	if dec.Destination != dest || dec.Value.Uint64() != 2_000 || dec.DecryptedAt != 30 {
		t.Errorf("unexpected record: %+v", dec)
	}
}

func TestSubmitDecryptionRejections(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 21_000)

	dest := types.HexToAddress("0xd1")
	data := []byte("call")
	value := uint256.NewInt(0)
	tx, _ := f.queue.Get(id)
	commitment := ComputeCommitment(tx.PayloadHash, dest, data, value)
	proof := buildProof(t, fixtureEpoch, commitment, f.signers[:2])

	if err := f.pipeline.SubmitDecryption(pSender, id, dest, data, value, proof, 30); err != ErrNotCommittee {
		t.Errorf("outsider: got %v, want ErrNotCommittee", err)
	}
	unknown := types.HexToHash("0x99")
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, unknown, dest, data, value, proof, 30); err != ErrUnknownTx {
		t.Errorf("unknown id: got %v, want ErrUnknownTx", err)
	}
	// Still pending, not ordered.
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, data, value, proof, 30); err != ErrNotOrdered {
		t.Errorf("pending tx: got %v, want ErrNotOrdered", err)
	}

	f.orderOne(t, id)

	over := uint256.NewInt(21_001)
	overCommit := ComputeCommitment(tx.PayloadHash, dest, data, over)
	overProof := buildProof(t, fixtureEpoch, overCommit, f.signers[:2])
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, data, over, overProof, 30); err != ErrValueTooLarge {
		t.Errorf("value over escrow: got %v, want ErrValueTooLarge", err)
	}

	// Proof commitment does not match the revealed fields.
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, []byte("other"), value, proof, 30); err != ErrProofInvalid {
		t.Errorf("substituted data: got %v, want ErrProofInvalid", err)
	}

	// Valid proof succeeds, second submission finds it no longer Ordered.
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, data, value, proof, 30); err != nil {
		t.Fatalf("SubmitDecryption: %v", err)
	}
	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, data, value, proof, 31); err != ErrNotOrdered {
		t.Errorf("double decryption: got %v, want ErrNotOrdered", err)
	}
}

func TestSubmitDecryptionEpochBinding(t *testing.T) {
	f := newFixture(t)

	// A second valid key exists for epoch 2; a proof bound to it must
	// still be rejected for an epoch-1 submission.
	blsKey := make([]byte, 48)
	blsKey[0] = 0xa0
	blsKey[47] = 0x02
	if err := f.keys.Put(&dkg.EpochKey{
		Epoch:         2,
		AggregatedKey: types.BytesToBLSPubKey(blsKey),
		Threshold:     2,
		KeyperCount:   3,
		ExpiryHeight:  10_000,
	}); err != nil {
		t.Fatalf("Put epoch 2: %v", err)
	}

	id := f.submit(t, []byte("ciphertext"), 21_000)
	f.orderOne(t, id)

	dest := types.HexToAddress("0xd1")
	value := uint256.NewInt(0)
	tx, _ := f.queue.Get(id)
	commitment := ComputeCommitment(tx.PayloadHash, dest, nil, value)
	proof := buildProof(t, 2, commitment, f.signers[:2])

	if err := f.pipeline.SubmitDecryption(f.signers[0].addr, id, dest, nil, value, proof, 30); err != ErrProofInvalid {
		t.Errorf("cross-epoch proof: got %v, want ErrProofInvalid", err)
	}
}

func TestExecuteSuccess(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 25_000)
	f.orderOne(t, id)

	dest := types.HexToAddress("0xd1")
	data := []byte{0xca, 0x11}
	value := uint256.NewInt(2_000)
	f.decrypt(t, id, dest, data, value)

	f.executor.result = ExecutionResult{BudgetUsed: 15_000}
	refund, err := f.pipeline.Execute(id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if f.executor.calls != 1 || f.executor.lastDest != dest || f.executor.lastBudget != 21_000 {
		t.Errorf("executor saw dest=%v budget=%d calls=%d", f.executor.lastDest, f.executor.lastBudget, f.executor.calls)
	}

	// escrow 25000 − fee 15000×1 − value 2000 = 8000.
	if refund.Amount.Uint64() != 8_000 || refund.Sender != pSender {
		t.Errorf("refund = %+v, want 8000 to sender", refund)
	}
	if status, _ := f.queue.StatusOf(id); status != submission.StatusExecuted {
		t.Errorf("status = %v, want executed", status)
	}
	dec, _ := f.pipeline.Decrypted(id)
	if !dec.Executed || !dec.Success {
		t.Errorf("decrypted record not finalized: %+v", dec)
	}
}

func TestExecuteFailure(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 25_000)
	f.orderOne(t, id)
	f.decrypt(t, id, types.HexToAddress("0xd1"), nil, uint256.NewInt(2_000))

	f.executor.result = ExecutionResult{BudgetUsed: 21_000, Err: errors.New("revert")}
	refund, err := f.pipeline.Execute(id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// Budget charged, value not transferred: 25000 − 21000 = 4000.
	if refund.Amount.Uint64() != 4_000 {
		t.Errorf("refund = %v, want 4000", refund.Amount)
	}
	if status, _ := f.queue.StatusOf(id); status != submission.StatusFailed {
		t.Errorf("status = %v, want failed", status)
	}

	// Terminal: replaying Execute fails.
	if _, err := f.pipeline.Execute(id); err != ErrAlreadyExecuted {
		t.Errorf("replay: got %v, want ErrAlreadyExecuted", err)
	}
}

func TestExecuteBudgetClamp(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 21_000)
	f.orderOne(t, id)
	f.decrypt(t, id, types.HexToAddress("0xd1"), nil, uint256.NewInt(0))

	// Executor reports more than the budget; the charge is clamped.
	f.executor.result = ExecutionResult{BudgetUsed: 50_000}
	refund, err := f.pipeline.Execute(id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if refund.Amount.Uint64() != 0 {
		t.Errorf("refund = %v, want 0 (full budget charged)", refund.Amount)
	}
}

func TestExecuteValueBeyondRemainingEscrow(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 21_000)
	f.orderOne(t, id)
	// Value fits the escrow alone but not escrow minus worst-case fees.
	f.decrypt(t, id, types.HexToAddress("0xd1"), nil, uint256.NewInt(5_000))

	refund, err := f.pipeline.Execute(id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	// The executor must never run: once it moves value there is no way
	// to claw it back if the escrow falls short of fees plus value.
	if f.executor.calls != 0 {
		t.Errorf("executor called %d times, want 0", f.executor.calls)
	}
	if status, _ := f.queue.StatusOf(id); status != submission.StatusFailed {
		t.Errorf("status = %v, want failed", status)
	}
	if refund.Amount.Uint64() != 21_000 {
		t.Errorf("refund = %v, want full escrow back", refund.Amount)
	}
}

func TestExecuteNotDecrypted(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 21_000)

	if _, err := f.pipeline.Execute(id); err != ErrNotDecrypted {
		t.Errorf("pending tx: got %v, want ErrNotDecrypted", err)
	}
	if _, err := f.pipeline.Execute(types.HexToHash("0x99")); err != ErrNotDecrypted {
		t.Errorf("unknown tx: got %v, want ErrNotDecrypted", err)
	}
}

func TestExecuteReentrancyGuard(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 21_000)
	f.orderOne(t, id)
	f.decrypt(t, id, types.HexToAddress("0xd1"), nil, uint256.NewInt(0))

	var reentryErr error
	f.executor.reenter = func() {
		_, reentryErr = f.pipeline.Execute(id)
	}
	if _, err := f.pipeline.Execute(id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if reentryErr != ErrReentrantCall {
		t.Errorf("reentrant call: got %v, want ErrReentrantCall", reentryErr)
	}
}

func TestEscrowConservation(t *testing.T) {
	f := newFixture(t)
	id := f.submit(t, []byte("ciphertext"), 30_000)
	f.orderOne(t, id)
	value := uint256.NewInt(4_000)
	f.decrypt(t, id, types.HexToAddress("0xd1"), nil, value)

	f.executor.result = ExecutionResult{BudgetUsed: 10_000}
	refund, err := f.pipeline.Execute(id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	// refund + fee + value must equal the original escrow exactly.
	total := new(uint256.Int).Set(refund.Amount)
	total.Add(total, uint256.NewInt(10_000))
	total.Add(total, value)
	if total.Uint64() != 30_000 {
		t.Errorf("escrow not conserved: refund+fee+value = %v, want 30000", total)
	}
}

func TestStatusQueries(t *testing.T) {
	f := newFixture(t)
	a := f.submit(t, []byte("a"), 21_000)
	b := f.submit(t, []byte("b"), 21_000)
	f.orderOne(t, a)
	unknown := types.HexToHash("0x77")

	if status, err := f.pipeline.StatusOf(a); err != nil || status != submission.StatusOrdered {
		t.Errorf("StatusOf = %v, %v", status, err)
	}
	if name := f.pipeline.StatusNameOf(unknown); name != "unknown" {
		t.Errorf("StatusNameOf(unknown) = %q", name)
	}

	names := f.pipeline.StatusBatch([]types.Hash{a, b, unknown})
	want := []string{"ordered", "pending", "unknown"}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("StatusBatch[%d] = %q, want %q", i, names[i], want[i])
		}
	}
}
