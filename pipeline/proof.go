package pipeline

import (
	"encoding/binary"
	"errors"

	"github.com/holiman/uint256"

	"github.com/cipherseq/cipherseq/core/types"
	"github.com/cipherseq/cipherseq/crypto"
)

// ErrProofInvalid is the only error surfaced by proof verification. Every
// failure mode collapses into it so callers cannot probe which specific
// check rejected a forged proof.
var ErrProofInvalid = errors.New("pipeline: decryption proof invalid")

// Proof wire layout, all fields big-endian:
//
//	epoch        8 bytes
//	commitment  32 bytes
//	signerCount  1 byte
//	signerCount × (signer 20 bytes ‖ signature 65 bytes)
const (
	proofHeaderLen = 8 + types.HashLength + 1
	proofEntryLen  = types.AddressLength + crypto.SignatureLength
)

// ComputeCommitment derives the binding commitment over the hidden fields
// of a submission: the ciphertext's payload hash and the revealed
// destination, call data, and value. Any single-field substitution by the
// committee produces a different commitment.
func ComputeCommitment(payloadHash types.Hash, destination types.Address, data []byte, value *uint256.Int) types.Hash {
	v := value.Bytes32()
	return crypto.Keccak256Hash(payloadHash[:], destination[:], data, v[:])
}

// proofEntry is one recovered signer slot of a decoded proof.
type proofEntry struct {
	signer    types.Address
	signature []byte
}

type decodedProof struct {
	epoch      uint64
	commitment types.Hash
	entries    []proofEntry
}

// decodeProof parses the wire form. Length checks run before anything
// else so oversized or truncated blobs are rejected cheaply.
func decodeProof(proof []byte) (*decodedProof, error) {
	if len(proof) < proofHeaderLen+proofEntryLen {
		return nil, ErrProofInvalid
	}
	count := int(proof[proofHeaderLen-1])
	if count == 0 || len(proof) != proofHeaderLen+count*proofEntryLen {
		return nil, ErrProofInvalid
	}

	p := &decodedProof{
		epoch:   binary.BigEndian.Uint64(proof[:8]),
		entries: make([]proofEntry, count),
	}
	copy(p.commitment[:], proof[8:8+types.HashLength])

	off := proofHeaderLen
	for i := 0; i < count; i++ {
		copy(p.entries[i].signer[:], proof[off:off+types.AddressLength])
		p.entries[i].signature = proof[off+types.AddressLength : off+proofEntryLen]
		off += proofEntryLen
	}
	return p, nil
}

// EncodeProof assembles the wire form of a decryption proof. Signers and
// signatures are paired positionally; signatures must be 65 bytes.
func EncodeProof(epoch uint64, commitment types.Hash, signers []types.Address, signatures [][]byte) ([]byte, error) {
	if len(signers) == 0 || len(signers) != len(signatures) || len(signers) > 255 {
		return nil, ErrProofInvalid
	}
	buf := make([]byte, 0, proofHeaderLen+len(signers)*proofEntryLen)
	buf = binary.BigEndian.AppendUint64(buf, epoch)
	buf = append(buf, commitment[:]...)
	buf = append(buf, byte(len(signers)))
	for i, signer := range signers {
		if len(signatures[i]) != crypto.SignatureLength {
			return nil, ErrProofInvalid
		}
		buf = append(buf, signer[:]...)
		buf = append(buf, signatures[i]...)
	}
	return buf, nil
}

// activeSet answers committee membership checks during verification.
type activeSet interface {
	IsActive(account types.Address) bool
}

// verifyProof runs the full check sequence: structural decode, epoch and
// commitment binding, then per-signer recovery with duplicate rejection.
// A nil return means at least threshold distinct active keypers signed
// the expected commitment.
func verifyProof(proof []byte, wantEpoch uint64, wantCommitment types.Hash, threshold int, committee activeSet) error {
	p, err := decodeProof(proof)
	if err != nil {
		return ErrProofInvalid
	}
	if p.epoch != wantEpoch || p.commitment != wantCommitment {
		return ErrProofInvalid
	}
	if len(p.entries) < threshold {
		return ErrProofInvalid
	}

	seen := make(map[types.Address]struct{}, len(p.entries))
	for _, entry := range p.entries {
		if _, dup := seen[entry.signer]; dup {
			return ErrProofInvalid
		}
		seen[entry.signer] = struct{}{}

		if !committee.IsActive(entry.signer) {
			return ErrProofInvalid
		}
		recovered, err := crypto.RecoverSigner(p.commitment, entry.signature)
		if err != nil || recovered != entry.signer {
			return ErrProofInvalid
		}
	}
	return nil
}
