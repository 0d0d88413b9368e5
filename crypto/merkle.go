// Merkle root computation over transaction orderings.
//
// An ordering commitment binds a batch to the exact sequence of transaction
// identifiers it orders. The root is a binary Merkle tree over the ordered
// leaves: levels are built by hashing adjacent pairs with Keccak256, and an
// odd trailing leaf is paired with itself. The leaf order matters, so two
// batches with the same members in a different sequence have different roots.
package crypto

import "github.com/cipherseq/cipherseq/core/types"

// MerkleRoot computes the root of a binary Merkle tree over the given leaves.
// Returns the zero hash for an empty leaf set and the leaf itself for a
// single-leaf tree.
func MerkleRoot(leaves []types.Hash) types.Hash {
	switch len(leaves) {
	case 0:
		return types.Hash{}
	case 1:
		return leaves[0]
	}

	level := make([]types.Hash, len(leaves))
	copy(level, leaves)

	for len(level) > 1 {
		next := make([]types.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}
			next = append(next, Keccak256Hash(left.Bytes(), right.Bytes()))
		}
		level = next
	}
	return level[0]
}
