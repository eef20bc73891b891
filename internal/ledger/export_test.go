package ledger

import "github.com/veilledger/veilledger/internal/envelope"

// RecomputeHashForTest exposes the internal hash recomputation so tests
// can rebuild self-consistent forks after mutating header fields.
func (b *Block) RecomputeHashForTest() string {
	return b.recomputeHash()
}

// RebuildBlockForTest re-seals container into a copy of b, recomputing
// the Merkle root and hash so every block-level commitment stays valid
// and only record-level checks can observe the substituted contents.
func RebuildBlockForTest(b *Block, container *envelope.Container) (*Block, error) {
	serialized, err := container.Serialize()
	if err != nil {
		return nil, err
	}
	nb := *b
	nb.Envelope = serialized
	nb.MerkleRoot = ComputeMerkleRoot(containerHash(serialized), nb.BlindIndexes)
	nb.Hash = computeHash(nb.Index, nb.Timestamp, nb.MerkleRoot, nb.PreviousHash, nb.Validator)
	return &nb, nil
}
