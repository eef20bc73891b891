package ledger

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// ComputeMerkleRoot builds the commitment over a block's body: the hash of
// its serialised envelope container, followed by one SHA-256 leaf per
// blind index it carries. Leaves are hashed pairwise bottom-up; an odd
// leaf at any level is promoted unchanged rather than paired with itself.
// An empty leaf set (no container, no blind indexes — never expected in
// practice, but defined for completeness) yields the sentinel root "0".
func ComputeMerkleRoot(containerHash []byte, blindIndexes []string) string {
	leaves := make([][]byte, 0, 1+len(blindIndexes))
	if len(containerHash) > 0 {
		leaves = append(leaves, containerHash)
	}
	for _, bi := range blindIndexes {
		h := sha256.Sum256([]byte(bi))
		leaves = append(leaves, h[:])
	}

	if len(leaves) == 0 {
		return ledgerconst.EmptyMerkleRoot
	}

	for len(leaves) > 1 {
		next := make([][]byte, 0, (len(leaves)+1)/2)
		for i := 0; i < len(leaves); i += 2 {
			if i+1 < len(leaves) {
				combined := append(append([]byte{}, leaves[i]...), leaves[i+1]...)
				h := sha256.Sum256(combined)
				next = append(next, h[:])
			} else {
				next = append(next, leaves[i])
			}
		}
		leaves = next
	}

	return hex.EncodeToString(leaves[0])
}

func containerHash(serializedContainer []byte) []byte {
	h := sha256.Sum256(serializedContainer)
	return h[:]
}
