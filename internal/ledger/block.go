// Package ledger implements the append-only block chain: block
// construction, the Merkle commitment over a block's envelope container,
// proof-of-authority validator rotation, and chain validation/reorg.
package ledger

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/envelope"
	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// Block is one entry in the chain. Every field except Envelope is
// plaintext metadata; Envelope is the serialised, opaque envelope.Container
// recoverable only by the owning secret of whichever record it holds.
type Block struct {
	Index        int64    `json:"index"`
	Timestamp    int64    `json:"timestamp"`
	PreviousHash string   `json:"previous_hash"`
	MerkleRoot   string   `json:"merkle_root"`
	Hash         string   `json:"hash"`
	Validator    string   `json:"validator"`
	BlindIndexes []string `json:"blind_indexes"`
	BlockSalt    string   `json:"block_salt"`
	Envelope     []byte   `json:"envelope"`
}

// ValidatorForIndex returns the validator authorised to mint block index,
// per the fixed round-robin rotation V[index mod len(V)].
func ValidatorForIndex(index int64) string {
	validators := ledgerconst.Validators
	n := int64(len(validators))
	slot := index % n
	if slot < 0 {
		slot += n
	}
	return validators[slot]
}

// computeHash reproduces the block-hash formula: H(index || timestamp ||
// merkle_root || previous_hash || validator).
func computeHash(index, timestamp int64, merkleRoot, previousHash, validator string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d%d%s%s%s", index, timestamp, merkleRoot, previousHash, validator)
	return hex.EncodeToString(h.Sum(nil))
}

// NewBlockSalt generates a fresh random per-block salt used to derive that
// block's envelope-encryption key and to domain-separate its blind
// indexes from every other block's. Callers generate this before sealing
// any record into the block, since the salt feeds both the envelope key
// and every blind index the block will carry.
func NewBlockSalt() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate block salt: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// JitteredTimestamp returns now's calendar day (UTC midnight) offset by a
// uniform random jitter in [-TimestampJitterSeconds,
// +TimestampJitterSeconds]. Day granularity plus jitter means two blocks
// minted minutes apart on the same day are far more likely to carry an
// identical or even inverted timestamp ordering than a live clock would
// produce — this is intentional obfuscation, not a bug, and chain
// validation must tolerate a previous block's timestamp exceeding the
// current one as a result. Account creation timestamps go through the
// same transform, so no record anywhere in a block carries a precise
// wall-clock instant.
func JitteredTimestamp(now time.Time) (int64, error) {
	day := now.UTC().Truncate(24 * time.Hour).Unix()
	span := big.NewInt(2*ledgerconst.TimestampJitterSeconds + 1)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return 0, fmt.Errorf("generate timestamp jitter: %w", err)
	}
	jitter := n.Int64() - ledgerconst.TimestampJitterSeconds
	return day + jitter, nil
}

// NewBlock mints block at index, linking to previousHash, with container
// already populated with whatever account/collection envelopes this block
// carries (sealed under blockSalt by the caller) and blindIndexes the full
// set of blind indexes those records produce (also computed against
// blockSalt by the caller).
func NewBlock(index int64, previousHash, blockSalt string, container *envelope.Container, blindIndexes []string) (*Block, error) {
	validator := ValidatorForIndex(index)
	container.Validator = validator

	serialized, err := container.Serialize()
	if err != nil {
		return nil, err
	}

	timestamp, err := JitteredTimestamp(time.Now())
	if err != nil {
		return nil, err
	}

	merkleRoot := ComputeMerkleRoot(containerHash(serialized), blindIndexes)
	hash := computeHash(index, timestamp, merkleRoot, previousHash, validator)

	return &Block{
		Index:        index,
		Timestamp:    timestamp,
		PreviousHash: previousHash,
		MerkleRoot:   merkleRoot,
		Hash:         hash,
		Validator:    validator,
		BlindIndexes: blindIndexes,
		BlockSalt:    blockSalt,
		Envelope:     serialized,
	}, nil
}

// recomputeHash recomputes the block's hash from its own fields, used by
// chain validation to detect tampering.
func (b *Block) recomputeHash() string {
	return computeHash(b.Index, b.Timestamp, b.MerkleRoot, b.PreviousHash, b.Validator)
}

// recomputeMerkleRoot recomputes the Merkle root from the block's own
// envelope bytes and blind indexes.
func (b *Block) recomputeMerkleRoot() string {
	return ComputeMerkleRoot(containerHash(b.Envelope), b.BlindIndexes)
}

// Container deserialises the block's envelope blob.
func (b *Block) Container() (*envelope.Container, error) {
	return envelope.Deserialize(b.Envelope)
}

// verifyIntegrity checks that a block's stored hash and Merkle root were
// not tampered with and that it was minted by the validator whose turn it
// was.
func (b *Block) verifyIntegrity() error {
	if b.MerkleRoot != b.recomputeMerkleRoot() {
		return fmt.Errorf("block %d: %w", b.Index, apierrors.ErrInvalidMerkleRoot)
	}
	if b.Hash != b.recomputeHash() {
		return fmt.Errorf("block %d: %w", b.Index, apierrors.ErrInvalidBlockHash)
	}
	if b.Validator != ValidatorForIndex(b.Index) {
		return fmt.Errorf("block %d: %w", b.Index, apierrors.ErrInvalidValidator)
	}
	return b.verifyOpenableSignatures()
}

// verifyOpenableSignatures checks every signature a verifier without any
// user secret can still reach: collection records carry their signing
// public key in the clear, so a bad signature there is detectable by any
// node. Account envelopes stay opaque — their contents, signatures
// included, are only checkable by the owning secret's holder.
func (b *Block) verifyOpenableSignatures() error {
	container, err := b.Container()
	if err != nil {
		return fmt.Errorf("block %d: undecodable container: %w", b.Index, apierrors.ErrInvalidRecordSignature)
	}
	for i := range container.CollectionEnvelopes {
		if !container.CollectionEnvelopes[i].Collection.VerifySignature() {
			return fmt.Errorf("block %d collection %s: %w", b.Index, container.CollectionEnvelopes[i].Collection.CollectionID, apierrors.ErrInvalidRecordSignature)
		}
	}
	return nil
}
