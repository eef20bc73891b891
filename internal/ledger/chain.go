package ledger

import (
	"fmt"
	"sync"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// Chain is the in-memory, mutex-guarded view of the append-only block
// list. Persistence is the caller's responsibility — Chain only enforces
// the chain-validity and checkpoint invariants; internal/store is what
// makes a Chain's state durable across restarts.
type Chain struct {
	mu          sync.RWMutex
	blocks      []*Block
	checkpoints map[int64]string
}

// NewChain starts a fresh chain at genesis, which is also recorded as the
// first checkpoint.
func NewChain(genesis *Block) *Chain {
	return &Chain{
		blocks:      []*Block{genesis},
		checkpoints: map[int64]string{0: genesis.Hash},
	}
}

// NewChainFromBlocks restores a chain previously persisted to storage. The
// caller is trusted to have supplied a chain that was valid when it was
// written; use IsValidChain first if that trust is not warranted (e.g.
// data read from an untrusted peer).
func NewChainFromBlocks(blocks []*Block) *Chain {
	c := &Chain{
		blocks:      append([]*Block(nil), blocks...),
		checkpoints: make(map[int64]string),
	}
	for _, b := range c.blocks {
		if b.Index%ledgerconst.CheckpointInterval == 0 {
			c.checkpoints[b.Index] = b.Hash
		}
	}
	return c
}

func (c *Chain) heightInternal() int64 {
	return int64(len(c.blocks) - 1)
}

// Height returns the index of the current tip (0 for genesis-only).
func (c *Chain) Height() int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.heightInternal()
}

func (c *Chain) latestBlockInternal() *Block {
	return c.blocks[len(c.blocks)-1]
}

// LatestBlock returns the current tip.
func (c *Chain) LatestBlock() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latestBlockInternal()
}

// Blocks returns a defensive copy of the chain's blocks, tip-exclusive of
// none — index 0 is genesis.
func (c *Chain) Blocks() []*Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// BlockAt returns the block at index, or (nil, false) if out of range.
func (c *Chain) BlockAt(index int64) (*Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index > c.heightInternal() {
		return nil, false
	}
	return c.blocks[index], true
}

// checkTimestamp rejects only a timestamp too far in the future. A
// timestamp behind the previous block's is expected and permitted — day
// granularity plus jitter can (and is meant to) produce that ordering, so
// the chain must not reject on it.
func checkTimestamp(ts int64) error {
	now := time.Now().Unix()
	if ts > now+ledgerconst.TimestampToleranceSeconds+ledgerconst.TimestampJitterSeconds {
		return fmt.Errorf("timestamp %d too far in future: %w", ts, apierrors.ErrFutureTimestamp)
	}
	return nil
}

// AddBlock appends candidate if it legitimately extends the current tip:
// sequential index, correct previous-hash link, recomputable hash and
// Merkle root, correct validator-rotation slot, and a plausible
// timestamp.
func (c *Chain) AddBlock(candidate *Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	tip := c.latestBlockInternal()
	if candidate.Index != tip.Index+1 {
		return fmt.Errorf("expected index %d, got %d: %w", tip.Index+1, candidate.Index, apierrors.ErrInvalidPreviousHash)
	}
	if candidate.PreviousHash != tip.Hash {
		return fmt.Errorf("block %d: %w", candidate.Index, apierrors.ErrInvalidPreviousHash)
	}
	if err := candidate.verifyIntegrity(); err != nil {
		return err
	}
	if err := checkTimestamp(candidate.Timestamp); err != nil {
		return err
	}

	c.blocks = append(c.blocks, candidate)
	if candidate.Index%ledgerconst.CheckpointInterval == 0 {
		c.checkpoints[candidate.Index] = candidate.Hash
	}
	return nil
}

// IsValidChain checks that blocks forms a self-consistent chain from its
// own genesis: sequential indexes, correct previous-hash links, and valid
// per-block integrity. It does not check wall-clock timestamp freshness —
// that only matters for the live tip, not for historical blocks being
// replayed during a reorg.
func IsValidChain(blocks []*Block) error {
	if len(blocks) == 0 {
		return fmt.Errorf("empty candidate chain: %w", apierrors.ErrChainReplaceRejected)
	}
	for i, b := range blocks {
		if b.Index != int64(i) {
			return fmt.Errorf("block at position %d has index %d: %w", i, b.Index, apierrors.ErrChainReplaceRejected)
		}
		if i == 0 {
			continue
		}
		if b.PreviousHash != blocks[i-1].Hash {
			return fmt.Errorf("block %d: %w", b.Index, apierrors.ErrInvalidPreviousHash)
		}
		if err := b.verifyIntegrity(); err != nil {
			return err
		}
	}
	return nil
}

// ReplaceChain adopts candidate in place of the current chain if it is
// strictly longer, internally valid, and does not contradict any
// checkpoint already recorded: a checkpointed index's hash in candidate
// must match what was already checkpointed, so a reorg can never rewrite
// history behind the last checkpoint no matter how long the fork is.
func (c *Chain) ReplaceChain(candidate []*Block) error {
	if err := IsValidChain(candidate); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(len(candidate)) <= c.heightInternal()+1 {
		return fmt.Errorf("candidate chain is not strictly longer: %w", apierrors.ErrChainReplaceRejected)
	}
	for index, hash := range c.checkpoints {
		if index >= int64(len(candidate)) || candidate[index].Hash != hash {
			return fmt.Errorf("candidate chain diverges from checkpoint %d: %w", index, apierrors.ErrChainReplaceRejected)
		}
	}

	c.blocks = append([]*Block(nil), candidate...)
	for _, b := range c.blocks {
		if b.Index%ledgerconst.CheckpointInterval == 0 {
			c.checkpoints[b.Index] = b.Hash
		}
	}
	return nil
}

// Checkpoints returns a defensive copy of the recorded checkpoint map.
func (c *Chain) Checkpoints() map[int64]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[int64]string, len(c.checkpoints))
	for k, v := range c.checkpoints {
		out[k] = v
	}
	return out
}
