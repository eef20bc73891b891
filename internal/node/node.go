// Package node implements the authoritative write path spec.md §4.6
// names: authenticate the caller, apply the rate/ban policy, validate the
// request, locate the caller's account across the chain, and either mint
// a new block (this node is the validator for the next index) or forward
// the request to whichever node is.
package node

import (
	"crypto/ed25519"
	"fmt"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/envelope"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/p2p"
	"github.com/veilledger/veilledger/internal/ratelimit"
	"github.com/veilledger/veilledger/internal/store"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// Node wires together every component the write and read paths need: the
// in-memory chain, its durable backing store, the derived-key cache, this
// node's own signing identity, the rate/ban policy, and its peer registry
// for gossip. It holds no lock of its own — each field manages its own
// concurrency per spec.md §5.
type Node struct {
	Chain      *ledger.Chain
	Store      *store.Store
	Cache      *cryptocore.KeyCache
	SigningKey ed25519.PrivateKey
	Limiter    *ratelimit.Limiter
	Peers      *p2p.PeerRegistry

	// ValidatorName is this node's own symbolic authority-set entry.
	ValidatorName string
	// ValidatorAddrs maps every validator's symbolic name to the HTTP
	// base address a non-validator forwards write requests to.
	ValidatorAddrs map[string]string
}

// New builds a Node from its already-constructed dependencies. Restoring
// or bootstrapping the Chain and Store themselves is the caller's
// responsibility (cmd/veilledgerd does this at startup).
func New(chain *ledger.Chain, st *store.Store, cache *cryptocore.KeyCache, signingKey ed25519.PrivateKey, limiter *ratelimit.Limiter, peers *p2p.PeerRegistry, validatorName string, validatorAddrs map[string]string) *Node {
	return &Node{
		Chain:          chain,
		Store:          st,
		Cache:          cache,
		SigningKey:     signingKey,
		Limiter:        limiter,
		Peers:          peers,
		ValidatorName:  validatorName,
		ValidatorAddrs: validatorAddrs,
	}
}

// IsValidatorForNextBlock reports whether this node is authorised to mint
// the block that would follow the current tip.
func (n *Node) IsValidatorForNextBlock() bool {
	tip := n.Chain.LatestBlock()
	return ledger.ValidatorForIndex(tip.Index+1) == n.ValidatorName
}

// ValidatorAddrForNextBlock returns the HTTP address of whichever node is
// authorised to mint the next block.
func (n *Node) ValidatorAddrForNextBlock() (string, error) {
	tip := n.Chain.LatestBlock()
	name := ledger.ValidatorForIndex(tip.Index + 1)
	addr, ok := n.ValidatorAddrs[name]
	if !ok {
		return "", fmt.Errorf("no configured address for validator %s: %w", name, apierrors.ErrInternal)
	}
	return addr, nil
}

// FindAccountInChain searches every block's envelope container, most
// recent first, for an account this secret opens. Accounts are immutable
// once admitted and may live in any historical block, so the search
// cannot be narrowed to the tip.
func FindAccountInChain(chain *ledger.Chain, cache *cryptocore.KeyCache, secret []byte) (*ledgertypes.UserAccount, error) {
	blocks := chain.Blocks()
	for i := len(blocks) - 1; i >= 0; i-- {
		block := blocks[i]
		container, err := block.Container()
		if err != nil {
			continue
		}
		if account, ok := envelope.FindAccount(cache, container, secret, block.BlockSalt); ok {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w", apierrors.ErrAccountNotFound)
}
