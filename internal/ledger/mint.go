package ledger

import (
	"fmt"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/envelope"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// MintRequest is one record destined for the next block: either a new
// account registration or a new collection, keyed by the owner's secret.
// Exactly one of Account or Collection is set.
type MintRequest struct {
	Secret     []byte
	Account    *ledgertypes.UserAccount
	Collection *ledgertypes.EncryptedCollection
}

// MintBlock builds and seals the next block on top of previousHash at
// index, sealing every request's record under a freshly generated block
// salt and pre-computing its blind index, per SPEC_FULL.md's decision to
// populate blind indexes at mint time rather than lazily.
func MintBlock(cache *cryptocore.KeyCache, index int64, previousHash string, requests []MintRequest) (*Block, error) {
	if len(requests) == 0 {
		return nil, fmt.Errorf("block %d: %w", index, apierrors.ErrNothingPending)
	}
	return mintBlock(cache, index, previousHash, requests)
}

func mintBlock(cache *cryptocore.KeyCache, index int64, previousHash string, requests []MintRequest) (*Block, error) {
	blockSalt, err := NewBlockSalt()
	if err != nil {
		return nil, err
	}

	container := &envelope.Container{}
	blindIndexes := make([]string, 0, len(requests))

	for _, req := range requests {
		switch {
		case req.Account != nil:
			sealed, err := envelope.SealAccount(cache, req.Account, req.Secret, blockSalt)
			if err != nil {
				return nil, err
			}
			container.AccountEnvelopes = append(container.AccountEnvelopes, sealed)
			blindIndexes = append(blindIndexes, accountBlindIndex(req.Account, blockSalt))
		case req.Collection != nil:
			container.CollectionEnvelopes = append(container.CollectionEnvelopes, envelope.CollectionEnvelope{
				Collection: *req.Collection,
			})
			blindIndexes = append(blindIndexes, collectionBlindIndex(req.Collection, blockSalt))
		}
	}

	return NewBlock(index, previousHash, blockSalt, container, blindIndexes)
}

// MintNextBlock is a convenience wrapper that mints against chain's
// current tip. It does not append the result — callers must still call
// chain.AddBlock, giving the write path a chance to broadcast the block
// between minting and committing it locally. Minting with nothing pending
// fails; callers that genuinely want an empty block must say so through
// MintEmptyBlock.
func MintNextBlock(cache *cryptocore.KeyCache, chain *Chain, requests []MintRequest) (*Block, error) {
	tip := chain.LatestBlock()
	return MintBlock(cache, tip.Index+1, tip.Hash, requests)
}

// MintEmptyBlock mints a block carrying no records at all — the explicit
// empty-block escape hatch. Useful for advancing the validator rotation
// past an index without burying a real record in it.
func MintEmptyBlock(cache *cryptocore.KeyCache, chain *Chain) (*Block, error) {
	tip := chain.LatestBlock()
	return mintBlock(cache, tip.Index+1, tip.Hash, nil)
}
