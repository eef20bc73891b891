package node

import (
	"fmt"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// FindCollectionsByOwner implements GET /data/list: scan every block's
// container for collection envelopes whose owner_secret_hash matches
// secret's hash. Collection envelopes carry no further encryption of their
// own beyond the collection's own metadata/payload ciphertext (§4.2), so no
// per-block decrypt is needed here — only the equality check.
func (n *Node) FindCollectionsByOwner(secret []byte) ([]*ledgertypes.EncryptedCollection, error) {
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := fmt.Sprintf("%x", secretHash[:])

	var owned []*ledgertypes.EncryptedCollection
	for _, block := range n.Chain.Blocks() {
		container, err := block.Container()
		if err != nil {
			continue
		}
		for i := range container.CollectionEnvelopes {
			collection := &container.CollectionEnvelopes[i].Collection
			if cryptocore.ConstantTimeEqual([]byte(collection.OwnerSecretHash), []byte(secretHashHex)) {
				owned = append(owned, collection)
			}
		}
	}
	return owned, nil
}

// FindCollection implements the lookup half of POST /data/decrypt/{id}:
// locate the collection by id, then confirm secret actually owns it before
// returning it for decryption. Ownership is re-verified by secret-hash
// equality and by MAC, not by id alone — an id is not a capability.
func (n *Node) FindCollection(collectionID string, secret []byte) (*ledgertypes.EncryptedCollection, error) {
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := fmt.Sprintf("%x", secretHash[:])

	for _, block := range n.Chain.Blocks() {
		container, err := block.Container()
		if err != nil {
			continue
		}
		for i := range container.CollectionEnvelopes {
			collection := &container.CollectionEnvelopes[i].Collection
			if collection.CollectionID != collectionID {
				continue
			}
			if !cryptocore.ConstantTimeEqual([]byte(collection.OwnerSecretHash), []byte(secretHashHex)) {
				return nil, fmt.Errorf("%w", apierrors.ErrOwnerMismatch)
			}
			if !collection.VerifyMAC(secret) {
				return nil, fmt.Errorf("%w", apierrors.ErrAuthenticationFailed)
			}
			return collection, nil
		}
	}
	return nil, fmt.Errorf("%w", apierrors.ErrCollectionNotFound)
}
