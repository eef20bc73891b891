package ledger

import (
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// accountBlindIndex computes the blind index an account contributes to a
// block's Merkle leaves, domain-separated by blockSalt.
func accountBlindIndex(account *ledgertypes.UserAccount, blockSalt string) string {
	return cryptocore.AccountBlindIndex(account.SecretHash, blockSalt)
}

// collectionBlindIndex computes the blind index a collection contributes,
// combining its own per-record UserSalt with the enclosing block's salt so
// that neither alone can correlate a user's records across blocks.
func collectionBlindIndex(collection *ledgertypes.EncryptedCollection, blockSalt string) string {
	return cryptocore.CollectionBlindIndex(collection.OwnerSecretHash, collection.UserSalt, blockSalt)
}
