// Package envelope builds and opens the per-block envelope container: the
// opaque blob that wraps every account and collection minted into a block
// so that only the owning secret, combined with the block's own salt, can
// recover the plaintext record.
package envelope

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// AccountEnvelope wraps one UserAccount: its AEAD ciphertext (already
// nonce-prefixed by cryptocore.Encrypt) plus the account's secret-hash for
// lookup without decryption.
type AccountEnvelope struct {
	Ciphertext string `json:"ciphertext"`
	OwnerHash  string `json:"owner_hash"`
}

// CollectionEnvelope is a thin wrapper around an already-encrypted
// collection — the collection's own metadata/payload ciphertext is sealed
// at mint time under the owner's secret, independent of any block; the
// envelope layer adds no further encryption here, matching spec.md §4.2.
type CollectionEnvelope struct {
	Collection ledgertypes.EncryptedCollection `json:"collection"`
}

// Container is the tuple (account_envelopes[], collection_envelopes[],
// validator_name) placed, serialised and base64-encoded, into a block's
// opaque envelope blob. The validator name is plaintext inside the
// container because PoA validation needs it and the attacker already
// learns it from the block header.
type Container struct {
	AccountEnvelopes    []AccountEnvelope    `json:"account_envelopes"`
	CollectionEnvelopes []CollectionEnvelope `json:"collection_envelopes"`
	Validator           string               `json:"validator"`
}

// SealAccount encrypts account under the envelope key derived from secret
// and blockSalt.
func SealAccount(cache *cryptocore.KeyCache, account *ledgertypes.UserAccount, secret []byte, blockSalt string) (AccountEnvelope, error) {
	raw, err := json.Marshal(account)
	if err != nil {
		return AccountEnvelope{}, fmt.Errorf("%w: marshal account: %v", apierrors.ErrSerializationFailure, err)
	}
	key := cache.EnvelopeKey(secret, blockSalt)
	ciphertext, err := cryptocore.Encrypt(key, raw)
	if err != nil {
		return AccountEnvelope{}, err
	}
	return AccountEnvelope{
		Ciphertext: ciphertext,
		OwnerHash:  account.SecretHash,
	}, nil
}

// OpenAccount decrypts env under the envelope key derived from secret and
// blockSalt. Failure is always apierrors.ErrAuthenticationFailed — callers
// must not distinguish "wrong secret" from any other decrypt failure.
func OpenAccount(cache *cryptocore.KeyCache, env AccountEnvelope, secret []byte, blockSalt string) (*ledgertypes.UserAccount, error) {
	key := cache.EnvelopeKey(secret, blockSalt)
	plaintext, err := cryptocore.Decrypt(key, env.Ciphertext)
	if err != nil {
		return nil, err
	}
	var account ledgertypes.UserAccount
	if err := json.Unmarshal(plaintext, &account); err != nil {
		return nil, apierrors.ErrAuthenticationFailed
	}
	return &account, nil
}

// Serialize renders the container as a deterministic JSON blob. Struct
// field order — not map iteration — determines byte layout, so the same
// Container value always serialises identically.
func (c *Container) Serialize() ([]byte, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal envelope container: %v", apierrors.ErrSerializationFailure, err)
	}
	return raw, nil
}

// Deserialize parses a container blob produced by Serialize.
func Deserialize(raw []byte) (*Container, error) {
	var c Container
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("%w: unmarshal envelope container: %v", apierrors.ErrSerializationFailure, err)
	}
	return &c, nil
}

// FindAccount decrypts every account envelope in the container in turn,
// looking for one whose owner_hash matches secret's hash and which
// decrypts cleanly under secret. This performs the real authentication
// work for find_account(secret): a matching OwnerHash is only a fast
// pre-filter, the decrypt is the actual proof of ownership. On no match, a
// dummy decrypt attempt against a zero key keeps wall-clock cost
// comparable to a hit.
func FindAccount(cache *cryptocore.KeyCache, c *Container, secret []byte, blockSalt string) (*ledgertypes.UserAccount, bool) {
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := fmt.Sprintf("%x", secretHash[:])

	for _, env := range c.AccountEnvelopes {
		if !cryptocore.ConstantTimeEqual([]byte(env.OwnerHash), []byte(secretHashHex)) {
			continue
		}
		account, err := OpenAccount(cache, env, secret, blockSalt)
		if err != nil {
			continue
		}
		return account, true
	}
	cryptocore.DummyLookup(secret)
	return nil, false
}

// VerifyEd25519Envelope re-exports a signature check for records embedded
// inside a container, so consumers don't need to import ed25519 directly.
func VerifyEd25519Envelope(pub ed25519.PublicKey, sig, message []byte) bool {
	return ed25519.Verify(pub, message, sig)
}
