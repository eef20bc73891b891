// Package ledgertypes holds the wire-level record types the core mints,
// signs, and verifies — user accounts and encrypted collections — plus
// their field-validation rules. It follows the layout of this codebase's
// pkg/core_types packages: one file per record type, a matching
// "_validation.go" with a Validate method, and a package-level table-driven
// test file per type.
package ledgertypes

import (
	"crypto/ed25519"
	"fmt"

	"github.com/google/uuid"

	"github.com/veilledger/veilledger/internal/cryptocore"
)

// UserAccount is the record admitted when a user is first registered. It
// only ever travels inside an AccountEnvelope — see pkg/ledgertypes
// envelope.go — never in the clear on disk or on the wire.
type UserAccount struct {
	AccountID         string `json:"account_id"`
	SecretHash        string `json:"secret_hash"`
	PublicKey         string `json:"public_key"`
	CreatedAt         int64  `json:"created_at"`
	MetadataEncrypted string `json:"metadata_encrypted,omitempty"`
	Signature         string `json:"signature"`
}

// NewUserAccount mints a new account for secret, signed by the admitting
// node's signingKey. metadataEncrypted, if non-empty, is already
// AEAD-ciphertext produced by the caller — account.go does not encrypt it
// itself, mirroring the one-layer-of-encryption-per-concern split between
// this package and the envelope layer.
func NewUserAccount(secret []byte, signingKey ed25519.PrivateKey, createdAt int64, metadataEncrypted string) *UserAccount {
	secretHash := cryptocore.HashSecret(secret)
	secretHashHex := fmt.Sprintf("%x", secretHash[:])
	pub := signingKey.Public().(ed25519.PublicKey)

	account := &UserAccount{
		AccountID:         uuid.NewString(),
		SecretHash:        secretHashHex,
		PublicKey:         cryptocore.PublicKeyHex(pub),
		CreatedAt:         createdAt,
		MetadataEncrypted: metadataEncrypted,
	}
	account.Signature = cryptocore.Sign(signingKey, account.signingMessage())
	return account
}

// signingMessage reproduces the canonical concatenation the admitting node
// signs and every verifier recomputes: account_id || secret_hash ||
// created_at || metadata_encrypted, in that fixed order.
func (a *UserAccount) signingMessage() []byte {
	return []byte(fmt.Sprintf("%s%s%d%s", a.AccountID, a.SecretHash, a.CreatedAt, a.MetadataEncrypted))
}

// VerifySignature checks the account's signature against its own embedded
// public key.
func (a *UserAccount) VerifySignature() bool {
	return cryptocore.Verify(a.PublicKey, a.Signature, a.signingMessage())
}
