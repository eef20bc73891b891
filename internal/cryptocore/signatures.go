package cryptocore

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/veilledger/veilledger/internal/apierrors"
)

// GenerateSigningKey returns a fresh Ed25519 keypair for a node admitting
// accounts or minting blocks.
func GenerateSigningKey() (ed25519.PublicKey, ed25519.PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: generate signing key: %v", apierrors.ErrInternal, err)
	}
	return pub, priv, nil
}

// Sign signs message and returns the hex-encoded signature, matching
// spec.md §4.1 ("signature and public key stored hex-encoded").
func Sign(priv ed25519.PrivateKey, message []byte) string {
	return hex.EncodeToString(ed25519.Sign(priv, message))
}

// Verify checks a hex-encoded signature over message against a hex-encoded
// public key. Malformed hex or wrong-length keys/signatures are treated as
// verification failure, not as distinct error conditions — callers should
// collapse this into apierrors.ErrAuthenticationFailed at the boundary.
func Verify(pubHex, sigHex string, message []byte) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), message, sig)
}

// PublicKeyHex hex-encodes an Ed25519 public key for embedding in a record.
func PublicKeyHex(pub ed25519.PublicKey) string {
	return hex.EncodeToString(pub)
}
