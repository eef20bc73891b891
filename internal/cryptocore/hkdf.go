// Package cryptocore is the cryptographic core: secret-key derivation,
// per-block/per-user salting, searchable blind indexing, authenticated
// encryption, and signatures. Every other package that touches key
// material goes through here rather than calling crypto/* directly.
package cryptocore

import (
	"crypto/sha256"

	"golang.org/x/crypto/hkdf"

	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// Key is a derived 256-bit key, used both as an AES-256 key and an HMAC key
// depending on call site.
type Key [32]byte

// SecretHash is the 100k-iteration hash of a user secret, used only for
// equality lookup — never as key material.
type SecretHash [32]byte

// hkdfRound runs one pass of HKDF-SHA256 extract-then-expand over ikm,
// salt, and info, returning 32 bytes. Iterating this round is what gives
// iteratedHKDF its cost; golang.org/x/crypto/hkdf already implements a
// single extract+expand pass correctly, so each round simply re-keys a
// fresh hkdf.New reader from the previous round's output.
func hkdfRound(ikm, salt, info []byte) [32]byte {
	r := hkdf.New(sha256.New, ikm, salt, info)
	var out [32]byte
	// hkdf.Reader.Read never returns a short read for a request this small;
	// an error here means the underlying hash failed, which cannot happen
	// for sha256.New.
	_, _ = r.Read(out[:])
	return out
}

// iteratedHKDF applies hkdfRound `iterations` times, feeding each round's
// output back in as the next round's input keying material. This mirrors
// the source system's key-stretching construction: the iteration count is
// the brute-force cost, not the HKDF primitive itself.
func iteratedHKDF(ikm, salt, info []byte, iterations int) [32]byte {
	key := ikm
	var out [32]byte
	for i := 0; i < iterations; i++ {
		out = hkdfRound(key, salt, info)
		key = out[:]
	}
	return out
}

// HashSecret derives the slow, 100k-iteration authentication hash of a user
// secret. This is the only representation of a secret that is ever
// persisted; it is unsuitable as key material and must only be used for
// constant-time equality lookup.
func HashSecret(secret []byte) SecretHash {
	return SecretHash(iteratedHKDF(secret, []byte(ledgerconst.EncryptionSalt), []byte(ledgerconst.HKDFContextSecretHash), ledgerconst.HKDFIterationsSlow))
}

// DeriveEncryptionKey derives the fast, 1k-iteration AES-256-GCM key for a
// secret under the given salt. Callers must have already authenticated the
// secret via HashSecret before reaching for this — the fast iteration count
// is only safe once brute-forcing the secret itself is ruled out.
func DeriveEncryptionKey(secret, salt []byte) Key {
	return Key(iteratedHKDF(secret, salt, []byte(ledgerconst.HKDFContextEncryption), ledgerconst.HKDFIterationsFast))
}

// DeriveMACKey derives the fast, 1k-iteration HMAC subkey for a secret
// under the given salt.
func DeriveMACKey(secret, salt []byte) Key {
	return Key(iteratedHKDF(secret, salt, []byte(ledgerconst.HKDFContextMAC), ledgerconst.HKDFIterationsFast))
}

// DeriveEnvelopeKey derives the per-block envelope encryption key: the
// encryption-key derivation keyed on a salt that embeds the block's salt,
// so every block's envelopes are encrypted under a distinct key even for
// the same owner.
func DeriveEnvelopeKey(secret []byte, blockSalt string) Key {
	salt := []byte(ledgerconst.HKDFContextEnvelope + blockSalt)
	return DeriveEncryptionKey(secret, salt)
}
