package ledgertypes

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veilledger/veilledger/internal/cryptocore"
)

// collectionContentSalt is the fixed salt under which a collection's own
// metadata/payload ciphertext is encrypted. It is distinct from the
// per-block envelope-encryption salt (§4.1's "Envelope-encryption key"
// row) — a collection's content is encrypted once, at mint time, and that
// encryption never changes even though the collection is re-wrapped in a
// fresh envelope key every time its enclosing block is rebuilt.
var collectionContentSalt = []byte("veilledger_salt_v1")

// EncryptedCollection is a single owner-encrypted data collection. Every
// field except CollectionID and OwnerSecretHash is opaque ciphertext or a
// MAC/signature over it; the owner's secret is required to decrypt
// EncryptedMetadata and EncryptedPayload.
type EncryptedCollection struct {
	CollectionID      string `json:"collection_id"`
	OwnerSecretHash   string `json:"owner_secret_hash"`
	EncryptedMetadata string `json:"encrypted_metadata"`
	EncryptedPayload  string `json:"encrypted_payload"`
	MAC               string `json:"mac"`
	UserSalt          string `json:"user_salt"`
	Signature         string `json:"signature"`
	PublicKey         string `json:"public_key"`
}

// NewEncryptedCollection mints a new collection for secret, labelled label,
// wrapping payload (already a JSON-encodable string chosen by the caller).
// UserSalt is freshly random per collection (32 bytes, hex) so that, per
// spec.md's invariant 5, no two collections owned by the same secret share
// a salt — this is what lets the blind index avoid correlating a user's
// records across blocks.
func NewEncryptedCollection(label, payload string, secret []byte, secretHashHex string, signingKey ed25519.PrivateKey) (*EncryptedCollection, error) {
	userSalt := make([]byte, 32)
	if _, err := rand.Read(userSalt); err != nil {
		return nil, fmt.Errorf("generate user salt: %w", err)
	}
	userSaltHex := hex.EncodeToString(userSalt)

	encKey := cryptocore.DeriveEncryptionKey(secret, collectionContentSalt)
	macKey := cryptocore.DeriveMACKey(secret, collectionContentSalt)

	metaJSON, err := json.Marshal(struct {
		Label     string `json:"label"`
		CreatedAt int64  `json:"created_at"`
	}{Label: label, CreatedAt: time.Now().Unix()})
	if err != nil {
		return nil, fmt.Errorf("marshal collection metadata: %w", err)
	}

	encMeta, err := cryptocore.Encrypt(encKey, metaJSON)
	if err != nil {
		return nil, err
	}
	encPayload, err := cryptocore.Encrypt(encKey, []byte(payload))
	if err != nil {
		return nil, err
	}

	c := &EncryptedCollection{
		CollectionID:      uuid.NewString(),
		OwnerSecretHash:   secretHashHex,
		EncryptedMetadata: encMeta,
		EncryptedPayload:  encPayload,
		UserSalt:          userSaltHex,
		PublicKey:         cryptocore.PublicKeyHex(signingKey.Public().(ed25519.PublicKey)),
	}
	c.MAC = hex.EncodeToString(computeMAC(macKey, c.macMessage()))
	c.Signature = cryptocore.Sign(signingKey, c.signatureMessage())
	return c, nil
}

// NewBootstrapCollection mints the fixed collection the genesis block
// carries. Unlike NewEncryptedCollection, every identifier and nonce is
// caller-supplied rather than random, so two nodes that construct it
// independently produce byte-identical records — the property genesis
// agreement across never-connected nodes rests on. metaNonce and
// payloadNonce must differ from each other; the key is never reused
// outside this one well-known record, so fixing them does not weaken GCM
// for user data.
func NewBootstrapCollection(id, label, payload string, createdAt int64, secret []byte, secretHashHex, userSaltHex string, metaNonce, payloadNonce []byte, signingKey ed25519.PrivateKey) (*EncryptedCollection, error) {
	encKey := cryptocore.DeriveEncryptionKey(secret, collectionContentSalt)
	macKey := cryptocore.DeriveMACKey(secret, collectionContentSalt)

	metaJSON, err := json.Marshal(struct {
		Label     string `json:"label"`
		CreatedAt int64  `json:"created_at"`
	}{Label: label, CreatedAt: createdAt})
	if err != nil {
		return nil, fmt.Errorf("marshal collection metadata: %w", err)
	}

	encMeta, err := cryptocore.EncryptWithNonce(encKey, metaNonce, metaJSON)
	if err != nil {
		return nil, err
	}
	encPayload, err := cryptocore.EncryptWithNonce(encKey, payloadNonce, []byte(payload))
	if err != nil {
		return nil, err
	}

	c := &EncryptedCollection{
		CollectionID:      id,
		OwnerSecretHash:   secretHashHex,
		EncryptedMetadata: encMeta,
		EncryptedPayload:  encPayload,
		UserSalt:          userSaltHex,
		PublicKey:         cryptocore.PublicKeyHex(signingKey.Public().(ed25519.PublicKey)),
	}
	c.MAC = hex.EncodeToString(computeMAC(macKey, c.macMessage()))
	c.Signature = cryptocore.Sign(signingKey, c.signatureMessage())
	return c, nil
}

func (c *EncryptedCollection) macMessage() []byte {
	return []byte(c.CollectionID + c.EncryptedMetadata + c.EncryptedPayload)
}

func (c *EncryptedCollection) signatureMessage() []byte {
	return []byte(c.CollectionID + c.OwnerSecretHash + c.EncryptedMetadata + c.EncryptedPayload + c.MAC)
}

func computeMAC(key cryptocore.Key, message []byte) []byte {
	mac := hmac.New(sha256.New, key[:])
	mac.Write(message)
	return mac.Sum(nil)
}

// VerifySignature checks the collection's signature under its own embedded
// public key.
func (c *EncryptedCollection) VerifySignature() bool {
	return cryptocore.Verify(c.PublicKey, c.Signature, c.signatureMessage())
}

// VerifyMAC recomputes the metadata/payload integrity MAC under the key
// derived from secret, and compares in constant time.
func (c *EncryptedCollection) VerifyMAC(secret []byte) bool {
	macKey := cryptocore.DeriveMACKey(secret, collectionContentSalt)
	expected := computeMAC(macKey, c.macMessage())
	got, err := hex.DecodeString(c.MAC)
	if err != nil {
		return false
	}
	return cryptocore.ConstantTimeEqual(expected, got)
}

// DecryptMetadata decrypts and unmarshals the collection's label/created_at
// metadata under secret.
func (c *EncryptedCollection) DecryptMetadata(secret []byte) (label string, createdAt int64, err error) {
	encKey := cryptocore.DeriveEncryptionKey(secret, collectionContentSalt)
	plaintext, err := cryptocore.Decrypt(encKey, c.EncryptedMetadata)
	if err != nil {
		return "", 0, err
	}
	var meta struct {
		Label     string `json:"label"`
		CreatedAt int64  `json:"created_at"`
	}
	if err := json.Unmarshal(plaintext, &meta); err != nil {
		return "", 0, fmt.Errorf("unmarshal collection metadata: %w", err)
	}
	return meta.Label, meta.CreatedAt, nil
}

// DecryptPayload decrypts the collection's payload under secret.
func (c *EncryptedCollection) DecryptPayload(secret []byte) (string, error) {
	encKey := cryptocore.DeriveEncryptionKey(secret, collectionContentSalt)
	plaintext, err := cryptocore.Decrypt(encKey, c.EncryptedPayload)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
