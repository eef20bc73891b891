package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/veilledger/veilledger/internal/apierrors"
)

// Encrypt seals plaintext under key with a fresh random 96-bit nonce,
// returning base64(nonce || ciphertext || tag) as spec.md §4.1 requires.
func Encrypt(key Key, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("%w: aes cipher: %v", apierrors.ErrInternal, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: gcm: %v", apierrors.ErrInternal, err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", apierrors.ErrInternal, err)
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// EncryptWithNonce seals plaintext under key with a caller-supplied nonce
// instead of a random one, producing the same base64(nonce || ciphertext ||
// tag) format as Encrypt. Reusing a nonce under the same key breaks GCM, so
// this exists only for the fixed bootstrap record every node must derive
// byte-identically — never use it for user data.
func EncryptWithNonce(key Key, nonce, plaintext []byte) (string, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return "", fmt.Errorf("%w: aes cipher: %v", apierrors.ErrInternal, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("%w: gcm: %v", apierrors.ErrInternal, err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("%w: nonce must be %d bytes", apierrors.ErrInternal, gcm.NonceSize())
	}
	sealed := gcm.Seal(nil, nonce, plaintext, nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a base64(nonce || ciphertext || tag) blob produced by
// Encrypt. Any failure — bad base64, truncated input, or a failed GCM
// open — is reported as the single opaque apierrors.ErrAuthenticationFailed
// so a caller probing for plaintext structure cannot distinguish failure
// modes.
func Decrypt(key Key, encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apierrors.ErrAuthenticationFailed
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, apierrors.ErrAuthenticationFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apierrors.ErrAuthenticationFailed
	}
	if len(raw) < gcm.NonceSize() {
		return nil, apierrors.ErrAuthenticationFailed
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, apierrors.ErrAuthenticationFailed
	}
	return plaintext, nil
}
