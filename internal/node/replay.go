package node

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/ratelimit"
)

// SignedRequest is the replay-protected request envelope: the payload
// itself, a single-use nonce, the caller's declared timestamp, and an
// Ed25519 signature over payload_json || nonce || timestamp under the
// embedded public key.
type SignedRequest struct {
	Payload   json.RawMessage `json:"payload"`
	Nonce     string          `json:"nonce"`
	Timestamp int64           `json:"timestamp"`
	Signature string          `json:"signature"`
	PublicKey string          `json:"public_key"`
}

// canonicalMessage reproduces the exact byte sequence the client signed.
func (r *SignedRequest) canonicalMessage() []byte {
	return []byte(fmt.Sprintf("%s%s%d", r.Payload, r.Nonce, r.Timestamp))
}

// VerifySignedRequest validates req: timestamp within tolerance of now,
// signature verifies, and the nonce has never been seen before (recording
// it with a 10-minute expiry in the same atomic store operation). Every
// failure mode — stale timestamp, bad signature, replayed nonce, even a
// storage fault during the nonce check — collapses to the one opaque
// apierrors.ErrAuthenticationFailed, so a probing caller learns nothing
// about which check tripped. Signature verification runs before the nonce
// is recorded so a forged request cannot burn a legitimate caller's
// nonce.
func (n *Node) VerifySignedRequest(req *SignedRequest) error {
	if req == nil || req.Nonce == "" {
		return apierrors.ErrAuthenticationFailed
	}
	if !ratelimit.RequestTimestampValid(req.Timestamp) {
		return apierrors.ErrAuthenticationFailed
	}
	if !cryptocore.Verify(req.PublicKey, req.Signature, req.canonicalMessage()) {
		return apierrors.ErrAuthenticationFailed
	}
	expiry := time.Now().Add(ledgerconst.NonceExpiry).Unix()
	seen, err := n.Store.NonceSeen(req.Nonce, expiry)
	if err != nil || seen {
		return apierrors.ErrAuthenticationFailed
	}
	return nil
}

// SignRequest wraps payload in a fresh SignedRequest under priv: a random
// UUID nonce and the current wall-clock timestamp, signed over the same
// canonical message VerifySignedRequest recomputes.
func SignRequest(payload json.RawMessage, priv ed25519.PrivateKey) *SignedRequest {
	req := &SignedRequest{
		Payload:   payload,
		Nonce:     uuid.NewString(),
		Timestamp: time.Now().Unix(),
		PublicKey: cryptocore.PublicKeyHex(priv.Public().(ed25519.PublicKey)),
	}
	req.Signature = cryptocore.Sign(priv, req.canonicalMessage())
	return req
}
