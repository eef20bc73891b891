// Package httpapi is the thin collaborator layer spec.md §1 and §6
// describe: a narrow set of HTTP endpoints that consume the core's
// operations (internal/node, internal/ledger, internal/p2p) without
// encoding any design decision of their own. Routing itself uses the
// standard library's pattern-matching ServeMux (Go 1.22+) rather than a
// third-party router — no retrieval-pack example actually exercises one
// (go-chi/chi appears only as an unused transitive entry in one example's
// go.mod), so introducing one here would not be grounded, and spec.md
// explicitly places "HTTP request routing" outside the core's concerns.
package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/logging"
	"github.com/veilledger/veilledger/internal/node"
)

// API wires the Node and its session store into an http.Handler.
type API struct {
	Node     *node.Node
	Sessions *node.SessionStore
	logger   zerolog.Logger
	started  time.Time
}

// New builds the API's http.Handler bound to n.
func New(n *node.Node, sessions *node.SessionStore) http.Handler {
	a := &API{Node: n, Sessions: sessions, logger: logging.New("httpapi"), started: time.Now()}
	return a.routes()
}

func (a *API) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /account/create", a.handleAccountCreate)
	mux.HandleFunc("POST /account/login", a.handleAccountLogin)
	mux.HandleFunc("POST /data/submit", a.handleDataSubmit)
	mux.HandleFunc("GET /data/list", a.handleDataList)
	mux.HandleFunc("POST /data/decrypt/{id}", a.handleDataDecrypt)
	mux.HandleFunc("GET /chain", a.handleChain)
	mux.HandleFunc("GET /peers", a.handlePeers)
	mux.HandleFunc("GET /sync", a.handleSync)
	mux.HandleFunc("GET /health", a.handleHealth)
	mux.HandleFunc("GET /stats", a.handleStats)
	mux.HandleFunc("GET /metrics", a.handleMetrics)
	return mux
}

// resolveSecret extracts the caller's secret from the Authorization
// header, accepting either a session token issued by POST /account/login
// or a raw "Bearer <base64(secret)>" credential — the core itself never
// distinguishes the two once it has the decrypted secret in hand, per
// spec.md §6. The session store is consulted first: a hex session token
// is also decodable as base64, so base64-first would silently mistake
// every issued token for a (garbage) raw secret and the session flow
// would never resolve.
func (a *API) resolveSecret(r *http.Request) ([]byte, error) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return nil, apierrors.ErrAuthenticationFailed
	}
	if secret, ok := a.Sessions.Resolve(strings.TrimPrefix(header, prefix)); ok {
		return secret, nil
	}
	if secret, err := node.DecodeBearerSecret(header); err == nil {
		return secret, nil
	}
	return nil, apierrors.ErrAuthenticationFailed
}

func ipHashFor(r *http.Request) string {
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx != -1 {
		host = host[:idx]
	}
	hash := cryptocore.HashSecret([]byte(host))
	return hashHex(hash[:])
}

func hashHex(b []byte) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, v := range b {
		out[i*2] = hextable[v>>4]
		out[i*2+1] = hextable[v&0x0f]
	}
	return string(out)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	status := apierrors.HTTPStatus(apierrors.KindFor(err))
	// The authorisation kind splits: a ban is 403, being over the limit is
	// the throttling status.
	if errors.Is(err, apierrors.ErrRateLimited) {
		status = http.StatusTooManyRequests
	}
	// Input validation splits the same way: an oversized payload is 413.
	if errors.Is(err, apierrors.ErrPayloadTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// readAndDecode drains the request body and strictly decodes it into dst,
// returning the raw bytes so a non-validator can forward the request
// verbatim after local decoding already consumed the stream.
func readAndDecode(r *http.Request, dst any) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apierrors.ErrMalformedPayload
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return nil, apierrors.ErrMalformedPayload
	}
	return body, nil
}

func blockSummary(b *ledger.Block) map[string]any {
	return map[string]any{
		"index":         b.Index,
		"timestamp":     b.Timestamp,
		"previous_hash": b.PreviousHash,
		"merkle_root":   b.MerkleRoot,
		"hash":          b.Hash,
		"validator":     b.Validator,
		"blind_indexes": b.BlindIndexes,
	}
}

func allBlockSummaries(chain *ledger.Chain) []map[string]any {
	blocks := chain.Blocks()
	out := make([]map[string]any, len(blocks))
	for i, b := range blocks {
		out[i] = blockSummary(b)
	}
	return out
}
