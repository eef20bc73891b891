package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/node"
)

type accountCreateRequest struct {
	Secret            string `json:"secret"`
	MetadataEncrypted string `json:"metadata_encrypted,omitempty"`
}

// handleAccountCreate implements POST /account/create: admit a new
// account for the caller's secret, mint (or forward to the validator),
// and broadcast.
func (a *API) handleAccountCreate(w http.ResponseWriter, r *http.Request) {
	var req accountCreateRequest
	body, err := readAndDecode(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	secret, err := node.DecodeBearerSecret("Bearer " + req.Secret)
	if err != nil {
		writeError(w, apierrors.ErrAuthenticationFailed)
		return
	}

	result, err := a.Node.CreateAccount(secret, req.MetadataEncrypted, ipHashFor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if result.ForwardAddr != "" {
		a.forward(w, r, result.ForwardAddr, body)
		return
	}
	writeJSON(w, http.StatusOK, blockSummary(result.Block))
}

type accountLoginRequest struct {
	Secret string `json:"secret"`
}

// handleAccountLogin implements POST /account/login: authenticate via
// hash(secret) against the chain's admitted accounts, then issue a
// session token standing in for the raw secret on subsequent requests.
func (a *API) handleAccountLogin(w http.ResponseWriter, r *http.Request) {
	var req accountLoginRequest
	if _, err := readAndDecode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	secret, err := node.DecodeBearerSecret("Bearer " + req.Secret)
	if err != nil {
		writeError(w, apierrors.ErrAuthenticationFailed)
		return
	}

	if _, err := node.FindAccountInChain(a.Node.Chain, a.Node.Cache, secret); err != nil {
		writeError(w, apierrors.ErrAuthenticationFailed)
		return
	}
	token, err := a.Sessions.Issue(secret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"session_token": token})
}

type dataSubmitRequest struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload"`

	// Signed-envelope fields. When Nonce is set the body is treated as a
	// replay-protected node.SignedRequest whose Payload holds the actual
	// {label, payload} pair; otherwise the body is the pair directly.
	Nonce     string `json:"nonce,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
	Signature string `json:"signature,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// handleDataSubmit implements POST /data/submit.
func (a *API) handleDataSubmit(w http.ResponseWriter, r *http.Request) {
	secret, err := a.resolveSecret(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req dataSubmitRequest
	body, err := readAndDecode(r, &req)
	if err != nil {
		writeError(w, err)
		return
	}
	if req.Nonce != "" {
		signed := &node.SignedRequest{
			Payload:   req.Payload,
			Nonce:     req.Nonce,
			Timestamp: req.Timestamp,
			Signature: req.Signature,
			PublicKey: req.PublicKey,
		}
		if err := a.Node.VerifySignedRequest(signed); err != nil {
			writeError(w, err)
			return
		}
		var inner dataSubmitRequest
		if err := json.Unmarshal(req.Payload, &inner); err != nil {
			writeError(w, apierrors.ErrMalformedPayload)
			return
		}
		req = inner
	}

	result, err := a.Node.SubmitCollection(secret, req.Label, string(req.Payload), ipHashFor(r))
	if err != nil {
		writeError(w, err)
		return
	}
	if result.ForwardAddr != "" {
		a.forward(w, r, result.ForwardAddr, body)
		return
	}
	writeJSON(w, http.StatusOK, blockSummary(result.Block))
}

// handleDataList implements GET /data/list: every collection the caller's
// secret owns, across every block.
func (a *API) handleDataList(w http.ResponseWriter, r *http.Request) {
	secret, err := a.resolveSecret(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Node.Limiter.AllowRead(readKey(secret)); err != nil {
		writeError(w, err)
		return
	}

	collections, err := a.Node.FindCollectionsByOwner(secret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, collections)
}

// handleDataDecrypt implements POST /data/decrypt/{id}: locate the
// collection, verify ownership, and decrypt its metadata and payload.
func (a *API) handleDataDecrypt(w http.ResponseWriter, r *http.Request) {
	secret, err := a.resolveSecret(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := a.Node.Limiter.AllowRead(readKey(secret)); err != nil {
		writeError(w, err)
		return
	}

	id := r.PathValue("id")
	collection, err := a.Node.FindCollection(id, secret)
	if err != nil {
		writeError(w, err)
		return
	}

	label, createdAt, err := collection.DecryptMetadata(secret)
	if err != nil {
		writeError(w, apierrors.ErrAuthenticationFailed)
		return
	}
	payload, err := collection.DecryptPayload(secret)
	if err != nil {
		writeError(w, apierrors.ErrAuthenticationFailed)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"collection_id": collection.CollectionID,
		"label":         label,
		"created_at":    createdAt,
		"payload":       payload,
	})
}

func readKey(secret []byte) string {
	hash := cryptocore.HashSecret(secret)
	return hashHex(hash[:])
}

// handleChain implements GET /chain: pure introspection over every block's
// plaintext-visible header fields.
func (a *API) handleChain(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"height": a.Node.Chain.Height(),
		"blocks": allBlockSummaries(a.Node.Chain),
	})
}

// handlePeers implements GET /peers.
func (a *API) handlePeers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"peers": a.Node.Peers.Peers()})
}

// handleSync implements GET /sync: request the full chain from every known
// peer and adopt the first candidate that passes replace_chain, rewriting
// the persisted block range atomically alongside the in-memory swap.
func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	replaced := a.Node.SyncFromPeers()
	writeJSON(w, http.StatusOK, map[string]any{"replaced": replaced, "height": a.Node.Chain.Height()})
}

// handleHealth implements GET /health.
func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "uptime_seconds": int64(time.Since(a.started).Seconds())})
}

// handleStats implements GET /stats.
func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"height":          a.Node.Chain.Height(),
		"validator":       a.Node.ValidatorName,
		"peer_count":      len(a.Node.Peers.Peers()),
		"key_cache_stats": a.Node.Cache.Stats(),
	})
}

// handleMetrics implements GET /metrics: the key cache's exported hit
// rate, per spec.md §4.1 ("Hit-rate is exported as a metric").
func (a *API) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := a.Node.Cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"key_cache_hits":     stats.Hits,
		"key_cache_misses":   stats.Misses,
		"key_cache_hit_rate": stats.HitRate(),
		"key_cache_len":      a.Node.Cache.Len(),
	})
}

// forward proxies a write request to the current validator per spec.md
// §4.6 step 5, preserving headers and returning the response verbatim.
// body is the already-drained request body — the local decode consumed
// the stream, so the caller hands the bytes back in.
func (a *API) forward(w http.ResponseWriter, r *http.Request, addr string, body []byte) {
	resp, err := node.ForwardWrite(addr, r.URL.Path, r.Method, r.Header, body)
	if err != nil {
		writeError(w, err)
		return
	}
	defer resp.Body.Close()
	for k, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)
}
