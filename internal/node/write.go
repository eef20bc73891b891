package node

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/p2p"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

// WriteResult reports a write path's outcome: either this node minted
// Block itself, or the caller must re-issue the request against
// ForwardAddr because this node is not the validator for the next index.
type WriteResult struct {
	Block       *ledger.Block
	ForwardAddr string
}

// authenticateAndRateLimit applies spec.md §4.6 steps 1-2: the caller's
// secret identifies them (the collapsed "does an account for this secret
// even need to exist yet" question is left to the caller, since account
// creation and collection submission differ here), and both the source IP
// and the secret hash are checked against the graduated ban ladder before
// anything else runs.
func (n *Node) authenticateAndRateLimit(secret []byte, ipHash string) (string, error) {
	secretHash := fmt.Sprintf("%x", cryptocore.HashSecret(secret))

	if err := n.Limiter.AllowIP(ipHash); err != nil {
		return "", err
	}
	if err := n.Limiter.Allow(secretHash, ipHash); err != nil {
		return "", err
	}
	return secretHash, nil
}

// CreateAccount runs the write path for a new account admission. The
// account's creation timestamp gets the same day-granular jitter blocks
// do — a precise admission instant would undercut the block-level
// timestamp obfuscation for any block holding a single account.
func (n *Node) CreateAccount(secret []byte, metadataEncrypted string, ipHash string) (*WriteResult, error) {
	if _, err := n.authenticateAndRateLimit(secret, ipHash); err != nil {
		return nil, err
	}

	createdAt, err := ledger.JitteredTimestamp(time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: account timestamp: %v", apierrors.ErrInternal, err)
	}
	account := ledgertypes.NewUserAccount(secret, n.SigningKey, createdAt, metadataEncrypted)
	if err := account.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrMalformedPayload, err)
	}

	return n.mintOrForward([]ledger.MintRequest{{Secret: secret, Account: account}})
}

// SubmitCollection runs the write path for a new data collection,
// verifying the caller already owns an admitted account before minting.
func (n *Node) SubmitCollection(secret []byte, label, payload string, ipHash string) (*WriteResult, error) {
	secretHash, err := n.authenticateAndRateLimit(secret, ipHash)
	if err != nil {
		return nil, err
	}

	if err := ledgertypes.ValidateLabel(label); err != nil {
		return nil, fmt.Errorf("%w: %v", apierrors.ErrLabelTooLong, err)
	}
	if err := validatePayloadStructure(payload); err != nil {
		return nil, err
	}

	account, err := FindAccountInChain(n.Chain, n.Cache, secret)
	if err != nil {
		return nil, err
	}

	collection, err := ledgertypes.NewEncryptedCollection(label, payload, secret, account.SecretHash, n.SigningKey)
	if err != nil {
		return nil, err
	}
	if collection.OwnerSecretHash != secretHash {
		return nil, fmt.Errorf("%w", apierrors.ErrOwnerMismatch)
	}

	return n.mintOrForward([]ledger.MintRequest{{Secret: secret, Collection: collection}})
}

// validatePayloadStructure implements spec.md §4.6 step 3's "reject
// oversized or structurally unsafe JSON" requirement: an overall size
// ceiling plus a nesting-depth ceiling, walked token-by-token so a
// malicious payload never needs to be fully unmarshalled into a tree
// before being rejected. Payloads that are not JSON at all (a bare string
// label payload, say) are accepted as-is — only JSON bodies are subject to
// the depth check.
func validatePayloadStructure(payload string) error {
	if len(payload) > ledgerconst.MaxPayloadBytes {
		return fmt.Errorf("%w: payload exceeds %d bytes", apierrors.ErrPayloadTooLarge, ledgerconst.MaxPayloadBytes)
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(payload)))
	depth := 0
	maxDepth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if err == io.EOF {
				break
			}
			// Not valid JSON at all: nothing further to check structurally.
			return nil
		}
		switch tok.(type) {
		case json.Delim:
			d := tok.(json.Delim)
			switch d {
			case '{', '[':
				depth++
				if depth > maxDepth {
					maxDepth = depth
				}
			case '}', ']':
				depth--
			}
		}
	}
	if maxDepth > ledgerconst.MaxPayloadDepth {
		return fmt.Errorf("%w: nesting depth %d exceeds %d", apierrors.ErrJSONTooDeep, maxDepth, ledgerconst.MaxPayloadDepth)
	}
	return nil
}

// mintOrForward implements spec.md §4.6 steps 5-6.
func (n *Node) mintOrForward(requests []ledger.MintRequest) (*WriteResult, error) {
	if !n.IsValidatorForNextBlock() {
		addr, err := n.ValidatorAddrForNextBlock()
		if err != nil {
			return nil, err
		}
		return &WriteResult{ForwardAddr: addr}, nil
	}

	block, err := n.Mint(requests)
	if err != nil {
		return nil, err
	}
	return &WriteResult{Block: block}, nil
}

// Mint drains requests into a new block, appends, persists, records audit
// indexes, and gossips. It refuses outright when this node does not hold
// the rotation slot for the next index — callers wanting the
// forward-instead-of-fail behaviour go through mintOrForward.
func (n *Node) Mint(requests []ledger.MintRequest) (*ledger.Block, error) {
	tip := n.Chain.LatestBlock()
	next := tip.Index + 1
	if expected := ledger.ValidatorForIndex(next); expected != n.ValidatorName {
		return nil, fmt.Errorf("index %d expects %s, got %s: %w", next, expected, n.ValidatorName, apierrors.ErrNotAuthorizedValidator)
	}

	block, err := ledger.MintNextBlock(n.Cache, n.Chain, requests)
	if err != nil {
		return nil, err
	}
	if err := n.Chain.AddBlock(block); err != nil {
		return nil, err
	}
	if err := n.persistAndCheckpoint(block); err != nil {
		return nil, err
	}
	if err := n.recordAuditIndexes(requests, block.Index); err != nil {
		return nil, err
	}

	p2p.BroadcastBlock(n.Peers.Peers(), block)
	return block, nil
}

// AdoptChain runs the full reorg: the in-memory replace-chain decision
// (strictly longer, structurally valid, checkpoint-respecting), then a
// single atomic rewrite of the persisted block range so disk can never
// hold a half-replaced chain.
func (n *Node) AdoptChain(candidate []*ledger.Block) error {
	if err := n.Chain.ReplaceChain(candidate); err != nil {
		return err
	}
	if err := n.Store.RewriteChain(candidate); err != nil {
		return err
	}
	for _, b := range candidate {
		if b.Index%ledgerconst.CheckpointInterval == 0 {
			if err := n.Store.PutCheckpoint(b.Index, b.Hash); err != nil {
				return err
			}
		}
	}
	return nil
}

// SyncFromPeers requests the full chain from this node's peers and adopts
// the first candidate that survives AdoptChain. Returns whether the local
// chain was replaced.
func (n *Node) SyncFromPeers() bool {
	peers := n.Peers.Peers()
	if len(peers) == 0 {
		return false
	}
	candidate := p2p.RequestChainFromPeers(peers)
	if len(candidate) == 0 {
		return false
	}
	return n.AdoptChain(candidate) == nil
}

func (n *Node) persistAndCheckpoint(block *ledger.Block) error {
	if err := n.Store.AppendBlock(block); err != nil {
		return err
	}
	if block.Index%ledgerconst.CheckpointInterval == 0 {
		if err := n.Store.PutCheckpoint(block.Index, block.Hash); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) recordAuditIndexes(requests []ledger.MintRequest, blockIndex int64) error {
	for _, req := range requests {
		switch {
		case req.Account != nil:
			if err := n.Store.AppendAuditIndex(req.Account.SecretHash, blockIndex); err != nil {
				return err
			}
		case req.Collection != nil:
			if err := n.Store.AppendAuditIndex(req.Collection.OwnerSecretHash, blockIndex); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeBearerSecret extracts the raw secret from an "Authorization:
// Bearer <base64(secret)>" header value.
func DecodeBearerSecret(headerValue string) ([]byte, error) {
	const prefix = "Bearer "
	if len(headerValue) <= len(prefix) || headerValue[:len(prefix)] != prefix {
		return nil, fmt.Errorf("%w", apierrors.ErrAuthenticationFailed)
	}
	secret, err := base64.StdEncoding.DecodeString(headerValue[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("%w", apierrors.ErrAuthenticationFailed)
	}
	return secret, nil
}

// ForwardWrite proxies a write request's body and headers verbatim to a
// validator's address, per spec.md §4.6 step 5 ("preserving the
// Authorization header and signature header ... return the forwarded
// response verbatim"). Transport failures retry with the same exponential
// backoff discipline P2P connects use; an HTTP-level error status is a
// response, not a failure, and is returned as-is for the caller to relay.
func ForwardWrite(addr, path, method string, headers http.Header, body []byte) (*http.Response, error) {
	client := &http.Client{Timeout: ledgerconst.HTTPForwardTimeout}

	backoff := ledgerconst.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= ledgerconst.BackoffMaxRetries; attempt++ {
		req, err := http.NewRequest(method, addr+path, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: build forward request: %v", apierrors.ErrInternal, err)
		}
		for key, values := range headers {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
		resp, err := client.Do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if attempt == ledgerconst.BackoffMaxRetries {
			break
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > ledgerconst.BackoffCap {
			backoff = ledgerconst.BackoffCap
		}
	}
	return nil, fmt.Errorf("%w: forward to %s: %v", apierrors.ErrStorageFailure, addr, lastErr)
}
