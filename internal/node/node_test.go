package node_test

import (
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/node"
	"github.com/veilledger/veilledger/internal/p2p"
	"github.com/veilledger/veilledger/internal/ratelimit"
	"github.com/veilledger/veilledger/internal/store"
	"github.com/veilledger/veilledger/pkg/ledgertypes"
)

func newTestNode(t *testing.T, validatorName string) *node.Node {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	genesis, err := ledger.NewGenesisBlock()
	require.NoError(t, err)
	chain := ledger.NewChain(genesis)

	cache := cryptocore.NewKeyCache()
	limiter := ratelimit.New(s, nil)
	peers := p2p.NewPeerRegistry(nil)

	return node.New(chain, s, cache, priv, limiter, peers, validatorName, map[string]string{
		"Validator_1": "http://validator1.local",
		"Validator_2": "http://validator2.local",
	})
}

func TestCreateAccountMintsWhenThisNodeIsTheValidator(t *testing.T) {
	n := newTestNode(t, "Validator_2") // block 1 belongs to Validator_2

	result, err := n.CreateAccount([]byte("a fresh user secret"), "", "127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, result.Block)
	assert.Empty(t, result.ForwardAddr)
	assert.Equal(t, int64(1), n.Chain.Height())
}

func TestCreateAccountForwardsWhenThisNodeIsNotTheValidator(t *testing.T) {
	n := newTestNode(t, "Validator_1") // block 1 belongs to Validator_2, not us

	result, err := n.CreateAccount([]byte("a fresh user secret"), "", "127.0.0.1")
	require.NoError(t, err)
	assert.Nil(t, result.Block)
	assert.Equal(t, "http://validator2.local", result.ForwardAddr)
	assert.Equal(t, int64(0), n.Chain.Height())
}

func TestSubmitCollectionRejectsUnknownOwner(t *testing.T) {
	n := newTestNode(t, "Validator_2")

	_, err := n.SubmitCollection([]byte("never admitted"), "label", `{"k":"v"}`, "127.0.0.1")
	assert.Error(t, err)
}

func TestSubmitCollectionAfterAccountCreation(t *testing.T) {
	n := newTestNode(t, "Validator_2")
	secret := []byte("a fresh user secret")

	_, err := n.CreateAccount(secret, "", "127.0.0.1")
	require.NoError(t, err)

	// The rotation has moved on: block 2 belongs to Validator_1, so
	// re-identify this node as that slot's owner to stay on the mint path.
	n.ValidatorName = "Validator_1"

	result, err := n.SubmitCollection(secret, "my-label", `{"hello":"world"}`, "127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, result.Block)

	owned, err := n.FindCollectionsByOwner(secret)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	fetched, err := n.FindCollection(owned[0].CollectionID, secret)
	require.NoError(t, err)
	payload, err := fetched.DecryptPayload(secret)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, payload)
}

func TestFindCollectionRejectsWrongOwner(t *testing.T) {
	n := newTestNode(t, "Validator_2")
	secret := []byte("a fresh user secret")
	_, err := n.CreateAccount(secret, "", "127.0.0.1")
	require.NoError(t, err)
	n.ValidatorName = "Validator_1"
	result, err := n.SubmitCollection(secret, "label", `{"x":1}`, "127.0.0.1")
	require.NoError(t, err)
	require.NotNil(t, result.Block)

	owned, err := n.FindCollectionsByOwner(secret)
	require.NoError(t, err)
	require.Len(t, owned, 1)

	_, err = n.FindCollection(owned[0].CollectionID, []byte("someone else's secret"))
	assert.Error(t, err)
}

func TestDecodeBearerSecretRejectsMalformedHeader(t *testing.T) {
	_, err := node.DecodeBearerSecret("not-a-bearer-token")
	assert.Error(t, err)
}

func TestMintRejectsNodeOutsideItsRotationSlot(t *testing.T) {
	n := newTestNode(t, "Validator_1") // block 1 belongs to Validator_2

	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	account := ledgertypes.NewUserAccount([]byte("secret"), priv, 1, "")

	_, err = n.Mint([]ledger.MintRequest{{Secret: []byte("secret"), Account: account}})
	assert.ErrorIs(t, err, apierrors.ErrNotAuthorizedValidator)
	assert.Equal(t, int64(0), n.Chain.Height())
}

func TestVerifySignedRequestAcceptsThenRejectsReplay(t *testing.T) {
	n := newTestNode(t, "Validator_1")

	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	signed := node.SignRequest([]byte(`{"label":"x","payload":{"k":"v"}}`), priv)

	require.NoError(t, n.VerifySignedRequest(signed))

	err = n.VerifySignedRequest(signed)
	assert.ErrorIs(t, err, apierrors.ErrAuthenticationFailed)
}

func TestVerifySignedRequestRejectsStaleTimestamp(t *testing.T) {
	n := newTestNode(t, "Validator_1")

	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	signed := node.SignRequest([]byte(`{"k":"v"}`), priv)
	signed.Timestamp -= 3600
	// Re-signing over the stale timestamp keeps the signature itself
	// valid, isolating the freshness check.
	resigned := *signed
	resigned.Signature = cryptocore.Sign(priv, []byte(string(resigned.Payload)+resigned.Nonce+timestampString(resigned.Timestamp)))

	err = n.VerifySignedRequest(&resigned)
	assert.ErrorIs(t, err, apierrors.ErrAuthenticationFailed)
}

func TestVerifySignedRequestRejectsTamperedPayload(t *testing.T) {
	n := newTestNode(t, "Validator_1")

	_, priv, err := cryptocore.GenerateSigningKey()
	require.NoError(t, err)
	signed := node.SignRequest([]byte(`{"k":"v"}`), priv)
	signed.Payload = []byte(`{"k":"tampered"}`)

	err = n.VerifySignedRequest(signed)
	assert.ErrorIs(t, err, apierrors.ErrAuthenticationFailed)
}

func timestampString(ts int64) string {
	return strconv.FormatInt(ts, 10)
}
