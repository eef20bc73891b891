package store_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilledger/veilledger/internal/cryptocore"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndLoadChain(t *testing.T) {
	s := openTestStore(t)

	genesis, err := ledger.NewGenesisBlock()
	require.NoError(t, err)

	require.NoError(t, s.AppendBlock(genesis))

	length, err := s.ChainLength()
	require.NoError(t, err)
	assert.Equal(t, int64(1), length)

	loaded, err := s.LoadChain()
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, genesis.Hash, loaded[0].Hash)
}

func TestRewriteChainReplacesWholeBlockRange(t *testing.T) {
	s := openTestStore(t)

	genesis, err := ledger.NewGenesisBlock()
	require.NoError(t, err)
	chain := ledger.NewChain(genesis)
	cache := cryptocore.NewKeyCache()

	require.NoError(t, s.AppendBlock(genesis))
	b1, err := ledger.MintEmptyBlock(cache, chain)
	require.NoError(t, err)
	require.NoError(t, chain.AddBlock(b1))
	require.NoError(t, s.AppendBlock(b1))
	b2, err := ledger.MintEmptyBlock(cache, chain)
	require.NoError(t, err)
	require.NoError(t, chain.AddBlock(b2))
	require.NoError(t, s.AppendBlock(b2))

	// Rewrite down to a two-block chain: block 2 must be gone, length
	// must move in the same commit.
	replacement := chain.Blocks()[:2]
	require.NoError(t, s.RewriteChain(replacement))

	length, err := s.ChainLength()
	require.NoError(t, err)
	assert.Equal(t, int64(2), length)

	loaded, err := s.LoadChain()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, b1.Hash, loaded[1].Hash)

	_, err = s.GetBlock(2)
	assert.Error(t, err)
}

func TestCheckpointRoundTrip(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.PutCheckpoint(0, "deadbeef"))
	require.NoError(t, s.PutCheckpoint(100, "cafebabe"))

	checkpoints, err := s.LoadCheckpoints()
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", checkpoints[0])
	assert.Equal(t, "cafebabe", checkpoints[100])
}

func TestRateLimitWindowIncrements(t *testing.T) {
	s := openTestStore(t)
	windowStart := time.Now().Unix()

	c1, err := s.IncrementRateLimitWindow("secret-hash", windowStart)
	require.NoError(t, err)
	c2, err := s.IncrementRateLimitWindow("secret-hash", windowStart)
	require.NoError(t, err)

	assert.Equal(t, uint32(1), c1)
	assert.Equal(t, uint32(2), c2)
}

func TestBanRoundTrip(t *testing.T) {
	s := openTestStore(t)

	existing, err := s.GetBan("secret-hash")
	require.NoError(t, err)
	assert.Nil(t, existing)

	expiry := time.Now().Add(time.Hour).Unix()
	require.NoError(t, s.PutBan("secret-hash", store.BanRecord{Level: 2, CreatedAt: time.Now().Unix(), ExpiresAt: &expiry}))

	ban, err := s.GetBan("secret-hash")
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Equal(t, 2, ban.Level)
}

func TestNonceSeenDetectsReplay(t *testing.T) {
	s := openTestStore(t)
	expiry := time.Now().Add(time.Minute).Unix()

	seen, err := s.NonceSeen("nonce-1", expiry)
	require.NoError(t, err)
	assert.False(t, seen)

	seen, err = s.NonceSeen("nonce-1", expiry)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestAuditIndexAccumulates(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.AppendAuditIndex("secret-hash", 1))
	require.NoError(t, s.AppendAuditIndex("secret-hash", 2))

	indexes, err := s.GetAuditIndex("secret-hash")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, indexes)
}

func TestSweepRemovesExpiredNonces(t *testing.T) {
	s := openTestStore(t)
	past := time.Now().Add(-time.Minute).Unix()
	seen, err := s.NonceSeen("expired-nonce", past)
	require.NoError(t, err)
	require.False(t, seen)

	require.NoError(t, s.Sweep(time.Now()))

	seen, err = s.NonceSeen("expired-nonce", time.Now().Add(time.Minute).Unix())
	require.NoError(t, err)
	assert.False(t, seen, "expired nonce should have been swept, so re-checking it looks like a fresh nonce")
}

func TestApplyMigrationsRunsOnceAndAdvancesSchema(t *testing.T) {
	s := openTestStore(t)
	calls := 0
	migrations := []store.Migration{
		{Version: "v1", Apply: func(*store.Store) error { calls++; return nil }},
	}

	require.NoError(t, s.ApplyMigrations(migrations))
	require.NoError(t, s.ApplyMigrations(migrations))

	assert.Equal(t, 1, calls)
	schema, err := s.CurrentSchema()
	require.NoError(t, err)
	assert.Equal(t, "v1", schema)
}
