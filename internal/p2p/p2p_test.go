package p2p_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/p2p"
)

func TestWriteReadMessageRoundTrip(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	original := p2p.RequestChainMessage()
	done := make(chan error, 1)
	go func() {
		done <- p2p.WriteMessage(client, original)
	}()

	received, err := p2p.ReadMessage(server)
	require.NoError(t, err)
	require.NoError(t, <-done)
	assert.Equal(t, p2p.MessageRequestChain, received.Type)
}

func TestReadMessageRejectsOversizedLength(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	go func() {
		client.Write([]byte{0xFF, 0xFF, 0xFF, 0xFF})
	}()

	_, err := p2p.ReadMessage(server)
	assert.Error(t, err)
}

func TestPeerRegistryReputationThreshold(t *testing.T) {
	registry := p2p.NewPeerRegistry(nil)
	assert.False(t, registry.IsBelowReputationThreshold("peer1"))

	for i := 0; i < 3; i++ {
		registry.AdjustReputation("peer1", ledgerconst.ReputationPenaltyInvalidBlock)
	}
	assert.True(t, registry.IsBelowReputationThreshold("peer1"))
}

func TestPeerRegistryBlacklist(t *testing.T) {
	registry := p2p.NewPeerRegistry(nil)
	assert.False(t, registry.IsBlacklisted("peer1"))
	registry.Blacklist("peer1")
	assert.True(t, registry.IsBlacklisted("peer1"))
}

func TestPeerRegistryRateLimitWindow(t *testing.T) {
	registry := p2p.NewPeerRegistry(nil)
	for i := 0; i < ledgerconst.MaxMessagesPerMinute; i++ {
		assert.True(t, registry.AllowMessage("peer1"))
	}
	assert.False(t, registry.AllowMessage("peer1"))
}

func TestPeerRegistryAddPeerDeduplicates(t *testing.T) {
	registry := p2p.NewPeerRegistry([]string{"a:1"})
	registry.AddPeer("a:1")
	registry.AddPeer("b:2")
	assert.ElementsMatch(t, []string{"a:1", "b:2"}, registry.Peers())
}

func TestDialWithBackoffFailsOnUnreachableAddr(t *testing.T) {
	start := time.Now()
	err := p2p.SendMessage("127.0.0.1:1", p2p.RequestChainMessage())
	assert.Error(t, err)
	assert.Greater(t, time.Since(start), ledgerconst.BackoffInitial)
}
