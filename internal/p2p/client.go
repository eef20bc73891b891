package p2p

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/logging"
)

var clientLogger = logging.New("p2p.client")

// dialWithBackoff opens a TCP connection to addr, retrying with
// exponential backoff (100ms initial, doubling, capped at 5s) up to
// BackoffMaxRetries times, grounded on original_source/src/network/p2p.rs's
// reconnect loop.
func dialWithBackoff(addr string) (net.Conn, error) {
	backoff := ledgerconst.BackoffInitial
	var lastErr error
	for attempt := 0; attempt <= ledgerconst.BackoffMaxRetries; attempt++ {
		conn, err := net.DialTimeout("tcp", addr, ledgerconst.P2PConnectTimeout)
		if err == nil {
			return conn, nil
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
	return nil, fmt.Errorf("dial %s after %d attempts: %w", addr, ledgerconst.BackoffMaxRetries+1, lastErr)
}

// SendMessage opens a connection to addr, writes msg, and closes the
// connection without waiting for a reply. Used for fire-and-forget
// broadcast.
func SendMessage(addr string, msg *Message) error {
	conn, err := dialWithBackoff(addr)
	if err != nil {
		return err
	}
	defer conn.Close()
	return WriteMessage(conn, msg)
}

// SendAndReceive opens a connection to addr, writes msg, and reads back a
// single response message.
func SendAndReceive(addr string, msg *Message) (*Message, error) {
	conn, err := dialWithBackoff(addr)
	if err != nil {
		return nil, err
	}
	defer conn.Close()
	if err := WriteMessage(conn, msg); err != nil {
		return nil, err
	}
	return ReadMessage(conn)
}

// BroadcastBlock gossips block to every peer in parallel, fire-and-forget.
// A per-peer send failure is logged but never returned — minting must
// never fail because a peer is unreachable.
func BroadcastBlock(peers []string, block *ledger.Block) {
	msg := NewBlockMessage(block)
	var wg sync.WaitGroup
	for _, peer := range peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := SendMessage(peer, msg); err != nil {
				clientLogger.Warn().Err(err).Str("peer", peer).Int64("index", block.Index).Msg("block broadcast failed")
			}
		}()
	}
	wg.Wait()
}

// BroadcastPeers gossips the known peer address list to every peer.
func BroadcastPeers(peers []string, known []string) {
	msg := PeersMessage(known)
	var wg sync.WaitGroup
	for _, peer := range peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := SendMessage(peer, msg); err != nil {
				clientLogger.Debug().Err(err).Str("peer", peer).Msg("peer-list gossip failed")
			}
		}()
	}
	wg.Wait()
}

// RequestChainFromPeers asks each peer in turn for its full chain,
// stopping at the first peer that answers. RequestChain is on-demand
// only: callers invoke this after detecting a fork or on startup, never
// on a polling schedule.
func RequestChainFromPeers(peers []string) []*ledger.Block {
	for _, peer := range peers {
		response, err := SendAndReceive(peer, RequestChainMessage())
		if err != nil {
			clientLogger.Debug().Err(err).Str("peer", peer).Msg("chain request failed")
			continue
		}
		if response.Type == MessageResponseChain && len(response.Chain) > 0 {
			return response.Chain
		}
	}
	return nil
}
