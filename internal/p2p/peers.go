package p2p

import (
	"sync"
	"time"

	"github.com/veilledger/veilledger/internal/ledgerconst"
)

// peerRateTracker is a sliding 60-second message counter for one peer,
// grounded directly on original_source/src/network/p2p.rs's
// RateLimitTracker.
type peerRateTracker struct {
	count       int
	windowStart int64
}

func (t *peerRateTracker) checkAndIncrement(now int64) bool {
	if now-t.windowStart >= 60 {
		t.count = 0
		t.windowStart = now
	}
	if t.count < ledgerconst.MaxMessagesPerMinute {
		t.count++
		return true
	}
	return false
}

// PeerRegistry tracks reputation, rate limiting, and blacklist state for
// every peer this node has talked to. Each concern gets its own mutex
// held only across the shortest possible critical section, per spec.md
// §5's guidance for "Peers list, peer_reputation, rate_limiters,
// blacklist".
type PeerRegistry struct {
	peersMu sync.Mutex
	peers   []string

	reputationMu sync.Mutex
	reputation   map[string]int

	rateMu sync.Mutex
	rates  map[string]*peerRateTracker

	blacklistMu sync.Mutex
	blacklist   map[string]struct{}
}

// NewPeerRegistry builds a registry pre-seeded with the configured peer
// addresses.
func NewPeerRegistry(peers []string) *PeerRegistry {
	return &PeerRegistry{
		peers:      append([]string(nil), peers...),
		reputation: make(map[string]int),
		rates:      make(map[string]*peerRateTracker),
		blacklist:  make(map[string]struct{}),
	}
}

// Peers returns a defensive copy of the configured peer addresses.
func (r *PeerRegistry) Peers() []string {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	out := make([]string, len(r.peers))
	copy(out, r.peers)
	return out
}

// AddPeer appends addr to the peer list if not already present.
func (r *PeerRegistry) AddPeer(addr string) {
	r.peersMu.Lock()
	defer r.peersMu.Unlock()
	for _, p := range r.peers {
		if p == addr {
			return
		}
	}
	r.peers = append(r.peers, addr)
}

// Reputation returns peerAddr's current reputation score (0 if unseen).
func (r *PeerRegistry) Reputation(peerAddr string) int {
	r.reputationMu.Lock()
	defer r.reputationMu.Unlock()
	return r.reputation[peerAddr]
}

// AdjustReputation adds delta to peerAddr's reputation score.
func (r *PeerRegistry) AdjustReputation(peerAddr string, delta int) {
	r.reputationMu.Lock()
	defer r.reputationMu.Unlock()
	r.reputation[peerAddr] += delta
}

// IsBelowReputationThreshold reports whether peerAddr's standing is below
// MinReputationThreshold.
func (r *PeerRegistry) IsBelowReputationThreshold(peerAddr string) bool {
	return r.Reputation(peerAddr) < ledgerconst.MinReputationThreshold
}

// AllowMessage applies peerAddr's sliding rate-limit window, returning
// false if this message would exceed it.
func (r *PeerRegistry) AllowMessage(peerAddr string) bool {
	r.rateMu.Lock()
	defer r.rateMu.Unlock()
	tracker, ok := r.rates[peerAddr]
	if !ok {
		tracker = &peerRateTracker{windowStart: time.Now().Unix()}
		r.rates[peerAddr] = tracker
	}
	return tracker.checkAndIncrement(time.Now().Unix())
}

// IsBlacklisted reports whether peerAddr has been permanently banned.
func (r *PeerRegistry) IsBlacklisted(peerAddr string) bool {
	r.blacklistMu.Lock()
	defer r.blacklistMu.Unlock()
	_, banned := r.blacklist[peerAddr]
	return banned
}

// Blacklist permanently bans peerAddr.
func (r *PeerRegistry) Blacklist(peerAddr string) {
	r.blacklistMu.Lock()
	defer r.blacklistMu.Unlock()
	r.blacklist[peerAddr] = struct{}{}
}
