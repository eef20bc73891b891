// Package ratelimit implements the graduated penalty policy spec.md §4.7
// names: per-second request windows backed by golang.org/x/time/rate for
// the in-memory fast path, and a persisted violation ring/ban ladder for
// the slow, durable path.
package ratelimit

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/ledgerconst"
	"github.com/veilledger/veilledger/internal/store"
)

// Level is a graduated ban severity, in ascending order of strictness.
type Level int

const (
	LevelNone Level = iota
	LevelWarning
	LevelWriteBlock5Min
	LevelWriteBlock1Hr
	LevelPermanentWriteBan
	LevelCompleteBlacklist
)

// cooldowns maps each escalating violation count to the ban it produces.
// Index 0 is unused (no violation yet); index 1 is the 1st violation
// (Warning), and so on, per spec.md §4.7's five-level ladder.
var cooldowns = map[int]struct {
	level    Level
	duration time.Duration // 0 means permanent
}{
	1: {LevelWarning, 30 * time.Second},
	2: {LevelWriteBlock5Min, 5 * time.Minute},
	3: {LevelWriteBlock1Hr, time.Hour},
	4: {LevelPermanentWriteBan, 0},
	5: {LevelCompleteBlacklist, 0},
}

// violationRingSize bounds how many recent violation timestamps are kept
// per secret hash, per spec.md §4.7 ("ring of the last 5 timestamps").
const violationRingSize = 5

// requestsPerMinute and burst bound the in-memory per-peer token bucket
// golang.org/x/time/rate enforces ahead of any persisted-state check.
const (
	requestsPerMinute = 60
	burst             = 10
)

// maxRequestsPerSecond bounds the durable 1-second window count persisted
// at ratelimit:{secret_hash}:{window_start}. The token bucket already
// smooths sustained traffic; this catches a burst that lands inside one
// second and survives a process restart mid-flood.
const maxRequestsPerSecond = 10

// Limiter is the process-wide rate/ban policy engine. Its in-memory token
// buckets are protected by their own mutex, held only across the
// shortest-possible critical section, per spec.md §5's concurrency model
// for "rate_limiters".
type Limiter struct {
	store *store.Store

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	bypassed map[string]struct{}
}

// New builds a Limiter backed by s. bypass lists secret hashes (or peer
// identifiers) that are exempt from every check — an operational
// escape hatch, not part of the core protocol, so operators can
// whitelist trusted infrastructure peers without touching code.
func New(s *store.Store, bypass []string) *Limiter {
	bypassed := make(map[string]struct{}, len(bypass))
	for _, b := range bypass {
		bypassed[b] = struct{}{}
	}
	return &Limiter{
		store:    s,
		buckets:  make(map[string]*rate.Limiter),
		bypassed: bypassed,
	}
}

func (l *Limiter) bucketFor(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Minute/requestsPerMinute), burst)
		l.buckets[key] = b
	}
	return b
}

// Allow checks whether a caller identified by key (typically a
// secret_hash) may proceed. ipHash is the caller's hashed source IP,
// carried alongside so that an escalation to CompleteBlacklist can ban
// the actual IP rather than the secret-hash key. It first checks for an
// active ban or blacklist, then the in-memory token bucket, then applies
// a persisted escalation when the bucket itself is exhausted.
func (l *Limiter) Allow(key, ipHash string) error {
	l.mu.Lock()
	_, bypassed := l.bypassed[key]
	l.mu.Unlock()
	if bypassed {
		return nil
	}

	ban, err := l.activeBan(key)
	if err != nil {
		return err
	}
	if ban != nil {
		return fmt.Errorf("%s: %w", key, apierrors.ErrBanned)
	}

	if !l.bucketFor(key).Allow() {
		if err := l.recordViolation(key, ipHash); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", key, apierrors.ErrRateLimited)
	}

	count, err := l.store.IncrementRateLimitWindow(key, time.Now().Unix())
	if err != nil {
		return err
	}
	if count > maxRequestsPerSecond {
		if err := l.recordViolation(key, ipHash); err != nil {
			return err
		}
		return fmt.Errorf("%s: %w", key, apierrors.ErrRateLimited)
	}
	return nil
}

// activeBan returns key's ban record if it is still in effect, lazily
// deleting it from the store if it has expired.
func (l *Limiter) activeBan(key string) (*store.BanRecord, error) {
	ban, err := l.store.GetBan(key)
	if err != nil {
		return nil, err
	}
	if ban == nil {
		return nil, nil
	}
	if ban.ExpiresAt != nil && time.Now().Unix() >= *ban.ExpiresAt {
		if err := l.store.DeleteBan(key); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return ban, nil
}

// recordViolation appends a timestamp to key's violation ring, trims it to
// the last violationRingSize entries, and escalates the ban level to match
// the new violation count. ipHash is the caller's real hashed source IP,
// banned for 24 hours once the ladder reaches CompleteBlacklist.
func (l *Limiter) recordViolation(key, ipHash string) error {
	record, err := l.store.GetViolations(key)
	if err != nil {
		return err
	}
	record.Timestamps = append(record.Timestamps, time.Now().Unix())
	if len(record.Timestamps) > violationRingSize {
		record.Timestamps = record.Timestamps[len(record.Timestamps)-violationRingSize:]
	}
	if err := l.store.PutViolations(key, record); err != nil {
		return err
	}

	count := len(record.Timestamps)
	rule, ok := cooldowns[count]
	if !ok {
		rule = cooldowns[violationRingSize]
	}

	now := time.Now().Unix()
	banRecord := store.BanRecord{Level: int(rule.level), CreatedAt: now}
	if rule.duration > 0 {
		expiry := now + int64(rule.duration.Seconds())
		banRecord.ExpiresAt = &expiry
	}
	if err := l.store.PutBan(key, banRecord); err != nil {
		return err
	}

	if rule.level == LevelCompleteBlacklist && ipHash != "" {
		return l.blacklistIP(ipHash)
	}
	return nil
}

// blacklistIP is invoked once a caller reaches CompleteBlacklist: spec.md
// §4.7 pairs the permanent account ban at that level with a 24-hour ban
// on the offending source IP, recorded under ip_bans:{ip_hash} where
// AllowIP will see it.
func (l *Limiter) blacklistIP(ipHash string) error {
	expiry := time.Now().Add(24 * time.Hour).Unix()
	return l.store.PutIPBan(ipHash, expiry)
}

// AllowRead applies the read-path policy: read operations are blocked
// only at CompleteBlacklist, per spec.md §4.7.
func (l *Limiter) AllowRead(key string) error {
	ban, err := l.activeBan(key)
	if err != nil {
		return err
	}
	if ban != nil && ban.Level >= int(LevelCompleteBlacklist) {
		return fmt.Errorf("%s: %w", key, apierrors.ErrBanned)
	}
	return nil
}

// AllowIP checks key's IP against the ip_bans namespace directly,
// independent of any secret-hash-keyed ban.
func (l *Limiter) AllowIP(ipHash string) error {
	expiry, banned, err := l.store.GetIPBan(ipHash)
	if err != nil {
		return err
	}
	if !banned {
		return nil
	}
	if time.Now().Unix() >= expiry {
		return nil
	}
	return fmt.Errorf("%s: %w", ipHash, apierrors.ErrBanned)
}

// RequestTimestampValid checks a signed request's declared timestamp
// against wall-clock time within RequestTimestampToleranceSeconds.
func RequestTimestampValid(declared int64) bool {
	now := time.Now().Unix()
	delta := declared - now
	if delta < 0 {
		delta = -delta
	}
	return delta <= ledgerconst.RequestTimestampToleranceSeconds
}
