package store

import (
	"encoding/binary"
	"strconv"
	"strings"
	"sync"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/veilledger/veilledger/internal/logging"
)

// rateLimitWindowRetention bounds how long a ratelimit:* window key
// lingers after its window has closed — long enough for any in-flight
// request counting against it to finish, short enough not to accumulate
// one key per second per caller forever.
const rateLimitWindowRetention = 5 * time.Minute

// Janitor periodically sweeps expired nonce and stale rate-limit-window
// keys, the periodic cleanup pass spec.md §4.4 calls for. It follows the
// stopChan/sync.WaitGroup ticker-loop idiom used by
// internal/consensus.ConsensusEngine.
type Janitor struct {
	store    *Store
	interval time.Duration
	logger   zerolog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewJanitor builds a janitor that sweeps store every interval.
func NewJanitor(store *Store, interval time.Duration) *Janitor {
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logging.New("janitor"),
		stopChan: make(chan struct{}),
	}
}

// Start begins the janitor's background sweep loop.
func (j *Janitor) Start() {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-j.stopChan:
				return
			case <-ticker.C:
				if err := j.store.Sweep(time.Now()); err != nil {
					j.logger.Warn().Err(err).Msg("sweep failed")
				}
			}
		}
	}()
}

// Stop signals the janitor to shut down and waits for it to exit.
func (j *Janitor) Stop() {
	close(j.stopChan)
	j.wg.Wait()
}

// Sweep deletes nonce:* entries whose expiry has passed and ratelimit:*
// windows older than rateLimitWindowRetention, relative to now.
func (s *Store) Sweep(now time.Time) error {
	if err := s.sweepPrefix(prefixNonce, func(key, value []byte) bool {
		expiry := int64(binary.LittleEndian.Uint64(value))
		return now.Unix() >= expiry
	}); err != nil {
		return err
	}

	cutoff := now.Add(-rateLimitWindowRetention).Unix()
	return s.sweepPrefix(prefixRateLimit, func(key, value []byte) bool {
		windowStart := windowStartFromKey(key)
		return windowStart >= 0 && windowStart < cutoff
	})
}

// windowStartFromKey parses the trailing ":{window_start}" component of a
// ratelimit:{secret_hash}:{window_start} key. Returns -1 if malformed.
func windowStartFromKey(key []byte) int64 {
	s := string(key)
	idx := strings.LastIndexByte(s, ':')
	if idx < 0 {
		return -1
	}
	windowStart, err := strconv.ParseInt(s[idx+1:], 10, 64)
	if err != nil {
		return -1
	}
	return windowStart
}

func (s *Store) sweepPrefix(prefix string, expired func(key, value []byte) bool) error {
	var toDelete [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			err := item.Value(func(val []byte) error {
				if expired(key, val) {
					toDelete = append(toDelete, key)
				}
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(toDelete) == 0 {
		return nil
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, key := range toDelete {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}
