package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/veilledger/veilledger/internal/apierrors"
)

// ViolationRecord is the ring of the last N violation timestamps for one
// secret hash, used to decide the next graduated ban level.
type ViolationRecord struct {
	Timestamps []int64 `json:"timestamps"`
}

// BanRecord is a graduated ban's level and lifetime. ExpiresAt is nil for
// PermanentWriteBan and CompleteBlacklist.
type BanRecord struct {
	Level     int    `json:"level"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt *int64 `json:"expires_at,omitempty"`
}

func ratelimitKey(secretHash string, windowStart int64) []byte {
	return []byte(fmt.Sprintf("%s%s:%d", prefixRateLimit, secretHash, windowStart))
}

// IncrementRateLimitWindow atomically increments and returns the request
// count for secretHash's 1-second window starting at windowStart.
func (s *Store) IncrementRateLimitWindow(secretHash string, windowStart int64) (uint32, error) {
	var count uint32
	err := s.db.Update(func(txn *badger.Txn) error {
		key := ratelimitKey(secretHash, windowStart)
		item, err := txn.Get(key)
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			if err := item.Value(func(val []byte) error {
				count = binary.LittleEndian.Uint32(val)
				return nil
			}); err != nil {
				return err
			}
		}
		count++
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, count)
		return txn.Set(key, buf)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: increment rate limit window: %v", apierrors.ErrStorageFailure, err)
	}
	return count, nil
}

func violationsKey(secretHash string) []byte {
	return []byte(prefixViolations + secretHash)
}

// GetViolations returns the violation ring for secretHash, or a zero-value
// record if none exists yet.
func (s *Store) GetViolations(secretHash string) (ViolationRecord, error) {
	var record ViolationRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(violationsKey(secretHash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return record, fmt.Errorf("%w: get violations: %v", apierrors.ErrStorageFailure, err)
	}
	return record, nil
}

// PutViolations overwrites secretHash's violation ring.
func (s *Store) PutViolations(secretHash string, record ViolationRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal violations: %v", apierrors.ErrSerializationFailure, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(violationsKey(secretHash), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: put violations: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

func banKey(secretHash string) []byte {
	return []byte(prefixBans + secretHash)
}

// GetBan returns secretHash's current ban record, if any.
func (s *Store) GetBan(secretHash string) (*BanRecord, error) {
	var record BanRecord
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(banKey(secretHash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get ban: %v", apierrors.ErrStorageFailure, err)
	}
	if !found {
		return nil, nil
	}
	return &record, nil
}

// PutBan records a ban for secretHash.
func (s *Store) PutBan(secretHash string, record BanRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal ban: %v", apierrors.ErrSerializationFailure, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(banKey(secretHash), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: put ban: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

// DeleteBan lazily removes an expired ban record on read.
func (s *Store) DeleteBan(secretHash string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(banKey(secretHash))
	})
	if err != nil {
		return fmt.Errorf("%w: delete ban: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

func ipBanKey(ipHash string) []byte {
	return []byte(prefixIPBans + ipHash)
}

// GetIPBan returns the expiry unix timestamp for ipHash's ban, if banned.
func (s *Store) GetIPBan(ipHash string) (int64, bool, error) {
	var expiry int64
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(ipBanKey(ipHash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			expiry = int64(binary.LittleEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, false, fmt.Errorf("%w: get ip ban: %v", apierrors.ErrStorageFailure, err)
	}
	return expiry, found, nil
}

// PutIPBan bans ipHash until expiry.
func (s *Store) PutIPBan(ipHash string, expiry int64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(expiry))
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(ipBanKey(ipHash), buf)
	})
	if err != nil {
		return fmt.Errorf("%w: put ip ban: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

func nonceKey(nonce string) []byte {
	return []byte(prefixNonce + nonce)
}

// NonceSeen returns whether nonce has already been recorded (i.e. this is
// a replay), recording it with expiry if it has not.
func (s *Store) NonceSeen(nonce string, expiry int64) (bool, error) {
	seen := false
	err := s.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(nonceKey(nonce))
		if err == nil {
			seen = true
			return nil
		}
		if err != badger.ErrKeyNotFound {
			return err
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(expiry))
		return txn.Set(nonceKey(nonce), buf)
	})
	if err != nil {
		return false, fmt.Errorf("%w: check nonce: %v", apierrors.ErrStorageFailure, err)
	}
	return seen, nil
}

func auditIndexKey(secretHash string) []byte {
	return []byte(prefixAuditIndex + secretHash)
}

// AppendAuditIndex records that blockIndex contains a record owned by
// secretHash.
func (s *Store) AppendAuditIndex(secretHash string, blockIndex int64) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var indexes []int64
		item, err := txn.Get(auditIndexKey(secretHash))
		if err != nil && err != badger.ErrKeyNotFound {
			return err
		}
		if err == nil {
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &indexes)
			}); err != nil {
				return err
			}
		}
		indexes = append(indexes, blockIndex)
		raw, err := json.Marshal(indexes)
		if err != nil {
			return err
		}
		return txn.Set(auditIndexKey(secretHash), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: append audit index: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

// GetAuditIndex returns the block indexes containing secretHash's records.
func (s *Store) GetAuditIndex(secretHash string) ([]int64, error) {
	var indexes []int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(auditIndexKey(secretHash))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &indexes)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get audit index: %v", apierrors.ErrStorageFailure, err)
	}
	return indexes, nil
}
