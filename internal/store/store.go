// Package store persists the chain and its supporting policy state
// (rate-limit windows, bans, nonces, audit indexes, migrations) in an
// embedded ordered key-value engine. It follows the key-namespace idiom
// other_examples/188b8cc7_Charizard13-badger__main.go.go demonstrates —
// one fixed-width prefix per logical table — adapted to the namespaces
// spec.md names rather than that reference's UTXO-chain schema.
package store

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/rs/zerolog"

	"github.com/veilledger/veilledger/internal/apierrors"
	"github.com/veilledger/veilledger/internal/ledger"
	"github.com/veilledger/veilledger/internal/logging"
)

// Key namespace prefixes. Numeric components are appended big-endian so
// badger's byte-ordered iteration visits them in numeric order.
const (
	prefixBlock            = "block:"
	prefixCheckpoint       = "checkpoint:"
	prefixRateLimit        = "ratelimit:"
	prefixViolations       = "violations:"
	prefixBans             = "bans:"
	prefixIPBans           = "ip_bans:"
	prefixNonce            = "nonce:"
	prefixAuditIndex       = "audit_index:"
	prefixMigrationApplied = "migration:applied:"

	keyChainLength     = "metadata:chain_length"
	keySchemaVersion   = "metadata:schema_version"
	keyNodeID          = "metadata:node_id"
	keyMigrationSchema = "migration:current_schema"
)

// Store wraps a badger database with the namespaced accessors the rest of
// the system uses. It never takes an in-process lock of its own — badger
// already serialises writes, and spec.md §5 requires the chain's own
// reader-writer lock never be held across disk I/O, so Store's methods
// are individually atomic but make no cross-call consistency promise.
type Store struct {
	db     *badger.DB
	logger zerolog.Logger
}

// Open opens (creating if absent) a badger database at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: open store at %s: %v", apierrors.ErrStorageFailure, path, err)
	}
	return &Store{db: db, logger: logging.New("store")}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: close store: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

func blockKey(index int64) []byte {
	buf := make([]byte, len(prefixBlock)+8)
	copy(buf, prefixBlock)
	binary.BigEndian.PutUint64(buf[len(prefixBlock):], uint64(index))
	return buf
}

func checkpointKey(index int64) []byte {
	buf := make([]byte, len(prefixCheckpoint)+8)
	copy(buf, prefixCheckpoint)
	binary.BigEndian.PutUint64(buf[len(prefixCheckpoint):], uint64(index))
	return buf
}

// AppendBlock writes block:{index} and bumps metadata:chain_length in one
// atomic batch, per spec.md §4.4's write-discipline requirement.
func (s *Store) AppendBlock(block *ledger.Block) error {
	raw, err := json.Marshal(block)
	if err != nil {
		return fmt.Errorf("%w: marshal block %d: %v", apierrors.ErrSerializationFailure, block.Index, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(blockKey(block.Index), raw); err != nil {
			return err
		}
		lengthBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(lengthBuf, uint64(block.Index+1))
		return txn.Set([]byte(keyChainLength), lengthBuf)
	})
	if err != nil {
		return fmt.Errorf("%w: append block %d: %v", apierrors.ErrStorageFailure, block.Index, err)
	}
	return nil
}

// RewriteChain replaces the entire persisted block range with blocks in a
// single transaction: every block:{i} key beyond the new chain's length is
// deleted, every surviving index is overwritten, and metadata:chain_length
// moves in the same commit. A reorg can therefore never leave disk holding
// a half-replaced chain — the transaction either lands whole or not at
// all.
func (s *Store) RewriteChain(blocks []*ledger.Block) error {
	oldLength, err := s.ChainLength()
	if err != nil {
		return err
	}

	serialized := make([][]byte, len(blocks))
	for i, b := range blocks {
		raw, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("%w: marshal block %d: %v", apierrors.ErrSerializationFailure, b.Index, err)
		}
		serialized[i] = raw
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		for i := int64(len(blocks)); i < oldLength; i++ {
			if err := txn.Delete(blockKey(i)); err != nil {
				return err
			}
		}
		for i, raw := range serialized {
			if err := txn.Set(blockKey(int64(i)), raw); err != nil {
				return err
			}
		}
		lengthBuf := make([]byte, 8)
		binary.LittleEndian.PutUint64(lengthBuf, uint64(len(blocks)))
		return txn.Set([]byte(keyChainLength), lengthBuf)
	})
	if err != nil {
		return fmt.Errorf("%w: rewrite chain: %v", apierrors.ErrStorageFailure, err)
	}
	return nil
}

// PutCheckpoint records block index's hash as a checkpoint.
func (s *Store) PutCheckpoint(index int64, hash string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey(index), []byte(hash))
	})
	if err != nil {
		return fmt.Errorf("%w: put checkpoint %d: %v", apierrors.ErrStorageFailure, index, err)
	}
	return nil
}

// GetBlock fetches and deserialises the block at index.
func (s *Store) GetBlock(index int64) (*ledger.Block, error) {
	var block ledger.Block
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blockKey(index))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return apierrors.ErrBlockNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &block)
		})
	})
	if err != nil {
		if err == apierrors.ErrBlockNotFound {
			return nil, fmt.Errorf("block %d: %w", index, apierrors.ErrBlockNotFound)
		}
		return nil, fmt.Errorf("%w: get block %d: %v", apierrors.ErrStorageFailure, index, err)
	}
	return &block, nil
}

// ChainLength reads metadata:chain_length, or 0 if unset.
func (s *Store) ChainLength() (int64, error) {
	var length int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyChainLength))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			length = int64(binary.LittleEndian.Uint64(val))
			return nil
		})
	})
	if err != nil {
		return 0, fmt.Errorf("%w: read chain length: %v", apierrors.ErrStorageFailure, err)
	}
	return length, nil
}

// LoadChain reads every block from 0..chain_length and returns them in
// order, for restoring an in-memory ledger.Chain on startup.
func (s *Store) LoadChain() ([]*ledger.Block, error) {
	length, err := s.ChainLength()
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return nil, nil
	}

	blocks := make([]*ledger.Block, 0, length)
	for i := int64(0); i < length; i++ {
		b, err := s.GetBlock(i)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
	return blocks, nil
}

// LoadCheckpoints scans checkpoint:* and rebuilds the index->hash map.
func (s *Store) LoadCheckpoints() (map[int64]string, error) {
	out := make(map[int64]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixCheckpoint)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			index := int64(binary.BigEndian.Uint64(key[len(prefix):]))
			err := item.Value(func(val []byte) error {
				out[index] = string(val)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: load checkpoints: %v", apierrors.ErrStorageFailure, err)
	}
	return out, nil
}

// SetSchemaVersion and SchemaVersion manage metadata:schema_version, the
// gate migrations check before running.
func (s *Store) SetSchemaVersion(version string) error {
	return s.setString(keySchemaVersion, version)
}

func (s *Store) SchemaVersion() (string, error) {
	return s.getString(keySchemaVersion)
}

// SetNodeID and NodeID manage metadata:node_id, this store's own identity.
func (s *Store) SetNodeID(nodeID string) error {
	return s.setString(keyNodeID, nodeID)
}

func (s *Store) NodeID() (string, error) {
	return s.getString(keyNodeID)
}

func (s *Store) setString(key, value string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("%w: set %s: %v", apierrors.ErrStorageFailure, key, err)
	}
	return nil
}

func (s *Store) getString(key string) (string, error) {
	var value string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			value = string(val)
			return nil
		})
	})
	if err != nil {
		return "", fmt.Errorf("%w: get %s: %v", apierrors.ErrStorageFailure, key, err)
	}
	return value, nil
}
