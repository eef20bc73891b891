package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/veilledger/veilledger/internal/apierrors"
)

// appliedMigrationKey namespaces one migration:applied:{version} record.
func appliedMigrationKey(version string) []byte {
	return []byte(prefixMigrationApplied + version)
}

// MigrationRecord is what migration:applied:{version} stores: when a
// schema migration ran and whether it succeeded.
type MigrationRecord struct {
	AppliedAt int64  `json:"applied_at"`
	Succeeded bool   `json:"succeeded"`
	Detail    string `json:"detail,omitempty"`
}

// Migration is one named, idempotent schema change. Apply receives the
// store directly rather than a raw txn, since most real migrations need
// to read and rewrite across multiple keys and badger's read-your-writes
// semantics inside a single txn make that awkward at scale. Rollback, if
// set, undoes a partially applied migration when Apply fails.
type Migration struct {
	Version     string
	Description string
	Apply       func(s *Store) error
	Rollback    func(s *Store) error
}

// ApplyMigrations runs every not-yet-applied migration in sorted version
// order, rolling back a failed one before surfacing the error, then
// advances migration:current_schema to the last one applied.
func (s *Store) ApplyMigrations(migrations []Migration) error {
	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		applied, err := s.migrationApplied(m.Version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		record := MigrationRecord{AppliedAt: time.Now().Unix(), Detail: m.Description}
		if err := m.Apply(s); err != nil {
			record.Succeeded = false
			record.Detail = err.Error()
			if m.Rollback != nil {
				if rbErr := m.Rollback(s); rbErr != nil {
					record.Detail = fmt.Sprintf("%v (rollback also failed: %v)", err, rbErr)
				}
			}
			_ = s.recordMigration(m.Version, record)
			return fmt.Errorf("%w: migration %s: %v", apierrors.ErrStorageFailure, m.Version, err)
		}
		record.Succeeded = true
		if err := s.recordMigration(m.Version, record); err != nil {
			return err
		}
		if err := s.SetCurrentSchema(m.Version); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrationApplied(version string) (bool, error) {
	applied := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(appliedMigrationKey(version))
		if err != nil {
			if err == badger.ErrKeyNotFound {
				return nil
			}
			return err
		}
		return item.Value(func(val []byte) error {
			var record MigrationRecord
			if err := json.Unmarshal(val, &record); err != nil {
				return err
			}
			applied = record.Succeeded
			return nil
		})
	})
	if err != nil {
		return false, fmt.Errorf("%w: check migration %s: %v", apierrors.ErrStorageFailure, version, err)
	}
	return applied, nil
}

func (s *Store) recordMigration(version string, record MigrationRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: marshal migration record: %v", apierrors.ErrSerializationFailure, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(appliedMigrationKey(version), raw)
	})
	if err != nil {
		return fmt.Errorf("%w: record migration %s: %v", apierrors.ErrStorageFailure, version, err)
	}
	return nil
}

// schemaVersionCurrent is the on-disk schema tag this build writes and
// expects; the initial-schema migration stamps it into
// metadata:schema_version.
const schemaVersionCurrent = "1"

// BaselineMigrations is the registry of schema migrations this build
// knows, applied in sorted version order at startup.
func BaselineMigrations() []Migration {
	return []Migration{
		{
			Version:     "20240101000000_initial_schema",
			Description: "stamp the initial schema version",
			Apply: func(s *Store) error {
				return s.SetSchemaVersion(schemaVersionCurrent)
			},
		},
	}
}

// SetCurrentSchema and CurrentSchema manage migration:current_schema.
func (s *Store) SetCurrentSchema(version string) error {
	return s.setString(keyMigrationSchema, version)
}

func (s *Store) CurrentSchema() (string, error) {
	return s.getString(keyMigrationSchema)
}
