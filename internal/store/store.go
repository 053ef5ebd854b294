// ABOUTME: Embedded persistent store for the flattened vulnerability dataset.
// ABOUTME: Wraps bbolt with record, metadata, and metrics collections plus field indexes.

package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/PreethamGoud/SecureWatch/internal/types"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

// SchemaVersion is bumped only on structural changes. A version mismatch on
// open wipes and recreates the collections; there is no migration logic.
const SchemaVersion = 1

// Records are written in fixed-size batches to bound transaction size and
// memory pressure during bulk inserts.
const insertBatchSize = 1000

// ErrStoreUnavailable is returned by every operation against a store that has
// not been opened, or whose open failed.
var ErrStoreUnavailable = errors.New("store unavailable: database not open")

var (
	bucketVulnerabilities = []byte("vulnerabilities")
	bucketMetadata        = []byte("metadata")
	bucketMetrics         = []byte("metrics")

	metadataKey = []byte("main")
	metricsKey  = []byte("cached")

	// Index buckets hold composite keys of the form "value\x00id" with empty
	// values, giving prefix-scannable point lookups per field.
	indexBuckets = [][]byte{
		[]byte("idx_severity"),
		[]byte("idx_kaiStatus"),
		[]byte("idx_cvss"),
		[]byte("idx_packageName"),
		[]byte("idx_groupName"),
		[]byte("idx_repoName"),
		[]byte("idx_publishedDate"),
	}
)

// Metadata is the single bookkeeping record tracking the stored dataset.
type Metadata struct {
	Key         string `json:"key"`
	LastUpdated int64  `json:"lastUpdated"`
	TotalCount  int    `json:"totalCount"`
	Version     int    `json:"version"`
}

// Store is the embedded database holding the flattened records, one metadata
// record, and one cached metrics record. Open is idempotent; all other
// operations fail with ErrStoreUnavailable until it succeeds.
type Store struct {
	path   string
	logger *logrus.Logger

	openOnce sync.Once
	openErr  error
	db       *bolt.DB
}

// New creates a store handle for the database file at path. The file is not
// touched until Open.
func New(path string, logger *logrus.Logger) *Store {
	return &Store{path: path, logger: logger}
}

// Open opens the database file and ensures all collections exist. Safe to call
// repeatedly; every call after the first returns the first call's outcome.
func (s *Store) Open() error {
	s.openOnce.Do(func() {
		db, err := bolt.Open(s.path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
		if err != nil {
			s.openErr = fmt.Errorf("failed to open database %q: %w", s.path, err)
			return
		}

		if err := db.Update(func(tx *bolt.Tx) error {
			return createBuckets(tx)
		}); err != nil {
			db.Close()
			s.openErr = fmt.Errorf("failed to create collections: %w", err)
			return
		}

		s.db = db

		if err := s.checkSchemaVersion(); err != nil {
			db.Close()
			s.db = nil
			s.openErr = err
			return
		}

		s.logger.WithField("path", s.path).Info("Store opened")
	})
	return s.openErr
}

// Close releases the underlying database file.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func createBuckets(tx *bolt.Tx) error {
	for _, name := range [][]byte{bucketVulnerabilities, bucketMetadata, bucketMetrics} {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	for _, name := range indexBuckets {
		if _, err := tx.CreateBucketIfNotExists(name); err != nil {
			return err
		}
	}
	return nil
}

// checkSchemaVersion wipes the collections when the stored dataset was written
// by a different schema version.
func (s *Store) checkSchemaVersion() error {
	meta, err := s.readMetadata()
	if err != nil {
		return err
	}
	if meta == nil || meta.Version == SchemaVersion {
		return nil
	}

	s.logger.WithFields(logrus.Fields{
		"stored_version":  meta.Version,
		"current_version": SchemaVersion,
	}).Warn("Schema version mismatch, wiping store")
	return s.Clear()
}

// BulkInsert writes records in batches of 1000 per transaction, maintaining
// every field index, and finishes by upserting the metadata record with the
// new total count. onProgress, if non-nil, receives the cumulative percentage
// after each batch.
func (s *Store) BulkInsert(records []types.FlatVulnerability, onProgress func(progress float64)) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}

	for start := 0; start < len(records); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		err := s.db.Update(func(tx *bolt.Tx) error {
			vulns := tx.Bucket(bucketVulnerabilities)
			for i := range chunk {
				if err := putRecord(tx, vulns, &chunk[i]); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return fmt.Errorf("bulk insert failed at record %d: %w", start, err)
		}

		if onProgress != nil {
			progress := float64(end) / float64(len(records)) * 100
			onProgress(progress)
		}
	}

	meta := Metadata{
		Key:         string(metadataKey),
		LastUpdated: time.Now().UnixMilli(),
		TotalCount:  len(records),
		Version:     SchemaVersion,
	}
	if err := s.writeMetadata(&meta); err != nil {
		return fmt.Errorf("failed to update metadata: %w", err)
	}

	s.logger.WithField("records", len(records)).Info("Bulk insert completed")
	return nil
}

func putRecord(tx *bolt.Tx, vulns *bolt.Bucket, record *types.FlatVulnerability) error {
	// Parsed date fields are excluded from the serialized form; the raw
	// strings are the at-rest representation and are re-parsed on read.
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record %q: %w", record.ID, err)
	}
	if err := vulns.Put([]byte(record.ID), encoded); err != nil {
		return err
	}

	for bucket, value := range indexEntries(record) {
		if value == "" {
			continue
		}
		if err := tx.Bucket([]byte(bucket)).Put(indexKey(value, record.ID), nil); err != nil {
			return err
		}
	}
	return nil
}

func indexEntries(record *types.FlatVulnerability) map[string]string {
	entries := map[string]string{
		"idx_severity":    record.Severity,
		"idx_kaiStatus":   record.KaiStatus,
		"idx_cvss":        strconv.FormatFloat(record.CVSS, 'f', 1, 64),
		"idx_packageName": record.PackageName,
		"idx_groupName":   record.GroupName,
		"idx_repoName":    record.RepoName,
	}
	if record.PublishedDate != nil {
		entries["idx_publishedDate"] = strconv.FormatInt(record.PublishedDate.UnixMilli(), 10)
	}
	return entries
}

func indexKey(value, id string) []byte {
	key := make([]byte, 0, len(value)+1+len(id))
	key = append(key, value...)
	key = append(key, 0)
	key = append(key, id...)
	return key
}

// GetAll returns every stored record with its date fields rehydrated from the
// raw strings. The parse on read uses the same layouts as the flattener, so
// round-tripping a record through the store preserves date values exactly.
func (s *Store) GetAll() ([]types.FlatVulnerability, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}

	records := []types.FlatVulnerability{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVulnerabilities).ForEach(func(_, v []byte) error {
			var record types.FlatVulnerability
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("failed to decode stored record: %w", err)
			}
			record.RehydrateDates()
			records = append(records, record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// GetBySeverity returns all records whose raw severity string equals value,
// using the severity index.
func (s *Store) GetBySeverity(value string) ([]types.FlatVulnerability, error) {
	return s.getByIndex("idx_severity", value)
}

// GetByKaiStatus returns all records with the given analysis status, using the
// status index.
func (s *Store) GetByKaiStatus(value string) ([]types.FlatVulnerability, error) {
	return s.getByIndex("idx_kaiStatus", value)
}

// GetByGroup returns all records belonging to the given group.
func (s *Store) GetByGroup(value string) ([]types.FlatVulnerability, error) {
	return s.getByIndex("idx_groupName", value)
}

// GetByRepo returns all records belonging to the given repository.
func (s *Store) GetByRepo(value string) ([]types.FlatVulnerability, error) {
	return s.getByIndex("idx_repoName", value)
}

func (s *Store) getByIndex(bucket, value string) ([]types.FlatVulnerability, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}

	records := []types.FlatVulnerability{}
	prefix := indexKey(value, "")

	err := s.db.View(func(tx *bolt.Tx) error {
		vulns := tx.Bucket(bucketVulnerabilities)
		c := tx.Bucket([]byte(bucket)).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
			id := k[len(prefix):]
			encoded := vulns.Get(id)
			if encoded == nil {
				// Stale index entry; skip rather than fail the whole read.
				continue
			}
			var record types.FlatVulnerability
			if err := json.Unmarshal(encoded, &record); err != nil {
				return fmt.Errorf("failed to decode stored record: %w", err)
			}
			record.RehydrateDates()
			records = append(records, record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Count returns the number of stored vulnerability records.
func (s *Store) Count() (int, error) {
	if s.db == nil {
		return 0, ErrStoreUnavailable
	}
	var count int
	err := s.db.View(func(tx *bolt.Tx) error {
		count = tx.Bucket(bucketVulnerabilities).Stats().KeyN
		return nil
	})
	return count, err
}

// IsPopulated reports whether a metadata record exists with a total count
// greater than zero.
func (s *Store) IsPopulated() (bool, error) {
	meta, err := s.readMetadata()
	if err != nil {
		return false, err
	}
	return meta != nil && meta.TotalCount > 0, nil
}

// Clear empties all three collections and every index in a single
// transaction. Callers re-ingesting data must verify the store is empty
// afterwards before writing.
func (s *Store) Clear() error {
	if s.db == nil {
		return ErrStoreUnavailable
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		names := [][]byte{bucketVulnerabilities, bucketMetadata, bucketMetrics}
		names = append(names, indexBuckets...)
		for _, name := range names {
			if err := tx.DeleteBucket(name); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
				return err
			}
		}
		return createBuckets(tx)
	})
	if err != nil {
		return fmt.Errorf("failed to clear store: %w", err)
	}

	s.logger.Info("Store cleared")
	return nil
}

// StoreMetrics upserts the single cached metrics record.
func (s *Store) StoreMetrics(metrics *types.Metrics) error {
	if s.db == nil {
		return ErrStoreUnavailable
	}

	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetrics).Put(metricsKey, encoded)
	})
}

// CachedMetrics returns the cached metrics record, or nil when none is stored.
func (s *Store) CachedMetrics() (*types.Metrics, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}

	var metrics *types.Metrics
	err := s.db.View(func(tx *bolt.Tx) error {
		encoded := tx.Bucket(bucketMetrics).Get(metricsKey)
		if encoded == nil {
			return nil
		}
		metrics = &types.Metrics{}
		return json.Unmarshal(encoded, metrics)
	})
	if err != nil {
		return nil, err
	}
	return metrics, nil
}

// EstimateSize returns the database file size in bytes. Best effort: failures
// are reported as an error but must never abort an ingestion.
func (s *Store) EstimateSize() (int64, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (s *Store) readMetadata() (*Metadata, error) {
	if s.db == nil {
		return nil, ErrStoreUnavailable
	}

	var meta *Metadata
	err := s.db.View(func(tx *bolt.Tx) error {
		encoded := tx.Bucket(bucketMetadata).Get(metadataKey)
		if encoded == nil {
			return nil
		}
		meta = &Metadata{}
		return json.Unmarshal(encoded, meta)
	})
	if err != nil {
		return nil, err
	}
	return meta, nil
}

func (s *Store) writeMetadata(meta *Metadata) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMetadata).Put(metadataKey, encoded)
	})
}
