package version

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	bolt "go.etcd.io/bbolt"

	"github.com/cuemby/burrow/pkg/types"
)

var bucketVersions = []byte("versions")

// Store retains every prior revision of every document in a bbolt
// database: one nested bucket per document id, keyed by big-endian
// version number so cursor order is version order. Records are
// append-only and never mutated; they are removed only by explicit
// retention (Drop) during a purge.
type Store struct {
	db *bolt.DB
}

// Open opens or creates the version store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open version store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketVersions)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create version bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record appends one version record. Overwriting an existing version
// number is an error: history is immutable.
func (s *Store) Record(rec *types.VersionRecord) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketVersions)
		b, err := docs.CreateBucketIfNotExists([]byte(rec.DocID))
		if err != nil {
			return fmt.Errorf("failed to create document bucket: %w", err)
		}

		key := versionKey(rec.Version)
		if b.Get(key) != nil {
			return fmt.Errorf("version %d of document %q already recorded", rec.Version, rec.DocID)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal version record: %w", err)
		}
		return b.Put(key, data)
	})
}

// History returns all version records for a document, newest first.
func (s *Store) History(docID string) ([]*types.VersionRecord, error) {
	var records []*types.VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(docID))
		if b == nil {
			return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec types.VersionRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("failed to unmarshal version record: %w", err)
			}
			records = append(records, &rec)
		}
		return nil
	})
	return records, err
}

// At returns the record for one specific version of a document.
func (s *Store) At(docID string, ver int64) (*types.VersionRecord, error) {
	var rec types.VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(docID))
		if b == nil {
			return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
		}
		data := b.Get(versionKey(ver))
		if data == nil {
			return fmt.Errorf("%w: %s version %d", types.ErrDocumentNotFound, docID, ver)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// AtOrBefore returns the newest record with version at or below ver,
// used by point-in-time collection rollback.
func (s *Store) AtOrBefore(docID string, ver int64) (*types.VersionRecord, error) {
	var rec *types.VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(docID))
		if b == nil {
			return fmt.Errorf("%w: %s", types.ErrDocumentNotFound, docID)
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r types.VersionRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal version record: %w", err)
			}
			if r.Version <= ver {
				rec = &r
				return nil
			}
		}
		return fmt.Errorf("%w: %s at or before version %d", types.ErrDocumentNotFound, docID, ver)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// LastVersion returns the highest recorded version for a document, or
// zero when the document has no history.
func (s *Store) LastVersion(docID string) (int64, error) {
	var last int64
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(docID))
		if b == nil {
			return nil
		}
		k, _ := b.Cursor().Last()
		if k != nil {
			last = int64(binary.BigEndian.Uint64(k))
		}
		return nil
	})
	return last, err
}

// AtOrBeforeSeq returns the newest record whose WAL sequence is at or
// below seq, or nil when the document had no state at that point.
func (s *Store) AtOrBeforeSeq(docID string, seq uint64) (*types.VersionRecord, error) {
	var rec *types.VersionRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketVersions).Bucket([]byte(docID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var r types.VersionRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("failed to unmarshal version record: %w", err)
			}
			if r.Sequence <= seq {
				rec = &r
				return nil
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DocIDs lists every document with recorded history.
func (s *Store) DocIDs() ([]string, error) {
	var ids []string
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketVersions).ForEachBucket(func(k []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})
	return ids, err
}

// TruncateAfterSeq removes every record produced by a WAL sequence
// greater than seq. Point-in-time rollback uses it so future commits
// can reuse the discarded version numbers.
func (s *Store) TruncateAfterSeq(seq uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketVersions)

		var empty [][]byte
		err := docs.ForEachBucket(func(id []byte) error {
			b := docs.Bucket(id)
			c := b.Cursor()
			for k, v := c.Last(); k != nil; k, v = c.Prev() {
				var rec types.VersionRecord
				if err := json.Unmarshal(v, &rec); err != nil {
					return fmt.Errorf("failed to unmarshal version record: %w", err)
				}
				if rec.Sequence <= seq {
					break
				}
				if err := c.Delete(); err != nil {
					return err
				}
			}
			if k, _ := b.Cursor().First(); k == nil {
				empty = append(empty, append([]byte(nil), id...))
			}
			return nil
		})
		if err != nil {
			return err
		}

		for _, id := range empty {
			if err := docs.DeleteBucket(id); err != nil {
				return err
			}
		}
		return nil
	})
}

// Drop removes a document's entire history. Called on purge when the
// retention policy does not keep versions.
func (s *Store) Drop(docID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		docs := tx.Bucket(bucketVersions)
		if docs.Bucket([]byte(docID)) == nil {
			return nil
		}
		return docs.DeleteBucket([]byte(docID))
	})
}

func versionKey(ver int64) []byte {
	var key [8]byte
	binary.BigEndian.PutUint64(key[:], uint64(ver))
	return key[:]
}
