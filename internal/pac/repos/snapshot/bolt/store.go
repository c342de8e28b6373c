// Package bolt persists published snapshot metadata and the fast-mode domain
// index in a bbolt database, so the server can answer status and lookup
// requests across restarts before its first refresh completes.
package bolt

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/pac-server/internal/pac/domain"
)

var (
	bucketDomains = []byte("domains")
	bucketMeta    = []byte("meta")

	keyVersion  = []byte("version")
	keySnapshot = []byte("snapshot")
)

// ErrNoSnapshot is returned by Latest before anything was saved.
var ErrNoSnapshot = errors.New("no snapshot stored")

// Store is a bbolt-backed snapshot store.
type Store struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening snapshot db %q: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketDomains); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Save records snap as the latest snapshot and replaces the stored domain
// index with domains, in one transaction. The version is assigned here as the
// previous version plus one and the stored snapshot is returned.
// A nil domains leaves the index empty (precise mode publishes no set).
func (s *Store) Save(snap domain.Snapshot, domains domain.DomainSet) (domain.Snapshot, error) {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(bucketMeta)

		var prev uint64
		if v := meta.Get(keyVersion); len(v) == 8 {
			prev = binary.BigEndian.Uint64(v)
		}
		snap.Version = prev + 1

		if err := tx.DeleteBucket(bucketDomains); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketDomains)
		if err != nil {
			return err
		}
		for _, name := range domains.Sorted() {
			if err := b.Put([]byte(name), []byte{1}); err != nil {
				return err
			}
		}

		vbuf := make([]byte, 8)
		binary.BigEndian.PutUint64(vbuf, snap.Version)
		if err := meta.Put(keyVersion, vbuf); err != nil {
			return err
		}
		raw, err := json.Marshal(snap)
		if err != nil {
			return fmt.Errorf("encoding snapshot: %w", err)
		}
		return meta.Put(keySnapshot, raw)
	})
	if err != nil {
		return domain.Snapshot{}, fmt.Errorf("saving snapshot: %w", err)
	}
	return snap, nil
}

// Latest returns the most recently saved snapshot or ErrNoSnapshot.
func (s *Store) Latest() (domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(bucketMeta).Get(keySnapshot)
		if raw == nil {
			return ErrNoSnapshot
		}
		return json.Unmarshal(raw, &snap)
	})
	if err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}

// Domains returns the stored domain index.
func (s *Store) Domains() (domain.DomainSet, error) {
	set := domain.NewDomainSet()
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDomains)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			set.Add(string(k))
			return nil
		})
	})
	return set, err
}

// HasDomain reports whether name is in the stored index.
func (s *Store) HasDomain(name string) (bool, error) {
	var present bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketDomains)
		if b == nil {
			return nil
		}
		present = b.Get([]byte(name)) != nil
		return nil
	})
	return present, err
}
