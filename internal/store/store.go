// Package store keeps a flight log of missions in a bbolt database. Each
// mission is one JSON RunRecord keyed by a big-endian sequence number, so
// cursor order is flight order.
package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.etcd.io/bbolt"

	"OctaFlight/internal/model"
)

var (
	ErrNotFound = errors.New("store: run not found")
	ErrClosed   = errors.New("store: closed")
)

var runsBucket = []byte("runs")

// Store is a bbolt-backed flight log.
type Store struct {
	db *bbolt.DB
}

// Open creates the parent directory if needed and opens the database at
// path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("store: create %s: %w", dir, err)
		}
	}
	db, err := bbolt.Open(path, 0o666, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("store: init: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Create allocates an ID for rec, stores it and returns the ID.
func (s *Store) Create(rec *model.RunRecord) (uint64, error) {
	if s.db == nil {
		return 0, ErrClosed
	}
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		id, err := b.NextSequence()
		if err != nil {
			return err
		}
		rec.ID = id
		return put(b, rec)
	})
	if err != nil {
		return 0, fmt.Errorf("store: create run: %w", err)
	}
	return rec.ID, nil
}

// Save overwrites an existing run.
func (s *Store) Save(rec *model.RunRecord) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(runsBucket)
		if b.Get(key(rec.ID)) == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, rec.ID)
		}
		return put(b, rec)
	})
}

// Get returns the run with the given ID.
func (s *Store) Get(id uint64) (*model.RunRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rec *model.RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(runsBucket).Get(key(id))
		if v == nil {
			return fmt.Errorf("%w: %d", ErrNotFound, id)
		}
		var err error
		rec, err = decode(v)
		return err
	})
	return rec, err
}

// Latest returns the most recent run.
func (s *Store) Latest() (*model.RunRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var rec *model.RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		_, v := tx.Bucket(runsBucket).Cursor().Last()
		if v == nil {
			return ErrNotFound
		}
		var err error
		rec, err = decode(v)
		return err
	})
	return rec, err
}

// List returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (s *Store) List(limit int) ([]model.RunRecord, error) {
	if s.db == nil {
		return nil, ErrClosed
	}
	var runs []model.RunRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(runs) >= limit {
				break
			}
			rec, err := decode(v)
			if err != nil {
				return err
			}
			runs = append(runs, *rec)
		}
		return nil
	})
	return runs, err
}

func key(id uint64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], id)
	return k[:]
}

func put(b *bbolt.Bucket, rec *model.RunRecord) error {
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return b.Put(key(rec.ID), v)
}

func decode(v []byte) (*model.RunRecord, error) {
	var rec model.RunRecord
	if err := json.Unmarshal(v, &rec); err != nil {
		return nil, fmt.Errorf("store: decode run: %w", err)
	}
	return &rec, nil
}
