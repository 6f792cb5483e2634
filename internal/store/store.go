// Package store persists instrument settings in a bbolt database.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/scpi-bridge/internal/logging"
)

var settingsBucket = []byte("settings")

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store closed")

// Store keeps one JSON snapshot per instrument serial number.
type Store struct {
	path string
	db   *bolt.DB
}

// Open opens (or creates) the database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o644, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open settings store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(settingsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create settings bucket: %w", err)
	}

	return &Store{path: path, db: db}, nil
}

// Path returns the database file name.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db == nil {
		return ErrClosed
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Save replaces the snapshot stored under serial.
func (s *Store) Save(serial string, v interface{}) error {
	if s.db == nil {
		return ErrClosed
	}
	js, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode settings for %s: %w", serial, err)
	}
	logging.Tracef("store: save %s %s", serial, js)

	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Put([]byte(serial), js)
	})
}

// Load decodes the snapshot stored under serial into v. It reports false
// when nothing has been saved for serial yet.
func (s *Store) Load(serial string, v interface{}) (bool, error) {
	if s.db == nil {
		return false, ErrClosed
	}

	var js []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if bs := tx.Bucket(settingsBucket).Get([]byte(serial)); bs != nil {
			js = append([]byte(nil), bs...)
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	if js == nil {
		return false, nil
	}

	if err := json.Unmarshal(js, v); err != nil {
		return false, fmt.Errorf("decode settings for %s: %w", serial, err)
	}
	return true, nil
}

// Delete forgets the snapshot stored under serial.
func (s *Store) Delete(serial string) error {
	if s.db == nil {
		return ErrClosed
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(settingsBucket).Delete([]byte(serial))
	})
}
