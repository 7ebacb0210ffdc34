// Package store wraps the embedded ordered key-value database (badger) so
// that the blockchain, UTXO, and wallet layers never import badger
// directly: they see an opaque persistent mapping with get/insert/remove/
// flush and ordered iteration, as called for by the system spec.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// KV is an opaque, durable, ordered key-value mapping.
type KV interface {
	// Get returns the value stored at key, or (nil, false) if absent.
	Get(key []byte) ([]byte, bool)
	// Insert writes key -> value, overwriting any existing value.
	Insert(key, value []byte) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key []byte) error
	// Iterate walks every key with the given prefix in ascending key order,
	// calling fn(key, value) for each. Iteration stops early if fn returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	// Flush fsyncs pending writes to disk.
	Flush() error
	// Close releases the underlying database handle.
	Close() error
}

// Exists reports whether a badger database already lives at dir.
func Exists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, "MANIFEST"))
	return err == nil
}

type badgerKV struct {
	db *badger.DB
}

// Open opens (creating if necessary) a badger-backed KV namespace at dir.
func Open(dir string) (KV, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := openWithRetry(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", dir, err)
	}
	return &badgerKV{db: db}, nil
}

func openWithRetry(dir string, opts badger.Options) (*badger.DB, error) {
	db, err := badger.Open(opts)
	if err == nil {
		return db, nil
	}
	logrus.WithError(err).WithField("dir", dir).Warn("store: open failed, retrying once")
	return badger.Open(opts)
}

func (s *badgerKV) Get(key []byte) ([]byte, bool) {
	var out []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, false
	}
	return out, true
}

func (s *badgerKV) Insert(key, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

func (s *badgerKV) Remove(key []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete(key)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (s *badgerKV) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			key := item.KeyCopy(nil)
			var cont bool
			err := item.Value(func(val []byte) error {
				cont = fn(key, val)
				return nil
			})
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return nil
	})
}

func (s *badgerKV) Flush() error {
	return s.db.Sync()
}

func (s *badgerKV) Close() error {
	return s.db.Close()
}
