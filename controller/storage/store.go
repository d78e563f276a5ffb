// Package storage is a JSON document store over bbolt buckets.
package storage

import (
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

type Store struct {
	db *bolt.DB
}

func New(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) CreateBucket(bucket string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucket))
		return err
	})
}

// Create assigns the next sequence id in bucket and stores whatever fn
// returns for it. Ids are zero padded so keys sort in insertion order.
func (s *Store) Create(bucket string, fn func(string) interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("storage: bucket %s does not exist", bucket)
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id := fmt.Sprintf("%012d", seq)
		data, err := json.Marshal(fn(id))
		if err != nil {
			return err
		}
		return b.Put([]byte(id), data)
	})
}

// List calls fn for every entry in key order.
func (s *Store) List(bucket string, fn func(string, []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("storage: bucket %s does not exist", bucket)
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), v)
		})
	})
}

// Tail calls fn for the last n entries, oldest first.
func (s *Store) Tail(bucket string, n int, fn func(string, []byte) error) error {
	if n <= 0 {
		return nil
	}
	return s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("storage: bucket %s does not exist", bucket)
		}
		var keys, values [][]byte
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(keys) < n; k, v = c.Prev() {
			keys = append(keys, k)
			values = append(values, v)
		}
		for i := len(keys) - 1; i >= 0; i-- {
			if err := fn(string(keys[i]), values[i]); err != nil {
				return err
			}
		}
		return nil
	})
}
