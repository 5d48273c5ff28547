// Package engine wraps go.etcd.io/bbolt as the ordered key/value store
// backing entitygraph's trees. bbolt buckets map directly onto the
// trees the domain layer expects: named, independently iterable,
// lexicographically ordered by key, with real ACID transactions that
// composite operations (deletion plans, relation writes) can ride on.
package engine

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// Engine is a handle on a single bbolt database file.
type Engine struct {
	db *bolt.DB
}

// Open opens (creating if necessary) the bbolt database file at path.
func Open(path string) (*Engine, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("engine: open %s: %w", path, err)
	}
	return &Engine{db: db}, nil
}

// Close releases the underlying database file.
func (e *Engine) Close() error {
	return e.db.Close()
}

// Tx wraps a bbolt transaction, exposing exactly the tree operations the
// domain layer needs. Every multi-tree mutation (a deletion plan, an
// entity save alongside its relation descriptor) runs inside a single
// Tx so it either commits in full or not at all.
type Tx struct {
	tx *bolt.Tx
}

// Update runs fn inside a writable transaction. Any error returned from
// fn aborts the transaction and is returned unchanged.
func (e *Engine) Update(fn func(tx *Tx) error) error {
	return e.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// View runs fn inside a read-only transaction.
func (e *Engine) View(fn func(tx *Tx) error) error {
	return e.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx})
	})
}

// Tree returns a handle on the named tree, creating it if it does not
// exist. Only valid inside an Update transaction; use TreeReadOnly
// inside a View.
func (t *Tx) Tree(name string) (*Tree, error) {
	b, err := t.tx.CreateBucketIfNotExists([]byte(name))
	if err != nil {
		return nil, fmt.Errorf("engine: create tree %s: %w", name, err)
	}
	return &Tree{bucket: b}, nil
}

// TreeReadOnly returns a handle on the named tree for reads. Returns
// (nil, false) if the tree has never been created.
func (t *Tx) TreeReadOnly(name string) (*Tree, bool) {
	b := t.tx.Bucket([]byte(name))
	if b == nil {
		return nil, false
	}
	return &Tree{bucket: b}, true
}

// Tree is a single named ordered map within the engine.
type Tree struct {
	bucket *bolt.Bucket
}

// Put stores value under key, overwriting any existing value.
func (t *Tree) Put(key, value []byte) error {
	return t.bucket.Put(key, value)
}

// Get returns the value stored under key, or nil if absent. The
// returned slice is only valid for the lifetime of the enclosing
// transaction; callers that need to retain it must copy it.
func (t *Tree) Get(key []byte) []byte {
	return t.bucket.Get(key)
}

// Delete removes key. It is not an error to delete a missing key.
func (t *Tree) Delete(key []byte) error {
	return t.bucket.Delete(key)
}

// ScanPrefix calls fn for every key/value pair whose key starts with
// prefix, in ascending key order, stopping early if fn returns false.
// Values passed to fn are only valid for the duration of the call.
func (t *Tree) ScanPrefix(prefix []byte, fn func(key, value []byte) bool) {
	c := t.bucket.Cursor()
	for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
		if !fn(k, v) {
			return
		}
	}
}

// LastWithPrefix returns the key/value pair with the greatest key among
// those sharing prefix, or ok=false if none exist. Used to recover the
// highest local id already assigned under a parent prefix so the next
// auto-increment id can be computed without scanning every sibling.
func (t *Tree) LastWithPrefix(prefix []byte) (key, value []byte, ok bool) {
	c := t.bucket.Cursor()
	upperBound := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
	k, v := c.Seek(upperBound)
	if k == nil {
		k, v = c.Last()
	} else {
		k, v = c.Prev()
	}
	for k != nil && !bytes.HasPrefix(k, prefix) {
		k, v = c.Prev()
	}
	if k == nil {
		return nil, nil, false
	}
	return append([]byte{}, k...), append([]byte{}, v...), true
}

// ForEach calls fn for every key/value pair in the tree, in ascending
// key order, stopping early if fn returns false.
func (t *Tree) ForEach(fn func(key, value []byte) bool) {
	c := t.bucket.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if !fn(k, v) {
			return
		}
	}
}
