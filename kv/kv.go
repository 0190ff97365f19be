// Package kv is a minimal ordered key value store abstraction used by the embedded container.
package kv

// DB is an ordered key value database
type DB interface {
	// Tx runs fn inside a transaction. The transaction is committed if fn returns nil and isUpdate is true.
	Tx(isUpdate bool, fn func(Tx) error) error
	// Batch returns a write batch for bulk loading
	Batch() Batch
	// DropPrefix removes every key with one of the prefixes
	DropPrefix(prefix ...[]byte) error
	// Close closes the database
	Close() error
}

// IterOpts configures an iterator
type IterOpts struct {
	Prefix  []byte `json:"prefix"`
	Seek    []byte `json:"seek"`
	Reverse bool   `json:"reverse"`
}

// Tx is a database transaction
type Tx interface {
	// Get returns the value of the key or an errors.NotFound error
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	NewIterator(opts IterOpts) Iterator
}

// Iterator walks keys in order
type Iterator interface {
	Seek(key []byte)
	Close()
	Valid() bool
	Item() Item
	Next()
}

// Item is a single key value pair
type Item interface {
	Key() []byte
	Value() ([]byte, error)
}

// Batch buffers writes outside of a transaction
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Flush() error
}
