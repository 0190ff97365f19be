package badger

import (
	"github.com/autom8ter/foreach/kv"
	"github.com/dgraph-io/badger/v3"
)

// iterator walks a badger transaction in key order. Keys and values are copied out of the
// transaction so they stay valid after the iterator moves on.
type iterator struct {
	prefix []byte
	iter   *badger.Iterator
}

func newIterator(txn *badger.Txn, kopts kv.IterOpts) *iterator {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	opts.PrefetchSize = 10
	opts.Prefix = kopts.Prefix
	opts.Reverse = kopts.Reverse
	it := &iterator{prefix: kopts.Prefix, iter: txn.NewIterator(opts)}
	switch {
	case kopts.Seek != nil:
		it.iter.Seek(kopts.Seek)
	case kopts.Prefix != nil && kopts.Reverse:
		// reverse iteration starts at the last key with the prefix
		it.iter.Seek(append(append([]byte{}, kopts.Prefix...), 0xFF))
	case kopts.Prefix != nil:
		it.iter.Seek(kopts.Prefix)
	default:
		it.iter.Rewind()
	}
	return it
}

func (i *iterator) Seek(key []byte) {
	i.iter.Seek(key)
}

func (i *iterator) Valid() bool {
	if i.prefix != nil {
		return i.iter.ValidForPrefix(i.prefix)
	}
	return i.iter.Valid()
}

func (i *iterator) Item() kv.Item {
	return entry{item: i.iter.Item()}
}

func (i *iterator) Next() {
	i.iter.Next()
}

func (i *iterator) Close() {
	i.iter.Close()
}

type entry struct {
	item *badger.Item
}

func (e entry) Key() []byte {
	return e.item.KeyCopy(nil)
}

func (e entry) Value() ([]byte, error) {
	return e.item.ValueCopy(nil)
}
