package engine_util

import (
	"bytes"

	"github.com/Connor1996/badger"
)

type DBItem interface {
	// Key returns the key.
	Key() []byte
	// KeyCopy returns a copy of the key of the item, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	KeyCopy(dst []byte) []byte
	// Value retrieves the value of the item.
	Value() ([]byte, error)
	// ValueSize returns the size of the value.
	ValueSize() int
	// ValueCopy returns a copy of the value of the item from the value log, writing it to dst slice.
	// If nil is passed, or capacity of dst isn't sufficient, a new slice would be allocated and
	// returned.
	ValueCopy(dst []byte) ([]byte, error)
}

type CFItem struct {
	item      *badger.Item
	prefixLen int
}

// String returns a string representation of Item
func (i *CFItem) String() string {
	return i.item.String()
}

func (i *CFItem) Key() []byte {
	return i.item.Key()[i.prefixLen:]
}

func (i *CFItem) KeyCopy(dst []byte) []byte {
	return append(dst[:0], i.Key()...)
}

func (i *CFItem) Value() ([]byte, error) {
	return i.item.Value()
}

func (i *CFItem) ValueSize() int {
	return i.item.ValueSize()
}

func (i *CFItem) ValueCopy(dst []byte) ([]byte, error) {
	return i.item.ValueCopy(dst)
}

// BadgerIterator walks one column family of a badger transaction in both directions.
// Badger iterators only go one way, so a forward and a reverse iterator are created on
// demand and the cursor re-seeks when the direction changes.
type BadgerIterator struct {
	txn    *badger.Txn
	prefix []byte
	upper  []byte

	fwd, rev *badger.Iterator
	cur      *badger.Iterator
}

func NewCFIterator(id uint32, txn *badger.Txn) *BadgerIterator {
	return &BadgerIterator{
		txn:    txn,
		prefix: CFPrefix(id),
		upper:  cfUpperBound(id),
	}
}

func (it *BadgerIterator) forward() *badger.Iterator {
	if it.fwd == nil {
		it.fwd = it.txn.NewIterator(badger.DefaultIteratorOptions)
	}
	it.cur = it.fwd
	return it.fwd
}

func (it *BadgerIterator) reverse() *badger.Iterator {
	if it.rev == nil {
		it.rev = it.txn.NewIterator(badger.IteratorOptions{Reverse: true})
	}
	it.cur = it.rev
	return it.rev
}

func (it *BadgerIterator) Item() DBItem {
	return &CFItem{
		item:      it.cur.Item(),
		prefixLen: len(it.prefix),
	}
}

func (it *BadgerIterator) Valid() bool {
	return it.cur != nil && it.cur.ValidForPrefix(it.prefix)
}

func (it *BadgerIterator) ValidForPrefix(prefix []byte) bool {
	return it.cur != nil && it.cur.ValidForPrefix(append(append([]byte{}, it.prefix...), prefix...))
}

func (it *BadgerIterator) Close() {
	if it.fwd != nil {
		it.fwd.Close()
		it.fwd = nil
	}
	if it.rev != nil {
		it.rev.Close()
		it.rev = nil
	}
	it.cur = nil
}

func (it *BadgerIterator) Next() {
	if it.cur == nil {
		return
	}
	if it.cur == it.rev {
		key := it.cur.Item().KeyCopy(nil)
		fwd := it.forward()
		fwd.Seek(key)
		if fwd.Valid() && bytes.Equal(fwd.Item().Key(), key) {
			fwd.Next()
		}
		return
	}
	it.cur.Next()
}

func (it *BadgerIterator) Prev() {
	if it.cur == nil {
		return
	}
	if it.cur == it.fwd {
		key := it.cur.Item().KeyCopy(nil)
		rev := it.reverse()
		rev.Seek(key)
		if rev.Valid() && bytes.Equal(rev.Item().Key(), key) {
			rev.Next()
		}
		return
	}
	it.cur.Next()
}

// Seek moves to the first key >= key.
func (it *BadgerIterator) Seek(key []byte) {
	it.forward().Seek(append(append([]byte{}, it.prefix...), key...))
}

// SeekForPrev moves to the last key <= key.
func (it *BadgerIterator) SeekForPrev(key []byte) {
	it.reverse().Seek(append(append([]byte{}, it.prefix...), key...))
}

func (it *BadgerIterator) Rewind() {
	it.forward().Seek(it.prefix)
}

func (it *BadgerIterator) SeekToLast() {
	rev := it.reverse()
	rev.Seek(it.upper)
	for rev.Valid() && bytes.Compare(rev.Item().Key(), it.upper) >= 0 {
		rev.Next()
	}
}
