package memengine

import (
	"bytes"

	"github.com/google/btree"
)

// iterator walks a private clone of a column family tree. google/btree has no cursor,
// so every move is a fresh bounded walk from the current key.
type iterator struct {
	tree *btree.BTree
	cur  *memItem
}

func newIterator(tree *btree.BTree) *iterator {
	return &iterator{tree: tree}
}

func (it *iterator) SeekToFirst() {
	it.cur = nil
	if item := it.tree.Min(); item != nil {
		it.cur = item.(*memItem)
	}
}

func (it *iterator) SeekToLast() {
	it.cur = nil
	if item := it.tree.Max(); item != nil {
		it.cur = item.(*memItem)
	}
}

func (it *iterator) Seek(key []byte) {
	it.cur = nil
	it.tree.AscendGreaterOrEqual(&memItem{key: key}, func(i btree.Item) bool {
		it.cur = i.(*memItem)
		return false
	})
}

func (it *iterator) SeekForPrev(key []byte) {
	it.cur = nil
	it.tree.DescendLessOrEqual(&memItem{key: key}, func(i btree.Item) bool {
		it.cur = i.(*memItem)
		return false
	})
}

func (it *iterator) Valid() bool { return it.cur != nil }

func (it *iterator) Next() {
	if it.cur == nil {
		return
	}
	from := it.cur
	it.cur = nil
	it.tree.AscendGreaterOrEqual(from, func(i btree.Item) bool {
		mi := i.(*memItem)
		if bytes.Equal(mi.key, from.key) {
			return true
		}
		it.cur = mi
		return false
	})
}

func (it *iterator) Prev() {
	if it.cur == nil {
		return
	}
	from := it.cur
	it.cur = nil
	it.tree.DescendLessOrEqual(from, func(i btree.Item) bool {
		mi := i.(*memItem)
		if bytes.Equal(mi.key, from.key) {
			return true
		}
		it.cur = mi
		return false
	})
}

func (it *iterator) Key() []byte { return it.cur.key }

func (it *iterator) Value() []byte { return it.cur.value }

func (it *iterator) Err() error { return nil }

func (it *iterator) Close() {
	it.tree = nil
	it.cur = nil
}

type errIterator struct {
	err error
}

func (it *errIterator) SeekToFirst() {}
func (it *errIterator) SeekToLast() {}
func (it *errIterator) Seek([]byte) {}
func (it *errIterator) SeekForPrev([]byte) {}
func (it *errIterator) Valid() bool { return false }
func (it *errIterator) Next() {}
func (it *errIterator) Prev() {}
func (it *errIterator) Key() []byte { return nil }
func (it *errIterator) Value() []byte { return nil }
func (it *errIterator) Err() error { return it.err }
func (it *errIterator) Close() {}
