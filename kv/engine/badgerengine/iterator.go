package badgerengine

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/txndb/kv/util/engine_util"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// snapshot is a read-only badger transaction, which already reads at a fixed version.
type snapshot struct {
	db       *DB
	txn      *badger.Txn
	seq      uint64
	released atomic.Bool
}

func (s *snapshot) Sequence() uint64 { return s.seq }

func (s *snapshot) release() {
	if !s.released.Swap(true) {
		s.txn.Discard()
	}
}

type iterator struct {
	it  *engine_util.BadgerIterator
	txn *badger.Txn
	// ownTxn is set when the iterator created txn and must discard it on Close.
	ownTxn bool
	// owner is the transaction that tracks the iterator, if any.
	owner  *Txn
	closed bool
	err    error
}

func newIterator(txn *badger.Txn, id uint32, ownTxn bool) *iterator {
	return &iterator{
		it:     engine_util.NewCFIterator(id, txn),
		txn:    txn,
		ownTxn: ownTxn,
	}
}

func (it *iterator) SeekToFirst() { it.it.Rewind() }
func (it *iterator) SeekToLast() { it.it.SeekToLast() }
func (it *iterator) Seek(key []byte) { it.it.Seek(key) }
func (it *iterator) SeekForPrev(key []byte) { it.it.SeekForPrev(key) }
func (it *iterator) Next() { it.it.Next() }
func (it *iterator) Prev() { it.it.Prev() }
func (it *iterator) Err() error { return it.err }

func (it *iterator) Valid() bool {
	return it.err == nil && it.it.Valid()
}

func (it *iterator) Key() []byte {
	return it.it.Item().Key()
}

func (it *iterator) Value() []byte {
	val, err := it.it.Item().Value()
	if err != nil {
		it.err = errors.Trace(err)
		return nil
	}
	if val == nil {
		val = []byte{}
	}
	return val
}

// Close is idempotent. badger panics when a transaction is discarded with an open iterator,
// so an owning Txn closes its iterators before it commits or discards.
func (it *iterator) Close() {
	if it.closed {
		return
	}
	it.closed = true
	it.it.Close()
	if it.owner != nil {
		it.owner.untrack(it)
	}
	if it.ownTxn {
		it.txn.Discard()
	}
}

// errIterator is returned when an iterator cannot be created. It is never valid.
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
