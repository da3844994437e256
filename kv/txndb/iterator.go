package txndb

import (
	"bytes"
	"sync"

	"github.com/pingcap-incubator/txndb/kv/engine"
)

type Direction int

const (
	Forward Direction = iota
	Reverse
)

type modeKind int

const (
	modeStart modeKind = iota
	modeEnd
	modeFrom
)

// IteratorMode is where a DBIterator starts and which way it moves.
type IteratorMode struct {
	kind modeKind
	key  []byte
	dir  Direction
}

var (
	// ModeStart iterates forward from the first key.
	ModeStart = IteratorMode{kind: modeStart, dir: Forward}
	// ModeEnd iterates backward from the last key.
	ModeEnd = IteratorMode{kind: modeEnd, dir: Reverse}
)

// ModeFrom starts at key, or at the nearest key in direction dir.
func ModeFrom(key []byte, dir Direction) IteratorMode {
	return IteratorMode{kind: modeFrom, key: key, dir: dir}
}

// DBRawIterator is a cursor over one column family. Key and Value return copies. It must
// be closed, and it stops being valid when its database, snapshot or transaction goes away.
type DBRawIterator struct {
	db    *TransactionDB
	owner *liveSet

	mu    sync.Mutex
	inner engine.Iterator
	// err is reported by Status once inner is gone.
	err error
}

// newRawIterator wraps an engine iterator. The caller has entered db.
func newRawIterator(db *TransactionDB, owner *liveSet, open func() (engine.Iterator, error)) *DBRawIterator {
	it := &DBRawIterator{db: db, owner: owner}
	inner, err := open()
	if err != nil {
		it.err = err
		return it
	}
	if inner == nil {
		it.err = newError(ErrKindInvalidHandle, "received null iterator from DB")
		return it
	}
	it.inner = inner
	owner.add(it)
	return it
}

// failedRawIterator reports err from Status and is never valid.
func failedRawIterator(db *TransactionDB, err error) *DBRawIterator {
	return &DBRawIterator{db: db, err: err}
}

// pin locks the iterator for one call and reports whether it is still open.
func (it *DBRawIterator) pin() bool {
	it.db.mu.RLock()
	it.mu.Lock()
	if it.inner == nil {
		it.unpin()
		return false
	}
	return true
}

func (it *DBRawIterator) unpin() {
	it.mu.Unlock()
	it.db.mu.RUnlock()
}

func (it *DBRawIterator) Valid() bool {
	if !it.pin() {
		return false
	}
	defer it.unpin()
	return it.inner.Valid()
}

func (it *DBRawIterator) SeekToFirst() {
	if it.pin() {
		it.inner.SeekToFirst()
		it.unpin()
	}
}

func (it *DBRawIterator) SeekToLast() {
	if it.pin() {
		it.inner.SeekToLast()
		it.unpin()
	}
}

// Seek moves to the first key at or after key.
func (it *DBRawIterator) Seek(key []byte) {
	if it.pin() {
		it.inner.Seek(key)
		it.unpin()
	}
}

// SeekForPrev moves to the last key at or before key.
func (it *DBRawIterator) SeekForPrev(key []byte) {
	if it.pin() {
		it.inner.SeekForPrev(key)
		it.unpin()
	}
}

func (it *DBRawIterator) Next() {
	if it.pin() {
		it.inner.Next()
		it.unpin()
	}
}

func (it *DBRawIterator) Prev() {
	if it.pin() {
		it.inner.Prev()
		it.unpin()
	}
}

// Key returns a copy of the current key, or nil when the iterator is not valid.
func (it *DBRawIterator) Key() []byte {
	if !it.pin() {
		return nil
	}
	defer it.unpin()
	if !it.inner.Valid() {
		return nil
	}
	return append([]byte(nil), it.inner.Key()...)
}

func (it *DBRawIterator) Value() []byte {
	if !it.pin() {
		return nil
	}
	defer it.unpin()
	if !it.inner.Valid() {
		return nil
	}
	return append([]byte{}, it.inner.Value()...)
}

// Status returns the error that stopped the iterator, if any.
func (it *DBRawIterator) Status() error {
	if !it.pin() {
		it.mu.Lock()
		defer it.mu.Unlock()
		return it.err
	}
	defer it.unpin()
	return fromEngine(it.inner.Err())
}

// Close releases the engine iterator. It is safe to call more than once.
func (it *DBRawIterator) Close() {
	if !it.pin() {
		return
	}
	defer it.unpin()
	it.inner.Close()
	it.inner = nil
	it.owner.remove(it)
}

func (it *DBRawIterator) forceClose(reason error) {
	it.mu.Lock()
	defer it.mu.Unlock()
	if it.inner != nil {
		it.inner.Close()
		it.inner = nil
		it.err = reason
	}
}

// DBIterator walks key/value pairs in the order given by its IteratorMode:
//
//	it := db.Iterator(txndb.ModeStart)
//	defer it.Close()
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	if err := it.Err(); err != nil {
//		...
//	}
type DBIterator struct {
	raw *DBRawIterator
	dir Direction
	// prefix ends the iteration at the first key without it.
	prefix  []byte
	started bool
	done    bool
	key     []byte
	value   []byte
	err     error
}

func newDBIterator(raw *DBRawIterator, mode IteratorMode) *DBIterator {
	it := &DBIterator{raw: raw}
	it.SetMode(mode)
	return it
}

// SetMode repositions the iterator. The next call to Next yields the first pair.
func (it *DBIterator) SetMode(mode IteratorMode) {
	it.dir = mode.dir
	it.started = false
	it.done = false
	it.key, it.value = nil, nil
	switch mode.kind {
	case modeStart:
		it.raw.SeekToFirst()
	case modeEnd:
		it.raw.SeekToLast()
	case modeFrom:
		if mode.dir == Forward {
			it.raw.Seek(mode.key)
		} else {
			it.raw.SeekForPrev(mode.key)
		}
	}
}

// Next advances to the next pair and reports whether there is one.
func (it *DBIterator) Next() bool {
	if it.done {
		return false
	}
	if !it.raw.pin() {
		it.finish(it.raw.Status())
		return false
	}
	inner := it.raw.inner
	if it.started {
		if it.dir == Forward {
			inner.Next()
		} else {
			inner.Prev()
		}
	}
	it.started = true
	if !inner.Valid() {
		err := inner.Err()
		it.raw.unpin()
		it.finish(fromEngine(err))
		return false
	}
	key := inner.Key()
	if it.prefix != nil && !bytes.HasPrefix(key, it.prefix) {
		it.raw.unpin()
		it.finish(nil)
		return false
	}
	it.key = append([]byte(nil), key...)
	it.value = append([]byte{}, inner.Value()...)
	it.raw.unpin()
	return true
}

func (it *DBIterator) finish(err error) {
	it.done = true
	it.key, it.value = nil, nil
	if it.err == nil {
		it.err = err
	}
}

// Key returns the current key. It is owned by the caller.
func (it *DBIterator) Key() []byte { return it.key }

func (it *DBIterator) Value() []byte { return it.value }

// Err returns the error that ended the iteration early, if any.
func (it *DBIterator) Err() error { return it.err }

func (it *DBIterator) Close() { it.raw.Close() }

// Raw exposes the underlying cursor.
func (it *DBIterator) Raw() *DBRawIterator { return it.raw }

func totalOrder(ro *ReadOptions) *ReadOptions {
	opts := *readOptionsOrDefault(ro)
	opts.TotalOrderSeek = true
	return &opts
}

func prefixSameAsStart(ro *ReadOptions) *ReadOptions {
	opts := *readOptionsOrDefault(ro)
	opts.PrefixSameAsStart = true
	return &opts
}

func (db *TransactionDB) rawIterator(cf ColumnFamilyRef, ro *ReadOptions) *DBRawIterator {
	if err := db.enter(); err != nil {
		return failedRawIterator(db, err)
	}
	defer db.leave()
	operationCounter.WithLabelValues("iterator").Inc()
	return newRawIterator(db, db.live, func() (engine.Iterator, error) {
		h, err := engineCF(cf)
		if err != nil {
			return nil, err
		}
		return db.inner.NewIterator(readOptionsOrDefault(ro), h), nil
	})
}

// Iterator iterates the default column family.
func (db *TransactionDB) Iterator(mode IteratorMode) *DBIterator {
	return db.IteratorCFOpt(nil, nil, mode)
}

func (db *TransactionDB) IteratorOpt(mode IteratorMode, ro *ReadOptions) *DBIterator {
	return db.IteratorCFOpt(nil, ro, mode)
}

func (db *TransactionDB) IteratorCF(cf ColumnFamilyRef, mode IteratorMode) *DBIterator {
	return db.IteratorCFOpt(cf, nil, mode)
}

func (db *TransactionDB) IteratorCFOpt(cf ColumnFamilyRef, ro *ReadOptions, mode IteratorMode) *DBIterator {
	return newDBIterator(db.rawIterator(cf, ro), mode)
}

// FullIterator iterates in total order, ignoring any prefix seek optimization.
func (db *TransactionDB) FullIterator(mode IteratorMode) *DBIterator {
	return db.IteratorCFOpt(nil, totalOrder(nil), mode)
}

func (db *TransactionDB) FullIteratorCF(cf ColumnFamilyRef, mode IteratorMode) *DBIterator {
	return db.IteratorCFOpt(cf, totalOrder(nil), mode)
}

// PrefixIterator yields the keys starting with prefix.
func (db *TransactionDB) PrefixIterator(prefix []byte) *DBIterator {
	return db.PrefixIteratorCF(nil, prefix)
}

func (db *TransactionDB) PrefixIteratorCF(cf ColumnFamilyRef, prefix []byte) *DBIterator {
	return newPrefixIterator(db.rawIterator(cf, prefixSameAsStart(nil)), prefix)
}

func newPrefixIterator(raw *DBRawIterator, prefix []byte) *DBIterator {
	prefix = append([]byte{}, prefix...)
	it := &DBIterator{raw: raw, prefix: prefix}
	it.SetMode(ModeFrom(prefix, Forward))
	return it
}

func (db *TransactionDB) RawIterator() *DBRawIterator {
	return db.rawIterator(nil, nil)
}

func (db *TransactionDB) RawIteratorCF(cf ColumnFamilyRef) *DBRawIterator {
	return db.rawIterator(cf, nil)
}

func (db *TransactionDB) RawIteratorOpt(ro *ReadOptions) *DBRawIterator {
	return db.rawIterator(nil, ro)
}

func (db *TransactionDB) RawIteratorCFOpt(cf ColumnFamilyRef, ro *ReadOptions) *DBRawIterator {
	return db.rawIterator(cf, ro)
}
