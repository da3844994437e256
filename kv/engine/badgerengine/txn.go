package badgerengine

import (
	"sync"

	"github.com/Connor1996/badger"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// Txn wraps an update badger transaction. It is not safe for concurrent use.
type Txn struct {
	db  *DB
	txn *badger.Txn

	// locked holds the encoded keys written so far, bounded by TxnDBOptions.MaxNumLocks.
	locked map[string]struct{}
	// failed is set once a commit lost a conflict. badger has discarded the transaction
	// by then, so only Rollback and Release remain meaningful.
	failed error
	done   bool

	itersMu sync.Mutex
	iters   map[*iterator]struct{}
}

func newTxn(db *DB, txn *badger.Txn) *Txn {
	return &Txn{db: db, txn: txn, locked: make(map[string]struct{}), iters: make(map[*iterator]struct{})}
}

func (t *Txn) track(it *iterator) {
	t.itersMu.Lock()
	t.iters[it] = struct{}{}
	t.itersMu.Unlock()
}

func (t *Txn) untrack(it *iterator) {
	t.itersMu.Lock()
	delete(t.iters, it)
	t.itersMu.Unlock()
}

// closeIterators closes the iterators still open on the transaction.
func (t *Txn) closeIterators() {
	t.itersMu.Lock()
	open := make([]*iterator, 0, len(t.iters))
	for it := range t.iters {
		open = append(open, it)
	}
	t.itersMu.Unlock()
	for _, it := range open {
		it.Close()
	}
}

func (t *Txn) check() error {
	if t.done {
		return engine.ErrTxnDone
	}
	if t.failed != nil {
		return t.failed
	}
	return nil
}

func (t *Txn) Get(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	meta, err := t.db.resolve(cf)
	if err != nil {
		return nil, err
	}
	return getFromTxn(t.txn, meta.id, key)
}

// GetForUpdate is a plain Get: reads of an update transaction are already validated at commit.
func (t *Txn) GetForUpdate(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte, exclusive bool) ([]byte, error) {
	return t.Get(ro, cf, key)
}

func (t *Txn) lock(id uint32, key []byte) error {
	k := string(engine_util.KeyWithCF(id, key))
	if _, ok := t.locked[k]; ok {
		return nil
	}
	if max := t.db.txnOpts.MaxNumLocks; max >= 0 && int64(len(t.locked)) >= max {
		return errors.New("Resource busy: Got max lock count")
	}
	t.locked[k] = struct{}{}
	return nil
}

func (t *Txn) Put(cf engine.ColumnFamily, key, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.db.resolve(cf)
	if err != nil {
		return err
	}
	if err = t.lock(meta.id, key); err != nil {
		return err
	}
	return errors.Trace(t.txn.Set(engine_util.KeyWithCF(meta.id, key), value))
}

func (t *Txn) Merge(cf engine.ColumnFamily, key, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.db.resolve(cf)
	if err != nil {
		return err
	}
	if err = t.lock(meta.id, key); err != nil {
		return err
	}
	return mergeInTxn(t.txn, meta, key, value)
}

func (t *Txn) Delete(cf engine.ColumnFamily, key []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	meta, err := t.db.resolve(cf)
	if err != nil {
		return err
	}
	if err = t.lock(meta.id, key); err != nil {
		return err
	}
	return errors.Trace(t.txn.Delete(engine_util.KeyWithCF(meta.id, key)))
}

func (t *Txn) NewIterator(ro *engine.ReadOptions, cf engine.ColumnFamily) engine.Iterator {
	if err := t.check(); err != nil {
		return &errIterator{err: err}
	}
	meta, err := t.db.resolve(cf)
	if err != nil {
		return &errIterator{err: err}
	}
	it := newIterator(t.txn, meta.id, false)
	it.owner = t
	t.track(it)
	return engine.WithBounds(it, ro)
}

func (t *Txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	t.closeIterators()
	err := t.txn.Commit()
	if err == badger.ErrConflict {
		t.failed = errors.Annotate(engine.ErrConflict, err.Error())
		return t.failed
	}
	t.done = true
	return errors.Trace(err)
}

func (t *Txn) Rollback() error {
	if t.done {
		return engine.ErrTxnDone
	}
	t.closeIterators()
	t.txn.Discard()
	t.done = true
	return nil
}

func (t *Txn) Release() {
	if !t.done {
		t.closeIterators()
		t.txn.Discard()
		t.done = true
	}
}
