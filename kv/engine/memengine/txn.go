package memengine

import (
	"github.com/google/btree"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap/errors"
)

// Txn is an optimistic transaction. Written and GetForUpdate keys are tracked with the
// sequence at which they were first touched, and Commit fails if any of them was written
// by someone else since. It is not safe for concurrent use.
type Txn struct {
	db   *DB
	snap *snapshot

	writes  map[*cfData]*btree.BTree
	tracked map[uint64]uint64

	failed error
	done   bool
}

func newTxn(db *DB, to *engine.TxnOptions) *Txn {
	txn := &Txn{
		db:      db,
		writes:  make(map[*cfData]*btree.BTree),
		tracked: make(map[uint64]uint64),
	}
	if to.SetSnapshot {
		db.st.mu.Lock()
		txn.snap = db.snapshotLocked()
		db.st.mu.Unlock()
	}
	return txn
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

// track records key for validation at commit. The caller holds st.mu.
func (t *Txn) track(data *cfData, key []byte) error {
	fp := fingerprint(data, key)
	if _, ok := t.tracked[fp]; ok {
		return nil
	}
	if max := t.db.txnOpts.MaxNumLocks; max >= 0 && int64(len(t.tracked)) >= max {
		return errors.New("Resource busy: Got max lock count")
	}
	seq := t.db.st.seq
	if t.snap != nil {
		seq = t.snap.seq
	}
	t.tracked[fp] = seq
	return nil
}

// read returns the value visible to the transaction. The caller holds st.mu.
func (t *Txn) read(data *cfData, key []byte) []byte {
	if pending, ok := t.writes[data]; ok {
		if item := pending.Get(&memItem{key: key}); item != nil {
			mi := item.(*memItem)
			if mi.deleted {
				return nil
			}
			return append([]byte{}, mi.value...)
		}
	}
	tree := data.tree
	if t.snap != nil {
		if tree = t.snap.trees[data]; tree == nil {
			return nil
		}
	}
	return getFromTree(tree, key)
}

func (t *Txn) Get(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.db.st.mu.RLock()
	defer t.db.st.mu.RUnlock()
	data, err := t.db.resolve(cf)
	if err != nil {
		return nil, err
	}
	return t.read(data, key), nil
}

func (t *Txn) GetForUpdate(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte, exclusive bool) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	t.db.st.mu.RLock()
	defer t.db.st.mu.RUnlock()
	data, err := t.db.resolve(cf)
	if err != nil {
		return nil, err
	}
	if err = t.track(data, key); err != nil {
		return nil, err
	}
	return t.read(data, key), nil
}

func (t *Txn) stage(cf engine.ColumnFamily, key []byte, item func(data *cfData) (*memItem, error)) error {
	if err := t.check(); err != nil {
		return err
	}
	t.db.st.mu.RLock()
	defer t.db.st.mu.RUnlock()
	data, err := t.db.resolve(cf)
	if err != nil {
		return err
	}
	if err = t.track(data, key); err != nil {
		return err
	}
	mi, err := item(data)
	if err != nil {
		return err
	}
	pending, ok := t.writes[data]
	if !ok {
		pending = btree.New(btreeDegree)
		t.writes[data] = pending
	}
	pending.ReplaceOrInsert(mi)
	return nil
}

func (t *Txn) Put(cf engine.ColumnFamily, key, value []byte) error {
	return t.stage(cf, key, func(*cfData) (*memItem, error) {
		return &memItem{key: append([]byte{}, key...), value: append([]byte{}, value...)}, nil
	})
}

func (t *Txn) Merge(cf engine.ColumnFamily, key, value []byte) error {
	return t.stage(cf, key, func(data *cfData) (*memItem, error) {
		merged, err := engine.ApplyMerge(data.mergeOp, key, t.read(data, key), value)
		if err != nil {
			return nil, err
		}
		return &memItem{key: append([]byte{}, key...), value: merged}, nil
	})
}

func (t *Txn) Delete(cf engine.ColumnFamily, key []byte) error {
	return t.stage(cf, key, func(*cfData) (*memItem, error) {
		return &memItem{key: append([]byte{}, key...), deleted: true}, nil
	})
}

func (t *Txn) NewIterator(ro *engine.ReadOptions, cf engine.ColumnFamily) engine.Iterator {
	if err := t.check(); err != nil {
		return &errIterator{err: err}
	}
	t.db.st.mu.Lock()
	defer t.db.st.mu.Unlock()
	data, err := t.db.resolve(cf)
	if err != nil {
		return &errIterator{err: err}
	}
	base := data.tree
	if t.snap != nil {
		if base = t.snap.trees[data]; base == nil {
			base = btree.New(btreeDegree)
		}
	}
	view := base.Clone()
	if pending, ok := t.writes[data]; ok {
		pending.Ascend(func(i btree.Item) bool {
			mi := i.(*memItem)
			if mi.deleted {
				view.Delete(mi)
			} else {
				view.ReplaceOrInsert(mi)
			}
			return true
		})
	}
	return engine.WithBounds(newIterator(view), ro)
}

func (t *Txn) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	st := t.db.st
	st.mu.Lock()
	defer st.mu.Unlock()
	if t.db.closed.Load() {
		return engine.ErrDBClosed
	}
	for fp, seq := range t.tracked {
		if st.lastWrite[fp] > seq {
			t.failed = errors.Annotate(engine.ErrConflict, "write conflict")
			return t.failed
		}
	}
	var writes []write
	for data, pending := range t.writes {
		pending.Ascend(func(i btree.Item) bool {
			mi := i.(*memItem)
			w := write{data: data, key: mi.key, value: mi.value, kind: engine.OpPut}
			if mi.deleted {
				w.kind = engine.OpDelete
			}
			writes = append(writes, w)
			return true
		})
	}
	if len(writes) > 0 {
		if err := st.apply(writes); err != nil {
			return err
		}
	}
	t.done = true
	t.writes = nil
	return nil
}

func (t *Txn) Rollback() error {
	if t.done {
		return engine.ErrTxnDone
	}
	t.done = true
	t.writes = nil
	return nil
}

func (t *Txn) Release() {
	t.done = true
	t.writes = nil
	t.snap = nil
}
