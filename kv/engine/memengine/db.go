package memengine

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/dgryski/go-farm"
	"github.com/google/btree"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

const btreeDegree = 32

// memItem is a btree entry. Deleted items only appear in transaction write sets.
type memItem struct {
	key     []byte
	value   []byte
	deleted bool
}

func (it *memItem) Less(than btree.Item) bool {
	return bytes.Compare(it.key, than.(*memItem).key) < 0
}

type cfData struct {
	name    string
	id      uint32
	tree    *btree.BTree
	mergeOp engine.MergeOperator
	dropped bool
}

// store is the state of one path. It survives DB.Close until DestroyDB.
type store struct {
	mu     sync.RWMutex
	cfs    map[string]*cfData
	nextID uint32
	open   bool

	// seq is bumped by every committed write. lastWrite maps a key fingerprint to the seq
	// of its latest write, which is what optimistic transactions validate against.
	seq       uint64
	lastWrite map[uint64]uint64
}

func newStore() *store {
	st := &store{
		cfs:       make(map[string]*cfData),
		lastWrite: make(map[uint64]uint64),
	}
	st.createCF(engine.DefaultColumnFamilyName)
	return st
}

func (st *store) createCF(name string) *cfData {
	data := &cfData{name: name, id: st.nextID, tree: btree.New(btreeDegree)}
	st.nextID++
	st.cfs[name] = data
	return data
}

func fingerprint(data *cfData, key []byte) uint64 {
	buf := make([]byte, 4+len(key))
	binary.BigEndian.PutUint32(buf, data.id)
	copy(buf[4:], key)
	return farm.Fingerprint64(buf)
}

func getFromTree(tree *btree.BTree, key []byte) []byte {
	item := tree.Get(&memItem{key: key})
	if item == nil {
		return nil
	}
	return append([]byte{}, item.(*memItem).value...)
}

// write is one staged mutation. Merges are resolved into puts before they are applied.
type write struct {
	data  *cfData
	key   []byte
	value []byte
	kind  engine.OpKind
}

// apply stages writes on copy-on-write clones of the touched trees and installs them only
// when every write succeeded. The caller holds st.mu for writing.
func (st *store) apply(writes []write) error {
	staged := make(map[*cfData]*btree.BTree)
	for _, w := range writes {
		if w.data.dropped {
			return engine.ErrColumnFamilyDropped
		}
		tree, ok := staged[w.data]
		if !ok {
			tree = w.data.tree.Clone()
			staged[w.data] = tree
		}
		switch w.kind {
		case engine.OpPut:
			tree.ReplaceOrInsert(&memItem{key: append([]byte{}, w.key...), value: append([]byte{}, w.value...)})
		case engine.OpDelete:
			tree.Delete(&memItem{key: w.key})
		case engine.OpMerge:
			merged, err := engine.ApplyMerge(w.data.mergeOp, w.key, getFromTree(tree, w.key), w.value)
			if err != nil {
				return err
			}
			tree.ReplaceOrInsert(&memItem{key: append([]byte{}, w.key...), value: merged})
		}
	}
	st.seq++
	for data, tree := range staged {
		data.tree = tree
	}
	for _, w := range writes {
		st.lastWrite[fingerprint(w.data, w.key)] = st.seq
	}
	return nil
}

// ColumnFamily is a handle to one column family of a DB.
type ColumnFamily struct {
	db     *DB
	data   *cfData
	closed atomic.Bool
}

func (cf *ColumnFamily) Name() string { return cf.data.name }

func (cf *ColumnFamily) Close() {
	if !cf.closed.Swap(true) {
		cf.db.handles.Dec()
	}
}

type DB struct {
	st      *store
	path    string
	opts    *engine.Options
	txnOpts *engine.TxnDBOptions

	handles atomic.Int32
	closed  atomic.Bool
}

func newDB(st *store, path string, opts *engine.Options, txnOpts *engine.TxnDBOptions) *DB {
	return &DB{st: st, path: path, opts: opts, txnOpts: txnOpts}
}

func (db *DB) newHandle(data *cfData) *ColumnFamily {
	db.handles.Inc()
	return &ColumnFamily{db: db, data: data}
}

// resolve maps a handle to its data. The caller holds st.mu.
func (db *DB) resolve(cf engine.ColumnFamily) (*cfData, error) {
	if db.closed.Load() {
		return nil, engine.ErrDBClosed
	}
	if cf == nil {
		return db.st.cfs[engine.DefaultColumnFamilyName], nil
	}
	handle, ok := cf.(*ColumnFamily)
	if !ok || handle.db != db {
		return nil, errors.Errorf("Invalid argument: column family %s does not belong to %s", cf.Name(), db.path)
	}
	if handle.closed.Load() {
		return nil, engine.ErrColumnFamilyClosed
	}
	if handle.data.dropped {
		return nil, engine.ErrColumnFamilyDropped
	}
	return handle.data, nil
}

func (db *DB) CreateColumnFamily(opts *engine.Options, name string) (engine.ColumnFamily, error) {
	db.st.mu.Lock()
	defer db.st.mu.Unlock()
	if db.closed.Load() {
		return nil, engine.ErrDBClosed
	}
	if _, ok := db.st.cfs[name]; ok {
		return nil, errors.Annotatef(engine.ErrColumnFamilyExists, "create %s", name)
	}
	data := db.st.createCF(name)
	data.mergeOp = engine.MergeOperatorOf(opts, db.opts)
	return db.newHandle(data), nil
}

func (db *DB) DropColumnFamily(cf engine.ColumnFamily) error {
	db.st.mu.Lock()
	defer db.st.mu.Unlock()
	data, err := db.resolve(cf)
	if err != nil {
		return err
	}
	if data.name == engine.DefaultColumnFamilyName {
		return engine.ErrDropDefault
	}
	data.dropped = true
	delete(db.st.cfs, data.name)
	return nil
}

func (db *DB) Get(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte) ([]byte, error) {
	db.st.mu.RLock()
	defer db.st.mu.RUnlock()
	data, err := db.resolve(cf)
	if err != nil {
		return nil, err
	}
	tree := data.tree
	if ro != nil && ro.Snapshot != nil {
		snap, err := db.snapshotOf(ro.Snapshot)
		if err != nil {
			return nil, err
		}
		if tree = snap.trees[data]; tree == nil {
			return nil, nil
		}
	}
	return getFromTree(tree, key), nil
}

func (db *DB) Put(wo *engine.WriteOptions, cf engine.ColumnFamily, key, value []byte) error {
	return db.Write(wo, []engine.BatchOp{{Kind: engine.OpPut, CF: cf, Key: key, Value: value}})
}

func (db *DB) Merge(wo *engine.WriteOptions, cf engine.ColumnFamily, key, value []byte) error {
	return db.Write(wo, []engine.BatchOp{{Kind: engine.OpMerge, CF: cf, Key: key, Value: value}})
}

func (db *DB) Delete(wo *engine.WriteOptions, cf engine.ColumnFamily, key []byte) error {
	return db.Write(wo, []engine.BatchOp{{Kind: engine.OpDelete, CF: cf, Key: key}})
}

func (db *DB) Write(wo *engine.WriteOptions, batch []engine.BatchOp) error {
	db.st.mu.Lock()
	defer db.st.mu.Unlock()
	writes := make([]write, len(batch))
	for i, op := range batch {
		data, err := db.resolve(op.CF)
		if err != nil {
			return err
		}
		if op.Kind == engine.OpMerge && data.mergeOp == nil {
			return engine.ErrMergeNotSupported
		}
		writes[i] = write{data: data, key: op.Key, value: op.Value, kind: op.Kind}
	}
	return db.st.apply(writes)
}

func (db *DB) BeginTxn(wo *engine.WriteOptions, to *engine.TxnOptions) engine.Txn {
	if db.closed.Load() {
		return nil
	}
	if to == nil {
		to = engine.NewDefaultTxnOptions()
	}
	return newTxn(db, to)
}

func (db *DB) NewSnapshot() engine.Snapshot {
	if db.closed.Load() {
		return nil
	}
	// Clone marks the source tree copy-on-write, so it needs the write lock.
	db.st.mu.Lock()
	defer db.st.mu.Unlock()
	return db.snapshotLocked()
}

func (db *DB) snapshotLocked() *snapshot {
	trees := make(map[*cfData]*btree.BTree, len(db.st.cfs))
	for _, data := range db.st.cfs {
		trees[data] = data.tree.Clone()
	}
	return &snapshot{db: db, trees: trees, seq: db.st.seq}
}

func (db *DB) ReleaseSnapshot(s engine.Snapshot) {
	if snap, ok := s.(*snapshot); ok {
		snap.released.Store(true)
	}
}

func (db *DB) snapshotOf(s engine.Snapshot) (*snapshot, error) {
	snap, ok := s.(*snapshot)
	if !ok || snap.db != db {
		return nil, errors.New("Invalid argument: snapshot does not belong to this database")
	}
	if snap.released.Load() {
		return nil, errors.New("Invalid argument: snapshot has been released")
	}
	return snap, nil
}

func (db *DB) NewIterator(ro *engine.ReadOptions, cf engine.ColumnFamily) engine.Iterator {
	db.st.mu.Lock()
	defer db.st.mu.Unlock()
	data, err := db.resolve(cf)
	if err != nil {
		return &errIterator{err: err}
	}
	var tree *btree.BTree
	if ro != nil && ro.Snapshot != nil {
		snap, err := db.snapshotOf(ro.Snapshot)
		if err != nil {
			return &errIterator{err: err}
		}
		if tree = snap.trees[data]; tree == nil {
			tree = btree.New(btreeDegree)
		}
		tree = tree.Clone()
	} else {
		tree = data.tree.Clone()
	}
	return engine.WithBounds(newIterator(tree), ro)
}

func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return engine.ErrDBClosed
	}
	if n := db.handles.Load(); n > 0 {
		log.Warnf("closing %s with %d column family handles still open", db.path, n)
	}
	stores.Lock()
	db.st.open = false
	stores.Unlock()
	log.Infof("memory engine closed %s", db.path)
	return nil
}

type snapshot struct {
	db       *DB
	trees    map[*cfData]*btree.BTree
	seq      uint64
	released atomic.Bool
}

func (s *snapshot) Sequence() uint64 { return s.seq }
