package badgerengine

import (
	"sync"

	"github.com/Connor1996/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/util/engine_util"
	"github.com/pingcap/errors"
	"go.uber.org/atomic"
)

// maxMergeRetries bounds the read-modify-write retries of a merge outside a transaction.
const maxMergeRetries = 16

type cfMeta struct {
	name    string
	id      uint32
	mergeOp engine.MergeOperator
	dropped atomic.Bool
}

// ColumnFamily is a handle to one column family of a DB.
type ColumnFamily struct {
	db     *DB
	meta   *cfMeta
	closed atomic.Bool
}

func (cf *ColumnFamily) Name() string { return cf.meta.name }

func (cf *ColumnFamily) Close() {
	if !cf.closed.Swap(true) {
		cf.db.handles.Dec()
	}
}

type DB struct {
	db      *badger.DB
	path    string
	opts    *engine.Options
	txnOpts *engine.TxnDBOptions

	mu     sync.RWMutex
	cfs    map[string]*cfMeta
	nextID uint32

	handles atomic.Int32
	closed  atomic.Bool
	snapSeq atomic.Uint64
}

func newDB(bdb *badger.DB, path string, opts *engine.Options, txnOpts *engine.TxnDBOptions) *DB {
	return &DB{
		db:      bdb,
		path:    path,
		opts:    opts,
		txnOpts: txnOpts,
		cfs:     make(map[string]*cfMeta),
	}
}

func (db *DB) openColumnFamilies(names []string, cfOpts []*engine.Options, createMissing bool) ([]*ColumnFamily, error) {
	ids, nextID, err := engine_util.LoadColumnFamilies(db.db)
	if err != nil {
		return nil, errors.Trace(err)
	}
	missing, err := engine.CheckOpenColumnFamilies(sortedNames(ids), names, createMissing)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		err = db.db.Update(func(txn *badger.Txn) error {
			for _, name := range missing {
				if err := engine_util.SaveColumnFamily(txn, name, nextID); err != nil {
					return err
				}
				ids[name] = nextID
				nextID++
			}
			return nil
		})
		if err != nil {
			return nil, errors.Annotate(err, "IO error: create column families")
		}
	}
	db.nextID = nextID

	optsOf := make(map[string]*engine.Options, len(names))
	for i, name := range names {
		optsOf[name] = engine.OptionsAt(cfOpts, i, db.opts)
	}
	for name, id := range ids {
		opts := optsOf[name]
		if opts == nil {
			opts = db.opts
		}
		db.cfs[name] = &cfMeta{name: name, id: id, mergeOp: engine.MergeOperatorOf(opts, db.opts)}
	}
	handles := make([]*ColumnFamily, len(names))
	for i, name := range names {
		handles[i] = db.newHandle(db.cfs[name])
	}
	return handles, nil
}

func (db *DB) newHandle(meta *cfMeta) *ColumnFamily {
	db.handles.Inc()
	return &ColumnFamily{db: db, meta: meta}
}

func (db *DB) columnFamilyNames() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	ids := make(map[string]uint32, len(db.cfs))
	for name, meta := range db.cfs {
		ids[name] = meta.id
	}
	return sortedNames(ids)
}

func (db *DB) resolve(cf engine.ColumnFamily) (*cfMeta, error) {
	if db.closed.Load() {
		return nil, engine.ErrDBClosed
	}
	if cf == nil {
		db.mu.RLock()
		meta := db.cfs[engine.DefaultColumnFamilyName]
		db.mu.RUnlock()
		return meta, nil
	}
	handle, ok := cf.(*ColumnFamily)
	if !ok || handle.db != db {
		return nil, errors.Errorf("Invalid argument: column family %s does not belong to %s", cf.Name(), db.path)
	}
	if handle.closed.Load() {
		return nil, engine.ErrColumnFamilyClosed
	}
	if handle.meta.dropped.Load() {
		return nil, engine.ErrColumnFamilyDropped
	}
	return handle.meta, nil
}

func (db *DB) CreateColumnFamily(opts *engine.Options, name string) (engine.ColumnFamily, error) {
	if db.closed.Load() {
		return nil, engine.ErrDBClosed
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	if _, ok := db.cfs[name]; ok {
		return nil, errors.Annotatef(engine.ErrColumnFamilyExists, "create %s", name)
	}
	id := db.nextID
	err := db.db.Update(func(txn *badger.Txn) error {
		return engine_util.SaveColumnFamily(txn, name, id)
	})
	if err != nil {
		return nil, errors.Annotatef(err, "IO error: create column family %s", name)
	}
	db.nextID++
	meta := &cfMeta{name: name, id: id, mergeOp: engine.MergeOperatorOf(opts, db.opts)}
	db.cfs[name] = meta
	return db.newHandle(meta), nil
}

// DropColumnFamily removes the column family and its data. The handle itself stays
// valid for Close only.
func (db *DB) DropColumnFamily(cf engine.ColumnFamily) error {
	meta, err := db.resolve(cf)
	if err != nil {
		return err
	}
	if meta.id == engine_util.DefaultCFID {
		return engine.ErrDropDefault
	}
	db.mu.Lock()
	err = db.db.Update(func(txn *badger.Txn) error {
		return engine_util.RemoveColumnFamily(txn, meta.name)
	})
	if err != nil {
		db.mu.Unlock()
		return errors.Annotatef(err, "IO error: drop column family %s", meta.name)
	}
	meta.dropped.Store(true)
	delete(db.cfs, meta.name)
	db.mu.Unlock()

	// A crash here leaves orphan keys behind, RepairDB removes them.
	if err = engine_util.DeleteRange(db.db, meta.id, nil, nil); err != nil {
		log.Warnf("drop column family %s: purge data failed: %v", meta.name, err)
	}
	return nil
}

func (db *DB) Get(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte) ([]byte, error) {
	meta, err := db.resolve(cf)
	if err != nil {
		return nil, err
	}
	if ro != nil && ro.Snapshot != nil {
		snap, err := db.snapshotOf(ro.Snapshot)
		if err != nil {
			return nil, err
		}
		return getFromTxn(snap.txn, meta.id, key)
	}
	val, err := engine_util.GetCF(db.db, meta.id, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if val == nil {
		val = []byte{}
	}
	return val, nil
}

func getFromTxn(txn *badger.Txn, id uint32, key []byte) ([]byte, error) {
	val, err := engine_util.GetCFFromTxn(txn, id, key)
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Trace(err)
	}
	if val == nil {
		val = []byte{}
	}
	return val, nil
}

func (db *DB) Put(wo *engine.WriteOptions, cf engine.ColumnFamily, key, value []byte) error {
	meta, err := db.resolve(cf)
	if err != nil {
		return err
	}
	return errors.Trace(engine_util.PutCF(db.db, meta.id, key, value))
}

func (db *DB) Delete(wo *engine.WriteOptions, cf engine.ColumnFamily, key []byte) error {
	meta, err := db.resolve(cf)
	if err != nil {
		return err
	}
	return errors.Trace(engine_util.DeleteCF(db.db, meta.id, key))
}

func (db *DB) Merge(wo *engine.WriteOptions, cf engine.ColumnFamily, key, value []byte) error {
	meta, err := db.resolve(cf)
	if err != nil {
		return err
	}
	if meta.mergeOp == nil {
		return engine.ErrMergeNotSupported
	}
	return db.updateWithRetry(func(txn *badger.Txn) error {
		return mergeInTxn(txn, meta, key, value)
	})
}

func mergeInTxn(txn *badger.Txn, meta *cfMeta, key, value []byte) error {
	if meta.mergeOp == nil {
		return engine.ErrMergeNotSupported
	}
	existing, err := getFromTxn(txn, meta.id, key)
	if err != nil {
		return err
	}
	merged, err := engine.ApplyMerge(meta.mergeOp, key, existing, value)
	if err != nil {
		return err
	}
	return txn.Set(engine_util.KeyWithCF(meta.id, key), merged)
}

// updateWithRetry runs fn in an update transaction, retrying when a concurrent writer
// invalidated the keys fn read.
func (db *DB) updateWithRetry(fn func(txn *badger.Txn) error) error {
	var err error
	for i := 0; i < maxMergeRetries; i++ {
		err = db.db.Update(fn)
		if err != badger.ErrConflict {
			return errors.Trace(err)
		}
	}
	return errors.Annotate(engine.ErrConflict, err.Error())
}

func (db *DB) Write(wo *engine.WriteOptions, batch []engine.BatchOp) error {
	if db.closed.Load() {
		return engine.ErrDBClosed
	}
	metas := make([]*cfMeta, len(batch))
	hasMerge := false
	for i, op := range batch {
		meta, err := db.resolve(op.CF)
		if err != nil {
			return err
		}
		if op.Kind == engine.OpMerge {
			if meta.mergeOp == nil {
				return engine.ErrMergeNotSupported
			}
			hasMerge = true
		}
		metas[i] = meta
	}
	apply := func(txn *badger.Txn) error {
		wb := new(engine_util.WriteBatch)
		for i, op := range batch {
			switch op.Kind {
			case engine.OpPut:
				wb.SetCF(metas[i].id, op.Key, op.Value)
			case engine.OpDelete:
				wb.DeleteCF(metas[i].id, op.Key)
			case engine.OpMerge:
				// The merge reads the operations staged before it.
				if err := wb.WriteToTxn(txn); err != nil {
					return err
				}
				wb.Reset()
				if err := mergeInTxn(txn, metas[i], op.Key, op.Value); err != nil {
					return err
				}
			}
		}
		return wb.WriteToTxn(txn)
	}
	if hasMerge {
		return db.updateWithRetry(apply)
	}
	return errors.Trace(db.db.Update(apply))
}

func (db *DB) BeginTxn(wo *engine.WriteOptions, to *engine.TxnOptions) engine.Txn {
	if db.closed.Load() {
		return nil
	}
	return newTxn(db, db.db.NewTransaction(true))
}

func (db *DB) NewSnapshot() engine.Snapshot {
	if db.closed.Load() {
		return nil
	}
	return &snapshot{
		db:  db,
		txn: db.db.NewTransaction(false),
		seq: db.snapSeq.Inc(),
	}
}

func (db *DB) ReleaseSnapshot(s engine.Snapshot) {
	if snap, err := db.snapshotOf(s); err == nil {
		snap.release()
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
	meta, err := db.resolve(cf)
	if err != nil {
		return &errIterator{err: err}
	}
	if ro != nil && ro.Snapshot != nil {
		snap, err := db.snapshotOf(ro.Snapshot)
		if err != nil {
			return &errIterator{err: err}
		}
		return engine.WithBounds(newIterator(snap.txn, meta.id, false), ro)
	}
	return engine.WithBounds(newIterator(db.db.NewTransaction(false), meta.id, true), ro)
}

func (db *DB) Close() error {
	if db.closed.Swap(true) {
		return engine.ErrDBClosed
	}
	if n := db.handles.Load(); n > 0 {
		log.Warnf("closing %s with %d column family handles still open", db.path, n)
	}
	openDBs.Lock()
	delete(openDBs.m, absPath(db.path))
	openDBs.Unlock()
	if err := db.db.Close(); err != nil {
		return errors.Annotatef(err, "IO error: close %s", db.path)
	}
	log.Infof("badger engine closed %s", db.path)
	return nil
}
