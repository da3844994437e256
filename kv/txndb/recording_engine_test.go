package txndb

import (
	"fmt"
	"sync"

	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/engine/memengine"
)

// recordingEngine wraps the memory engine and records the handle lifecycle calls made
// through it. It can also be told to hand back nil handles.
type recordingEngine struct {
	inner engine.Engine

	mu    sync.Mutex
	calls []string

	nilCF string // name of the column family returned as nil on open
	nilDB bool
}

func newRecordingEngine() *recordingEngine {
	return &recordingEngine{inner: memengine.New()}
}

func (e *recordingEngine) record(format string, args ...interface{}) {
	e.mu.Lock()
	e.calls = append(e.calls, fmt.Sprintf(format, args...))
	e.mu.Unlock()
}

func (e *recordingEngine) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

func (e *recordingEngine) Name() string { return "recording" }

func (e *recordingEngine) Init() error { return nil }

func (e *recordingEngine) OpenDB(opts *engine.Options, txnOpts *engine.TxnDBOptions, path string) (engine.DB, error) {
	e.record("open db")
	db, err := e.inner.OpenDB(opts, txnOpts, path)
	if err != nil {
		return nil, err
	}
	if e.nilDB {
		db.Close()
		return nil, nil
	}
	return &recordingDB{DB: db, e: e}, nil
}

func (e *recordingEngine) OpenDBColumnFamilies(opts *engine.Options, txnOpts *engine.TxnDBOptions, path string, names []string, cfOpts []*engine.Options) (engine.DB, []engine.ColumnFamily, error) {
	e.record("open db %v", names)
	db, cfs, err := e.inner.OpenDBColumnFamilies(opts, txnOpts, path, names, cfOpts)
	if err != nil {
		return nil, nil, err
	}
	rdb := &recordingDB{DB: db, e: e}
	handles := make([]engine.ColumnFamily, len(cfs))
	for i, cf := range cfs {
		if cf.Name() == e.nilCF {
			cf.Close()
			continue
		}
		handles[i] = &recordingCF{ColumnFamily: cf, e: e}
	}
	if e.nilDB {
		db.Close()
		return nil, handles, nil
	}
	return rdb, handles, nil
}

func (e *recordingEngine) ListColumnFamilies(opts *engine.Options, path string) ([]string, error) {
	return e.inner.ListColumnFamilies(opts, path)
}

func (e *recordingEngine) DestroyDB(opts *engine.Options, path string) error {
	e.record("destroy")
	return e.inner.DestroyDB(opts, path)
}

func (e *recordingEngine) RepairDB(opts *engine.Options, path string) error {
	e.record("repair")
	return e.inner.RepairDB(opts, path)
}

type recordingCF struct {
	engine.ColumnFamily
	e *recordingEngine
}

func (cf *recordingCF) Close() {
	cf.e.record("close cf %s", cf.Name())
	cf.ColumnFamily.Close()
}

func unwrapCF(cf engine.ColumnFamily) engine.ColumnFamily {
	if r, ok := cf.(*recordingCF); ok {
		return r.ColumnFamily
	}
	return cf
}

// recordingDB forwards to the memory engine, unwrapping column family handles.
type recordingDB struct {
	engine.DB
	e *recordingEngine
}

func (db *recordingDB) CreateColumnFamily(opts *engine.Options, name string) (engine.ColumnFamily, error) {
	db.e.record("create cf %s", name)
	cf, err := db.DB.CreateColumnFamily(opts, name)
	if err != nil {
		return nil, err
	}
	return &recordingCF{ColumnFamily: cf, e: db.e}, nil
}

func (db *recordingDB) DropColumnFamily(cf engine.ColumnFamily) error {
	db.e.record("drop cf %s", cf.Name())
	return db.DB.DropColumnFamily(unwrapCF(cf))
}

func (db *recordingDB) Get(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte) ([]byte, error) {
	return db.DB.Get(ro, unwrapCF(cf), key)
}

func (db *recordingDB) Put(wo *engine.WriteOptions, cf engine.ColumnFamily, key, value []byte) error {
	return db.DB.Put(wo, unwrapCF(cf), key, value)
}

func (db *recordingDB) Merge(wo *engine.WriteOptions, cf engine.ColumnFamily, key, value []byte) error {
	return db.DB.Merge(wo, unwrapCF(cf), key, value)
}

func (db *recordingDB) Delete(wo *engine.WriteOptions, cf engine.ColumnFamily, key []byte) error {
	return db.DB.Delete(wo, unwrapCF(cf), key)
}

func (db *recordingDB) Write(wo *engine.WriteOptions, batch []engine.BatchOp) error {
	ops := make([]engine.BatchOp, len(batch))
	for i, op := range batch {
		op.CF = unwrapCF(op.CF)
		ops[i] = op
	}
	return db.DB.Write(wo, ops)
}

func (db *recordingDB) NewIterator(ro *engine.ReadOptions, cf engine.ColumnFamily) engine.Iterator {
	return &recordingIterator{Iterator: db.DB.NewIterator(ro, unwrapCF(cf)), e: db.e}
}

func (db *recordingDB) BeginTxn(wo *engine.WriteOptions, to *engine.TxnOptions) engine.Txn {
	return &recordingTxn{Txn: db.DB.BeginTxn(wo, to), e: db.e}
}

func (db *recordingDB) NewSnapshot() engine.Snapshot {
	db.e.record("new snapshot")
	return db.DB.NewSnapshot()
}

func (db *recordingDB) ReleaseSnapshot(s engine.Snapshot) {
	db.e.record("release snapshot")
	db.DB.ReleaseSnapshot(s)
}

func (db *recordingDB) Close() error {
	db.e.record("close db")
	return db.DB.Close()
}

type recordingIterator struct {
	engine.Iterator
	e *recordingEngine
}

func (it *recordingIterator) Close() {
	it.e.record("close iterator")
	it.Iterator.Close()
}

type recordingTxn struct {
	engine.Txn
	e *recordingEngine
}

func (t *recordingTxn) Get(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte) ([]byte, error) {
	return t.Txn.Get(ro, unwrapCF(cf), key)
}

func (t *recordingTxn) GetForUpdate(ro *engine.ReadOptions, cf engine.ColumnFamily, key []byte, exclusive bool) ([]byte, error) {
	return t.Txn.GetForUpdate(ro, unwrapCF(cf), key, exclusive)
}

func (t *recordingTxn) Put(cf engine.ColumnFamily, key, value []byte) error {
	return t.Txn.Put(unwrapCF(cf), key, value)
}

func (t *recordingTxn) Merge(cf engine.ColumnFamily, key, value []byte) error {
	return t.Txn.Merge(unwrapCF(cf), key, value)
}

func (t *recordingTxn) Delete(cf engine.ColumnFamily, key []byte) error {
	return t.Txn.Delete(unwrapCF(cf), key)
}

func (t *recordingTxn) NewIterator(ro *engine.ReadOptions, cf engine.ColumnFamily) engine.Iterator {
	return &recordingIterator{Iterator: t.Txn.NewIterator(ro, unwrapCF(cf)), e: t.e}
}

func (t *recordingTxn) Release() {
	t.e.record("release txn")
	t.Txn.Release()
}
