package txndb

import (
	"github.com/pingcap-incubator/txndb/kv/engine"
)

// engineCF resolves a handle for an engine call. nil selects the default column family.
func engineCF(cf ColumnFamilyRef) (engine.ColumnFamily, error) {
	if cf == nil {
		return nil, nil
	}
	return cf.handle()
}

func readOptionsOrDefault(ro *ReadOptions) *ReadOptions {
	if ro == nil {
		return NewDefaultReadOptions()
	}
	return ro
}

func writeOptionsOrDefault(wo *WriteOptions) *WriteOptions {
	if wo == nil {
		return NewDefaultWriteOptions()
	}
	return wo
}

// Get returns the value of key in the default column family, or nil if there is none.
func (db *TransactionDB) Get(key []byte) ([]byte, error) {
	return db.GetCFOpt(nil, key, nil)
}

func (db *TransactionDB) GetCF(cf ColumnFamilyRef, key []byte) ([]byte, error) {
	return db.GetCFOpt(cf, key, nil)
}

func (db *TransactionDB) GetOpt(key []byte, ro *ReadOptions) ([]byte, error) {
	return db.GetCFOpt(nil, key, ro)
}

func (db *TransactionDB) GetCFOpt(cf ColumnFamilyRef, key []byte, ro *ReadOptions) ([]byte, error) {
	value, err := db.get(cf, key, ro)
	return value, observe("get", err)
}

func (db *TransactionDB) get(cf ColumnFamilyRef, key []byte, ro *ReadOptions) ([]byte, error) {
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.leave()
	h, err := engineCF(cf)
	if err != nil {
		return nil, err
	}
	value, err := db.inner.Get(readOptionsOrDefault(ro), h, key)
	if err != nil {
		return nil, fromEngine(err)
	}
	return value, nil
}

func (db *TransactionDB) Put(key, value []byte) error {
	return db.PutCFOpt(nil, key, value, nil)
}

func (db *TransactionDB) PutCF(cf ColumnFamilyRef, key, value []byte) error {
	return db.PutCFOpt(cf, key, value, nil)
}

func (db *TransactionDB) PutOpt(key, value []byte, wo *WriteOptions) error {
	return db.PutCFOpt(nil, key, value, wo)
}

func (db *TransactionDB) PutCFOpt(cf ColumnFamilyRef, key, value []byte, wo *WriteOptions) error {
	return observe("put", db.write(cf, wo, func(h engine.ColumnFamily, wo *WriteOptions) error {
		return db.inner.Put(wo, h, key, value)
	}))
}

// Merge applies value to key through the merge operator of the target column family.
func (db *TransactionDB) Merge(key, value []byte) error {
	return db.MergeCFOpt(nil, key, value, nil)
}

func (db *TransactionDB) MergeCF(cf ColumnFamilyRef, key, value []byte) error {
	return db.MergeCFOpt(cf, key, value, nil)
}

func (db *TransactionDB) MergeOpt(key, value []byte, wo *WriteOptions) error {
	return db.MergeCFOpt(nil, key, value, wo)
}

func (db *TransactionDB) MergeCFOpt(cf ColumnFamilyRef, key, value []byte, wo *WriteOptions) error {
	return observe("merge", db.write(cf, wo, func(h engine.ColumnFamily, wo *WriteOptions) error {
		return db.inner.Merge(wo, h, key, value)
	}))
}

func (db *TransactionDB) Delete(key []byte) error {
	return db.DeleteCFOpt(nil, key, nil)
}

func (db *TransactionDB) DeleteCF(cf ColumnFamilyRef, key []byte) error {
	return db.DeleteCFOpt(cf, key, nil)
}

func (db *TransactionDB) DeleteOpt(key []byte, wo *WriteOptions) error {
	return db.DeleteCFOpt(nil, key, wo)
}

func (db *TransactionDB) DeleteCFOpt(cf ColumnFamilyRef, key []byte, wo *WriteOptions) error {
	return observe("delete", db.write(cf, wo, func(h engine.ColumnFamily, wo *WriteOptions) error {
		return db.inner.Delete(wo, h, key)
	}))
}

func (db *TransactionDB) write(cf ColumnFamilyRef, wo *WriteOptions, fn func(engine.ColumnFamily, *WriteOptions) error) error {
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	h, err := engineCF(cf)
	if err != nil {
		return err
	}
	return fromEngine(fn(h, writeOptionsOrDefault(wo)))
}

// Write applies batch atomically, outside of any transaction.
func (db *TransactionDB) Write(batch *WriteBatch) error {
	return db.WriteOpt(batch, nil)
}

func (db *TransactionDB) WriteOpt(batch *WriteBatch, wo *WriteOptions) error {
	return observe("write", db.writeBatch(batch, wo))
}

func (db *TransactionDB) writeBatch(batch *WriteBatch, wo *WriteOptions) error {
	if batch.err != nil {
		return batch.err
	}
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	if len(batch.ops) == 0 {
		return nil
	}
	return fromEngine(db.inner.Write(writeOptionsOrDefault(wo), batch.ops))
}

// Snapshot captures the current state of the database. Release it when done.
func (db *TransactionDB) Snapshot() (*Snapshot, error) {
	if err := db.enter(); err != nil {
		return nil, err
	}
	defer db.leave()
	inner := db.inner.NewSnapshot()
	if inner == nil {
		return nil, newError(ErrKindInvalidHandle, "could not create snapshot")
	}
	snap := &Snapshot{db: db, inner: inner, seq: inner.Sequence(), iters: newLiveSet()}
	db.live.add(snap)
	return snap, nil
}
