package badgerengine

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, string, func()) {
	dir, err := ioutil.TempDir("", "badgerengine")
	require.Nil(t, err)
	conf := config.NewTestConfig().Badger
	return New(&conf), filepath.Join(dir, "db"), func() { os.RemoveAll(dir) }
}

func createOpts() *engine.Options {
	return &engine.Options{CreateIfMissing: true, CreateMissingColumnFamilies: true}
}

func TestRegistered(t *testing.T) {
	e, ok := engine.Get(Name)
	require.True(t, ok)
	require.Nil(t, engine.Init(e))
	require.Nil(t, engine.Init(e))
}

func TestOpenMissing(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	_, err := e.OpenDB(&engine.Options{}, nil, path)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "create_if_missing is false")

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	require.Nil(t, db.Close())

	_, err = e.OpenDB(&engine.Options{ErrorIfExists: true}, nil, path)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "error_if_exists")
}

func TestColumnFamiliesPersist(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, cfs, err := e.OpenDBColumnFamilies(createOpts(), nil, path, []string{"cf1", "default"}, nil)
	require.Nil(t, err)
	require.Len(t, cfs, 2)
	require.Equal(t, "cf1", cfs[0].Name())
	require.Equal(t, "default", cfs[1].Name())

	cf2, err := db.CreateColumnFamily(nil, "cf2")
	require.Nil(t, err)
	_, err = db.CreateColumnFamily(nil, "cf2")
	require.True(t, errors.Cause(err) == engine.ErrColumnFamilyExists)

	require.Nil(t, db.Put(nil, cfs[0], []byte("k"), []byte("in-cf1")))
	require.Nil(t, db.Put(nil, cf2, []byte("k"), []byte("in-cf2")))
	require.Nil(t, db.Put(nil, nil, []byte("k"), []byte("in-default")))

	names, err := e.ListColumnFamilies(nil, path)
	require.Nil(t, err)
	require.Equal(t, []string{"default", "cf1", "cf2"}, names)

	for _, cf := range append(cfs, cf2) {
		cf.Close()
	}
	require.Nil(t, db.Close())

	names, err = e.ListColumnFamilies(nil, path)
	require.Nil(t, err)
	require.Equal(t, []string{"default", "cf1", "cf2"}, names)

	// Every existing column family has to be opened.
	_, _, err = e.OpenDBColumnFamilies(&engine.Options{}, nil, path, []string{"default", "cf1"}, nil)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "Column families not opened: cf2")
	_, err = e.OpenDB(&engine.Options{}, nil, path)
	require.NotNil(t, err)

	db, cfs, err = e.OpenDBColumnFamilies(&engine.Options{}, nil, path, []string{"default", "cf1", "cf2"}, nil)
	require.Nil(t, err)
	defer db.Close()
	for i, want := range []string{"in-default", "in-cf1", "in-cf2"} {
		val, err := db.Get(nil, cfs[i], []byte("k"))
		require.Nil(t, err)
		require.Equal(t, want, string(val))
	}
	for _, cf := range cfs {
		cf.Close()
	}
}

func TestOpenRequiresCreateMissing(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	_, _, err := e.OpenDBColumnFamilies(&engine.Options{CreateIfMissing: true}, nil, path, []string{"default", "cf1"}, nil)
	require.NotNil(t, err)
	assert.Contains(t, err.Error(), "Column family not found: cf1")

	_, _, err = e.OpenDBColumnFamilies(createOpts(), nil, path, []string{"default", "default"}, nil)
	require.NotNil(t, err)
}

func TestDropColumnFamily(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	defer db.Close()

	cf, err := db.CreateColumnFamily(nil, "gone")
	require.Nil(t, err)
	require.Nil(t, db.Put(nil, cf, []byte("k"), []byte("v")))
	require.Nil(t, db.DropColumnFamily(cf))

	_, err = db.Get(nil, cf, []byte("k"))
	require.True(t, errors.Cause(err) == engine.ErrColumnFamilyDropped)
	cf.Close()

	// A recreated column family starts empty.
	cf, err = db.CreateColumnFamily(nil, "gone")
	require.Nil(t, err)
	val, err := db.Get(nil, cf, []byte("k"))
	require.Nil(t, err)
	require.Nil(t, val)
	cf.Close()
}

func TestMergeAndBatch(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	opts := createOpts()
	opts.MergeOperator = &engine.StringAppendOperator{Delimiter: []byte(",")}
	db, err := e.OpenDB(opts, nil, path)
	require.Nil(t, err)
	defer db.Close()

	require.Nil(t, db.Merge(nil, nil, []byte("list"), []byte("a")))
	require.Nil(t, db.Merge(nil, nil, []byte("list"), []byte("b")))
	val, err := db.Get(nil, nil, []byte("list"))
	require.Nil(t, err)
	require.Equal(t, "a,b", string(val))

	err = db.Write(nil, []engine.BatchOp{
		{Kind: engine.OpPut, Key: []byte("x"), Value: []byte("1")},
		{Kind: engine.OpMerge, Key: []byte("list"), Value: []byte("c")},
		{Kind: engine.OpDelete, Key: []byte("missing")},
		{Kind: engine.OpPut, Key: []byte("empty"), Value: []byte{}},
	})
	require.Nil(t, err)
	val, err = db.Get(nil, nil, []byte("list"))
	require.Nil(t, err)
	require.Equal(t, "a,b,c", string(val))
	val, err = db.Get(nil, nil, []byte("empty"))
	require.Nil(t, err)
	require.NotNil(t, val)
	require.Len(t, val, 0)

	// A merge sees the puts and deletes earlier in the same batch.
	err = db.Write(nil, []engine.BatchOp{
		{Kind: engine.OpPut, Key: []byte("seq"), Value: []byte("p")},
		{Kind: engine.OpMerge, Key: []byte("seq"), Value: []byte("m1")},
		{Kind: engine.OpDelete, Key: []byte("list")},
		{Kind: engine.OpMerge, Key: []byte("list"), Value: []byte("fresh")},
		{Kind: engine.OpMerge, Key: []byte("seq"), Value: []byte("m2")},
		{Kind: engine.OpPut, Key: []byte("tail"), Value: []byte("t")},
	})
	require.Nil(t, err)
	for k, want := range map[string]string{"seq": "p,m1,m2", "list": "fresh", "tail": "t"} {
		val, err = db.Get(nil, nil, []byte(k))
		require.Nil(t, err, k)
		require.Equal(t, want, string(val), k)
	}
	val, err = db.Get(nil, nil, []byte("missing"))
	require.Nil(t, err)
	require.Nil(t, val)
}

func TestSnapshotAndIterator(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	defer db.Close()

	for _, k := range []string{"a", "b", "c"} {
		require.Nil(t, db.Put(nil, nil, []byte(k), []byte(k)))
	}
	snap := db.NewSnapshot()
	require.Nil(t, db.Put(nil, nil, []byte("d"), []byte("d")))
	require.Nil(t, db.Delete(nil, nil, []byte("a")))

	ro := engine.NewDefaultReadOptions()
	ro.Snapshot = snap
	val, err := db.Get(ro, nil, []byte("a"))
	require.Nil(t, err)
	require.Equal(t, []byte("a"), val)

	it := db.NewIterator(ro, nil)
	var keys []string
	for it.SeekToFirst(); it.Valid(); it.Next() {
		keys = append(keys, string(it.Key()))
	}
	require.Nil(t, it.Err())
	it.Close()
	require.Equal(t, []string{"a", "b", "c"}, keys)
	db.ReleaseSnapshot(snap)

	ro = engine.NewDefaultReadOptions()
	ro.IterateLowerBound = []byte("b")
	ro.IterateUpperBound = []byte("d")
	it = db.NewIterator(ro, nil)
	keys = keys[:0]
	for it.SeekToLast(); it.Valid(); it.Prev() {
		keys = append(keys, string(it.Key()))
	}
	it.Close()
	require.Equal(t, []string{"c", "b"}, keys)
}

func TestTxn(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	defer db.Close()

	txn := db.BeginTxn(nil, nil)
	require.Nil(t, txn.Put(nil, []byte("k"), []byte("v")))
	val, err := txn.Get(nil, nil, []byte("k"))
	require.Nil(t, err)
	require.Equal(t, []byte("v"), val)
	val, err = db.Get(nil, nil, []byte("k"))
	require.Nil(t, err)
	require.Nil(t, val)
	require.Nil(t, txn.Commit())
	require.True(t, errors.Cause(txn.Commit()) == engine.ErrTxnDone)
	txn.Release()

	val, err = db.Get(nil, nil, []byte("k"))
	require.Nil(t, err)
	require.Equal(t, []byte("v"), val)

	txn = db.BeginTxn(nil, nil)
	require.Nil(t, txn.Delete(nil, []byte("k")))
	require.Nil(t, txn.Rollback())
	txn.Release()
	val, err = db.Get(nil, nil, []byte("k"))
	require.Nil(t, err)
	require.Equal(t, []byte("v"), val)
}

func TestTxnEndsWithOpenIterator(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	defer db.Close()

	finish := []func(engine.Txn) error{
		func(txn engine.Txn) error { return txn.Commit() },
		func(txn engine.Txn) error { return txn.Rollback() },
		func(txn engine.Txn) error { txn.Release(); return nil },
	}
	for _, fn := range finish {
		txn := db.BeginTxn(nil, nil)
		require.Nil(t, txn.Put(nil, []byte("a"), []byte("1")))
		it := txn.NewIterator(nil, nil)
		it.SeekToFirst()
		require.True(t, it.Valid())
		require.NotPanics(t, func() { require.Nil(t, fn(txn)) })
		// Closing again after the transaction closed it is a no-op.
		it.Close()
		txn.Release()
	}
}

func TestTxnConflict(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	defer db.Close()

	t1 := db.BeginTxn(nil, nil)
	defer t1.Release()
	_, err = t1.GetForUpdate(nil, nil, []byte("k"), true)
	require.Nil(t, err)

	t2 := db.BeginTxn(nil, nil)
	require.Nil(t, t2.Put(nil, []byte("k"), []byte("t2")))
	require.Nil(t, t2.Commit())
	t2.Release()

	require.Nil(t, t1.Put(nil, []byte("k"), []byte("t1")))
	err = t1.Commit()
	require.True(t, errors.Cause(err) == engine.ErrConflict)
	require.True(t, errors.Cause(t1.Commit()) == engine.ErrConflict)
	require.Nil(t, t1.Rollback())

	val, err := db.Get(nil, nil, []byte("k"))
	require.Nil(t, err)
	require.Equal(t, []byte("t2"), val)
}

func TestMaxNumLocks(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), &engine.TxnDBOptions{MaxNumLocks: 1}, path)
	require.Nil(t, err)
	defer db.Close()

	txn := db.BeginTxn(nil, nil)
	defer txn.Release()
	require.Nil(t, txn.Put(nil, []byte("a"), []byte("1")))
	require.Nil(t, txn.Put(nil, []byte("a"), []byte("2")))
	require.NotNil(t, txn.Put(nil, []byte("b"), []byte("1")))
}

func TestDestroyAndRepair(t *testing.T) {
	e, path, cleanup := newTestEngine(t)
	defer cleanup()

	db, err := e.OpenDB(createOpts(), nil, path)
	require.Nil(t, err)
	require.True(t, errors.Cause(e.DestroyDB(nil, path)) == engine.ErrDBLocked)
	require.True(t, errors.Cause(e.RepairDB(nil, path)) == engine.ErrDBLocked)
	require.Nil(t, db.Put(nil, nil, []byte("k"), []byte("v")))
	require.Nil(t, db.Close())

	require.Nil(t, e.RepairDB(nil, path))
	db, err = e.OpenDB(&engine.Options{}, nil, path)
	require.Nil(t, err)
	val, err := db.Get(nil, nil, []byte("k"))
	require.Nil(t, err)
	require.Equal(t, []byte("v"), val)
	require.Nil(t, db.Close())

	require.Nil(t, e.DestroyDB(nil, path))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
	_, err = e.ListColumnFamilies(nil, path)
	require.NotNil(t, err)
}
