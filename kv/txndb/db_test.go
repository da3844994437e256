package txndb

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/engine/badgerengine"
	"github.com/pingcap-incubator/txndb/kv/engine/memengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tempDir(t *testing.T) string {
	dir, err := ioutil.TempDir("", "txndb")
	require.Nil(t, err)
	return dir
}

func memOptions(mode ThreadMode) *Options {
	opts := NewDefaultOptions()
	opts.EngineName = memengine.Name
	opts.CreateIfMissing = true
	opts.CreateMissingColumnFamilies = true
	opts.ThreadMode = mode
	return opts
}

func openMem(t *testing.T, mode ThreadMode, cfs ...string) (*TransactionDB, func()) {
	return openWith(t, memOptions(mode), cfs...)
}

// openWith opens a database in a fresh directory. The returned func closes and destroys it.
func openWith(t *testing.T, opts *Options, cfs ...string) (*TransactionDB, func()) {
	dir := tempDir(t)
	db, err := OpenCF(opts, nil, dir, cfs...)
	require.Nil(t, err)
	return db, func() {
		db.Close()
		Destroy(opts, dir)
		os.RemoveAll(dir)
	}
}

func badgerOptions() *Options {
	opts := NewDefaultOptions()
	opts.Engine = badgerengine.New(&config.NewTestConfig().Badger)
	opts.CreateIfMissing = true
	opts.CreateMissingColumnFamilies = true
	return opts
}

func badgerModeOptions(mode ThreadMode) *Options {
	opts := badgerOptions()
	opts.ThreadMode = mode
	return opts
}

// eachEngine runs fn once against every storage engine.
func eachEngine(t *testing.T, fn func(t *testing.T, options func(ThreadMode) *Options)) {
	t.Run(memengine.Name, func(t *testing.T) { fn(t, memOptions) })
	t.Run(badgerengine.Name, func(t *testing.T) { fn(t, badgerModeOptions) })
}

func requireKind(t *testing.T, kind ErrorKind, err error) {
	require.NotNil(t, err)
	require.Equal(t, kind, KindOf(err), "unexpected error %v", err)
}

func TestCloseReleasesColumnFamiliesFirst(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	rec := newRecordingEngine()
	opts := memOptions(MultiThreaded)
	opts.Engine = rec

	db, err := OpenCF(opts, nil, dir, "a", "b")
	require.Nil(t, err)
	cf := db.BoundCFHandle("a")
	require.NotNil(t, cf)
	it := db.Iterator(ModeStart)
	txn, err := db.Transaction()
	require.Nil(t, err)
	require.Nil(t, db.Close())
	cf.Release()

	calls := rec.Calls()
	require.Equal(t, "open db [a b default]", calls[0])
	require.Equal(t, "close db", calls[len(calls)-1])
	var cfCloses []string
	for _, c := range calls[1 : len(calls)-1] {
		if strings.HasPrefix(c, "close cf") {
			cfCloses = append(cfCloses, c)
		}
	}
	require.ElementsMatch(t, []string{"close cf a", "close cf b", "close cf default"}, cfCloses)
	require.Contains(t, calls, "close iterator")
	require.Contains(t, calls, "release txn")

	// Closing again does nothing.
	require.Nil(t, db.Close())
	require.Len(t, rec.Calls(), len(calls))
	require.False(t, it.Next())
	requireKind(t, ErrKindDatabaseClosed, it.Err())
	requireKind(t, ErrKindDatabaseClosed, txn.Commit())
	require.Equal(t, TxnAbandoned, txn.State())
	txn.Discard()
}

func TestOpenAddsDefaultColumnFamily(t *testing.T) {
	for _, mode := range []ThreadMode{SingleThreaded, MultiThreaded} {
		db, cleanup := openMem(t, mode, "x")
		require.Equal(t, []string{"default", "x"}, db.ColumnFamilyNames())
		cf := db.CFHandle("default")
		require.NotNil(t, cf)
		require.Equal(t, "default", cf.Name())
		require.Nil(t, db.PutCF(cf, []byte("k"), []byte("v")))
		v, err := db.Get([]byte("k"))
		require.Nil(t, err)
		require.Equal(t, "v", string(v))
		cf.Release()
		cleanup()
	}
}

func TestOpenWithoutColumnFamilies(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	db, err := Open(memOptions(SingleThreaded), nil, dir)
	require.Nil(t, err)
	require.Nil(t, db.CFHandle("default"))
	require.Nil(t, db.Put([]byte("a"), []byte("1")))
	require.Nil(t, db.Close())

	names, err := ListCF(memOptions(SingleThreaded), dir)
	require.Nil(t, err)
	require.Equal(t, []string{"default"}, names)
	require.Nil(t, Repair(memOptions(SingleThreaded), dir))
	require.Nil(t, Destroy(memOptions(SingleThreaded), dir))
	_, err = ListCF(memOptions(SingleThreaded), dir)
	requireKind(t, ErrKindIOError, err)
}

func TestOpenNullHandles(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	rec := newRecordingEngine()
	rec.nilCF = "b"
	opts := memOptions(SingleThreaded)
	opts.Engine = rec
	db, err := OpenCF(opts, nil, dir, "a", "b")
	require.Nil(t, db)
	requireKind(t, ErrKindInvalidHandle, err)
	require.Equal(t, "received null column family handle from DB", err.Error())
	calls := rec.Calls()
	require.Equal(t, []string{"open db [a b default]", "close cf a", "close cf default", "close db"}, calls)

	dir = tempDir(t)
	defer os.RemoveAll(dir)
	rec = newRecordingEngine()
	rec.nilDB = true
	opts.Engine = rec
	db, err = Open(opts, nil, dir)
	require.Nil(t, db)
	requireKind(t, ErrKindInvalidHandle, err)
	require.Equal(t, "could not initialize database", err.Error())

	db, err = OpenCF(opts, nil, dir, "a")
	require.Nil(t, db)
	requireKind(t, ErrKindInvalidHandle, err)
	require.Contains(t, rec.Calls(), "close cf a")
}

func TestOpenUncreatablePath(t *testing.T) {
	f, err := ioutil.TempFile("", "txndb-file")
	require.Nil(t, err)
	f.Close()
	defer os.Remove(f.Name())

	db, err := Open(memOptions(SingleThreaded), nil, filepath.Join(f.Name(), "db"))
	require.Nil(t, db)
	requireKind(t, ErrKindIOError, err)
	require.True(t, strings.HasPrefix(err.Error(), "failed to create directory"))
}

func TestOpenInvalidArguments(t *testing.T) {
	_, err := Open(memOptions(SingleThreaded), nil, "")
	requireKind(t, ErrKindInvalidArgument, err)
	_, err = Open(memOptions(SingleThreaded), nil, "a\x00b")
	requireKind(t, ErrKindInvalidArgument, err)
	_, err = OpenCF(memOptions(SingleThreaded), nil, tempDir(t), "bad\x00name")
	requireKind(t, ErrKindInvalidArgument, err)

	opts := memOptions(SingleThreaded)
	opts.EngineName = "nope"
	_, err = Open(opts, nil, tempDir(t))
	requireKind(t, ErrKindInvalidArgument, err)
}

func TestOpenTwice(t *testing.T) {
	db, cleanup := openMem(t, SingleThreaded)
	defer cleanup()
	_, err := Open(memOptions(SingleThreaded), nil, db.Path())
	requireKind(t, ErrKindIOError, err)
}

func TestCreateCFAndHandle(t *testing.T) {
	for _, mode := range []ThreadMode{SingleThreaded, MultiThreaded} {
		db, cleanup := openMem(t, mode)
		require.Equal(t, mode, db.ThreadMode())
		require.Nil(t, db.CreateCF("x", &Options{}))
		requireKind(t, ErrKindInvalidArgument, db.CreateCF("x", &Options{}))
		requireKind(t, ErrKindInvalidArgument, db.CreateCF("", &Options{}))
		require.Nil(t, db.CFHandle("nope"))

		x := db.CFHandle("x")
		require.NotNil(t, x)
		require.Nil(t, db.Put([]byte("a"), []byte("1")))
		require.Nil(t, db.PutCF(x, []byte("a"), []byte("2")))
		v, err := db.GetCF(x, []byte("a"))
		require.Nil(t, err)
		require.Equal(t, "2", string(v))
		v, err = db.Get([]byte("a"))
		require.Nil(t, err)
		require.Equal(t, "1", string(v))
		x.Release()

		if mode == SingleThreaded {
			require.NotNil(t, db.ExclusiveCFHandle("x"))
			require.Nil(t, db.BoundCFHandle("x"))
		} else {
			bound := db.BoundCFHandle("x")
			require.NotNil(t, bound)
			bound.Release()
			require.Nil(t, db.ExclusiveCFHandle("x"))
		}
		cleanup()
	}
}

func TestRoundTrip(t *testing.T) {
	db, cleanup := openMem(t, SingleThreaded)
	defer cleanup()

	v, err := db.Get([]byte("missing"))
	require.Nil(t, err)
	require.Nil(t, v)

	require.Nil(t, db.PutOpt([]byte("k"), []byte("v"), NewDefaultWriteOptions()))
	v, err = db.GetOpt([]byte("k"), NewDefaultReadOptions())
	require.Nil(t, err)
	require.Equal(t, []byte("v"), v)

	require.Nil(t, db.Delete([]byte("k")))
	v, err = db.Get([]byte("k"))
	require.Nil(t, err)
	require.Nil(t, v)

	require.Nil(t, db.Put([]byte("empty"), []byte{}))
	v, err = db.Get([]byte("empty"))
	require.Nil(t, err)
	require.NotNil(t, v)
	require.Len(t, v, 0)
}

func TestMerge(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	opts := memOptions(SingleThreaded)
	opts.MergeOperator = &engine.StringAppendOperator{Delimiter: []byte(",")}
	db, err := OpenCFDescriptors(opts, nil, dir, []ColumnFamilyDescriptor{
		NewColumnFamilyDescriptor("counters", &Options{Options: engine.Options{MergeOperator: &engine.UInt64AddOperator{}}}),
	})
	require.Nil(t, err)
	defer db.Close()

	require.Nil(t, db.Merge([]byte("k"), []byte("a")))
	require.Nil(t, db.MergeOpt([]byte("k"), []byte("b"), nil))
	v, err := db.Get([]byte("k"))
	require.Nil(t, err)
	require.Equal(t, "a,b", string(v))

	counters := db.CFHandle("counters")
	for i := 0; i < 3; i++ {
		require.Nil(t, db.MergeCF(counters, []byte("n"), engine.EncodeUint64(2)))
	}
	v, err = db.GetCF(counters, []byte("n"))
	require.Nil(t, err)
	require.Equal(t, uint64(6), engine.DecodeUint64(v))

	// A column family created without an operator inherits the database's.
	require.Nil(t, db.CreateCF("logs", nil))
	logs := db.CFHandle("logs")
	require.Nil(t, db.MergeCF(logs, []byte("l"), []byte("x")))
	require.Nil(t, db.MergeCF(logs, []byte("l"), []byte("y")))
	v, err = db.GetCF(logs, []byte("l"))
	require.Nil(t, err)
	require.Equal(t, "x,y", string(v))
}

func TestMergeWithoutOperator(t *testing.T) {
	db, cleanup := openMem(t, SingleThreaded)
	defer cleanup()
	requireKind(t, ErrKindNotSupported, db.Merge([]byte("k"), []byte("v")))
}

func TestWriteBatch(t *testing.T) {
	db, cleanup := openMem(t, MultiThreaded, "x")
	defer cleanup()
	x := db.CFHandle("x")
	defer x.Release()
	require.Nil(t, db.Put([]byte("gone"), []byte("1")))

	wb := NewWriteBatch()
	requireKind(t, ErrKindInvalidArgument, wb.RollbackToSavePoint())
	wb.Put([]byte("a"), []byte("1"))
	wb.PutCF(x, []byte("a"), []byte("2"))
	wb.Delete([]byte("gone"))
	wb.SetSavePoint()
	wb.Put([]byte("c"), []byte("3"))
	wb.DeleteCF(x, []byte("a"))
	require.Equal(t, 5, wb.Len())
	require.Nil(t, wb.RollbackToSavePoint())
	require.Equal(t, 3, wb.Len())
	require.Nil(t, db.Write(wb))

	v, _ := db.Get([]byte("a"))
	require.Equal(t, "1", string(v))
	v, _ = db.GetCF(x, []byte("a"))
	require.Equal(t, "2", string(v))
	v, _ = db.Get([]byte("gone"))
	require.Nil(t, v)
	v, _ = db.Get([]byte("c"))
	require.Nil(t, v)

	wb.Clear()
	require.True(t, wb.IsEmpty())
	require.Nil(t, db.WriteOpt(wb, NewDefaultWriteOptions()))

	// A failing merge leaves the whole batch unapplied.
	wb.Put([]byte("b"), []byte("1"))
	wb.Merge([]byte("b"), []byte("2"))
	requireKind(t, ErrKindNotSupported, db.Write(wb))
	v, _ = db.Get([]byte("b"))
	require.Nil(t, v)

	released := db.BoundCFHandle("x")
	released.Release()
	wb.Clear()
	wb.PutCF(released, []byte("k"), []byte("v"))
	requireKind(t, ErrKindColumnFamilyReleased, db.Write(wb))
}

func TestDropCF(t *testing.T) {
	db, cleanup := openMem(t, SingleThreaded, "x")
	defer cleanup()
	x := db.CFHandle("x")
	require.Nil(t, db.PutCF(x, []byte("k"), []byte("v")))
	requireKind(t, ErrKindInvalidArgument, db.DropCF("default"))
	requireKind(t, ErrKindInvalidArgument, db.DropCF("missing"))
	require.Nil(t, db.DropCF("x"))
	require.Nil(t, db.CFHandle("x"))
	_, err := db.GetCF(x, []byte("k"))
	requireKind(t, ErrKindColumnFamilyReleased, err)
	require.Equal(t, []string{"default"}, db.ColumnFamilyNames())

	require.Nil(t, db.CreateCF("x", nil))
	v, err := db.GetCF(db.CFHandle("x"), []byte("k"))
	require.Nil(t, err)
	require.Nil(t, v)
}

func TestDropCFWithOutstandingClone(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	rec := newRecordingEngine()
	opts := memOptions(MultiThreaded)
	opts.Engine = rec
	db, err := OpenCF(opts, nil, dir, "x")
	require.Nil(t, err)
	defer db.Close()

	clone := db.CFHandle("x")
	require.Nil(t, db.DropCF("x"))
	require.Nil(t, db.CFHandle("x"))
	require.NotContains(t, rec.Calls(), "close cf x")
	_, err = db.GetCF(clone, []byte("k"))
	requireKind(t, ErrKindInvalidArgument, err)
	clone.Release()
	clone.Release()
	require.Contains(t, rec.Calls(), "close cf x")
}

func TestConcurrentCreateCF(t *testing.T) {
	db, cleanup := openMem(t, MultiThreaded, "default")
	defer cleanup()
	require.Nil(t, db.CreateCF("base", nil))
	base := db.BoundCFHandle("base")
	defer base.Release()

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("cf-%d", i)
			if err := db.CreateCF(name, nil); err != nil {
				errs <- err
				return
			}
			cf := db.CFHandle(name)
			defer cf.Release()
			errs <- db.PutCF(cf, []byte("k"), []byte(name))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.Nil(t, err)
	}

	for i := 0; i < n; i++ {
		name := fmt.Sprintf("cf-%d", i)
		cf := db.CFHandle(name)
		require.NotNil(t, cf, name)
		v, err := db.GetCF(cf, []byte("k"))
		require.Nil(t, err)
		require.Equal(t, name, string(v))
		cf.Release()
	}
	// The clone taken before the concurrent creates still works.
	require.Nil(t, db.PutCF(base, []byte("k"), []byte("v")))
	require.Len(t, db.ColumnFamilyNames(), n+2)
}

func TestCloneOutlivesClose(t *testing.T) {
	db, cleanup := openMem(t, MultiThreaded, "x")
	defer cleanup()
	x := db.BoundCFHandle("x")
	require.Nil(t, db.Close())

	requireKind(t, ErrKindDatabaseClosed, db.PutCF(x, []byte("k"), []byte("v")))
	_, err := x.handle()
	requireKind(t, ErrKindColumnFamilyReleased, err)
	x.Release()
	require.Nil(t, db.CFHandle("x"))
	requireKind(t, ErrKindDatabaseClosed, db.CreateCF("y", nil))
	_, err = db.Transaction()
	requireKind(t, ErrKindDatabaseClosed, err)
	_, err = db.Snapshot()
	requireKind(t, ErrKindDatabaseClosed, err)
}

func TestExampleScenario(t *testing.T) {
	dir := tempDir(t)
	defer os.RemoveAll(dir)
	opts := badgerOptions()

	db, err := Open(opts, nil, dir)
	require.Nil(t, err)
	require.Nil(t, db.Put([]byte("a"), []byte("1")))
	v, err := db.Get([]byte("a"))
	require.Nil(t, err)
	require.Equal(t, "1", string(v))

	require.Nil(t, db.CreateCF("x", &Options{}))
	x := db.CFHandle("x")
	require.Nil(t, db.PutCF(x, []byte("a"), []byte("2")))
	v, err = db.GetCF(x, []byte("a"))
	require.Nil(t, err)
	require.Equal(t, "2", string(v))
	v, err = db.Get([]byte("a"))
	require.Nil(t, err)
	require.Equal(t, "1", string(v))
	require.Nil(t, db.Close())

	names, err := ListCF(opts, dir)
	require.Nil(t, err)
	require.Equal(t, []string{"default", "x"}, names)

	// Reopening needs every column family.
	_, err = Open(opts, nil, dir)
	require.NotNil(t, err)

	db, err = OpenCF(opts, nil, dir, "x")
	require.Nil(t, err)
	v, err = db.GetCF(db.CFHandle("x"), []byte("a"))
	require.Nil(t, err)
	require.Equal(t, "2", string(v))
	require.Nil(t, db.Close())

	require.Nil(t, Destroy(opts, dir))
	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err))
}
