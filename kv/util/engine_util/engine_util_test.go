package engine_util

import (
	"bytes"
	"io/ioutil"
	"os"
	"testing"

	"github.com/Connor1996/badger"
	"github.com/stretchr/testify/require"
)

const (
	cfA uint32 = 1
	cfB uint32 = 2
)

func newTestDB(t *testing.T) (*badger.DB, func()) {
	dir, err := ioutil.TempDir("", "engine_util")
	require.Nil(t, err)
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	db, err := badger.Open(opts)
	require.Nil(t, err)
	return db, func() {
		db.Close()
		os.RemoveAll(dir)
	}
}

func TestEngineUtil(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	batch := new(WriteBatch)
	batch.SetCF(DefaultCFID, []byte("a"), []byte("a1"))
	batch.SetCF(DefaultCFID, []byte("b"), []byte("b1"))
	batch.SetCF(DefaultCFID, []byte("c"), []byte("c1"))
	batch.SetCF(DefaultCFID, []byte("d"), []byte("d1"))
	batch.SetCF(cfA, []byte("a"), []byte("a2"))
	batch.SetCF(cfA, []byte("b"), []byte("b2"))
	batch.SetCF(cfA, []byte("d"), []byte("d2"))
	batch.SetCF(cfB, []byte("a"), []byte("a3"))
	batch.SetCF(cfB, []byte("c"), []byte("c3"))
	batch.SetCF(DefaultCFID, []byte("e"), []byte("e1"))
	batch.DeleteCF(DefaultCFID, []byte("e"))
	err := batch.WriteToDB(db)
	require.Nil(t, err)

	_, err = GetCF(db, DefaultCFID, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	err = PutCF(db, DefaultCFID, []byte("e"), []byte("e2"))
	require.Nil(t, err)
	val, _ := GetCF(db, DefaultCFID, []byte("e"))
	require.Equal(t, val, []byte("e2"))
	err = DeleteCF(db, DefaultCFID, []byte("e"))
	require.Nil(t, err)
	_, err = GetCF(db, DefaultCFID, []byte("e"))
	require.Equal(t, err, badger.ErrKeyNotFound)

	txn := db.NewTransaction(false)
	defer txn.Discard()
	defaultIter := NewCFIterator(DefaultCFID, txn)
	defaultIter.Seek([]byte("a"))
	for _, want := range []string{"a", "b", "c", "d"} {
		require.True(t, defaultIter.Valid())
		item := defaultIter.Item()
		require.True(t, bytes.Equal(item.Key(), []byte(want)))
		val, _ = item.Value()
		require.True(t, bytes.Equal(val, []byte(want+"1")))
		defaultIter.Next()
	}
	require.False(t, defaultIter.Valid())
	defaultIter.Close()

	writeIter := NewCFIterator(cfA, txn)
	writeIter.Seek([]byte("b"))
	item := writeIter.Item()
	require.True(t, bytes.Equal(item.Key(), []byte("b")))
	val, _ = item.Value()
	require.True(t, bytes.Equal(val, []byte("b2")))
	writeIter.Next()
	item = writeIter.Item()
	require.True(t, bytes.Equal(item.Key(), []byte("d")))
	writeIter.Next()
	require.False(t, writeIter.Valid())
	writeIter.Close()

	lockIter := NewCFIterator(cfB, txn)
	var count int
	for lockIter.Rewind(); lockIter.Valid(); lockIter.Next() {
		count++
	}
	require.Equal(t, count, 2)
	lockIter.Close()
}

func TestCFIteratorBothDirections(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	batch := new(WriteBatch)
	for _, k := range []string{"a", "b", "c"} {
		batch.SetCF(cfA, []byte(k), []byte(k))
	}
	// Neighbours on both sides must stay invisible.
	batch.SetCF(DefaultCFID, []byte("z"), []byte("z"))
	batch.SetCF(cfB, nil, []byte("empty"))
	batch.SetCF(cfB, []byte("a"), []byte("a"))
	require.Nil(t, batch.WriteToDB(db))

	txn := db.NewTransaction(false)
	defer txn.Discard()
	it := NewCFIterator(cfA, txn)
	defer it.Close()

	var keys []string
	for it.SeekToLast(); it.Valid(); it.Prev() {
		keys = append(keys, string(it.Item().Key()))
	}
	require.Equal(t, []string{"c", "b", "a"}, keys)

	it.Seek([]byte("b"))
	require.Equal(t, []byte("b"), it.Item().Key())
	it.Prev()
	require.Equal(t, []byte("a"), it.Item().Key())
	it.Next()
	require.Equal(t, []byte("b"), it.Item().Key())
	it.Next()
	require.Equal(t, []byte("c"), it.Item().Key())

	it.SeekForPrev([]byte("bb"))
	require.True(t, it.Valid())
	require.Equal(t, []byte("b"), it.Item().Key())
	it.SeekForPrev([]byte("0"))
	require.False(t, it.Valid())
}

func TestWriteBatchToTxn(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()
	require.Nil(t, PutCF(db, DefaultCFID, []byte("k2"), []byte("old")))

	wb := new(WriteBatch)
	wb.SetCF(DefaultCFID, []byte("k1"), []byte("v1"))
	wb.DeleteCF(DefaultCFID, []byte("k2"))
	require.Equal(t, 2, wb.Len())

	txn := db.NewTransaction(true)
	require.Nil(t, wb.WriteToTxn(txn))
	// Staged writes are visible to the transaction before it commits.
	val, err := GetCFFromTxn(txn, DefaultCFID, []byte("k1"))
	require.Nil(t, err)
	require.Equal(t, []byte("v1"), val)
	_, err = GetCF(db, DefaultCFID, []byte("k1"))
	require.Equal(t, badger.ErrKeyNotFound, err)
	require.Nil(t, txn.Commit())

	val, err = GetCF(db, DefaultCFID, []byte("k1"))
	require.Nil(t, err)
	require.Equal(t, []byte("v1"), val)
	_, err = GetCF(db, DefaultCFID, []byte("k2"))
	require.Equal(t, badger.ErrKeyNotFound, err)

	wb.Reset()
	require.Equal(t, 0, wb.Len())
	require.Nil(t, wb.WriteToDB(db))
}

func TestColumnFamilyCatalog(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	cfs, next, err := LoadColumnFamilies(db)
	require.Nil(t, err)
	require.Equal(t, map[string]uint32{"default": DefaultCFID}, cfs)
	require.Equal(t, DefaultCFID+1, next)

	require.Nil(t, db.Update(func(txn *badger.Txn) error {
		return SaveColumnFamily(txn, "cf1", next)
	}))
	cfs, next, err = LoadColumnFamilies(db)
	require.Nil(t, err)
	require.Equal(t, uint32(1), cfs["cf1"])
	require.Equal(t, uint32(2), next)

	require.Nil(t, PutCF(db, 1, []byte("k"), []byte("v")))
	require.Nil(t, PutCF(db, 7, []byte("k"), []byte("v")))
	require.Nil(t, db.Update(func(txn *badger.Txn) error {
		return RemoveColumnFamily(txn, "cf1")
	}))
	n, err := DeleteOrphans(db, map[uint32]bool{DefaultCFID: true})
	require.Nil(t, err)
	require.Equal(t, 2, n)
	_, err = GetCF(db, 1, []byte("k"))
	require.Equal(t, badger.ErrKeyNotFound, err)

	cfs, next, err = LoadColumnFamilies(db)
	require.Nil(t, err)
	require.Len(t, cfs, 1)
	require.Equal(t, uint32(2), next)
}

func TestDeleteRange(t *testing.T) {
	db, cleanup := newTestDB(t)
	defer cleanup()

	for _, k := range []string{"a", "b", "c", "d"} {
		require.Nil(t, PutCF(db, cfA, []byte(k), []byte(k)))
	}
	require.Nil(t, DeleteRange(db, cfA, []byte("b"), []byte("d")))
	for k, exists := range map[string]bool{"a": true, "b": false, "c": false, "d": true} {
		_, err := GetCF(db, cfA, []byte(k))
		if exists {
			require.Nil(t, err, k)
		} else {
			require.Equal(t, badger.ErrKeyNotFound, err, k)
		}
	}
}

func TestSplitCFKey(t *testing.T) {
	id, key, ok := SplitCFKey(KeyWithCF(42, []byte("user")))
	require.True(t, ok)
	require.Equal(t, uint32(42), id)
	require.Equal(t, []byte("user"), key)

	_, _, ok = SplitCFKey(CFMetaKey("cf"))
	require.False(t, ok)
}
