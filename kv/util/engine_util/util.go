package engine_util

import (
	"bytes"
	"encoding/binary"

	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

// Badger has no column families, so every column family gets a numeric id and its keys
// are stored under 'd' + big endian id + user key. Column family metadata lives under 'm'.
const (
	DataPrefix byte = 'd'
	MetaPrefix byte = 'm'

	cfIDLen     = 4
	cfPrefixLen = 1 + cfIDLen

	// DefaultCFID is the id of the default column family. It never changes.
	DefaultCFID uint32 = 0
)

var (
	cfMetaPrefix = []byte("mcf:")
	nextCFIDKey  = []byte("mnext-cf-id")
)

// CFPrefix returns the prefix shared by all keys of the column family.
func CFPrefix(id uint32) []byte {
	prefix := make([]byte, cfPrefixLen)
	prefix[0] = DataPrefix
	binary.BigEndian.PutUint32(prefix[1:], id)
	return prefix
}

// cfUpperBound is the smallest key greater than every key of the column family.
func cfUpperBound(id uint32) []byte {
	if id == ^uint32(0) {
		return []byte{DataPrefix + 1}
	}
	return CFPrefix(id + 1)
}

func KeyWithCF(id uint32, key []byte) []byte {
	buf := make([]byte, cfPrefixLen+len(key))
	buf[0] = DataPrefix
	binary.BigEndian.PutUint32(buf[1:], id)
	copy(buf[cfPrefixLen:], key)
	return buf
}

// SplitCFKey decodes a data key into its column family id and user key.
func SplitCFKey(key []byte) (uint32, []byte, bool) {
	if len(key) < cfPrefixLen || key[0] != DataPrefix {
		return 0, nil, false
	}
	return binary.BigEndian.Uint32(key[1:cfPrefixLen]), key[cfPrefixLen:], true
}

func CFMetaKey(name string) []byte {
	return append(append([]byte{}, cfMetaPrefix...), name...)
}

func GetCF(db *badger.DB, id uint32, key []byte) (val []byte, err error) {
	err = db.View(func(txn *badger.Txn) error {
		val, err = GetCFFromTxn(txn, id, key)
		return err
	})
	return
}

// GetCFFromTxn returns badger.ErrKeyNotFound for a missing key, like badger itself.
func GetCFFromTxn(txn *badger.Txn, id uint32, key []byte) (val []byte, err error) {
	item, err := txn.Get(KeyWithCF(id, key))
	if err != nil {
		return nil, err
	}
	val, err = item.ValueCopy(val)
	return
}

func PutCF(engine *badger.DB, id uint32, key []byte, val []byte) error {
	return engine.Update(func(txn *badger.Txn) error {
		return txn.Set(KeyWithCF(id, key), val)
	})
}

func DeleteCF(engine *badger.DB, id uint32, key []byte) error {
	return engine.Update(func(txn *badger.Txn) error {
		return txn.Delete(KeyWithCF(id, key))
	})
}

// LoadColumnFamilies reads the column family catalog. The default column family is
// always present even on a fresh database.
func LoadColumnFamilies(db *badger.DB) (cfs map[string]uint32, nextID uint32, err error) {
	cfs = map[string]uint32{"default": DefaultCFID}
	nextID = DefaultCFID + 1
	err = db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(cfMetaPrefix); it.ValidForPrefix(cfMetaPrefix); it.Next() {
			item := it.Item()
			val, err := item.Value()
			if err != nil {
				return err
			}
			if len(val) != cfIDLen {
				return errors.Errorf("Corruption: bad column family id for %q", item.Key())
			}
			cfs[string(item.Key()[len(cfMetaPrefix):])] = binary.BigEndian.Uint32(val)
		}
		item, err := txn.Get(nextCFIDKey)
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.Value()
		if err != nil {
			return err
		}
		if len(val) != cfIDLen {
			return errors.New("Corruption: bad next column family id")
		}
		nextID = binary.BigEndian.Uint32(val)
		return nil
	})
	return cfs, nextID, errors.WithStack(err)
}

// SaveColumnFamily records name under id and advances the id allocator in txn.
func SaveColumnFamily(txn *badger.Txn, name string, id uint32) error {
	buf := make([]byte, cfIDLen)
	binary.BigEndian.PutUint32(buf, id)
	if err := txn.Set(CFMetaKey(name), buf); err != nil {
		return err
	}
	next := make([]byte, cfIDLen)
	binary.BigEndian.PutUint32(next, id+1)
	return txn.Set(nextCFIDKey, next)
}

func RemoveColumnFamily(txn *badger.Txn, name string) error {
	return txn.Delete(CFMetaKey(name))
}

// DeleteRange removes the keys of the column family in [startKey, endKey). An empty
// endKey means no upper limit.
func DeleteRange(db *badger.DB, id uint32, startKey, endKey []byte) error {
	batch := new(WriteBatch)
	txn := db.NewTransaction(false)
	defer txn.Discard()
	deleteRangeCF(txn, batch, id, startKey, endKey)
	return batch.WriteToDB(db)
}

func deleteRangeCF(txn *badger.Txn, batch *WriteBatch, id uint32, startKey, endKey []byte) {
	it := NewCFIterator(id, txn)
	defer it.Close()
	for it.Seek(startKey); it.Valid(); it.Next() {
		key := it.Item().KeyCopy(nil)
		if ExceedEndKey(key, endKey) {
			break
		}
		batch.DeleteCF(id, key)
	}
}

// DeleteOrphans removes data keys whose column family id is not in live.
func DeleteOrphans(db *badger.DB, live map[uint32]bool) (int, error) {
	batch := new(WriteBatch)
	txn := db.NewTransaction(false)
	defer txn.Discard()
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	for it.Seek([]byte{DataPrefix}); it.ValidForPrefix([]byte{DataPrefix}); it.Next() {
		id, _, ok := SplitCFKey(it.Item().Key())
		if !ok || !live[id] {
			batch.DeleteRaw(it.Item().KeyCopy(nil))
		}
	}
	it.Close()
	n := batch.Len()
	return n, batch.WriteToDB(db)
}

func ExceedEndKey(current, endKey []byte) bool {
	if len(endKey) == 0 {
		return false
	}
	return bytes.Compare(current, endKey) >= 0
}
