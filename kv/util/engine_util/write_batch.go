package engine_util

import (
	"github.com/Connor1996/badger"
	"github.com/pingcap/errors"
)

type batchEntry struct {
	key    []byte
	value  []byte
	delete bool
}

// WriteBatch collects badger mutations that are applied in a single transaction.
type WriteBatch struct {
	entries []batchEntry
}

func (wb *WriteBatch) Len() int {
	return len(wb.entries)
}

func (wb *WriteBatch) SetCF(id uint32, key, val []byte) {
	wb.entries = append(wb.entries, batchEntry{
		key:   KeyWithCF(id, key),
		value: val,
	})
}

func (wb *WriteBatch) DeleteCF(id uint32, key []byte) {
	wb.entries = append(wb.entries, batchEntry{
		key:    KeyWithCF(id, key),
		delete: true,
	})
}

// DeleteRaw deletes an already encoded key.
func (wb *WriteBatch) DeleteRaw(key []byte) {
	wb.entries = append(wb.entries, batchEntry{key: key, delete: true})
}

// WriteToTxn stages the batch in txn without committing it.
func (wb *WriteBatch) WriteToTxn(txn *badger.Txn) error {
	for _, entry := range wb.entries {
		var err error
		if entry.delete {
			err = txn.Delete(entry.key)
		} else {
			err = txn.Set(entry.key, entry.value)
		}
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (wb *WriteBatch) WriteToDB(db *badger.DB) error {
	if len(wb.entries) > 0 {
		err := db.Update(wb.WriteToTxn)
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func (wb *WriteBatch) Reset() {
	wb.entries = wb.entries[:0]
}
