package txndb

import (
	"github.com/pingcap-incubator/txndb/kv/engine"
)

// WriteBatch collects mutations that TransactionDB.Write applies atomically. Keys and
// values are copied when added. A handle that cannot be resolved makes the batch fail at
// Write time with the first such error.
type WriteBatch struct {
	ops        []engine.BatchOp
	size       int
	safePoints []batchSafePoint
	err        error
}

type batchSafePoint struct {
	len, size int
}

func NewWriteBatch() *WriteBatch {
	return &WriteBatch{}
}

func (wb *WriteBatch) add(kind engine.OpKind, cf ColumnFamilyRef, key, value []byte) {
	h, err := engineCF(cf)
	if err != nil {
		if wb.err == nil {
			wb.err = err
		}
		return
	}
	op := engine.BatchOp{Kind: kind, CF: h, Key: append([]byte(nil), key...)}
	if kind != engine.OpDelete {
		op.Value = append([]byte(nil), value...)
	}
	wb.ops = append(wb.ops, op)
	wb.size += len(key) + len(value)
}

func (wb *WriteBatch) Put(key, value []byte) { wb.add(engine.OpPut, nil, key, value) }

func (wb *WriteBatch) PutCF(cf ColumnFamilyRef, key, value []byte) {
	wb.add(engine.OpPut, cf, key, value)
}

func (wb *WriteBatch) Merge(key, value []byte) { wb.add(engine.OpMerge, nil, key, value) }

func (wb *WriteBatch) MergeCF(cf ColumnFamilyRef, key, value []byte) {
	wb.add(engine.OpMerge, cf, key, value)
}

func (wb *WriteBatch) Delete(key []byte) { wb.add(engine.OpDelete, nil, key, nil) }

func (wb *WriteBatch) DeleteCF(cf ColumnFamilyRef, key []byte) {
	wb.add(engine.OpDelete, cf, key, nil)
}

// Len is the number of mutations in the batch.
func (wb *WriteBatch) Len() int { return len(wb.ops) }

// Size is the number of key and value bytes in the batch.
func (wb *WriteBatch) Size() int { return wb.size }

func (wb *WriteBatch) IsEmpty() bool { return len(wb.ops) == 0 }

// Clear empties the batch, dropping save points and any recorded error.
func (wb *WriteBatch) Clear() {
	wb.ops = wb.ops[:0]
	wb.size = 0
	wb.safePoints = wb.safePoints[:0]
	wb.err = nil
}

func (wb *WriteBatch) SetSavePoint() {
	wb.safePoints = append(wb.safePoints, batchSafePoint{len: len(wb.ops), size: wb.size})
}

// RollbackToSavePoint removes every mutation added since the latest save point.
func (wb *WriteBatch) RollbackToSavePoint() error {
	if len(wb.safePoints) == 0 {
		return newError(ErrKindInvalidArgument, "Not found: no save point set")
	}
	sp := wb.safePoints[len(wb.safePoints)-1]
	wb.safePoints = wb.safePoints[:len(wb.safePoints)-1]
	for i := sp.len; i < len(wb.ops); i++ {
		wb.ops[i] = engine.BatchOp{}
	}
	wb.ops = wb.ops[:sp.len]
	wb.size = sp.size
	return nil
}
