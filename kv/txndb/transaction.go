package txndb

import (
	"fmt"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/engine"
)

type TxnState int

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnRolledBack
	// TxnAbandoned is a transaction discarded while still active. It was rolled back.
	TxnAbandoned
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnRolledBack:
		return "rolled back"
	case TxnAbandoned:
		return "abandoned"
	}
	return fmt.Sprintf("TxnState(%d)", int(s))
}

// Transaction reads its own writes and is checked for conflicts on Commit. It must not
// be used after its TransactionDB is closed. Call Discard when done with it, usually with
// defer right after it is created:
//
//	txn, err := db.Transaction()
//	if err != nil {
//		return err
//	}
//	defer txn.Discard()
type Transaction struct {
	db    *TransactionDB
	iters *liveSet

	mu       sync.Mutex
	inner    engine.Txn
	state    TxnState
	released bool
}

// Transaction begins a transaction with default options.
func (db *TransactionDB) Transaction() (*Transaction, error) {
	return db.TransactionOpt(nil, nil)
}

func (db *TransactionDB) TransactionOpt(wo *WriteOptions, to *TransactionOptions) (*Transaction, error) {
	if err := db.enter(); err != nil {
		return nil, observe("begin", err)
	}
	defer db.leave()
	if to == nil {
		to = NewDefaultTransactionOptions()
	}
	inner := db.inner.BeginTxn(writeOptionsOrDefault(wo), to)
	if inner == nil {
		return nil, observe("begin", newError(ErrKindInvalidHandle, "could not begin transaction"))
	}
	txn := &Transaction{db: db, inner: inner, iters: newLiveSet()}
	db.live.add(txn)
	return txn, observe("begin", nil)
}

// enter locks the transaction for one verb. The database is entered first, so a closed
// database is reported before the transaction's own state.
func (txn *Transaction) enter() error {
	if err := txn.db.enter(); err != nil {
		return err
	}
	txn.mu.Lock()
	if txn.state != TxnActive {
		state := txn.state
		txn.mu.Unlock()
		txn.db.leave()
		return newError(ErrKindTransactionClosed, "transaction is "+state.String())
	}
	return nil
}

func (txn *Transaction) leave() {
	txn.mu.Unlock()
	txn.db.leave()
}

// State returns where the transaction is in its lifecycle.
func (txn *Transaction) State() TxnState {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	return txn.state
}

func (txn *Transaction) Get(key []byte) ([]byte, error) {
	return txn.GetCFOpt(nil, key, nil)
}

func (txn *Transaction) GetCF(cf ColumnFamilyRef, key []byte) ([]byte, error) {
	return txn.GetCFOpt(cf, key, nil)
}

func (txn *Transaction) GetOpt(key []byte, ro *ReadOptions) ([]byte, error) {
	return txn.GetCFOpt(nil, key, ro)
}

// GetCFOpt reads key, seeing the transaction's own pending writes.
func (txn *Transaction) GetCFOpt(cf ColumnFamilyRef, key []byte, ro *ReadOptions) ([]byte, error) {
	var value []byte
	err := txn.do(cf, func(h engine.ColumnFamily) (err error) {
		value, err = txn.inner.Get(readOptionsOrDefault(ro), h, key)
		return
	})
	return value, observe("txn_get", err)
}

// GetForUpdate reads key and makes a later commit fail if key was written by someone
// else in the meantime.
func (txn *Transaction) GetForUpdate(key []byte, exclusive bool) ([]byte, error) {
	return txn.GetForUpdateCF(nil, key, exclusive)
}

func (txn *Transaction) GetForUpdateCF(cf ColumnFamilyRef, key []byte, exclusive bool) ([]byte, error) {
	var value []byte
	err := txn.do(cf, func(h engine.ColumnFamily) (err error) {
		value, err = txn.inner.GetForUpdate(NewDefaultReadOptions(), h, key, exclusive)
		return
	})
	return value, observe("txn_get_for_update", err)
}

func (txn *Transaction) Put(key, value []byte) error {
	return txn.PutCF(nil, key, value)
}

func (txn *Transaction) PutCF(cf ColumnFamilyRef, key, value []byte) error {
	return observe("txn_put", txn.do(cf, func(h engine.ColumnFamily) error {
		return txn.inner.Put(h, key, value)
	}))
}

func (txn *Transaction) Merge(key, value []byte) error {
	return txn.MergeCF(nil, key, value)
}

func (txn *Transaction) MergeCF(cf ColumnFamilyRef, key, value []byte) error {
	return observe("txn_merge", txn.do(cf, func(h engine.ColumnFamily) error {
		return txn.inner.Merge(h, key, value)
	}))
}

func (txn *Transaction) Delete(key []byte) error {
	return txn.DeleteCF(nil, key)
}

func (txn *Transaction) DeleteCF(cf ColumnFamilyRef, key []byte) error {
	return observe("txn_delete", txn.do(cf, func(h engine.ColumnFamily) error {
		return txn.inner.Delete(h, key)
	}))
}

func (txn *Transaction) do(cf ColumnFamilyRef, fn func(engine.ColumnFamily) error) error {
	if err := txn.enter(); err != nil {
		return err
	}
	defer txn.leave()
	h, err := engineCF(cf)
	if err != nil {
		return err
	}
	return fromEngine(fn(h))
}

func (txn *Transaction) rawIterator(cf ColumnFamilyRef, ro *ReadOptions) *DBRawIterator {
	if err := txn.enter(); err != nil {
		return failedRawIterator(txn.db, err)
	}
	defer txn.leave()
	operationCounter.WithLabelValues("txn_iterator").Inc()
	return newRawIterator(txn.db, txn.iters, func() (engine.Iterator, error) {
		h, err := engineCF(cf)
		if err != nil {
			return nil, err
		}
		return txn.inner.NewIterator(readOptionsOrDefault(ro), h), nil
	})
}

// Iterator iterates the default column family as the transaction sees it. The iterator
// is closed when the transaction finishes.
func (txn *Transaction) Iterator(mode IteratorMode) *DBIterator {
	return txn.IteratorCFOpt(nil, nil, mode)
}

func (txn *Transaction) IteratorOpt(mode IteratorMode, ro *ReadOptions) *DBIterator {
	return txn.IteratorCFOpt(nil, ro, mode)
}

func (txn *Transaction) IteratorCF(cf ColumnFamilyRef, mode IteratorMode) *DBIterator {
	return txn.IteratorCFOpt(cf, nil, mode)
}

func (txn *Transaction) IteratorCFOpt(cf ColumnFamilyRef, ro *ReadOptions, mode IteratorMode) *DBIterator {
	return newDBIterator(txn.rawIterator(cf, ro), mode)
}

func (txn *Transaction) PrefixIteratorCF(cf ColumnFamilyRef, prefix []byte) *DBIterator {
	return newPrefixIterator(txn.rawIterator(cf, prefixSameAsStart(nil)), prefix)
}

func (txn *Transaction) RawIterator() *DBRawIterator {
	return txn.rawIterator(nil, nil)
}

func (txn *Transaction) RawIteratorCF(cf ColumnFamilyRef) *DBRawIterator {
	return txn.rawIterator(cf, nil)
}

// Commit makes the transaction's writes durable and visible. On a conflict it returns an
// error of kind ErrKindBusy and the transaction stays active, so it can be rolled back.
func (txn *Transaction) Commit() error {
	if err := txn.enter(); err != nil {
		return observe("commit", err)
	}
	defer txn.leave()
	// The engine may free iterator state when the commit ends the transaction.
	txn.iters.closeAll(newError(ErrKindTransactionClosed, "transaction is committing"))
	if err := txn.inner.Commit(); err != nil {
		err = fromEngine(err)
		if IsConflict(err) {
			transactionCounter.WithLabelValues("conflict").Inc()
		} else {
			transactionCounter.WithLabelValues("error").Inc()
		}
		return observe("commit", err)
	}
	txn.state = TxnCommitted
	txn.finish(newError(ErrKindTransactionClosed, "transaction is committed"))
	transactionCounter.WithLabelValues("commit").Inc()
	return observe("commit", nil)
}

// Rollback discards the transaction's writes.
func (txn *Transaction) Rollback() error {
	if err := txn.enter(); err != nil {
		return observe("rollback", err)
	}
	defer txn.leave()
	txn.iters.closeAll(newError(ErrKindTransactionClosed, "transaction is rolled back"))
	err := fromEngine(txn.inner.Rollback())
	txn.state = TxnRolledBack
	txn.finish(newError(ErrKindTransactionClosed, "transaction is rolled back"))
	transactionCounter.WithLabelValues("rollback").Inc()
	return observe("rollback", err)
}

// Discard releases the transaction, rolling it back if it is still active. It is safe to
// call more than once and after Commit or Rollback.
func (txn *Transaction) Discard() {
	if txn.db.enter() != nil {
		// Close already abandoned it.
		return
	}
	defer txn.db.leave()
	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.abandon(newError(ErrKindTransactionClosed, "transaction is discarded"))
}

// abandon rolls back an active transaction and frees it. The caller holds txn.mu.
func (txn *Transaction) abandon(reason error) {
	if txn.released {
		return
	}
	txn.iters.closeAll(reason)
	if txn.state == TxnActive {
		if err := txn.inner.Rollback(); err != nil {
			log.Warnf("rollback abandoned transaction: %v", err)
		}
		txn.state = TxnAbandoned
		transactionCounter.WithLabelValues("abandon").Inc()
		log.Debugf("txndb %s transaction abandoned", txn.db.path)
	}
	txn.finish(reason)
}

// finish closes the transaction's iterators and frees the engine transaction. The caller
// holds txn.mu.
func (txn *Transaction) finish(reason error) {
	if txn.released {
		return
	}
	txn.released = true
	txn.iters.closeAll(reason)
	txn.inner.Release()
	txn.db.live.remove(txn)
}

func (txn *Transaction) forceClose(reason error) {
	txn.mu.Lock()
	defer txn.mu.Unlock()
	txn.abandon(reason)
}
