package txndb

import (
	"github.com/pingcap-incubator/txndb/kv/engine"
	"go.uber.org/atomic"
)

// Snapshot is a read view of a TransactionDB fixed when it was taken. Iterators created
// from it are closed by Release.
type Snapshot struct {
	db       *TransactionDB
	inner    engine.Snapshot
	seq      uint64
	iters    *liveSet
	released atomic.Bool
}

// Sequence identifies the point in the write history the snapshot observes. It stays
// readable after Release.
func (s *Snapshot) Sequence() uint64 { return s.seq }

// readOptions returns a copy of ro reading from s.
func (s *Snapshot) readOptions(ro *ReadOptions) *ReadOptions {
	opts := *readOptionsOrDefault(ro)
	opts.Snapshot = s.inner
	return &opts
}

func (s *Snapshot) enter() error {
	if err := s.db.enter(); err != nil {
		return err
	}
	if s.released.Load() {
		s.db.leave()
		return newError(ErrKindInvalidArgument, "snapshot has been released")
	}
	return nil
}

func (s *Snapshot) Get(key []byte) ([]byte, error) {
	return s.GetCFOpt(nil, key, nil)
}

func (s *Snapshot) GetCF(cf ColumnFamilyRef, key []byte) ([]byte, error) {
	return s.GetCFOpt(cf, key, nil)
}

func (s *Snapshot) GetOpt(key []byte, ro *ReadOptions) ([]byte, error) {
	return s.GetCFOpt(nil, key, ro)
}

func (s *Snapshot) GetCFOpt(cf ColumnFamilyRef, key []byte, ro *ReadOptions) ([]byte, error) {
	if err := s.enter(); err != nil {
		return nil, observe("snapshot_get", err)
	}
	defer s.db.leave()
	h, err := engineCF(cf)
	if err != nil {
		return nil, observe("snapshot_get", err)
	}
	value, err := s.db.inner.Get(s.readOptions(ro), h, key)
	if err != nil {
		return nil, observe("snapshot_get", fromEngine(err))
	}
	return value, observe("snapshot_get", nil)
}

func (s *Snapshot) rawIterator(cf ColumnFamilyRef, ro *ReadOptions) *DBRawIterator {
	if err := s.enter(); err != nil {
		return failedRawIterator(s.db, err)
	}
	defer s.db.leave()
	operationCounter.WithLabelValues("snapshot_iterator").Inc()
	return newRawIterator(s.db, s.iters, func() (engine.Iterator, error) {
		h, err := engineCF(cf)
		if err != nil {
			return nil, err
		}
		return s.db.inner.NewIterator(s.readOptions(ro), h), nil
	})
}

func (s *Snapshot) Iterator(mode IteratorMode) *DBIterator {
	return s.IteratorCFOpt(nil, nil, mode)
}

func (s *Snapshot) IteratorOpt(mode IteratorMode, ro *ReadOptions) *DBIterator {
	return s.IteratorCFOpt(nil, ro, mode)
}

func (s *Snapshot) IteratorCF(cf ColumnFamilyRef, mode IteratorMode) *DBIterator {
	return s.IteratorCFOpt(cf, nil, mode)
}

func (s *Snapshot) IteratorCFOpt(cf ColumnFamilyRef, ro *ReadOptions, mode IteratorMode) *DBIterator {
	return newDBIterator(s.rawIterator(cf, ro), mode)
}

func (s *Snapshot) FullIterator(mode IteratorMode) *DBIterator {
	return s.IteratorCFOpt(nil, totalOrder(nil), mode)
}

func (s *Snapshot) FullIteratorCF(cf ColumnFamilyRef, mode IteratorMode) *DBIterator {
	return s.IteratorCFOpt(cf, totalOrder(nil), mode)
}

func (s *Snapshot) PrefixIterator(prefix []byte) *DBIterator {
	return s.PrefixIteratorCF(nil, prefix)
}

func (s *Snapshot) PrefixIteratorCF(cf ColumnFamilyRef, prefix []byte) *DBIterator {
	return newPrefixIterator(s.rawIterator(cf, prefixSameAsStart(nil)), prefix)
}

func (s *Snapshot) RawIterator() *DBRawIterator {
	return s.rawIterator(nil, nil)
}

func (s *Snapshot) RawIteratorCF(cf ColumnFamilyRef) *DBRawIterator {
	return s.rawIterator(cf, nil)
}

// Release gives the snapshot back to the engine. Calling it more than once is a no-op.
func (s *Snapshot) Release() {
	if s.db.enter() != nil {
		// Close already released it.
		return
	}
	defer s.db.leave()
	if s.released.Swap(true) {
		return
	}
	s.release(newError(ErrKindInvalidArgument, "snapshot has been released"))
	s.db.live.remove(s)
}

func (s *Snapshot) release(reason error) {
	s.iters.closeAll(reason)
	s.db.inner.ReleaseSnapshot(s.inner)
}

func (s *Snapshot) forceClose(reason error) {
	if !s.released.Swap(true) {
		s.release(reason)
	}
}
