package txndb

import (
	"sort"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"go.uber.org/atomic"
)

// ColumnFamilyRef is a column family handle obtained from a TransactionDB. A nil
// ColumnFamilyRef passed to a *CF operation selects the default column family.
type ColumnFamilyRef interface {
	Name() string
	// Release gives the handle back. Only shared handles hold anything to release.
	Release()
	handle() (engine.ColumnFamily, error)
}

// ColumnFamily is the handle of a SingleThreaded database. The registry owns it, callers
// borrow it until the column family is dropped or the database is closed.
type ColumnFamily struct {
	name  string
	inner engine.ColumnFamily
}

func (cf *ColumnFamily) Name() string { return cf.name }

func (cf *ColumnFamily) Release() {}

func (cf *ColumnFamily) handle() (engine.ColumnFamily, error) {
	if cf == nil {
		return nil, nil
	}
	if cf.inner == nil {
		return nil, newError(ErrKindColumnFamilyReleased, "column family "+cf.name+" has been released")
	}
	return cf.inner, nil
}

func (cf *ColumnFamily) close() {
	if cf.inner != nil {
		cf.inner.Close()
		cf.inner = nil
		columnFamilyHandleGauge.Dec()
		log.Debugf("column family %s released", cf.name)
	}
}

// unboundColumnFamily is the registry side of a MultiThreaded handle. The engine handle
// is closed when the last reference goes away, or earlier by a forced close at teardown.
type unboundColumnFamily struct {
	name   string
	inner  engine.ColumnFamily
	refs   atomic.Int32
	closed atomic.Bool
}

func newUnboundColumnFamily(name string, inner engine.ColumnFamily) *unboundColumnFamily {
	cf := &unboundColumnFamily{name: name, inner: inner}
	cf.refs.Store(1)
	return cf
}

// acquire takes a reference unless the count already dropped to zero.
func (cf *unboundColumnFamily) acquire() bool {
	for {
		n := cf.refs.Load()
		if n <= 0 {
			return false
		}
		if cf.refs.CAS(n, n+1) {
			return true
		}
	}
}

func (cf *unboundColumnFamily) release() {
	if cf.refs.Dec() == 0 {
		cf.close()
	}
}

func (cf *unboundColumnFamily) close() {
	if !cf.closed.Swap(true) {
		cf.inner.Close()
		columnFamilyHandleGauge.Dec()
		log.Debugf("column family %s released", cf.name)
	}
}

// BoundColumnFamily is a MultiThreaded handle. Every value returned by CFHandle holds
// its own reference and must be released by the caller.
type BoundColumnFamily struct {
	cf       *unboundColumnFamily
	released atomic.Bool
}

func (cf *BoundColumnFamily) Name() string { return cf.cf.name }

// Release drops this handle's reference. Calling it more than once is a no-op.
func (cf *BoundColumnFamily) Release() {
	if cf != nil && !cf.released.Swap(true) {
		cf.cf.release()
	}
}

func (cf *BoundColumnFamily) handle() (engine.ColumnFamily, error) {
	if cf == nil {
		return nil, nil
	}
	if cf.released.Load() || cf.cf.closed.Load() {
		return nil, newError(ErrKindColumnFamilyReleased, "column family "+cf.cf.name+" has been released")
	}
	return cf.cf.inner, nil
}

type cfRegistry interface {
	// lookup returns nil when name is unknown.
	lookup(name string) ColumnFamilyRef
	insert(name string, cf engine.ColumnFamily)
	// remove forgets name. The engine handle is closed once nothing references it.
	remove(name string)
	names() []string
	// teardown closes every engine handle. It runs before the engine database is closed.
	teardown()
}

func newCFRegistry(mode ThreadMode) cfRegistry {
	if mode == MultiThreaded {
		return &multiThreadedCFs{cfs: make(map[string]*unboundColumnFamily)}
	}
	return &singleThreadedCFs{cfs: make(map[string]*ColumnFamily)}
}

type singleThreadedCFs struct {
	cfs map[string]*ColumnFamily
	// mutating catches CreateCF or DropCF calls that overlap, which the mode forbids.
	mutating atomic.Int32
	torn     atomic.Bool
}

func (r *singleThreadedCFs) enter() {
	if !r.mutating.CAS(0, 1) {
		panic("txndb: concurrent column family mutation on a SingleThreaded database")
	}
}

func (r *singleThreadedCFs) leave() { r.mutating.Store(0) }

func (r *singleThreadedCFs) lookup(name string) ColumnFamilyRef {
	if cf, ok := r.cfs[name]; ok {
		return cf
	}
	return nil
}

func (r *singleThreadedCFs) insert(name string, inner engine.ColumnFamily) {
	r.enter()
	defer r.leave()
	r.cfs[name] = &ColumnFamily{name: name, inner: inner}
	columnFamilyHandleGauge.Inc()
}

func (r *singleThreadedCFs) remove(name string) {
	r.enter()
	defer r.leave()
	if cf, ok := r.cfs[name]; ok {
		delete(r.cfs, name)
		cf.close()
	}
}

func (r *singleThreadedCFs) names() []string {
	names := make([]string, 0, len(r.cfs))
	for name := range r.cfs {
		names = append(names, name)
	}
	return sortCFNames(names)
}

func (r *singleThreadedCFs) teardown() {
	if r.torn.Swap(true) {
		return
	}
	for _, cf := range r.cfs {
		cf.close()
	}
}

type multiThreadedCFs struct {
	mu   sync.RWMutex
	cfs  map[string]*unboundColumnFamily
	torn bool
}

func (r *multiThreadedCFs) lookup(name string) ColumnFamilyRef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cf, ok := r.cfs[name]
	if !ok || !cf.acquire() {
		return nil
	}
	return &BoundColumnFamily{cf: cf}
}

func (r *multiThreadedCFs) insert(name string, inner engine.ColumnFamily) {
	cf := newUnboundColumnFamily(name, inner)
	columnFamilyHandleGauge.Inc()
	r.mu.Lock()
	old, ok := r.cfs[name]
	r.cfs[name] = cf
	r.mu.Unlock()
	if ok {
		old.release()
	}
}

func (r *multiThreadedCFs) remove(name string) {
	r.mu.Lock()
	cf, ok := r.cfs[name]
	delete(r.cfs, name)
	r.mu.Unlock()
	if ok {
		cf.release()
	}
}

func (r *multiThreadedCFs) names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.cfs))
	for name := range r.cfs {
		names = append(names, name)
	}
	r.mu.RUnlock()
	return sortCFNames(names)
}

func (r *multiThreadedCFs) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.torn {
		return
	}
	r.torn = true
	for _, cf := range r.cfs {
		if n := cf.refs.Load(); n > 1 {
			log.Warnf("column family %s still has %d outstanding handles at close", cf.name, n-1)
		}
		cf.release()
		// Outstanding clones must not outlive the engine database.
		cf.close()
	}
}

// sortCFNames orders names with the default column family first.
func sortCFNames(names []string) []string {
	sort.Slice(names, func(i, j int) bool {
		if names[i] == engine.DefaultColumnFamilyName || names[j] == engine.DefaultColumnFamilyName {
			return names[i] == engine.DefaultColumnFamilyName && names[j] != engine.DefaultColumnFamilyName
		}
		return names[i] < names[j]
	})
	return names
}
