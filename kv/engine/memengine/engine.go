// Package memengine is an in-memory engine intended for tests and tooling. Data is not
// written to disk, but it outlives Close for the rest of the process so a path can be
// reopened, listed, repaired and destroyed like an on-disk database.
package memengine

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap/errors"
)

// Name is the name the engine registers under.
const Name = "memory"

func init() {
	engine.Register(New())
}

type Engine struct{}

func New() *Engine {
	return &Engine{}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Init() error { return nil }

var stores = struct {
	sync.Mutex
	m map[string]*store
}{m: make(map[string]*store)}

func storeKey(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func lookupStore(path string) *store {
	stores.Lock()
	defer stores.Unlock()
	return stores.m[storeKey(path)]
}

func (e *Engine) OpenDB(opts *engine.Options, txnOpts *engine.TxnDBOptions, path string) (engine.DB, error) {
	db, cfs, err := e.open(opts, txnOpts, path, []string{engine.DefaultColumnFamilyName}, nil, false)
	if err != nil {
		return nil, err
	}
	cfs[0].Close()
	return db, nil
}

func (e *Engine) OpenDBColumnFamilies(opts *engine.Options, txnOpts *engine.TxnDBOptions, path string, names []string, cfOpts []*engine.Options) (engine.DB, []engine.ColumnFamily, error) {
	db, cfs, err := e.open(opts, txnOpts, path, names, cfOpts, opts.CreateMissingColumnFamilies)
	if err != nil {
		return nil, nil, err
	}
	handles := make([]engine.ColumnFamily, len(cfs))
	for i, cf := range cfs {
		handles[i] = cf
	}
	return db, handles, nil
}

func (e *Engine) open(opts *engine.Options, txnOpts *engine.TxnDBOptions, path string, names []string, cfOpts []*engine.Options, createMissing bool) (*DB, []*ColumnFamily, error) {
	if opts == nil {
		opts = &engine.Options{}
	}
	if txnOpts == nil {
		txnOpts = engine.NewDefaultTxnDBOptions()
	}
	stores.Lock()
	defer stores.Unlock()
	key := storeKey(path)
	st, ok := stores.m[key]
	switch {
	case ok && st.open:
		return nil, nil, errors.Annotatef(engine.ErrDBLocked, "open %s", path)
	case ok && opts.ErrorIfExists:
		return nil, nil, errors.Errorf("Invalid argument: %s: exists (error_if_exists is true)", path)
	case !ok && !opts.CreateIfMissing:
		return nil, nil, errors.Errorf("Invalid argument: %s: does not exist (create_if_missing is false)", path)
	}
	created := false
	if !ok {
		st = newStore()
		created = true
	}

	missing, err := engine.CheckOpenColumnFamilies(st.names(), names, createMissing)
	if err != nil {
		return nil, nil, err
	}
	for _, name := range missing {
		st.createCF(name)
	}
	if created {
		stores.m[key] = st
	}
	st.open = true

	db := newDB(st, path, opts, txnOpts)
	for _, data := range st.cfs {
		data.mergeOp = opts.MergeOperator
	}
	handles := make([]*ColumnFamily, len(names))
	for i, name := range names {
		data := st.cfs[name]
		data.mergeOp = engine.MergeOperatorOf(engine.OptionsAt(cfOpts, i, opts), opts)
		handles[i] = db.newHandle(data)
	}
	log.Infof("memory engine opened %s with column families %v", path, names)
	return db, handles, nil
}

func (e *Engine) ListColumnFamilies(opts *engine.Options, path string) ([]string, error) {
	st := lookupStore(path)
	if st == nil {
		return nil, errors.Errorf("IO error: %s: No such file or directory", path)
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.names(), nil
}

func (e *Engine) DestroyDB(opts *engine.Options, path string) error {
	stores.Lock()
	key := storeKey(path)
	if st, ok := stores.m[key]; ok && st.open {
		stores.Unlock()
		return errors.Annotatef(engine.ErrDBLocked, "destroy %s", path)
	}
	delete(stores.m, key)
	stores.Unlock()
	if err := os.RemoveAll(path); err != nil {
		return errors.Annotatef(err, "IO error: destroy %s", path)
	}
	return nil
}

// RepairDB has nothing to rebuild in memory. It only checks the database exists and is closed.
func (e *Engine) RepairDB(opts *engine.Options, path string) error {
	stores.Lock()
	defer stores.Unlock()
	st, ok := stores.m[storeKey(path)]
	if !ok {
		return errors.Errorf("IO error: %s: No such file or directory", path)
	}
	if st.open {
		return errors.Annotatef(engine.ErrDBLocked, "repair %s", path)
	}
	return nil
}

// names lists the column families with default first. The caller holds st.mu or stores.
func (st *store) names() []string {
	names := make([]string, 0, len(st.cfs))
	for name := range st.cfs {
		if name != engine.DefaultColumnFamilyName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{engine.DefaultColumnFamilyName}, names...)
}
