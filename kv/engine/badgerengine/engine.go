// Package badgerengine binds txndb to a persistent badger store.
//
// Column families are emulated on top of a single badger keyspace with the codec in
// engine_util. Transactions are badger's optimistic transactions, so conflicts surface
// at commit time.
package badgerengine

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/util/engine_util"
	"github.com/pingcap/errors"
)

// Name is the name the engine registers under.
const Name = "badger"

const manifestFile = "MANIFEST"

func init() {
	engine.Register(New(nil))
}

// Engine opens badger backed databases. A nil config uses badger's defaults.
type Engine struct {
	conf *config.Badger
}

func New(conf *config.Badger) *Engine {
	return &Engine{conf: conf}
}

func (e *Engine) Name() string { return Name }

func (e *Engine) Init() error {
	if e.conf != nil && e.conf.NumL0TablesStall <= e.conf.NumL0Tables {
		return errors.New("Invalid argument: num-L0-tables-stall must be greater than num-L0-tables")
	}
	return nil
}

// openDBs tracks the databases this process has open, keyed by absolute path.
var openDBs = struct {
	sync.Mutex
	m map[string]*DB
}{m: make(map[string]*DB)}

func absPath(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func lookupOpen(path string) *DB {
	openDBs.Lock()
	defer openDBs.Unlock()
	return openDBs.m[absPath(path)]
}

func exists(path string) bool {
	_, err := os.Stat(filepath.Join(path, manifestFile))
	return err == nil
}

func (e *Engine) OpenDB(opts *engine.Options, txnOpts *engine.TxnDBOptions, path string) (engine.DB, error) {
	db, cfs, err := e.open(opts, txnOpts, path, []string{engine.DefaultColumnFamilyName}, nil, false)
	if err != nil {
		return nil, err
	}
	// The default column family is reached through a nil handle.
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
	if lookupOpen(path) != nil {
		return nil, nil, errors.Annotatef(engine.ErrDBLocked, "open %s", path)
	}
	if exists(path) {
		if opts.ErrorIfExists {
			return nil, nil, errors.Errorf("Invalid argument: %s: exists (error_if_exists is true)", path)
		}
	} else if !opts.CreateIfMissing {
		return nil, nil, errors.Errorf("Invalid argument: %s/%s: does not exist (create_if_missing is false)", path, manifestFile)
	}

	bdb, err := engine_util.CreateDB(path, e.conf)
	if err != nil {
		return nil, nil, errors.Annotatef(err, "IO error: open %s", path)
	}
	db := newDB(bdb, path, opts, txnOpts)
	cfs, err := db.openColumnFamilies(names, cfOpts, createMissing)
	if err != nil {
		bdb.Close()
		return nil, nil, err
	}

	openDBs.Lock()
	openDBs.m[absPath(path)] = db
	openDBs.Unlock()
	log.Infof("badger engine opened %s with column families %v", path, names)
	return db, cfs, nil
}

func (e *Engine) ListColumnFamilies(opts *engine.Options, path string) ([]string, error) {
	if db := lookupOpen(path); db != nil {
		return db.columnFamilyNames(), nil
	}
	if !exists(path) {
		return nil, errors.Errorf("IO error: While opening a file for sequentially reading: %s/%s: No such file or directory", path, manifestFile)
	}
	bdb, err := engine_util.CreateDB(path, e.conf)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer bdb.Close()
	cfs, _, err := engine_util.LoadColumnFamilies(bdb)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return sortedNames(cfs), nil
}

func (e *Engine) DestroyDB(opts *engine.Options, path string) error {
	if lookupOpen(path) != nil {
		return errors.Annotatef(engine.ErrDBLocked, "destroy %s", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return errors.Annotatef(err, "IO error: destroy %s", path)
	}
	log.Infof("badger engine destroyed %s", path)
	return nil
}

// RepairDB drops the data of column families that are no longer in the catalog, which
// is what an interrupted drop leaves behind.
func (e *Engine) RepairDB(opts *engine.Options, path string) error {
	if lookupOpen(path) != nil {
		return errors.Annotatef(engine.ErrDBLocked, "repair %s", path)
	}
	if !exists(path) {
		return errors.Errorf("IO error: %s/%s: No such file or directory", path, manifestFile)
	}
	bdb, err := engine_util.CreateDB(path, e.conf)
	if err != nil {
		return errors.Trace(err)
	}
	defer bdb.Close()
	cfs, _, err := engine_util.LoadColumnFamilies(bdb)
	if err != nil {
		return errors.Trace(err)
	}
	live := make(map[uint32]bool, len(cfs))
	for _, id := range cfs {
		live[id] = true
	}
	n, err := engine_util.DeleteOrphans(bdb, live)
	if err != nil {
		return errors.Trace(err)
	}
	log.Infof("badger engine repaired %s, %d orphan keys removed", path, n)
	return nil
}

// sortedNames returns the default column family first and the rest by name.
func sortedNames(cfs map[string]uint32) []string {
	names := make([]string, 0, len(cfs))
	for name := range cfs {
		if name != engine.DefaultColumnFamilyName {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return append([]string{engine.DefaultColumnFamilyName}, names...)
}
