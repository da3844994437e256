// Package txndb is a handle layer over an embedded transactional key-value engine.
//
// A TransactionDB owns the engine database, every column family handle it hands out and
// every iterator, snapshot and transaction created from it. Close releases all of them in
// dependency order: dependents first, then column family handles, then the database.
package txndb

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"go.uber.org/atomic"
)

type TransactionDB struct {
	inner engine.DB
	eng   engine.Engine
	path  string
	mode  ThreadMode
	cfs   cfRegistry
	// outlive keeps the options the database and its column families were created with
	// reachable, merge operators included, for as long as the database is.
	outliveMu sync.Mutex
	outlive   []*Options

	// mu is read locked for the duration of every call and write locked by Close, so
	// Close never runs concurrently with a call into the engine.
	mu        sync.RWMutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
	live      *liveSet
}

// OpenDefault opens path with the default engine, creating the database if needed.
func OpenDefault(path string) (*TransactionDB, error) {
	opts := NewDefaultOptions()
	opts.CreateIfMissing = true
	return Open(opts, NewDefaultTransactionDBOptions(), path)
}

// Open opens the database at path with only its default column family.
func Open(opts *Options, txnOpts *TransactionDBOptions, path string) (*TransactionDB, error) {
	return OpenCFDescriptors(opts, txnOpts, path, nil)
}

// OpenCF opens the named column families with default options.
func OpenCF(opts *Options, txnOpts *TransactionDBOptions, path string, names ...string) (*TransactionDB, error) {
	descriptors := make([]ColumnFamilyDescriptor, 0, len(names))
	for _, name := range names {
		descriptors = append(descriptors, NewColumnFamilyDescriptor(name, &Options{}))
	}
	return OpenCFDescriptors(opts, txnOpts, path, descriptors)
}

// OpenCFDescriptors opens the database at path together with the given column families.
// A "default" descriptor is appended when cfs is not empty and lacks one.
func OpenCFDescriptors(opts *Options, txnOpts *TransactionDBOptions, path string, cfs []ColumnFamilyDescriptor) (*TransactionDB, error) {
	db, err := openCFDescriptors(opts, txnOpts, path, cfs)
	return db, observe("open", err)
}

func openCFDescriptors(opts *Options, txnOpts *TransactionDBOptions, path string, cfs []ColumnFamilyDescriptor) (*TransactionDB, error) {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	if txnOpts == nil {
		txnOpts = NewDefaultTransactionDBOptions()
	}
	if err := validatePath(path); err != nil {
		return nil, err
	}
	for _, cf := range cfs {
		if err := validateCFName(cf.Name); err != nil {
			return nil, err
		}
	}
	eng, err := resolveEngine(opts)
	if err != nil {
		return nil, err
	}

	outlive := make([]*Options, 0, len(cfs)+1)
	outlive = append(outlive, opts)
	for _, cf := range cfs {
		outlive = append(outlive, cf.Options)
	}

	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, &Error{Kind: ErrKindIOError, Message: fmt.Sprintf("failed to create directory: %v", err), cause: err}
	}

	var (
		inner   engine.DB
		handles []engine.ColumnFamily
	)
	if len(cfs) == 0 {
		inner, err = eng.OpenDB(opts.engineOptions(), txnOpts, path)
		if err != nil {
			return nil, fromEngine(err)
		}
	} else {
		if !hasDefaultCF(cfs) {
			cfs = append(cfs, NewColumnFamilyDescriptor(engine.DefaultColumnFamilyName, &Options{}))
		}
		names := make([]string, len(cfs))
		cfOpts := make([]*engine.Options, len(cfs))
		for i, cf := range cfs {
			names[i] = cf.Name
			cfOpts[i] = cf.Options.engineOptions()
		}
		inner, handles, err = eng.OpenDBColumnFamilies(opts.engineOptions(), txnOpts, path, names, cfOpts)
		if err != nil {
			return nil, fromEngine(err)
		}
		if len(handles) != len(cfs) || hasNilHandle(handles) {
			closeOnFailure(inner, handles)
			return nil, newError(ErrKindInvalidHandle, "received null column family handle from DB")
		}
	}
	if inner == nil {
		closeOnFailure(nil, handles)
		return nil, newError(ErrKindInvalidHandle, "could not initialize database")
	}

	db := &TransactionDB{
		inner:   inner,
		eng:     eng,
		path:    path,
		mode:    opts.ThreadMode,
		cfs:     newCFRegistry(opts.ThreadMode),
		outlive: outlive,
		live:    newLiveSet(),
	}
	for i, cf := range cfs {
		db.cfs.insert(cf.Name, handles[i])
	}
	log.Infof("txndb opened %s, engine %s, thread mode %s, column families %v",
		path, eng.Name(), db.mode, db.cfs.names())
	return db, nil
}

func validatePath(path string) error {
	if path == "" {
		return newError(ErrKindInvalidArgument, "database path is empty")
	}
	if strings.IndexByte(path, 0) >= 0 {
		return newError(ErrKindInvalidArgument, "failed to convert path to CString when opening DB")
	}
	return nil
}

func validateCFName(name string) error {
	if name == "" {
		return newError(ErrKindInvalidArgument, "column family name is empty")
	}
	if strings.IndexByte(name, 0) >= 0 {
		return newError(ErrKindInvalidArgument, fmt.Sprintf("failed to convert column family name %q to CString", name))
	}
	return nil
}

func hasDefaultCF(cfs []ColumnFamilyDescriptor) bool {
	for _, cf := range cfs {
		if cf.Name == engine.DefaultColumnFamilyName {
			return true
		}
	}
	return false
}

func hasNilHandle(handles []engine.ColumnFamily) bool {
	for _, h := range handles {
		if h == nil {
			return true
		}
	}
	return false
}

// closeOnFailure releases what a failed open produced, column families first.
func closeOnFailure(inner engine.DB, handles []engine.ColumnFamily) {
	for _, h := range handles {
		if h != nil {
			h.Close()
		}
	}
	if inner != nil {
		if err := inner.Close(); err != nil {
			log.Warnf("close database after failed open: %v", err)
		}
	}
}

// enter pins the database open for one call. Every successful enter is paired with leave.
func (db *TransactionDB) enter() error {
	db.mu.RLock()
	if db.closed.Load() {
		db.mu.RUnlock()
		return newError(ErrKindDatabaseClosed, "database "+db.path+" is closed")
	}
	return nil
}

func (db *TransactionDB) leave() { db.mu.RUnlock() }

// CreateCF creates a column family and registers its handle. On a SingleThreaded
// database it must not run concurrently with any other use of db.
func (db *TransactionDB) CreateCF(name string, opts *Options) error {
	return observe("create_cf", db.createCF(name, opts))
}

func (db *TransactionDB) createCF(name string, opts *Options) error {
	if err := validateCFName(name); err != nil {
		return err
	}
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	handle, err := db.inner.CreateColumnFamily(opts.engineOptions(), name)
	if err != nil {
		return fromEngine(err)
	}
	if handle == nil {
		return newError(ErrKindInvalidHandle, "received null column family handle from DB")
	}
	db.outliveMu.Lock()
	db.outlive = append(db.outlive, opts)
	db.outliveMu.Unlock()
	db.cfs.insert(name, handle)
	log.Infof("txndb %s created column family %s", db.path, name)
	return nil
}

// DropCF drops a column family. Handles to it that are still held fail from then on.
func (db *TransactionDB) DropCF(name string) error {
	return observe("drop_cf", db.dropCF(name))
}

func (db *TransactionDB) dropCF(name string) error {
	if name == engine.DefaultColumnFamilyName {
		return newError(ErrKindInvalidArgument, "cannot drop the default column family")
	}
	if err := db.enter(); err != nil {
		return err
	}
	defer db.leave()
	cf := db.cfs.lookup(name)
	if cf == nil {
		return newError(ErrKindInvalidArgument, "Invalid column family: "+name)
	}
	h, err := cf.handle()
	if err == nil {
		err = fromEngine(db.inner.DropColumnFamily(h))
	}
	cf.Release()
	if err != nil {
		return err
	}
	db.cfs.remove(name)
	log.Infof("txndb %s dropped column family %s", db.path, name)
	return nil
}

// CFHandle returns the handle of the named column family, or nil when there is none.
// A *BoundColumnFamily returned by a MultiThreaded database must be released.
func (db *TransactionDB) CFHandle(name string) ColumnFamilyRef {
	if db.closed.Load() {
		return nil
	}
	return db.cfs.lookup(name)
}

// ExclusiveCFHandle is CFHandle for a SingleThreaded database.
func (db *TransactionDB) ExclusiveCFHandle(name string) *ColumnFamily {
	if db.mode != SingleThreaded {
		return nil
	}
	cf, _ := db.CFHandle(name).(*ColumnFamily)
	return cf
}

// BoundCFHandle is CFHandle for a MultiThreaded database.
func (db *TransactionDB) BoundCFHandle(name string) *BoundColumnFamily {
	if db.mode != MultiThreaded {
		return nil
	}
	cf, _ := db.CFHandle(name).(*BoundColumnFamily)
	return cf
}

func (db *TransactionDB) Path() string { return db.path }

func (db *TransactionDB) ThreadMode() ThreadMode { return db.mode }

// ColumnFamilyNames lists the registered column families, default first.
func (db *TransactionDB) ColumnFamilyNames() []string { return db.cfs.names() }

// Close releases everything the database owns. Iterators, snapshots and transactions
// still open are closed first, then column family handles, then the engine database.
// Only the first call does any work; later calls return its result.
func (db *TransactionDB) Close() error {
	db.closeOnce.Do(func() {
		db.mu.Lock()
		defer db.mu.Unlock()
		db.closed.Store(true)
		if n := db.live.closeAll(newError(ErrKindDatabaseClosed, "database "+db.path+" is closed")); n > 0 {
			log.Warnf("txndb %s closed %d iterators, snapshots or transactions still in use", db.path, n)
		}
		db.cfs.teardown()
		if err := db.inner.Close(); err != nil {
			db.closeErr = fromEngine(err)
			log.Warnf("txndb %s close: %v", db.path, err)
		}
		db.outlive = nil
		log.Infof("txndb closed %s", db.path)
	})
	return db.closeErr
}

// ListCF lists the column families of the database at path without opening it.
func ListCF(opts *Options, path string) ([]string, error) {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	eng, err := resolveEngine(opts)
	if err != nil {
		return nil, err
	}
	names, err := eng.ListColumnFamilies(opts.engineOptions(), path)
	return names, observe("list_cf", fromEngine(err))
}

// Destroy removes the database at path. It must not be open.
func Destroy(opts *Options, path string) error {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	eng, err := resolveEngine(opts)
	if err != nil {
		return err
	}
	return observe("destroy", fromEngine(eng.DestroyDB(opts.engineOptions(), path)))
}

// Repair salvages what it can of the database at path. It must not be open.
func Repair(opts *Options, path string) error {
	if opts == nil {
		opts = NewDefaultOptions()
	}
	eng, err := resolveEngine(opts)
	if err != nil {
		return err
	}
	return observe("repair", fromEngine(eng.RepairDB(opts.engineOptions(), path)))
}

// resource is anything that must be closed before the engine handle it was made from.
type resource interface {
	forceClose(reason error)
}

type liveSet struct {
	mu    sync.Mutex
	items map[resource]struct{}
}

func newLiveSet() *liveSet {
	return &liveSet{items: make(map[resource]struct{})}
}

func (s *liveSet) add(r resource) {
	s.mu.Lock()
	s.items[r] = struct{}{}
	s.mu.Unlock()
}

func (s *liveSet) remove(r resource) {
	s.mu.Lock()
	delete(s.items, r)
	s.mu.Unlock()
}

// closeAll force closes every member and returns how many there were.
func (s *liveSet) closeAll(reason error) int {
	s.mu.Lock()
	items := s.items
	s.items = make(map[resource]struct{})
	s.mu.Unlock()
	for r := range items {
		r.forceClose(reason)
	}
	return len(items)
}
