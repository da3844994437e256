// Package engine is the boundary between txndb and the embedded storage engine.
//
// Every value handed out by an engine (DB, ColumnFamily, Txn, Snapshot, Iterator) is an
// opaque capability: txndb never inspects it, it only passes it back into the engine.
// Lifetimes are manual. A ColumnFamily must be closed before the DB that produced it,
// Iterators before the Txn or Snapshot they read from, and nothing may be used after
// the DB is closed.
package engine

import (
	"time"

	"github.com/pingcap/errors"
)

// DefaultColumnFamilyName is the column family every database has.
const DefaultColumnFamilyName = "default"

var (
	ErrConflict            = errors.New("Resource busy: transaction conflict")
	ErrMergeNotSupported   = errors.New("Not implemented: merge operator not set")
	ErrColumnFamilyExists  = errors.New("Invalid argument: column family already exists")
	ErrColumnFamilyDropped = errors.New("Invalid argument: column family has been dropped")
	ErrColumnFamilyClosed  = errors.New("Invalid argument: column family handle is closed")
	ErrDropDefault         = errors.New("Invalid argument: cannot drop default column family")
	ErrDBClosed            = errors.New("Shutdown in progress: database is closed")
	ErrTxnDone             = errors.New("Invalid argument: transaction has already finished")
	ErrDBLocked            = errors.New("IO error: lock hold by current process")
)

// Options are the engine side database and column family options.
type Options struct {
	CreateIfMissing             bool
	CreateMissingColumnFamilies bool
	ErrorIfExists               bool
	// MergeOperator is required for Merge on the database or column family it is set on.
	MergeOperator MergeOperator
}

// TxnDBOptions are the options of a transactional database.
type TxnDBOptions struct {
	LockTimeout time.Duration
	// MaxNumLocks bounds the keys a single transaction may lock, -1 for no limit.
	MaxNumLocks int64
}

// TxnOptions are passed to BeginTxn.
type TxnOptions struct {
	// SetSnapshot makes the transaction read from a snapshot taken at begin.
	SetSnapshot bool
	LockTimeout time.Duration
}

type ReadOptions struct {
	Snapshot  Snapshot
	FillCache bool
	// TotalOrderSeek disables prefix based seeking.
	TotalOrderSeek bool
	// PrefixSameAsStart asks iteration to stay within the prefix of the seek key.
	PrefixSameAsStart bool
	IterateLowerBound []byte // inclusive
	IterateUpperBound []byte // exclusive
	// Deadline is handed to engines that support it. Zero means none.
	Deadline time.Time
}

type WriteOptions struct {
	Sync       bool
	DisableWAL bool
}

func NewDefaultReadOptions() *ReadOptions {
	return &ReadOptions{FillCache: true}
}

func NewDefaultWriteOptions() *WriteOptions {
	return &WriteOptions{}
}

func NewDefaultTxnDBOptions() *TxnDBOptions {
	return &TxnDBOptions{LockTimeout: time.Second, MaxNumLocks: -1}
}

func NewDefaultTxnOptions() *TxnOptions {
	return &TxnOptions{}
}

// Engine opens databases and performs whole-database maintenance on paths.
type Engine interface {
	Name() string
	// Init prepares process wide engine state. Callers go through engine.Init so it runs once.
	Init() error
	OpenDB(opts *Options, txnOpts *TxnDBOptions, path string) (DB, error)
	// OpenDBColumnFamilies returns one handle per name, in the order of names.
	OpenDBColumnFamilies(opts *Options, txnOpts *TxnDBOptions, path string, names []string, cfOpts []*Options) (DB, []ColumnFamily, error)
	ListColumnFamilies(opts *Options, path string) ([]string, error)
	DestroyDB(opts *Options, path string) error
	RepairDB(opts *Options, path string) error
}

// DB is an open transactional database. A nil ColumnFamily selects the default column family.
type DB interface {
	CreateColumnFamily(opts *Options, name string) (ColumnFamily, error)
	DropColumnFamily(cf ColumnFamily) error

	// Get returns a copy of the value, or nil without error when the key does not exist.
	Get(ro *ReadOptions, cf ColumnFamily, key []byte) ([]byte, error)
	Put(wo *WriteOptions, cf ColumnFamily, key, value []byte) error
	Merge(wo *WriteOptions, cf ColumnFamily, key, value []byte) error
	Delete(wo *WriteOptions, cf ColumnFamily, key []byte) error
	Write(wo *WriteOptions, batch []BatchOp) error

	BeginTxn(wo *WriteOptions, to *TxnOptions) Txn
	NewSnapshot() Snapshot
	ReleaseSnapshot(s Snapshot)
	NewIterator(ro *ReadOptions, cf ColumnFamily) Iterator

	Close() error
}

// ColumnFamily is an engine column family handle.
type ColumnFamily interface {
	Name() string
	// Close releases the handle. It does not drop the column family.
	Close()
}

// Snapshot is a read view fixed at the moment it was taken.
type Snapshot interface {
	Sequence() uint64
}

// Txn is an engine transaction. Reads observe the transaction's own writes.
type Txn interface {
	Get(ro *ReadOptions, cf ColumnFamily, key []byte) ([]byte, error)
	GetForUpdate(ro *ReadOptions, cf ColumnFamily, key []byte, exclusive bool) ([]byte, error)
	Put(cf ColumnFamily, key, value []byte) error
	Merge(cf ColumnFamily, key, value []byte) error
	Delete(cf ColumnFamily, key []byte) error
	NewIterator(ro *ReadOptions, cf ColumnFamily) Iterator
	Commit() error
	Rollback() error
	// Release frees the handle. A transaction that is still pending is rolled back.
	Release()
}

// Iterator is a bidirectional cursor. Key and Value are only valid until the next move.
type Iterator interface {
	SeekToFirst()
	SeekToLast()
	Seek(key []byte)
	SeekForPrev(key []byte)
	Valid() bool
	Next()
	Prev()
	Key() []byte
	Value() []byte
	Err() error
	Close()
}

type OpKind int

const (
	OpPut OpKind = iota
	OpMerge
	OpDelete
)

func (k OpKind) String() string {
	switch k {
	case OpPut:
		return "put"
	case OpMerge:
		return "merge"
	case OpDelete:
		return "delete"
	}
	return "unknown"
}

// BatchOp is one mutation of an atomic write batch.
type BatchOp struct {
	Kind  OpKind
	CF    ColumnFamily
	Key   []byte
	Value []byte
}
