package txndb

import (
	"fmt"

	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/engine/badgerengine"
	"github.com/pingcap-incubator/txndb/kv/engine/memengine"
)

// ThreadMode selects how column family handles are shared.
type ThreadMode int

const (
	// SingleThreaded keeps one exclusively owned handle per column family. CreateCF and
	// DropCF must not run concurrently with any other use of the database.
	SingleThreaded ThreadMode = iota
	// MultiThreaded hands out reference counted handles that stay usable while other
	// goroutines create or drop column families.
	MultiThreaded
)

func (m ThreadMode) String() string {
	switch m {
	case SingleThreaded:
		return config.ThreadModeSingle
	case MultiThreaded:
		return config.ThreadModeMulti
	}
	return fmt.Sprintf("ThreadMode(%d)", int(m))
}

func ParseThreadMode(s string) (ThreadMode, error) {
	switch s {
	case config.ThreadModeSingle, "":
		return SingleThreaded, nil
	case config.ThreadModeMulti:
		return MultiThreaded, nil
	}
	return SingleThreaded, newError(ErrKindInvalidArgument, fmt.Sprintf("unknown thread mode %q", s))
}

// DefaultEngineName is used when Options names no engine.
const DefaultEngineName = badgerengine.Name

type (
	TransactionDBOptions = engine.TxnDBOptions
	TransactionOptions   = engine.TxnOptions
	ReadOptions          = engine.ReadOptions
	WriteOptions         = engine.WriteOptions
	MergeOperator        = engine.MergeOperator
)

// Options configure a database or, inside a ColumnFamilyDescriptor, a column family.
type Options struct {
	engine.Options

	ThreadMode ThreadMode
	// Engine takes precedence over EngineName.
	Engine     engine.Engine
	EngineName string
}

func NewDefaultOptions() *Options {
	return &Options{EngineName: DefaultEngineName}
}

func (o *Options) engineOptions() *engine.Options {
	if o == nil {
		return nil
	}
	return &o.Options
}

func NewDefaultTransactionDBOptions() *TransactionDBOptions {
	return engine.NewDefaultTxnDBOptions()
}

func NewDefaultTransactionOptions() *TransactionOptions {
	return engine.NewDefaultTxnOptions()
}

func NewDefaultReadOptions() *ReadOptions {
	return engine.NewDefaultReadOptions()
}

func NewDefaultWriteOptions() *WriteOptions {
	return engine.NewDefaultWriteOptions()
}

// ColumnFamilyDescriptor names a column family to open together with its options.
type ColumnFamilyDescriptor struct {
	Name    string
	Options *Options
}

func NewColumnFamilyDescriptor(name string, opts *Options) ColumnFamilyDescriptor {
	return ColumnFamilyDescriptor{Name: name, Options: opts}
}

// OptionsFromConfig builds open options from a loaded config. The badger engine is
// instantiated with the config's tuning instead of the registered default.
func OptionsFromConfig(conf *config.Config) (*Options, *TransactionDBOptions, error) {
	mode, err := ParseThreadMode(conf.ThreadMode)
	if err != nil {
		return nil, nil, err
	}
	opts := NewDefaultOptions()
	opts.CreateIfMissing = conf.CreateIfMissing
	opts.CreateMissingColumnFamilies = conf.CreateIfMissing
	opts.ThreadMode = mode
	switch conf.Engine {
	case badgerengine.Name, "":
		badgerConf := conf.Badger
		opts.Engine = badgerengine.New(&badgerConf)
	case memengine.Name:
		opts.EngineName = memengine.Name
	default:
		opts.EngineName = conf.Engine
	}
	txnOpts := NewDefaultTransactionDBOptions()
	txnOpts.LockTimeout = conf.Txn.LockTimeout.Duration
	txnOpts.MaxNumLocks = conf.Txn.MaxNumLocks
	return opts, txnOpts, nil
}

// resolveEngine picks the engine of opts and makes sure it has been initialized.
func resolveEngine(opts *Options) (engine.Engine, error) {
	e := opts.Engine
	if e == nil {
		name := opts.EngineName
		if name == "" {
			name = DefaultEngineName
		}
		var ok bool
		if e, ok = engine.Get(name); !ok {
			return nil, newError(ErrKindInvalidArgument, fmt.Sprintf("unknown engine %q, registered: %v", name, engine.Names()))
		}
	}
	if err := engine.Init(e); err != nil {
		return nil, fromEngine(err)
	}
	return e, nil
}
