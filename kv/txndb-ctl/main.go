package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/engine"
	"github.com/pingcap-incubator/txndb/kv/txndb"
	"github.com/pingcap-incubator/txndb/kv/util"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"

	// Register engines
	_ "github.com/pingcap-incubator/txndb/kv/engine/badgerengine"
	_ "github.com/pingcap-incubator/txndb/kv/engine/memengine"
)

var (
	configPath string
	dbPath     string
	engineName string
	threadMode string
	logLevel   string
	statusAddr string
	cfName     string

	globalContext context.Context
	globalCancel  context.CancelFunc
)

var (
	gitHash = "None"
)

// loadConfig reads --config, or the defaults, and applies the command line overrides.
func loadConfig() (*config.Config, error) {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		var err error
		if conf, err = config.LoadFile(configPath); err != nil {
			return nil, err
		}
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	if engineName != "" {
		conf.Engine = engineName
	}
	if threadMode != "" {
		conf.ThreadMode = threadMode
	}
	if logLevel != "" {
		conf.LogLevel = logLevel
	}
	if statusAddr != "" {
		conf.StatusAddr = statusAddr
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	log.SetLevelByString(conf.LogLevel)
	return conf, nil
}

// openDB opens the configured database together with every column family it already has.
func openDB(conf *config.Config) (*txndb.TransactionDB, error) {
	opts, txnOpts, err := txndb.OptionsFromConfig(conf)
	if err != nil {
		return nil, err
	}
	if util.DirExists(conf.DBPath) {
		if names, err := txndb.ListCF(opts, conf.DBPath); err == nil {
			return txndb.OpenCF(opts, txnOpts, conf.DBPath, names...)
		}
	}
	// A new store is opened with the default column family so it shows up in listings.
	return txndb.OpenCF(opts, txnOpts, conf.DBPath, engine.DefaultColumnFamilyName)
}

// withDB runs fn against the configured database and closes it afterwards.
func withDB(fn func(db *txndb.TransactionDB, conf *config.Config) error) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(conf)
	if err != nil {
		return err
	}
	if conf.StatusAddr != "" {
		stop := serveStatus(conf.StatusAddr, db)
		defer stop()
	}
	err = fn(db, conf)
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	return err
}

// columnFamily resolves --cf. An empty name is the default column family.
func columnFamily(db *txndb.TransactionDB, name string) (txndb.ColumnFamilyRef, func(), error) {
	if name == "" {
		return nil, func() {}, nil
	}
	cf := db.CFHandle(name)
	if cf == nil {
		return nil, nil, errors.Errorf("column family %s not found", name)
	}
	return cf, cf.Release, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "txndb-ctl",
		Short:         "Transactional key value store command line tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "config file path, toml or yaml")
	flags.StringVar(&dbPath, "db", "", "database directory, overrides db-path")
	flags.StringVar(&engineName, "engine", "", "storage engine, badger or memory")
	flags.StringVar(&threadMode, "thread-mode", "", "column family handle mode, single or multi")
	flags.StringVar(&logLevel, "log-level", "", "log level, overrides log-level")
	flags.StringVar(&statusAddr, "status-addr", "", "serve /metrics and /status on this address")

	root.AddCommand(
		newListCFCommand(),
		newCreateCFCommand(),
		newDropCFCommand(),
		newGetCommand(),
		newPutCommand(),
		newDeleteCommand(),
		newScanCommand(),
		newDestroyCommand(),
		newRepairCommand(),
		newLoadCommand(),
		newStatsCommand(),
		newShellCommand(),
	)
	return root
}

func main() {
	globalContext, globalCancel = context.WithCancel(context.Background())
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds | log.Lshortfile)
	log.Info("gitHash:", gitHash)

	sc := make(chan os.Signal, 1)
	signal.Notify(sc,
		syscall.SIGHUP,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT)

	closeDone := make(chan struct{}, 1)
	go func() {
		select {
		case sig := <-sc:
			log.Infof("Got signal [%s] to exit.", sig)
			globalCancel()
		case <-closeDone:
			return
		}
		select {
		case <-sc:
			os.Exit(1)
		case <-time.After(10 * time.Second):
			log.Warn("wait 10s for close, force exit")
			os.Exit(1)
		case <-closeDone:
		}
	}()

	cobra.EnablePrefixMatching = true
	err := newRootCommand().Execute()
	globalCancel()
	closeDone <- struct{}{}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
