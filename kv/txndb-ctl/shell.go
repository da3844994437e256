package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/chzyer/readline"
	"github.com/mattn/go-shellwords"
	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/txndb"
	"github.com/pingcap/errors"
	"github.com/spf13/cobra"
)

func newShellCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive client, supports transactions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, conf *config.Config) error {
				sh := newShell(db, os.Stdout)
				defer sh.close()
				return sh.loop(filepath.Join(os.TempDir(), "txndb-ctl.history"))
			})
		},
	}
}

// shell keeps the state of an interactive session. While a transaction is open,
// reads and writes go through it.
type shell struct {
	db  *txndb.TransactionDB
	out io.Writer
	txn *txndb.Transaction
}

func newShell(db *txndb.TransactionDB, out io.Writer) *shell {
	return &shell{db: db, out: out}
}

func (sh *shell) close() {
	if sh.txn != nil {
		sh.txn.Discard()
		sh.txn = nil
	}
}

func (sh *shell) loop(historyFile string) error {
	l, err := readline.NewEx(&readline.Config{
		Prompt:            "\033[31m»\033[0m ",
		HistoryFile:       historyFile,
		InterruptPrompt:   "^C",
		EOFPrompt:         "^D",
		HistorySearchFold: true,
	})
	if err != nil {
		return errors.Trace(err)
	}
	defer l.Close()

	for {
		line, err := l.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				return nil
			}
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err = sh.run(line); err != nil {
			fmt.Fprintf(sh.out, "Error: %v\n", err)
		}
		if globalContext != nil && globalContext.Err() != nil {
			return nil
		}
	}
}

// run executes one shell line.
func (sh *shell) run(line string) error {
	args, err := shellwords.Parse(line)
	if err != nil {
		return errors.Annotatef(err, "parse %q", line)
	}
	if len(args) == 0 {
		return nil
	}
	cmd := sh.command()
	cmd.SetArgs(args)
	cmd.SetOutput(sh.out)
	return cmd.Execute()
}

func (sh *shell) command() *cobra.Command {
	var cf string
	root := &cobra.Command{
		Use:           "shell",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cf, "cf", "", "column family, default when empty")

	root.AddCommand(
		&cobra.Command{
			Use:                   "get key",
			Short:                 "Read a key",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.get(cf, args[0])
			},
		},
		&cobra.Command{
			Use:                   "put key value",
			Short:                 "Write a key",
			Args:                  cobra.ExactArgs(2),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.put(cf, args[0], args[1])
			},
		},
		&cobra.Command{
			Use:                   "delete key",
			Short:                 "Delete a key",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.delete(cf, args[0])
			},
		},
		&cobra.Command{
			Use:                   "scan [start] [limit]",
			Short:                 "Scan starting at key",
			Args:                  cobra.MaximumNArgs(2),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.scan(cf, args)
			},
		},
		&cobra.Command{
			Use:                   "list-cf",
			Short:                 "List the open column families",
			Args:                  cobra.NoArgs,
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				for _, name := range sh.db.ColumnFamilyNames() {
					fmt.Fprintln(sh.out, name)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:                   "create-cf name",
			Short:                 "Create a column family",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := sh.db.CreateCF(args[0], &txndb.Options{}); err != nil {
					return err
				}
				fmt.Fprintf(sh.out, "Create column family %s ok\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:                   "drop-cf name",
			Short:                 "Drop a column family",
			Args:                  cobra.ExactArgs(1),
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				if err := sh.db.DropCF(args[0]); err != nil {
					return err
				}
				fmt.Fprintf(sh.out, "Drop column family %s ok\n", args[0])
				return nil
			},
		},
		&cobra.Command{
			Use:                   "begin",
			Short:                 "Start a transaction",
			Args:                  cobra.NoArgs,
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.begin()
			},
		},
		&cobra.Command{
			Use:                   "commit",
			Short:                 "Commit the open transaction",
			Args:                  cobra.NoArgs,
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.finish(true)
			},
		},
		&cobra.Command{
			Use:                   "rollback",
			Short:                 "Roll back the open transaction",
			Args:                  cobra.NoArgs,
			DisableFlagsInUseLine: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return sh.finish(false)
			},
		},
	)
	return root
}

func (sh *shell) begin() error {
	if sh.txn != nil {
		return errors.New("a transaction is already open")
	}
	txn, err := sh.db.Transaction()
	if err != nil {
		return err
	}
	sh.txn = txn
	fmt.Fprintln(sh.out, "Begin ok")
	return nil
}

// finish commits or rolls back the open transaction. A commit conflict leaves it open
// so it can be rolled back.
func (sh *shell) finish(commit bool) error {
	if sh.txn == nil {
		return errors.New("no transaction is open")
	}
	if commit {
		if err := sh.txn.Commit(); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "Commit ok")
	} else {
		if err := sh.txn.Rollback(); err != nil {
			return err
		}
		fmt.Fprintln(sh.out, "Rollback ok")
	}
	sh.txn.Discard()
	sh.txn = nil
	return nil
}

func (sh *shell) get(cfName, key string) error {
	if sh.txn == nil {
		return runGet(sh.out, sh.db, cfName, key)
	}
	cf, release, err := columnFamily(sh.db, cfName)
	if err != nil {
		return err
	}
	defer release()
	val, err := sh.txn.GetCF(cf, []byte(key))
	if err != nil {
		return err
	}
	if val == nil {
		fmt.Fprintf(sh.out, "Read empty for %s\n", key)
		return nil
	}
	fmt.Fprintf(sh.out, "%s=%q\n", key, val)
	return nil
}

func (sh *shell) put(cfName, key, value string) error {
	if sh.txn == nil {
		return runPut(sh.out, sh.db, cfName, key, value)
	}
	cf, release, err := columnFamily(sh.db, cfName)
	if err != nil {
		return err
	}
	defer release()
	if err = sh.txn.PutCF(cf, []byte(key), []byte(value)); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Put %s ok\n", key)
	return nil
}

func (sh *shell) delete(cfName, key string) error {
	if sh.txn == nil {
		return runDelete(sh.out, sh.db, cfName, key)
	}
	cf, release, err := columnFamily(sh.db, cfName)
	if err != nil {
		return err
	}
	defer release()
	if err = sh.txn.DeleteCF(cf, []byte(key)); err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "Delete %s ok\n", key)
	return nil
}

func (sh *shell) scan(cfName string, args []string) error {
	var start string
	limit := 0
	if len(args) > 0 {
		start = args[0]
	}
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return errors.Errorf("invalid record count %s for scan", args[1])
		}
		limit = n
	}
	cf, release, err := columnFamily(sh.db, cfName)
	if err != nil {
		return err
	}
	defer release()
	mode := scanMode(start, false)
	var it *txndb.DBIterator
	if sh.txn != nil {
		it = sh.txn.IteratorCF(cf, mode)
	} else {
		it = sh.db.IteratorCF(cf, mode)
	}
	defer it.Close()
	_, err = printScan(sh.out, it, limit)
	return err
}
