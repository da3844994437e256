package main

import (
	"fmt"
	"io"
	"os"

	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/txndb"
	"github.com/spf13/cobra"
)

var (
	scanFrom    string
	scanPrefix  string
	scanReverse bool
	scanLimit   int
)

func newListCFCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list-cf",
		Short: "List the column families of the database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			opts, _, err := txndb.OptionsFromConfig(conf)
			if err != nil {
				return err
			}
			names, err := txndb.ListCF(opts, conf.DBPath)
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	}
}

func newCreateCFCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "create-cf name",
		Short: "Create a column family",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				if err := db.CreateCF(args[0], &txndb.Options{}); err != nil {
					return err
				}
				fmt.Printf("Create column family %s ok\n", args[0])
				return nil
			})
		},
	}
}

func newDropCFCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "drop-cf name",
		Short: "Drop a column family and its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				if err := db.DropCF(args[0]); err != nil {
					return err
				}
				fmt.Printf("Drop column family %s ok\n", args[0])
				return nil
			})
		},
	}
}

func newGetCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "get key",
		Short: "Read a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				return runGet(os.Stdout, db, cfName, args[0])
			})
		},
	}
	m.Flags().StringVar(&cfName, "cf", "", "column family, default when empty")
	return m
}

func newPutCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "put key value",
		Short: "Write a key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				return runPut(os.Stdout, db, cfName, args[0], args[1])
			})
		},
	}
	m.Flags().StringVar(&cfName, "cf", "", "column family, default when empty")
	return m
}

func newDeleteCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "delete key",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				return runDelete(os.Stdout, db, cfName, args[0])
			})
		},
	}
	m.Flags().StringVar(&cfName, "cf", "", "column family, default when empty")
	return m
}

func newScanCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "scan",
		Short: "Iterate over a column family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				cf, release, err := columnFamily(db, cfName)
				if err != nil {
					return err
				}
				defer release()
				var it *txndb.DBIterator
				if scanPrefix != "" {
					it = db.PrefixIteratorCF(cf, []byte(scanPrefix))
				} else {
					it = db.IteratorCF(cf, scanMode(scanFrom, scanReverse))
				}
				defer it.Close()
				_, err = printScan(os.Stdout, it, scanLimit)
				return err
			})
		},
	}
	m.Flags().StringVar(&cfName, "cf", "", "column family, default when empty")
	m.Flags().StringVar(&scanFrom, "from", "", "start key")
	m.Flags().StringVar(&scanPrefix, "prefix", "", "only keys with this prefix, ignores --from and --reverse")
	m.Flags().BoolVar(&scanReverse, "reverse", false, "iterate in reverse order")
	m.Flags().IntVar(&scanLimit, "limit", 0, "stop after this many records, 0 means no limit")
	return m
}

func newDestroyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Remove the database and all its data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatic(txndb.Destroy, "Destroy")
		},
	}
}

func newRepairCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "repair",
		Short: "Try to recover a damaged database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatic(txndb.Repair, "Repair")
		},
	}
}

func runStatic(fn func(*txndb.Options, string) error, verb string) error {
	conf, err := loadConfig()
	if err != nil {
		return err
	}
	opts, _, err := txndb.OptionsFromConfig(conf)
	if err != nil {
		return err
	}
	if err = fn(opts, conf.DBPath); err != nil {
		return err
	}
	fmt.Printf("%s %s ok\n", verb, conf.DBPath)
	return nil
}

func scanMode(from string, reverse bool) txndb.IteratorMode {
	dir := txndb.Forward
	if reverse {
		dir = txndb.Reverse
	}
	switch {
	case from != "":
		return txndb.ModeFrom([]byte(from), dir)
	case reverse:
		return txndb.ModeEnd
	}
	return txndb.ModeStart
}

func runGet(w io.Writer, db *txndb.TransactionDB, cfName, key string) error {
	cf, release, err := columnFamily(db, cfName)
	if err != nil {
		return err
	}
	defer release()
	val, err := db.GetCF(cf, []byte(key))
	if err != nil {
		return err
	}
	if val == nil {
		fmt.Fprintf(w, "Read empty for %s\n", key)
		return nil
	}
	fmt.Fprintf(w, "%s=%q\n", key, val)
	return nil
}

func runPut(w io.Writer, db *txndb.TransactionDB, cfName, key, value string) error {
	cf, release, err := columnFamily(db, cfName)
	if err != nil {
		return err
	}
	defer release()
	if err = db.PutCF(cf, []byte(key), []byte(value)); err != nil {
		return err
	}
	fmt.Fprintf(w, "Put %s ok\n", key)
	return nil
}

func runDelete(w io.Writer, db *txndb.TransactionDB, cfName, key string) error {
	cf, release, err := columnFamily(db, cfName)
	if err != nil {
		return err
	}
	defer release()
	if err = db.DeleteCF(cf, []byte(key)); err != nil {
		return err
	}
	fmt.Fprintf(w, "Delete %s ok\n", key)
	return nil
}

// printScan writes up to limit records of it, all of them when limit is not positive.
func printScan(w io.Writer, it *txndb.DBIterator, limit int) (int, error) {
	n := 0
	for (limit <= 0 || n < limit) && it.Next() {
		fmt.Fprintf(w, "%s=%q\n", it.Key(), it.Value())
		n++
	}
	if err := it.Err(); err != nil {
		return n, err
	}
	fmt.Fprintf(w, "%d records\n", n)
	return n, nil
}
