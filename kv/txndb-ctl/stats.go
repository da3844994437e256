package main

import (
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/txndb"
	"github.com/pingcap-incubator/txndb/kv/util"
	"github.com/pingcap/errors"
	"github.com/shirou/gopsutil/disk"
	"github.com/spf13/cobra"
)

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show disk usage and record counts per column family",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, conf *config.Config) error {
				st, err := collectStats(db)
				if err != nil {
					return err
				}
				st.print(os.Stdout)
				return nil
			})
		},
	}
}

type cfStats struct {
	name string
	keys int
	size int
}

type dbStats struct {
	path      string
	mode      txndb.ThreadMode
	dataSize  uint64
	files     int
	diskTotal uint64
	diskFree  uint64
	cfs       []cfStats
}

func collectStats(db *txndb.TransactionDB) (*dbStats, error) {
	st := &dbStats{path: db.Path(), mode: db.ThreadMode()}
	var err error
	if st.dataSize, st.files, err = util.DirSize(db.Path()); err != nil {
		return nil, err
	}
	usage, err := disk.Usage(db.Path())
	if err != nil {
		return nil, errors.Annotatef(err, "disk usage of %s", db.Path())
	}
	st.diskTotal, st.diskFree = usage.Total, usage.Free

	names := db.ColumnFamilyNames()
	if len(names) == 0 {
		names = []string{""}
	}
	for _, name := range names {
		cf, release, err := columnFamily(db, name)
		if err != nil {
			return nil, err
		}
		s := cfStats{name: name}
		it := db.FullIteratorCF(cf, txndb.ModeStart)
		for it.Next() {
			s.keys++
			s.size += len(it.Key()) + len(it.Value())
		}
		err = it.Err()
		it.Close()
		release()
		if err != nil {
			return nil, err
		}
		if s.name == "" {
			s.name = "default"
		}
		st.cfs = append(st.cfs, s)
	}
	return st, nil
}

func (st *dbStats) print(w io.Writer) {
	fmt.Fprintf(w, "Path: %s, Thread mode: %s\n", st.path, st.mode)
	fmt.Fprintf(w, "Data: %s in %d files\n", units.HumanSize(float64(st.dataSize)), st.files)
	fmt.Fprintf(w, "Disk: %s free of %s\n", units.HumanSize(float64(st.diskFree)), units.HumanSize(float64(st.diskTotal)))
	for _, cf := range st.cfs {
		fmt.Fprintf(w, "  %s: %d keys, %s\n", cf.name, cf.keys, units.HumanSize(float64(cf.size)))
	}
}
