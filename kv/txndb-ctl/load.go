package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/montanaflynn/stats"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap-incubator/txndb/kv/txndb"
	"github.com/pingcap-incubator/txndb/kv/util/worker"
	"github.com/spf13/cobra"
	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

type loadOptions struct {
	count     int
	workers   int
	rate      int
	valueSize int
	keyPrefix string
	txn       bool
}

var loadOpts = loadOptions{
	count:     10000,
	workers:   4,
	valueSize: 128,
	keyPrefix: "key",
}

func newLoadCommand() *cobra.Command {
	m := &cobra.Command{
		Use:   "load",
		Short: "Write generated records and report latencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(db *txndb.TransactionDB, _ *config.Config) error {
				cf, release, err := columnFamily(db, cfName)
				if err != nil {
					return err
				}
				defer release()
				res, err := runLoad(globalContext, db, cf, loadOpts)
				if err != nil {
					return err
				}
				res.print(os.Stdout)
				return nil
			})
		},
	}
	m.Flags().StringVar(&cfName, "cf", "", "column family, default when empty")
	m.Flags().IntVar(&loadOpts.count, "count", loadOpts.count, "number of records to write")
	m.Flags().IntVar(&loadOpts.workers, "workers", loadOpts.workers, "number of concurrent writers")
	m.Flags().IntVar(&loadOpts.rate, "rate", 0, "writes per second, 0 means unlimited")
	m.Flags().IntVar(&loadOpts.valueSize, "value-size", loadOpts.valueSize, "value size in bytes")
	m.Flags().StringVar(&loadOpts.keyPrefix, "key-prefix", loadOpts.keyPrefix, "prefix of generated keys")
	m.Flags().BoolVar(&loadOpts.txn, "txn", false, "write every record in its own transaction")
	return m
}

type loadResult struct {
	written   int64
	failed    int64
	conflicts int64
	elapsed   time.Duration
	latencies stats.Float64Data // microseconds
}

func (r *loadResult) print(w io.Writer) {
	fmt.Fprintf(w, "Takes(s): %.1f, Count: %d, Failed: %d, Conflicts: %d, OPS: %.1f\n",
		r.elapsed.Seconds(), r.written, r.failed, r.conflicts, float64(r.written)/r.elapsed.Seconds())
	if len(r.latencies) == 0 {
		return
	}
	avg, _ := stats.Mean(r.latencies)
	p50, _ := stats.Percentile(r.latencies, 50)
	p99, _ := stats.Percentile(r.latencies, 99)
	max, _ := stats.Max(r.latencies)
	fmt.Fprintf(w, "Avg(us): %.0f, 50th(us): %.0f, 99th(us): %.0f, Max(us): %.0f\n", avg, p50, p99, max)
}

// loadHandler writes the records handed to one worker and keeps its own latency samples.
type loadHandler struct {
	db        *txndb.TransactionDB
	cf        txndb.ColumnFamilyRef
	conf      loadOptions
	value     []byte
	samples   []float64
	written   *atomic.Int64
	failed    *atomic.Int64
	conflicts *atomic.Int64
}

func (h *loadHandler) Handle(t worker.Task) {
	key := []byte(fmt.Sprintf("%s%010d", h.conf.keyPrefix, t.(int)))
	start := time.Now()
	var err error
	if h.conf.txn {
		err = h.putTxn(key)
	} else {
		err = h.db.PutCF(h.cf, key, h.value)
	}
	if err != nil {
		h.failed.Inc()
		log.Warnf("load write %s failed: %v", key, err)
		return
	}
	us := float64(time.Since(start)) / float64(time.Microsecond)
	h.samples = append(h.samples, us)
	h.written.Inc()
}

// putTxn retries a conflicting transaction a few times before giving up.
func (h *loadHandler) putTxn(key []byte) error {
	var err error
	for i := 0; i < 3; i++ {
		var txn *txndb.Transaction
		if txn, err = h.db.Transaction(); err != nil {
			return err
		}
		if err = txn.PutCF(h.cf, key, h.value); err == nil {
			err = txn.Commit()
		}
		txn.Discard()
		if !txndb.IsConflict(err) {
			return err
		}
		h.conflicts.Inc()
	}
	return err
}

func runLoad(ctx context.Context, db *txndb.TransactionDB, cf txndb.ColumnFamilyRef, conf loadOptions) (*loadResult, error) {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if conf.rate > 0 {
		limiter = rate.NewLimiter(rate.Limit(conf.rate), conf.rate)
	}
	value := make([]byte, conf.valueSize)
	for i := range value {
		value[i] = 'a' + byte(i%26)
	}
	written, failed, conflicts := atomic.NewInt64(0), atomic.NewInt64(0), atomic.NewInt64(0)

	pool := worker.NewPool("load", conf.workers)
	handlers := make([]*loadHandler, pool.Size())
	pool.Start(func(i int) worker.TaskHandler {
		handlers[i] = &loadHandler{
			db:        db,
			cf:        cf,
			conf:      conf,
			value:     value,
			written:   written,
			failed:    failed,
			conflicts: conflicts,
		}
		return handlers[i]
	})

	start := time.Now()
	var err error
	for i := 0; i < conf.count; i++ {
		if err = limiter.Wait(ctx); err != nil {
			break
		}
		pool.Sender() <- i
	}
	pool.Stop()

	res := &loadResult{
		written:   written.Load(),
		failed:    failed.Load(),
		conflicts: conflicts.Load(),
		elapsed:   time.Since(start),
	}
	for _, h := range handlers {
		res.latencies = append(res.latencies, h.samples...)
	}
	if err != nil && ctx.Err() == nil {
		return res, err
	}
	return res, nil
}
