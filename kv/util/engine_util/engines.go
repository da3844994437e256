package engine_util

import (
	"os"

	"github.com/Connor1996/badger"
	"github.com/ngaut/log"
	"github.com/pingcap-incubator/txndb/kv/config"
	"github.com/pingcap/errors"
)

// BadgerOptions translates the config into badger options rooted at dir.
func BadgerOptions(dir string, conf *config.Badger) badger.Options {
	opts := badger.DefaultOptions
	opts.Dir = dir
	opts.ValueDir = dir
	if conf == nil {
		return opts
	}
	opts.NumCompactors = conf.NumCompactors
	opts.ValueThreshold = conf.ValueThreshold
	if n := config.SizeOf(conf.VlogFileSize); n > 0 {
		opts.ValueLogFileSize = n
	}
	if n := config.SizeOf(conf.MaxTableSize); n > 0 {
		opts.MaxTableSize = n
	}
	if n := config.SizeOf(conf.MaxCacheSize); n > 0 {
		opts.MaxCacheSize = n
	}
	opts.NumMemtables = conf.NumMemTables
	opts.NumLevelZeroTables = conf.NumL0Tables
	opts.NumLevelZeroTablesStall = conf.NumL0TablesStall
	opts.SyncWrites = conf.SyncWrites
	return opts
}

// CreateDB opens a badger DB on disk at dir, creating the directory first.
func CreateDB(dir string, conf *config.Badger) (*badger.DB, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, errors.WithStack(err)
	}
	db, err := badger.Open(BadgerOptions(dir, conf))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	log.Debugf("badger db opened at %s", dir)
	return db, nil
}
