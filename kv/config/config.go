package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/docker/go-units"
	"github.com/ghodss/yaml"
	"github.com/ngaut/log"
	"github.com/pingcap/errors"
)

type Config struct {
	DBPath          string `toml:"db-path" json:"db-path"` // Directory to store the data in. Created on open.
	Engine          string `toml:"engine" json:"engine"`   // Registered engine name, "badger" or "memory".
	ThreadMode      string `toml:"thread-mode" json:"thread-mode"`
	CreateIfMissing bool   `toml:"create-if-missing" json:"create-if-missing"`
	LogLevel        string `toml:"log-level" json:"log-level"`
	StatusAddr      string `toml:"status-addr" json:"status-addr"` // Serves /metrics and /status when not empty.

	Badger Badger `toml:"badger" json:"badger"`
	Txn    Txn    `toml:"txn" json:"txn"`
}

// Badger holds the tuning knobs handed to the badger engine.
type Badger struct {
	ValueThreshold   int    `toml:"value-threshold" json:"value-threshold"` // If value size >= this threshold, only store value offsets in tree.
	MaxTableSize     string `toml:"max-table-size" json:"max-table-size"`   // Each table is at most this size.
	NumMemTables     int    `toml:"num-mem-tables" json:"num-mem-tables"`
	NumL0Tables      int    `toml:"num-L0-tables" json:"num-L0-tables"`
	NumL0TablesStall int    `toml:"num-L0-tables-stall" json:"num-L0-tables-stall"`
	VlogFileSize     string `toml:"vlog-file-size" json:"vlog-file-size"`
	MaxCacheSize     string `toml:"max-cache-size" json:"max-cache-size"`
	NumCompactors    int    `toml:"num-compactors" json:"num-compactors"`

	// Sync all writes to disk. Setting this to true would slow down data loading significantly.
	SyncWrites bool `toml:"sync-writes" json:"sync-writes"`
}

type Txn struct {
	LockTimeout Duration `toml:"lock-timeout" json:"lock-timeout"`
	MaxNumLocks int64    `toml:"max-num-locks" json:"max-num-locks"` // -1 means unlimited.
}

// Duration wraps time.Duration so it can be written as "1s" in config files.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return errors.WithStack(err)
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalJSON accepts the quoted form produced by ghodss/yaml.
func (d *Duration) UnmarshalJSON(b []byte) error {
	return d.UnmarshalText([]byte(strings.Trim(string(b), `"`)))
}

const (
	KB uint64 = 1024
	MB uint64 = 1024 * 1024
)

const (
	ThreadModeSingle = "single"
	ThreadModeMulti  = "multi"
)

func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("db-path must not be empty")
	}
	switch c.ThreadMode {
	case ThreadModeSingle, ThreadModeMulti:
	default:
		return fmt.Errorf("unknown thread-mode %q, expect %q or %q", c.ThreadMode, ThreadModeSingle, ThreadModeMulti)
	}
	for name, size := range map[string]string{
		"max-table-size": c.Badger.MaxTableSize,
		"vlog-file-size": c.Badger.VlogFileSize,
		"max-cache-size": c.Badger.MaxCacheSize,
	} {
		if _, err := units.RAMInBytes(size); err != nil {
			return fmt.Errorf("invalid %s %q: %v", name, size, err)
		}
	}
	if c.Badger.NumL0TablesStall <= c.Badger.NumL0Tables {
		return fmt.Errorf("num-L0-tables-stall must be greater than num-L0-tables")
	}
	if !c.Badger.SyncWrites {
		log.Warnf("sync-writes is disabled, committed writes may be lost on crash.")
	}
	return nil
}

// SizeOf parses a human readable size such as "64MB". Validate must have passed.
func SizeOf(size string) int64 {
	n, err := units.RAMInBytes(size)
	if err != nil {
		return 0
	}
	return n
}

func getLogLevel() (logLevel string) {
	logLevel = "info"
	if l := os.Getenv("LOG_LEVEL"); len(l) != 0 {
		logLevel = l
	}
	return
}

// LoadFile reads a toml file, or a yaml/json file judged by its extension, over the defaults.
func LoadFile(path string) (*Config, error) {
	conf := NewDefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		data, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.Trace(err)
		}
		if err = yaml.Unmarshal(data, conf); err != nil {
			return nil, errors.Annotatef(err, "decode config %s", path)
		}
	default:
		if _, err := toml.DecodeFile(path, conf); err != nil {
			return nil, errors.Annotatef(err, "decode config %s", path)
		}
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return conf, nil
}

func NewDefaultConfig() *Config {
	return &Config{
		DBPath:          "/tmp/txndb",
		Engine:          "badger",
		ThreadMode:      ThreadModeSingle,
		CreateIfMissing: true,
		LogLevel:        getLogLevel(),
		Badger: Badger{
			ValueThreshold:   256,
			MaxTableSize:     "64MB",
			NumMemTables:     3,
			NumL0Tables:      4,
			NumL0TablesStall: 8,
			VlogFileSize:     "256MB",
			MaxCacheSize:     "64MB",
			NumCompactors:    1,
			SyncWrites:       true,
		},
		Txn: Txn{
			LockTimeout: Duration{time.Second},
			MaxNumLocks: -1,
		},
	}
}

func NewTestConfig() *Config {
	return &Config{
		DBPath:          "/tmp/txndb-test",
		Engine:          "badger",
		ThreadMode:      ThreadModeSingle,
		CreateIfMissing: true,
		LogLevel:        getLogLevel(),
		Badger: Badger{
			ValueThreshold:   256,
			MaxTableSize:     "4MB",
			NumMemTables:     2,
			NumL0Tables:      2,
			NumL0TablesStall: 4,
			VlogFileSize:     "16MB",
			MaxCacheSize:     "8MB",
			NumCompactors:    1,
			SyncWrites:       false,
		},
		Txn: Txn{
			LockTimeout: Duration{100 * time.Millisecond},
			MaxNumLocks: -1,
		},
	}
}
