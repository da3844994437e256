package txndb

/*
txndb is a safe handle layer over an embedded transactional key/value engine. It opens a database together with its
column families, hands out column family handles under one of two threading policies and tears everything down in the
order the engine requires: column family handles first, then the database.

The `txndb` module is organized into the following packages:

* `kv/txndb`: the public API. TransactionDB, column family handles, transactions, snapshots, iterators and write batches.
* `kv/engine`: the interfaces an engine implements, plus an engine registry and merge operators. Two engines are
  provided, `badgerengine` (persistent, built on badger) and `memengine` (in memory, used by tests and tooling).
* `kv/config`: configuration loaded from toml or yaml.
* `kv/util`: helpers shared by the engines and the command line tool.
* `kv/txndb-ctl`: an operator tool with an interactive shell.
*/
