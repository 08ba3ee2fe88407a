// Package store is the sensor store: the latest reading slot, the
// append-only reading history and the current health record slot.
//
// Store is the contract the HTTP boundary depends on. Three backends
// implement it:
//   - Memory:   RW-mutex guarded, history capped at a fixed length (default)
//   - SQLite:   mattn/go-sqlite3, single file in WAL mode
//   - Postgres: jackc/pgx connection pool
//
// Open(ctx, Options) selects a backend by name. Backend I/O failures are
// returned as *UnavailableError so callers can tell "the store is down" from
// "there is no data" (the bool result of Latest and CurrentHealth).
package store
