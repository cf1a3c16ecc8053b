// Package sqlite is the store (component A/B): a single SQLite database in
// WAL mode plus the transaction closures (component C) that are the only
// way the rest of the daemon is allowed to mutate it. It generalizes the
// teacher's internal/storage/sqlite package (memory_store.go,
// search_provider.go, embedding_provider.go, migrations.go) from Memento's
// domain onto this spec's memory/embedding/history/job/entity schema, and
// swaps the teacher's always-open *sql.DB for an explicit process-wide
// accessor with a dedicated single-writer connection, matching spec §4.B.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Accessor is the process-wide store singleton described in spec §4.B:
// init(dbPath) at startup, close() at shutdown, withReadDb/withWriteTx in
// between. The write handle is capped to a single connection so SQLite's
// own single-writer rule is enforced at the pool level, and a mutex adds a
// second layer so BEGIN IMMEDIATE calls queue in FIFO order instead of
// contending inside the driver.
type Accessor struct {
	writeDB *sql.DB
	readDB  *sql.DB
	writeMu sync.Mutex
}

var (
	singleton   *Accessor
	singletonMu sync.Mutex
)

// Init opens (or creates) the database at dbPath, heals a stale WAL lock
// left by a killed previous process, runs migrations, and installs the
// singleton. Call once at daemon startup.
func Init(dbPath string) (*Accessor, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()

	healStaleWAL(dbPath)

	writeDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: open write handle: %w", err)
	}
	writeDB.SetMaxOpenConns(1)

	if _, err := writeDB.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: enable WAL: %w", err)
	}
	if _, err := writeDB.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: set busy_timeout: %w", err)
	}
	if _, err := writeDB.Exec(`PRAGMA foreign_keys=ON;`); err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: enable foreign keys: %w", err)
	}

	if err := applyMigrations(writeDB); err != nil {
		writeDB.Close()
		return nil, err
	}

	readDB, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&mode=ro")
	if err != nil {
		writeDB.Close()
		return nil, fmt.Errorf("store: open read handle: %w", err)
	}
	readDB.SetMaxOpenConns(4)

	a := &Accessor{writeDB: writeDB, readDB: readDB}
	singleton = a
	return a, nil
}

// Get returns the process-wide Accessor installed by Init. Panics if Init
// was never called — a programmer error, since every request path is
// wired through main after store init completes.
func Get() *Accessor {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton == nil {
		panic("sqlite: accessor used before Init")
	}
	return singleton
}

// Close releases both handles. Call once at daemon shutdown.
func (a *Accessor) Close() error {
	var firstErr error
	if err := a.readDB.Close(); err != nil {
		firstErr = err
	}
	if err := a.writeDB.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// WithReadDb runs fn against the read-only pool. fn must not mutate.
func (a *Accessor) WithReadDb(ctx context.Context, fn func(ctx context.Context, db *sql.DB) error) error {
	return fn(ctx, a.readDB)
}

// WithWriteTx runs fn inside a single serialized BEGIN IMMEDIATE
// transaction: commits on nil return, rolls back otherwise. Spec §4.B:
// "Write transactions are serialized (single-writer discipline)".
func (a *Accessor) WithWriteTx(ctx context.Context, fn func(ctx context.Context, tx *sql.Tx) error) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	tx, err := a.writeDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin write tx: %w", err)
	}
	if err := fn(ctx, tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// healStaleWAL removes a leftover -wal/-shm pair from an unclean shutdown
// when no live process currently holds the database open. This is not in
// the teacher repo verbatim; it generalizes the same "don't trust a lock
// file, check who holds it" instinct this codebase applies elsewhere
// (never blindly deleting state without checking ownership first).
func healStaleWAL(dbPath string) {
	shm := dbPath + "-shm"
	wal := dbPath + "-wal"
	if _, err := os.Stat(shm); err != nil {
		return
	}
	if processHoldsFile(dbPath) {
		return
	}
	os.Remove(shm)
	os.Remove(wal)
}

func processHoldsFile(path string) bool {
	out, err := exec.Command("lsof", path).CombinedOutput()
	if err != nil {
		// lsof absent or found nothing referencing the path — treat as
		// not held, matching lsof's own "no output" convention.
		return false
	}
	return strings.Contains(string(out), path)
}

// now is the single source of wall-clock timestamps across the store so
// every written column uses the same format (RFC3339 with seconds).
func now() time.Time { return time.Now().UTC() }

func formatTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }
