package sqlite

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"
)

// migration is one deterministically-ordered schema step. sql may contain
// multiple statements; optional migrations tolerate "duplicate column" /
// "already exists" failures so they can be safely re-applied against a
// database that already has the column (spec §4.A: "missing columns on
// legacy databases are additively added via ALTER TABLE").
type migration struct {
	version  int
	name     string
	sql      string
	optional bool
}

// applyMigrations runs every pending schemaStatements entry in ascending
// version order inside the single writer connection, tracking progress in
// schema_migrations. A migration that cannot apply aborts startup (spec
// §4.A) — the one exception is an `optional` migration whose failure looks
// like an idempotent no-op (column/table already exists).
func applyMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("migrations: create tracking table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query(`SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("migrations: read applied versions: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("migrations: scan applied version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()

	ordered := append([]migration(nil), schemaStatements...)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].version < ordered[j].version })

	for _, m := range ordered {
		if applied[m.version] {
			continue
		}
		if err := runMigration(db, m); err != nil {
			return fmt.Errorf("migrations: apply %d_%s: %w", m.version, m.name, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_migrations(version) VALUES (?)`, m.version); err != nil {
			return fmt.Errorf("migrations: record version %d: %w", m.version, err)
		}
	}
	return nil
}

func runMigration(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(m.sql) {
		if _, err := tx.Exec(stmt); err != nil {
			if m.optional && isBenignDDLError(err) {
				continue
			}
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func isBenignDDLError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") ||
		strings.Contains(msg, "already exists")
}

// splitStatements breaks a multi-statement migration blob on ";" at
// top level. Migrations here never embed a literal semicolon inside a
// string value, so a plain split is sufficient.
func splitStatements(sqlBlob string) []string {
	var out []string
	for _, part := range strings.Split(sqlBlob, ";") {
		s := strings.TrimSpace(part)
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out
}
