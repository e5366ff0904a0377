// Package migrations applies the embedded *.up.sql files, in filename
// order, each file inside its own transaction, tracking applied versions in a
// bookkeeping table. Modeled on the teacher's perf/go/sql/migrations
// Up/Down split, but hand-rolled over database/sql + embed.FS instead
// of golang-migrate, which the teacher's go.mod never pulls in.
package migrations

import (
	"context"
	"database/sql"
	"embed"
	"sort"
	"strings"

	"go.bencher.dev/core/bencher/ambient/skerr"
)

//go:embed *.up.sql *.down.sql
var files embed.FS

const bookkeepingTable = `CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)`

// Up applies every *.up.sql migration not already recorded as applied,
// in filename order, each inside its own transaction.
func Up(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, bookkeepingTable); err != nil {
		return skerr.Wrapf(err, "creating schema_migrations table")
	}
	names, err := upFilenames()
	if err != nil {
		return err
	}
	for _, name := range names {
		version := strings.TrimSuffix(name, ".up.sql")
		applied, err := isApplied(ctx, db, version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}
		if err := applyOne(ctx, db, name, version); err != nil {
			return skerr.Wrapf(err, "applying migration %s", name)
		}
	}
	return nil
}

func upFilenames() ([]string, error) {
	entries, err := files.ReadDir(".")
	if err != nil {
		return nil, skerr.Wrapf(err, "reading embedded migrations")
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func isApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT count(*) FROM schema_migrations WHERE version = ?`, version).Scan(&count)
	if err != nil {
		return false, skerr.Wrapf(err, "checking migration version %s", version)
	}
	return count > 0, nil
}

func applyOne(ctx context.Context, db *sql.DB, filename, version string) error {
	contents, err := files.ReadFile(filename)
	if err != nil {
		return skerr.Wrapf(err, "reading %s", filename)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(string(contents)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return skerr.Wrapf(err, "executing statement in %s", filename)
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
		return skerr.Wrap(err)
	}
	return tx.Commit()
}

// Down reverses the most recently applied migration using its
// *.down.sql counterpart. Intended for local development and tests,
// not production rollback.
func Down(ctx context.Context, db *sql.DB) error {
	var version string
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return skerr.Wrap(err)
	}
	contents, err := files.ReadFile(version + ".down.sql")
	if err != nil {
		return skerr.Wrapf(err, "reading down migration for %s", version)
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return skerr.Wrap(err)
	}
	defer tx.Rollback()

	for _, stmt := range splitStatements(string(contents)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return skerr.Wrapf(err, "executing down statement for %s", version)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = ?`, version); err != nil {
		return skerr.Wrap(err)
	}
	return tx.Commit()
}

func splitStatements(sqlText string) []string {
	var out []string
	for _, stmt := range strings.Split(sqlText, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
