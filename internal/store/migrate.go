package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/wallchat/internal/store/migrations"
)

// MigrateResult describes what Migrate did to the snapshot schema.
type MigrateResult struct {
	// From is the version found on open; 0 for a new database.
	From uint
	// Version is the version reached.
	Version uint
	// Rebuilt is set when the schema was dropped and created again.
	Rebuilt bool
}

// Changed reports whether Migrate altered the schema.
func (r *MigrateResult) Changed() bool {
	return r.Rebuilt || r.From != r.Version
}

// Migrate brings the snapshot schema to the latest version. Apart from
// preferences, everything stored here can be fetched again from the server,
// so a schema left dirty by an interrupted migration, or written by a newer
// build, is rebuilt from scratch rather than failing startup. Preferences
// survive the rebuild.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, latest, err := db.migrator()
	if err != nil {
		return nil, err
	}
	from, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return nil, fmt.Errorf("schema version: %w", err)
	}

	result := &MigrateResult{From: from}
	var kept []Preference
	if dirty || from > latest {
		if kept, err = db.dropSchema(); err != nil {
			return nil, err
		}
		result.Rebuilt = true
		if m, _, err = db.migrator(); err != nil {
			return nil, err
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migration up: %w", err)
	}
	if result.Version, _, err = m.Version(); err != nil {
		return nil, fmt.Errorf("schema version: %w", err)
	}
	if len(kept) > 0 {
		if err := db.SavePreferences(context.Background(), kept); err != nil {
			return nil, fmt.Errorf("restore preferences: %w", err)
		}
	}
	return result, nil
}

// migrator returns a migrate instance over the embedded migrations and the
// newest version they define.
func (db *DB) migrator() (*migrate.Migrate, uint, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, 0, fmt.Errorf("migration source: %w", err)
	}
	latest, err := lastVersion(src)
	if err != nil {
		return nil, 0, err
	}
	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, 0, fmt.Errorf("migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, 0, fmt.Errorf("migration instance: %w", err)
	}
	return m, latest, nil
}

func lastVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("next migration: %w", err)
		}
		v = next
	}
}

// dropSchema drops every table and returns the preferences it could read
// first. A preferences table that cannot be read is not an error here.
func (db *DB) dropSchema() ([]Preference, error) {
	kept, err := db.LoadPreferences(context.Background())
	if err != nil {
		kept = nil
	}

	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table'`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("list tables: %w", err)
		}
		if !strings.HasPrefix(name, "sqlite_") {
			tables = append(tables, name)
		}
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}

	for _, name := range tables {
		if _, err := db.Exec(`DROP TABLE IF EXISTS "` + name + `"`); err != nil {
			return nil, fmt.Errorf("drop %s: %w", name, err)
		}
	}
	return kept, nil
}
