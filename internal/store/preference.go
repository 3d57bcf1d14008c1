package store

import (
	"context"
	"fmt"
	"time"
)

// LoadPreferences returns every stored preference.
func (db *DB) LoadPreferences(ctx context.Context) ([]Preference, error) {
	rows, err := db.QueryContext(ctx, `SELECT key, value, kind FROM preferences ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var prefs []Preference
	for rows.Next() {
		var p Preference
		if err := rows.Scan(&p.Key, &p.Value, &p.Kind); err != nil {
			return nil, err
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// SavePreferences replaces the stored preferences with prefs in one transaction.
func (db *DB) SavePreferences(ctx context.Context, prefs []Preference) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM preferences`); err != nil {
		return fmt.Errorf("clear preferences: %w", err)
	}
	now := time.Now().UnixMilli()
	for _, p := range prefs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO preferences (key, value, kind, updated_at) VALUES (?, ?, ?, ?)`,
			p.Key, p.Value, p.Kind, now); err != nil {
			return fmt.Errorf("insert preference %q: %w", p.Key, err)
		}
	}
	return tx.Commit()
}
