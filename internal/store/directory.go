package store

import (
	"database/sql"
	"fmt"
	"time"
)

// GetDirectoryEntry returns the directory row for an address, or nil when
// the address has never been resolved.
func (db *DB) GetDirectoryEntry(address string) (*DirectoryEntry, error) {
	var e DirectoryEntry
	var registered, active int
	err := db.QueryRow(`
		SELECT address, registered, relay, session_active, updated_at
		FROM contact_directory WHERE address = ?`, address).
		Scan(&e.Address, &registered, &e.Relay, &active, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Registered = registered == 1
	e.SessionActive = active == 1
	return &e, nil
}

// UpsertDirectoryEntry writes a resolution result for an address. The
// session_active flag is deliberately left untouched on conflict: it is
// owned by the receive path, never by lookup refreshes.
func (db *DB) UpsertDirectoryEntry(address string, registered bool, relay string) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contact_directory (address, registered, relay, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			registered = excluded.registered,
			relay = excluded.relay,
			updated_at = excluded.updated_at`,
		address, boolInt(registered), relay, now)
	return err
}

// ReplaceDirectoryEntries writes a full batch-refresh result in one
// transaction, so a crash mid-refresh never leaves a partially updated
// cache. Rows are overwritten, never deleted.
func (db *DB) ReplaceDirectoryEntries(active []DirectoryEntry, inactive []string) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, e := range active {
		if _, err := tx.Exec(`
			INSERT INTO contact_directory (address, registered, relay, updated_at)
			VALUES (?, 1, ?, ?)
			ON CONFLICT(address) DO UPDATE SET
				registered = 1,
				relay = excluded.relay,
				updated_at = excluded.updated_at`,
			e.Address, e.Relay, now); err != nil {
			return fmt.Errorf("upsert active %q: %w", e.Address, err)
		}
	}
	for _, address := range inactive {
		if _, err := tx.Exec(`
			INSERT INTO contact_directory (address, registered, updated_at)
			VALUES (?, 0, ?)
			ON CONFLICT(address) DO UPDATE SET
				registered = 0,
				updated_at = excluded.updated_at`,
			address, now); err != nil {
			return fmt.Errorf("upsert inactive %q: %w", address, err)
		}
	}
	return tx.Commit()
}

// SetSessionActive flips the session flag for an existing directory row.
// Rows are created by the resolution paths before this is ever called; a
// missing row is a no-op, matching "no session observed".
func (db *DB) SetSessionActive(address string, active bool) error {
	_, err := db.Exec(`UPDATE contact_directory SET session_active = ? WHERE address = ?`,
		boolInt(active), address)
	return err
}

// DirectoryAddresses returns every address ever cached, in no particular
// order. Used to build batch-refresh candidate sets.
func (db *DB) DirectoryAddresses() ([]string, error) {
	rows, err := db.Query(`SELECT address FROM contact_directory`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var addrs []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		addrs = append(addrs, a)
	}
	return addrs, rows.Err()
}

// DirectoryCount returns the number of cached directory rows.
func (db *DB) DirectoryCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contact_directory`).Scan(&count)
	return count, err
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
