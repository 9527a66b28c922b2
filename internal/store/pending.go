package store

import (
	"database/sql"
	"time"
)

// InsertPending stores a quarantined envelope.
func (db *DB) InsertPending(e *PendingEntry) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO pending_approvals (id, source, source_device, relay, timestamp, receipt, ciphertext, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Source, e.SourceDevice, e.Relay, e.Timestamp, boolInt(e.Receipt), e.Ciphertext, now)
	return err
}

// GetPending returns a quarantined envelope by id, or nil when absent.
func (db *DB) GetPending(id string) (*PendingEntry, error) {
	var e PendingEntry
	var receipt int
	err := db.QueryRow(`
		SELECT id, source, source_device, relay, timestamp, receipt, ciphertext, created_at
		FROM pending_approvals WHERE id = ?`, id).
		Scan(&e.ID, &e.Source, &e.SourceDevice, &e.Relay, &e.Timestamp, &receipt, &e.Ciphertext, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Receipt = receipt == 1
	return &e, nil
}

// DeletePending removes a quarantined envelope. Reports whether a row was
// actually deleted.
func (db *DB) DeletePending(id string) (bool, error) {
	res, err := db.Exec(`DELETE FROM pending_approvals WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListPending returns all quarantined envelopes in insertion order.
func (db *DB) ListPending() ([]PendingEntry, error) {
	rows, err := db.Query(`
		SELECT id, source, source_device, relay, timestamp, receipt, ciphertext, created_at
		FROM pending_approvals ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var entries []PendingEntry
	for rows.Next() {
		var e PendingEntry
		var receipt int
		if err := rows.Scan(&e.ID, &e.Source, &e.SourceDevice, &e.Relay, &e.Timestamp, &receipt, &e.Ciphertext, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Receipt = receipt == 1
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PendingCount returns the number of quarantined envelopes.
func (db *DB) PendingCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM pending_approvals`).Scan(&count)
	return count, err
}
