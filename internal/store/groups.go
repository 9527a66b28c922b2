package store

import (
	"database/sql"
	"fmt"
)

// UpsertGroup records a groupId->threadId mapping. The mapping is kept a
// bijection: any other group previously pointing at the same thread is
// removed in the same transaction (last writer wins on the groupId key).
func (db *DB) UpsertGroup(groupID string, threadID int64) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM group_registry WHERE thread_id = ? AND group_id != ?`,
		threadID, groupID); err != nil {
		return fmt.Errorf("drop stale mappings: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO group_registry (group_id, thread_id) VALUES (?, ?)
		ON CONFLICT(group_id) DO UPDATE SET thread_id = excluded.thread_id`,
		groupID, threadID); err != nil {
		return fmt.Errorf("upsert group %q: %w", groupID, err)
	}
	return tx.Commit()
}

// GetGroupThread returns the thread for a group id, with found=false when
// no mapping exists.
func (db *DB) GetGroupThread(groupID string) (int64, bool, error) {
	var threadID int64
	err := db.QueryRow(`SELECT thread_id FROM group_registry WHERE group_id = ?`, groupID).
		Scan(&threadID)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return threadID, true, nil
}

// GetThreadGroup returns the group id for a thread, with found=false when
// no mapping exists.
func (db *DB) GetThreadGroup(threadID int64) (string, bool, error) {
	var groupID string
	err := db.QueryRow(`SELECT group_id FROM group_registry WHERE thread_id = ?`, threadID).
		Scan(&groupID)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return groupID, true, nil
}

// DeleteGroup removes a group mapping. Deleting an unknown id is a no-op.
func (db *DB) DeleteGroup(groupID string) error {
	_, err := db.Exec(`DELETE FROM group_registry WHERE group_id = ?`, groupID)
	return err
}
