package mailboxdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pushbridge/pushbridge/internal/mailbox"
)

// Store implements mailbox.Sink over the mailbox database and a blob
// directory for attachment data.
type Store struct {
	db             *DB
	attachmentsDir string
}

// NewStore creates a sink writing to db and persisting attachment blobs
// under attachmentsDir.
func NewStore(db *DB, attachmentsDir string) *Store {
	return &Store{db: db, attachmentsDir: attachmentsDir}
}

var _ mailbox.Sink = (*Store)(nil)

// memberKey derives the stable thread key for a membership set.
func memberKey(members []string) string {
	sorted := append([]string{}, members...)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

func (s *Store) StoreText(sender, body string, timestamp int64, incoming bool) error {
	_, err := s.db.Exec(`
		INSERT INTO messages (thread_id, sender, body, incoming, timestamp, created_at)
		VALUES (NULL, ?, ?, ?, ?, ?)`,
		sender, body, incoming, timestamp, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *Store) StoreMultimedia(sender, body string, attachments []mailbox.StoredAttachment, timestamp int64) error {
	return s.storeWithAttachments(nil, sender, body, attachments, timestamp)
}

func (s *Store) StoreGroupMessage(sender, body string, attachments []mailbox.StoredAttachment, timestamp int64, threadID int64) error {
	return s.storeWithAttachments(&threadID, sender, body, attachments, timestamp)
}

func (s *Store) storeWithAttachments(threadID *int64, sender, body string, attachments []mailbox.StoredAttachment, timestamp int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(`
		INSERT INTO messages (thread_id, sender, body, incoming, timestamp, created_at)
		VALUES (?, ?, ?, 1, ?, ?)`,
		threadID, sender, body, timestamp, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return err
	}

	for _, att := range attachments {
		if _, err := tx.Exec(`
			INSERT INTO message_attachments (message_id, ref, content_type)
			VALUES (?, ?, ?)`,
			msgID, att.Ref, att.ContentType); err != nil {
			return fmt.Errorf("insert attachment ref: %w", err)
		}
	}

	return tx.Commit()
}

// ThreadForMembers resolves the thread a membership set belongs to, creating
// it on first sight. The set is order-insensitive.
func (s *Store) ThreadForMembers(members []string) (int64, error) {
	key := memberKey(members)

	// A conflicted insert leaves last_insert_rowid pointing at whatever the
	// connection inserted before, so the id is always re-read by key.
	_, err := s.db.Exec(`
		INSERT INTO threads (member_key, members, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(member_key) DO NOTHING`,
		key, key, time.Now().UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("insert thread: %w", err)
	}
	var id int64
	if err := s.db.QueryRow(`SELECT id FROM threads WHERE member_key = ?`, key).Scan(&id); err != nil {
		return 0, fmt.Errorf("query thread: %w", err)
	}
	return id, nil
}

func (s *Store) MembersForThread(threadID int64) ([]string, error) {
	var joined string
	err := s.db.QueryRow(`SELECT members FROM threads WHERE id = ?`, threadID).Scan(&joined)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query thread members: %w", err)
	}
	if joined == "" {
		return nil, nil
	}
	return strings.Split(joined, ","), nil
}

// PersistAttachment writes the blob to the attachments directory and returns
// its reference.
func (s *Store) PersistAttachment(contentType string, data []byte) (string, error) {
	if err := os.MkdirAll(s.attachmentsDir, 0700); err != nil {
		return "", fmt.Errorf("create attachments dir: %w", err)
	}
	ref := uuid.NewString()
	path := filepath.Join(s.attachmentsDir, ref)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("write attachment blob: %w", err)
	}
	return ref, nil
}

// AttachmentPath returns the filesystem path for a stored attachment ref.
func (s *Store) AttachmentPath(ref string) string {
	return filepath.Join(s.attachmentsDir, ref)
}

// MessageCount reports how many messages the store holds, for status output.
func (s *Store) MessageCount() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return n, nil
}
