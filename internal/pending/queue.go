// Package pending is the durable quarantine for envelopes that failed to
// decrypt because of an identity-key change. Entries wait for an explicit
// operator decision: approve (replay through the receiver) or discard.
package pending

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/pushbridge/pushbridge/internal/store"
	"github.com/pushbridge/pushbridge/internal/transport"
)

// ErrNotFound is returned for an unknown approval id.
var ErrNotFound = errors.New("pending: no such approval")

// Entry is a listed quarantine entry.
type Entry struct {
	ID        string `json:"id"`
	Source    string `json:"source"`
	Timestamp int64  `json:"timestamp"`
	CreatedAt int64  `json:"created_at"`
}

// Queue wraps the pending_approvals table.
type Queue struct {
	db *store.DB
}

// NewQueue creates a queue over the given store.
func NewQueue(db *store.DB) *Queue {
	return &Queue{db: db}
}

// Insert quarantines an envelope and returns its approval id. The full
// still-encrypted envelope is kept so decryption can be re-attempted after
// the trust issue is resolved.
func (q *Queue) Insert(env transport.Envelope) (string, error) {
	id := uuid.NewString()
	err := q.db.InsertPending(&store.PendingEntry{
		ID:           id,
		Source:       env.Source,
		SourceDevice: env.SourceDevice,
		Relay:        env.Relay,
		Timestamp:    env.Timestamp,
		Receipt:      env.Receipt,
		Ciphertext:   env.Ciphertext,
	})
	if err != nil {
		return "", fmt.Errorf("quarantine envelope: %w", err)
	}
	return id, nil
}

// Get returns the quarantined envelope for an approval id.
func (q *Queue) Get(id string) (transport.Envelope, error) {
	e, err := q.db.GetPending(id)
	if err != nil {
		return transport.Envelope{}, fmt.Errorf("read approval: %w", err)
	}
	if e == nil {
		return transport.Envelope{}, ErrNotFound
	}
	return transport.Envelope{
		Source:       e.Source,
		SourceDevice: e.SourceDevice,
		Relay:        e.Relay,
		Timestamp:    e.Timestamp,
		Receipt:      e.Receipt,
		Ciphertext:   e.Ciphertext,
	}, nil
}

// Delete removes an entry. Deleting an unknown id returns ErrNotFound.
func (q *Queue) Delete(id string) error {
	deleted, err := q.db.DeletePending(id)
	if err != nil {
		return fmt.Errorf("delete approval: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}
	return nil
}

// List returns a snapshot of all entries in insertion order.
func (q *Queue) List() ([]Entry, error) {
	rows, err := q.db.ListPending()
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	entries := make([]Entry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, Entry{
			ID:        r.ID,
			Source:    r.Source,
			Timestamp: r.Timestamp,
			CreatedAt: r.CreatedAt,
		})
	}
	return entries, nil
}

// Count returns the number of quarantined entries.
func (q *Queue) Count() (int64, error) {
	return q.db.PendingCount()
}
