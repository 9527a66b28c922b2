// Package groups maintains the persistent mapping between transport group
// identifiers and host conversation threads.
package groups

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/pushbridge/pushbridge/internal/store"
)

// ErrNotFound is returned when no mapping exists for the queried key.
var ErrNotFound = errors.New("groups: no such mapping")

// IDSize is the group identifier length in bytes. 128 bits of entropy keeps
// collisions between unrelated conversations out of the picture.
const IDSize = 16

// ID is a transport group identifier. Its external form is lowercase hex.
type ID [IDSize]byte

func (id ID) String() string { return hex.EncodeToString(id[:]) }

// Bytes returns the raw identifier for wire use.
func (id ID) Bytes() []byte {
	b := make([]byte, IDSize)
	copy(b, id[:])
	return b
}

// NewID generates a fresh random group identifier.
func NewID() (ID, error) {
	var id ID
	if _, err := rand.Read(id[:]); err != nil {
		return ID{}, fmt.Errorf("generate group id: %w", err)
	}
	return id, nil
}

// IDFromBytes validates and converts a raw wire identifier.
func IDFromBytes(b []byte) (ID, error) {
	if len(b) != IDSize {
		return ID{}, fmt.Errorf("group id must be %d bytes, got %d", IDSize, len(b))
	}
	var id ID
	copy(id[:], b)
	return id, nil
}

// ParseID parses the lowercase-hex external form.
func ParseID(s string) (ID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ID{}, fmt.Errorf("parse group id %q: %w", s, err)
	}
	return IDFromBytes(b)
}

// Registry is the groupId<->threadId registry. ResolveOrCreate is linearized
// per thread so two concurrent sends to the same new conversation observe a
// single group identifier.
type Registry struct {
	db *store.DB

	mu      sync.Mutex
	threads map[int64]*sync.Mutex
}

// NewRegistry creates a registry over the given store.
func NewRegistry(db *store.DB) *Registry {
	return &Registry{db: db, threads: make(map[int64]*sync.Mutex)}
}

func (r *Registry) threadLock(threadID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.threads[threadID]
	if !ok {
		l = &sync.Mutex{}
		r.threads[threadID] = l
	}
	return l
}

// ResolveOrCreate returns the group for a thread, generating and persisting
// a fresh identifier when none exists. created reports whether this call
// made the mapping.
func (r *Registry) ResolveOrCreate(threadID int64) (id ID, created bool, err error) {
	l := r.threadLock(threadID)
	l.Lock()
	defer l.Unlock()

	gid, found, err := r.db.GetThreadGroup(threadID)
	if err != nil {
		return ID{}, false, fmt.Errorf("group read: %w", err)
	}
	if found {
		id, err = ParseID(gid)
		return id, false, err
	}

	id, err = NewID()
	if err != nil {
		return ID{}, false, err
	}
	if err := r.db.UpsertGroup(id.String(), threadID); err != nil {
		return ID{}, false, fmt.Errorf("group create: %w", err)
	}
	return id, true, nil
}

// ThreadFor returns the thread a group maps to.
func (r *Registry) ThreadFor(id ID) (int64, error) {
	threadID, found, err := r.db.GetGroupThread(id.String())
	if err != nil {
		return 0, fmt.Errorf("group read: %w", err)
	}
	if !found {
		return 0, ErrNotFound
	}
	return threadID, nil
}

// GroupFor returns the group a thread maps to.
func (r *Registry) GroupFor(threadID int64) (ID, error) {
	gid, found, err := r.db.GetThreadGroup(threadID)
	if err != nil {
		return ID{}, fmt.Errorf("group read: %w", err)
	}
	if !found {
		return ID{}, ErrNotFound
	}
	return ParseID(gid)
}

// Upsert points a group at a thread, last writer wins.
func (r *Registry) Upsert(id ID, threadID int64) error {
	return r.db.UpsertGroup(id.String(), threadID)
}

// Remove deletes a group mapping.
func (r *Registry) Remove(id ID) error {
	return r.db.DeleteGroup(id.String())
}
