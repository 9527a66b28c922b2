// Package directory maintains the persistent capability cache: which
// addresses are known to support the encrypted transport, their routing
// relay, and whether a live secure session has been observed with them.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/pushbridge/pushbridge/internal/address"
	"github.com/pushbridge/pushbridge/internal/store"
	"go.uber.org/zap"
)

// ErrNotResolved is returned by IsSecureCapable when the address has no
// cached row and the caller disallowed a remote query. The caller must retry
// from a background context with remote queries allowed.
var ErrNotResolved = errors.New("directory: address not resolved locally")

// Lookup is the result of a local-only capability query. "Unknown" is an
// expected, frequent outcome, so it is a value here rather than an error:
// Known=false means no row exists and the remote service must be asked.
type Lookup struct {
	Known   bool
	Capable bool
}

// ContactToken is a positive resolution returned by the remote lookup
// service.
type ContactToken struct {
	Address string `json:"address"`
	Relay   string `json:"relay,omitempty"`
}

// LookupClient is the consumed remote lookup service. Lookup returns nil
// (with nil error) when the address is not registered.
type LookupClient interface {
	Lookup(ctx context.Context, addr string) (*ContactToken, error)
	LookupBatch(ctx context.Context, addrs []string) ([]ContactToken, error)
}

// Directory wraps the contact_directory table with canonicalization and
// remote resolution. All keys it stores are canonical; addresses that fail
// canonicalization are treated as not capable without any I/O.
type Directory struct {
	db     *store.DB
	client LookupClient
	prefix string
	logger *zap.Logger
}

// New creates a directory over the given store. prefix is the default
// country prefix applied when canonicalizing bare national numbers.
func New(db *store.DB, client LookupClient, prefix string, logger *zap.Logger) *Directory {
	return &Directory{db: db, client: client, prefix: prefix, logger: logger}
}

// Cached returns the locally cached capability for an address without any
// remote traffic. Malformed addresses are Known-and-not-capable.
func (d *Directory) Cached(raw string) (Lookup, error) {
	addr, err := address.Canonicalize(raw, d.prefix)
	if err != nil {
		return Lookup{Known: true, Capable: false}, nil
	}
	e, err := d.db.GetDirectoryEntry(addr)
	if err != nil {
		return Lookup{}, fmt.Errorf("directory read: %w", err)
	}
	if e == nil {
		return Lookup{}, nil
	}
	return Lookup{Known: true, Capable: e.Registered}, nil
}

// IsSecureCapable reports whether the address supports the encrypted
// transport. With allowRemote=false a cache miss fails with ErrNotResolved;
// with allowRemote=true a cache miss triggers exactly one remote lookup and
// a positive result is written back before returning. Remote queries block,
// so allowRemote=true must only be used from background workers.
func (d *Directory) IsSecureCapable(ctx context.Context, raw string, allowRemote bool) (bool, error) {
	addr, err := address.Canonicalize(raw, d.prefix)
	if err != nil {
		// Fail safe: a malformed address is never secure-capable.
		return false, nil
	}

	e, err := d.db.GetDirectoryEntry(addr)
	if err != nil {
		return false, fmt.Errorf("directory read: %w", err)
	}
	if e != nil {
		return e.Registered, nil
	}
	if !allowRemote {
		return false, ErrNotResolved
	}

	token, err := d.client.Lookup(ctx, addr)
	if err != nil {
		return false, fmt.Errorf("remote lookup %s: %w", addr, err)
	}
	if token == nil {
		return false, nil
	}
	if err := d.db.UpsertDirectoryEntry(addr, true, token.Relay); err != nil {
		return false, fmt.Errorf("directory write-back: %w", err)
	}
	return true, nil
}

// SetCapability is an idempotent upsert of the capability and relay for an
// address. Non-canonicalizable addresses are rejected, never stored.
func (d *Directory) SetCapability(raw string, capable bool, relay string) error {
	addr, err := address.Canonicalize(raw, d.prefix)
	if err != nil {
		return err
	}
	return d.db.UpsertDirectoryEntry(addr, capable, relay)
}

// BatchRefresh resolves many candidate addresses in one remote round trip
// and writes all results transactionally. Candidates missing from the
// remote answer are recorded as not capable. It returns the candidates that
// could not be canonicalized and therefore were neither queried nor stored.
func (d *Directory) BatchRefresh(ctx context.Context, candidates []string) ([]string, error) {
	var canonical []string
	var stillUnknown []string
	seen := make(map[string]bool, len(candidates))
	for _, raw := range candidates {
		addr, err := address.Canonicalize(raw, d.prefix)
		if err != nil {
			stillUnknown = append(stillUnknown, raw)
			continue
		}
		if !seen[addr] {
			seen[addr] = true
			canonical = append(canonical, addr)
		}
	}
	if len(canonical) == 0 {
		return stillUnknown, nil
	}

	tokens, err := d.client.LookupBatch(ctx, canonical)
	if err != nil {
		return stillUnknown, fmt.Errorf("remote batch lookup: %w", err)
	}

	active := make([]store.DirectoryEntry, 0, len(tokens))
	registered := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		registered[t.Address] = true
		active = append(active, store.DirectoryEntry{Address: t.Address, Relay: t.Relay})
	}
	var inactive []string
	for _, addr := range canonical {
		if !registered[addr] {
			inactive = append(inactive, addr)
		}
	}

	if err := d.db.ReplaceDirectoryEntries(active, inactive); err != nil {
		return stillUnknown, fmt.Errorf("directory batch write: %w", err)
	}
	d.logger.Info("directory refreshed",
		zap.Int("active", len(active)), zap.Int("inactive", len(inactive)))
	return stillUnknown, nil
}

// HasActiveSession reports whether a live end-to-end session has been
// observed with the address.
func (d *Directory) HasActiveSession(raw string) (bool, error) {
	addr, err := address.Canonicalize(raw, d.prefix)
	if err != nil {
		return false, nil
	}
	e, err := d.db.GetDirectoryEntry(addr)
	if err != nil {
		return false, fmt.Errorf("directory read: %w", err)
	}
	return e != nil && e.SessionActive, nil
}

// SetActiveSession records or clears the observed-session flag. Only the
// receive path calls this.
func (d *Directory) SetActiveSession(raw string, active bool) error {
	addr, err := address.Canonicalize(raw, d.prefix)
	if err != nil {
		return err
	}
	return d.db.SetSessionActive(addr, active)
}

// Addresses returns every cached address.
func (d *Directory) Addresses() ([]string, error) {
	return d.db.DirectoryAddresses()
}
