package pending

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/pushbridge/pushbridge/internal/store"
	"github.com/pushbridge/pushbridge/internal/transport"
)

func testQueue(t *testing.T) *Queue {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewQueue(db)
}

func TestInsertGetRoundTrip(t *testing.T) {
	q := testQueue(t)

	env := transport.Envelope{
		Source:       "+15550100",
		SourceDevice: 2,
		Relay:        "relay-1",
		Timestamp:    1234,
		Ciphertext:   []byte("opaque"),
	}
	id, err := q.Insert(env)
	if err != nil {
		t.Fatal(err)
	}
	if id == "" {
		t.Fatal("empty approval id")
	}

	got, err := q.Get(id)
	if err != nil {
		t.Fatal(err)
	}
	if got.Source != env.Source || got.SourceDevice != env.SourceDevice ||
		got.Timestamp != env.Timestamp || string(got.Ciphertext) != "opaque" {
		t.Errorf("got %+v, want %+v", got, env)
	}
}

func TestDeleteUnknownIsNotFound(t *testing.T) {
	q := testQueue(t)

	if err := q.Delete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := q.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestListInsertionOrder(t *testing.T) {
	q := testQueue(t)

	first, err := q.Insert(transport.Envelope{Source: "+15550100", Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	second, err := q.Insert(transport.Envelope{Source: "+15550200", Timestamp: 2})
	if err != nil {
		t.Fatal(err)
	}

	entries, err := q.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	if entries[0].ID != first || entries[1].ID != second {
		t.Errorf("order = [%s %s], want [%s %s]", entries[0].ID, entries[1].ID, first, second)
	}

	if err := q.Delete(first); err != nil {
		t.Fatal(err)
	}
	count, err := q.Count()
	if err != nil || count != 1 {
		t.Errorf("count = %d, %v, want 1, nil", count, err)
	}
}
