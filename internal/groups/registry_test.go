package groups

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/pushbridge/pushbridge/internal/store"
)

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewRegistry(db)
}

func TestResolveOrCreateIsStable(t *testing.T) {
	r := testRegistry(t)

	id1, created, err := r.ResolveOrCreate(42)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first resolve: created = false, want true")
	}

	id2, created, err := r.ResolveOrCreate(42)
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second resolve: created = true, want false")
	}
	if id1 != id2 {
		t.Errorf("ids differ: %s vs %s", id1, id2)
	}

	threadID, err := r.ThreadFor(id1)
	if err != nil || threadID != 42 {
		t.Errorf("ThreadFor = %d, %v, want 42, nil", threadID, err)
	}
}

func TestResolveOrCreateConcurrent(t *testing.T) {
	r := testRegistry(t)

	const callers = 16
	ids := make([]ID, callers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, created, err := r.ResolveOrCreate(7)
			if err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			ids[i] = id
			if created {
				createdCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Errorf("created %d times, want exactly 1", createdCount)
	}
	for i := 1; i < callers; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("caller %d observed a different group id", i)
		}
	}
}

func TestIDRoundTrip(t *testing.T) {
	id, err := NewID()
	if err != nil {
		t.Fatal(err)
	}
	parsed, err := ParseID(id.String())
	if err != nil {
		t.Fatal(err)
	}
	if parsed != id {
		t.Errorf("round trip changed id: %s vs %s", parsed, id)
	}

	if _, err := IDFromBytes([]byte{1, 2, 3}); err == nil {
		t.Error("IDFromBytes accepted a short id")
	}
}

func TestRemoveAndNotFound(t *testing.T) {
	r := testRegistry(t)

	id, _, err := r.ResolveOrCreate(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Remove(id); err != nil {
		t.Fatal(err)
	}
	if _, err := r.ThreadFor(id); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
	if _, err := r.GroupFor(1); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestUpsertRepointsMapping(t *testing.T) {
	r := testRegistry(t)

	id, _, err := r.ResolveOrCreate(1)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Upsert(id, 2); err != nil {
		t.Fatal(err)
	}
	threadID, err := r.ThreadFor(id)
	if err != nil || threadID != 2 {
		t.Errorf("ThreadFor = %d, %v, want 2, nil", threadID, err)
	}
	if _, err := r.GroupFor(1); !errors.Is(err, ErrNotFound) {
		t.Error("old thread still maps to the group")
	}
}
