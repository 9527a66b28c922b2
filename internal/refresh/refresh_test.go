package refresh

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/directory"
	"github.com/pushbridge/pushbridge/internal/store"
	"go.uber.org/zap"
)

type mockLookup struct {
	mu      sync.Mutex
	tokens  map[string]directory.ContactToken
	batches [][]string
}

func (m *mockLookup) Lookup(_ context.Context, addr string) (*directory.ContactToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.tokens[addr]; ok {
		return &t, nil
	}
	return nil, nil
}

func (m *mockLookup) LookupBatch(_ context.Context, addrs []string) ([]directory.ContactToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, addrs)
	var out []directory.ContactToken
	for _, a := range addrs {
		if t, ok := m.tokens[a]; ok {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *mockLookup) batchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.batches)
}

func testDirectory(t *testing.T, client directory.LookupClient) *directory.Directory {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return directory.New(db, client, "+1", zap.NewNop())
}

func TestMergedSourceDeduplicates(t *testing.T) {
	d := testDirectory(t, &mockLookup{})
	if err := d.SetCapability("+15550100", true, ""); err != nil {
		t.Fatal(err)
	}

	src := &MergedSource{Seeds: []string{"+15550100", "+15550200"}, Directory: d}
	got, err := src.Candidates()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("candidates = %v, want seed and cached address deduplicated", got)
	}
}

func TestTriggerNowRefreshes(t *testing.T) {
	client := &mockLookup{tokens: map[string]directory.ContactToken{
		"+15550100": {Address: "+15550100"},
	}}
	d := testDirectory(t, client)
	b := bus.New()
	events, cancel := b.Subscribe("directory.", 4)
	defer cancel()

	r := New(d, &MergedSource{Seeds: []string{"+15550100"}, Directory: d}, b, 0, zap.NewNop())
	r.Start(context.Background())
	defer r.Stop()

	r.TriggerNow()
	select {
	case evt := <-events:
		if evt.Kind != bus.KindDirectoryRefreshed {
			t.Fatalf("event kind = %q, want %q", evt.Kind, bus.KindDirectoryRefreshed)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no refresh after TriggerNow")
	}

	if client.batchCount() != 1 {
		t.Fatalf("lookup saw %d batches, want 1", client.batchCount())
	}
	look, err := d.Cached("+15550100")
	if err != nil {
		t.Fatal(err)
	}
	if !look.Known || !look.Capable {
		t.Fatalf("refreshed address = %+v, want known and capable", look)
	}
}

func TestEmptyCandidateSetSkipsWire(t *testing.T) {
	client := &mockLookup{}
	d := testDirectory(t, client)
	r := New(d, &MergedSource{Directory: d}, bus.New(), 0, zap.NewNop())
	r.Start(context.Background())
	defer r.Stop()

	r.TriggerNow()
	time.Sleep(50 * time.Millisecond)
	if client.batchCount() != 0 {
		t.Fatalf("lookup saw %d batches for empty candidate set, want 0", client.batchCount())
	}
}
