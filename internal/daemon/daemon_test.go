package daemon

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pushbridge/pushbridge/internal/admin"
	"github.com/pushbridge/pushbridge/internal/bus"
	"github.com/pushbridge/pushbridge/internal/directory"
	"github.com/pushbridge/pushbridge/internal/dispatch"
	"github.com/pushbridge/pushbridge/internal/groups"
	"github.com/pushbridge/pushbridge/internal/lock"
	"github.com/pushbridge/pushbridge/internal/mailbox/mailboxdb"
	"github.com/pushbridge/pushbridge/internal/outqueue"
	"github.com/pushbridge/pushbridge/internal/pending"
	"github.com/pushbridge/pushbridge/internal/receiver"
	"github.com/pushbridge/pushbridge/internal/refresh"
	"github.com/pushbridge/pushbridge/internal/sender"
	"github.com/pushbridge/pushbridge/internal/status"
	"github.com/pushbridge/pushbridge/internal/store"
	"github.com/pushbridge/pushbridge/internal/transport/loopback"
	"go.uber.org/zap"
)

func TestDaemonLifecycle(t *testing.T) {
	// Use a short path to avoid macOS 104-char Unix socket limit.
	tmpDir, err := os.MkdirTemp("/tmp", "pushbridge-test-*")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	profileDir := filepath.Join(tmpDir, "test")
	socketPath := filepath.Join(profileDir, "d.sock")
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		t.Fatal(err)
	}

	lk, err := lock.Acquire(profileDir)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(filepath.Join(profileDir, "bridge.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	mdb, err := mailboxdb.Open(filepath.Join(profileDir, "mailbox.db"))
	if err != nil {
		t.Fatal(err)
	}
	if err := mdb.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = mdb.Close() }()
	sink := mailboxdb.NewStore(mdb, filepath.Join(profileDir, "attachments"))

	logger := zap.NewNop()
	b := bus.New()
	machine := status.NewMachine(b)
	lb := loopback.New()
	dir := directory.New(db, directory.NullClient{}, "+1", logger)
	registry := groups.NewRegistry(db)
	pq := pending.NewQueue(db)
	queue := outqueue.New()

	rcv := receiver.New(lb, lb, dir, registry, pq, sink,
		receiver.NewStaticBlacklist(nil), b, "+15550300", logger)
	snd := sender.New(dir, registry, sink, lb, b, "+15550300", "+1", logger)
	svc := dispatch.New(rcv, snd, queue, pq, b, logger)
	svc.Start(context.Background())
	defer svc.Stop()

	refresher := refresh.New(dir, &refresh.MergedSource{Directory: dir}, b, 0, logger)
	refresher.Start(context.Background())
	defer refresher.Stop()

	h := admin.NewHandler("test", machine, svc, pq, queue, db, refresher, logger)
	srv, err := admin.NewServer(socketPath, h, logger)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	if err := machine.Transition(status.Ready); err != nil {
		t.Fatal(err)
	}

	client := &http.Client{
		Transport: &http.Transport{
			DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, "unix", socketPath)
			},
		},
		Timeout: 5 * time.Second,
	}

	var resp *http.Response
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err = client.Get("http://unix/v1/status")
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("status over socket: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var got admin.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Profile != "test" || got.State != string(status.Ready) {
		t.Fatalf("status = %+v", got)
	}

	// Socket is private to the owner.
	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	// A second daemon cannot claim the same profile.
	if _, err := lock.Acquire(profileDir); err == nil {
		t.Error("second lock acquisition should fail")
	}
}
