package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/discochess/tiercache/internal/codec/zstdcodec"
	"github.com/discochess/tiercache/internal/entry"
	"github.com/discochess/tiercache/internal/persist"
	"github.com/discochess/tiercache/internal/store/diskstore"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}
	for _, tt := range tests {
		if got := formatBytes(tt.in); got != tt.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"none", "gzip", "zstd"} {
		c, err := codecByName(name)
		if err != nil {
			t.Fatalf("codecByName(%q) error = %v", name, err)
		}
		if c.Name() != name {
			t.Errorf("codecByName(%q).Name() = %q", name, c.Name())
		}
	}
	if _, err := codecByName("lz4"); err == nil {
		t.Error("codecByName(lz4) error = nil, want error")
	}
}

// writeSession creates a session with one valid, one corrupt and one
// foreign entry.
func writeSession(t *testing.T, root, session string) {
	t.Helper()
	ctx := context.Background()
	ds, err := diskstore.Open(root, diskstore.WithSession(session))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	a := persist.New[json.RawMessage](ds, persist.WithCodec(zstdcodec.New()))
	now := time.Now()
	if !a.Write(ctx, "good", entry.New(json.RawMessage(`{"a":1}`), now, time.Hour, 7)) {
		t.Fatal("Write(good) = false")
	}
	if !a.Write(ctx, "stale", entry.New(json.RawMessage(`2`), now.Add(-2*time.Hour), time.Hour, 1)) {
		t.Fatal("Write(stale) = false")
	}
	if err := ds.Write(ctx, persist.DefaultKeyPrefix+"bad", []byte("not zstd")); err != nil {
		t.Fatalf("Write(bad) error = %v", err)
	}
	if err := ds.Write(ctx, "other", []byte("x")); err != nil {
		t.Fatalf("Write(other) error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestVerifySession(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "s")
	ctx := context.Background()

	report, err := verifySession(ctx, root, "s", zstdcodec.New(), false, time.Now())
	if err != nil {
		t.Fatalf("verifySession() error = %v", err)
	}
	if report.Valid != 2 || report.Expired != 1 || report.Foreign != 1 {
		t.Errorf("report = %+v, want 2 valid, 1 expired, 1 foreign", report)
	}
	if len(report.Corrupt) != 1 || report.Corrupt[0] != "bad" {
		t.Errorf("Corrupt = %v, want [bad]", report.Corrupt)
	}

	// The first pass left the corrupt entry in place.
	report, err = verifySession(ctx, root, "s", zstdcodec.New(), true, time.Now())
	if err != nil {
		t.Fatalf("verifySession(fix) error = %v", err)
	}
	if len(report.Corrupt) != 1 {
		t.Errorf("Corrupt = %v, want [bad]", report.Corrupt)
	}

	report, err = verifySession(ctx, root, "s", zstdcodec.New(), false, time.Now())
	if err != nil {
		t.Fatalf("verifySession() error = %v", err)
	}
	if len(report.Corrupt) != 0 || report.Valid != 2 {
		t.Errorf("after fix report = %+v, want 2 valid and no corrupt", report)
	}
}

func TestListSessions(t *testing.T) {
	root := t.TempDir()

	sessions, err := listSessions(root)
	if err != nil || len(sessions) != 0 {
		t.Fatalf("listSessions(empty) = %v, %v, want none", sessions, err)
	}

	writeSession(t, root, "b")
	held, err := diskstore.Open(root, diskstore.WithSession("a"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer held.Close()

	sessions, err = listSessions(root)
	if err != nil {
		t.Fatalf("listSessions() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	if sessions[0].Name != "a" || !sessions[0].InUse || sessions[0].Entries != 0 {
		t.Errorf("sessions[0] = %+v, want a in use with no entries", sessions[0])
	}
	if sessions[1].Name != "b" || sessions[1].InUse || sessions[1].Entries != 4 || sessions[1].Size == 0 {
		t.Errorf("sessions[1] = %+v, want b idle with 4 entries", sessions[1])
	}
}

func TestPurgeSession(t *testing.T) {
	root := t.TempDir()
	writeSession(t, root, "idle")
	held, err := diskstore.Open(root, diskstore.WithSession("busy"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer held.Close()

	if err := purgeSession(root, "busy"); !errors.Is(err, errSessionInUse) {
		t.Errorf("purgeSession(busy) error = %v, want %v", err, errSessionInUse)
	}
	if err := purgeSession(root, "../x"); err == nil {
		t.Error("purgeSession(../x) error = nil, want error")
	}
	if err := purgeSession(root, "missing"); err == nil {
		t.Error("purgeSession(missing) error = nil, want error")
	}
	if err := purgeSession(root, "idle"); err != nil {
		t.Fatalf("purgeSession(idle) error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "sessions", "idle")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("session directory still present: %v", err)
	}
}

func TestGetCommand_ServesFromDiskWhenOffline(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()
	dir := t.TempDir()

	run := func(args ...string) getResult {
		t.Helper()
		var out bytes.Buffer
		rootCmd.SetOut(&out)
		rootCmd.SetArgs(append([]string{"--dir", dir, "get", "--json", "--session", "cli"}, args...))
		if err := rootCmd.Execute(); err != nil {
			t.Fatalf("Execute(%v) error = %v", args, err)
		}
		var res getResult
		if err := json.Unmarshal(out.Bytes(), &res); err != nil {
			t.Fatalf("decoding %q: %v", out.String(), err)
		}
		return res
	}

	first := run(srv.URL)
	if first.Status != http.StatusOK || first.Bytes != 5 || first.ContentType != "text/plain" {
		t.Errorf("first = %+v, want 200 text/plain 5 bytes", first)
	}

	second := run("--offline", srv.URL)
	if second.Status != http.StatusOK || second.Bytes != 5 || second.Error != "" {
		t.Errorf("offline = %+v, want cached 200 with 5 bytes", second)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("server hits = %d, want 1", got)
	}
}
