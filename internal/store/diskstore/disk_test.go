package diskstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"

	"github.com/discochess/tiercache/internal/store"
)

func newMemStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := New(memfs.New(), opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestStore_WriteRead(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	if err := s.Write(ctx, "https://example.com/a?b=c", []byte("payload")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := s.Read(ctx, "https://example.com/a?b=c")
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if string(got) != "payload" {
		t.Errorf("Read() = %q, want %q", got, "payload")
	}
}

func TestStore_ReadNotFound(t *testing.T) {
	s := newMemStore(t)
	_, err := s.Read(context.Background(), "missing")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ReadKeyMismatch(t *testing.T) {
	fs := memfs.New()
	s, err := New(fs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	// Simulate a hash collision: the file for "a" holds key "b".
	if err := util.WriteFile(fs, fs.Join(entriesDir, fileName("a")), encodeFile("b", []byte("x")), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err = s.Read(context.Background(), "a")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestStore_ReadTruncated(t *testing.T) {
	fs := memfs.New()
	s, err := New(fs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := util.WriteFile(fs, fs.Join(entriesDir, fileName("a")), []byte{0, 0}, 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	_, err = s.Read(context.Background(), "a")
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Read() error = %v, want ErrNotFound", err)
	}
}

func TestStore_Quota(t *testing.T) {
	// Each entry for a 1-byte key with 10 bytes of data occupies 15 bytes.
	s := newMemStore(t, WithQuota(20))
	ctx := context.Background()

	if err := s.Write(ctx, "a", make([]byte, 10)); err != nil {
		t.Fatalf("Write(a) error = %v", err)
	}
	if err := s.Write(ctx, "b", make([]byte, 10)); !errors.Is(err, store.ErrQuotaExceeded) {
		t.Errorf("Write(b) error = %v, want ErrQuotaExceeded", err)
	}
	if err := s.Remove(ctx, "a"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if err := s.Write(ctx, "b", make([]byte, 10)); err != nil {
		t.Errorf("Write(b) after Remove error = %v", err)
	}
	if s.Used() != 15 {
		t.Errorf("Used() = %d, want 15", s.Used())
	}
}

func TestNew_AccountsExistingEntries(t *testing.T) {
	fs := memfs.New()
	s, err := New(fs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := s.Write(context.Background(), "k", []byte("12345")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	reopened, err := New(fs)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if reopened.Used() != s.Used() {
		t.Errorf("reopened Used() = %d, want %d", reopened.Used(), s.Used())
	}
}

func TestOpen_SessionLifecycle(t *testing.T) {
	root := t.TempDir()
	ctx := context.Background()

	s, err := Open(root, WithSession("tab-1"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if s.Session() != "tab-1" {
		t.Errorf("Session() = %q, want %q", s.Session(), "tab-1")
	}
	if err := s.Write(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// A second open of the same session is refused while the first holds the lock.
	if _, err := Open(root, WithSession("tab-1")); !errors.Is(err, ErrSessionLocked) {
		t.Errorf("second Open() error = %v, want ErrSessionLocked", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// The data survives for the next holder of the session.
	again, err := Open(root, WithSession("tab-1"), WithRemoveOnClose())
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	got, err := again.Read(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Errorf("Read() = %q, %v; want %q, nil", got, err, "v")
	}
	if err := again.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "sessions", "tab-1")); !os.IsNotExist(err) {
		t.Errorf("session directory still exists after Close with WithRemoveOnClose")
	}
}

func TestOpen_GeneratesSession(t *testing.T) {
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer s.Close()

	if s.Session() == "" {
		t.Error("Session() should be generated when not set")
	}
}

func TestStore_Keys(t *testing.T) {
	s := newMemStore(t)
	ctx := context.Background()

	for _, k := range []string{"b", "a", "c"} {
		if err := s.Write(ctx, k, []byte(k)); err != nil {
			t.Fatalf("Write(%q) error = %v", k, err)
		}
	}
	if err := s.Remove(ctx, "c"); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}

	keys, err := s.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	seen := make(map[string]bool)
	for _, k := range keys {
		seen[k] = true
	}
	if len(keys) != 2 || !seen["a"] || !seen["b"] {
		t.Errorf("Keys() = %v, want [a b] in any order", keys)
	}
}
