// Package diskstore implements a filesystem-backed persistent store.
//
// Each key is stored in its own file under entries/, named by the xxhash of
// the key. The file starts with the full key so a hash collision reads as a
// miss instead of returning another key's data.
package diskstore

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/discochess/tiercache/internal/store"
)

const (
	entriesDir = "entries"
	entryExt   = ".entry"

	// DefaultQuota is the default size limit for a session directory.
	DefaultQuota = 50 << 20
)

// ErrSessionLocked is returned by Open when another process holds the session.
var ErrSessionLocked = errors.New("diskstore: session is locked by another process")

// Compile-time check that Store implements store.Store.
var _ store.Store = (*Store)(nil)

// Store is a filesystem-backed store with a byte quota.
type Store struct {
	fs    billy.Filesystem
	quota int64

	// Set by Open only.
	session       string
	dir           string
	lock          *flock.Flock
	removeOnClose bool

	mu    sync.Mutex
	sizes map[string]int64
	used  int64
}

// Option configures a Store.
type Option func(*Store)

// WithQuota sets the size limit in bytes. A quota <= 0 disables the limit.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// WithSession sets the session ID used by Open. An empty ID generates a new one.
func WithSession(id string) Option {
	return func(s *Store) {
		s.session = id
	}
}

// WithRemoveOnClose makes Close delete the session directory opened by Open.
func WithRemoveOnClose() Option {
	return func(s *Store) {
		s.removeOnClose = true
	}
}

// New creates a store on the given filesystem and accounts for any entries
// already present.
func New(fs billy.Filesystem, opts ...Option) (*Store, error) {
	s := &Store{
		fs:    fs,
		quota: DefaultQuota,
		sizes: make(map[string]int64),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := fs.MkdirAll(entriesDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating entries directory: %w", err)
	}

	infos, err := fs.ReadDir(entriesDir)
	if err != nil {
		return nil, fmt.Errorf("scanning entries directory: %w", err)
	}
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), entryExt) {
			continue
		}
		s.sizes[info.Name()] = info.Size()
		s.used += info.Size()
	}

	return s, nil
}

// Open creates a store in root/sessions/<session> on the local filesystem.
// The session directory is guarded by a lock file so that two processes
// cannot share one session.
func Open(root string, opts ...Option) (*Store, error) {
	probe := &Store{}
	for _, opt := range opts {
		opt(probe)
	}
	session := probe.session
	if session == "" {
		session = uuid.NewString()
	}

	sessionsDir := filepath.Join(root, "sessions")
	dir := filepath.Join(sessionsDir, session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	lock := flock.New(filepath.Join(sessionsDir, session+".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking session: %w", err)
	}
	if !locked {
		return nil, ErrSessionLocked
	}

	s, err := New(osfs.New(dir), opts...)
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}
	s.session = session
	s.dir = dir
	s.lock = lock
	return s, nil
}

// Session returns the session ID, or "" for stores created with New.
func (s *Store) Session() string {
	return s.session
}

// Dir returns the session directory, or "" for stores created with New.
func (s *Store) Dir() string {
	return s.dir
}

// Read returns the data stored under key.
func (s *Store) Read(ctx context.Context, key string) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	f, err := s.fs.Open(s.entryPath(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("opening entry: %w", err)
	}
	defer f.Close()

	raw, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}

	storedKey, data, ok := decodeFile(raw)
	if !ok || storedKey != key {
		return nil, store.ErrNotFound
	}
	return data, nil
}

// Write stores data under key, failing with store.ErrQuotaExceeded when the
// session directory would grow past its quota.
func (s *Store) Write(ctx context.Context, key string, data []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	name := fileName(key)
	content := encodeFile(key, data)
	size := int64(len(content))

	s.mu.Lock()
	defer s.mu.Unlock()

	used := s.used - s.sizes[name] + size
	if s.quota > 0 && used > s.quota {
		return store.ErrQuotaExceeded
	}

	if err := util.WriteFile(s.fs, s.fs.Join(entriesDir, name), content, 0o644); err != nil {
		return fmt.Errorf("writing entry: %w", err)
	}
	s.sizes[name] = size
	s.used = used
	return nil
}

// Remove deletes the file for key.
func (s *Store) Remove(ctx context.Context, key string) error {
	name := fileName(key)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.fs.Remove(s.fs.Join(entriesDir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing entry: %w", err)
	}
	s.used -= s.sizes[name]
	delete(s.sizes, name)
	return nil
}

// Keys returns the keys of all entries, read from the entry headers.
// Unreadable files are skipped.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	names := make([]string, 0, len(s.sizes))
	for name := range s.sizes {
		names = append(names, name)
	}
	s.mu.Unlock()
	sort.Strings(names)

	keys := make([]string, 0, len(names))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := util.ReadFile(s.fs, s.fs.Join(entriesDir, name))
		if err != nil {
			continue
		}
		if key, _, ok := decodeFile(raw); ok {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

// Used returns the bytes counted against the quota.
func (s *Store) Used() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.used
}

// Close releases the session lock and, if configured, removes the session directory.
func (s *Store) Close() error {
	var errs []error
	if s.removeOnClose && s.dir != "" {
		if err := os.RemoveAll(s.dir); err != nil {
			errs = append(errs, fmt.Errorf("removing session directory: %w", err))
		}
	}
	if s.lock != nil {
		if err := s.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlocking session: %w", err))
		}
		if s.removeOnClose {
			_ = os.Remove(s.lock.Path())
		}
	}
	return errors.Join(errs...)
}

func (s *Store) entryPath(key string) string {
	return s.fs.Join(entriesDir, fileName(key))
}

// fileName returns the entry file name for a key.
func fileName(key string) string {
	return fmt.Sprintf("%016x%s", xxhash.Sum64String(key), entryExt)
}

// encodeFile lays out a uint32 key length, the key, then the data.
func encodeFile(key string, data []byte) []byte {
	buf := make([]byte, 4+len(key)+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(key)))
	copy(buf[4:], key)
	copy(buf[4+len(key):], data)
	return buf
}

func decodeFile(raw []byte) (string, []byte, bool) {
	if len(raw) < 4 {
		return "", nil, false
	}
	n := int(binary.BigEndian.Uint32(raw))
	if n > len(raw)-4 {
		return "", nil, false
	}
	return string(raw[4 : 4+n]), raw[4+n:], true
}
