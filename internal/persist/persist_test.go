package persist

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/discochess/tiercache/internal/codec"
	"github.com/discochess/tiercache/internal/codec/gzipcodec"
	"github.com/discochess/tiercache/internal/codec/zstdcodec"
	"github.com/discochess/tiercache/internal/entry"
	"github.com/discochess/tiercache/internal/stats"
	"github.com/discochess/tiercache/internal/store"
	"github.com/discochess/tiercache/internal/store/memstore"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type profile struct {
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Score int      `json:"score"`
}

// countingStats records counter increments.
type countingStats struct {
	stats.Noop
	mu       sync.Mutex
	counters map[string]int64
}

func newCountingStats() *countingStats {
	return &countingStats{counters: make(map[string]int64)}
}

func (c *countingStats) IncCounter(name string, delta int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name] += delta
}

func (c *countingStats) get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counters[name]
}

// failingStore fails every write and records removals.
type failingStore struct {
	store.Store
	removed []string
}

func (f *failingStore) Write(context.Context, string, []byte) error {
	return errors.New("disk on fire")
}

func (f *failingStore) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func TestAdapter_WriteRead(t *testing.T) {
	ctx := context.Background()
	a := New[profile](memstore.New())

	want := entry.New(profile{Name: "ada", Tags: []string{"x"}, Score: 7}, epoch, time.Minute, 40)
	want.AccessCount = 3

	if !a.Write(ctx, "user/1", want) {
		t.Fatal("Write() = false, want true")
	}
	got, ok := a.Read(ctx, "user/1")
	if !ok {
		t.Fatal("Read() = false, want true")
	}
	if got.Value.Name != "ada" || got.Value.Score != 7 || len(got.Value.Tags) != 1 {
		t.Errorf("Read().Value = %+v, want %+v", got.Value, want.Value)
	}
	if !got.ExpiresAt.Equal(want.ExpiresAt) || !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("Read() times = %v..%v, want %v..%v", got.CreatedAt, got.ExpiresAt, want.CreatedAt, want.ExpiresAt)
	}
	if got.SizeBytes != 40 || got.AccessCount != 3 {
		t.Errorf("Read() size, count = %d, %d, want 40, 3", got.SizeBytes, got.AccessCount)
	}
}

func TestAdapter_Codecs(t *testing.T) {
	ctx := context.Background()
	for _, c := range []codec.Codec{gzipcodec.New(), zstdcodec.New()} {
		t.Run(c.Name(), func(t *testing.T) {
			a := New[string](memstore.New(), WithCodec(c))
			value := strings.Repeat("compressible ", 100)

			if !a.Write(ctx, "k", entry.New(value, epoch, time.Minute, 0)) {
				t.Fatal("Write() = false, want true")
			}
			got, ok := a.Read(ctx, "k")
			if !ok || got.Value != value {
				t.Errorf("Read() = %q, %v, want round trip", got.Value, ok)
			}
		})
	}
}

func TestAdapter_KeyPrefix(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	a := New[string](st, WithKeyPrefix("app_"))

	a.Write(ctx, "k", entry.New("v", epoch, time.Minute, 1))

	if _, err := st.Read(ctx, "app_k"); err != nil {
		t.Errorf("store.Read(app_k) error = %v, want entry under prefixed key", err)
	}
	if _, err := st.Read(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("store.Read(k) error = %v, want ErrNotFound", err)
	}
}

func TestAdapter_QuotaExceeded(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(memstore.WithQuota(300))
	counts := newCountingStats()
	a := New[string](st, WithStats(counts))

	if !a.Write(ctx, "k", entry.New("small", epoch, time.Minute, 5)) {
		t.Fatal("first Write() = false, want true")
	}
	if a.Write(ctx, "k", entry.New(strings.Repeat("x", 500), epoch, time.Minute, 500)) {
		t.Fatal("oversized Write() = true, want false")
	}

	if _, ok := a.Read(ctx, "k"); ok {
		t.Error("Read() returned the older copy after a failed write")
	}
	if got := counts.get(stats.MetricPersistWriteFailures); got != 1 {
		t.Errorf("write failures = %d, want 1", got)
	}
}

func TestAdapter_FailingStore(t *testing.T) {
	st := &failingStore{}
	a := New[string](st)

	if a.Write(context.Background(), "k", entry.New("v", epoch, time.Minute, 1)) {
		t.Error("Write() = true, want false")
	}
	if len(st.removed) != 1 || st.removed[0] != DefaultKeyPrefix+"k" {
		t.Errorf("removed = %v, want [%sk]", st.removed, DefaultKeyPrefix)
	}
}

func TestAdapter_CorruptEntryIsAbsent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()
	counts := newCountingStats()
	a := New[string](st, WithStats(counts))

	if err := st.Write(ctx, DefaultKeyPrefix+"k", []byte("{not json")); err != nil {
		t.Fatal(err)
	}

	if _, ok := a.Read(ctx, "k"); ok {
		t.Error("Read() = true for corrupt entry, want false")
	}
	if _, err := st.Read(ctx, DefaultKeyPrefix+"k"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("corrupt entry still stored, Read() error = %v", err)
	}
	if got := counts.get(stats.MetricPersistReadFailures); got != 1 {
		t.Errorf("read failures = %d, want 1", got)
	}
}

func TestAdapter_CodecChangeInvalidates(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	New[string](st).Write(ctx, "k", entry.New("v", epoch, time.Minute, 1))

	if _, ok := New[string](st, WithCodec(zstdcodec.New())).Read(ctx, "k"); ok {
		t.Error("Read() with a different codec = true, want false")
	}
}

func TestAdapter_TypeMismatchIsAbsent(t *testing.T) {
	ctx := context.Background()
	st := memstore.New()

	New[string](st).Write(ctx, "k", entry.New("text", epoch, time.Minute, 1))

	if _, ok := New[int](st).Read(ctx, "k"); ok {
		t.Error("Read() into a mismatched type = true, want false")
	}
}

func TestAdapter_Remove(t *testing.T) {
	ctx := context.Background()
	a := New[string](memstore.New())
	a.Write(ctx, "k", entry.New("v", epoch, time.Minute, 1))

	a.Remove(ctx, "k")

	if _, ok := a.Read(ctx, "k"); ok {
		t.Error("Read() after Remove = true, want false")
	}
}
