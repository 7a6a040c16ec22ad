//go:build e2e

package tiercache_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/discochess/tiercache"
	"github.com/discochess/tiercache/connectivity"
	"github.com/discochess/tiercache/internal/codec/zstdcodec"
	"github.com/discochess/tiercache/internal/httpfetch"
	"github.com/discochess/tiercache/internal/store/diskstore"
)

func TestE2E_OfflineAfterRestart(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"path":%q}`, r.URL.Path)
	}))
	addr := strings.TrimPrefix(srv.URL, "http://")
	client := httpfetch.New()

	open := func(opts ...tiercache.Option) *tiercache.Cache[httpfetch.Document] {
		t.Helper()
		st, err := diskstore.Open(dir, diskstore.WithSession("e2e"))
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		opts = append([]tiercache.Option{
			tiercache.WithStore(st),
			tiercache.WithCodec(zstdcodec.New()),
			tiercache.WithDefaultTTL(100 * time.Millisecond),
			tiercache.WithLogger(zaptest.NewLogger(t)),
		}, opts...)
		c, err := tiercache.New[httpfetch.Document](opts...)
		if err != nil {
			t.Fatalf("New() error = %v", err)
		}
		return c
	}

	// Step 1: fetch through a live server.
	t.Log("Fetching through a live server...")
	c := open()
	doc, err := c.GetCached(ctx, srv.URL+"/a", client.Fetch)
	if err != nil {
		t.Fatalf("GetCached() error = %v", err)
	}
	if string(doc.Body) != `{"path":"/a"}` {
		t.Fatalf("Body = %q", doc.Body)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// Step 2: take the server down and let the entry expire.
	srv.Close()
	time.Sleep(200 * time.Millisecond)

	// Step 3: restart; the probe finds the origin unreachable.
	t.Log("Restarting offline...")
	probe := connectivity.NewProbe(addr, connectivity.WithTimeout(time.Second))
	if probe.Check(ctx) {
		t.Fatal("Check() = true with the server closed")
	}
	c = open(tiercache.WithConnectivity(probe))
	defer c.Close()

	if c.Online() {
		t.Error("Online() = true, want false")
	}
	doc, err = c.GetCached(ctx, srv.URL+"/a", client.Fetch)
	if err != nil {
		t.Fatalf("GetCached() offline error = %v", err)
	}
	if string(doc.Body) != `{"path":"/a"}` {
		t.Errorf("offline Body = %q", doc.Body)
	}
	if _, err := c.GetCached(ctx, srv.URL+"/b", client.Fetch); !errors.Is(err, tiercache.ErrNotAvailable) {
		t.Errorf("GetCached(uncached) error = %v, want %v", err, tiercache.ErrNotAvailable)
	}

	m := c.Metrics()
	if m.OfflineServed != 1 || m.Online {
		t.Errorf("Metrics() OfflineServed = %d, Online = %v, want 1, false", m.OfflineServed, m.Online)
	}
	t.Logf("Metrics: hits=%d misses=%d offline=%d", m.Hits, m.Misses, m.OfflineServed)
}
