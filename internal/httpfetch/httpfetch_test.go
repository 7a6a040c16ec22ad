package httpfetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestClient_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("User-Agent"); got != "test-agent" {
			t.Errorf("User-Agent = %q, want %q", got, "test-agent")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("ETag", `"v1"`)
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(WithUserAgent("test-agent"), WithNow(func() time.Time { return at }))

	doc, err := c.Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(doc.Body) != `{"ok":true}` {
		t.Errorf("Body = %q, want %q", doc.Body, `{"ok":true}`)
	}
	if doc.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", doc.StatusCode, http.StatusOK)
	}
	if doc.ContentType != "application/json" {
		t.Errorf("ContentType = %q, want %q", doc.ContentType, "application/json")
	}
	if doc.ETag != `"v1"` {
		t.Errorf("ETag = %q, want %q", doc.ETag, `"v1"`)
	}
	if doc.URL != srv.URL {
		t.Errorf("URL = %q, want %q", doc.URL, srv.URL)
	}
	if !doc.FetchedAt.Equal(at) {
		t.Errorf("FetchedAt = %v, want %v", doc.FetchedAt, at)
	}
}

func TestClient_FetchStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New().Fetch(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("Fetch() error = %v, want *StatusError", err)
	}
	if se.Code != http.StatusServiceUnavailable {
		t.Errorf("Code = %d, want %d", se.Code, http.StatusServiceUnavailable)
	}
}

func TestClient_FetchBodyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, strings.Repeat("x", 32))
	}))
	defer srv.Close()

	if _, err := New(WithMaxBody(31)).Fetch(context.Background(), srv.URL); !errors.Is(err, ErrBodyTooLarge) {
		t.Errorf("Fetch() error = %v, want %v", err, ErrBodyTooLarge)
	}
	doc, err := New(WithMaxBody(32)).Fetch(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(doc.Body) != 32 {
		t.Errorf("len(Body) = %d, want 32", len(doc.Body))
	}
}

func TestClient_FetchCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New().Fetch(ctx, srv.URL); !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want %v", err, context.Canceled)
	}
}
