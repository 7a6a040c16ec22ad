package gcsstore

import (
	"errors"
	"testing"

	"github.com/discochess/tiercache/internal/store"
)

func TestWithPrefix(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"", ""},
		{"prefix", "prefix/"},
		{"prefix/", "prefix/"},
		{"a/b/c", "a/b/c/"},
		{"a/b/c/", "a/b/c/"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			s := &Store{}
			WithPrefix(tt.input)(s)
			if s.prefix != tt.want {
				t.Errorf("prefix = %q, want %q", s.prefix, tt.want)
			}
		})
	}
}

func TestStore_objectKey(t *testing.T) {
	tests := []struct {
		prefix string
		key    string
		want   string
	}{
		{"", "tiercache_venue_1", "entries/tiercache_venue_1"},
		{"session/abc/", "tiercache_venue_1", "session/abc/entries/tiercache_venue_1"},
		{"", "https://api/x?y=1", "entries/https:%2F%2Fapi%2Fx%3Fy=1"},
	}

	for _, tt := range tests {
		s := &Store{prefix: tt.prefix}
		if got := s.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestStore_checkSize(t *testing.T) {
	s := &Store{}
	WithMaxObjectSize(4)(s)

	if err := s.checkSize([]byte("1234")); err != nil {
		t.Errorf("checkSize(4 bytes) error = %v", err)
	}
	if err := s.checkSize([]byte("12345")); !errors.Is(err, store.ErrQuotaExceeded) {
		t.Errorf("checkSize(5 bytes) error = %v, want ErrQuotaExceeded", err)
	}

	unlimited := &Store{}
	if err := unlimited.checkSize(make([]byte, 1<<20)); err != nil {
		t.Errorf("checkSize() without limit error = %v", err)
	}
}
