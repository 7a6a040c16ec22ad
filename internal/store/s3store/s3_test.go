package s3store

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
			opt := WithPrefix(tt.input)
			if err := opt(s); err != nil {
				t.Fatalf("WithPrefix() error = %v", err)
			}
			if s.prefix != tt.want {
				t.Errorf("prefix = %q, want %q", s.prefix, tt.want)
			}
		})
	}
}

func TestStore_objectKey(t *testing.T) {
	s := &Store{prefix: "data/v1/"}

	tests := []struct {
		key  string
		want string
	}{
		{"tiercache_a", "data/v1/entries/tiercache_a"},
		{"a b/c", "data/v1/entries/a%20b%2Fc"},
	}

	for _, tt := range tests {
		if got := s.objectKey(tt.key); got != tt.want {
			t.Errorf("objectKey(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestWithMaxObjectSize(t *testing.T) {
	s := &Store{}
	if err := WithMaxObjectSize(-1)(s); err == nil {
		t.Error("WithMaxObjectSize(-1) should return error")
	}
	if err := WithMaxObjectSize(3)(s); err != nil {
		t.Fatalf("WithMaxObjectSize(3) error = %v", err)
	}
	if err := s.checkSize([]byte("abcd")); !errors.Is(err, store.ErrQuotaExceeded) {
		t.Errorf("checkSize() error = %v, want ErrQuotaExceeded", err)
	}
	if err := s.checkSize([]byte("abc")); err != nil {
		t.Errorf("checkSize() error = %v, want nil", err)
	}
}
