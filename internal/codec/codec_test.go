package codec_test

import (
	"bytes"
	"testing"

	"github.com/discochess/tiercache/internal/codec"
	"github.com/discochess/tiercache/internal/codec/gzipcodec"
	"github.com/discochess/tiercache/internal/codec/noopcodec"
	"github.com/discochess/tiercache/internal/codec/zstdcodec"
)

func codecs() []codec.Codec {
	return []codec.Codec{noopcodec.New(), gzipcodec.New(), zstdcodec.New()}
}

func TestCodec_Name(t *testing.T) {
	want := []string{"none", "gzip", "zstd"}
	for i, c := range codecs() {
		if got := c.Name(); got != want[i] {
			t.Errorf("Name() = %q, want %q", got, want[i])
		}
	}
}

func TestCodec_RoundTrip(t *testing.T) {
	inputs := map[string][]byte{
		"empty": {},
		"small": []byte(`{"value":"hello"}`),
		"large": bytes.Repeat([]byte(`{"id":1,"name":"venue"},`), 5000),
	}

	for _, c := range codecs() {
		for name, original := range inputs {
			t.Run(c.Name()+"/"+name, func(t *testing.T) {
				encoded, err := c.Encode(original)
				if err != nil {
					t.Fatalf("Encode() error = %v", err)
				}
				decoded, err := c.Decode(encoded)
				if err != nil {
					t.Fatalf("Decode() error = %v", err)
				}
				if !bytes.Equal(decoded, original) {
					t.Errorf("round trip mismatch: got %d bytes, want %d", len(decoded), len(original))
				}
			})
		}
	}
}

func TestCodec_Compresses(t *testing.T) {
	original := bytes.Repeat([]byte("ABCDEFGHIJ"), 10000)

	for _, c := range []codec.Codec{gzipcodec.New(), zstdcodec.New()} {
		encoded, err := c.Encode(original)
		if err != nil {
			t.Fatalf("%s: Encode() error = %v", c.Name(), err)
		}
		if len(encoded) >= len(original) {
			t.Errorf("%s: expected compression, got %d bytes from %d", c.Name(), len(encoded), len(original))
		}
	}
}

func TestCodec_DecodeInvalid(t *testing.T) {
	for _, c := range []codec.Codec{gzipcodec.New(), zstdcodec.New()} {
		if _, err := c.Decode([]byte("not compressed data")); err == nil {
			t.Errorf("%s: Decode() expected error for invalid data", c.Name())
		}
	}
}
