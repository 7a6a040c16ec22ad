// Package zstdcodec provides a zstd compression codec.
package zstdcodec

import (
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/discochess/tiercache/internal/codec"
)

// Compile-time check that Codec implements codec.Codec.
var _ codec.Codec = (*Codec)(nil)

// Codec implements zstd compression. The encoder and decoder are created
// once and shared; EncodeAll and DecodeAll are safe for concurrent use.
type Codec struct {
	once    sync.Once
	encoder *zstd.Encoder
	decoder *zstd.Decoder
	initErr error
}

// New returns a new zstd codec.
func New() *Codec {
	return &Codec{}
}

func (c *Codec) init() error {
	c.once.Do(func() {
		c.encoder, c.initErr = zstd.NewWriter(nil)
		if c.initErr != nil {
			return
		}
		c.decoder, c.initErr = zstd.NewReader(nil)
	})
	return c.initErr
}

// Encode compresses src with zstd.
func (c *Codec) Encode(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("initializing zstd: %w", err)
	}
	return c.encoder.EncodeAll(src, make([]byte, 0, len(src)/2)), nil
}

// Decode decompresses zstd data.
func (c *Codec) Decode(src []byte) ([]byte, error) {
	if err := c.init(); err != nil {
		return nil, fmt.Errorf("initializing zstd: %w", err)
	}
	data, err := c.decoder.DecodeAll(src, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing: %w", err)
	}
	return data, nil
}

// Name returns "zstd".
func (c *Codec) Name() string {
	return "zstd"
}
