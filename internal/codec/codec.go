// Package codec provides compression for persisted cache entries.
package codec

// Codec compresses and decompresses whole encoded entries.
type Codec interface {
	// Encode returns the compressed form of src.
	Encode(src []byte) ([]byte, error)
	// Decode returns the original bytes of a value produced by Encode.
	Decode(src []byte) ([]byte, error)
	// Name identifies the codec, e.g. "zstd". It is recorded with each
	// persisted entry so a codec change invalidates older entries.
	Name() string
}
