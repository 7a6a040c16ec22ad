// Package workload generates and reads cache request sequences for
// benchmarking.
package workload

import (
	"bufio"
	"fmt"
	"io"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Request is a single cache lookup.
type Request struct {
	Key  string
	Size int // Bytes the origin returns for Key.
}

// Session is a sequence of requests made by one user visit.
type Session []Request

// Config describes a synthetic workload.
type Config struct {
	Sessions           int
	RequestsPerSession int
	Keys               int     // Distinct keys in the key space.
	Skew               float64 // Zipf exponent; must be > 1.
	MinSize            int
	MaxSize            int
	Seed               uint64
}

// DefaultConfig returns a small, moderately skewed workload.
func DefaultConfig() Config {
	return Config{
		Sessions:           200,
		RequestsPerSession: 50,
		Keys:               2000,
		Skew:               1.1,
		MinSize:            512,
		MaxSize:            16 << 10,
		Seed:               1,
	}
}

// Generate builds a deterministic Zipf-distributed workload. The same
// config always yields the same sessions.
func Generate(cfg Config) ([]Session, error) {
	if cfg.Keys <= 0 || cfg.Sessions <= 0 || cfg.RequestsPerSession <= 0 {
		return nil, fmt.Errorf("workload: sessions, requests and keys must be positive")
	}
	if cfg.Skew <= 1 {
		return nil, fmt.Errorf("workload: skew must be > 1, got %v", cfg.Skew)
	}
	if cfg.MinSize <= 0 || cfg.MaxSize < cfg.MinSize {
		return nil, fmt.Errorf("workload: invalid size range [%d, %d]", cfg.MinSize, cfg.MaxSize)
	}

	r := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	zipf := rand.NewZipf(r, cfg.Skew, 1, uint64(cfg.Keys-1))

	sessions := make([]Session, cfg.Sessions)
	for i := range sessions {
		s := make(Session, cfg.RequestsPerSession)
		for j := range s {
			key := "key-" + strconv.FormatUint(zipf.Uint64(), 10)
			s[j] = Request{Key: key, Size: SizeOf(key, cfg.MinSize, cfg.MaxSize)}
		}
		sessions[i] = s
	}
	return sessions, nil
}

// SizeOf derives a stable response size in [minSize, maxSize] from key.
func SizeOf(key string, minSize, maxSize int) int {
	span := uint64(maxSize - minSize + 1)
	return minSize + int(xxhash.Sum64String(key)%span)
}

// Read parses a trace. Each line holds a key and an optional size in
// bytes; blank lines separate sessions and lines starting with # are
// ignored. Keys without a size get defaultSize.
func Read(r io.Reader, defaultSize int) ([]Session, error) {
	var sessions []Session
	var current Session

	flush := func() {
		if len(current) > 0 {
			sessions = append(sessions, current)
			current = nil
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			flush()
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}

		fields := strings.Fields(line)
		req := Request{Key: fields[0], Size: defaultSize}
		if len(fields) > 1 {
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("line %d: invalid size %q", lineNo, fields[1])
			}
			req.Size = n
		}
		current = append(current, req)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading trace: %w", err)
	}
	flush()
	return sessions, nil
}

// Requests returns the total number of requests across sessions.
func Requests(sessions []Session) int {
	var n int
	for _, s := range sessions {
		n += len(s)
	}
	return n
}
