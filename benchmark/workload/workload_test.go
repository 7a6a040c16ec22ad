package workload

import (
	"strings"
	"testing"
)

func TestGenerate_Deterministic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sessions = 5
	cfg.RequestsPerSession = 20

	a, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	b, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	if len(a) != 5 || Requests(a) != 100 {
		t.Fatalf("Generate() = %d sessions, %d requests, want 5, 100", len(a), Requests(a))
	}
	for i := range a {
		for j := range a[i] {
			if a[i][j] != b[i][j] {
				t.Fatalf("session %d request %d differs: %v vs %v", i, j, a[i][j], b[i][j])
			}
			if size := a[i][j].Size; size < cfg.MinSize || size > cfg.MaxSize {
				t.Errorf("Size = %d, want in [%d, %d]", size, cfg.MinSize, cfg.MaxSize)
			}
		}
	}
}

func TestGenerate_Skewed(t *testing.T) {
	cfg := DefaultConfig()
	sessions, err := Generate(cfg)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	counts := make(map[string]int)
	for _, s := range sessions {
		for _, r := range s {
			counts[r.Key]++
		}
	}
	// The hottest key should account for far more than a uniform share.
	uniform := Requests(sessions) / cfg.Keys
	if counts["key-0"] <= 10*uniform {
		t.Errorf("key-0 requested %d times, want more than %d", counts["key-0"], 10*uniform)
	}
}

func TestGenerate_InvalidConfig(t *testing.T) {
	bad := []Config{
		{Sessions: 1, RequestsPerSession: 1, Keys: 0, Skew: 1.1, MinSize: 1, MaxSize: 1},
		{Sessions: 1, RequestsPerSession: 1, Keys: 10, Skew: 1.0, MinSize: 1, MaxSize: 1},
		{Sessions: 1, RequestsPerSession: 1, Keys: 10, Skew: 1.1, MinSize: 5, MaxSize: 4},
	}
	for i, cfg := range bad {
		if _, err := Generate(cfg); err == nil {
			t.Errorf("Generate(bad[%d]) error = nil, want error", i)
		}
	}
}

func TestSizeOf(t *testing.T) {
	if SizeOf("a", 10, 10) != 10 {
		t.Errorf("SizeOf() with a single-value range = %d, want 10", SizeOf("a", 10, 10))
	}
	if SizeOf("a", 1, 1000) != SizeOf("a", 1, 1000) {
		t.Error("SizeOf() is not stable")
	}
}

func TestRead(t *testing.T) {
	trace := `# warm-up
home 1200
profile

settings 300
home
`
	sessions, err := Read(strings.NewReader(trace), 100)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len(sessions) = %d, want 2", len(sessions))
	}
	want := []Session{
		{{Key: "home", Size: 1200}, {Key: "profile", Size: 100}},
		{{Key: "settings", Size: 300}, {Key: "home", Size: 100}},
	}
	for i := range want {
		if len(sessions[i]) != len(want[i]) {
			t.Fatalf("session %d = %v, want %v", i, sessions[i], want[i])
		}
		for j := range want[i] {
			if sessions[i][j] != want[i][j] {
				t.Errorf("session %d request %d = %v, want %v", i, j, sessions[i][j], want[i][j])
			}
		}
	}

	if _, err := Read(strings.NewReader("k notanumber\n"), 1); err == nil {
		t.Error("Read() with a bad size error = nil, want error")
	}
}
