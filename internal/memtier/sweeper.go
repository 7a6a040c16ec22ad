package memtier

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/tiercache/clock"
)

// DefaultSweepInterval is how often expired entries are removed.
const DefaultSweepInterval = 5 * time.Minute

// sweepable is the part of Tier the sweeper needs. It is not generic so
// one sweeper type serves tiers of any value type.
type sweepable interface {
	RemoveExpired() []string
	Usage() int64
}

// Sweeper periodically removes expired entries from a tier, independent of
// reads and writes.
type Sweeper struct {
	tier     sweepable
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger
	onSweep  func(removed []string)

	mu   sync.Mutex
	stop chan struct{}
	done chan struct{}
}

// NewSweeper creates a sweeper for tier. onSweep, if non-nil, is called
// after every pass that removed at least one entry.
func NewSweeper(tier sweepable, clk clock.Clock, interval time.Duration, logger *zap.Logger, onSweep func(removed []string)) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		tier:     tier,
		clock:    clk,
		interval: interval,
		logger:   logger,
		onSweep:  onSweep,
	}
}

// Start begins sweeping in the background. Starting twice is a no-op.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.run(s.clock.NewTicker(s.interval), s.stop, s.done)
}

// Stop ends the background loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Sweep runs one pass and returns the number of removed entries.
func (s *Sweeper) Sweep() int {
	removed := s.tier.RemoveExpired()
	if len(removed) == 0 {
		return 0
	}
	s.logger.Debug("expired entries removed",
		zap.String("event", "cache_cleanup"),
		zap.Int("count", len(removed)),
		zap.Int64("usageBytes", s.tier.Usage()),
	)
	if s.onSweep != nil {
		s.onSweep(removed)
	}
	return len(removed)
}

func (s *Sweeper) run(ticker clock.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			s.Sweep()
		}
	}
}
