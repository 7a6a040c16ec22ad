package connectivity

import (
	"context"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/discochess/tiercache/clock"
)

// DialFunc opens a connection; Probe only checks that it succeeds.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Compile-time check that Probe implements Source.
var _ Source = (*Probe)(nil)

// Probe is a Source that periodically dials a TCP address. It polls only
// while it has at least one subscriber.
type Probe struct {
	address  string
	interval time.Duration
	timeout  time.Duration
	dial     DialFunc
	clock    clock.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	online    bool
	nextID    int
	listeners map[int]Listener
	cancel    context.CancelFunc
	done      chan struct{}
}

// ProbeOption configures a Probe.
type ProbeOption func(*Probe)

// WithInterval sets the polling interval. Default 10s.
func WithInterval(d time.Duration) ProbeOption {
	return func(p *Probe) { p.interval = d }
}

// WithTimeout sets the per-dial timeout. Default 3s.
func WithTimeout(d time.Duration) ProbeOption {
	return func(p *Probe) { p.timeout = d }
}

// WithDialFunc replaces the dialer.
func WithDialFunc(fn DialFunc) ProbeOption {
	return func(p *Probe) { p.dial = fn }
}

// WithProbeClock sets the clock driving the polling ticker.
func WithProbeClock(c clock.Clock) ProbeOption {
	return func(p *Probe) { p.clock = c }
}

// WithProbeLogger sets the logger.
func WithProbeLogger(l *zap.Logger) ProbeOption {
	return func(p *Probe) { p.logger = l }
}

// NewProbe creates a probe for address ("host:port"). The probe starts in
// the online state until the first check says otherwise.
func NewProbe(address string, opts ...ProbeOption) *Probe {
	var d net.Dialer
	p := &Probe{
		address:   address,
		interval:  10 * time.Second,
		timeout:   3 * time.Second,
		dial:      d.DialContext,
		clock:     clock.New(),
		logger:    zap.NewNop(),
		online:    true,
		listeners: make(map[int]Listener),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Online reports the result of the most recent check.
func (p *Probe) Online() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online
}

// Subscribe registers l and starts polling if it is the first subscriber.
func (p *Probe) Subscribe(l Listener) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = l
	if p.cancel == nil {
		ctx, cancel := context.WithCancel(context.Background())
		p.cancel = cancel
		p.done = make(chan struct{})
		go p.run(ctx, p.done)
	}
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { p.unsubscribe(id) })
	}
}

func (p *Probe) unsubscribe(id int) {
	p.mu.Lock()
	delete(p.listeners, id)
	if len(p.listeners) > 0 || p.cancel == nil {
		p.mu.Unlock()
		return
	}
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	cancel()
	<-done
}

// Check dials once and publishes any transition. It is called by the
// polling loop and may be called directly.
func (p *Probe) Check(ctx context.Context) bool {
	dialCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	online := true
	conn, err := p.dial(dialCtx, "tcp", p.address)
	if ctx.Err() != nil {
		// Shutting down; a cancelled dial says nothing about the network.
		if conn != nil {
			_ = conn.Close()
		}
		return p.Online()
	}
	if err != nil {
		online = false
		p.logger.Debug("connectivity probe failed",
			zap.String("address", p.address),
			zap.Error(err),
		)
	} else {
		_ = conn.Close()
	}

	p.mu.Lock()
	changed := p.online != online
	p.online = online
	var listeners []Listener
	if changed {
		for _, l := range p.listeners {
			listeners = append(listeners, l)
		}
	}
	p.mu.Unlock()

	notify(listeners, online)
	return online
}

func (p *Probe) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			p.Check(ctx)
		}
	}
}
