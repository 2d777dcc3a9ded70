package refresh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/regbind/regbind-go/pkg/metrics"
)

// Provider errors.
var (
	ErrRunning    = errors.New("refresh provider already running")
	ErrNotRunning = errors.New("refresh provider not running")
)

// DefaultInterval is the polling period used when Config.Interval is zero.
const DefaultInterval = time.Second

// Refresher is polled by a Provider. OnRefresh returns the number of target
// operations it started.
type Refresher interface {
	OnRefresh(ctx context.Context) (int, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (int, error)

// OnRefresh calls f.
func (f RefresherFunc) OnRefresh(ctx context.Context) (int, error) { return f(ctx) }

// Config configures a Provider.
type Config struct {
	// Interval between the start of two passes.
	Interval time.Duration

	// MaxOpsPerSecond limits how many refreshers are started per second.
	// Zero disables the limit.
	MaxOpsPerSecond float64

	// OnPass is called after every pass started by Start.
	OnPass func(ops int, err error)

	Logger  *slog.Logger
	Metrics *metrics.Collector
}

// DefaultConfig polls once per second without a rate limit.
func DefaultConfig() Config {
	return Config{Interval: DefaultInterval}
}

// Stats reports polling activity.
type Stats struct {
	Passes     uint64
	Operations uint64
	Failures   uint64
	LastPass   time.Time
}

// Provider periodically refreshes a set of Refreshers.
type Provider struct {
	interval time.Duration
	limiter  *rate.Limiter
	onPass   func(int, error)
	logger   *slog.Logger
	metrics  *metrics.Collector

	mu         sync.Mutex
	refreshers []Refresher
	cancel     context.CancelFunc
	done       chan struct{}

	passes   atomic.Uint64
	ops      atomic.Uint64
	failures atomic.Uint64
	lastPass atomic.Int64
}

// New creates a stopped Provider.
func New(cfg Config) *Provider {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	p := &Provider{
		interval: cfg.Interval,
		onPass:   cfg.OnPass,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if cfg.MaxOpsPerSecond > 0 {
		burst := int(cfg.MaxOpsPerSecond / 10)
		if burst < 1 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(rate.Limit(cfg.MaxOpsPerSecond), burst)
	}
	return p
}

// Add registers r. Adding the same refresher twice polls it twice.
func (p *Provider) Add(rs ...Refresher) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshers = append(p.refreshers, rs...)
}

// Remove unregisters the first occurrence of r and reports whether it was
// found.
func (p *Provider) Remove(r Refresher) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.refreshers {
		if cur == r {
			p.refreshers = append(p.refreshers[:i], p.refreshers[i+1:]...)
			return true
		}
	}
	return false
}

// Len returns the number of registered refreshers.
func (p *Provider) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.refreshers)
}

// Poll runs one pass over every refresher and returns the total number of
// operations they started. Failures of individual refreshers do not stop
// the others; they are joined into the returned error.
func (p *Provider) Poll(ctx context.Context) (int, error) {
	p.mu.Lock()
	rs := append([]Refresher(nil), p.refreshers...)
	p.mu.Unlock()

	var (
		total   atomic.Int64
		errMu   sync.Mutex
		errs    []error
		waitErr error
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range rs {
		if p.limiter != nil {
			if err := p.limiter.Wait(gctx); err != nil {
				waitErr = err
				break
			}
		}
		g.Go(func() error {
			n, err := r.OnRefresh(gctx)
			total.Add(int64(n))
			if err != nil {
				errMu.Lock()
				errs = append(errs, err)
				errMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	ops := int(total.Load())
	p.passes.Add(1)
	p.ops.Add(uint64(ops))
	p.lastPass.Store(time.Now().UnixNano())
	p.metrics.PollPass(ops)

	if err := ctx.Err(); err != nil {
		return ops, err
	}
	if waitErr != nil {
		return ops, fmt.Errorf("refresh: %w", waitErr)
	}
	if len(errs) > 0 {
		p.failures.Add(uint64(len(errs)))
		return ops, errors.Join(errs...)
	}
	return ops, nil
}

// Start begins polling in the background until ctx is done or Stop is
// called. The first pass runs immediately.
func (p *Provider) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(ctx, p.done)
	return nil
}

// Stop ends background polling and waits for the current pass to finish.
func (p *Provider) Stop() error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return ErrNotRunning
	}
	cancel()
	<-done
	return nil
}

// IsRunning reports whether background polling is active.
func (p *Provider) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Stats returns polling counters.
func (p *Provider) Stats() Stats {
	s := Stats{
		Passes:     p.passes.Load(),
		Operations: p.ops.Load(),
		Failures:   p.failures.Load(),
	}
	if ns := p.lastPass.Load(); ns != 0 {
		s.LastPass = time.Unix(0, ns)
	}
	return s
}

func (p *Provider) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.pass(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Provider) pass(ctx context.Context) {
	start := time.Now()
	ops, err := p.Poll(ctx)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.logger.Debug("refresh pass failed", "ops", ops, "error", err)
	} else {
		p.logger.Debug("refresh pass", "ops", ops, "took", time.Since(start))
	}
	if p.onPass != nil {
		p.onPass(ops, err)
	}
}
