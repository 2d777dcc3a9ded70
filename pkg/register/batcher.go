package register

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/regbind/regbind-go/pkg/log"
	"github.com/regbind/regbind-go/pkg/metrics"
)

// Result is the outcome of one register read.
type Result struct {
	Value uint64
	Err   error
}

// Scheduler runs deferred flushes.
type Scheduler interface {
	AfterFunc(d time.Duration, f func())
}

type timerScheduler struct{}

func (timerScheduler) AfterFunc(d time.Duration, f func()) {
	time.AfterFunc(d, f)
}

// BatcherConfig configures a Batcher.
type BatcherConfig struct {
	// FlushDelay is how long a block collects requests before flushing.
	// Zero flushes on the next timer tick.
	FlushDelay time.Duration

	// Scheduler runs flushes. Defaults to time.AfterFunc.
	Scheduler Scheduler

	Logger      *slog.Logger
	EventLogger log.Logger
	Metrics     *metrics.Collector
}

// DefaultBatcherConfig returns a zero-delay configuration.
func DefaultBatcherConfig() BatcherConfig {
	return BatcherConfig{}
}

type pendingRead struct {
	reg     *Register
	waiters []chan Result
}

// Batcher coalesces same-tick reads of adjacent registers.
type Batcher struct {
	reader  Reader
	multi   MultiReader
	delay   time.Duration
	sched   Scheduler
	logger  *slog.Logger
	events  log.Logger
	metrics *metrics.Collector

	mu     sync.Mutex
	parked map[*Block]struct{}
}

// NewBatcher creates a batcher over r. If r also implements MultiReader,
// runs of adjacent reads use it.
func NewBatcher(r Reader, cfg BatcherConfig) *Batcher {
	b := &Batcher{
		reader:  r,
		delay:   cfg.FlushDelay,
		sched:   cfg.Scheduler,
		logger:  cfg.Logger,
		events:  log.OrNoop(cfg.EventLogger),
		metrics: cfg.Metrics,
		parked:  make(map[*Block]struct{}),
	}
	if m, ok := r.(MultiReader); ok {
		b.multi = m
	}
	if b.sched == nil {
		b.sched = timerScheduler{}
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

func (b *Batcher) multiReader() MultiReader {
	if b.multi == nil {
		return nil
	}
	if c, ok := b.reader.(MultiReadCapable); ok && !c.SupportsMultiRead() {
		return nil
	}
	return b.multi
}

// ReadRegister reads reg on core, batching with other reads issued before
// the block flushes. The read is not cancelled when ctx is done; only the
// wait is abandoned.
func (b *Batcher) ReadRegister(ctx context.Context, reg *Register, core int) (uint64, error) {
	select {
	case res := <-b.ReadRegisterAsync(reg, core):
		return res.Value, res.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReadRegisterAsync parks a read of reg and returns a channel that receives
// its result once. Requests for the same register and core in one tick
// share a single slot.
func (b *Batcher) ReadRegisterAsync(reg *Register, core int) <-chan Result {
	ch := make(chan Result, 1)

	blk := reg.block
	if blk == nil || blk.Len() < 2 || b.multiReader() == nil {
		go func() {
			v, err := b.readSingle(reg, core)
			ch <- Result{Value: v, Err: err}
		}()
		return ch
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if blk.pending == nil {
		blk.pending = make(map[int][]*pendingRead)
	}
	slots := blk.pending[core]
	if slots == nil {
		slots = make([]*pendingRead, blk.Len())
		blk.pending[core] = slots
	}
	off := reg.Addr - blk.addr
	if slots[off] == nil {
		slots[off] = &pendingRead{reg: reg}
	}
	slots[off].waiters = append(slots[off].waiters, ch)

	if !blk.scheduled {
		blk.scheduled = true
		b.parked[blk] = struct{}{}
		b.sched.AfterFunc(b.delay, func() { b.flush(blk) })
	}
	return ch
}

// Pending returns the number of distinct register reads parked for the
// next flush.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for blk := range b.parked {
		for _, slots := range blk.pending {
			for _, p := range slots {
				if p != nil {
					n++
				}
			}
		}
	}
	return n
}

// flush serves every read parked on blk. Runs execute one after another.
func (b *Batcher) flush(blk *Block) {
	b.mu.Lock()
	pending := blk.pending
	blk.pending = nil
	blk.scheduled = false
	delete(b.parked, blk)
	b.mu.Unlock()

	cores := make([]int, 0, len(pending))
	for core := range pending {
		cores = append(cores, core)
	}
	sort.Ints(cores)

	for _, core := range cores {
		for _, run := range runs(pending[core]) {
			b.readRun(run, core)
		}
	}
}

// runs splits slots into maximal runs of populated entries.
func runs(slots []*pendingRead) [][]*pendingRead {
	var out [][]*pendingRead
	start := -1
	for i, p := range slots {
		switch {
		case p != nil && start < 0:
			start = i
		case p == nil && start >= 0:
			out = append(out, slots[start:i])
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, slots[start:])
	}
	return out
}

func (b *Batcher) readRun(run []*pendingRead, core int) {
	first := run[0].reg
	if len(run) == 1 {
		v, err := b.readSingle(first, core)
		run[0].resolve(Result{Value: v, Err: err})
		return
	}

	multi := b.multiReader()
	if multi == nil {
		// Support went away between park and flush.
		for _, p := range run {
			v, err := b.readSingle(p.reg, core)
			p.resolve(Result{Value: v, Err: err})
		}
		return
	}

	vals, err := multi.ReadRegisters(context.Background(), first, len(run), core)
	if err == nil && len(vals) != len(run) {
		err = fmt.Errorf("%w: %s: want %d, got %d", ErrShortRead, first, len(run), len(vals))
	}
	b.metrics.BatchRead(len(run))
	b.logBatch(first, core, len(run), true, err)
	if err != nil {
		b.logger.Debug("batched read failed", "first", first.String(), "count", len(run), "core", core, "error", err)
	}

	for i, p := range run {
		res := Result{Err: err}
		if err == nil {
			res.Value = vals[i]
		}
		p.resolve(res)
	}
}

func (b *Batcher) readSingle(reg *Register, core int) (uint64, error) {
	v, err := b.reader.ReadRegister(context.Background(), reg, core)
	b.metrics.SingleRead()
	b.logBatch(reg, core, 1, false, err)
	return v, err
}

func (b *Batcher) logBatch(first *Register, core, count int, multi bool, err error) {
	ev := &log.BatchEvent{
		Group: first.Group,
		Core:  core,
		Addr:  first.Addr,
		Count: count,
		Multi: multi,
	}
	cat := log.CategoryIO
	if err != nil {
		ev.Err = err.Error()
		cat = log.CategoryError
	}
	b.events.Log(log.Event{
		Timestamp: time.Now(),
		Layer:     log.LayerBatch,
		Category:  cat,
		Name:      first.Name,
		Batch:     ev,
	})
}

func (p *pendingRead) resolve(res Result) {
	for _, ch := range p.waiters {
		ch <- res
	}
}
