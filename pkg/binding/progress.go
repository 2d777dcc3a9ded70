package binding

import (
	"context"
	"sync"
)

// Progress counts outstanding operations started on behalf of a caller.
//
// Pass the same Progress to several Refresh or SetValue calls and Wait for
// all of them. A nil *Progress is accepted everywhere and tracks nothing.
type Progress struct {
	mu      sync.Mutex
	pending int
	total   int
	err     error
	done    chan struct{}
}

// NewProgress returns an empty Progress.
func NewProgress() *Progress {
	return &Progress{}
}

func (p *Progress) add() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		p.done = make(chan struct{})
	}
	p.pending++
	p.total++
}

func (p *Progress) finish(err error) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		return
	}
	if err != nil && p.err == nil {
		p.err = err
	}
	p.pending--
	if p.pending == 0 {
		close(p.done)
		p.done = nil
	}
}

// Pending returns the number of operations not yet completed.
func (p *Progress) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Total returns the number of operations ever tracked.
func (p *Progress) Total() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total
}

// Err returns the first error reported by a tracked operation.
func (p *Progress) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Done returns a channel closed once nothing is pending.
func (p *Progress) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending == 0 {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return p.done
}

// Wait blocks until no operations are pending or ctx is done.
// It returns the first operation error, or ctx.Err().
func (p *Progress) Wait(ctx context.Context) error {
	p.mu.Lock()
	if p.pending == 0 {
		err := p.err
		p.mu.Unlock()
		return err
	}
	done := p.done
	p.mu.Unlock()

	select {
	case <-done:
		return p.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// completion is one party waiting for an operation: a refresh channel,
// a Progress, or both.
type completion struct {
	ch       chan error
	progress *Progress
}

func newCompletion(progress *Progress, withChan bool) completion {
	c := completion{progress: progress}
	if withChan {
		c.ch = make(chan error, 1)
	}
	progress.add()
	return c
}

func (c completion) resolve(err error) {
	if c.ch != nil {
		c.ch <- err
	}
	c.progress.finish(err)
}
