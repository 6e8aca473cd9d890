// Package bulk tracks how many placements of a batch the server still has to
// acknowledge and lets a caller wait for the batch to finish.
//
// The counter is shared by the whole session. When two batches overlap, the
// acknowledgements of one count as progress for the other; stall detection
// cannot tell them apart.
package bulk

import (
	"context"
	"sync/atomic"
	"time"
)

// Policy bounds how long Await keeps polling without progress.
type Policy struct {
	PollInterval    time.Duration
	MaxStableStalls int
}

var DefaultPolicy = Policy{PollInterval: time.Second, MaxStableStalls: 5}

func (p Policy) withDefaults() Policy {
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPolicy.PollInterval
	}
	if p.MaxStableStalls <= 0 {
		p.MaxStableStalls = DefaultPolicy.MaxStableStalls
	}
	return p
}

// Tracker owns the outstanding-acknowledgement counter.
type Tracker struct {
	remaining atomic.Int64
}

func NewTracker() *Tracker { return &Tracker{} }

// Begin arms the counter with expected and returns a handle to wait on.
func (t *Tracker) Begin(expected int) *Operation {
	if expected < 0 {
		expected = 0
	}
	t.remaining.Store(int64(expected))
	return &Operation{t: t, expected: expected, last: int64(expected)}
}

// Decrement records n acknowledged positions. The counter never goes below zero.
func (t *Tracker) Decrement(n int) {
	if n <= 0 {
		return
	}
	for {
		cur := t.remaining.Load()
		next := cur - int64(n)
		if next < 0 {
			next = 0
		}
		if t.remaining.CompareAndSwap(cur, next) {
			return
		}
	}
}

func (t *Tracker) Remaining() int { return int(t.remaining.Load()) }

// Feed drains acknowledgement counts from acks until the channel closes or
// ctx is done.
func (t *Tracker) Feed(ctx context.Context, acks <-chan int) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-acks:
			if !ok {
				return
			}
			t.Decrement(n)
		}
	}
}

// Operation is one awaited batch.
type Operation struct {
	t        *Tracker
	expected int

	last   int64
	stalls int
	polls  int
}

func (o *Operation) Expected() int  { return o.expected }
func (o *Operation) Remaining() int { return o.t.Remaining() }
func (o *Operation) Polls() int     { return o.polls }

// poll observes the counter once. It reports done when the counter is zero
// (ok=true) or the stall budget is spent (ok=false).
func (o *Operation) poll(maxStalls int) (done, ok bool) {
	o.polls++
	cur := o.t.remaining.Load()
	if cur == 0 {
		return true, true
	}
	if cur == o.last {
		o.stalls++
	} else {
		o.stalls = 0
	}
	o.last = cur
	if o.stalls >= maxStalls {
		return true, false
	}
	return false, false
}

// Await polls until every expected acknowledgement arrived (true), or the
// counter sat unchanged for MaxStableStalls consecutive polls (false).
// Cancelling ctx stops the wait with ctx.Err().
func (o *Operation) Await(ctx context.Context, p Policy) (bool, error) {
	p = p.withDefaults()
	if done, ok := o.poll(p.MaxStableStalls); done {
		return ok, nil
	}
	tick := time.NewTicker(p.PollInterval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-tick.C:
		}
		if done, ok := o.poll(p.MaxStableStalls); done {
			return ok, nil
		}
	}
}
