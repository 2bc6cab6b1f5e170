// Package progress reports monotonic completion percentages from long
// running operations and carries their cooperative cancellation checks.
package progress

import (
	"context"
	"sync"
)

// Sink receives progress updates. Percent is in [0,100] and never decreases
// across the calls made for one run.
type Sink func(percent int, stage string)

// Tracker forwards checkpoints to a Sink. A nil *Tracker is valid and only
// checks for cancellation.
type Tracker struct {
	root *state
	from float64
	span float64
}

type state struct {
	mu   sync.Mutex
	sink Sink
	last int
}

// New returns a tracker covering the full 0..100 range.
func New(sink Sink) *Tracker {
	return &Tracker{root: &state{sink: sink, last: -1}, span: 100}
}

// Sub returns a tracker whose 0..100 range maps onto [from, to] of t.
func (t *Tracker) Sub(from, to int) *Tracker {
	if t == nil {
		return nil
	}
	return &Tracker{
		root: t.root,
		from: t.from + t.span*float64(from)/100,
		span: t.span * float64(to-from) / 100,
	}
}

// Checkpoint returns ctx.Err() if the run was cancelled; otherwise it
// reports percent (relative to t's range) and returns nil. Callers must stop
// before their next step once Checkpoint returns an error.
func (t *Tracker) Checkpoint(ctx context.Context, percent int, stage string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if t == nil {
		return nil
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	abs := int(t.from + t.span*float64(percent)/100 + 0.5)

	t.root.mu.Lock()
	defer t.root.mu.Unlock()
	if abs < t.root.last {
		abs = t.root.last
	}
	t.root.last = abs
	if t.root.sink != nil {
		t.root.sink(abs, stage)
	}
	return nil
}

// Last returns the highest percentage reported so far, or -1.
func (t *Tracker) Last() int {
	if t == nil {
		return -1
	}
	t.root.mu.Lock()
	defer t.root.mu.Unlock()
	return t.root.last
}
