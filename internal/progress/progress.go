// Package progress counts finished transfers of one batch and reports them to a status sink.
package progress

import (
	"sync"
	"sync/atomic"
)

// Sink receives (completed, total) updates. Implementations must be safe for
// concurrent use.
type Sink interface {
	Update(completed, total int64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(completed, total int64)

func (f SinkFunc) Update(completed, total int64) { f(completed, total) }

// Multi fans an update out to several sinks.
func Multi(sinks ...Sink) Sink {
	return multiSink(sinks)
}

type multiSink []Sink

func (m multiSink) Update(completed, total int64) {
	for _, s := range m {
		if s != nil {
			s.Update(completed, total)
		}
	}
}

// Tracker is shared by the workers of one transfer batch. Total is fixed at
// construction; Completed only grows.
type Tracker struct {
	total     int64
	completed atomic.Int64
	sink      Sink

	// Serializes sink delivery so readers never observe a smaller value after a larger one.
	mu        sync.Mutex
	published int64
}

// NewTracker returns a tracker for total items. sink may be nil.
func NewTracker(total int, sink Sink) *Tracker {
	return &Tracker{total: int64(total), sink: sink}
}

// Complete records one finished item and returns the new completed count.
func (t *Tracker) Complete() int64 {
	n := t.completed.Add(1)
	t.publish()
	return n
}

func (t *Tracker) publish() {
	if t.sink == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.completed.Load()
	if n <= t.published {
		return
	}
	t.published = n
	t.sink.Update(n, t.total)
}

// Completed returns the number of finished items.
func (t *Tracker) Completed() int64 { return t.completed.Load() }

// Total returns the batch size.
func (t *Tracker) Total() int64 { return t.total }

// Ratio returns completed/total in [0,1]; an empty batch is complete.
func (t *Tracker) Ratio() float64 {
	if t.total == 0 {
		return 1
	}
	return float64(t.Completed()) / float64(t.total)
}
