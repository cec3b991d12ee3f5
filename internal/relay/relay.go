// Package relay turns a blocking channel into a pollable sequence for
// consumers driven by wake-up callbacks, such as UI event loops.
package relay

import (
	"context"
	"iter"
	"sync"
)

const DefaultCapacity = 64

// State is the result of a Poll.
type State uint8

const (
	// Ready means Poll returned an item.
	Ready State = iota
	// Pending means nothing is queued yet; the waker passed to Poll will be
	// called when that may have changed.
	Pending
	// Done means the source is finished and every item was consumed.
	Done
)

func (s State) String() string {
	switch s {
	case Ready:
		return "ready"
	case Pending:
		return "pending"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type options struct {
	capacity int
}

type Option func(*options)

// WithCapacity sets how many items the relay buffers ahead of the consumer.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// Relay moves items from a source channel into a bounded queue on a
// background worker and maps them on the way out. Items for which the map
// function returns false are skipped.
type Relay[T, M any] struct {
	mapFn func(T) (M, bool)

	queue   chan T
	wakers  chan func()
	drained chan struct{}

	sourceDone chan struct{}
	closing    chan struct{}
	exited     chan struct{}
	closeOnce  sync.Once
}

// New starts relaying from source. The relay finishes once source is closed
// and the consumer has taken every queued item.
func New[T, M any](source <-chan T, mapFn func(T) (M, bool), opts ...Option) *Relay[T, M] {
	o := options{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	r := &Relay[T, M]{
		mapFn:      mapFn,
		queue:      make(chan T, o.capacity),
		wakers:     make(chan func()),
		drained:    make(chan struct{}, 1),
		sourceDone: make(chan struct{}),
		closing:    make(chan struct{}),
		exited:     make(chan struct{}),
	}
	go r.run(source)
	return r
}

// Poll returns the next mapped item without blocking. When nothing is queued
// it registers wake, which must not block, and returns Pending.
func (r *Relay[T, M]) Poll(wake func()) (M, State) {
	var zero M

	for {
		if m, ok, took := r.take(); took {
			if ok {
				return m, Ready
			}
			continue
		}

		if r.finished() {
			// The worker may have queued a last item just before finishing.
			if m, ok, took := r.take(); took {
				if ok {
					return m, Ready
				}
				continue
			}
			return zero, Done
		}

		select {
		case r.wakers <- wake:
		case <-r.sourceDone:
			continue
		case <-r.exited:
			continue
		}

		// An item may have landed between the first check and registering.
		if m, ok, took := r.take(); took {
			if ok {
				return m, Ready
			}
			continue
		}
		return zero, Pending
	}
}

// Next blocks until an item is available and returns it. It returns false
// once the relay is done or ctx is cancelled.
func (r *Relay[T, M]) Next(ctx context.Context) (M, bool) {
	notify := make(chan struct{}, 1)
	wake := func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	}

	for {
		m, state := r.Poll(wake)
		switch state {
		case Ready:
			return m, true
		case Done:
			return m, false
		}

		select {
		case <-notify:
		case <-ctx.Done():
			var zero M
			return zero, false
		}
	}
}

// All iterates over the remaining items until the relay is done or ctx is
// cancelled.
func (r *Relay[T, M]) All(ctx context.Context) iter.Seq[M] {
	return func(yield func(M) bool) {
		for {
			m, ok := r.Next(ctx)
			if !ok || !yield(m) {
				return
			}
		}
	}
}

// Wait blocks until the worker has exited.
func (r *Relay[T, M]) Wait() {
	<-r.exited
}

// Close stops the worker without waiting for the source or the consumer.
// Items already queued can still be polled.
func (r *Relay[T, M]) Close() {
	r.closeOnce.Do(func() { close(r.closing) })
	<-r.exited
}

func (r *Relay[T, M]) take() (M, bool, bool) {
	var zero M

	select {
	case v := <-r.queue:
		if len(r.queue) == 0 {
			select {
			case r.drained <- struct{}{}:
			default:
			}
		}
		m, ok := r.mapFn(v)
		return m, ok, true
	default:
		return zero, false, false
	}
}

func (r *Relay[T, M]) finished() bool {
	select {
	case <-r.sourceDone:
		return true
	case <-r.exited:
		return true
	default:
		return false
	}
}

func (r *Relay[T, M]) run(source <-chan T) {
	defer close(r.exited)

	var wakers []func()
	wakeAll := func() {
		for _, w := range wakers {
			w()
		}
		wakers = wakers[:0]
	}

	for open := true; open; {
		select {
		case v, ok := <-source:
			if !ok {
				open = false
				break
			}
			if !r.push(v, &wakers) {
				return
			}
			wakeAll()
		case w := <-r.wakers:
			wakers = append(wakers, w)
			if len(r.queue) > 0 {
				wakeAll()
			}
		case <-r.closing:
			return
		}
	}

	close(r.sourceDone)
	wakeAll()

	// Stay alive until the consumer has emptied the queue.
	for len(r.queue) > 0 {
		select {
		case w := <-r.wakers:
			w()
		case <-r.drained:
		case <-r.closing:
			return
		}
	}
}

// push blocks until v is queued, collecting wakers meanwhile. It reports
// false if the relay was closed first.
func (r *Relay[T, M]) push(v T, wakers *[]func()) bool {
	for {
		select {
		case r.queue <- v:
			return true
		case w := <-r.wakers:
			*wakers = append(*wakers, w)
		case <-r.closing:
			return false
		}
	}
}
