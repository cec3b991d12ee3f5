package node

import "sync"

// Feed fans values out to every current subscriber. Each subscriber has its
// own unbounded queue, so a slow reader never blocks the sender or the other
// subscribers, and sees values in the order they were sent.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[*Subscription[T]]struct{}
	closed bool
}

func NewFeed[T any]() *Feed[T] {
	return &Feed[T]{subs: make(map[*Subscription[T]]struct{})}
}

// Subscribe registers a new subscriber. Values sent before this call are not
// delivered to it. Subscribing to a closed feed yields an already finished
// subscription.
func (f *Feed[T]) Subscribe() *Subscription[T] {
	s := &Subscription[T]{
		feed:   f,
		signal: make(chan struct{}, 1),
		out:    make(chan T),
		quit:   make(chan struct{}),
	}

	f.mu.Lock()
	if f.closed {
		s.done = true
	} else {
		f.subs[s] = struct{}{}
	}
	f.mu.Unlock()

	go s.pump()
	return s
}

// Send queues v for every subscriber and returns how many there were.
func (f *Feed[T]) Send(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0
	}
	for s := range f.subs {
		s.push(v)
	}
	return len(f.subs)
}

// Close ends every subscription once its queue has been drained.
func (f *Feed[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for s := range f.subs {
		s.finish()
	}
	clear(f.subs)
}

func (f *Feed[T]) remove(s *Subscription[T]) {
	f.mu.Lock()
	delete(f.subs, s)
	f.mu.Unlock()
}

// Subscription is one reader of a Feed.
type Subscription[T any] struct {
	feed *Feed[T]

	mu     sync.Mutex
	queue  []T
	done   bool
	signal chan struct{}

	out  chan T
	quit chan struct{}
	once sync.Once
}

// C returns the channel values are delivered on. It is closed when the feed
// closes and every queued value was delivered, or after Unsubscribe.
func (s *Subscription[T]) C() <-chan T {
	return s.out
}

// Unsubscribe stops delivery. Queued values are discarded.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.feed.remove(s)
		close(s.quit)
	})
}

func (s *Subscription[T]) push(v T) {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, v)
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) finish() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.wake()
}

func (s *Subscription[T]) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription[T]) pump() {
	defer close(s.out)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			done := s.done
			s.mu.Unlock()
			if done {
				return
			}
			select {
			case <-s.signal:
				continue
			case <-s.quit:
				return
			}
		}
		v := s.queue[0]
		var zero T
		s.queue[0] = zero
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- v:
		case <-s.quit:
			return
		}
	}
}
