package protocol

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrChannelDead is returned when the other end of a confirmation channel
	// is gone: the outcome was already published, the listener abandoned it,
	// or the tracker was dropped without an outcome.
	ErrChannelDead = errors.New("channel dead")

	// ErrChannelEmpty is returned by a non-blocking read when no outcome has
	// been published yet.
	ErrChannelEmpty = errors.New("channel empty")
)

// StableID identifies a live connection for as long as it stays up. It is
// not a long-term peer identity: reconnecting yields a new id.
type StableID uint64

// Outcome is the terminal state of a tracked send.
type Outcome uint8

const (
	OutcomeConfirmed Outcome = iota + 1
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeConfirmed:
		return "CONFIRMED"
	case OutcomeFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

type payloadState uint8

const (
	payloadPending payloadState = iota
	payloadTaken
)

// TrackedPacket pairs an outbound packet with a single-use confirmation
// channel. The packet can be taken exactly once; the channel receives at most
// one outcome.
type TrackedPacket struct {
	Recipient StableID

	mu     sync.Mutex
	state  payloadState
	packet Packet

	settled *settlement
}

// Confirmation is the receiving half of a TrackedPacket. Any number of
// goroutines may wait on it; they all observe the same result.
type Confirmation struct {
	settled *settlement
	abandon sync.Once
}

// settlement is the state both halves share. done is closed exactly once,
// after outcome is final.
type settlement struct {
	mu       sync.Mutex
	outcome  Outcome
	resolved bool

	done      chan struct{}
	abandoned chan struct{}
}

// NewTracked wraps p for delivery to recipient.
func NewTracked(recipient StableID, p Packet) (*TrackedPacket, *Confirmation) {
	settled := &settlement{
		done:      make(chan struct{}),
		abandoned: make(chan struct{}),
	}

	tracked := &TrackedPacket{
		Recipient: recipient,
		state:     payloadPending,
		packet:    p,
		settled:   settled,
	}
	return tracked, &Confirmation{settled: settled}
}

// Take extracts the packet. Only the first call succeeds.
func (t *TrackedPacket) Take() (Packet, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == payloadTaken {
		return Packet{}, false
	}
	pkt := t.packet
	t.packet = Packet{}
	t.state = payloadTaken
	return pkt, true
}

// Confirm publishes a successful, verified delivery.
func (t *TrackedPacket) Confirm() error {
	return t.settled.publish(OutcomeConfirmed)
}

// Fail publishes a failed delivery.
func (t *TrackedPacket) Fail() error {
	return t.settled.publish(OutcomeFailed)
}

// Drop closes the channel without publishing an outcome. Used when the
// destination connection is gone; a waiter observes ErrChannelDead.
func (t *TrackedPacket) Drop() {
	s := t.settled
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return
	}
	s.resolved = true
	close(s.done)
}

func (s *settlement) publish(o Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resolved {
		return ErrChannelDead
	}
	s.resolved = true
	select {
	case <-s.abandoned:
		close(s.done)
		return ErrChannelDead
	default:
	}
	s.outcome = o
	close(s.done)
	return nil
}

// result reads the final state. Only valid once done is closed.
func (s *settlement) result() (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.outcome == 0 {
		return 0, ErrChannelDead
	}
	return s.outcome, nil
}

// Wait blocks until an outcome is published, the tracker is dropped or ctx
// is cancelled.
func (c *Confirmation) Wait(ctx context.Context) (Outcome, error) {
	select {
	case <-c.settled.done:
		return c.settled.result()
	default:
	}
	select {
	case <-c.settled.done:
		return c.settled.result()
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Outcome returns the published outcome without blocking, or
// ErrChannelEmpty if there is none yet.
func (c *Confirmation) Outcome() (Outcome, error) {
	select {
	case <-c.settled.done:
		return c.settled.result()
	default:
		return 0, ErrChannelEmpty
	}
}

// Abandon tells the sender nobody is listening anymore. Later Confirm/Fail
// calls return ErrChannelDead.
func (c *Confirmation) Abandon() {
	c.abandon.Do(func() { close(c.settled.abandoned) })
}
