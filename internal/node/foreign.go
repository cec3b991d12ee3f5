package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/hchap1/rift/internal/protocol"
	"github.com/hchap1/rift/internal/transport"
	"github.com/sirupsen/logrus"
)

// maxEchoSize bounds how much of a reply is read while waiting for a
// confirmation. Anything longer than CodeSize is already a mismatch.
const maxEchoSize = 16

var errPacketTooLarge = errors.New("packet too large")

// outbound is a taken packet waiting for its turn on the connection.
type outbound struct {
	tracked *protocol.TrackedPacket
	pkt     protocol.Packet
}

// Foreign is one live connection to a remote node.
type Foreign struct {
	peer *transport.Peer
	log  *logrus.Entry

	confirmTimeout time.Duration
	maxPacketSize  int64

	// outbound is the FIFO drained by deliver; wake has room for one signal.
	outMu     sync.Mutex
	outbound  []outbound
	outClosed bool
	wake      chan struct{}
}

func newForeign(peer *transport.Peer, cfg Config) *Foreign {
	return &Foreign{
		peer: peer,
		log: cfg.Logger.WithFields(logrus.Fields{
			"peer": peer.ID(),
			"addr": peer.RemoteAddr(),
		}),
		confirmTimeout: cfg.ConfirmTimeout,
		maxPacketSize:  cfg.MaxPacketSize,
		wake:           make(chan struct{}, 1),
	}
}

func (f *Foreign) ID() protocol.StableID {
	return f.peer.ID()
}

func (f *Foreign) RemoteAddr() string {
	return f.peer.RemoteAddr()
}

func (f *Foreign) Close() error {
	return f.peer.Close()
}

// enqueue appends pkt to the outbound queue. It reports false once the
// queue is closed; the caller still owns tracked then.
func (f *Foreign) enqueue(tracked *protocol.TrackedPacket, pkt protocol.Packet) bool {
	f.outMu.Lock()
	defer f.outMu.Unlock()

	if f.outClosed {
		return false
	}
	f.outbound = append(f.outbound, outbound{tracked: tracked, pkt: pkt})
	f.signal()
	return true
}

// closeOutbound stops deliver. Packets still queued are dropped.
func (f *Foreign) closeOutbound() {
	f.outMu.Lock()
	defer f.outMu.Unlock()

	f.outClosed = true
	f.signal()
}

func (f *Foreign) signal() {
	select {
	case f.wake <- struct{}{}:
	default:
	}
}

func (f *Foreign) nextOutbound() (next outbound, ok, closed bool) {
	f.outMu.Lock()
	defer f.outMu.Unlock()

	if f.outClosed {
		return outbound{}, false, true
	}
	if len(f.outbound) == 0 {
		return outbound{}, false, false
	}
	next = f.outbound[0]
	f.outbound[0] = outbound{}
	f.outbound = f.outbound[1:]
	return next, true, false
}

// drainOutbound closes the queue and drops whatever it still holds.
func (f *Foreign) drainOutbound() {
	f.outMu.Lock()
	f.outClosed = true
	pending := f.outbound
	f.outbound = nil
	f.outMu.Unlock()

	for _, o := range pending {
		o.tracked.Drop()
	}
}

// deliver sends queued packets one at a time, in the order they were
// enqueued, handing each result to settle. It returns when ctx is cancelled
// or the queue is closed.
func (f *Foreign) deliver(ctx context.Context, settle func(*protocol.TrackedPacket, protocol.Packet, bool, error)) {
	defer f.drainOutbound()

	for {
		next, ok, closed := f.nextOutbound()
		if closed {
			return
		}
		if !ok {
			select {
			case <-f.wake:
				continue
			case <-ctx.Done():
				return
			}
		}
		if ctx.Err() != nil {
			next.tracked.Drop()
			return
		}

		valid, err := f.Send(ctx, next.pkt)
		settle(next.tracked, next.pkt, valid, err)
	}
}

// Send delivers pkt on a fresh exchange and waits for the receiver to echo
// its verification code. It reports whether the echo matched. A missing or
// truncated echo yields ErrNoConfirmation.
func (f *Foreign) Send(ctx context.Context, pkt protocol.Packet) (bool, error) {
	ex, err := f.peer.OpenExchange(ctx)
	if err != nil {
		return false, fmt.Errorf("open exchange: %w", err)
	}
	stop := context.AfterFunc(ctx, ex.Abort)
	defer stop()

	if _, err := ex.Write(protocol.Encode(pkt)); err != nil {
		ex.Abort()
		return false, fmt.Errorf("write %s: %w", pkt.Kind, err)
	}
	if err := ex.CloseWrite(); err != nil {
		ex.Abort()
		return false, fmt.Errorf("finish %s: %w", pkt.Kind, err)
	}

	if err := ex.SetReadDeadline(time.Now().Add(f.confirmTimeout)); err != nil {
		ex.Abort()
		return false, fmt.Errorf("%w: %w", ErrNoConfirmation, err)
	}
	echo, err := io.ReadAll(io.LimitReader(ex, maxEchoSize))
	if err != nil {
		ex.Abort()
		return false, fmt.Errorf("%w: %w", ErrNoConfirmation, err)
	}

	if len(echo) < protocol.CodeSize {
		return false, fmt.Errorf("%w: echo of %d bytes", ErrNoConfirmation, len(echo))
	}
	code, ok := protocol.DecodeCode(echo)
	if !ok {
		// Oversized echo; stop reading whatever is left of it.
		ex.Abort()
		f.log.Debugf("Echo of %d bytes for %s", len(echo), pkt)
		return false, nil
	}
	if code != pkt.Code {
		f.log.Debugf("Echo %08x does not match %s", code, pkt)
		return false, nil
	}
	return true, nil
}

// receive handles inbound exchanges one at a time until the connection goes
// away, handing each decoded packet to deliver. It returns an error only when
// the peer broke the protocol, after closing the connection.
func (f *Foreign) receive(ctx context.Context, deliver func(Inbound)) error {
	for {
		ex, err := f.peer.AcceptExchange(ctx)
		if err != nil {
			f.log.Debugf("Receive loop ending: %v", err)
			return nil
		}

		data, err := f.readPacket(ex)
		if err != nil {
			f.log.Warnf("Dropping exchange: %v", err)
			ex.Abort()
			continue
		}

		pkt, err := protocol.Decode(data)
		if err != nil {
			f.log.Warnf("Closing connection: %v", err)
			ex.Abort()
			_ = f.peer.CloseWithError(err.Error())
			return err
		}

		if _, err := ex.Write(protocol.EncodeCode(pkt.Code)); err != nil {
			f.log.Debugf("Echo for %s failed: %v", pkt, err)
		}
		if err := ex.CloseWrite(); err != nil {
			f.log.Debugf("Closing echo for %s failed: %v", pkt, err)
		}

		f.log.Debugf("Received %s", pkt)
		deliver(Inbound{From: f.ID(), Packet: pkt})
	}
}

func (f *Foreign) readPacket(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxPacketSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > f.maxPacketSize {
		return nil, fmt.Errorf("%w: more than %d bytes", errPacketTooLarge, f.maxPacketSize)
	}
	return data, nil
}
