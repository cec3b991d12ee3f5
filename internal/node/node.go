// Package node runs a rift endpoint: it accepts and dials connections, keeps
// the registry of live ones, delivers outbound packets with confirmation and
// fans inbound packets and lifecycle events out to subscribers.
package node

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/hchap1/rift/internal/protocol"
	"github.com/hchap1/rift/internal/transport"
	"github.com/sirupsen/logrus"
)

// Local is the node running in this process.
type Local struct {
	cfg    Config
	tr     *transport.Transport
	mgr    *manager
	logger *logrus.Logger

	events  *Feed[Event]
	packets *Feed[Inbound]

	listening sync.WaitGroup
	closeOnce sync.Once
}

// Establish binds the endpoint and starts accepting connections. The node
// shuts down when ctx is cancelled or Close is called.
func Establish(ctx context.Context, cfg Config) (*Local, error) {
	cfg = cfg.withDefaults()

	var opts []transport.Option
	if cfg.TLS != nil {
		opts = append(opts, transport.WithTLSConfig(cfg.TLS))
	}
	if cfg.QUIC != nil {
		opts = append(opts, transport.WithQUICConfig(cfg.QUIC))
	}

	tr, err := transport.NewTransport(cfg.Addr, opts...)
	if err != nil {
		return nil, err
	}

	events := NewFeed[Event]()
	packets := NewFeed[Inbound]()

	l := &Local{
		cfg:     cfg,
		tr:      tr,
		mgr:     newManager(cfg, events, packets),
		logger:  cfg.Logger,
		events:  events,
		packets: packets,
	}

	go l.mgr.manage()

	l.listening.Add(1)
	go l.listen(l.tr.Accept)

	context.AfterFunc(ctx, func() { _ = l.Close() })

	l.logger.Infof("Listening on %s", tr.LocalAddr())
	return l, nil
}

// Addr returns the bound UDP address.
func (l *Local) Addr() net.Addr {
	return l.tr.LocalAddr()
}

// Connect dials addr and returns the id of the new connection once it is
// registered and usable as a send destination.
func (l *Local) Connect(ctx context.Context, addr string) (protocol.StableID, error) {
	peer, err := l.tr.Dial(ctx, addr)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return 0, ErrClosed
		}
		return 0, err
	}

	f := newForeign(peer, l.cfg)
	accepted := make(chan struct{})
	if err := l.mgr.post(addPeer{foreign: f, accepted: accepted}); err != nil {
		_ = peer.Close()
		return 0, err
	}

	select {
	case <-accepted:
		return f.ID(), nil
	case <-l.mgr.done:
		return 0, ErrClosed
	case <-ctx.Done():
		// The manager still owns the connection; it is closed with the node.
		return 0, fmt.Errorf("connect %s: %w", addr, ctx.Err())
	}
}

// Send queues pkt for dest and returns the handle its delivery outcome is
// published on. Only verifiable packets receive an outcome; for the others
// the handle reports protocol.ErrChannelDead once the send is over.
func (l *Local) Send(dest protocol.StableID, pkt protocol.Packet) (*protocol.Confirmation, error) {
	tracked, confirmation := protocol.NewTracked(dest, pkt)
	if err := l.SendTracked(tracked); err != nil {
		return nil, err
	}
	return confirmation, nil
}

// SendTracked queues a packet the caller wrapped itself.
func (l *Local) SendTracked(tracked *protocol.TrackedPacket) error {
	if err := l.mgr.post(sendPacket{tracked: tracked}); err != nil {
		tracked.Drop()
		return err
	}
	return nil
}

// Events subscribes to connection lifecycle and error events.
func (l *Local) Events() *Subscription[Event] {
	return l.events.Subscribe()
}

// Packets subscribes to inbound packets from every connection.
func (l *Local) Packets() *Subscription[Inbound] {
	return l.packets.Subscribe()
}

// Close shuts the node down: every connection is closed, pending sends are
// abandoned and all subscriptions end.
func (l *Local) Close() error {
	var err error
	l.closeOnce.Do(func() {
		_ = l.mgr.post(quit{})
		err = l.tr.Close()

		l.listening.Wait()
		l.mgr.wait()

		l.events.Close()
		l.packets.Close()
		l.logger.Info("Node stopped")
	})
	return err
}

// Accept failures are retried after a delay that doubles from
// minAcceptDelay up to maxAcceptDelay.
const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

func nextAcceptDelay(prev time.Duration) time.Duration {
	if prev == 0 {
		return minAcceptDelay
	}
	return min(2*prev, maxAcceptDelay)
}

func (l *Local) listen(accept func(context.Context) (*transport.Peer, error)) {
	defer l.listening.Done()

	var delay time.Duration
	for {
		peer, err := accept(l.mgr.ctx)
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || l.mgr.ctx.Err() != nil {
				return
			}
			if postErr := l.mgr.post(report{err: err}); postErr != nil {
				return
			}

			delay = nextAcceptDelay(delay)
			l.logger.Warnf("Accept failed, retrying in %v: %v", delay, err)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-l.mgr.ctx.Done():
				timer.Stop()
				return
			}
			continue
		}
		delay = 0

		f := newForeign(peer, l.cfg)
		if err := l.mgr.post(addPeer{foreign: f}); err != nil {
			_ = peer.Close()
			return
		}
	}
}
