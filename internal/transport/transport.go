// Package transport carries rift connections over QUIC. Every application
// message uses its own bidirectional stream, wrapped here as an Exchange.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"github.com/hchap1/rift/internal/protocol"
	"github.com/quic-go/quic-go"
)

// ErrClosed is returned by Accept and Dial once the transport is closed.
var ErrClosed = errors.New("transport closed")

type options struct {
	tls  *tls.Config
	quic *quic.Config
}

type Option func(*options)

// WithTLSConfig replaces the generated self-signed TLS config.
func WithTLSConfig(c *tls.Config) Option {
	return func(o *options) { o.tls = c }
}

func WithQUICConfig(c *quic.Config) Option {
	return func(o *options) { o.quic = c }
}

// Transport is a QUIC endpoint bound to one UDP socket. It both listens for
// and dials connections, handing out a fresh StableID for each.
type Transport struct {
	udp      *net.UDPConn
	tr       *quic.Transport
	listener *quic.Listener
	tls      *tls.Config
	quic     *quic.Config

	nextID    atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// NewTransport binds addr (e.g. ":0") and starts listening.
func NewTransport(addr string, opts ...Option) (*Transport, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tls == nil {
		conf, err := DefaultTLSConfig()
		if err != nil {
			return nil, fmt.Errorf("tls config: %w", err)
		}
		o.tls = conf
	}
	if o.quic == nil {
		o.quic = DefaultQUICConfig()
	}

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}
	udp, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	tr := &quic.Transport{Conn: udp}
	ln, err := tr.Listen(o.tls, o.quic)
	if err != nil {
		_ = tr.Close()
		_ = udp.Close()
		return nil, fmt.Errorf("listen: %w", err)
	}

	return &Transport{
		udp:      udp,
		tr:       tr,
		listener: ln,
		tls:      o.tls,
		quic:     o.quic,
	}, nil
}

func (t *Transport) LocalAddr() net.Addr {
	return t.udp.LocalAddr()
}

// Accept waits for the next inbound connection.
func (t *Transport) Accept(ctx context.Context) (*Peer, error) {
	conn, err := t.listener.Accept(ctx)
	if err != nil {
		if t.closed.Load() || errors.Is(err, quic.ErrServerClosed) {
			return nil, ErrClosed
		}
		return nil, err
	}
	return newPeer(t.allocID(), conn), nil
}

// Dial connects to the endpoint at addr.
func (t *Transport) Dial(ctx context.Context, addr string) (*Peer, error) {
	if t.closed.Load() {
		return nil, ErrClosed
	}
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	conn, err := t.tr.Dial(ctx, udpAddr, t.tls, t.quic)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return newPeer(t.allocID(), conn), nil
}

// Close stops listening and tears down every connection made through this
// transport.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = errors.Join(t.listener.Close(), t.tr.Close(), t.udp.Close())
	})
	return t.closeErr
}

func (t *Transport) allocID() protocol.StableID {
	return protocol.StableID(t.nextID.Add(1))
}
