package transport

import (
	"context"
	"time"

	"github.com/hchap1/rift/internal/protocol"
	"github.com/quic-go/quic-go"
)

// Application error codes sent when closing a connection.
const (
	CodeNoError       quic.ApplicationErrorCode = 0
	CodeProtocolError quic.ApplicationErrorCode = 1
)

const codeAborted quic.StreamErrorCode = 0

// Peer is one live connection to a remote endpoint.
type Peer struct {
	id   protocol.StableID
	conn *quic.Conn
}

func newPeer(id protocol.StableID, conn *quic.Conn) *Peer {
	return &Peer{
		id:   id,
		conn: conn,
	}
}

// ID returns the identifier assigned when the connection was established.
func (p *Peer) ID() protocol.StableID {
	return p.id
}

func (p *Peer) RemoteAddr() string {
	return p.conn.RemoteAddr().String()
}

// OpenExchange opens a new bidirectional exchange to the peer.
func (p *Peer) OpenExchange(ctx context.Context) (*Exchange, error) {
	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, err
	}
	return &Exchange{stream: stream}, nil
}

// AcceptExchange waits for the peer to open an exchange.
func (p *Peer) AcceptExchange(ctx context.Context) (*Exchange, error) {
	stream, err := p.conn.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return &Exchange{stream: stream}, nil
}

func (p *Peer) Close() error {
	return p.conn.CloseWithError(CodeNoError, "")
}

// CloseWithError closes the connection, telling the peer it broke the
// protocol.
func (p *Peer) CloseWithError(reason string) error {
	return p.conn.CloseWithError(CodeProtocolError, reason)
}

// Done is closed once the connection is gone, for whatever reason.
func (p *Peer) Done() <-chan struct{} {
	return p.conn.Context().Done()
}

// Exchange is a single bidirectional stream carrying one packet and its echo.
type Exchange struct {
	stream *quic.Stream
}

func (e *Exchange) Read(b []byte) (int, error) {
	return e.stream.Read(b)
}

func (e *Exchange) Write(b []byte) (int, error) {
	return e.stream.Write(b)
}

// CloseWrite half-closes the exchange, marking the end of what this side
// sends. Reading remains possible.
func (e *Exchange) CloseWrite() error {
	return e.stream.Close()
}

// Abort cancels both directions.
func (e *Exchange) Abort() {
	e.stream.CancelRead(codeAborted)
	e.stream.CancelWrite(codeAborted)
}

func (e *Exchange) SetReadDeadline(t time.Time) error {
	return e.stream.SetReadDeadline(t)
}
