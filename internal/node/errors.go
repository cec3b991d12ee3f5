package node

import (
	"context"
	"errors"
	"net"

	"github.com/hchap1/rift/internal/protocol"
	"github.com/hchap1/rift/internal/transport"
	"github.com/quic-go/quic-go"
)

var (
	// ErrInvalidCode is published when a peer echoed a verification code
	// that does not match the one sent.
	ErrInvalidCode = errors.New("invalid verification code")

	// ErrNoConfirmation is returned when the peer did not echo a code in
	// time or the echo was cut short.
	ErrNoConfirmation = errors.New("no confirmation")

	ErrClosed      = errors.New("node closed")
	ErrUnknownPeer = errors.New("unknown peer")
)

// ErrorKind is the coarse category of an error reported by a node.
type ErrorKind uint8

const (
	KindApplication ErrorKind = iota
	KindTransport
	KindProtocol
	KindChannel
)

func (k ErrorKind) String() string {
	switch k {
	case KindApplication:
		return "application"
	case KindTransport:
		return "transport"
	case KindProtocol:
		return "protocol"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Classify maps err onto an ErrorKind.
func Classify(err error) ErrorKind {
	var (
		appErr    *quic.ApplicationError
		trErr     *quic.TransportError
		idleErr   *quic.IdleTimeoutError
		hsErr     *quic.HandshakeTimeoutError
		streamErr *quic.StreamError
		netErr    net.Error
	)

	switch {
	case errors.Is(err, protocol.ErrInvalidPacket), errors.Is(err, ErrInvalidCode):
		return KindProtocol
	case errors.Is(err, protocol.ErrChannelDead), errors.Is(err, protocol.ErrChannelEmpty):
		return KindChannel
	case errors.Is(err, ErrNoConfirmation),
		errors.Is(err, transport.ErrClosed),
		errors.Is(err, context.DeadlineExceeded),
		errors.As(err, &appErr),
		errors.As(err, &trErr),
		errors.As(err, &idleErr),
		errors.As(err, &hsErr),
		errors.As(err, &streamErr),
		errors.As(err, &netErr):
		return KindTransport
	default:
		return KindApplication
	}
}
