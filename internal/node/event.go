package node

import (
	"fmt"

	"github.com/hchap1/rift/internal/protocol"
)

type EventKind uint8

const (
	// EventConnected is published once a connection is registered and can
	// be used as a send destination.
	EventConnected EventKind = iota + 1
	// EventDisconnected is published when a connection's receive loop ends
	// and it leaves the registry.
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "CONNECTED"
	case EventDisconnected:
		return "DISCONNECTED"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is a connection-lifecycle or error notification.
type Event struct {
	Kind EventKind
	// Peer is the connection the event concerns. Zero when the event is not
	// tied to one connection.
	Peer protocol.StableID
	Addr string

	Err     error
	ErrKind ErrorKind
}

func connectedEvent(f *Foreign) Event {
	return Event{Kind: EventConnected, Peer: f.ID(), Addr: f.RemoteAddr()}
}

func disconnectedEvent(f *Foreign) Event {
	return Event{Kind: EventDisconnected, Peer: f.ID(), Addr: f.RemoteAddr()}
}

func errorEvent(peer protocol.StableID, err error) Event {
	return Event{Kind: EventError, Peer: peer, Err: err, ErrKind: Classify(err)}
}

func (e Event) String() string {
	switch e.Kind {
	case EventConnected, EventDisconnected:
		return fmt.Sprintf("%s peer=%d addr=%s", e.Kind, e.Peer, e.Addr)
	case EventError:
		return fmt.Sprintf("%s peer=%d kind=%s: %v", e.Kind, e.Peer, e.ErrKind, e.Err)
	default:
		return e.Kind.String()
	}
}

// Inbound is a packet received from a connection.
type Inbound struct {
	From   protocol.StableID
	Packet protocol.Packet
}
