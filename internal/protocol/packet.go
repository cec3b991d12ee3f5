// Package protocol defines the rift wire format.
//
// Every application message travels over its own bidirectional exchange:
//
//	byte 0       kind tag
//	bytes 1..4   verification code, big-endian
//	bytes 5..    payload
//
// The receiver echoes the 4 code bytes back on the same exchange to confirm
// delivery.
package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	// HeaderSize is the fixed header size: Kind(1) + Code(4).
	HeaderSize = 5

	// CodeSize is the size of the echoed verification code.
	CodeSize = 4
)

// ErrInvalidPacket is returned when a buffer cannot be decoded into a Packet.
var ErrInvalidPacket = errors.New("invalid packet")

type Kind uint8

const (
	KindUsername Kind = 0x00
	KindMessage  Kind = 0x01
	KindImage    Kind = 0x02
)

func (k Kind) String() string {
	switch k {
	case KindUsername:
		return "USERNAME"
	case KindMessage:
		return "MESSAGE"
	case KindImage:
		return "IMAGE"
	default:
		return "UNKNOWN"
	}
}

// Verifiable reports whether packets of this kind take part in delivery
// confirmation. Username announcements are fire-and-forget.
func (k Kind) Verifiable() bool {
	return k == KindMessage || k == KindImage
}

// ParseKind converts a tag byte into a Kind.
func ParseKind(b byte) (Kind, error) {
	switch k := Kind(b); k {
	case KindUsername, KindMessage, KindImage:
		return k, nil
	default:
		return 0, fmt.Errorf("%w: unknown kind tag %d", ErrInvalidPacket, b)
	}
}

// Packet is a single application message.
type Packet struct {
	Kind Kind
	Code uint32
	Data []byte
}

// NewPacket creates a packet with a fresh random verification code.
func NewPacket(kind Kind, data []byte) Packet {
	return Packet{
		Kind: kind,
		Code: NewCode(),
		Data: data,
	}
}

func NewUsername(name string) Packet { return NewPacket(KindUsername, []byte(name)) }

func NewMessage(text string) Packet { return NewPacket(KindMessage, []byte(text)) }

func NewImage(data []byte) Packet { return NewPacket(KindImage, data) }

// NewCode draws a random 32-bit verification code.
func NewCode() uint32 {
	var buf [CodeSize]byte
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(buf[:])
	return binary.BigEndian.Uint32(buf[:])
}

// Text renders the payload as UTF-8, replacing invalid sequences.
func (p Packet) Text() string {
	return strings.ToValidUTF8(string(p.Data), "�")
}

func (p Packet) String() string {
	return fmt.Sprintf("%s(code=%08x, %d bytes)", p.Kind, p.Code, len(p.Data))
}

// Encode serializes a Packet for transmission on an exchange.
func Encode(p Packet) []byte {
	buf := make([]byte, HeaderSize+len(p.Data))
	buf[0] = byte(p.Kind)
	binary.BigEndian.PutUint32(buf[1:HeaderSize], p.Code)
	copy(buf[HeaderSize:], p.Data)
	return buf
}

// Decode deserializes a complete exchange payload into a Packet.
func Decode(data []byte) (Packet, error) {
	if len(data) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes (need at least %d)", ErrInvalidPacket, len(data), HeaderSize)
	}
	kind, err := ParseKind(data[0])
	if err != nil {
		return Packet{}, err
	}
	pkt := Packet{
		Kind: kind,
		Code: binary.BigEndian.Uint32(data[1:HeaderSize]),
		Data: make([]byte, len(data)-HeaderSize),
	}
	copy(pkt.Data, data[HeaderSize:])
	return pkt, nil
}

// EncodeCode returns the echo sent back to confirm a packet.
func EncodeCode(code uint32) []byte {
	buf := make([]byte, CodeSize)
	binary.BigEndian.PutUint32(buf, code)
	return buf
}

// DecodeCode parses an echo. It only accepts exactly CodeSize bytes.
func DecodeCode(data []byte) (uint32, bool) {
	if len(data) != CodeSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(data), true
}
