package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestPacketRoundTrip(t *testing.T) {
	packets := []Packet{
		{Kind: KindUsername, Code: 0, Data: []byte("alice")},
		{Kind: KindMessage, Code: 0xdeadbeef, Data: []byte("hi")},
		{Kind: KindMessage, Code: 1, Data: nil},
		{Kind: KindImage, Code: 0xffffffff, Data: testImage()},
	}

	for _, pkt := range packets {
		decoded, err := Decode(Encode(pkt))
		if err != nil {
			t.Fatalf("Decode %s failed: %v", pkt, err)
		}
		if decoded.Kind != pkt.Kind {
			t.Errorf("Expected kind %s, got %s", pkt.Kind, decoded.Kind)
		}
		if decoded.Code != pkt.Code {
			t.Errorf("Expected code %08x, got %08x", pkt.Code, decoded.Code)
		}
		if !bytes.Equal(decoded.Data, pkt.Data) {
			t.Errorf("Data mismatch for %s", pkt)
		}
	}
}

func TestPacketLayout(t *testing.T) {
	pkt := Packet{Kind: KindImage, Code: 0x01020304, Data: []byte{0xaa, 0xbb}}

	want := []byte{0x02, 0x01, 0x02, 0x03, 0x04, 0xaa, 0xbb}
	if got := Encode(pkt); !bytes.Equal(got, want) {
		t.Errorf("Expected %x, got %x", want, got)
	}
}

func TestDecodeTooShort(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		buf := make([]byte, n)
		if _, err := Decode(buf); !errors.Is(err, ErrInvalidPacket) {
			t.Errorf("Decode of %d bytes: expected ErrInvalidPacket, got %v", n, err)
		}
	}
}

func TestDecodeUnknownKind(t *testing.T) {
	for tag := 3; tag < 256; tag++ {
		buf := []byte{byte(tag), 0, 0, 0, 1, 'x'}
		if _, err := Decode(buf); !errors.Is(err, ErrInvalidPacket) {
			t.Fatalf("Decode with tag %d: expected ErrInvalidPacket, got %v", tag, err)
		}
	}
}

func TestDecodeHeaderOnly(t *testing.T) {
	pkt, err := Decode([]byte{0x01, 0, 0, 0, 7})
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if pkt.Code != 7 {
		t.Errorf("Expected code 7, got %d", pkt.Code)
	}
	if len(pkt.Data) != 0 {
		t.Errorf("Expected empty data, got %d bytes", len(pkt.Data))
	}
}

func TestDecodeCopiesData(t *testing.T) {
	buf := Encode(NewMessage("hello"))
	pkt, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	buf[HeaderSize] = 'J'
	if pkt.Text() != "hello" {
		t.Errorf("Decoded packet aliases the input buffer: %q", pkt.Text())
	}
}

func TestKindVerifiable(t *testing.T) {
	if KindUsername.Verifiable() {
		t.Error("Expected usernames to be fire-and-forget")
	}
	if !KindMessage.Verifiable() {
		t.Error("Expected messages to be verifiable")
	}
	if !KindImage.Verifiable() {
		t.Error("Expected images to be verifiable")
	}
}

func TestKindString(t *testing.T) {
	if KindMessage.String() != "MESSAGE" {
		t.Errorf("Expected MESSAGE, got %s", KindMessage)
	}
	if Kind(9).String() != "UNKNOWN" {
		t.Errorf("Expected UNKNOWN, got %s", Kind(9))
	}
}

func TestCodeEcho(t *testing.T) {
	code, ok := DecodeCode(EncodeCode(0xcafebabe))
	if !ok {
		t.Fatal("Expected echo to decode")
	}
	if code != 0xcafebabe {
		t.Errorf("Expected cafebabe, got %08x", code)
	}

	if _, ok := DecodeCode([]byte{1, 2, 3}); ok {
		t.Error("Expected short echo to be rejected")
	}
	if _, ok := DecodeCode([]byte{1, 2, 3, 4, 5}); ok {
		t.Error("Expected long echo to be rejected")
	}
}

func TestNewPacketCodes(t *testing.T) {
	seen := make(map[uint32]struct{})
	for i := 0; i < 64; i++ {
		seen[NewMessage("x").Code] = struct{}{}
	}
	// 64 draws from 2^32 colliding down to a handful means the source is broken.
	if len(seen) < 60 {
		t.Errorf("Expected independent codes, got %d distinct out of 64", len(seen))
	}
}

func TestPacketTextLossy(t *testing.T) {
	pkt := Packet{Kind: KindMessage, Data: []byte{'o', 'k', 0xff}}
	if got := pkt.Text(); got != "ok�" {
		t.Errorf("Expected lossy rendering, got %q", got)
	}
}

func testImage() []byte {
	// PNG signature followed by an IHDR chunk header.
	return []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 13, 'I', 'H', 'D', 'R'}
}
