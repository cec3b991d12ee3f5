package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hchap1/rift/internal/logger"
	"github.com/hchap1/rift/internal/node"
	"github.com/hchap1/rift/internal/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// syncBuffer is a bytes.Buffer safe for the session's concurrent writers.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// stallingNode blocks every Send until release is closed.
type stallingNode struct {
	entered chan protocol.Packet
	release chan struct{}
}

func (n *stallingNode) Connect(ctx context.Context, addr string) (protocol.StableID, error) {
	return 0, errors.New("not supported")
}

func (n *stallingNode) Send(dest protocol.StableID, pkt protocol.Packet) (*protocol.Confirmation, error) {
	n.entered <- pkt
	<-n.release
	_, c := protocol.NewTracked(dest, pkt)
	return c, nil
}

func newTestNode(t *testing.T) *node.Local {
	t.Helper()

	n, err := node.Establish(context.Background(), node.Config{
		Addr:   "127.0.0.1:0",
		Logger: logger.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = n.Close() })
	return n
}

func TestSessionChat(t *testing.T) {
	alice := newTestNode(t)
	bob := newTestNode(t)
	bobPackets := bob.Packets()

	var out syncBuffer
	session := NewSession(alice, &out, "")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	more, err := session.Handle(ctx, "/connect "+bob.Addr().String())
	require.NoError(t, err)
	require.True(t, more)

	_, err = session.Handle(ctx, "hello bob")
	require.NoError(t, err)
	session.Wait()

	assert.Contains(t, out.String(), "✓ hello bob")

	select {
	case in := <-bobPackets.C():
		assert.Equal(t, "hello bob", in.Packet.Text())
	case <-ctx.Done():
		t.Fatal("Timeout waiting for the message")
	}

	more, err = session.Handle(ctx, "/quit")
	require.NoError(t, err)
	assert.False(t, more)
}

func TestSessionWithoutChat(t *testing.T) {
	session := NewSession(newTestNode(t), &syncBuffer{}, "")
	ctx := context.Background()

	_, err := session.Handle(ctx, "anyone?")
	assert.ErrorIs(t, err, errNoChat)

	_, err = session.Handle(ctx, "/use 9")
	assert.ErrorIs(t, err, node.ErrUnknownPeer)

	_, err = session.Handle(ctx, "/use nine")
	assert.Error(t, err)

	_, err = session.Handle(ctx, "/frobnicate")
	assert.Error(t, err)

	more, err := session.Handle(ctx, "   ")
	assert.NoError(t, err)
	assert.True(t, more)
}

func TestSessionEvents(t *testing.T) {
	session := NewSession(newTestNode(t), &syncBuffer{}, "")

	line, ok := session.Event(node.Event{Kind: node.EventConnected, Peer: 4, Addr: "10.0.0.2:4000"})
	require.True(t, ok)
	assert.Equal(t, "* #4 connected (10.0.0.2:4000)", line)

	// The first connection becomes the open chat.
	require.NoError(t, session.use("4"))

	line, ok = session.Packet(node.Inbound{From: 4, Packet: protocol.NewUsername("bob")})
	require.True(t, ok)
	assert.Equal(t, "* #4 is now known as bob", line)

	_, ok = session.Packet(node.Inbound{From: 4, Packet: protocol.NewUsername("bob")})
	assert.False(t, ok, "repeated username should be filtered")

	line, ok = session.Packet(node.Inbound{From: 4, Packet: protocol.NewMessage("hi")})
	require.True(t, ok)
	assert.Equal(t, "<bob#4> hi", line)

	line, ok = session.Packet(node.Inbound{From: 4, Packet: protocol.NewImage(make([]byte, 10))})
	require.True(t, ok)
	assert.Equal(t, "<bob#4> [image, 10 bytes]", line)

	_, ok = session.Event(node.Event{Kind: node.EventError, Err: node.ErrInvalidCode})
	assert.False(t, ok)

	line, ok = session.Event(node.Event{Kind: node.EventDisconnected, Peer: 4})
	require.True(t, ok)
	assert.Equal(t, "* bob#4 disconnected", line)

	_, err := session.Handle(context.Background(), "still there?")
	assert.ErrorIs(t, err, errNoChat)
}

func TestSendOnce(t *testing.T) {
	alice := newTestNode(t)
	bob := newTestNode(t)
	bobPackets := bob.Packets()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out bytes.Buffer
	err := sendOnce(ctx, alice, bob.Addr().String(), []protocol.Packet{
		protocol.NewUsername("alice"),
		protocol.NewMessage("one shot"),
	}, &out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out.String(), "delivered MESSAGE"))

	var kinds []protocol.Kind
	for len(kinds) < 2 {
		select {
		case in := <-bobPackets.C():
			kinds = append(kinds, in.Packet.Kind)
		case <-ctx.Done():
			t.Fatal("Timeout waiting for packets")
		}
	}
	assert.Equal(t, []protocol.Kind{protocol.KindUsername, protocol.KindMessage}, kinds)
}

func TestReadImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cat.png")
	want := bytes.Repeat([]byte{0x89, 'P', 'N', 'G'}, 1024)
	require.NoError(t, os.WriteFile(path, want, 0o600))

	got, err := readImage(path, &bytes.Buffer{})
	require.NoError(t, err)
	assert.Equal(t, want, got)

	_, err = readImage(dir, &bytes.Buffer{})
	assert.Error(t, err)

	_, err = readImage(filepath.Join(dir, "missing.png"), &bytes.Buffer{})
	assert.Error(t, err)
}

func TestSessionAnnounceDoesNotHoldLock(t *testing.T) {
	stalled := &stallingNode{
		entered: make(chan protocol.Packet, 1),
		release: make(chan struct{}),
	}
	session := NewSession(stalled, &syncBuffer{}, "alice")

	lines := make(chan string, 1)
	go func() {
		line, _ := session.Event(node.Event{Kind: node.EventConnected, Peer: 1, Addr: "10.0.0.1:4000"})
		lines <- line
	}()

	select {
	case pkt := <-stalled.entered:
		assert.Equal(t, protocol.KindUsername, pkt.Kind)
		assert.Equal(t, "alice", pkt.Text())
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for the announcement")
	}

	// The session stays usable while the announcement is stuck.
	rendered := make(chan string, 1)
	go func() {
		line, _ := session.Packet(node.Inbound{From: 1, Packet: protocol.NewMessage("hi")})
		rendered <- line
	}()
	select {
	case line := <-rendered:
		assert.Equal(t, "<#1> hi", line)
	case <-time.After(5 * time.Second):
		t.Fatal("Session blocked behind a stalled send")
	}

	close(stalled.release)
	select {
	case line := <-lines:
		assert.Equal(t, "* #1 connected (10.0.0.1:4000)", line)
	case <-time.After(5 * time.Second):
		t.Fatal("Timeout waiting for the connected line")
	}
}
