package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/hchap1/rift/internal/node"
	"github.com/hchap1/rift/internal/protocol"
)

var errNoChat = errors.New("no chat open, use /connect <addr> or /use <id>")

// Node is the part of node.Local a chat session drives.
type Node interface {
	Connect(ctx context.Context, addr string) (protocol.StableID, error)
	Send(dest protocol.StableID, pkt protocol.Packet) (*protocol.Confirmation, error)
}

// printer serializes writes from the input loop, the relays and the
// confirmation watchers.
type printer struct {
	mu  sync.Mutex
	out io.Writer
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format+"\n", args...)
}

// Session is an interactive chat on top of a node.
type Session struct {
	node Node
	out  *printer

	mu      sync.Mutex
	name    string
	current protocol.StableID
	open    bool
	peers   map[protocol.StableID]string
	pending sync.WaitGroup
}

func NewSession(n Node, out io.Writer, name string) *Session {
	return &Session{
		node:  n,
		out:   &printer{out: out},
		name:  name,
		peers: make(map[protocol.StableID]string),
	}
}

// Handle runs one line of input. It returns false when the session should
// end.
func (s *Session) Handle(ctx context.Context, line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return true, nil
	}
	if !strings.HasPrefix(line, "/") {
		return true, s.sendText(line)
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return false, nil
	case "/connect":
		return true, s.connect(ctx, arg)
	case "/use":
		return true, s.use(arg)
	case "/name":
		return true, s.rename(arg)
	case "/image":
		return true, s.sendImage(arg)
	case "/peers":
		s.listPeers()
		return true, nil
	default:
		return true, fmt.Errorf("unknown command %s", cmd)
	}
}

// Wait blocks until every outstanding confirmation has been reported.
func (s *Session) Wait() {
	s.pending.Wait()
}

func (s *Session) connect(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("usage: /connect <addr>")
	}
	id, err := s.node.Connect(ctx, addr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if _, ok := s.peers[id]; !ok {
		s.peers[id] = ""
	}
	s.current, s.open = id, true
	s.mu.Unlock()

	s.out.Printf("* chatting with #%d (%s)", id, addr)
	return nil
}

func (s *Session) use(arg string) error {
	n, err := strconv.ParseUint(strings.TrimPrefix(arg, "#"), 10, 64)
	if err != nil {
		return fmt.Errorf("usage: /use <id>: %w", err)
	}
	id := protocol.StableID(n)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.peers[id]; !ok {
		return fmt.Errorf("#%d: %w", id, node.ErrUnknownPeer)
	}
	s.current, s.open = id, true
	s.out.Printf("* chatting with %s", s.labelLocked(id))
	return nil
}

func (s *Session) rename(name string) error {
	if name == "" {
		return errors.New("usage: /name <name>")
	}

	s.mu.Lock()
	s.name = name
	ids := make([]protocol.StableID, 0, len(s.peers))
	for id := range s.peers {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var errs []error
	for _, id := range ids {
		errs = append(errs, s.announce(id, name))
	}
	return errors.Join(errs...)
}

func (s *Session) announce(id protocol.StableID, name string) error {
	_, err := s.node.Send(id, protocol.NewUsername(name))
	return err
}

func (s *Session) sendText(text string) error {
	return s.send(protocol.NewMessage(text), text)
}

func (s *Session) sendImage(path string) error {
	if path == "" {
		return errors.New("usage: /image <path>")
	}
	data, err := readImage(path, s.out.out)
	if err != nil {
		return err
	}
	return s.send(protocol.NewImage(data), fmt.Sprintf("[image %s, %d bytes]", path, len(data)))
}

func (s *Session) send(pkt protocol.Packet, label string) error {
	s.mu.Lock()
	id, open := s.current, s.open
	s.mu.Unlock()
	if !open {
		return errNoChat
	}

	c, err := s.node.Send(id, pkt)
	if err != nil {
		return err
	}

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		outcome, err := c.Wait(context.Background())
		switch {
		case err != nil:
			s.out.Printf("✗ %s: not delivered (%v)", label, err)
		case outcome == protocol.OutcomeConfirmed:
			s.out.Printf("✓ %s", label)
		default:
			s.out.Printf("✗ %s: delivery failed", label)
		}
	}()
	return nil
}

func (s *Session) listPeers() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.peers) == 0 {
		s.out.Printf("* no connections")
		return
	}
	for id := range s.peers {
		marker := " "
		if s.open && id == s.current {
			marker = ">"
		}
		s.out.Printf("%s %s", marker, s.labelLocked(id))
	}
}

// Event renders a node event and tracks connections. Used as a relay map
// function.
func (s *Session) Event(ev node.Event) (string, bool) {
	if ev.Kind == node.EventConnected {
		return s.connected(ev)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case node.EventDisconnected:
		label := s.labelLocked(ev.Peer)
		delete(s.peers, ev.Peer)
		if s.open && s.current == ev.Peer {
			s.open = false
		}
		return fmt.Sprintf("* %s disconnected", label), true
	case node.EventError:
		// Failed sends are already reported per message.
		if errors.Is(ev.Err, node.ErrInvalidCode) || errors.Is(ev.Err, node.ErrNoConfirmation) {
			return "", false
		}
		return fmt.Sprintf("! %s error: %v", ev.ErrKind, ev.Err), true
	default:
		return "", false
	}
}

// connected records a new connection and announces our name on it. The
// announcement is posted to the node without holding s.mu.
func (s *Session) connected(ev node.Event) (string, bool) {
	s.mu.Lock()
	if _, ok := s.peers[ev.Peer]; !ok {
		s.peers[ev.Peer] = ""
	}
	if !s.open {
		s.current, s.open = ev.Peer, true
	}
	name := s.name
	s.mu.Unlock()

	if name != "" {
		if err := s.announce(ev.Peer, name); err != nil {
			return fmt.Sprintf("! announcing name to #%d: %v", ev.Peer, err), true
		}
	}
	return fmt.Sprintf("* #%d connected (%s)", ev.Peer, ev.Addr), true
}

// Packet renders an inbound packet. Username announcements update the peer
// table and are only shown when they change a name.
func (s *Session) Packet(in node.Inbound) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch in.Packet.Kind {
	case protocol.KindUsername:
		name := in.Packet.Text()
		old := s.peers[in.From]
		if name == "" || name == old {
			return "", false
		}
		s.peers[in.From] = name
		return fmt.Sprintf("* #%d is now known as %s", in.From, name), true
	case protocol.KindImage:
		return fmt.Sprintf("<%s> [image, %d bytes]", s.labelLocked(in.From), len(in.Packet.Data)), true
	default:
		return fmt.Sprintf("<%s> %s", s.labelLocked(in.From), in.Packet.Text()), true
	}
}

func (s *Session) labelLocked(id protocol.StableID) string {
	if name := s.peers[id]; name != "" {
		return fmt.Sprintf("%s#%d", name, id)
	}
	return fmt.Sprintf("#%d", id)
}
