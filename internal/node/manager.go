package node

import (
	"context"
	"sync"

	"github.com/hchap1/rift/internal/protocol"
	"github.com/sirupsen/logrus"
)

// control is a request handled by the manager goroutine.
type control interface {
	isControl()
}

type addPeer struct {
	foreign  *Foreign
	accepted chan struct{}
}

type sendPacket struct {
	tracked *protocol.TrackedPacket
}

type report struct {
	peer protocol.StableID
	err  error
}

type removePeer struct {
	foreign *Foreign
}

type quit struct{}

func (addPeer) isControl()    {}
func (sendPacket) isControl() {}
func (report) isControl()     {}
func (removePeer) isControl() {}
func (quit) isControl()       {}

// manager owns the connection registry. Only the manage goroutine touches
// peers; everything else talks to it through control.
type manager struct {
	ctx    context.Context
	cancel context.CancelFunc

	control chan control
	done    chan struct{}
	peers   map[protocol.StableID]*Foreign

	// closed is set under the write lock once the manager stops accepting
	// control messages; posters hold the read lock while enqueueing.
	mu     sync.RWMutex
	closed bool

	events  *Feed[Event]
	packets *Feed[Inbound]
	log     *logrus.Logger

	// per-connection send and receive loops
	wg sync.WaitGroup
}

func newManager(cfg Config, events *Feed[Event], packets *Feed[Inbound]) *manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &manager{
		ctx:     ctx,
		cancel:  cancel,
		control: make(chan control, cfg.ControlBuffer),
		done:    make(chan struct{}),
		peers:   make(map[protocol.StableID]*Foreign),
		events:  events,
		packets: packets,
		log:     cfg.Logger,
	}
}

// post hands msg to the manager. It fails with ErrClosed once the manager
// has stopped.
func (m *manager) post(msg control) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return ErrClosed
	}
	m.control <- msg
	return nil
}

func (m *manager) manage() {
	defer close(m.done)

	for msg := range m.control {
		switch msg := msg.(type) {
		case addPeer:
			m.add(msg)
		case sendPacket:
			m.send(msg.tracked)
		case report:
			m.events.Send(errorEvent(msg.peer, msg.err))
		case removePeer:
			m.remove(msg.foreign)
		case quit:
			m.shutdown()
			return
		}
	}
}

// shutdown cancels in-flight work, closes every connection and resolves
// whatever is still queued.
func (m *manager) shutdown() {
	m.cancel()
	for id, f := range m.peers {
		if err := f.Close(); err != nil {
			m.log.WithField("peer", id).Debugf("Close failed: %v", err)
		}
	}
	clear(m.peers)

	// Posters blocked on a full inbox hold the read lock, so keep draining
	// until the write lock is ours.
	locked := make(chan struct{})
	go func() {
		m.mu.Lock()
		m.closed = true
		m.mu.Unlock()
		close(locked)
	}()

	for {
		select {
		case msg := <-m.control:
			m.discard(msg)
		case <-locked:
			for {
				select {
				case msg := <-m.control:
					m.discard(msg)
				default:
					return
				}
			}
		}
	}
}

func (m *manager) discard(msg control) {
	switch msg := msg.(type) {
	case addPeer:
		_ = msg.foreign.Close()
	case sendPacket:
		msg.tracked.Drop()
	}
}

func (m *manager) add(msg addPeer) {
	f := msg.foreign
	if old, ok := m.peers[f.ID()]; ok && old != f {
		m.log.Warnf("Replacing connection %d", f.ID())
		old.closeOutbound()
	}
	m.events.Send(connectedEvent(f))
	m.peers[f.ID()] = f
	m.log.WithField("peer", f.ID()).Infof("Connected to %s", f.RemoteAddr())

	m.wg.Add(2)
	go m.receive(f)
	go func() {
		defer m.wg.Done()
		f.deliver(m.ctx, m.settle)
	}()

	if msg.accepted != nil {
		close(msg.accepted)
	}
}

func (m *manager) remove(f *Foreign) {
	if cur, ok := m.peers[f.ID()]; !ok || cur != f {
		return
	}
	delete(m.peers, f.ID())
	f.closeOutbound()
	m.events.Send(disconnectedEvent(f))
	m.log.WithField("peer", f.ID()).Info("Disconnected")
}

func (m *manager) send(tracked *protocol.TrackedPacket) {
	log := m.log.WithField("peer", tracked.Recipient)

	pkt, ok := tracked.Take()
	if !ok {
		log.Warn("Packet was already dispatched")
		if err := tracked.Fail(); err != nil {
			log.Debugf("Failure went unheard: %v", err)
		}
		return
	}

	f, ok := m.peers[tracked.Recipient]
	if !ok {
		log.Debugf("No connection for %s, dropping it", pkt)
		tracked.Drop()
		return
	}

	if !f.enqueue(tracked, pkt) {
		log.Debugf("Connection closing, dropping %s", pkt)
		tracked.Drop()
	}
}

// settle publishes the outcome of a finished send.
func (m *manager) settle(tracked *protocol.TrackedPacket, pkt protocol.Packet, valid bool, err error) {
	log := m.log.WithField("peer", tracked.Recipient)
	verifiable := pkt.Kind.Verifiable()

	var publish error
	switch {
	case err != nil:
		log.Warnf("Sending %s failed: %v", pkt, err)
		if verifiable {
			publish = tracked.Fail()
		}
		m.events.Send(errorEvent(tracked.Recipient, err))
	case !valid:
		log.Warnf("Sending %s: %v", pkt, ErrInvalidCode)
		if verifiable {
			publish = tracked.Fail()
		}
		m.events.Send(errorEvent(tracked.Recipient, ErrInvalidCode))
	case verifiable:
		publish = tracked.Confirm()
	}

	if !verifiable {
		tracked.Drop()
	}
	if publish != nil {
		log.Debugf("Outcome for %s went unheard: %v", pkt, publish)
	}
}

func (m *manager) receive(f *Foreign) {
	defer m.wg.Done()

	err := f.receive(m.ctx, func(in Inbound) {
		m.packets.Send(in)
	})
	if err != nil {
		if postErr := m.post(report{peer: f.ID(), err: err}); postErr != nil {
			return
		}
	}
	_ = m.post(removePeer{foreign: f})
}

// wait blocks until the manager and every goroutine it started are done.
func (m *manager) wait() {
	<-m.done
	m.wg.Wait()
}
