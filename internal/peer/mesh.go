package peer

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

// Mesh creates and tears down PeerLinks in response to signaling,
// routes inbound application messages, and multicasts outbound ones
// (C4, spec.md §4.4). Grounded on the teacher's `peers map[string]*webrtc.PeerConnection`
// + `handleSignal` dispatch in webrtc/client.go, generalized from a
// video mesh into the host/guest data-channel discipline this spec
// needs and given an explicit enable/disable lifecycle.
type Mesh struct {
	loop      *eventloop.Loop
	api       *webrtc.API
	transport protocol.ServerTransport

	mu    sync.Mutex
	links map[string]*Link

	// OnPeerJoined/OnPeerLeft let the time-sync registry (C2) build and
	// tear down a per-peer clock source as links come and go.
	OnPeerJoined func(peerID string, pinger Pinger)
	OnPeerLeft   func(peerID string)

	// OnMessage delivers application-level (external, non-time-sync)
	// frames up to whichever component cares about peer-to-peer
	// application data. The queue mirror and session controller may
	// both be no-ops here; this spec's core traffic over the mesh is
	// entirely time-sync.
	OnMessage func(peerID string, inner protocol.InnerFrame, receivedAt time.Time)
}

func newMediaEngine() *webrtc.API {
	return webrtc.NewAPI()
}

// NewMesh constructs an idle Mesh. Call Enable to announce a session.
func NewMesh(loop *eventloop.Loop, transport protocol.ServerTransport) *Mesh {
	return &Mesh{
		loop:      loop,
		api:       newMediaEngine(),
		transport: transport,
		links:     make(map[string]*Link),
	}
}

// Enable announces a new session to the server so existing group
// members open a host-role link to us.
func (m *Mesh) Enable(ctx context.Context) error {
	return m.transport.WebRTC(ctx, protocol.Broadcast, protocol.WebRTCSignal{NewSession: true})
}

// Disable closes every live link and, if notifyServer is true,
// announces our departure so peers tear down their side immediately
// instead of waiting on an ICE timeout.
func (m *Mesh) Disable(ctx context.Context, notifyServer bool) {
	m.mu.Lock()
	links := m.links
	m.links = make(map[string]*Link)
	m.mu.Unlock()

	for id, link := range links {
		link.Close()
		if m.OnPeerLeft != nil {
			m.OnPeerLeft(id)
		}
	}

	if notifyServer {
		if err := m.transport.WebRTC(ctx, protocol.Broadcast, protocol.WebRTCSignal{SessionLeaving: true}); err != nil {
			log.Printf("[peer] announcing session-leaving: %v", err)
		}
	}
}

// HandleSignal dispatches one inbound WebRTC signaling message from the
// server (spec.md §4.4).
func (m *Mesh) HandleSignal(signal protocol.WebRTCSignal) {
	switch {
	case signal.NewSession:
		m.createLink(signal.From, Host)
	case signal.SessionLeaving:
		m.removeLink(signal.From)
	default:
		link := m.getLink(signal.From)
		if link == nil {
			link = m.createLink(signal.From, Guest)
		}
		if link != nil {
			link.OnSignaling(signal)
		}
	}
}

func (m *Mesh) getLink(id string) *Link {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.links[id]
}

func (m *Mesh) createLink(id string, role Role) *Link {
	if id == "" {
		return nil
	}
	link := NewLink(m.loop, m.api, id, role, signalSenderFor(m.transport))
	link.OnConnected = func(peerID string) {
		log.Printf("[peer] %s: connected", peerID)
		if m.OnPeerJoined != nil {
			m.OnPeerJoined(peerID, Pinger{Link: link})
		}
	}
	link.OnDisconnected = func(peerID string) {
		log.Printf("[peer] %s: disconnected", peerID)
		m.removeLink(peerID)
	}
	link.OnMessage = func(peerID string, inner protocol.InnerFrame, receivedAt time.Time) {
		if m.OnMessage != nil {
			m.OnMessage(peerID, inner, receivedAt)
		}
	}

	m.mu.Lock()
	m.links[id] = link
	m.mu.Unlock()

	if err := link.Open(); err != nil {
		log.Printf("[peer] %s: open failed: %v", id, err)
	}
	return link
}

func (m *Mesh) removeLink(id string) {
	m.mu.Lock()
	link, ok := m.links[id]
	if ok {
		delete(m.links, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	link.Close()
	if m.OnPeerLeft != nil {
		m.OnPeerLeft(id)
	}
}

// Send multicasts message to every live link ("*"), or forwards it to
// one peer. An unknown recipient is logged and dropped (spec.md §4.4 /
// §7 ErrUnknownPeer).
func (m *Mesh) Send(to string, frame protocol.Frame) error {
	if to == protocol.Broadcast {
		m.mu.Lock()
		links := make([]*Link, 0, len(m.links))
		for _, l := range m.links {
			links = append(links, l)
		}
		m.mu.Unlock()
		for _, l := range links {
			if err := l.SendFrame(frame); err != nil {
				log.Printf("[peer] %s: broadcast send: %v", l.ID, err)
			}
		}
		return nil
	}

	link := m.getLink(to)
	if link == nil {
		log.Printf("[peer] %s: %v", to, protocol.ErrUnknownPeer)
		return fmt.Errorf("%w: %s", protocol.ErrUnknownPeer, to)
	}
	return link.SendFrame(frame)
}

type transportSignalSender struct {
	transport protocol.ServerTransport
}

func signalSenderFor(t protocol.ServerTransport) SignalSender {
	return transportSignalSender{transport: t}
}

func (s transportSignalSender) SendSignal(to string, signal protocol.WebRTCSignal) error {
	return s.transport.WebRTC(context.Background(), to, signal)
}
