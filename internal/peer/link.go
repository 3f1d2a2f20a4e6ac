// Package peer implements C3 (PeerLink) and C4 (PeerMesh) from
// spec.md §4.3/§4.4: one reliable, ordered, JSON-framed WebRTC data
// channel per remote peer, and the mesh that creates/tears them down in
// response to signaling.
//
// Grounded directly on the teacher's webrtc/client.go (createPeerConnection,
// the offer/answer/candidate dance, the peers map keyed by remote id),
// generalized from a video-conferencing mesh into the host/guest data
// channel discipline this spec requires.
package peer

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

// Role distinguishes which side opened the link.
type Role int

const (
	Host Role = iota
	Guest
)

// State is the PeerLink lifecycle of spec.md §4.3.
type State int

const (
	StateInit State = iota
	StateOffering
	StateAnswering
	StateConnected
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateOffering:
		return "Offering"
	case StateAnswering:
		return "Answering"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// SignalSender relays a signaling artifact to one remote peer through
// the opaque server signaling interface.
type SignalSender interface {
	SendSignal(to string, signal protocol.WebRTCSignal) error
}

// pendingPing is the single in-flight ping request/response correlation
// for this link — mirrors the data model's `Peer.ping_promise` field,
// which is deliberately a single slot because pings on one source are
// serialized (spec.md §4.1).
type pendingPing struct {
	requestSentMs int64
	resolve       chan protocol.PingSample
}

// Link is one bidirectional data channel to one remote peer.
type Link struct {
	ID   string
	Role Role
	loop *eventloop.Loop

	signal SignalSender
	api    *webrtc.API

	mu            sync.Mutex
	state         State
	pc            *webrtc.PeerConnection
	dc            *webrtc.DataChannel
	pendingICE    []webrtc.ICECandidateInit
	remoteSet     bool
	ping          *pendingPing

	OnConnected    func(peerID string)
	OnDisconnected func(peerID string)
	OnMessage      func(peerID string, frame protocol.InnerFrame, receivedAt time.Time)
}

// NewLink builds a PeerLink in the Init state. Opening the underlying
// PeerConnection happens in Open.
func NewLink(loop *eventloop.Loop, api *webrtc.API, id string, role Role, signal SignalSender) *Link {
	return &Link{ID: id, Role: role, loop: loop, api: api, signal: signal, state: StateInit}
}

var iceServers = []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}

// Open creates the underlying PeerConnection and, for a Host link,
// opens the data channel and sends the initial offer (spec.md §4.3: the
// host "opens a reliable, ordered, JSON-framed channel before producing
// an SDP offer"). A Guest link waits for OnSignaling(offer) instead.
func (l *Link) Open() error {
	pc, err := l.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return fmt.Errorf("peer %s: new peer connection: %w", l.ID, err)
	}
	l.mu.Lock()
	l.pc = pc
	l.mu.Unlock()

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		ice := c.ToJSON()
		if err := l.signal.SendSignal(l.ID, protocol.WebRTCSignal{ICECandidate: &protocol.ICECandidatePayload{
			Candidate: ice.Candidate, SDPMid: ice.SDPMid, SDPMLineIndex: ice.SDPMLineIndex,
		}}); err != nil {
			log.Printf("[peer] %s: send ICE candidate: %v", l.ID, err)
		}
	})
	pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Printf("[peer] %s: ICE state %s", l.ID, s)
	})
	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			l.loop.Post(func() { l.handleClosed() })
		}
	})

	switch l.Role {
	case Host:
		dc, err := pc.CreateDataChannel("syncplay", nil)
		if err != nil {
			return fmt.Errorf("peer %s: create data channel: %w", l.ID, err)
		}
		l.bindDataChannel(dc)
		l.setState(StateOffering)
		return l.sendOffer()
	case Guest:
		pc.OnDataChannel(func(dc *webrtc.DataChannel) {
			l.bindDataChannel(dc)
		})
		l.setState(StateAnswering)
	}
	return nil
}

func (l *Link) setState(s State) {
	l.mu.Lock()
	l.state = s
	l.mu.Unlock()
}

// State returns the link's current lifecycle state.
func (l *Link) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *Link) sendOffer() error {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("peer %s: create offer: %w", l.ID, err)
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("peer %s: set local description: %w", l.ID, err)
	}
	return l.signal.SendSignal(l.ID, protocol.WebRTCSignal{
		Offer: &protocol.SessionDescriptionPayload{Type: "offer", SDP: offer.SDP},
	})
}

// OnSignaling applies an inbound signaling artifact relayed by the
// server: an offer (guest side), an answer (host side), or an ICE
// candidate (either side, queued until the remote description lands).
func (l *Link) OnSignaling(signal protocol.WebRTCSignal) {
	switch {
	case signal.Offer != nil:
		l.handleOffer(*signal.Offer)
	case signal.Answer != nil:
		l.handleAnswer(*signal.Answer)
	case signal.ICECandidate != nil:
		l.handleCandidate(*signal.ICECandidate)
	}
}

func (l *Link) handleOffer(offer protocol.SessionDescriptionPayload) {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}); err != nil {
		log.Printf("[peer] %s: set remote offer: %v", l.ID, err)
		return
	}
	l.markRemoteSetAndDrainICE()

	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		log.Printf("[peer] %s: create answer: %v", l.ID, err)
		return
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		log.Printf("[peer] %s: set local answer: %v", l.ID, err)
		return
	}
	if err := l.signal.SendSignal(l.ID, protocol.WebRTCSignal{
		Answer: &protocol.SessionDescriptionPayload{Type: "answer", SDP: answer.SDP},
	}); err != nil {
		log.Printf("[peer] %s: send answer: %v", l.ID, err)
	}
}

func (l *Link) handleAnswer(answer protocol.SessionDescriptionPayload) {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer.SDP}); err != nil {
		log.Printf("[peer] %s: set remote answer: %v", l.ID, err)
		return
	}
	l.markRemoteSetAndDrainICE()
}

func (l *Link) markRemoteSetAndDrainICE() {
	l.mu.Lock()
	l.remoteSet = true
	queued := l.pendingICE
	l.pendingICE = nil
	l.mu.Unlock()

	for _, cand := range queued {
		if err := l.pc.AddICECandidate(cand); err != nil {
			log.Printf("[peer] %s: queued ICE candidate: %v", l.ID, err)
		}
	}
}

func (l *Link) handleCandidate(cand protocol.ICECandidatePayload) {
	ice := webrtc.ICECandidateInit{Candidate: cand.Candidate, SDPMid: cand.SDPMid, SDPMLineIndex: cand.SDPMLineIndex}

	l.mu.Lock()
	ready := l.remoteSet
	if !ready {
		l.pendingICE = append(l.pendingICE, ice)
	}
	l.mu.Unlock()

	if ready {
		if err := l.pc.AddICECandidate(ice); err != nil {
			log.Printf("[peer] %s: ICE candidate: %v", l.ID, err)
		}
	}
}

func (l *Link) bindDataChannel(dc *webrtc.DataChannel) {
	l.mu.Lock()
	l.dc = dc
	l.mu.Unlock()

	dc.OnOpen(func() {
		l.setState(StateConnected)
		l.loop.Post(func() {
			if l.OnConnected != nil {
				l.OnConnected(l.ID)
			}
		})
	})
	dc.OnClose(func() {
		l.loop.Post(func() { l.handleClosed() })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		receivedAt := time.Now()
		if protocol.PeekType(msg.Data) == "" {
			log.Printf("[peer] %s: %v", l.ID, protocol.ErrMalformedFrame)
			return
		}
		var frame protocol.Frame
		if err := json.Unmarshal(msg.Data, &frame); err != nil {
			log.Printf("[peer] %s: malformed frame: %v", l.ID, err)
			return
		}
		l.loop.Post(func() { l.dispatch(frame, receivedAt) })
	})
}

func (l *Link) handleClosed() {
	if l.State() == StateClosed {
		return
	}
	l.setState(StateClosed)
	l.failPendingPing()
	if l.OnDisconnected != nil {
		l.OnDisconnected(l.ID)
	}
}

func (l *Link) failPendingPing() {
	l.mu.Lock()
	p := l.ping
	l.ping = nil
	l.mu.Unlock()
	if p != nil {
		close(p.resolve)
	}
}

// Close tears down the underlying PeerConnection.
func (l *Link) Close() {
	l.mu.Lock()
	pc := l.pc
	l.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}
	l.handleClosed()
}

func (l *Link) dispatch(frame protocol.Frame, receivedAt time.Time) {
	if frame.Type == protocol.ChannelInternal {
		l.handleInternal(frame.Data)
		return
	}
	if l.OnMessage != nil {
		l.OnMessage(l.ID, frame.Data, receivedAt)
	}
}

func (l *Link) handleInternal(inner protocol.InnerFrame) {
	switch inner.Type {
	case protocol.InnerPingRequest:
		l.respondToPing(inner.Data)
	case protocol.InnerPingResponse:
		l.resolvePing(inner.Data)
	default:
		log.Printf("[peer] %s: unknown internal frame type %q", l.ID, inner.Type)
	}
}

func (l *Link) respondToPing(raw json.RawMessage) {
	var req protocol.PingRequestPayload
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Printf("[peer] %s: malformed ping-request: %v", l.ID, err)
		return
	}
	requestReceived := time.Now().UnixMilli()
	resp := protocol.PingResponsePayload{
		RequestSent:     req.RequestSent,
		RequestReceived: requestReceived,
		ResponseSent:    time.Now().UnixMilli(),
	}
	if err := l.sendInternal(protocol.InnerPingResponse, resp); err != nil {
		log.Printf("[peer] %s: send ping-response: %v", l.ID, err)
	}
}

func (l *Link) resolvePing(raw json.RawMessage) {
	var resp protocol.PingResponsePayload
	if err := json.Unmarshal(raw, &resp); err != nil {
		log.Printf("[peer] %s: malformed ping-response: %v", l.ID, err)
		return
	}
	l.mu.Lock()
	p := l.ping
	if p == nil || p.requestSentMs != resp.RequestSent {
		l.mu.Unlock()
		return // stale or unexpected response; drop silently
	}
	l.ping = nil
	l.mu.Unlock()

	p.resolve <- protocol.PingSample{
		RequestSent:      time.UnixMilli(resp.RequestSent),
		RequestReceived:  time.UnixMilli(resp.RequestReceived),
		ResponseSent:     time.UnixMilli(resp.ResponseSent),
		ResponseReceived: time.Now(),
	}
	close(p.resolve)
}

// requestPing issues a ping-request and returns a channel delivering
// exactly one PingSample (or being closed without a value, on
// cancellation/disconnect).
func (l *Link) requestPing() (chan protocol.PingSample, error) {
	sentMs := time.Now().UnixMilli()
	ch := make(chan protocol.PingSample, 1)

	l.mu.Lock()
	l.ping = &pendingPing{requestSentMs: sentMs, resolve: ch}
	l.mu.Unlock()

	if err := l.sendInternal(protocol.InnerPingRequest, protocol.PingRequestPayload{RequestSent: sentMs}); err != nil {
		l.mu.Lock()
		l.ping = nil
		l.mu.Unlock()
		return nil, err
	}
	return ch, nil
}

func (l *Link) sendInternal(kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return l.sendFrame(protocol.Frame{Type: protocol.ChannelInternal, Data: protocol.InnerFrame{Type: kind, Data: data}})
}

// SendExternal marshals and sends an application-level payload on the
// external logical channel.
func (l *Link) SendExternal(kind string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return l.sendFrame(protocol.Frame{Type: protocol.ChannelExternal, Data: protocol.InnerFrame{Type: kind, Data: data}})
}

// SendFrame sends a fully-formed frame verbatim, used by PeerMesh to
// multicast a pre-built frame (e.g. a time-sync-server-update) without
// re-marshaling per recipient.
func (l *Link) SendFrame(frame protocol.Frame) error {
	return l.sendFrame(frame)
}

func (l *Link) sendFrame(frame protocol.Frame) error {
	l.mu.Lock()
	dc := l.dc
	l.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("peer %s: data channel not open", l.ID)
	}
	out, err := json.Marshal(frame)
	if err != nil {
		log.Printf("[peer] %s: unserializable outbound frame: %v", l.ID, err)
		return err
	}
	return dc.SendText(string(out))
}
