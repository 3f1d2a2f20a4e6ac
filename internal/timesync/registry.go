package timesync

import (
	"log"
	"sort"
	"sync"
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

// Broadcaster is the minimum PeerMesh contract the registry needs: the
// ability to multicast a frame to every connected peer. Kept as a
// narrow interface here so this package never imports internal/peer.
type Broadcaster interface {
	Send(to string, frame protocol.Frame) error
}

// DeviceInfo is a UI-facing snapshot of one clock source (spec.md §4.2:
// "devices() → list").
type DeviceInfo struct {
	ID       string
	IsPeer   bool
	OffsetMs float64
	PingMs   float64
}

// Registry owns the server source plus one source per connected peer,
// and exposes the single "effective" offset the rest of the coordinator
// uses to translate between local and server time (C2, spec.md §4.2).
type Registry struct {
	loop *eventloop.Loop
	mesh Broadcaster

	server *Source

	mu                  sync.RWMutex
	peers               map[string]*Source
	peerServerOffsetMs  map[string]float64 // what a peer reports as ITS offset to the server
	activePeerID        string
	extraOffsetMs       float64
}

// NewRegistry constructs the registry, builds and starts the server
// source, and wires it to rebroadcast its own updates to the mesh as a
// time-sync-server-update message so other peers can derive a
// transitive offset through this client (spec.md §4.2).
func NewRegistry(loop *eventloop.Loop, serverPinger Pinger, mesh Broadcaster) *Registry {
	r := &Registry{
		loop:               loop,
		mesh:               mesh,
		peers:              make(map[string]*Source),
		peerServerOffsetMs: make(map[string]float64),
	}
	r.server = New(loop, "server", serverPinger)
	r.server.OnUpdate(func(u Update) {
		if u.Err != nil {
			return
		}
		r.rebroadcast(u)
	})
	r.server.Start()
	return r
}

func (r *Registry) rebroadcast(u Update) {
	if r.mesh == nil {
		return
	}
	payload, err := marshalTimeSyncUpdate(u.OffsetMs, u.PingMs)
	if err != nil {
		log.Printf("[timesync] marshal server-update failed: %v", err)
		return
	}
	frame := protocol.Frame{
		Type: protocol.ChannelExternal,
		Data: protocol.InnerFrame{Type: protocol.InnerTimeSyncServerUpdate, Data: payload},
	}
	if err := r.mesh.Send(protocol.Broadcast, frame); err != nil {
		log.Printf("[timesync] broadcasting server-update failed: %v", err)
	}
}

// OnPeerJoined constructs and starts a Source for a newly connected
// peer, driven by the supplied Pinger (an internal/peer.Pinger in
// production).
func (r *Registry) OnPeerJoined(peerID string, pinger Pinger) {
	r.mu.Lock()
	if _, exists := r.peers[peerID]; exists {
		r.mu.Unlock()
		return
	}
	src := New(r.loop, peerID, pinger)
	r.peers[peerID] = src
	r.mu.Unlock()
	src.Start()
}

// OnPeerLeft tears down a peer's source and its last-known
// peer-to-server offset. Symmetrized on "peer-bye" per spec.md §9 open
// question (ii): a SessionLeaving signal removes both the link and the
// time-sync source together, even if the data channel briefly lingers.
func (r *Registry) OnPeerLeft(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if src, ok := r.peers[peerID]; ok {
		src.Stop()
		delete(r.peers, peerID)
	}
	delete(r.peerServerOffsetMs, peerID)
	if r.activePeerID == peerID {
		r.activePeerID = ""
	}
}

// OnPeerServerUpdate records a peer's self-reported offset/ping to the
// server, received as a time-sync-server-update broadcast over the
// mesh.
func (r *Registry) OnPeerServerUpdate(peerID string, payload protocol.TimeSyncServerUpdatePayload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.peerServerOffsetMs[peerID] = payload.TimeOffsetMs
}

// HasServerSample reports whether the server source has landed at least
// one successful ping.
func (r *Registry) HasServerSample() bool { return r.server.HasSample() }

// OnceSynced registers fn to run the first time the server source
// produces a successful sample. If the server source already has a
// sample, callers should check HasServerSample first — OnceSynced only
// fires on a future update (spec.md §4.9: "on first time-sync update").
func (r *Registry) OnceSynced(fn func()) {
	var fired bool
	r.server.OnUpdate(func(u Update) {
		if fired || u.Err != nil {
			return
		}
		fired = true
		fn()
	})
}

// SetActiveServer selects the server as the active time source.
func (r *Registry) SetActiveServer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePeerID = ""
}

// SetActivePeer selects a peer as the active time source. If the peer
// has no live source, it is ignored (falls back to server transparently
// on the next conversion, per spec.md §3).
func (r *Registry) SetActivePeer(peerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.activePeerID = peerID
}

// SetExtraOffsetMs sets the user-configured additive offset, always
// applied last (spec.md §3).
func (r *Registry) SetExtraOffsetMs(ms float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extraOffsetMs = ms
}

// ActiveID returns the currently selected source id: "server" or a peer
// id, after resolving a stale peer selection back to "server".
func (r *Registry) ActiveID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activePeerID == "" {
		return "server"
	}
	if _, ok := r.peers[r.activePeerID]; !ok {
		return "server"
	}
	return r.activePeerID
}

// TimeOffsetMs returns the effective offset in milliseconds used to
// convert a local instant to server time: server-only → the server
// source's own offset; via-peer → that peer's locally-measured offset
// plus the peer's self-reported offset to the server; extra_offset is
// always added last.
//
// Resolves spec.md §9 open question (i): at most one fallback-to-server
// hop is performed, via a bounded loop rather than recursion.
func (r *Registry) TimeOffsetMs() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.effectiveOffsetLocked() + r.extraOffsetMs
}

func (r *Registry) effectiveOffsetLocked() float64 {
	active := r.activePeerID
	for hop := 0; hop < 2; hop++ {
		if active == "" {
			return r.server.OffsetMs()
		}
		peerSrc, ok := r.peers[active]
		if !ok {
			active = "" // fall back to server; one more hop allowed
			continue
		}
		return peerSrc.OffsetMs() + r.peerServerOffsetMs[active]
	}
	return r.server.OffsetMs()
}

// LocalToRemote converts a local instant to the effective server
// instant.
func (r *Registry) LocalToRemote(t time.Time) time.Time {
	return t.Add(time.Duration(r.TimeOffsetMs() * float64(time.Millisecond)))
}

// RemoteToLocal is the inverse of LocalToRemote.
func (r *Registry) RemoteToLocal(t time.Time) time.Time {
	return t.Add(-time.Duration(r.TimeOffsetMs() * float64(time.Millisecond)))
}

// Devices returns a stable-ordered snapshot of every known source, for
// a settings UI (spec.md §4.2).
func (r *Registry) Devices() []DeviceInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []DeviceInfo{{ID: "server", OffsetMs: r.server.OffsetMs(), PingMs: r.server.PingMs()}}
	ids := make([]string, 0, len(r.peers))
	for id := range r.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		src := r.peers[id]
		out = append(out, DeviceInfo{ID: id, IsPeer: true, OffsetMs: src.OffsetMs(), PingMs: src.PingMs()})
	}
	return out
}

// Stop tears down every peer source and the server source, leaving the
// registry empty (invariant 4 of spec.md §8: after disable, no peer
// sources remain).
func (r *Registry) Stop() {
	r.server.Stop()
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, src := range r.peers {
		src.Stop()
		delete(r.peers, id)
	}
	r.peerServerOffsetMs = make(map[string]float64)
	r.activePeerID = ""
}
