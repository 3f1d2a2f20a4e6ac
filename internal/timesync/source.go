// Package timesync implements C1 (TimeSyncSource) and C2
// (TimeSyncRegistry) from spec.md §4.1/§4.2: sampling a single clock
// endpoint, and owning the server source plus one source per peer.
//
// The source and pack repos this is grounded on duplicate ping logic
// between a "server" pinger and a "peer" pinger (spec.md §9's
// duplicate-file note). This package unifies both as one Source driven
// by a Pinger capability, the way the note recommends.
package timesync

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

const (
	maxWindow           = 8
	warmupPollInterval  = 5 * time.Second
	steadyPollInterval  = 60 * time.Second
	pingTimeout         = 5 * time.Second
)

// Pinger samples one round trip against a single endpoint: the server
// over its RPC transport, or a peer over its data channel. Unifying the
// two behind one interface is what lets Source stay endpoint-agnostic.
type Pinger interface {
	Ping(ctx context.Context) (protocol.PingSample, error)
}

// Update is the event TimeSyncSource emits after every ping attempt,
// successful or not.
type Update struct {
	SourceID string
	Err      error
	OffsetMs float64
	PingMs   float64
}

// Source samples a single clock endpoint and keeps a rolling mean of
// recent samples (spec.md §3 — "TimeSyncSource state").
type Source struct {
	id     string
	pinger Pinger
	loop   *eventloop.Loop

	mu        sync.RWMutex
	window    []protocol.PingSample
	offsetMs  float64
	pingMs    float64
	hasSample bool

	running   bool
	timer     *eventloop.Timer
	inflight  int // bumped per ping attempt; a response for a stale attempt is dropped
	listeners []func(Update)
}

// New constructs a Source for the given endpoint id ("server" or a
// peer id), to be driven by the supplied Pinger capability.
func New(loop *eventloop.Loop, id string, pinger Pinger) *Source {
	return &Source{id: id, pinger: pinger, loop: loop}
}

// ID returns the source's identifier.
func (s *Source) ID() string { return s.id }

// OnUpdate registers a listener invoked (on the owning Loop) after
// every ping attempt. Not safe to call concurrently with Start/Stop.
func (s *Source) OnUpdate(fn func(Update)) {
	s.listeners = append(s.listeners, fn)
}

// Start begins the polling loop. Calling Start on an already-running
// source is a no-op.
func (s *Source) Start() {
	if s.running {
		return
	}
	s.running = true
	s.pingNow()
}

// Stop halts polling. A ping already in flight is allowed to complete,
// but its response is dropped silently (spec.md §4.1 ordering rule: a
// late response whose in-flight attempt has been cancelled is dropped).
func (s *Source) Stop() {
	s.running = false
	s.timer.Stop()
	s.timer = nil
	s.inflight++ // invalidate any in-flight attempt
}

// ForceUpdate cancels any pending wait and issues a ping immediately.
func (s *Source) ForceUpdate() {
	if !s.running {
		return
	}
	s.timer.Stop()
	s.pingNow()
}

func (s *Source) pingNow() {
	attempt := s.inflight
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	go func() {
		defer cancel()
		sample, err := s.pinger.Ping(ctx)
		s.loop.Post(func() {
			s.onPingComplete(attempt, sample, err)
		})
	}()
}

func (s *Source) onPingComplete(attempt int, sample protocol.PingSample, err error) {
	if attempt != s.inflight {
		// Stale response for a cancelled/superseded attempt; spec.md
		// §4.1 says drop silently.
		return
	}
	if err != nil {
		log.Printf("[timesync] %s: ping failed: %v", s.id, err)
		s.emit(Update{SourceID: s.id, Err: err})
		s.scheduleNext()
		return
	}

	s.mu.Lock()
	s.window = append(s.window, sample)
	if len(s.window) > maxWindow {
		s.window = s.window[len(s.window)-maxWindow:]
	}
	offsetMs, pingMs := meanOf(s.window)
	s.offsetMs, s.pingMs, s.hasSample = offsetMs, pingMs, true
	s.mu.Unlock()

	s.emit(Update{SourceID: s.id, OffsetMs: offsetMs, PingMs: pingMs})
	s.scheduleNext()
}

func (s *Source) emit(u Update) {
	for _, fn := range s.listeners {
		fn(u)
	}
}

func (s *Source) scheduleNext() {
	if !s.running {
		return
	}
	s.mu.RLock()
	n := len(s.window)
	s.mu.RUnlock()
	interval := steadyPollInterval
	if n < maxWindow {
		interval = warmupPollInterval
	}
	s.timer = s.loop.AfterFunc(interval, s.pingNow)
}

func meanOf(samples []protocol.PingSample) (offsetMs, pingMs float64) {
	if len(samples) == 0 {
		return 0, 0
	}
	if len(samples) == 1 {
		p := samples[0]
		return float64(p.Offset().Microseconds()) / 1000, float64(p.RTT().Microseconds()) / 1000
	}
	var sumOffset, sumPing float64
	for _, p := range samples {
		sumOffset += float64(p.Offset().Microseconds()) / 1000
		sumPing += float64(p.RTT().Microseconds()) / 1000
	}
	n := float64(len(samples))
	return sumOffset / n, sumPing / n
}

// OffsetMs returns the current mean offset, in milliseconds, to add to
// a local instant to obtain the equivalent remote instant.
func (s *Source) OffsetMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.offsetMs
}

// PingMs returns the current mean round-trip time in milliseconds.
func (s *Source) PingMs() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pingMs
}

// HasSample reports whether at least one successful ping has landed.
func (s *Source) HasSample() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasSample
}

// LocalToRemote converts a local instant to the equivalent remote
// instant using the current offset.
func (s *Source) LocalToRemote(t time.Time) time.Time {
	return t.Add(time.Duration(s.OffsetMs() * float64(time.Millisecond)))
}

// RemoteToLocal is the inverse of LocalToRemote.
func (s *Source) RemoteToLocal(t time.Time) time.Time {
	return t.Add(-time.Duration(s.OffsetMs() * float64(time.Millisecond)))
}
