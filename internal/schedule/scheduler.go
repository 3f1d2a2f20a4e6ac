// Package schedule implements C5, the command scheduler: it turns an
// authoritative server command into a single armed timer (or an
// immediate call) against the player adapter, absorbing duplicate
// reassertions and the four playback primitives' wait/timeout/fallback
// behavior (spec.md §4.5).
package schedule

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/protocol"
)

// commandEventTimeout is the default wait for command-path player
// events (spec.md §5: "30,000 ms for command-path events").
const commandEventTimeout = 30 * time.Second

// pauseEventTimeout is the wait for the pause transition specifically
// (spec.md §5: "500 ms for player state-transition events").
const pauseEventTimeout = 500 * time.Millisecond

// Clock is the subset of internal/timesync.Registry the scheduler needs
// to translate between local and server time.
type Clock interface {
	LocalToRemote(t time.Time) time.Time
	RemoteToLocal(t time.Time) time.Time
}

// Queue is the subset of the mirrored queue the scheduler checks a
// command's playlist item against.
type Queue interface {
	CurrentPlaylistItemID() string
}

// Session is the subset of the session controller's state the
// scheduler reads to enforce the apply() preconditions.
type Session interface {
	EnabledAtServer() (time.Time, bool)
}

// Reporter is the narrow slice of protocol.ServerTransport the
// scheduler uses to report buffering/readiness back to the server.
type Reporter interface {
	Buffering(ctx context.Context, report protocol.BufferingReport) error
}

type waiter struct {
	kind  player.EventKind
	timer *eventloop.Timer
	fired bool
	cb    func(timedOut bool)
}

// Scheduler is C5. It owns at most one armed command timer and one
// armed sync-guard timer at a time, per the single-threaded concurrency
// model of spec.md §5.
type Scheduler struct {
	loop     *eventloop.Loop
	player   player.Adapter
	clock    Clock
	queue    Queue
	session  Session
	reporter Reporter

	minDelaySkipToSyncMs func() float64
	maxDelaySpeedToSyncMs func() float64

	lastCommand *protocol.Command
	timer       *eventloop.Timer
	syncGuard   *eventloop.Timer
	syncEnabled bool
	syncAttempts int

	waiters []*waiter
	onArm   []func()
}

// New constructs a Scheduler. minDelaySkipToSyncMs and
// maxDelaySpeedToSyncMs are read on every decision (not cached), so the
// caller typically passes a *settings.Settings method value — per
// spec.md §9's duplicate-file note that the scheduler reads settings at
// runtime, not constants.
func New(
	loop *eventloop.Loop,
	p player.Adapter,
	clock Clock,
	queue Queue,
	session Session,
	reporter Reporter,
	minDelaySkipToSyncMs func() float64,
	maxDelaySpeedToSyncMs func() float64,
) *Scheduler {
	s := &Scheduler{
		loop:                  loop,
		player:                p,
		clock:                 clock,
		queue:                 queue,
		session:               session,
		reporter:              reporter,
		minDelaySkipToSyncMs:  minDelaySkipToSyncMs,
		maxDelaySpeedToSyncMs: maxDelaySpeedToSyncMs,
	}
	p.OnEvent(func(k player.EventKind) {
		loop.Post(func() { s.handlePlayerEvent(k) })
	})
	return s
}

// OnArm registers a hook invoked every time a new command is armed,
// before the previous timer and rate-nudge are cleared. DriftCorrector
// (C6) uses this to cancel its own pending rate-nudge restoration.
func (s *Scheduler) OnArm(fn func()) { s.onArm = append(s.onArm, fn) }

// LastCommand returns the most recently armed command, or nil.
func (s *Scheduler) LastCommand() *protocol.Command { return s.lastCommand }

// SyncEnabled reports whether DriftCorrector is currently allowed to
// nudge playback.
func (s *Scheduler) SyncEnabled() bool { return s.syncEnabled }

// SetSyncEnabled is called by DriftCorrector as it arms and clears its
// own nudge timers.
func (s *Scheduler) SetSyncEnabled(v bool) { s.syncEnabled = v }

// SyncAttempts returns the current consecutive-nudge count.
func (s *Scheduler) SyncAttempts() int { return s.syncAttempts }

// IncrementSyncAttempts bumps the nudge counter.
func (s *Scheduler) IncrementSyncAttempts() { s.syncAttempts++ }

// ResetSyncAttempts clears the nudge counter, called when DriftCorrector
// finds playback already in sync.
func (s *Scheduler) ResetSyncAttempts() { s.syncAttempts = 0 }

// Apply is the scheduler's public operation. Precondition violations are
// dropped with a debug log, never raised (spec.md §4.5).
func (s *Scheduler) Apply(cmd protocol.Command) {
	enabledAt, enabled := s.session.EnabledAtServer()
	if !enabled {
		log.Printf("[sched] dropping %s: session not enabled", cmd.Kind)
		return
	}
	if cmd.EmittedAtServer.Before(enabledAt) {
		log.Printf("[sched] dropping %s: %v", cmd.Kind, protocol.ErrStaleCommand)
		return
	}
	if cur := s.queue.CurrentPlaylistItemID(); cur != "" && cmd.PlaylistItemID != cur {
		log.Printf("[sched] dropping %s: %v (got %s want %s)", cmd.Kind, protocol.ErrWrongPlaylistItem, cmd.PlaylistItemID, cur)
		return
	}

	if s.lastCommand != nil && s.lastCommand.Equal(cmd) {
		s.handleDuplicate(cmd)
		return
	}
	s.scheduleCommand(cmd)
}

// Reset cancels any pending timer and clears the remembered command,
// e.g. when the session is disabled or playback stops (spec.md §5).
func (s *Scheduler) Reset() {
	s.clearTimer()
	s.syncGuard.Stop()
	s.syncGuard = nil
	s.syncEnabled = false
	s.syncAttempts = 0
	s.lastCommand = nil
	for _, w := range s.waiters {
		w.timer.Stop()
	}
	s.waiters = nil
}

func (s *Scheduler) handleDuplicate(cmd protocol.Command) {
	tLocal := s.clock.RemoteToLocal(cmd.WhenServer)
	if tLocal.After(time.Now()) {
		return // already scheduled, do nothing
	}

	switch cmd.Kind {
	case protocol.Unpause:
		if !s.player.IsPlaying() {
			s.scheduleCommand(cmd)
		}
	case protocol.Pause:
		if s.player.IsPlaying() || !s.positionMatches(cmd.PositionTicks) {
			s.scheduleCommand(cmd)
		}
	case protocol.Stop:
		if s.player.IsPlaying() {
			s.scheduleCommand(cmd)
		}
	case protocol.Seek:
		if s.player.IsPlaying() || !s.positionMatches(cmd.PositionTicks) {
			jittered := cmd
			jittered.PositionTicks = jitterSeekTarget(cmd.PositionTicks)
			s.scheduleCommand(jittered)
		} else {
			s.reportBufferingDone(cmd)
		}
	}
}

// positionMatches reports whether the player's current position is
// within the server's tolerated ±50ms window of expected.
func (s *Scheduler) positionMatches(expected *protocol.Ticks) bool {
	if expected == nil {
		return true
	}
	cur := protocol.FromMillis(s.player.CurrentTimeMs())
	deltaMs := (float64(cur) - float64(*expected)) / float64(protocol.TicksPerMs)
	if deltaMs < 0 {
		deltaMs = -deltaMs
	}
	return deltaMs <= 50
}

// jitterSeekTarget adds a uniformly-random [-50,+50]ms offset so a
// re-scheduled seek differs from the one the player already short-
// circuited (spec.md §4.5's forced-seek jitter).
func jitterSeekTarget(target *protocol.Ticks) *protocol.Ticks {
	if target == nil {
		return nil
	}
	jitterMs := rand.Intn(101) - 50
	jittered := *target + protocol.FromMillis(float64(jitterMs))
	return &jittered
}

// scheduleCommand arms a single timer for cmd, clearing any previous
// one, any drift-correction rate-nudge, and resetting the rate to 1.0
// (spec.md §4.5).
func (s *Scheduler) scheduleCommand(cmd protocol.Command) {
	for _, fn := range s.onArm {
		fn()
	}
	s.clearTimer()
	if s.player.HasPlaybackRate() {
		s.player.SetPlaybackRate(1.0)
	}

	s.lastCommand = &cmd

	now := time.Now()
	tLocal := s.clock.RemoteToLocal(cmd.WhenServer)
	isFuture := tLocal.After(now)

	if cmd.Kind == protocol.Unpause && isFuture && cmd.PositionTicks != nil {
		s.preSeekIfAhead(*cmd.PositionTicks)
	}

	if !isFuture {
		s.executeNow(cmd, false)
		return
	}
	s.timer = s.loop.AfterFunc(tLocal.Sub(now), func() { s.executeNow(cmd, true) })
}

// preSeekIfAhead implements the Unpause pre-seek check: if local
// position already leads the target by more than min_delay_skip_to_sync
// ms, seek back before the timer fires.
func (s *Scheduler) preSeekIfAhead(target protocol.Ticks) {
	cur := protocol.FromMillis(s.player.CurrentTimeMs())
	aheadMs := (float64(cur) - float64(target)) / float64(protocol.TicksPerMs)
	if aheadMs > s.minDelaySkipToSyncMs() {
		s.player.LocalSeek(target)
	}
}

func (s *Scheduler) clearTimer() {
	s.timer.Stop()
	s.timer = nil
}

func (s *Scheduler) executeNow(cmd protocol.Command, wasFuture bool) {
	switch cmd.Kind {
	case protocol.Unpause:
		s.runUnpause(cmd, wasFuture)
	case protocol.Pause:
		s.runPause(cmd)
	case protocol.Stop:
		s.player.LocalStop()
	case protocol.Seek:
		s.runSeek(cmd)
	}
}

func (s *Scheduler) runUnpause(cmd protocol.Command, wasFuture bool) {
	if !wasFuture && cmd.PositionTicks != nil {
		nowRemote := s.clock.LocalToRemote(time.Now())
		elapsedMs := nowRemote.Sub(cmd.WhenServer).Seconds() * 1000
		serverTicks := *cmd.PositionTicks + protocol.FromMillis(elapsedMs)
		s.player.LocalUnpause()
		s.waitForEvent(player.UnpauseEvent, commandEventTimeout, func(bool) {
			s.player.LocalSeek(serverTicks)
			s.armSyncGuard()
		})
		return
	}
	s.player.LocalUnpause()
	s.armSyncGuard()
}

func (s *Scheduler) armSyncGuard() {
	s.syncGuard.Stop()
	d := time.Duration(s.maxDelaySpeedToSyncMs()/2) * time.Millisecond
	s.syncGuard = s.loop.AfterFunc(d, func() { s.syncEnabled = true })
}

func (s *Scheduler) runPause(cmd protocol.Command) {
	s.player.LocalPause()
	s.waitForEvent(player.PauseEvent, pauseEventTimeout, func(timedOut bool) {
		if cmd.PositionTicks != nil {
			s.player.LocalSeek(*cmd.PositionTicks)
		}
	})
}

func (s *Scheduler) runSeek(cmd protocol.Command) {
	s.player.LocalUnpause()
	if cmd.PositionTicks != nil {
		s.player.LocalSeek(*cmd.PositionTicks)
	}
	s.waitForEvent(player.Ready, commandEventTimeout, func(timedOut bool) {
		if timedOut {
			if cmd.PositionTicks != nil {
				s.player.LocalSeek(*cmd.PositionTicks)
			}
			return
		}
		s.player.LocalPause()
		s.reportBufferingDone(cmd)
	})
}

func (s *Scheduler) reportBufferingDone(cmd protocol.Command) {
	if s.reporter == nil {
		return
	}
	report := protocol.BufferingReport{
		When:           s.clock.LocalToRemote(time.Now()).UnixMilli(),
		PositionTicks:  protocol.FromMillis(s.player.CurrentTimeMs()),
		IsPlaying:      s.player.IsPlaying(),
		PlaylistItemID: cmd.PlaylistItemID,
		BufferingDone:  true,
	}
	go func() {
		if err := s.reporter.Buffering(context.Background(), report); err != nil {
			log.Printf("[sched] buffering report failed: %v", err)
		}
	}()
}

func (s *Scheduler) waitForEvent(kind player.EventKind, timeout time.Duration, cb func(timedOut bool)) {
	w := &waiter{kind: kind, cb: cb}
	w.timer = s.loop.AfterFunc(timeout, func() { s.fireWaiter(w, true) })
	s.waiters = append(s.waiters, w)
}

func (s *Scheduler) fireWaiter(w *waiter, timedOut bool) {
	if w.fired {
		return
	}
	w.fired = true
	w.timer.Stop()
	s.removeWaiter(w)
	w.cb(timedOut)
}

func (s *Scheduler) removeWaiter(target *waiter) {
	out := s.waiters[:0]
	for _, w := range s.waiters {
		if w != target {
			out = append(out, w)
		}
	}
	s.waiters = out
}

func (s *Scheduler) handlePlayerEvent(kind player.EventKind) {
	for _, w := range s.waiters {
		if !w.fired && w.kind == kind {
			s.fireWaiter(w, false)
			return
		}
	}
}
