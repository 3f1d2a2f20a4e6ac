// Package drift implements C6, the drift corrector: it subscribes to
// the player's time-update stream and nudges playback (by rate or by
// seek) back toward the position the last scheduled command implies,
// per spec.md §4.6.
package drift

import (
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/protocol"
)

// minSpeed is the floor a rate-nudge's playback speed is allowed to
// reach (spec.md §4.6).
const minSpeed = 0.2

// Scheduler is the subset of internal/schedule.Scheduler the drift
// corrector reads and mutates.
type Scheduler interface {
	LastCommand() *protocol.Command
	SyncEnabled() bool
	SetSyncEnabled(bool)
	IncrementSyncAttempts()
	ResetSyncAttempts()
	OnArm(fn func())
}

// Clock is the subset of internal/timesync.Registry needed to translate
// a local instant into server time.
type Clock interface {
	LocalToRemote(t time.Time) time.Time
}

// Settings is the live-read tunables DriftCorrector consults on every
// update, mirroring CommandScheduler's runtime-settings discipline.
type Settings interface {
	EnableSyncCorrection() bool
	UseSpeedToSync() bool
	UseSkipToSync() bool
	MinDelaySpeedToSyncMs() float64
	MaxDelaySpeedToSyncMs() float64
	SpeedToSyncDurationMs() float64
	MinDelaySkipToSyncMs() float64
}

// Corrector is C6.
type Corrector struct {
	loop     *eventloop.Loop
	player   player.Adapter
	clock    Clock
	sched    Scheduler
	settings Settings
	buffering func() bool

	lastSyncTime time.Time
	nudgeTimer   *eventloop.Timer

	// LastDeltaMs is the most recently computed drift, exposed for
	// stats/UI (spec.md §4.6: "Expose delta_ms for stats").
	LastDeltaMs float64
}

// New constructs a Corrector and wires it to the player's time-update
// stream and to the scheduler's arm hook. buffering reports whether the
// player is currently buffering.
func New(loop *eventloop.Loop, p player.Adapter, clock Clock, sched Scheduler, settings Settings, buffering func() bool) *Corrector {
	c := &Corrector{loop: loop, player: p, clock: clock, sched: sched, settings: settings, buffering: buffering}
	p.OnTimeUpdate(func(u player.TimeUpdate) {
		loop.Post(func() { c.onTimeUpdate(u) })
	})
	sched.OnArm(c.cancelNudge)
	return c
}

func (c *Corrector) onTimeUpdate(u player.TimeUpdate) {
	if !c.settings.EnableSyncCorrection() {
		return
	}
	last := c.sched.LastCommand()
	if last == nil || last.Kind != protocol.Unpause {
		return
	}
	if (c.buffering != nil && c.buffering()) || !c.sched.SyncEnabled() {
		return
	}
	if !c.player.IsPlaybackActive() {
		return
	}
	if last.PositionTicks == nil {
		return
	}

	serverNow := c.clock.LocalToRemote(u.NowLocal)
	expectedTicks := *last.PositionTicks + protocol.TicksFromDuration(serverNow.Sub(last.WhenServer))
	currentTicks := protocol.FromMillis(u.PositionMs)
	deltaMs := (float64(expectedTicks) - float64(currentTicks)) / float64(protocol.TicksPerMs)
	c.LastDeltaMs = deltaMs

	syncMethodThreshold := c.settings.MaxDelaySpeedToSyncMs()
	if !c.lastSyncTime.IsZero() && u.NowLocal.Sub(c.lastSyncTime) < time.Duration(syncMethodThreshold/2)*time.Millisecond {
		return
	}
	c.lastSyncTime = u.NowLocal

	absDelta := deltaMs
	if absDelta < 0 {
		absDelta = -absDelta
	}

	switch {
	case c.player.HasPlaybackRate() && c.settings.UseSpeedToSync() &&
		absDelta >= c.settings.MinDelaySpeedToSyncMs() && absDelta < syncMethodThreshold:
		c.rateNudge(deltaMs)
	case c.settings.UseSkipToSync() && absDelta >= c.settings.MinDelaySkipToSyncMs():
		c.seekNudge(expectedTicks, syncMethodThreshold)
	default:
		c.sched.ResetSyncAttempts()
	}
}

func (c *Corrector) rateNudge(deltaMs float64) {
	t := c.settings.SpeedToSyncDurationMs()
	if deltaMs <= -t*minSpeed {
		absDelta := -deltaMs
		t = absDelta / (1 - minSpeed)
	}
	speed := 1 + deltaMs/t
	if speed <= 0 {
		speed = minSpeed
	}

	c.player.SetPlaybackRate(speed)
	c.sched.SetSyncEnabled(false)
	c.sched.IncrementSyncAttempts()

	c.nudgeTimer.Stop()
	c.nudgeTimer = c.loop.AfterFunc(time.Duration(t)*time.Millisecond, func() {
		c.player.SetPlaybackRate(1.0)
		c.sched.SetSyncEnabled(true)
	})
}

func (c *Corrector) seekNudge(expectedTicks protocol.Ticks, syncMethodThreshold float64) {
	c.player.LocalSeek(expectedTicks)
	c.sched.SetSyncEnabled(false)
	c.sched.IncrementSyncAttempts()

	c.nudgeTimer.Stop()
	c.nudgeTimer = c.loop.AfterFunc(time.Duration(syncMethodThreshold/2)*time.Millisecond, func() {
		c.sched.SetSyncEnabled(true)
	})
}

// cancelNudge is registered with the scheduler's OnArm hook: a new
// scheduled command cancels any pending rate-nudge restoration (spec.md
// §5's cancellation rule).
func (c *Corrector) cancelNudge() {
	c.nudgeTimer.Stop()
	c.nudgeTimer = nil
	c.lastSyncTime = time.Time{}
}
