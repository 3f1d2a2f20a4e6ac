package drift

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/protocol"
)

type fakePlayer struct {
	mu      sync.Mutex
	rate    float64
	seeks   []protocol.Ticks
	active  bool
	hasRate bool
}

func (p *fakePlayer) LocalUnpause()                      {}
func (p *fakePlayer) LocalPause()                        {}
func (p *fakePlayer) LocalStop()                         {}
func (p *fakePlayer) LocalSeek(ticks protocol.Ticks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seeks = append(p.seeks, ticks)
}
func (p *fakePlayer) SetPlaybackRate(rate float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rate = rate
}
func (p *fakePlayer) PlaybackRate() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}
func (p *fakePlayer) HasPlaybackRate() bool    { return p.hasRate }
func (p *fakePlayer) CurrentTimeMs() float64   { return 0 }
func (p *fakePlayer) IsPlaying() bool          { return true }
func (p *fakePlayer) IsPlaybackActive() bool   { return p.active }
func (p *fakePlayer) OnEvent(func(player.EventKind))       {}
func (p *fakePlayer) OnTimeUpdate(func(player.TimeUpdate)) {}

func (p *fakePlayer) rateNow() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *fakePlayer) seekCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seeks)
}

type identityClock struct{}

func (identityClock) LocalToRemote(t time.Time) time.Time { return t }

type fakeScheduler struct {
	mu           sync.Mutex
	lastCommand  *protocol.Command
	syncEnabled  bool
	attempts     int
	armHooks     []func()
}

func (s *fakeScheduler) LastCommand() *protocol.Command { return s.lastCommand }
func (s *fakeScheduler) SyncEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.syncEnabled
}
func (s *fakeScheduler) SetSyncEnabled(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncEnabled = v
}
func (s *fakeScheduler) IncrementSyncAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
}
func (s *fakeScheduler) ResetSyncAttempts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = 0
}
func (s *fakeScheduler) OnArm(fn func()) { s.armHooks = append(s.armHooks, fn) }

type fakeSettings struct {
	minSpeedMs, maxSpeedMs, speedDurationMs, minSkipMs float64
}

func (f fakeSettings) EnableSyncCorrection() bool     { return true }
func (f fakeSettings) UseSpeedToSync() bool           { return true }
func (f fakeSettings) UseSkipToSync() bool            { return true }
func (f fakeSettings) MinDelaySpeedToSyncMs() float64 { return f.minSpeedMs }
func (f fakeSettings) MaxDelaySpeedToSyncMs() float64 { return f.maxSpeedMs }
func (f fakeSettings) SpeedToSyncDurationMs() float64 { return f.speedDurationMs }
func (f fakeSettings) MinDelaySkipToSyncMs() float64  { return f.minSkipMs }

// S5 — rate-nudge: a 200ms lag with a 1000ms correction window yields a
// 1.20x rate, restored to 1.0 (and sync re-enabled) 1000ms later.
func TestCorrector_RateNudge(t *testing.T) {
	loop := eventloop.New()
	go loop.Run()
	t.Cleanup(loop.Stop)

	fp := &fakePlayer{rate: 1.0, active: true, hasRate: true}
	pos := protocol.Ticks(0)
	sched := &fakeScheduler{
		lastCommand: &protocol.Command{Kind: protocol.Unpause, PositionTicks: &pos, WhenServer: time.Unix(0, 0)},
		syncEnabled: true,
	}
	settings := fakeSettings{minSpeedMs: 50, maxSpeedMs: 2000, speedDurationMs: 1000, minSkipMs: 2000}

	c := New(loop, fp, identityClock{}, sched, settings, func() bool { return false })

	update := player.TimeUpdate{
		NowLocal:   time.Unix(0, 0).Add(500 * time.Millisecond),
		PositionMs: 300, // expected 500ms, actual 300ms => delta +200ms
	}
	loop.Post(func() { c.onTimeUpdate(update) })

	require.Eventually(t, func() bool { return fp.rateNow() == 1.2 }, time.Second, 5*time.Millisecond)
	assert.False(t, sched.SyncEnabled())
	assert.Equal(t, 0, fp.seekCount())

	require.Eventually(t, func() bool { return fp.rateNow() == 1.0 }, 2*time.Second, 10*time.Millisecond)
	assert.True(t, sched.SyncEnabled())
}

// S6's sibling invariant for DriftCorrector: with sync_enabled==false the
// corrector must never touch the player.
func TestCorrector_SyncDisabledNoOp(t *testing.T) {
	loop := eventloop.New()
	go loop.Run()
	t.Cleanup(loop.Stop)

	fp := &fakePlayer{rate: 1.0, active: true, hasRate: true}
	pos := protocol.Ticks(0)
	sched := &fakeScheduler{
		lastCommand: &protocol.Command{Kind: protocol.Unpause, PositionTicks: &pos, WhenServer: time.Unix(0, 0)},
		syncEnabled: false,
	}
	settings := fakeSettings{minSpeedMs: 50, maxSpeedMs: 2000, speedDurationMs: 1000, minSkipMs: 2000}
	c := New(loop, fp, identityClock{}, sched, settings, func() bool { return false })

	update := player.TimeUpdate{NowLocal: time.Unix(0, 0).Add(500 * time.Millisecond), PositionMs: 0}
	loop.Post(func() { c.onTimeUpdate(update) })

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1.0, fp.rateNow())
	assert.Equal(t, 0, fp.seekCount())
}

func TestCorrector_CancelNudgeStopsRestore(t *testing.T) {
	loop := eventloop.New()
	go loop.Run()
	t.Cleanup(loop.Stop)

	fp := &fakePlayer{rate: 1.0, active: true, hasRate: true}
	pos := protocol.Ticks(0)
	sched := &fakeScheduler{
		lastCommand: &protocol.Command{Kind: protocol.Unpause, PositionTicks: &pos, WhenServer: time.Unix(0, 0)},
		syncEnabled: true,
	}
	settings := fakeSettings{minSpeedMs: 50, maxSpeedMs: 2000, speedDurationMs: 1000, minSkipMs: 2000}
	c := New(loop, fp, identityClock{}, sched, settings, func() bool { return false })

	update := player.TimeUpdate{NowLocal: time.Unix(0, 0).Add(500 * time.Millisecond), PositionMs: 300}
	loop.Post(func() { c.onTimeUpdate(update) })
	require.Eventually(t, func() bool { return fp.rateNow() == 1.2 }, time.Second, 5*time.Millisecond)

	// A new scheduled command (arm hook) cancels the pending restore.
	for _, fn := range sched.armHooks {
		loop.Post(fn)
	}

	time.Sleep(1200 * time.Millisecond)
	assert.Equal(t, 1.2, fp.rateNow(), "restore timer should have been cancelled by the arm hook")
}
