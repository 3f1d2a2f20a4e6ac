package schedule

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/protocol"
)

// fakePlayer is a minimal player.Adapter double that records the calls
// the scheduler makes and lets a test script synthetic events back in.
type fakePlayer struct {
	mu sync.Mutex

	positionMs float64
	playing    bool
	rate       float64
	hasRate    bool
	active     bool

	unpauseCalls int
	pauseCalls   int
	stopCalls    int
	seeks        []protocol.Ticks

	eventListeners []func(player.EventKind)
}

func newFakePlayer() *fakePlayer {
	return &fakePlayer{rate: 1.0, hasRate: true, active: true}
}

func (p *fakePlayer) LocalUnpause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = true
	p.unpauseCalls++
}

func (p *fakePlayer) LocalPause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.pauseCalls++
}

func (p *fakePlayer) LocalSeek(ticks protocol.Ticks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionMs = ticks.Millis()
	p.seeks = append(p.seeks, ticks)
}

func (p *fakePlayer) LocalStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.stopCalls++
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

func (p *fakePlayer) HasPlaybackRate() bool { return p.hasRate }

func (p *fakePlayer) CurrentTimeMs() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.positionMs
}

func (p *fakePlayer) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

func (p *fakePlayer) IsPlaybackActive() bool { return p.active }

func (p *fakePlayer) OnEvent(fn func(player.EventKind)) {
	p.eventListeners = append(p.eventListeners, fn)
}

func (p *fakePlayer) OnTimeUpdate(fn func(player.TimeUpdate)) {}

func (p *fakePlayer) fire(k player.EventKind) {
	for _, fn := range p.eventListeners {
		fn(k)
	}
}

func (p *fakePlayer) setPosition(ms float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positionMs = ms
}

func (p *fakePlayer) unpauseCallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unpauseCalls
}

func (p *fakePlayer) seekCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.seeks)
}

// identityClock treats local and remote time as the same instant, the
// S2/S3 scenarios' offset=0 setup.
type identityClock struct{ offset time.Duration }

func (c identityClock) LocalToRemote(t time.Time) time.Time { return t.Add(c.offset) }
func (c identityClock) RemoteToLocal(t time.Time) time.Time { return t.Add(-c.offset) }

type fakeQueue struct{ current string }

func (q fakeQueue) CurrentPlaylistItemID() string { return q.current }

type fakeSession struct {
	enabledAt time.Time
	enabled   bool
}

func (s fakeSession) EnabledAtServer() (time.Time, bool) { return s.enabledAt, s.enabled }

type recordingReporter struct {
	mu      sync.Mutex
	reports []protocol.BufferingReport
}

func (r *recordingReporter) Buffering(ctx context.Context, report protocol.BufferingReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, report)
	return nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func newTestScheduler(t *testing.T, fp *fakePlayer, sess fakeSession) (*Scheduler, *eventloop.Loop, *recordingReporter) {
	t.Helper()
	loop := eventloop.New()
	go loop.Run()
	t.Cleanup(loop.Stop)

	reporter := &recordingReporter{}
	sched := New(loop, fp, identityClock{}, fakeQueue{current: "A"}, sess, reporter,
		func() float64 { return 400 },
		func() float64 { return 3000 },
	)
	return sched, loop, reporter
}

// S2 — future unpause with position slightly behind: no pre-seek, timer
// fires at the scheduled instant and unpauses.
func TestScheduler_FutureUnpauseNoPreSeek(t *testing.T) {
	fp := newFakePlayer()
	fp.setPosition(990) // 9_900_000 ticks
	sess := fakeSession{enabledAt: time.Unix(0, 0), enabled: true}
	sched, _, _ := newTestScheduler(t, fp, sess)

	pos := protocol.Ticks(10_000_000)
	now := time.Now()
	cmd := protocol.Command{
		Kind:            protocol.Unpause,
		WhenServer:      now.Add(30 * time.Millisecond),
		EmittedAtServer: now,
		PositionTicks:   &pos,
		PlaylistItemID:  "A",
	}

	sched.Apply(cmd)

	// Before the timer fires, no pre-seek should have happened (delta is
	// only 10ms, below the 400ms threshold).
	assert.Equal(t, 0, fp.seekCount())
	assert.Equal(t, 0, fp.unpauseCallCount())

	require.Eventually(t, func() bool { return fp.unpauseCallCount() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, fp.seekCount())
}

// S3 — past unpause: the coordinator unpauses immediately, then seeks to
// the estimated server position on the next Unpause event.
func TestScheduler_PastUnpauseCatchesUp(t *testing.T) {
	fp := newFakePlayer()
	fp.setPosition(990)
	sess := fakeSession{enabledAt: time.Unix(0, 0), enabled: true}
	sched, loop, _ := newTestScheduler(t, fp, sess)

	pos := protocol.Ticks(10_000_000)
	whenServer := time.Now().Add(-500 * time.Millisecond)
	cmd := protocol.Command{
		Kind:            protocol.Unpause,
		WhenServer:      whenServer,
		EmittedAtServer: whenServer.Add(-time.Second),
		PositionTicks:   &pos,
		PlaylistItemID:  "A",
	}

	sched.Apply(cmd)

	require.Eventually(t, func() bool { return fp.unpauseCallCount() == 1 }, time.Second, 5*time.Millisecond)

	loop.Post(func() { fp.fire(player.UnpauseEvent) })

	require.Eventually(t, func() bool { return fp.seekCount() == 1 }, time.Second, 5*time.Millisecond)
	// Estimated server ticks should be at least the base position, since
	// elapsed time since WhenServer only ever adds forward.
	assert.GreaterOrEqual(t, int64(fp.seeks[0]), int64(pos))
}

// S4 — a duplicate Seek whose target the player already matches produces
// no extra seek, only a buffering-done report.
func TestScheduler_DuplicateSeekAlreadyMatchingReportsDone(t *testing.T) {
	fp := newFakePlayer()
	fp.playing = false
	target := protocol.Ticks(50_000_000)
	fp.setPosition(target.Millis())
	sess := fakeSession{enabledAt: time.Unix(0, 0), enabled: true}
	sched, loop, reporter := newTestScheduler(t, fp, sess)

	whenServer := time.Now().Add(-800 * time.Millisecond)
	cmd := protocol.Command{
		Kind:            protocol.Seek,
		WhenServer:      whenServer,
		EmittedAtServer: whenServer.Add(-time.Second),
		PositionTicks:   &target,
		PlaylistItemID:  "A",
	}
	sched.Apply(cmd)
	require.Eventually(t, func() bool { return fp.seekCount() > 0 }, time.Second, 5*time.Millisecond)

	// Let the seek's Ready wait resolve so the player settles back into
	// the paused, position-matching state the scenario assumes.
	loop.Post(func() { fp.fire(player.Ready) })
	require.Eventually(t, func() bool { return reporter.count() > 0 }, time.Second, 5*time.Millisecond)
	require.False(t, fp.IsPlaying())
	firstSeeks := fp.seekCount()

	// Identical command reasserted.
	dup := cmd
	sched.Apply(dup)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, firstSeeks, fp.seekCount(), "duplicate with matching position must not re-seek")
	assert.GreaterOrEqual(t, reporter.count(), 2)
}

// Dropping a command whose playlist item doesn't match the mirrored
// queue's current item must never touch the player.
func TestScheduler_Apply_WrongPlaylistItemIsDropped(t *testing.T) {
	fp := newFakePlayer()
	sess := fakeSession{enabledAt: time.Unix(0, 0), enabled: true}
	sched, _, _ := newTestScheduler(t, fp, sess)

	cmd := protocol.Command{
		Kind:            protocol.Pause,
		WhenServer:      time.Now(),
		EmittedAtServer: time.Now(),
		PlaylistItemID:  "wrong-item",
	}
	sched.Apply(cmd)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fp.pauseCalls)
}

func TestScheduler_Apply_SessionNotEnabledIsDropped(t *testing.T) {
	fp := newFakePlayer()
	sess := fakeSession{enabled: false}
	sched, _, _ := newTestScheduler(t, fp, sess)

	cmd := protocol.Command{Kind: protocol.Pause, WhenServer: time.Now(), PlaylistItemID: "A"}
	sched.Apply(cmd)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 0, fp.pauseCalls)
}
