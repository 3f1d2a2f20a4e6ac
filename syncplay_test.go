package syncplay

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/protocol"
	"github.com/n0remac/syncplay/settings"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		Disabled:        "Disabled",
		Enabling:        "Enabling",
		EnabledNotReady: "Enabled-NotReady",
		EnabledReady:    "Enabled-Ready",
		State(99):       "Unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}

func TestParseServerTime_RFC3339(t *testing.T) {
	ts, err := parseServerTime("2026-01-01T00:00:00Z")
	require.NoError(t, err)
	assert.True(t, ts.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestParseServerTime_UnixMillisFloat(t *testing.T) {
	ts, err := parseServerTime(float64(1000))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1000), ts)
}

func TestParseServerTime_JSONNumber(t *testing.T) {
	ts, err := parseServerTime(json.Number("1500"))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1500), ts)
}

func TestParseServerTime_Unrecognized(t *testing.T) {
	_, err := parseServerTime(struct{}{})
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

func TestParseServerTime_MalformedString(t *testing.T) {
	_, err := parseServerTime("not-a-timestamp")
	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}

// --- fakes driving the Coordinator end to end ---

// fakeTransport is a minimal protocol.ServerTransport: every RPC is a
// no-op except GetServerTime, whose response (and timing) the test
// controls via gate.
type fakeTransport struct {
	gate chan struct{} // closed to let a blocked GetServerTime proceed; nil means never block
}

func (f *fakeTransport) GetServerTime(ctx context.Context) (protocol.ServerTimeSample, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return protocol.ServerTimeSample{}, ctx.Err()
		}
	}
	now := time.Now().UnixMilli()
	return protocol.ServerTimeSample{RequestReceptionTime: now, ResponseTransmissionTime: now}, nil
}
func (f *fakeTransport) Ping(ctx context.Context, ms float64) error { return nil }
func (f *fakeTransport) Follow(ctx context.Context) error           { return nil }
func (f *fakeTransport) Play(ctx context.Context, req protocol.PlayRequest) error { return nil }
func (f *fakeTransport) Pause(ctx context.Context) error                         { return nil }
func (f *fakeTransport) Unpause(ctx context.Context) error                       { return nil }
func (f *fakeTransport) Seek(ctx context.Context, positionTicks protocol.Ticks) error { return nil }
func (f *fakeTransport) Buffering(ctx context.Context, report protocol.BufferingReport) error {
	return nil
}
func (f *fakeTransport) SetPlaylistItem(ctx context.Context, playlistItemID string) error { return nil }
func (f *fakeTransport) RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error {
	return nil
}
func (f *fakeTransport) MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error {
	return nil
}
func (f *fakeTransport) Queue(ctx context.Context, itemIDs []string, mode protocol.QueueMode) error {
	return nil
}
func (f *fakeTransport) QueueNext(ctx context.Context, itemIDs []string) error { return nil }
func (f *fakeTransport) NextTrack(ctx context.Context, playlistItemID string) error { return nil }
func (f *fakeTransport) PreviousTrack(ctx context.Context, playlistItemID string) error {
	return nil
}
func (f *fakeTransport) SetRepeatMode(ctx context.Context, mode protocol.RepeatMode) error {
	return nil
}
func (f *fakeTransport) SetShuffleMode(ctx context.Context, mode protocol.ShuffleMode) error {
	return nil
}
func (f *fakeTransport) SetIgnoreWait(ctx context.Context, ignoreWait bool) error { return nil }
func (f *fakeTransport) WebRTC(ctx context.Context, to string, signal protocol.WebRTCSignal) error {
	return nil
}

var _ protocol.ServerTransport = (*fakeTransport)(nil)

// fakePlayer is a minimal player.Adapter recording whether LocalStop
// was called, guarded by a mutex since the scheduler drives it from the
// coordinator's event-loop goroutine while the test reads it from its
// own.
type fakePlayer struct {
	mu        sync.Mutex
	stopped   bool
	stopCalls int
}

func (p *fakePlayer) LocalUnpause()                    {}
func (p *fakePlayer) LocalPause()                      {}
func (p *fakePlayer) LocalSeek(ticks protocol.Ticks)   {}
func (p *fakePlayer) LocalStop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.stopCalls++
}
func (p *fakePlayer) SetPlaybackRate(rate float64)  {}
func (p *fakePlayer) PlaybackRate() float64         { return 1 }
func (p *fakePlayer) HasPlaybackRate() bool         { return false }
func (p *fakePlayer) CurrentTimeMs() float64        { return 0 }
func (p *fakePlayer) IsPlaying() bool               { return false }
func (p *fakePlayer) IsPlaybackActive() bool        { return false }
func (p *fakePlayer) OnEvent(fn func(player.EventKind))       {}
func (p *fakePlayer) OnTimeUpdate(fn func(player.TimeUpdate)) {}

func (p *fakePlayer) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

func (p *fakePlayer) StopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

var _ player.Adapter = (*fakePlayer)(nil)

type noopQueueManager struct{}

func (noopQueueManager) Play(ctx context.Context, itemIDs []string, startIndex int, positionTicks protocol.Ticks) error {
	return nil
}
func (noopQueueManager) SetCurrentPlaylistItem(ctx context.Context, playlistItemID string) error {
	return nil
}
func (noopQueueManager) RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error {
	return nil
}
func (noopQueueManager) MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error {
	return nil
}
func (noopQueueManager) Queue(ctx context.Context, itemIDs []string, mode protocol.QueueMode) error {
	return nil
}
func (noopQueueManager) QueueNext(ctx context.Context, itemIDs []string) error { return nil }
func (noopQueueManager) NextTrack(ctx context.Context) error                  { return nil }
func (noopQueueManager) PreviousTrack(ctx context.Context) error              { return nil }
func (noopQueueManager) SetRepeatMode(ctx context.Context, mode protocol.RepeatMode) error {
	return nil
}
func (noopQueueManager) SetShuffleMode(ctx context.Context, mode protocol.ShuffleMode) error {
	return nil
}
func (noopQueueManager) ToggleShuffleMode(ctx context.Context) error { return nil }

type noopItemLookup struct{}

func (noopItemLookup) ResolveItems(ctx context.Context, itemIDs []string) error { return nil }

type noopPlaylistView struct{}

func (noopPlaylistView) SetPlaylist(items []protocol.PlaylistItem, currentIndex int) {}
func (noopPlaylistView) SetCurrentPlaylistItem(playlistItemID string)                {}
func (noopPlaylistView) SetRepeatMode(mode protocol.RepeatMode)                      {}
func (noopPlaylistView) SetShuffleMode(mode protocol.ShuffleMode)                    {}

// newTestCoordinator wires a Coordinator against the fakes above.
func newTestCoordinator(transport *fakeTransport, p *fakePlayer) *Coordinator {
	return New(Dependencies{
		Transport:     transport,
		Player:        p,
		QueueOriginal: noopQueueManager{},
		ItemLookup:    noopItemLookup{},
		PlaylistView:  noopPlaylistView{},
		SettingsStore: settings.NewMemStore(),
	})
}

// stopCommandUpdate builds a PlaybackCommand GroupUpdate that, once
// applied, stops the player immediately: When is set in the past so the
// scheduler treats it as already due (spec.md §4.5).
func stopCommandUpdate() protocol.GroupUpdate {
	nowMs := float64(time.Now().UnixMilli())
	return protocol.GroupUpdate{
		Type: protocol.UpdatePlaybackCommand,
		PlaybackCommand: &protocol.PlaybackCommandPayload{
			Command:   protocol.Stop,
			When:      nowMs - 1000,
			EmittedAt: nowMs,
		},
	}
}

func TestCoordinator_GroupJoinedBecomesReadyAndDispatchesCommand(t *testing.T) {
	transport := &fakeTransport{} // GetServerTime never blocks
	p := &fakePlayer{}
	c := newTestCoordinator(transport, p)
	defer c.Stop()

	assert.Equal(t, Disabled, c.State())

	c.HandleGroupUpdate(context.Background(), protocol.GroupUpdate{Type: protocol.UpdateGroupJoined})
	require.Eventually(t, func() bool { return c.State() == EnabledReady }, time.Second, time.Millisecond,
		"coordinator never became ready once the server clock sample landed")

	c.HandleGroupUpdate(context.Background(), stopCommandUpdate())
	require.Eventually(t, p.Stopped, time.Second, time.Millisecond,
		"Stop command applied while ready never reached the player")
}

func TestCoordinator_BuffersCommandUntilReadyThenFlushesOnce(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	p := &fakePlayer{}
	c := newTestCoordinator(transport, p)
	var release sync.Once
	defer func() { release.Do(func() { close(transport.gate) }) }()
	defer c.Stop()

	c.HandleGroupUpdate(context.Background(), protocol.GroupUpdate{Type: protocol.UpdateGroupJoined})
	// The server source's first ping is blocked on the gate, so the
	// coordinator must be waiting for its first sync, not ready yet.
	require.Equal(t, EnabledNotReady, c.State())

	c.HandleGroupUpdate(context.Background(), stopCommandUpdate())
	require.NotNil(t, c.LastPlaybackCommand(), "command should be recorded even while not ready")
	require.Equal(t, EnabledNotReady, c.State())
	require.False(t, p.Stopped(), "queued command must not be applied before the session is ready")

	release.Do(func() { close(transport.gate) })
	require.Eventually(t, func() bool { return c.State() == EnabledReady }, time.Second, time.Millisecond,
		"coordinator never became ready after its gated clock sample landed")
	require.Eventually(t, p.Stopped, time.Second, time.Millisecond,
		"queued command was never flushed once the session became ready")
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, p.StopCalls(), "queued command must be applied exactly once")
}

func TestCoordinator_GroupLeftBeforeSyncDropsQueuedCommand(t *testing.T) {
	transport := &fakeTransport{gate: make(chan struct{})}
	p := &fakePlayer{}
	c := newTestCoordinator(transport, p)
	var release sync.Once
	defer func() { release.Do(func() { close(transport.gate) }) }()
	defer c.Stop()

	c.HandleGroupUpdate(context.Background(), protocol.GroupUpdate{Type: protocol.UpdateGroupJoined})
	require.Equal(t, EnabledNotReady, c.State())

	c.HandleGroupUpdate(context.Background(), stopCommandUpdate())
	require.NotNil(t, c.LastPlaybackCommand())

	c.HandleGroupUpdate(context.Background(), protocol.GroupUpdate{Type: protocol.UpdateGroupLeft})
	require.Equal(t, Disabled, c.State())
	require.Nil(t, c.LastPlaybackCommand())

	// Release the gated sample after the group was already left; becomeReady
	// must see state == Disabled and decline to apply the stale queued command.
	release.Do(func() { close(transport.gate) })
	time.Sleep(50 * time.Millisecond)
	assert.False(t, p.Stopped(), "a command queued before leaving must never apply after GroupLeft")
	assert.Equal(t, Disabled, c.State())
}
