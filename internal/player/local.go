package player

import (
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

// MediaPlayer is the external, out-of-scope primitive surface spec.md
// §1 names: "the underlying media player (play/pause/seek/rate
// primitives, events)". The application implements this over whatever
// real player object it owns; Local only ever calls through it.
type MediaPlayer interface {
	Play()
	Pause()
	Seek(ms float64)
	Stop()
	SetRate(rate float64)
	Rate() float64
	SupportsRate() bool
	CurrentTimeMs() float64
	IsPlaying() bool
}

// Local adapts a real MediaPlayer, translating its raw notifications
// (Notify*, called by the application as the underlying player fires
// its own events) into the coordinator's event vocabulary, including
// the debounced "waiting persisted ≥3s → Buffering" rule of spec.md
// §4.7.
type Local struct {
	baseDispatch
	player MediaPlayer
	loop   *eventloop.Loop

	waitingSince *eventloop.Timer
}

// NewLocal wraps player, debouncing buffering notifications on loop.
func NewLocal(loop *eventloop.Loop, player MediaPlayer) *Local {
	return &Local{player: player, loop: loop}
}

func (l *Local) LocalUnpause()                  { l.player.Play() }
func (l *Local) LocalPause()                    { l.player.Pause() }
func (l *Local) LocalSeek(ticks protocol.Ticks) { l.player.Seek(ticks.Millis()) }
func (l *Local) LocalStop()                     { l.player.Stop() }
func (l *Local) SetPlaybackRate(rate float64)   { l.player.SetRate(rate) }
func (l *Local) PlaybackRate() float64          { return l.player.Rate() }
func (l *Local) HasPlaybackRate() bool          { return l.player.SupportsRate() }
func (l *Local) CurrentTimeMs() float64         { return l.player.CurrentTimeMs() }
func (l *Local) IsPlaying() bool                { return l.player.IsPlaying() }
func (l *Local) IsPlaybackActive() bool         { return true }

// NotifyPlaybackStart is called by the application when the underlying
// player begins a new item.
func (l *Local) NotifyPlaybackStart() { l.clearWaiting(); l.emit(PlaybackStart) }

// NotifyPlaybackStop is called when the underlying player tears down
// the current item.
func (l *Local) NotifyPlaybackStop() { l.clearWaiting(); l.emit(PlaybackStop) }

// NotifyUnpause is called when the underlying player transitions to
// playing.
func (l *Local) NotifyUnpause() { l.emit(UnpauseEvent) }

// NotifyPause is called when the underlying player transitions to
// paused.
func (l *Local) NotifyPause() { l.clearWaiting(); l.emit(PauseEvent) }

// NotifyReady is called when the underlying player reports it can play
// through without further buffering.
func (l *Local) NotifyReady() { l.clearWaiting(); l.emit(Ready) }

// NotifyTimeUpdate forwards a position tick.
func (l *Local) NotifyTimeUpdate(nowLocal time.Time, positionMs float64) {
	l.emitTime(TimeUpdate{NowLocal: nowLocal, PositionMs: positionMs})
}

// NotifyWaiting is called as the underlying player's "waiting"/"playing"
// events fire; only a waiting state that persists for
// waitBufferingDebounce produces a Buffering event (spec.md §4.7).
func (l *Local) NotifyWaiting(waiting bool) {
	if !waiting {
		l.clearWaiting()
		return
	}
	if l.waitingSince != nil {
		return
	}
	l.waitingSince = l.loop.AfterFunc(waitBufferingDebounce, func() {
		l.waitingSince = nil
		l.emit(Buffering)
	})
}

func (l *Local) clearWaiting() {
	l.waitingSince.Stop()
	l.waitingSince = nil
}
