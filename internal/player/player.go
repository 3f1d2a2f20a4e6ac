// Package player implements C7, the uniform contract over "no media
// loaded", "a real local player", and "a remote-controlled player"
// (spec.md §4.7). The underlying media player's play/pause/seek/rate
// primitives and raw events are an external collaborator (spec.md §1);
// this package only adapts them to the coordinator's event vocabulary.
package player

import (
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

// EventKind is one of the adapter's emitted event names.
type EventKind int

const (
	PlaybackStart EventKind = iota
	PlaybackStop
	UnpauseEvent
	PauseEvent
	Ready
	Buffering
)

// TimeUpdate is delivered on every player tick.
type TimeUpdate struct {
	NowLocal   time.Time
	PositionMs float64
}

// Adapter is the uniform contract C5/C6 drive playback through.
type Adapter interface {
	LocalUnpause()
	LocalPause()
	LocalSeek(ticks protocol.Ticks)
	LocalStop()
	SetPlaybackRate(rate float64)
	PlaybackRate() float64
	HasPlaybackRate() bool

	CurrentTimeMs() float64
	IsPlaying() bool
	IsPlaybackActive() bool

	OnEvent(fn func(EventKind))
	OnTimeUpdate(fn func(TimeUpdate))
}

// waitBufferingDebounce is how long a "waiting" signal must persist
// before the adapter emits Buffering (spec.md §4.7).
const waitBufferingDebounce = 3 * time.Second

// baseDispatch is the shared event/time-update fan-out every variant
// embeds, so each variant only has to call emit/emitTime.
type baseDispatch struct {
	eventListeners []func(EventKind)
	timeListeners  []func(TimeUpdate)
}

func (b *baseDispatch) OnEvent(fn func(EventKind))          { b.eventListeners = append(b.eventListeners, fn) }
func (b *baseDispatch) OnTimeUpdate(fn func(TimeUpdate))     { b.timeListeners = append(b.timeListeners, fn) }
func (b *baseDispatch) emit(k EventKind) {
	for _, fn := range b.eventListeners {
		fn(k)
	}
}
func (b *baseDispatch) emitTime(u TimeUpdate) {
	for _, fn := range b.timeListeners {
		fn(u)
	}
}
