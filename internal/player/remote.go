package player

import "github.com/n0remac/syncplay/protocol"

// Remote is the adapter used when media renders on another device in
// the group (e.g. a cast receiver): every local primitive is a no-op
// because playback state is driven entirely by that remote device,
// which reports its state back in through UpdateState.
type Remote struct {
	baseDispatch
	playing    bool
	positionMs float64
}

func NewRemote() *Remote { return &Remote{} }

func (r *Remote) LocalUnpause()                 {}
func (r *Remote) LocalPause()                   {}
func (r *Remote) LocalSeek(ticks protocol.Ticks) {}
func (r *Remote) LocalStop()                    {}
func (r *Remote) SetPlaybackRate(rate float64)  {}
func (r *Remote) PlaybackRate() float64         { return 1.0 }
func (r *Remote) HasPlaybackRate() bool         { return false }

func (r *Remote) CurrentTimeMs() float64 { return r.positionMs }
func (r *Remote) IsPlaying() bool        { return r.playing }
func (r *Remote) IsPlaybackActive() bool { return true }

// UpdateState is how the application feeds in status reported by the
// remote device; it is translated into the same event vocabulary a
// local player would produce.
func (r *Remote) UpdateState(playing bool, positionMs float64, now TimeUpdate) {
	wasPlaying := r.playing
	r.playing, r.positionMs = playing, positionMs
	if playing && !wasPlaying {
		r.emit(UnpauseEvent)
	} else if !playing && wasPlaying {
		r.emit(PauseEvent)
	}
	r.emitTime(now)
}
