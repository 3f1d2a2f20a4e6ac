package player

import "github.com/n0remac/syncplay/protocol"

// NoActive is the placeholder adapter used when no media is loaded:
// every local primitive is a no-op and IsPlaybackActive is always
// false, so C5/C6 simply do nothing until a real adapter is swapped in.
type NoActive struct{ baseDispatch }

func NewNoActive() *NoActive { return &NoActive{} }

func (n *NoActive) LocalUnpause()                       {}
func (n *NoActive) LocalPause()                         {}
func (n *NoActive) LocalSeek(ticks protocol.Ticks)       {}
func (n *NoActive) LocalStop()                          {}
func (n *NoActive) SetPlaybackRate(rate float64)        {}
func (n *NoActive) PlaybackRate() float64               { return 1.0 }
func (n *NoActive) HasPlaybackRate() bool               { return false }
func (n *NoActive) CurrentTimeMs() float64              { return 0 }
func (n *NoActive) IsPlaying() bool                     { return false }
func (n *NoActive) IsPlaybackActive() bool              { return false }
