// Package queuemirror implements C8: it intercepts the application's
// queue actions and redirects them to typed server requests while
// enabled, and applies the server's authoritative queue snapshots back
// onto the local playlist view (spec.md §4.8).
package queuemirror

import (
	"context"
	"time"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/protocol"
)

// readyTimeout is the wait for the player's "ready" event after
// start_playback seeks into a live group (spec.md §5's 30s default for
// command-path events).
const readyTimeout = 30 * time.Second

// QueueManager is the application-side surface for user queue actions.
// Mirror implements this interface itself, so the application can swap
// its real manager for the mirror wholesale on enable and back on
// disable, or simply always call through the mirror as this package
// does internally.
type QueueManager interface {
	Play(ctx context.Context, itemIDs []string, startIndex int, positionTicks protocol.Ticks) error
	SetCurrentPlaylistItem(ctx context.Context, playlistItemID string) error
	RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error
	MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error
	Queue(ctx context.Context, itemIDs []string, mode protocol.QueueMode) error
	QueueNext(ctx context.Context, itemIDs []string) error
	NextTrack(ctx context.Context) error
	PreviousTrack(ctx context.Context) error
	SetRepeatMode(ctx context.Context, mode protocol.RepeatMode) error
	SetShuffleMode(ctx context.Context, mode protocol.ShuffleMode) error
	ToggleShuffleMode(ctx context.Context) error
}

// ItemLookup resolves bare item ids into whatever metadata the
// application's own item cache needs, an external collaborator per
// spec.md §1. Mirror never inspects the result; resolving is purely for
// the application's benefit before a server-provided playlist_item_id
// is associated with each item.
type ItemLookup interface {
	ResolveItems(ctx context.Context, itemIDs []string) error
}

// PlaylistView is the application's local playlist UI/state, nudged
// whenever a server update changes ordering or current-item without the
// stronger NewPlaylist/SetCurrentItem semantics.
type PlaylistView interface {
	SetPlaylist(items []protocol.PlaylistItem, currentIndex int)
	SetCurrentPlaylistItem(playlistItemID string)
	SetRepeatMode(mode protocol.RepeatMode)
	SetShuffleMode(mode protocol.ShuffleMode)
}

// Clock is the subset of internal/timesync.Registry needed to estimate
// where group playback is right now.
type Clock interface {
	LocalToRemote(t time.Time) time.Time
}

// Mirror is C8. It satisfies QueueManager itself: while enabled, every
// call is redirected to a typed protocol.ServerTransport request;
// disabled, calls pass through to the wrapped original.
type Mirror struct {
	loop      *eventloop.Loop
	player    player.Adapter
	transport protocol.ServerTransport
	lookup    ItemLookup
	view      PlaylistView
	clock     Clock
	original  QueueManager

	enabled   bool
	following bool
	current   protocol.QueueView

	readyTimer   *eventloop.Timer
	readyPending bool
	onReady      func()
}

// New constructs a Mirror wrapping original, the application's
// unmirrored queue manager.
func New(loop *eventloop.Loop, p player.Adapter, transport protocol.ServerTransport, lookup ItemLookup, view PlaylistView, clock Clock, original QueueManager) *Mirror {
	m := &Mirror{loop: loop, player: p, transport: transport, lookup: lookup, view: view, clock: clock, original: original}
	p.OnEvent(func(k player.EventKind) {
		loop.Post(func() { m.handlePlayerEvent(k) })
	})
	return m
}

// Enable starts redirecting user actions to the server.
func (m *Mirror) Enable() { m.enabled = true }

// Disable stops redirecting; subsequent calls pass through to the
// original queue manager, and any in-flight start_playback wait is
// abandoned.
func (m *Mirror) Disable() {
	m.enabled = false
	m.following = false
	m.readyTimer.Stop()
	m.readyTimer = nil
	m.readyPending = false
	m.current = protocol.QueueView{}
}

// CurrentPlaylistItemID satisfies internal/schedule.Queue.
func (m *Mirror) CurrentPlaylistItemID() string { return m.current.CurrentPlaylistItemID() }

// Current returns the last-applied queue snapshot.
func (m *Mirror) Current() protocol.QueueView { return m.current }

// ApplyUpdate applies a server-authoritative queue snapshot. Stale
// updates (not newer than the current snapshot) are rejected per
// spec.md §4.8.
func (m *Mirror) ApplyUpdate(ctx context.Context, update protocol.QueueView) error {
	if !update.LastUpdate.After(m.current.LastUpdate) {
		return protocol.ErrStaleQueueUpdate
	}

	itemIDs := make([]string, len(update.Items))
	for i, item := range update.Items {
		itemIDs[i] = item.ItemID
	}
	if m.lookup != nil {
		if err := m.lookup.ResolveItems(ctx, itemIDs); err != nil {
			return err
		}
	}

	prevCurrent := m.current.CurrentPlaylistItemID()
	m.current = update

	switch update.Reason {
	case protocol.ReasonNewPlaylist:
		if !m.following {
			if err := m.transport.Follow(ctx); err != nil {
				return err
			}
			m.following = true
		}
		m.startPlayback(update)
	case protocol.ReasonSetCurrentItem, protocol.ReasonNextTrack, protocol.ReasonPreviousTrack:
		if m.view != nil {
			m.view.SetCurrentPlaylistItem(update.CurrentPlaylistItemID())
		}
	case protocol.ReasonRemoveItems:
		if m.view != nil {
			m.view.SetPlaylist(update.Items, update.CurrentIndex)
			if prevCurrent != update.CurrentPlaylistItemID() {
				m.view.SetCurrentPlaylistItem(update.CurrentPlaylistItemID())
			}
		}
	case protocol.ReasonMoveItem, protocol.ReasonQueue, protocol.ReasonQueueNext:
		if m.view != nil {
			m.view.SetPlaylist(update.Items, update.CurrentIndex)
		}
	case protocol.ReasonRepeatMode:
		if m.view != nil {
			m.view.SetRepeatMode(update.RepeatMode)
		}
	case protocol.ReasonShuffleMode:
		if m.view != nil {
			m.view.SetShuffleMode(update.ShuffleMode)
		}
	}
	return nil
}

// startPlayback estimates where the group is now and begins local
// playback there, scheduling a "buffering done" report once the media
// has started (spec.md §4.8).
func (m *Mirror) startPlayback(update protocol.QueueView) {
	serverNow := m.clock.LocalToRemote(time.Now())
	ticks := update.EstimateCurrentTicks(serverNow)

	m.player.LocalSeek(ticks)
	m.player.LocalUnpause()

	m.readyPending = true
	m.onReady = func() {
		m.player.LocalPause()
		go m.reportBufferingDone(update.CurrentPlaylistItemID(), ticks)
	}
	m.readyTimer.Stop()
	m.readyTimer = m.loop.AfterFunc(readyTimeout, func() {
		if !m.readyPending {
			return
		}
		m.readyPending = false
		m.onReady = nil
	})
}

func (m *Mirror) reportBufferingDone(playlistItemID string, ticks protocol.Ticks) {
	report := protocol.BufferingReport{
		When:           m.clock.LocalToRemote(time.Now()).UnixMilli(),
		PositionTicks:  ticks,
		IsPlaying:      false,
		PlaylistItemID: playlistItemID,
		BufferingDone:  true,
	}
	_ = m.transport.Buffering(context.Background(), report)
}

func (m *Mirror) handlePlayerEvent(k player.EventKind) {
	if k != player.Ready || !m.readyPending {
		return
	}
	m.readyPending = false
	m.readyTimer.Stop()
	if fn := m.onReady; fn != nil {
		m.onReady = nil
		fn()
	}
}

// --- QueueManager: intercepted user actions ---

func (m *Mirror) Play(ctx context.Context, itemIDs []string, startIndex int, positionTicks protocol.Ticks) error {
	if !m.enabled {
		return m.original.Play(ctx, itemIDs, startIndex, positionTicks)
	}
	items := make([]protocol.PlaylistItem, len(itemIDs))
	for i, id := range itemIDs {
		items[i] = protocol.PlaylistItem{ItemID: id}
	}
	return m.transport.Play(ctx, protocol.PlayRequest{PlayingQueue: items, PlayingItemPosition: startIndex, StartPositionTicks: positionTicks})
}

func (m *Mirror) SetCurrentPlaylistItem(ctx context.Context, playlistItemID string) error {
	if !m.enabled {
		return m.original.SetCurrentPlaylistItem(ctx, playlistItemID)
	}
	return m.transport.SetPlaylistItem(ctx, playlistItemID)
}

func (m *Mirror) RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error {
	if !m.enabled {
		return m.original.RemoveFromPlaylist(ctx, playlistItemIDs)
	}
	return m.transport.RemoveFromPlaylist(ctx, playlistItemIDs)
}

func (m *Mirror) MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error {
	if !m.enabled {
		return m.original.MovePlaylistItem(ctx, playlistItemID, newIndex)
	}
	return m.transport.MovePlaylistItem(ctx, playlistItemID, newIndex)
}

func (m *Mirror) Queue(ctx context.Context, itemIDs []string, mode protocol.QueueMode) error {
	if !m.enabled {
		return m.original.Queue(ctx, itemIDs, mode)
	}
	return m.transport.Queue(ctx, itemIDs, mode)
}

func (m *Mirror) QueueNext(ctx context.Context, itemIDs []string) error {
	if !m.enabled {
		return m.original.QueueNext(ctx, itemIDs)
	}
	return m.transport.Queue(ctx, itemIDs, protocol.QueueModeNext)
}

func (m *Mirror) NextTrack(ctx context.Context) error {
	if !m.enabled {
		return m.original.NextTrack(ctx)
	}
	return m.transport.NextTrack(ctx, m.current.CurrentPlaylistItemID())
}

func (m *Mirror) PreviousTrack(ctx context.Context) error {
	if !m.enabled {
		return m.original.PreviousTrack(ctx)
	}
	return m.transport.PreviousTrack(ctx, m.current.CurrentPlaylistItemID())
}

func (m *Mirror) SetRepeatMode(ctx context.Context, mode protocol.RepeatMode) error {
	if !m.enabled {
		return m.original.SetRepeatMode(ctx, mode)
	}
	return m.transport.SetRepeatMode(ctx, mode)
}

func (m *Mirror) SetShuffleMode(ctx context.Context, mode protocol.ShuffleMode) error {
	if !m.enabled {
		return m.original.SetShuffleMode(ctx, mode)
	}
	return m.transport.SetShuffleMode(ctx, mode)
}

func (m *Mirror) ToggleShuffleMode(ctx context.Context) error {
	if !m.enabled {
		return m.original.ToggleShuffleMode(ctx)
	}
	next := protocol.ShuffleOn
	if m.current.ShuffleMode == protocol.ShuffleOn {
		next = protocol.ShuffleOff
	}
	return m.transport.SetShuffleMode(ctx, next)
}
