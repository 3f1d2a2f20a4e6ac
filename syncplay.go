// Package syncplay wires C1–C8 into C9, the session controller: the
// top-level state machine dispatching inbound server messages to the
// clock registry, the command scheduler, the drift corrector, and the
// queue mirror (spec.md §4.9).
package syncplay

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/n0remac/syncplay/internal/drift"
	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/internal/peer"
	"github.com/n0remac/syncplay/internal/player"
	"github.com/n0remac/syncplay/internal/queuemirror"
	"github.com/n0remac/syncplay/internal/schedule"
	"github.com/n0remac/syncplay/internal/timesync"
	"github.com/n0remac/syncplay/protocol"
	"github.com/n0remac/syncplay/settings"
)

// State is the session lifecycle of spec.md §4.9.
type State int

const (
	Disabled State = iota
	Enabling
	EnabledNotReady
	EnabledReady
)

func (s State) String() string {
	switch s {
	case Disabled:
		return "Disabled"
	case Enabling:
		return "Enabling"
	case EnabledNotReady:
		return "Enabled-NotReady"
	case EnabledReady:
		return "Enabled-Ready"
	default:
		return "Unknown"
	}
}

// Coordinator is C9, the package facade composing every other
// component. Construct one per group-playback session.
type Coordinator struct {
	loop      *eventloop.Loop
	transport protocol.ServerTransport
	player    player.Adapter
	settings  *settings.Settings

	Clock     *timesync.Registry
	Mesh      *peer.Mesh
	Scheduler *schedule.Scheduler
	Drift     *drift.Corrector
	Queue     *queuemirror.Mirror

	state           State
	enabledAtServer *time.Time
	queuedCommand   *protocol.Command

	// lastPlaybackCommand is the last command received from the server,
	// independent of CommandScheduler's own lastCommand: it is recorded
	// even when the command is only queued (session not ready yet) or
	// later dropped by the scheduler, while the scheduler's lastCommand
	// only ever holds the most recently armed command. Both are cleared
	// when the session is disabled.
	lastPlaybackCommand *protocol.Command

	buffering bool
}

// Dependencies bundles every external collaborator the coordinator
// needs to construct its components.
type Dependencies struct {
	Transport     protocol.ServerTransport
	Player        player.Adapter
	QueueOriginal queuemirror.QueueManager
	ItemLookup    queuemirror.ItemLookup
	PlaylistView  queuemirror.PlaylistView
	SettingsStore settings.Store
}

// New wires every component together and starts the loop goroutine and
// the server clock source. Call Stop to tear everything down.
func New(deps Dependencies) *Coordinator {
	loop := eventloop.New()
	go loop.Run()

	settingsInst := settings.New(deps.SettingsStore)
	mesh := peer.NewMesh(loop, deps.Transport)
	registry := timesync.NewRegistry(loop, timesync.ServerPinger{Transport: deps.Transport}, mesh)
	mesh.OnPeerJoined = registry.OnPeerJoined
	mesh.OnPeerLeft = registry.OnPeerLeft

	c := &Coordinator{
		loop:      loop,
		transport: deps.Transport,
		player:    deps.Player,
		settings:  settingsInst,
		Clock:     registry,
		Mesh:      mesh,
		state:     Disabled,
	}
	mesh.OnMessage = c.handlePeerMessage

	c.Queue = queuemirror.New(loop, deps.Player, deps.Transport, deps.ItemLookup, deps.PlaylistView, registry, deps.QueueOriginal)
	c.Scheduler = schedule.New(loop, deps.Player, registry, c.Queue, c, deps.Transport,
		settingsInst.MinDelaySkipToSyncMs, settingsInst.MaxDelaySpeedToSyncMs)
	c.Drift = drift.New(loop, deps.Player, registry, c.Scheduler, settingsInst, func() bool { return c.buffering })

	deps.Player.OnEvent(func(k player.EventKind) {
		loop.Post(func() { c.onPlayerEvent(k) })
	})

	registry.SetExtraOffsetMs(settingsInst.ExtraTimeOffsetMs())
	if device := settingsInst.TimeSyncDevice(); device != "server" {
		registry.SetActivePeer(device)
	}

	return c
}

func (c *Coordinator) onPlayerEvent(k player.EventKind) {
	switch k {
	case player.Buffering:
		c.buffering = true
	case player.Ready, player.PlaybackStart:
		c.buffering = false
	}
}

func (c *Coordinator) handlePeerMessage(peerID string, inner protocol.InnerFrame, receivedAt time.Time) {
	if inner.Type != protocol.InnerTimeSyncServerUpdate {
		log.Printf("[syncplay] %s: %v: %q", peerID, protocol.ErrUnknownMessageType, inner.Type)
		return
	}
	var payload protocol.TimeSyncServerUpdatePayload
	if err := json.Unmarshal(inner.Data, &payload); err != nil {
		log.Printf("[syncplay] %s: malformed time-sync-server-update: %v", peerID, err)
		return
	}
	c.Clock.OnPeerServerUpdate(peerID, payload)
}

// State returns the session's current lifecycle state.
func (c *Coordinator) State() State { return c.state }

// EnabledAtServer satisfies internal/schedule.Session.
func (c *Coordinator) EnabledAtServer() (time.Time, bool) {
	if c.enabledAtServer == nil {
		return time.Time{}, false
	}
	return *c.enabledAtServer, true
}

// LastPlaybackCommand returns the last command received from the
// server, whether or not the scheduler armed it; it is cleared when the
// session is disabled.
func (c *Coordinator) LastPlaybackCommand() *protocol.Command { return c.lastPlaybackCommand }

// HandleGroupUpdate is the coordinator's single entry point for inbound
// server messages, dispatched by type to the correct component (spec.md
// §4.9).
func (c *Coordinator) HandleGroupUpdate(ctx context.Context, update protocol.GroupUpdate) {
	switch update.Type {
	case protocol.UpdateGroupJoined:
		c.transitionEnabling(ctx)
	case protocol.UpdateNotInGroup, protocol.UpdateGroupLeft:
		c.transitionDisabled(ctx)
	case protocol.UpdatePlayQueue:
		if update.PlayQueue != nil {
			if err := c.Queue.ApplyUpdate(ctx, *update.PlayQueue); err != nil {
				log.Printf("[syncplay] applying queue update: %v", err)
			}
		}
	case protocol.UpdateWebRTC:
		if update.WebRTC != nil {
			c.Mesh.HandleSignal(*update.WebRTC)
		}
	case protocol.UpdatePlaybackCommand:
		if update.PlaybackCommand != nil {
			c.handlePlaybackCommand(*update.PlaybackCommand)
		}
	case protocol.UpdateStateUpdate, protocol.UpdateUserJoined, protocol.UpdateUserLeft,
		protocol.UpdateGroupDoesNotExist, protocol.UpdateCreateGroupDenied, protocol.UpdateJoinGroupDenied,
		protocol.UpdateLibraryAccessDenied, protocol.UpdateSyncPlayIsDisabled:
		// Application-facing notifications; the core has no state of its
		// own to update for these.
	default:
		log.Printf("[syncplay] %v: %q", protocol.ErrUnknownMessageType, update.Type)
	}
}

func (c *Coordinator) transitionEnabling(ctx context.Context) {
	now := c.Clock.LocalToRemote(time.Now())
	c.enabledAtServer = &now
	c.state = Enabling
	c.Queue.Enable()

	if err := c.Mesh.Enable(ctx); err != nil {
		log.Printf("[syncplay] announcing session: %v", err)
	}

	if c.Clock.HasServerSample() {
		c.becomeReady()
		return
	}
	c.state = EnabledNotReady
	c.Clock.OnceSynced(func() { c.becomeReady() })
}

func (c *Coordinator) becomeReady() {
	if c.state == Disabled {
		return // session left before the first sample landed
	}
	c.state = EnabledReady
	if c.queuedCommand != nil {
		cmd := *c.queuedCommand
		c.queuedCommand = nil
		c.Scheduler.Apply(cmd)
	}
}

func (c *Coordinator) transitionDisabled(ctx context.Context) {
	c.state = Disabled
	c.enabledAtServer = nil
	c.queuedCommand = nil
	c.lastPlaybackCommand = nil
	c.Scheduler.Reset()
	c.Queue.Disable()
	c.Clock.SetActiveServer()
	c.Mesh.Disable(ctx, true)
}

func (c *Coordinator) handlePlaybackCommand(payload protocol.PlaybackCommandPayload) {
	when, err := parseServerTime(payload.When)
	if err != nil {
		log.Printf("[syncplay] playback command: %v", err)
		return
	}
	emittedAt, err := parseServerTime(payload.EmittedAt)
	if err != nil {
		log.Printf("[syncplay] playback command: %v", err)
		return
	}
	cmd := protocol.Command{
		Kind:            payload.Command,
		WhenServer:      when,
		EmittedAtServer: emittedAt,
		PositionTicks:   payload.PositionTicks,
		PlaylistItemID:  payload.PlaylistItemID,
	}
	c.lastPlaybackCommand = &cmd

	if c.state != EnabledReady {
		c.queuedCommand = &cmd
		return
	}
	c.Scheduler.Apply(cmd)
}

// parseServerTime accepts either an RFC3339 timestamp or a unix-millis
// number, since PlaybackCommandPayload.When/EmittedAt are left as
// interface{} to stay encoding-agnostic across server implementations.
func parseServerTime(v interface{}) (time.Time, error) {
	switch t := v.(type) {
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", protocol.ErrMalformedFrame, err)
		}
		return parsed, nil
	case float64:
		return time.UnixMilli(int64(t)), nil
	case int64:
		return time.UnixMilli(t), nil
	case json.Number:
		ms, err := t.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", protocol.ErrMalformedFrame, err)
		}
		return time.UnixMilli(ms), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unrecognized server time encoding %T", protocol.ErrMalformedFrame, v)
	}
}

// Devices lists every known clock source, for a settings UI (spec.md
// §4.2).
func (c *Coordinator) Devices() []timesync.DeviceInfo { return c.Clock.Devices() }

// SetActiveDevice selects which clock source the registry treats as
// authoritative: "server", or a connected peer's id.
func (c *Coordinator) SetActiveDevice(id string) {
	if id == "" || id == "server" {
		c.Clock.SetActiveServer()
		_ = c.settings.SetTimeSyncDevice("server")
		return
	}
	c.Clock.SetActivePeer(id)
	_ = c.settings.SetTimeSyncDevice(id)
}

// SetExtraTimeOffsetMs persists and applies a user-configured additive
// offset on top of the selected clock source (spec.md §3).
func (c *Coordinator) SetExtraTimeOffsetMs(ms float64) error {
	c.Clock.SetExtraOffsetMs(ms)
	return c.settings.SetExtraTimeOffsetMs(ms)
}

// Stop tears down peer links and stops the event loop.
func (c *Coordinator) Stop() {
	c.Mesh.Disable(context.Background(), false)
	c.Clock.Stop()
	c.loop.Stop()
}
