package protocol

import "context"

// ServerTimeSample is what the opaque server RPC transport returns for
// a clock ping (spec.md §6: getServerTime).
type ServerTimeSample struct {
	RequestReceptionTime    int64 // unix millis, server clock
	ResponseTransmissionTime int64
}

// PlayRequest is the payload for the "play" server RPC.
type PlayRequest struct {
	PlayingQueue        []PlaylistItem
	PlayingItemPosition int
	StartPositionTicks  Ticks
}

// BufferingReport is the payload for the "buffering" server RPC, used
// both to report readiness after a seek/unpause and to report a
// buffering-done acknowledgement for a duplicate command.
type BufferingReport struct {
	When           int64
	PositionTicks  Ticks
	IsPlaying      bool
	PlaylistItemID string
	BufferingDone  bool
}

// QueueMode selects how newly queued items are inserted server-side.
type QueueMode string

const (
	QueueModeDefault QueueMode = "default"
	QueueModeNext    QueueMode = "next"
)

// ServerTransport is the opaque HTTP/event transport to the server: the
// core issues typed calls and never sees the wire encoding. Implementing
// this contract (HTTP long-poll, WebSocket, SignalR-equivalent, ...) is
// entirely an application concern (spec.md §1's "out of scope" list).
type ServerTransport interface {
	GetServerTime(ctx context.Context) (ServerTimeSample, error)
	Ping(ctx context.Context, ms float64) error

	Follow(ctx context.Context) error
	Play(ctx context.Context, req PlayRequest) error
	Pause(ctx context.Context) error
	Unpause(ctx context.Context) error
	Seek(ctx context.Context, positionTicks Ticks) error
	Buffering(ctx context.Context, report BufferingReport) error

	SetPlaylistItem(ctx context.Context, playlistItemID string) error
	RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error
	MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error
	Queue(ctx context.Context, itemIDs []string, mode QueueMode) error
	NextTrack(ctx context.Context, playlistItemID string) error
	PreviousTrack(ctx context.Context, playlistItemID string) error
	SetRepeatMode(ctx context.Context, mode RepeatMode) error
	SetShuffleMode(ctx context.Context, mode ShuffleMode) error
	SetIgnoreWait(ctx context.Context, ignoreWait bool) error

	// WebRTC relays a signaling artifact (offer/answer/ICE candidate, or
	// a new-session/session-leaving announcement) to another client, or
	// to every other client in the group when to == Broadcast.
	WebRTC(ctx context.Context, to string, signal WebRTCSignal) error
}

// Broadcast is the "every client" address for PeerMesh.Send and for
// WebRTC signaling relays.
const Broadcast = "*"
