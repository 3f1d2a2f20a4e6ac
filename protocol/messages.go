package protocol

import "encoding/json"

// GroupInfo is an opaque, server-defined blob describing group
// membership/visibility. The core never interprets it beyond handing it
// back to the application; authentication and membership policy are a
// server concern (spec.md §1).
type GroupInfo = json.RawMessage

// GroupUpdateType enumerates the server → client message variants of
// spec.md §6.
type GroupUpdateType string

const (
	UpdatePlayQueue           GroupUpdateType = "PlayQueue"
	UpdateUserJoined          GroupUpdateType = "UserJoined"
	UpdateUserLeft            GroupUpdateType = "UserLeft"
	UpdateGroupJoined         GroupUpdateType = "GroupJoined"
	UpdateNotInGroup          GroupUpdateType = "NotInGroup"
	UpdateGroupLeft           GroupUpdateType = "GroupLeft"
	UpdateGroupUpdate         GroupUpdateType = "GroupUpdate"
	UpdateStateUpdate         GroupUpdateType = "StateUpdate"
	UpdateGroupDoesNotExist   GroupUpdateType = "GroupDoesNotExist"
	UpdateCreateGroupDenied   GroupUpdateType = "CreateGroupDenied"
	UpdateJoinGroupDenied     GroupUpdateType = "JoinGroupDenied"
	UpdateLibraryAccessDenied GroupUpdateType = "LibraryAccessDenied"
	UpdateWebRTC              GroupUpdateType = "WebRTC"
	UpdateSyncPlayIsDisabled  GroupUpdateType = "SyncPlayIsDisabled"
	UpdatePlaybackCommand     GroupUpdateType = "PlaybackCommand"
)

// SessionDescriptionPayload is a transport-agnostic SDP offer/answer —
// kept free of any concrete WebRTC library type so that `protocol` has
// no dependency on `internal/peer`.
type SessionDescriptionPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is a transport-agnostic ICE candidate.
type ICECandidatePayload struct {
	Candidate     string  `json:"candidate"`
	SDPMid        *string `json:"sdpMid,omitempty"`
	SDPMLineIndex *uint16 `json:"sdpMLineIndex,omitempty"`
}

// WebRTCSignal is the signaling payload relayed opaquely by the server
// between two clients (spec.md §4.3/§4.4).
type WebRTCSignal struct {
	From           string
	NewSession     bool
	SessionLeaving bool
	Offer          *SessionDescriptionPayload
	Answer         *SessionDescriptionPayload
	ICECandidate   *ICECandidatePayload
}

// StateUpdatePayload carries the server's {State, Reason} pair.
type StateUpdatePayload struct {
	State  string
	Reason string
}

// PlaybackCommandPayload is the wire shape of an authoritative command
// before it is converted into a protocol.Command by the scheduler.
type PlaybackCommandPayload struct {
	Command        CommandKind
	When           interface{} // RFC3339 timestamp or server-native encoding
	EmittedAt      interface{}
	PositionTicks  *Ticks
	PlaylistItemID string
}

// GroupUpdate is the tagged union of every server → client message. Only
// the field matching Type is meaningful; this mirrors the teacher's flat
// `Message{Type, Offer, Answer, Candidate omitempty}` shape, generalized
// to every variant this spec needs and given named fields instead of
// `interface{}`.
type GroupUpdate struct {
	Type            GroupUpdateType
	PlayQueue       *QueueView
	GroupInfo       GroupInfo
	StateUpdate     *StateUpdatePayload
	WebRTC          *WebRTCSignal
	PlaybackCommand *PlaybackCommandPayload
}

// Internal/external data-channel frame envelope (spec.md §6): a JSON
// object {type: "internal"|"external", data: {type, data}}.
type ChannelKind string

const (
	ChannelInternal ChannelKind = "internal"
	ChannelExternal ChannelKind = "external"
)

// Frame is the outer envelope exchanged over a PeerLink's data channel.
type Frame struct {
	Type ChannelKind     `json:"type"`
	Data InnerFrame      `json:"data"`
}

// InnerFrame is the {type, data} pair nested inside a Frame. Data is
// kept raw so each recognized inner type can unmarshal it itself,
// matching the "define tagged-variant types, reject unknown variants"
// redesign note in spec.md §9.
type InnerFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Recognized inner frame types.
const (
	InnerPingRequest          = "ping-request"
	InnerPingResponse         = "ping-response"
	InnerTimeSyncServerUpdate = "time-sync-server-update"
)

// PingRequestPayload is the internal "ping-request" inner payload.
type PingRequestPayload struct {
	RequestSent int64 `json:"requestSent"` // unix millis, local clock of the sender
}

// PingResponsePayload is the internal "ping-response" inner payload.
type PingResponsePayload struct {
	RequestSent     int64 `json:"requestSent"`
	RequestReceived int64 `json:"requestReceived"`
	ResponseSent    int64 `json:"responseSent"`
}

// TimeSyncServerUpdatePayload is the external "time-sync-server-update"
// broadcast: a peer's own view of its offset/ping to the server, so
// other peers can derive a transitive offset via this peer.
type TimeSyncServerUpdatePayload struct {
	TimeOffsetMs float64 `json:"timeOffset"`
	PingMs       float64 `json:"ping"`
}
