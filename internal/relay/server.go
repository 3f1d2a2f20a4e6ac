package relay

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/n0remac/syncplay/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server implements the demo's server-side half of spec.md §6's
// external interfaces: getServerTime/ping, WebRTC signaling relay, and
// the group-join announcement that drives C9's state machine. No
// announcement is sent when a client disconnects.
// It never touches playback semantics — the core owns all of that.
type Server struct {
	hub *Hub
}

// NewServer builds a Server wired to hub's envelope dispatch.
func NewServer(hub *Hub) *Server {
	s := &Server{hub: hub}
	hub.OnEnvelope = s.handle
	return s
}

// Handler returns the HTTP handler for the signaling websocket
// endpoint: ws://host/ws?group=<id>&client=<id>.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group := r.URL.Query().Get("group")
		clientID := r.URL.Query().Get("client")
		if group == "" || clientID == "" {
			http.Error(w, "group and client query params required", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("[relay] upgrade: %v", err)
			return
		}
		c := &Client{ID: clientID, Group: group, Conn: conn, Send: make(chan []byte, 64), Hub: s.hub}
		s.announceJoin(c)
		s.hub.Register(c)
	}
}

func (s *Server) announceJoin(c *Client) {
	s.sendUpdateTo(c, protocol.GroupUpdate{Type: protocol.UpdateGroupJoined})
	s.broadcastUpdate(c.Group, c.ID, protocol.GroupUpdate{Type: protocol.UpdateUserJoined})
}

func (s *Server) handle(c *Client, env Envelope) {
	switch env.Type {
	case "getServerTime":
		now := time.Now().UnixMilli()
		s.reply(c, env.ReqID, protocol.ServerTimeSample{RequestReceptionTime: now, ResponseTransmissionTime: time.Now().UnixMilli()})
	case "ping":
		s.reply(c, env.ReqID, struct{}{})
	case "webrtc":
		var signal protocol.WebRTCSignal
		if err := json.Unmarshal(env.Data, &signal); err != nil {
			log.Printf("[relay] %s: malformed webrtc envelope: %v", c.ID, err)
			return
		}
		signal.From = c.ID
		to := env.To
		if to == protocol.Broadcast {
			to = "" // the hub fans out to the whole group for an empty recipient
		}
		s.forwardUpdate(c, to, protocol.GroupUpdate{Type: protocol.UpdateWebRTC, WebRTC: &signal})
	case "command":
		var payload protocol.PlaybackCommandPayload
		if err := json.Unmarshal(env.Data, &payload); err != nil {
			log.Printf("[relay] %s: malformed command envelope: %v", c.ID, err)
			return
		}
		s.broadcastUpdate(c.Group, "", protocol.GroupUpdate{Type: protocol.UpdatePlaybackCommand, PlaybackCommand: &payload})
	case "buffering":
		// Demo relay has no playback-state bookkeeping of its own; a real
		// server would fold this into its authoritative GroupSessionState.
	case "queue":
		var queue protocol.QueueView
		if err := json.Unmarshal(env.Data, &queue); err != nil {
			log.Printf("[relay] %s: malformed queue envelope: %v", c.ID, err)
			return
		}
		s.broadcastUpdate(c.Group, "", protocol.GroupUpdate{Type: protocol.UpdatePlayQueue, PlayQueue: &queue})
	default:
		log.Printf("[relay] %s: unknown envelope type %q", c.ID, env.Type)
	}
}

func (s *Server) reply(c *Client, reqID string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Printf("[relay] marshaling reply: %v", err)
		return
	}
	out, _ := json.Marshal(Envelope{Type: "reply", ReqID: reqID, Data: data})
	select {
	case c.Send <- out:
	default:
	}
}

// sendUpdateTo delivers update directly to c, bypassing the hub's
// broadcast (which never echoes a message back to its own sender).
func (s *Server) sendUpdateTo(c *Client, update protocol.GroupUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("[relay] marshaling update: %v", err)
		return
	}
	out, _ := json.Marshal(Envelope{Type: "update", Data: data})
	select {
	case c.Send <- out:
	default:
	}
}

func (s *Server) forwardUpdate(c *Client, to string, update protocol.GroupUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("[relay] marshaling update: %v", err)
		return
	}
	out, _ := json.Marshal(Envelope{Type: "update", Data: data})
	s.hub.Send(c.Group, c.ID, to, out)
}

func (s *Server) broadcastUpdate(group, except string, update protocol.GroupUpdate) {
	data, err := json.Marshal(update)
	if err != nil {
		log.Printf("[relay] marshaling update: %v", err)
		return
	}
	out, _ := json.Marshal(Envelope{Type: "update", Data: data})
	s.hub.Send(group, except, "", out)
}
