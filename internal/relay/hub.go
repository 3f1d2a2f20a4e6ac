// Package relay is the demo signaling server: a group-scoped websocket
// hub that relays WebRTC signaling, server-time requests, and
// playback-command broadcasts between clients sharing a group.
//
// Grounded directly on the teacher's websocket/websocket.go Hub
// (Rooms map[string]map[*WebsocketClient]bool, Register/Unregister/
// Broadcast channels, ReadPump/WritePump goroutines per client),
// generalized from a generic string-command plugin registry into the
// fixed envelope this spec's demo transport needs.
package relay

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/gorilla/websocket"
)

// Envelope is the wire message exchanged between a demo client and the
// relay, distinct from protocol.Frame/GroupUpdate (which describe the
// real Jellyfin-SyncPlay-equivalent wire shape this spec's core speaks)
// because the relay's own request/response plumbing — ReqID
// correlation, group join/leave — is purely a demo-harness concern.
type Envelope struct {
	Type  string          `json:"type"`
	ReqID string          `json:"reqId,omitempty"`
	Group string          `json:"group,omitempty"`
	From  string          `json:"from,omitempty"`
	To    string          `json:"to,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Client is one connected demo participant.
type Client struct {
	ID    string
	Group string
	Conn  *websocket.Conn
	Send  chan []byte
	Hub   *Hub
}

// Hub relays envelopes between every client sharing a group.
type Hub struct {
	mu         sync.Mutex
	groups     map[string]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan outbound

	// OnEnvelope lets the caller (the demo's relay-side protocol
	// adapter) intercept and respond to a client's request — e.g.
	// "getServerTime" — before it would otherwise just fan out unchanged.
	OnEnvelope func(c *Client, env Envelope)
}

type outbound struct {
	group   string
	to      string // "" broadcasts to every client in group except from
	from    string
	payload []byte
}

// NewHub constructs an idle Hub; call Run in its own goroutine.
func NewHub() *Hub {
	return &Hub{
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan outbound, 64),
	}
}

// Run drains register/unregister/broadcast until the process exits.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			if _, ok := h.groups[c.Group]; !ok {
				h.groups[c.Group] = make(map[*Client]bool)
			}
			h.groups[c.Group][c] = true
			h.mu.Unlock()
			log.Printf("[relay] %s joined %s", c.ID, c.Group)

		case c := <-h.unregister:
			h.mu.Lock()
			if clients, ok := h.groups[c.Group]; ok {
				if _, exists := clients[c]; exists {
					delete(clients, c)
					close(c.Send)
					if len(clients) == 0 {
						delete(h.groups, c.Group)
					}
				}
			}
			h.mu.Unlock()
			log.Printf("[relay] %s left %s", c.ID, c.Group)

		case msg := <-h.broadcast:
			h.mu.Lock()
			clients := h.groups[msg.group]
			for c := range clients {
				if c.ID == msg.from {
					continue
				}
				if msg.to != "" && c.ID != msg.to {
					continue
				}
				select {
				case c.Send <- msg.payload:
				default:
					close(c.Send)
					delete(clients, c)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Send relays payload to one client (to != "") or every other client in
// group (to == "").
func (h *Hub) Send(group, from, to string, payload []byte) {
	h.broadcast <- outbound{group: group, to: to, from: from, payload: payload}
}

// ReadPump decodes envelopes off the connection until it errors or
// closes, dispatching each to OnEnvelope.
func (c *Client) ReadPump() {
	defer func() {
		c.Hub.unregister <- c
		c.Conn.Close()
	}()
	for {
		_, raw, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var env Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("[relay] %s: malformed envelope: %v", c.ID, err)
			continue
		}
		env.From = c.ID
		if c.Hub.OnEnvelope != nil {
			c.Hub.OnEnvelope(c, env)
		}
	}
}

// WritePump drains Send onto the connection until it's closed.
func (c *Client) WritePump() {
	defer c.Conn.Close()
	for msg := range c.Send {
		if err := c.Conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

// Register adds c to its group and starts its pumps. Call in a new
// goroutine per accepted connection; blocks until the connection closes.
func (h *Hub) Register(c *Client) {
	h.register <- c
	go c.WritePump()
	c.ReadPump()
}
