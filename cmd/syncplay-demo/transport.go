package main

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/n0remac/syncplay/internal/relay"
	"github.com/n0remac/syncplay/protocol"
)

// clientTransport implements protocol.ServerTransport over a websocket
// connection to the demo relay, correlating request/response envelopes
// by ReqID and delivering unsolicited "update" envelopes to onUpdate.
type clientTransport struct {
	id   string
	conn *websocket.Conn

	mu      sync.Mutex
	pending map[string]chan relay.Envelope
	nextReq int

	updateMu     sync.Mutex
	onUpdate     func(protocol.GroupUpdate)
	bufferedUpdates []protocol.GroupUpdate
}

// newClientTransport dials nothing itself; it wraps an already-open
// conn. onUpdate may be attached later with SetOnUpdate, since the
// coordinator it feeds typically needs this transport to exist first.
func newClientTransport(id string, conn *websocket.Conn) *clientTransport {
	t := &clientTransport{id: id, conn: conn, pending: make(map[string]chan relay.Envelope)}
	go t.readLoop()
	return t
}

// SetOnUpdate attaches the callback invoked for every unsolicited
// server update, flushing anything that arrived before the caller had a
// coordinator ready to receive it.
func (t *clientTransport) SetOnUpdate(fn func(protocol.GroupUpdate)) {
	t.updateMu.Lock()
	t.onUpdate = fn
	buffered := t.bufferedUpdates
	t.bufferedUpdates = nil
	t.updateMu.Unlock()
	for _, u := range buffered {
		fn(u)
	}
}

func (t *clientTransport) dispatchUpdate(u protocol.GroupUpdate) {
	t.updateMu.Lock()
	fn := t.onUpdate
	if fn == nil {
		t.bufferedUpdates = append(t.bufferedUpdates, u)
	}
	t.updateMu.Unlock()
	if fn != nil {
		fn(u)
	}
}

func (t *clientTransport) readLoop() {
	for {
		_, raw, err := t.conn.ReadMessage()
		if err != nil {
			t.failAllPending()
			return
		}
		var env relay.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}
		switch env.Type {
		case "reply":
			t.deliver(env)
		case "update":
			var update protocol.GroupUpdate
			if err := json.Unmarshal(env.Data, &update); err != nil {
				continue
			}
			t.dispatchUpdate(update)
		}
	}
}

func (t *clientTransport) deliver(env relay.Envelope) {
	t.mu.Lock()
	ch, ok := t.pending[env.ReqID]
	if ok {
		delete(t.pending, env.ReqID)
	}
	t.mu.Unlock()
	if ok {
		ch <- env
	}
}

func (t *clientTransport) failAllPending() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, ch := range t.pending {
		close(ch)
		delete(t.pending, id)
	}
}

// request sends env with a freshly minted ReqID and waits for the
// matching reply, or ctx's deadline.
func (t *clientTransport) request(ctx context.Context, env relay.Envelope) (relay.Envelope, error) {
	t.mu.Lock()
	t.nextReq++
	reqID := fmt.Sprintf("%s-%d", t.id, t.nextReq)
	ch := make(chan relay.Envelope, 1)
	t.pending[reqID] = ch
	t.mu.Unlock()

	env.ReqID = reqID
	if err := t.send(env); err != nil {
		t.mu.Lock()
		delete(t.pending, reqID)
		t.mu.Unlock()
		return relay.Envelope{}, err
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return relay.Envelope{}, fmt.Errorf("syncplay-demo: connection closed while awaiting %s", env.Type)
		}
		return reply, nil
	case <-ctx.Done():
		return relay.Envelope{}, ctx.Err()
	}
}

func (t *clientTransport) send(env relay.Envelope) error {
	out, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, out)
}

func (t *clientTransport) GetServerTime(ctx context.Context) (protocol.ServerTimeSample, error) {
	reply, err := t.request(ctx, relay.Envelope{Type: "getServerTime"})
	if err != nil {
		return protocol.ServerTimeSample{}, err
	}
	var sample protocol.ServerTimeSample
	err = json.Unmarshal(reply.Data, &sample)
	return sample, err
}

func (t *clientTransport) Ping(ctx context.Context, ms float64) error {
	_, err := t.request(ctx, relay.Envelope{Type: "ping"})
	return err
}

func (t *clientTransport) Follow(ctx context.Context) error { return nil }

func (t *clientTransport) Play(ctx context.Context, req protocol.PlayRequest) error {
	data, _ := json.Marshal(req)
	return t.send(relay.Envelope{Type: "command", Data: data})
}

func (t *clientTransport) Pause(ctx context.Context) error                       { return nil }
func (t *clientTransport) Unpause(ctx context.Context) error                     { return nil }
func (t *clientTransport) Seek(ctx context.Context, positionTicks protocol.Ticks) error { return nil }

func (t *clientTransport) Buffering(ctx context.Context, report protocol.BufferingReport) error {
	data, _ := json.Marshal(report)
	return t.send(relay.Envelope{Type: "buffering", Data: data})
}

func (t *clientTransport) SetPlaylistItem(ctx context.Context, playlistItemID string) error {
	return nil
}
func (t *clientTransport) RemoveFromPlaylist(ctx context.Context, playlistItemIDs []string) error {
	return nil
}
func (t *clientTransport) MovePlaylistItem(ctx context.Context, playlistItemID string, newIndex int) error {
	return nil
}
func (t *clientTransport) Queue(ctx context.Context, itemIDs []string, mode protocol.QueueMode) error {
	return nil
}
func (t *clientTransport) NextTrack(ctx context.Context, playlistItemID string) error     { return nil }
func (t *clientTransport) PreviousTrack(ctx context.Context, playlistItemID string) error { return nil }
func (t *clientTransport) SetRepeatMode(ctx context.Context, mode protocol.RepeatMode) error {
	return nil
}
func (t *clientTransport) SetShuffleMode(ctx context.Context, mode protocol.ShuffleMode) error {
	return nil
}
func (t *clientTransport) SetIgnoreWait(ctx context.Context, ignoreWait bool) error { return nil }

func (t *clientTransport) WebRTC(ctx context.Context, to string, signal protocol.WebRTCSignal) error {
	data, err := json.Marshal(signal)
	if err != nil {
		return err
	}
	return t.send(relay.Envelope{Type: "webrtc", To: to, Data: data})
}
