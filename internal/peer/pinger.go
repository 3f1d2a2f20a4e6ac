package peer

import (
	"context"
	"fmt"

	"github.com/n0remac/syncplay/protocol"
)

// Pinger samples one round trip against a peer over its data channel
// (spec.md §4.1: "a ping for a peer source is a request/response pair
// over the peer data channel carrying the same four timestamps"). It
// implements internal/timesync.Pinger without this package importing
// that one, avoiding an import cycle between peer and timesync.
type Pinger struct {
	Link *Link
}

// Ping issues one ping-request/ping-response round trip.
func (p Pinger) Ping(ctx context.Context) (protocol.PingSample, error) {
	ch, err := p.Link.requestPing()
	if err != nil {
		return protocol.PingSample{}, fmt.Errorf("peer %s: ping: %w", p.Link.ID, err)
	}
	select {
	case sample, ok := <-ch:
		if !ok {
			return protocol.PingSample{}, fmt.Errorf("peer %s: %w", p.Link.ID, context.Canceled)
		}
		return sample, nil
	case <-ctx.Done():
		return protocol.PingSample{}, ctx.Err()
	}
}
