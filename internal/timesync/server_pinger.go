package timesync

import (
	"context"
	"log"
	"time"

	"github.com/n0remac/syncplay/protocol"
)

// ServerPinger samples the server's clock via the opaque RPC transport
// (spec.md §4.1: "getServerTime"). It is the "server" flavor of the
// unified Pinger capability.
type ServerPinger struct {
	Transport protocol.ServerTransport
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}

// Ping issues one getServerTime RPC and reports the resulting round
// trip back to the server via the best-effort "ping" RPC.
func (p ServerPinger) Ping(ctx context.Context) (protocol.PingSample, error) {
	sent := time.Now()
	resp, err := p.Transport.GetServerTime(ctx)
	received := time.Now()
	if err != nil {
		return protocol.PingSample{}, err
	}
	sample := protocol.PingSample{
		RequestSent:      sent,
		RequestReceived:  msToTime(resp.RequestReceptionTime),
		ResponseSent:     msToTime(resp.ResponseTransmissionTime),
		ResponseReceived: received,
	}
	if err := p.Transport.Ping(ctx, float64(sample.RTT().Microseconds())/1000); err != nil {
		log.Printf("[timesync] server: reporting ping failed: %v", err)
	}
	return sample, nil
}
