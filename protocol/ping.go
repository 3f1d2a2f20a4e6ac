package protocol

import "time"

// PingSample is one round-trip clock sample. All four instants are taken
// from the responder's and requester's respective local clocks: the
// requester stamps RequestSent/ResponseReceived, the responder stamps
// RequestReceived/ResponseSent.
type PingSample struct {
	RequestSent       time.Time
	RequestReceived   time.Time
	ResponseSent      time.Time
	ResponseReceived  time.Time
}

// RTT is the full round-trip time, clamped to zero when clock coarseness
// makes the raw computation negative.
func (p PingSample) RTT() time.Duration {
	rtt := p.ResponseReceived.Sub(p.RequestSent) - p.ResponseSent.Sub(p.RequestReceived)
	if rtt < 0 {
		return 0
	}
	return rtt
}

// Offset is the signed offset to add to a local instant to obtain the
// equivalent remote instant.
func (p PingSample) Offset() time.Duration {
	a := p.RequestReceived.Sub(p.RequestSent)
	b := p.ResponseSent.Sub(p.ResponseReceived)
	return (a + b) / 2
}
