package timesync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/n0remac/syncplay/internal/eventloop"
	"github.com/n0remac/syncplay/protocol"
)

type fakePinger struct {
	sample protocol.PingSample
	err    error
}

func (f *fakePinger) Ping(ctx context.Context) (protocol.PingSample, error) {
	return f.sample, f.err
}

func TestSource_FirstUpdateReflectsSample(t *testing.T) {
	loop := eventloop.New()
	go loop.Run()
	defer loop.Stop()

	base := time.Unix(0, 0)
	pinger := &fakePinger{sample: protocol.PingSample{
		RequestSent:      base.Add(1000 * time.Millisecond),
		RequestReceived:  base.Add(1050 * time.Millisecond),
		ResponseSent:     base.Add(1060 * time.Millisecond),
		ResponseReceived: base.Add(1120 * time.Millisecond),
	}}

	src := New(loop, "server", pinger)
	updates := make(chan Update, 1)
	src.OnUpdate(func(u Update) { updates <- u })
	src.Start()
	defer src.Stop()

	select {
	case u := <-updates:
		require.NoError(t, u.Err)
		assert.Equal(t, -5.0, u.OffsetMs)
		assert.Equal(t, 110.0, u.PingMs)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}

	assert.True(t, src.HasSample())
	assert.Equal(t, -5.0, src.OffsetMs())
}

func TestSource_LocalToRemoteRoundTrip(t *testing.T) {
	loop := eventloop.New()
	go loop.Run()
	defer loop.Stop()

	base := time.Unix(0, 0)
	pinger := &fakePinger{sample: protocol.PingSample{
		RequestSent:      base,
		RequestReceived:  base.Add(30 * time.Millisecond),
		ResponseSent:     base.Add(30 * time.Millisecond),
		ResponseReceived: base.Add(60 * time.Millisecond),
	}}
	src := New(loop, "server", pinger)
	updates := make(chan Update, 1)
	src.OnUpdate(func(u Update) { updates <- u })
	src.Start()
	defer src.Stop()

	<-updates

	now := time.Now()
	remote := src.LocalToRemote(now)
	back := src.RemoteToLocal(remote)
	assert.WithinDuration(t, now, back, time.Microsecond)
}

func TestSource_FailedPingEmitsErrorAndNoSample(t *testing.T) {
	loop := eventloop.New()
	go loop.Run()
	defer loop.Stop()

	pinger := &fakePinger{err: assertErr{}}
	src := New(loop, "peer-1", pinger)
	updates := make(chan Update, 1)
	src.OnUpdate(func(u Update) { updates <- u })
	src.Start()
	defer src.Stop()

	select {
	case u := <-updates:
		assert.Error(t, u.Err)
	case <-time.After(time.Second):
		t.Fatal("no update received")
	}
	assert.False(t, src.HasSample())
}

type assertErr struct{}

func (assertErr) Error() string { return "ping failed" }
