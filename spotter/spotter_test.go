package spotter

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is advanced by hand.
type fakeClock struct{ t time.Time }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1000, 0)} }

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestListener(t *testing.T, clock *fakeClock) *Listener {
	t.Helper()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	cfg := Config{SweepInterval: 5 * time.Millisecond}
	if clock != nil {
		cfg.Now = clock.Now
	}
	return New(conn, cfg)
}

func next(t *testing.T, l *Listener) Event {
	t.Helper()
	select {
	case ev := <-l.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
	}
	return Event{}
}

func noEvent(t *testing.T, l *Listener) {
	t.Helper()
	select {
	case ev := <-l.Events():
		t.Fatalf("unexpected event %v", ev)
	default:
	}
}

func TestHandle(t *testing.T) {
	clock := newFakeClock()
	l := newTestListener(t, clock)
	ctx := context.Background()

	require.True(t, l.handle(ctx, "10.0.0.5", true, clock.Now()))
	assert.Equal(t, Event{Kind: HostAdded, Addr: "10.0.0.5"}, next(t, l))

	// Heartbeats from a known host refresh it without a new event.
	clock.Advance(time.Second)
	l.handle(ctx, "10.0.0.5", true, clock.Now())
	noEvent(t, l)
	assert.Equal(t, []Host{{Addr: "10.0.0.5", LastSeen: clock.Now()}}, l.Hosts())

	// Sign-off from an unknown host is ignored.
	l.handle(ctx, "10.0.0.9", false, clock.Now())
	noEvent(t, l)

	l.handle(ctx, "10.0.0.5", false, clock.Now())
	assert.Equal(t, Event{Kind: HostRemoved, Addr: "10.0.0.5"}, next(t, l))
	assert.Empty(t, l.Hosts())

	l.handle(ctx, "10.0.0.5", true, clock.Now())
	assert.Equal(t, HostAdded, next(t, l).Kind)

	st := l.Stats()
	assert.EqualValues(t, 5, st.Datagrams)
	assert.EqualValues(t, 2, st.Added)
	assert.EqualValues(t, 1, st.Removed)
	assert.Equal(t, 1, st.Hosts)
}

func TestSweepEviction(t *testing.T) {
	clock := newFakeClock()
	l := newTestListener(t, clock)
	ctx := context.Background()

	l.handle(ctx, "10.0.0.5", true, clock.Now())
	next(t, l)

	tests := []struct {
		advance time.Duration
		evicted bool
	}{
		{time.Second, false},
		{2 * time.Second, false},
		{999 * time.Millisecond, false},
		{time.Millisecond, true},
	}
	for _, tt := range tests {
		clock.Advance(tt.advance)
		l.sweep(ctx, clock.Now())
		if !tt.evicted {
			noEvent(t, l)
			continue
		}
		assert.Equal(t, Event{Kind: HostRemoved, Addr: "10.0.0.5", Evicted: true}, next(t, l))
	}
	assert.Empty(t, l.Hosts())
	assert.EqualValues(t, 1, l.Stats().Evicted)

	// Sweeping again does not repeat the removal.
	l.sweep(ctx, clock.Now())
	noEvent(t, l)
}

func TestSweepOrder(t *testing.T) {
	clock := newFakeClock()
	l := newTestListener(t, clock)
	ctx := context.Background()
	for _, a := range []string{"10.0.0.3", "10.0.0.1", "10.0.0.2"} {
		l.handle(ctx, a, true, clock.Now())
		next(t, l)
	}
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}, addrs(l.Hosts()))

	clock.Advance(5 * time.Second)
	l.sweep(ctx, clock.Now())
	assert.Equal(t, "10.0.0.1", next(t, l).Addr)
	assert.Equal(t, "10.0.0.2", next(t, l).Addr)
	assert.Equal(t, "10.0.0.3", next(t, l).Addr)
}

func TestHostsIsCopy(t *testing.T) {
	clock := newFakeClock()
	l := newTestListener(t, clock)
	l.handle(context.Background(), "10.0.0.5", true, clock.Now())
	hosts := l.Hosts()
	hosts[0].Addr = "changed"
	assert.Equal(t, "10.0.0.5", l.Hosts()[0].Addr)
}

func TestEmitHonorsContext(t *testing.T) {
	clock := newFakeClock()
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	l := New(conn, Config{EventBuffer: 1, Now: clock.Now})

	ctx, cancel := context.WithCancel(context.Background())
	require.True(t, l.handle(ctx, "10.0.0.1", true, clock.Now()))
	cancel()
	assert.False(t, l.handle(ctx, "10.0.0.2", true, clock.Now()))
}

func addrs(hs []Host) []string {
	var out []string
	for _, h := range hs {
		out = append(out, h.Addr)
	}
	return out
}

func TestListenerOverUDP(t *testing.T) {
	l := newTestListener(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)

	out, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	b := NewBeacon(out, l.LocalAddr(), net.IPv4(127, 0, 0, 1))
	b.Interval = 5 * time.Millisecond
	assert.Equal(t, [PayloadSize]byte{127, 0, 0, 1}, b.Payload())

	bctx, stopBeacon := context.WithCancel(context.Background())
	beaconDone := make(chan error, 1)
	go func() { beaconDone <- b.Run(bctx) }()

	assert.Equal(t, Event{Kind: HostAdded, Addr: "127.0.0.1"}, next(t, l))
	require.Eventually(t, func() bool { return len(l.Hosts()) == 1 }, time.Second, time.Millisecond)

	stopBeacon()
	require.NoError(t, <-beaconDone)
	assert.Equal(t, Event{Kind: HostRemoved, Addr: "127.0.0.1"}, next(t, l))
	assert.GreaterOrEqual(t, b.Sent(), uint64(2))

	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("listener did not stop")
	}
	_, open := <-l.Events()
	assert.False(t, open)
}

func TestBeaconPayloadFallback(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, [PayloadSize]byte{1, 0, 0, 0}, NewBeacon(conn, conn.LocalAddr(), nil).Payload())
	assert.Equal(t, [PayloadSize]byte{1, 0, 0, 0}, NewBeacon(conn, conn.LocalAddr(), net.IPv4zero).Payload())
}

func TestEventString(t *testing.T) {
	assert.Equal(t, "added 10.0.0.1", Event{Kind: HostAdded, Addr: "10.0.0.1"}.String())
	assert.Equal(t, "removed 10.0.0.1 (timed out)", Event{Kind: HostRemoved, Addr: "10.0.0.1", Evicted: true}.String())
}

func TestStopWhileEventsFull(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	l := New(conn, Config{EventBuffer: 1, SweepInterval: 10 * time.Millisecond})

	// Fill the only event slot, then let Run block delivering a second host.
	require.True(t, l.handle(context.Background(), "10.0.0.1", true, time.Now()))
	go l.Run(context.Background())

	out, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer out.Close()
	_, err = out.WriteTo([]byte{1, 0, 0, 0}, l.LocalAddr())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return l.Stats().Datagrams == 2 }, time.Second, time.Millisecond)

	l.Stop()
	l.Stop()
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("Run did not observe Stop while blocked on Events")
	}
	assert.Equal(t, Event{Kind: HostAdded, Addr: "10.0.0.1"}, <-l.Events())
	_, open := <-l.Events()
	assert.False(t, open)
}

func TestDrainIsCapped(t *testing.T) {
	conn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	l := New(conn, Config{MaxDrain: 4})

	out, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	defer out.Close()
	for i := 0; i < 10; i++ {
		_, err := out.WriteTo([]byte{1, 0, 0, 0}, conn.LocalAddr())
		require.NoError(t, err)
	}

	buf := make([]byte, 64)
	ctx := context.Background()
	require.NoError(t, l.drain(ctx, buf))
	assert.EqualValues(t, 4, l.Stats().Datagrams)
	require.NoError(t, l.drain(ctx, buf))
	assert.EqualValues(t, 8, l.Stats().Datagrams)
	require.Eventually(t, func() bool {
		return l.drain(ctx, buf) == nil && l.Stats().Datagrams == 10
	}, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, l.Stats().Added)
}
