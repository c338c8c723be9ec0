package session

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	chunks [][]byte
	got    chan struct{}
}

func newSink() *sink { return &sink{got: make(chan struct{}, 64)} }

func (s *sink) ReplaceBuffer(buf []byte) {
	s.mu.Lock()
	s.chunks = append(s.chunks, buf)
	s.mu.Unlock()
	select {
	case s.got <- struct{}{}:
	default:
	}
}

func (s *sink) joined() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []byte
	for _, c := range s.chunks {
		out = append(out, c...)
	}
	return out
}

// fakeServer accepts one connection, checks the greeting and replies.
func fakeServer(t *testing.T, reply bool) (addr string, conns <-chan net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	ch := make(chan net.Conn, 1)
	var mu sync.Mutex
	var accepted []net.Conn
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range accepted {
			c.Close()
		}
	})
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		mu.Lock()
		accepted = append(accepted, c)
		mu.Unlock()
		hi := make([]byte, len(Greeting))
		if _, err := io.ReadFull(c, hi); err != nil || string(hi) != "HI!" {
			c.Close()
			return
		}
		if reply {
			c.Write([]byte("OK!"))
		}
		ch <- c
	}()
	return ln.Addr().String(), ch
}

func testConfig() Config {
	return Config{TickInterval: 2 * time.Millisecond, DialTimeout: time.Second}
}

func TestDialRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s, err := Dial(context.Background(), addr, newSink(), testConfig())
	require.Error(t, err)
	assert.Nil(t, s)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "connect", ce.Op)
	assert.Equal(t, addr, ce.Addr)
}

func TestDialHandshakeTimeout(t *testing.T) {
	addr, _ := fakeServer(t, false)
	cfg := testConfig()
	cfg.HandshakeTimeout = 50 * time.Millisecond

	_, err := Dial(context.Background(), addr, newSink(), cfg)
	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "handshake", ce.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialHandshakeCancel(t *testing.T) {
	addr, _ := fakeServer(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	_, err := Dial(ctx, addr, newSink(), testConfig())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSessionStream(t *testing.T) {
	addr, conns := fakeServer(t, true)
	sk := newSink()
	s, err := Dial(context.Background(), addr, sk, testConfig())
	require.NoError(t, err)
	assert.Equal(t, Active, s.State())
	assert.Equal(t, []byte("OK!"), s.Reply())

	srv := <-conns
	go s.Run(context.Background())

	_, err = srv.Write([]byte{0x01, 0x02, 0x03})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(sk.joined()) == 3 }, time.Second, time.Millisecond)
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, sk.joined())

	require.NoError(t, s.HandleKey(KeyUp, true))
	require.NoError(t, s.HandleKey(KeyFire, true))
	require.NoError(t, s.HandleKey(KeyNone, true))
	got := make([]byte, 2)
	srv.SetReadDeadline(time.Now().Add(time.Second))
	_, err = io.ReadFull(srv, got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x01}, got)
	assert.Equal(t, InputState{Up: true, Fire: true}, s.Input())

	st := s.Stats()
	assert.EqualValues(t, 3, st.BytesIn)
	assert.GreaterOrEqual(t, st.Chunks, uint64(1))
	assert.EqualValues(t, 2, st.InputsSent)

	s.Stop()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("reader did not stop")
	}
	assert.Equal(t, Stopped, s.State())
	assert.ErrorIs(t, s.SendInput(InputState{}), ErrStopped)
}

func TestSessionEOF(t *testing.T) {
	addr, conns := fakeServer(t, true)
	s, err := Dial(context.Background(), addr, newSink(), testConfig())
	require.NoError(t, err)
	srv := <-conns

	errc := make(chan error, 1)
	go func() { errc <- s.Run(context.Background()) }()
	srv.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, io.EOF)
	case <-time.After(time.Second):
		t.Fatal("reader did not see EOF")
	}
	assert.Equal(t, Stopped, s.State())
}

func TestStopBeforeRun(t *testing.T) {
	addr, _ := fakeServer(t, true)
	s, err := Dial(context.Background(), addr, newSink(), testConfig())
	require.NoError(t, err)
	s.Stop()
	<-s.Done()
	assert.Equal(t, Stopped, s.State())
	assert.NoError(t, s.Run(context.Background()))
}

func TestRunContextCancel(t *testing.T) {
	addr, _ := fakeServer(t, true)
	s, err := Dial(context.Background(), addr, newSink(), testConfig())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("reader ignored cancel")
	}
	assert.Equal(t, Stopped, s.State())
}

func TestChunkSize(t *testing.T) {
	addr, conns := fakeServer(t, true)
	sk := newSink()
	cfg := testConfig()
	cfg.ChunkSize = 4
	s, err := Dial(context.Background(), addr, sk, cfg)
	require.NoError(t, err)
	srv := <-conns
	_, err = srv.Write([]byte("0123456789"))
	require.NoError(t, err)
	go s.Run(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return len(sk.joined()) == 10 }, time.Second, time.Millisecond)
	sk.mu.Lock()
	defer sk.mu.Unlock()
	for _, c := range sk.chunks {
		assert.LessOrEqual(t, len(c), 4)
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "connecting", Connecting.String())
	assert.Equal(t, "active", Active.String())
	assert.Equal(t, "stopped", Stopped.String())
	assert.Equal(t, "State(9)", State(9).String())
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, 40960, cfg.ChunkSize)
	assert.Equal(t, time.Second/60, cfg.TickInterval)
	assert.Equal(t, time.Millisecond, cfg.PollTimeout)
	assert.Equal(t, 5*time.Second, cfg.DialTimeout)
	assert.Equal(t, 5*time.Second, cfg.HandshakeTimeout)
	assert.NotNil(t, cfg.Dial)
}

func TestDialDefaultHandshakeTimeout(t *testing.T) {
	if testing.Short() {
		t.Skip("waits out the default handshake timeout")
	}
	addr, _ := fakeServer(t, false)

	start := time.Now()
	_, err := Dial(context.Background(), addr, newSink(), Config{})
	elapsed := time.Since(start)

	var ce *ConnectionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "handshake", ce.Op)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.Less(t, elapsed, 7*time.Second)
}

var errReset = errors.New("connection reset by peer")

// resetConn replies to the greeting and then fails every read.
type resetConn struct {
	net.Conn

	mu     sync.Mutex
	reply  []byte
	closed bool
}

func (c *resetConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	if len(c.reply) > 0 {
		n := copy(p, c.reply)
		c.reply = c.reply[n:]
		return n, nil
	}
	return 0, errReset
}

func (c *resetConn) Write(p []byte) (int, error) { return len(p), nil }

func (c *resetConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *resetConn) SetDeadline(time.Time) error     { return nil }
func (c *resetConn) SetReadDeadline(time.Time) error { return nil }

func TestReadErrorsAreRateLimited(t *testing.T) {
	var logged bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&logged)
	t.Cleanup(func() { log.SetOutput(prev) })

	cfg := testConfig()
	cfg.Dial = func(context.Context, string, string) (net.Conn, error) {
		return &resetConn{reply: []byte("OK!")}, nil
	}
	s, err := Dial(context.Background(), "reset:1", newSink(), cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.Stats().ReadErrors >= 10 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, Active, s.State(), "read errors are not fatal")
	s.Stop()
	require.NoError(t, <-done)

	assert.Equal(t, 1, strings.Count(logged.String(), "session: read reset:1"))
}
