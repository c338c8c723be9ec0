// Package session manages the client's TCP connection to a game server:
// the greeting exchange, the background reader that feeds the command
// decoder, and the one-byte input messages sent back.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/hako/durafmt"
	"golang.org/x/time/rate"
)

// State is the connection lifecycle.
type State int32

const (
	Connecting State = iota
	Handshaking
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Handshaking:
		return "handshaking"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// DefaultPort is the server's TCP port.
const DefaultPort = 12345

// Greeting is the client's half of the handshake.
var Greeting = []byte("HI!")

// ReplyLen is the size of the server's reply. Its content is not checked.
const ReplyLen = 3

// ErrStopped is returned when sending on a session that is not active.
var ErrStopped = errors.New("session: stopped")

// ConnectionError reports a failure to establish a session. No session is
// created and nothing is retried.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session: %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// BufferSink receives each chunk read from the server. cmdbuf.Decoder
// satisfies it.
type BufferSink interface {
	ReplaceBuffer(buf []byte)
}

// Config tunes a session. Zero fields take defaults.
type Config struct {
	// ChunkSize is the most bytes taken per read.
	ChunkSize int
	// TickInterval is the reader's polling cadence.
	TickInterval time.Duration
	// PollTimeout bounds each read; a read that times out counts as
	// "would block".
	PollTimeout time.Duration
	// DialTimeout bounds the TCP connect.
	DialTimeout time.Duration
	// HandshakeTimeout bounds the greeting exchange.
	HandshakeTimeout time.Duration
	// Dial replaces net.Dialer, mostly for tests.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (c Config) withDefaults() Config {
	if c.ChunkSize <= 0 {
		c.ChunkSize = 40960
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second / 60
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Millisecond
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.Dial == nil {
		d := &net.Dialer{Timeout: c.DialTimeout}
		c.Dial = d.DialContext
	}
	return c
}

// Stats counts traffic on a session.
type Stats struct {
	BytesIn    uint64
	Chunks     uint64
	WouldBlock uint64
	ReadErrors uint64
	InputsSent uint64
	Uptime     time.Duration
}

func (s Stats) String() string {
	return fmt.Sprintf("%s in %d chunks, %d inputs, up %s",
		humanize.Bytes(s.BytesIn), s.Chunks, s.InputsSent,
		durafmt.Parse(s.Uptime.Round(time.Second)).LimitFirstN(2))
}

// Session is one connection to a server.
type Session struct {
	addr  string
	conn  net.Conn
	sink  BufferSink
	cfg   Config
	reply []byte

	state   atomic.Int32
	stop    atomic.Bool
	running atomic.Bool
	once    sync.Once
	done    chan struct{}
	started time.Time
	stopped atomic.Int64

	inputMu sync.Mutex
	input   InputState

	// errLog limits how often a persistent read error is logged.
	errLog *rate.Limiter

	bytesIn    atomic.Uint64
	chunks     atomic.Uint64
	wouldBlock atomic.Uint64
	readErrors atomic.Uint64
	inputsSent atomic.Uint64
}

// Dial connects to addr and performs the handshake. On success the session
// is Active and Run should be started to feed sink.
func Dial(ctx context.Context, addr string, sink BufferSink, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	s := &Session{
		addr:   addr,
		sink:   sink,
		cfg:    cfg,
		done:   make(chan struct{}),
		errLog: rate.NewLimiter(rate.Every(time.Second), 1),
	}
	s.setState(Connecting)

	conn, err := cfg.Dial(ctx, "tcp", addr)
	if err != nil {
		return nil, &ConnectionError{Addr: addr, Op: "connect", Err: err}
	}
	s.conn = conn
	if err := s.handshake(ctx); err != nil {
		conn.Close()
		return nil, &ConnectionError{Addr: addr, Op: "handshake", Err: err}
	}
	s.started = time.Now()
	s.setState(Active)
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	s.setState(Handshaking)
	ctx, cancel := context.WithTimeout(ctx, s.cfg.HandshakeTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { s.conn.SetDeadline(time.Now()) })
	defer stop()

	if _, err := s.conn.Write(Greeting); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	reply := make([]byte, ReplyLen)
	if _, err := io.ReadFull(s.conn, reply); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("read reply: %w", err)
	}
	s.reply = reply
	return s.conn.SetDeadline(time.Time{})
}

func (s *Session) setState(st State) { s.state.Store(int32(st)) }

// State reports the lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// Addr is the server address this session dialed.
func (s *Session) Addr() string { return s.addr }

// Reply is the server's handshake bytes.
func (s *Session) Reply() []byte { return s.reply }

// Done is closed once the session is Stopped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run is the background reader. Every tick it takes whatever the server has
// sent, up to ChunkSize, and hands it to the sink. It returns when Stop is
// called, ctx is done or the server closes the stream.
func (s *Session) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.shutdown()
	if s.stop.Load() || s.State() != Active {
		return nil
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()
	buf := make([]byte, s.cfg.ChunkSize)
	for !s.stop.Load() {
		if err := s.poll(buf); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}

func (s *Session) poll(buf []byte) error {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.PollTimeout)); err != nil {
		return fmt.Errorf("session: %s: %w", s.addr, err)
	}
	n, err := s.conn.Read(buf)
	if n > 0 {
		chunk := make([]byte, n)
		copy(chunk, buf[:n])
		s.sink.ReplaceBuffer(chunk)
		s.bytesIn.Add(uint64(n))
		s.chunks.Add(1)
	}
	if err == nil {
		return nil
	}
	var ne net.Error
	switch {
	case errors.As(err, &ne) && ne.Timeout():
		s.wouldBlock.Add(1)
		return nil
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return fmt.Errorf("session: %s: %w", s.addr, err)
	}
	if n := s.readErrors.Add(1); s.errLog.Allow() {
		log.Printf("session: read %s: %v (%d read errors)", s.addr, err, n)
	}
	return nil
}

// Stop asks the reader to exit. It is observed within one tick.
func (s *Session) Stop() {
	s.stop.Store(true)
	if !s.running.Load() {
		s.shutdown()
	}
}

func (s *Session) shutdown() {
	s.once.Do(func() {
		s.stopped.Store(time.Now().UnixNano())
		s.setState(Stopped)
		if s.conn != nil {
			s.conn.Close()
		}
		close(s.done)
	})
}

// HandleKey applies a control transition and sends the resulting state.
// Unrecognized keys are ignored.
func (s *Session) HandleKey(k Key, pressed bool) error {
	s.inputMu.Lock()
	st := s.input
	ok := st.Apply(k, pressed)
	if ok {
		s.input = st
	}
	s.inputMu.Unlock()
	if !ok {
		return nil
	}
	return s.SendInput(st)
}

// Input returns the current control state.
func (s *Session) Input() InputState {
	s.inputMu.Lock()
	defer s.inputMu.Unlock()
	return s.input
}

// SendInput writes the encoded state to the server.
func (s *Session) SendInput(st InputState) error {
	if s.State() != Active {
		return ErrStopped
	}
	if _, err := s.conn.Write([]byte{st.Encode()}); err != nil {
		return fmt.Errorf("session: send input: %w", err)
	}
	s.inputsSent.Add(1)
	return nil
}

// Stats returns a snapshot of the traffic counters.
func (s *Session) Stats() Stats {
	st := Stats{
		BytesIn:    s.bytesIn.Load(),
		Chunks:     s.chunks.Load(),
		WouldBlock: s.wouldBlock.Load(),
		ReadErrors: s.readErrors.Load(),
		InputsSent: s.inputsSent.Load(),
	}
	switch {
	case s.started.IsZero():
	case s.stopped.Load() != 0:
		st.Uptime = time.Unix(0, s.stopped.Load()).Sub(s.started)
	default:
		st.Uptime = time.Since(s.started)
	}
	return st
}
