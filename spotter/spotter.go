// Package spotter finds game servers on the local network. Servers
// broadcast a small UDP datagram once a second; the listener keeps a table
// of hosts it has heard from and forgets any that go quiet.
package spotter

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultPort is the UDP port beacons are sent to.
const DefaultPort = 12345

// PayloadSize is the size of a beacon datagram.
const PayloadSize = 4

// EventKind tells whether a host appeared or went away.
type EventKind int

const (
	HostAdded EventKind = iota + 1
	HostRemoved
)

func (k EventKind) String() string {
	switch k {
	case HostAdded:
		return "added"
	case HostRemoved:
		return "removed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is a change to the host table.
type Event struct {
	Kind EventKind
	Addr string
	// Evicted is set when the host was removed for going quiet rather
	// than signing off.
	Evicted bool
}

func (e Event) String() string {
	if e.Evicted {
		return fmt.Sprintf("%s %s (timed out)", e.Kind, e.Addr)
	}
	return fmt.Sprintf("%s %s", e.Kind, e.Addr)
}

// Host is a server the listener has heard from.
type Host struct {
	Addr     string
	LastSeen time.Time
}

// Config tunes a Listener. Zero fields take defaults.
type Config struct {
	Port            int
	LivenessTimeout time.Duration
	SweepInterval   time.Duration
	// PollTimeout bounds each receive while draining the socket.
	PollTimeout time.Duration
	// MaxDrain caps the datagrams handled per sweep so a flooding sender
	// cannot hold off eviction or Stop.
	MaxDrain    int
	EventBuffer int
	Now         func() time.Time
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.LivenessTimeout <= 0 {
		c.LivenessTimeout = 4 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 500 * time.Millisecond
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = time.Millisecond
	}
	if c.MaxDrain <= 0 {
		c.MaxDrain = 256
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 32
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Stats counts listener activity.
type Stats struct {
	Datagrams uint64
	Added     uint64
	Removed   uint64
	Evicted   uint64
	Hosts     int
}

// Listener is the host table and the task that maintains it. The table is
// only changed by Run; other goroutines see it through Hosts and Events.
type Listener struct {
	conn net.PacketConn
	cfg  Config

	mu    sync.Mutex
	hosts map[string]time.Time

	events   chan Event
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	datagrams atomic.Uint64
	added     atomic.Uint64
	removed   atomic.Uint64
	evicted   atomic.Uint64
}

// Listen binds the discovery port on all interfaces.
func Listen(cfg Config) (*Listener, error) {
	cfg = cfg.withDefaults()
	conn, err := net.ListenPacket("udp4", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return nil, fmt.Errorf("spotter: listen: %w", err)
	}
	return New(conn, cfg), nil
}

// New wraps an already bound socket. The listener closes it when Run
// returns.
func New(conn net.PacketConn, cfg Config) *Listener {
	cfg = cfg.withDefaults()
	return &Listener{
		conn:   conn,
		cfg:    cfg,
		hosts:  make(map[string]time.Time),
		events: make(chan Event, cfg.EventBuffer),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// LocalAddr is the bound socket address.
func (l *Listener) LocalAddr() net.Addr { return l.conn.LocalAddr() }

// Events delivers host changes in the order they happened. It is closed
// when Run returns.
func (l *Listener) Events() <-chan Event { return l.events }

// Done is closed when Run has returned.
func (l *Listener) Done() <-chan struct{} { return l.done }

// Stop asks Run to return. It is observed within one sweep interval, even
// while Run waits for room in Events. Stop may be called more than once.
func (l *Listener) Stop() { l.stopOnce.Do(func() { close(l.stop) }) }

// Run drains the socket and sweeps the table every SweepInterval until Stop
// is called or ctx is done.
func (l *Listener) Run(ctx context.Context) error {
	defer close(l.done)
	defer close(l.events)
	defer l.conn.Close()

	ticker := time.NewTicker(l.cfg.SweepInterval)
	defer ticker.Stop()
	buf := make([]byte, 64)
	for {
		if err := l.drain(ctx, buf); err != nil {
			return err
		}
		if !l.sweep(ctx, l.cfg.Now()) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-l.stop:
			return nil
		case <-ticker.C:
		}
	}
}

// drain handles the datagrams already queued on the socket, at most
// MaxDrain of them.
func (l *Listener) drain(ctx context.Context, buf []byte) error {
	for i := 0; i < l.cfg.MaxDrain; i++ {
		if err := l.conn.SetReadDeadline(time.Now().Add(l.cfg.PollTimeout)); err != nil {
			return fmt.Errorf("spotter: %w", err)
		}
		n, from, err := l.conn.ReadFrom(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("spotter: %w", err)
			}
			log.Printf("spotter: read: %v", err)
			return nil
		}
		if n == 0 {
			continue
		}
		if !l.handle(ctx, hostOf(from), buf[0] > 0, l.cfg.Now()) {
			return nil
		}
	}
	return nil
}

func hostOf(a net.Addr) string {
	if ua, ok := a.(*net.UDPAddr); ok {
		return ua.IP.String()
	}
	host, _, err := net.SplitHostPort(a.String())
	if err != nil {
		return a.String()
	}
	return host
}

// handle applies one datagram. An available host is added or refreshed;
// an unavailable one is removed if known. It reports false if ctx ended
// or Stop was called while an event was waiting to be delivered.
func (l *Listener) handle(ctx context.Context, addr string, available bool, now time.Time) bool {
	l.datagrams.Add(1)
	l.mu.Lock()
	_, known := l.hosts[addr]
	switch {
	case available:
		l.hosts[addr] = now
	case known:
		delete(l.hosts, addr)
	}
	l.mu.Unlock()

	switch {
	case available && !known:
		l.added.Add(1)
		return l.emit(ctx, Event{Kind: HostAdded, Addr: addr})
	case !available && known:
		l.removed.Add(1)
		return l.emit(ctx, Event{Kind: HostRemoved, Addr: addr})
	}
	return true
}

// sweep evicts hosts not heard from for LivenessTimeout.
func (l *Listener) sweep(ctx context.Context, now time.Time) bool {
	var gone []string
	l.mu.Lock()
	for addr, seen := range l.hosts {
		if now.Sub(seen) >= l.cfg.LivenessTimeout {
			delete(l.hosts, addr)
			gone = append(gone, addr)
		}
	}
	l.mu.Unlock()
	sort.Strings(gone)
	for _, addr := range gone {
		l.evicted.Add(1)
		if !l.emit(ctx, Event{Kind: HostRemoved, Addr: addr, Evicted: true}) {
			return false
		}
	}
	return true
}

func (l *Listener) emit(ctx context.Context, ev Event) bool {
	select {
	case l.events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-l.stop:
		return false
	}
}

// Hosts returns a copy of the table sorted by address.
func (l *Listener) Hosts() []Host {
	l.mu.Lock()
	out := make([]Host, 0, len(l.hosts))
	for addr, seen := range l.hosts {
		out = append(out, Host{Addr: addr, LastSeen: seen})
	}
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Stats returns a snapshot of the counters.
func (l *Listener) Stats() Stats {
	l.mu.Lock()
	n := len(l.hosts)
	l.mu.Unlock()
	return Stats{
		Datagrams: l.datagrams.Load(),
		Added:     l.added.Load(),
		Removed:   l.removed.Load(),
		Evicted:   l.evicted.Load(),
		Hosts:     n,
	}
}
