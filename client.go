package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"multikobo/cmdbuf"
	"multikobo/session"
	"multikobo/spotter"
)

// client wires one decoder to whichever session is current, and owns the
// discovery listener and background tasks of a play run.
type client struct {
	gs  settings
	ctx context.Context

	decoder  *cmdbuf.Decoder
	listener *spotter.Listener
	tasks    *taskGroup
	limiter  *rate.Limiter

	sess     atomic.Pointer[session.Session]
	last     atomic.Pointer[session.Session]
	sessions atomic.Int32
	started  time.Time
}

func newClient(ctx context.Context, gs settings) (*client, error) {
	world, err := gs.world()
	if err != nil {
		return nil, err
	}
	c := &client{
		gs:      gs,
		ctx:     ctx,
		tasks:   newTaskGroup(maxBackgroundTasks),
		limiter: rate.NewLimiter(rate.Every(time.Second), 5),
		started: time.Now(),
	}
	c.decoder, err = cmdbuf.New(cmdbuf.Config{
		Revision:        gs.revision(),
		World:           world,
		OnInvalidOpcode: c.invalidOpcode,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// invalidOpcode logs at most a few diagnostics a second; a desynced stream
// can produce one per byte.
func (c *client) invalidOpcode(e *cmdbuf.InvalidOpcodeError) {
	if c.limiter.Allow() {
		logWarn("%v", e)
	}
}

func (c *client) spotterConfig() spotter.Config {
	return spotter.Config{
		Port:            c.gs.DiscoveryPort,
		LivenessTimeout: c.gs.LivenessTimeout,
		SweepInterval:   c.gs.SweepInterval,
	}
}

func (c *client) sessionConfig() session.Config {
	return session.Config{
		ChunkSize:    c.gs.chunkSize(),
		TickInterval: c.gs.TickInterval,
	}
}

// startDiscovery binds the beacon port and runs the listener.
func (c *client) startDiscovery() error {
	l, err := spotter.Listen(c.spotterConfig())
	if err != nil {
		return err
	}
	c.listener = l
	c.tasks.Go("spotter", func() error { return l.Run(c.ctx) })
	return nil
}

func (c *client) sources() metricSources {
	return metricSources{decoder: c.decoder, listener: c.listener, session: c.session}
}

// startDebug serves metrics and state on gs.DebugAddr, if set.
func (c *client) startDebug() {
	if c.gs.DebugAddr == "" {
		return
	}
	reg := prometheus.NewRegistry()
	registerMetrics(reg, c.sources())
	h := newDebugRouter(reg, c.sources())
	c.tasks.Go("debug", func() error { return serveDebug(c.gs.DebugAddr, h, c.ctx.Done()) })
}

// session is the active session, or nil.
func (c *client) session() *session.Session { return c.sess.Load() }

// connect dials addr in the background and then runs its reader. The dial
// outcome is sent on result.
func (c *client) connect(addr string, result chan<- error) {
	c.tasks.Go("session", func() error {
		s, err := session.Dial(c.ctx, addr, c.decoder, c.sessionConfig())
		if err != nil {
			result <- err
			return nil
		}
		c.sess.Store(s)
		c.last.Store(s)
		c.sessions.Add(1)
		result <- nil
		logInfo("connected to %s", addr)

		err = s.Run(c.ctx)
		c.sess.CompareAndSwap(s, nil)
		c.decoder.Clear()
		logInfo("disconnected from %s: %s", addr, s.Stats())
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
}

// shutdown stops the session and waits for every background task.
func (c *client) shutdown() {
	if s := c.session(); s != nil {
		s.Stop()
	}
	if c.listener != nil {
		c.listener.Stop()
	}
	c.tasks.Wait()
}

func (c *client) summary() runSummary {
	r := runSummary{
		Elapsed:  time.Since(c.started),
		Decoder:  c.decoder.Stats(),
		Sessions: int(c.sessions.Load()),
	}
	if s := c.last.Load(); s != nil {
		st := s.Stats()
		r.Session = &st
	}
	if c.listener != nil {
		st := c.listener.Stats()
		r.Spotter = &st
	}
	return r
}

func (c *client) String() string {
	if s := c.session(); s != nil {
		return fmt.Sprintf("%s (%s)", s.Addr(), s.State())
	}
	return "idle"
}
