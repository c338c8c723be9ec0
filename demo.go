package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"sync/atomic"
	"time"

	"github.com/remeh/sizedwaitgroup"

	"multikobo/cmdbuf"
	"multikobo/coord"
	"multikobo/session"
)

// maxDemoPlayers matches the two player slots of the command stream.
const maxDemoPlayers = 2

const (
	demoShipSpeed   = 3
	demoEnemyCount  = 8
	demoEnemyRadius = 90
	demoFortressW   = 6
)

// headingStep is the per-tick movement for each direction.
var headingStep = [...]coord.Vec{
	session.North:       {X: 0, Y: -1},
	session.NorthEast:   {X: 1, Y: -1},
	session.East:        {X: 1, Y: 0},
	session.SouthEast:   {X: 1, Y: 1},
	session.South:       {X: 0, Y: 1},
	session.SouthWest:   {X: -1, Y: 1},
	session.West:        {X: -1, Y: 0},
	session.NorthWest:   {X: -1, Y: -1},
	session.NoDirection: {},
}

// demoServer is a stand-in game server for trying the client without the
// real one. It plays the server half of the handshake, streams frames and
// steers a ship from the client's input bytes.
type demoServer struct {
	ln       net.Listener
	rev      cmdbuf.Revision
	world    coord.World
	interval time.Duration

	players atomic.Int32
	inputs  atomic.Uint64
	frames  atomic.Uint64
	last    atomic.Uint32
}

func newDemoServer(ln net.Listener, rev cmdbuf.Revision, world coord.World, interval time.Duration) *demoServer {
	if interval <= 0 {
		interval = time.Second / 60
	}
	s := &demoServer{ln: ln, rev: rev, world: world, interval: interval}
	s.last.Store(uint32(session.InputState{}.Encode()))
	return s
}

// Serve accepts players until ctx is done.
func (s *demoServer) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.ln.Close()
	}()
	wg := sizedwaitgroup.New(maxDemoPlayers)
	defer wg.Wait()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("demo: accept: %w", err)
		}
		wg.Add()
		go func() {
			defer wg.Done()
			s.players.Add(1)
			defer s.players.Add(-1)
			if err := s.play(ctx, conn); err != nil {
				logDebug("demo: %v: %v", conn.RemoteAddr(), err)
			}
		}()
	}
}

func (s *demoServer) handshake(conn net.Conn) error {
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetDeadline(time.Time{})
	if _, err := conn.Write([]byte("HI!")); err != nil {
		return err
	}
	greeting := make([]byte, len(session.Greeting))
	_, err := io.ReadFull(conn, greeting)
	return err
}

func (s *demoServer) play(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	if err := s.handshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	logInfo("demo: player joined from %v", conn.RemoteAddr())

	var heading atomic.Uint32
	heading.Store(uint32(session.InputState{}.Encode()))
	readDone := make(chan error, 1)
	go func() { readDone <- s.readInputs(conn, &heading) }()

	st := newDemoState(s.world)
	b := cmdbuf.NewBuilder(s.rev)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readDone:
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		case <-ticker.C:
		}
		st.step(session.DecodeInput(byte(heading.Load())))
		frame := st.frame(b)
		conn.SetWriteDeadline(time.Now().Add(time.Second))
		if _, err := conn.Write(frame); err != nil {
			return err
		}
		s.frames.Add(1)
	}
}

func (s *demoServer) readInputs(conn net.Conn, heading *atomic.Uint32) error {
	buf := make([]byte, 64)
	for {
		n, err := conn.Read(buf)
		for _, in := range buf[:n] {
			heading.Store(uint32(in))
			s.last.Store(uint32(in))
			s.inputs.Add(1)
		}
		if err != nil {
			return err
		}
	}
}

// lastInput is the most recent input byte from any player.
func (s *demoServer) lastInput() (session.Direction, bool) {
	return session.DecodeInput(byte(s.last.Load()))
}

// demoState is one player's view of the demo world.
type demoState struct {
	world coord.World
	ship  coord.Vec
	tick  int
	score int32
}

func newDemoState(w coord.World) *demoState {
	return &demoState{world: w, ship: coord.Vec{X: w.Width / 2, Y: w.Height / 2}}
}

func (d *demoState) step(dir session.Direction, fire bool) {
	d.tick++
	if int(dir) < len(headingStep) {
		v := headingStep[dir]
		d.ship = d.world.Wrap(coord.Vec{X: d.ship.X + v.X*demoShipSpeed, Y: d.ship.Y + v.Y*demoShipSpeed})
	}
	if fire {
		d.score++
	}
}

// viewOffset keeps the ship in the middle of the window.
func (d *demoState) viewOffset() coord.Vec {
	return d.world.Wrap(coord.Vec{X: d.ship.X - screenWidth/2, Y: d.ship.Y - screenHeight/2})
}

func (d *demoState) enemy(i int) coord.Vec {
	a := float64(d.tick)/60 + float64(i)*2*math.Pi/demoEnemyCount
	c := coord.Vec{X: d.world.Width / 2, Y: d.world.Height / 2}
	return d.world.Wrap(coord.Vec{
		X: c.X + int(demoEnemyRadius*math.Cos(a)),
		Y: c.Y + int(demoEnemyRadius*math.Sin(a)),
	})
}

// frame encodes the current state. The legacy revision only carries the
// view offset, background and sprites.
func (d *demoState) frame(b *cmdbuf.Builder) []byte {
	b.Reset()
	final := b.Revision() == cmdbuf.RevisionFinal
	if final && d.tick%60 == 1 {
		// A small fortress west of the start position, resent every
		// second in case the chunk carrying it was cut short.
		cx, cy := d.world.Width/2/cellSize-10, d.world.Height/2/cellSize
		for i := 0; i < demoFortressW; i++ {
			b.SetBackgroundCell(cx+i, cy, 1, i%4)
		}
	}
	b.SetViewOffset(d.viewOffset())
	b.DrawBackground()
	for i := 0; i < demoEnemyCount; i++ {
		b.DrawSprite(d.enemy(i), 2, (d.tick/4+i)%8)
	}
	b.DrawSprite(d.ship, 0, 15)
	if !final {
		return append([]byte(nil), b.Bytes()...)
	}
	b.SetPlayerPositions(d.ship, coord.Vec{})
	b.SetPlayerStat(0, cmdbuf.StatScore, d.score)
	if d.tick == 1 {
		b.SetMessage(1, 1, 120)
	}
	return b.Frame()
}
