package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multikobo/cmdbuf"
	"multikobo/coord"
	"multikobo/session"
)

func TestDemoFrameDecodes(t *testing.T) {
	world := coord.World{Width: 2048, Height: 2048}
	st := newDemoState(world)
	st.step(session.East, true)

	b := cmdbuf.NewBuilder(cmdbuf.RevisionFinal)
	frame := st.frame(b)
	require.NoError(t, b.Err())

	var invalid int
	d, err := cmdbuf.New(cmdbuf.Config{World: world, OnInvalidOpcode: func(*cmdbuf.InvalidOpcodeError) { invalid++ }})
	require.NoError(t, err)
	d.ReplaceBuffer(frame)
	rec := &cmdbuf.Recorder{}
	assert.False(t, d.Run(rec))
	assert.Zero(t, invalid)

	assert.Equal(t, coord.Vec{X: 1024 + demoShipSpeed - screenWidth/2, Y: 1024 - screenHeight/2}, d.ViewOffset())
	var sprites, cells, backgrounds int
	for _, c := range rec.Calls {
		switch c.Method {
		case "DrawSprite":
			sprites++
		case "SetBackgroundCell":
			cells++
		case "DrawBackground":
			backgrounds++
		}
	}
	assert.Equal(t, demoEnemyCount+1, sprites)
	assert.Equal(t, demoFortressW, cells, "cells go out on the first tick")
	assert.Equal(t, 1, backgrounds)
	assert.EqualValues(t, 1, d.Stats().Frames)
	assert.EqualValues(t, 1, st.score)

	// The ship is drawn in the middle of the view.
	last := rec.Calls[len(rec.Calls)-1]
	assert.Equal(t, coord.Vec{X: screenWidth / 2, Y: screenHeight / 2}, last.At)
}

func TestDemoFrameLegacy(t *testing.T) {
	world := coord.World{Width: 4096, Height: 4096}
	st := newDemoState(world)
	st.step(session.NoDirection, false)
	b := cmdbuf.NewBuilder(cmdbuf.RevisionLegacy)
	frame := st.frame(b)
	require.NoError(t, b.Err())

	d, err := cmdbuf.New(cmdbuf.Config{Revision: cmdbuf.RevisionLegacy, OnInvalidOpcode: func(e *cmdbuf.InvalidOpcodeError) {
		t.Errorf("unexpected %v", e)
	}})
	require.NoError(t, err)
	d.ReplaceBuffer(frame)
	rec := &cmdbuf.Recorder{}
	d.Run(rec)
	assert.Len(t, rec.Calls, 1+demoEnemyCount+1)
}

func TestDemoShipWraps(t *testing.T) {
	world := coord.World{Width: 2048, Height: 2048}
	st := newDemoState(world)
	st.ship = coord.Vec{X: 1, Y: 0}
	st.step(session.NorthWest, false)
	assert.Equal(t, coord.Vec{X: 2048 - 2, Y: 2048 - 3}, st.ship)
}

func TestDemoServerSession(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	world := coord.World{Width: 2048, Height: 2048}
	srv := newDemoServer(ln, cmdbuf.RevisionFinal, world, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ctx) }()

	d, err := cmdbuf.New(cmdbuf.Config{World: world})
	require.NoError(t, err)
	s, err := session.Dial(ctx, ln.Addr().String(), d, session.Config{TickInterval: 2 * time.Millisecond})
	require.NoError(t, err)
	assert.Equal(t, []byte("HI!"), s.Reply())
	go s.Run(ctx)

	require.Eventually(t, func() bool { return d.Stats().Buffers > 0 }, 2*time.Second, time.Millisecond)
	rec := &cmdbuf.Recorder{}
	d.Run(rec)
	assert.NotEmpty(t, rec.Calls)

	require.NoError(t, s.HandleKey(session.KeyRight, true))
	require.Eventually(t, func() bool {
		dir, _ := srv.lastInput()
		return dir == session.East
	}, 2*time.Second, time.Millisecond)
	assert.EqualValues(t, 1, srv.players.Load())

	s.Stop()
	<-s.Done()
	cancel()
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("demo server did not stop")
	}
	assert.Positive(t, srv.frames.Load())
}
