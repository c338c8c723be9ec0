package main

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multikobo/cmdbuf"
	"multikobo/session"
	"multikobo/spotter"
)

func TestTaskGroup(t *testing.T) {
	g := newTaskGroup(2)
	var ran atomic.Int32
	boom := errors.New("boom")
	g.Go("ok", func() error { ran.Add(1); return nil })
	g.Go("fails", func() error { ran.Add(1); return boom })
	g.Go("third", func() error { ran.Add(1); return nil })
	g.Wait()

	assert.EqualValues(t, 3, ran.Load())
	assert.NoError(t, g.Err("ok"))
	assert.ErrorIs(t, g.Err("fails"), boom)
	assert.NoError(t, g.Err("missing"))
}

func TestTaskGroupLimit(t *testing.T) {
	g := newTaskGroup(1)
	var running, peak atomic.Int32
	for i := 0; i < 4; i++ {
		g.Go("worker", func() error {
			n := running.Add(1)
			if n > peak.Load() {
				peak.Store(n)
			}
			time.Sleep(2 * time.Millisecond)
			running.Add(-1)
			return nil
		})
	}
	g.Wait()
	assert.EqualValues(t, 1, peak.Load())
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1 minute 5 seconds", formatDuration(65*time.Second))
	assert.Equal(t, "2 hours 3 minutes", formatDuration(2*time.Hour+3*time.Minute+10*time.Second))
}

func TestRunSummary(t *testing.T) {
	r := runSummary{
		Elapsed:  3 * time.Second,
		Decoder:  cmdbuf.Stats{Buffers: 1200, Records: 34567},
		Sessions: 1,
	}
	out := r.String()
	assert.Contains(t, out, "ran for 3 seconds")
	assert.Contains(t, out, "1,200 buffers")
	assert.Contains(t, out, "34,567 records")
	assert.NotContains(t, out, "session:")
	assert.NotContains(t, out, "discovery:")

	r.Session = &session.Stats{BytesIn: 2_000_000, Chunks: 50, InputsSent: 7, Uptime: 2 * time.Second}
	r.Spotter = &spotter.Stats{Datagrams: 9, Added: 2, Removed: 1, Evicted: 1}
	out = r.String()
	require.Contains(t, out, "session: 2.0 MB received in 50 chunks, 7 inputs sent")
	assert.Contains(t, out, "(1 sessions)")
	assert.Contains(t, out, "discovery: 9 datagrams, 2 hosts added, 1 signed off, 1 timed out")
}
