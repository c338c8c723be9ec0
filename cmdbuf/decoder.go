// Package cmdbuf decodes the server's command stream and dispatches it into
// a Renderer.
//
// The stream has no framing beyond the opcode byte: every record is one
// opcode followed by a fixed argument block whose size the opcode implies.
// The network reader hands each received chunk to Decoder.ReplaceBuffer and
// the render tick calls Decoder.Run.
//
// ReplaceBuffer is last-write-wins. A record split across two reads is lost;
// nothing is carried over from the previous buffer. Real servers depend on
// this behavior, so it is kept as is.
package cmdbuf

import (
	"fmt"
	"log"
	"sync/atomic"

	"multikobo/coord"
)

// Config configures a Decoder. The zero value decodes the final revision on
// its default world size.
type Config struct {
	Revision Revision
	// World is the toroidal playfield. Zero means Revision.WorldSize square.
	World coord.World
	// OnInvalidOpcode receives unknown opcode diagnostics. Nil logs them.
	OnInvalidOpcode func(*InvalidOpcodeError)
}

// Stats counts decoder activity since creation.
type Stats struct {
	Passes          uint64
	Records         uint64
	InvalidOpcodes  uint64
	TruncatedPasses uint64
	Frames          uint64
	Buffers         uint64
}

// Decoder owns the current command buffer and the view offset.
// ReplaceBuffer may be called from any goroutine; Run and ViewOffset belong
// to the render goroutine.
type Decoder struct {
	table     *Table
	world     coord.World
	mailbox   *Mailbox
	onInvalid func(*InvalidOpcodeError)

	offset coord.Vec
	// published is offset as of the end of the last Run.
	published atomic.Pointer[coord.Vec]

	passes    atomic.Uint64
	records   atomic.Uint64
	invalid   atomic.Uint64
	truncated atomic.Uint64
	frames    atomic.Uint64
	buffers   atomic.Uint64
}

// New builds a decoder. It fails if the opcode table or world size is
// invalid.
func New(cfg Config) (*Decoder, error) {
	table, err := NewTable(cfg.Revision)
	if err != nil {
		return nil, err
	}
	world := cfg.World
	if world == (coord.World{}) {
		n := cfg.Revision.WorldSize()
		world = coord.World{Width: n, Height: n}
	}
	if world, err = coord.NewWorld(world.Width, world.Height); err != nil {
		return nil, fmt.Errorf("cmdbuf: %w", err)
	}
	d := &Decoder{
		table:     table,
		world:     world,
		mailbox:   NewMailbox(),
		onInvalid: cfg.OnInvalidOpcode,
	}
	if d.onInvalid == nil {
		d.onInvalid = func(e *InvalidOpcodeError) { log.Print(e) }
	}
	return d, nil
}

// ReplaceBuffer installs buf as the current buffer, discarding whatever was
// left of the previous one. The decoder keeps buf; the caller must not
// reuse it.
func (d *Decoder) ReplaceBuffer(buf []byte) {
	d.buffers.Add(1)
	d.mailbox.Store(buf)
}

// Clear drops the current buffer so the next Run dispatches nothing. The
// view offset is kept.
func (d *Decoder) Clear() { d.mailbox.slot.Store(nil) }

// Ready signals that ReplaceBuffer was called since the last receive.
func (d *Decoder) Ready() <-chan struct{} { return d.mailbox.Ready() }

// Buffer returns the current buffer.
func (d *Decoder) Buffer() []byte { return d.mailbox.Load() }

// ViewOffset is the offset set by the last SetViewOffset record.
func (d *Decoder) ViewOffset() coord.Vec { return d.offset }

// LastViewOffset is the view offset as of the end of the last Run. Unlike
// ViewOffset it is safe from any goroutine.
func (d *Decoder) LastViewOffset() coord.Vec {
	if p := d.published.Load(); p != nil {
		return *p
	}
	return coord.Vec{}
}

// World reports the playfield the decoder wraps against.
func (d *Decoder) World() coord.World { return d.world }

// Table exposes the opcode table in use.
func (d *Decoder) Table() *Table { return d.table }

type pass struct {
	d *Decoder
	r Renderer
}

// Run dispatches every record of the current buffer into r, in buffer order.
// It reports whether the pass ended on a truncated record.
func (d *Decoder) Run(r Renderer) (truncated bool) {
	buf := d.mailbox.Load()
	d.passes.Add(1)
	p := &pass{d: d, r: r}
	truncated = d.table.Scan(buf, func(_ int, c Command) {
		c.apply(p)
		d.records.Add(1)
	}, func(e *InvalidOpcodeError) {
		d.invalid.Add(1)
		d.onInvalid(e)
	})
	if truncated {
		d.truncated.Add(1)
	}
	if last := d.published.Load(); last == nil || *last != d.offset {
		offset := d.offset
		d.published.Store(&offset)
	}
	return truncated
}

// Stats returns a snapshot of the counters. Safe from any goroutine.
func (d *Decoder) Stats() Stats {
	return Stats{
		Passes:          d.passes.Load(),
		Records:         d.records.Load(),
		InvalidOpcodes:  d.invalid.Load(),
		TruncatedPasses: d.truncated.Load(),
		Frames:          d.frames.Load(),
		Buffers:         d.buffers.Load(),
	}
}
