package cmdbuf

import (
	"fmt"
	"strings"

	"multikobo/coord"
)

// Renderer is the drawing capability the decoder dispatches into. All
// coordinates are already decoded and wrapped; implementations never see
// wire bytes.
type Renderer interface {
	// DrawBackground paints the background layer for the given view offset.
	DrawBackground(offset coord.Vec)
	// DrawSprite blits image (group, index) at screen position at.
	DrawSprite(group, index int, at coord.Vec, offset coord.Vec)
	SetBackgroundCell(x, y int, image byte)
	ClearBackgroundCell(x, y int)
}

// Call is one Renderer invocation captured by a Recorder.
type Call struct {
	Method       string
	Group, Index int
	At, Offset   coord.Vec
	X, Y         int
	Image        byte
}

func (c Call) String() string {
	switch c.Method {
	case "DrawBackground":
		return fmt.Sprintf("DrawBackground offset=%v", c.Offset)
	case "DrawSprite":
		return fmt.Sprintf("DrawSprite %d/%d at=%v offset=%v", c.Group, c.Index, c.At, c.Offset)
	case "SetBackgroundCell":
		return fmt.Sprintf("SetBackgroundCell (%d,%d) image=%#02x", c.X, c.Y, c.Image)
	case "ClearBackgroundCell":
		return fmt.Sprintf("ClearBackgroundCell (%d,%d)", c.X, c.Y)
	}
	return c.Method
}

// Recorder is a Renderer that remembers every call. It backs the replay
// dump and tests.
type Recorder struct {
	Calls []Call
}

func (r *Recorder) DrawBackground(offset coord.Vec) {
	r.Calls = append(r.Calls, Call{Method: "DrawBackground", Offset: offset})
}

func (r *Recorder) DrawSprite(group, index int, at coord.Vec, offset coord.Vec) {
	r.Calls = append(r.Calls, Call{Method: "DrawSprite", Group: group, Index: index, At: at, Offset: offset})
}

func (r *Recorder) SetBackgroundCell(x, y int, image byte) {
	r.Calls = append(r.Calls, Call{Method: "SetBackgroundCell", X: x, Y: y, Image: image})
}

func (r *Recorder) ClearBackgroundCell(x, y int) {
	r.Calls = append(r.Calls, Call{Method: "ClearBackgroundCell", X: x, Y: y})
}

// Reset forgets recorded calls.
func (r *Recorder) Reset() { r.Calls = r.Calls[:0] }

func (r *Recorder) String() string {
	var b strings.Builder
	for _, c := range r.Calls {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return b.String()
}
