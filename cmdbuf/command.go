package cmdbuf

import (
	"fmt"

	"multikobo/coord"
)

// Command is a single decoded record. The set of implementations is closed;
// each one knows how to apply itself to a Decoder pass.
type Command interface {
	Opcode() Opcode
	apply(p *pass)
}

// SetViewOffset moves the camera origin used by later draw commands.
type SetViewOffset struct {
	Offset coord.Vec
}

// DrawBackground paints the background layer at the current view offset.
type DrawBackground struct{}

// DrawSprite blits one image from the sprite sheet at a world position.
type DrawSprite struct {
	Pos   coord.Vec
	Image byte
}

// Group is the sprite sheet row.
func (c DrawSprite) Group() int { return int(c.Image >> 4) }

// Index is the image within the group.
func (c DrawSprite) Index() int { return int(c.Image & 0x0f) }

// SetPlayerPositions carries both player markers for the minimap. It has no
// effect yet.
type SetPlayerPositions struct {
	Players [2]coord.Vec
}

// SetBackgroundCell places a tile in the background grid.
type SetBackgroundCell struct {
	X, Y  int
	Image byte
}

// ClearBackgroundCell removes a tile from the background grid.
type ClearBackgroundCell struct {
	X, Y int
}

// Player stat kinds stored in the high nibble of SetPlayerStat.Stat.
const (
	StatScore = 0x00
	StatLives = 0x10
)

// SetPlayerStat updates a score or lives counter. It has no effect yet.
type SetPlayerStat struct {
	Stat  byte
	Value int32
}

// Player is the low nibble of Stat.
func (c SetPlayerStat) Player() int { return int(c.Stat & 0x0f) }

// Kind is StatScore or StatLives.
func (c SetPlayerStat) Kind() byte { return c.Stat & 0xf0 }

// SetMessage shows an overlay message. It has no effect yet.
type SetMessage struct {
	Message byte
	Level   int16
	Timeout int16
}

// FrameStart marks a frame boundary and carries the frame's byte size.
type FrameStart struct {
	Size int32
}

func (SetViewOffset) Opcode() Opcode       { return OpSetViewOffset }
func (DrawBackground) Opcode() Opcode      { return OpDrawBackground }
func (DrawSprite) Opcode() Opcode          { return OpDrawSprite }
func (SetPlayerPositions) Opcode() Opcode  { return OpSetPlayerPositions }
func (SetBackgroundCell) Opcode() Opcode   { return OpSetBackgroundCell }
func (ClearBackgroundCell) Opcode() Opcode { return OpClearBackgroundCell }
func (SetPlayerStat) Opcode() Opcode       { return OpSetPlayerStat }
func (SetMessage) Opcode() Opcode          { return OpSetMessage }
func (FrameStart) Opcode() Opcode          { return OpFrameStart }

func (c SetViewOffset) apply(p *pass) { p.d.offset = p.d.world.Wrap(c.Offset) }

func (DrawBackground) apply(p *pass) { p.r.DrawBackground(p.d.offset) }

func (c DrawSprite) apply(p *pass) {
	at := p.d.world.ToScreen(c.Pos, p.d.offset)
	p.r.DrawSprite(c.Group(), c.Index(), at, p.d.offset)
}

func (SetPlayerPositions) apply(*pass) {}

func (c SetBackgroundCell) apply(p *pass) { p.r.SetBackgroundCell(c.X, c.Y, c.Image) }

func (c ClearBackgroundCell) apply(p *pass) { p.r.ClearBackgroundCell(c.X, c.Y) }

func (SetPlayerStat) apply(*pass) {}

func (SetMessage) apply(*pass) {}

func (FrameStart) apply(p *pass) { p.d.frames.Add(1) }

// Describe renders c for logs and the replay dump.
func Describe(c Command) string {
	switch c := c.(type) {
	case SetViewOffset:
		return fmt.Sprintf("%v %v", c.Opcode(), c.Offset)
	case DrawBackground:
		return c.Opcode().String()
	case DrawSprite:
		return fmt.Sprintf("%v %v group=%d index=%d", c.Opcode(), c.Pos, c.Group(), c.Index())
	case SetPlayerPositions:
		return fmt.Sprintf("%v %v %v", c.Opcode(), c.Players[0], c.Players[1])
	case SetBackgroundCell:
		return fmt.Sprintf("%v (%d,%d) image=%#02x", c.Opcode(), c.X, c.Y, c.Image)
	case ClearBackgroundCell:
		return fmt.Sprintf("%v (%d,%d)", c.Opcode(), c.X, c.Y)
	case SetPlayerStat:
		return fmt.Sprintf("%v player=%d kind=%#02x value=%d", c.Opcode(), c.Player(), c.Kind(), c.Value)
	case SetMessage:
		return fmt.Sprintf("%v message=%d level=%d timeout=%d", c.Opcode(), c.Message, c.Level, c.Timeout)
	case FrameStart:
		return fmt.Sprintf("%v size=%d", c.Opcode(), c.Size)
	}
	return fmt.Sprintf("%v", c)
}
