// Package coord packs world coordinates for the command stream.
//
// Coordinates travel as two 12-bit magnitudes folded into three bytes:
//
//	a = x & 0xff
//	b = (x>>8)&0x0f << 4 | y&0x0f
//	c = (y>>4) & 0xff
//
// The codec knows nothing about the world size; World applies the toroidal
// wrap once a coordinate has been decoded.
package coord

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// PackedSize is the number of bytes used by a packed coordinate pair.
const PackedSize = 3

// Mask12 keeps the low 12 bits of a component.
const Mask12 = 0xfff

// Vec is a point in world or screen space.
type Vec struct {
	X, Y int
}

func (v Vec) String() string { return fmt.Sprintf("(%d,%d)", v.X, v.Y) }

// Sub returns v - o without wrapping.
func (v Vec) Sub(o Vec) Vec { return Vec{v.X - o.X, v.Y - o.Y} }

// Pack folds x and y into three bytes. Only the low 12 bits of each
// component survive.
func Pack(x, y int) [PackedSize]byte {
	return [PackedSize]byte{
		byte(x & 0xff),
		byte((x>>8)&0x0f)<<4 | byte(y&0x0f),
		byte((y >> 4) & 0xff),
	}
}

// Unpack is the inverse of Pack. Any three bytes decode to a valid pair.
func Unpack(a, b, c byte) (x, y int) {
	x = int(a) | int(b&0xf0)<<4
	y = int(c)<<4 | int(b&0x0f)
	return x, y
}

// PackVec is Pack for a Vec.
func PackVec(v Vec) [PackedSize]byte { return Pack(v.X, v.Y) }

// UnpackVec decodes the first three bytes of p. The caller guarantees
// len(p) >= PackedSize.
func UnpackVec(p []byte) Vec {
	x, y := Unpack(p[0], p[1], p[2])
	return Vec{x, y}
}

// LiteralSize is the size of a legacy literal coordinate pair.
const LiteralSize = 4

// UnpackLiteral decodes the legacy little-endian int16 pair used by the
// first protocol revision.
func UnpackLiteral(p []byte) Vec {
	x := int16(binary.LittleEndian.Uint16(p[0:2]))
	y := int16(binary.LittleEndian.Uint16(p[2:4]))
	return Vec{int(x), int(y)}
}

// PutLiteral writes v as a legacy int16 pair into p.
func PutLiteral(p []byte, v Vec) {
	binary.LittleEndian.PutUint16(p[0:2], uint16(int16(v.X)))
	binary.LittleEndian.PutUint16(p[2:4], uint16(int16(v.Y)))
}

// ErrWorldSize is returned for world dimensions that are not a power of two.
var ErrWorldSize = errors.New("coord: world size must be a positive power of two")

// World is a toroidal playfield of power-of-two width and height.
type World struct {
	Width, Height int
}

// NewWorld validates the dimensions.
func NewWorld(width, height int) (World, error) {
	if !powerOfTwo(width) || !powerOfTwo(height) {
		return World{}, fmt.Errorf("%w: %dx%d", ErrWorldSize, width, height)
	}
	return World{Width: width, Height: height}, nil
}

func powerOfTwo(n int) bool { return n > 0 && n&(n-1) == 0 }

// Wrap maps v onto the torus. Negative components wrap to the far edge.
func (w World) Wrap(v Vec) Vec {
	return Vec{v.X & (w.Width - 1), v.Y & (w.Height - 1)}
}

// ToScreen translates a world position by the view offset and wraps it.
func (w World) ToScreen(pos, offset Vec) Vec {
	return w.Wrap(pos.Sub(offset))
}
