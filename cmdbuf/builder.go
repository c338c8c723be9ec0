package cmdbuf

import (
	"encoding/binary"
	"fmt"

	"multikobo/coord"
)

// Builder appends records to a byte stream. It is the producing side of the
// decoder and backs the demo server and tests.
type Builder struct {
	table *Table
	buf   []byte
	err   error
}

// NewBuilder returns a builder for rev.
func NewBuilder(rev Revision) *Builder {
	return &Builder{table: MustTable(rev)}
}

func (b *Builder) op(op Opcode) bool {
	if _, ok := b.table.Lookup(op); !ok {
		if b.err == nil {
			b.err = fmt.Errorf("cmdbuf: %v is not part of the %v revision", op, b.table.Revision())
		}
		return false
	}
	b.buf = append(b.buf, byte(op))
	return true
}

func (b *Builder) vec(v coord.Vec) {
	if b.table.Revision() == RevisionLegacy {
		var p [coord.LiteralSize]byte
		coord.PutLiteral(p[:], v)
		b.buf = append(b.buf, p[:]...)
		return
	}
	p := coord.PackVec(v)
	b.buf = append(b.buf, p[:]...)
}

func (b *Builder) SetViewOffset(v coord.Vec) *Builder {
	if b.op(OpSetViewOffset) {
		b.vec(v)
	}
	return b
}

func (b *Builder) DrawBackground() *Builder {
	b.op(OpDrawBackground)
	return b
}

// DrawSprite packs group and index into one image byte.
func (b *Builder) DrawSprite(v coord.Vec, group, index int) *Builder {
	if b.op(OpDrawSprite) {
		b.vec(v)
		b.buf = append(b.buf, byte(group<<4)|byte(index&0x0f))
	}
	return b
}

func (b *Builder) SetPlayerPositions(p0, p1 coord.Vec) *Builder {
	if b.op(OpSetPlayerPositions) {
		b.vec(p0)
		b.vec(p1)
	}
	return b
}

func (b *Builder) SetBackgroundCell(x, y, group, index int) *Builder {
	if b.op(OpSetBackgroundCell) {
		b.buf = append(b.buf, byte(x), byte(y), byte(group<<4)|byte(index&0x0f))
	}
	return b
}

func (b *Builder) ClearBackgroundCell(x, y int) *Builder {
	if b.op(OpClearBackgroundCell) {
		b.buf = append(b.buf, byte(x), byte(y))
	}
	return b
}

func (b *Builder) SetPlayerStat(player int, kind byte, value int32) *Builder {
	if b.op(OpSetPlayerStat) {
		b.buf = append(b.buf, kind&0xf0|byte(player&0x0f))
		b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(value))
	}
	return b
}

func (b *Builder) SetMessage(message byte, level, timeout int16) *Builder {
	if b.op(OpSetMessage) {
		b.buf = append(b.buf, message)
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(level))
		b.buf = binary.LittleEndian.AppendUint16(b.buf, uint16(timeout))
	}
	return b
}

// Raw appends bytes verbatim, bypassing the opcode table.
func (b *Builder) Raw(p ...byte) *Builder {
	b.buf = append(b.buf, p...)
	return b
}

// Revision is the protocol revision being written.
func (b *Builder) Revision() Revision { return b.table.Revision() }

// Len is the number of bytes written so far.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes returns the records written so far.
func (b *Builder) Bytes() []byte { return b.buf }

// Frame returns the records prefixed by a FrameStart whose size field holds
// the total frame length, header included.
func (b *Builder) Frame() []byte {
	const header = 1 + 4
	if _, ok := b.table.Lookup(OpFrameStart); !ok {
		if b.err == nil {
			b.err = fmt.Errorf("cmdbuf: %v is not part of the %v revision", OpFrameStart, b.table.Revision())
		}
		return append([]byte(nil), b.buf...)
	}
	out := make([]byte, header, header+len(b.buf))
	out[0] = byte(OpFrameStart)
	binary.LittleEndian.PutUint32(out[1:], uint32(header+len(b.buf)))
	return append(out, b.buf...)
}

// Err reports the first record the revision could not express.
func (b *Builder) Err() error { return b.err }

// Reset empties the builder for the next frame.
func (b *Builder) Reset() {
	b.buf = b.buf[:0]
	b.err = nil
}
