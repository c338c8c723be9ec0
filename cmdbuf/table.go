package cmdbuf

import (
	"encoding/binary"
	"fmt"

	"multikobo/coord"
)

// Layout describes the fixed argument block that follows an opcode byte.
type Layout struct {
	Opcode Opcode
	Size   int
	decode func(args []byte) Command
}

// Table maps every opcode byte to its layout. Bytes without a layout are
// invalid opcodes.
type Table struct {
	rev     Revision
	layouts [256]*Layout
}

// NewTable builds and validates the opcode table for rev.
func NewTable(rev Revision) (*Table, error) {
	var ls []Layout
	switch rev {
	case RevisionFinal:
		ls = finalLayouts
	case RevisionLegacy:
		ls = legacyLayouts
	default:
		return nil, fmt.Errorf("cmdbuf: no opcode table for %v", rev)
	}
	t := &Table{rev: rev}
	for i := range ls {
		l := ls[i]
		if l.decode == nil || l.Size < 0 {
			return nil, fmt.Errorf("cmdbuf: bad layout for %v", l.Opcode)
		}
		if t.layouts[l.Opcode] != nil {
			return nil, fmt.Errorf("cmdbuf: duplicate layout for %v", l.Opcode)
		}
		t.layouts[l.Opcode] = &l
	}
	return t, nil
}

// MustTable is NewTable for the built-in revisions.
func MustTable(rev Revision) *Table {
	t, err := NewTable(rev)
	if err != nil {
		panic(err)
	}
	return t
}

// Revision reports which protocol revision t decodes.
func (t *Table) Revision() Revision { return t.rev }

// Lookup returns the layout registered for op.
func (t *Table) Lookup(op Opcode) (Layout, bool) {
	l := t.layouts[op]
	if l == nil {
		return Layout{}, false
	}
	return *l, true
}

// Scan walks buf from the start and calls fn for every complete record, in
// buffer order. An unknown opcode byte is passed to invalid and skipped one
// byte at a time. A record cut short by the end of buf ends the scan silently;
// the return value reports whether that happened.
func (t *Table) Scan(buf []byte, fn func(offset int, c Command), invalid func(*InvalidOpcodeError)) (truncated bool) {
	p := 0
	for p < len(buf) {
		l := t.layouts[buf[p]]
		if l == nil {
			if invalid != nil {
				invalid(&InvalidOpcodeError{Opcode: buf[p], Offset: p})
			}
			p++
			continue
		}
		end := p + 1 + l.Size
		if end > len(buf) {
			return true
		}
		fn(p, l.decode(buf[p+1:end]))
		p = end
	}
	return false
}

// InvalidOpcodeError reports an opcode byte with no layout.
type InvalidOpcodeError struct {
	Opcode byte
	Offset int
}

func (e *InvalidOpcodeError) Error() string {
	return fmt.Sprintf("cmdbuf: invalid opcode %#02x at offset %d", e.Opcode, e.Offset)
}

var finalLayouts = []Layout{
	{OpSetViewOffset, coord.PackedSize, func(a []byte) Command {
		return SetViewOffset{Offset: coord.UnpackVec(a)}
	}},
	{OpDrawBackground, 0, func([]byte) Command {
		return DrawBackground{}
	}},
	{OpDrawSprite, coord.PackedSize + 1, func(a []byte) Command {
		return DrawSprite{Pos: coord.UnpackVec(a), Image: a[3]}
	}},
	{OpSetPlayerPositions, 2 * coord.PackedSize, func(a []byte) Command {
		return SetPlayerPositions{Players: [2]coord.Vec{coord.UnpackVec(a), coord.UnpackVec(a[3:])}}
	}},
	{OpSetBackgroundCell, 3, func(a []byte) Command {
		return SetBackgroundCell{X: int(a[0]), Y: int(a[1]), Image: a[2]}
	}},
	{OpClearBackgroundCell, 2, func(a []byte) Command {
		return ClearBackgroundCell{X: int(a[0]), Y: int(a[1])}
	}},
	{OpSetPlayerStat, 5, func(a []byte) Command {
		return SetPlayerStat{Stat: a[0], Value: int32(binary.LittleEndian.Uint32(a[1:5]))}
	}},
	{OpSetMessage, 5, func(a []byte) Command {
		return SetMessage{
			Message: a[0],
			Level:   int16(binary.LittleEndian.Uint16(a[1:3])),
			Timeout: int16(binary.LittleEndian.Uint16(a[3:5])),
		}
	}},
	{OpFrameStart, 4, func(a []byte) Command {
		return FrameStart{Size: int32(binary.LittleEndian.Uint32(a))}
	}},
}

var legacyLayouts = []Layout{
	{OpSetViewOffset, coord.LiteralSize, func(a []byte) Command {
		return SetViewOffset{Offset: coord.UnpackLiteral(a)}
	}},
	{OpDrawBackground, 0, func([]byte) Command {
		return DrawBackground{}
	}},
	{OpDrawSprite, coord.LiteralSize + 1, func(a []byte) Command {
		return DrawSprite{Pos: coord.UnpackLiteral(a), Image: a[4]}
	}},
}
