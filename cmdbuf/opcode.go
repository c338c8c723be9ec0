package cmdbuf

import (
	"fmt"
	"strings"
)

// Opcode is the leading byte of every record in the command stream.
type Opcode byte

// Opcodes of the final protocol revision. The legacy revision only uses the
// first three, with literal coordinates.
const (
	OpSetViewOffset       Opcode = 0x00
	OpDrawBackground      Opcode = 0x01
	OpDrawSprite          Opcode = 0x02
	OpSetPlayerPositions  Opcode = 0x03
	OpSetBackgroundCell   Opcode = 0x04
	OpClearBackgroundCell Opcode = 0x05
	OpSetPlayerStat       Opcode = 0x06
	OpSetMessage          Opcode = 0x07
	OpFrameStart          Opcode = 0xff
)

var opcodeNames = map[Opcode]string{
	OpSetViewOffset:       "SetViewOffset",
	OpDrawBackground:      "DrawBackground",
	OpDrawSprite:          "DrawSprite",
	OpSetPlayerPositions:  "SetPlayerPositions",
	OpSetBackgroundCell:   "SetBackgroundCell",
	OpClearBackgroundCell: "ClearBackgroundCell",
	OpSetPlayerStat:       "SetPlayerStat",
	OpSetMessage:          "SetMessage",
	OpFrameStart:          "FrameStart",
}

func (o Opcode) String() string {
	if n, ok := opcodeNames[o]; ok {
		return n
	}
	return fmt.Sprintf("Opcode(%#02x)", byte(o))
}

// Revision selects the opcode table and coordinate encoding.
type Revision int

const (
	// RevisionFinal packs coordinates into 12 bits per component.
	RevisionFinal Revision = iota
	// RevisionLegacy is the first stream format: three opcodes and
	// little-endian int16 coordinates.
	RevisionLegacy
)

func (r Revision) String() string {
	switch r {
	case RevisionFinal:
		return "final"
	case RevisionLegacy:
		return "legacy"
	}
	return fmt.Sprintf("Revision(%d)", int(r))
}

// ParseRevision accepts the names printed by Revision.String.
func ParseRevision(s string) (Revision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "final":
		return RevisionFinal, nil
	case "legacy":
		return RevisionLegacy, nil
	}
	return 0, fmt.Errorf("cmdbuf: unknown protocol revision %q", s)
}

// ChunkSize is the receive size used by clients of this revision.
func (r Revision) ChunkSize() int {
	if r == RevisionLegacy {
		return 4096
	}
	return 40960
}

// WorldSize is the default playfield edge length for this revision.
func (r Revision) WorldSize() int {
	if r == RevisionLegacy {
		return 4096
	}
	return 2048
}
