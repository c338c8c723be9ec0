package session

import "fmt"

// Direction is the eight-way heading sent to the server, clockwise from
// north, with NoDirection when no direction is held.
type Direction uint8

const (
	North Direction = iota
	NorthEast
	East
	SouthEast
	South
	SouthWest
	West
	NorthWest
	NoDirection
)

var directionNames = [...]string{"N", "NE", "E", "SE", "S", "SW", "W", "NW", "none"}

func (d Direction) String() string {
	if int(d) < len(directionNames) {
		return directionNames[d]
	}
	return fmt.Sprintf("Direction(%d)", uint8(d))
}

// Key is a logical control, independent of keyboard or gamepad mapping.
type Key int

const (
	KeyNone Key = iota
	KeyUp
	KeyDown
	KeyLeft
	KeyRight
	KeyFire
)

// InputState is the local player's controls. Up and Down are never both
// set, nor Left and Right, as long as it is only changed through Apply.
type InputState struct {
	Up, Down, Left, Right, Fire bool
}

// Apply records a press or release of k. A press clears the opposite
// direction. It reports whether k is a recognized control.
func (s *InputState) Apply(k Key, pressed bool) bool {
	switch k {
	case KeyUp:
		s.Up = pressed
		if pressed {
			s.Down = false
		}
	case KeyDown:
		s.Down = pressed
		if pressed {
			s.Up = false
		}
	case KeyLeft:
		s.Left = pressed
		if pressed {
			s.Right = false
		}
	case KeyRight:
		s.Right = pressed
		if pressed {
			s.Left = false
		}
	case KeyFire:
		s.Fire = pressed
	default:
		return false
	}
	return true
}

// Direction folds the four flags into a heading. Vertical flags take
// priority in the lookup; this table is part of the wire protocol.
func (s InputState) Direction() Direction {
	switch {
	case s.Up && s.Right:
		return NorthEast
	case s.Up && s.Left:
		return NorthWest
	case s.Up:
		return North
	case s.Down && s.Right:
		return SouthEast
	case s.Down && s.Left:
		return SouthWest
	case s.Down:
		return South
	case s.Right:
		return East
	case s.Left:
		return West
	}
	return NoDirection
}

// Encode packs the state into the single input byte:
// direction in the high nibble, fire in bit 0.
func (s InputState) Encode() byte {
	b := byte(s.Direction()) << 4
	if s.Fire {
		b |= 1
	}
	return b
}

// DecodeInput splits an input byte as the server sees it.
func DecodeInput(b byte) (Direction, bool) {
	return Direction(b >> 4), b&1 != 0
}
