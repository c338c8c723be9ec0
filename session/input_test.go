package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDirectionTable(t *testing.T) {
	tests := []struct {
		name                  string
		up, down, left, right bool
		want                  Direction
	}{
		{"none", false, false, false, false, NoDirection},
		{"up", true, false, false, false, North},
		{"up right", true, false, false, true, NorthEast},
		{"right", false, false, false, true, East},
		{"down right", false, true, false, true, SouthEast},
		{"down", false, true, false, false, South},
		{"down left", false, true, true, false, SouthWest},
		{"left", false, false, true, false, West},
		{"up left", true, false, true, false, NorthWest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := InputState{Up: tt.up, Down: tt.down, Left: tt.left, Right: tt.right}
			assert.Equal(t, tt.want, st.Direction())
		})
	}
}

func TestDirectionValues(t *testing.T) {
	assert.EqualValues(t, 0, North)
	assert.EqualValues(t, 1, NorthEast)
	assert.EqualValues(t, 2, East)
	assert.EqualValues(t, 3, SouthEast)
	assert.EqualValues(t, 4, South)
	assert.EqualValues(t, 5, SouthWest)
	assert.EqualValues(t, 6, West)
	assert.EqualValues(t, 7, NorthWest)
	assert.EqualValues(t, 8, NoDirection)
	assert.Equal(t, "none", NoDirection.String())
	assert.Equal(t, "NW", NorthWest.String())
}

func TestApplyClearsOpposite(t *testing.T) {
	keys := []Key{KeyUp, KeyDown, KeyLeft, KeyRight, KeyFire}
	var st InputState
	// Walk every press/release sequence of length 3 and check the
	// opposite pairs are never both held.
	var walk func(depth int, st InputState)
	walk = func(depth int, st InputState) {
		require.False(t, st.Up && st.Down, "up and down both held: %+v", st)
		require.False(t, st.Left && st.Right, "left and right both held: %+v", st)
		if depth == 0 {
			return
		}
		for _, k := range keys {
			for _, pressed := range []bool{true, false} {
				next := st
				require.True(t, next.Apply(k, pressed))
				walk(depth-1, next)
			}
		}
	}
	walk(3, st)
}

func TestApplySequence(t *testing.T) {
	var st InputState
	st.Apply(KeyUp, true)
	assert.Equal(t, North, st.Direction())
	st.Apply(KeyDown, true)
	assert.False(t, st.Up)
	assert.Equal(t, South, st.Direction())
	st.Apply(KeyLeft, true)
	assert.Equal(t, SouthWest, st.Direction())
	st.Apply(KeyDown, false)
	assert.Equal(t, West, st.Direction())
	st.Apply(KeyLeft, false)
	assert.Equal(t, NoDirection, st.Direction())

	assert.False(t, st.Apply(KeyNone, true))
	assert.False(t, st.Apply(Key(99), true))
	assert.Equal(t, InputState{}, st)
}

func TestEncode(t *testing.T) {
	assert.Equal(t, byte(0x80), InputState{}.Encode())
	assert.Equal(t, byte(0x81), InputState{Fire: true}.Encode())
	assert.Equal(t, byte(0x10), InputState{Up: true, Right: true}.Encode())
	assert.Equal(t, byte(0x71), InputState{Up: true, Left: true, Fire: true}.Encode())
	assert.Equal(t, byte(0x40), InputState{Down: true}.Encode())

	dir, fire := DecodeInput(0x71)
	assert.Equal(t, NorthWest, dir)
	assert.True(t, fire)
	dir, fire = DecodeInput(0x80)
	assert.Equal(t, NoDirection, dir)
	assert.False(t, fire)
}
