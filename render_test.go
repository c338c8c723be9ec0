package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multikobo/coord"
)

func TestBackgroundGridWraps(t *testing.T) {
	g := newBackgroundGrid(coord.World{Width: 2048, Height: 2048})
	require.Equal(t, 128, g.cols)
	require.Equal(t, 128, g.rows)

	g.set(130, 5, 0x12)
	img, ok := g.get(2, 5)
	assert.True(t, ok)
	assert.Equal(t, byte(0x12), img)

	g.clear(2, 133)
	_, ok = g.get(130, 5)
	assert.False(t, ok)

	g.set(0, 0, 0)
	img, ok = g.get(0, 0)
	assert.True(t, ok, "image 0 is a real tile")
	assert.Equal(t, byte(0), img)
}

type cellDraw struct {
	x, y  int
	image byte
}

func visibleCells(g *backgroundGrid, offset coord.Vec) []cellDraw {
	var out []cellDraw
	g.visible(offset, screenWidth, screenHeight, func(sx, sy int, image byte) {
		out = append(out, cellDraw{sx, sy, image})
	})
	return out
}

func TestBackgroundGridVisible(t *testing.T) {
	g := newBackgroundGrid(coord.World{Width: 2048, Height: 2048})
	g.set(10, 10, 0x21)
	g.set(100, 100, 0x22)

	assert.Equal(t, []cellDraw{{160 - 8, 160 - 8, 0x21}}, visibleCells(g, coord.Vec{X: 8, Y: 8}))
	assert.Empty(t, visibleCells(g, coord.Vec{X: 800, Y: 800}))

	// The view crosses the seam: cell 0 sits just right of the last column.
	g = newBackgroundGrid(coord.World{Width: 2048, Height: 2048})
	g.set(0, 1, 0x01)
	g.set(127, 1, 0x02)
	got := visibleCells(g, coord.Vec{X: 2040, Y: 0})
	assert.ElementsMatch(t, []cellDraw{{8, 16, 0x01}, {-8, 16, 0x02}}, got)
}

func TestEdgeShift(t *testing.T) {
	assert.Equal(t, 100, edgeShift(100, 2048))
	assert.Equal(t, 2032, edgeShift(2032, 2048))
	assert.Equal(t, -8, edgeShift(2040, 2048))
}

func TestPlotStars(t *testing.T) {
	world := coord.World{Width: 2048, Height: 2048}
	stars := newStars(starCount)
	require.Len(t, stars, starCount)
	assert.Equal(t, stars, newStars(starCount), "the field is the same every run")

	pix := make([]byte, screenWidth*screenHeight*4)
	plotStars(pix, screenWidth, screenHeight, world, coord.Vec{}, stars)
	lit := 0
	for i := 3; i < len(pix); i += 4 {
		if pix[i] != 0 {
			lit++
		}
	}
	assert.Positive(t, lit)

	// Scrolling moves the field.
	before := append([]byte(nil), pix...)
	plotStars(pix, screenWidth, screenHeight, world, coord.Vec{X: 64, Y: 0}, stars)
	assert.NotEqual(t, before, pix)
}

func TestSpritePixels(t *testing.T) {
	small := spritePixels(1, 0)
	large := spritePixels(1, 15)
	require.Len(t, small, spriteSize*spriteSize*4)

	count := func(pix []byte) int {
		n := 0
		for i := 3; i < len(pix); i += 4 {
			if pix[i] != 0 {
				n++
			}
		}
		return n
	}
	assert.Less(t, count(small), count(large))

	mid := (spriteSize/2*spriteSize + spriteSize/2) * 4
	c := groupColors[1]
	assert.Equal(t, []byte{c.R, c.G, c.B, c.A}, small[mid:mid+4])
}

func TestScreenRendererCellsWithoutTarget(t *testing.T) {
	r := newScreenRenderer(coord.World{Width: 2048, Height: 2048})
	r.SetBackgroundCell(3, 4, 0x35)
	img, ok := r.grid.get(3, 4)
	assert.True(t, ok)
	assert.Equal(t, byte(0x35), img)
	r.ClearBackgroundCell(3, 4)
	_, ok = r.grid.get(3, 4)
	assert.False(t, ok)

	// No screen yet: drawing calls are dropped.
	r.DrawBackground(coord.Vec{})
	r.DrawSprite(0, 0, coord.Vec{}, coord.Vec{})
}
