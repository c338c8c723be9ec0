package main

import (
	"image/color"
	"math/rand/v2"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/vector"

	"multikobo/cmdbuf"
	"multikobo/coord"
)

const (
	screenWidth  = 640
	screenHeight = 400
	cellSize     = 16
	spriteSize   = 16

	starCount = 2500
	starSeed  = 900
)

// edgeShift moves a wrapped screen coordinate near the far edge of the torus
// back by one world size so sprites straddling the seam stay visible.
func edgeShift(v, size int) int {
	if size-v < cellSize {
		return v - size
	}
	return v
}

// backgroundGrid holds the tile cells set by the server. Cell coordinates
// wrap modulo the grid size.
type backgroundGrid struct {
	cols, rows int
	cells      []int16
}

func newBackgroundGrid(w coord.World) *backgroundGrid {
	g := &backgroundGrid{cols: w.Width / cellSize, rows: w.Height / cellSize}
	if g.cols < 1 {
		g.cols = 1
	}
	if g.rows < 1 {
		g.rows = 1
	}
	g.cells = make([]int16, g.cols*g.rows)
	g.reset()
	return g
}

func (g *backgroundGrid) reset() {
	for i := range g.cells {
		g.cells[i] = -1
	}
}

func (g *backgroundGrid) index(x, y int) int {
	x = ((x % g.cols) + g.cols) % g.cols
	y = ((y % g.rows) + g.rows) % g.rows
	return y*g.cols + x
}

func (g *backgroundGrid) set(x, y int, image byte) { g.cells[g.index(x, y)] = int16(image) }

func (g *backgroundGrid) clear(x, y int) { g.cells[g.index(x, y)] = -1 }

func (g *backgroundGrid) get(x, y int) (byte, bool) {
	c := g.cells[g.index(x, y)]
	return byte(c), c >= 0
}

// visible calls fn for every filled cell that overlaps a w×h view at offset,
// with the cell's screen position.
func (g *backgroundGrid) visible(offset coord.Vec, w, h int, fn func(sx, sy int, image byte)) {
	worldW, worldH := g.cols*cellSize, g.rows*cellSize
	startX, startY := offset.X/cellSize, offset.Y/cellSize
	cols, rows := w/cellSize+1, h/cellSize+1
	for y := startY; y < startY+rows; y++ {
		for x := startX; x < startX+cols; x++ {
			img, ok := g.get(x, y)
			if !ok {
				continue
			}
			sx := ((x*cellSize-offset.X)%worldW + worldW) % worldW
			sy := ((y*cellSize-offset.Y)%worldH + worldH) % worldH
			fn(edgeShift(sx, worldW), edgeShift(sy, worldH), img)
		}
	}
}

type star struct {
	x, y       int
	brightness uint8
}

func newStars(n int) []star {
	rng := rand.New(rand.NewPCG(starSeed, starSeed))
	stars := make([]star, n)
	for i := range stars {
		bits := rng.Uint32()
		stars[i] = star{x: int(bits >> 16), y: int(bits & 0xffff), brightness: uint8(rng.IntN(3)) * 20}
	}
	return stars
}

// plotStars draws two parallax layers into an RGBA pixel buffer of w×h.
// The near layer scrolls at half the view speed and the far one at a
// quarter, each tiling a field of half and a quarter of the world.
func plotStars(pix []byte, w, h int, world coord.World, offset coord.Vec, stars []star) {
	clear(pix)
	near := coord.World{Width: world.Width / 2, Height: world.Height / 2}
	far := coord.World{Width: world.Width / 4, Height: world.Height / 4}
	nearOff := coord.Vec{X: offset.X / 2, Y: offset.Y / 2}
	farOff := coord.Vec{X: offset.X / 4, Y: offset.Y / 4}
	plot := func(p coord.Vec, level uint8) {
		if p.X >= w || p.Y >= h {
			return
		}
		i := (p.Y*w + p.X) * 4
		pix[i], pix[i+1], pix[i+2], pix[i+3] = level, level, level, 0xff
	}
	for _, s := range stars {
		pos := coord.Vec{X: s.x, Y: s.y}
		plot(far.ToScreen(pos, farOff), 50+s.brightness)
		plot(near.ToScreen(pos, nearOff), 100+s.brightness)
	}
}

// groupColors tints each sprite group.
var groupColors = [16]color.RGBA{
	{0xff, 0xff, 0xff, 0xff}, {0x40, 0xa0, 0xff, 0xff}, {0xff, 0x50, 0x50, 0xff}, {0x50, 0xff, 0x70, 0xff},
	{0xff, 0xd0, 0x40, 0xff}, {0xc0, 0x60, 0xff, 0xff}, {0xff, 0x90, 0x20, 0xff}, {0x40, 0xff, 0xff, 0xff},
	{0x90, 0x90, 0x90, 0xff}, {0xff, 0x80, 0xc0, 0xff}, {0xa0, 0xff, 0x40, 0xff}, {0x60, 0x60, 0xff, 0xff},
	{0xff, 0xff, 0x80, 0xff}, {0x80, 0x40, 0x20, 0xff}, {0x20, 0x80, 0x80, 0xff}, {0xe0, 0xe0, 0xe0, 0xff},
}

// spritePixels renders a placeholder 16×16 sprite: a diamond in the group's
// color whose size follows the index.
func spritePixels(group, index int) []byte {
	pix := make([]byte, spriteSize*spriteSize*4)
	c := groupColors[group&0x0f]
	r := 2 + (index&0x0f)*6/15
	const mid = spriteSize / 2
	for y := 0; y < spriteSize; y++ {
		for x := 0; x < spriteSize; x++ {
			dx, dy := abs(x-mid), abs(y-mid)
			if dx+dy > r {
				continue
			}
			i := (y*spriteSize + x) * 4
			pix[i], pix[i+1], pix[i+2], pix[i+3] = c.R, c.G, c.B, c.A
		}
	}
	return pix
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// screenRenderer is the ebiten side of cmdbuf.Renderer.
type screenRenderer struct {
	world coord.World
	dst   *ebiten.Image

	grid    *backgroundGrid
	stars   []star
	starPix []byte
	starImg *ebiten.Image
	sprites map[byte]*ebiten.Image
}

var _ cmdbuf.Renderer = (*screenRenderer)(nil)

func newScreenRenderer(world coord.World) *screenRenderer {
	return &screenRenderer{
		world:   world,
		grid:    newBackgroundGrid(world),
		stars:   newStars(starCount),
		starPix: make([]byte, screenWidth*screenHeight*4),
		sprites: make(map[byte]*ebiten.Image),
	}
}

// begin targets the next decode pass at dst.
func (r *screenRenderer) begin(dst *ebiten.Image) { r.dst = dst }

func (r *screenRenderer) sprite(group, index int) *ebiten.Image {
	key := byte(group<<4) | byte(index&0x0f)
	img, ok := r.sprites[key]
	if !ok {
		img = ebiten.NewImage(spriteSize, spriteSize)
		img.WritePixels(spritePixels(group, index))
		r.sprites[key] = img
	}
	return img
}

func (r *screenRenderer) blit(img *ebiten.Image, x, y int) {
	op := &ebiten.DrawImageOptions{}
	op.GeoM.Translate(float64(x), float64(y))
	r.dst.DrawImage(img, op)
}

func (r *screenRenderer) DrawBackground(offset coord.Vec) {
	if r.dst == nil {
		return
	}
	if r.starImg == nil {
		r.starImg = ebiten.NewImage(screenWidth, screenHeight)
	}
	plotStars(r.starPix, screenWidth, screenHeight, r.world, offset, r.stars)
	r.starImg.WritePixels(r.starPix)
	r.dst.DrawImage(r.starImg, nil)

	r.grid.visible(offset, screenWidth, screenHeight, func(sx, sy int, image byte) {
		r.blit(r.sprite(int(image>>4), int(image&0x0f)), sx, sy)
	})
}

func (r *screenRenderer) DrawSprite(group, index int, at, _ coord.Vec) {
	if r.dst == nil {
		return
	}
	r.blit(r.sprite(group, index), edgeShift(at.X, r.world.Width), edgeShift(at.Y, r.world.Height))
}

func (r *screenRenderer) SetBackgroundCell(x, y int, image byte) { r.grid.set(x, y, image) }

func (r *screenRenderer) ClearBackgroundCell(x, y int) { r.grid.clear(x, y) }

// drawWaiting is the lobby frame shown until a session is active.
func drawWaiting(dst *ebiten.Image, r *screenRenderer, tick int) {
	r.dst = dst
	r.blit(r.sprite(6, (tick/8)%16), 10, 10)
	vector.StrokeRect(dst, 4, 4, screenWidth-8, screenHeight-8, 1, color.RGBA{0x30, 0x30, 0x50, 0xff}, false)
}
