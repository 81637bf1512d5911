package viz

import (
	"math"
	"strings"

	"github.com/san-kum/patchsim/internal/antenna"
)

// Braille cells hold 2x4 dots:
// 1 4
// 2 5
// 3 6
// 7 8
var pixelMap = [4][2]int{
	{0x1, 0x8},
	{0x2, 0x10},
	{0x4, 0x20},
	{0x40, 0x80},
}

const blank = 0x2800

// Canvas is a braille pixel grid of Width x Height cells, that is
// 2*Width x 4*Height dots.
type Canvas struct {
	Width, Height int
	Grid          [][]rune
}

func NewCanvas(w, h int) *Canvas {
	c := &Canvas{Width: w, Height: h, Grid: make([][]rune, h)}
	for i := range c.Grid {
		c.Grid[i] = make([]rune, w)
		for j := range c.Grid[i] {
			c.Grid[i][j] = blank
		}
	}
	return c
}

// Set lights the dot at (x, y). Out-of-range dots are ignored.
func (c *Canvas) Set(x, y int) {
	if x < 0 || y < 0 {
		return
	}
	col, row := x/2, y/4
	if col >= c.Width || row >= c.Height {
		return
	}
	c.Grid[row][col] |= rune(pixelMap[y%4][x%2])
}

// DrawLine draws a line using Bresenham's algorithm.
func (c *Canvas) DrawLine(x0, y0, x1, y1 int) {
	dx := absInt(x1 - x0)
	dy := absInt(y1 - y0)
	sx, sy := -1, -1
	if x0 < x1 {
		sx = 1
	}
	if y0 < y1 {
		sy = 1
	}
	err := dx - dy
	for {
		c.Set(x0, y0)
		if x0 == x1 && y0 == y1 {
			break
		}
		e2 := 2 * err
		if e2 > -dy {
			err -= dy
			x0 += sx
		}
		if e2 < dx {
			err += dx
			y0 += sy
		}
	}
}

func (c *Canvas) DrawRect(x0, y0, x1, y1 int) {
	c.DrawLine(x0, y0, x1, y0)
	c.DrawLine(x1, y0, x1, y1)
	c.DrawLine(x1, y1, x0, y1)
	c.DrawLine(x0, y1, x0, y0)
}

func (c *Canvas) String() string {
	var b strings.Builder
	for _, row := range c.Grid {
		b.WriteString(string(row))
		b.WriteByte('\n')
	}
	return b.String()
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// Layout draws the top view of p: ground outline, patch outline and the
// feed position as a horizontal tick across the feed width. The y axis
// points up the page, so the feed edge at -L/2 is at the bottom.
func Layout(p antenna.GeometricParameters, cols, rows int) string {
	c := NewCanvas(cols, rows)
	dotsX, dotsY := float64(2*cols-1), float64(4*rows-1)
	// Braille dots are roughly twice as tall as they are wide in a terminal.
	scale := math.Min(dotsX/p.GroundWidthMM, 2*dotsY/p.GroundLengthMM)
	toX := func(mm float64) int { return int(math.Round(dotsX/2 + mm*scale)) }
	toY := func(mm float64) int { return int(math.Round(dotsY/2 - mm*scale/2)) }

	gw, gl := p.GroundWidthMM/2, p.GroundLengthMM/2
	pw, pl := p.PatchWidthMM/2, p.PatchLengthMM/2
	c.DrawRect(toX(-gw), toY(-gl), toX(gw), toY(gl))
	c.DrawRect(toX(-pw), toY(-pl), toX(pw), toY(pl))

	fy := toY(-pl + p.FeedOffsetMM)
	fw := math.Max(p.FeedWidthMM/2, 1/scale)
	c.DrawLine(toX(-fw), fy, toX(fw), fy)
	c.DrawLine(toX(0), fy, toX(0), toY(-gl))
	return c.String()
}
