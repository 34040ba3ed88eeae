package tui

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type cell struct {
	text  string
	style *lipgloss.Style
	// covered by the right half of a wide glyph
	skip bool
}

// canvas is a fixed-size grid of styled terminal cells addressed in
// canvas-local coordinates.
type canvas struct {
	width, height int
	cells         [][]cell
}

func newCanvas(width, height int) *canvas {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	c := &canvas{width: width, height: height, cells: make([][]cell, height)}
	for y := range c.cells {
		c.cells[y] = make([]cell, width)
	}
	return c
}

// put writes text starting at (x, y). Cells outside the grid are clipped.
// Wide runes such as emoji occupy two cells.
func (c *canvas) put(x, y int, text string, style lipgloss.Style) {
	if y < 0 || y >= c.height {
		return
	}
	for _, r := range text {
		s := string(r)
		w := lipgloss.Width(s)
		if w == 0 {
			continue
		}
		if x >= 0 && x+w <= c.width {
			for i := x; i < x+w; i++ {
				c.clear(i, y)
			}
			c.cells[y][x] = cell{text: s, style: &style}
			if w == 2 {
				c.cells[y][x+1] = cell{skip: true}
			}
		}
		x += w
	}
}

// clear empties (x, y) together with the other half of a wide glyph it
// belongs to.
func (c *canvas) clear(x, y int) {
	row := c.cells[y]
	switch {
	case row[x].skip && x > 0:
		row[x-1] = cell{}
	case row[x].text != "" && x+1 < c.width && row[x+1].skip:
		row[x+1] = cell{}
	}
	row[x] = cell{}
}

func (c *canvas) String() string {
	var b strings.Builder
	for y, row := range c.cells {
		if y > 0 {
			b.WriteByte('\n')
		}
		for _, cl := range row {
			switch {
			case cl.skip:
			case cl.text == "":
				b.WriteByte(' ')
			case cl.style != nil:
				b.WriteString(cl.style.Render(cl.text))
			default:
				b.WriteString(cl.text)
			}
		}
	}
	return b.String()
}
