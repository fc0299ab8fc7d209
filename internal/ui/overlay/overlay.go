// Package overlay draws a small box (a prompt or a notice) over an already
// rendered screen without clearing it.
package overlay

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// Anchor is where the box sits on the screen.
type Anchor int

const (
	// Center places the box in the middle of the screen.
	Center Anchor = iota
	// Bottom places the box above the bottom edge, horizontally centered.
	Bottom
)

// Frame is the screen the box is drawn onto.
type Frame struct {
	Width  int
	Height int
	Anchor Anchor
	// Margin is the number of rows kept free below a Bottom box.
	Margin int
}

// Place splices fg into bg. Styling in both strings survives because lines
// are cut with ANSI-aware truncation. bg is padded to the frame height.
func (f Frame) Place(fg, bg string) string {
	screen := strings.Split(bg, "\n")
	for len(screen) < f.Height {
		screen = append(screen, strings.Repeat(" ", f.Width))
	}

	box := strings.Split(fg, "\n")
	x, y := f.origin(lipgloss.Width(fg), len(box))

	for i, row := range box {
		if y+i >= len(screen) {
			break
		}
		screen[y+i] = splice(screen[y+i], row, x)
	}
	return strings.Join(screen, "\n")
}

func (f Frame) origin(w, h int) (x, y int) {
	x = max((f.Width-w)/2, 0)
	switch f.Anchor {
	case Bottom:
		y = f.Height - h - f.Margin
	default:
		y = (f.Height - h) / 2
	}
	return x, max(y, 0)
}

// splice overwrites line from column x with row.
func splice(line, row string, x int) string {
	left := ansi.Truncate(line, x, "")
	if w := ansi.StringWidth(left); w < x {
		left += strings.Repeat(" ", x-w)
	}

	end := x + ansi.StringWidth(row)
	right := ""
	if end < ansi.StringWidth(line) {
		right = ansi.TruncateLeft(line, end, "")
	}
	return left + row + right
}
