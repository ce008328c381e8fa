package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// PadRight pads or truncates a string to a fixed display width.
func PadRight(str string, width int) string {
	w := runewidth.StringWidth(str)
	if w > width {
		return runewidth.Truncate(str, width, "...")
	}
	return str + strings.Repeat(" ", width-w)
}

// Columns pads each cell to its width and joins them into one line.
func Columns(widths []int, cells ...string) string {
	var b strings.Builder
	for i, cell := range cells {
		if i < len(widths) {
			b.WriteString(PadRight(cell, widths[i]))
		} else {
			b.WriteString(cell)
		}
	}
	return b.String()
}
