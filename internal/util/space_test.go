package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPadRight(t *testing.T) {
	tests := []struct {
		name     string
		str      string
		width    int
		expected string
	}{
		{"Empty string", "", 5, "     "},
		{"Short string", "abc", 10, "abc       "},
		{"Exact width", "hello", 5, "hello"},
		{"String too long", "this is a very long string", 10, "this is..."},
		{"Host name truncated", "living-room-speaker.local.", 14, "living-room..."},
		{"Width 4", "hello", 4, "h..."},
		{"Chinese characters", "你好", 8, "你好    "},
		{"Mixed characters", "hello世界", 12, "hello世界   "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, PadRight(tt.str, tt.width))
		})
	}
}

func TestColumns(t *testing.T) {
	widths := []int{6, 4}
	assert.Equal(t, "Added 2   rpi.local.", Columns(widths, "Added", "2", "rpi.local."))
	assert.Equal(t, "a     ", Columns(widths, "a"))
	assert.Equal(t, "", Columns(widths))
}

func BenchmarkPadRight(b *testing.B) {
	for i := 0; i < b.N; i++ {
		PadRight("rpi.local.", 40)
	}
}
