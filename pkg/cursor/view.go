package cursor

import (
	"sort"

	"github.com/recera/livecanvas/pkg/presence"
)

// Palette is an ordered list of display colours.
type Palette []string

// DefaultPalette is used when no palette is configured.
var DefaultPalette = Palette{
	"#DC2626",
	"#D97706",
	"#059669",
	"#7C3AED",
	"#DB2777",
}

// ColorFor derives the display colour of a connection. The result depends
// only on the id and the palette, so every client agrees on it.
func ColorFor(id presence.ConnectionID, palette Palette) string {
	if len(palette) == 0 {
		palette = DefaultPalette
	}
	n := len(palette)
	i := int(id) % n
	if i < 0 {
		i += n
	}
	return palette[i]
}

// RenderableCursor is a remote cursor ready to draw.
type RenderableCursor struct {
	ConnectionID presence.ConnectionID
	Point        presence.Point
	Color        string
	Message      string
}

// Project turns the records of other participants into renderable cursors.
// Records without a cursor are skipped. When a connection appears more than
// once the later record wins. The input is not modified and the result is
// ordered by connection id.
func Project(others []presence.Presence, palette Palette) []RenderableCursor {
	byID := make(map[presence.ConnectionID]RenderableCursor, len(others))
	for _, p := range others {
		if p.Cursor == nil {
			delete(byID, p.ConnectionID)
			continue
		}
		byID[p.ConnectionID] = RenderableCursor{
			ConnectionID: p.ConnectionID,
			Point:        *p.Cursor,
			Color:        ColorFor(p.ConnectionID, palette),
			Message:      p.MessageText(),
		}
	}

	out := make([]RenderableCursor, 0, len(byID))
	for _, rc := range byID {
		out = append(out, rc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectionID < out[j].ConnectionID })
	return out
}
