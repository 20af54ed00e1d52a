package transcript

import (
	"path/filepath"
	"strings"
)

// Segment is one time-coded piece of a transcript
type Segment struct {
	Index int     `json:"index"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcript is an ordered sequence of segments plus provenance
type Transcript struct {
	Title    string    `json:"title"`
	Path     string    `json:"path"`
	Segments []Segment `json:"segments"`
}

// Duration returns the end offset of the last segment
func (t *Transcript) Duration() float64 {
	if len(t.Segments) == 0 {
		return 0
	}
	return t.Segments[len(t.Segments)-1].End
}

// TitleFromPath extracts a human-readable title from the file name
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	if idx := strings.LastIndex(base, "."); idx > 0 {
		base = base[:idx]
	}

	// De-slugify: replace underscores and hyphens with spaces
	base = strings.ReplaceAll(base, "_", " ")
	base = strings.ReplaceAll(base, "-", " ")

	return strings.Join(strings.Fields(base), " ")
}
