package transcript

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// ParseError describes a malformed cue in a subtitle file
type ParseError struct {
	Format string
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s line %d: %s", e.Format, e.Line, e.Reason)
}

// Load reads a transcript file, picking the parser by extension.
// Supported formats: .json (segment array), .srt, .vtt and plain .txt
// with one segment per non-empty line.
func Load(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read transcript: %w", err)
	}

	var segments []Segment
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		segments, err = parseJSON(data)
	case ".srt":
		segments, err = parseSRT(string(data))
	case ".vtt":
		segments, err = parseVTT(string(data))
	case ".txt":
		segments, err = parseTXT(string(data))
	default:
		return nil, fmt.Errorf("unsupported transcript format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	segments = clean(segments)
	if len(segments) == 0 {
		return nil, fmt.Errorf("transcript %s has no segments", filepath.Base(path))
	}

	return &Transcript{
		Title:    TitleFromPath(path),
		Path:     path,
		Segments: segments,
	}, nil
}

// Supported reports whether path has an extension Load can parse
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json", ".srt", ".vtt", ".txt":
		return true
	}
	return false
}

// parseJSON accepts either a bare segment array or an object with a
// "segments" field, the shape most transcription tools emit
func parseJSON(data []byte) ([]Segment, error) {
	var wrapper struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(data, &wrapper); err == nil && len(wrapper.Segments) > 0 {
		return wrapper.Segments, nil
	}

	var segments []Segment
	if err := json.Unmarshal(data, &segments); err != nil {
		return nil, fmt.Errorf("decode segments: %w", err)
	}
	return segments, nil
}

func parseTXT(data string) ([]Segment, error) {
	var segments []Segment
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		segments = append(segments, Segment{Text: line})
	}
	return segments, nil
}

var (
	inlineTagPattern = regexp.MustCompile(`<[^>]*>`)
	soundCuePattern  = regexp.MustCompile(`^[\[(♪][^\])]*[\])♪]$`)
)

// clean normalizes segment text, drops segments that are empty or pure
// sound cues, and reindexes the survivors
func clean(segments []Segment) []Segment {
	out := make([]Segment, 0, len(segments))
	for _, seg := range segments {
		text := inlineTagPattern.ReplaceAllString(seg.Text, " ")
		text = strings.Join(strings.Fields(text), " ")
		if text == "" || soundCuePattern.MatchString(text) {
			continue
		}
		seg.Text = text
		seg.Index = len(out)
		out = append(out, seg)
	}
	return out
}
