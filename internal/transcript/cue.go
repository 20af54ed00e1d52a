package transcript

import (
	"fmt"
	"strconv"
	"strings"
)

// parseSRT parses SubRip cue blocks: an optional numeric counter, a timing
// line, then text lines until a blank line
func parseSRT(data string) ([]Segment, error) {
	lines := splitLines(data)
	var segments []Segment

	i := 0
	for i < len(lines) {
		if strings.TrimSpace(lines[i]) == "" {
			i++
			continue
		}
		if isCueCounter(lines[i]) {
			i++
		}
		if i >= len(lines) || !strings.Contains(lines[i], "-->") {
			return nil, &ParseError{Format: "srt", Line: i + 1, Reason: "expected cue timing"}
		}
		start, end, err := parseCueTiming(lines[i])
		if err != nil {
			return nil, &ParseError{Format: "srt", Line: i + 1, Reason: err.Error()}
		}
		i++

		var text []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			text = append(text, strings.TrimSpace(lines[i]))
			i++
		}
		segments = append(segments, Segment{Start: start, End: end, Text: strings.Join(text, " ")})
	}
	return segments, nil
}

// parseVTT parses WebVTT. NOTE, STYLE and REGION blocks are skipped and
// cue identifiers before the timing line are ignored.
func parseVTT(data string) ([]Segment, error) {
	lines := splitLines(data)
	if len(lines) == 0 || !strings.HasPrefix(strings.TrimSpace(lines[0]), "WEBVTT") {
		return nil, &ParseError{Format: "vtt", Line: 1, Reason: "missing WEBVTT header"}
	}

	var segments []Segment
	i := 1
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])
		if trimmed == "" {
			i++
			continue
		}
		if strings.HasPrefix(trimmed, "NOTE") || trimmed == "STYLE" || trimmed == "REGION" {
			for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
				i++
			}
			continue
		}

		timingLine := i
		if !strings.Contains(trimmed, "-->") {
			timingLine = i + 1
			if timingLine >= len(lines) || !strings.Contains(lines[timingLine], "-->") {
				return nil, &ParseError{Format: "vtt", Line: timingLine + 1, Reason: "expected cue timing"}
			}
		}
		start, end, err := parseCueTiming(lines[timingLine])
		if err != nil {
			return nil, &ParseError{Format: "vtt", Line: timingLine + 1, Reason: err.Error()}
		}
		i = timingLine + 1

		var text []string
		for i < len(lines) && strings.TrimSpace(lines[i]) != "" {
			text = append(text, strings.TrimSpace(lines[i]))
			i++
		}
		segments = append(segments, Segment{Start: start, End: end, Text: strings.Join(text, " ")})
	}
	return segments, nil
}

func splitLines(data string) []string {
	data = strings.TrimPrefix(data, "\uFEFF")
	data = strings.ReplaceAll(data, "\r\n", "\n")
	return strings.Split(data, "\n")
}

func isCueCounter(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	_, err := strconv.Atoi(line)
	return err == nil
}

// parseCueTiming splits "start --> end" and tolerates trailing cue settings
// after the end time
func parseCueTiming(line string) (float64, float64, error) {
	parts := strings.Split(line, "-->")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed timing %q", strings.TrimSpace(line))
	}
	start, err := parseTimecode(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, err
	}
	endFields := strings.Fields(parts[1])
	if len(endFields) == 0 {
		return 0, 0, fmt.Errorf("malformed timing %q", strings.TrimSpace(line))
	}
	end, err := parseTimecode(endFields[0])
	if err != nil {
		return 0, 0, err
	}
	if end < start {
		return 0, 0, fmt.Errorf("cue ends before it starts: %q", strings.TrimSpace(line))
	}
	return start, end, nil
}

// parseTimecode accepts HH:MM:SS.mmm and MM:SS.mmm with either a comma or
// a dot before the milliseconds
func parseTimecode(s string) (float64, error) {
	normalized := strings.ReplaceAll(s, ",", ".")
	parts := strings.Split(normalized, ":")

	var hours, minutes int
	var seconds float64
	var err error
	switch len(parts) {
	case 3:
		if hours, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
		if minutes, err = strconv.Atoi(parts[1]); err != nil {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
		if seconds, err = strconv.ParseFloat(parts[2], 64); err != nil {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
	case 2:
		if minutes, err = strconv.Atoi(parts[0]); err != nil {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
		if seconds, err = strconv.ParseFloat(parts[1], 64); err != nil {
			return 0, fmt.Errorf("bad timecode %q", s)
		}
	default:
		return 0, fmt.Errorf("bad timecode %q", s)
	}
	if minutes < 0 || seconds < 0 {
		return 0, fmt.Errorf("bad timecode %q", s)
	}
	return float64(hours)*3600 + float64(minutes)*60 + seconds, nil
}
