package transcript

import "strings"

// Chunk is a contiguous window of segments processed as one extraction unit.
// Consecutive chunks share trailing segments so statements spanning a chunk
// boundary are seen whole at least once.
type Chunk struct {
	Index    int       `json:"index"`
	Segments []Segment `json:"segments"`
}

// Span returns the time range covered by the chunk in seconds
func (c Chunk) Span() (float64, float64) {
	if len(c.Segments) == 0 {
		return 0, 0
	}
	return c.Segments[0].Start, c.Segments[len(c.Segments)-1].End
}

// Text joins the segment texts with single spaces
func (c Chunk) Text() string {
	parts := make([]string, 0, len(c.Segments))
	for _, seg := range c.Segments {
		if seg.Text == "" {
			continue
		}
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// Split partitions segments into chunks of at most size segments. Each chunk
// after the first starts overlap segments before the end of its predecessor.
// An overlap at or above the chunk size degrades to a step of one segment
// rather than stalling.
func Split(segments []Segment, size, overlap int) []Chunk {
	if len(segments) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= size {
		overlap = size - 1
	}
	step := size - overlap

	var chunks []Chunk
	for start := 0; ; start += step {
		end := start + size
		if end > len(segments) {
			end = len(segments)
		}
		chunks = append(chunks, Chunk{Index: len(chunks), Segments: segments[start:end]})
		if end == len(segments) {
			break
		}
	}
	return chunks
}
