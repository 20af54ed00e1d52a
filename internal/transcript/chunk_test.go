package transcript

import (
	"fmt"
	"testing"
)

func makeSegments(n int) []Segment {
	segments := make([]Segment, n)
	for i := range segments {
		segments[i] = Segment{
			Index: i,
			Start: float64(i) * 2,
			End:   float64(i)*2 + 2,
			Text:  fmt.Sprintf("segment %d", i),
		}
	}
	return segments
}

func TestSplit_WindowsOverlap(t *testing.T) {
	chunks := Split(makeSegments(10), 4, 1)

	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	wantStarts := []int{0, 3, 6}
	for i, chunk := range chunks {
		if chunk.Index != i {
			t.Errorf("chunk %d: index = %d", i, chunk.Index)
		}
		if chunk.Segments[0].Index != wantStarts[i] {
			t.Errorf("chunk %d starts at segment %d, want %d", i, chunk.Segments[0].Index, wantStarts[i])
		}
	}
	// The first segment of a later chunk repeats the last of its predecessor
	if chunks[1].Segments[0].Text != chunks[0].Segments[3].Text {
		t.Error("chunk 1 does not repeat the tail of chunk 0")
	}
}

func TestSplit_EverySegmentCovered(t *testing.T) {
	cases := []struct {
		n, size, overlap int
	}{
		{1, 40, 8},
		{39, 40, 8},
		{40, 40, 8},
		{41, 40, 8},
		{128, 40, 8},
		{100, 10, 0},
		{100, 10, 9},
		{10, 4, 4},
		{10, 3, 7},
		{10, 0, 0},
		{5, 1, 0},
	}
	for _, tc := range cases {
		chunks := Split(makeSegments(tc.n), tc.size, tc.overlap)
		seen := make(map[int]bool)
		for _, chunk := range chunks {
			if len(chunk.Segments) == 0 {
				t.Fatalf("n=%d size=%d overlap=%d: empty chunk", tc.n, tc.size, tc.overlap)
			}
			for _, seg := range chunk.Segments {
				seen[seg.Index] = true
			}
		}
		for i := 0; i < tc.n; i++ {
			if !seen[i] {
				t.Errorf("n=%d size=%d overlap=%d: segment %d in no chunk", tc.n, tc.size, tc.overlap, i)
			}
		}
	}
}

func TestSplit_OverlapAtLeastSizeStepsByOne(t *testing.T) {
	for _, overlap := range []int{3, 5, 100} {
		chunks := Split(makeSegments(10), 3, overlap)
		if len(chunks) != 8 {
			t.Errorf("overlap %d: expected 8 chunks, got %d", overlap, len(chunks))
		}
		for i := 1; i < len(chunks); i++ {
			step := chunks[i].Segments[0].Index - chunks[i-1].Segments[0].Index
			if step != 1 {
				t.Errorf("overlap %d: step between chunks %d and %d is %d", overlap, i-1, i, step)
			}
		}
	}
}

func TestSplit_Empty(t *testing.T) {
	if chunks := Split(nil, 40, 8); chunks != nil {
		t.Errorf("expected no chunks, got %d", len(chunks))
	}
}

func TestSplit_FewerSegmentsThanSize(t *testing.T) {
	chunks := Split(makeSegments(5), 40, 8)
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk, got %d", len(chunks))
	}
	if len(chunks[0].Segments) != 5 {
		t.Errorf("chunk holds %d segments, want 5", len(chunks[0].Segments))
	}
}

func TestChunk_SpanAndText(t *testing.T) {
	chunk := Chunk{Segments: []Segment{
		{Start: 10, End: 12, Text: "First part."},
		{Start: 12, End: 15, Text: ""},
		{Start: 15, End: 18, Text: "Second part."},
	}}

	start, end := chunk.Span()
	if start != 10 || end != 18 {
		t.Errorf("Span() = %v, %v", start, end)
	}
	if got := chunk.Text(); got != "First part. Second part." {
		t.Errorf("Text() = %q", got)
	}

	var empty Chunk
	if start, end := empty.Span(); start != 0 || end != 0 {
		t.Errorf("empty Span() = %v, %v", start, end)
	}
}
