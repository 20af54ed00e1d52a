package text

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"  Hello   World  ", "hello world"},
		{"Already normal", "already normal"},
		{"", ""},
		{"Tabs\tand\nnewlines", "tabs and newlines"},
	}

	for _, tt := range tests {
		got := Normalize(tt.input)
		if got != tt.expected {
			t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
		}
	}
}

func TestTokens_DropsStopwordsAndShortTokens(t *testing.T) {
	tokens := Tokens("The quick brown fox is in a box")

	for _, tok := range tokens {
		if tok == "the" || tok == "is" || tok == "in" || tok == "a" {
			t.Errorf("Expected stopword %q to be dropped", tok)
		}
	}

	want := map[string]bool{"quick": true, "brown": true, "fox": true, "box": true}
	if len(tokens) != len(want) {
		t.Errorf("expected %d tokens, got %d (%v)", len(want), len(tokens), tokens)
	}
	for _, tok := range tokens {
		if !want[tok] {
			t.Errorf("unexpected token %q", tok)
		}
	}
}

func TestTokens_StripsPunctuation(t *testing.T) {
	tokens := Tokens("Vaccines, they said, reduce mortality; by 90%.")

	for _, tok := range tokens {
		if strings.ContainsAny(tok, ",.;%") {
			t.Errorf("Expected punctuation stripped, got token %q", tok)
		}
	}
}

func TestJaccard_Identical(t *testing.T) {
	score := Jaccard("The earth orbits the sun", "The earth orbits the sun")
	if score != 1.0 {
		t.Errorf("Expected 1.0 for identical text, got %v", score)
	}
}

func TestJaccard_CaseAndPunctuationInsensitive(t *testing.T) {
	score := Jaccard("The Earth orbits the Sun.", "the earth orbits the sun")
	if score != 1.0 {
		t.Errorf("Expected 1.0 for case/punctuation variants, got %v", score)
	}
}

func TestJaccard_Disjoint(t *testing.T) {
	score := Jaccard("quantum computing hardware", "medieval pottery techniques")
	if score != 0.0 {
		t.Errorf("Expected 0.0 for disjoint text, got %v", score)
	}
}

func TestJaccard_BothEmpty(t *testing.T) {
	if score := Jaccard("", ""); score != 1.0 {
		t.Errorf("Expected 1.0 for two empty strings, got %v", score)
	}
}

func TestJaccard_OneEmpty(t *testing.T) {
	if score := Jaccard("something here", ""); score != 0.0 {
		t.Errorf("Expected 0.0 when one side is empty, got %v", score)
	}
}

func TestJaccard_PartialOverlap(t *testing.T) {
	// Token sets: {earth, orbits, sun} vs {earth, orbits, moon}
	// intersection 2, union 4 -> 0.5
	score := Jaccard("earth orbits sun", "earth orbits moon")
	if score != 0.5 {
		t.Errorf("Expected 0.5, got %v", score)
	}
}

func TestJaccard_Symmetric(t *testing.T) {
	a := "global temperatures rose two degrees"
	b := "temperatures rose sharply last decade"
	if Jaccard(a, b) != Jaccard(b, a) {
		t.Error("Expected Jaccard to be symmetric")
	}
}

func TestOverlapScore(t *testing.T) {
	// Query tokens {vaccine, effective}; both present in text -> 1.0
	score := OverlapScore("vaccine effective", "the vaccine proved effective against measles")
	if score != 1.0 {
		t.Errorf("Expected 1.0, got %v", score)
	}

	// One of two query tokens present -> 0.5
	score = OverlapScore("vaccine banned", "the vaccine proved effective")
	if score != 0.5 {
		t.Errorf("Expected 0.5, got %v", score)
	}

	if score := OverlapScore("", "anything"); score != 0.0 {
		t.Errorf("Expected 0.0 for empty query, got %v", score)
	}
}

func TestSplitSentences(t *testing.T) {
	input := "The first result was announced in 2019. A second study followed in 2021! Was it replicated? Yes, across three separate laboratories."
	sentences := SplitSentences(input)

	if len(sentences) != 4 {
		t.Fatalf("expected 4 sentences, got %d: %v", len(sentences), sentences)
	}
	if sentences[0] != "The first result was announced in 2019." {
		t.Errorf("Unexpected first sentence: %q", sentences[0])
	}
}

func TestSplitSentences_DropsFragments(t *testing.T) {
	sentences := SplitSentences("Ok. Yes. This sentence is long enough to survive filtering.")

	if len(sentences) != 1 {
		t.Fatalf("expected 1 sentence, got %d: %v", len(sentences), sentences)
	}
}

func TestSplitSentences_KeepsTrailingSentence(t *testing.T) {
	sentences := SplitSentences("This trailing sentence has no terminator but is long enough")
	if len(sentences) != 1 {
		t.Fatalf("expected trailing text kept, got %d sentences", len(sentences))
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate("short", 100); got != "short" {
		t.Errorf("Expected unchanged string, got %q", got)
	}

	got := Truncate("abcdefghij", 4)
	if got != "abcd" {
		t.Errorf("Expected \"abcd\", got %q", got)
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	// "héllo" - é is two bytes; cutting at 2 must not split the rune
	got := Truncate("héllo", 2)
	if got != "h" {
		t.Errorf("Expected cut before multibyte rune, got %q", got)
	}
}
