package chunker

import (
	"fmt"
	"strings"
	"testing"
)

// wordText builds a text of n distinct words.
func wordText(n int) string {
	words := make([]string, n)
	for i := 0; i < n; i++ {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func Test_Split_EmptyText(t *testing.T) {
	t.Parallel()

	if got := Split("", Options{}); got != nil {
		t.Fatalf("expected nil for empty text, got %v", got)
	}
	if got := Split("   \n\t  ", Options{}); got != nil {
		t.Fatalf("expected nil for whitespace-only text, got %v", got)
	}
}

func Test_Split_SingleChunkWhenShort(t *testing.T) {
	t.Parallel()

	text := wordText(50)
	got := Split(text, Options{WindowWords: 200})
	if len(got) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(got))
	}
	if got[0] != text {
		t.Fatalf("chunk should contain the whole text")
	}
}

func Test_Split_WhitespaceNormalised(t *testing.T) {
	t.Parallel()

	got := Split("a   b\t\tc\nd", Options{})
	if len(got) != 1 || got[0] != "a b c d" {
		t.Fatalf("expected collapsed whitespace, got %q", got)
	}
}

func Test_Split_OverlapBetweenChunks(t *testing.T) {
	t.Parallel()

	got := Split(wordText(25), Options{WindowWords: 10, OverlapWords: 3})
	if len(got) < 3 {
		t.Fatalf("expected at least 3 chunks, got %d", len(got))
	}
	// Step is window-overlap = 7, so chunk 1 starts at word 7 and the first
	// chunk's last 3 words reappear at the start of the second.
	first := strings.Fields(got[0])
	second := strings.Fields(got[1])
	if len(first) != 10 {
		t.Fatalf("expected full window of 10 words, got %d", len(first))
	}
	for i := 0; i < 3; i++ {
		if first[7+i] != second[i] {
			t.Fatalf("overlap mismatch at %d: %q vs %q", i, first[7+i], second[i])
		}
	}
}

func Test_Split_Deterministic(t *testing.T) {
	t.Parallel()

	text := wordText(500)
	opts := Options{WindowWords: 100, OverlapWords: 20}
	a := Split(text, opts)
	b := Split(text, opts)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func Test_Split_OverlapClampedBelowWindow(t *testing.T) {
	t.Parallel()

	// Overlap >= window must still terminate and cover the whole text.
	got := Split(wordText(30), Options{WindowWords: 10, OverlapWords: 15})
	if len(got) == 0 {
		t.Fatal("expected chunks")
	}
	last := got[len(got)-1]
	if !strings.HasSuffix(last, "w29") {
		t.Fatalf("last chunk should end at the final word, got %q", last)
	}
}

func Test_Split_CoversAllWords(t *testing.T) {
	t.Parallel()

	got := Split(wordText(47), Options{WindowWords: 10, OverlapWords: 2})
	seen := make(map[string]bool)
	for _, c := range got {
		for _, w := range strings.Fields(c) {
			seen[w] = true
		}
	}
	for i := 0; i < 47; i++ {
		if !seen[fmt.Sprintf("w%d", i)] {
			t.Fatalf("word w%d missing from all chunks", i)
		}
	}
}

func Test_ForDocument_AttachesIdentity(t *testing.T) {
	t.Parallel()

	chunks := ForDocument("doc-1", wordText(25), Options{WindowWords: 10, OverlapWords: 0})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.DocumentID != "doc-1" {
			t.Fatalf("chunk %d has wrong document id %q", i, c.DocumentID)
		}
		if c.Index != i {
			t.Fatalf("chunk %d has index %d", i, c.Index)
		}
		if c.TokenCount <= 0 {
			t.Fatalf("chunk %d has non-positive token count", i)
		}
	}
}
