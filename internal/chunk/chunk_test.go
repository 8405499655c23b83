package chunk

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "Hello world", "Hello world"},
		{"multiple spaces", "Hello    world", "Hello world"},
		{"newlines and tabs", "\n Hello\n\tworld \n", "Hello world"},
		{"empty", "", ""},
		{"only whitespace", " \t\n ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.input); got != tt.expected {
				t.Errorf("Normalize(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"three sentences", "One. Two! Three?", []string{"One.", "Two!", "Three?"}},
		{"no terminal punctuation", "no punctuation here", []string{"no punctuation here"}},
		{"abbreviation without space", "v1.2 is out. Yes", []string{"v1.2 is out.", "Yes"}},
		{"collapses whitespace", "First.\n\nSecond.", []string{"First.", "Second."}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSentences(tt.input)
			if len(got) != len(tt.expected) {
				t.Fatalf("SplitSentences(%q) = %q, want %q", tt.input, got, tt.expected)
			}
			for i := range got {
				if got[i] != tt.expected[i] {
					t.Errorf("sentence %d = %q, want %q", i, got[i], tt.expected[i])
				}
			}
		})
	}
}

func TestCutShortTextIsOneChunk(t *testing.T) {
	chunks := Cut("One. Two. Three.")
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d: %v", len(chunks), chunks)
	}
	if chunks[0].Text != "One. Two. Three." {
		t.Errorf("chunk = %q", chunks[0].Text)
	}
}

func TestCutOversizedSentenceStaysWhole(t *testing.T) {
	text := strings.Repeat("a", 999) + "."
	chunks := Cut(text)
	if len(chunks) != 1 {
		t.Fatalf("expected exactly 1 chunk, got %d", len(chunks))
	}
	if chunks[0].Len() != 1000 {
		t.Errorf("chunk length = %d, want 1000", chunks[0].Len())
	}
}

func TestCutEmpty(t *testing.T) {
	if chunks := Cut("   \n "); chunks != nil {
		t.Errorf("expected no chunks, got %v", chunks)
	}
}

func longText() string {
	var sb strings.Builder
	for i := 0; i < 60; i++ {
		sb.WriteString("The quick brown fox jumps over the lazy dog number ")
		sb.WriteString(strings.Repeat("x", i%7))
		sb.WriteString(". ")
	}
	sb.WriteString("Ok.")
	return sb.String()
}

func TestCutDeterministic(t *testing.T) {
	text := longText()
	a := Cut(text)
	b := Cut(text)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs: %q vs %q", i, a[i].Text, b[i].Text)
		}
	}
}

func TestCutSizeInvariant(t *testing.T) {
	// A single 298-rune sentence.
	near := "A" + strings.Repeat("b", 296) + "."

	tests := []struct {
		name string
		text string
		tail string
	}{
		{"long text", longText(), ""},
		{"short tail is flushed", near + " Ok.", "Ok."},
		{"tail above min", near + " Fine then.", "Fine then."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Cut(tt.text)
			if len(chunks) < 2 {
				t.Fatalf("expected text to be split, got %d chunks", len(chunks))
			}
			for i, c := range chunks {
				if c.Len() > MaxChunkSize {
					t.Errorf("chunk %d has %d runes, above max", i, c.Len())
				}
				if i < len(chunks)-1 && c.Len() < MinChunkSize {
					t.Errorf("chunk %d has %d runes, below min", i, c.Len())
				}
			}
			if tt.tail != "" {
				if got := chunks[len(chunks)-1].Text; got != tt.tail {
					t.Errorf("last chunk = %q, want %q", got, tt.tail)
				}
				if chunks[0].Text != near {
					t.Errorf("first chunk has %d runes, want the whole sentence", chunks[0].Len())
				}
			}
		})
	}
}

func TestCutPreservesText(t *testing.T) {
	text := longText()
	var parts []string
	for _, c := range Cut(text) {
		parts = append(parts, c.Text)
	}
	if got := strings.Join(parts, " "); got != Normalize(text) {
		t.Error("joined chunks do not reproduce the normalized input")
	}
}

func TestCutterSmallBufferGrowsPastMax(t *testing.T) {
	c := Cutter{Max: 10, Min: 5}
	chunks := c.Cut("Hi. Then a long sentence follows.")
	if len(chunks) != 1 {
		t.Fatalf("expected buffer below min to absorb next sentence, got %v", chunks)
	}
}

func TestPrefixAndID(t *testing.T) {
	long := Chunk{Text: strings.Repeat("word ", 50)}
	if got := len([]rune(long.Prefix())); got != PrefixSize {
		t.Errorf("prefix length = %d, want %d", got, PrefixSize)
	}

	a := Chunk{Text: "Hello   world."}
	b := Chunk{Text: "Hello world."}
	if a.ID() != b.ID() {
		t.Error("IDs should ignore whitespace differences")
	}
	if len(a.ID()) != 32 {
		t.Errorf("ID should be 32 chars, got %d", len(a.ID()))
	}
	if a.ID() == (Chunk{Text: "Other."}).ID() {
		t.Error("different text should produce different IDs")
	}
}

func BenchmarkCut(b *testing.B) {
	text := longText()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Cut(text)
	}
}
