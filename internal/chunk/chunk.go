// Package chunk cuts narratable text into deterministic chunks.
//
// The same input text always yields the same chunk boundaries. Narration
// audio generated ahead of time for a chapter is addressed by these
// boundaries, so any device that cuts the same chapter text must arrive at
// the same chunks.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxChunkSize is the rune count above which text is split into sentences.
	MaxChunkSize = 300
	// MinChunkSize is the smallest buffer that may be flushed as a chunk.
	MinChunkSize = 5
	// PrefixSize is the number of normalized runes used to compare chunks.
	PrefixSize = 100
)

// Chunk is a bounded span of narratable text.
type Chunk struct {
	Text string
}

// Len returns the length of the chunk in runes.
func (c Chunk) Len() int {
	return utf8.RuneCountInString(c.Text)
}

// Prefix returns the first PrefixSize runes of the normalized chunk text.
func (c Chunk) Prefix() string {
	return Prefix(c.Text)
}

// ID returns a content address for the chunk (32 hex chars).
func (c Chunk) ID() string {
	sum := sha256.Sum256([]byte(Normalize(c.Text)))
	return hex.EncodeToString(sum[:16])
}

// Prefix returns the first PrefixSize runes of Normalize(s).
func Prefix(s string) string {
	n := Normalize(s)
	if utf8.RuneCountInString(n) <= PrefixSize {
		return n
	}
	return string([]rune(n)[:PrefixSize])
}

// Normalize collapses all whitespace runs to a single space and trims the ends.
func Normalize(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// SplitSentences splits text after terminal punctuation (. ! ?) that is
// followed by whitespace. Punctuation stays with its sentence. The input is
// normalized first.
func SplitSentences(text string) []string {
	text = Normalize(text)
	if text == "" {
		return nil
	}

	var sentences []string
	runes := []rune(text)
	start := 0
	for i, r := range runes {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			sentences = append(sentences, string(runes[start:i+1]))
			start = i + 2
		}
	}
	if start < len(runes) {
		sentences = append(sentences, string(runes[start:]))
	}
	return sentences
}

// Cutter splits text into chunks using a size window.
type Cutter struct {
	Max int
	Min int
}

// Default is the cutter used everywhere in the application.
var Default = Cutter{Max: MaxChunkSize, Min: MinChunkSize}

// Cut splits text with the default cutter.
func Cut(text string) []Chunk {
	return Default.Cut(text)
}

// Cut splits text into chunks.
//
// Normalized text that fits in Max is returned as a single chunk. Longer text
// is split into sentences which are packed greedily; the buffer is flushed
// when the next sentence would push it past Max and it already holds at
// least Min runes. A sentence longer than Max is never subdivided. The last
// buffer is always flushed, so the final chunk may be shorter than Min.
func (c Cutter) Cut(text string) []Chunk {
	text = Normalize(text)
	if text == "" {
		return nil
	}
	if utf8.RuneCountInString(text) <= c.Max {
		return []Chunk{{Text: text}}
	}

	var (
		chunks []Chunk
		buf    string
		bufLen int
	)
	for _, s := range SplitSentences(text) {
		sLen := utf8.RuneCountInString(s)
		if buf == "" {
			buf, bufLen = s, sLen
			continue
		}
		if bufLen+1+sLen > c.Max && bufLen >= c.Min {
			chunks = append(chunks, Chunk{Text: buf})
			buf, bufLen = s, sLen
			continue
		}
		buf += " " + s
		bufLen += 1 + sLen
	}
	if buf != "" {
		chunks = append(chunks, Chunk{Text: buf})
	}
	return chunks
}
