package reader

import (
	"html"
	"regexp"
	"strings"
)

var blankLines = regexp.MustCompile(`\n\s*\n`)

// FromText builds a single-chapter document from plain text. Paragraphs are
// separated by blank lines.
func FromText(text string) *Document {
	return &Document{
		Title: "Document",
		Kind:  KindEPUB,
		Chapters: []Chapter{{
			Title: "Document",
			HTML:  []byte(paragraphsHTML(text)),
		}},
	}
}

func paragraphsHTML(text string) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	for _, p := range blankLines.Split(strings.ReplaceAll(text, "\r\n", "\n"), -1) {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		sb.WriteString("<p>")
		sb.WriteString(html.EscapeString(p))
		sb.WriteString("</p>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}
