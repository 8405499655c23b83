package reader

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
)

// MarkdownFormat implements Format for Markdown files.
type MarkdownFormat struct{}

func init() {
	Register(&MarkdownFormat{})
}

func (f *MarkdownFormat) Name() string         { return "Markdown" }
func (f *MarkdownFormat) Extensions() []string { return []string{".md", ".markdown"} }

// headerRegex matches markdown headers (# to ######)
var headerRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)

// Load splits the file into chapters at level-one and level-two headers and
// renders each chapter to HTML.
func (f *MarkdownFormat) Load(filename string) (*Document, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	type section struct {
		title string
		body  strings.Builder
		words int
	}

	var sections []*section
	current := &section{title: "Document"}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()

		if match := headerRegex.FindStringSubmatch(line); match != nil && len(match[1]) <= 2 {
			if current.words > 0 {
				sections = append(sections, current)
			}
			current = &section{title: strings.TrimSpace(match[2])}
		}

		current.body.WriteString(line)
		current.body.WriteString("\n")
		current.words += len(strings.Fields(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if current.words > 0 {
		sections = append(sections, current)
	}
	if len(sections) == 0 {
		return nil, emptyDocumentError(filename)
	}

	doc := &Document{Kind: KindEPUB}
	for _, s := range sections {
		var buf bytes.Buffer
		buf.WriteString("<html><body>")
		if err := goldmark.Convert([]byte(s.body.String()), &buf); err != nil {
			return nil, fmt.Errorf("render markdown section %q: %w", s.title, err)
		}
		buf.WriteString("</body></html>")
		doc.Chapters = append(doc.Chapters, Chapter{Title: s.title, HTML: buf.Bytes()})
	}
	doc.Title = doc.Chapters[0].Title
	return doc, nil
}
