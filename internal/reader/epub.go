package reader

import (
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/taylorskalyo/goreader/epub"
)

// EPUBFormat implements Format for EPUB files.
type EPUBFormat struct{}

func init() {
	Register(&EPUBFormat{})
}

func (f *EPUBFormat) Name() string         { return "EPUB" }
func (f *EPUBFormat) Extensions() []string { return []string{".epub"} }

// Load reads every spine item of the first rootfile as a chapter. Titles come
// from the NCX table of contents when one is present.
func (f *EPUBFormat) Load(filename string) (*Document, error) {
	rc, err := epub.OpenReader(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open epub: %w", err)
	}
	defer rc.Close()

	if len(rc.Rootfiles) == 0 {
		return nil, fmt.Errorf("no rootfiles found in epub")
	}

	book := rc.Rootfiles[0]
	tocByHref := buildTOCHrefMap(filename, book)

	doc := &Document{
		Title: strings.TrimSpace(book.Title),
		Kind:  KindEPUB,
	}

	for i, ref := range book.Spine.Itemrefs {
		if ref.Item == nil {
			continue
		}
		r, err := ref.Item.Open()
		if err != nil {
			continue
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			continue
		}

		doc.Chapters = append(doc.Chapters, Chapter{
			Title: chapterTitle(tocByHref, ref.Item.HREF, i),
			Href:  ref.Item.HREF,
			HTML:  data,
		})
	}

	if len(doc.Chapters) == 0 {
		return nil, emptyDocumentError(filename)
	}
	if doc.Title == "" {
		doc.Title = path.Base(filename)
	}
	return doc, nil
}

func chapterTitle(tocByHref map[string]string, href string, spineIndex int) string {
	if href != "" {
		if t, ok := tocByHref[href]; ok {
			return t
		}
		if t, ok := tocByHref[path.Base(href)]; ok {
			return t
		}
	}
	return fmt.Sprintf("Section %d", spineIndex+1)
}
