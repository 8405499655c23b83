// Package reader loads documents into chapters of renderable HTML.
package reader

// Kind is the document family, which decides how reading positions are kept.
type Kind string

const (
	// KindEPUB documents are chaptered; positions are chapter + chunk.
	KindEPUB Kind = "epub"
	// KindPDF documents are flat; positions are paragraph indices.
	KindPDF Kind = "pdf"
)

// Chapter is one structural unit of a document.
type Chapter struct {
	Title string
	Href  string
	HTML  []byte
}

// Document is a loaded book.
type Document struct {
	ID       string
	Title    string
	Path     string
	Kind     Kind
	Chapters []Chapter
}

// ChapterTitle returns the title of chapter i, or "" when out of range.
func (d *Document) ChapterTitle(i int) string {
	if d == nil || i < 0 || i >= len(d.Chapters) {
		return ""
	}
	return d.Chapters[i].Title
}
