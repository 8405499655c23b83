package reader

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Format defines a file format loader.
type Format interface {
	Name() string
	Extensions() []string
	Load(filename string) (*Document, error)
}

var registry []Format

// Register adds a format loader to the registry.
func Register(f Format) {
	registry = append(registry, f)
}

// Open loads a document using a registered format, falling back to plain text.
func Open(filename string) (*Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	for _, f := range registry {
		for _, e := range f.Extensions() {
			if ext == e {
				doc, err := f.Load(filename)
				if err != nil {
					return nil, err
				}
				doc.Path = filename
				return doc, nil
			}
		}
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	doc := FromText(string(data))
	doc.Title = filepath.Base(filename)
	doc.Path = filename
	return doc, nil
}

// SupportedFormats returns registered format names with their extensions.
func SupportedFormats() []string {
	var out []string
	for _, f := range registry {
		out = append(out, f.Name()+" ("+strings.Join(f.Extensions(), ", ")+")")
	}
	return out
}

func emptyDocumentError(filename string) error {
	return fmt.Errorf("no readable chapters in %s", filename)
}
