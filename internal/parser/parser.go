// Package parser extracts raw text from uploaded documents.
package parser

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	ragerr "docqa/internal/errors"
)

// Parser turns a file on disk into plain text.
type Parser interface {
	Parse(path string) (string, error)
}

// SupportedExtensions lists the accepted file types, without the dot.
var SupportedExtensions = []string{"pdf", "md", "txt"}

// ForExtension returns the parser for ext ("pdf", ".md", "TXT" are all
// accepted forms).
func ForExtension(ext string) (Parser, error) {
	switch normalise(ext) {
	case "pdf":
		return PDF{}, nil
	case "md":
		return Markdown{}, nil
	case "txt":
		return Text{}, nil
	default:
		return nil, ragerr.New(ragerr.CodeParserTypeUnsupported, fmt.Sprintf("unsupported file type %q", ext),
			ragerr.Field("supported", SupportedExtensions))
	}
}

// FileType returns the normalised extension of path, e.g. "pdf".
func FileType(path string) string {
	return normalise(filepath.Ext(path))
}

// ParseFile picks a parser from the file extension and runs it.
func ParseFile(path string) (string, error) {
	p, err := ForExtension(FileType(path))
	if err != nil {
		return "", err
	}
	return p.Parse(path)
}

func normalise(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// Text reads a UTF-8 text file. Invalid byte sequences are replaced.
type Text struct{}

func (Text) Parse(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeParserReadFailure, "reading text file", ragerr.FieldPath(path))
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// Markdown keeps the markup as-is; headings and lists give the chunker useful
// paragraph boundaries.
type Markdown struct{}

func (Markdown) Parse(path string) (string, error) {
	return Text{}.Parse(path)
}

// PDF extracts per-page plain text. Every page with text is prefixed with a
// "[Page N]" marker line so passages can cite their page.
type PDF struct{}

func (PDF) Parse(path string) (text string, err error) {
	// the pdf reader panics on some malformed object streams
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = ragerr.New(ragerr.CodeParserReadFailure, fmt.Sprintf("malformed pdf: %v", r), ragerr.FieldPath(path))
		}
	}()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", ragerr.Wrap(err, ragerr.CodeParserReadFailure, "opening pdf", ragerr.FieldPath(path))
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", ragerr.Wrap(err, ragerr.CodeParserReadFailure, "extracting pdf text",
				ragerr.FieldPath(path), ragerr.Field("page", i))
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages = append(pages, fmt.Sprintf("[Page %d]\n%s", i, pageText))
	}
	return strings.Join(pages, "\n\n"), nil
}
