package chunker

import (
	"maps"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"docqa/internal/domain"
	ragerr "docqa/internal/errors"
)

const (
	// StrategyParagraph accumulates blank-line delimited paragraphs.
	StrategyParagraph = "paragraph"
	// StrategySentence accumulates sentences ended by '.', '!' or '?'.
	StrategySentence = "sentence"
)

var (
	paragraphSplitter = regexp.MustCompile(`\n\s*\n`)
	sentenceBoundary  = regexp.MustCompile(`[.!?]\s+`)
	leadingPageMarker = regexp.MustCompile(`^\[Page (\d+)\]`)
	anyPageMarker     = regexp.MustCompile(`\[Page (\d+)\]`)
	pageMarkerStrip   = regexp.MustCompile(`\[Page \d+\]\s*`)
)

// Config holds chunk sizing in characters.
type Config struct {
	Strategy     string
	ChunkSize    int
	ChunkOverlap int
}

// Chunker splits text into overlapping, page-tracked passages. Units are
// never force-split: a single unit larger than ChunkSize becomes its own
// oversized passage.
type Chunker struct {
	strategy  string
	size      int
	overlap   int
	separator string
	split     func(string) []string
	marker    *regexp.Regexp
}

// New validates cfg and returns a Chunker. An empty strategy selects
// paragraph mode; "semantic" is accepted as an alias for sentence mode.
func New(cfg Config) (*Chunker, error) {
	if cfg.ChunkSize <= 0 {
		return nil, ragerr.Errorf(ragerr.CodeChunkerConfigInvalid, "chunk_size must be greater than 0, got %d", cfg.ChunkSize)
	}
	if cfg.ChunkOverlap < 0 {
		return nil, ragerr.Errorf(ragerr.CodeChunkerConfigInvalid, "chunk_overlap must not be negative, got %d", cfg.ChunkOverlap)
	}
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, ragerr.Errorf(ragerr.CodeChunkerConfigInvalid,
			"chunk_overlap (%d) must be smaller than chunk_size (%d)", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	c := &Chunker{size: cfg.ChunkSize, overlap: cfg.ChunkOverlap}
	switch cfg.Strategy {
	case StrategyParagraph, "":
		c.strategy = StrategyParagraph
		c.separator = "\n\n"
		c.split = splitParagraphs
		c.marker = leadingPageMarker
	case StrategySentence, "semantic":
		c.strategy = StrategySentence
		c.separator = " "
		c.split = splitSentences
		c.marker = anyPageMarker
	default:
		return nil, ragerr.Errorf(ragerr.CodeChunkerConfigInvalid, "unknown chunker strategy %q", cfg.Strategy)
	}
	return c, nil
}

// Strategy returns the normalised strategy name.
func (c *Chunker) Strategy() string { return c.strategy }

// Chunk splits the document content into passages carrying the document's
// source metadata. Blank content yields no passages.
func (c *Chunker) Chunk(document domain.Document) []domain.Passage {
	if strings.TrimSpace(document.Content) == "" {
		return nil
	}
	var (
		passages []domain.Passage
		buffer   string
		page     = 1
	)
	for _, unit := range c.split(document.Content) {
		if m := c.marker.FindStringSubmatch(unit); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
			}
			unit = strings.TrimSpace(pageMarkerStrip.ReplaceAllString(unit, ""))
			if unit == "" {
				continue
			}
		}
		if buffer != "" && runeLen(buffer)+runeLen(unit) > c.size {
			passages = append(passages, newPassage(buffer, page, document))
			if carry := tail(buffer, c.overlap); carry != "" {
				buffer = carry + c.separator + unit
			} else {
				buffer = unit
			}
			continue
		}
		if buffer == "" {
			buffer = unit
		} else {
			buffer += c.separator + unit
		}
	}
	if strings.TrimSpace(buffer) != "" {
		passages = append(passages, newPassage(buffer, page, document))
	}
	return passages
}

func newPassage(text string, page int, document domain.Document) domain.Passage {
	p := domain.Passage{
		Text:       strings.TrimSpace(text),
		Page:       page,
		Source:     document.Title,
		DocumentID: document.ID,
	}
	if len(document.Metadata) > 0 {
		p.Metadata = maps.Clone(document.Metadata)
	}
	return p
}

func splitParagraphs(text string) []string {
	return nonEmpty(paragraphSplitter.Split(text, -1))
}

// splitSentences cuts after sentence punctuation that is followed by
// whitespace, keeping the punctuation with its sentence.
func splitSentences(text string) []string {
	var parts []string
	start := 0
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		parts = append(parts, text[start:loc[0]+1])
		start = loc[1]
	}
	parts = append(parts, text[start:])
	return nonEmpty(parts)
}

func nonEmpty(parts []string) []string {
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

// tail returns the last n characters of s, or s itself when it is shorter.
func tail(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if runeLen(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[len(r)-n:])
}
