package chunk

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/compozy/pagerag/engine/rag"
)

const opSplit = "chunk"

// Settings configures page chunking. Sizes count runes.
type Settings struct {
	Size    int
	Overlap int
	MinSize int
}

// SettingsFromDefaults maps engine defaults onto chunker settings.
func SettingsFromDefaults(d rag.Defaults) Settings {
	return Settings{Size: d.ChunkSize, Overlap: d.ChunkOverlap, MinSize: d.MinChunkSize}
}

// DefaultSettings returns the built-in chunker settings.
func DefaultSettings() Settings {
	return SettingsFromDefaults(rag.DefaultDefaults())
}

// Chunker splits page text into page-scoped chunks.
type Chunker struct {
	settings Settings
}

// NewChunker validates settings and returns a chunker.
func NewChunker(settings Settings) (*Chunker, error) {
	if settings.Size <= 0 {
		return nil, rag.NewValidationError(opSplit, rag.NoPosition, "size", "must be greater than zero")
	}
	if settings.Overlap < 0 {
		return nil, rag.NewValidationError(opSplit, rag.NoPosition, "overlap", "cannot be negative")
	}
	if settings.Overlap >= settings.Size {
		return nil, rag.NewValidationError(
			opSplit,
			rag.NoPosition,
			"overlap",
			fmt.Sprintf("overlap %d must be smaller than size %d", settings.Overlap, settings.Size),
		)
	}
	if settings.MinSize < 0 || settings.MinSize > settings.Size {
		return nil, rag.NewValidationError(
			opSplit,
			rag.NoPosition,
			"min_size",
			fmt.Sprintf("min size %d must be between 0 and size %d", settings.MinSize, settings.Size),
		)
	}
	return &Chunker{settings: settings}, nil
}

// Settings returns the active settings.
func (c *Chunker) Settings() Settings {
	return c.settings
}

// Split chunks pages in order. Chunks never span pages and carry rune offsets into
// their own page text. Page numbers must be positive and strictly increasing.
func (c *Chunker) Split(pages []rag.Page) ([]rag.Chunk, error) {
	if len(pages) == 0 {
		return nil, nil
	}
	chunks := make([]rag.Chunk, 0, len(pages))
	previous := 0
	for i := range pages {
		page := pages[i]
		if page.Number <= 0 {
			return nil, rag.NewValidationError(
				opSplit, i, "pageNumber", fmt.Sprintf("must be positive, got %d", page.Number),
			)
		}
		if i > 0 && page.Number <= previous {
			return nil, rag.NewValidationError(
				opSplit,
				i,
				"pageNumber",
				fmt.Sprintf("must be strictly increasing, got %d after %d", page.Number, previous),
			)
		}
		previous = page.Number
		if !utf8.ValidString(page.Text) {
			return nil, rag.NewValidationError(opSplit, i, "text", "must be valid UTF-8")
		}
		runes := []rune(page.Text)
		for _, s := range c.splitPage(runes) {
			chunks = append(chunks, rag.Chunk{
				Text:       string(runes[s.start:s.end]),
				PageNumber: page.Number,
				StartIndex: s.start,
				EndIndex:   s.end,
			})
		}
	}
	for i := range chunks {
		chunks[i].ChunkIndex = i
	}
	return chunks, nil
}

type span struct {
	start int
	end   int
}

func (s span) len() int {
	return s.end - s.start
}

func (c *Chunker) splitPage(runes []rune) []span {
	start, end := trimBounds(runes, 0, len(runes))
	if start >= end {
		return nil
	}
	size := c.settings.Size
	if end-start <= size {
		return []span{{start: start, end: end}}
	}
	var spans []span
	pos := start
	lastCut := start
	for {
		if end-pos <= size {
			s, e := trimBounds(runes, pos, end)
			if s < e {
				spans = append(spans, span{start: s, end: e})
			}
			break
		}
		limit := pos + size
		floor := max(pos+size/2, lastCut+1)
		cut := findBreak(runes, floor, limit)
		if s, e := trimBounds(runes, pos, cut); s < e {
			spans = append(spans, span{start: s, end: e})
		}
		lastCut = cut
		next := snapToWordStart(runes, cut-c.settings.Overlap, cut)
		if next <= pos {
			next = cut
		}
		pos = next
	}
	return c.mergeTail(spans)
}

// mergeTail folds a short final span into its predecessor unless the result would
// exceed Size+MinSize runes.
func (c *Chunker) mergeTail(spans []span) []span {
	n := len(spans)
	if n < 2 || spans[n-1].len() >= c.settings.MinSize {
		return spans
	}
	if spans[n-1].end-spans[n-2].start > c.settings.Size+c.settings.MinSize {
		return spans
	}
	spans[n-2].end = spans[n-1].end
	return spans[:n-1]
}

type boundary func(runes []rune, cut int) bool

// boundaries are tried in order; the first kind with a match in the window wins.
var boundaries = []boundary{
	func(r []rune, c int) bool { return c >= 2 && r[c-1] == '\n' && r[c-2] == '\n' },
	func(r []rune, c int) bool { return c >= 2 && unicode.IsSpace(r[c-1]) && isSentenceEnd(r[c-2]) },
	func(r []rune, c int) bool { return c >= 1 && r[c-1] == '\n' },
	func(r []rune, c int) bool { return c >= 1 && unicode.IsSpace(r[c-1]) },
}

// findBreak returns the latest cut in [floor, limit] at the strongest boundary kind,
// or limit when no boundary exists.
func findBreak(runes []rune, floor int, limit int) int {
	if floor > limit {
		return limit
	}
	for _, isBoundary := range boundaries {
		for cut := limit; cut >= floor; cut-- {
			if isBoundary(runes, cut) {
				return cut
			}
		}
	}
	return limit
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// snapToWordStart moves pos forward to the next word start before limit.
func snapToWordStart(runes []rune, pos int, limit int) int {
	if pos < 0 {
		pos = 0
	}
	for ; pos < limit; pos++ {
		if !unicode.IsSpace(runes[pos]) && (pos == 0 || unicode.IsSpace(runes[pos-1])) {
			return pos
		}
	}
	return limit
}

func trimBounds(runes []rune, start int, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}
