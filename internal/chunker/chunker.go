// Package chunker turns extracted document text into overlapping,
// sentence-aligned chunks.
package chunker

import (
	"maps"
	"sort"
	"unicode"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// DefaultChunkSize is the default maximum chunk length in characters.
const DefaultChunkSize = 1000

// DefaultChunkOverlap is the default overlap between neighbouring chunks in characters.
const DefaultChunkOverlap = 200

// Chunker splits text on sentence boundaries and packs sentences greedily.
// It is stateless after construction and safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the maximum chunk length in characters.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets how many trailing characters of a chunk are repeated
// at the start of the next one. Zero disables overlap.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with defaults 1000/200.
func New(opts ...Option) *Chunker {
	c := &Chunker{size: DefaultChunkSize, overlap: DefaultChunkOverlap}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

type span struct{ start, end int }

// Chunk splits text into ordered chunks. Every chunk's Content equals the
// rune range [StartChar, EndChar) of text. A sentence longer than the
// configured size becomes a chunk of its own and is never cut.
func (c *Chunker) Chunk(text string, metadata map[string]string) []domain.Chunk {
	rs := []rune(text)
	sentences := splitSentences(rs)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []domain.Chunk
	buf := sentences[0]
	for _, s := range sentences[1:] {
		if s.end-buf.start <= c.size {
			buf.end = s.end
			continue
		}
		chunks = append(chunks, newChunk(rs, buf, len(chunks), metadata))
		buf = span{start: c.overlapStart(rs, sentences, buf, s.start), end: s.end}
	}
	return append(chunks, newChunk(rs, buf, len(chunks), metadata))
}

// overlapStart picks where the next chunk begins: inside the sealed chunk,
// at most overlap characters before its end, on a sentence start if one
// exists there, otherwise on a word start. With no usable boundary the next
// chunk starts at the sentence that overflowed.
func (c *Chunker) overlapStart(rs []rune, sentences []span, sealed span, next int) int {
	if c.overlap == 0 {
		return next
	}
	from := max(sealed.end-c.overlap, sealed.start+1)

	i := sort.Search(len(sentences), func(i int) bool { return sentences[i].start >= from })
	if i < len(sentences) && sentences[i].start < sealed.end {
		return sentences[i].start
	}

	for p := from; p < sealed.end; p++ {
		if !unicode.IsSpace(rs[p]) && unicode.IsSpace(rs[p-1]) {
			return p
		}
	}
	return next
}

func newChunk(rs []rune, s span, index int, metadata map[string]string) domain.Chunk {
	return domain.Chunk{
		Content:   string(rs[s.start:s.end]),
		Index:     index,
		StartChar: s.start,
		EndChar:   s.end,
		Metadata:  maps.Clone(metadata),
	}
}

// splitSentences returns sentence spans with surrounding whitespace trimmed.
// A sentence ends at '.', '!' or '?' followed by whitespace or end of text.
func splitSentences(rs []rune) []span {
	var out []span
	start := -1
	for i, r := range rs {
		if start < 0 {
			if unicode.IsSpace(r) {
				continue
			}
			start = i
		}
		if isTerminal(r) && (i+1 == len(rs) || unicode.IsSpace(rs[i+1])) {
			out = append(out, span{start: start, end: i + 1})
			start = -1
		}
	}
	if start >= 0 {
		end := len(rs)
		for end > start && unicode.IsSpace(rs[end-1]) {
			end--
		}
		out = append(out, span{start: start, end: end})
	}
	return out
}

func isTerminal(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}
