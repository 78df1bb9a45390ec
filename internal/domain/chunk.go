package domain

// Chunk is a contiguous slice of a document's extracted text.
// StartChar and EndChar are rune offsets into that text, half-open.
type Chunk struct {
	Content   string
	Index     int
	StartChar int
	EndChar   int
	Metadata  map[string]string
}

// Len returns the chunk length in runes.
func (c Chunk) Len() int { return c.EndChar - c.StartChar }
