package db

// TagFilter restricts a query to hashes whose TAG field equals Value.
type TagFilter struct {
	Field string
	Value string
}

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName string
	// VectorField defaults to "vector".
	VectorField  string
	Tags         []TagFilter
	Vector       []float32
	K            int
	ReturnFields []string
}

// KeyQuery selects the keys of an index, optionally narrowed by tags.
// Prefix is the key prefix the index covers; stores without plain
// FT.SEARCH support walk it with SCAN.
type KeyQuery struct {
	IndexName string
	Prefix    string
	Tags      []TagFilter
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hash hit from a search.
type SearchEntry struct {
	Key string
	// Distance is the raw __vector_score: cosine distance in [0, 2].
	Distance float64
	Fields   map[string]string
}
