package domain

import (
	"sort"
	"strconv"
)

// RecordMetadata is stored next to every indexed chunk.
type RecordMetadata struct {
	FileID       string `json:"fileId"`
	ChunkIndex   int    `json:"chunkIndex"`
	OriginalName string `json:"originalName"`
	StartChar    int    `json:"startChar"`
	EndChar      int    `json:"endChar"`
}

// Record is the durable unit in the vector store.
type Record struct {
	ID       string
	Vector   []float32
	Text     string
	Metadata RecordMetadata
}

// RecordID builds the deterministic id of a chunk record. Re-indexing the
// same chunk position produces the same id.
func RecordID(fileID string, chunkIndex int) string {
	return fileID + "_" + strconv.Itoa(chunkIndex)
}

// Filter scopes a vector query. The zero value matches every record.
type Filter struct {
	FileID string
}

// IsEmpty reports whether the filter matches everything.
func (f Filter) IsEmpty() bool { return f.FileID == "" }

// QueryHit is a raw nearest-neighbor match as reported by the store.
type QueryHit struct {
	ID       string
	Text     string
	Metadata RecordMetadata
	Distance float64
}

// SearchResult is a retrieval hit with a relevance score in [0,1].
type SearchResult struct {
	Content    string         `json:"content"`
	Metadata   RecordMetadata `json:"metadata"`
	Similarity float64        `json:"similarity"`
}

// Similarity maps a cosine-style distance to a [0,1] score, higher is closer.
func Similarity(distance float64) float64 {
	if distance < 0 {
		distance = 0
	}
	if distance > 1 {
		distance = 1
	}
	return 1 - distance
}

// ToSearchResults converts store hits and orders them by descending similarity.
// Ties keep the store's order.
func ToSearchResults(hits []QueryHit) []SearchResult {
	out := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		out = append(out, SearchResult{
			Content:    h.Text,
			Metadata:   h.Metadata,
			Similarity: Similarity(h.Distance),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Similarity > out[j].Similarity })
	return out
}
