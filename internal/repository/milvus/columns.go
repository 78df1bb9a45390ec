package milvus

import (
	"fmt"

	"github.com/milvus-io/milvus/client/v2/milvusclient"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// columns is a column-major view of a record batch.
type columns struct {
	ids          []string
	fileIDs      []string
	chunkIndexes []int64
	names        []string
	starts       []int64
	ends         []int64
	contents     []string
	vectors      [][]float32
}

func newColumns(records []domain.Record, dim int) (*columns, error) {
	n := len(records)
	c := &columns{
		ids:          make([]string, 0, n),
		fileIDs:      make([]string, 0, n),
		chunkIndexes: make([]int64, 0, n),
		names:        make([]string, 0, n),
		starts:       make([]int64, 0, n),
		ends:         make([]int64, 0, n),
		contents:     make([]string, 0, n),
		vectors:      make([][]float32, 0, n),
	}
	for _, r := range records {
		if r.ID == "" {
			return nil, fmt.Errorf("upsert chunk: empty id: %w", domain.ErrInvalidRequest)
		}
		if len(r.Vector) != dim {
			return nil, fmt.Errorf("upsert chunk %s: got %d, want %d: %w",
				r.ID, len(r.Vector), dim, domain.ErrVectorDimMismatch)
		}
		c.ids = append(c.ids, r.ID)
		c.fileIDs = append(c.fileIDs, r.Metadata.FileID)
		c.chunkIndexes = append(c.chunkIndexes, int64(r.Metadata.ChunkIndex))
		c.names = append(c.names, r.Metadata.OriginalName)
		c.starts = append(c.starts, int64(r.Metadata.StartChar))
		c.ends = append(c.ends, int64(r.Metadata.EndChar))
		c.contents = append(c.contents, r.Text)
		c.vectors = append(c.vectors, r.Vector)
	}
	return c, nil
}

// hitsFromResult converts one search result set. COSINE scores are
// similarities, so distance = 1 - score.
func hitsFromResult(rs milvusclient.ResultSet) ([]domain.QueryHit, error) {
	if rs.Err != nil {
		return nil, fmt.Errorf("search result: %w", rs.Err)
	}
	hits := make([]domain.QueryHit, 0, rs.ResultCount)
	for i := 0; i < rs.ResultCount; i++ {
		id, err := rs.IDs.GetAsString(i)
		if err != nil {
			return nil, fmt.Errorf("read id %d: %w", i, err)
		}
		hit := domain.QueryHit{ID: id}
		if i < len(rs.Scores) {
			hit.Distance = 1 - float64(rs.Scores[i])
		}

		strs := []struct {
			name string
			dst  *string
		}{
			{fieldContent, &hit.Text},
			{fieldFileID, &hit.Metadata.FileID},
			{fieldOriginalName, &hit.Metadata.OriginalName},
		}
		for _, f := range strs {
			col := rs.GetColumn(f.name)
			if col == nil {
				continue
			}
			v, err := col.GetAsString(i)
			if err != nil {
				return nil, fmt.Errorf("read %s of %s: %w", f.name, id, err)
			}
			*f.dst = v
		}

		ints := []struct {
			name string
			dst  *int
		}{
			{fieldChunkIndex, &hit.Metadata.ChunkIndex},
			{fieldStartChar, &hit.Metadata.StartChar},
			{fieldEndChar, &hit.Metadata.EndChar},
		}
		for _, f := range ints {
			col := rs.GetColumn(f.name)
			if col == nil {
				continue
			}
			v, err := col.GetAsInt64(i)
			if err != nil {
				return nil, fmt.Errorf("read %s of %s: %w", f.name, id, err)
			}
			*f.dst = int(v)
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
