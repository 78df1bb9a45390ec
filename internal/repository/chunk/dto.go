package chunk

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"

	"github.com/kailas-cloud/ragchat/internal/domain"
)

// Hash field names. Redis hashes store everything as strings.
const (
	fieldContent      = "content"
	fieldFileID       = "file_id"
	fieldChunkIndex   = "chunk_index"
	fieldOriginalName = "original_name"
	fieldStartChar    = "start_char"
	fieldEndChar      = "end_char"
	fieldVector       = "vector"
)

// returnFields are fetched with every KNN hit. The vector itself is not.
var returnFields = []string{
	fieldContent, fieldFileID, fieldChunkIndex, fieldOriginalName, fieldStartChar, fieldEndChar,
}

func buildHashFields(r domain.Record) map[string]string {
	return map[string]string{
		fieldContent:      r.Text,
		fieldFileID:       r.Metadata.FileID,
		fieldChunkIndex:   strconv.Itoa(r.Metadata.ChunkIndex),
		fieldOriginalName: r.Metadata.OriginalName,
		fieldStartChar:    strconv.Itoa(r.Metadata.StartChar),
		fieldEndChar:      strconv.Itoa(r.Metadata.EndChar),
		fieldVector:       vectorToBytes(r.Vector),
	}
}

func parseHit(id string, distance float64, fields map[string]string) (domain.QueryHit, error) {
	hit := domain.QueryHit{
		ID:       id,
		Text:     fields[fieldContent],
		Distance: distance,
		Metadata: domain.RecordMetadata{
			FileID:       fields[fieldFileID],
			OriginalName: fields[fieldOriginalName],
		},
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
		raw, ok := fields[f.name]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return domain.QueryHit{}, fmt.Errorf("parse %s of %s: %w", f.name, id, err)
		}
		*f.dst = n
	}
	return hit, nil
}

// vectorToBytes packs a float32 slice as little-endian FLOAT32, the layout
// the vector index expects.
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
