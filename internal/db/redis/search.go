package redis

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/redis/rueidis"

	"github.com/kailas-cloud/ragchat/internal/db"
)

const defaultVectorField = "vector"

// maxKeysPerSearch is the page size of a FT.SEARCH key listing.
const maxKeysPerSearch = 10000

// SearchKNN runs a KNN vector similarity search via FT.SEARCH.
func (s *Store) SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
	if q.IndexName == "" {
		return nil, fmt.Errorf("index name is required")
	}
	if len(q.Vector) == 0 {
		return nil, fmt.Errorf("vector is required")
	}
	if q.K <= 0 {
		return nil, fmt.Errorf("k must be positive")
	}

	field := q.VectorField
	if field == "" {
		field = defaultVectorField
	}
	knnPart := fmt.Sprintf("[KNN %d @%s $BLOB]", q.K, field)

	var queryStr string
	if filterStr := buildTagFilters(q.Tags); filterStr != "" {
		queryStr = fmt.Sprintf("(%s)=>%s", filterStr, knnPart)
	} else {
		queryStr = "*=>" + knnPart
	}

	args := []string{q.IndexName, queryStr}
	if len(q.ReturnFields) > 0 {
		returned := append([]string{"__vector_score"}, q.ReturnFields...)
		args = append(args, "RETURN", strconv.Itoa(len(returned)))
		args = append(args, returned...)
	}
	args = append(args,
		"LIMIT", "0", strconv.Itoa(q.K),
		"PARAMS", "2", "BLOB", vectorToBytes(q.Vector),
		"DIALECT", "2",
	)

	cmd := s.b().Arbitrary("FT.SEARCH").Args(args...).Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isUnknownIndex(err) {
			return nil, db.ErrIndexNotFound
		}
		return nil, &db.Error{Op: db.OpSearch, Err: err}
	}

	return parseKNNResult(raw)
}

// SearchKeys returns every key matching q's tags, paging through FT.SEARCH
// results until the reported total is reached.
func (s *Store) SearchKeys(ctx context.Context, q *db.KeyQuery) ([]string, error) {
	if s.valkey {
		return s.scanKeys(ctx, q)
	}

	query := buildTagFilters(q.Tags)
	if query == "" {
		query = "*"
	}
	page := s.keysPage
	if page <= 0 {
		page = maxKeysPerSearch
	}

	var keys []string
	for offset := 0; ; offset += page {
		cmd := s.b().Arbitrary("FT.SEARCH").
			Args(q.IndexName, query, "NOCONTENT",
				"LIMIT", strconv.Itoa(offset), strconv.Itoa(page), "DIALECT", "2").
			Build()
		raw, err := s.do(ctx, cmd).ToArray()
		if err != nil {
			if isUnknownIndex(err) {
				return nil, db.ErrIndexNotFound
			}
			return nil, &db.Error{Op: db.OpSearch, Err: err}
		}
		if len(raw) == 0 {
			break
		}
		total, err := raw[0].AsInt64()
		if err != nil {
			return nil, fmt.Errorf("parse total: %w", err)
		}

		for _, m := range raw[1:] {
			if key, err := m.ToString(); err == nil {
				keys = append(keys, key)
			}
		}
		if len(raw)-1 < page || int64(offset+page) >= total {
			break
		}
	}
	return keys, nil
}

// SearchCount returns the number of keys matching q.
func (s *Store) SearchCount(ctx context.Context, q *db.KeyQuery) (int, error) {
	if s.valkey {
		keys, err := s.scanKeys(ctx, q)
		if err != nil {
			return 0, err
		}
		return len(keys), nil
	}

	query := buildTagFilters(q.Tags)
	if query == "" {
		query = "*"
	}
	cmd := s.b().Arbitrary("FT.SEARCH").Args(q.IndexName, query, "LIMIT", "0", "0", "DIALECT", "2").Build()
	raw, err := s.do(ctx, cmd).ToArray()
	if err != nil {
		if isUnknownIndex(err) {
			return 0, db.ErrIndexNotFound
		}
		return 0, &db.Error{Op: db.OpSearch, Err: err}
	}
	if len(raw) == 0 {
		return 0, nil
	}
	total, err := raw[0].AsInt64()
	if err != nil {
		return 0, fmt.Errorf("parse count: %w", err)
	}
	return int(total), nil
}

// scanKeys walks the index prefix with SCAN and checks tag fields with HMGET.
// valkey-search does not answer FT.SEARCH without a KNN clause.
func (s *Store) scanKeys(ctx context.Context, q *db.KeyQuery) ([]string, error) {
	if q.Prefix == "" {
		return nil, fmt.Errorf("prefix is required for scan")
	}
	keys, err := s.Scan(ctx, q.Prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan keys: %w", err)
	}
	if len(q.Tags) == 0 {
		return keys, nil
	}

	fields := make([]string, len(q.Tags))
	for i, t := range q.Tags {
		fields[i] = t.Field
	}

	out := keys[:0]
	for _, key := range keys {
		vals, err := s.do(ctx, s.b().Hmget().Key(key).Field(fields...).Build()).ToArray()
		if err != nil {
			return nil, &db.Error{Op: db.OpHMGet, Err: err}
		}
		if tagsMatch(q.Tags, vals) {
			out = append(out, key)
		}
	}
	return out, nil
}

func tagsMatch(tags []db.TagFilter, vals []rueidis.RedisMessage) bool {
	if len(vals) != len(tags) {
		return false
	}
	for i, t := range tags {
		v, err := vals[i].ToString()
		if err != nil || v != t.Value {
			return false
		}
	}
	return true
}

// --- Result parsing ---

func parseKNNResult(raw []rueidis.RedisMessage) (*db.SearchResult, error) {
	if len(raw) == 0 {
		return &db.SearchResult{}, nil
	}

	total, err := raw[0].AsInt64()
	if err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	if total == 0 {
		return &db.SearchResult{}, nil
	}

	entries := make([]db.SearchEntry, 0, total)
	// 2-stride: [total, key1, fields1, key2, fields2, ...]
	for i := 1; i+1 < len(raw); i += 2 {
		key, err := raw[i].ToString()
		if err != nil {
			continue
		}
		fields, err := raw[i+1].ToArray()
		if err != nil {
			continue
		}

		entry := db.SearchEntry{Key: key, Fields: parseFieldPairs(fields)}
		if scoreStr, ok := entry.Fields["__vector_score"]; ok {
			if d, err := strconv.ParseFloat(scoreStr, 64); err == nil {
				entry.Distance = d
			}
			delete(entry.Fields, "__vector_score")
		}
		entries = append(entries, entry)
	}

	return &db.SearchResult{Total: int(total), Entries: entries}, nil
}

func parseFieldPairs(fields []rueidis.RedisMessage) map[string]string {
	m := make(map[string]string, len(fields)/2)
	for j := 0; j+1 < len(fields); j += 2 {
		name, err := fields[j].ToString()
		if err != nil {
			continue
		}
		value, err := fields[j+1].ToString()
		if err != nil {
			continue
		}
		m[name] = value
	}
	return m
}

// --- Filter building ---

// buildTagFilters joins tag conditions with AND.
func buildTagFilters(tags []db.TagFilter) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, fmt.Sprintf("@%s:{%s}", t.Field, tagEscaper.Replace(t.Value)))
	}
	return strings.Join(parts, " ")
}

var tagEscaper = strings.NewReplacer(
	",", "\\,",
	".", "\\.",
	"<", "\\<",
	">", "\\>",
	"{", "\\{",
	"}", "\\}",
	"\"", "\\\"",
	"'", "\\'",
	":", "\\:",
	";", "\\;",
	"!", "\\!",
	"@", "\\@",
	"#", "\\#",
	"$", "\\$",
	"%", "\\%",
	"^", "\\^",
	"&", "\\&",
	"*", "\\*",
	"(", "\\(",
	")", "\\)",
	"-", "\\-",
	"+", "\\+",
	"=", "\\=",
	"~", "\\~",
	"|", "\\|",
	"/", "\\/",
	" ", "\\ ",
)

func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}
