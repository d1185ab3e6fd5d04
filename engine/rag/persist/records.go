package persist

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"

	"github.com/compozy/pagerag/engine/rag"
	"github.com/compozy/pagerag/engine/rag/index"
)

const (
	opDecode  = "decode records"
	opRebuild = "rebuild"
)

// Record is the storable shape of one chunk. Position fields are pointers so records
// written before they existed can be told apart from zero values.
type Record struct {
	Text       string    `json:"text"`
	PageNumber int       `json:"pageNumber"`
	Embedding  []float32 `json:"embedding,omitempty"`
	ChunkIndex *int      `json:"chunkIndex,omitempty"`
	StartIndex *int      `json:"startIndex,omitempty"`
	EndIndex   *int      `json:"endIndex,omitempty"`
}

// HasEmbedding reports whether the record carries a vector.
func (r *Record) HasEmbedding() bool {
	return len(r.Embedding) > 0
}

// Serialize converts an index into records in chunk order.
func Serialize(idx *index.Index) []Record {
	if idx == nil {
		return []Record{}
	}
	out := make([]Record, idx.Len())
	for i := range out {
		c := idx.Chunk(i)
		out[i] = Record{
			Text:       c.Text,
			PageNumber: c.PageNumber,
			Embedding:  c.Embedding.Vector(),
			ChunkIndex: intPtr(c.ChunkIndex),
			StartIndex: intPtr(c.StartIndex),
			EndIndex:   intPtr(c.EndIndex),
		}
	}
	return out
}

// Marshal encodes records as a JSON array.
func Marshal(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("persist: marshal records: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a stored JSON array of records, checking each field's type.
// Records from older schemas may omit the embedding, chunkIndex and offsets.
func Unmarshal(data []byte) ([]Record, error) {
	if !gjson.ValidBytes(data) {
		return nil, rag.NewValidationError(opDecode, rag.NoPosition, "", "payload is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if root.Type == gjson.Null {
		return []Record{}, nil
	}
	if !root.IsArray() {
		return nil, rag.NewValidationError(opDecode, rag.NoPosition, "", "payload must be a JSON array")
	}
	items := root.Array()
	out := make([]Record, len(items))
	for i := range items {
		rec, err := decodeRecord(i, items[i])
		if err != nil {
			return nil, err
		}
		out[i] = rec
	}
	return out, nil
}

func decodeRecord(pos int, item gjson.Result) (Record, error) {
	var rec Record
	if !item.IsObject() {
		return rec, rag.NewValidationError(opDecode, pos, "", "record must be an object")
	}
	text := item.Get("text")
	if text.Type != gjson.String || strings.TrimSpace(text.Str) == "" {
		return rec, rag.NewValidationError(opDecode, pos, "text", "must be a non-empty string")
	}
	rec.Text = text.Str
	pageValue := item.Get("pageNumber")
	if pageValue.Type != gjson.Number {
		return rec, rag.NewValidationError(opDecode, pos, "pageNumber", "must be a number")
	}
	page, err := decodeInt(pageValue)
	if err != nil || page == nil {
		return rec, rag.NewValidationError(opDecode, pos, "pageNumber", "must be a number")
	}
	if *page <= 0 {
		return rec, rag.NewValidationError(opDecode, pos, "pageNumber", fmt.Sprintf("must be positive, got %d", *page))
	}
	rec.PageNumber = *page
	if rec.Embedding, err = decodeVector(item.Get("embedding")); err != nil {
		return rec, rag.NewValidationError(opDecode, pos, "embedding", err.Error())
	}
	positions := []struct {
		field string
		dst   **int
	}{
		{"chunkIndex", &rec.ChunkIndex},
		{"startIndex", &rec.StartIndex},
		{"endIndex", &rec.EndIndex},
	}
	for _, p := range positions {
		value, err := decodeInt(item.Get(p.field))
		if err != nil {
			return rec, rag.NewValidationError(opDecode, pos, p.field, err.Error())
		}
		*p.dst = value
	}
	return rec, nil
}

// decodeInt returns nil for absent or null values. Numeric strings are accepted for
// legacy position fields.
func decodeInt(v gjson.Result) (*int, error) {
	switch v.Type {
	case gjson.Null:
		return nil, nil
	case gjson.Number:
		if v.Num != math.Trunc(v.Num) || math.IsInf(v.Num, 0) {
			return nil, fmt.Errorf("must be an integer, got %s", v.Raw)
		}
		n := int(v.Num)
		return &n, nil
	case gjson.String:
		n, err := strconv.Atoi(strings.TrimSpace(v.Str))
		if err != nil {
			return nil, fmt.Errorf("must be an integer, got %q", v.Str)
		}
		return &n, nil
	default:
		return nil, fmt.Errorf("must be an integer, got %s", v.Raw)
	}
}

func decodeVector(v gjson.Result) ([]float32, error) {
	if v.Type == gjson.Null {
		return nil, nil
	}
	if !v.IsArray() {
		return nil, errors.New("must be an array of numbers")
	}
	values := v.Array()
	if len(values) == 0 {
		return nil, nil
	}
	out := make([]float32, len(values))
	for i := range values {
		if values[i].Type != gjson.Number {
			return nil, fmt.Errorf("value %d is not a number: %s", i, values[i].Raw)
		}
		out[i] = float32(values[i].Num)
	}
	return out, nil
}

// Rebuild reconstructs an index from records without re-chunking. Present embeddings
// are kept as stored. A missing chunkIndex defaults to the record position; records
// without offsets span their whole text.
func Rebuild(records []Record) (*index.Index, error) {
	chunks := make([]rag.Chunk, len(records))
	for i := range records {
		c, err := chunkFromRecord(i, &records[i])
		if err != nil {
			return nil, err
		}
		chunks[i] = c
	}
	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].ChunkIndex < chunks[j].ChunkIndex
	})
	idx, err := index.Build(chunks)
	if err != nil {
		return nil, fmt.Errorf("persist: %s: %w", opRebuild, err)
	}
	return idx, nil
}

func chunkFromRecord(pos int, rec *Record) (rag.Chunk, error) {
	if strings.TrimSpace(rec.Text) == "" {
		return rag.Chunk{}, rag.NewValidationError(opRebuild, pos, "text", "must be a non-empty string")
	}
	if rec.PageNumber <= 0 {
		return rag.Chunk{}, rag.NewValidationError(
			opRebuild, pos, "pageNumber", fmt.Sprintf("must be positive, got %d", rec.PageNumber),
		)
	}
	chunkIndex := pos
	if rec.ChunkIndex != nil {
		chunkIndex = *rec.ChunkIndex
	}
	start, end, err := offsets(rec)
	if err != nil {
		return rag.Chunk{}, rag.NewValidationError(opRebuild, pos, "startIndex", err.Error())
	}
	if runes := utf8.RuneCountInString(rec.Text); end-start != runes {
		return rag.Chunk{}, rag.NewValidationError(opRebuild, pos, "endIndex", fmt.Sprintf(
			"offsets [%d, %d) span %d runes but text has %d", start, end, end-start, runes,
		))
	}
	return rag.Chunk{
		Text:       rec.Text,
		PageNumber: rec.PageNumber,
		ChunkIndex: chunkIndex,
		StartIndex: start,
		EndIndex:   end,
		Embedding:  rag.EmbeddingOf(rec.Embedding),
	}, nil
}

func offsets(rec *Record) (int, int, error) {
	switch {
	case rec.StartIndex == nil && rec.EndIndex == nil:
		return 0, utf8.RuneCountInString(rec.Text), nil
	case rec.StartIndex == nil || rec.EndIndex == nil:
		return 0, 0, errors.New("startIndex and endIndex must be stored together")
	case *rec.StartIndex < 0 || *rec.StartIndex >= *rec.EndIndex:
		return 0, 0, fmt.Errorf("offsets [%d, %d) are not a valid range", *rec.StartIndex, *rec.EndIndex)
	default:
		return *rec.StartIndex, *rec.EndIndex, nil
	}
}

func intPtr(v int) *int {
	return &v
}
