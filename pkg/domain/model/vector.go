package model

import (
	"fmt"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// EmbeddingDimension is the output dimension requested from the embedding model
// for the default indexes.
const EmbeddingDimension = 1024

// Default vector index names
const (
	DocumentIndex = "documents"
	MemoryIndex   = "memory"
)

// Metadata keys shared by every vector entry
const (
	MetaContent         = "content"
	MetaSourceReference = "sourceReference"
	MetaSourceFile      = "sourceFile"
	MetaThemes          = "themes"
	MetaUserID          = "userId"
	MetaSessionID       = "sessionId"
	MetaTimestamp       = "timestamp"
	MetaLevel           = "level"
	MetaTitle           = "title"
	MetaAuthor          = "author"
	MetaChapter         = "chapter"
)

// VectorEntry is a retrieval unit stored in a vector index
type VectorEntry struct {
	ID       string
	Vector   []float32
	Metadata map[string]any
}

// Content returns the text stored in the entry metadata
func (e *VectorEntry) Content() string {
	return MetadataString(e.Metadata, MetaContent)
}

// Copy returns a deep copy of the entry
func (e *VectorEntry) Copy() *VectorEntry {
	copied := &VectorEntry{ID: e.ID}
	if e.Vector != nil {
		copied.Vector = make([]float32, len(e.Vector))
		copy(copied.Vector, e.Vector)
	}
	if e.Metadata != nil {
		copied.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			copied.Metadata[k] = v
		}
	}
	return copied
}

// NormalizeVectorID converts a string or integer identifier to the string form used by indexes
func NormalizeVectorID(id any) (string, error) {
	switch v := id.(type) {
	case string:
		if v == "" {
			return "", goerr.New("vector ID is empty", goerr.T(TagValidation))
		}
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", goerr.New("unsupported vector ID type", goerr.T(TagValidation), goerr.V("type", fmt.Sprintf("%T", id)))
	}
}

// VectorFilter restricts a similarity query by metadata. All set fields are ANDed.
type VectorFilter struct {
	UserID    string
	SessionID string
	From      time.Time
	To        time.Time
}

// FilterOp is a comparison operator of a filter condition
type FilterOp string

const (
	FilterOpEqual        FilterOp = "=="
	FilterOpGreaterEqual FilterOp = ">="
	FilterOpLess         FilterOp = "<"
)

// VectorCondition is one field:value condition of a provider query
type VectorCondition struct {
	Field string
	Op    FilterOp
	Value any
}

// Conditions returns the AND of field:value conditions expressed by the filter
func (f *VectorFilter) Conditions() []VectorCondition {
	if f == nil {
		return nil
	}
	var conds []VectorCondition
	if f.UserID != "" {
		conds = append(conds, VectorCondition{Field: MetaUserID, Op: FilterOpEqual, Value: f.UserID})
	}
	if f.SessionID != "" {
		conds = append(conds, VectorCondition{Field: MetaSessionID, Op: FilterOpEqual, Value: f.SessionID})
	}
	if !f.From.IsZero() {
		conds = append(conds, VectorCondition{Field: MetaTimestamp, Op: FilterOpGreaterEqual, Value: NormalizeTime(f.From)})
	}
	if !f.To.IsZero() {
		conds = append(conds, VectorCondition{Field: MetaTimestamp, Op: FilterOpLess, Value: NormalizeTime(f.To)})
	}
	return conds
}

// Match reports whether metadata satisfies every condition
func (f *VectorFilter) Match(metadata map[string]any) bool {
	for _, c := range f.Conditions() {
		v, ok := metadata[c.Field]
		if !ok {
			return false
		}
		switch c.Op {
		case FilterOpEqual:
			if fmt.Sprint(v) != fmt.Sprint(c.Value) {
				return false
			}
		case FilterOpGreaterEqual, FilterOpLess:
			ts, ok := v.(time.Time)
			if !ok {
				return false
			}
			bound := c.Value.(time.Time)
			if c.Op == FilterOpGreaterEqual && ts.Before(bound) {
				return false
			}
			if c.Op == FilterOpLess && !ts.Before(bound) {
				return false
			}
		}
	}
	return true
}

// VectorQuery is a provider level similarity query
type VectorQuery struct {
	Vector          []float32
	TopK            int
	IncludeMetadata bool
	IncludeVector   bool
	Filter          *VectorFilter
}

// VectorMatch is one query result. Score is a cosine similarity, higher is closer.
type VectorMatch struct {
	ID       string
	Score    float64
	Vector   []float32
	Metadata map[string]any
}

// Content returns the text stored in the match metadata
func (m *VectorMatch) Content() string {
	return MetadataString(m.Metadata, MetaContent)
}

// SourceReference returns the citation stored in the match metadata
func (m *VectorMatch) SourceReference() string {
	return MetadataString(m.Metadata, MetaSourceReference)
}

// MetadataString reads a string value from metadata, returning empty when absent
func MetadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	if s, ok := metadata[key].(string); ok {
		return s
	}
	return ""
}

// MetadataStrings reads a string list from metadata, accepting []string and []any
func MetadataStrings(metadata map[string]any, key string) []string {
	if metadata == nil {
		return nil
	}
	switch v := metadata[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		result := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return nil
	}
}
