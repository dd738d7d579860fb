// Package catalog indexes a SUT's OpenAPI document into a queryable
// operation catalog: find candidates by keyword, describe one operation's
// request surface, and extract an operation with its schema closure.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/freedeaths/tidbcloud-skills/internal/lifecycle"
)

// OperationSummary describes one operation for ranking and display.
type OperationSummary struct {
	ID      string            `json:"operationId" yaml:"operation_id"`
	Method  string            `json:"method" yaml:"method"`
	Path    string            `json:"path" yaml:"path"`
	Summary string            `json:"summary" yaml:"summary"`
	Tags    []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Class   lifecycle.OpClass `json:"class" yaml:"class"`

	// Checkpoint marks irreversible operations (DELETE, or explicitly
	// destructive ones) that must never auto-execute.
	Checkpoint bool `json:"checkpoint,omitempty" yaml:"checkpoint,omitempty"`
}

// OperationSpec is the full request surface of one operation.
type OperationSpec struct {
	OperationSummary
	RequiredFields []string `json:"required_fields" yaml:"required_fields"`
	OptionalFields []string `json:"optional_fields" yaml:"optional_fields"`
}

// Catalog is the read-only operation index consumed by the suggester.
type Catalog interface {
	Find(keywords []string) []OperationSummary
	Describe(operationID string) (OperationSpec, error)
}

// Index is a Catalog backed by a parsed OpenAPI (swagger 2.0 style) document.
type Index struct {
	doc        map[string]any
	operations []indexedOp
	byID       map[string]int
}

type indexedOp struct {
	summary OperationSummary
	spec    OperationSpec
	tokens  map[string]struct{}
}

// LoadFile reads and indexes an OpenAPI JSON document.
func LoadFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read openapi spec: %w", err)
	}
	return Parse(data)
}

// Parse indexes an OpenAPI JSON document.
func Parse(data []byte) (*Index, error) {
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi spec: %w", err)
	}

	idx := &Index{doc: doc, byID: make(map[string]int)}
	paths, _ := doc["paths"].(map[string]any)
	for path, rawMethods := range paths {
		methods, ok := rawMethods.(map[string]any)
		if !ok {
			continue
		}
		for method, rawOp := range methods {
			op, ok := rawOp.(map[string]any)
			if !ok {
				continue
			}
			id, _ := op["operationId"].(string)
			if id == "" {
				continue
			}
			summary, _ := op["summary"].(string)
			sum := OperationSummary{
				ID:      id,
				Method:  strings.ToUpper(method),
				Path:    path,
				Summary: summary,
				Tags:    stringSlice(op["tags"]),
			}
			sum.Class = classify(sum, op)
			sum.Checkpoint = isCheckpoint(sum, op)

			required, optional := idx.requestFields(op)
			spec := OperationSpec{
				OperationSummary: sum,
				RequiredFields:   required,
				OptionalFields:   optional,
			}

			idx.operations = append(idx.operations, indexedOp{
				summary: sum,
				spec:    spec,
				tokens:  Tokenize(id + " " + path + " " + summary + " " + method),
			})
		}
	}

	sort.Slice(idx.operations, func(i, j int) bool {
		return idx.operations[i].summary.ID < idx.operations[j].summary.ID
	})
	for i, op := range idx.operations {
		idx.byID[op.summary.ID] = i
	}
	return idx, nil
}

// Find returns operations sharing at least one token with the keywords,
// ordered by descending overlap then operation id.
func (c *Index) Find(keywords []string) []OperationSummary {
	type scored struct {
		summary OperationSummary
		overlap int
	}
	var hits []scored
	for _, op := range c.operations {
		overlap := 0
		for _, kw := range keywords {
			if _, ok := op.tokens[strings.ToLower(kw)]; ok {
				overlap++
			}
		}
		if overlap > 0 {
			hits = append(hits, scored{op.summary, overlap})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].overlap != hits[j].overlap {
			return hits[i].overlap > hits[j].overlap
		}
		return hits[i].summary.ID < hits[j].summary.ID
	})
	out := make([]OperationSummary, len(hits))
	for i, h := range hits {
		out[i] = h.summary
	}
	return out
}

// Describe returns the full spec for one operation.
func (c *Index) Describe(operationID string) (OperationSpec, error) {
	i, ok := c.byID[operationID]
	if !ok {
		return OperationSpec{}, fmt.Errorf("operation not found: %s", operationID)
	}
	return c.operations[i].spec, nil
}

// List returns operations matching a free-form substring query, as the
// openapi list CLI command shows them.
func (c *Index) List(query string, limit int) []OperationSummary {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []OperationSummary
	for _, op := range c.operations {
		if q != "" {
			hay := strings.ToLower(op.summary.ID + " " + op.summary.Method + " " + op.summary.Path + " " + op.summary.Summary)
			if !strings.Contains(hay, q) {
				continue
			}
		}
		out = append(out, op.summary)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// TokenOverlap returns |intersection| / |keywords| between the keywords and
// an operation's token set. The suggester uses it as the candidate threshold.
func (c *Index) TokenOverlap(operationID string, keywords []string) float64 {
	i, ok := c.byID[operationID]
	if !ok || len(keywords) == 0 {
		return 0
	}
	overlap := 0
	for _, kw := range keywords {
		if _, hit := c.operations[i].tokens[strings.ToLower(kw)]; hit {
			overlap++
		}
	}
	return float64(overlap) / float64(len(keywords))
}

// Tokenize lower-cases and splits text into a token set, splitting camelCase
// identifiers like ClusterService_CreateCluster into their words.
func Tokenize(text string) map[string]struct{} {
	tokens := make(map[string]struct{})
	var word []rune
	flush := func() {
		if len(word) > 0 {
			tokens[strings.ToLower(string(word))] = struct{}{}
			word = word[:0]
		}
	}
	for _, r := range text {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			word = append(word, r)
		case r >= 'A' && r <= 'Z':
			flush()
			word = append(word, r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}

func classify(sum OperationSummary, op map[string]any) lifecycle.OpClass {
	idLower := strings.ToLower(sum.ID + " " + sum.Path)
	switch sum.Method {
	case "GET":
		return lifecycle.OpGet
	case "DELETE":
		return lifecycle.OpDelete
	case "PATCH", "PUT":
		return lifecycle.OpUpdate
	case "POST":
		if strings.Contains(idLower, "pause") {
			return lifecycle.OpPause
		}
		if strings.Contains(idLower, "resume") {
			return lifecycle.OpResume
		}
		return lifecycle.OpCreate
	}
	return lifecycle.OpGet
}

func isCheckpoint(sum OperationSummary, op map[string]any) bool {
	if sum.Class == lifecycle.OpDelete {
		return true
	}
	if destructive, ok := op["x-destructive"].(bool); ok && destructive {
		return true
	}
	return false
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
