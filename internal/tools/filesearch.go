package tools

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/vector"
)

const defaultSearchResults = 10

// FileSearch queries the vector stores configured on the request's
// file_search tool entry.
type FileSearch struct {
	searcher vector.Searcher
}

func NewFileSearch(searcher vector.Searcher) *FileSearch {
	return &FileSearch{searcher: searcher}
}

func (t *FileSearch) Name() string { return "file_search" }
func (t *FileSearch) Description() string {
	return "Search the request's vector stores for relevant file chunks."
}

func (t *FileSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"query": {"type": "string", "description": "The search query."},
			"filters": {"type": "object", "description": "Attribute filter tree."},
			"max_num_results": {"type": "integer", "minimum": 1},
			"ranking_options": {"type": "object"}
		},
		"required": ["query"],
		"additionalProperties": false
	}`)
}

// fileSearchResult is one entry of the tool's JSON output.
type fileSearchResult struct {
	FileID     string         `json:"file_id"`
	Filename   string         `json:"filename"`
	Score      float64        `json:"score"`
	Content    string         `json:"content"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (t *FileSearch) Execute(ctx context.Context, args json.RawMessage, inv *registry.Invocation) (string, error) {
	var parsed struct {
		Query         string          `json:"query"`
		Filters       json.RawMessage `json:"filters"`
		MaxNumResults int             `json:"max_num_results"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", err
	}

	if len(inv.Spec.VectorStoreIDs) == 0 {
		return "", api.NewError(api.ErrorTypeVectorStore, "file_search tool has no vector_store_ids configured")
	}

	argFilter, err := vector.ParseFilter(parsed.Filters)
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeInvalidArguments, "file_search filters: %v", err)
	}
	requestFilter, err := vector.ParseFilter(inv.Spec.Filters)
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeInvalidRequest, "file_search tool filters: %v", err)
	}

	max := parsed.MaxNumResults
	if max <= 0 {
		max = inv.Spec.MaxNumResults
	}
	if max <= 0 {
		max = defaultSearchResults
	}

	docs, err := t.searcher.Search(ctx, inv.Spec.VectorStoreIDs, parsed.Query, vector.SearchOptions{
		MaxResults: max,
		Filter:     vector.And(requestFilter, argFilter),
	})
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeVectorStore, "file_search: %v", err)
	}

	results := make([]fileSearchResult, 0, len(docs))
	for _, doc := range docs {
		results = append(results, fileSearchResult{
			FileID:     doc.FileID,
			Filename:   doc.Filename,
			Score:      doc.Score,
			Content:    doc.Content,
			Attributes: doc.Attributes,
		})
	}

	out, err := json.Marshal(map[string]any{
		"query": parsed.Query,
		"data":  results,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}
