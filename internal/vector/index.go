package vector

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Document is one scored chunk returned from a search.
type Document struct {
	ID         string         `json:"id"`
	FileID     string         `json:"file_id"`
	Filename   string         `json:"filename"`
	Content    string         `json:"content"`
	Score      float64        `json:"score"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SearchOptions bound one search call.
type SearchOptions struct {
	MaxResults int
	Filter     Filter
}

// Searcher is the query interface consumed by the search tools. Search is
// pure term similarity; HybridSearch additionally rewards exact phrase hits.
type Searcher interface {
	Search(ctx context.Context, storeIDs []string, query string, opts SearchOptions) ([]Document, error)
	HybridSearch(ctx context.Context, storeIDs []string, query string, opts SearchOptions) ([]Document, error)
}

// Index is an in-process Searcher over term-frequency scoring. It stands in
// for an external vector backend; scoring is lexical, not embedding-based,
// but ranking, filtering, and store scoping behave the same way.
type Index struct {
	mu     sync.RWMutex
	stores map[string][]Document
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{stores: make(map[string][]Document)}
}

// Add inserts a document into a store.
func (ix *Index) Add(storeID string, doc Document) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.stores[storeID] = append(ix.stores[storeID], doc)
}

// Search ranks documents by term overlap with the query.
func (ix *Index) Search(ctx context.Context, storeIDs []string, query string, opts SearchOptions) ([]Document, error) {
	return ix.search(ctx, storeIDs, query, opts, false)
}

// HybridSearch ranks like Search with a bonus for exact phrase matches.
func (ix *Index) HybridSearch(ctx context.Context, storeIDs []string, query string, opts SearchOptions) ([]Document, error) {
	return ix.search(ctx, storeIDs, query, opts, true)
}

func (ix *Index) search(ctx context.Context, storeIDs []string, query string, opts SearchOptions, phraseBonus bool) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	terms := tokenize(query)
	phrase := strings.ToLower(strings.TrimSpace(query))

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var results []Document
	for _, storeID := range storeIDs {
		for _, doc := range ix.stores[storeID] {
			if opts.Filter != nil && !opts.Filter.Match(doc.Attributes) {
				continue
			}
			score := overlapScore(terms, doc.Content)
			if phraseBonus && phrase != "" && strings.Contains(strings.ToLower(doc.Content), phrase) {
				score += 0.5
			}
			if score <= 0 {
				continue
			}
			scored := doc
			scored.Score = score
			results = append(results, scored)
		}
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[:opts.MaxResults]
	}
	return results, nil
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	return fields
}

func overlapScore(terms []string, content string) float64 {
	if len(terms) == 0 {
		return 0
	}
	haystack := strings.ToLower(content)
	matched := 0
	for _, term := range terms {
		if strings.Contains(haystack, term) {
			matched++
		}
	}
	return float64(matched) / float64(len(terms))
}
