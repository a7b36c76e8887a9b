package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/registry"
	"github.com/haasonsaas/conduit/internal/vector"
)

const (
	defaultAgenticIterations = 5
	defaultAgenticResults    = 10
)

// Decider asks an LLM for the next agentic-search step. Implemented by
// provider-backed clients in production and by fakes in tests.
type Decider interface {
	Decide(ctx context.Context, inv *registry.Invocation, prompt string) (string, error)
}

// AgenticSearch runs an inner seed-and-refine retrieval loop: seed a hybrid
// search with the user's question, then let the model steer follow-up
// queries until it terminates or the iteration cap is reached.
type AgenticSearch struct {
	searcher vector.Searcher
	decider  Decider
}

func NewAgenticSearch(searcher vector.Searcher, decider Decider) *AgenticSearch {
	return &AgenticSearch{searcher: searcher, decider: decider}
}

func (t *AgenticSearch) Name() string { return "agentic_search" }
func (t *AgenticSearch) Description() string {
	return "Iteratively search the request's vector stores, refining queries with model guidance."
}

func (t *AgenticSearch) Schema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"question": {"type": "string", "description": "The question to research."},
			"max_iterations": {"type": "integer", "minimum": 1},
			"max_results": {"type": "integer", "minimum": 1}
		},
		"required": ["question"],
		"additionalProperties": false
	}`)
}

// searchIteration is one audit-trail entry of the inner loop.
type searchIteration struct {
	Query   string          `json:"query"`
	Filter  json.RawMessage `json:"filter,omitempty"`
	Results int             `json:"results"`
}

func (t *AgenticSearch) Execute(ctx context.Context, args json.RawMessage, inv *registry.Invocation) (string, error) {
	var parsed struct {
		Question      string `json:"question"`
		MaxIterations int    `json:"max_iterations"`
		MaxResults    int    `json:"max_results"`
	}
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", err
	}
	if len(inv.Spec.VectorStoreIDs) == 0 {
		return "", api.NewError(api.ErrorTypeVectorStore, "agentic_search tool has no vector_store_ids configured")
	}

	maxIterations := parsed.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultAgenticIterations
	}
	maxResults := parsed.MaxResults
	if maxResults <= 0 {
		maxResults = defaultAgenticResults
	}

	securityFilter, err := vector.ParseFilter(inv.Spec.Filters)
	if err != nil {
		return "", api.NewErrorf(api.ErrorTypeInvalidRequest, "agentic_search tool filters: %v", err)
	}

	buffer := make(map[string]vector.Document)
	var iterations []searchIteration
	var knowledge string

	runSearch := func(query string, extra vector.Filter) (int, error) {
		docs, err := t.searcher.HybridSearch(ctx, inv.Spec.VectorStoreIDs, query, vector.SearchOptions{
			MaxResults: maxResults,
			Filter:     vector.And(securityFilter, extra),
		})
		if err != nil {
			return 0, api.NewErrorf(api.ErrorTypeVectorStore, "agentic_search: %v", err)
		}
		for _, doc := range docs {
			if existing, ok := buffer[doc.ID]; !ok || doc.Score > existing.Score {
				buffer[doc.ID] = doc
			}
		}
		return len(docs), nil
	}

	// Seed with the question itself.
	seedCount, err := runSearch(parsed.Question, nil)
	if err != nil {
		return "", err
	}
	iterations = append(iterations, searchIteration{Query: parsed.Question, Results: seedCount})
	if len(buffer) == 0 {
		return "No initial results found.", nil
	}

	for iteration := 1; iteration < maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		reply, err := t.decider.Decide(ctx, inv, t.decisionPrompt(parsed.Question, knowledge, buffer, maxIterations-iteration))
		if err != nil {
			return "", err
		}
		decision, err := ParseDecision(reply)
		if err != nil {
			// An unparseable reply ends refinement; the seed results stand.
			break
		}
		if decision.Terminate {
			break
		}
		if decision.Memory != "" {
			knowledge = decision.Memory
		}

		extraFilter, err := vector.ParseFilter(decision.Filter)
		if err != nil {
			break
		}
		count, err := runSearch(decision.Query, extraFilter)
		if err != nil {
			return "", err
		}
		iterations = append(iterations, searchIteration{Query: decision.Query, Filter: decision.Filter, Results: count})
	}

	top := make([]vector.Document, 0, len(buffer))
	for _, doc := range buffer {
		top = append(top, doc)
	}
	sort.SliceStable(top, func(i, j int) bool { return top[i].Score > top[j].Score })
	if len(top) > maxResults {
		top = top[:maxResults]
	}

	out, err := json.Marshal(map[string]any{
		"data":               top,
		"search_iterations":  iterations,
		"knowledge_acquired": knowledge,
	})
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// decisionPrompt frames the current retrieval state plus the reply grammar.
func (t *AgenticSearch) decisionPrompt(question, knowledge string, buffer map[string]vector.Document, remaining int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are steering an iterative document search.\nQuestion: %s\n", question)
	if knowledge != "" {
		fmt.Fprintf(&b, "Knowledge so far: %s\n", knowledge)
	}
	fmt.Fprintf(&b, "Collected chunks: %d. Remaining iterations: %d.\n", len(buffer), remaining)
	b.WriteString("Current top results:\n")

	docs := make([]vector.Document, 0, len(buffer))
	for _, doc := range buffer {
		docs = append(docs, doc)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score > docs[j].Score })
	for i, doc := range docs {
		if i == 3 {
			break
		}
		fmt.Fprintf(&b, "- [%.2f] %s\n", doc.Score, truncate(doc.Content, 200))
	}

	b.WriteString("\nReply with exactly one of:\n")
	b.WriteString("TERMINATE\n")
	b.WriteString("NEXT_QUERY: <query> { <json-filter> }? ##MEMORY## <notes>?\n")
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
