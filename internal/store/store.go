// Package store persists completed responses and chat completions. Writes
// are idempotent on id so a retried save can never duplicate a record.
package store

import (
	"context"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
)

// DefaultPageSize bounds input-item listings when the caller gives no limit.
const DefaultPageSize = 20

// Store is the persistence backend selected by store.type.
type Store interface {
	// Save persists a response and its input items, replacing any record
	// with the same id.
	Save(ctx context.Context, resp *api.Response, inputItems []api.Item) error
	Get(ctx context.Context, id string) (*api.Response, error)
	Delete(ctx context.Context, id string) error

	// ListItems pages through a response's stored input items. after is an
	// item id cursor; empty starts from the beginning.
	ListItems(ctx context.Context, id string, limit int, after string) (*api.ItemList, error)

	SaveChatCompletion(ctx context.Context, resp *openai.ChatCompletionResponse) error
	GetChatCompletion(ctx context.Context, id string) (*openai.ChatCompletionResponse, error)
	DeleteChatCompletion(ctx context.Context, id string) error

	Close(ctx context.Context) error
}

func notFound(id string) error {
	return api.NewErrorf(api.ErrorTypeNotFound, "response %q not found", id)
}

// paginate applies the cursor and limit to an item slice.
func paginate(items []api.Item, limit int, after string) *api.ItemList {
	if limit <= 0 {
		limit = DefaultPageSize
	}

	start := 0
	if after != "" {
		for i, item := range items {
			if item.ID == after {
				start = i + 1
				break
			}
		}
	}

	end := start + limit
	hasMore := end < len(items)
	if end > len(items) {
		end = len(items)
	}
	page := items[start:end]

	list := &api.ItemList{Object: "list", Data: page, HasMore: hasMore}
	if len(page) > 0 {
		list.FirstID = page[0].ID
		list.LastID = page[len(page)-1].ID
	}
	return list
}
