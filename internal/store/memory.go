package store

import (
	"context"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
)

// Memory is the default in-process store.
type Memory struct {
	mu        sync.RWMutex
	responses map[string]*api.Response
	items     map[string][]api.Item
	chats     map[string]*openai.ChatCompletionResponse
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		responses: make(map[string]*api.Response),
		items:     make(map[string][]api.Item),
		chats:     make(map[string]*openai.ChatCompletionResponse),
	}
}

func (m *Memory) Save(ctx context.Context, resp *api.Response, inputItems []api.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *resp
	m.responses[resp.ID] = &stored
	m.items[resp.ID] = append([]api.Item(nil), inputItems...)
	return nil
}

func (m *Memory) Get(ctx context.Context, id string) (*api.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.responses[id]
	if !ok {
		return nil, notFound(id)
	}
	copied := *resp
	return &copied, nil
}

func (m *Memory) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.responses[id]; !ok {
		return notFound(id)
	}
	delete(m.responses, id)
	delete(m.items, id)
	return nil
}

func (m *Memory) ListItems(ctx context.Context, id string, limit int, after string) (*api.ItemList, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.responses[id]; !ok {
		return nil, notFound(id)
	}
	return paginate(m.items[id], limit, after), nil
}

func (m *Memory) SaveChatCompletion(ctx context.Context, resp *openai.ChatCompletionResponse) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *resp
	m.chats[resp.ID] = &stored
	return nil
}

func (m *Memory) GetChatCompletion(ctx context.Context, id string) (*openai.ChatCompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	resp, ok := m.chats[id]
	if !ok {
		return nil, notFound(id)
	}
	copied := *resp
	return &copied, nil
}

func (m *Memory) DeleteChatCompletion(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[id]; !ok {
		return notFound(id)
	}
	delete(m.chats, id)
	return nil
}

func (m *Memory) Close(context.Context) error { return nil }
