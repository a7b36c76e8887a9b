package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/conduit/internal/api"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS responses (
	id          TEXT PRIMARY KEY,
	response    TEXT NOT NULL,
	input_items TEXT NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS chat_completions (
	id         TEXT PRIMARY KEY,
	body       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// SQLite persists responses in a single local database file. Suited to
// single-node deployments that want durability without running MongoDB.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (and if needed creates) the database at path.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "open sqlite %s: %v", path, err)
	}
	// modernc.org/sqlite serializes writes; a single connection avoids
	// SQLITE_BUSY under concurrent savers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, api.NewErrorf(api.ErrorTypeStorage, "init sqlite schema: %v", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Save(ctx context.Context, resp *api.Response, inputItems []api.Item) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "marshal response: %v", err)
	}
	items, err := json.Marshal(inputItems)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "marshal input items: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO responses (id, response, input_items, created_at) VALUES (?, ?, ?, ?)`,
		resp.ID, string(body), string(items), resp.CreatedAt)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "save response %q: %v", resp.ID, err)
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, id string) (*api.Response, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT response FROM responses WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "get response %q: %v", id, err)
	}
	var resp api.Response
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "decode response %q: %v", id, err)
	}
	return &resp, nil
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM responses WHERE id = ?`, id)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "delete response %q: %v", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLite) ListItems(ctx context.Context, id string, limit int, after string) (*api.ItemList, error) {
	var itemsJSON string
	err := s.db.QueryRowContext(ctx, `SELECT input_items FROM responses WHERE id = ?`, id).Scan(&itemsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "get response %q: %v", id, err)
	}
	var items []api.Item
	if err := json.Unmarshal([]byte(itemsJSON), &items); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "decode input items %q: %v", id, err)
	}
	return paginate(items, limit, after), nil
}

func (s *SQLite) SaveChatCompletion(ctx context.Context, resp *openai.ChatCompletionResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "marshal chat completion: %v", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO chat_completions (id, body, created_at) VALUES (?, ?, ?)`,
		resp.ID, string(body), resp.Created)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "save chat completion %q: %v", resp.ID, err)
	}
	return nil
}

func (s *SQLite) GetChatCompletion(ctx context.Context, id string) (*openai.ChatCompletionResponse, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM chat_completions WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "get chat completion %q: %v", id, err)
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "decode chat completion %q: %v", id, err)
	}
	return &resp, nil
}

func (s *SQLite) DeleteChatCompletion(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM chat_completions WHERE id = ?`, id)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "delete chat completion %q: %v", id, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return notFound(id)
	}
	return nil
}

func (s *SQLite) Close(context.Context) error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite: %w", err)
	}
	return nil
}
