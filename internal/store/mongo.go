package store

import (
	"context"
	"encoding/json"
	"errors"

	openai "github.com/sashabaranov/go-openai"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/haasonsaas/conduit/internal/api"
)

const (
	responsesCollection = "responses"
	chatsCollection     = "chat_completions"
)

// Mongo persists responses in MongoDB. Bodies are stored as raw JSON so the
// wire shape survives round-trips exactly; only the id and created_at are
// promoted to queryable fields.
type Mongo struct {
	client    *mongo.Client
	responses *mongo.Collection
	chats     *mongo.Collection
}

type responseDoc struct {
	ID         string `bson:"_id"`
	Response   []byte `bson:"response"`
	InputItems []byte `bson:"input_items"`
	CreatedAt  int64  `bson:"created_at"`
}

type chatDoc struct {
	ID        string `bson:"_id"`
	Body      []byte `bson:"body"`
	CreatedAt int64  `bson:"created_at"`
}

// NewMongo connects to MongoDB and verifies the connection.
func NewMongo(ctx context.Context, uri, database string) (*Mongo, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "connect mongodb: %v", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, api.NewErrorf(api.ErrorTypeStorage, "ping mongodb: %v", err)
	}
	db := client.Database(database)
	return &Mongo{
		client:    client,
		responses: db.Collection(responsesCollection),
		chats:     db.Collection(chatsCollection),
	}, nil
}

func (m *Mongo) Save(ctx context.Context, resp *api.Response, inputItems []api.Item) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "marshal response: %v", err)
	}
	items, err := json.Marshal(inputItems)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "marshal input items: %v", err)
	}

	doc := responseDoc{ID: resp.ID, Response: body, InputItems: items, CreatedAt: resp.CreatedAt}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.responses.ReplaceOne(ctx, bson.M{"_id": resp.ID}, doc, opts); err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "save response %q: %v", resp.ID, err)
	}
	return nil
}

func (m *Mongo) Get(ctx context.Context, id string) (*api.Response, error) {
	var doc responseDoc
	if err := m.responses.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(id)
		}
		return nil, api.NewErrorf(api.ErrorTypeStorage, "get response %q: %v", id, err)
	}
	var resp api.Response
	if err := json.Unmarshal(doc.Response, &resp); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "decode response %q: %v", id, err)
	}
	return &resp, nil
}

func (m *Mongo) Delete(ctx context.Context, id string) error {
	result, err := m.responses.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "delete response %q: %v", id, err)
	}
	if result.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

func (m *Mongo) ListItems(ctx context.Context, id string, limit int, after string) (*api.ItemList, error) {
	var doc responseDoc
	if err := m.responses.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(id)
		}
		return nil, api.NewErrorf(api.ErrorTypeStorage, "get response %q: %v", id, err)
	}
	var items []api.Item
	if err := json.Unmarshal(doc.InputItems, &items); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "decode input items %q: %v", id, err)
	}
	return paginate(items, limit, after), nil
}

func (m *Mongo) SaveChatCompletion(ctx context.Context, resp *openai.ChatCompletionResponse) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "marshal chat completion: %v", err)
	}
	doc := chatDoc{ID: resp.ID, Body: body, CreatedAt: resp.Created}
	opts := options.Replace().SetUpsert(true)
	if _, err := m.chats.ReplaceOne(ctx, bson.M{"_id": resp.ID}, doc, opts); err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "save chat completion %q: %v", resp.ID, err)
	}
	return nil
}

func (m *Mongo) GetChatCompletion(ctx context.Context, id string) (*openai.ChatCompletionResponse, error) {
	var doc chatDoc
	if err := m.chats.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(id)
		}
		return nil, api.NewErrorf(api.ErrorTypeStorage, "get chat completion %q: %v", id, err)
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(doc.Body, &resp); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "decode chat completion %q: %v", id, err)
	}
	return &resp, nil
}

func (m *Mongo) DeleteChatCompletion(ctx context.Context, id string) error {
	result, err := m.chats.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return api.NewErrorf(api.ErrorTypeStorage, "delete chat completion %q: %v", id, err)
	}
	if result.DeletedCount == 0 {
		return notFound(id)
	}
	return nil
}

func (m *Mongo) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
