package mcp

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

// ServerID derives the stable server identity used as the pool and cache
// key. Label and URL together name a logical server; the same label with a
// different URL is a different server.
func ServerID(label, url string) string {
	sum := sha256.Sum256([]byte(label + "|" + url))
	return hex.EncodeToString(sum[:8])
}

// Pool holds one connected client per server identity. Creation is
// single-flight per identity via a keyed mutex; connected clients are fully
// concurrent.
type Pool struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
	locks   map[string]*sync.Mutex

	// onEvict runs after a client is dropped so dependent caches (tool
	// listings in the registry) can be invalidated.
	onEvict func(serverID string)
}

// NewPool creates an empty client pool.
func NewPool(logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:  logger,
		clients: make(map[string]*Client),
		locks:   make(map[string]*sync.Mutex),
	}
}

// OnEvict registers the eviction callback. Must be called before first use.
func (p *Pool) OnEvict(fn func(serverID string)) { p.onEvict = fn }

// Get returns the connected client for a server, connecting on first use.
// Concurrent callers for the same server share one connect attempt; the
// keyed lock is never held across an unrelated server's connect.
func (p *Pool) Get(ctx context.Context, label, url string, headers map[string]string) (*Client, error) {
	id := ServerID(label, url)

	p.mu.RLock()
	client, ok := p.clients[id]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	lock := p.connectLock(id)
	lock.Lock()
	defer lock.Unlock()

	// Another caller may have connected while we waited.
	p.mu.RLock()
	client, ok = p.clients[id]
	p.mu.RUnlock()
	if ok {
		return client, nil
	}

	client = NewClient(label, url, headers, p.logger)
	if err := client.Connect(ctx); err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.clients[id] = client
	p.mu.Unlock()
	return client, nil
}

func (p *Pool) connectLock(id string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		p.locks[id] = lock
	}
	return lock
}

// Evict drops a client from the pool and fires the eviction callback.
func (p *Pool) Evict(serverID string) {
	p.mu.Lock()
	_, ok := p.clients[serverID]
	delete(p.clients, serverID)
	p.mu.Unlock()

	if ok && p.onEvict != nil {
		p.onEvict(serverID)
	}
}

// Close drops every client. The HTTP transport holds no persistent
// connection state beyond the shared http.Client, so close is a map sweep
// plus eviction callbacks.
func (p *Pool) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.clients))
	for id := range p.clients {
		ids = append(ids, id)
	}
	p.clients = make(map[string]*Client)
	p.mu.Unlock()

	if p.onEvict != nil {
		for _, id := range ids {
			p.onEvict(id)
		}
	}
}

// ServersFile is the on-disk declaration of MCP servers loaded at startup.
type ServersFile struct {
	MCPServers map[string]ServerEntry `yaml:"mcpServers" json:"mcpServers"`
}

// ServerEntry declares one server in the config file.
type ServerEntry struct {
	URL     string            `yaml:"url" json:"url"`
	Headers map[string]string `yaml:"headers" json:"headers"`
}

// LoadServers parses an mcpServers config file. YAML is a superset of JSON
// so both file styles load through the same decoder.
func LoadServers(path string) (*ServersFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mcp config: %w", err)
	}
	var file ServersFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse mcp config %s: %w", path, err)
	}
	return &file, nil
}
