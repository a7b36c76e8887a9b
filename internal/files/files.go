// Package files is the file service collaborator: content and metadata
// lookup for input_file parts and file-backed search sources.
package files

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/conduit/internal/api"
)

// Metadata describes a stored file.
type Metadata struct {
	ID        string `json:"id"`
	Filename  string `json:"filename"`
	MIME      string `json:"mime"`
	Bytes     int64  `json:"bytes"`
	Purpose   string `json:"purpose"`
	CreatedAt int64  `json:"created_at"`
}

// Service exposes stored files to the converter and the search tools.
type Service interface {
	Content(ctx context.Context, fileID string) ([]byte, error)
	Metadata(ctx context.Context, fileID string) (*Metadata, error)
}

// Local stores file content under a directory, one blob per id plus a
// sidecar metadata document.
type Local struct {
	dir string
}

// NewLocal creates the directory if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create files dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

// Save stores content with metadata and returns the generated file id.
func (l *Local) Save(ctx context.Context, filename, mime, purpose string, content []byte) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	meta := &Metadata{
		ID:        "file-" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Filename:  filename,
		MIME:      mime,
		Bytes:     int64(len(content)),
		Purpose:   purpose,
		CreatedAt: time.Now().Unix(),
	}
	if err := os.WriteFile(l.blobPath(meta.ID), content, 0o640); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "write file: %v", err)
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "marshal metadata: %v", err)
	}
	if err := os.WriteFile(l.metaPath(meta.ID), raw, 0o640); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "write metadata: %v", err)
	}
	return meta, nil
}

func (l *Local) Content(ctx context.Context, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(l.blobPath(fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, api.NewErrorf(api.ErrorTypeNotFound, "file %q not found", fileID)
	}
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "read file: %v", err)
	}
	return raw, nil
}

func (l *Local) Metadata(ctx context.Context, fileID string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(l.metaPath(fileID))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, api.NewErrorf(api.ErrorTypeNotFound, "file %q not found", fileID)
	}
	if err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "read metadata: %v", err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, api.NewErrorf(api.ErrorTypeStorage, "parse metadata: %v", err)
	}
	return &meta, nil
}

// blobPath sanitizes the id through filepath.Base so ids cannot escape the
// storage directory.
func (l *Local) blobPath(fileID string) string {
	return filepath.Join(l.dir, filepath.Base(fileID)+".bin")
}

func (l *Local) metaPath(fileID string) string {
	return filepath.Join(l.dir, filepath.Base(fileID)+".json")
}

// Memory is an in-process Service for tests and ephemeral deployments.
type Memory struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	metas map[string]*Metadata
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[string][]byte), metas: make(map[string]*Metadata)}
}

// Put stores a file under a caller-chosen id.
func (m *Memory) Put(fileID, filename string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[fileID] = content
	m.metas[fileID] = &Metadata{
		ID:        fileID,
		Filename:  filename,
		Bytes:     int64(len(content)),
		CreatedAt: time.Now().Unix(),
	}
}

func (m *Memory) Content(ctx context.Context, fileID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	blob, ok := m.blobs[fileID]
	if !ok {
		return nil, api.NewErrorf(api.ErrorTypeNotFound, "file %q not found", fileID)
	}
	return blob, nil
}

func (m *Memory) Metadata(ctx context.Context, fileID string) (*Metadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	meta, ok := m.metas[fileID]
	if !ok {
		return nil, api.NewErrorf(api.ErrorTypeNotFound, "file %q not found", fileID)
	}
	return meta, nil
}
