package files

import (
	"context"
	"testing"

	"github.com/haasonsaas/conduit/internal/api"
)

func TestLocalRoundTrip(t *testing.T) {
	svc, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}

	meta, err := svc.Save(context.Background(), "notes.txt", "text/plain", "assistants", []byte("hello"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if meta.Bytes != 5 || meta.Filename != "notes.txt" {
		t.Errorf("metadata = %+v", meta)
	}

	content, err := svc.Content(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("Content: %v", err)
	}
	if string(content) != "hello" {
		t.Errorf("content = %q", content)
	}

	got, err := svc.Metadata(context.Background(), meta.ID)
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if got.ID != meta.ID || got.MIME != "text/plain" {
		t.Errorf("metadata = %+v", got)
	}
}

func TestLocalMissingFileIsNotFound(t *testing.T) {
	svc, err := NewLocal(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocal: %v", err)
	}
	_, err = svc.Content(context.Background(), "file-missing")
	if err == nil {
		t.Fatal("expected error")
	}
	if apiErr := api.AsError(err); apiErr.Type != api.ErrorTypeNotFound {
		t.Errorf("Type = %q, want not_found", apiErr.Type)
	}
}

func TestMemoryService(t *testing.T) {
	svc := NewMemory()
	svc.Put("file-1", "a.txt", []byte("alpha"))

	content, err := svc.Content(context.Background(), "file-1")
	if err != nil || string(content) != "alpha" {
		t.Errorf("Content = %q, %v", content, err)
	}
	if _, err := svc.Metadata(context.Background(), "file-2"); err == nil {
		t.Error("expected not_found for unknown id")
	}
}
