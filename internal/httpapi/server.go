// Package httpapi exposes the gateway's HTTP surface: the Responses API,
// OpenAI-compatible chat completions, and health.
package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/haasonsaas/conduit/internal/api"
	"github.com/haasonsaas/conduit/internal/format"
	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/internal/orchestrator"
	"github.com/haasonsaas/conduit/internal/store"
	"github.com/haasonsaas/conduit/internal/stream"
)

// Server routes the v1 API onto the orchestrator and the response store.
type Server struct {
	loop    *orchestrator.Loop
	store   store.Store
	logger  *slog.Logger
	metrics *observability.Metrics
}

func NewServer(loop *orchestrator.Loop, st store.Store, logger *slog.Logger, metrics *observability.Metrics) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{loop: loop, store: st, logger: logger, metrics: metrics}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/responses", s.handleCreateResponse)
	mux.HandleFunc("GET /v1/responses/{id}", s.handleGetResponse)
	mux.HandleFunc("DELETE /v1/responses/{id}", s.handleDeleteResponse)
	mux.HandleFunc("GET /v1/responses/{id}/input_items", s.handleInputItems)

	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletion)
	mux.HandleFunc("GET /v1/chat/completions/{id}", s.handleGetChatCompletion)
	mux.HandleFunc("DELETE /v1/chat/completions/{id}", s.handleDeleteChatCompletion)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return s.withMetrics(mux)
}

func (s *Server) handleCreateResponse(w http.ResponseWriter, r *http.Request) {
	var req api.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, api.NewErrorf(api.ErrorTypeInvalidRequest, "invalid request body: %v", err))
		return
	}
	token := bearerToken(r)
	headerProvider := r.Header.Get("x-model-provider")

	if !req.Stream {
		resp, err := s.loop.Respond(r.Context(), &req, token, headerProvider, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		s.writeError(w, api.NewError(api.ErrorTypeStreaming, err.Error()))
		return
	}
	if _, err := s.loop.Respond(r.Context(), &req, token, headerProvider, sse); err != nil {
		// Nothing was flushed yet, so a plain HTTP error is still possible.
		w.Header().Set("Content-Type", "application/json")
		s.writeError(w, err)
	}
}

func (s *Server) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, api.NewError(api.ErrorTypeInvalidRequest, "response persistence is disabled"))
		return
	}
	resp, err := s.store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteResponse(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, api.NewError(api.ErrorTypeInvalidRequest, "response persistence is disabled"))
		return
	}
	id := r.PathValue("id")
	if err := s.store.Delete(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id": id, "object": "response", "deleted": true,
	})
}

func (s *Server) handleInputItems(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, api.NewError(api.ErrorTypeInvalidRequest, "response persistence is disabled"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, api.InvalidRequest("limit", "limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	list, err := s.store.ListItems(r.Context(), r.PathValue("id"), limit, r.URL.Query().Get("after"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, api.NewErrorf(api.ErrorTypeInvalidRequest, "invalid request body: %v", err))
		return
	}
	token := bearerToken(r)
	headerProvider := r.Header.Get("x-model-provider")

	if !req.Stream {
		resp, err := s.loop.ChatComplete(r.Context(), &req, token, headerProvider, nil)
		if err != nil {
			s.writeError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, resp)
		return
	}

	sse, err := stream.NewSSEWriter(w)
	if err != nil {
		s.writeError(w, api.NewError(api.ErrorTypeStreaming, err.Error()))
		return
	}
	if _, err := s.loop.ChatComplete(r.Context(), &req, token, headerProvider, sse); err != nil {
		w.Header().Set("Content-Type", "application/json")
		s.writeError(w, err)
	}
}

func (s *Server) handleGetChatCompletion(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, api.NewError(api.ErrorTypeInvalidRequest, "response persistence is disabled"))
		return
	}
	resp, err := s.store.GetChatCompletion(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDeleteChatCompletion(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, api.NewError(api.ErrorTypeInvalidRequest, "response persistence is disabled"))
		return
	}
	id := r.PathValue("id")
	if err := s.store.DeleteChatCompletion(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id": id, "object": "chat.completion", "deleted": true,
	})
}

// writeJSON marshals the payload and normalizes timestamp rendering before
// writing.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.writeError(w, api.NewErrorf(api.ErrorTypeProcessing, "encode response: %v", err))
		return
	}
	payload = format.NormalizeCreatedAt(payload)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(payload)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	apiErr := api.AsError(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.HTTPStatus())
	json.NewEncoder(w).Encode(map[string]any{"error": apiErr})
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(auth) > len(prefix) && auth[:len(prefix)] == prefix {
		return auth[len(prefix):]
	}
	return ""
}

// statusRecorder captures the response code for metrics while passing
// flushes through for SSE.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.HTTPRequestDuration.
			WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).
			Observe(time.Since(start).Seconds())
	})
}
