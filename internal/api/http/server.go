package apihttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/edu292/stremtui/internal/catalog"
	"github.com/edu292/stremtui/internal/domain"
	"github.com/edu292/stremtui/internal/domain/ports"
	"github.com/edu292/stremtui/internal/streams"
)

const maxQueryLength = 500

type CatalogService interface {
	Search(ctx context.Context, query string) <-chan catalog.Result
}

type MetadataService interface {
	Metadata(ctx context.Context, contentType domain.ContentType, id string) (domain.Metadata, error)
}

type StreamService interface {
	Lookup(ctx context.Context, target streams.Target) <-chan streams.Batch
}

type PlaybackService interface {
	Start(itemID string, stream domain.Stream) error
	Stop()
	Phase() (domain.PlaybackPhase, bool)
}

// Server is the HTTP surface the UI talks to. Catalog and stream lookups are
// delivered over SSE so partial results render as they arrive; playback
// progress is pushed over WebSocket.
type Server struct {
	catalog  CatalogService
	meta     MetadataService
	streams  StreamService
	playback PlaybackService
	history  ports.WatchHistory // nil disables /history
	hub      *wsHub
	logger   *slog.Logger
}

type ServerOption func(*Server)

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

func WithHistory(history ports.WatchHistory) ServerOption {
	return func(s *Server) { s.history = history }
}

func NewServer(catalogService CatalogService, meta MetadataService, streamService StreamService, playback PlaybackService, options ...ServerOption) *Server {
	server := &Server{
		catalog:  catalogService,
		meta:     meta,
		streams:  streamService,
		playback: playback,
		logger:   slog.Default(),
	}
	for _, option := range options {
		if option != nil {
			option(server)
		}
	}
	server.hub = newWSHub(server.logger)
	go server.hub.run()
	return server
}

// PublishProgress forwards a playback progress snapshot to every WebSocket
// client.
func (s *Server) PublishProgress(update domain.ProgressUpdate) {
	s.hub.BroadcastProgress(update)
}

// Close disconnects WebSocket clients. Call once, after the HTTP listener has
// stopped accepting requests.
func (s *Server) Close() {
	s.hub.Close()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/search", s.handleSearch)
	mux.HandleFunc("/meta/", s.handleMetadata)
	mux.HandleFunc("/streams/", s.handleStreams)
	mux.HandleFunc("/play", s.handlePlay)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/history", s.handleHistory)
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "stremtui",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/health" && p != "/ws"
		}),
	)
	return recoveryMiddleware(s.logger, corsMiddleware(rateLimitMiddleware(50, 100, metricsMiddleware(traced))))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "query is required")
		return
	}
	if len(query) > maxQueryLength {
		writeError(w, http.StatusBadRequest, "invalid_request", "query too long (max 500 characters)")
		return
	}

	setSSEHeaders(w)

	for result := range s.catalog.Search(r.Context(), query) {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		default:
		}
		if result.Err != nil {
			_ = writeSSEEvent(w, flusher, "error", map[string]any{
				"type":    string(result.Type),
				"message": result.Err.Error(),
			})
			continue
		}
		if err := writeSSEEvent(w, flusher, "catalog", map[string]any{
			"type":    string(result.Type),
			"entries": result.Entries,
		}); err != nil {
			return // Client disconnected
		}
	}

	_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	contentType, id, ok := parseTypedPath(r.URL.Path, "/meta/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected /meta/{type}/{id}")
		return
	}

	meta, err := s.meta.Metadata(r.Context(), contentType, id)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, meta)
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "no metadata for "+id)
	case errors.Is(err, domain.ErrMalformed):
		writeError(w, http.StatusBadGateway, "bad_upstream", err.Error())
	default:
		s.logger.Warn("metadata request failed",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "metadata lookup failed")
	}
}

func (s *Server) handleStreams(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming is not supported")
		return
	}

	contentType, id, ok := parseTypedPath(r.URL.Path, "/streams/")
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_request", "expected /streams/{type}/{id}")
		return
	}

	setSSEHeaders(w)

	target := streams.Target{Type: contentType, ItemID: id}
	for batch := range s.streams.Lookup(r.Context(), target) {
		select {
		case <-r.Context().Done():
			return // Client disconnected
		default:
		}
		if batch.Err != nil {
			_ = writeSSEEvent(w, flusher, "error", map[string]any{
				"provider": batch.Provider,
				"message":  batch.Err.Error(),
			})
			continue
		}
		if err := writeSSEEvent(w, flusher, "streams", map[string]any{
			"provider": batch.Provider,
			"streams":  batch.Streams,
		}); err != nil {
			return // Client disconnected
		}
	}

	_ = writeSSEEvent(w, flusher, "done", map[string]any{"final": true})
}

type playRequest struct {
	ItemID string        `json:"itemId"`
	Stream domain.Stream `json:"stream"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req playRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if err := req.Stream.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	err := s.playback.Start(req.ItemID, req.Stream)
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "started"})
	case errors.Is(err, domain.ErrPlaybackBusy):
		writeError(w, http.StatusConflict, "playback_busy", "a playback session is already active")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.playback.Stop()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	phase, active := s.playback.Phase()
	payload := map[string]any{"active": active}
	if active {
		payload["phase"] = string(phase)
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.history == nil {
		writeError(w, http.StatusNotFound, "not_found", "watch history is not configured")
		return
	}

	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return
		}
		limit = parsed
	}

	records, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Warn("history request failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal_error", "history lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{hub: s.hub, conn: conn, send: make(chan []byte, 16)}
	// The hub's run loop is gone once Close has been called; a blind send
	// here would park this handler forever.
	select {
	case s.hub.register <- client:
	case <-s.hub.done:
		conn.Close()
		return
	}
	go client.writePump()
	go client.readPump()
}

// parseTypedPath splits "{prefix}{type}/{id}" into its content type and id.
func parseTypedPath(path, prefix string) (domain.ContentType, string, bool) {
	rest := strings.TrimPrefix(path, prefix)
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[1] == "" {
		return "", "", false
	}
	contentType, err := domain.ParseContentType(parts[0])
	if err != nil {
		return "", "", false
	}
	return contentType, parts[1], true
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err // Client disconnected
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err // Client disconnected
	}
	flusher.Flush()
	return nil
}
