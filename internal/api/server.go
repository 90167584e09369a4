// Package api exposes the ingestion, retrieval, and clustering
// operations over a JSON HTTP interface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/koopa0/recall/internal/cluster"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/ingest"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/retrieve"
)

// Collections is the slice of the vector index the server reads
// collection statistics from.
type Collections interface {
	Collections(ctx context.Context) ([]index.CollectionInfo, error)
}

// Config carries the server dependencies.
type Config struct {
	Logger      log.Logger
	Pipeline    *ingest.Pipeline
	Engine      *retrieve.Engine
	Clusterer   *cluster.Clusterer
	Collections Collections

	// Queue runs background ingestion of answered questions. Optional;
	// nil disables answer recording.
	Queue *ingest.Queue

	// Answerer generates grounded answers for /v1/answer. Optional;
	// nil disables the endpoint.
	Answerer llm.Answerer

	// Ping verifies storage connectivity for the readiness probe.
	// Optional; nil reports ready unconditionally.
	Ping func(ctx context.Context) error
}

// Server is the recall HTTP server.
type Server struct {
	mux       *http.ServeMux
	logger    log.Logger
	pipeline  *ingest.Pipeline
	engine    *retrieve.Engine
	clusterer *cluster.Clusterer
	colls     Collections
	queue     *ingest.Queue
	answerer  llm.Answerer
	ping      func(ctx context.Context) error
}

// NewServer creates a server with all routes configured.
func NewServer(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("pipeline is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Clusterer == nil {
		return nil, errors.New("clusterer is required")
	}
	if cfg.Collections == nil {
		return nil, errors.New("collections source is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}

	s := &Server{
		mux:       http.NewServeMux(),
		logger:    cfg.Logger,
		pipeline:  cfg.Pipeline,
		engine:    cfg.Engine,
		clusterer: cfg.Clusterer,
		colls:     cfg.Collections,
		queue:     cfg.Queue,
		answerer:  cfg.Answerer,
		ping:      cfg.Ping,
	}
	s.routes()
	return s, nil
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /ready", s.handleReady)

	s.mux.HandleFunc("POST /v1/conversations", s.handleIngestSource(index.SourceConversation))
	s.mux.HandleFunc("POST /v1/documents", s.handleIngestSource(index.SourceDocument))
	s.mux.HandleFunc("POST /v1/workflows", s.handleIngestSource(index.SourceWorkflow))
	s.mux.HandleFunc("POST /v1/summaries", s.handleUpsertSummary)

	s.mux.HandleFunc("PUT /v1/chunks/{id}", s.handleUpdateChunk)
	s.mux.HandleFunc("DELETE /v1/sources/{type}/{id}", s.handleRemoveSource)
	s.mux.HandleFunc("GET /v1/content/{type}/{id}", s.handleFullContent)

	s.mux.HandleFunc("POST /v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /v1/context", s.handleSessionContext)
	s.mux.HandleFunc("POST /v1/answer", s.handleAnswer)

	s.mux.HandleFunc("POST /v1/sessions/{id}/topics", s.handleCluster)
	s.mux.HandleFunc("GET /v1/collections", s.handleCollections)
}

// ServeHTTP implements http.Handler with the middleware stack applied.
// Order: Recovery catches panics from everything below, Logging tracks
// all requests.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var handler http.Handler = s.mux
	handler = loggingMiddleware(s.logger)(handler)
	handler = recoveryMiddleware(s.logger)(handler)
	handler.ServeHTTP(w, r)
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ping(ctx); err != nil {
			s.logger.Error("readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
