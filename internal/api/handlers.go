package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/koopa0/recall/internal/cluster"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/ingest"
	"github.com/koopa0/recall/internal/retrieve"
)

type ingestRequest struct {
	SourceID  string         `json:"source_id,omitempty"`
	SessionID string         `json:"session_id,omitempty"`
	Text      string         `json:"text"`
	Summary   string         `json:"summary,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// handleIngestSource returns the ingestion handler for one source
// type. The three source endpoints share everything but the type.
func (s *Server) handleIngestSource(sourceType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if req.Text == "" {
			writeError(w, http.StatusBadRequest, "text is required")
			return
		}

		result, err := s.pipeline.Ingest(r.Context(), ingest.Request{
			SourceType: sourceType,
			SourceID:   req.SourceID,
			SessionID:  req.SessionID,
			Text:       req.Text,
			Summary:    req.Summary,
			Metadata:   req.Metadata,
		})
		if err != nil {
			handleServiceError(w, err, s.logger)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	}
}

type summaryRequest struct {
	SourceType string `json:"source_type"`
	SourceID   string `json:"source_id"`
	SessionID  string `json:"session_id,omitempty"`
	Summary    string `json:"summary"`
}

// handleUpsertSummary stores a caller-written summary record directly,
// bypassing summary generation.
func (s *Server) handleUpsertSummary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SourceID == "" {
		writeError(w, http.StatusBadRequest, "source_id is required")
		return
	}
	if req.Summary == "" {
		writeError(w, http.StatusBadRequest, "summary is required")
		return
	}

	err := s.pipeline.UpsertSummary(r.Context(), req.SourceType, req.SourceID, req.SessionID, req.Summary)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"id": ingest.SummaryID(req.SourceType, req.SourceID),
	})
}

type updateChunkRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleUpdateChunk(w http.ResponseWriter, r *http.Request) {
	chunkID := r.PathValue("id")

	var req updateChunkRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	if err := s.pipeline.UpdateChunk(r.Context(), chunkID, req.Text); err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveSource(w http.ResponseWriter, r *http.Request) {
	sourceType := r.PathValue("type")
	sourceID := r.PathValue("id")

	deleted, err := s.pipeline.Remove(r.Context(), sourceType, sourceID)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (s *Server) handleFullContent(w http.ResponseWriter, r *http.Request) {
	sourceType := r.PathValue("type")
	sourceID := r.PathValue("id")

	result, err := s.engine.FullContent(r.Context(), sourceType, sourceID)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type searchRequest struct {
	Query       string   `json:"query"`
	TopK        int      `json:"top_k,omitempty"`
	Collections []string `json:"collections,omitempty"`
	MinScore    float64  `json:"min_score,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
}

type searchResponse struct {
	Results []retrieve.Result `json:"results"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := []retrieve.SearchOption{}
	if req.TopK > 0 {
		opts = append(opts, retrieve.WithTopK(req.TopK))
	}
	if len(req.Collections) > 0 {
		opts = append(opts, retrieve.WithCollections(req.Collections...))
	}
	if req.MinScore > 0 {
		opts = append(opts, retrieve.WithMinScore(req.MinScore))
	}
	if req.SessionID != "" {
		opts = append(opts, retrieve.WithFilter(index.Filter{SessionID: req.SessionID}))
	}

	results, err := s.engine.Search(r.Context(), req.Query, opts...)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type contextRequest struct {
	SessionID string  `json:"session_id"`
	Query     string  `json:"query"`
	TopK      int     `json:"top_k,omitempty"`
	Lambda    float64 `json:"lambda,omitempty"`
}

func (s *Server) handleSessionContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := []retrieve.SessionOption{}
	if req.TopK > 0 {
		opts = append(opts, retrieve.WithSessionTopK(req.TopK))
	}
	if req.Lambda > 0 {
		opts = append(opts, retrieve.WithLambda(req.Lambda))
	}

	results, err := s.engine.SessionContext(r.Context(), req.SessionID, req.Query, opts...)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, searchResponse{Results: results})
}

type answerRequest struct {
	Query     string `json:"query"`
	TopK      int    `json:"top_k,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

type answerResponse struct {
	Answer  string            `json:"answer"`
	Sources []retrieve.Result `json:"sources"`
}

// handleAnswer retrieves passages for the question, generates a
// grounded answer, and records the exchange as a conversation in the
// background so later sessions can find it. With a session id the
// passages come from that session only, selected with diversity
// reranking; without one the question falls back to plain search.
func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		writeError(w, http.StatusNotImplemented, "answer generation is not configured")
		return
	}

	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		results []retrieve.Result
		err     error
	)
	if req.SessionID != "" {
		opts := []retrieve.SessionOption{}
		if req.TopK > 0 {
			opts = append(opts, retrieve.WithSessionTopK(req.TopK))
		}
		results, err = s.engine.SessionContext(r.Context(), req.SessionID, req.Query, opts...)
	} else {
		opts := []retrieve.SearchOption{}
		if req.TopK > 0 {
			opts = append(opts, retrieve.WithTopK(req.TopK))
		}
		results, err = s.engine.Search(r.Context(), req.Query, opts...)
	}
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}

	passages := make([]string, len(results))
	for i, res := range results {
		passages[i] = res.Text
	}

	answer, err := s.answerer.Answer(r.Context(), req.Query, passages)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}

	s.recordExchange(req.Query, answer, req.SessionID)

	writeJSON(w, http.StatusOK, answerResponse{Answer: answer, Sources: results})
}

// recordExchange queues background ingestion of a question and its
// answer. Failures are the queue error handler's problem; answering
// never waits on recording.
func (s *Server) recordExchange(question, answer, sessionID string) {
	if s.queue == nil {
		return
	}
	err := s.queue.Submit(ingest.Task{
		Name: "record-exchange",
		Run: func(ctx context.Context) error {
			_, err := s.pipeline.Ingest(ctx, ingest.Request{
				SourceType: index.SourceConversation,
				SessionID:  sessionID,
				Text:       fmt.Sprintf("Q: %s\nA: %s", question, answer),
				Summary:    question,
			})
			return err
		},
	})
	if err != nil {
		s.logger.Warn("exchange recording skipped", "error", err)
	}
}

type clusterRequest struct {
	MinClusterSize int     `json:"min_cluster_size,omitempty"`
	Eps            float64 `json:"eps,omitempty"`
}

func (s *Server) handleCluster(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")

	// The body is optional; without one the clusterer's defaults apply.
	var req clusterRequest
	if r.ContentLength > 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	opts := []cluster.Option{}
	if req.MinClusterSize > 0 {
		opts = append(opts, cluster.WithMinClusterSize(req.MinClusterSize))
	}
	if req.Eps > 0 {
		opts = append(opts, cluster.WithEps(req.Eps))
	}

	stats, err := s.clusterer.Cluster(r.Context(), sessionID, opts...)
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	infos, err := s.colls.Collections(r.Context())
	if err != nil {
		handleServiceError(w, err, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]index.CollectionInfo{"collections": infos})
}
