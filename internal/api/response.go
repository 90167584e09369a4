package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/koopa0/recall/internal/cluster"
	"github.com/koopa0/recall/internal/content"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/ingest"
	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/retrieve"
)

// errorResponse is the body of every non-2xx response.
type errorResponse struct {
	Error   string `json:"error"`
	Written int    `json:"written,omitempty"`
	Failed  int    `json:"failed,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// handleServiceError maps domain errors to HTTP responses. Validation
// sentinels become 400, missing records become 404, partial ingestion
// becomes 502 with write counts, everything else is a 500 with the
// detail kept out of the response.
func handleServiceError(w http.ResponseWriter, err error, logger log.Logger) {
	var ingestErr *ingest.Error
	switch {
	case errors.As(err, &ingestErr):
		logger.Error("partial ingestion", "error", err,
			"source_id", ingestErr.SourceID,
			"written", ingestErr.Written,
			"failed", ingestErr.Failed)
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:   "ingestion incomplete, re-ingest the source",
			Written: ingestErr.Written,
			Failed:  ingestErr.Failed,
		})

	case errors.Is(err, retrieve.ErrEmptyQuery),
		errors.Is(err, retrieve.ErrEmptySessionID),
		errors.Is(err, retrieve.ErrUnknownCollection),
		errors.Is(err, cluster.ErrEmptySessionID),
		errors.Is(err, index.ErrUnknownSourceType):
		writeError(w, http.StatusBadRequest, err.Error())

	case errors.Is(err, index.ErrNotFound),
		errors.Is(err, content.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())

	default:
		logger.Error("request failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody decodes a JSON request body into v, rejecting unknown
// fields.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
