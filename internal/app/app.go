// Package app wires the application components together: storage,
// AI providers, the ingestion pipeline, the retrieval engine, and the
// clusterer.
package app

import (
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/recall/internal/cluster"
	"github.com/koopa0/recall/internal/config"
	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/ingest"
	"github.com/koopa0/recall/internal/llm"
	"github.com/koopa0/recall/internal/log"
	"github.com/koopa0/recall/internal/retrieve"
)

// App holds the initialized application components.
type App struct {
	Config *config.Config
	Logger log.Logger

	Pool      *pgxpool.Pool
	Index     *index.Store
	Pipeline  *ingest.Pipeline
	Engine    *retrieve.Engine
	Clusterer *cluster.Clusterer
	Queue     *ingest.Queue
	Answerer  llm.Answerer

	contentDB *sql.DB
}

// Close releases the application resources in reverse setup order.
func (a *App) Close() error {
	var errs []error

	if a.Queue != nil {
		a.Queue.Close()
	}
	if a.contentDB != nil {
		if err := a.contentDB.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Pool != nil {
		a.Pool.Close()
	}

	return errors.Join(errs...)
}
