// Package cluster groups a session's conversation points into topics
// with density-based clustering over their embeddings, then writes the
// topic labels back onto the points.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/koopa0/recall/internal/index"
	"github.com/koopa0/recall/internal/log"
)

// ErrEmptySessionID indicates a blank session id.
var ErrEmptySessionID = errors.New("session id must not be empty")

// MaxPoints caps how many points one clustering run will load.
// Sessions beyond this size cluster on their most recent points only.
const MaxPoints = 10000

// NoiseTopic is the topic id written to points outside every cluster.
const NoiseTopic = "-1"

// Defaults for the clustering parameters. Embeddings are unit vectors,
// so euclidean distance is bounded by 2 and eps sits well below that.
const (
	DefaultEps            = 0.5
	DefaultMinClusterSize = 3
)

// Index is the slice of the vector index the clusterer uses.
type Index interface {
	Get(ctx context.Context, collection string, f index.Filter, withVectors bool, limit int) ([]index.Point, error)
	SetTopicIDs(ctx context.Context, labels map[string]string) error
}

// Stats reports the outcome of one clustering run.
type Stats struct {
	Points   int `json:"points"`
	Clusters int `json:"clusters"`
	Noise    int `json:"noise"`
}

// Clusterer assigns topic ids to session conversation points.
type Clusterer struct {
	idx      Index
	logger   log.Logger
	defaults settings
}

type settings struct {
	eps            float64
	minClusterSize int
}

// Option configures a Clusterer's defaults or a single Cluster call.
type Option func(*settings)

// WithEps overrides the DBSCAN neighborhood radius.
func WithEps(eps float64) Option {
	return func(s *settings) {
		if eps > 0 {
			s.eps = eps
		}
	}
}

// WithMinClusterSize overrides the minimum points per cluster.
func WithMinClusterSize(n int) Option {
	return func(s *settings) {
		if n > 1 {
			s.minClusterSize = n
		}
	}
}

// New creates a Clusterer. Options given here become the defaults for
// every Cluster call.
func New(idx Index, logger log.Logger, opts ...Option) *Clusterer {
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Clusterer{
		idx:    idx,
		logger: logger,
		defaults: settings{
			eps:            DefaultEps,
			minClusterSize: DefaultMinClusterSize,
		},
	}
	for _, opt := range opts {
		opt(&c.defaults)
	}
	return c
}

// Cluster groups the session's conversation points into topics and
// writes a topic id onto every point, NoiseTopic for outliers. All
// labels for a run are applied in one transaction, so a failed run
// leaves the previous labeling intact. Options override the
// Clusterer's defaults for this call only.
func (c *Clusterer) Cluster(ctx context.Context, sessionID string, opts ...Option) (Stats, error) {
	if sessionID == "" {
		return Stats{}, ErrEmptySessionID
	}

	cfg := c.defaults
	for _, opt := range opts {
		opt(&cfg)
	}

	points, err := c.idx.Get(ctx, index.CollectionConversations,
		index.Filter{SessionID: sessionID}, true, MaxPoints)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to load session %s: %w", sessionID, err)
	}
	if len(points) == 0 {
		return Stats{}, nil
	}

	vectors := make([][]float32, len(points))
	for i, p := range points {
		vectors[i] = p.Embedding
	}

	labels := dbscan(vectors, cfg.eps, cfg.minClusterSize)

	assignment := make(map[string]string, len(points))
	clusters := 0
	noise := 0
	for i, label := range labels {
		if label == labelNoise {
			assignment[points[i].ID] = NoiseTopic
			noise++
			continue
		}
		assignment[points[i].ID] = strconv.Itoa(label)
		if label+1 > clusters {
			clusters = label + 1
		}
	}

	if err := c.idx.SetTopicIDs(ctx, assignment); err != nil {
		return Stats{}, fmt.Errorf("failed to write topic labels: %w", err)
	}

	stats := Stats{Points: len(points), Clusters: clusters, Noise: noise}
	c.logger.Info("session clustered",
		"session_id", sessionID,
		"points", stats.Points,
		"clusters", stats.Clusters,
		"noise", stats.Noise)
	return stats, nil
}
