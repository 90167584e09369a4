package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/koopa0/recall/internal/log"
)

// ErrNotFound indicates the requested point does not exist.
var ErrNotFound = errors.New("point not found")

// pointColumns is the column list shared by every point-returning
// query, excluding the embedding which is fetched on demand.
const pointColumns = `id, collection, content, source_id, source_type, session_id,
	topic_id, chunk_index, total_chunks, checksum, summary, summary_carrier,
	created_at, extra`

// Store provides vector index operations on the points table.
//
// Store is safe for concurrent use; writes within one Add call are
// transactional, so a batch is all-or-nothing from the caller's
// perspective.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a Store on the given connection pool.
func NewStore(pool *pgxpool.Pool, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Store{pool: pool, logger: logger}
}

// Add upserts a batch of points in a single transaction.
func (s *Store) Add(ctx context.Context, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch write: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, p := range points {
		extraJSON, err := marshalExtra(p.Meta.Extra)
		if err != nil {
			return fmt.Errorf("point %q: %w", p.ID, err)
		}
		createdAt := p.Meta.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		batch.Queue(`
			INSERT INTO points (id, collection, content, embedding,
				source_id, source_type, session_id, topic_id,
				chunk_index, total_chunks, checksum, summary,
				summary_carrier, created_at, extra)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
			ON CONFLICT (id) DO UPDATE SET
				collection = excluded.collection,
				content = excluded.content,
				embedding = excluded.embedding,
				source_id = excluded.source_id,
				source_type = excluded.source_type,
				session_id = excluded.session_id,
				topic_id = excluded.topic_id,
				chunk_index = excluded.chunk_index,
				total_chunks = excluded.total_chunks,
				checksum = excluded.checksum,
				summary = excluded.summary,
				summary_carrier = excluded.summary_carrier,
				created_at = excluded.created_at,
				extra = excluded.extra`,
			p.ID, p.Collection, p.Text, pgvector.NewVector(p.Embedding),
			p.Meta.SourceID, p.Meta.SourceType, p.Meta.SessionID, p.Meta.TopicID,
			p.Meta.ChunkIndex, p.Meta.TotalChunks, p.Meta.Checksum, p.Meta.Summary,
			p.Meta.SummaryCarrier, createdAt, extraJSON)
	}

	results := tx.SendBatch(ctx, batch)
	for range points {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("batch write failed: %w", err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("batch write failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit batch write: %w", err)
	}

	s.logger.Debug("added points", "count", len(points), "collection", points[0].Collection)
	return nil
}

// Query runs a similarity search over one collection. Results are
// ordered by descending score (1 - cosine distance). When withVectors
// is true each hit carries its stored embedding, which the MMR
// retrieval path needs for diversity scoring.
func (s *Store) Query(ctx context.Context, collection string, embedding []float32, k int, f Filter, withVectors bool) ([]Hit, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}
	if k <= 0 {
		return nil, fmt.Errorf("query k must be positive, got %d", k)
	}

	args := []any{pgvector.NewVector(embedding), collection}
	where, err := f.whereClause(&args)
	if err != nil {
		return nil, err
	}

	vecCol := ""
	if withVectors {
		vecCol = ", embedding"
	}
	query := fmt.Sprintf(
		`SELECT %s, 1 - (embedding <=> $1) AS score%s
		 FROM points WHERE collection = $2`, pointColumns, vecCol)
	if where != "" {
		query += " AND " + where
	}
	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1 LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		hit, err := scanHit(rows, withVectors)
		if err != nil {
			return nil, err
		}
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("similarity query failed: %w", err)
	}
	return hits, nil
}

// Get returns points matching the filter, ordered by chunk index then
// creation time. limit caps the result set; limit <= 0 means no cap.
func (s *Store) Get(ctx context.Context, collection string, f Filter, withVectors bool, limit int) ([]Point, error) {
	if !ValidCollection(collection) {
		return nil, fmt.Errorf("unknown collection %q", collection)
	}

	args := []any{collection}
	where, err := f.whereClause(&args)
	if err != nil {
		return nil, err
	}

	vecCol := ""
	if withVectors {
		vecCol = ", embedding"
	}
	query := fmt.Sprintf(
		`SELECT %s%s FROM points WHERE collection = $1`, pointColumns, vecCol)
	if where != "" {
		query += " AND " + where
	}
	query += " ORDER BY chunk_index ASC, created_at ASC"
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("metadata query failed: %w", err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		p, err := scanPoint(rows, withVectors)
		if err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("metadata query failed: %w", err)
	}
	return points, nil
}

// Lookup fetches a single point by id across all collections.
func (s *Store) Lookup(ctx context.Context, id string) (Point, error) {
	query := fmt.Sprintf(`SELECT %s FROM points WHERE id = $1`, pointColumns)

	rows, err := s.pool.Query(ctx, query, id)
	if err != nil {
		return Point{}, fmt.Errorf("lookup failed: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Point{}, fmt.Errorf("lookup failed: %w", err)
		}
		return Point{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return scanPoint(rows, false)
}

// UpdateText replaces a point's text and embedding, leaving id and
// metadata untouched.
func (s *Store) UpdateText(ctx context.Context, id, text string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE points SET content = $2, embedding = $3 WHERE id = $1`,
		id, text, pgvector.NewVector(embedding))
	if err != nil {
		return fmt.Errorf("failed to update point %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Delete removes all points in a collection matching the filter and
// returns how many were removed.
func (s *Store) Delete(ctx context.Context, collection string, f Filter) (int64, error) {
	if !ValidCollection(collection) {
		return 0, fmt.Errorf("unknown collection %q", collection)
	}

	args := []any{collection}
	where, err := f.whereClause(&args)
	if err != nil {
		return 0, err
	}

	query := `DELETE FROM points WHERE collection = $1`
	if where != "" {
		query += " AND " + where
	}

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("delete failed: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetTopicIDs writes topic labels onto points in a single transaction.
// Either every label is applied or none is; partial relabeling of a
// session is worse than leaving the previous labels intact.
func (s *Store) SetTopicIDs(ctx context.Context, labels map[string]string) error {
	if len(labels) == 0 {
		return nil
	}

	ids := make([]string, 0, len(labels))
	for id := range labels {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin topic relabel: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, id := range ids {
		batch.Queue(`UPDATE points SET topic_id = $2 WHERE id = $1`, id, labels[id])
	}

	results := tx.SendBatch(ctx, batch)
	for _, id := range ids {
		tag, err := results.Exec()
		if err != nil {
			_ = results.Close()
			return fmt.Errorf("failed to relabel point %q: %w", id, err)
		}
		if tag.RowsAffected() == 0 {
			_ = results.Close()
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("topic relabel failed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit topic relabel: %w", err)
	}

	s.logger.Debug("relabeled topics", "points", len(labels))
	return nil
}

// Collections returns every logical collection with its point count.
// Collections with no points are included with a zero count.
func (s *Store) Collections(ctx context.Context) ([]CollectionInfo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT collection, count(*) FROM points GROUP BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to count collections: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var name string
		var count int64
		if err := rows.Scan(&name, &count); err != nil {
			return nil, fmt.Errorf("failed to scan collection count: %w", err)
		}
		counts[name] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to count collections: %w", err)
	}

	infos := make([]CollectionInfo, 0, len(Collections))
	for _, name := range Collections {
		infos = append(infos, CollectionInfo{Name: name, Points: counts[name]})
	}
	return infos, nil
}

// marshalExtra serializes the ordered extension mapping for the JSONB
// column. JSONB normalizes key order; Sanitize keeps Extra key-sorted,
// so the round trip is stable.
func marshalExtra(e Extra) ([]byte, error) {
	m := e.Map()
	if m == nil {
		return []byte("{}"), nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal extra metadata: %w", err)
	}
	return data, nil
}

// unmarshalExtra rebuilds key-sorted Extra from the JSONB column.
func unmarshalExtra(data []byte) (Extra, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse extra metadata: %w", err)
	}
	if len(m) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	extra := make(Extra, 0, len(keys))
	for _, k := range keys {
		extra = append(extra, Field{Key: k, Value: m[k]})
	}
	return extra, nil
}

func scanPoint(rows pgx.Rows, withVectors bool) (Point, error) {
	var (
		p         Point
		extraJSON []byte
		vec       pgvector.Vector
	)

	dest := []any{
		&p.ID, &p.Collection, &p.Text,
		&p.Meta.SourceID, &p.Meta.SourceType, &p.Meta.SessionID, &p.Meta.TopicID,
		&p.Meta.ChunkIndex, &p.Meta.TotalChunks, &p.Meta.Checksum, &p.Meta.Summary,
		&p.Meta.SummaryCarrier, &p.Meta.CreatedAt, &extraJSON,
	}
	if withVectors {
		dest = append(dest, &vec)
	}
	if err := rows.Scan(dest...); err != nil {
		return Point{}, fmt.Errorf("failed to scan point: %w", err)
	}

	extra, err := unmarshalExtra(extraJSON)
	if err != nil {
		return Point{}, err
	}
	p.Meta.Extra = extra
	if withVectors {
		p.Embedding = vec.Slice()
	}
	return p, nil
}

func scanHit(rows pgx.Rows, withVectors bool) (Hit, error) {
	var (
		h         Hit
		extraJSON []byte
		vec       pgvector.Vector
	)

	dest := []any{
		&h.ID, &h.Collection, &h.Text,
		&h.Meta.SourceID, &h.Meta.SourceType, &h.Meta.SessionID, &h.Meta.TopicID,
		&h.Meta.ChunkIndex, &h.Meta.TotalChunks, &h.Meta.Checksum, &h.Meta.Summary,
		&h.Meta.SummaryCarrier, &h.Meta.CreatedAt, &extraJSON, &h.Score,
	}
	if withVectors {
		dest = append(dest, &vec)
	}
	if err := rows.Scan(dest...); err != nil {
		return Hit{}, fmt.Errorf("failed to scan hit: %w", err)
	}

	extra, err := unmarshalExtra(extraJSON)
	if err != nil {
		return Hit{}, err
	}
	h.Meta.Extra = extra
	if withVectors {
		h.Embedding = vec.Slice()
	}
	return h, nil
}
