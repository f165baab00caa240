// Package store persists document chunks with vector embeddings in
// PostgreSQL + pgvector and answers nearest-neighbor and keyword queries.
//
// The store is the single owner of the chunks table. Every mutation bumps
// an in-process version counter and fires registered mutation hooks, which
// the caching layer uses to drop stale query results.
//
// Store is safe for concurrent use by multiple goroutines.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

// ErrDimensionMismatch indicates a chunk arrived with an embedding whose
// dimension differs from the corpus dimension. This is a fatal ingestion
// error, never a runtime search condition.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Store manages chunk records in PostgreSQL.
type Store struct {
	pool   *pgxpool.Pool
	dim    int
	logger *slog.Logger

	version atomic.Int64

	mu    sync.Mutex // guards hooks
	hooks []func()
}

// New creates a Store over an existing connection pool.
// dim is the embedding dimension shared by the whole corpus.
func New(pool *pgxpool.Pool, dim int, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		pool:   pool,
		dim:    dim,
		logger: logger,
	}
}

// NewPool creates a pgx connection pool with pgvector types registered.
// MaxConns bounds concurrent store access; when the pool is exhausted,
// callers block until a connection frees up or their context expires.
func NewPool(ctx context.Context, connString string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parsing connection config: %w", err)
	}

	poolCfg.MaxConns = maxConns
	poolCfg.MinConns = 2
	poolCfg.MaxConnLifetime = 30 * time.Minute
	poolCfg.MaxConnIdleTime = 5 * time.Minute
	poolCfg.HealthCheckPeriod = 1 * time.Minute
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvec.RegisterTypes(ctx, conn); err != nil {
			return fmt.Errorf("registering pgvector types: %w", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return pool, nil
}

// OnMutation registers a hook invoked after every successful ingest or
// delete. Hooks must be fast and must not call back into the store.
func (s *Store) OnMutation(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, fn)
}

// MutationVersion returns a counter incremented on every corpus mutation.
// Cache layers key validity off this value.
func (s *Store) MutationVersion() int64 {
	return s.version.Load()
}

func (s *Store) bumpVersion() {
	s.version.Add(1)
	s.mu.Lock()
	hooks := make([]func(), len(s.hooks))
	copy(hooks, s.hooks)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn()
	}
}

// Insert adds a single chunk to the corpus.
// Fails with ErrDimensionMismatch if the embedding dimension is wrong.
func (s *Store) Insert(ctx context.Context, c Chunk) error {
	if len(c.Embedding) != s.dim {
		return fmt.Errorf("%w: chunk %q has dimension %d, corpus uses %d",
			ErrDimensionMismatch, c.ID, len(c.Embedding), s.dim)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO chunks (id, content, embedding, source_path, chunk_index, char_start, char_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.ID, c.Content, pgvector.NewVector(c.Embedding), c.SourcePath, c.ChunkIndex, c.CharStart, c.CharEnd,
	)
	if err != nil {
		return fmt.Errorf("inserting chunk %q: %w", c.ID, err)
	}

	s.logger.Debug("chunk inserted", "id", c.ID, "source", c.SourcePath, "chars", len(c.Content))
	s.bumpVersion()
	return nil
}

// InsertBatch adds multiple chunks in a single transaction. The whole
// batch is rejected if any chunk has a mismatched dimension; partial
// ingest would leave the corpus in an ambiguous state.
func (s *Store) InsertBatch(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, c := range chunks {
		if len(c.Embedding) != s.dim {
			return fmt.Errorf("%w: chunk %q has dimension %d, corpus uses %d",
				ErrDimensionMismatch, c.ID, len(c.Embedding), s.dim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("rolling back batch insert", "error", rbErr)
		}
	}()

	for _, c := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, content, embedding, source_path, chunk_index, char_start, char_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.Content, pgvector.NewVector(c.Embedding), c.SourcePath, c.ChunkIndex, c.CharStart, c.CharEnd,
		); err != nil {
			return fmt.Errorf("inserting chunk %q: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing batch insert: %w", err)
	}

	s.logger.Debug("chunk batch inserted", "count", len(chunks))
	s.bumpVersion()
	return nil
}

// DeleteBySource removes all chunks that originated from sourcePath.
// Returns the number of chunks removed.
func (s *Store) DeleteBySource(ctx context.Context, sourcePath string) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM chunks WHERE source_path = $1`, sourcePath)
	if err != nil {
		return 0, fmt.Errorf("deleting chunks for %q: %w", sourcePath, err)
	}

	deleted := tag.RowsAffected()
	if deleted > 0 {
		s.logger.Debug("chunks deleted", "source", sourcePath, "count", deleted)
		s.bumpVersion()
	}
	return deleted, nil
}

// Ping verifies the database connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pinging database: %w", err)
	}
	return nil
}

// Count returns the total number of chunks in the corpus.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// NearestNeighbors returns the k chunks closest to vec by cosine distance,
// ordered ascending (closest first).
func (s *Store) NearestNeighbors(ctx context.Context, vec []float32, k int) ([]ChunkDistance, error) {
	if len(vec) != s.dim {
		return nil, fmt.Errorf("%w: query vector has dimension %d, corpus uses %d",
			ErrDimensionMismatch, len(vec), s.dim)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, content, source_path, chunk_index, char_start, char_end, created_at,
		       embedding <=> $1 AS distance
		FROM chunks
		ORDER BY embedding <=> $1 ASC
		LIMIT $2`,
		pgvector.NewVector(vec), k,
	)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbor query: %w", err)
	}
	defer rows.Close()

	var results []ChunkDistance
	for rows.Next() {
		var cd ChunkDistance
		if err := rows.Scan(
			&cd.Chunk.ID, &cd.Chunk.Content, &cd.Chunk.SourcePath, &cd.Chunk.ChunkIndex,
			&cd.Chunk.CharStart, &cd.Chunk.CharEnd, &cd.Chunk.CreatedAt, &cd.Distance,
		); err != nil {
			return nil, fmt.Errorf("scanning neighbor row: %w", err)
		}
		results = append(results, cd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading neighbor rows: %w", err)
	}
	return results, nil
}

// KeywordSearch matches chunks containing the query terms, case-insensitive.
// The score is a term-frequency proxy: the fraction of distinct query terms
// present in the content, so it lands in [0, 1] directly.
func (s *Store) KeywordSearch(ctx context.Context, query string, k int) ([]ChunkScore, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}

	// One ILIKE parameter per term; matched-term count doubles as ranking.
	var (
		caseExprs  []string
		whereExprs []string
		args       []any
	)
	for i, term := range terms {
		p := fmt.Sprintf("$%d", i+1)
		caseExprs = append(caseExprs, fmt.Sprintf("(CASE WHEN content ILIKE %s THEN 1 ELSE 0 END)", p))
		whereExprs = append(whereExprs, fmt.Sprintf("content ILIKE %s", p))
		args = append(args, "%"+escapeLike(term)+"%")
	}
	args = append(args, k)

	//nolint:gosec // SQL fragments are built from fixed templates; all values are parameterized
	sql := fmt.Sprintf(`
		SELECT id, content, source_path, chunk_index, char_start, char_end, created_at,
		       (%s) AS matched
		FROM chunks
		WHERE %s
		ORDER BY matched DESC, LENGTH(content) ASC
		LIMIT $%d`,
		strings.Join(caseExprs, " + "),
		strings.Join(whereExprs, " OR "),
		len(terms)+1,
	)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("keyword query: %w", err)
	}
	defer rows.Close()

	var results []ChunkScore
	for rows.Next() {
		var cs ChunkScore
		var matched int
		if err := rows.Scan(
			&cs.Chunk.ID, &cs.Chunk.Content, &cs.Chunk.SourcePath, &cs.Chunk.ChunkIndex,
			&cs.Chunk.CharStart, &cs.Chunk.CharEnd, &cs.Chunk.CreatedAt, &matched,
		); err != nil {
			return nil, fmt.Errorf("scanning keyword row: %w", err)
		}
		cs.Score = float64(matched) / float64(len(terms))
		results = append(results, cs)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading keyword rows: %w", err)
	}
	return results, nil
}

// escapeLike escapes LIKE metacharacters so user terms match literally.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}
