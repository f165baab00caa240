// Package retrieval implements the search core: per-query strategy
// selection and candidate retrieval against the chunk store.
//
// Five strategies are supported. The composite ones (hybrid, enhanced,
// combined) fan their sub-searches out concurrently and join them with a
// commutative merge, so completion order never changes the result.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/docsage/docsage/internal/cache"
	"github.com/docsage/docsage/internal/store"
)

// MatchKind records which search produced a candidate.
type MatchKind string

const (
	MatchSemantic MatchKind = "semantic"
	MatchKeyword  MatchKind = "keyword"
	MatchHybrid   MatchKind = "hybrid"
)

// Candidate is a scored chunk produced for a single query.
// Candidates are ephemeral and never persisted.
type Candidate struct {
	Chunk store.Chunk

	// RawScore is the backend-native value: cosine distance for
	// semantic matches, term fraction for keyword matches.
	RawScore float64

	// Score is RawScore rescaled to [0, 1], higher is better.
	Score float64

	// Match records the search kind that produced this candidate.
	Match MatchKind
}

// Store is the document store surface the retriever consumes.
type Store interface {
	NearestNeighbors(ctx context.Context, vec []float32, k int) ([]store.ChunkDistance, error)
	KeywordSearch(ctx context.Context, query string, k int) ([]store.ChunkScore, error)
}

// EmbedderClient produces query embeddings.
type EmbedderClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes retrieval behavior.
type Config struct {
	// SemanticWeight is the semantic share of the hybrid merge, in
	// [0, 1]. The keyword share is the complement. Default 0.7.
	SemanticWeight float64

	// RelevanceFloor drops semantic and merged candidates scoring
	// below it. Keyword-only results trust their own ranking.
	RelevanceFloor float64

	// Timeout bounds each Retrieve call end to end.
	Timeout time.Duration

	// MinCombined is the candidate count below which the combined
	// strategy widens to the union of all searches. Default 3.
	MinCombined int
}

// Retriever executes search strategies against the chunk store.
// Safe for concurrent use.
type Retriever struct {
	store    Store
	embedder EmbedderClient
	results  *cache.Cache[[]Candidate]
	cfg      Config
	logger   *slog.Logger
}

// New creates a Retriever. results may be nil to disable query-result
// caching (tests that assert on store traffic do this).
func New(st Store, embedder EmbedderClient, results *cache.Cache[[]Candidate], cfg Config, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SemanticWeight <= 0 || cfg.SemanticWeight > 1 {
		cfg.SemanticWeight = 0.7
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MinCombined <= 0 {
		cfg.MinCombined = 3
	}
	return &Retriever{
		store:    st,
		embedder: embedder,
		results:  results,
		cfg:      cfg,
		logger:   logger,
	}
}

// Retrieve runs the given strategy and returns scored candidates, best
// first. An empty corpus or a query clearing nothing above the relevance
// floor yields an empty slice, not an error. Store failures surface as
// ErrStoreUnavailable; an expired deadline surfaces as ErrTimeout, which
// the caller may answer with one retry on a cheaper strategy.
func (r *Retriever) Retrieve(ctx context.Context, query string, strat Strategy, k int) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	var key string
	if r.results != nil {
		key = cache.Key("retrieve", query, string(strat), strconv.Itoa(k))
		if cached, ok := r.results.Get(key); ok {
			return cached, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	start := time.Now()
	candidates, err := r.dispatch(ctx, query, strat, k)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("retrieval completed",
		"strategy", strat, "candidates", len(candidates), "elapsed", time.Since(start))

	if r.results != nil {
		r.results.Put(key, candidates)
	}
	return candidates, nil
}

// dispatch is the single exhaustive switch over the strategy set.
func (r *Retriever) dispatch(ctx context.Context, query string, strat Strategy, k int) ([]Candidate, error) {
	switch strat {
	case StrategySemantic:
		return r.semantic(ctx, query, k)
	case StrategyKeyword:
		return r.keyword(ctx, query, k)
	case StrategyHybrid:
		return r.hybrid(ctx, query, k)
	case StrategyEnhanced:
		return r.enhanced(ctx, query, k)
	case StrategyCombined:
		return r.combined(ctx, query, k)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strat)
	}
}

// normalizeDistance maps pgvector cosine distance (0..2) onto a 0..1
// relevance score. The affine mapping score = 1 - d was calibrated
// against the index: identical vectors score 1, orthogonal score 0, and
// anti-correlated content floors at 0 instead of going negative. This is
// a calibration constant for this index's distance metric, not derived
// per query.
func normalizeDistance(d float64) float64 {
	return clamp01(1 - d)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func (r *Retriever) semantic(ctx context.Context, query string, k int) ([]Candidate, error) {
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	neighbors, err := r.store.NearestNeighbors(ctx, vec, k)
	if err != nil {
		return nil, r.storeErr("nearest neighbor search", err)
	}

	candidates := make([]Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		score := normalizeDistance(n.Distance)
		if score < r.cfg.RelevanceFloor {
			continue
		}
		candidates = append(candidates, Candidate{
			Chunk:    n.Chunk,
			RawScore: n.Distance,
			Score:    score,
			Match:    MatchSemantic,
		})
	}
	return candidates, nil
}

func (r *Retriever) keyword(ctx context.Context, query string, k int) ([]Candidate, error) {
	matches, err := r.store.KeywordSearch(ctx, query, k)
	if err != nil {
		return nil, r.storeErr("keyword search", err)
	}

	// Keyword ranking is trusted as-is; the floor applies to semantic
	// and merged scores only.
	candidates := make([]Candidate, 0, len(matches))
	for _, m := range matches {
		candidates = append(candidates, Candidate{
			Chunk:    m.Chunk,
			RawScore: m.Score,
			Score:    clamp01(m.Score),
			Match:    MatchKeyword,
		})
	}
	return candidates, nil
}

// hybrid fans out the semantic and keyword searches concurrently and
// merges them with a weighted sum of normalized scores. The merge is
// commutative: arrival order of the sub-searches never matters.
func (r *Retriever) hybrid(ctx context.Context, query string, k int) ([]Candidate, error) {
	semantic, keyword, err := r.fanOut(ctx, query, k)
	if err != nil {
		return nil, err
	}

	merged := r.mergeWeighted(semantic, keyword)

	filtered := merged[:0]
	for _, c := range merged {
		if c.Score >= r.cfg.RelevanceFloor {
			filtered = append(filtered, c)
		}
	}
	sortCandidates(filtered)
	return truncate(filtered, k), nil
}

// enhanced runs the hybrid merge, then layers exact-phrase and domain
// pattern boosts on top of the merged scores.
func (r *Retriever) enhanced(ctx context.Context, query string, k int) ([]Candidate, error) {
	semantic, keyword, err := r.fanOut(ctx, query, k)
	if err != nil {
		return nil, err
	}

	merged := r.mergeWeighted(semantic, keyword)
	applyBoosts(merged, query)

	filtered := merged[:0]
	for _, c := range merged {
		if c.Score >= r.cfg.RelevanceFloor {
			filtered = append(filtered, c)
		}
	}
	sortCandidates(filtered)
	return truncate(filtered, k), nil
}

// combined tries enhanced first and, when it returns fewer than
// MinCombined candidates, widens to the union of semantic and keyword
// results, deduplicating by chunk id and keeping the max score per id.
// The result set is therefore always a superset of the enhanced set.
func (r *Retriever) combined(ctx context.Context, query string, k int) ([]Candidate, error) {
	base, err := r.enhanced(ctx, query, k)
	if err != nil {
		return nil, err
	}
	if len(base) >= r.cfg.MinCombined {
		return base, nil
	}

	semantic, keyword, err := r.fanOut(ctx, query, k)
	if err != nil {
		return nil, err
	}

	union := append(append(base, semantic...), keyword...)
	deduped := dedupeMaxScore(union)
	sortCandidates(deduped)
	return truncate(deduped, k), nil
}

// fanOut issues the semantic and keyword sub-searches in parallel.
// Both legs inherit the Retrieve deadline through the group context.
func (r *Retriever) fanOut(ctx context.Context, query string, k int) (semantic, keyword []Candidate, err error) {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var semErr error
		semantic, semErr = r.semantic(gctx, query, k)
		return semErr
	})
	g.Go(func() error {
		var kwErr error
		keyword, kwErr = r.keyword(gctx, query, k)
		return kwErr
	})

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return semantic, keyword, nil
}

// mergeWeighted combines the two candidate lists by chunk id. A chunk
// found by both searches scores weight*semantic + (1-weight)*keyword and
// is marked hybrid; a chunk found by one search keeps its single
// weighted contribution and its original match kind.
func (r *Retriever) mergeWeighted(semantic, keyword []Candidate) []Candidate {
	w := r.cfg.SemanticWeight
	byID := make(map[string]Candidate, len(semantic)+len(keyword))

	for _, c := range semantic {
		c.Score = w * c.Score
		byID[c.Chunk.ID.String()] = c
	}
	for _, c := range keyword {
		kwScore := (1 - w) * c.Score
		if existing, ok := byID[c.Chunk.ID.String()]; ok {
			existing.Score += kwScore
			existing.Match = MatchHybrid
			byID[c.Chunk.ID.String()] = existing
			continue
		}
		c.Score = kwScore
		byID[c.Chunk.ID.String()] = c
	}

	merged := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		c.Score = clamp01(c.Score)
		merged = append(merged, c)
	}
	return merged
}

// Boost increments applied by the enhanced strategy. Scores stay clamped
// to [0, 1] afterwards.
const (
	exactPhraseBoost   = 0.15
	domainPatternBoost = 0.10
)

// numberedListPattern marks enumerated content, which list-style queries
// ("list of covered substances") almost always want.
var numberedListPattern = regexp.MustCompile(`(?m)^\s*\d+\.\s`)

// listQueryTerms are query words that signal the user wants enumerated content.
var listQueryTerms = []string{"list", "tests", "testing", "substances", "drugs"}

// applyBoosts mutates candidate scores in place with exact-phrase and
// domain pattern boosts.
func applyBoosts(candidates []Candidate, query string) {
	lowerQuery := strings.ToLower(strings.TrimSpace(query))
	phraseEligible := len(strings.Fields(lowerQuery)) > 1

	wantsList := false
	for _, term := range listQueryTerms {
		if strings.Contains(lowerQuery, term) {
			wantsList = true
			break
		}
	}

	for i := range candidates {
		content := strings.ToLower(candidates[i].Chunk.Content)

		if phraseEligible && strings.Contains(content, lowerQuery) {
			candidates[i].Score = clamp01(candidates[i].Score + exactPhraseBoost)
		}
		if wantsList && numberedListPattern.MatchString(candidates[i].Chunk.Content) {
			candidates[i].Score = clamp01(candidates[i].Score + domainPatternBoost)
		}
	}
}

// dedupeMaxScore collapses candidates sharing a chunk id, keeping the
// highest-scoring instance. Commutative over input order.
func dedupeMaxScore(candidates []Candidate) []Candidate {
	byID := make(map[string]Candidate, len(candidates))
	for _, c := range candidates {
		id := c.Chunk.ID.String()
		if existing, ok := byID[id]; !ok || c.Score > existing.Score {
			byID[id] = c
		}
	}

	result := make([]Candidate, 0, len(byID))
	for _, c := range byID {
		result = append(result, c)
	}
	return result
}

// sortCandidates orders best-first, breaking score ties by chunk index
// (earlier in the source wins) and then id for full determinism.
func sortCandidates(candidates []Candidate) {
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		if candidates[i].Chunk.ChunkIndex != candidates[j].Chunk.ChunkIndex {
			return candidates[i].Chunk.ChunkIndex < candidates[j].Chunk.ChunkIndex
		}
		return candidates[i].Chunk.ID.String() < candidates[j].Chunk.ID.String()
	})
}

func truncate(candidates []Candidate, k int) []Candidate {
	if len(candidates) > k {
		return candidates[:k]
	}
	return candidates
}

// storeErr maps store failures onto the retrieval error taxonomy.
func (r *Retriever) storeErr(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
