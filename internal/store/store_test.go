package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/docsage/docsage/internal/store"
	"github.com/docsage/docsage/internal/testutil"
)

// corpusDim matches the vector(768) column in the migration.
const corpusDim = 768

// basisVector returns a 768-dim unit vector along the given axis, so
// cosine distances between different axes are exactly 1.
func basisVector(axis int) []float32 {
	v := make([]float32, corpusDim)
	v[axis] = 1
	return v
}

func chunk(content, sourcePath string, axis int) store.Chunk {
	return store.Chunk{
		ID:         uuid.New(),
		Content:    content,
		Embedding:  basisVector(axis),
		SourcePath: sourcePath,
	}
}

func TestStore(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()

	st := store.New(db.Pool, corpusDim, testutil.DiscardLogger())

	t.Run("insert and count", func(t *testing.T) {
		if err := st.Insert(ctx, chunk("postgres tuning guide", "docs/tuning.md", 0)); err != nil {
			t.Fatalf("Insert: %v", err)
		}
		count, err := st.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if count != 1 {
			t.Fatalf("count = %d, want 1", count)
		}
	})

	t.Run("dimension mismatch", func(t *testing.T) {
		bad := store.Chunk{
			ID:        uuid.New(),
			Content:   "bad",
			Embedding: []float32{0.1, 0.2},
		}
		if err := st.Insert(ctx, bad); !errors.Is(err, store.ErrDimensionMismatch) {
			t.Fatalf("Insert error = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("batch is all or nothing", func(t *testing.T) {
		before, err := st.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}

		batch := []store.Chunk{
			chunk("valid batch chunk", "docs/batch.md", 1),
			{ID: uuid.New(), Content: "bad dim", Embedding: []float32{1}},
		}
		if err := st.InsertBatch(ctx, batch); !errors.Is(err, store.ErrDimensionMismatch) {
			t.Fatalf("InsertBatch error = %v, want ErrDimensionMismatch", err)
		}

		after, err := st.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if after != before {
			t.Fatalf("count changed from %d to %d on rejected batch", before, after)
		}
	})

	t.Run("nearest neighbors ordering", func(t *testing.T) {
		near := chunk("vacuum settings for postgres", "docs/vacuum.md", 2)
		far := chunk("unrelated release notes", "docs/notes.md", 3)
		if err := st.InsertBatch(ctx, []store.Chunk{near, far}); err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}

		got, err := st.NearestNeighbors(ctx, basisVector(2), 2)
		if err != nil {
			t.Fatalf("NearestNeighbors: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("got %d neighbors, want 2", len(got))
		}
		if got[0].Chunk.ID != near.ID {
			t.Errorf("closest neighbor = %q, want the aligned vector", got[0].Chunk.Content)
		}
		if got[0].Distance > 1e-6 {
			t.Errorf("identical vector distance = %v, want ~0", got[0].Distance)
		}
		if got[1].Distance < got[0].Distance {
			t.Errorf("neighbors not ordered by distance: %v then %v", got[0].Distance, got[1].Distance)
		}
	})

	t.Run("nearest neighbors rejects wrong dimension", func(t *testing.T) {
		if _, err := st.NearestNeighbors(ctx, []float32{1, 2, 3}, 5); !errors.Is(err, store.ErrDimensionMismatch) {
			t.Fatalf("error = %v, want ErrDimensionMismatch", err)
		}
	})

	t.Run("keyword search scores term fraction", func(t *testing.T) {
		both := chunk("database backup and database restore", "docs/kw.md", 4)
		one := chunk("backup policy overview", "docs/kw2.md", 5)
		if err := st.InsertBatch(ctx, []store.Chunk{both, one}); err != nil {
			t.Fatalf("InsertBatch: %v", err)
		}

		got, err := st.KeywordSearch(ctx, "database backup", 10)
		if err != nil {
			t.Fatalf("KeywordSearch: %v", err)
		}
		if len(got) < 2 {
			t.Fatalf("got %d results, want at least 2", len(got))
		}
		if got[0].Chunk.ID != both.ID {
			t.Errorf("best keyword match = %q, want the chunk matching both terms", got[0].Chunk.Content)
		}
		if got[0].Score != 1.0 {
			t.Errorf("both-terms score = %v, want 1.0", got[0].Score)
		}

		var oneScore float64
		for _, r := range got {
			if r.Chunk.ID == one.ID {
				oneScore = r.Score
			}
		}
		if oneScore != 0.5 {
			t.Errorf("single-term score = %v, want 0.5", oneScore)
		}
	})

	t.Run("keyword search escapes like metacharacters", func(t *testing.T) {
		literal := chunk("config uses 100% defaults", "docs/pct.md", 6)
		if err := st.Insert(ctx, literal); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		got, err := st.KeywordSearch(ctx, "100%", 10)
		if err != nil {
			t.Fatalf("KeywordSearch: %v", err)
		}
		found := false
		for _, r := range got {
			if r.Chunk.ID == literal.ID {
				found = true
			}
		}
		if !found {
			t.Error("literal percent sign did not match")
		}
	})

	t.Run("delete by source and mutation hooks", func(t *testing.T) {
		versionBefore := st.MutationVersion()
		fired := 0
		st.OnMutation(func() { fired++ })

		doomed := chunk("ephemeral content", "tmp/doomed.md", 7)
		if err := st.Insert(ctx, doomed); err != nil {
			t.Fatalf("Insert: %v", err)
		}

		deleted, err := st.DeleteBySource(ctx, "tmp/doomed.md")
		if err != nil {
			t.Fatalf("DeleteBySource: %v", err)
		}
		if deleted != 1 {
			t.Fatalf("deleted = %d, want 1", deleted)
		}
		if fired != 2 {
			t.Errorf("mutation hook fired %d times, want 2 (insert + delete)", fired)
		}
		if st.MutationVersion() <= versionBefore {
			t.Errorf("mutation version did not advance")
		}

		// Deleting an absent source bumps nothing.
		versionAfter := st.MutationVersion()
		deleted, err = st.DeleteBySource(ctx, "tmp/doomed.md")
		if err != nil || deleted != 0 {
			t.Fatalf("second delete = %d, %v; want 0, nil", deleted, err)
		}
		if st.MutationVersion() != versionAfter {
			t.Errorf("no-op delete must not bump the mutation version")
		}
	})

	t.Run("ping", func(t *testing.T) {
		if err := st.Ping(ctx); err != nil {
			t.Fatalf("Ping: %v", err)
		}
	})
}
