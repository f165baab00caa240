// Package assemble turns ranked retrieval candidates into a bounded,
// citation-indexed context block for the generation prompt.
package assemble

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/docsage/docsage/internal/retrieval"
	"github.com/docsage/docsage/internal/store"
)

// Source is one cited chunk in the assembled context. Index is the
// 1-based citation number the prompt and the answer both refer to.
type Source struct {
	Index     int
	Chunk     store.Chunk
	Score     float64
	Truncated bool
}

// Context is the assembled prompt material for one query.
type Context struct {
	// Text is the formatted context block, one "[Source N]" section
	// per included chunk.
	Text string

	// Sources lists the included chunks in citation order.
	Sources []Source

	// Chars is the length of Text in bytes.
	Chars int
}

// Option configures a single Assemble call.
type Option func(*settings)

type settings struct {
	boosts map[string]float64
}

// WithBoosts applies per-source-path score multipliers, snapshotted at
// call time. Keys are source paths; each matching candidate's score is
// multiplied by the value before ordering, so 0.5 demotes a source and
// 2.0 promotes it. Paths without an entry keep their score unchanged.
func WithBoosts(boosts map[string]float64) Option {
	return func(s *settings) {
		if len(boosts) == 0 {
			return
		}
		snapshot := make(map[string]float64, len(boosts))
		for k, v := range boosts {
			snapshot[k] = v
		}
		s.boosts = snapshot
	}
}

// Assemble selects and orders candidates into a context block no larger
// than charBudget bytes. Duplicate chunk ids keep their best score, and
// overlapping spans from the same source collapse to the higher-scoring
// chunk. Chunks are included greedily best-first without splitting; when
// the budget admits no whole chunk, the single best chunk is included
// truncated so the caller always gets some context when candidates
// exist.
func Assemble(candidates []retrieval.Candidate, charBudget int, opts ...Option) Context {
	if len(candidates) == 0 || charBudget <= 0 {
		return Context{}
	}

	var s settings
	for _, opt := range opts {
		opt(&s)
	}

	ordered := dedupe(candidates)
	if s.boosts != nil {
		for i := range ordered {
			if boost, ok := s.boosts[ordered[i].Chunk.SourcePath]; ok {
				ordered[i].Score *= boost
			}
		}
	}

	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Score != ordered[j].Score {
			return ordered[i].Score > ordered[j].Score
		}
		if ordered[i].Chunk.ChunkIndex != ordered[j].Chunk.ChunkIndex {
			return ordered[i].Chunk.ChunkIndex < ordered[j].Chunk.ChunkIndex
		}
		return ordered[i].Chunk.ID.String() < ordered[j].Chunk.ID.String()
	})

	// Citation indices are per distinct source path, assigned in the
	// order paths first appear among included chunks, so every chunk
	// from one document shares a single [Source N] marker.
	var (
		sources   []Source
		b         strings.Builder
		used      int
		pathIndex = make(map[string]int)
	)
	for _, c := range ordered {
		index, ok := pathIndex[c.Chunk.SourcePath]
		if !ok {
			index = len(pathIndex) + 1
		}
		section := formatSection(index, c.Chunk, c.Chunk.Content)
		if used+len(section) > charBudget {
			continue
		}
		if !ok {
			pathIndex[c.Chunk.SourcePath] = index
		}
		sources = append(sources, Source{
			Index: index,
			Chunk: c.Chunk,
			Score: c.Score,
		})
		b.WriteString(section)
		used += len(section)
	}

	// Nothing fit whole: include the best chunk truncated rather than
	// returning an empty context for a non-empty candidate set.
	if len(sources) == 0 {
		best := ordered[0]
		header := sectionHeader(1, best.Chunk)
		room := charBudget - len(header) - 1
		if room <= 0 {
			return Context{}
		}
		content := best.Chunk.Content
		if len(content) > room {
			cut := room
			for cut > 0 && !utf8.RuneStart(content[cut]) {
				cut--
			}
			content = content[:cut]
		}
		section := header + content + "\n"
		return Context{
			Text: section,
			Sources: []Source{{
				Index:     1,
				Chunk:     best.Chunk,
				Score:     best.Score,
				Truncated: true,
			}},
			Chars: len(section),
		}
	}

	text := b.String()
	return Context{Text: text, Sources: sources, Chars: len(text)}
}

// dedupe collapses duplicate chunk ids (keeping the best score) and then
// overlapping character spans within the same source path (keeping the
// higher-scoring chunk).
func dedupe(candidates []retrieval.Candidate) []retrieval.Candidate {
	byID := make(map[string]retrieval.Candidate, len(candidates))
	order := make([]string, 0, len(candidates))
	for _, c := range candidates {
		id := c.Chunk.ID.String()
		existing, ok := byID[id]
		if !ok {
			order = append(order, id)
			byID[id] = c
			continue
		}
		if c.Score > existing.Score {
			byID[id] = c
		}
	}

	unique := make([]retrieval.Candidate, 0, len(order))
	for _, id := range order {
		unique = append(unique, byID[id])
	}

	// Overlap pass: within one source, a span covered by a
	// higher-scoring span is redundant context.
	kept := unique[:0]
	for _, c := range unique {
		drop := false
		for i := range kept {
			if kept[i].Chunk.SourcePath != c.Chunk.SourcePath {
				continue
			}
			if !overlaps(kept[i].Chunk, c.Chunk) {
				continue
			}
			if kept[i].Score >= c.Score {
				drop = true
			} else {
				kept[i] = c
				drop = true
			}
			break
		}
		if !drop {
			kept = append(kept, c)
		}
	}
	return kept
}

// overlaps reports whether two chunks from the same source cover
// intersecting character ranges. Chunks without span metadata (both
// bounds zero) never overlap.
func overlaps(a, b store.Chunk) bool {
	if a.CharEnd == 0 && a.CharStart == 0 {
		return false
	}
	if b.CharEnd == 0 && b.CharStart == 0 {
		return false
	}
	return a.CharStart < b.CharEnd && b.CharStart < a.CharEnd
}

func sectionHeader(index int, c store.Chunk) string {
	path := c.SourcePath
	if path == "" {
		path = "unknown"
	}
	return fmt.Sprintf("[Source %d] (%s)\n", index, path)
}

func formatSection(index int, c store.Chunk, content string) string {
	return sectionHeader(index, c) + content + "\n\n"
}
