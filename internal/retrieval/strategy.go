package retrieval

import (
	"fmt"
	"strings"
)

// Strategy selects the retrieval algorithm for a query. The set is
// closed; every switch over Strategy handles all five values and fails
// on anything else.
type Strategy string

const (
	// StrategySemantic runs nearest-neighbor search over embeddings.
	StrategySemantic Strategy = "semantic"

	// StrategyKeyword runs case-insensitive term matching.
	StrategyKeyword Strategy = "keyword"

	// StrategyHybrid merges semantic and keyword results by weighted sum.
	StrategyHybrid Strategy = "hybrid"

	// StrategyEnhanced is hybrid plus exact-phrase and domain-pattern boosts.
	StrategyEnhanced Strategy = "enhanced"

	// StrategyCombined tries enhanced and widens to a union of semantic
	// and keyword results when too few candidates come back.
	StrategyCombined Strategy = "combined"
)

// ParseStrategy converts a wire value into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(strings.ToLower(strings.TrimSpace(s))) {
	case StrategySemantic:
		return StrategySemantic, nil
	case StrategyKeyword:
		return StrategyKeyword, nil
	case StrategyHybrid:
		return StrategyHybrid, nil
	case StrategyEnhanced:
		return StrategyEnhanced, nil
	case StrategyCombined:
		return StrategyCombined, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownStrategy, s)
	}
}

// Query shape thresholds for strategy selection.
const (
	// shortQueryMaxTokens: at or below this, keyword matching beats
	// embedding a fragment with no sentence structure.
	shortQueryMaxTokens = 2

	// longQueryMinTokens: above this, queries tend to carry several
	// clauses and benefit from the widest strategy.
	longQueryMinTokens = 10
)

// domainTerms is the curated vocabulary of the document corpus:
// program acronyms and regulatory terms whose presence marks a query
// that exact-match boosting answers far better than embeddings alone.
var domainTerms = []string{
	"hcbs",
	"medicaid",
	"medicare",
	"waiver",
	"cms",
	"compliance",
	"audit",
	"incident",
	"drug",
	"substance",
	"screening",
	"testing",
}

// clauseMarkers split a query into independent clauses.
var clauseMarkers = []string{";", ", and ", " and ", " versus ", " vs "}

// Select picks a strategy from query shape alone. Pure and deterministic:
// the same query always selects the same strategy. Priority, highest
// first: domain vocabulary, long or multi-clause, very short, default.
// An explicit caller-supplied strategy always beats this inference.
func Select(query string) Strategy {
	lower := strings.ToLower(query)
	tokens := strings.Fields(lower)

	for _, term := range domainTerms {
		if containsWord(tokens, term) {
			return StrategyEnhanced
		}
	}

	if len(tokens) > longQueryMinTokens || isMultiClause(lower, len(tokens)) {
		return StrategyCombined
	}

	if len(tokens) <= shortQueryMaxTokens {
		return StrategyKeyword
	}

	return StrategySemantic
}

// containsWord reports whether term appears as a whole token,
// ignoring trailing punctuation.
func containsWord(tokens []string, term string) bool {
	for _, tok := range tokens {
		if strings.TrimRight(tok, ".,;:!?\"')") == term {
			return true
		}
	}
	return false
}

// isMultiClause reports whether the query reads as several independent
// clauses. Very short queries never qualify regardless of punctuation.
func isMultiClause(lower string, tokenCount int) bool {
	if tokenCount <= shortQueryMaxTokens*2 {
		return false
	}
	for _, marker := range clauseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
