// Package matching scores local products against scraped competitor
// candidates and turns the winners into tracked links. The engine is pure;
// the quick-start and batch entry points own the gated orchestration around
// it.
package matching

import (
	"math"
	"strings"
	"unicode"

	"github.com/jonesrussell/price-tracker/internal/domain"
)

const maxScore = 100

// Engine computes deterministic 0-100 similarity between local products and
// scraped candidates. Identical inputs always produce identical output,
// regardless of slice order: tied scores prefer the lexicographically
// smaller candidate ID.
type Engine struct{}

// NewEngine creates a matching engine.
func NewEngine() *Engine {
	return &Engine{}
}

// FindBestMatches pairs every local product with its single best candidate
// at or above minScore. Each product yields at most one match, so the caller
// never creates duplicate links from one run.
func (e *Engine) FindBestMatches(products []domain.Product, candidates []domain.Candidate, minScore int) []domain.Match {
	matches := make([]domain.Match, 0, len(products))
	for i := range products {
		match, ok := e.bestMatch(&products[i], candidates)
		if ok && match.Score >= minScore {
			matches = append(matches, match)
		}
	}
	return matches
}

// Score computes the similarity between one product and one candidate.
// A non-empty SKU match is definitive; otherwise names are compared by
// token overlap.
func (e *Engine) Score(product *domain.Product, candidate *domain.Candidate) int {
	if skuEqual(product.SKU, candidate.SKU) {
		return maxScore
	}
	return nameScore(product.Name, candidate.Name)
}

func (e *Engine) bestMatch(product *domain.Product, candidates []domain.Candidate) (domain.Match, bool) {
	var best domain.Match
	found := false

	for i := range candidates {
		c := &candidates[i]
		score := e.Score(product, c)

		better := score > best.Score
		if found && score == best.Score && c.ID < best.CandidateID {
			better = true
		}
		if !found || better {
			best = domain.Match{
				ProductID:   product.ID,
				CandidateID: c.ID,
				URL:         c.URL,
				Score:       score,
			}
			found = true
		}
	}

	return best, found
}

// nameScore is the Dice coefficient over unique name tokens, scaled to
// 0-100. Two empty names never match.
func nameScore(a, b string) int {
	tokensA := tokenize(a)
	tokensB := tokenize(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return 0
	}

	overlap := 0
	for token := range tokensA {
		if tokensB[token] {
			overlap++
		}
	}

	dice := 2 * float64(overlap) / float64(len(tokensA)+len(tokensB))
	return int(math.Round(dice * maxScore))
}

// tokenize lowercases, strips non-alphanumerics and returns the unique
// token set.
func tokenize(s string) map[string]bool {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte(' ')
		}
	}

	tokens := make(map[string]bool)
	for _, token := range strings.Fields(b.String()) {
		tokens[token] = true
	}
	return tokens
}

func skuEqual(a, b *string) bool {
	if a == nil || b == nil {
		return false
	}
	sa := strings.ToLower(strings.TrimSpace(*a))
	sb := strings.ToLower(strings.TrimSpace(*b))
	return sa != "" && sa == sb
}
