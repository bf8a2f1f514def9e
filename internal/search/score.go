package search

import (
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"mediascout/searchservice/internal/domain"
)

const (
	titleExactScore     = 100.0
	titleSubstringScore = 70.0
	titleOverlapMax     = 50.0

	qualityRatingMax = 50.0
	qualityCountMax  = 30.0
	recencyBonus     = 20.0
	recencyWindow    = 2 // years

	popularityRankMax    = 30.0
	popularityOwnedBonus = 10.0
	ownedBonusThreshold  = 1000

	sortPreferenceMultiplier = 1.5
)

// scoredResult pairs a result with its ranking subscores. Scores are
// recomputed on every ranking pass and never leave the search package; the
// response carries bare results only.
type scoredResult struct {
	result          domain.SearchResult
	titleScore      float64
	qualityScore    float64
	popularityScore float64
	totalScore      float64
}

// titleFold strips diacritics and lowercases, so "Café" matches "cafe".
var titleFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

func normalizeTitle(value string) string {
	folded, _, err := transform.String(titleFold, strings.TrimSpace(value))
	if err != nil {
		folded = strings.TrimSpace(value)
	}
	return strings.ToLower(folded)
}

// scoreResult computes the composite relevance score for one result against
// the query. The sort preference biases the matching subscore by 1.5x; it is
// a soft nudge, not a hard reorder.
func scoreResult(result domain.SearchResult, query string, sortBy domain.SearchSortBy, now time.Time) scoredResult {
	scored := scoredResult{result: result}

	scored.titleScore = titleMatchScore(normalizeTitle(result.Title), normalizeTitle(query))
	scored.qualityScore = qualityScore(result)
	scored.popularityScore = popularityScore(result)

	switch sortBy {
	case domain.SearchSortByRating:
		scored.qualityScore *= sortPreferenceMultiplier
	case domain.SearchSortByRank:
		scored.popularityScore *= sortPreferenceMultiplier
	case domain.SearchSortByRecency:
		if result.Year > 0 && result.Year >= now.Year()-recencyWindow {
			scored.qualityScore += recencyBonus
		}
	}

	scored.totalScore = scored.titleScore + scored.qualityScore + scored.popularityScore
	return scored
}

func titleMatchScore(title, query string) float64 {
	if title == "" || query == "" {
		return 0
	}
	if title == query {
		return titleExactScore
	}
	if strings.Contains(title, query) || strings.Contains(query, title) {
		return titleSubstringScore
	}

	words := strings.Fields(query)
	if len(words) == 0 {
		return 0
	}
	matched := 0
	for _, word := range words {
		if strings.Contains(title, word) {
			matched++
		}
	}
	return float64(matched) / float64(len(words)) * titleOverlapMax
}

// qualityScore rewards rating up to 50 points and ratings count up to 30 via
// logarithmic dampening, so a result with 10k votes beats one with 2k by a
// few points, not 5x.
func qualityScore(result domain.SearchResult) float64 {
	score := 0.0
	if rating, ok := result.RatingValue(); ok {
		score += rating * 10
		if score > qualityRatingMax {
			score = qualityRatingMax
		}
	}
	if result.RatingsCount > 0 {
		score += math.Min(qualityCountMax, math.Log10(float64(result.RatingsCount)+1)*5)
	}
	return score
}

func popularityScore(result domain.SearchResult) float64 {
	score := 0.0
	if result.Rank > 0 {
		score += math.Max(0, popularityRankMax-float64(result.Rank)/1000)
	}
	if result.BoardGame != nil && result.BoardGame.OwnedCount > ownedBonusThreshold {
		score += popularityOwnedBonus
	}
	return score
}

// rankResults scores every result and sorts descending by total score.
// Ties keep their incoming order (stable sort).
func rankResults(items []domain.SearchResult, query string, sortBy domain.SearchSortBy, now time.Time) []domain.SearchResult {
	scored := make([]scoredResult, len(items))
	for i, item := range items {
		scored[i] = scoreResult(item, query, sortBy, now)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].totalScore > scored[j].totalScore
	})
	ranked := make([]domain.SearchResult, len(scored))
	for i, item := range scored {
		ranked[i] = item.result
	}
	return ranked
}
