package search

import (
	"strings"

	"mediascout/searchservice/internal/domain"
)

// applyFilters keeps results satisfying every active constraint. Omitted
// constraints impose no restriction; a result lacking the filtered field
// passes unless noted otherwise.
func applyFilters(items []domain.SearchResult, filters domain.SearchFilters) []domain.SearchResult {
	if !hasActiveFilters(filters) {
		return items
	}

	filtered := make([]domain.SearchResult, 0, len(items))
	for _, item := range items {
		if matchesFilters(item, filters) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func hasActiveFilters(f domain.SearchFilters) bool {
	return f.MinPlayers > 0 ||
		f.MaxPlayers > 0 ||
		f.MinPlayTime > 0 ||
		f.MaxPlayTime > 0 ||
		f.MinAge > 0 ||
		f.YearFrom > 0 ||
		f.YearTo > 0 ||
		f.MinRating > 0 ||
		f.Complexity != "" ||
		f.Genre != "" ||
		f.MaxPrice > 0 ||
		f.ExcludeExplicit
}

func matchesFilters(item domain.SearchResult, f domain.SearchFilters) bool {
	if item.BoardGame != nil {
		bg := item.BoardGame
		// Range constraints use overlap semantics: ranges that touch pass.
		if !rangesOverlap(bg.MinPlayers, bg.MaxPlayers, f.MinPlayers, f.MaxPlayers) {
			return false
		}
		if !rangesOverlap(bg.MinPlayTime, bg.MaxPlayTime, f.MinPlayTime, f.MaxPlayTime) {
			return false
		}
		// Stricter-only: the game's own minimum age must reach the bar.
		if f.MinAge > 0 && bg.MinAge > 0 && bg.MinAge < f.MinAge {
			return false
		}
		if f.Complexity != "" && !strings.Contains(strings.ToLower(bg.Complexity), strings.ToLower(strings.TrimSpace(f.Complexity))) {
			return false
		}
	}

	if f.YearFrom > 0 && item.Year > 0 && item.Year < f.YearFrom {
		return false
	}
	if f.YearTo > 0 && item.Year > 0 && item.Year > f.YearTo {
		return false
	}

	// A result with no rating passes the minimum-rating filter; absence is
	// not failure.
	if f.MinRating > 0 {
		if rating, ok := item.RatingValue(); ok && rating < f.MinRating {
			return false
		}
	}

	if f.Genre != "" && !matchesGenre(item, f.Genre) {
		return false
	}

	if item.Music != nil {
		if f.MaxPrice > 0 && item.Music.Price > f.MaxPrice {
			return false
		}
		if f.ExcludeExplicit && item.Music.Explicit {
			return false
		}
	}

	return true
}

// rangesOverlap reports whether [minA, maxA] and [minB, maxB] intersect.
// A zero bound inherits its counterpart; an entirely unset side passes.
func rangesOverlap(minA, maxA, minB, maxB int) bool {
	if minB <= 0 && maxB <= 0 {
		return true
	}
	if minA <= 0 && maxA <= 0 {
		return true
	}
	if minA <= 0 {
		minA = maxA
	}
	if maxA <= 0 {
		maxA = minA
	}
	if minB <= 0 {
		minB = maxB
	}
	if maxB <= 0 {
		maxB = minB
	}
	return maxA >= minB && minA <= maxB
}

func matchesGenre(item domain.SearchResult, genre string) bool {
	wanted := strings.ToLower(strings.TrimSpace(genre))
	if wanted == "" {
		return true
	}
	if item.Game != nil {
		for _, g := range item.Game.Genres {
			if strings.Contains(strings.ToLower(g.Name), wanted) {
				return true
			}
		}
	}
	if item.Music != nil && strings.Contains(strings.ToLower(item.Music.Genre), wanted) {
		return true
	}
	if item.BoardGame != nil {
		for _, c := range item.BoardGame.Categories {
			if strings.Contains(strings.ToLower(c.Name), wanted) {
				return true
			}
		}
	}
	// No genre signal on this result; the constraint is about a facet the
	// provider never reported, so the result is excluded.
	return false
}
