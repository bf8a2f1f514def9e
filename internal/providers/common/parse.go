package common

import (
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"mediascout/searchservice/internal/domain"
)

var tagPattern = regexp.MustCompile(`<[^>]+>`)

// CleanMarkupText unescapes HTML entities (including the double-escaped
// &amp;#10; style found in CDATA description blocks), strips residual tags
// and collapses whitespace.
func CleanMarkupText(raw string) string {
	value := strings.TrimSpace(raw)
	value = html.UnescapeString(value)
	value = html.UnescapeString(value)
	value = tagPattern.ReplaceAllString(value, " ")
	value = strings.Join(strings.Fields(value), " ")
	return value
}

// NormalizeRating rescales a provider rating from [0, providerScale] to the
// canonical [0, 5] range. Out-of-range input is clamped, never passed
// through. A non-positive providerScale or an unset rating yields nil,
// meaning "no rating" rather than zero.
func NormalizeRating(value float64, providerScale float64, present bool) *float64 {
	if !present || providerScale <= 0 {
		return nil
	}
	normalized := value / providerScale * domain.RatingScaleMax
	if normalized < 0 {
		normalized = 0
	}
	if normalized > domain.RatingScaleMax {
		normalized = domain.RatingScaleMax
	}
	return &normalized
}

// YearFromDate extracts the year from a leading YYYY date prefix
// ("1995-10-03" → 1995). Returns 0 when no usable prefix exists.
func YearFromDate(date string) int {
	value := strings.TrimSpace(date)
	if len(value) < 4 {
		return 0
	}
	year, err := strconv.Atoi(value[:4])
	if err != nil || year <= 0 {
		return 0
	}
	return year
}

// RangeText renders a human-readable "2-4 players" style string, collapsing
// to a single value when the bounds coincide ("4 players", never "4-4").
func RangeText(min, max int, unit string) string {
	if min <= 0 && max <= 0 {
		return ""
	}
	if min <= 0 {
		min = max
	}
	if max <= 0 {
		max = min
	}
	if min == max {
		return fmt.Sprintf("%d %s", min, unit)
	}
	return fmt.Sprintf("%d-%d %s", min, max, unit)
}

// ComplexityLabel maps a numeric weight onto the qualitative scale used
// across the board-game UI.
func ComplexityLabel(weight float64) string {
	switch {
	case weight <= 0:
		return ""
	case weight <= 2.0:
		return "Light"
	case weight <= 3.0:
		return "Medium-Light"
	case weight <= 4.0:
		return "Medium"
	case weight <= 4.5:
		return "Medium-Heavy"
	default:
		return "Heavy"
	}
}

// TruncateText caps value at max bytes, backing up to the nearest rune
// boundary so a multi-byte character is never split.
func TruncateText(value string, max int) string {
	if max <= 0 {
		return ""
	}
	if len(value) <= max {
		return value
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
