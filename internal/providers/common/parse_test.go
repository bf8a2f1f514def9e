package common

import (
	"math"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestCleanMarkupText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Settlers of Catan", "Settlers of Catan"},
		{"tags stripped", "<b>Catan</b> is a <i>classic</i>", "Catan is a classic"},
		{"double escaped entities", "Trade &amp;amp; build", "Trade & build"},
		{"whitespace collapsed", "  too   many\n\nspaces  ", "too many spaces"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CleanMarkupText(tc.in); got != tc.want {
				t.Fatalf("CleanMarkupText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeRatingBounds(t *testing.T) {
	cases := []struct {
		name    string
		value   float64
		scale   float64
		present bool
		want    float64
		wantNil bool
	}{
		{"zero stays zero", 0, 10, true, 0, false},
		{"scale max maps to five", 10, 10, true, 5, false},
		{"midpoint", 7.2, 10, true, 3.6, false},
		{"five scale passthrough", 4.5, 5, true, 4.5, false},
		{"above scale clamps", 12, 10, true, 5, false},
		{"negative clamps to zero", -1, 10, true, 0, false},
		{"absent is nil", 8, 10, false, 0, true},
		{"bad scale is nil", 8, 0, true, 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NormalizeRating(tc.value, tc.scale, tc.present)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("expected nil rating, got %v", *got)
				}
				return
			}
			if got == nil {
				t.Fatal("expected rating, got nil")
			}
			if math.Abs(*got-tc.want) > 1e-9 {
				t.Fatalf("NormalizeRating(%v, %v) = %v, want %v", tc.value, tc.scale, *got, tc.want)
			}
		})
	}
}

func TestYearFromDate(t *testing.T) {
	if got := YearFromDate("1995-10-03"); got != 1995 {
		t.Fatalf("expected 1995, got %d", got)
	}
	if got := YearFromDate("2023"); got != 2023 {
		t.Fatalf("expected 2023, got %d", got)
	}
	if got := YearFromDate(""); got != 0 {
		t.Fatalf("expected 0 for empty date, got %d", got)
	}
	if got := YearFromDate("n/a"); got != 0 {
		t.Fatalf("expected 0 for junk date, got %d", got)
	}
}

func TestRangeText(t *testing.T) {
	if got := RangeText(3, 4, "players"); got != "3-4 players" {
		t.Fatalf("unexpected range text: %q", got)
	}
	if got := RangeText(4, 4, "players"); got != "4 players" {
		t.Fatalf("expected collapsed bounds, got %q", got)
	}
	if got := RangeText(0, 90, "minutes"); got != "90 minutes" {
		t.Fatalf("expected zero min to inherit max, got %q", got)
	}
	if got := RangeText(0, 0, "players"); got != "" {
		t.Fatalf("expected empty text for unset range, got %q", got)
	}
}

func TestTruncateText(t *testing.T) {
	if got := TruncateText("short", 500); got != "short" {
		t.Fatalf("short input must pass through, got %q", got)
	}
	if got := TruncateText("abc", 0); got != "" {
		t.Fatalf("zero cap must yield empty, got %q", got)
	}

	// 300 two-byte runes; an odd byte cap lands mid-rune and must back up.
	long := strings.Repeat("é", 300)
	got := TruncateText(long, 499)
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got[len(got)-4:])
	}
	if len(got) != 498 {
		t.Fatalf("expected cut at the previous rune boundary (498 bytes), got %d", len(got))
	}
}

func TestComplexityLabel(t *testing.T) {
	cases := []struct {
		weight float64
		want   string
	}{
		{0, ""},
		{1.2, "Light"},
		{2.0, "Light"},
		{2.5, "Medium-Light"},
		{3.5, "Medium"},
		{4.3, "Medium-Heavy"},
		{4.8, "Heavy"},
	}
	for _, tc := range cases {
		if got := ComplexityLabel(tc.weight); got != tc.want {
			t.Fatalf("ComplexityLabel(%v) = %q, want %q", tc.weight, got, tc.want)
		}
	}
}
