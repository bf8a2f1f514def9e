package domain

// MediaCategory identifies which kind of media a provider serves.
// Every provider belongs to exactly one category; a search request may
// target one category or all of them.
type MediaCategory string

const (
	CategoryBoardGame MediaCategory = "boardgame"
	CategoryVideoGame MediaCategory = "videogame"
	CategoryMovie     MediaCategory = "movie"
	CategoryBook      MediaCategory = "book"
	CategoryMusic     MediaCategory = "music"
	CategoryAny       MediaCategory = ""
)

func NormalizeCategory(raw string) MediaCategory {
	switch MediaCategory(raw) {
	case CategoryBoardGame:
		return CategoryBoardGame
	case CategoryVideoGame:
		return CategoryVideoGame
	case CategoryMovie:
		return CategoryMovie
	case CategoryBook:
		return CategoryBook
	case CategoryMusic:
		return CategoryMusic
	default:
		return CategoryAny
	}
}

type SearchSortBy string

const (
	SearchSortByRelevance SearchSortBy = "relevance"
	SearchSortByRating    SearchSortBy = "rating"
	SearchSortByRank      SearchSortBy = "rank"
	SearchSortByRecency   SearchSortBy = "recency"
)

func NormalizeSortBy(raw string) SearchSortBy {
	switch SearchSortBy(raw) {
	case SearchSortByRating:
		return SearchSortByRating
	case SearchSortByRank:
		return SearchSortByRank
	case SearchSortByRecency:
		return SearchSortByRecency
	default:
		return SearchSortByRelevance
	}
}

type SearchRequest struct {
	Query    string
	Category MediaCategory
	Limit    int
	Offset   int
	SortBy   SearchSortBy
	Filters  SearchFilters
	Exact    bool
	NoCache  bool
}

// SearchFilters combine with logical AND; zero values impose no restriction.
type SearchFilters struct {
	MinPlayers      int     `json:"minPlayers,omitempty"`
	MaxPlayers      int     `json:"maxPlayers,omitempty"`
	MinPlayTime     int     `json:"minPlayTime,omitempty"`
	MaxPlayTime     int     `json:"maxPlayTime,omitempty"`
	MinAge          int     `json:"minAge,omitempty"`
	YearFrom        int     `json:"yearFrom,omitempty"`
	YearTo          int     `json:"yearTo,omitempty"`
	MinRating       float64 `json:"minRating,omitempty"`
	Complexity      string  `json:"complexity,omitempty"`
	Genre           string  `json:"genre,omitempty"`
	MaxPrice        float64 `json:"maxPrice,omitempty"`
	ExcludeExplicit bool    `json:"excludeExplicit,omitempty"`
}

// NamedRef is a provider-assigned {id, name} pair used for list-valued
// metadata such as designers, mechanics, or genres.
type NamedRef struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

type BoardGameDetails struct {
	MinPlayers      int        `json:"minPlayers,omitempty"`
	MaxPlayers      int        `json:"maxPlayers,omitempty"`
	PlayerCountText string     `json:"playerCountText,omitempty"`
	MinPlayTime     int        `json:"minPlayTime,omitempty"`
	MaxPlayTime     int        `json:"maxPlayTime,omitempty"`
	PlayTimeText    string     `json:"playTimeText,omitempty"`
	MinAge          int        `json:"minAge,omitempty"`
	Weight          float64    `json:"weight,omitempty"`
	Complexity      string     `json:"complexity,omitempty"`
	OwnedCount      int        `json:"ownedCount,omitempty"`
	Description     string     `json:"description,omitempty"`
	Designers       []NamedRef `json:"designers,omitempty"`
	Artists         []NamedRef `json:"artists,omitempty"`
	Publishers      []NamedRef `json:"publishers,omitempty"`
	Categories      []NamedRef `json:"categories,omitempty"`
	Mechanics       []NamedRef `json:"mechanics,omitempty"`
	Families        []NamedRef `json:"families,omitempty"`
}

type MovieDetails struct {
	Overview   string  `json:"overview,omitempty"`
	Popularity float64 `json:"popularity,omitempty"`
	MediaType  string  `json:"mediaType,omitempty"`
}

type GameDetails struct {
	Platforms  []NamedRef `json:"platforms,omitempty"`
	Genres     []NamedRef `json:"genres,omitempty"`
	Metacritic int        `json:"metacritic,omitempty"`
	Released   string     `json:"released,omitempty"`
}

type BookDetails struct {
	Authors     []string `json:"authors,omitempty"`
	Publisher   string   `json:"publisher,omitempty"`
	PageCount   int      `json:"pageCount,omitempty"`
	Description string   `json:"description,omitempty"`
}

type MusicDetails struct {
	Artist     string  `json:"artist,omitempty"`
	Album      string  `json:"album,omitempty"`
	Price      float64 `json:"price,omitempty"`
	Explicit   bool    `json:"explicit,omitempty"`
	PreviewURL string  `json:"previewUrl,omitempty"`
	Genre      string  `json:"genre,omitempty"`
}

// SearchResult is the canonical cross-provider result shape. ID is opaque and
// unique only within a single Source; the same title from two providers is two
// distinct results unless explicitly deduplicated. Rating is normalized to the
// 0-5 scale; nil means the provider reported no rating, which is not the same
// as a rating of zero.
type SearchResult struct {
	ID           string            `json:"id"`
	Source       string            `json:"source"`
	Category     MediaCategory     `json:"category"`
	Title        string            `json:"title"`
	Year         int               `json:"year,omitempty"`
	Image        string            `json:"image,omitempty"`
	Rating       *float64          `json:"rating,omitempty"`
	RatingsCount int               `json:"ratingsCount,omitempty"`
	Rank         int               `json:"rank,omitempty"`
	BoardGame    *BoardGameDetails `json:"boardGame,omitempty"`
	Movie        *MovieDetails     `json:"movie,omitempty"`
	Game         *GameDetails      `json:"game,omitempty"`
	Book         *BookDetails      `json:"book,omitempty"`
	Music        *MusicDetails     `json:"music,omitempty"`
}

// RatingValue returns the normalized rating and whether one is present.
func (r SearchResult) RatingValue() (float64, bool) {
	if r.Rating == nil {
		return 0, false
	}
	return *r.Rating, true
}

type ProviderInfo struct {
	Name     string        `json:"name"`
	Label    string        `json:"label"`
	Category MediaCategory `json:"category"`
	Enabled  bool          `json:"enabled"`
}

// ProviderStatus records how a single provider fared during one search call,
// so callers can tell "empty but healthy" apart from "provider is down".
type ProviderStatus struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Count int    `json:"count"`
	Error string `json:"error,omitempty"`
}

type ProviderDiagnostics struct {
	Name                string        `json:"name"`
	Label               string        `json:"label"`
	Category            MediaCategory `json:"category"`
	Enabled             bool          `json:"enabled"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	BlockedUntil        *string       `json:"blockedUntil,omitempty"`
	LastError           string        `json:"lastError,omitempty"`
	LastLatencyMS       int64         `json:"lastLatencyMs,omitempty"`
	LastQuery           string        `json:"lastQuery,omitempty"`
	TotalRequests       int64         `json:"totalRequests,omitempty"`
	TotalFailures       int64         `json:"totalFailures,omitempty"`
	TimeoutCount        int64         `json:"timeoutCount,omitempty"`
}

type SearchResponse struct {
	Query      string           `json:"query"`
	Category   MediaCategory    `json:"category,omitempty"`
	Items      []SearchResult   `json:"items"`
	Providers  []ProviderStatus `json:"providers"`
	ElapsedMS  int64            `json:"elapsedMs"`
	TotalItems int              `json:"totalItems"`
	Limit      int              `json:"limit"`
	Offset     int              `json:"offset"`
	HasMore    bool             `json:"hasMore"`
	SortBy     SearchSortBy     `json:"sortBy"`
	Final      bool             `json:"final"`
}

// TrailerResult is the always-non-nil outcome of a trailer lookup. URL is
// either a direct watch URL or, as the last resort, a search-results URL.
type TrailerResult struct {
	Title    string `json:"title"`
	URL      string `json:"url"`
	VideoID  string `json:"videoId,omitempty"`
	Source   string `json:"source"`
	Verified bool   `json:"verified"`
	Direct   bool   `json:"direct"`
}

// RatingScaleMax is the upper bound of the canonical rating scale. Providers
// report ratings on different scales; normalization rescales linearly into
// [0, RatingScaleMax] and clamps out-of-range input.
const RatingScaleMax = 5.0
