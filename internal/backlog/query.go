package backlog

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/backlogged/backlogged/internal/pagination"
	"github.com/backlogged/backlogged/internal/platforms"
	"go.uber.org/zap"
)

// PageSize is the number of entries on one backlog page.
const PageSize = 30

// Sort options with a fixed meaning. Any other numeric token filters by platform id.
const (
	SortAlphabetic = "alphabetic"
	SortDateOldest = "date_oldest"
	SortDateNewest = "date_newest"

	// LastPageToken selects the last page regardless of its number.
	LastPageToken = "last"
)

const (
	filterLabelLimit = 26
	filterLabelKeep  = 23
)

var reservedSorts = map[string]struct {
	order Order
	label string
}{
	SortAlphabetic: {order: OrderAlphabetic, label: "A-Z"},
	SortDateOldest: {order: OrderDateOldest, label: "Date Added (Oldest)"},
	SortDateNewest: {order: OrderDateNewest, label: "Date Added (Newest)"},
}

// QueryParams are the raw request parameters of the backlog view.
type QueryParams struct {
	Search     string
	SortOption string
	Page       string
}

// Page is one rendered page of a user's backlog.
type Page struct {
	Entries       []Entry               `json:"entries"`
	NowPlaying    []Entry               `json:"now_playing"`
	Remaining     []Entry               `json:"remaining"`
	Partitioned   bool                  `json:"partitioned"`
	NumNowPlaying int                   `json:"num_now_playing"`
	IsSearching   bool                  `json:"is_searching"`
	IsFiltering   bool                  `json:"is_filtering"`
	FilterLabel   string                `json:"filter_label,omitempty"`
	SearchQuery   string                `json:"search_query,omitempty"`
	SortOption    string                `json:"sort_option,omitempty"`
	UserPlatforms []platforms.Canonical `json:"user_platforms"`
	CurrentPage   int                   `json:"current_page"`
	LastPage      int                   `json:"last_page"`
	PageRange     []int                 `json:"page_range"`
	FieldErrors   map[string]string     `json:"field_errors,omitempty"`
}

// QueryEngineConfig wires a QueryEngine.
type QueryEngineConfig struct {
	Repository *Repository
	Logger     *zap.Logger
}

// QueryEngine builds filtered, sorted and paginated views of a backlog.
type QueryEngine struct {
	repository *Repository
	logger     *zap.Logger
}

// NewQueryEngine validates the configuration.
func NewQueryEngine(cfg QueryEngineConfig) (*QueryEngine, error) {
	if cfg.Repository == nil {
		return nil, newServiceError(opServiceNew, "missing_repository", errMissingRepository)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &QueryEngine{repository: cfg.Repository, logger: logger}, nil
}

// Query evaluates the sort option first and the search second. A valid search replaces the
// restriction and ordering of the filter while both flags stay visible on the page.
func (e *QueryEngine) Query(ctx context.Context, userID string, params QueryParams) (Page, error) {
	if userID == "" {
		logError(e.logger, opQuery, "missing_user_id", errMissingUserID)
		return Page{}, newServiceError(opQuery, "missing_user_id", errMissingUserID)
	}

	userPlatforms, err := e.repository.UserPlatforms(ctx, userID)
	if err != nil {
		logError(e.logger, opQuery, "platforms_query_failed", err, zap.String("user_id", userID))
		return Page{}, newServiceError(opQuery, "platforms_query_failed", err)
	}

	page := Page{
		SortOption:    strings.TrimSpace(params.SortOption),
		UserPlatforms: userPlatforms,
	}
	validation := &ValidationError{}
	options := ListOptions{UserID: userID, Order: OrderDefault}

	if page.SortOption != "" {
		if reserved, ok := reservedSorts[page.SortOption]; ok {
			options.Order = reserved.order
			page.IsFiltering = true
			page.FilterLabel = reserved.label
		} else if platform, ok := findPlatform(userPlatforms, page.SortOption); ok {
			platformID := platform.PlatformID
			options.PlatformID = &platformID
			options.Order = OrderAlphabetic
			page.IsFiltering = true
			page.FilterLabel = FilterLabel(platform.PlatformName)
		} else {
			validation.add(fieldSortOption, messageInvalidChoice)
		}
	}

	var matcher *regexp.Regexp
	search := strings.TrimSpace(params.Search)
	if search != "" {
		if len([]rune(search)) > MaxSearchLength {
			validation.add(fieldQuery, "Ensure this value has at most 1024 characters.")
		} else {
			matcher = SearchPattern(search)
			page.IsSearching = true
			page.SearchQuery = search
			options.PlatformID = nil
			options.Order = OrderAlphabetic
		}
	}

	entries, err := e.repository.List(ctx, options)
	if err != nil {
		logError(e.logger, opQuery, "list_failed", err, zap.String("user_id", userID))
		return Page{}, newServiceError(opQuery, "list_failed", err)
	}
	if matcher != nil {
		entries = filterByName(entries, matcher)
	}

	page.LastPage = pagination.PageCount(int64(len(entries)), PageSize)
	currentPage, ok := resolvePage(params.Page, page.LastPage)
	if !ok {
		return Page{}, newServiceError(opQuery, "page_not_found", ErrNotFound)
	}
	page.CurrentPage = currentPage
	page.PageRange = pagination.PageRange(currentPage, page.LastPage)

	start, end := pagination.Bounds(currentPage, PageSize, len(entries))
	page.Entries = entries[start:end]

	numNowPlaying, err := e.repository.CountNowPlaying(ctx, userID)
	if err != nil {
		logError(e.logger, opQuery, "count_failed", err, zap.String("user_id", userID))
		return Page{}, newServiceError(opQuery, "count_failed", err)
	}
	page.NumNowPlaying = numNowPlaying

	if currentPage == 1 && !page.IsFiltering && !page.IsSearching {
		split := numNowPlaying
		if split > len(page.Entries) {
			split = len(page.Entries)
		}
		page.Partitioned = true
		page.NowPlaying = page.Entries[:split]
		page.Remaining = page.Entries[split:]
	} else {
		page.NowPlaying = []Entry{}
		page.Remaining = page.Entries
	}

	if len(validation.Fields) > 0 {
		page.FieldErrors = validation.Fields
	}
	return page, nil
}

// SearchPattern matches names containing every query character in order, separated only by
// runs of non-word characters, ignoring case. Letters and digits of any script count as word
// characters.
func SearchPattern(query string) *regexp.Regexp {
	runes := []rune(query)
	parts := make([]string, 0, len(runes))
	for _, r := range runes {
		parts = append(parts, regexp.QuoteMeta(string(r)))
	}
	return regexp.MustCompile(`(?i)` + strings.Join(parts, `[^\p{L}\p{N}_]*`))
}

// FilterLabel shortens long platform names for the filter menu.
func FilterLabel(name string) string {
	runes := []rune(name)
	if len(runes) > filterLabelLimit {
		return string(runes[:filterLabelKeep]) + "..."
	}
	return name
}

func findPlatform(userPlatforms []platforms.Canonical, token string) (platforms.Canonical, bool) {
	platformID, err := strconv.Atoi(token)
	if err != nil {
		return platforms.Canonical{}, false
	}
	for _, platform := range userPlatforms {
		if platform.PlatformID == platformID {
			return platform, true
		}
	}
	return platforms.Canonical{}, false
}

func filterByName(entries []Entry, matcher *regexp.Regexp) []Entry {
	matched := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		if matcher.MatchString(entry.GameName) {
			matched = append(matched, entry)
		}
	}
	return matched
}

func resolvePage(raw string, lastPage int) (int, bool) {
	raw = strings.TrimSpace(raw)
	switch raw {
	case "":
		return 1, true
	case LastPageToken:
		return lastPage, true
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 1 || page > lastPage {
		return 0, false
	}
	return page, true
}
