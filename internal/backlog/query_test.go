package backlog

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

func newTestQueryEngine(t *testing.T, repository *Repository) *QueryEngine {
	t.Helper()
	engine, err := NewQueryEngine(QueryEngineConfig{Repository: repository})
	if err != nil {
		t.Fatalf("failed to construct query engine: %v", err)
	}
	return engine
}

func TestQueryDefaultSurfacesNowPlayingFirst(t *testing.T) {
	repository := newTestRepository(t)
	seedEntries(t, repository, "user-1",
		seedEntry{name: "Chrono Trigger"},
		seedEntry{name: "Tetris"},
		seedEntry{name: "Halo", nowPlaying: true},
	)
	seedEntries(t, repository, "user-2", seedEntry{name: "Other User Game", nowPlaying: true})

	page, err := newTestQueryEngine(t, repository).Query(context.Background(), "user-1", QueryParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := entryNames(page.Entries); !reflect.DeepEqual(got, []string{"Halo", "Chrono Trigger", "Tetris"}) {
		t.Fatalf("unexpected order: %v", got)
	}
	if page.NumNowPlaying != 1 {
		t.Fatalf("expected one Now Playing entry, got %d", page.NumNowPlaying)
	}
	if !page.Partitioned {
		t.Fatalf("expected the first default page to be partitioned")
	}
	if got := entryNames(page.NowPlaying); !reflect.DeepEqual(got, []string{"Halo"}) {
		t.Fatalf("unexpected now playing group: %v", got)
	}
	if got := entryNames(page.Remaining); !reflect.DeepEqual(got, []string{"Chrono Trigger", "Tetris"}) {
		t.Fatalf("unexpected remaining group: %v", got)
	}
	if page.CurrentPage != 1 || page.LastPage != 1 || !reflect.DeepEqual(page.PageRange, []int{1}) {
		t.Fatalf("unexpected pagination: current=%d last=%d range=%v", page.CurrentPage, page.LastPage, page.PageRange)
	}
	if page.IsFiltering || page.IsSearching {
		t.Fatalf("expected neither filtering nor searching")
	}
}

func TestQueryAlphabeticIgnoresInsertionOrder(t *testing.T) {
	repository := newTestRepository(t)
	seedEntries(t, repository, "user-1",
		seedEntry{name: "tetris"},
		seedEntry{name: "Halo", nowPlaying: true},
		seedEntry{name: "Chrono Trigger"},
		seedEntry{name: "Bloodborne"},
	)

	page, err := newTestQueryEngine(t, repository).Query(context.Background(), "user-1", QueryParams{SortOption: SortAlphabetic})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := entryNames(page.Entries); !reflect.DeepEqual(got, []string{"Bloodborne", "Chrono Trigger", "Halo", "tetris"}) {
		t.Fatalf("unexpected alphabetic order: %v", got)
	}
	if !page.IsFiltering || page.FilterLabel != "A-Z" {
		t.Fatalf("expected A-Z filter, got filtering=%v label=%q", page.IsFiltering, page.FilterLabel)
	}
	if page.Partitioned {
		t.Fatalf("filtered views are never partitioned")
	}
}

func TestQueryDateOrderingsAreReversed(t *testing.T) {
	repository := newTestRepository(t)
	day := func(d int) time.Time { return time.Date(2024, time.February, d, 0, 0, 0, 0, time.UTC) }
	seedEntries(t, repository, "user-1",
		seedEntry{name: "Second", added: day(2)},
		seedEntry{name: "First", added: day(1)},
		seedEntry{name: "Third A", added: day(3)},
		seedEntry{name: "Third B", added: day(3)},
	)
	engine := newTestQueryEngine(t, repository)

	newest, err := engine.Query(context.Background(), "user-1", QueryParams{SortOption: SortDateNewest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	oldest, err := engine.Query(context.Background(), "user-1", QueryParams{SortOption: SortDateOldest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	newestNames := entryNames(newest.Entries)
	oldestNames := entryNames(oldest.Entries)
	if !reflect.DeepEqual(oldestNames, []string{"First", "Second", "Third A", "Third B"}) {
		t.Fatalf("unexpected oldest order: %v", oldestNames)
	}
	for index := range oldestNames {
		if oldestNames[index] != newestNames[len(newestNames)-1-index] {
			t.Fatalf("orderings are not reversed: oldest=%v newest=%v", oldestNames, newestNames)
		}
	}
	if newest.FilterLabel != "Date Added (Newest)" || oldest.FilterLabel != "Date Added (Oldest)" {
		t.Fatalf("unexpected labels %q / %q", newest.FilterLabel, oldest.FilterLabel)
	}
}

func TestQueryPlatformFilter(t *testing.T) {
	repository := newTestRepository(t)
	seedEntries(t, repository, "user-1",
		seedEntry{name: "Wipeout", platformID: 7, platform: "PlayStation"},
		seedEntry{name: "Halo", platformID: 11, platform: "Xbox"},
		seedEntry{name: "Ape Escape", platformID: 7, platform: "PlayStation"},
		seedEntry{name: "Endless", platformID: 99, platform: "An Extremely Long Platform Name Indeed"},
	)
	engine := newTestQueryEngine(t, repository)

	page, err := engine.Query(context.Background(), "user-1", QueryParams{SortOption: "7"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := entryNames(page.Entries); !reflect.DeepEqual(got, []string{"Ape Escape", "Wipeout"}) {
		t.Fatalf("unexpected platform filter result: %v", got)
	}
	if page.FilterLabel != "PlayStation" {
		t.Fatalf("unexpected label %q", page.FilterLabel)
	}
	if len(page.UserPlatforms) != 3 {
		t.Fatalf("expected 3 distinct user platforms, got %v", page.UserPlatforms)
	}

	long, err := engine.Query(context.Background(), "user-1", QueryParams{SortOption: "99"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if long.FilterLabel != "An Extremely Long Platf..." {
		t.Fatalf("unexpected truncated label %q", long.FilterLabel)
	}
}

func TestQueryUnknownSortOptionReportsFieldError(t *testing.T) {
	repository := newTestRepository(t)
	seedEntries(t, repository, "user-1",
		seedEntry{name: "Tetris"},
		seedEntry{name: "Halo", nowPlaying: true},
	)

	page, err := newTestQueryEngine(t, repository).Query(context.Background(), "user-1", QueryParams{SortOption: "12345"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.IsFiltering {
		t.Fatalf("expected invalid filter to be ignored")
	}
	if page.FieldErrors["sort_option"] == "" {
		t.Fatalf("expected sort_option field error, got %v", page.FieldErrors)
	}
	if got := entryNames(page.Entries); !reflect.DeepEqual(got, []string{"Halo", "Tetris"}) {
		t.Fatalf("expected default ordering, got %v", got)
	}
}

func TestQuerySearchMatchesAcrossNonWordCharacters(t *testing.T) {
	repository := newTestRepository(t)
	seedEntries(t, repository, "user-1",
		seedEntry{name: "Zelda: Breath of the Wild"},
		seedEntry{name: "Tetris"},
		seedEntry{name: "z-e-l-d-a"},
		seedEntry{name: "Zeldo"},
	)

	page, err := newTestQueryEngine(t, repository).Query(context.Background(), "user-1", QueryParams{Search: "zelda", SortOption: SortDateNewest})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := entryNames(page.Entries); !reflect.DeepEqual(got, []string{"z-e-l-d-a", "Zelda: Breath of the Wild"}) {
		t.Fatalf("unexpected search result: %v", got)
	}
	if !page.IsSearching || !page.IsFiltering {
		t.Fatalf("expected both searching and filtering flags")
	}
	if page.SearchQuery != "zelda" {
		t.Fatalf("unexpected search query %q", page.SearchQuery)
	}
}

func TestQuerySearchForExactNameReturnsTheEntry(t *testing.T) {
	repository := newTestRepository(t)
	seedEntries(t, repository, "user-1",
		seedEntry{name: "Hades"},
		seedEntry{name: "Halo"},
		seedEntry{name: "Celeste"},
	)

	page, err := newTestQueryEngine(t, repository).Query(context.Background(), "user-1", QueryParams{Search: "Celeste"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := entryNames(page.Entries); !reflect.DeepEqual(got, []string{"Celeste"}) {
		t.Fatalf("expected exactly the matching entry, got %v", got)
	}
}

func TestQuerySearchTreatsMetacharactersLiterally(t *testing.T) {
	if !SearchPattern("c++").MatchString("C++ Primer Game") {
		t.Fatalf("expected literal match")
	}
	if SearchPattern("a.c").MatchString("abc") {
		t.Fatalf("dot must not match arbitrary characters")
	}
}

func TestQuerySearchTreatsNonASCIILettersAsWordCharacters(t *testing.T) {
	if SearchPattern("ab").MatchString("aéb") {
		t.Fatalf("accented letters must not act as separators")
	}
	if !SearchPattern("pokémon").MatchString("POKÉMON Red") {
		t.Fatalf("expected case-insensitive match on accented name")
	}
	if !SearchPattern("ff7").MatchString("Final Fantasy ... F-F 7") {
		t.Fatalf("expected punctuation to be skipped between characters")
	}
}

func TestQueryPagination(t *testing.T) {
	repository := newTestRepository(t)
	seeds := make([]seedEntry, 0, PageSize+1)
	for index := 0; index < PageSize+1; index++ {
		seeds = append(seeds, seedEntry{name: fmt.Sprintf("Game %02d", index)})
	}
	seedEntries(t, repository, "user-1", seeds...)
	engine := newTestQueryEngine(t, repository)

	last, err := engine.Query(context.Background(), "user-1", QueryParams{Page: LastPageToken})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if last.CurrentPage != 2 || last.LastPage != 2 || len(last.Entries) != 1 {
		t.Fatalf("unexpected last page: current=%d last=%d entries=%d", last.CurrentPage, last.LastPage, len(last.Entries))
	}
	if last.Partitioned || len(last.NowPlaying) != 0 || len(last.Remaining) != 1 {
		t.Fatalf("later pages must not be partitioned")
	}

	first, err := engine.Query(context.Background(), "user-1", QueryParams{Page: "1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Entries) != PageSize {
		t.Fatalf("expected a full first page, got %d", len(first.Entries))
	}

	for _, raw := range []string{"3", "0", "abc"} {
		_, err := engine.Query(context.Background(), "user-1", QueryParams{Page: raw})
		if !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected not found for page %q, got %v", raw, err)
		}
	}
}

func TestQueryEmptyBacklogHasOnePage(t *testing.T) {
	page, err := newTestQueryEngine(t, newTestRepository(t)).Query(context.Background(), "user-1", QueryParams{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if page.CurrentPage != 1 || page.LastPage != 1 || len(page.Entries) != 0 {
		t.Fatalf("unexpected empty page: %+v", page)
	}
}

func TestQueryRequiresUser(t *testing.T) {
	_, err := newTestQueryEngine(t, newTestRepository(t)).Query(context.Background(), "", QueryParams{})
	var serviceErr *ServiceError
	if !errors.As(err, &serviceErr) || serviceErr.Code() != "backlog.query.missing_user_id" {
		t.Fatalf("unexpected error: %v", err)
	}
}
