package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/backlogged/backlogged/internal/backlog"
	"github.com/backlogged/backlogged/internal/igdb"
	"github.com/backlogged/backlogged/internal/platforms"
	"github.com/backlogged/backlogged/internal/summary"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// SearchPageSize is the number of upstream results requested per search page.
const SearchPageSize = 50

var (
	errMissingGames      = errors.New("catalog: game source is required")
	errMissingRepository = errors.New("catalog: repository is required")
	noOpLogger           = zap.NewNop()
)

// Games is the metadata source the catalog reads from.
type Games interface {
	SearchGames(ctx context.Context, search string, offset, limit int) ([]igdb.Game, error)
	Game(ctx context.Context, id int) (igdb.Game, error)
	Platforms(ctx context.Context) ([]igdb.Platform, error)
}

type Config struct {
	Games      Games
	Repository *backlog.Repository
	Logger     *zap.Logger
}

// Service assembles display records from the metadata source and the user's backlog.
type Service struct {
	games      Games
	repository *backlog.Repository
	logger     *zap.Logger
}

type SearchResult struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	CoverURL string `json:"cover_url"`
	StatusID int    `json:"status_id,omitempty"`
}

type SearchResults struct {
	Query          string         `json:"query"`
	Page           int            `json:"page"`
	Results        []SearchResult `json:"results"`
	NextPageExists bool           `json:"next_page_exists"`
	SingleMatch    *SearchResult  `json:"single_match,omitempty"`
}

type GameInfo struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	URL               string                `json:"url,omitempty"`
	CoverURL          string                `json:"cover_url"`
	Platforms         []platforms.Canonical `json:"platforms"`
	InvolvedCompanies string                `json:"involved_companies"`
	IsCustom          bool                  `json:"is_custom"`
	AddString         string                `json:"add_str,omitempty"`
	Summary           summary.Result        `json:"summary"`
	StatusID          int                   `json:"status_id,omitempty"`
	Entry             *backlog.Entry        `json:"entry,omitempty"`
	MultiplePlatforms bool                  `json:"multiple_platforms_exist"`
}

type CustomPreview struct {
	GameName          string              `json:"game_name"`
	Platform          platforms.Canonical `json:"platform"`
	InvolvedCompanies string              `json:"involved_companies"`
	NowPlaying        bool                `json:"now_playing"`
	HasCover          bool                `json:"has_cover"`
	AddString         string              `json:"add_str"`
	Summary           summary.Result      `json:"summary"`
}

func NewService(cfg Config) (*Service, error) {
	if cfg.Games == nil {
		return nil, errMissingGames
	}
	if cfg.Repository == nil {
		return nil, errMissingRepository
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{games: cfg.Games, repository: cfg.Repository, logger: logger}, nil
}

// Search fetches one page of upstream results together with the following page, which only
// decides whether a next page exists. Results without a cover or platforms are dropped.
func (s *Service) Search(ctx context.Context, userID, query string, page int) (SearchResults, error) {
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * SearchPageSize

	var current, next []igdb.Game
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		games, err := s.games.SearchGames(groupCtx, query, offset, SearchPageSize)
		current = games
		return err
	})
	group.Go(func() error {
		games, err := s.games.SearchGames(groupCtx, query, offset+SearchPageSize, SearchPageSize)
		next = games
		return err
	})
	if err := group.Wait(); err != nil {
		s.logger.Error("catalog search failed", zap.String("query", query), zap.Int("page", page), zap.Error(err))
		return SearchResults{}, err
	}

	results := displayable(current)
	gameIDs := make([]string, 0, len(results))
	for _, result := range results {
		gameIDs = append(gameIDs, strconv.Itoa(result.ID))
	}
	statuses, err := s.repository.StatusesByGame(ctx, userID, gameIDs)
	if err != nil {
		return SearchResults{}, fmt.Errorf("catalog: backlog statuses: %w", err)
	}
	for index := range results {
		results[index].StatusID = statuses[strconv.Itoa(results[index].ID)]
	}

	searchResults := SearchResults{
		Query:          query,
		Page:           page,
		Results:        results,
		NextPageExists: len(displayable(next)) > 0,
	}
	if page == 1 && len(results) == 1 {
		searchResults.SingleMatch = &results[0]
	}
	return searchResults, nil
}

// GameInfo builds the game page. Numeric ids are read from the metadata source and custom ids
// from the user's own backlog.
func (s *Service) GameInfo(ctx context.Context, userID, gameID string) (GameInfo, error) {
	if backlog.IsCustomGameID(gameID) {
		return s.customGameInfo(ctx, userID, gameID)
	}
	id, err := strconv.Atoi(gameID)
	if err != nil || id <= 0 {
		return GameInfo{}, fmt.Errorf("catalog: game %q: %w", gameID, backlog.ErrNotFound)
	}

	game, err := s.games.Game(ctx, id)
	if errors.Is(err, igdb.ErrGameNotFound) {
		return GameInfo{}, fmt.Errorf("catalog: game %d: %w", id, backlog.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("catalog game lookup failed", zap.Int("game_id", id), zap.Error(err))
		return GameInfo{}, err
	}

	gamePlatforms := platforms.Normalize(rawPlatforms(game.Platforms))
	info := GameInfo{
		ID:                strconv.Itoa(game.ID),
		Name:              game.Name,
		URL:               game.URL,
		CoverURL:          game.CoverURL(),
		Platforms:         gamePlatforms,
		InvolvedCompanies: Companies(game.InvolvedCompanies),
		MultiplePlatforms: len(gamePlatforms) > 1,
	}
	info.Summary = summary.Format(game.Summary, summary.Siblings{
		Name:              info.Name,
		InvolvedCompanies: info.InvolvedCompanies,
		Extra:             platforms.Names(gamePlatforms),
	})

	entry, err := s.repository.FindByGame(ctx, userID, info.ID)
	switch {
	case err == nil:
		info.Entry = &entry
		info.StatusID = entry.StatusID
	case !errors.Is(err, backlog.ErrNotFound):
		return GameInfo{}, fmt.Errorf("catalog: backlog entry: %w", err)
	}
	return info, nil
}

func (s *Service) customGameInfo(ctx context.Context, userID, gameID string) (GameInfo, error) {
	entry, err := s.repository.FindByGame(ctx, userID, gameID)
	if err != nil {
		return GameInfo{}, fmt.Errorf("catalog: custom game %q: %w", gameID, err)
	}
	if !entry.IsCustom {
		return GameInfo{}, fmt.Errorf("catalog: custom game %q: %w", gameID, backlog.ErrNotFound)
	}
	detail, err := s.repository.CustomDetail(ctx, userID, entry.EntryID)
	if err != nil && !errors.Is(err, backlog.ErrNotFound) {
		return GameInfo{}, fmt.Errorf("catalog: custom detail: %w", err)
	}

	info := GameInfo{
		ID:                entry.GameID,
		Name:              entry.GameName,
		CoverURL:          entry.CoverURL,
		Platforms:         []platforms.Canonical{{PlatformID: entry.PlatformID, PlatformName: entry.PlatformName}},
		InvolvedCompanies: detail.InvolvedCompanies,
		IsCustom:          true,
		AddString:         fmt.Sprintf("this game is already in your %s for %s.", entry.StatusName, entry.PlatformName),
		StatusID:          entry.StatusID,
		Entry:             &entry,
	}
	info.Summary = summary.Format(detail.Summary, summary.Siblings{
		Name:              info.Name,
		InvolvedCompanies: info.InvolvedCompanies,
		Extra:             []string{info.AddString},
	})
	return info, nil
}

// Platforms lists every upstream platform, normalized.
func (s *Service) Platforms(ctx context.Context) ([]platforms.Canonical, error) {
	upstream, err := s.games.Platforms(ctx)
	if err != nil {
		s.logger.Error("catalog platform lookup failed", zap.Error(err))
		return nil, err
	}
	return platforms.Normalize(rawPlatforms(upstream)), nil
}

// CustomPreview renders a validated custom game the way its game page will look.
func (s *Service) CustomPreview(game backlog.ValidCustomGame) CustomPreview {
	_, statusName := backlog.StatusFor(game.NowPlaying)
	preview := CustomPreview{
		GameName:          game.GameName,
		Platform:          game.Platform,
		InvolvedCompanies: game.InvolvedCompanies,
		NowPlaying:        game.NowPlaying,
		HasCover:          len(game.Cover) > 0,
		AddString:         fmt.Sprintf("add this game to your %s for %s?", statusName, game.Platform.PlatformName),
	}
	preview.Summary = summary.Format(game.Summary, summary.Siblings{
		Name:              preview.GameName,
		InvolvedCompanies: preview.InvolvedCompanies,
		Extra:             []string{preview.AddString},
	})
	return preview
}

// Companies joins the distinct developers and publishers of a game.
func Companies(involved []igdb.InvolvedCompany) string {
	seen := make(map[string]struct{}, len(involved))
	names := make([]string, 0, len(involved))
	for _, company := range involved {
		if !company.Developer && !company.Publisher {
			continue
		}
		name := strings.TrimSpace(company.Company.Name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func displayable(games []igdb.Game) []SearchResult {
	results := make([]SearchResult, 0, len(games))
	for _, game := range games {
		if !game.HasCover() || len(game.Platforms) == 0 {
			continue
		}
		results = append(results, SearchResult{ID: game.ID, Name: game.Name, CoverURL: game.CoverURL()})
	}
	return results
}

func rawPlatforms(upstream []igdb.Platform) []platforms.Raw {
	raw := make([]platforms.Raw, 0, len(upstream))
	for _, platform := range upstream {
		raw = append(raw, platforms.Raw{ID: platform.ID, Name: platform.Name})
	}
	return raw
}
