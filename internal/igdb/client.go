package igdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL           = "https://api.igdb.com/v4"
	DefaultTokenURL          = "https://id.twitch.tv/oauth2/token"
	DefaultRequestsPerSecond = 4.0

	endpointGames     = "games"
	endpointPlatforms = "platforms"

	maxErrorBody = 512
)

var (
	// ErrUpstream marks every failure to obtain a usable answer from IGDB. Callers never retry.
	ErrUpstream = errors.New("igdb: upstream request failed")
	// ErrGameNotFound indicates that IGDB has no game with the requested id.
	ErrGameNotFound = errors.New("igdb: game not found")

	errMissingClientID     = errors.New("client id is required")
	errMissingClientSecret = errors.New("client secret is required")
	noOpLogger             = zap.NewNop()
)

// Config describes how to reach IGDB. HTTPClient is used for token and API calls alike.
type Config struct {
	ClientID          string
	ClientSecret      string
	BaseURL           string
	TokenURL          string
	RequestsPerSecond float64
	HTTPClient        *http.Client
	Timeout           time.Duration
	Logger            *zap.Logger
}

// Client issues Apicalypse queries against IGDB with a Twitch app access token.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a client whose token is fetched lazily and refreshed on expiry.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, errMissingClientID
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errMissingClientSecret
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	perSecond := cfg.RequestsPerSecond
	if perSecond <= 0 {
		perSecond = DefaultRequestsPerSecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	base := cfg.HTTPClient
	if base == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		base = &http.Client{Timeout: timeout}
	}

	credentials := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     tokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	tokenContext := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	return &Client{
		baseURL:    baseURL,
		clientID:   cfg.ClientID,
		httpClient: credentials.Client(tokenContext),
		limiter:    rate.NewLimiter(rate.Limit(perSecond), 1),
		logger:     logger,
	}, nil
}

// SearchGames runs a full text search restricted to main games.
func (c *Client) SearchGames(ctx context.Context, search string, offset, limit int) ([]Game, error) {
	query := fmt.Sprintf(
		`search "%s"; fields name, cover.url, platforms.name; where category = 0; offset %d; limit %d;`,
		escape(search), offset, limit,
	)
	var games []Game
	if err := c.query(ctx, endpointGames, query, &games); err != nil {
		return nil, err
	}
	return games, nil
}

// Game fetches the display fields of one game.
func (c *Client) Game(ctx context.Context, id int) (Game, error) {
	query := fmt.Sprintf(
		"fields name, url, cover.url, summary, platforms.name, involved_companies.company.name, "+
			"involved_companies.developer, involved_companies.publisher; where id = %d;",
		id,
	)
	var games []Game
	if err := c.query(ctx, endpointGames, query, &games); err != nil {
		return Game{}, err
	}
	if len(games) == 0 {
		return Game{}, ErrGameNotFound
	}
	return games[0], nil
}

// Platforms lists every platform IGDB knows about.
func (c *Client) Platforms(ctx context.Context) ([]Platform, error) {
	var platforms []Platform
	if err := c.query(ctx, endpointPlatforms, "fields name; limit 500;", &platforms); err != nil {
		return nil, err
	}
	return platforms, nil
}

func (c *Client) query(ctx context.Context, endpoint, body string, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build %s request: %v", ErrUpstream, endpoint, err)
	}
	request.Header.Set("Client-ID", c.clientID)
	request.Header.Set("Accept", "application/json")
	request.Header.Set("Content-Type", "text/plain")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Error("igdb request failed", zap.String("endpoint", endpoint), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", ErrUpstream, endpoint, err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBody))
		c.logger.Error("igdb request rejected",
			zap.String("endpoint", endpoint),
			zap.Int("status", response.StatusCode),
			zap.ByteString("body", detail))
		return fmt.Errorf("%w: %s returned status %d", ErrUpstream, endpoint, response.StatusCode)
	}

	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrUpstream, endpoint, err)
	}
	return nil
}

func escape(search string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(search)
}
