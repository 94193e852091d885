package geolocation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the ipwhois endpoint root.
const DefaultBaseURL = "http://ipwhois.app"

var (
	// ErrUpstream marks a failed or unusable geolocation lookup.
	ErrUpstream = errors.New("geolocation: upstream request failed")

	errMissingIP = errors.New("client ip is required")
	noOpLogger   = zap.NewNop()
)

type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client resolves client IP addresses to IANA time zone names.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

type lookupResponse struct {
	Success  *bool  `json:"success"`
	Message  string `json:"message"`
	Timezone string `json:"timezone"`
}

func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

// Timezone looks up the time zone of ip.
func (c *Client) Timezone(ctx context.Context, ip string) (string, error) {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return "", fmt.Errorf("%w: %v", ErrUpstream, errMissingIP)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/json/"+url.PathEscape(ip), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		c.logger.Error("geolocation request failed", zap.String("ip", ip), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		c.logger.Error("geolocation request rejected", zap.String("ip", ip), zap.Int("status", response.StatusCode))
		return "", fmt.Errorf("%w: status %d", ErrUpstream, response.StatusCode)
	}

	var payload lookupResponse
	if err := json.NewDecoder(response.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if payload.Success != nil && !*payload.Success {
		return "", fmt.Errorf("%w: %s", ErrUpstream, payload.Message)
	}
	if payload.Timezone == "" {
		return "", fmt.Errorf("%w: response has no timezone", ErrUpstream)
	}
	return payload.Timezone, nil
}
