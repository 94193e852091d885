package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	envPrefix                 = "BACKLOGGED"
	defaultHTTPAddress        = "0.0.0.0:8080"
	defaultDatabaseDriver     = DriverSQLite
	defaultDatabasePath       = "backlogged.db"
	defaultLogLevel           = "info"
	defaultCookieName         = "app_session"
	defaultIGDBBaseURL        = "https://api.igdb.com/v4"
	defaultIGDBTokenURL       = "https://id.twitch.tv/oauth2/token"
	defaultIGDBRequestsPerSec = 4.0
	defaultGeolocationBaseURL = "http://ipwhois.app"
	defaultNowPlayingLimit    = 10

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress        string
	DatabaseDriver     string
	DatabasePath       string
	DatabaseDSN        string
	LogLevel           string
	AuthSigningSecret  string
	AuthIssuer         string
	AuthCookieName     string
	IGDB               IGDBConfig
	GeolocationBaseURL string
	NowPlayingLimit    int
	AllowedOrigins     []string
}

// IGDBConfig holds the Twitch application credentials used against IGDB.
type IGDBConfig struct {
	ClientID          string
	ClientSecret      string
	BaseURL           string
	TokenURL          string
	RequestsPerSecond float64
}

// LoadDotEnv reads .env style files into the process environment without overriding variables
// that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.cookie_name", defaultCookieName)
	configViper.SetDefault("igdb.base_url", defaultIGDBBaseURL)
	configViper.SetDefault("igdb.token_url", defaultIGDBTokenURL)
	configViper.SetDefault("igdb.requests_per_second", defaultIGDBRequestsPerSec)
	configViper.SetDefault("geolocation.base_url", defaultGeolocationBaseURL)
	configViper.SetDefault("backlog.now_playing_limit", defaultNowPlayingLimit)
	configViper.SetDefault("cors.allowed_origins", []string{})
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabaseDriver:    strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:      configViper.GetString("database.path"),
		DatabaseDSN:       configViper.GetString("database.dsn"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		AuthIssuer:        configViper.GetString("auth.issuer"),
		AuthCookieName:    configViper.GetString("auth.cookie_name"),
		IGDB: IGDBConfig{
			ClientID:          configViper.GetString("igdb.client_id"),
			ClientSecret:      configViper.GetString("igdb.client_secret"),
			BaseURL:           configViper.GetString("igdb.base_url"),
			TokenURL:          configViper.GetString("igdb.token_url"),
			RequestsPerSecond: configViper.GetFloat64("igdb.requests_per_second"),
		},
		GeolocationBaseURL: configViper.GetString("geolocation.base_url"),
		NowPlayingLimit:    configViper.GetInt("backlog.now_playing_limit"),
		AllowedOrigins:     splitOrigins(configViper.GetStringSlice("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.AuthCookieName) == "" {
		return fmt.Errorf("auth.cookie_name is required")
	}
	switch c.DatabaseDriver {
	case DriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DriverPostgres:
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	if strings.TrimSpace(c.IGDB.ClientID) == "" {
		return fmt.Errorf("igdb.client_id is required")
	}
	if strings.TrimSpace(c.IGDB.ClientSecret) == "" {
		return fmt.Errorf("igdb.client_secret is required")
	}
	if c.NowPlayingLimit <= 0 {
		return fmt.Errorf("backlog.now_playing_limit must be positive")
	}
	return nil
}

// splitOrigins accepts both list values and a single comma separated env value.
func splitOrigins(values []string) []string {
	origins := make([]string, 0, len(values))
	for _, value := range values {
		for _, origin := range strings.Split(value, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				origins = append(origins, origin)
			}
		}
	}
	return origins
}
