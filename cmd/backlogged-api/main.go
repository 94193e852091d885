package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/backlogged/backlogged/internal/auth"
	"github.com/backlogged/backlogged/internal/backlog"
	"github.com/backlogged/backlogged/internal/catalog"
	"github.com/backlogged/backlogged/internal/config"
	"github.com/backlogged/backlogged/internal/database"
	"github.com/backlogged/backlogged/internal/geolocation"
	"github.com/backlogged/backlogged/internal/igdb"
	"github.com/backlogged/backlogged/internal/logging"
	"github.com/backlogged/backlogged/internal/server"
	"github.com/backlogged/backlogged/internal/sessions"
	"github.com/backlogged/backlogged/internal/timezones"
	"github.com/backlogged/backlogged/internal/users"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	cfgFile string
	envFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backlogged-api",
		Short: "Backlogged game backlog service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	flags := cmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Path to configuration file")
	flags.StringVar(&envFile, "env-file", ".env", "Path to a dotenv file loaded before the environment is read")
	flags.String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	flags.String("database-driver", defaults.GetString("database.driver"), "Database driver (sqlite, postgres)")
	flags.String("database-path", defaults.GetString("database.path"), "SQLite database path")
	flags.String("database-dsn", "", "PostgreSQL connection string")
	flags.String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	flags.String("signing-secret", "", "Session signing secret (overrides env)")
	flags.String("igdb-client-id", "", "Twitch application client id")
	flags.String("igdb-client-secret", "", "Twitch application client secret")
	flags.Int("now-playing-limit", defaults.GetInt("backlog.now_playing_limit"), "Maximum number of Now Playing games")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.driver", "database-driver")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "database.dsn", "database-dsn")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
	bindFlag(cmd, "igdb.client_id", "igdb-client-id")
	bindFlag(cmd, "igdb.client_secret", "igdb-client-secret")
	bindFlag(cmd, "backlog.now_playing_limit", "now-playing-limit")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if err := config.LoadDotEnv(envFile); err != nil {
		return err
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.Open(database.Config{
		Driver: appConfig.DatabaseDriver,
		Path:   appConfig.DatabasePath,
		DSN:    appConfig.DatabaseDSN,
	}, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	sessionValidator, err := auth.NewSessionValidator(auth.SessionValidatorConfig{
		SigningSecret: []byte(appConfig.AuthSigningSecret),
		Issuer:        appConfig.AuthIssuer,
		CookieName:    appConfig.AuthCookieName,
	})
	if err != nil {
		return err
	}

	userService, err := users.NewService(users.ServiceConfig{Database: db, Logger: logger})
	if err != nil {
		return err
	}

	igdbClient, err := igdb.NewClient(igdb.Config{
		ClientID:          appConfig.IGDB.ClientID,
		ClientSecret:      appConfig.IGDB.ClientSecret,
		BaseURL:           appConfig.IGDB.BaseURL,
		TokenURL:          appConfig.IGDB.TokenURL,
		RequestsPerSecond: appConfig.IGDB.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	repository, err := backlog.NewRepository(db)
	if err != nil {
		return err
	}
	stateStore, err := sessions.NewStore(sessions.Config{Database: db, Logger: logger})
	if err != nil {
		return err
	}
	queryEngine, err := backlog.NewQueryEngine(backlog.QueryEngineConfig{Repository: repository, Logger: logger})
	if err != nil {
		return err
	}
	lifecycle, err := backlog.NewLifecycle(backlog.LifecycleConfig{
		Repository:      repository,
		Flags:           stateStore,
		IDProvider:      backlog.NewCustomGameIDProvider(),
		Clock:           time.Now,
		NowPlayingLimit: appConfig.NowPlayingLimit,
		Logger:          logger,
	})
	if err != nil {
		return err
	}
	catalogService, err := catalog.NewService(catalog.Config{Games: igdbClient, Repository: repository, Logger: logger})
	if err != nil {
		return err
	}
	timezoneService, err := timezones.NewService(timezones.ServiceConfig{
		Database: db,
		Locator:  geolocation.NewClient(geolocation.Config{BaseURL: appConfig.GeolocationBaseURL, Logger: logger}),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Sessions:       sessionValidator,
		Users:          userService,
		Queries:        queryEngine,
		Lifecycle:      lifecycle,
		Catalog:        catalogService,
		Timezones:      timezoneService,
		State:          stateStore,
		AllowedOrigins: appConfig.AllowedOrigins,
		Logger:         logger,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              appConfig.HTTPAddress,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("server stopping")
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
