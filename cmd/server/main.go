package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mrbot-consultas/backend/internal/api"
	"github.com/mrbot-consultas/backend/internal/batch"
	"github.com/mrbot-consultas/backend/internal/config"
	"github.com/mrbot-consultas/backend/internal/fetch"
	"github.com/mrbot-consultas/backend/internal/mrbot"
	"github.com/mrbot-consultas/backend/internal/session"
	"github.com/mrbot-consultas/backend/internal/storage"
	"github.com/mrbot-consultas/backend/internal/web"
)

// Version info (set during build)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cfg, err := config.Load("")
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg)

	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatal().Err(err).Msg("failed to create data directories")
	}

	fileStore, err := storage.NewLocalStore(cfg.UploadDir())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	client, err := mrbot.New(mrbot.Config{
		BaseURL: cfg.BaseURL,
		APIKey:  cfg.APIKey,
		Email:   cfg.Email,
		Timeout: cfg.Client.QueryTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize api client")
	}

	sessionMgr := session.NewManager(batch.New(client))
	fetchMgr := fetch.NewManager(fetch.NewFetcher(cfg.Client.DownloadTimeout))

	// Background cleanup of finished sessions and fetch jobs.
	go func() {
		ticker := time.NewTicker(cfg.Sessions.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			sessionMgr.CleanupOldSessions(cfg.Sessions.MaxAge)
			fetchMgr.CleanupOldJobs(cfg.Sessions.MaxAge)
		}
	}()

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = api.ErrorHandler

	e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
		Skipper: func(c echo.Context) bool {
			path := c.Request().URL.Path
			return strings.HasSuffix(path, "/status") || path == "/api/health" || path == "/metrics"
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(cfg.Server.BodyLimit))
	e.Use(middleware.Gzip())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	api.RegisterRoutes(e, &api.Dependencies{
		Store:      fileStore,
		SessionMgr: sessionMgr,
		FetchMgr:   fetchMgr,
		Client:     client,
		Version:    Version,
	})

	if err := web.RegisterStaticRoutes(e); err != nil {
		log.Warn().Err(err).Msg("failed to register static routes")
	}

	s := &http.Server{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info().
		Str("version", Version).
		Str("build_time", BuildTime).
		Str("listen", cfg.Addr()).
		Str("api", cfg.BaseURL).
		Str("data_dir", cfg.DataDir).
		Msg("server starting")
	fmt.Printf("Consultas Mr. Bot - http://%s\n", cfg.Addr())

	if err := e.StartServer(s); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}

func setupLogging(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}
