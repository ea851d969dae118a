package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/abdusco/redirects/internal/auth"
	"github.com/abdusco/redirects/internal/config"
	"github.com/abdusco/redirects/internal/db"
	"github.com/abdusco/redirects/internal/handler"
	"github.com/abdusco/redirects/internal/logger"
	"github.com/abdusco/redirects/internal/redirect"
	"github.com/abdusco/redirects/internal/repo"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to parse configuration from environment")
	}

	if err := logger.Setup(cfg.LogLevel, cfg.Debug); err != nil {
		log.Fatal().Err(err).Str("level", cfg.LogLevel).Msg("failed to parse log level")
	}

	log.Info().
		Str("site_url", cfg.SiteURL).
		Str("admin_prefix", cfg.AdminPrefix).
		Str("storage", cfg.Storage).
		Msg("current configuration")

	ctx := context.Background()
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("application error")
	}
}

// storage is the persistence chosen by STORAGE.
type storage struct {
	redirects redirect.Slot
	settings  redirect.Slot
	hits      handler.HitLog
	close     func()
}

func openStorage(ctx context.Context, cfg config.Config) (*storage, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		dbInstance, err := db.Open(ctx, cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		options := repo.NewOptionsRepo(dbInstance)
		return &storage{
			redirects: options.Slot(repo.RedirectsOption),
			settings:  options.Slot(repo.SettingsOption),
			hits:      repo.NewHitsRepo(dbInstance),
			close:     func() { dbInstance.Close() },
		}, nil

	case config.StorageRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		options := repo.NewRedisOptions(client, cfg.RedisKeyPrefix)
		return &storage{
			redirects: options.Slot(repo.RedirectsOption),
			settings:  options.Slot(repo.SettingsOption),
			close:     func() { client.Close() },
		}, nil

	case config.StorageMemory:
		log.Warn().Msg("using in-memory storage - redirects are lost on restart")
		return &storage{
			redirects: redirect.NewMemorySlot(),
			settings:  redirect.NewMemorySlot(),
			close:     func() {},
		}, nil
	}
	return nil, fmt.Errorf("unknown storage %q", cfg.Storage)
}

func run(ctx context.Context, cfg config.Config) error {
	log.Info().
		Str("version", version).
		Str("build_time", buildTime).
		Msg("starting application")

	credentials, err := auth.NewCredentials(cfg.AdminCreds)
	if err != nil {
		return fmt.Errorf("failed to parse admin credentials: %w", err)
	}

	store, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.close()

	pages, err := handler.NewErrorPages(cfg.SiteURL, cfg.GonePage, cfg.LegalPage)
	if err != nil {
		return err
	}

	redirects := redirect.NewStore(store.redirects, redirect.NewNormalizer(cfg.SiteURL))
	settings := redirect.NewSettingsStore(store.settings, redirect.Settings{
		RedirectsEnabled:  cfg.RedirectsEnabled,
		Redirect404ToHome: cfg.Redirect404ToHome,
	})
	dispatcher := redirect.NewDispatcher(redirects, settings, cfg.AdminPrefix)

	e := echo.New()
	defer e.Close()

	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.ErrorHandler

	dispatchHandler := handler.NewDispatchHandler(dispatcher, store.hits, pages)
	e.Pre(logger.RequestLogger())
	e.Pre(middleware.Recover())
	e.Pre(dispatchHandler.Middleware())

	authenticator := auth.NewAuthenticator(credentials, cfg.JWTSecret, cfg.AdminPrefix)
	authHandler := handler.NewAuthHandler(authenticator)

	admin := e.Group(cfg.AdminPrefix)
	admin.POST("/login", authHandler.Login)
	admin.GET("/logout", authHandler.Logout)
	admin.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := admin.Group("/api")
	api.Use(auth.NewAuthMiddleware(authenticator))

	redirectHandler := handler.NewRedirectHandler(redirects, store.hits)
	api.GET("/redirects", redirectHandler.ListRedirects)
	api.POST("/redirects", redirectHandler.CreateRedirect)
	api.DELETE("/redirects", redirectHandler.DeleteAllRedirects)
	api.GET("/redirects/export", redirectHandler.ExportRedirects)
	api.POST("/redirects/import", redirectHandler.ImportRedirects)
	api.GET("/redirects/:id", redirectHandler.GetRedirect)
	api.PUT("/redirects/:id", redirectHandler.UpdateRedirect)
	api.DELETE("/redirects/:id", redirectHandler.DeleteRedirect)
	api.GET("/redirects/:id/hits", redirectHandler.ListHits)

	settingsHandler := handler.NewSettingsHandler(settings)
	api.GET("/settings", settingsHandler.GetSettings)
	api.PUT("/settings", settingsHandler.UpdateSettings)

	dashboardHandler := handler.NewDashboardHandler(redirects)
	api.GET("/dashboard", dashboardHandler.Summary)

	// Anything not routed and not redirected ends here
	notFound := handler.NewNotFoundHandler(dispatcher, settings, cfg.SiteURL)
	e.RouteNotFound("/*", notFound.Handle)

	log.Info().Str("address", cfg.Address()).Msg("server starting")

	runServer(ctx, e, cfg.Address())

	return nil
}

func runServer(ctx context.Context, e *echo.Echo, address string) {
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(address)
	}()

	// Wait for context cancellation (Ctrl+C or SIGTERM) or a failed start
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		log.Error().Err(err).Msg("server error")
		return
	}

	log.Info().Msg("shutdown signal received, gracefully shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("error during graceful shutdown")
	}

	if err := <-serverErr; err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
	}

	log.Info().Msg("server stopped")
}
