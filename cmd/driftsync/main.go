package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/driftwave/driftsync/internal/api"
	"github.com/driftwave/driftsync/internal/config"
	"github.com/driftwave/driftsync/internal/database"
	"github.com/driftwave/driftsync/internal/importer"
	"github.com/driftwave/driftsync/internal/logger"
	"github.com/driftwave/driftsync/internal/settings"
	"github.com/driftwave/driftsync/internal/syncer"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().Str("logLevel", cfg.Logging.Level).Msg("driftsync starting")

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	store := settings.NewStore(db.Conn())
	ctx := context.Background()

	// Seed credentials from config on a fresh install; values already in
	// the store win.
	seedCredentials(ctx, store, cfg, log)

	provider := importer.NewProvider(importer.ProviderConfig{
		Store:   store,
		Logger:  log.Logger,
		Timeout: cfg.Trakt.Timeout,
	})
	if err := provider.LoadFromStore(ctx); err != nil {
		log.Warn().Err(err).Msg("trakt importer not configured")
	}

	var syncSvc *syncer.Service
	if cfg.Sync.Enabled {
		interval := time.Duration(cfg.Sync.IntervalMinutes) * time.Minute
		syncSvc, err = syncer.New(provider, store, db.Conn(), interval, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sync service")
		}
		if err := syncSvc.Start(); err != nil {
			log.Fatal().Err(err).Msg("failed to start sync service")
		}
	}

	server := api.NewServer(provider, store, log.Logger)
	address := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))

	go func() {
		if err := server.Start(address); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if syncSvc != nil {
		if err := syncSvc.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop sync service")
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
}

// seedCredentials copies config-file credentials into the settings store
// when none are stored yet.
func seedCredentials(ctx context.Context, store *settings.Store, cfg *config.Config, log *logger.Logger) {
	if cfg.Trakt.ClientID == "" || cfg.Trakt.ClientSecret == "" {
		return
	}
	if existing, err := store.Get(ctx, importer.SettingClientID); err == nil && existing != "" {
		return
	}
	if err := store.Set(ctx, importer.SettingClientID, cfg.Trakt.ClientID); err != nil {
		log.Warn().Err(err).Msg("failed to seed trakt client id")
		return
	}
	if err := store.Set(ctx, importer.SettingClientSecret, cfg.Trakt.ClientSecret); err != nil {
		log.Warn().Err(err).Msg("failed to seed trakt client secret")
		return
	}
	log.Info().Msg("seeded trakt credentials from config")
}
