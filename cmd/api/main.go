package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sentinel/api/internal/app"
	"sentinel/api/internal/backup"
	"sentinel/api/internal/config"
	"sentinel/api/internal/search"
	"sentinel/api/internal/session"
	"sentinel/api/internal/store"
	"sentinel/api/pkg/logger"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Init(logger.Options{}).Fatal().Err(err).Msg("config load failed")
	}
	log := logger.Init(logger.Options{
		Level:  cfg.LogLevel,
		Pretty: cfg.Env == "development",
	})

	var dataStore app.DataStore
	var backupStore backup.DataStore
	switch strings.ToLower(cfg.Backend) {
	case "postgres":
		db, err := store.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("migrations failed")
		}
		if err := store.ApplySecurityPolicies(ctx, db); err != nil {
			log.Fatal().Err(err).Msg("security policies failed")
		}
		pg := store.NewPostgresStore(db)
		dataStore, backupStore = pg, pg
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			log.Fatal().Err(err).Msg("failed to create data dir")
		}
		db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			log.Fatal().Err(err).Msg("database open failed")
		}
		defer db.Close()
		lite := store.NewSQLiteStore(db)
		dataStore, backupStore = lite, lite
	default:
		log.Fatal().Str("backend", cfg.Backend).Msg("unknown backend")
	}
	log.Info().Str("backend", cfg.Backend).Msg("store ready")

	sessions, err := session.NewRedisStore(cfg.RedisURL, cfg.SessionTTL())
	if err != nil {
		log.Fatal().Err(err).Msg("redis connection failed")
	}
	defer sessions.Close()

	opts := []app.Option{}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		opts = append(opts, app.WithIndexer(meiliClient))
	}
	service := app.NewService(dataStore, opts...)

	var uploader *backup.Uploader
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		uploader, err = backup.NewUploader(ctx, backup.UploaderConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("object storage connection failed")
		}
	}
	backups := backup.NewService(backupStore, uploader)

	httpServer := app.NewHTTPServer(service, sessions, backups)
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", httpServer.Handler())

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr).Msg("sentinel api listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
}
