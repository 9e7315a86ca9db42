package main

import (
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"bookcatalog/internal/servicetoken"
	"bookcatalog/internal/util"
	"bookcatalog/pkg/store"
	"bookcatalog/services/catalog/internal/app"
	"bookcatalog/services/catalog/internal/bookinfo"
	"bookcatalog/services/catalog/internal/config"
	"bookcatalog/services/catalog/internal/server"
)

func main() {
	_ = godotenv.Load(".env")

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := util.InitLogger(cfg.LogLevel)

	timeout, err := config.ParseDuration("bookInfoTimeout", cfg.BookInfoTimeout)
	if err != nil {
		log.Fatalf("failed to parse book info timeout: %v", err)
	}
	policy, err := cfg.BreakerPolicy()
	if err != nil {
		log.Fatalf("failed to parse breaker policy: %v", err)
	}

	clientOpts := []bookinfo.Option{bookinfo.WithTimeout(timeout)}
	if cfg.InternalJWTPrivateKeyPath != "" {
		signer, err := servicetoken.NewSigner(servicetoken.SignerOptions{
			PrivateKeyPath: cfg.InternalJWTPrivateKeyPath,
			KeyID:          cfg.InternalJWTKeyID,
			Issuer:         "catalog-service",
		})
		if err != nil {
			log.Fatalf("failed to init internal token signer: %v", err)
		}
		clientOpts = append(clientOpts, bookinfo.WithSigner(signer))
	}

	var ratings store.RatingStore
	if cfg.DatabaseURL != "" {
		gormStore, err := store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init rating store: %v", err)
		}
		ratings = gormStore
	} else {
		slog.Warn("databaseURL not set, ratings are kept in memory")
		ratings = store.NewMemoryStore()
	}

	appCore, err := app.New(app.Config{
		Books:       bookinfo.NewClient(cfg.BookInfoURL, clientOpts...),
		Ratings:     ratings,
		Breaker:     policy,
		Concurrency: cfg.LookupConcurrency,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                       appCore,
		RedisAddr:                 cfg.RedisAddr,
		RedisPassword:             cfg.RedisPassword,
		CatalogRateLimitPerMinute: cfg.CatalogRateLimitPerMinute,
		TrustedProxyCIDRs:         cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	slog.Info("catalog server listening", "addr", addr, "book_info_url", cfg.BookInfoURL)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
