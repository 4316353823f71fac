package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cadence/api/internal/app"
	"cadence/api/internal/authpw"
	"cadence/api/internal/config"
	"cadence/api/internal/email"
	"cadence/api/internal/events"
	"cadence/api/internal/export"
	"cadence/api/internal/files"
	"cadence/api/internal/search"
	"cadence/api/internal/session"
	"cadence/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, pgfts)
	if meiliClient != nil {
		defer meiliClient.Close()
		go searchService.ReindexAllFromPG(ctx)
	}

	var redisClient *redis.Client
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid redis url: %v", err)
		}
		redisClient = redis.NewClient(opts)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisClient.Close()
	}

	var sessions app.SessionStore
	if redisClient != nil {
		log.Printf("Using Redis for refresh token storage")
		sessions = session.NewRedisStoreWithClient(redisClient)
	} else {
		log.Printf("Using PostgreSQL for refresh token storage")
		sessions = session.NewPostgresFallback(dataStore)
	}

	emailService := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !emailService.IsConfigured() {
		log.Printf("SMTP not configured, email notifications disabled")
	}

	var fileService *files.Service
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		fileService, err = files.NewService(ctx, files.Config{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		}, dataStore)
		if err != nil {
			log.Fatalf("object storage setup failed: %v", err)
		}
	} else {
		log.Printf("MinIO not configured, attachments disabled")
	}

	eventLogger := zerolog.New(os.Stderr).With().Timestamp().Str("component", "events").Logger()
	dispatcherOpts := []events.Option{events.WithAuditSink(dataStore)}
	var viewCache *events.RedisViewCache
	if redisClient != nil {
		viewCache = events.NewRedisViewCache(redisClient)
		dispatcherOpts = append(dispatcherOpts, events.WithCacheInvalidator(viewCache))
	}
	dispatcher := events.NewDispatcher(eventLogger, dispatcherOpts...)
	defer dispatcher.Close()

	appOptions := app.Options{
		Sessions: sessions,
		AuthPW:   authpw.NewService(dataStore),
		Email:    emailService,
		Search:   searchService,
		Files:    fileService,
		Export:   export.NewService(dataStore),
		Events:   dispatcher,
	}
	if viewCache != nil {
		appOptions.Views = viewCache
	}
	service := app.New(cfg, dataStore, appOptions)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Cadence API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
