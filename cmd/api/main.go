package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"plate/api/internal/activity"
	"plate/api/internal/app"
	"plate/api/internal/config"
	"plate/api/internal/email"
	"plate/api/internal/events"
	"plate/api/internal/export"
	"plate/api/internal/jobs"
	"plate/api/internal/logging"
	"plate/api/internal/metrics"
	"plate/api/internal/search"
	"plate/api/internal/session"
	"plate/api/internal/snapshot"
	"plate/api/internal/storage"
	"plate/api/internal/store"
)

func main() {
	cfg := config.Load()
	log := logging.Setup(cfg.Environment, cfg.LogLevel)
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)
	m := metrics.New()
	deps := app.Deps{Store: dataStore, Metrics: m}

	pgfts := search.NewPgFTS(db)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts)
	searchService.OnFallback(m.SearchFellBack)
	deps.Search = searchService

	// Redis carries refresh sessions and push events when configured.
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for sessions and push events")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		deps.Sessions = redisStore
		deps.Bus = events.NewRedisBus(redisStore.Client())
	} else {
		log.Info("using PostgreSQL for sessions and an in-process event bus")
		deps.Bus = events.NewLocalBus()
	}
	defer deps.Bus.Close()

	if strings.TrimSpace(cfg.MongoURI) != "" {
		feed, err := activity.ConnectMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			log.Fatalf("mongo connection failed: %v", err)
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = feed.Close(closeCtx)
		}()
		deps.Activity = feed
	} else {
		deps.Activity = activity.NewPostgresFeed(db)
	}

	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		blobs, err := storage.NewMinIOStore(ctx, storage.Options{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
		})
		if err != nil {
			log.Fatalf("minio setup failed: %v", err)
		}
		deps.Blobs = blobs
	} else {
		log.Warn("MINIO_ENDPOINT not set, attachment uploads disabled")
	}

	var snapshots snapshot.Backend
	if strings.TrimSpace(cfg.S3Bucket) != "" {
		log.Info("using S3 for plate snapshots")
		s3Store, err := snapshot.NewS3Store(ctx, snapshot.Options{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
		if err != nil {
			log.Fatalf("snapshot store setup failed: %v", err)
		}
		snapshots = s3Store
	} else {
		log.Infof("using git repositories under %s for plate snapshots", cfg.SnapshotDir)
		gitStore, err := snapshot.NewGitStore(cfg.SnapshotDir)
		if err != nil {
			log.Fatalf("snapshot store setup failed: %v", err)
		}
		snapshots = gitStore
	}
	deps.Snapshots = snapshots

	deps.Exporter = export.NewService(dataStore, cfg.ChromePath)
	deps.Mailer = email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})

	service := app.New(cfg, deps)

	if cfg.JobsEnabled {
		jobDeps := jobs.Deps{Plates: dataStore, Snapshots: snapshots, Maintenance: dataStore, Search: searchService, Observer: m}
		runner, err := jobs.NewRunner(jobs.Config{
			SnapshotCron:       cfg.SnapshotCron,
			NotificationCron:   cfg.NotificationCron,
			ReindexCron:        cfg.ReindexCron,
			RevokedTokenCron:   cfg.RevokedTokenCron,
			NotificationMaxAge: cfg.NotificationMaxAge,
		}, jobDeps)
		if err != nil {
			log.Fatalf("jobs setup failed: %v", err)
		}
		if err := runner.Start(ctx); err != nil {
			log.Fatalf("jobs start failed: %v", err)
		}
		defer func() { _ = runner.Stop() }()
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Infof("Plate API listening on %s", cfg.Addr)
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
		log.WithError(err).Warn("shutdown error")
	}
}
