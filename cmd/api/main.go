package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"poletrack/internal/api"
	"poletrack/internal/auth"
	"poletrack/internal/config"
	"poletrack/internal/database"
	"poletrack/internal/imaging"
	"poletrack/internal/logging"
	"poletrack/internal/moves"
	"poletrack/internal/notes"
	"poletrack/internal/progress"
	"poletrack/internal/ratelimit"
	"poletrack/internal/storage"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(os.Stdout, cfg.Log)
	logger.Info("api bootstrapping",
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("db_host", cfg.Database.Host),
		slog.String("db_name", cfg.Database.Name),
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("migrate database: %v", err)
	}
	logger.Info("database migrated")

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	authService, err := auth.NewAuthService(
		[]byte(cfg.Auth.PrivateKeyPEM),
		[]byte(cfg.Auth.PublicKeyPEM),
		cfg.Auth.AccessTTL,
		cfg.Auth.RefreshTTL,
	)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	moveService := moves.NewService(db, logger)

	var pipelineOpts []imaging.Option
	if cfg.API.ClamdAddr != "" {
		pipelineOpts = append(pipelineOpts, imaging.WithScanner(imaging.NewClamdScanner(cfg.API.ClamdAddr)))
		logger.Info("reference uploads will be scanned", slog.String("clamd_addr", cfg.API.ClamdAddr))
	}
	pipeline := imaging.NewPipeline(
		storageClient,
		moveService,
		imaging.NewHTTPProvider(cfg.Generation.ProviderURL, cfg.Generation.ProviderToken, cfg.Generation.Model, &http.Client{Timeout: cfg.Generation.Timeout}),
		ratelimit.New(redisClient, "imggen", cfg.Generation.RateLimit, cfg.Generation.RateWindow),
		imaging.Config{
			MaxUploadBytes: cfg.API.MaxUploadBytes,
			PollInterval:   cfg.Generation.PollInterval,
			Timeout:        cfg.Generation.Timeout,
			PreviewTTL:     cfg.Generation.PreviewTTL,
		},
		logger,
		pipelineOpts...,
	)

	router := api.NewRouter(logger)
	api.RegisterRoutes(router, api.Dependencies{
		Auth:      authService,
		Directory: auth.NewDirectory(db),
		Moves:     moveService,
		Statuses:  progress.NewStore(db, logger),
		Notes:     notes.NewStore(db, logger),
		Images:    pipeline,
		Queue:     asynqClient,
		Redis:     redisClient,
		Logger:    logger,
		AuthCfg:   cfg.Auth,
	})

	address := fmt.Sprintf(":%d", cfg.API.Port)
	logger.Info("api listening", slog.String("addr", address))
	if err := router.Run(address); err != nil {
		log.Fatalf("failed to start api server: %v", err)
	}
}
