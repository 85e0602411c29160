package main

import (
	"log"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"poletrack/internal/auth"
	"poletrack/internal/config"
	"poletrack/internal/database"
	"poletrack/internal/imaging"
	"poletrack/internal/logging"
	"poletrack/internal/metrics"
	"poletrack/internal/notes"
	"poletrack/internal/progress"
	"poletrack/internal/storage"
	"poletrack/internal/tasks"
	"poletrack/internal/worker"
)

func main() {
	cfg := config.MustLoad()
	logger := logging.New(os.Stdout, cfg.Log)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
	})

	userPurge := worker.NewUserPurgeHandler(
		notes.NewStore(db, logger),
		progress.NewStore(db, logger),
		auth.NewDirectory(db),
		logger,
	)
	// worker 只用到对象前缀删除。
	objects := imaging.NewPipeline(storageClient, nil, nil, nil, imaging.Config{}, logger)
	assetsPurge := worker.NewMoveAssetsPurgeHandler(objects, logger)

	mux := asynq.NewServeMux()
	mux.Use(metrics.AsynqMetricsMiddleware())
	mux.Handle(tasks.TypeUserPurge, userPurge)
	mux.Handle(tasks.TypeMoveAssetsPurge, assetsPurge)

	logger.Info("worker service started",
		slog.String("redis_addr", redisOpt.Addr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}
