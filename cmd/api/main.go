package main

import (
	"database/sql"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/chronex-io/chronex/internal/api"
	"github.com/chronex-io/chronex/internal/logging"
	"github.com/chronex-io/chronex/internal/scheduler"
	"github.com/chronex-io/chronex/internal/store/sqlstore"
	"github.com/chronex-io/chronex/pkg/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// A management-only node: it serves the HTTP API against the shared database
// but never starts the scheduling loop, so it fires no triggers itself.
func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if cfg.Quartz.InstanceID == "AUTO" {
		host, herr := os.Hostname()
		if herr != nil || host == "" {
			host = uuid.NewString()
		}
		cfg.Quartz.InstanceID = host + "-api-" + uuid.NewString()[:8]
	}

	logger, err := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	if cfg.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL is required for the management API")
	}

	driver := "mysql"
	if cfg.DatabaseDriver == "postgres" || cfg.DatabaseDriver == "pgx" {
		driver = "pgx"
	}
	db, err := sql.Open(driver, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to open database connection", zap.Error(err))
	}
	db.SetMaxIdleConns(5)
	db.SetMaxOpenConns(20)
	db.SetConnMaxLifetime(60 * time.Minute)
	if err := db.Ping(); err != nil {
		logger.Fatal("failed to reach database", zap.Error(err))
	}

	jobStore, err := sqlstore.New(db, sqlstore.Config{
		SchedulerName:    cfg.Quartz.InstanceName,
		InstanceID:       cfg.Quartz.InstanceID,
		Driver:           cfg.DatabaseDriver,
		MisfireThreshold: cfg.Quartz.MisfireThreshold,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build job store", zap.Error(err))
	}

	sched, err := scheduler.New(scheduler.Config{
		InstanceName: cfg.Quartz.InstanceName,
		InstanceID:   cfg.Quartz.InstanceID,
		ThreadCount:  cfg.Quartz.ThreadCount,
		IdleWaitTime: cfg.Quartz.IdleWaitTime,
	}, jobStore, scheduler.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}

	srv := api.NewServer(cfg, logger, sched)
	err = srv.Serve()

	if cerr := db.Close(); cerr != nil {
		logger.Error("failed to close database connection", zap.Error(cerr))
	}
	if err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
