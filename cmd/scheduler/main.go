package main

import (
	"context"
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
	"github.com/chronex-io/chronex/internal/store"
	"github.com/chronex-io/chronex/internal/store/memstore"
	"github.com/chronex-io/chronex/internal/store/sqlstore"
	"github.com/chronex-io/chronex/pkg/config"
	"github.com/chronex-io/chronex/platform/events"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}
	if path := os.Getenv("CHRONEX_PROPERTIES"); path != "" {
		if err := applyPropertiesFile(&cfg, path); err != nil {
			log.Fatalf("properties file error: %v", err)
		}
	}
	resolveInstanceID(&cfg)

	logger, err := logging.NewLogger(cfg.Environment, cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}

	jobStore, db := buildJobStore(cfg, logger)

	sched, err := scheduler.New(scheduler.Config{
		InstanceName:    cfg.Quartz.InstanceName,
		InstanceID:      cfg.Quartz.InstanceID,
		ThreadCount:     cfg.Quartz.ThreadCount,
		IdleWaitTime:    cfg.Quartz.IdleWaitTime,
		BatchMaxCount:   cfg.Quartz.BatchTriggerAcquisitionMaxCount,
		BatchTimeWindow: cfg.Quartz.BatchTriggerAcquisitionFireAheadTimeWindow,
	}, jobStore, scheduler.WithLogger(logger))
	if err != nil {
		logger.Fatal("failed to build scheduler", zap.Error(err))
	}

	attachKafka(cfg, logger, sched)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := sched.Start(ctx); err != nil {
		logger.Fatal("failed to start scheduler", zap.Error(err))
	}
	cancel()

	srv := api.NewServer(cfg, logger, sched)
	err = srv.Serve()

	if db != nil {
		if cerr := db.Close(); cerr != nil {
			logger.Error("failed to close database connection", zap.Error(cerr))
		}
	}
	if err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}

// buildJobStore picks the persistent store when a database is configured and
// the in-memory store otherwise.
func buildJobStore(cfg config.App, logger logging.Logger) (store.JobStore, *sql.DB) {
	if cfg.DatabaseURL == "" {
		logger.Info("no DATABASE_URL configured, using in-memory job store")
		return memstore.New(logger), nil
	}

	db := connectDatabase(cfg, logger)
	st, err := sqlstore.New(db, sqlstore.Config{
		SchedulerName:             cfg.Quartz.InstanceName,
		InstanceID:                cfg.Quartz.InstanceID,
		Driver:                    cfg.DatabaseDriver,
		Clustered:                 cfg.Quartz.Clustered,
		CheckinInterval:           cfg.Quartz.ClusterCheckinInterval,
		MisfireThreshold:          cfg.Quartz.MisfireThreshold,
		MaxMisfiresToHandleAtTime: cfg.Quartz.MaxMisfiresToHandleAtATime,
		AcquireTriggersWithinLock: cfg.Quartz.AcquireTriggersWithinLock,
	}, logger)
	if err != nil {
		logger.Fatal("failed to build job store", zap.Error(err))
	}
	return st, db
}

func connectDatabase(cfg config.App, logger logging.Logger) *sql.DB {
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
	return db
}

func attachKafka(cfg config.App, logger logging.Logger, sched *scheduler.Scheduler) {
	if len(cfg.KafkaBrokers) == 0 {
		return
	}
	pub := events.NewPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	l := events.NewListener(pub)
	sched.ListenerManager().AddJobListener(l)
	sched.ListenerManager().AddTriggerListener(l)
	sched.ListenerManager().AddSchedulerListener(l)
	logger.Info("kafka event publishing enabled",
		zap.Strings("brokers", cfg.KafkaBrokers),
		zap.String("topic", cfg.KafkaTopic))
}

func applyPropertiesFile(cfg *config.App, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return cfg.ApplyProperties(f)
}

func resolveInstanceID(cfg *config.App) {
	if cfg.Quartz.InstanceID != "AUTO" {
		return
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = uuid.NewString()
	}
	cfg.Quartz.InstanceID = host + "-" + uuid.NewString()[:8]
}
