package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/refresh-go/internal/jobconfig"
	"github.com/animus-labs/refresh-go/internal/platform/httpserver"
	"github.com/animus-labs/refresh-go/internal/platform/objectstore"
	"github.com/animus-labs/refresh-go/internal/platform/postgres"
	"github.com/animus-labs/refresh-go/internal/runtimeexec"
	"github.com/animus-labs/refresh-go/internal/service/refresh"
	"github.com/animus-labs/refresh-go/internal/storage/logstore"
)

func main() {
	cfg, err := configFromEnv()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stdout, nil)).Error("invalid env", "error", err)
		os.Exit(2)
	}
	logger := newLogger(os.Stdout, cfg)

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := logstore.Open(cfg.LogDir)
	if err != nil {
		logger.Error("log store unavailable", "dir", cfg.LogDir, "error", err)
		os.Exit(1)
	}
	defer func() { _ = store.Close() }()

	job, err := jobconfig.Load(cfg.JobConfigPath)
	if err != nil {
		logger.Error("invalid job config", "path", cfg.JobConfigPath, "error", err)
		os.Exit(2)
	}
	resolver := runtimeexec.NewResolver(job.Candidates)
	if script := resolver.Resolved(); script != "" {
		logger.Info("sync script resolved", "job", job.Name, "path", script)
	} else {
		logger.Warn("sync script not found, triggers will fail until it exists", "job", job.Name, "candidates", resolver.Candidates())
	}

	checks := []httpserver.ReadinessCheck{
		{
			Name: "log_store",
			Check: func(ctx context.Context) error {
				_, err := store.Size()
				return err
			},
		},
	}

	var (
		recorder    refresh.Recorder
		history     refresh.HistoryLister
		snapshotter refresh.Snapshotter
	)

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	if dbCfg.Enabled() {
		db, err := postgres.Open(ctx, dbCfg)
		if err != nil {
			logger.Error("database unavailable", "error", err)
			os.Exit(1)
		}
		defer func() { _ = db.Close() }()

		pgHistory, err := refresh.NewPostgresHistory(db)
		if err != nil {
			logger.Error("run history init failed", "error", err)
			os.Exit(1)
		}
		if err := pgHistory.EnsureSchema(ctx); err != nil {
			logger.Error("run history schema failed", "error", err)
			os.Exit(1)
		}
		recorder = pgHistory
		history = pgHistory
		checks = append(checks, httpserver.ReadinessCheck{Name: "postgres", Check: pingCheck(db)})
		logger.Info("run history enabled")
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	if storeCfg.Enabled() {
		client, err := objectstore.NewMinIOClient(storeCfg)
		if err != nil {
			logger.Error("object store client init failed", "error", err)
			os.Exit(1)
		}
		if err := objectstore.EnsureBucket(ctx, client, storeCfg); err != nil {
			logger.Error("object store bucket unavailable", "bucket", storeCfg.Bucket, "error", err)
			os.Exit(1)
		}
		objects, err := objectstore.NewMinioStore(client, storeCfg.Bucket)
		if err != nil {
			logger.Error("object store init failed", "error", err)
			os.Exit(1)
		}
		mirror, err := logstore.NewMirror(store, objects, logstore.MirrorConfig{
			Prefix:   storeCfg.Prefix,
			Interval: cfg.MirrorInterval,
			Logger:   logger,
		})
		if err != nil {
			logger.Error("log mirror init failed", "error", err)
			os.Exit(1)
		}
		restored, err := mirror.Restore(ctx)
		if err != nil {
			logger.Warn("log restore failed", "error", err)
		} else if restored {
			logger.Info("sync log restored from object store", "key", mirror.LatestKey())
		}
		snapshotter = mirror
		checks = append(checks, httpserver.ReadinessCheck{
			Name: "minio",
			Check: func(ctx context.Context) error {
				checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
				defer cancel()
				return objectstore.CheckBucket(checkCtx, client, storeCfg)
			},
		})
		logger.Info("log mirror enabled", "bucket", storeCfg.Bucket, "prefix", storeCfg.Prefix)
	}

	coord, err := refresh.New(refresh.Config{
		Executor:    runtimeexec.NewProcessExecutor(logger),
		Resolver:    resolver,
		Store:       store,
		Job:         job.Template(),
		Recorder:    recorder,
		Snapshotter: snapshotter,
		Logger:      logger,
	})
	if err != nil {
		logger.Error("coordinator init failed", "error", err)
		os.Exit(1)
	}

	if cfg.JobConfigPath != "" {
		watcher, err := jobconfig.NewWatcher(cfg.JobConfigPath, logger, func(job jobconfig.Job) {
			resolved := resolver.Reload(job.Candidates)
			coord.UpdateJob(job.Template())
			logger.Info("sync job updated", "job", job.Name, "path", resolved)
		})
		if err != nil {
			logger.Error("job config watcher init failed", "error", err)
			os.Exit(1)
		}
		if err := watcher.Start(ctx); err != nil {
			logger.Warn("job config watch disabled", "error", err)
		}
		defer func() { _ = watcher.Close() }()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("/readyz", httpserver.ReadyzWithChecks(serviceName, checks...))

	api := newSyncAPI(logger, coord, history, cfg.PollInterval)
	api.register(mux)

	httpCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}

	// The job runs in its own process group and is not signalled. Give it
	// the shutdown window to finish so its exit line reaches the log.
	if st := coord.State(); st.Active {
		logger.Info("waiting for running sync", "run_id", st.RunID, "seq", st.Seq, "timeout", cfg.ShutdownTimeout.String())
		waitCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := coord.Wait(waitCtx); err != nil {
			logger.Warn("exiting with sync still running", "run_id", st.RunID, "seq", st.Seq)
		}
	}
}

func pingCheck(db *sql.DB) func(context.Context) error {
	return func(ctx context.Context) error {
		checkCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return db.PingContext(checkCtx)
	}
}
