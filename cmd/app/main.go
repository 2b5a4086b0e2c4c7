package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"appforge/internal/config"
	"appforge/internal/domain/ports/adapter"
	"appforge/internal/infra/adapters/deploy"
	"appforge/internal/infra/adapters/generator"
	"appforge/internal/infra/adapters/shell"
	pg "appforge/internal/infra/db/postgres"
	"appforge/internal/infra/installer"
	"appforge/internal/infra/logging"
	"appforge/internal/infra/metrics"
	"appforge/internal/infra/progress"
	red "appforge/internal/infra/redis"
	"appforge/internal/infra/sched"
	"appforge/internal/infra/web"
	"appforge/internal/infra/worker"
	"appforge/internal/infra/workspace"
	"appforge/internal/usecase"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (fake generator and preview backends)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Info().Msg("dev mode enabled")
	}
	metrics.MustRegister()

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 10)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	if err := pg.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()
	locker := red.NewLocker(redisClient)

	// ---- Repositories ----
	txm := pg.NewTxManager(pool)
	jobRepo := pg.NewJobRepo(pool, txm)

	// ---- Progress tracking ----
	tracker := progress.NewTracker(cfg.Generator.ScaffoldingAfter, cfg.Generator.CodingAfter, logger)

	// ---- Generation plumbing ----
	prov := workspace.NewProvisioner(cfg.Generator, logger)
	inst := installer.New(shell.New(), cfg.Installer, logger)

	var runner adapter.GeneratorRunner
	if cfg.Runtime.Dev {
		runner = generator.NewNoopRunner()
	} else {
		runner = generator.NewCLIRunner(cfg.Generator.Binary, logger)
	}

	var previewAPI adapter.PreviewDeployAPI
	if cfg.Runtime.Dev {
		previewAPI = deploy.NewNoopClient()
	} else {
		previewAPI = deploy.NewHTTPClient(cfg.Preview.BaseURL)
	}

	// ---- Workers ----
	wp := worker.NewPool(cfg.Generator.Workers, logger)
	wp.Start(ctx)
	defer wp.Stop()

	// ---- Use cases ----
	reg := usecase.NewRegistry()
	genUC := usecase.NewGenerationUseCase(jobRepo, prov, inst, runner, tracker, reg, locker, wp, logger)
	previewUC := usecase.NewPreviewUseCase(jobRepo, previewAPI, cfg.Preview.PollInterval, cfg.Preview.Timeout, logger)

	// ---- Janitor (terminal progress GC) ----
	janitor := sched.NewJanitor(cfg.Janitor.Interval, cfg.Janitor.MaxAge, tracker, logger)
	go func() { _ = janitor.Run(ctx) }()

	// ---- HTTP server ----
	srv := web.NewServer(genUC, previewUC, cfg.Server.AuthSecret, logger)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	<-sigc
	logger.Info().Msg("shutdown requested")
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := server.Shutdown(shutCtx); err != nil {
		logger.Warn().Err(err).Msg("http shutdown")
	}
}
