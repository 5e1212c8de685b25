package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/cmd/diagnostics/cli"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/accounting"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/app"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/consumption"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/inventory"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/invoicing"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/observability"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/pettycash"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/cache"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/platform/db"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/internal/procurement"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/jobs"
	"github.com/OOgieriakhi/MedicalDiagnosticManager-sub001/migrations"
)

func usage() {
	_, _ = fmt.Fprintln(os.Stderr, `usage: diagnostics [command]

commands:
  serve                          run the HTTP API (default)
  migrate up|down                apply or roll back schema migrations
  ledger check --tenant N        compare materialized balances with the journal
  jobs trigger NAME [--tenant N] enqueue a maintenance job
  jobs stats                     print queue statistics`)
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "migrate":
		direction := "up"
		if len(args) > 0 {
			direction = args[0]
		}
		migrator, err := db.NewMigrator(migrations.Files, cfg.PGDSN, logger)
		if err != nil {
			logger.Error("init migrator", slog.Any("error", err))
			os.Exit(1)
		}
		os.Exit(cli.MigrateCommand(migrator, cli.MigrateOptions{Direction: direction}))
	case "ledger":
		os.Exit(runLedger(ctx, cfg, logger, args))
	case "jobs":
		os.Exit(runJobs(ctx, cfg, args))
	default:
		usage()
		os.Exit(2)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("balance cache disabled", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services, err := app.NewServices(cfg, pool, redisClient, logger, metrics)
	if err != nil {
		return err
	}
	if err := services.Cache.ListenForInvalidation(ctx); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	retry := cfg.RetryPolicy()
	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		AccountingHandler:  accounting.NewHandler(logger, services.Accounting, retry),
		InvoiceHandler:     invoicing.NewHandler(logger, services.Invoicing, retry),
		InventoryHandler:   inventory.NewHandler(logger, services.Inventory, retry),
		ConsumptionHandler: consumption.NewHandler(logger, services.Consumption, jobClient),
		ProcurementHandler: procurement.NewHandler(logger, services.Procurement, retry),
		PettyCashHandler:   pettycash.NewHandler(logger, services.PettyCash, retry),
		JobHandler:         jobs.NewHandler(inspector, logger),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func runLedger(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	if len(args) == 0 || args[0] != "check" {
		usage()
		return 2
	}
	fs := flag.NewFlagSet("ledger check", flag.ContinueOnError)
	tenantID := fs.Int64("tenant", 0, "tenant to check")
	asJSON := fs.Bool("json", false, "print JSON output")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	services, err := app.NewServices(cfg, pool, nil, logger, nil)
	if err != nil {
		logger.Error("init services", slog.Any("error", err))
		return 1
	}
	return cli.LedgerCheckCommand(ctx, services.Accounting, cli.LedgerCheckOptions{TenantID: *tenantID, JSONOutput: *asJSON})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string) int {
	if len(args) == 0 {
		usage()
		return 2
	}
	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	switch args[0] {
	case "trigger":
		if len(args) < 2 {
			usage()
			return 2
		}
		fs := flag.NewFlagSet("jobs trigger", flag.ContinueOnError)
		tenantID := fs.Int64("tenant", 0, "limit the job to one tenant")
		if err := fs.Parse(args[2:]); err != nil {
			return 2
		}
		info, err := jobsCLI.Trigger(ctx, args[1], *tenantID)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs trigger: %v\n", err)
			return 1
		}
		_, _ = fmt.Fprintf(os.Stdout, "enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	case "stats":
		stats, err := jobsCLI.InspectQueues(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "jobs stats: %v\n", err)
			return 1
		}
		if err := json.NewEncoder(os.Stdout).Encode(stats); err != nil {
			return 1
		}
		return 0
	default:
		usage()
		return 2
	}
}
