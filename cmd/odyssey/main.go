package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/odyssey-ledger/cmd/odyssey/cli"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/fx"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/observability"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/cache"
	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
	"github.com/odyssey-erp/odyssey-ledger/jobs"
)

const usage = `usage: odyssey [command] [flags]

commands:
  serve       run the HTTP API (default)
  migrate     create missing ledger tables
  seed-coa    seed a chart of accounts from a YAML template
  fx-rates    import or look up exchange rates
  jobs        trigger a background job or inspect the queue
`

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
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	var code int
	switch command {
	case "serve":
		code = serve(ctx, cfg, logger)
	case "migrate":
		code = migrate(ctx, cfg, logger)
	case "seed-coa":
		code = seedCOA(ctx, cfg, logger, args)
	case "fx-rates":
		code = fxRates(ctx, cfg, args)
	case "jobs":
		code = jobsCommand(ctx, cfg, args)
	default:
		fmt.Fprint(os.Stderr, usage)
		code = 2
	}
	stop()
	os.Exit(code)
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, posting locks disabled", slog.Any("error", err))
	}
	defer func() {
		if redisClient == nil {
			return
		}
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	module := accounting.NewModule(accounting.Deps{
		Pool:         pool,
		Redis:        redisOrNil(redisClient),
		Registerer:   metrics.Registerer(),
		Logger:       logger,
		BaseCurrency: cfg.BaseCurrency,
		PostLockTTL:  cfg.PostLockTTL,
	})

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AccountingHandler: module.Handler,
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("base_currency", cfg.BaseCurrency))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			logger.Error("http server", slog.Any("error", err))
			return 1
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return 1
	}
	return 0
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) int {
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	if err := db.ApplySchema(ctx, pool); err != nil {
		logger.Error("apply schema", slog.Any("error", err))
		return 1
	}
	logger.Info("schema applied")
	return 0
}

func seedCOA(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) int {
	fs := flag.NewFlagSet("seed-coa", flag.ContinueOnError)
	companyID := fs.Int64("company", 0, "company id to seed")
	actorID := fs.Int64("actor", 0, "acting user id recorded in the audit log")
	source := fs.String("template", "scripts/seed/coa.yml", "YAML chart of accounts template")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		return 1
	}
	defer pool.Close()
	service := accounts.NewService(accounts.NewRepository(pool), shared.NewAuditLogger(pool), logger)
	return cli.SeedCOACommand(ctx, service, cli.SeedOptions{CompanyID: *companyID, ActorID: *actorID, Source: *source})
}

func fxRates(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("fx-rates", flag.ContinueOnError)
	source := fs.String("source", "", "CSV file of rates, - for stdin")
	mode := fs.String("mode", string(cli.FXImportModeDry), "dry or apply")
	asJSON := fs.Bool("json", false, "print a JSON summary")
	from := fs.String("from", "", "look up: source currency")
	to := fs.String("to", "", "look up: target currency")
	date := fs.String("date", "", "look up: rate date YYYY-MM-DD")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(os.Stderr, "fx-rates: connect postgres: %v\n", err)
		return 1
	}
	defer pool.Close()
	ops, err := cli.NewFXOpsCLI(fx.NewRepository(pool))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if *from != "" || *to != "" {
		return ops.LookupCommand(ctx, cli.FXLookupOptions{From: *from, To: *to, Date: *date})
	}
	return ops.ImportCommand(ctx, cli.FXImportOptions{Source: *source, Mode: cli.FXImportMode(*mode), JSONOutput: *asJSON})
}

func jobsCommand(ctx context.Context, cfg *app.Config, args []string) int {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	trigger := fs.String("trigger", "", "job to enqueue: "+jobs.TaskLedgerIntegrity+" or "+jobs.TaskIdempotencyCleanup)
	companyID := fs.Int64("company", 0, "company scope for the integrity job, 0 for all")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	ops := cli.NewJobsCLI(cfg.RedisAddr)
	defer ops.Close()
	if *trigger != "" {
		info, err := ops.Trigger(ctx, *trigger, cli.TriggerOptions{
			CompanyID:      *companyID,
			RetentionHours: int(cfg.IdempotencyRetention.Hours()),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
			return 1
		}
		fmt.Printf("enqueued %s as %s on %s\n", info.Type, info.ID, info.Queue)
		return 0
	}
	stats, err := ops.InspectQueue(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "jobs: %v\n", err)
		return 1
	}
	fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
		stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	return 0
}

func redisOrNil(client *redis.Client) redis.UniversalClient {
	if client == nil {
		return nil
	}
	return client
}
