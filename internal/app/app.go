// Package app initializes and runs the sync daemon. It wires the local
// SQLite replica, the remote HTTP store, the ledger, the integrity checker
// and the sync engine, handles graceful shutdown, and dispatches the
// one-shot maintenance subcommands.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dimyferdiana/expense-tracker-sub001/internal/backup"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/config"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/integrity"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/ledger"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/logging"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/observability"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store/remote"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/store/sqlite"
	"github.com/dimyferdiana/expense-tracker-sub001/internal/syncer"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	local    *sqlite.Store
	remote   *remote.Store
	ledger   *ledger.Manager
	checker  *integrity.Checker
	syncer   *syncer.Service
	backup   *backup.Manager
	registry *prometheus.Registry
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {

	sl := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	logger := logging.NewSlogLogger(sl)

	local, err := sqlite.Open(ctx, cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rs := remote.New(cfg.RemoteBaseURL, cfg.RemoteTimeout)

	guard := &store.Guard{}
	checker := integrity.New(local, cfg.AccountID, logger)
	lm := ledger.New(local, guard, cfg.AccountID, logger)
	bm := backup.New(local, guard, cfg.AccountID, logger)

	registry := prometheus.NewRegistry()
	metrics := observability.NewSyncMetrics(registry)

	sc := syncer.New(local, rs, guard, checker, cfg.AccountID, &syncer.Config{
		BaseInterval:       cfg.SyncBaseInterval,
		MaxInterval:        cfg.SyncMaxInterval,
		FailureLimit:       cfg.SyncFailureLimit,
		TombstoneRetention: cfg.TombstoneRetention,
	}, logger, metrics)

	return &App{
		config:   cfg,
		logger:   logger,
		local:    local,
		remote:   rs,
		ledger:   lm,
		checker:  checker,
		syncer:   sc,
		backup:   bm,
		registry: registry,
	}, nil
}

// Ledger exposes the transaction manager for embedding callers.
func (app *App) Ledger() *ledger.Manager { return app.ledger }

// Syncer exposes the sync engine for embedding callers.
func (app *App) Syncer() *syncer.Service { return app.syncer }

func (app *App) Close() error {
	return app.local.Close()
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startMetricsServer(ctx context.Context) *http.Server {
	if app.config.MetricsAddr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: app.config.MetricsAddr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.logger.Error(ctx, "metrics server stopped", "error", err.Error())
		}
	}()
	return srv
}

// Run dispatches a subcommand. With no arguments (or "run") it starts the
// background scheduler and blocks until the context is cancelled or an OS
// signal arrives.
func (app *App) Run(ctx context.Context, args []string) error {
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}

	switch cmd {
	case "run":
		return app.runDaemon(ctx)
	case "sync":
		return app.runSync(ctx, args)
	case "validate":
		return app.runValidate(ctx)
	case "fix":
		return app.runFix(ctx)
	case "export":
		return app.runExport(ctx, args)
	case "import":
		return app.runImport(ctx, args)
	case "recalc":
		return app.runRecalc(ctx, args)
	case "recurring":
		return app.runRecurring(ctx)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (app *App) runDaemon(ctx context.Context) error {

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)
	srv := app.startMetricsServer(ctx)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.syncer.Run(ctx); err != nil && ctx.Err() == nil {
			app.logger.Error(ctx, "scheduler stopped", "error", err.Error())
			cancelFunc()
		}
	}()

	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return nil
}

func (app *App) runSync(ctx context.Context, args []string) error {
	mode := syncer.ModeBidirectional
	if len(args) > 0 {
		switch args[0] {
		case "upload":
			mode = syncer.ModeUpload
		case "download":
			mode = syncer.ModeDownload
		case "bidirectional":
		default:
			return fmt.Errorf("unknown sync mode %q", args[0])
		}
	}
	res, err := app.syncer.Sync(ctx, mode)
	if err != nil {
		return err
	}
	fmt.Printf("sync complete: uploaded=%d downloaded=%d conflicts=%d in %s\n",
		res.Uploaded, res.Downloaded, len(res.Conflicts), res.Duration)
	return nil
}

func (app *App) runValidate(ctx context.Context) error {
	res, err := app.checker.CheckReferentialIntegrity(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("checked %d records, %d issues\n", res.Checked, len(res.Issues))
	for _, issue := range res.Issues {
		fmt.Printf("  [%s] %s %s %s: %s\n",
			issue.Severity, issue.Type, issue.EntityType, issue.EntityID, issue.Detail)
	}
	return nil
}

func (app *App) runFix(ctx context.Context) error {
	res, err := app.checker.CheckReferentialIntegrity(ctx)
	if err != nil {
		return err
	}
	rep, err := app.checker.AutoFix(ctx, res.Issues)
	if err != nil {
		return err
	}
	fmt.Printf("fixed %d issues, %d skipped\n", rep.Fixed, rep.Skipped)
	return nil
}

func (app *App) runExport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("export: missing file path")
	}
	if err := app.backup.WriteFile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("backup written to %s\n", args[0])
	return nil
}

func (app *App) runImport(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("import: missing file path")
	}
	if err := app.backup.ReadFile(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("backup restored from %s\n", args[0])
	return nil
}

func (app *App) runRecalc(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("recalc: missing wallet id")
	}
	balance, err := app.ledger.RecalculateWalletBalance(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Printf("wallet %s balance: %s\n", args[0], balance.String())
	return nil
}

func (app *App) runRecurring(ctx context.Context) error {
	n, err := app.ledger.ApplyRecurringRules(ctx, time.Now())
	if err != nil {
		return err
	}
	fmt.Printf("materialized %d recurring transactions\n", n)
	return nil
}
