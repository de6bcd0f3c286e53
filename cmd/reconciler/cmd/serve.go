package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"neoexcelsync/cmd/reconciler/config"
	"neoexcelsync/internal/api"
	"neoexcelsync/internal/auth"
	"neoexcelsync/internal/cache"
	"neoexcelsync/internal/exporter"
	"neoexcelsync/internal/jobs"
	"neoexcelsync/internal/journal"
	"neoexcelsync/internal/parsers"
	"neoexcelsync/internal/reconciler"
	"neoexcelsync/internal/settings"
	"neoexcelsync/internal/splits"
	"neoexcelsync/internal/store"
	"neoexcelsync/pkg/errors"
	"neoexcelsync/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the reconciliation API over HTTP",
	Long: `Serve starts the HTTP API. Configuration comes from NEOSYNC_* environment
variables, optionally loaded from an env file, and from --config.

Without NEOSYNC_DATABASE_URL the login and clients routes answer 503.

Examples:
  reconciler serve
  reconciler serve --addr :9000 --env-file /etc/neosync/.env`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default :8000)")
	serveCmd.Flags().String("env-file", ".env", "env file loaded before reading the configuration")
	rootCmd.AddCommand(serveCmd)
}

// loadEnvFile loads path into the environment. A missing file is not an
// error; variables already set win.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "env_file", path, err)
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	if err := loadEnvFile(envFile); err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		viper.Set(config.KeyAddr, addr)
	}

	logCfg := logger.ServerConfig()
	if viper.GetBool("verbose") {
		logCfg.Level = logger.DebugLevel
	}
	l, err := logger.NewLogger(logCfg)
	if err != nil {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "logger", nil, err)
	}
	logger.SetGlobalLogger(l)
	log := l.WithComponent("serve")

	cfg, err := config.LoadServeConfig(viper.GetViper())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps, cleanup, err := buildDeps(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer cleanup()

	server, err := api.NewServer(cfg.Server, deps)
	if err != nil {
		return err
	}

	var scheduler *jobs.Scheduler
	if db, ok := deps.Clients.(*store.Store); ok {
		scheduler, err = jobs.NewStatusResetScheduler(cfg.StatusReset, db)
		if err != nil {
			return err
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.WithField("next_run", scheduler.Next()).Info("Client status reset scheduled")
	}

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.InternalError(errors.CodeUnexpectedError, "shutdown", err)
	}
	return <-errCh
}

// buildDeps opens every service the API needs. The returned cleanup closes
// what was opened.
func buildDeps(ctx context.Context, cfg *config.ServeConfig, log logger.Logger) (api.Deps, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (api.Deps, func(), error) {
		cleanup()
		return api.Deps{}, func() {}, err
	}

	loader, err := parsers.NewLoader(nil)
	if err != nil {
		return fail(err)
	}
	settingsStore := settings.NewStore(cfg.SettingsFile)
	st, err := settingsStore.Load()
	if err != nil {
		return fail(err)
	}
	rcfg, err := reconciler.ConfigFromSettings(st)
	if err != nil {
		return fail(err)
	}
	svc, err := reconciler.NewReconciliationService(loader, rcfg)
	if err != nil {
		return fail(err)
	}
	exp, err := exporter.NewExporter(nil)
	if err != nil {
		return fail(err)
	}
	results, err := cache.New(cfg.Results)
	if err != nil {
		return fail(err)
	}
	authSvc, err := auth.NewService(cfg.Auth)
	if err != nil {
		return fail(err)
	}

	deps := api.Deps{
		Service:  svc,
		Splits:   splits.NewDetector(loader),
		Settings: settingsStore,
		Exporter: exp,
		Results:  results,
		Auth:     authSvc,
	}

	if cfg.DatabaseURL != "" {
		db, err := store.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, db.Close)
		if err := db.EnsureSchema(ctx); err != nil {
			return fail(err)
		}
		deps.Clients = db
		deps.Users = db
	} else {
		log.Warn("NEOSYNC_DATABASE_URL is not set, login and clients are disabled")
	}

	if cfg.JournalPath != "" {
		j, err := journal.NewSQLite(cfg.JournalPath)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func() {
			if err := j.Close(); err != nil {
				log.WithError(err).Warn("Failed to close run journal")
			}
		})
		deps.Journal = j
	}

	return deps, cleanup, nil
}
