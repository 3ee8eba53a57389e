package cmd

import (
	"errors"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/relindex/internal/catalog"
	"github.com/Aman-CERP/relindex/internal/config"
	"github.com/Aman-CERP/relindex/internal/index"
	"github.com/Aman-CERP/relindex/internal/logging"
	"github.com/Aman-CERP/relindex/internal/store"
	"github.com/Aman-CERP/relindex/internal/telemetry"
)

// env is the set of services one command invocation works with.
type env struct {
	cfg     *config.Config
	logger  *slog.Logger
	catalog *catalog.Store
	store   store.Transport
	sync    *index.Synchronizer
	metrics *telemetry.Metrics

	logCleanup func()
}

// loadConfig loads the effective config for the working directory.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return config.Load(wd, opts.configPath)
}

// openEnv loads config and opens the catalog and the index transport.
// Callers must call close.
func openEnv(cmd *cobra.Command, opts *globalOptions) (*env, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	e := &env{cfg: cfg, metrics: telemetry.New()}
	if opts.debug {
		e.logger = slog.Default()
	} else {
		logger, cleanup, err := logging.Setup(logging.Config{Level: cfg.LogLevel, WriteToStderr: true})
		if err != nil {
			return nil, err
		}
		e.logger, e.logCleanup = logger, cleanup
	}

	e.catalog, err = catalog.Open(cmd.Context(), cfg.Catalog.Path)
	if err != nil {
		e.close()
		return nil, err
	}

	t, err := store.NewTransport(cfg.Engine.DataDir, cfg.Engine.Backend)
	if err != nil {
		e.close()
		return nil, err
	}
	e.store = store.WithTimeout(t, cfg.Engine.Timeout)

	e.sync = index.NewSynchronizer(e.store, e.catalog, index.Config{
		Indexes: cfg.Indexes,
		LockDir: cfg.Engine.DataDir,
		Logger:  e.logger,
	})
	return e, nil
}

// close releases everything openEnv acquired and exports metrics when a
// textfile is configured.
func (e *env) close() error {
	var errs []error
	if e.metrics != nil && e.cfg != nil {
		if err := e.metrics.WriteTextfile(e.cfg.Telemetry.Textfile); err != nil {
			errs = append(errs, err)
		}
	}
	if e.store != nil {
		errs = append(errs, e.store.Close())
	}
	if e.catalog != nil {
		errs = append(errs, e.catalog.Close())
	}
	if e.logCleanup != nil {
		e.logCleanup()
	}
	return errors.Join(errs...)
}
