package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/harun/studio/internal/config"
	"github.com/harun/studio/internal/logger"
	"github.com/harun/studio/internal/observability"
	"github.com/harun/studio/internal/tracing"
	"github.com/harun/studio/pkg/agent"
	"github.com/harun/studio/pkg/csvagent"
	"github.com/harun/studio/pkg/execlog"
	"github.com/harun/studio/pkg/hooks"
	"github.com/harun/studio/pkg/imagegen"
	"github.com/harun/studio/pkg/jobs"
	"github.com/harun/studio/pkg/prompts"
	"github.com/harun/studio/pkg/storage"
	"github.com/harun/studio/pkg/studio"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// app holds everything a command needs, opened from the config file.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	logger  zerolog.Logger
	jobs    *jobs.SQLiteStore
	storage *storage.Store
	prompts *prompts.Loader
	hooks   *hooks.Manager

	// set by withAgents
	runner *agent.Runner
	csv    *csvagent.Agent

	metrics *http.Server
	tracing bool
	audit   bool
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = logLevel
	}
	if metricsAddr != "" {
		cfg.Metrics.Addr = metricsAddr
	}
	return cfg, nil
}

// openApp opens the stores. Agents are wired separately by withAgents so
// commands that only read jobs or add sources run without AI credentials.
func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, log: log, logger: log.Component("cli")}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if cfg.Tracing.Enabled {
		if err := tracing.InitOpenTelemetry(cfg.Tracing.ServiceName, cfg.Tracing.SampleRatio); err != nil {
			return nil, fmt.Errorf("failed to init tracing: %w", err)
		}
		a.tracing = true
	}
	if cfg.Logging.Audit {
		if err := observability.InitAuditLogger(cfg.AuditLogPath()); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
		a.audit = true
	}
	if cfg.Metrics.Addr != "" {
		a.serveMetrics(cfg.Metrics.Addr)
	}

	a.jobs, err = jobs.Open(cfg.DatabasePath(), log.GetZerolog())
	if err != nil {
		return nil, err
	}
	a.storage, err = storage.New(afero.NewOsFs(), cfg.ProjectsDir(), log.GetZerolog())
	if err != nil {
		return nil, err
	}

	hookList := make([]hooks.Hook, 0, len(cfg.Hooks))
	for _, h := range cfg.Hooks {
		hookList = append(hookList, hooks.Hook{
			ID:      h.ID,
			Event:   h.Event,
			Script:  h.Script,
			Timeout: time.Duration(h.TimeoutSeconds) * time.Second,
		})
	}
	a.hooks, err = hooks.NewManager(hookList, log.GetZerolog())
	if err != nil {
		return nil, fmt.Errorf("invalid hooks: %w", err)
	}

	a.prompts = prompts.NewLoader(cfg.Prompts.Dir, log.GetZerolog())
	if cfg.Prompts.Watch && cfg.Prompts.Dir != "" {
		if err := a.prompts.Watch(); err != nil {
			a.logger.Warn().Err(err).Msg("Prompt overrides will not reload")
		}
	}

	ok = true
	return a, nil
}

// withAgents builds the runner and the CSV analyzer shared by every agent.
func (a *app) withAgents() error {
	if err := a.cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	executions, err := execlog.New(afero.NewOsFs(), a.cfg.ProjectsDir(), a.log.GetZerolog())
	if err != nil {
		return err
	}

	profiles := make([]agent.AuthProfile, 0, len(a.cfg.AI.Profiles))
	for _, p := range a.cfg.AI.Profiles {
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    p.Model,
			Priority: p.Priority,
		})
	}

	a.runner, err = agent.NewRunner(agent.Config{
		Jobs:            a.jobs,
		Executions:      executions,
		Logger:          a.log.GetZerolog(),
		AuthProfiles:    profiles,
		ProviderFactory: &agent.ProviderFactory{},
		MaxRetries:      a.cfg.Runner.MaxRetries,
		RetryBaseDelay:  time.Duration(a.cfg.Runner.RetryBaseDelayMs) * time.Millisecond,
		ToolTimeout:     time.Duration(a.cfg.Runner.ToolTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("failed to create agent runner: %w", err)
	}

	a.csv, err = csvagent.New(csvagent.Config{
		Runner:   a.runner,
		Storage:  a.storage,
		Prompts:  a.prompts,
		Override: a.cfg.Override(config.AgentCSVAnalyzer),
		Logger:   a.log.GetZerolog(),
	})
	if err != nil {
		return fmt.Errorf("failed to create csv analyzer: %w", err)
	}
	return nil
}

// deps is the collaborator set handed to every artifact service.
func (a *app) deps() studio.Deps {
	return studio.Deps{
		Runner:  a.runner,
		Jobs:    a.jobs,
		Storage: a.storage,
		Prompts: a.prompts,
		Logger:  a.log.GetZerolog(),
	}
}

// images returns nil when no key is configured; the email agent then
// builds templates without generated images.
func (a *app) images(ctx context.Context) imagegen.Generator {
	key := a.cfg.ImageAPIKey()
	if key == "" {
		a.logger.Info().Msg("No image API key configured, email images disabled")
		return nil
	}
	gen, err := imagegen.NewImagen(ctx, key, a.cfg.Images.Model, a.log.GetZerolog())
	if err != nil {
		a.logger.Warn().Err(err).Msg("Image generator unavailable")
		return nil
	}
	return gen
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.MetricsHandler())
	a.metrics = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := a.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error().Err(err).Str("addr", addr).Msg("Metrics server stopped")
		}
	}()
	a.logger.Info().Str("addr", addr).Msg("Serving metrics")
}

// Close releases everything openApp acquired, in reverse order.
func (a *app) Close() error {
	var errs []error
	if a.prompts != nil {
		errs = append(errs, a.prompts.Close())
	}
	if a.jobs != nil {
		errs = append(errs, a.jobs.Close())
	}
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		errs = append(errs, a.metrics.Shutdown(ctx))
		cancel()
	}
	if a.audit {
		errs = append(errs, observability.GetAuditLogger().Close())
	}
	if a.tracing {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, tracing.ShutdownOpenTelemetry(ctx))
		cancel()
	}
	if a.log != nil {
		errs = append(errs, a.log.Close())
	}
	return errors.Join(errs...)
}

// projectPath is a display path for an artifact under the data directory.
func (a *app) projectPath(projectID string, elems ...string) string {
	return filepath.Join(append([]string{a.cfg.ProjectsDir(), projectID}, elems...)...)
}
