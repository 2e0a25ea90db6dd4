package cli

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/soyeahso/querydesk/internal/agent"
	"github.com/soyeahso/querydesk/internal/config"
	"github.com/soyeahso/querydesk/internal/docstore"
	"github.com/soyeahso/querydesk/internal/export"
	"github.com/soyeahso/querydesk/internal/gateway"
	"github.com/soyeahso/querydesk/internal/hooks"
	"github.com/soyeahso/querydesk/internal/llm"
	"github.com/soyeahso/querydesk/internal/logging"
	"github.com/soyeahso/querydesk/internal/sqlstore"
	"github.com/soyeahso/querydesk/internal/store"
	"github.com/soyeahso/querydesk/internal/telemetry"
	"github.com/soyeahso/querydesk/internal/tool"
	"github.com/soyeahso/querydesk/internal/tools"
	"github.com/soyeahso/querydesk/internal/version"
)

// BuildOptions select which parts of the application Build wires.
type BuildOptions struct {
	// Runners builds the LLM client, orchestrator runners, tracing and the
	// audit log. Without it only the backends and tool registries exist.
	Runners bool
}

// App holds the wired backends, tool registries and runners.
type App struct {
	Config     config.Config
	Hooks      *hooks.Manager
	Exports    *export.Sink
	Registries map[string]*tool.Registry // profile name → tools
	Runners    map[string]*agent.Runner  // profile name → runner
	Checks     map[string]gateway.HealthCheck

	closers []func(context.Context) error
	log     *logging.Logger
}

// Build connects every enabled backend and assembles the profiles. The
// caller must Close the returned App.
func Build(ctx context.Context, cfg config.Config, p config.Paths, log *logging.Logger, opts BuildOptions) (*App, error) {
	a := &App{
		Config:     cfg,
		Hooks:      hooks.NewManager(log),
		Registries: make(map[string]*tool.Registry),
		Runners:    make(map[string]*agent.Runner),
		Checks:     make(map[string]gateway.HealthCheck),
		log:        log.Sub("app"),
	}
	if err := a.build(ctx, p, opts); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, p config.Paths, opts BuildOptions) error {
	cfg := a.Config

	artifacts, err := a.openArtifactStore(ctx)
	if err != nil {
		return err
	}
	a.Exports = export.NewSink(artifacts, a.log,
		export.WithHooks(a.Hooks),
		export.WithMaxRows(cfg.Export.MaxRows),
	)
	toolOpts := tools.Options{
		FixedShape: cfg.Documents.FixedShapeTools,
		PublicURL:  cfg.Gateway.PublicURL,
	}

	prompts := make(map[string]string)

	if cfg.Documents.Enabled {
		svc, backend, err := docstore.Open(ctx, cfg.Documents, a.log)
		if err != nil {
			return fmt.Errorf("opening document store: %w", err)
		}
		a.closers = append(a.closers, backend.Close)
		a.Checks["documents"] = svc.Ping

		reg, err := tools.DocumentsRegistry(svc, a.Exports, toolOpts)
		if err != nil {
			return err
		}
		a.Registries[agent.ProfileDocuments] = reg
		prompts[agent.ProfileDocuments] = agent.BuildDocumentsPrompt(agent.DocumentsPromptConfig{
			Collection:       svc.Collection(),
			NormalizedFields: svc.NormalizedFields(),
			MaxLimit:         svc.MaxLimit(),
		})
	}

	if cfg.SQL.Enabled {
		svc, err := sqlstore.Open(ctx, cfg.SQL, a.log)
		if err != nil {
			return fmt.Errorf("opening relational store: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return svc.Close() })
		a.Checks["sql"] = svc.Ping

		reg, err := tools.SQLRegistry(svc, a.Exports, toolOpts)
		if err != nil {
			return err
		}
		a.Registries[agent.ProfileSQL] = reg
		prompts[agent.ProfileSQL] = agent.BuildSQLPrompt(agent.SQLPromptConfig{
			Dialect: svc.Dialect().Name(),
			MaxRows: svc.MaxRows(),
		})
	}

	if len(a.Registries) == 0 {
		return &config.ConfigError{Message: "no profile enabled: enable documents or sql"}
	}
	if !opts.Runners {
		return nil
	}

	shutdown, err := telemetry.Setup(ctx, cfg.Tracing, version.Version, a.log)
	if err != nil {
		return err
	}
	a.closers = append(a.closers, func(ctx context.Context) error { return shutdown(ctx) })

	if cfg.Audit.Enabled {
		path := cfg.Audit.Path
		if path == "" {
			path = p.Audit
		}
		db, err := store.Open(path, a.log)
		if err != nil {
			return fmt.Errorf("opening audit log: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
		a.Checks["audit"] = func(context.Context) error { return db.Ping() }
		store.NewAuditLog(db).Attach(a.Hooks)
	}

	providers, err := llm.NewRegistryFromConfig(cfg.LLM, a.log)
	if err != nil {
		return fmt.Errorf("configuring LLM provider: %w", err)
	}
	client := llm.NewFailoverClient(providers, cfg.LLM.Provider, cfg.LLM.Fallbacks, a.log)
	runnerCfg := agent.ConfigFromSettings(cfg.Orchestrator, cfg.LLM.Model)

	for name, reg := range a.Registries {
		a.Runners[name] = agent.NewRunner(runnerCfg, client, agent.NewMemorySessionStore(),
			agent.Profile{Name: name, SystemPrompt: prompts[name], Tools: reg},
			a.log, agent.WithHooks(a.Hooks))
	}
	a.log.Info().
		Strs("profiles", a.Profiles()).
		Str("provider", cfg.LLM.Provider).
		Str("model", cfg.LLM.Model).
		Msg("orchestrator ready")
	return nil
}

func (a *App) openArtifactStore(ctx context.Context) (export.ArtifactStore, error) {
	retention := time.Duration(a.Config.Export.RetentionMinutes) * time.Minute
	if retention <= 0 {
		retention = export.DefaultRetention
	}
	switch a.Config.Export.Store {
	case "redis":
		rs, err := export.NewRedisStore(ctx, export.RedisOptions{
			Addr:      a.Config.Export.RedisAddr,
			Password:  a.Config.Export.RedisPassword,
			DB:        a.Config.Export.RedisDB,
			Retention: retention,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rs.Close() })
		return rs, nil
	default:
		return export.NewMemoryStore(retention, nil), nil
	}
}

// Profiles returns the sorted names of the enabled profiles.
func (a *App) Profiles() []string {
	names := make([]string, 0, len(a.Registries))
	for n := range a.Registries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Runner returns the runner of a profile.
func (a *App) Runner(profile string) (*agent.Runner, error) {
	r, ok := a.Runners[profile]
	if !ok {
		return nil, fmt.Errorf("unknown profile %q (available: %v)", profile, a.Profiles())
	}
	return r, nil
}

// GatewayOptions serves every runner, the export sink and the health
// checks.
func (a *App) GatewayOptions() []gateway.ServerOption {
	opts := []gateway.ServerOption{
		gateway.WithHooks(a.Hooks),
		gateway.WithExports(a.Exports),
	}
	for _, name := range a.Profiles() {
		if r, ok := a.Runners[name]; ok {
			opts = append(opts, gateway.WithProfile(r))
		}
	}
	for name, check := range a.Checks {
		opts = append(opts, gateway.WithHealthCheck(name, check))
	}
	return opts
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.log.Warn().Err(err).Msg("close failed")
		}
	}
	a.closers = nil
}
