// Package factory wires configuration into ready-to-run agents and the
// stores they share.
package factory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ChamsBouzaiene/dyno/internal/billing"
	"github.com/ChamsBouzaiene/dyno/internal/config"
	"github.com/ChamsBouzaiene/dyno/internal/database"
	"github.com/ChamsBouzaiene/dyno/internal/engine"
	"github.com/ChamsBouzaiene/dyno/internal/progress"
	"github.com/ChamsBouzaiene/dyno/internal/prompts"
	"github.com/ChamsBouzaiene/dyno/internal/providers"
	"github.com/ChamsBouzaiene/dyno/internal/sandbox"
	"github.com/ChamsBouzaiene/dyno/internal/session"
	"github.com/ChamsBouzaiene/dyno/internal/tools"
)

// App holds everything a transport needs to run invocations.
type App struct {
	Config    config.Config
	DB        *database.DB // nil when nothing needs SQLite
	Sessions  session.Store
	Sandboxes *sandbox.Manager
	Jobs      progress.JobStore
	Ledger    billing.Ledger // nil when billing is disabled
	Usage     *billing.SQLiteUsageSink

	agents map[string]*engine.Agent
}

type options struct {
	planner engine.Planner
	hooks   []engine.Hook
}

// Option customises New.
type Option func(*options)

// WithPlanner replaces the configured LLM provider.
func WithPlanner(p engine.Planner) Option {
	return func(o *options) { o.planner = p }
}

// WithHooks adds hooks after the default logger hook.
func WithHooks(hooks ...engine.Hook) Option {
	return func(o *options) { o.hooks = append(o.hooks, hooks...) }
}

// New builds an App from cfg. Callers must Close it.
func New(ctx context.Context, cfg config.Config, opts ...Option) (app *App, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app = &App{Config: cfg, agents: make(map[string]*engine.Agent)}
	defer func() {
		if err != nil {
			app.Close()
		}
	}()

	if needsDatabase(cfg) {
		app.DB, err = database.Open(ctx, cfg.Database.Path)
		if err != nil {
			return nil, err
		}
	}

	db := app.sqlDB()
	app.Sessions, err = session.Open(cfg.Session.Backend, db, cfg.Session.Dir)
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.Jobs = progress.NewSQLiteJobStore(db)
	} else {
		app.Jobs = progress.NewMemoryJobStore()
	}

	app.Sandboxes, err = sandbox.NewManager(ctx, SandboxConfig(cfg.Sandbox))
	if err != nil {
		return nil, fmt.Errorf("sandbox manager: %w", err)
	}

	planner := o.planner
	if planner == nil {
		client, err := providers.New(ProviderConfig(cfg.LLM))
		if err != nil {
			return nil, err
		}
		slog.Info("planner configured", "provider", cfg.LLM.Provider, "model", client.Model())
		planner = client
	}

	var meter engine.Meter
	if cfg.Billing.Enabled {
		meter, err = app.initBilling(db, cfg.Billing)
		if err != nil {
			return nil, err
		}
	}

	var titler engine.Titler
	if t, ok := planner.(engine.Titler); ok && cfg.LLM.Titles {
		titler = t
	}

	hooks := append(engine.DefaultHooks(), o.hooks...)
	executor := tools.NewExecutor(ToolsConfig(cfg.Sandbox))

	for _, variant := range []engine.Variant{engine.BuildVariant(), engine.AskVariant()} {
		maxIterations := cfg.Agent.BuildMaxIterations
		if variant.Name == engine.VariantAsk {
			maxIterations = cfg.Agent.AskMaxIterations
		}
		builder := engine.NewAgentBuilder().
			WithVariant(variant).
			WithMaxIterations(maxIterations).
			WithPlanner(planner).
			WithToolExecutor(executor).
			WithStateStore(app.Sessions).
			WithRetryPolicy(RetryPolicy(cfg.Agent)).
			WithPromptVersion(prompts.Version(cfg.Agent.PromptVersion)).
			WithHooks(hooks)
		if meter != nil {
			builder = builder.WithMeter(meter)
		}
		if titler != nil {
			builder = builder.WithTitler(titler)
		}
		agent, err := builder.Build(ctx)
		if err != nil {
			return nil, fmt.Errorf("build %s agent: %w", variant.Name, err)
		}
		app.agents[variant.Name] = agent
	}
	return app, nil
}

func (a *App) initBilling(db *sql.DB, cfg config.BillingConfig) (engine.Meter, error) {
	if db == nil {
		return nil, errors.New("billing requires database.path")
	}
	var source billing.Source = billing.DefaultPrices
	if cfg.PricingFile != "" {
		source = billing.YAMLFileSource{Path: cfg.PricingFile}
	}
	prices := billing.NewPriceBook(source, cfg.RefreshInterval)
	policy := billing.CreditPolicy{MarginPercent: cfg.MarginPercent, CreditsPerDollar: cfg.CreditsPerDollar}

	a.Usage = billing.NewSQLiteUsageSink(db)
	ledger := billing.NewSQLiteLedger(db, cfg.InitialGrant)
	a.Ledger = ledger
	return billing.NewAccountant(prices, policy, a.Usage, ledger), nil
}

func (a *App) sqlDB() *sql.DB {
	if a.DB == nil {
		return nil
	}
	return a.DB.SQL()
}

func needsDatabase(cfg config.Config) bool {
	if cfg.Database.Path == "" {
		return false
	}
	return cfg.Billing.Enabled || strings.EqualFold(cfg.Session.Backend, session.BackendSQLite)
}

// Agent returns the agent for a variant name ("build" or "ask").
func (a *App) Agent(variant string) (*engine.Agent, error) {
	if variant == "" {
		variant = engine.VariantBuild
	}
	agent, ok := a.agents[variant]
	if !ok {
		return nil, fmt.Errorf("unknown variant %q", variant)
	}
	return agent, nil
}

// Close releases the sandbox manager and the database.
func (a *App) Close() error {
	var errs []error
	if a.Sandboxes != nil {
		errs = append(errs, a.Sandboxes.Close())
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	return errors.Join(errs...)
}
