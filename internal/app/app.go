// Package app assembles the services of complyio from the configuration.
package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/api"
	"github.com/complyio/complyio/internal/archive"
	"github.com/complyio/complyio/internal/azdo"
	"github.com/complyio/complyio/internal/breaker"
	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/exclusion"
	"github.com/complyio/complyio/internal/metrics"
	"github.com/complyio/complyio/internal/registration"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/scan"
	"github.com/complyio/complyio/internal/sm9"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/internal/store/aztable"
	"github.com/complyio/complyio/internal/store/queue"
)

// App holds the wired services.
type App struct {
	Config        *config.Config
	Logger        hclog.Logger
	Metrics       *metrics.Metrics
	Client        *azdo.Client
	Store         store.Store
	Publisher     store.Publisher
	Profiles      rules.Profiles
	Processor     *rules.Processor
	Registrations *registration.Service
	Deviations    *exclusion.DeviationService
	Exclusions    *exclusion.Service
	Orchestrator  *scan.Orchestrator
	Reconcile     *scan.Reconciliation
	Gate          *breaker.Gate
	// SM9 is nil when no SM9 base URL is configured.
	SM9      *sm9.Client
	Importer *registration.Importer
	Changes  *sm9.ChangeCloser
}

// New wires every service. Storage is in memory unless the azure backend is
// configured.
func New(ctx context.Context, cfg *config.Config, logger hclog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Metrics: metrics.New()}

	profiles, err := rules.ProfilesFromConfig(cfg.RuleProfiles)
	if err != nil {
		return nil, fmt.Errorf("invalid rule profiles: %w", err)
	}
	a.Profiles = profiles

	if err := a.openStorage(ctx); err != nil {
		return nil, err
	}

	a.Client, err = azdo.New(cfg, logger.Named("azdo"), cfg.AzureDevOps.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure DevOps client: %w", err)
	}

	if cfg.SM9.BaseURL != "" {
		a.SM9, err = sm9.New(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.Importer = registration.NewImporter(a.SM9, a.Store, logger.Named("import"), a.Metrics)
		a.Changes = sm9.NewChangeCloser(a.SM9, logger.Named("sm9"))
	}

	var cmdb registration.CMDB
	if a.SM9 != nil {
		cmdb = a.SM9
	}
	a.Registrations = registration.NewService(a.Store, cmdb, profiles, logger.Named("registration"))
	a.Deviations = exclusion.NewDeviationService(a.Store, a.Publisher, logger.Named("deviation"))
	a.Exclusions, err = exclusion.NewService(a.Store, cfg, logger.Named("exclusion"))
	if err != nil {
		return nil, fmt.Errorf("invalid exclusion configuration: %w", err)
	}

	loader := scan.NewLoader(a.Client, logger.Named("loader"))
	processor, reconcile := rules.Catalog(a.Client.Security, loader.Fresh())
	a.Processor = processor
	engine := compliancy.NewEngine(processor, reconcile, a.Store, a.Exclusions, logger.Named("engine"), a.Metrics)

	deps := scan.Dependencies{
		Client:        a.Client,
		Loader:        loader,
		Engine:        engine,
		Registrations: a.Store,
		Reports:       a.Store,
		Profiles:      profiles,
		Retry:         scan.NewRetryPolicy(config.GetRetry(cfg), logger.Named("retry"), a.Metrics),
		Concurrency:   config.GetScanConcurrency(cfg),
		Logger:        logger.Named("scan"),
		Metrics:       a.Metrics,
	}
	archiver, err := archive.New(cfg, logger.Named("archive"))
	if err != nil {
		return nil, err
	}
	if archiver != nil {
		deps.Archiver = archiver
	}
	a.Orchestrator = scan.NewOrchestrator(deps)
	a.Reconcile = scan.NewReconciliation(reconcile, loader.Fresh(), logger.Named("reconcile"))

	a.Gate = breaker.NewGate(cfg, a.Client, a.Registrations, a.Exclusions, a.Store, a.Publisher, logger.Named("breaker"), a.Metrics)
	return a, nil
}

func (a *App) openStorage(ctx context.Context) error {
	switch config.GetStorageBackend(a.Config) {
	case config.StorageBackendAzure:
		tables, err := aztable.New(ctx, a.Config.Storage.ConnectionString, a.Logger.Named("aztable"))
		if err != nil {
			return err
		}
		publisher, err := queue.New(a.Config.Storage.ConnectionString, a.Logger.Named("queue"))
		if err != nil {
			return err
		}
		a.Store, a.Publisher = tables, publisher
	default:
		memory := store.NewMemory()
		a.Store, a.Publisher = memory, memory
		a.Logger.Warn("using in-memory storage, state is lost on exit")
	}
	return nil
}

// APIServices returns the collaborators of the HTTP API.
func (a *App) APIServices() api.Services {
	services := api.Services{
		Registrations: a.Registrations,
		Deviations:    a.Deviations,
		Exclusions:    a.Exclusions,
		Breaker:       a.Gate,
		Reconcile:     a.Reconcile,
		Metrics:       a.Metrics,
	}
	if a.Changes != nil {
		services.Changes = a.Changes
	}
	return services
}

// Close releases background resources.
func (a *App) Close() {
	if a.Client != nil {
		a.Client.Close()
	}
}
