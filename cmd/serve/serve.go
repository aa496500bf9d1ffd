package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/complyio/complyio/internal/api"
	"github.com/complyio/complyio/internal/app"
	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/logger"
	"github.com/complyio/complyio/internal/schedule"
)

// RunOptionsServe holds the arguments for the serve command.
type RunOptionsServe struct {
	Addr       string
	NoSchedule bool
}

var (
	AppConfig    *config.Config
	serveOptions RunOptionsServe
)

// ServeCmd represents the serve command.
var ServeCmd = &cobra.Command{
	Use:                   "serve [--addr ADDRESS] [--no-schedule]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Serves the HTTP API and runs the scheduled registration import and scan",
	Example: `  # Serving on the configured address with the configured schedules
  complyio serve

  # Serving only the API on port 9090
  complyio serve --addr :9090 --no-schedule`,
	RunE: runServeCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func runServeCommand(cmd *cobra.Command, args []string) error {
	logger := logger.NewLogger(AppConfig, "core-serve")
	server := config.GetServer(AppConfig)
	if serveOptions.Addr != "" {
		server.Addr = serveOptions.Addr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, AppConfig, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	g, ctx := errgroup.WithContext(ctx)

	if !serveOptions.NoSchedule {
		scheduler, err := newScheduler(a, server, logger)
		if err != nil {
			logger.Error("failed to schedule jobs", "error", err)
			return err
		}
		g.Go(func() error {
			scheduler.Run(ctx)
			return nil
		})
	}

	apiServer := api.NewServer(a.APIServices(), logger.Named("api"))
	g.Go(func() error {
		return apiServer.ListenAndServe(ctx, server.Addr)
	})

	if err := g.Wait(); err != nil {
		logger.Error("serve command failed", "error", err)
		return err
	}
	logger.Info("serve command stopped")
	return nil
}

func newScheduler(a *app.App, server config.Server, logger hclog.Logger) (*schedule.Scheduler, error) {
	scheduler := schedule.New(logger.Named("schedule"))

	if a.Importer != nil {
		if err := scheduler.Add(server.RegistrationImportSchedule, "RegistrationImport", func(ctx context.Context) error {
			_, err := a.Importer.Import(ctx)
			return err
		}); err != nil {
			return nil, err
		}
	} else {
		logger.Warn("sm9 is not configured, registration import is disabled")
	}

	organizations := a.Config.AzureDevOps.Organizations
	if len(organizations) == 0 {
		logger.Warn("no organizations configured, scheduled scan is disabled")
		return scheduler, nil
	}
	if err := scheduler.Add(server.ScanSchedule, "ScanOrganizations", func(ctx context.Context) error {
		failed := 0
		for _, report := range a.Orchestrator.ScanOrganizations(ctx, organizations) {
			failed += len(report.Errors)
		}
		if failed > 0 {
			return fmt.Errorf("%d project scan(s) failed", failed)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return scheduler, nil
}

func init() {
	ServeCmd.Flags().StringVar(&serveOptions.Addr, "addr", "", "Address the API listens on. Defaults to server.addr of the configuration or :8080.")
	ServeCmd.Flags().BoolVar(&serveOptions.NoSchedule, "no-schedule", false, "Serve the API without the scheduled import and scan.")
	ServeCmd.Flags().BoolP("help", "h", false, "Show help for the serve command.")
}
