package scan

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/complyio/complyio/cmd/version"
	"github.com/complyio/complyio/internal/app"
	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/logger"
	"github.com/complyio/complyio/internal/sarif"
	"github.com/complyio/complyio/internal/scan"
	"github.com/complyio/complyio/pkg/shared/errors"
	"github.com/complyio/complyio/pkg/shared/files"
)

// Report formats.
const (
	FormatJSON  = "json"
	FormatSARIF = "sarif"
)

// ExitCodeScanErrors is returned when at least one project could not be scanned.
const ExitCodeScanErrors = 2

// RunOptionsScan holds the arguments for the scan command.
type RunOptionsScan struct {
	Organizations []string
	ProjectID     string
	OutputPath    string
	Format        string
	Threads       int
}

var (
	AppConfig        *config.Config
	scanOptions      RunOptionsScan
	exampleScanUsage = `  # Scanning every project of an organization
  complyio scan --organization raboweb

  # Scanning a single project and writing the report to a folder
  complyio scan -o raboweb -p 6d2d5b2e-7c47-4d8c-9d1b-0d1c2c3b4a59 --output /path/to/reports

  # Scanning the organizations of the configuration file as SARIF with 8 concurrent project scans
  complyio scan --format sarif --output /path/to/report.sarif -j 8`
)

// ScanCmd represents the scan command.
var ScanCmd = &cobra.Command{
	Use:                   "scan [--organization/-o ORG]... [--project/-p PROJECT_ID] [--output PATH] [--format json|sarif] [-j THREADS]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Example:               exampleScanUsage,
	Short:                 "Scans organizations or a single project and reports their compliancy",
	RunE:                  runScanCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func runScanCommand(cmd *cobra.Command, args []string) error {
	logger := logger.NewLogger(AppConfig, "core-scan")

	if err := validateScanArgs(&scanOptions, AppConfig); err != nil {
		logger.Error("invalid scan arguments", "error", err)
		return err
	}
	if scanOptions.Threads > 0 {
		AppConfig.Scan.Concurrency = scanOptions.Threads
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, AppConfig, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	projects, scanErr := runScan(ctx, a.Orchestrator, scanOptions)

	if err := writeResult(cmd, projects, scanOptions); err != nil {
		logger.Error("failed to write result", "error", err)
		return err
	}
	if scanErr != nil {
		logger.Error("scan command failed", "error", scanErr)
		return errors.NewCommandError(projects, scanErr, ExitCodeScanErrors)
	}

	logger.Info("scan command completed successfully", "projects", len(projects))
	return nil
}

// runScan returns every project report. The error lists failed projects.
func runScan(ctx context.Context, orchestrator *scan.Orchestrator, options RunOptionsScan) ([]*compliancy.ProjectReport, error) {
	if options.ProjectID != "" {
		report, err := orchestrator.ScanProject(ctx, options.Organizations[0], options.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("scan of project %s failed: %w", options.ProjectID, err)
		}
		return []*compliancy.ProjectReport{report}, nil
	}

	var projects []*compliancy.ProjectReport
	failed := 0
	for _, orgReport := range orchestrator.ScanOrganizations(ctx, options.Organizations) {
		for i := range orgReport.Projects {
			projects = append(projects, &orgReport.Projects[i])
		}
		failed += len(orgReport.Errors)
	}
	if failed > 0 {
		return projects, fmt.Errorf("%d project scan(s) failed", failed)
	}
	return projects, nil
}

func render(projects []*compliancy.ProjectReport, format string) ([]byte, error) {
	if format == FormatSARIF {
		report, err := sarif.FromReports(projects, version.CoreVersion)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(report, "", "  ")
	}
	if projects == nil {
		projects = []*compliancy.ProjectReport{}
	}
	return json.MarshalIndent(projects, "", "  ")
}

func writeResult(cmd *cobra.Command, projects []*compliancy.ProjectReport, options RunOptionsScan) error {
	data, err := render(projects, options.Format)
	if err != nil {
		return fmt.Errorf("failed to render report: %w", err)
	}
	if options.OutputPath == "" {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	path, _, err := files.OutputPath(options.OutputPath, defaultFileName(options))
	if err != nil {
		return err
	}
	return files.WriteFile(path, data)
}

func defaultFileName(options RunOptionsScan) string {
	name := "complyio-" + options.Organizations[0]
	if options.ProjectID != "" {
		name += "-" + options.ProjectID
	}
	return name + "." + options.Format
}

func init() {
	ScanCmd.Flags().StringSliceVarP(&scanOptions.Organizations, "organization", "o", nil, "Azure DevOps organization to scan. Defaults to the organizations of the configuration file.")
	ScanCmd.Flags().StringVarP(&scanOptions.ProjectID, "project", "p", "", "Id of a single project to scan. Requires exactly one organization.")
	ScanCmd.Flags().StringVar(&scanOptions.OutputPath, "output", "", "Path to the output file or directory. The report is printed when empty.")
	ScanCmd.Flags().StringVarP(&scanOptions.Format, "format", "f", FormatJSON, "Format of the report: json or sarif.")
	ScanCmd.Flags().IntVarP(&scanOptions.Threads, "threads", "j", 0, "Number of projects scanned concurrently. Defaults to scan.concurrency of the configuration.")
	ScanCmd.Flags().BoolP("help", "h", false, "Show help for the scan command.")
}
