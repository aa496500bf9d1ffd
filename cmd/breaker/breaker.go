package breaker

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/complyio/complyio/internal/app"
	"github.com/complyio/complyio/internal/breaker"
	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/logger"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// ExitCodeBlocked is returned when the gate blocks the run.
const ExitCodeBlocked = 3

// RunOptionsBreaker holds the arguments for the breaker command.
type RunOptionsBreaker struct {
	Organization string
	ProjectID    string
	RunID        int
	PipelineType string
	StageID      string
}

var (
	AppConfig      *config.Config
	breakerOptions RunOptionsBreaker
)

// BreakerCmd represents the breaker command.
var BreakerCmd = &cobra.Command{
	Use:                   "breaker --organization ORG --project PROJECT_ID --run RUN_ID [--type build|release] [--stage STAGE_ID]",
	SilenceUsage:          true,
	DisableFlagsInUseLine: true,
	Short:                 "Decides whether a pipeline run may deploy to production",
	Example: `  # Checking the production stage of a YAML pipeline run
  complyio breaker --organization raboweb --project p1 --run 4711 --stage prod

  # Checking a classic release
  complyio breaker --organization raboweb --project p1 --run 88 --type release`,
	RunE: runBreakerCommand,
}

// Init initializes the global configuration variable.
func Init(cfg *config.Config) {
	AppConfig = cfg
}

func validateBreakerArgs(options *RunOptionsBreaker) error {
	if options.Organization == "" {
		return fmt.Errorf("the 'organization' flag must be specified")
	}
	if options.ProjectID == "" {
		return fmt.Errorf("the 'project' flag must be specified")
	}
	if options.RunID <= 0 {
		return fmt.Errorf("the 'run' flag must be a positive integer")
	}
	switch options.PipelineType {
	case "", "build", "release":
	default:
		return fmt.Errorf("the 'type' flag must be build or release")
	}
	return nil
}

func runBreakerCommand(cmd *cobra.Command, args []string) error {
	logger := logger.NewLogger(AppConfig, "core-breaker")

	if err := validateBreakerArgs(&breakerOptions); err != nil {
		logger.Error("invalid breaker arguments", "error", err)
		return err
	}

	a, err := app.New(cmd.Context(), AppConfig, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		return err
	}
	defer a.Close()

	result, err := a.Gate.Check(cmd.Context(), breaker.Request{
		Organization: breakerOptions.Organization,
		ProjectID:    breakerOptions.ProjectID,
		RunID:        breakerOptions.RunID,
		PipelineType: breakerOptions.PipelineType,
		StageID:      breakerOptions.StageID,
	})
	if err != nil {
		logger.Error("breaker check failed", "error", err)
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if result.Status == breaker.StatusBlocked {
		return errors.NewCommandError(result, fmt.Errorf("%s", result.Message), ExitCodeBlocked)
	}
	return nil
}

func init() {
	BreakerCmd.Flags().StringVarP(&breakerOptions.Organization, "organization", "o", "", "Azure DevOps organization of the run.")
	BreakerCmd.Flags().StringVarP(&breakerOptions.ProjectID, "project", "p", "", "Id of the project of the run.")
	BreakerCmd.Flags().IntVarP(&breakerOptions.RunID, "run", "r", 0, "Build id, or release id for classic releases.")
	BreakerCmd.Flags().StringVarP(&breakerOptions.PipelineType, "type", "t", "", "Pipeline type: build (default) or release.")
	BreakerCmd.Flags().StringVarP(&breakerOptions.StageID, "stage", "s", "", "Stage that is about to run.")
	BreakerCmd.Flags().BoolP("help", "h", false, "Show help for the breaker command.")
}
