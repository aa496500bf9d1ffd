package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/complyio/complyio/cmd/breaker"
	rulescmd "github.com/complyio/complyio/cmd/rules"
	"github.com/complyio/complyio/cmd/scan"
	"github.com/complyio/complyio/cmd/serve"
	"github.com/complyio/complyio/cmd/version"
	"github.com/complyio/complyio/internal/config"
	sharederrors "github.com/complyio/complyio/pkg/shared/errors"
)

var (
	cfgFile   string
	AppConfig *config.Config
	rootCmd   = &cobra.Command{
		Use:                   "complyio [command]",
		SilenceUsage:          true,
		SilenceErrors:         true,
		DisableFlagsInUseLine: true,
		Short:                 "Complyio scans Azure DevOps organizations for pipeline compliance.",
		Long: `Complyio evaluates projects, repositories and pipelines of Azure DevOps organizations
	against a catalogue of compliance rules, records deviations and exclusions, and gates
	production deployments of non compliant pipelines.
	`,
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.yml, or $COMPLYIO_CONFIG_PATH)")
	rootCmd.AddCommand(
		version.NewVersionCmd(),
		scan.ScanCmd,
		serve.ServeCmd,
		breaker.BreakerCmd,
		rulescmd.RulesCmd,
	)
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	if err := rootCmd.Execute(); err != nil {
		var cmdErr *sharederrors.CommandError
		if errors.As(err, &cmdErr) {
			fmt.Fprintf(os.Stderr, "Error executing command: %v\n", cmdErr)
			return cmdErr.ExitCode
		}
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		return 1
	}
	return 0
}

func initConfig() {
	var err error

	if cfgFile == "" {
		cfgFile = os.Getenv("COMPLYIO_CONFIG_PATH")
	}
	if cfgFile == "" {
		cfgFile = "config.yml"
	}
	AppConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initializing config file function is crashed - %v \n", err)
		os.Exit(1)
	}
	if err := config.ValidateConfig(AppConfig); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	version.Init(AppConfig)
	scan.Init(AppConfig)
	serve.Init(AppConfig)
	breaker.Init(AppConfig)
	rulescmd.Init(AppConfig)
}
