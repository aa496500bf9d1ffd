package scan

import (
	"fmt"
	"strings"

	"github.com/complyio/complyio/internal/config"
)

// validateScanArgs validates the scan flags, taking the organizations from
// cfg when none were given.
func validateScanArgs(options *RunOptionsScan, cfg *config.Config) error {
	if len(options.Organizations) == 0 && cfg != nil {
		options.Organizations = cfg.AzureDevOps.Organizations
	}
	if len(options.Organizations) == 0 {
		return fmt.Errorf("the 'organization' flag must be specified")
	}
	for _, org := range options.Organizations {
		if strings.TrimSpace(org) == "" {
			return fmt.Errorf("the 'organization' flag must not be empty")
		}
	}

	if options.ProjectID != "" && len(options.Organizations) != 1 {
		return fmt.Errorf("the 'project' flag requires exactly one organization")
	}

	options.Format = strings.ToLower(strings.TrimSpace(options.Format))
	if options.Format == "" {
		options.Format = FormatJSON
	}
	if options.Format != FormatJSON && options.Format != FormatSARIF {
		return fmt.Errorf("unsupported format %q, use %s or %s", options.Format, FormatJSON, FormatSARIF)
	}

	if options.Threads < 0 {
		return fmt.Errorf("the 'threads' flag must be a positive integer")
	}
	if options.Threads > 64 {
		return fmt.Errorf("the 'threads' flag must not exceed 64")
	}
	return nil
}
