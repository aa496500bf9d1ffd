package scan

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/rules"
)

func TestValidateScanArgs(t *testing.T) {
	cfg := &config.Config{}
	cfg.AzureDevOps.Organizations = []string{"raboweb", "rabobank-sandbox"}

	tests := []struct {
		name      string
		options   RunOptionsScan
		cfg       *config.Config
		wantOrgs  []string
		wantFmt   string
		wantError string
	}{
		{
			name:     "Organization flag",
			options:  RunOptionsScan{Organizations: []string{"raboweb"}},
			wantOrgs: []string{"raboweb"},
			wantFmt:  FormatJSON,
		},
		{
			name:     "Organizations from config",
			options:  RunOptionsScan{Format: "SARIF"},
			cfg:      cfg,
			wantOrgs: []string{"raboweb", "rabobank-sandbox"},
			wantFmt:  FormatSARIF,
		},
		{
			name:      "No organization",
			options:   RunOptionsScan{},
			wantError: "the 'organization' flag must be specified",
		},
		{
			name:      "Project with several organizations",
			options:   RunOptionsScan{ProjectID: "p1"},
			cfg:       cfg,
			wantError: "the 'project' flag requires exactly one organization",
		},
		{
			name:      "Unknown format",
			options:   RunOptionsScan{Organizations: []string{"raboweb"}, Format: "html"},
			wantError: `unsupported format "html", use json or sarif`,
		},
		{
			name:      "Negative threads",
			options:   RunOptionsScan{Organizations: []string{"raboweb"}, Threads: -1},
			wantError: "the 'threads' flag must be a positive integer",
		},
		{
			name:      "Too many threads",
			options:   RunOptionsScan{Organizations: []string{"raboweb"}, Threads: 65},
			wantError: "the 'threads' flag must not exceed 64",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			options := tt.options
			err := validateScanArgs(&options, tt.cfg)
			if tt.wantError != "" {
				assert.EqualError(t, err, tt.wantError)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantOrgs, options.Organizations)
			assert.Equal(t, tt.wantFmt, options.Format)
		})
	}
}

func testProjects() []*compliancy.ProjectReport {
	return []*compliancy.ProjectReport{{
		Organization: "raboweb",
		ProjectID:    "p1",
		Items: []compliancy.ItemReport{{
			Kind:     rules.KindBuildDefinition,
			ItemID:   "4",
			ItemName: "ci",
			Rules: []compliancy.RuleCompliancyReport{
				{RuleName: rules.BuildPipelineHasFortifyTask, Description: "Fortify"},
			},
		}},
	}}
}

func TestWriteResultToFolder(t *testing.T) {
	dir := t.TempDir()
	options := RunOptionsScan{Organizations: []string{"raboweb"}, ProjectID: "p1", Format: FormatSARIF, OutputPath: dir}

	require.NoError(t, writeResult(&cobra.Command{}, testProjects(), options))

	data, err := os.ReadFile(filepath.Join(dir, "complyio-raboweb-p1.sarif"))
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.1.0", decoded["version"])
}

func TestWriteResultToStdout(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	require.NoError(t, writeResult(cmd, testProjects(), RunOptionsScan{Organizations: []string{"raboweb"}, Format: FormatJSON}))

	var decoded []compliancy.ProjectReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "p1", decoded[0].ProjectID)

	out.Reset()
	require.NoError(t, writeResult(cmd, nil, RunOptionsScan{Organizations: []string{"raboweb"}, Format: FormatJSON}))
	assert.JSONEq(t, "[]", out.String())
}
