package sarif

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
)

func testReport() *compliancy.ProjectReport {
	return &compliancy.ProjectReport{
		Organization: "raboweb",
		ProjectID:    "p1",
		ScanID:       "scan",
		Items: []compliancy.ItemReport{
			{
				Kind:     rules.KindProject,
				ItemID:   "p1",
				ItemName: "Project One",
				Rules: []compliancy.RuleCompliancyReport{
					{RuleName: rules.NobodyCanDeleteTheTeamProject, Description: "Nobody can delete the project", IsCompliant: true},
				},
			},
			{
				Kind:     rules.KindReleaseDefinitionYaml,
				ItemID:   "12",
				ItemName: "deploy",
				Stages: []compliancy.StageReport{
					{StageID: "prod", CiIdentifier: "CI1", Rules: []compliancy.RuleCompliancyReport{
						{RuleName: rules.YamlReleasePipelineHasSm9ChangeTask, Description: "SM9 change task", StageID: "prod", CiIdentifier: "CI1",
							HasDeviation: true, Deviation: &store.DeviationEntity{Comment: "manual change"}},
					}},
					{StageID: "test", Rules: []compliancy.RuleCompliancyReport{
						{RuleName: rules.YamlReleasePipelineHasSm9ChangeTask, Description: "SM9 change task", StageID: "test"},
						{RuleName: rules.YamlReleasePipelineIsBlockedWithout4EyesApproval, Description: "4-eyes", StageID: "test", Error: "boom"},
					}},
				},
			},
		},
	}
}

func TestFromReports(t *testing.T) {
	report, err := FromReports([]*compliancy.ProjectReport{testReport(), nil}, "1.2.3")
	require.NoError(t, err)
	require.Len(t, report.Runs, 1)

	run := report.Runs[0]
	assert.Equal(t, ToolName, run.Tool.Driver.Name)
	assert.Len(t, run.Tool.Driver.Rules, 2)
	require.Len(t, run.Results, 3)

	assert.Equal(t, LevelError, *run.Results[0].Level)
	assert.Equal(t, string(rules.YamlReleasePipelineHasSm9ChangeTask), *run.Results[0].RuleID)
	assert.Equal(t, "test", run.Results[0].Properties["stageId"])
	assert.Equal(t, LevelWarning, *run.Results[1].Level)
	assert.Equal(t, LevelNote, *run.Results[2].Level)
	require.Len(t, run.Results[2].Suppressions, 1)
	assert.Equal(t, "CI1", run.Results[2].Properties["ciIdentifier"])

	uri := run.Results[0].Locations[0].PhysicalLocation.ArtifactLocation.URI
	require.NotNil(t, uri)
	assert.Equal(t, "azdo://raboweb/p1/ReleaseDefinitionYaml/12/test", *uri)

	assert.Equal(t, map[string]int{LevelError: 1, LevelWarning: 1, LevelNote: 1, "total": 3}, CollectLevelInfo(report))
}

func TestWriteFile(t *testing.T) {
	report, err := FromReports([]*compliancy.ProjectReport{testReport()}, "")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "report.sarif")
	require.NoError(t, WriteFile(report, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "2.1.0", decoded["version"])

	var buf bytes.Buffer
	require.NoError(t, Write(report, &buf))
	assert.JSONEq(t, string(data), buf.String())
}

func TestWriteFileReturnsWriteErrors(t *testing.T) {
	if _, err := os.Stat("/dev/full"); err != nil {
		t.Skip("/dev/full is not available")
	}
	report, err := FromReports([]*compliancy.ProjectReport{testReport()}, "")
	require.NoError(t, err)

	err = WriteFile(report, "/dev/full")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error writing SARIF report")

	err = WriteFile(report, filepath.Join(t.TempDir(), "missing", "report.sarif"))
	assert.Error(t, err)
}
