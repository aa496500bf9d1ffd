// Package sarif exports compliancy reports as SARIF 2.1.0 logs so they can be
// consumed by code-scanning dashboards.
package sarif

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/complyio/complyio/internal/compliancy"
)

const (
	ToolName           = "complyio"
	toolInformationURI = "https://github.com/complyio/complyio"

	LevelError   = "error"
	LevelWarning = "warning"
	LevelNote    = "note"
)

// FromReports builds a single run with one result per rule evaluation that is
// not compliant. Deviations are reported as suppressed results.
func FromReports(reports []*compliancy.ProjectReport, version string) (*sarif.Report, error) {
	report, err := sarif.New(sarif.Version210)
	if err != nil {
		return nil, fmt.Errorf("failed to create SARIF report: %w", err)
	}

	run := sarif.NewRunWithInformationURI(ToolName, toolInformationURI)
	if version != "" {
		run.Tool.Driver.WithSemanticVersion(version)
	}

	seen := map[string]bool{}
	for _, project := range reports {
		if project == nil {
			continue
		}
		for i := range project.Items {
			item := &project.Items[i]
			for _, r := range itemRules(item) {
				if r.IsCompliant {
					continue
				}
				ruleID := string(r.RuleName)
				if !seen[ruleID] {
					seen[ruleID] = true
					run.AddRule(ruleID).
						WithDescription(r.Description).
						WithDefaultConfiguration(&sarif.ReportingConfiguration{Level: LevelError})
				}
				run.AddResult(newResult(project, item, r))
			}
		}
	}
	sortResults(run)
	report.AddRun(run)
	return report, nil
}

func itemRules(item *compliancy.ItemReport) []compliancy.RuleCompliancyReport {
	all := append([]compliancy.RuleCompliancyReport{}, item.Rules...)
	for _, stage := range item.Stages {
		all = append(all, stage.Rules...)
	}
	return all
}

func newResult(project *compliancy.ProjectReport, item *compliancy.ItemReport, r compliancy.RuleCompliancyReport) *sarif.Result {
	level := LevelError
	message := fmt.Sprintf("%s %q does not comply with %s", item.Kind, item.ItemName, r.RuleName)
	switch {
	case r.Error != "":
		level = LevelWarning
		message = fmt.Sprintf("%s could not be evaluated for %s %q: %s", r.RuleName, item.Kind, item.ItemName, r.Error)
	case r.HasDeviation:
		level = LevelNote
	}

	location := sarif.NewLocation().WithPhysicalLocation(
		sarif.NewPhysicalLocation().
			WithArtifactLocation(sarif.NewArtifactLocation().WithUri(ItemURI(project.Organization, project.ProjectID, item, r.StageID))),
	)

	result := sarif.NewRuleResult(string(r.RuleName)).
		WithMessage(sarif.NewTextMessage(message)).
		WithLevel(level).
		WithLocations([]*sarif.Location{location})
	result.Properties = sarif.Properties{
		"organization":   project.Organization,
		"projectId":      project.ProjectID,
		"itemId":         item.ItemID,
		"kind":           string(item.Kind),
		"profile":        item.Profile,
		"isReconcilable": r.IsReconcilable,
	}
	if r.StageID != "" {
		result.Properties["stageId"] = r.StageID
	}
	if r.CiIdentifier != "" {
		result.Properties["ciIdentifier"] = r.CiIdentifier
	}
	if r.HasDeviation && r.Deviation != nil {
		result.Suppressions = []*sarif.Suppression{
			sarif.NewSuppression("external").WithJustifcation(r.Deviation.Comment),
		}
	}
	return result
}

// ItemURI identifies an evaluated item:
// azdo://<organization>/<projectId>/<kind>/<itemId>[/<stageId>]
func ItemURI(organization, projectID string, item *compliancy.ItemReport, stageID string) string {
	parts := []string{url.PathEscape(organization), url.PathEscape(projectID), string(item.Kind), url.PathEscape(item.ItemID)}
	if stageID != "" {
		parts = append(parts, url.PathEscape(stageID))
	}
	return "azdo://" + strings.Join(parts, "/")
}

var levelOrder = map[string]int{
	LevelError:   0,
	LevelWarning: 1,
	LevelNote:    2,
}

// sortResults orders results error, warning, note and keeps the scan order otherwise.
func sortResults(run *sarif.Run) {
	sort.SliceStable(run.Results, func(i, j int) bool {
		return levelOrder[levelOf(run.Results[i])] < levelOrder[levelOf(run.Results[j])]
	})
}

func levelOf(result *sarif.Result) string {
	if result.Level == nil {
		return ""
	}
	return *result.Level
}

// CollectLevelInfo counts results per level.
func CollectLevelInfo(report *sarif.Report) map[string]int {
	info := map[string]int{LevelError: 0, LevelWarning: 0, LevelNote: 0, "total": 0}
	for _, run := range report.Runs {
		for _, result := range run.Results {
			info[levelOf(result)]++
			info["total"]++
		}
	}
	return info
}

// Write pretty-prints report to w.
func Write(report *sarif.Report, w io.Writer) error {
	return report.PrettyWrite(w)
}

// WriteFile writes report to path, replacing any existing file.
func WriteFile(report *sarif.Report, path string) error {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("error writing SARIF report: %w", err)
	}
	if err := Write(report, file); err != nil {
		_ = file.Close()
		return fmt.Errorf("error writing SARIF report: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("error writing SARIF report: %w", err)
	}
	return nil
}
