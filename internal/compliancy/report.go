// Package compliancy evaluates resources against the rules of their profile
// and aggregates the results, taking deviations and exclusions into account.
package compliancy

import (
	"sort"
	"strings"
	"time"

	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
)

// RuleCompliancyReport is the outcome of one rule for one item, and for
// stage scoped rules one stage.
type RuleCompliancyReport struct {
	RuleName       rules.Name             `json:"ruleName"`
	Description    string                 `json:"description"`
	ItemID         string                 `json:"itemId"`
	ItemName       string                 `json:"itemName"`
	StageID        string                 `json:"stageId,omitempty"`
	CiIdentifier   string                 `json:"ciIdentifier,omitempty"`
	IsCompliant    bool                   `json:"isCompliant"`
	HasDeviation   bool                   `json:"hasDeviation"`
	Deviation      *store.DeviationEntity `json:"deviation,omitempty"`
	IsReconcilable bool                   `json:"isReconcilable"`
	Error          string                 `json:"error,omitempty"`
}

// IsDeterminedCompliant is true when the rule passed or a deviation overrides it.
func (r RuleCompliancyReport) IsDeterminedCompliant() bool {
	return r.IsCompliant || r.HasDeviation
}

// StageReport groups the stage scoped rule results of one stage.
type StageReport struct {
	StageID      string                 `json:"stageId"`
	CiIdentifier string                 `json:"ciIdentifier,omitempty"`
	Rules        []RuleCompliancyReport `json:"rules"`
}

func (s StageReport) IsDeterminedCompliant() bool {
	return allDeterminedCompliant(s.Rules)
}

// ItemReport is the evaluation of a project, repository or pipeline.
type ItemReport struct {
	Kind         rules.ResourceKind     `json:"kind"`
	Organization string                 `json:"organization"`
	ProjectID    string                 `json:"projectId"`
	ItemID       string                 `json:"itemId"`
	ItemName     string                 `json:"itemName"`
	Profile      string                 `json:"profile"`
	Excluded     bool                   `json:"excluded"`
	Rules        []RuleCompliancyReport `json:"rules"`
	Stages       []StageReport          `json:"stages,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// PipelineCompliant reports whether the rules that are not stage scoped pass.
func (r *ItemReport) PipelineCompliant() bool {
	return allDeterminedCompliant(r.Rules)
}

// IsDeterminedCompliant reports whether every rule of the item and its stages pass.
func (r *ItemReport) IsDeterminedCompliant() bool {
	if r.Error != "" || !r.PipelineCompliant() {
		return false
	}
	for _, s := range r.Stages {
		if !s.IsDeterminedCompliant() {
			return false
		}
	}
	return true
}

// NonCompliantRules returns the sorted distinct names of failing rules.
func (r *ItemReport) NonCompliantRules() []string {
	seen := map[string]bool{}
	collect := func(reports []RuleCompliancyReport) {
		for _, rr := range reports {
			if !rr.IsDeterminedCompliant() {
				seen[string(rr.RuleName)] = true
			}
		}
	}
	collect(r.Rules)
	for _, s := range r.Stages {
		collect(s.Rules)
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NonCompliantStages returns the ids of failing stages in evaluation order.
func (r *ItemReport) NonCompliantStages() []string {
	var stages []string
	for _, s := range r.Stages {
		if !s.IsDeterminedCompliant() {
			stages = append(stages, s.StageID)
		}
	}
	return stages
}

// Stage returns the report of a stage, matched case-insensitively.
func (r *ItemReport) Stage(stageID string) (*StageReport, bool) {
	for i := range r.Stages {
		if strings.EqualFold(r.Stages[i].StageID, stageID) {
			return &r.Stages[i], true
		}
	}
	return nil, false
}

// ToEntity summarises the report for persistence.
func (r *ItemReport) ToEntity(scanID string, scannedAt time.Time) *store.ReportEntity {
	return &store.ReportEntity{
		Organization:          r.Organization,
		ProjectID:             r.ProjectID,
		ItemID:                r.ItemID,
		ItemName:              r.ItemName,
		Kind:                  string(r.Kind),
		IsDeterminedCompliant: r.IsDeterminedCompliant(),
		PipelineCompliant:     r.PipelineCompliant() && r.Error == "",
		NonCompliantRules:     r.NonCompliantRules(),
		NonCompliantStages:    r.NonCompliantStages(),
		Excluded:              r.Excluded,
		ScanID:                scanID,
		ScannedAt:             scannedAt,
	}
}

// ProjectReport aggregates the item reports of one project scan.
type ProjectReport struct {
	Organization string       `json:"organization"`
	ProjectID    string       `json:"projectId"`
	ProjectName  string       `json:"projectName"`
	ScanID       string       `json:"scanId"`
	ScannedAt    time.Time    `json:"scannedAt"`
	Items        []ItemReport `json:"items"`
	Errors       []string     `json:"errors,omitempty"`
}

// Compliant counts the items that are determined compliant.
func (p *ProjectReport) Compliant() int {
	n := 0
	for i := range p.Items {
		if p.Items[i].IsDeterminedCompliant() {
			n++
		}
	}
	return n
}

// NonCompliant counts the items that are not determined compliant.
func (p *ProjectReport) NonCompliant() int {
	return len(p.Items) - p.Compliant()
}

// IsDeterminedCompliant reports whether the scan finished without errors
// and every item passed.
func (p *ProjectReport) IsDeterminedCompliant() bool {
	return len(p.Errors) == 0 && p.NonCompliant() == 0
}

func allDeterminedCompliant(reports []RuleCompliancyReport) bool {
	for _, r := range reports {
		if !r.IsDeterminedCompliant() {
			return false
		}
	}
	return true
}
