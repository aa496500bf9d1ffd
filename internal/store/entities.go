package store

import (
	"strings"
	"time"
)

// PipelineType distinguishes YAML/build pipelines from classic releases.
type PipelineType string

const (
	PipelineTypeBuild   PipelineType = "build"
	PipelineTypeRelease PipelineType = "release"
)

// ParsePipelineType accepts the pipeline type case-insensitively; anything
// that is not a release is a build.
func ParsePipelineType(s string) PipelineType {
	if strings.EqualFold(strings.TrimSpace(s), string(PipelineTypeRelease)) {
		return PipelineTypeRelease
	}
	return PipelineTypeBuild
}

// ProdInfo is the CMDB information of a production registration.
type ProdInfo struct {
	CiIdentifier     string `json:"ciIdentifier"`
	CiName           string `json:"ciName"`
	CiSubtype        string `json:"ciSubtype"`
	IsSoxApplication bool   `json:"isSoxApplication"`
	AssignmentGroup  string `json:"assignmentGroup"`
	AicRating        string `json:"aicRating"`
}

// Registration links a pipeline, optionally a single stage, to a CI and a rule profile.
type Registration struct {
	Organization    string       `json:"organization"`
	ProjectID       string       `json:"projectId"`
	PipelineID      int          `json:"pipelineId"`
	PipelineType    PipelineType `json:"pipelineType"`
	StageID         string       `json:"stageId,omitempty"`
	RuleProfileName string       `json:"ruleProfileName,omitempty"`
	Prod            *ProdInfo    `json:"prod,omitempty"`
	ShouldBeScanned bool         `json:"shouldBeScanned"`
	UpdatedBy       string       `json:"updatedBy,omitempty"`
	UpdatedAt       time.Time    `json:"updatedAt"`
}

// Key returns the registration key.
func (r *Registration) Key() Key {
	return RegistrationKey(r.Organization, r.ProjectID, r.PipelineID, r.PipelineType, r.StageID)
}

// IsProduction reports whether the registration is CMDB backed.
func (r *Registration) IsProduction() bool {
	return r.Prod != nil
}

// CiIdentifier returns the CI of a production registration, or "".
func (r *Registration) CiIdentifier() string {
	if r == nil || r.Prod == nil {
		return ""
	}
	return r.Prod.CiIdentifier
}

// DeviationEntity records an approved override of a failing rule.
type DeviationEntity struct {
	Organization     string    `json:"organization"`
	ProjectID        string    `json:"projectId"`
	RuleName         string    `json:"ruleName"`
	ItemID           string    `json:"itemId"`
	CiIdentifier     string    `json:"ciIdentifier,omitempty"`
	ForeignProjectID string    `json:"foreignProjectId,omitempty"`
	Reason           string    `json:"reason"`
	Comment          string    `json:"comment,omitempty"`
	UpdatedBy        string    `json:"updatedBy"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Key returns the deviation key.
func (d *DeviationEntity) Key() Key {
	return DeviationKey(d.Organization, d.ProjectID, d.RuleName, d.ItemID, d.CiIdentifier, d.ForeignProjectID)
}

// ExclusionEntity excludes a pipeline from the breaker for a limited time.
type ExclusionEntity struct {
	Organization string       `json:"organization"`
	ProjectID    string       `json:"projectId"`
	PipelineID   int          `json:"pipelineId"`
	PipelineType PipelineType `json:"pipelineType"`
	Reason       string       `json:"reason"`
	Requester    string       `json:"requester"`
	Approver     string       `json:"approver,omitempty"`
	CreatedAt    time.Time    `json:"createdAt"`
	ExpiresAt    time.Time    `json:"expiresAt"`
}

// Key returns the exclusion key.
func (e *ExclusionEntity) Key() Key {
	return ExclusionKey(e.Organization, e.ProjectID, e.PipelineID, e.PipelineType)
}

// IsValid reports whether the exclusion is approved and not expired at now.
func (e *ExclusionEntity) IsValid(now time.Time) bool {
	return e.Approver != "" && now.Before(e.ExpiresAt)
}

// ReportEntity is the persisted summary of the latest evaluation of an item.
type ReportEntity struct {
	Organization          string    `json:"organization"`
	ProjectID             string    `json:"projectId"`
	ItemID                string    `json:"itemId"`
	ItemName              string    `json:"itemName"`
	Kind                  string    `json:"kind"`
	IsDeterminedCompliant bool      `json:"isDeterminedCompliant"`
	PipelineCompliant     bool      `json:"pipelineCompliant"`
	NonCompliantRules     []string  `json:"nonCompliantRules,omitempty"`
	NonCompliantStages    []string  `json:"nonCompliantStages,omitempty"`
	Excluded              bool      `json:"excluded"`
	ScanID                string    `json:"scanId"`
	ScannedAt             time.Time `json:"scannedAt"`
}

// Key returns the report key.
func (r *ReportEntity) Key() Key {
	return ReportKey(r.Organization, r.ProjectID, r.ItemID, r.Kind)
}

// StageCompliant reports whether stage and the pipeline wide rules are compliant.
func (r *ReportEntity) StageCompliant(stageID string) bool {
	if stageID == "" {
		return r.IsDeterminedCompliant
	}
	if !r.PipelineCompliant {
		return false
	}
	for _, s := range r.NonCompliantStages {
		if strings.EqualFold(s, stageID) {
			return false
		}
	}
	return true
}
