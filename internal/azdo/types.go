package azdo

import "encoding/json"

// Response is the list envelope returned by most Azure DevOps endpoints.
type Response[T any] struct {
	Count int `json:"count"`
	Value []T `json:"value"`
}

// Project represents a team project.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	State       string `json:"state"`
}

// ProjectReference is the short project form embedded in other resources.
type ProjectReference struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Repository represents a git repository.
type Repository struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	DefaultBranch string           `json:"defaultBranch"`
	IsDisabled    bool             `json:"isDisabled"`
	Project       ProjectReference `json:"project"`
}

// DefinitionReference points at a build or release definition.
type DefinitionReference struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Path string `json:"path"`
}

// Build process types as reported by the build definitions API.
const (
	BuildProcessDesigner = 1
	BuildProcessYaml     = 2
)

// BuildDefinition represents a build (or YAML multi-stage) definition.
type BuildDefinition struct {
	ID          int                 `json:"id"`
	Name        string              `json:"name"`
	Path        string              `json:"path"`
	QueueStatus string              `json:"queueStatus"`
	Project     ProjectReference    `json:"project"`
	Process     BuildProcess        `json:"process"`
	Repository  *BuildRepository    `json:"repository,omitempty"`
	Triggers    []BuildTrigger      `json:"triggers,omitempty"`
	Variables   map[string]Variable `json:"variables,omitempty"`
}

// BuildProcess describes how a build definition runs.
type BuildProcess struct {
	Type         int          `json:"type"`
	YamlFilename string       `json:"yamlFilename,omitempty"`
	Phases       []BuildPhase `json:"phases,omitempty"`
}

// BuildPhase is an agent job of a designer build.
type BuildPhase struct {
	Name    string      `json:"name"`
	RefName string      `json:"refName"`
	Steps   []BuildStep `json:"steps"`
}

// BuildStep is a task invocation inside a designer build phase.
type BuildStep struct {
	DisplayName string            `json:"displayName"`
	Enabled     bool              `json:"enabled"`
	Task        TaskReference     `json:"task"`
	Inputs      map[string]string `json:"inputs"`
}

// TaskReference identifies a catalog task.
type TaskReference struct {
	ID             string `json:"id"`
	VersionSpec    string `json:"versionSpec"`
	DefinitionType string `json:"definitionType"`
}

// BuildRepository is the source repository of a build definition.
type BuildRepository struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	DefaultBranch string `json:"defaultBranch"`
}

// BuildTrigger is a designer build trigger.
type BuildTrigger struct {
	TriggerType   string   `json:"triggerType"`
	BranchFilters []string `json:"branchFilters,omitempty"`
}

// Variable is a pipeline variable.
type Variable struct {
	Value    string `json:"value"`
	IsSecret bool   `json:"isSecret"`
}

// Build is a single run of a build definition.
type Build struct {
	ID          int                 `json:"id"`
	BuildNumber string              `json:"buildNumber"`
	Status      string              `json:"status"`
	Result      string              `json:"result"`
	Definition  DefinitionReference `json:"definition"`
	Project     ProjectReference    `json:"project"`
}

// ReleaseDefinition represents a classic release definition.
type ReleaseDefinition struct {
	ID           int                  `json:"id"`
	Name         string               `json:"name"`
	Path         string               `json:"path"`
	Environments []ReleaseEnvironment `json:"environments"`
	Artifacts    []ReleaseArtifact    `json:"artifacts,omitempty"`
	Triggers     []ReleaseTrigger     `json:"triggers,omitempty"`
	Variables    map[string]Variable  `json:"variables,omitempty"`
}

// ReleaseEnvironment is a stage of a classic release definition.
type ReleaseEnvironment struct {
	ID                 int              `json:"id"`
	Name               string           `json:"name"`
	Rank               int              `json:"rank"`
	DeployPhases       []DeployPhase    `json:"deployPhases"`
	PreDeployApprovals ReleaseApprovals `json:"preDeployApprovals"`
	PreDeploymentGates ReleaseGates     `json:"preDeploymentGates"`
}

// DeployPhase is an agent or server job inside a release environment.
type DeployPhase struct {
	Name          string         `json:"name"`
	PhaseType     string         `json:"phaseType"`
	WorkflowTasks []WorkflowTask `json:"workflowTasks"`
}

// WorkflowTask is a task invocation inside a release deploy phase.
type WorkflowTask struct {
	TaskID         string            `json:"taskId"`
	Name           string            `json:"name"`
	Version        string            `json:"version"`
	Enabled        bool              `json:"enabled"`
	DefinitionType string            `json:"definitionType"`
	Inputs         map[string]string `json:"inputs"`
}

// ReleaseApprovals holds the approval steps of an environment.
type ReleaseApprovals struct {
	Approvals       []ReleaseApproval `json:"approvals"`
	ApprovalOptions *ApprovalOptions  `json:"approvalOptions,omitempty"`
}

// ReleaseApproval is one approval step.
type ReleaseApproval struct {
	Rank        int          `json:"rank"`
	IsAutomated bool         `json:"isAutomated"`
	Approver    *IdentityRef `json:"approver,omitempty"`
}

// ApprovalOptions controls how approvals are granted.
type ApprovalOptions struct {
	RequiredApproverCount       int  `json:"requiredApproverCount"`
	ReleaseCreatorCanBeApprover bool `json:"releaseCreatorCanBeApprover"`
}

// ReleaseGates holds the deployment gates of an environment.
type ReleaseGates struct {
	Gates []ReleaseGate `json:"gates"`
}

// ReleaseGate is a group of gate tasks.
type ReleaseGate struct {
	Tasks []WorkflowTask `json:"tasks"`
}

// ReleaseArtifact is an artifact source linked to a release definition.
type ReleaseArtifact struct {
	Alias     string `json:"alias"`
	Type      string `json:"type"`
	SourceID  string `json:"sourceId"`
	IsPrimary bool   `json:"isPrimary"`
}

// ReleaseTrigger is a classic release trigger.
type ReleaseTrigger struct {
	TriggerType string `json:"triggerType"`
	Alias       string `json:"artifactAlias,omitempty"`
}

// Release is a single release created from a release definition.
type Release struct {
	ID                int                 `json:"id"`
	Name              string              `json:"name"`
	Status            string              `json:"status"`
	ReleaseDefinition DefinitionReference `json:"releaseDefinition"`
	ProjectReference  ProjectReference    `json:"projectReference"`
}

// IdentityRef is a compact identity reference.
type IdentityRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	UniqueName  string `json:"uniqueName"`
	Descriptor  string `json:"descriptor,omitempty"`
}

// AccessControlList is the ACL of a single security token.
type AccessControlList struct {
	Token              string                        `json:"token"`
	InheritPermissions bool                          `json:"inheritPermissions"`
	AcesDictionary     map[string]AccessControlEntry `json:"acesDictionary"`
}

// AccessControlEntry grants or denies permission bits to a descriptor.
type AccessControlEntry struct {
	Descriptor   string                  `json:"descriptor"`
	Allow        int                     `json:"allow"`
	Deny         int                     `json:"deny"`
	ExtendedInfo *AceExtendedInformation `json:"extendedInfo,omitempty"`
}

// AceExtendedInformation carries the effective (inherited) permission bits.
type AceExtendedInformation struct {
	EffectiveAllow int `json:"effectiveAllow"`
	EffectiveDeny  int `json:"effectiveDeny"`
}

// Identity is the identity behind an ACE descriptor.
type Identity struct {
	ID                  string `json:"id"`
	Descriptor          string `json:"descriptor"`
	ProviderDisplayName string `json:"providerDisplayName"`
	IsContainer         bool   `json:"isContainer"`
}

// Environment is a YAML deployment environment.
type Environment struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Check types relevant for four-eyes evaluation.
const (
	CheckTypeApproval = "Approval"
)

// CheckConfiguration is a check attached to a protected resource.
type CheckConfiguration struct {
	ID       int             `json:"id"`
	Type     CheckType       `json:"type"`
	Settings json.RawMessage `json:"settings,omitempty"`
}

// CheckType names the kind of check.
type CheckType struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ApprovalSettings are the settings of an Approval check.
type ApprovalSettings struct {
	Approvers                 []IdentityRef `json:"approvers"`
	MinRequiredApprovers      int           `json:"minRequiredApprovers"`
	RequesterCannotBeApprover bool          `json:"requesterCannotBeApprover"`
}

// ApprovalSettings decodes the settings of an Approval check; ok is false for
// any other check type.
func (c CheckConfiguration) ApprovalSettings() (ApprovalSettings, bool) {
	var s ApprovalSettings
	if c.Type.Name != CheckTypeApproval || len(c.Settings) == 0 {
		return s, false
	}
	if err := json.Unmarshal(c.Settings, &s); err != nil {
		return s, false
	}
	return s, true
}

type previewRunRequest struct {
	PreviewRun bool `json:"previewRun"`
}

type previewRunResponse struct {
	FinalYaml string `json:"finalYaml"`
}

type aceWriteRequest struct {
	Token                string               `json:"token"`
	Merge                bool                 `json:"merge"`
	AccessControlEntries []AccessControlEntry `json:"accessControlEntries"`
}
