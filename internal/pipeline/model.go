// Package pipeline holds the normalized model of Azure DevOps pipelines that
// rules are evaluated against, and the builders producing it from YAML and
// classic definitions.
package pipeline

// ProcessType tells how a pipeline is defined.
type ProcessType string

const (
	ProcessYaml            ProcessType = "Yaml"
	ProcessDesignerBuild   ProcessType = "DesignerBuild"
	ProcessDesignerRelease ProcessType = "DesignerRelease"
	ProcessUnknownBuild    ProcessType = "UnknownBuild"
)

// DefaultName names the synthetic stage and job of stageless or jobless YAML.
const DefaultName = "__default"

// ProjectReference identifies the project that owns a pipeline.
type ProjectReference struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Pipeline identifies a build or release definition together with its
// normalized content.
type Pipeline struct {
	ID                string                `json:"id"`
	Name              string                `json:"name"`
	Path              string                `json:"path"`
	Organization      string                `json:"organization"`
	Project           ProjectReference      `json:"project"`
	ProcessType       ProcessType           `json:"processType"`
	DefaultRunContent *Body                 `json:"defaultRunContent,omitempty"`
	Settings          map[string]string     `json:"settings,omitempty"`
	Permissions       map[string]Permission `json:"permissions,omitempty"`
}

// WithPermissions returns a copy of p enriched with permissions keyed by descriptor.
func (p *Pipeline) WithPermissions(permissions []Permission) *Pipeline {
	enriched := *p
	enriched.Permissions = make(map[string]Permission, len(permissions))
	for _, perm := range permissions {
		enriched.Permissions[perm.Descriptor] = perm
	}
	return &enriched
}

// Stages returns the stages of the default run content.
func (p *Pipeline) Stages() []Stage {
	if p == nil || p.DefaultRunContent == nil {
		return nil
	}
	return p.DefaultRunContent.Stages
}

// Body is the ordered content of a pipeline run.
type Body struct {
	Stages    []Stage    `json:"stages"`
	Triggers  []Trigger  `json:"triggers,omitempty"`
	Resources []Resource `json:"resources,omitempty"`
}

// Stage returns the stage with the given id, matched case-insensitively.
func (b *Body) Stage(id string) (*Stage, bool) {
	if b == nil {
		return nil, false
	}
	for i := range b.Stages {
		if equalFold(b.Stages[i].ID, id) {
			return &b.Stages[i], true
		}
	}
	return nil, false
}

// Environments returns the distinct deployment environments referenced by jobs.
func (b *Body) Environments() []string {
	if b == nil {
		return nil
	}
	seen := make(map[string]bool)
	var envs []string
	for _, stage := range b.Stages {
		for _, job := range stage.Jobs {
			key := lower(job.Environment)
			if job.Environment == "" || seen[key] {
				continue
			}
			seen[key] = true
			envs = append(envs, job.Environment)
		}
	}
	return envs
}

// AttachGates adds gates to every job deploying to environment.
func (b *Body) AttachGates(environment string, gates []Gate) {
	if b == nil {
		return
	}
	for si := range b.Stages {
		for ji := range b.Stages[si].Jobs {
			job := &b.Stages[si].Jobs[ji]
			if job.Environment != "" && equalFold(job.Environment, environment) {
				job.Gates = append(job.Gates, gates...)
			}
		}
	}
}

// Stage is a deployment or build stage.
type Stage struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Jobs        []Job  `json:"jobs"`
}

// Tasks returns every task of the stage in job order.
func (s Stage) Tasks() []Task {
	var tasks []Task
	for _, job := range s.Jobs {
		tasks = append(tasks, job.Tasks...)
	}
	return tasks
}

// Gates returns every gate of the stage.
func (s Stage) Gates() []Gate {
	var gates []Gate
	for _, job := range s.Jobs {
		gates = append(gates, job.Gates...)
	}
	return gates
}

// Job is an agent, server or deployment job.
type Job struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"`
	Tasks       []Task `json:"tasks"`
	Gates       []Gate `json:"gates,omitempty"`
}

// Gate types.
const (
	GateApproval = "Approval"
)

// Gate guards a stage before it runs.
type Gate struct {
	Type                   string   `json:"type"`
	Approvers              []string `json:"approvers,omitempty"`
	MinRequiredApprovers   int      `json:"minRequiredApprovers"`
	RequesterCannotApprove bool     `json:"requesterCannotApprove"`
}

// IsFourEyes reports whether the gate requires an approval by someone other
// than the person who started the run.
func (g Gate) IsFourEyes() bool {
	return g.Type == GateApproval && len(g.Approvers) > 0 && g.RequesterCannotApprove
}

// Trigger is a CI or PR trigger of a pipeline.
type Trigger struct {
	Type     string   `json:"type"`
	Branches []string `json:"branches,omitempty"`
	Disabled bool     `json:"disabled,omitempty"`
}

// Resource is a repository or pipeline resource consumed by a YAML pipeline.
type Resource struct {
	Kind  string `json:"kind"`
	Alias string `json:"alias"`
	Type  string `json:"type,omitempty"`
	Name  string `json:"name,omitempty"`
	Ref   string `json:"ref,omitempty"`
}

// Permission is the effective permission set of one identity on a secured resource.
type Permission struct {
	Descriptor   string `json:"descriptor"`
	IdentityName string `json:"identityName"`
	Allow        int    `json:"allow"`
	Deny         int    `json:"deny"`
}

// Allows reports whether any of bits is effectively allowed.
func (p Permission) Allows(bits int) bool {
	return p.Allow&^p.Deny&bits != 0
}
