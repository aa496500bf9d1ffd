package pipeline

import (
	"strconv"
	"strings"

	"github.com/complyio/complyio/internal/azdo"
)

// FromBuildDefinition builds the model of a build definition. For YAML
// definitions yamlBody is the parsed final YAML; designer builds are turned
// into a single stage with one job per phase.
func FromBuildDefinition(organization string, def azdo.BuildDefinition, yamlBody *Body) *Pipeline {
	p := &Pipeline{
		ID:           strconv.Itoa(def.ID),
		Name:         def.Name,
		Path:         def.Path,
		Organization: organization,
		Project:      ProjectReference{ID: def.Project.ID, Name: def.Project.Name},
		Settings:     variables(def.Variables),
	}

	switch def.Process.Type {
	case azdo.BuildProcessYaml:
		p.ProcessType = ProcessYaml
		p.DefaultRunContent = yamlBody
		if p.DefaultRunContent == nil {
			p.DefaultRunContent = &Body{Stages: []Stage{}}
		}
	case azdo.BuildProcessDesigner:
		p.ProcessType = ProcessDesignerBuild
		p.DefaultRunContent = designerBuildBody(def)
	default:
		p.ProcessType = ProcessUnknownBuild
		p.DefaultRunContent = &Body{Stages: []Stage{}}
	}

	if p.ProcessType != ProcessYaml {
		for _, trigger := range def.Triggers {
			p.DefaultRunContent.Triggers = append(p.DefaultRunContent.Triggers, Trigger{Type: trigger.TriggerType, Branches: trigger.BranchFilters})
		}
	}
	if def.Repository != nil {
		p.DefaultRunContent.Resources = append(p.DefaultRunContent.Resources, Resource{
			Kind:  "repository",
			Alias: "self",
			Type:  def.Repository.Type,
			Name:  def.Repository.Name,
			Ref:   def.Repository.DefaultBranch,
		})
	}
	return p
}

func designerBuildBody(def azdo.BuildDefinition) *Body {
	stage := Stage{ID: DefaultName, DisplayName: def.Name, Jobs: []Job{}}
	for _, phase := range def.Process.Phases {
		job := Job{Name: firstNonEmpty(phase.Name, phase.RefName), Tasks: []Task{}}
		for _, step := range phase.Steps {
			ref := step.Task.ID
			if step.Task.VersionSpec != "" {
				ref += "@" + step.Task.VersionSpec
			}
			job.Tasks = append(job.Tasks, Task{
				ID:           step.Task.ID,
				Name:         step.DisplayName,
				Version:      step.Task.VersionSpec,
				FullTaskName: ref,
				Inputs:       step.Inputs,
				Enabled:      step.Enabled,
			})
		}
		stage.Jobs = append(stage.Jobs, job)
	}
	return &Body{Stages: []Stage{stage}}
}

// FromReleaseDefinition builds the model of a classic release definition. Each
// environment becomes a stage identified by its environment id; pre-deployment
// approvals become gates.
func FromReleaseDefinition(organization, projectID, projectName string, def azdo.ReleaseDefinition) *Pipeline {
	body := &Body{Stages: make([]Stage, 0, len(def.Environments))}
	for _, env := range def.Environments {
		stage := Stage{ID: strconv.Itoa(env.ID), DisplayName: env.Name, Jobs: []Job{}}
		gates := releaseGates(env)
		for _, phase := range env.DeployPhases {
			job := Job{Name: phase.Name, Environment: env.Name, Tasks: []Task{}, Gates: gates}
			for _, wt := range phase.WorkflowTasks {
				job.Tasks = append(job.Tasks, workflowTask(wt))
			}
			stage.Jobs = append(stage.Jobs, job)
		}
		if len(stage.Jobs) == 0 && len(gates) > 0 {
			stage.Jobs = append(stage.Jobs, Job{Name: DefaultName, Environment: env.Name, Tasks: []Task{}, Gates: gates})
		}
		body.Stages = append(body.Stages, stage)
	}

	for _, trigger := range def.Triggers {
		body.Triggers = append(body.Triggers, Trigger{Type: trigger.TriggerType, Branches: nonEmpty(trigger.Alias)})
	}
	for _, artifact := range def.Artifacts {
		body.Resources = append(body.Resources, Resource{Kind: "artifact", Alias: artifact.Alias, Type: artifact.Type, Name: artifact.SourceID})
	}

	return &Pipeline{
		ID:                strconv.Itoa(def.ID),
		Name:              def.Name,
		Path:              def.Path,
		Organization:      organization,
		Project:           ProjectReference{ID: projectID, Name: projectName},
		ProcessType:       ProcessDesignerRelease,
		DefaultRunContent: body,
		Settings:          variables(def.Variables),
	}
}

func releaseGates(env azdo.ReleaseEnvironment) []Gate {
	var approvers []string
	for _, approval := range env.PreDeployApprovals.Approvals {
		if approval.IsAutomated || approval.Approver == nil {
			continue
		}
		approvers = append(approvers, firstNonEmpty(approval.Approver.UniqueName, approval.Approver.DisplayName))
	}
	if len(approvers) == 0 {
		return nil
	}

	gate := Gate{Type: GateApproval, Approvers: approvers, MinRequiredApprovers: len(approvers)}
	if opts := env.PreDeployApprovals.ApprovalOptions; opts != nil {
		gate.RequesterCannotApprove = !opts.ReleaseCreatorCanBeApprover
		if opts.RequiredApproverCount > 0 {
			gate.MinRequiredApprovers = opts.RequiredApproverCount
		}
	}
	return []Gate{gate}
}

// ApprovalGate maps an environment approval check to a gate.
func ApprovalGate(settings azdo.ApprovalSettings) Gate {
	gate := Gate{
		Type:                   GateApproval,
		MinRequiredApprovers:   settings.MinRequiredApprovers,
		RequesterCannotApprove: settings.RequesterCannotBeApprover,
	}
	for _, approver := range settings.Approvers {
		gate.Approvers = append(gate.Approvers, firstNonEmpty(approver.UniqueName, approver.DisplayName, approver.ID))
	}
	return gate
}

func workflowTask(wt azdo.WorkflowTask) Task {
	ref := firstNonEmpty(wt.TaskID, wt.Name)
	if wt.Version != "" {
		ref += "@" + strings.TrimSuffix(wt.Version, ".*")
	}
	return Task{
		ID:           wt.TaskID,
		Name:         wt.Name,
		Version:      wt.Version,
		FullTaskName: ref,
		Inputs:       wt.Inputs,
		Enabled:      wt.Enabled,
	}
}

func variables(vars map[string]azdo.Variable) map[string]string {
	if len(vars) == 0 {
		return nil
	}
	settings := make(map[string]string, len(vars))
	for k, v := range vars {
		if v.IsSecret {
			continue
		}
		settings[k] = v.Value
	}
	return settings
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}
