package rules

import (
	"context"
	"fmt"

	"github.com/complyio/complyio/internal/pipeline"
)

// fourEyesRule requires deployment stages to be guarded by an approval that
// the person starting the run cannot give.
type fourEyesRule struct {
	name        Name
	kind        ResourceKind
	description string
}

func (r *fourEyesRule) Name() Name          { return r.name }
func (r *fourEyesRule) Kind() ResourceKind  { return r.kind }
func (r *fourEyesRule) Description() string { return r.description }
func (r *fourEyesRule) Impact() []string {
	return []string{"A single person can deploy to production without review"}
}

// Evaluate requires every deploying stage to be guarded; a pipeline without
// deploying stages is not compliant.
func (r *fourEyesRule) Evaluate(_ context.Context, resource *Resource) (bool, error) {
	if resource == nil || resource.Pipeline == nil {
		return false, fmt.Errorf("%s: no pipeline to evaluate", r.name)
	}
	deploying := 0
	for _, stage := range resource.Pipeline.Stages() {
		if !deploys(stage) {
			continue
		}
		deploying++
		if !guarded(stage) {
			return false, nil
		}
	}
	return deploying > 0, nil
}

func (r *fourEyesRule) EvaluateStage(_ context.Context, resource *Resource, stageID string) (bool, error) {
	if resource == nil || resource.Pipeline == nil {
		return false, fmt.Errorf("%s: no pipeline to evaluate", r.name)
	}
	stage, ok := resource.Pipeline.DefaultRunContent.Stage(stageID)
	if !ok {
		return false, nil
	}
	return guarded(*stage), nil
}

func deploys(stage pipeline.Stage) bool {
	for _, job := range stage.Jobs {
		if job.Environment != "" {
			return true
		}
	}
	return false
}

func guarded(stage pipeline.Stage) bool {
	for _, gate := range stage.Gates() {
		if gate.IsFourEyes() {
			return true
		}
	}
	return false
}

// NewYamlReleasePipelineIsBlockedWithout4EyesApproval returns the YAML four-eyes rule.
func NewYamlReleasePipelineIsBlockedWithout4EyesApproval() StageRule {
	return &fourEyesRule{
		name:        YamlReleasePipelineIsBlockedWithout4EyesApproval,
		kind:        KindReleaseDefinitionYaml,
		description: "YAML release pipeline stage is blocked without four-eyes approval on its environment",
	}
}

// NewClassicReleasePipelineIsBlockedWithout4EyesApproval returns the classic four-eyes rule.
func NewClassicReleasePipelineIsBlockedWithout4EyesApproval() StageRule {
	return &fourEyesRule{
		name:        ClassicReleasePipelineIsBlockedWithout4EyesApproval,
		kind:        KindReleaseDefinitionClassic,
		description: "Classic release pipeline stage is blocked without four-eyes pre-deployment approval",
	}
}
