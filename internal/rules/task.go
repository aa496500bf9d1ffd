package rules

import (
	"context"
	"fmt"

	"github.com/complyio/complyio/internal/pipeline"
)

// taskRule requires one of a set of catalog tasks to be present and enabled
// somewhere in the pipeline.
type taskRule struct {
	name         Name
	kind         ResourceKind
	description  string
	impact       []string
	tasks        []pipeline.DefinedPipelineTask
	ignoreInputs bool
}

func (r *taskRule) Name() Name          { return r.name }
func (r *taskRule) Kind() ResourceKind  { return r.kind }
func (r *taskRule) Description() string { return r.description }
func (r *taskRule) Impact() []string    { return r.impact }

func (r *taskRule) Evaluate(_ context.Context, resource *Resource) (bool, error) {
	if resource == nil || resource.Pipeline == nil {
		return false, fmt.Errorf("%s: no pipeline to evaluate", r.name)
	}
	for _, stage := range resource.Pipeline.Stages() {
		if r.matches(stage) {
			return true, nil
		}
	}
	return false, nil
}

func (r *taskRule) matches(stage pipeline.Stage) bool {
	tasks := stage.Tasks()
	for _, defined := range r.tasks {
		if defined.MatchesAny(tasks, r.ignoreInputs) {
			return true
		}
	}
	return false
}

// stageTaskRule requires the task in every evaluated stage.
type stageTaskRule struct {
	*taskRule
}

// Evaluate without a stage context requires the task in every stage.
func (r *stageTaskRule) Evaluate(_ context.Context, resource *Resource) (bool, error) {
	if resource == nil || resource.Pipeline == nil {
		return false, fmt.Errorf("%s: no pipeline to evaluate", r.name)
	}
	stages := resource.Pipeline.Stages()
	if len(stages) == 0 {
		return false, nil
	}
	for _, stage := range stages {
		if !r.matches(stage) {
			return false, nil
		}
	}
	return true, nil
}

func (r *stageTaskRule) EvaluateStage(_ context.Context, resource *Resource, stageID string) (bool, error) {
	if resource == nil || resource.Pipeline == nil {
		return false, fmt.Errorf("%s: no pipeline to evaluate", r.name)
	}
	stage, ok := resource.Pipeline.DefaultRunContent.Stage(stageID)
	if !ok {
		return false, nil
	}
	return r.matches(*stage), nil
}

// Catalog tasks referenced by the task rules.
var (
	sonarqubeTask = pipeline.NewTaskBuilder().WithID("6d01813a-9589-4b15-8491-8164aeb38055").WithName("SonarQubeAnalyze").MustBuild()
	fortifyTask   = pipeline.NewTaskBuilder().WithID("818386e5-c8a5-46c3-822d-954b3c8fb130").WithName("FortifySCA").MustBuild()
	nexusIqTask   = pipeline.NewTaskBuilder().WithID("4f40d1a2-83b0-4ddc-9a77-e7f279eb1802").WithName("NexusIqPipelineTask").WithInvariantInput("applicationId").MustBuild()
	dbbBuildTask  = pipeline.NewTaskBuilder().WithName("dbb-build").MustBuild()
	sm9ChangeTask = pipeline.NewTaskBuilder().WithID("d0c045b6-d01d-4d69-882a-c21b18a35472").WithName("SM9CreateChange").MustBuild()
)

// NewBuildPipelineHasSonarqubeTask returns the SonarQube analysis rule.
func NewBuildPipelineHasSonarqubeTask() Rule {
	return &taskRule{
		name:         BuildPipelineHasSonarqubeTask,
		kind:         KindBuildDefinition,
		description:  "Build pipeline contains an enabled SonarQube task",
		impact:       []string{"Code quality issues are not detected before release"},
		tasks:        []pipeline.DefinedPipelineTask{sonarqubeTask},
		ignoreInputs: true,
	}
}

// NewBuildPipelineHasFortifyTask returns the Fortify scan rule.
func NewBuildPipelineHasFortifyTask() Rule {
	return &taskRule{
		name:         BuildPipelineHasFortifyTask,
		kind:         KindBuildDefinition,
		description:  "Build pipeline contains an enabled Fortify task",
		impact:       []string{"Security vulnerabilities in code are not detected before release"},
		tasks:        []pipeline.DefinedPipelineTask{fortifyTask},
		ignoreInputs: true,
	}
}

// NewBuildPipelineHasNexusIqTask returns the Nexus IQ dependency scan rule.
func NewBuildPipelineHasNexusIqTask() Rule {
	return &taskRule{
		name:        BuildPipelineHasNexusIqTask,
		kind:        KindBuildDefinition,
		description: "Build pipeline contains an enabled Nexus IQ task with an application id",
		impact:      []string{"Vulnerable third party dependencies are not detected before release"},
		tasks:       []pipeline.DefinedPipelineTask{nexusIqTask},
	}
}

// NewBuildPipelineFollowsMainframeCobolProcess returns the mainframe DBB build rule.
func NewBuildPipelineFollowsMainframeCobolProcess() Rule {
	return &taskRule{
		name:         BuildPipelineFollowsMainframeCobolProcess,
		kind:         KindBuildDefinition,
		description:  "Build pipeline follows the mainframe COBOL build process",
		impact:       []string{"Mainframe artifacts are built outside the controlled DBB process"},
		tasks:        []pipeline.DefinedPipelineTask{dbbBuildTask},
		ignoreInputs: true,
	}
}

// NewYamlReleasePipelineHasSm9ChangeTask returns the YAML SM9 change rule.
func NewYamlReleasePipelineHasSm9ChangeTask() StageRule {
	return &stageTaskRule{&taskRule{
		name:         YamlReleasePipelineHasSm9ChangeTask,
		kind:         KindReleaseDefinitionYaml,
		description:  "YAML release pipeline stage creates an SM9 change",
		impact:       []string{"Production changes are deployed without a registered change"},
		tasks:        []pipeline.DefinedPipelineTask{sm9ChangeTask},
		ignoreInputs: true,
	}}
}

// NewClassicReleasePipelineHasSm9ChangeTask returns the classic SM9 change rule.
func NewClassicReleasePipelineHasSm9ChangeTask() StageRule {
	return &stageTaskRule{&taskRule{
		name:         ClassicReleasePipelineHasSm9ChangeTask,
		kind:         KindReleaseDefinitionClassic,
		description:  "Classic release pipeline stage creates an SM9 change",
		impact:       []string{"Production changes are deployed without a registered change"},
		tasks:        []pipeline.DefinedPipelineTask{sm9ChangeTask},
		ignoreInputs: true,
	}}
}
