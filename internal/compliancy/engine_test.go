package compliancy

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/internal/pipeline"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
)

type stubRule struct {
	name      rules.Name
	kind      rules.ResourceKind
	compliant bool
	err       error
	panics    bool
}

func (r *stubRule) Name() rules.Name         { return r.name }
func (r *stubRule) Kind() rules.ResourceKind { return r.kind }
func (r *stubRule) Description() string      { return "stub" }
func (r *stubRule) Impact() []string         { return nil }
func (r *stubRule) Evaluate(context.Context, *rules.Resource) (bool, error) {
	if r.panics {
		panic("boom")
	}
	return r.compliant, r.err
}

type fixedExclusions bool

func (f fixedExclusions) Valid(context.Context, store.Key) (bool, error) { return bool(f), nil }

func sm9Task() pipeline.Task {
	return pipeline.Task{ID: "d0c045b6-d01d-4d69-882a-c21b18a35472", Name: "SM9CreateChange", Version: "1", FullTaskName: "SM9CreateChange@1", Enabled: true}
}

func yamlRelease(stages ...pipeline.Stage) *rules.Resource {
	return &rules.Resource{
		Kind:         rules.KindReleaseDefinitionYaml,
		Organization: "raboweb",
		ProjectID:    "p1",
		ItemID:       "42",
		ItemName:     "deploy",
		Pipeline: &pipeline.Pipeline{
			ID:                "42",
			ProcessType:       pipeline.ProcessYaml,
			DefaultRunContent: &pipeline.Body{Stages: stages},
		},
	}
}

func stageRegistration(stageID, ci string) store.Registration {
	return store.Registration{
		Organization: "raboweb",
		ProjectID:    "p1",
		PipelineID:   42,
		PipelineType: store.PipelineTypeBuild,
		StageID:      stageID,
		Prod:         &store.ProdInfo{CiIdentifier: ci},
	}
}

func TestRuleCompliancyReportIsDeterminedCompliant(t *testing.T) {
	tests := []struct {
		compliant, deviation, want bool
	}{
		{false, false, false},
		{true, false, true},
		{false, true, true},
		{true, true, true},
	}
	for _, tt := range tests {
		r := RuleCompliancyReport{IsCompliant: tt.compliant, HasDeviation: tt.deviation}
		assert.Equal(t, tt.want, r.IsDeterminedCompliant())
	}
}

func TestStageDeviationFlipsOnlyDeviatedStage(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemory()
	require.NoError(t, memory.PutDeviation(ctx, &store.DeviationEntity{
		Organization: "raboweb",
		ProjectID:    "p1",
		RuleName:     string(rules.YamlReleasePipelineHasSm9ChangeTask),
		ItemID:       "42",
		CiIdentifier: "CI1",
		Reason:       "change created manually",
	}))

	processor := rules.NewProcessor(nil, nil, nil, []rules.Rule{rules.NewYamlReleasePipelineHasSm9ChangeTask()}, nil)
	engine := NewEngine(processor, nil, memory, nil, nil, nil)

	report := engine.EvaluatePipeline(ctx, Unit{
		Resource: yamlRelease(
			pipeline.Stage{ID: "test", Jobs: []pipeline.Job{{Name: "deploy"}}},
			pipeline.Stage{ID: "test2", Jobs: []pipeline.Job{{Name: "deploy"}}},
		),
		Profile:       rules.DefaultProfile(),
		Registrations: []store.Registration{stageRegistration("test", "CI1"), stageRegistration("test2", "CI2")},
	})

	require.Len(t, report.Stages, 2)
	test, ok := report.Stage("test")
	require.True(t, ok)
	assert.True(t, test.IsDeterminedCompliant())
	assert.False(t, test.Rules[0].IsCompliant)
	assert.True(t, test.Rules[0].HasDeviation)
	assert.Equal(t, "CI1", test.Rules[0].CiIdentifier)

	test2, ok := report.Stage("test2")
	require.True(t, ok)
	assert.False(t, test2.IsDeterminedCompliant())
	assert.False(t, test2.Rules[0].HasDeviation)

	assert.Equal(t, []string{"test2"}, report.NonCompliantStages())
	assert.False(t, report.IsDeterminedCompliant())
	assert.True(t, report.PipelineCompliant())
}

func TestStageRulesFallBackToBodyStages(t *testing.T) {
	processor := rules.NewProcessor(nil, nil, nil, []rules.Rule{rules.NewYamlReleasePipelineHasSm9ChangeTask()}, nil)
	engine := NewEngine(processor, nil, store.NewMemory(), nil, nil, nil)

	report := engine.EvaluatePipeline(context.Background(), Unit{
		Resource: yamlRelease(
			pipeline.Stage{ID: "build", Jobs: []pipeline.Job{{Name: "b"}}},
			pipeline.Stage{ID: "prod", Jobs: []pipeline.Job{{Name: "d", Tasks: []pipeline.Task{sm9Task()}}}},
		),
		Profile: rules.DefaultProfile(),
	})

	require.Len(t, report.Stages, 2)
	assert.Equal(t, []string{"build"}, report.NonCompliantStages())
	assert.Equal(t, []string{string(rules.YamlReleasePipelineHasSm9ChangeTask)}, report.NonCompliantRules())
}

func TestDeviationWithoutStageRegistrationsCoversEveryStage(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemory()
	require.NoError(t, memory.PutDeviation(ctx, &store.DeviationEntity{
		Organization: "raboweb",
		ProjectID:    "p1",
		RuleName:     string(rules.YamlReleasePipelineHasSm9ChangeTask),
		ItemID:       "42",
		Reason:       "change created manually",
	}))

	processor := rules.NewProcessor(nil, nil, nil, []rules.Rule{rules.NewYamlReleasePipelineHasSm9ChangeTask()}, nil)
	engine := NewEngine(processor, nil, memory, nil, nil, nil)

	report := engine.EvaluatePipeline(ctx, Unit{
		Resource: yamlRelease(
			pipeline.Stage{ID: "test", Jobs: []pipeline.Job{{Name: "deploy"}}},
			pipeline.Stage{ID: "prod", Jobs: []pipeline.Job{{Name: "deploy"}}},
		),
		Profile: rules.DefaultProfile(),
	})

	require.Len(t, report.Stages, 2)
	for _, stage := range report.Stages {
		require.Len(t, stage.Rules, 1)
		assert.Empty(t, stage.Rules[0].CiIdentifier)
		assert.True(t, stage.Rules[0].HasDeviation, stage.StageID)
	}
	assert.Empty(t, report.NonCompliantStages())
}

func TestFailingRulesAreNotCompliantAndDoNotStopEvaluation(t *testing.T) {
	processor := rules.NewProcessor(nil, nil, []rules.Rule{
		&stubRule{name: rules.BuildPipelineHasSonarqubeTask, kind: rules.KindBuildDefinition, panics: true},
		&stubRule{name: rules.BuildPipelineHasFortifyTask, kind: rules.KindBuildDefinition, err: errors.New("upstream down")},
		&stubRule{name: rules.BuildPipelineHasNexusIqTask, kind: rules.KindBuildDefinition, compliant: true},
	}, nil, nil)
	engine := NewEngine(processor, nil, store.NewMemory(), nil, nil, nil)

	report := engine.EvaluatePipeline(context.Background(), Unit{
		Resource: &rules.Resource{Kind: rules.KindBuildDefinition, Organization: "raboweb", ProjectID: "p1", ItemID: "7"},
		Profile:  rules.DefaultProfile(),
	})

	require.Len(t, report.Rules, 3)
	assert.False(t, report.Rules[0].IsCompliant)
	assert.Contains(t, report.Rules[0].Error, "panicked")
	assert.False(t, report.Rules[1].IsCompliant)
	assert.Equal(t, "upstream down", report.Rules[1].Error)
	assert.True(t, report.Rules[2].IsCompliant)
	assert.Equal(t, []string{
		string(rules.BuildPipelineHasFortifyTask),
		string(rules.BuildPipelineHasSonarqubeTask),
	}, report.NonCompliantRules())
}

func TestProfileLimitsRules(t *testing.T) {
	processor := rules.NewProcessor(nil, nil, []rules.Rule{
		&stubRule{name: rules.BuildPipelineFollowsMainframeCobolProcess, kind: rules.KindBuildDefinition},
		&stubRule{name: rules.BuildPipelineHasSonarqubeTask, kind: rules.KindBuildDefinition, compliant: true},
	}, nil, nil)
	engine := NewEngine(processor, nil, store.NewMemory(), nil, nil, nil)

	report := engine.EvaluatePipeline(context.Background(), Unit{
		Resource: &rules.Resource{Kind: rules.KindBuildDefinition, ItemID: "7"},
		Profile:  rules.DefaultProfile(),
	})
	require.Len(t, report.Rules, 1)
	assert.Equal(t, rules.BuildPipelineHasSonarqubeTask, report.Rules[0].RuleName)
	assert.True(t, report.IsDeterminedCompliant())
}

func TestPipelineRulesAreReportedPerCi(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemory()
	require.NoError(t, memory.PutDeviation(ctx, &store.DeviationEntity{
		Organization: "raboweb", ProjectID: "p1", RuleName: string(rules.BuildPipelineHasFortifyTask), ItemID: "7", CiIdentifier: "ci-a",
	}))
	processor := rules.NewProcessor(nil, nil, []rules.Rule{
		&stubRule{name: rules.BuildPipelineHasFortifyTask, kind: rules.KindBuildDefinition},
	}, nil, nil)
	engine := NewEngine(processor, nil, memory, nil, nil, nil)

	report := engine.EvaluatePipeline(ctx, Unit{
		Resource: &rules.Resource{Kind: rules.KindBuildDefinition, Organization: "raboweb", ProjectID: "p1", ItemID: "7"},
		Profile:  rules.DefaultProfile(),
		Registrations: []store.Registration{
			{PipelineID: 7, Prod: &store.ProdInfo{CiIdentifier: "CI-A"}},
			{PipelineID: 7, Prod: &store.ProdInfo{CiIdentifier: "CI-B"}},
		},
	})
	require.Len(t, report.Rules, 2)
	assert.True(t, report.Rules[0].HasDeviation)
	assert.False(t, report.Rules[1].HasDeviation)
	assert.False(t, report.PipelineCompliant())
}

func TestExclusionOnlyMarksReport(t *testing.T) {
	processor := rules.NewProcessor(nil, nil, []rules.Rule{
		&stubRule{name: rules.BuildPipelineHasFortifyTask, kind: rules.KindBuildDefinition},
	}, nil, nil)
	engine := NewEngine(processor, nil, store.NewMemory(), fixedExclusions(true), nil, nil)

	report := engine.EvaluatePipeline(context.Background(), Unit{
		Resource: &rules.Resource{Kind: rules.KindBuildDefinition, Organization: "raboweb", ProjectID: "p1", ItemID: "7"},
		Profile:  rules.DefaultProfile(),
	})
	assert.True(t, report.Excluded)
	assert.False(t, report.IsDeterminedCompliant())
}

func TestItemReportToEntity(t *testing.T) {
	report := &ItemReport{
		Kind:         rules.KindReleaseDefinitionClassic,
		Organization: "raboweb",
		ProjectID:    "p1",
		ItemID:       "3",
		Rules:        []RuleCompliancyReport{{RuleName: rules.NobodyCanDeleteReleases, IsCompliant: true}},
		Stages: []StageReport{
			{StageID: "1", Rules: []RuleCompliancyReport{{RuleName: rules.ClassicReleasePipelineHasSm9ChangeTask, IsCompliant: true}}},
			{StageID: "2", Rules: []RuleCompliancyReport{{RuleName: rules.ClassicReleasePipelineHasSm9ChangeTask}}},
		},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	entity := report.ToEntity("scan-1", at)
	assert.False(t, entity.IsDeterminedCompliant)
	assert.True(t, entity.PipelineCompliant)
	assert.Equal(t, []string{"2"}, entity.NonCompliantStages)
	assert.True(t, entity.StageCompliant("1"))
	assert.False(t, entity.StageCompliant("2"))
	assert.Equal(t, "scan-1", entity.ScanID)
	assert.Equal(t, store.ReportKey("raboweb", "p1", "3", string(rules.KindReleaseDefinitionClassic)), entity.Key())
}

func TestProjectReportCounts(t *testing.T) {
	p := &ProjectReport{Items: []ItemReport{
		{Rules: []RuleCompliancyReport{{IsCompliant: true}}},
		{Rules: []RuleCompliancyReport{{IsCompliant: false}}},
	}}
	assert.Equal(t, 1, p.Compliant())
	assert.Equal(t, 1, p.NonCompliant())
	assert.False(t, p.IsDeterminedCompliant())
}

func TestPipelineType(t *testing.T) {
	assert.Equal(t, store.PipelineTypeRelease, PipelineType(rules.KindReleaseDefinitionClassic))
	assert.Equal(t, store.PipelineTypeBuild, PipelineType(rules.KindReleaseDefinitionYaml))
	assert.Equal(t, store.PipelineTypeBuild, PipelineType(rules.KindBuildDefinition))
}
