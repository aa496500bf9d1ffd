package rules

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/pipeline"
)

// fakeACL is an in-memory security service backing both the loader and the
// permissions client.
type fakeACL struct {
	permissions []pipeline.Permission
	writes      int
	loads       int
	failWrite   error
}

func (f *fakeACL) SetDeny(_ context.Context, _, namespace, token, descriptor string, bits int) error {
	if f.failWrite != nil {
		return f.failWrite
	}
	f.writes++
	for i := range f.permissions {
		if f.permissions[i].Descriptor == descriptor {
			f.permissions[i].Deny |= bits
		}
	}
	return nil
}

func (f *fakeACL) Load(_ context.Context, kind ResourceKind, organization, projectID, itemID string) (*Resource, error) {
	f.loads++
	perms := make([]pipeline.Permission, len(f.permissions))
	copy(perms, f.permissions)
	return &Resource{Kind: kind, Organization: organization, ProjectID: projectID, ItemID: itemID, Permissions: perms}, nil
}

func TestKnownNames(t *testing.T) {
	assert.Len(t, KnownNames(), 12)
	assert.False(t, IsKnownName("nobody can delete the repository"))
	assert.True(t, IsKnownName("nobodycandeletetherepository"))

	name, err := ParseName(" BuildPipelineHasFortifyTask ")
	require.NoError(t, err)
	assert.Equal(t, BuildPipelineHasFortifyTask, name)

	_, err = ParseName("Unknown")
	assert.Error(t, err)
}

func TestReconcileAndEvaluateMeasuresStateAfterReconcile(t *testing.T) {
	acl := &fakeACL{permissions: []pipeline.Permission{
		{Descriptor: "d1", IdentityName: `[p]\Contributors`, Allow: pipeline.PermissionDeleteRepository},
		{Descriptor: "d2", IdentityName: `[raboweb]\Project Collection Administrators`, Allow: pipeline.PermissionDeleteRepository},
	}}
	rule := NewNobodyCanDeleteTheRepository(acl, acl)
	ctx := context.Background()

	before, err := rule.Evaluate(ctx, &Resource{Permissions: acl.permissions})
	require.NoError(t, err)
	assert.False(t, before)

	after, err := ReconcileAndEvaluate(ctx, rule, acl, "raboweb", "p1", "r1")
	require.NoError(t, err)
	assert.True(t, after)
	assert.Equal(t, 1, acl.writes, "exempt identities are left alone")
	assert.Equal(t, 2, acl.loads, "state is reloaded after reconcile")
}

func TestReconcileAndEvaluateReturnsReconcileError(t *testing.T) {
	acl := &fakeACL{
		permissions: []pipeline.Permission{{Descriptor: "d1", IdentityName: "Contributors", Allow: pipeline.PermissionDeleteBuilds}},
		failWrite:   errors.New("forbidden"),
	}
	rule := NewNobodyCanDeleteBuilds(acl, acl)

	ok, err := ReconcileAndEvaluate(context.Background(), rule, acl, "raboweb", "p1", "12")
	require.Error(t, err)
	assert.False(t, ok)
}

func TestReconcileProjectAndEvaluate(t *testing.T) {
	acl := &fakeACL{permissions: []pipeline.Permission{
		{Descriptor: "d1", IdentityName: "Project Administrators", Allow: pipeline.PermissionDeleteProject},
	}}
	rule := NewNobodyCanDeleteTheTeamProject(acl, acl)

	ok, err := ReconcileProjectAndEvaluate(context.Background(), rule, acl, "raboweb", "p1")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestGetAllRulesIsDistinct(t *testing.T) {
	processor, _ := Catalog(nil, nil)

	all := processor.GetAllRules()
	assert.Len(t, all, len(KnownNames()))

	count := 0
	for _, r := range all {
		if r.Name() == NobodyCanDeleteBuilds {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Contains(t, processor.GetAllBuildRules(), processor.GetAllYamlReleaseRules()[0])
}

type namelessRule struct{ taskRule }

func (r *namelessRule) Name() Name { return "" }

func TestGetAllByRuleProfile(t *testing.T) {
	processor, _ := Catalog(nil, nil)
	rules := append(processor.GetAllBuildRules(), &namelessRule{})

	filtered := GetAllByRuleProfile(rules, Profile{Name: "p", Rules: []Name{BuildPipelineHasFortifyTask, NobodyCanDeleteBuilds}})
	require.Len(t, filtered, 2)
	assert.Equal(t, NobodyCanDeleteBuilds, filtered[0].Name())
	assert.Equal(t, BuildPipelineHasFortifyTask, filtered[1].Name())

	assert.Len(t, GetAllByRuleProfile(processor.GetAllBuildRules(), DefaultProfile()), 4)
	assert.Len(t, GetAllByRuleProfile(processor.GetAllBuildRules(), MainframeCobolProfile()), 5)
}

func TestReconcileProcessor(t *testing.T) {
	_, reconcile := Catalog(nil, nil)

	assert.Len(t, reconcile.GetAllItemReconcile(), 3)
	assert.Len(t, reconcile.GetAllProjectReconcile(), 1)

	r, ok := reconcile.FindItemReconcile(NobodyCanDeleteReleases)
	require.True(t, ok)
	assert.True(t, HasRuleName(r, NobodyCanDeleteReleases))

	_, ok = reconcile.FindItemReconcile(BuildPipelineHasFortifyTask)
	assert.False(t, ok)
	assert.True(t, reconcile.IsReconcilable(NobodyCanDeleteTheTeamProject))
	assert.False(t, reconcile.IsReconcilable(YamlReleasePipelineHasSm9ChangeTask))
}

func stagePipeline(stages ...pipeline.Stage) *Resource {
	return &Resource{Pipeline: &pipeline.Pipeline{DefaultRunContent: &pipeline.Body{Stages: stages}}}
}

func TestTaskRules(t *testing.T) {
	ctx := context.Background()
	sonar := pipeline.Task{FullTaskName: "SonarQubeAnalyze@5", Enabled: true}
	sm9 := pipeline.Task{FullTaskName: "Rabo.SM9CreateChange@1", Enabled: true}

	ok, err := NewBuildPipelineHasSonarqubeTask().Evaluate(ctx, stagePipeline(
		pipeline.Stage{ID: "a", Jobs: []pipeline.Job{{Tasks: []pipeline.Task{}}}},
		pipeline.Stage{ID: "b", Jobs: []pipeline.Job{{Tasks: []pipeline.Task{sonar}}}},
	))
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = NewBuildPipelineHasNexusIqTask().Evaluate(ctx, stagePipeline(
		pipeline.Stage{ID: "a", Jobs: []pipeline.Job{{Tasks: []pipeline.Task{{FullTaskName: "NexusIqPipelineTask@1", Enabled: true}}}}},
	))
	require.NoError(t, err)
	assert.False(t, ok, "application id input is required")

	_, err = NewBuildPipelineHasFortifyTask().Evaluate(ctx, &Resource{})
	assert.Error(t, err)

	stageRule := NewYamlReleasePipelineHasSm9ChangeTask()
	res := stagePipeline(
		pipeline.Stage{ID: "test", Jobs: []pipeline.Job{{Tasks: []pipeline.Task{}}}},
		pipeline.Stage{ID: "prod", Jobs: []pipeline.Job{{Tasks: []pipeline.Task{sm9}}}},
	)
	ok, err = stageRule.EvaluateStage(ctx, res, "PROD")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = stageRule.EvaluateStage(ctx, res, "test")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = stageRule.EvaluateStage(ctx, res, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = stageRule.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFourEyesRule(t *testing.T) {
	ctx := context.Background()
	approval := pipeline.Gate{Type: pipeline.GateApproval, Approvers: []string{"team"}, RequesterCannotApprove: true}
	selfApproval := pipeline.Gate{Type: pipeline.GateApproval, Approvers: []string{"team"}}

	res := stagePipeline(
		pipeline.Stage{ID: "build", Jobs: []pipeline.Job{{Name: "compile"}}},
		pipeline.Stage{ID: "acc", Jobs: []pipeline.Job{{Environment: "acc", Gates: []pipeline.Gate{selfApproval}}}},
		pipeline.Stage{ID: "prod", Jobs: []pipeline.Job{{Environment: "prod", Gates: []pipeline.Gate{approval}}}},
	)
	rule := NewYamlReleasePipelineIsBlockedWithout4EyesApproval()

	ok, err := rule.EvaluateStage(ctx, res, "prod")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = rule.EvaluateStage(ctx, res, "acc")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rule.Evaluate(ctx, res)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = rule.Evaluate(ctx, stagePipeline(pipeline.Stage{ID: "build"}))
	require.NoError(t, err)
	assert.False(t, ok, "nothing deploys")
}

func TestProfilesFromConfig(t *testing.T) {
	profiles, err := ProfilesFromConfig([]config.RuleProfile{
		{Name: "Minimal", Rules: []string{"buildpipelinehasfortifytask"}},
	})
	require.NoError(t, err)

	assert.Equal(t, []Name{BuildPipelineHasFortifyTask}, profiles.Get("minimal").Rules)
	assert.Equal(t, DefaultProfileName, profiles.Get("").Name)
	assert.Equal(t, DefaultProfileName, profiles.Get("unknown").Name)
	assert.Equal(t, MainframeCobolProfileName, profiles.Get("mainframecobol").Name)

	_, err = ProfilesFromConfig([]config.RuleProfile{{Name: "Broken", Rules: []string{"NoSuchRule"}}})
	assert.Error(t, err)
}
