package scan

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/internal/azdo"
	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/pipeline"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
)

func fastPolicy(maxAttempts int) *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:        maxAttempts,
		FirstRetryInterval: time.Millisecond,
		BackoffCoefficient: 1.25,
		MaxRetryInterval:   5 * time.Millisecond,
		AttemptTimeout:     50 * time.Millisecond,
		logger:             hclog.NewNullLogger(),
	}
}

func TestRetryPolicyRetriesTransientErrors(t *testing.T) {
	attempts := 0
	err := fastPolicy(3).Run(context.Background(), "test", func(context.Context) error {
		attempts++
		return context.DeadlineExceeded
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicyReturnsOtherErrorsImmediately(t *testing.T) {
	boom := errors.New("bad request")
	attempts := 0
	err := fastPolicy(3).Run(context.Background(), "test", func(context.Context) error {
		attempts++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	attempts := 0
	err := fastPolicy(3).Run(context.Background(), "test", func(context.Context) error {
		attempts++
		if attempts == 1 {
			return context.Canceled
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicyAppliesAttemptTimeout(t *testing.T) {
	attempts := 0
	err := fastPolicy(2).Run(context.Background(), "test", func(ctx context.Context) error {
		attempts++
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 2, attempts)
}

func TestRetryPolicyBackoffIntervals(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 3, FirstRetryInterval: 10 * time.Second, BackoffCoefficient: 1.25, MaxRetryInterval: 5 * time.Minute}
	b := p.backOff(context.Background())
	b.Reset()
	assert.Equal(t, 10*time.Second, b.NextBackOff())
	assert.Equal(t, 12500*time.Millisecond, b.NextBackOff())
	assert.Equal(t, time.Duration(-1), b.NextBackOff())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"deadline", context.DeadlineExceeded, true},
		{"canceled", context.Canceled, true},
		{"wrapped", errors.Join(errors.New("get"), context.DeadlineExceeded), true},
		{"net timeout", &net.DNSError{IsTimeout: true}, true},
		{"other", errors.New("404"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestForEachBoundedLimitsConcurrency(t *testing.T) {
	var running, peak int32
	values := make([]int, 20)
	var mu sync.Mutex
	seen := map[int]bool{}
	forEachBounded(3, values, func(i int, _ int) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		mu.Lock()
		seen[i] = true
		mu.Unlock()
	})
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
	assert.Len(t, seen, 20)
}

// Fakes of the Azure DevOps services.

type fakeProjects struct{ projects []azdo.Project }

func (f *fakeProjects) List(context.Context, string) ([]azdo.Project, error) { return f.projects, nil }
func (f *fakeProjects) Get(_ context.Context, _, id string) (*azdo.Project, error) {
	for _, p := range f.projects {
		if p.ID == id {
			return &p, nil
		}
	}
	return nil, &azdo.ResponseError{StatusCode: 404}
}

type fakeRepositories struct{ failProject string }

func (f *fakeRepositories) List(_ context.Context, _, projectID string) ([]azdo.Repository, error) {
	if projectID == f.failProject {
		return nil, errors.New("forbidden")
	}
	return []azdo.Repository{{ID: "r1", Name: "app", Project: azdo.ProjectReference{ID: projectID}}}, nil
}

type fakeBuilds struct{ defs []azdo.BuildDefinition }

func (f *fakeBuilds) ListDefinitions(context.Context, string, string) ([]azdo.BuildDefinition, error) {
	return f.defs, nil
}
func (f *fakeBuilds) GetDefinition(_ context.Context, _, _ string, id int) (*azdo.BuildDefinition, error) {
	for _, d := range f.defs {
		if d.ID == id {
			return &d, nil
		}
	}
	return nil, &azdo.ResponseError{StatusCode: 404}
}
func (f *fakeBuilds) Get(context.Context, string, string, int) (*azdo.Build, error) {
	return nil, &azdo.ResponseError{StatusCode: 404}
}

type fakeReleases struct{}

func (fakeReleases) ListDefinitions(context.Context, string, string) ([]azdo.ReleaseDefinition, error) {
	return nil, nil
}
func (fakeReleases) GetDefinition(context.Context, string, string, int) (*azdo.ReleaseDefinition, error) {
	return nil, &azdo.ResponseError{StatusCode: 404}
}
func (fakeReleases) Get(context.Context, string, string, int) (*azdo.Release, error) {
	return nil, &azdo.ResponseError{StatusCode: 404}
}

type fakePipelines struct{ yaml string }

func (f fakePipelines) FinalYaml(context.Context, string, string, int) (string, error) {
	return f.yaml, nil
}

type fakeSecurity struct {
	mu    sync.Mutex
	allow int
	deny  int
}

func (f *fakeSecurity) AccessControlLists(context.Context, string, string, string) ([]azdo.AccessControlList, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return []azdo.AccessControlList{{AcesDictionary: map[string]azdo.AccessControlEntry{
		"d1": {Descriptor: "d1", Allow: f.allow, Deny: f.deny},
	}}}, nil
}
func (f *fakeSecurity) SetDeny(_ context.Context, _, _, _, _ string, bits int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deny |= bits
	return nil
}
func (f *fakeSecurity) Identities(context.Context, string, []string) ([]azdo.Identity, error) {
	return []azdo.Identity{{Descriptor: "d1", ProviderDisplayName: `[p1]\Contributors`}}, nil
}

type fakeEnvironments struct{}

func (fakeEnvironments) FindByName(_ context.Context, _, _, name string) (*azdo.Environment, error) {
	if name != "production" {
		return nil, &azdo.ResponseError{StatusCode: 404}
	}
	return &azdo.Environment{ID: 5, Name: name}, nil
}
func (fakeEnvironments) Checks(context.Context, string, string, int) ([]azdo.CheckConfiguration, error) {
	settings, _ := json.Marshal(azdo.ApprovalSettings{
		Approvers:                 []azdo.IdentityRef{{DisplayName: "Release Managers"}},
		RequesterCannotBeApprover: true,
	})
	return []azdo.CheckConfiguration{{ID: 1, Type: azdo.CheckType{Name: azdo.CheckTypeApproval}, Settings: settings}}, nil
}

const releaseYaml = `
stages:
  - stage: prod
    jobs:
      - deployment: deploy
        environment: production
        strategy:
          runOnce:
            deploy:
              steps:
                - task: SM9CreateChange@1
`

func fakeClient(security *fakeSecurity) *azdo.Client {
	return &azdo.Client{
		Logger: hclog.NewNullLogger(),
		Projects: &fakeProjects{projects: []azdo.Project{
			{ID: "p2", Name: "beta"},
			{ID: "p1", Name: "Alpha"},
		}},
		Repositories: &fakeRepositories{failProject: "p2"},
		Builds: &fakeBuilds{defs: []azdo.BuildDefinition{
			{ID: 7, Name: "ci", Project: azdo.ProjectReference{ID: "p1", Name: "Alpha"}, Process: azdo.BuildProcess{Type: azdo.BuildProcessDesigner}},
			{ID: 42, Name: "cd", Project: azdo.ProjectReference{ID: "p1", Name: "Alpha"}, Process: azdo.BuildProcess{Type: azdo.BuildProcessYaml}},
		}},
		Releases:     fakeReleases{},
		Pipelines:    fakePipelines{yaml: releaseYaml},
		Security:     security,
		Environments: fakeEnvironments{},
	}
}

func TestLoaderBuildsYamlReleaseWithGates(t *testing.T) {
	loader := NewLoader(fakeClient(&fakeSecurity{}), hclog.NewNullLogger())

	resource, err := loader.Load(context.Background(), rules.KindReleaseDefinitionYaml, "raboweb", "p1", "42")
	require.NoError(t, err)
	assert.Equal(t, pipeline.ProcessYaml, resource.Pipeline.ProcessType)

	stage, ok := resource.Pipeline.DefaultRunContent.Stage("prod")
	require.True(t, ok)
	require.Len(t, stage.Gates(), 1)
	assert.True(t, stage.Gates()[0].IsFourEyes())
	require.Len(t, resource.Permissions, 1)
	assert.Equal(t, `[p1]\Contributors`, resource.Permissions[0].IdentityName)
}

func TestReconcileThroughLoaderObservesDeny(t *testing.T) {
	security := &fakeSecurity{allow: pipeline.PermissionDeleteRepository}
	loader := NewLoader(fakeClient(security), hclog.NewNullLogger())
	_, reconcile := rules.Catalog(security, loader.Fresh())

	rule, ok := reconcile.FindItemReconcile(rules.NobodyCanDeleteTheRepository)
	require.True(t, ok)
	compliant, err := rules.ReconcileAndEvaluate(context.Background(), rule, loader.Fresh(), "raboweb", "p1", "r1")
	require.NoError(t, err)
	assert.True(t, compliant)
}

func TestScanOrganizationIsolatesProjectFailures(t *testing.T) {
	ctx := context.Background()
	security := &fakeSecurity{allow: pipeline.PermissionDeleteBuildDefinition}
	client := fakeClient(security)
	loader := NewLoader(client, hclog.NewNullLogger())
	processor, reconcile := rules.Catalog(security, loader.Fresh())
	memory := store.NewMemory()
	require.NoError(t, memory.PutRegistration(ctx, &store.Registration{
		Organization: "raboweb", ProjectID: "p1", PipelineID: 42, PipelineType: store.PipelineTypeBuild,
		Prod: &store.ProdInfo{CiIdentifier: "CI1"},
	}))
	profiles, err := rules.ProfilesFromConfig(nil)
	require.NoError(t, err)

	orchestrator := NewOrchestrator(Dependencies{
		Client:        client,
		Loader:        loader,
		Engine:        compliancy.NewEngine(processor, reconcile, memory, nil, nil, nil),
		Registrations: memory,
		Reports:       memory,
		Profiles:      profiles,
		Retry:         fastPolicy(3),
		Concurrency:   2,
	})

	reports := orchestrator.ScanOrganizations(ctx, []string{"raboweb"})
	require.Len(t, reports, 1)
	report := reports[0]
	require.Len(t, report.Projects, 1)
	assert.Equal(t, "Alpha", report.Projects[0].ProjectName)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "p2", report.Errors[0].ProjectID)
	assert.NotEmpty(t, report.Errors[0].CorrelationID)

	project := report.Projects[0]
	assert.Equal(t, report.ScanID+":p1", project.ScanID)
	// project, repository, designer build, yaml build and yaml release
	require.Len(t, project.Items, 5)

	yamlRelease := project.Items[4]
	assert.Equal(t, rules.KindReleaseDefinitionYaml, yamlRelease.Kind)
	prod, ok := yamlRelease.Stage("prod")
	require.True(t, ok)
	assert.True(t, prod.IsDeterminedCompliant())
	assert.Contains(t, yamlRelease.NonCompliantRules(), string(rules.NobodyCanDeleteBuilds))

	entity, err := memory.GetReport(ctx, store.ReportKey("raboweb", "p1", "7", string(rules.KindBuildDefinition)))
	require.NoError(t, err)
	assert.False(t, entity.IsDeterminedCompliant)
	assert.Contains(t, entity.NonCompliantRules, string(rules.NobodyCanDeleteBuilds))
}
