package registration

import (
	"context"
	"errors"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/sm9"
	"github.com/complyio/complyio/internal/store"
	sharederrors "github.com/complyio/complyio/pkg/shared/errors"
)

type fakeCMDB map[string]sm9.ConfigurationItem

func (f fakeCMDB) GetConfigurationItem(_ context.Context, id string) (*sm9.ConfigurationItem, error) {
	ci, ok := f[id]
	if !ok {
		return nil, &sm9.ResponseError{StatusCode: 404}
	}
	return &ci, nil
}

type fakeSource struct {
	methods []sm9.DeploymentMethod
	err     error
}

func (f fakeSource) ListDeploymentMethods(context.Context) ([]sm9.DeploymentMethod, error) {
	return f.methods, f.err
}

func newService(t *testing.T, memory *store.Memory) *Service {
	t.Helper()
	profiles, err := rules.ProfilesFromConfig(nil)
	require.NoError(t, err)
	return NewService(memory, fakeCMDB{
		"CI1": {CiIdentifier: "CI1", CiName: "payments"},
		"CI2": {CiIdentifier: "CI2", CiName: "loans"},
	}, profiles, hclog.NewNullLogger())
}

func request() Request {
	return Request{Organization: "raboweb", ProjectID: "p1", PipelineID: 42, PipelineType: "build", UpdatedBy: "jane"}
}

func TestRegisterProdValidatesCi(t *testing.T) {
	s := newService(t, store.NewMemory())
	req := request()
	req.CiIdentifier = "CI404"

	_, err := s.RegisterProd(context.Background(), req)
	assert.True(t, sharederrors.IsValidation(err))

	req.CiIdentifier = "CI1"
	registration, err := s.RegisterProd(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "payments", registration.Prod.CiName)
	assert.True(t, registration.ShouldBeScanned)
}

func TestRegisterNonProdDoesNotDowngradeProd(t *testing.T) {
	s := newService(t, store.NewMemory())
	req := request()
	req.CiIdentifier = "CI1"
	_, err := s.RegisterProd(context.Background(), req)
	require.NoError(t, err)

	_, err = s.RegisterNonProd(context.Background(), request())
	assert.True(t, sharederrors.IsConflict(err))
}

func TestRegisterValidation(t *testing.T) {
	s := newService(t, store.NewMemory())
	tests := []struct {
		name   string
		modify func(*Request)
	}{
		{"missing organization", func(r *Request) { r.Organization = "" }},
		{"invalid pipeline id", func(r *Request) { r.PipelineID = -1 }},
		{"unknown profile", func(r *Request) { r.RuleProfileName = "Nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := request()
			tt.modify(&req)
			_, err := s.RegisterNonProd(context.Background(), req)
			assert.True(t, sharederrors.IsValidation(err), "got %v", err)
		})
	}
}

func TestUpdateAndDeleteProd(t *testing.T) {
	ctx := context.Background()
	s := newService(t, store.NewMemory())
	req := request()
	req.CiIdentifier = "CI1"
	_, err := s.RegisterProd(ctx, req)
	require.NoError(t, err)

	req.CiIdentifier = "CI2"
	req.RuleProfileName = "mainframecobol"
	updated, err := s.UpdateProd(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "CI2", updated.CiIdentifier())
	assert.Equal(t, rules.MainframeCobolProfileName, s.Profile(updated).Name)

	_, err = s.UpdateNonProd(ctx, req)
	assert.True(t, sharederrors.IsConflict(err))

	require.NoError(t, s.DeleteProd(ctx, req))
	err = s.DeleteProd(ctx, req)
	assert.True(t, sharederrors.IsNotFound(err))
}

func TestLookupFallsBackToPipelineRegistration(t *testing.T) {
	ctx := context.Background()
	s := newService(t, store.NewMemory())
	pipelineLevel := request()
	pipelineLevel.CiIdentifier = "CI1"
	_, err := s.RegisterProd(ctx, pipelineLevel)
	require.NoError(t, err)

	stage := request()
	stage.StageID = "Production"
	stage.CiIdentifier = "CI2"
	_, err = s.RegisterProd(ctx, stage)
	require.NoError(t, err)

	got, err := s.Lookup(ctx, "raboweb", "p1", 42, store.PipelineTypeBuild, "production")
	require.NoError(t, err)
	assert.Equal(t, "CI2", got.CiIdentifier())

	got, err = s.Lookup(ctx, "raboweb", "p1", 42, store.PipelineTypeBuild, "test")
	require.NoError(t, err)
	assert.Equal(t, "CI1", got.CiIdentifier())

	_, err = s.Lookup(ctx, "raboweb", "p1", 43, store.PipelineTypeBuild, "")
	assert.True(t, sharederrors.IsNotFound(err))
}

func TestImporter(t *testing.T) {
	ctx := context.Background()
	memory := store.NewMemory()
	require.NoError(t, memory.PutRegistration(ctx, &store.Registration{
		Organization: "raboweb", ProjectID: "p1", PipelineID: 42, PipelineType: store.PipelineTypeBuild, RuleProfileName: "MainframeCobol",
	}))

	importer := NewImporter(fakeSource{methods: []sm9.DeploymentMethod{
		{CiIdentifier: "CI1", CiName: "payments", Organization: "raboweb", ProjectID: "p1", PipelineID: "42", PipelineType: "build"},
		{CiIdentifier: "CI2", Organization: "raboweb", ProjectID: "p1", PipelineID: "7", PipelineType: "release", StageID: "3"},
		{CiIdentifier: "CI3", Organization: "raboweb", ProjectID: "p1", PipelineID: "not-a-number"},
	}}, memory, hclog.NewNullLogger(), nil)

	n, err := importer.Import(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	registrations, err := memory.ListRegistrations(ctx, "raboweb")
	require.NoError(t, err)
	require.Len(t, registrations, 2)

	kept, err := memory.GetRegistration(ctx, store.RegistrationKey("raboweb", "p1", 42, store.PipelineTypeBuild, ""))
	require.NoError(t, err)
	assert.Equal(t, "MainframeCobol", kept.RuleProfileName)
	assert.Equal(t, "CI1", kept.CiIdentifier())
}

func TestImporterReturnsSourceError(t *testing.T) {
	importer := NewImporter(fakeSource{err: errors.New("cmdb down")}, store.NewMemory(), hclog.NewNullLogger(), nil)
	_, err := importer.Import(context.Background())
	assert.ErrorContains(t, err, "cmdb down")
}
