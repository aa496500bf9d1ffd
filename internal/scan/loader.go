package scan

import (
	"context"
	"fmt"
	"strconv"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/azdo"
	"github.com/complyio/complyio/internal/pipeline"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// Loader builds rule resources from Azure DevOps.
type Loader struct {
	client *azdo.Client
	logger hclog.Logger
	fresh  bool
}

// NewLoader creates a loader reading through the client cache.
func NewLoader(client *azdo.Client, logger hclog.Logger) *Loader {
	return &Loader{client: client, logger: logger}
}

// Fresh returns a loader that bypasses the response cache, for reads that
// must observe a reconcile.
func (l *Loader) Fresh() *Loader {
	return &Loader{client: l.client, logger: l.logger, fresh: true}
}

func (l *Loader) context(ctx context.Context) context.Context {
	if l.fresh {
		return azdo.NoCache(ctx)
	}
	return ctx
}

// Load implements rules.ResourceLoader.
func (l *Loader) Load(ctx context.Context, kind rules.ResourceKind, organization, projectID, itemID string) (*rules.Resource, error) {
	ctx = l.context(ctx)
	switch kind {
	case rules.KindProject:
		project, err := l.client.Projects.Get(ctx, organization, projectID)
		if err != nil {
			return nil, err
		}
		return l.ProjectResource(ctx, organization, *project)

	case rules.KindRepository:
		repos, err := l.client.Repositories.List(ctx, organization, projectID)
		if err != nil {
			return nil, err
		}
		for _, repo := range repos {
			if repo.ID == itemID {
				return l.RepositoryResource(ctx, organization, projectID, repo)
			}
		}
		return nil, errors.NewNotFoundError("repository", itemID)

	case rules.KindBuildDefinition, rules.KindReleaseDefinitionYaml:
		id, err := strconv.Atoi(itemID)
		if err != nil {
			return nil, fmt.Errorf("invalid build definition id %q: %w", itemID, err)
		}
		def, err := l.client.Builds.GetDefinition(ctx, organization, projectID, id)
		if err != nil {
			return nil, err
		}
		return l.BuildResource(ctx, organization, kind, *def)

	case rules.KindReleaseDefinitionClassic:
		id, err := strconv.Atoi(itemID)
		if err != nil {
			return nil, fmt.Errorf("invalid release definition id %q: %w", itemID, err)
		}
		def, err := l.client.Releases.GetDefinition(ctx, organization, projectID, id)
		if err != nil {
			return nil, err
		}
		return l.ReleaseResource(ctx, organization, projectID, "", *def)
	}
	return nil, fmt.Errorf("unsupported resource kind %q", kind)
}

// ProjectResource builds the resource of a project with its permissions.
func (l *Loader) ProjectResource(ctx context.Context, organization string, project azdo.Project) (*rules.Resource, error) {
	resource := &rules.Resource{
		Kind:         rules.KindProject,
		Organization: organization,
		ProjectID:    project.ID,
		ProjectName:  project.Name,
		ItemID:       project.ID,
		ItemName:     project.Name,
	}
	return resource, l.withPermissions(ctx, resource)
}

// RepositoryResource builds the resource of a repository with its permissions.
func (l *Loader) RepositoryResource(ctx context.Context, organization, projectID string, repo azdo.Repository) (*rules.Resource, error) {
	resource := &rules.Resource{
		Kind:         rules.KindRepository,
		Organization: organization,
		ProjectID:    projectID,
		ProjectName:  repo.Project.Name,
		ItemID:       repo.ID,
		ItemName:     repo.Name,
	}
	return resource, l.withPermissions(ctx, resource)
}

// BuildResource builds the resource of a build definition. YAML definitions
// are expanded to their final YAML and their environments' approval checks
// become gates.
func (l *Loader) BuildResource(ctx context.Context, organization string, kind rules.ResourceKind, def azdo.BuildDefinition) (*rules.Resource, error) {
	var body *pipeline.Body
	if def.Process.Type == azdo.BuildProcessYaml {
		raw, err := l.client.Pipelines.FinalYaml(ctx, organization, def.Project.ID, def.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve yaml of pipeline %d: %w", def.ID, err)
		}
		body, err = pipeline.ParseYAML(strconv.Itoa(def.ID), def.Name, []byte(raw))
		if err != nil {
			return nil, err
		}
		if err := l.attachEnvironmentGates(ctx, organization, def.Project.ID, body); err != nil {
			return nil, err
		}
	}

	p := pipeline.FromBuildDefinition(organization, def, body)
	resource := &rules.Resource{
		Kind:         kind,
		Organization: organization,
		ProjectID:    def.Project.ID,
		ProjectName:  def.Project.Name,
		ItemID:       strconv.Itoa(def.ID),
		ItemName:     def.Name,
		Path:         def.Path,
		Pipeline:     p,
	}
	return resource, l.withPermissions(ctx, resource)
}

// ReleaseResource builds the resource of a classic release definition.
func (l *Loader) ReleaseResource(ctx context.Context, organization, projectID, projectName string, def azdo.ReleaseDefinition) (*rules.Resource, error) {
	p := pipeline.FromReleaseDefinition(organization, projectID, projectName, def)
	resource := &rules.Resource{
		Kind:         rules.KindReleaseDefinitionClassic,
		Organization: organization,
		ProjectID:    projectID,
		ProjectName:  projectName,
		ItemID:       strconv.Itoa(def.ID),
		ItemName:     def.Name,
		Path:         def.Path,
		Pipeline:     p,
	}
	return resource, l.withPermissions(ctx, resource)
}

func (l *Loader) attachEnvironmentGates(ctx context.Context, organization, projectID string, body *pipeline.Body) error {
	for _, name := range body.Environments() {
		env, err := l.client.Environments.FindByName(ctx, organization, projectID, name)
		if azdo.IsNotFound(err) || azdo.IsForbidden(err) {
			l.logger.Debug("environment not accessible", "environment", name, "error", err)
			continue
		}
		if err != nil {
			return err
		}
		checks, err := l.client.Environments.Checks(ctx, organization, projectID, env.ID)
		if err != nil {
			return err
		}
		var gates []pipeline.Gate
		for _, check := range checks {
			if settings, ok := check.ApprovalSettings(); ok {
				gates = append(gates, pipeline.ApprovalGate(settings))
			}
		}
		body.AttachGates(name, gates)
	}
	return nil
}

// withPermissions loads the effective permissions of every identity on the
// resource's security token.
func (l *Loader) withPermissions(ctx context.Context, resource *rules.Resource) error {
	namespace := resource.Kind.SecuredKind().Namespace()
	acls, err := l.client.Security.AccessControlLists(ctx, resource.Organization, namespace, resource.SecurityToken())
	if err != nil {
		return fmt.Errorf("failed to read permissions of %s %s: %w", resource.Kind, resource.ItemID, err)
	}

	var permissions []pipeline.Permission
	var descriptors []string
	for _, acl := range acls {
		for descriptor, ace := range acl.AcesDictionary {
			if ace.Descriptor == "" {
				ace.Descriptor = descriptor
			}
			allow, deny := ace.Allow, ace.Deny
			if ace.ExtendedInfo != nil {
				allow, deny = ace.ExtendedInfo.EffectiveAllow, ace.ExtendedInfo.EffectiveDeny
			}
			permissions = append(permissions, pipeline.Permission{Descriptor: ace.Descriptor, Allow: allow, Deny: deny})
			descriptors = append(descriptors, ace.Descriptor)
		}
	}

	identities, err := l.client.Security.Identities(ctx, resource.Organization, descriptors)
	if err != nil {
		return fmt.Errorf("failed to resolve identities: %w", err)
	}
	names := make(map[string]string, len(identities))
	for _, identity := range identities {
		names[identity.Descriptor] = identity.ProviderDisplayName
	}
	for i := range permissions {
		permissions[i].IdentityName = names[permissions[i].Descriptor]
	}

	resource.Permissions = permissions
	if resource.Pipeline != nil {
		resource.Pipeline = resource.Pipeline.WithPermissions(permissions)
	}
	return nil
}
