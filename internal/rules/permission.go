package rules

import (
	"context"
	"fmt"
	"strings"

	"github.com/complyio/complyio/internal/pipeline"
)

// exemptIdentities may keep delete permissions; they administer the
// organization and cannot be denied anyway.
var exemptIdentities = []string{
	"Project Collection Administrators",
	"Project Collection Service Accounts",
}

func isExempt(p pipeline.Permission) bool {
	name := p.IdentityName
	if i := strings.LastIndex(name, `\`); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Trim(name, "[] ")
	for _, exempt := range exemptIdentities {
		if strings.EqualFold(name, exempt) {
			return true
		}
	}
	return false
}

// permissionRule requires that no identity can delete the resource.
type permissionRule struct {
	name        Name
	kind        ResourceKind
	description string
	bits        int

	permissions PermissionsClient
	loader      ResourceLoader
}

func (r *permissionRule) Name() Name          { return r.name }
func (r *permissionRule) Kind() ResourceKind  { return r.kind }
func (r *permissionRule) Description() string { return r.description }
func (r *permissionRule) Impact() []string {
	return []string{fmt.Sprintf("Deny delete permissions (%d) for every identity on the %s", r.bits, strings.ToLower(string(r.kind)))}
}

// Evaluate is compliant when no identity other than the exempt collection
// groups is effectively allowed one of the delete bits.
func (r *permissionRule) Evaluate(_ context.Context, resource *Resource) (bool, error) {
	if resource == nil {
		return false, fmt.Errorf("%s: no resource to evaluate", r.name)
	}
	return len(r.offenders(resource)) == 0, nil
}

func (r *permissionRule) offenders(resource *Resource) []pipeline.Permission {
	var out []pipeline.Permission
	for _, p := range resource.Permissions {
		if !isExempt(p) && p.Allows(r.bits) {
			out = append(out, p)
		}
	}
	return out
}

// Reconcile denies the delete bits for every offending identity.
func (r *permissionRule) Reconcile(ctx context.Context, organization, projectID, itemID string) error {
	if r.permissions == nil || r.loader == nil {
		return fmt.Errorf("%s is not reconcilable without a permissions client", r.name)
	}
	resource, err := r.loader.Load(ctx, r.kind, organization, projectID, itemID)
	if err != nil {
		return err
	}

	namespace := r.kind.SecuredKind().Namespace()
	token := resource.SecurityToken()
	for _, p := range r.offenders(resource) {
		if err := r.permissions.SetDeny(ctx, organization, namespace, token, p.Descriptor, r.bits); err != nil {
			return fmt.Errorf("deny %s for %s: %w", r.name, p.IdentityName, err)
		}
	}
	return nil
}

// projectPermissionRule reconciles at project level.
type projectPermissionRule struct {
	*permissionRule
}

func (r *projectPermissionRule) ReconcileProject(ctx context.Context, organization, projectID string) error {
	return r.permissionRule.Reconcile(ctx, organization, projectID, projectID)
}

// NewNobodyCanDeleteTheTeamProject returns the project delete rule.
func NewNobodyCanDeleteTheTeamProject(permissions PermissionsClient, loader ResourceLoader) ProjectReconciler {
	return &projectPermissionRule{&permissionRule{
		name:        NobodyCanDeleteTheTeamProject,
		kind:        KindProject,
		description: "Nobody can delete the Team Project",
		bits:        pipeline.PermissionDeleteProject,
		permissions: permissions,
		loader:      loader,
	}}
}

// NewNobodyCanDeleteTheRepository returns the repository delete rule.
func NewNobodyCanDeleteTheRepository(permissions PermissionsClient, loader ResourceLoader) Reconciler {
	return &permissionRule{
		name:        NobodyCanDeleteTheRepository,
		kind:        KindRepository,
		description: "Nobody can delete the repository",
		bits:        pipeline.PermissionDeleteRepository,
		permissions: permissions,
		loader:      loader,
	}
}

// NewNobodyCanDeleteBuilds returns the build definition delete rule.
func NewNobodyCanDeleteBuilds(permissions PermissionsClient, loader ResourceLoader) Reconciler {
	return &permissionRule{
		name:        NobodyCanDeleteBuilds,
		kind:        KindBuildDefinition,
		description: "Nobody can delete builds",
		bits:        pipeline.PermissionDeleteBuilds | pipeline.PermissionDestroyBuilds | pipeline.PermissionDeleteBuildDefinition,
		permissions: permissions,
		loader:      loader,
	}
}

// NewNobodyCanDeleteReleases returns the release definition delete rule.
func NewNobodyCanDeleteReleases(permissions PermissionsClient, loader ResourceLoader) Reconciler {
	return &permissionRule{
		name:        NobodyCanDeleteReleases,
		kind:        KindReleaseDefinitionClassic,
		description: "Nobody can delete releases",
		bits:        pipeline.PermissionDeleteReleaseDefinition | pipeline.PermissionDeleteReleases,
		permissions: permissions,
		loader:      loader,
	}
}
