// Package rules contains the compliance rule catalogue and the processors
// that select rules per resource kind and rule profile.
package rules

import (
	"context"
	"fmt"

	"github.com/complyio/complyio/internal/pipeline"
)

// ResourceKind is the kind of resource a rule evaluates.
type ResourceKind string

const (
	KindProject                  ResourceKind = "Project"
	KindRepository               ResourceKind = "Repository"
	KindBuildDefinition          ResourceKind = "BuildDefinition"
	KindReleaseDefinitionYaml    ResourceKind = "ReleaseDefinitionYaml"
	KindReleaseDefinitionClassic ResourceKind = "ReleaseDefinitionClassic"
)

// SecuredKind maps a resource kind to the security namespace holding its ACLs.
func (k ResourceKind) SecuredKind() pipeline.SecuredKind {
	switch k {
	case KindRepository:
		return pipeline.SecuredRepository
	case KindBuildDefinition, KindReleaseDefinitionYaml:
		return pipeline.SecuredBuildDefinition
	case KindReleaseDefinitionClassic:
		return pipeline.SecuredReleaseDefinition
	default:
		return pipeline.SecuredProject
	}
}

// Resource is the subject of an evaluation.
type Resource struct {
	Kind         ResourceKind
	Organization string
	ProjectID    string
	ProjectName  string
	ItemID       string
	ItemName     string
	Path         string
	Pipeline     *pipeline.Pipeline
	Permissions  []pipeline.Permission
}

// SecurityToken returns the ACL token of the resource.
func (r *Resource) SecurityToken() string {
	return pipeline.SecurityToken(r.Kind.SecuredKind(), r.ProjectID, r.Path, r.ItemID)
}

// Rule is a single compliance check.
type Rule interface {
	Name() Name
	Kind() ResourceKind
	Description() string
	Impact() []string
	// Evaluate returns true when the resource is compliant.
	Evaluate(ctx context.Context, resource *Resource) (bool, error)
}

// StageRule is a rule evaluated per pipeline stage.
type StageRule interface {
	Rule
	EvaluateStage(ctx context.Context, resource *Resource, stageID string) (bool, error)
}

// Reconciler is a rule that can fix an item it found non compliant.
type Reconciler interface {
	Rule
	Reconcile(ctx context.Context, organization, projectID, itemID string) error
}

// ProjectReconciler is a rule that can fix a project it found non compliant.
type ProjectReconciler interface {
	Rule
	ReconcileProject(ctx context.Context, organization, projectID string) error
}

// ResourceLoader loads the current state of a resource. Implementations must
// return fresh state, bypassing any cache, when asked to after a reconcile.
type ResourceLoader interface {
	Load(ctx context.Context, kind ResourceKind, organization, projectID, itemID string) (*Resource, error)
}

// PermissionsClient writes deny entries on a secured resource.
type PermissionsClient interface {
	SetDeny(ctx context.Context, organization, namespaceID, token, descriptor string, bits int) error
}

// ReconcileAndEvaluate reconciles an item and returns the evaluation of the
// state observed afterwards.
func ReconcileAndEvaluate(ctx context.Context, rule Reconciler, loader ResourceLoader, organization, projectID, itemID string) (bool, error) {
	if err := rule.Reconcile(ctx, organization, projectID, itemID); err != nil {
		return false, fmt.Errorf("reconcile %s for %s: %w", rule.Name(), itemID, err)
	}
	resource, err := loader.Load(ctx, rule.Kind(), organization, projectID, itemID)
	if err != nil {
		return false, fmt.Errorf("reload %s after reconcile: %w", itemID, err)
	}
	return rule.Evaluate(ctx, resource)
}

// ReconcileProjectAndEvaluate is the project level counterpart of ReconcileAndEvaluate.
func ReconcileProjectAndEvaluate(ctx context.Context, rule ProjectReconciler, loader ResourceLoader, organization, projectID string) (bool, error) {
	if err := rule.ReconcileProject(ctx, organization, projectID); err != nil {
		return false, fmt.Errorf("reconcile %s for project %s: %w", rule.Name(), projectID, err)
	}
	resource, err := loader.Load(ctx, KindProject, organization, projectID, projectID)
	if err != nil {
		return false, fmt.Errorf("reload project %s after reconcile: %w", projectID, err)
	}
	return rule.Evaluate(ctx, resource)
}
