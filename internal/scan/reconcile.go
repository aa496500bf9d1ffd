package scan

import (
	"context"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/azdo"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// ReconcileResult is the evaluation of an item after its reconcile.
type ReconcileResult struct {
	Organization string     `json:"organization"`
	ProjectID    string     `json:"projectId"`
	RuleName     rules.Name `json:"ruleName"`
	ItemID       string     `json:"itemId"`
	IsCompliant  bool       `json:"isCompliant"`
}

// Reconciliation dispatches reconcile requests to the reconcilable rules.
type Reconciliation struct {
	processor *rules.ReconcileProcessor
	loader    rules.ResourceLoader
	logger    hclog.Logger
}

// NewReconciliation creates a dispatcher. loader must bypass the response
// cache so the evaluation observes the reconcile.
func NewReconciliation(processor *rules.ReconcileProcessor, loader rules.ResourceLoader, logger hclog.Logger) *Reconciliation {
	return &Reconciliation{processor: processor, loader: loader, logger: logger}
}

// Reconcile fixes itemID for the rule called name and evaluates it again.
// Project rules reconcile the project itself and ignore itemID.
func (r *Reconciliation) Reconcile(ctx context.Context, organization, projectID string, name rules.Name, itemID string) (*ReconcileResult, error) {
	result := &ReconcileResult{Organization: organization, ProjectID: projectID, RuleName: name, ItemID: itemID}

	var (
		compliant bool
		err       error
	)
	if rule, ok := r.processor.FindItemReconcile(name); ok {
		compliant, err = rules.ReconcileAndEvaluate(ctx, rule, r.loader, organization, projectID, itemID)
	} else if rule, ok := r.processor.FindProjectReconcile(name); ok {
		result.ItemID = projectID
		compliant, err = rules.ReconcileProjectAndEvaluate(ctx, rule, r.loader, organization, projectID)
	} else {
		return nil, errors.NewValidationError("ruleName", "rule %s cannot be reconciled", name)
	}

	if azdo.IsNotFound(err) || errors.IsNotFound(err) {
		return nil, errors.NewNotFoundError("item", result.ItemID)
	}
	if err != nil {
		return nil, err
	}

	result.IsCompliant = compliant
	r.logger.Info("reconciled", "organization", organization, "project", projectID, "rule", name, "item", result.ItemID, "compliant", compliant)
	return result, nil
}
