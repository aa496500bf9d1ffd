package compliancy

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/metrics"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// ExclusionChecker tells whether a valid approved exclusion exists.
type ExclusionChecker interface {
	Valid(ctx context.Context, key store.Key) (bool, error)
}

// Unit is one item to evaluate.
type Unit struct {
	Resource *rules.Resource
	Profile  rules.Profile
	// Registrations of the pipeline, pipeline level and per stage.
	Registrations []store.Registration
	// ForeignProjectID is set when the pipeline deploys into another project.
	ForeignProjectID string
}

// Engine evaluates units against the rule catalogue.
type Engine struct {
	processor  *rules.Processor
	reconcile  *rules.ReconcileProcessor
	deviations store.DeviationStore
	exclusions ExclusionChecker
	logger     hclog.Logger
	metrics    *metrics.Metrics
}

// NewEngine creates an engine. exclusions and m may be nil.
func NewEngine(processor *rules.Processor, reconcile *rules.ReconcileProcessor, deviations store.DeviationStore, exclusions ExclusionChecker, logger hclog.Logger, m *metrics.Metrics) *Engine {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Engine{
		processor:  processor,
		reconcile:  reconcile,
		deviations: deviations,
		exclusions: exclusions,
		logger:     logger.Named("compliancy"),
		metrics:    m,
	}
}

// PipelineType returns the registration pipeline type of a resource kind.
func PipelineType(kind rules.ResourceKind) store.PipelineType {
	if kind == rules.KindReleaseDefinitionClassic {
		return store.PipelineTypeRelease
	}
	return store.PipelineTypeBuild
}

// EvaluateProject evaluates the project level rules.
func (e *Engine) EvaluateProject(ctx context.Context, resource *rules.Resource, profile rules.Profile) *ItemReport {
	return e.evaluate(ctx, Unit{Resource: resource, Profile: profile})
}

// EvaluateRepository evaluates the repository rules.
func (e *Engine) EvaluateRepository(ctx context.Context, resource *rules.Resource, profile rules.Profile) *ItemReport {
	return e.evaluate(ctx, Unit{Resource: resource, Profile: profile})
}

// EvaluatePipeline evaluates a build or release pipeline. Stage scoped rules
// run per registered stage, or per stage of the pipeline body when no stage
// is registered.
func (e *Engine) EvaluatePipeline(ctx context.Context, unit Unit) *ItemReport {
	report := e.evaluate(ctx, unit)
	if e.exclusions == nil || unit.Resource == nil {
		return report
	}
	pipelineID, err := strconv.Atoi(unit.Resource.ItemID)
	if err != nil {
		return report
	}
	key := store.ExclusionKey(unit.Resource.Organization, unit.Resource.ProjectID, pipelineID, PipelineType(unit.Resource.Kind))
	excluded, err := e.exclusions.Valid(ctx, key)
	if err != nil {
		e.logger.Warn("failed to check exclusion", "key", key.String(), "error", err)
		return report
	}
	report.Excluded = excluded
	return report
}

type stageTarget struct {
	stageID      string
	ciIdentifier string
}

func (e *Engine) evaluate(ctx context.Context, unit Unit) *ItemReport {
	resource := unit.Resource
	if resource == nil {
		return &ItemReport{Profile: unit.Profile.Name, Error: "no resource to evaluate"}
	}
	report := &ItemReport{
		Kind:         resource.Kind,
		Organization: resource.Organization,
		ProjectID:    resource.ProjectID,
		ItemID:       resource.ItemID,
		ItemName:     resource.ItemName,
		Profile:      unit.Profile.Name,
		Rules:        []RuleCompliancyReport{},
	}

	applicable := rules.GetAllByRuleProfile(e.processor.ForKind(resource.Kind), unit.Profile)
	targets := stageTargets(unit)
	cis := pipelineCiIdentifiers(unit.Registrations)

	for _, rule := range applicable {
		if stageRule, ok := rule.(rules.StageRule); ok && len(targets) > 0 {
			for _, target := range targets {
				compliant, err := e.safeEvaluate(ctx, rule, resource, func() (bool, error) {
					return stageRule.EvaluateStage(ctx, resource, target.stageID)
				})
				rr := e.ruleReport(ctx, unit, rule, compliant, err, target.ciIdentifier)
				rr.StageID = target.stageID
				report.addStageRule(target, rr)
			}
			continue
		}

		compliant, err := e.safeEvaluate(ctx, rule, resource, func() (bool, error) {
			return rule.Evaluate(ctx, resource)
		})
		for _, ci := range cis {
			report.Rules = append(report.Rules, e.ruleReport(ctx, unit, rule, compliant, err, ci))
		}
	}
	return report
}

func (r *ItemReport) addStageRule(target stageTarget, rr RuleCompliancyReport) {
	for i := range r.Stages {
		if strings.EqualFold(r.Stages[i].StageID, target.stageID) && r.Stages[i].CiIdentifier == target.ciIdentifier {
			r.Stages[i].Rules = append(r.Stages[i].Rules, rr)
			return
		}
	}
	r.Stages = append(r.Stages, StageReport{
		StageID:      target.stageID,
		CiIdentifier: target.ciIdentifier,
		Rules:        []RuleCompliancyReport{rr},
	})
}

func (e *Engine) ruleReport(ctx context.Context, unit Unit, rule rules.Rule, compliant bool, evalErr error, ci string) RuleCompliancyReport {
	resource := unit.Resource
	rr := RuleCompliancyReport{
		RuleName:       rule.Name(),
		Description:    rule.Description(),
		ItemID:         resource.ItemID,
		ItemName:       resource.ItemName,
		CiIdentifier:   ci,
		IsCompliant:    compliant && evalErr == nil,
		IsReconcilable: e.reconcile != nil && e.reconcile.IsReconcilable(rule.Name()),
	}
	if evalErr != nil {
		rr.Error = evalErr.Error()
	}

	if e.deviations != nil {
		key := store.DeviationKey(resource.Organization, resource.ProjectID, string(rule.Name()), resource.ItemID, ci, unit.ForeignProjectID)
		deviation, err := e.deviations.GetDeviation(ctx, key)
		switch {
		case err == nil:
			rr.HasDeviation = true
			rr.Deviation = deviation
		case !errors.IsNotFound(err):
			e.logger.Warn("failed to look up deviation", "key", key.String(), "error", err)
		}
	}

	e.metrics.RuleEvaluated(string(rule.Name()), rr.IsDeterminedCompliant())
	return rr
}

// safeEvaluate runs eval, turning a panic into an error. Failures are logged
// as exception reports and count as not compliant.
func (e *Engine) safeEvaluate(_ context.Context, rule rules.Rule, resource *rules.Resource, eval func() (bool, error)) (compliant bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			compliant = false
			err = fmt.Errorf("rule %s panicked: %v", rule.Name(), r)
		}
		if err != nil {
			report := errors.NewExceptionReport("EvaluateRule", err)
			report.Organization = resource.Organization
			report.ProjectID = resource.ProjectID
			report.ItemID = resource.ItemID
			report.RuleName = string(rule.Name())
			report.Log(e.logger)
			e.metrics.RuleFailed(string(rule.Name()))
		}
	}()
	return eval()
}

// stageTargets returns the stages to evaluate stage scoped rules on.
func stageTargets(unit Unit) []stageTarget {
	var targets []stageTarget
	for _, reg := range unit.Registrations {
		if reg.StageID != "" {
			targets = append(targets, stageTarget{stageID: reg.StageID, ciIdentifier: reg.CiIdentifier()})
		}
	}
	if len(targets) > 0 {
		return targets
	}

	ci := ""
	if cis := pipelineCiIdentifiers(unit.Registrations); len(cis) > 0 {
		ci = cis[0]
	}
	if unit.Resource.Pipeline == nil {
		return nil
	}
	for _, stage := range unit.Resource.Pipeline.Stages() {
		targets = append(targets, stageTarget{stageID: stage.ID, ciIdentifier: ci})
	}
	return targets
}

// pipelineCiIdentifiers returns the distinct CIs of the pipeline level
// registrations, or a single empty CI when there are none.
func pipelineCiIdentifiers(registrations []store.Registration) []string {
	var cis []string
	seen := map[string]bool{}
	for _, reg := range registrations {
		if reg.StageID != "" {
			continue
		}
		ci := reg.CiIdentifier()
		if ci == "" || seen[strings.ToLower(ci)] {
			continue
		}
		seen[strings.ToLower(ci)] = true
		cis = append(cis, ci)
	}
	if len(cis) == 0 {
		return []string{""}
	}
	return cis
}
