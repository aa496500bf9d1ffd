// Package breaker decides whether a pipeline run may continue based on the
// latest compliance report of its pipeline.
package breaker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/azdo"
	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/metrics"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// Status is the decision for a run.
type Status string

const (
	StatusAllowed  Status = "Allowed"
	StatusWarned   Status = "Warned"
	StatusBlocked  Status = "Blocked"
	StatusExcluded Status = "Excluded"
)

// Request identifies the run to check. RunID is a build id for build/YAML
// pipelines and a release id for classic releases.
type Request struct {
	Organization string `json:"organization"`
	ProjectID    string `json:"projectId"`
	RunID        int    `json:"runId"`
	PipelineType string `json:"pipelineType"`
	StageID      string `json:"stageId,omitempty"`
}

// Result is the decision with a human readable explanation.
type Result struct {
	Status     Status `json:"status"`
	Message    string `json:"message"`
	PipelineID int    `json:"pipelineId,omitempty"`
}

// AuditRecord is published for every decision on a known pipeline.
type AuditRecord struct {
	Organization string             `json:"organization"`
	ProjectID    string             `json:"projectId"`
	RunID        int                `json:"runId"`
	PipelineID   int                `json:"pipelineId"`
	PipelineType store.PipelineType `json:"pipelineType"`
	StageID      string             `json:"stageId,omitempty"`
	CiIdentifier string             `json:"ciIdentifier,omitempty"`
	Status       Status             `json:"status"`
	Message      string             `json:"message"`
	Timestamp    time.Time          `json:"timestamp"`
}

// RegistrationLookup finds the registration of a pipeline stage.
type RegistrationLookup interface {
	Lookup(ctx context.Context, organization, projectID string, pipelineID int, pipelineType store.PipelineType, stageID string) (*store.Registration, error)
}

// Gate is the pipeline breaker.
type Gate struct {
	client        *azdo.Client
	registrations RegistrationLookup
	exclusions    compliancy.ExclusionChecker
	reports       store.ReportStore
	publisher     store.Publisher
	mode          string
	logger        hclog.Logger
	metrics       *metrics.Metrics
	now           func() time.Time
}

// NewGate creates a breaker gate using the breaker.mode of cfg.
func NewGate(cfg *config.Config, client *azdo.Client, registrations RegistrationLookup, exclusions compliancy.ExclusionChecker, reports store.ReportStore, publisher store.Publisher, logger hclog.Logger, m *metrics.Metrics) *Gate {
	return &Gate{
		client:        client,
		registrations: registrations,
		exclusions:    exclusions,
		reports:       reports,
		publisher:     publisher,
		mode:          config.GetBreakerMode(cfg),
		logger:        logger,
		metrics:       m,
		now:           time.Now,
	}
}

// Check decides whether the run may continue. Runs that cannot be
// attributed to a registered, scanned pipeline are allowed, and so are runs
// whose decision fails on an upstream dependency.
func (g *Gate) Check(ctx context.Context, req Request) (*Result, error) {
	pipelineType := store.ParsePipelineType(req.PipelineType)

	pipelineID, err := g.pipelineID(ctx, req, pipelineType)
	if azdo.IsNotFound(err) || azdo.IsForbidden(err) {
		return g.decide(ctx, req, pipelineType, 0, nil, StatusAllowed, fmt.Sprintf("run %d could not be retrieved: %v", req.RunID, err)), nil
	}
	if err != nil {
		return g.allowOnError(ctx, req, pipelineType, 0, nil, "GetRun", err), nil
	}

	registration, err := g.registrations.Lookup(ctx, req.Organization, req.ProjectID, pipelineID, pipelineType, req.StageID)
	if errors.IsNotFound(err) {
		return g.decide(ctx, req, pipelineType, pipelineID, nil, StatusAllowed, "pipeline is not registered"), nil
	}
	if err != nil {
		return g.allowOnError(ctx, req, pipelineType, pipelineID, nil, "LookupRegistration", err), nil
	}

	if g.exclusions != nil {
		excluded, err := g.exclusions.Valid(ctx, store.ExclusionKey(req.Organization, req.ProjectID, pipelineID, pipelineType))
		if err != nil {
			return g.allowOnError(ctx, req, pipelineType, pipelineID, registration, "ValidExclusion", err), nil
		}
		if excluded {
			return g.decide(ctx, req, pipelineType, pipelineID, registration, StatusExcluded, "pipeline has a valid exclusion"), nil
		}
	}

	report, err := g.latestReport(ctx, req, pipelineType, pipelineID)
	if errors.IsNotFound(err) {
		return g.decide(ctx, req, pipelineType, pipelineID, registration, StatusAllowed, "pipeline has not been scanned yet"), nil
	}
	if err != nil {
		return g.allowOnError(ctx, req, pipelineType, pipelineID, registration, "GetReport", err), nil
	}

	if report.StageCompliant(req.StageID) {
		return g.decide(ctx, req, pipelineType, pipelineID, registration, StatusAllowed, "pipeline is compliant"), nil
	}
	message := fmt.Sprintf("pipeline is not compliant: %v", report.NonCompliantRules)
	if g.mode == config.BreakerModeWarn {
		return g.decide(ctx, req, pipelineType, pipelineID, registration, StatusWarned, message), nil
	}
	return g.decide(ctx, req, pipelineType, pipelineID, registration, StatusBlocked, message), nil
}

// allowOnError logs err as an exception report and lets the run continue.
func (g *Gate) allowOnError(ctx context.Context, req Request, pipelineType store.PipelineType, pipelineID int, registration *store.Registration, function string, err error) *Result {
	exception := errors.NewExceptionReport(function, err)
	exception.Organization = req.Organization
	exception.ProjectID = req.ProjectID
	if pipelineType == store.PipelineTypeRelease {
		exception.ReleaseID = strconv.Itoa(req.RunID)
	} else {
		exception.RunID = strconv.Itoa(req.RunID)
	}
	if pipelineID > 0 {
		exception.ItemID = strconv.Itoa(pipelineID)
	}
	exception.Log(g.logger)

	message := fmt.Sprintf("compliance could not be determined, run is allowed to continue (correlationId %s): %v", exception.CorrelationID, err)
	return g.decide(ctx, req, pipelineType, pipelineID, registration, StatusAllowed, message)
}

func (g *Gate) pipelineID(ctx context.Context, req Request, pipelineType store.PipelineType) (int, error) {
	if pipelineType == store.PipelineTypeRelease {
		release, err := g.client.Releases.Get(ctx, req.Organization, req.ProjectID, req.RunID)
		if err != nil {
			return 0, err
		}
		return release.ReleaseDefinition.ID, nil
	}
	build, err := g.client.Builds.Get(ctx, req.Organization, req.ProjectID, req.RunID)
	if err != nil {
		return 0, err
	}
	return build.Definition.ID, nil
}

// latestReport prefers the YAML release report of a build pipeline and
// falls back to its build report.
func (g *Gate) latestReport(ctx context.Context, req Request, pipelineType store.PipelineType, pipelineID int) (*store.ReportEntity, error) {
	itemID := strconv.Itoa(pipelineID)
	kinds := []rules.ResourceKind{rules.KindReleaseDefinitionYaml, rules.KindBuildDefinition}
	if pipelineType == store.PipelineTypeRelease {
		kinds = []rules.ResourceKind{rules.KindReleaseDefinitionClassic}
	}
	var lastErr error
	for _, kind := range kinds {
		report, err := g.reports.GetReport(ctx, store.ReportKey(req.Organization, req.ProjectID, itemID, string(kind)))
		if err == nil {
			return report, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (g *Gate) decide(ctx context.Context, req Request, pipelineType store.PipelineType, pipelineID int, registration *store.Registration, status Status, message string) *Result {
	g.logger.Info("breaker decision", "organization", req.Organization, "project", req.ProjectID, "run", req.RunID, "pipeline", pipelineID, "stage", req.StageID, "status", status, "message", message)
	g.metrics.BreakerDecision(string(status), string(pipelineType))

	if pipelineID > 0 && g.publisher != nil {
		record := AuditRecord{
			Organization: req.Organization,
			ProjectID:    req.ProjectID,
			RunID:        req.RunID,
			PipelineID:   pipelineID,
			PipelineType: pipelineType,
			StageID:      req.StageID,
			CiIdentifier: registration.CiIdentifier(),
			Status:       status,
			Message:      message,
			Timestamp:    g.now().UTC(),
		}
		queue := store.QueueAuditMultiStageDeployment
		if pipelineType == store.PipelineTypeRelease {
			queue = store.QueueAuditReleaseDeployment
		}
		if err := g.publisher.Publish(ctx, queue, record); err != nil {
			g.logger.Warn("failed to publish audit record", "queue", queue, "error", err)
		}
	}
	return &Result{Status: status, Message: message, PipelineID: pipelineID}
}
