// Package scan runs compliance scans over Azure DevOps organizations and
// projects with bounded concurrency and retried activities.
package scan

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/azdo"
	"github.com/complyio/complyio/internal/compliancy"
	"github.com/complyio/complyio/internal/metrics"
	"github.com/complyio/complyio/internal/pipeline"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// Archiver keeps a copy of every project report.
type Archiver interface {
	Archive(ctx context.Context, report *compliancy.ProjectReport) error
}

// ProjectError records a project scan that failed.
type ProjectError struct {
	ProjectID     string `json:"projectId"`
	ProjectName   string `json:"projectName"`
	CorrelationID string `json:"correlationId"`
	Error         string `json:"error"`
}

// OrganizationReport is the result of scanning one organization.
type OrganizationReport struct {
	Organization string                     `json:"organization"`
	ScanID       string                     `json:"scanId"`
	Projects     []compliancy.ProjectReport `json:"projects"`
	Errors       []ProjectError             `json:"errors,omitempty"`
}

// Dependencies of an Orchestrator. Archiver and Metrics are optional.
type Dependencies struct {
	Client        *azdo.Client
	Loader        *Loader
	Engine        *compliancy.Engine
	Registrations store.RegistrationStore
	Reports       store.ReportStore
	Profiles      rules.Profiles
	Archiver      Archiver
	Retry         *RetryPolicy
	Concurrency   int
	Logger        hclog.Logger
	Metrics       *metrics.Metrics
}

// Orchestrator scans organizations and projects.
type Orchestrator struct {
	Dependencies
	now func() time.Time
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = hclog.NewNullLogger()
	}
	if deps.Retry == nil {
		deps.Retry = &RetryPolicy{MaxAttempts: 1, logger: deps.Logger}
	}
	return &Orchestrator{Dependencies: deps, now: time.Now}
}

// ScanOrganizations scans every organization concurrently.
func (o *Orchestrator) ScanOrganizations(ctx context.Context, organizations []string) []OrganizationReport {
	reports := make([]OrganizationReport, len(organizations))
	forEachBounded(len(organizations), organizations, func(i int, organization string) {
		reports[i] = o.ScanOrganization(ctx, organization)
	})
	return reports
}

// ScanOrganization scans the projects of an organization in alphabetical
// order with bounded concurrency. A failing project does not stop the others.
func (o *Orchestrator) ScanOrganization(ctx context.Context, organization string) OrganizationReport {
	scanID := uuid.NewString()
	report := OrganizationReport{Organization: organization, ScanID: scanID}
	logger := o.Logger.With("organization", organization, "scanId", scanID)

	var projects []azdo.Project
	err := o.Retry.Run(ctx, "ListProjects", func(ctx context.Context) error {
		var err error
		projects, err = o.Client.Projects.List(ctx, organization)
		return err
	})
	if err != nil {
		exception := errors.NewExceptionReport("ScanOrganization", err)
		exception.Organization = organization
		exception.Log(logger)
		report.Errors = append(report.Errors, ProjectError{CorrelationID: exception.CorrelationID, Error: err.Error()})
		return report
	}

	sort.SliceStable(projects, func(i, j int) bool {
		return strings.ToLower(projects[i].Name) < strings.ToLower(projects[j].Name)
	})
	logger.Info("scanning organization", "projects", len(projects))

	results := make([]*compliancy.ProjectReport, len(projects))
	failures := make([]*ProjectError, len(projects))
	forEachBounded(o.Concurrency, projects, func(i int, project azdo.Project) {
		instanceID := scanID + ":" + project.ID
		started := o.now()
		projectReport, err := o.scanProject(ctx, organization, project, instanceID)
		o.Metrics.ProjectScanned(organization, err, o.now().Sub(started))
		if err != nil {
			exception := errors.NewExceptionReport("ScanProject", err)
			exception.Organization = organization
			exception.ProjectID = project.ID
			exception.RunID = instanceID
			exception.Log(logger)
			failures[i] = &ProjectError{ProjectID: project.ID, ProjectName: project.Name, CorrelationID: exception.CorrelationID, Error: err.Error()}
			return
		}
		results[i] = projectReport
	})

	for i := range projects {
		if results[i] != nil {
			report.Projects = append(report.Projects, *results[i])
		}
		if failures[i] != nil {
			report.Errors = append(report.Errors, *failures[i])
		}
	}
	logger.Info("organization scanned", "projects", len(report.Projects), "failed", len(report.Errors))
	return report
}

// ScanProject scans a single project.
func (o *Orchestrator) ScanProject(ctx context.Context, organization, projectID string) (*compliancy.ProjectReport, error) {
	var project *azdo.Project
	err := o.Retry.Run(ctx, "GetProject", func(ctx context.Context) error {
		var err error
		project, err = o.Client.Projects.Get(ctx, organization, projectID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", projectID, err)
	}
	return o.scanProject(ctx, organization, *project, uuid.NewString())
}

func (o *Orchestrator) scanProject(ctx context.Context, organization string, project azdo.Project, instanceID string) (*compliancy.ProjectReport, error) {
	logger := o.Logger.With("organization", organization, "project", project.Name, "instanceId", instanceID)
	logger.Debug("scanning project")

	report := &compliancy.ProjectReport{
		Organization: organization,
		ProjectID:    project.ID,
		ProjectName:  project.Name,
		ScanID:       instanceID,
		ScannedAt:    o.now().UTC(),
	}
	defaultProfile := o.Profiles.Get("")

	// project
	var projectResource *rules.Resource
	err := o.Retry.Run(ctx, "LoadProject", func(ctx context.Context) error {
		var err error
		projectResource, err = o.Loader.ProjectResource(ctx, organization, project)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load project %s: %w", project.Name, err)
	}
	report.Items = append(report.Items, *o.Engine.EvaluateProject(ctx, projectResource, defaultProfile))

	// repositories
	var repos []azdo.Repository
	if err := o.Retry.Run(ctx, "ListRepositories", func(ctx context.Context) error {
		var err error
		repos, err = o.Client.Repositories.List(ctx, organization, project.ID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	for _, repo := range repos {
		if repo.IsDisabled {
			continue
		}
		repo := repo
		var resource *rules.Resource
		err := o.Retry.Run(ctx, "LoadRepository", func(ctx context.Context) error {
			var err error
			resource, err = o.Loader.RepositoryResource(ctx, organization, project.ID, repo)
			return err
		})
		if err != nil {
			report.Items = append(report.Items, failedItem(rules.KindRepository, organization, project.ID, repo.ID, repo.Name, err))
			continue
		}
		report.Items = append(report.Items, *o.Engine.EvaluateRepository(ctx, resource, defaultProfile))
	}

	// build and yaml release pipelines
	var builds []azdo.BuildDefinition
	if err := o.Retry.Run(ctx, "ListBuildDefinitions", func(ctx context.Context) error {
		var err error
		builds, err = o.Client.Builds.ListDefinitions(ctx, organization, project.ID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list build definitions: %w", err)
	}
	for _, def := range builds {
		report.Items = append(report.Items, o.evaluateBuild(ctx, organization, project, def)...)
	}

	// classic release pipelines
	var releases []azdo.ReleaseDefinition
	if err := o.Retry.Run(ctx, "ListReleaseDefinitions", func(ctx context.Context) error {
		var err error
		releases, err = o.Client.Releases.ListDefinitions(ctx, organization, project.ID)
		return err
	}); err != nil {
		return nil, fmt.Errorf("failed to list release definitions: %w", err)
	}
	for _, def := range releases {
		def := def
		var resource *rules.Resource
		err := o.Retry.Run(ctx, "LoadReleaseDefinition", func(ctx context.Context) error {
			var err error
			resource, err = o.Loader.ReleaseResource(ctx, organization, project.ID, project.Name, def)
			return err
		})
		if err != nil {
			report.Items = append(report.Items, failedItem(rules.KindReleaseDefinitionClassic, organization, project.ID, strconv.Itoa(def.ID), def.Name, err))
			continue
		}
		unit, err := o.unit(ctx, resource, def.ID)
		if err != nil {
			return nil, err
		}
		report.Items = append(report.Items, *o.Engine.EvaluatePipeline(ctx, unit))
	}

	if err := o.persist(ctx, report); err != nil {
		return nil, err
	}
	logger.Info("project scanned", "items", len(report.Items), "nonCompliant", report.NonCompliant())
	return report, nil
}

// evaluateBuild evaluates a build definition. YAML definitions that are
// registered or deploy to environments are evaluated as YAML releases too.
func (o *Orchestrator) evaluateBuild(ctx context.Context, organization string, project azdo.Project, def azdo.BuildDefinition) []compliancy.ItemReport {
	if def.Project.ID == "" {
		def.Project = azdo.ProjectReference{ID: project.ID, Name: project.Name}
	}

	var resource *rules.Resource
	err := o.Retry.Run(ctx, "LoadBuildDefinition", func(ctx context.Context) error {
		var err error
		resource, err = o.Loader.BuildResource(ctx, organization, rules.KindBuildDefinition, def)
		return err
	})
	if err != nil {
		return []compliancy.ItemReport{failedItem(rules.KindBuildDefinition, organization, project.ID, strconv.Itoa(def.ID), def.Name, err)}
	}

	unit, err := o.unit(ctx, resource, def.ID)
	if err != nil {
		return []compliancy.ItemReport{failedItem(rules.KindBuildDefinition, organization, project.ID, strconv.Itoa(def.ID), def.Name, err)}
	}
	items := []compliancy.ItemReport{*o.Engine.EvaluatePipeline(ctx, unit)}

	body := resource.Pipeline.DefaultRunContent
	if resource.Pipeline.ProcessType == pipeline.ProcessYaml && (len(unit.Registrations) > 0 || len(body.Environments()) > 0) {
		release := *resource
		release.Kind = rules.KindReleaseDefinitionYaml
		unit.Resource = &release
		items = append(items, *o.Engine.EvaluatePipeline(ctx, unit))
	}
	return items
}

func (o *Orchestrator) unit(ctx context.Context, resource *rules.Resource, pipelineID int) (compliancy.Unit, error) {
	registrations, err := o.Registrations.ListPipelineRegistrations(ctx, resource.Organization, resource.ProjectID, pipelineID, compliancy.PipelineType(resource.Kind))
	if err != nil {
		return compliancy.Unit{}, fmt.Errorf("failed to list registrations of pipeline %d: %w", pipelineID, err)
	}
	profile := o.Profiles.Get("")
	for _, reg := range registrations {
		if reg.RuleProfileName != "" {
			profile = o.Profiles.Get(reg.RuleProfileName)
			break
		}
	}
	return compliancy.Unit{Resource: resource, Profile: profile, Registrations: registrations}, nil
}

func (o *Orchestrator) persist(ctx context.Context, report *compliancy.ProjectReport) error {
	for i := range report.Items {
		item := &report.Items[i]
		if item.ItemID == "" {
			continue
		}
		if err := o.Reports.PutReport(ctx, item.ToEntity(report.ScanID, report.ScannedAt)); err != nil {
			return fmt.Errorf("failed to store report of %s: %w", item.ItemID, err)
		}
	}
	if o.Archiver == nil {
		return nil
	}
	if err := o.Archiver.Archive(ctx, report); err != nil {
		o.Logger.Warn("failed to archive project report", "project", report.ProjectID, "error", err)
	}
	return nil
}

func failedItem(kind rules.ResourceKind, organization, projectID, itemID, itemName string, err error) compliancy.ItemReport {
	return compliancy.ItemReport{
		Kind:         kind,
		Organization: organization,
		ProjectID:    projectID,
		ItemID:       itemID,
		ItemName:     itemName,
		Error:        err.Error(),
	}
}
