package store

import (
	"context"
	"time"
)

// Queue names of the published records.
const (
	QueueDeviationReportLog        = "deviationreportlogrecords"
	QueueAuditReleaseDeployment    = "auditreleasedeployment"
	QueueAuditMultiStageDeployment = "auditmultistagedeployment"
)

// Table names of the persisted records.
const (
	TableDeviations        = "Deviations"
	TableDeploymentMethods = "DeploymentMethods"
	TableExclusionList     = "ExclusionList"
	TableCompliancyReports = "CompliancyReports"
)

// Get and Delete calls return a NotFoundError from pkg/shared/errors when
// nothing is stored under the key.

// DeviationStore persists deviations.
type DeviationStore interface {
	GetDeviation(ctx context.Context, key Key) (*DeviationEntity, error)
	PutDeviation(ctx context.Context, deviation *DeviationEntity) error
	DeleteDeviation(ctx context.Context, key Key) error
	ListDeviations(ctx context.Context, organization, projectID string) ([]DeviationEntity, error)
}

// ExclusionStore persists exclusions.
type ExclusionStore interface {
	GetExclusion(ctx context.Context, key Key) (*ExclusionEntity, error)
	// CreateExclusion stores exclusion unless a valid exclusion exists for
	// its key at now, in which case it returns a ConflictError. The check and
	// the write are one atomic operation.
	CreateExclusion(ctx context.Context, exclusion *ExclusionEntity, now time.Time) error
}

// RegistrationStore persists registrations.
type RegistrationStore interface {
	GetRegistration(ctx context.Context, key Key) (*Registration, error)
	PutRegistration(ctx context.Context, registration *Registration) error
	DeleteRegistration(ctx context.Context, key Key) error
	// ListPipelineRegistrations returns the pipeline and stage registrations of one pipeline.
	ListPipelineRegistrations(ctx context.Context, organization, projectID string, pipelineID int, pipelineType PipelineType) ([]Registration, error)
	ListRegistrations(ctx context.Context, organization string) ([]Registration, error)
}

// ReportStore persists the latest report summary per item.
type ReportStore interface {
	GetReport(ctx context.Context, key Key) (*ReportEntity, error)
	PutReport(ctx context.Context, report *ReportEntity) error
}

// Publisher sends records to a queue. Delivery is at least once.
type Publisher interface {
	Publish(ctx context.Context, queue string, record interface{}) error
}

// Store bundles every store of a backend.
type Store interface {
	DeviationStore
	ExclusionStore
	RegistrationStore
	ReportStore
}
