package registration

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/metrics"
	"github.com/complyio/complyio/internal/sm9"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
)

// DeploymentMethodSource lists CMDB deployment methods.
type DeploymentMethodSource interface {
	ListDeploymentMethods(ctx context.Context) ([]sm9.DeploymentMethod, error)
}

// Importer copies CMDB deployment methods into production registrations.
type Importer struct {
	source  DeploymentMethodSource
	store   store.RegistrationStore
	logger  hclog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewImporter creates an importer.
func NewImporter(source DeploymentMethodSource, registrations store.RegistrationStore, logger hclog.Logger, m *metrics.Metrics) *Importer {
	return &Importer{source: source, store: registrations, logger: logger, metrics: m, now: time.Now}
}

// Import stores a production registration for every valid deployment
// method, keeping the rule profile of registrations that already exist.
// Invalid methods are skipped. It returns the number of imported methods.
func (i *Importer) Import(ctx context.Context) (int, error) {
	methods, err := i.source.ListDeploymentMethods(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list deployment methods: %w", err)
	}

	imported := 0
	for _, method := range methods {
		pipelineID, err := strconv.Atoi(method.PipelineID)
		if err != nil || pipelineID <= 0 || method.Organization == "" || method.ProjectID == "" || method.CiIdentifier == "" {
			i.logger.Debug("skipping invalid deployment method", "ci", method.CiIdentifier, "pipeline", method.PipelineID)
			continue
		}

		registration := &store.Registration{
			Organization: method.Organization,
			ProjectID:    method.ProjectID,
			PipelineID:   pipelineID,
			PipelineType: store.ParsePipelineType(method.PipelineType),
			StageID:      method.StageID,
		}
		existing, err := i.store.GetRegistration(ctx, registration.Key())
		switch {
		case err == nil:
			registration = existing
		case !errors.IsNotFound(err):
			return imported, err
		}

		prod := store.ProdInfo{CiIdentifier: method.CiIdentifier, CiName: method.CiName}
		if registration.Prod != nil {
			prod = *registration.Prod
			prod.CiIdentifier = method.CiIdentifier
			prod.CiName = method.CiName
		}
		registration.Prod = &prod
		registration.ShouldBeScanned = true
		registration.UpdatedBy = "cmdb-import"
		registration.UpdatedAt = i.now().UTC()
		if err := i.store.PutRegistration(ctx, registration); err != nil {
			return imported, err
		}
		imported++
	}

	i.metrics.RegistrationsImported(imported)
	i.logger.Info("imported deployment methods", "imported", imported, "total", len(methods))
	return imported, nil
}
