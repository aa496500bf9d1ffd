// Package registration manages the links between pipelines, their stages
// and CMDB configuration items.
package registration

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/sm9"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
	"github.com/complyio/complyio/pkg/shared/validation"
)

// CMDB resolves configuration items.
type CMDB interface {
	GetConfigurationItem(ctx context.Context, ciIdentifier string) (*sm9.ConfigurationItem, error)
}

// Request identifies a pipeline, or one of its stages, to register.
type Request struct {
	Organization    string `json:"organization" validate:"required"`
	ProjectID       string `json:"projectId" validate:"required"`
	PipelineID      int    `json:"pipelineId" validate:"gt=0"`
	PipelineType    string `json:"pipelineType" validate:"omitempty,oneof=build release Build Release"`
	StageID         string `json:"stageId,omitempty"`
	CiIdentifier    string `json:"ciIdentifier,omitempty"`
	RuleProfileName string `json:"ruleProfileName,omitempty"`
	UpdatedBy       string `json:"updatedBy,omitempty"`
}

func (r Request) key() store.Key {
	return store.RegistrationKey(r.Organization, r.ProjectID, r.PipelineID, store.ParsePipelineType(r.PipelineType), r.StageID)
}

// Service registers pipelines.
type Service struct {
	store    store.RegistrationStore
	cmdb     CMDB
	profiles rules.Profiles
	logger   hclog.Logger
	now      func() time.Time
}

// NewService creates a registration service. cmdb may be nil when production
// registrations are not supported.
func NewService(registrations store.RegistrationStore, cmdb CMDB, profiles rules.Profiles, logger hclog.Logger) *Service {
	return &Service{store: registrations, cmdb: cmdb, profiles: profiles, logger: logger, now: time.Now}
}

func (s *Service) validate(req Request) error {
	if err := validation.ValidateRequiredFields(map[string]string{
		"organization": req.Organization,
		"projectId":    req.ProjectID,
	}); err != nil {
		return errors.NewValidationError("", "%v", err)
	}
	if req.PipelineID <= 0 {
		return errors.NewValidationError("pipelineId", "must be a positive number")
	}
	if req.RuleProfileName != "" {
		if _, ok := s.profiles.Lookup(req.RuleProfileName); !ok {
			return errors.NewValidationError("ruleProfileName", "unknown rule profile %q", req.RuleProfileName)
		}
	}
	return nil
}

func (s *Service) registration(req Request) *store.Registration {
	return &store.Registration{
		Organization:    req.Organization,
		ProjectID:       req.ProjectID,
		PipelineID:      req.PipelineID,
		PipelineType:    store.ParsePipelineType(req.PipelineType),
		StageID:         req.StageID,
		RuleProfileName: req.RuleProfileName,
		ShouldBeScanned: true,
		UpdatedBy:       req.UpdatedBy,
		UpdatedAt:       s.now().UTC(),
	}
}

func (s *Service) prodInfo(ctx context.Context, ciIdentifier string) (*store.ProdInfo, error) {
	if strings.TrimSpace(ciIdentifier) == "" {
		return nil, errors.NewValidationError("ciIdentifier", "is required")
	}
	if s.cmdb == nil {
		return nil, errors.NewValidationError("ciIdentifier", "no CMDB is configured")
	}
	ci, err := s.cmdb.GetConfigurationItem(ctx, ciIdentifier)
	if sm9.IsNotFound(err) {
		return nil, errors.NewValidationError("ciIdentifier", "%q does not exist in the CMDB", ciIdentifier)
	}
	if err != nil {
		return nil, err
	}
	return &store.ProdInfo{
		CiIdentifier:     ci.CiIdentifier,
		CiName:           ci.CiName,
		CiSubtype:        ci.CiSubtype,
		IsSoxApplication: ci.IsSoxApplication,
		AssignmentGroup:  ci.AssignmentGroup,
		AicRating:        ci.AicRating,
	}, nil
}

// RegisterNonProd registers a pipeline that does not deploy to production.
// An existing production registration is never downgraded.
func (s *Service) RegisterNonProd(ctx context.Context, req Request) (*store.Registration, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	existing, err := s.store.GetRegistration(ctx, req.key())
	switch {
	case err == nil && existing.IsProduction():
		return nil, &errors.ConflictError{Message: "pipeline is already registered for production"}
	case err != nil && !errors.IsNotFound(err):
		return nil, err
	}

	registration := s.registration(req)
	if err := s.store.PutRegistration(ctx, registration); err != nil {
		return nil, err
	}
	s.logger.Info("registered non-production pipeline", "key", registration.Key().String())
	return registration, nil
}

// RegisterProd registers a pipeline or stage against a CMDB configuration item.
func (s *Service) RegisterProd(ctx context.Context, req Request) (*store.Registration, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	prod, err := s.prodInfo(ctx, req.CiIdentifier)
	if err != nil {
		return nil, err
	}
	if existing, err := s.store.GetRegistration(ctx, req.key()); err == nil && existing.IsProduction() &&
		!strings.EqualFold(existing.CiIdentifier(), prod.CiIdentifier) {
		return nil, &errors.ConflictError{Message: "pipeline is registered for configuration item " + existing.CiIdentifier()}
	}

	registration := s.registration(req)
	registration.Prod = prod
	if err := s.store.PutRegistration(ctx, registration); err != nil {
		return nil, err
	}
	s.logger.Info("registered production pipeline", "key", registration.Key().String(), "ci", prod.CiIdentifier)
	return registration, nil
}

// UpdateProd changes the CI or profile of an existing production registration.
func (s *Service) UpdateProd(ctx context.Context, req Request) (*store.Registration, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	existing, err := s.store.GetRegistration(ctx, req.key())
	if err != nil {
		return nil, err
	}
	if !existing.IsProduction() {
		return nil, &errors.ConflictError{Message: "pipeline is not registered for production"}
	}
	if req.CiIdentifier != "" && !strings.EqualFold(req.CiIdentifier, existing.CiIdentifier()) {
		prod, err := s.prodInfo(ctx, req.CiIdentifier)
		if err != nil {
			return nil, err
		}
		existing.Prod = prod
	}
	if req.RuleProfileName != "" {
		existing.RuleProfileName = req.RuleProfileName
	}
	existing.UpdatedBy = req.UpdatedBy
	existing.UpdatedAt = s.now().UTC()
	if err := s.store.PutRegistration(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// UpdateNonProd changes the profile of an existing non-production registration.
func (s *Service) UpdateNonProd(ctx context.Context, req Request) (*store.Registration, error) {
	if err := s.validate(req); err != nil {
		return nil, err
	}
	existing, err := s.store.GetRegistration(ctx, req.key())
	if err != nil {
		return nil, err
	}
	if existing.IsProduction() {
		return nil, &errors.ConflictError{Message: "pipeline is registered for production"}
	}
	existing.RuleProfileName = req.RuleProfileName
	existing.UpdatedBy = req.UpdatedBy
	existing.UpdatedAt = s.now().UTC()
	if err := s.store.PutRegistration(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// DeleteProd removes a production registration.
func (s *Service) DeleteProd(ctx context.Context, req Request) error {
	if err := s.validate(req); err != nil {
		return err
	}
	existing, err := s.store.GetRegistration(ctx, req.key())
	if err != nil {
		return err
	}
	if !existing.IsProduction() {
		return &errors.ConflictError{Message: "pipeline is not registered for production"}
	}
	if err := s.store.DeleteRegistration(ctx, req.key()); err != nil {
		return err
	}
	s.logger.Info("deleted production registration", "key", req.key().String())
	return nil
}

// Lookup returns the registration of a stage, falling back to the pipeline
// level registration when the stage has none.
func (s *Service) Lookup(ctx context.Context, organization, projectID string, pipelineID int, pipelineType store.PipelineType, stageID string) (*store.Registration, error) {
	if stageID != "" {
		registration, err := s.store.GetRegistration(ctx, store.RegistrationKey(organization, projectID, pipelineID, pipelineType, stageID))
		if err == nil {
			return registration, nil
		}
		if !errors.IsNotFound(err) {
			return nil, err
		}
	}
	return s.store.GetRegistration(ctx, store.RegistrationKey(organization, projectID, pipelineID, pipelineType, ""))
}

// Profile returns the rule profile of a registration.
func (s *Service) Profile(registration *store.Registration) rules.Profile {
	if registration == nil {
		return s.profiles.Get("")
	}
	return s.profiles.Get(registration.RuleProfileName)
}
