// Package exclusion validates and records pipeline exclusions and rule deviations.
package exclusion

import (
	"context"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/config"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
	"github.com/complyio/complyio/pkg/shared/validation"
)

var (
	ErrApproverSameAsRequester error = &errors.ValidationError{Field: "approver", Message: "approver cannot be the requester of the exclusion"}
	ErrAlreadyApproved         error = &errors.ConflictError{Message: "a valid approved exclusion already exists for this pipeline"}
)

// Request asks to exclude a pipeline from the breaker.
type Request struct {
	Organization string
	ProjectID    string
	PipelineID   int
	PipelineType store.PipelineType
	Reason       string
	Requester    string
	Approver     string
}

// Service creates and checks exclusions.
type Service struct {
	store    store.ExclusionStore
	emails   *validation.EmailValidator
	validity time.Duration
	logger   hclog.Logger
	now      func() time.Time
}

// NewService creates an exclusion service with the mail domains and validity of cfg.
func NewService(exclusions store.ExclusionStore, cfg *config.Config, logger hclog.Logger) (*Service, error) {
	emails, err := validation.NewEmailValidator(config.GetAllowedDomains(cfg))
	if err != nil {
		return nil, err
	}
	return &Service{
		store:    exclusions,
		emails:   emails,
		validity: config.GetExclusionValidity(cfg),
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Create validates and stores an approved exclusion.
func (s *Service) Create(ctx context.Context, req Request) (*store.ExclusionEntity, error) {
	if err := validation.ValidateRequiredFields(map[string]string{
		"organization": req.Organization,
		"projectId":    req.ProjectID,
		"reason":       req.Reason,
	}); err != nil {
		return nil, errors.NewValidationError("", "%v", err)
	}
	if req.PipelineID <= 0 {
		return nil, errors.NewValidationError("pipelineId", "must be a positive number")
	}
	if err := s.emails.Validate(req.Requester); err != nil {
		return nil, errors.NewValidationError("requester", "%v", err)
	}
	if err := s.emails.Validate(req.Approver); err != nil {
		return nil, errors.NewValidationError("approver", "%v", err)
	}
	if strings.EqualFold(strings.TrimSpace(req.Requester), strings.TrimSpace(req.Approver)) {
		return nil, ErrApproverSameAsRequester
	}

	now := s.now().UTC()
	key := store.ExclusionKey(req.Organization, req.ProjectID, req.PipelineID, req.PipelineType)
	exclusion := &store.ExclusionEntity{
		Organization: req.Organization,
		ProjectID:    req.ProjectID,
		PipelineID:   req.PipelineID,
		PipelineType: req.PipelineType,
		Reason:       req.Reason,
		Requester:    strings.ToLower(strings.TrimSpace(req.Requester)),
		Approver:     strings.ToLower(strings.TrimSpace(req.Approver)),
		CreatedAt:    now,
		ExpiresAt:    now.Add(s.validity),
	}
	if err := s.store.CreateExclusion(ctx, exclusion, now); err != nil {
		if errors.IsConflict(err) {
			return nil, ErrAlreadyApproved
		}
		return nil, err
	}
	s.logger.Info("exclusion created", "key", key.String(), "requester", exclusion.Requester, "approver", exclusion.Approver, "expiresAt", exclusion.ExpiresAt)
	return exclusion, nil
}

// Valid reports whether a valid approved exclusion exists for key.
func (s *Service) Valid(ctx context.Context, key store.Key) (bool, error) {
	exclusion, err := s.store.GetExclusion(ctx, key)
	if errors.IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return exclusion.IsValid(s.now()), nil
}
