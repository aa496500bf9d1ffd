package exclusion

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
	"github.com/complyio/complyio/pkg/shared/validation"
)

// Deviation log actions.
const (
	ActionAdd    = "Add"
	ActionDelete = "Delete"
)

// DeviationRequest identifies a deviation and, when recording, its justification.
type DeviationRequest struct {
	Organization     string `json:"organization" validate:"required"`
	ProjectID        string `json:"projectId" validate:"required"`
	RuleName         string `json:"ruleName" validate:"required,rulename"`
	ItemID           string `json:"itemId" validate:"required,itemid"`
	CiIdentifier     string `json:"ciIdentifier" validate:"required"`
	ForeignProjectID string `json:"foreignProjectId,omitempty"`
	Reason           string `json:"reason,omitempty"`
	Comment          string `json:"comment,omitempty"`
	UpdatedBy        string `json:"updatedBy,omitempty"`
}

// DeviationLogRecord is published for every change to a deviation.
type DeviationLogRecord struct {
	Action string `json:"action"`
	store.DeviationEntity
}

// DeviationService records and deletes deviations.
type DeviationService struct {
	store     store.DeviationStore
	publisher store.Publisher
	logger    hclog.Logger
	now       func() time.Time
}

// NewDeviationService creates a deviation service.
func NewDeviationService(deviations store.DeviationStore, publisher store.Publisher, logger hclog.Logger) *DeviationService {
	return &DeviationService{store: deviations, publisher: publisher, logger: logger, now: time.Now}
}

func (s *DeviationService) validate(req DeviationRequest) (rules.Name, error) {
	if err := validation.ValidateRequiredFields(map[string]string{
		"organization": req.Organization,
		"projectId":    req.ProjectID,
		"ciIdentifier": req.CiIdentifier,
	}); err != nil {
		return "", errors.NewValidationError("", "%v", err)
	}
	name, err := rules.ParseName(req.RuleName)
	if err != nil {
		return "", errors.NewValidationError("ruleName", "%v", err)
	}
	if !validation.IsValidItemID(req.ItemID) {
		return "", errors.NewValidationError("itemId", "%q is not a valid item id", req.ItemID)
	}
	return name, nil
}

func (s *DeviationService) entity(name rules.Name, req DeviationRequest) *store.DeviationEntity {
	return &store.DeviationEntity{
		Organization:     req.Organization,
		ProjectID:        req.ProjectID,
		RuleName:         string(name),
		ItemID:           req.ItemID,
		CiIdentifier:     req.CiIdentifier,
		ForeignProjectID: req.ForeignProjectID,
		Reason:           req.Reason,
		Comment:          req.Comment,
		UpdatedBy:        req.UpdatedBy,
		UpdatedAt:        s.now().UTC(),
	}
}

// Record validates, stores and publishes a deviation.
func (s *DeviationService) Record(ctx context.Context, req DeviationRequest) (*store.DeviationEntity, error) {
	name, err := s.validate(req)
	if err != nil {
		return nil, err
	}
	if req.Reason == "" {
		return nil, errors.NewValidationError("reason", "is required")
	}
	deviation := s.entity(name, req)
	if err := s.store.PutDeviation(ctx, deviation); err != nil {
		return nil, err
	}
	s.publish(ctx, ActionAdd, deviation)
	return deviation, nil
}

// Delete removes a deviation and publishes the removal.
func (s *DeviationService) Delete(ctx context.Context, req DeviationRequest) error {
	name, err := s.validate(req)
	if err != nil {
		return err
	}
	deviation := s.entity(name, req)
	if err := s.store.DeleteDeviation(ctx, deviation.Key()); err != nil {
		return err
	}
	s.publish(ctx, ActionDelete, deviation)
	return nil
}

// publish failures are logged; the stored deviation stays authoritative.
func (s *DeviationService) publish(ctx context.Context, action string, deviation *store.DeviationEntity) {
	if s.publisher == nil {
		return
	}
	record := DeviationLogRecord{Action: action, DeviationEntity: *deviation}
	if err := s.publisher.Publish(ctx, store.QueueDeviationReportLog, record); err != nil {
		s.logger.Warn("failed to publish deviation log record", "key", deviation.Key().String(), "error", err)
	}
}
