package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/complyio/complyio/internal/breaker"
	"github.com/complyio/complyio/internal/exclusion"
	"github.com/complyio/complyio/internal/registration"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/sm9"
	"github.com/complyio/complyio/internal/store"
	"github.com/complyio/complyio/pkg/shared/errors"
)

type errorBody struct {
	Error         string `json:"error"`
	Field         string `json:"field,omitempty"`
	CorrelationID string `json:"correlationId,omitempty"`
}

type exclusionBody struct {
	Organization string `json:"organization" validate:"required"`
	ProjectID    string `json:"projectId" validate:"required"`
	PipelineID   int    `json:"pipelineId" validate:"gt=0"`
	PipelineType string `json:"pipelineType" validate:"omitempty,oneof=build release Build Release"`
	Reason       string `json:"reason" validate:"required"`
	Requester    string `json:"requester" validate:"required"`
	Approver     string `json:"approver" validate:"required"`
}

type reconcileParams struct {
	Organization string `json:"organization" validate:"required"`
	ProjectID    string `json:"projectId" validate:"required"`
	RuleName     string `json:"ruleName" validate:"required,rulename"`
	ItemID       string `json:"itemId" validate:"required,itemid"`
}

type closeChangesResponse struct {
	Results []sm9.CloseResult `json:"results"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

// writeError maps domain errors to 400, 404 and 409. Anything else is logged
// with an exception report and answered with 500.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, function string, err error) {
	var validationErr *errors.ValidationError
	switch {
	case errors.IsValidation(err):
		body := errorBody{Error: err.Error()}
		if stderrors.As(err, &validationErr) {
			body.Field = validationErr.Field
		}
		writeJSON(w, http.StatusBadRequest, body)
	case errors.IsConflict(err):
		writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.IsNotFound(err):
		writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	default:
		report := errors.NewExceptionReport(function, err)
		report.Request = errors.SnapshotRequest(r)
		if vars := mux.Vars(r); vars != nil {
			report.Organization = vars["organization"]
			report.ProjectID = vars["projectId"]
			report.RunID = vars["runId"]
		}
		report.Log(s.logger)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error", CorrelationID: report.CorrelationID})
	}
}

func (s *Server) decode(r *http.Request, body interface{}) error {
	if r.Body == nil {
		return errors.NewValidationError("", "request body is required")
	}
	if err := json.NewDecoder(r.Body).Decode(body); err != nil {
		return errors.NewValidationError("", "invalid JSON body: %v", err)
	}
	return s.validateStruct(body)
}

func notConfigured(w http.ResponseWriter, name string) {
	writeJSON(w, http.StatusNotImplemented, errorBody{Error: name + " is not configured"})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type registrationFunc func(ctx context.Context, req registration.Request) (*store.Registration, error)

func (s *Server) registerNonProd(ctx context.Context, req registration.Request) (*store.Registration, error) {
	return s.services.Registrations.RegisterNonProd(ctx, req)
}

func (s *Server) registerProd(ctx context.Context, req registration.Request) (*store.Registration, error) {
	return s.services.Registrations.RegisterProd(ctx, req)
}

func (s *Server) updateNonProd(ctx context.Context, req registration.Request) (*store.Registration, error) {
	return s.services.Registrations.UpdateNonProd(ctx, req)
}

func (s *Server) updateProd(ctx context.Context, req registration.Request) (*store.Registration, error) {
	return s.services.Registrations.UpdateProd(ctx, req)
}

func (s *Server) handleRegistration(fn registrationFunc, status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.services.Registrations == nil {
			notConfigured(w, "registrations")
			return
		}
		var req registration.Request
		if err := s.decode(r, &req); err != nil {
			s.writeError(w, r, "Registration", err)
			return
		}
		reg, err := fn(r.Context(), req)
		if err != nil {
			s.writeError(w, r, "Registration", err)
			return
		}
		writeJSON(w, status, reg)
	}
}

func (s *Server) handleDeleteProd(w http.ResponseWriter, r *http.Request) {
	if s.services.Registrations == nil {
		notConfigured(w, "registrations")
		return
	}
	var req registration.Request
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, "DeleteProdRegistration", err)
		return
	}
	if err := s.services.Registrations.DeleteProd(r.Context(), req); err != nil {
		s.writeError(w, r, "DeleteProdRegistration", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRecordDeviation(w http.ResponseWriter, r *http.Request) {
	if s.services.Deviations == nil {
		notConfigured(w, "deviations")
		return
	}
	var req exclusion.DeviationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, "RecordDeviation", err)
		return
	}
	deviation, err := s.services.Deviations.Record(r.Context(), req)
	if err != nil {
		s.writeError(w, r, "RecordDeviation", err)
		return
	}
	writeJSON(w, http.StatusCreated, deviation)
}

func (s *Server) handleDeleteDeviation(w http.ResponseWriter, r *http.Request) {
	if s.services.Deviations == nil {
		notConfigured(w, "deviations")
		return
	}
	var req exclusion.DeviationRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, "DeleteDeviation", err)
		return
	}
	if err := s.services.Deviations.Delete(r.Context(), req); err != nil {
		s.writeError(w, r, "DeleteDeviation", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateExclusion(w http.ResponseWriter, r *http.Request) {
	if s.services.Exclusions == nil {
		notConfigured(w, "exclusions")
		return
	}
	var body exclusionBody
	if err := s.decode(r, &body); err != nil {
		s.writeError(w, r, "CreateExclusion", err)
		return
	}
	entity, err := s.services.Exclusions.Create(r.Context(), exclusion.Request{
		Organization: body.Organization,
		ProjectID:    body.ProjectID,
		PipelineID:   body.PipelineID,
		PipelineType: store.ParsePipelineType(body.PipelineType),
		Reason:       body.Reason,
		Requester:    body.Requester,
		Approver:     body.Approver,
	})
	if err != nil {
		s.writeError(w, r, "CreateExclusion", err)
		return
	}
	writeJSON(w, http.StatusCreated, entity)
}

func (s *Server) handleBreaker(w http.ResponseWriter, r *http.Request) {
	if s.services.Breaker == nil {
		notConfigured(w, "breaker")
		return
	}
	vars := mux.Vars(r)
	runID, err := strconv.Atoi(vars["runId"])
	if err != nil || runID <= 0 {
		s.writeError(w, r, "Breaker", errors.NewValidationError("runId", "must be a positive number"))
		return
	}
	pipelineType := strings.ToLower(r.URL.Query().Get("pipelineType"))
	if pipelineType != "" && pipelineType != string(store.PipelineTypeBuild) && pipelineType != string(store.PipelineTypeRelease) {
		s.writeError(w, r, "Breaker", errors.NewValidationError("pipelineType", "must be build or release"))
		return
	}

	result, err := s.services.Breaker.Check(r.Context(), breaker.Request{
		Organization: vars["organization"],
		ProjectID:    vars["projectId"],
		RunID:        runID,
		PipelineType: pipelineType,
		StageID:      r.URL.Query().Get("stageId"),
	})
	if err != nil {
		s.writeError(w, r, "Breaker", fmt.Errorf("breaker check failed: %w", err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.services.Reconcile == nil {
		notConfigured(w, "reconcile")
		return
	}
	vars := mux.Vars(r)
	params := reconcileParams{
		Organization: vars["organization"],
		ProjectID:    vars["projectId"],
		RuleName:     vars["ruleName"],
		ItemID:       vars["itemId"],
	}
	if err := s.validateStruct(&params); err != nil {
		s.writeError(w, r, "Reconcile", err)
		return
	}

	result, err := s.services.Reconcile.Reconcile(r.Context(), params.Organization, params.ProjectID, rules.Name(params.RuleName), params.ItemID)
	if err != nil {
		s.writeError(w, r, "Reconcile", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCloseChanges(w http.ResponseWriter, r *http.Request) {
	if s.services.Changes == nil {
		notConfigured(w, "sm9")
		return
	}
	var req sm9.CloseChangesRequest
	if err := s.decode(r, &req); err != nil {
		s.writeError(w, r, "CloseChanges", err)
		return
	}
	writeJSON(w, http.StatusOK, closeChangesResponse{Results: s.services.Changes.CloseChanges(r.Context(), req)})
}
