// Package api exposes registrations, deviations, exclusions, the pipeline
// breaker, rule reconciles and SM9 change closing over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"github.com/complyio/complyio/internal/breaker"
	"github.com/complyio/complyio/internal/exclusion"
	"github.com/complyio/complyio/internal/metrics"
	"github.com/complyio/complyio/internal/registration"
	"github.com/complyio/complyio/internal/rules"
	"github.com/complyio/complyio/internal/scan"
	"github.com/complyio/complyio/internal/sm9"
	"github.com/complyio/complyio/internal/store"
)

const shutdownTimeout = 10 * time.Second

// Registrations is implemented by *registration.Service.
type Registrations interface {
	RegisterNonProd(ctx context.Context, req registration.Request) (*store.Registration, error)
	RegisterProd(ctx context.Context, req registration.Request) (*store.Registration, error)
	UpdateProd(ctx context.Context, req registration.Request) (*store.Registration, error)
	UpdateNonProd(ctx context.Context, req registration.Request) (*store.Registration, error)
	DeleteProd(ctx context.Context, req registration.Request) error
}

// Deviations is implemented by *exclusion.DeviationService.
type Deviations interface {
	Record(ctx context.Context, req exclusion.DeviationRequest) (*store.DeviationEntity, error)
	Delete(ctx context.Context, req exclusion.DeviationRequest) error
}

// Exclusions is implemented by *exclusion.Service.
type Exclusions interface {
	Create(ctx context.Context, req exclusion.Request) (*store.ExclusionEntity, error)
}

// Breaker is implemented by *breaker.Gate.
type Breaker interface {
	Check(ctx context.Context, req breaker.Request) (*breaker.Result, error)
}

// Reconciler is implemented by *scan.Reconciliation.
type Reconciler interface {
	Reconcile(ctx context.Context, organization, projectID string, name rules.Name, itemID string) (*scan.ReconcileResult, error)
}

// ChangeCloser is implemented by *sm9.ChangeCloser.
type ChangeCloser interface {
	CloseChanges(ctx context.Context, req sm9.CloseChangesRequest) []sm9.CloseResult
}

// Services are the handlers' collaborators. A nil service answers 501.
type Services struct {
	Registrations Registrations
	Deviations    Deviations
	Exclusions    Exclusions
	Breaker       Breaker
	Reconcile     Reconciler
	Changes       ChangeCloser
	Metrics       *metrics.Metrics
}

// Server routes API requests.
type Server struct {
	router   *mux.Router
	services Services
	validate *validator.Validate
	logger   hclog.Logger
}

// NewServer creates the router with every route registered.
func NewServer(services Services, logger hclog.Logger) *Server {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &Server{
		router:   mux.NewRouter(),
		services: services,
		validate: newValidator(),
		logger:   logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.requestLogging)
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.services.Metrics.Handler()).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api").Subrouter()
	api.Use(requireAuthorization)

	api.HandleFunc("/registrations/nonprod", s.handleRegistration(s.registerNonProd, http.StatusCreated)).Methods(http.MethodPost)
	api.HandleFunc("/registrations/nonprod", s.handleRegistration(s.updateNonProd, http.StatusOK)).Methods(http.MethodPut)
	api.HandleFunc("/registrations/prod", s.handleRegistration(s.registerProd, http.StatusCreated)).Methods(http.MethodPost)
	api.HandleFunc("/registrations/prod", s.handleRegistration(s.updateProd, http.StatusOK)).Methods(http.MethodPut)
	api.HandleFunc("/registrations/prod", s.handleDeleteProd).Methods(http.MethodDelete)

	api.HandleFunc("/deviations", s.handleRecordDeviation).Methods(http.MethodPost)
	api.HandleFunc("/deviations", s.handleDeleteDeviation).Methods(http.MethodDelete)

	api.HandleFunc("/exclusions", s.handleCreateExclusion).Methods(http.MethodPost)

	api.HandleFunc("/breaker/{organization}/{projectId}/{runId:[0-9]+}", s.handleBreaker).Methods(http.MethodGet)

	api.HandleFunc("/reconcile/{organization}/{projectId}/{ruleName}/{itemId}", s.handleReconcile).Methods(http.MethodPost)

	api.HandleFunc("/sm9/changes/close", s.handleCloseChanges).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe serves on addr until ctx is done and then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		s.logger.Info("shutting down api")
		return srv.Shutdown(shutdownCtx)
	}
}

// requireAuthorization rejects requests without a Bearer or Basic
// Authorization header. Token validation happens in front of the service.
func requireAuthorization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, credentials, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || strings.TrimSpace(credentials) == "" ||
			(!strings.EqualFold(scheme, "Bearer") && !strings.EqualFold(scheme, "Basic")) {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "missing or malformed Authorization header"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debug("request handled",
			"requestId", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
