package errors

import (
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
)

// ValidationError describes a rejected input value. It is returned to API
// callers as a 400 response and never escapes the API boundary.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface for ValidationError.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError creates a ValidationError for the given field.
func NewValidationError(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ConflictError describes a request that clashes with existing state.
type ConflictError struct {
	Message string
}

// Error implements the error interface for ConflictError.
func (e *ConflictError) Error() string {
	return e.Message
}

// NotFoundError is returned when a stored record or upstream resource does not exist.
type NotFoundError struct {
	Resource string
	ID       string
}

// Error implements the error interface for NotFoundError.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q was not found", e.Resource, e.ID)
}

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(resource, id string) error {
	return &NotFoundError{Resource: resource, ID: id}
}

// IsValidation reports whether err is, or wraps, a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsConflict reports whether err is, or wraps, a ConflictError.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IsNotFound reports whether err is, or wraps, a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// sensitiveHeaders are removed from request snapshots.
var sensitiveHeaders = []string{"Authorization", "Cookie", "Proxy-Authorization", "X-Tfs-Fedauthredirect"}

// RequestSnapshot is a sanitized copy of an inbound request.
type RequestSnapshot struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

// SnapshotRequest copies method, URL and headers of r, leaving out credentials.
func SnapshotRequest(r *http.Request) *RequestSnapshot {
	if r == nil {
		return nil
	}
	snapshot := &RequestSnapshot{
		Method:  r.Method,
		URL:     r.URL.String(),
		Headers: make(map[string]string, len(r.Header)),
	}
	for name, values := range r.Header {
		if isSensitiveHeader(name) {
			continue
		}
		snapshot.Headers[name] = strings.Join(values, ",")
	}
	return snapshot
}

func isSensitiveHeader(name string) bool {
	for _, h := range sensitiveHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}

// ExceptionReport carries everything needed to trace a failure back to the
// function, organization and run it happened in.
type ExceptionReport struct {
	CorrelationID    string           `json:"correlationId"`
	FunctionName     string           `json:"functionName"`
	Organization     string           `json:"organization,omitempty"`
	ProjectID        string           `json:"projectId,omitempty"`
	ItemID           string           `json:"itemId,omitempty"`
	RunID            string           `json:"runId,omitempty"`
	ReleaseID        string           `json:"releaseId,omitempty"`
	RuleName         string           `json:"ruleName,omitempty"`
	ExceptionType    string           `json:"exceptionType"`
	ExceptionMessage string           `json:"exceptionMessage"`
	Request          *RequestSnapshot `json:"request,omitempty"`
	Timestamp        time.Time        `json:"timestamp"`
}

// NewExceptionReport creates a report for err raised in the named function.
func NewExceptionReport(functionName string, err error) *ExceptionReport {
	report := &ExceptionReport{
		CorrelationID: uuid.NewString(),
		FunctionName:  functionName,
		Timestamp:     time.Now().UTC(),
	}
	if err != nil {
		report.ExceptionType = reflect.TypeOf(err).String()
		report.ExceptionMessage = err.Error()
	}
	return report
}

// Log writes the report to logger at error level.
func (r *ExceptionReport) Log(logger hclog.Logger) {
	if logger == nil {
		return
	}
	args := []interface{}{
		"correlationId", r.CorrelationID,
		"function", r.FunctionName,
		"exceptionType", r.ExceptionType,
		"error", r.ExceptionMessage,
	}
	for _, kv := range [][2]string{
		{"organization", r.Organization},
		{"projectId", r.ProjectID},
		{"itemId", r.ItemID},
		{"runId", r.RunID},
		{"releaseId", r.ReleaseID},
		{"rule", r.RuleName},
	} {
		if kv[1] != "" {
			args = append(args, kv[0], kv[1])
		}
	}
	if r.Request != nil {
		args = append(args, "request", r.Request)
	}
	logger.Error("exception report", args...)
}

// CommandError is returned by CLI commands and carries the process exit code
// together with the partial result of the command.
type CommandError struct {
	ExitCode    int
	CommonError string
	Result      interface{}
}

// Error implements the error interface, returning the message from the common error.
func (e *CommandError) Error() string {
	return e.CommonError
}

// NewCommandError creates a CommandError for err with the given exit code.
func NewCommandError(result interface{}, err error, code int) *CommandError {
	return &CommandError{
		ExitCode:    code,
		CommonError: err.Error(),
		Result:      result,
	}
}
