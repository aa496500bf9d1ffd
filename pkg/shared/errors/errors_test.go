package errors

import (
	"bytes"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotRequestStripsCredentials(t *testing.T) {
	req := httptest.NewRequest("GET", "https://complyio.local/api/breaker/raboweb/p1/12", nil)
	req.Header.Set("Authorization", "Bearer secret")
	req.Header.Set("Cookie", "session=abc")
	req.Header.Set("X-Correlation", "42")

	snapshot := SnapshotRequest(req)
	require.NotNil(t, snapshot)
	assert.Equal(t, "GET", snapshot.Method)
	assert.NotContains(t, snapshot.Headers, "Authorization")
	assert.NotContains(t, snapshot.Headers, "Cookie")
	assert.Equal(t, "42", snapshot.Headers["X-Correlation"])
	assert.Nil(t, SnapshotRequest(nil))
}

func TestErrorClassification(t *testing.T) {
	wrapped := fmt.Errorf("registering: %w", NewValidationError("pipelineId", "must be greater than zero"))
	assert.True(t, IsValidation(wrapped))
	assert.False(t, IsNotFound(wrapped))
	assert.Equal(t, "registering: pipelineId: must be greater than zero", wrapped.Error())

	assert.True(t, IsNotFound(fmt.Errorf("x: %w", NewNotFoundError("registration", "r1"))))
	assert.True(t, IsConflict(&ConflictError{Message: "already approved"}))
}

func TestExceptionReportLog(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, JSONFormat: true})

	report := NewExceptionReport("ScanProject", fmt.Errorf("boom"))
	report.Organization = "raboweb"
	report.ProjectID = "p1"
	report.Log(logger)

	assert.NotEmpty(t, report.CorrelationID)
	assert.Equal(t, "*errors.errorString", report.ExceptionType)
	assert.Contains(t, buf.String(), `"function":"ScanProject"`)
	assert.Contains(t, buf.String(), `"organization":"raboweb"`)
	assert.NotContains(t, buf.String(), `"runId"`)
}
