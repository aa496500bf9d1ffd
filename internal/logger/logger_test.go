package logger

import (
	"bytes"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/complyio/complyio/internal/config"
)

func TestDetermineLogLevel(t *testing.T) {
	t.Setenv("COMPLYIO_LOG_LEVEL", "")

	assert.Equal(t, hclog.Info, determineLogLevel(nil))
	assert.Equal(t, hclog.Debug, determineLogLevel(&config.Config{Logger: config.Logger{Level: "debug"}}))

	t.Setenv("COMPLYIO_LOG_LEVEL", "error")
	assert.Equal(t, hclog.Error, determineLogLevel(&config.Config{Logger: config.Logger{Level: "debug"}}))
}

func TestNewLoggerJSONFormat(t *testing.T) {
	t.Setenv("COMPLYIO_LOG_LEVEL", "")
	yes := true
	var buf bytes.Buffer

	l := newLogger(&config.Config{Logger: config.Logger{JSONFormat: &yes}}, "test", &buf)
	l.Info("scan finished", "organization", "raboweb")

	assert.Contains(t, buf.String(), `"organization":"raboweb"`)
	assert.Contains(t, buf.String(), `"@module":"test"`)
}
