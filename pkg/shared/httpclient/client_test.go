package httpclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/complyio/complyio/internal/config"
)

func TestApplyHTTPClientConfigDefaults(t *testing.T) {
	got := applyHTTPClientConfig(nil)
	def := config.DefaultRestyConfig()

	assert.Equal(t, def.RetryCount, got.RetryCount)
	assert.Equal(t, def.Timeout, got.Timeout)
	assert.False(t, got.TLSClientConfig.InsecureSkipVerify)
	assert.Empty(t, got.Proxy)
}

func TestApplyHTTPClientConfigOverrides(t *testing.T) {
	verify := false
	got := applyHTTPClientConfig(&config.HTTPClient{
		RetryCount:      2,
		Timeout:         3 * time.Second,
		TLSClientConfig: config.TLSClientConfig{Verify: &verify},
		Proxy:           config.Proxy{Host: "http://proxy.local", Port: 3128},
	})

	assert.Equal(t, 2, got.RetryCount)
	assert.Equal(t, 3*time.Second, got.Timeout)
	assert.True(t, got.TLSClientConfig.InsecureSkipVerify)
	assert.Equal(t, "http://proxy.local:3128", got.Proxy)
}
