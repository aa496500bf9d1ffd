package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr string
	}{
		{name: "nil config", cfg: nil, wantErr: "configuration object is nil"},
		{name: "empty config is valid", cfg: &Config{}},
		{
			name:    "retry count out of range",
			cfg:     &Config{HTTPClient: HTTPClient{RetryCount: 21}},
			wantErr: "retry_count must be between 0 and 20",
		},
		{
			name:    "azure backend without connection string",
			cfg:     &Config{Storage: Storage{Backend: StorageBackendAzure}},
			wantErr: "connection_string is required",
		},
		{
			name:    "unknown backend",
			cfg:     &Config{Storage: Storage{Backend: "cosmos"}},
			wantErr: "unsupported storage backend",
		},
		{
			name:    "unknown breaker mode",
			cfg:     &Config{Breaker: Breaker{Mode: "ignore"}},
			wantErr: "unsupported breaker mode",
		},
		{
			name:    "backoff coefficient below one",
			cfg:     &Config{Scan: Scan{Retry: Retry{BackoffCoefficient: 0.5}}},
			wantErr: "backoff_coefficient must be at least 1",
		},
		{
			name: "duplicate profile",
			cfg: &Config{RuleProfiles: []RuleProfile{
				{Name: "Default", Rules: []string{"NobodyCanDeleteBuilds"}},
				{Name: "default", Rules: []string{"NobodyCanDeleteBuilds"}},
			}},
			wantErr: "defined more than once",
		},
		{
			name:    "empty profile",
			cfg:     &Config{RuleProfiles: []RuleProfile{{Name: "Empty"}}},
			wantErr: "has no rules",
		},
		{
			name:    "proxy with invalid port",
			cfg:     &Config{HTTPClient: HTTPClient{Proxy: Proxy{Host: "proxy.local", Port: 70000}}},
			wantErr: "port must be between 1 and 65535",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateConfig(tt.cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLoadConfigAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yml")
	content := `
azure_devops:
  organizations: [raboweb-test]
  token: from-file
scan:
  concurrency: 2
  retry:
    first_retry_interval: 2s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv("COMPLYIO_AZDO_TOKEN", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"raboweb-test"}, cfg.AzureDevOps.Organizations)
	assert.Equal(t, "from-env", cfg.AzureDevOps.Token)
	assert.Equal(t, 2, GetScanConcurrency(cfg))

	retry := GetRetry(cfg)
	assert.Equal(t, 2*time.Second, retry.FirstRetryInterval)
	assert.Equal(t, 3, retry.MaxAttempts)
	assert.Equal(t, 1.25, retry.BackoffCoefficient)
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yml"))
	require.NoError(t, err)
	assert.Equal(t, StorageBackendMemory, GetStorageBackend(cfg))
	assert.Equal(t, DefaultCacheTTL, GetCacheTTL(cfg))
	assert.Equal(t, DefaultScanSchedule, GetServer(cfg).ScanSchedule)
}

func TestGetBoolValue(t *testing.T) {
	yes := true
	cfg := &Config{Logger: Logger{JSONFormat: &yes}}

	assert.True(t, GetBoolValue(cfg, "Logger.JSONFormat", false))
	assert.True(t, GetBoolValue(cfg, "Logger.DisableTime", true))
	assert.False(t, GetBoolValue(cfg, "Logger.Missing", false))
	assert.False(t, GetBoolValue(nil, "Logger.JSONFormat", false))
}
