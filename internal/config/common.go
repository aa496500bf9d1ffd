package config

import (
	"crypto/tls"
	"time"
)

const (
	StorageBackendMemory = "memory"
	StorageBackendAzure  = "azure"

	BreakerModeBlock = "block"
	BreakerModeWarn  = "warn"
)

// BaseHTTPConfig holds common HTTP client configuration settings.
type BaseHTTPConfig struct {
	RetryCount       int           // Number of retries for failed requests
	RetryWaitTime    time.Duration // Wait time between retries
	RetryMaxWaitTime time.Duration // Maximum wait time for retries
	Timeout          time.Duration // Timeout for requests
	TLSClientConfig  *tls.Config   // TLS configuration
	Proxy            string        // Proxy address
}

// RestyHTTPClientConfig holds additional configuration settings for the Resty HTTP client.
type RestyHTTPClientConfig struct {
	BaseHTTPConfig
	Debug bool // Flag to enable Resty debug mode
}

// DefaultHTTPConfig returns a base configuration for HTTP clients with default values.
func DefaultHTTPConfig() BaseHTTPConfig {
	return BaseHTTPConfig{
		RetryCount:       5,
		RetryWaitTime:    1 * time.Second,
		RetryMaxWaitTime: 5 * time.Second,
		Timeout:          30 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: false,
		},
		Proxy: "",
	}
}

// DefaultRestyConfig returns a default configuration for the Resty HTTP client, extending the base HTTP configuration.
func DefaultRestyConfig() RestyHTTPClientConfig {
	return RestyHTTPClientConfig{
		BaseHTTPConfig: DefaultHTTPConfig(),
		Debug:          false,
	}
}

// DefaultRetry mirrors the activity retry policy of the scan orchestration.
func DefaultRetry() Retry {
	return Retry{
		MaxAttempts:        3,
		FirstRetryInterval: 10 * time.Second,
		BackoffCoefficient: 1.25,
		MaxRetryInterval:   5 * time.Minute,
		AttemptTimeout:     5 * time.Minute,
	}
}

// DefaultAllowedDomains are the mail domains accepted for requesters and approvers.
func DefaultAllowedDomains() []string {
	return []string{"rabobank.nl", "rabobank.com"}
}

// Defaults for values that are not set in the configuration file.
const (
	DefaultCacheTTL                   = 60 * time.Second
	DefaultScanConcurrency            = 4
	DefaultExclusionValidity          = 24 * time.Hour
	DefaultServerAddr                 = ":8080"
	DefaultRegistrationImportSchedule = "0 0 * * * *"
	DefaultScanSchedule               = "0 0 19 * * *"
)

// GetCacheTTL returns the sliding expiration used for cached GET calls.
func GetCacheTTL(cfg *Config) time.Duration {
	if cfg == nil {
		return DefaultCacheTTL
	}
	return SetThen(cfg.AzureDevOps.CacheTTL, DefaultCacheTTL)
}

// GetScanConcurrency returns the number of concurrent project scans per organization.
func GetScanConcurrency(cfg *Config) int {
	if cfg == nil {
		return DefaultScanConcurrency
	}
	return SetThen(cfg.Scan.Concurrency, DefaultScanConcurrency)
}

// GetRetry returns the configured retry policy merged with defaults.
func GetRetry(cfg *Config) Retry {
	def := DefaultRetry()
	if cfg == nil {
		return def
	}
	r := cfg.Scan.Retry
	return Retry{
		MaxAttempts:        SetThen(r.MaxAttempts, def.MaxAttempts),
		FirstRetryInterval: SetThen(r.FirstRetryInterval, def.FirstRetryInterval),
		BackoffCoefficient: SetThen(r.BackoffCoefficient, def.BackoffCoefficient),
		MaxRetryInterval:   SetThen(r.MaxRetryInterval, def.MaxRetryInterval),
		AttemptTimeout:     SetThen(r.AttemptTimeout, def.AttemptTimeout),
	}
}

// GetBreakerMode returns the breaker mode, block by default.
func GetBreakerMode(cfg *Config) string {
	if cfg == nil {
		return BreakerModeBlock
	}
	return SetThen(cfg.Breaker.Mode, BreakerModeBlock)
}

// GetAllowedDomains returns the accepted mail domains for exclusions.
func GetAllowedDomains(cfg *Config) []string {
	if cfg == nil || len(cfg.Exclusion.AllowedDomains) == 0 {
		return DefaultAllowedDomains()
	}
	return cfg.Exclusion.AllowedDomains
}

// GetExclusionValidity returns how long an approved exclusion stays valid.
func GetExclusionValidity(cfg *Config) time.Duration {
	if cfg == nil {
		return DefaultExclusionValidity
	}
	return SetThen(cfg.Exclusion.Validity, DefaultExclusionValidity)
}

// GetStorageBackend returns the configured storage backend, memory by default.
func GetStorageBackend(cfg *Config) string {
	if cfg == nil {
		return StorageBackendMemory
	}
	return SetThen(cfg.Storage.Backend, StorageBackendMemory)
}

// GetServer returns server settings merged with defaults.
func GetServer(cfg *Config) Server {
	var s Server
	if cfg != nil {
		s = cfg.Server
	}
	return Server{
		Addr:                       SetThen(s.Addr, DefaultServerAddr),
		RegistrationImportSchedule: SetThen(s.RegistrationImportSchedule, DefaultRegistrationImportSchedule),
		ScanSchedule:               SetThen(s.ScanSchedule, DefaultScanSchedule),
	}
}
