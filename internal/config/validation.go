package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidateConfig checks if the global configurations have valid values.
func ValidateConfig(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("YAML global config: configuration object is nil")
	}
	if err := ValidateHTTPConfig(&cfg.HTTPClient); err != nil {
		return fmt.Errorf("YAML global config: http_client directive is invalid: %w", err)
	}
	if err := ValidateStorageConfig(&cfg.Storage); err != nil {
		return fmt.Errorf("YAML global config: storage directive is invalid: %w", err)
	}
	if err := ValidateScanConfig(&cfg.Scan); err != nil {
		return fmt.Errorf("YAML global config: scan directive is invalid: %w", err)
	}
	if err := validateBreakerConfig(&cfg.Breaker); err != nil {
		return fmt.Errorf("YAML global config: breaker directive is invalid: %w", err)
	}
	if err := validateRuleProfiles(cfg.RuleProfiles); err != nil {
		return fmt.Errorf("YAML global config: rule_profiles directive is invalid: %w", err)
	}
	return nil
}

// ValidateHTTPConfig checks if the HTTP configurations have valid values.
func ValidateHTTPConfig(httpConfig *HTTPClient) error {
	if httpConfig == nil {
		return fmt.Errorf("HTTP configuration is nil")
	}
	if httpConfig.RetryCount < 0 || httpConfig.RetryCount > 20 {
		return fmt.Errorf("retry_count must be between 0 and 20: %d", httpConfig.RetryCount)
	}

	durations := map[string]time.Duration{
		"RetryMaxWaitTime": httpConfig.RetryMaxWaitTime,
		"RetryWaitTime":    httpConfig.RetryWaitTime,
		"Timeout":          httpConfig.Timeout,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 100*time.Second); err != nil {
			return err
		}
	}

	if err := validateProxy(&httpConfig.Proxy); err != nil {
		return err
	}

	return nil
}

// ValidateStorageConfig checks the storage backend selection.
func ValidateStorageConfig(storage *Storage) error {
	if storage == nil {
		return fmt.Errorf("storage configuration is nil")
	}
	switch storage.Backend {
	case "", StorageBackendMemory:
		return nil
	case StorageBackendAzure:
		if storage.ConnectionString == "" {
			return fmt.Errorf("connection_string is required for the %q backend", StorageBackendAzure)
		}
		return nil
	default:
		return fmt.Errorf("unsupported storage backend %q", storage.Backend)
	}
}

// ValidateScanConfig checks the orchestrator concurrency and retry policy.
func ValidateScanConfig(scan *Scan) error {
	if scan == nil {
		return fmt.Errorf("scan configuration is nil")
	}
	if scan.Concurrency < 0 || scan.Concurrency > 64 {
		return fmt.Errorf("concurrency must be between 0 and 64: %d", scan.Concurrency)
	}
	r := scan.Retry
	if r.MaxAttempts < 0 || r.MaxAttempts > 10 {
		return fmt.Errorf("retry.max_attempts must be between 0 and 10: %d", r.MaxAttempts)
	}
	if r.BackoffCoefficient != 0 && r.BackoffCoefficient < 1 {
		return fmt.Errorf("retry.backoff_coefficient must be at least 1: %v", r.BackoffCoefficient)
	}
	durations := map[string]time.Duration{
		"retry.first_retry_interval": r.FirstRetryInterval,
		"retry.max_retry_interval":   r.MaxRetryInterval,
		"retry.attempt_timeout":      r.AttemptTimeout,
	}
	for name, duration := range durations {
		if err := validateDuration(duration, name, 1*time.Hour); err != nil {
			return err
		}
	}
	return nil
}

func validateBreakerConfig(breaker *Breaker) error {
	switch breaker.Mode {
	case "", BreakerModeBlock, BreakerModeWarn:
		return nil
	default:
		return fmt.Errorf("unsupported breaker mode %q", breaker.Mode)
	}
}

// validateRuleProfiles checks the profile structure. Rule names are checked
// against the rule catalogue when profiles are loaded.
func validateRuleProfiles(profiles []RuleProfile) error {
	seen := make(map[string]struct{}, len(profiles))
	for i, p := range profiles {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return fmt.Errorf("profile #%d has no name", i)
		}
		key := strings.ToLower(name)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("profile %q is defined more than once", name)
		}
		seen[key] = struct{}{}
		if len(p.Rules) == 0 {
			return fmt.Errorf("profile %q has no rules", name)
		}
	}
	return nil
}

// validateDuration checks that a time.Duration is valid and within a specified maximum duration.
func validateDuration(d time.Duration, name string, max time.Duration) error {
	if d < 0 {
		return fmt.Errorf("invalid duration for %s: %v cannot be negative", name, d)
	}
	if d > max {
		return fmt.Errorf("%s duration is too long: %v exceeds maximum of %v", name, d, max)
	}
	return nil
}

// validateProxy checks if the given Proxy settings are valid.
func validateProxy(proxy *Proxy) error {
	if proxy == nil {
		return fmt.Errorf("proxy configuration is nil")
	}

	if proxy.Host == "" || proxy.Port == 0 {
		return nil
	}

	if err := validateHost(&proxy.Host); err != nil {
		return err
	}

	return validatePort(proxy.Port)
}

// validateHost ensures the host includes a scheme; adds "http" if missing.
func validateHost(host *string) error {
	if host == nil {
		return fmt.Errorf("host string pointer is nil")
	}

	if !strings.Contains(*host, "://") {
		*host = "http://" + *host
	}
	*host = strings.TrimRight(*host, "/")

	if _, err := url.Parse(*host); err != nil {
		return fmt.Errorf("invalid host URL: %w", err)
	}

	return nil
}

func validatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}
