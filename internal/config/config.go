package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// Config is the global configuration of complyio.
type Config struct {
	Logger       Logger        `yaml:"logger"`
	HTTPClient   HTTPClient    `yaml:"http_client"`
	AzureDevOps  AzureDevOps   `yaml:"azure_devops"`
	SM9          SM9           `yaml:"sm9"`
	Storage      Storage       `yaml:"storage"`
	Archive      Archive       `yaml:"archive"`
	Scan         Scan          `yaml:"scan"`
	Breaker      Breaker       `yaml:"breaker"`
	Exclusion    Exclusion     `yaml:"exclusion"`
	Server       Server        `yaml:"server"`
	RuleProfiles []RuleProfile `yaml:"rule_profiles"`
}

// Logger holds the logger settings.
type Logger struct {
	Level           string `yaml:"level"`
	DisableTime     *bool  `yaml:"disable_time"`
	JSONFormat      *bool  `yaml:"json_format"`
	IncludeLocation *bool  `yaml:"include_location"`
}

// HTTPClient holds settings shared by all outbound resty clients.
type HTTPClient struct {
	Debug            *bool           `yaml:"debug"`
	RetryCount       int             `yaml:"retry_count"`
	RetryWaitTime    time.Duration   `yaml:"retry_wait_time"`
	RetryMaxWaitTime time.Duration   `yaml:"retry_max_wait_time"`
	Timeout          time.Duration   `yaml:"timeout"`
	TLSClientConfig  TLSClientConfig `yaml:"tls_client_config"`
	Proxy            Proxy           `yaml:"proxy"`
}

// TLSClientConfig holds TLS settings.
type TLSClientConfig struct {
	Verify *bool `yaml:"verify"`
}

// Proxy holds an optional outbound proxy.
type Proxy struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AzureDevOps holds the Azure DevOps connection settings.
type AzureDevOps struct {
	Organizations []string      `yaml:"organizations"`
	Token         string        `yaml:"token"`
	CacheTTL      time.Duration `yaml:"cache_ttl"`
}

// SM9 holds the CMDB/change management connection settings.
type SM9 struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// Storage selects the persistence backend for registrations, deviations, exclusions and reports.
type Storage struct {
	Backend          string `yaml:"backend"` // memory or azure
	ConnectionString string `yaml:"connection_string"`
}

// Archive configures the optional S3 report archive.
type Archive struct {
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
	Region string `yaml:"region"`
}

// Scan holds orchestrator settings.
type Scan struct {
	Concurrency int   `yaml:"concurrency"`
	Retry       Retry `yaml:"retry"`
}

// Retry is the declarative activity retry policy.
type Retry struct {
	MaxAttempts        int           `yaml:"max_attempts"`
	FirstRetryInterval time.Duration `yaml:"first_retry_interval"`
	BackoffCoefficient float64       `yaml:"backoff_coefficient"`
	MaxRetryInterval   time.Duration `yaml:"max_retry_interval"`
	AttemptTimeout     time.Duration `yaml:"attempt_timeout"`
}

// Breaker holds pipeline breaker settings.
type Breaker struct {
	Mode string `yaml:"mode"` // block or warn
}

// Exclusion holds exclusion validation settings.
type Exclusion struct {
	AllowedDomains []string      `yaml:"allowed_domains"`
	Validity       time.Duration `yaml:"validity"`
}

// Server holds the HTTP API and timer settings.
type Server struct {
	Addr                       string `yaml:"addr"`
	RegistrationImportSchedule string `yaml:"registration_import_schedule"`
	ScanSchedule               string `yaml:"scan_schedule"`
}

// RuleProfile is a named set of rule names as written in the configuration file.
type RuleProfile struct {
	Name  string   `yaml:"name"`
	Rules []string `yaml:"rules"`
}

// ValidateConfigPath checks that the path points to a regular file.
func ValidateConfigPath(path string) error {
	s, err := os.Stat(path)
	if err != nil {
		return err
	}
	if s.IsDir() {
		return fmt.Errorf("'%s' is a directory, not a file", path)
	}
	return nil
}

// LoadYAML decodes the YAML file at configPath into data.
func LoadYAML(configPath string, data interface{}) error {
	if err := ValidateConfigPath(configPath); err != nil {
		return err
	}

	file, err := os.Open(configPath)
	if err != nil {
		return err
	}
	defer file.Close()

	d := yaml.NewDecoder(file)
	if err := d.Decode(data); err != nil {
		return err
	}

	return nil
}

// LoadConfig reads the configuration file and applies environment overrides.
// A missing file yields the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}

	if _, err := os.Stat(configPath); err == nil {
		if err := LoadYAML(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config %q: %w", configPath, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	applyEnvOverrides(cfg, os.Getenv)
	return cfg, nil
}

// applyEnvOverrides lets secrets come from the environment instead of the file.
func applyEnvOverrides(cfg *Config, lookup func(string) string) {
	if v := lookup("COMPLYIO_AZDO_TOKEN"); v != "" {
		cfg.AzureDevOps.Token = v
	}
	if v := lookup("COMPLYIO_SM9_TOKEN"); v != "" {
		cfg.SM9.Token = v
	}
	if v := lookup("COMPLYIO_STORAGE_CONNECTION_STRING"); v != "" {
		cfg.Storage.ConnectionString = v
	}
	if v := lookup("COMPLYIO_ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
}
