package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultLogLevel is the default logging level.
	DefaultLogLevel = "info"

	// DefaultStandardDays is the turnaround-time standard in days.
	DefaultStandardDays = 3

	// DefaultBufferDays widens the discovery window on both sides to
	// catch workspaces and tickets created a few days off the run date.
	DefaultBufferDays = 5

	// DefaultMatchThreshold is the maximum edit distance accepted when
	// matching run names to tickets and staging folders.
	DefaultMatchThreshold = 2

	// DefaultConcurrency is the number of runs resolved in parallel.
	DefaultConcurrency = 4

	// DefaultCallTimeout bounds individual provider calls.
	DefaultCallTimeout = "30s"

	// DefaultMarkerFile is the glob for the upload-completed marker log.
	DefaultMarkerFile = "*.lane.all.log"

	// DefaultEntryJobType is the job whose earliest start marks the
	// beginning of processing.
	DefaultEntryJobType = "eggd_conductor"

	// DefaultOutputDir is where reports are written.
	DefaultOutputDir = "./reports"

	// DefaultAssayFieldID is the Jira custom field carrying the assay
	// type on service-desk tickets.
	DefaultAssayFieldID = "customfield_10070"

	// envPrefix namespaces the environment variables that override
	// config file values, e.g. SEQAUDIT_JIRA_TOKEN.
	envPrefix = "SEQAUDIT"
)

// Config is the root configuration for seqaudit.
type Config struct {
	Global   GlobalConfig   `yaml:"global"`
	Audit    AuditConfig    `yaml:"audit"`
	Platform PlatformConfig `yaml:"platform"`
	Jira     JiraConfig     `yaml:"jira"`
	Report   ReportConfig   `yaml:"report"`

	Archive    *ArchiveConfig    `yaml:"archive,omitempty"`
	Upload     *UploadConfig     `yaml:"upload,omitempty"`
	Notify     *NotifyConfig     `yaml:"notify,omitempty"`
	Compliance *ComplianceConfig `yaml:"compliance,omitempty"`
	API        *APIConfig        `yaml:"api,omitempty"`
}

// GlobalConfig contains global application settings.
type GlobalConfig struct {
	LogLevel string `yaml:"log_level"`
}

// AuditConfig contains the audit policy knobs.
type AuditConfig struct {
	AssayTypes     []string `yaml:"assay_types"`
	StandardDays   int      `yaml:"standard_days"`
	BufferDays     int      `yaml:"buffer_days"`
	MatchThreshold int      `yaml:"match_threshold"`
	Concurrency    int      `yaml:"concurrency"`
}

// PlatformConfig contains the analysis platform connection and the
// per-deployment naming conventions used to resolve run timestamps.
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`

	StagingWorkspaceID string            `yaml:"staging_workspace_id"`
	MarkerFilePattern  string            `yaml:"marker_file_pattern"`
	EntryJobType       string            `yaml:"entry_job_type"`
	TerminalJobTypes   map[string]string `yaml:"terminal_job_types"`

	CallTimeout       string  `yaml:"call_timeout"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// JiraConfig contains the service-desk connection and the status policy
// used to derive release times.
type JiraConfig struct {
	BaseURL       string `yaml:"base_url"`
	Email         string `yaml:"email"`
	Token         string `yaml:"token"`
	ServiceDeskID string `yaml:"service_desk_id"`

	OpenQueueID   int `yaml:"open_queue_id"`
	ClosedQueueID int `yaml:"closed_queue_id"`

	// AssayFieldID is the custom field carrying the assay type.
	AssayFieldID string `yaml:"assay_field_id"`

	Statuses StatusConfig `yaml:"statuses"`
}

// StatusConfig groups ticket statuses by what they mean for the audit.
type StatusConfig struct {
	Released       []string `yaml:"released"`
	UrgentReleased []string `yaml:"urgent_released"`
	OnHold         []string `yaml:"on_hold"`
	Cancelled      []string `yaml:"cancelled"`
	Open           []string `yaml:"open"`
}

// ReportConfig controls where and how reports are rendered.
type ReportConfig struct {
	OutputDir string   `yaml:"output_dir"`
	Formats   []string `yaml:"formats"`
}

// ArchiveConfig contains the audit archive database settings.
type ArchiveConfig struct {
	Driver   string         `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteConfig   `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteConfig contains SQLite-specific settings.
type SQLiteConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// UploadConfig contains the S3 settings for publishing report artifacts.
type UploadConfig struct {
	Enabled         bool   `yaml:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty"`
	Region          string `yaml:"region,omitempty"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix,omitempty"`
	AccessKeyID     string `yaml:"access_key_id,omitempty"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty"`
	ForcePathStyle  bool   `yaml:"force_path_style"`
}

// NotifyConfig contains the Slack notification settings.
type NotifyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel,omitempty"`
}

// ComplianceConfig contains the app-manifest compliance audit settings.
type ComplianceConfig struct {
	Organization string `yaml:"organization"`
	Token        string `yaml:"token"`
	BaseURL      string `yaml:"base_url,omitempty"`

	Rules ManifestRules `yaml:"rules"`
}

// ManifestRules are the checks applied to each app manifest.
type ManifestRules struct {
	RequiredPrefix       string   `yaml:"required_prefix"`
	AllowedRegions       []string `yaml:"allowed_regions"`
	Interpreters         []string `yaml:"interpreters"`
	AuthorizedUsers      []string `yaml:"authorized_users"`
	AuthorizedDevs       []string `yaml:"authorized_devs"`
	RequireTimeoutPolicy bool     `yaml:"require_timeout_policy"`
	RequireErrorExit     bool     `yaml:"require_error_exit"`
}

// Load reads and parses a configuration file, then applies environment
// variable overrides for secrets (SEQAUDIT_JIRA_TOKEN and friends) so
// credentials can stay out of the file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()
	cfg.applyEnvOverrides()

	return &cfg, nil
}

// applyDefaults sets default values for unspecified configuration options.
func (c *Config) applyDefaults() {
	if c.Global.LogLevel == "" {
		c.Global.LogLevel = DefaultLogLevel
	}

	if c.Audit.StandardDays == 0 {
		c.Audit.StandardDays = DefaultStandardDays
	}

	if c.Audit.BufferDays == 0 {
		c.Audit.BufferDays = DefaultBufferDays
	}

	if c.Audit.MatchThreshold == 0 {
		c.Audit.MatchThreshold = DefaultMatchThreshold
	}

	if c.Audit.Concurrency == 0 {
		c.Audit.Concurrency = DefaultConcurrency
	}

	if c.Platform.MarkerFilePattern == "" {
		c.Platform.MarkerFilePattern = DefaultMarkerFile
	}

	if c.Platform.EntryJobType == "" {
		c.Platform.EntryJobType = DefaultEntryJobType
	}

	if c.Platform.CallTimeout == "" {
		c.Platform.CallTimeout = DefaultCallTimeout
	}

	if c.Jira.AssayFieldID == "" {
		c.Jira.AssayFieldID = DefaultAssayFieldID
	}

	if c.Report.OutputDir == "" {
		c.Report.OutputDir = DefaultOutputDir
	}

	if len(c.Report.Formats) == 0 {
		c.Report.Formats = []string{"html", "csv"}
	}

	if c.Compliance != nil {
		c.Compliance.Rules.applyDefaults()
	}
}

func (r *ManifestRules) applyDefaults() {
	if r.RequiredPrefix == "" {
		r.RequiredPrefix = "eggd_"
	}

	if len(r.AllowedRegions) == 0 {
		r.AllowedRegions = []string{"aws:eu-central-1"}
	}
}

// applyEnvOverrides overlays secrets from the environment on top of the
// file values. Only string credentials are overridable; structural
// settings always come from the file.
func (c *Config) applyEnvOverrides() {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	overrides := map[string]*string{
		"platform.token": &c.Platform.Token,
		"jira.email":     &c.Jira.Email,
		"jira.token":     &c.Jira.Token,
	}

	if c.Upload != nil {
		overrides["upload.access_key_id"] = &c.Upload.AccessKeyID
		overrides["upload.secret_access_key"] = &c.Upload.SecretAccessKey
	}

	if c.Notify != nil {
		overrides["notify.webhook_url"] = &c.Notify.WebhookURL
	}

	if c.Compliance != nil {
		overrides["compliance.token"] = &c.Compliance.Token
	}

	if c.Archive != nil {
		overrides["archive.postgres.password"] = &c.Archive.Postgres.Password
	}

	for key, target := range overrides {
		if value := v.GetString(key); value != "" {
			*target = value
		}
	}
}

// CallTimeoutDuration returns the parsed per-call timeout.
func (p *PlatformConfig) CallTimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(p.CallTimeout)
	if err != nil {
		return 0, fmt.Errorf("parsing platform.call_timeout: %w", err)
	}

	return d, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Audit.AssayTypes) == 0 {
		return fmt.Errorf("at least one assay type must be configured")
	}

	seen := make(map[string]struct{}, len(c.Audit.AssayTypes))

	for i, assay := range c.Audit.AssayTypes {
		if assay == "" {
			return fmt.Errorf("assay type %d: empty name", i)
		}

		if _, exists := seen[assay]; exists {
			return fmt.Errorf("assay type %d: duplicate %q", i, assay)
		}

		seen[assay] = struct{}{}

		if _, ok := c.Platform.TerminalJobTypes[assay]; !ok {
			return fmt.Errorf(
				"assay type %q: no terminal job type configured", assay,
			)
		}
	}

	if c.Platform.BaseURL == "" {
		return fmt.Errorf("platform.base_url is required")
	}

	if c.Platform.Token == "" {
		return fmt.Errorf("platform.token is required")
	}

	if c.Platform.StagingWorkspaceID == "" {
		return fmt.Errorf("platform.staging_workspace_id is required")
	}

	if _, err := c.Platform.CallTimeoutDuration(); err != nil {
		return err
	}

	if err := c.validateJira(); err != nil {
		return err
	}

	for _, format := range c.Report.Formats {
		if format != "html" && format != "csv" {
			return fmt.Errorf("unknown report format %q", format)
		}
	}

	if c.Archive != nil {
		if err := c.Archive.validate(); err != nil {
			return err
		}
	}

	if c.Upload != nil && c.Upload.Enabled && c.Upload.Bucket == "" {
		return fmt.Errorf("upload.bucket is required when upload is enabled")
	}

	if c.Notify != nil && c.Notify.Enabled && c.Notify.WebhookURL == "" {
		return fmt.Errorf(
			"notify.webhook_url is required when notify is enabled",
		)
	}

	if c.Compliance != nil && c.Compliance.Organization == "" {
		return fmt.Errorf("compliance.organization is required")
	}

	return nil
}

func (c *Config) validateJira() error {
	if c.Jira.BaseURL == "" {
		return fmt.Errorf("jira.base_url is required")
	}

	if c.Jira.Email == "" || c.Jira.Token == "" {
		return fmt.Errorf("jira.email and jira.token are required")
	}

	if c.Jira.OpenQueueID == 0 || c.Jira.ClosedQueueID == 0 {
		return fmt.Errorf(
			"jira.open_queue_id and jira.closed_queue_id are required",
		)
	}

	if len(c.Jira.Statuses.Released) == 0 {
		return fmt.Errorf("jira.statuses.released must not be empty")
	}

	return nil
}

func (a *ArchiveConfig) validate() error {
	switch a.Driver {
	case "sqlite":
		if a.SQLite.Path == "" {
			return fmt.Errorf("archive.sqlite.path is required")
		}
	case "postgres":
		if a.Postgres.Host == "" || a.Postgres.Database == "" {
			return fmt.Errorf(
				"archive.postgres.host and database are required",
			)
		}
	default:
		return fmt.Errorf("unknown archive driver %q", a.Driver)
	}

	return nil
}
