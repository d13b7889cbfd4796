package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const baseConfig = `
global:
  log_level: info
audit:
  assay_types: [CEN, TWE]
platform:
  base_url: https://api.dnanexus.example.com
  token: file-token
  staging_workspace_id: project-staging
  terminal_job_types:
    CEN: eggd_artemis
    TWE: eggd_artemis
jira:
  base_url: https://example.atlassian.net
  email: audit@example.com
  token: file-jira-token
  service_desk_id: "4"
  open_queue_id: 34
  closed_queue_id: 35
  statuses:
    released: ["All samples released"]
    urgent_released: ["Urgent samples released"]
    on_hold: ["On hold"]
    cancelled: ["Data not received"]
    open: ["New", "Data Received"]
report:
  output_dir: /tmp/reports
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Global.LogLevel)
	assert.Equal(t, DefaultStandardDays, cfg.Audit.StandardDays)
	assert.Equal(t, DefaultBufferDays, cfg.Audit.BufferDays)
	assert.Equal(t, DefaultMatchThreshold, cfg.Audit.MatchThreshold)
	assert.Equal(t, DefaultConcurrency, cfg.Audit.Concurrency)
	assert.Equal(t, DefaultMarkerFile, cfg.Platform.MarkerFilePattern)
	assert.Equal(t, DefaultEntryJobType, cfg.Platform.EntryJobType)
	assert.Equal(t, DefaultAssayFieldID, cfg.Jira.AssayFieldID)
	assert.Equal(t, []string{"html", "csv"}, cfg.Report.Formats)

	timeout, err := cfg.Platform.CallTimeoutDuration()
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, timeout)

	require.NoError(t, cfg.Validate())
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		validate func(t *testing.T, cfg *Config)
	}{
		{
			name:    "no env vars uses yaml values",
			envVars: map[string]string{},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "file-token", cfg.Platform.Token)
				assert.Equal(t, "file-jira-token", cfg.Jira.Token)
			},
		},
		{
			name: "platform token override",
			envVars: map[string]string{
				"SEQAUDIT_PLATFORM_TOKEN": "env-token",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "env-token", cfg.Platform.Token)
			},
		},
		{
			name: "jira credentials override",
			envVars: map[string]string{
				"SEQAUDIT_JIRA_EMAIL": "ops@example.com",
				"SEQAUDIT_JIRA_TOKEN": "env-jira-token",
			},
			validate: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "ops@example.com", cfg.Jira.Email)
				assert.Equal(t, "env-jira-token", cfg.Jira.Token)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			cfg, err := Load(writeConfig(t, baseConfig))
			require.NoError(t, err)

			tt.validate(t, cfg)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr string
	}{
		{
			name:    "valid",
			mutate:  func(cfg *Config) {},
			wantErr: "",
		},
		{
			name: "no assay types",
			mutate: func(cfg *Config) {
				cfg.Audit.AssayTypes = nil
			},
			wantErr: "at least one assay type",
		},
		{
			name: "duplicate assay type",
			mutate: func(cfg *Config) {
				cfg.Audit.AssayTypes = []string{"CEN", "CEN"}
			},
			wantErr: "duplicate",
		},
		{
			name: "assay without terminal job type",
			mutate: func(cfg *Config) {
				cfg.Audit.AssayTypes = append(cfg.Audit.AssayTypes, "MYE")
			},
			wantErr: "no terminal job type",
		},
		{
			name: "missing platform token",
			mutate: func(cfg *Config) {
				cfg.Platform.Token = ""
			},
			wantErr: "platform.token",
		},
		{
			name: "bad call timeout",
			mutate: func(cfg *Config) {
				cfg.Platform.CallTimeout = "soon"
			},
			wantErr: "call_timeout",
		},
		{
			name: "missing jira queues",
			mutate: func(cfg *Config) {
				cfg.Jira.OpenQueueID = 0
			},
			wantErr: "open_queue_id",
		},
		{
			name: "no released statuses",
			mutate: func(cfg *Config) {
				cfg.Jira.Statuses.Released = nil
			},
			wantErr: "statuses.released",
		},
		{
			name: "unknown report format",
			mutate: func(cfg *Config) {
				cfg.Report.Formats = []string{"pdf"}
			},
			wantErr: "unknown report format",
		},
		{
			name: "archive without driver",
			mutate: func(cfg *Config) {
				cfg.Archive = &ArchiveConfig{}
			},
			wantErr: "unknown archive driver",
		},
		{
			name: "sqlite archive without path",
			mutate: func(cfg *Config) {
				cfg.Archive = &ArchiveConfig{Driver: "sqlite"}
			},
			wantErr: "archive.sqlite.path",
		},
		{
			name: "upload enabled without bucket",
			mutate: func(cfg *Config) {
				cfg.Upload = &UploadConfig{Enabled: true}
			},
			wantErr: "upload.bucket",
		},
		{
			name: "notify enabled without webhook",
			mutate: func(cfg *Config) {
				cfg.Notify = &NotifyConfig{Enabled: true}
			},
			wantErr: "notify.webhook_url",
		},
		{
			name: "compliance without organization",
			mutate: func(cfg *Config) {
				cfg.Compliance = &ComplianceConfig{}
			},
			wantErr: "compliance.organization",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, baseConfig))
			require.NoError(t, err)

			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateAPI(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig))
	require.NoError(t, err)

	assert.Error(t, cfg.ValidateAPI())

	cfg.API = &APIConfig{
		Server: APIServerConfig{Listen: ":8080"},
		Database: ArchiveConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{Path: "/tmp/audits.db"},
		},
	}

	assert.NoError(t, cfg.ValidateAPI())
}

func TestManifestRuleDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseConfig+`
compliance:
  organization: example-org
`))
	require.NoError(t, err)

	assert.Equal(t, "eggd_", cfg.Compliance.Rules.RequiredPrefix)
	assert.Equal(
		t, []string{"aws:eu-central-1"}, cfg.Compliance.Rules.AllowedRegions,
	)
}
