package config

import "fmt"

// APIConfig contains the audit archive API server configuration.
type APIConfig struct {
	Server   APIServerConfig `yaml:"server" mapstructure:"server"`
	Auth     APIAuthConfig   `yaml:"auth" mapstructure:"auth"`
	Database ArchiveConfig   `yaml:"database" mapstructure:"database"`
}

// APIServerConfig contains HTTP server settings.
type APIServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// RateLimitConfig configures per-IP rate limiting.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// APIAuthConfig contains authentication settings. Read access is public;
// mutating endpoints require one of the configured admin users.
type APIAuthConfig struct {
	Admins []APIUser `yaml:"admins,omitempty" mapstructure:"admins"`
}

// APIUser defines an admin user. PasswordHash is a bcrypt hash; plaintext
// passwords never appear in configuration.
type APIUser struct {
	Username     string `yaml:"username" mapstructure:"username"`
	PasswordHash string `yaml:"password_hash" mapstructure:"password_hash"`
}

// ValidateAPI checks the API section for errors.
func (c *Config) ValidateAPI() error {
	if c.API == nil {
		return fmt.Errorf("api section is required")
	}

	if c.API.Server.Listen == "" {
		return fmt.Errorf("api.server.listen is required")
	}

	return c.API.Database.validate()
}
