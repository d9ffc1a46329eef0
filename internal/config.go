package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	DB        DBConfig          `yaml:"db"`
	Retry     RetryConfig       `yaml:"retry"`
	Staleness StalenessConfig   `yaml:"staleness"`
	Retention RetentionConfig   `yaml:"retention"`
	Auth      AuthConfig        `yaml:"auth"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.DB.Validate(); err != nil {
		return err
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	if err := c.Staleness.Validate(); err != nil {
		return err
	}
	if err := c.Retention.Validate(); err != nil {
		return err
	}
	if c.Retention.Keep() <= c.Staleness.Offset() {
		return fmt.Errorf("retention: keep (%s) must exceed the staleness offset (%s)",
			c.Retention.Keep(), c.Staleness.Offset())
	}
	return c.Auth.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration. The server binds all
// interfaces and always terminates TLS: with the configured cert/key pair
// when present, otherwise with an ephemeral self-signed certificate.
type HTTPConfig struct {
	Port int       `yaml:"port"`
	TLS  TLSConfig `yaml:"tls"`
}

// Address returns the listen address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return err
	}
	return c.TLS.Validate()
}

// TLSConfig optionally names a certificate pair to serve.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// FromFiles reports whether a managed certificate pair is configured.
func (c *TLSConfig) FromFiles() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// Validate validates the TLS configuration.
func (c *TLSConfig) Validate() error {
	if (c.CertFile == "") != (c.KeyFile == "") {
		return fmt.Errorf("tls: cert_file and key_file must be set together")
	}
	return nil
}

// DBConfig selects and configures the backing store.
type DBConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Validate validates the store configuration. A missing connection string
// for the sqlite driver is a fatal configuration error.
func (c *DBConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.Required, validation.In(DriverSQLite, DriverMemory)),
	); err != nil {
		return err
	}
	if c.Driver == DriverSQLite && c.DSN == "" {
		return fmt.Errorf("db: dsn must be set (populate DB_CONN_STR)")
	}
	return nil
}

// RetryConfig bounds the executor's attempt budget.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// Validate validates the retry configuration.
func (c *RetryConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.MaxAttempts, validation.Required, validation.Min(1), validation.Max(100)),
	)
}

// StalenessConfig controls bounded-staleness snapshot reads.
type StalenessConfig struct {
	OffsetSeconds int  `yaml:"offset_seconds"`
	StaleReads    bool `yaml:"stale_reads"`
}

// Offset returns the snapshot offset as a duration.
func (c *StalenessConfig) Offset() time.Duration {
	return time.Duration(c.OffsetSeconds) * time.Second
}

// Validate validates the staleness configuration.
func (c *StalenessConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.OffsetSeconds, validation.Required, validation.Min(1), validation.Max(3600)),
	)
}

// RetentionConfig controls the gram-version sweeper.
type RetentionConfig struct {
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	KeepSeconds          int `yaml:"keep_seconds"`
}

// SweepInterval returns the sweep cadence.
func (c *RetentionConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// Keep returns how long closed gram versions are retained.
func (c *RetentionConfig) Keep() time.Duration {
	return time.Duration(c.KeepSeconds) * time.Second
}

// Validate validates the retention configuration.
func (c *RetentionConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.SweepIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.KeepSeconds, validation.Required, validation.Min(1)),
	)
}

// AuthConfig holds authentication configuration for the record admin
// routes. The search and CDC endpoints are always unauthenticated.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 18080,
			},
		},
		DB: DBConfig{
			Driver: DriverSQLite,
		},
		Retry: RetryConfig{
			MaxAttempts: 4,
		},
		Staleness: StalenessConfig{
			OffsetSeconds: 10,
		},
		Retention: RetentionConfig{
			SweepIntervalSeconds: 300,
			KeepSeconds:          3600,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
	}
}
