package internal

import (
	"fmt"
	"log/slog"
	"regexp"
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
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Source kinds.
const (
	SourceHTTP = "http"
	SourceFile = "file"
)

// Config represents the application configuration.
type Config struct {
	App      ApplicationConfig `yaml:"app"`
	Store    StoreConfig       `yaml:"store"`
	SQLite   SQLiteConfig      `yaml:"sqlite"`
	Postgres PostgresConfig    `yaml:"postgres"`
	Source   SourceConfig      `yaml:"source"`
	Codes    CodesConfig       `yaml:"codes"`
	Pipeline PipelineConfig    `yaml:"pipeline"`
	Auth     AuthConfig        `yaml:"auth"`
	Redis    RedisConfig       `yaml:"redis"`
	Watch    WatchConfig       `yaml:"watch"`
	Export   ExportConfig      `yaml:"export"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Store.Validate(); err != nil {
		return err
	}
	switch c.Store.Driver {
	case StoreSQLite:
		if err := c.SQLite.Validate(); err != nil {
			return err
		}
	case StorePostgres:
		if err := c.Postgres.Validate(); err != nil {
			return err
		}
	}
	if err := c.Source.Validate(); err != nil {
		return err
	}
	if err := c.Pipeline.Validate(); err != nil {
		return err
	}
	if err := c.Redis.Validate(); err != nil {
		return err
	}
	if c.Watch.Enabled && c.Codes.Path == "" {
		return fmt.Errorf("watch: enabled but codes.path is empty")
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

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// StoreConfig selects the durable store.
type StoreConfig struct {
	Driver string `yaml:"driver"`
}

// Validate validates the store configuration.
func (c *StoreConfig) Validate() error {
	if c.Driver == "" {
		c.Driver = StoreSQLite
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Driver, validation.In(StoreSQLite, StorePostgres)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// PostgresConfig holds PostgreSQL connection configuration.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// Validate validates the PostgreSQL configuration.
func (c *PostgresConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.DSN, validation.Required),
		validation.Field(&c.MaxConns, validation.Min(int32(0))),
	)
}

// SourceConfig describes where payloads are fetched from.
//
// Kind "http" requests BaseURL with {code} (or {dotted}) substituted; kind
// "file" reads <code>.json|.yaml from Dir.
type SourceConfig struct {
	Kind      string        `yaml:"kind"`
	BaseURL   string        `yaml:"base_url"`
	Dir       string        `yaml:"dir"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Kind, validation.Required, validation.In(SourceHTTP, SourceFile)),
		validation.Field(&c.BaseURL,
			validation.When(c.Kind == SourceHTTP, validation.Required,
				validation.Match(httpURL).Error("must be an http(s) URL"),
				validation.Match(placeholder).Error("must contain {code} or {dotted}"))),
		validation.Field(&c.Dir, validation.When(c.Kind == SourceFile, validation.Required)),
		validation.Field(&c.Timeout, validation.Min(time.Duration(0))),
	)
}

var (
	httpURL     = regexp.MustCompile(`^https?://[^/\s]+`)
	placeholder = regexp.MustCompile(`\{(code|dotted)\}`)
)

// CodesConfig points at the candidate identifier list.
type CodesConfig struct {
	Path string `yaml:"path"`
}

// PipelineConfig holds run defaults. CLI flags and API requests override
// them per run.
type PipelineConfig struct {
	FreshnessWindow time.Duration `yaml:"freshness_window"`
	BatchSize       int           `yaml:"batch_size"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	RetryAttempts   int           `yaml:"retry_attempts"`
	BackoffBase     time.Duration `yaml:"backoff_base"`
	BackoffMax      time.Duration `yaml:"backoff_max"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	CommitAttempts  int           `yaml:"commit_attempts"`
}

// Validate validates the pipeline configuration.
func (c *PipelineConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.FreshnessWindow, validation.Min(time.Duration(0))),
		validation.Field(&c.BatchSize, validation.Required, validation.Min(1), validation.Max(10000)),
		validation.Field(&c.Workers, validation.Required, validation.Min(1), validation.Max(256)),
		validation.Field(&c.QueueSize, validation.Min(0)),
		validation.Field(&c.RetryAttempts, validation.Required, validation.Min(1), validation.Max(20)),
		validation.Field(&c.BackoffBase, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.BackoffMax, validation.Required, validation.Min(c.BackoffBase)),
		validation.Field(&c.FetchTimeout, validation.Required),
		validation.Field(&c.CommitAttempts, validation.Required, validation.Min(1), validation.Max(20)),
	)
}

// RedisConfig enables the cross-process run lock when URL is set.
type RedisConfig struct {
	URL     string        `yaml:"url"`
	Key     string        `yaml:"key"`
	LockTTL time.Duration `yaml:"lock_ttl"`
}

// Enabled reports whether a Redis lock is configured.
func (c *RedisConfig) Enabled() bool { return c.URL != "" }

// Validate validates the Redis configuration.
func (c *RedisConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Key, validation.When(c.URL != "", validation.Required)),
		validation.Field(&c.LockTTL, validation.Min(time.Duration(0))),
	)
}

// WatchConfig re-runs the pipeline when the codes file changes (serve mode).
type WatchConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Debounce time.Duration `yaml:"debounce"`
}

// ExportConfig holds the default export directory.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
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
				Port: 8080,
			},
		},
		Store: StoreConfig{
			Driver: StoreSQLite,
		},
		SQLite: SQLiteConfig{
			Path: "./tariffsync.db",
		},
		Postgres: PostgresConfig{
			MaxConns: 8,
		},
		Source: SourceConfig{
			Kind:      SourceFile,
			Dir:       "./payloads",
			Timeout:   30 * time.Second,
			UserAgent: "tariffsync/1.0",
		},
		Pipeline: PipelineConfig{
			FreshnessWindow: 24 * time.Hour,
			BatchSize:       50,
			Workers:         4,
			QueueSize:       8,
			RetryAttempts:   3,
			BackoffBase:     500 * time.Millisecond,
			BackoffMax:      10 * time.Second,
			FetchTimeout:    30 * time.Second,
			CommitAttempts:  3,
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Redis: RedisConfig{
			Key:     "tariffsync:run-lock",
			LockTTL: 2 * time.Hour,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Export: ExportConfig{
			Dir: "./export",
		},
	}
}
