package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/artpar/cafedeploy/internal/core/monitoring"
	"github.com/artpar/cafedeploy/internal/core/retry"
	"github.com/artpar/cafedeploy/internal/core/validation"
	"github.com/artpar/cafedeploy/internal/shell/builder"
	"github.com/artpar/cafedeploy/internal/shell/validators"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds all application configuration.
type Config struct {
	DataDir  string                     `mapstructure:"data_dir"`
	Server   ServerConfig               `mapstructure:"server"`
	Database DatabaseConfig             `mapstructure:"database"`
	Log      LogConfig                  `mapstructure:"log"`
	Auth     AuthConfig                 `mapstructure:"auth"`
	Jobs     JobsConfig                 `mapstructure:"jobs"`
	Pipeline PipelineConfig             `mapstructure:"pipeline"`
	Services []validators.ServiceConfig `mapstructure:"services"`
	Monitor  MonitorConfig              `mapstructure:"monitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// MaxConcurrent caps deployments running at once. Zero means unlimited.
	MaxConcurrent int `mapstructure:"max_concurrent"`
}

// Address returns the server address in host:port format.
func (c ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// DatabaseConfig holds the history store configuration.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// AuthConfig holds API authentication configuration.
type AuthConfig struct {
	// Token protects /api/v1. If empty, the API is open.
	Token string `mapstructure:"token"`

	// AllowInline accepts full deployment configs in API requests.
	AllowInline bool `mapstructure:"allow_inline"`
}

// JobsConfig locates the job files served by the API.
type JobsConfig struct {
	Dir string `mapstructure:"dir"`
}

// StageConfig configures an optional build stage.
type StageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Fatal   bool   `mapstructure:"fatal"`
	Command string `mapstructure:"command"`
}

// TestsConfig configures the test stage.
type TestsConfig struct {
	StageConfig  `mapstructure:",squash"`
	SeparateStep bool `mapstructure:"separate_step"`
}

// HealthConfig configures post-deploy health checks.
type HealthConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Retries  int           `mapstructure:"retries"`
	Interval time.Duration `mapstructure:"interval"`
	Timeout  time.Duration `mapstructure:"timeout"`
	Paths    []string      `mapstructure:"paths"`
}

// Policy returns the retry policy of one check.
func (c HealthConfig) Policy() retry.Policy {
	return retry.Policy{MaxAttempts: c.Retries, Interval: c.Interval, Timeout: c.Timeout}
}

// PipelineConfig holds the defaults every deployment runs with.
type PipelineConfig struct {
	WorkDir         string        `mapstructure:"workdir"`
	AllowedBranches []string      `mapstructure:"allowed_branches"`
	RequiredEnv     []string      `mapstructure:"required_env"`
	CommandTimeout  time.Duration `mapstructure:"command_timeout"`
	BuildTimeout    time.Duration `mapstructure:"build_timeout"`
	DeployTimeout   time.Duration `mapstructure:"deploy_timeout"`
	DatabaseTimeout time.Duration `mapstructure:"database_timeout"`
	ServiceRetry    retry.Policy  `mapstructure:"service_retry"`

	BuildCommand      string `mapstructure:"build_command"`
	OutputDir         string `mapstructure:"output_dir"`
	VerifyBuildOutput bool   `mapstructure:"verify_build_output"`
	MaxBundleSize     int64  `mapstructure:"max_bundle_size"`

	TypeCheck StageConfig  `mapstructure:"typecheck"`
	Tests     TestsConfig  `mapstructure:"tests"`
	Health    HealthConfig `mapstructure:"health"`
}

// MonitorConfig configures continuous health monitoring of successful
// deployments in serve mode.
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	Path     string        `mapstructure:"path"`
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("data_dir", "./data")
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "0s") // Event streams stay open
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_concurrent", 4)
	v.SetDefault("database.dsn", "") // Derived from data_dir when empty
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("auth.token", "")
	v.SetDefault("auth.allow_inline", false)
	v.SetDefault("jobs.dir", "") // Derived from data_dir when empty

	// Pipeline defaults
	v.SetDefault("pipeline.workdir", ".")
	v.SetDefault("pipeline.allowed_branches", validation.DefaultAllowedBranches)
	v.SetDefault("pipeline.required_env", validation.DefaultRequiredEnv)
	v.SetDefault("pipeline.command_timeout", "30s")
	v.SetDefault("pipeline.build_timeout", builder.DefaultTimeout.String())
	v.SetDefault("pipeline.deploy_timeout", "10m")
	v.SetDefault("pipeline.database_timeout", "5s")
	v.SetDefault("pipeline.service_retry.max_attempts", retry.DefaultMaxAttempts)
	v.SetDefault("pipeline.service_retry.interval", retry.DefaultInterval.String())
	v.SetDefault("pipeline.service_retry.timeout", "5s")
	v.SetDefault("pipeline.build_command", builder.DefaultBuildCommand)
	v.SetDefault("pipeline.output_dir", builder.DefaultOutputDir)
	v.SetDefault("pipeline.verify_build_output", true)
	v.SetDefault("pipeline.max_bundle_size", 50<<20)
	v.SetDefault("pipeline.typecheck.enabled", false)
	v.SetDefault("pipeline.typecheck.fatal", true)
	v.SetDefault("pipeline.typecheck.command", builder.DefaultTypeCheckCommand)
	v.SetDefault("pipeline.tests.enabled", false)
	v.SetDefault("pipeline.tests.fatal", true)
	v.SetDefault("pipeline.tests.command", builder.DefaultTestCommand)
	v.SetDefault("pipeline.tests.separate_step", false)
	v.SetDefault("pipeline.health.enabled", true)
	v.SetDefault("pipeline.health.retries", retry.DefaultMaxAttempts)
	v.SetDefault("pipeline.health.interval", retry.DefaultInterval.String())
	v.SetDefault("pipeline.health.timeout", retry.DefaultTimeout.String())
	v.SetDefault("pipeline.health.paths", monitoring.DefaultPaths)

	// Continuous monitoring defaults
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("monitor.interval", "60s")
	v.SetDefault("monitor.path", "/api/health")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("CAFEDEPLOY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Database.DSN == "" {
		cfg.Database.DSN = filepath.Join(cfg.DataDir, "cafedeploy.db")
	}
	if cfg.Jobs.Dir == "" {
		cfg.Jobs.Dir = filepath.Join(cfg.DataDir, "jobs")
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the configured level and format.
func SetupLogger(cfg *Config) *slog.Logger {
	return newLogger(cfg, os.Stdout)
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Log.Format) == "text" {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return slog.New(handler)
}
