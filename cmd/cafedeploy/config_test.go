package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cafedeploy/internal/core/monitoring"
	"github.com/artpar/cafedeploy/internal/core/validation"
	"github.com/artpar/cafedeploy/internal/shell/builder"
)

// =============================================================================
// Config Loading Tests
// =============================================================================

func TestLoadConfig_DefaultValues(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 4, cfg.Server.MaxConcurrent)
	assert.Equal(t, "data/cafedeploy.db", cfg.Database.DSN)
	assert.Equal(t, "data/jobs", cfg.Jobs.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Empty(t, cfg.Auth.Token)
	assert.False(t, cfg.Auth.AllowInline)
	assert.False(t, cfg.Monitor.Enabled)
	assert.Equal(t, "/api/health", cfg.Monitor.Path)
}

func TestLoadConfig_PipelineDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	p := cfg.Pipeline
	assert.Equal(t, validation.DefaultAllowedBranches, p.AllowedBranches)
	assert.Equal(t, validation.DefaultRequiredEnv, p.RequiredEnv)
	assert.Equal(t, builder.DefaultBuildCommand, p.BuildCommand)
	assert.Equal(t, builder.DefaultOutputDir, p.OutputDir)
	assert.Equal(t, builder.DefaultTimeout, p.BuildTimeout)
	assert.True(t, p.VerifyBuildOutput)
	assert.Equal(t, int64(50<<20), p.MaxBundleSize)
	assert.False(t, p.TypeCheck.Enabled)
	assert.Equal(t, builder.DefaultTypeCheckCommand, p.TypeCheck.Command)
	assert.False(t, p.Tests.Enabled)
	assert.Equal(t, builder.DefaultTestCommand, p.Tests.Command)
	assert.False(t, p.Tests.SeparateStep)
	assert.Equal(t, 3, p.ServiceRetry.MaxAttempts)

	assert.True(t, p.Health.Enabled)
	assert.Equal(t, monitoring.DefaultPaths, p.Health.Paths)
	policy := p.Health.Policy()
	assert.Equal(t, 3, policy.MaxAttempts)
	assert.Equal(t, 2*time.Second, policy.Interval)
	assert.Equal(t, 10*time.Second, policy.Timeout)
}

func TestLoadConfig_FromFile(t *testing.T) {
	clearEnv(t)

	configContent := `
server:
  host: "127.0.0.1"
  port: 9000
  read_timeout: 60s
  shutdown_timeout: 15s
  max_concurrent: 1

database:
  dsn: "/tmp/test.db"

log:
  level: "debug"
  format: "text"

auth:
  token: "s3cret"
  allow_inline: true

pipeline:
  workdir: /srv/cafe-crm
  allowed_branches: [main]
  build_command: "pnpm build"
  typecheck:
    enabled: true
    fatal: false
  tests:
    enabled: true
    separate_step: true
  health:
    retries: 5
    paths: ["/", "/api/health"]

services:
  - name: api
    url: https://api.cafe.example/health
    required: true
    timeout: 3s

monitor:
  enabled: true
  interval: 5m
`
	tmpFile := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte(configContent), 0644))

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, 1, cfg.Server.MaxConcurrent)
	assert.Equal(t, "/tmp/test.db", cfg.Database.DSN)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "s3cret", cfg.Auth.Token)
	assert.True(t, cfg.Auth.AllowInline)

	assert.Equal(t, "/srv/cafe-crm", cfg.Pipeline.WorkDir)
	assert.Equal(t, []string{"main"}, cfg.Pipeline.AllowedBranches)
	assert.Equal(t, "pnpm build", cfg.Pipeline.BuildCommand)
	assert.True(t, cfg.Pipeline.TypeCheck.Enabled)
	assert.False(t, cfg.Pipeline.TypeCheck.Fatal)
	assert.True(t, cfg.Pipeline.Tests.Enabled)
	assert.True(t, cfg.Pipeline.Tests.SeparateStep)
	assert.Equal(t, 5, cfg.Pipeline.Health.Retries)
	assert.Equal(t, []string{"/", "/api/health"}, cfg.Pipeline.Health.Paths)

	require.Len(t, cfg.Services, 1)
	assert.Equal(t, "api", cfg.Services[0].Name)
	assert.True(t, cfg.Services[0].Required)
	assert.Equal(t, 3*time.Second, cfg.Services[0].Timeout)

	assert.True(t, cfg.Monitor.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Monitor.Interval)
}

func TestLoadConfig_EnvironmentOverride(t *testing.T) {
	clearEnv(t)

	t.Setenv("CAFEDEPLOY_SERVER_HOST", "192.168.1.1")
	t.Setenv("CAFEDEPLOY_SERVER_PORT", "3000")
	t.Setenv("CAFEDEPLOY_DATABASE_DSN", "/custom/path.db")
	t.Setenv("CAFEDEPLOY_LOG_LEVEL", "warn")
	t.Setenv("CAFEDEPLOY_AUTH_TOKEN", "from-env")
	t.Setenv("CAFEDEPLOY_PIPELINE_BUILD_COMMAND", "yarn build")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.1", cfg.Server.Host)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "from-env", cfg.Auth.Token)
	assert.Equal(t, "yarn build", cfg.Pipeline.BuildCommand)
}

func TestLoadConfig_DataDirDerivesPaths(t *testing.T) {
	clearEnv(t)

	t.Setenv("CAFEDEPLOY_DATA_DIR", "/var/lib/cafedeploy")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/cafedeploy/cafedeploy.db", cfg.Database.DSN)
	assert.Equal(t, "/var/lib/cafedeploy/jobs", cfg.Jobs.Dir)
}

func TestLoadConfig_ExplicitDSNOverridesDataDir(t *testing.T) {
	clearEnv(t)

	t.Setenv("CAFEDEPLOY_DATA_DIR", "/var/lib/cafedeploy")
	t.Setenv("CAFEDEPLOY_DATABASE_DSN", "/custom/path.db")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "/custom/path.db", cfg.Database.DSN)
}

func TestLoadConfig_FileNotFound_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadConfig("/nonexistent/path/config.yaml")
	require.NoError(t, err) // Should not error, just use defaults

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadConfig_InvalidFile(t *testing.T) {
	clearEnv(t)

	tmpFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(tmpFile, []byte("invalid: yaml: content: [[["), 0644))

	_, err := LoadConfig(tmpFile)
	assert.Error(t, err)
}

// =============================================================================
// Logger Setup Tests
// =============================================================================

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{Log: LogConfig{Level: "info", Format: "text"}}, &buf)

	logger.Info("hello", "k", "v")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.Contains(t, buf.String(), "k=v")
}

func TestNewLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&Config{Log: LogConfig{Level: "info", Format: "json"}}, &buf)

	logger.Info("hello")
	assert.Contains(t, buf.String(), `"msg":"hello"`)
}

func TestNewLogger_Levels(t *testing.T) {
	tests := []struct {
		level      string
		debugShown bool
		infoShown  bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"invalid", false, true}, // Falls back to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer
			logger := newLogger(&Config{Log: LogConfig{Level: tt.level}}, &buf)

			logger.Debug("debug-line")
			logger.Info("info-line")

			assert.Equal(t, tt.debugShown, bytes.Contains(buf.Bytes(), []byte("debug-line")))
			assert.Equal(t, tt.infoShown, bytes.Contains(buf.Bytes(), []byte("info-line")))
		})
	}
}

func TestSetupLogger(t *testing.T) {
	logger := SetupLogger(&Config{Log: LogConfig{Level: "info", Format: "json"}})
	assert.NotNil(t, logger)
}

// =============================================================================
// Config Validation Tests
// =============================================================================

func TestConfig_Address(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
		},
	}

	assert.Equal(t, "localhost:8080", cfg.Server.Address())
}

// =============================================================================
// Test Helpers
// =============================================================================

func clearEnv(t *testing.T) {
	t.Helper()
	envVars := []string{
		"CAFEDEPLOY_SERVER_HOST",
		"CAFEDEPLOY_SERVER_PORT",
		"CAFEDEPLOY_DATABASE_DSN",
		"CAFEDEPLOY_DATA_DIR",
		"CAFEDEPLOY_JOBS_DIR",
		"CAFEDEPLOY_LOG_LEVEL",
		"CAFEDEPLOY_LOG_FORMAT",
		"CAFEDEPLOY_AUTH_TOKEN",
		"CAFEDEPLOY_PIPELINE_BUILD_COMMAND",
	}
	for _, v := range envVars {
		os.Unsetenv(v)
	}
}
