// Package builder runs the install, build, type-check and test commands of
// a deployment and inspects the build output.
package builder

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// Defaults for a Next.js project.
const (
	DefaultBuildCommand     = "npm run build"
	DefaultTypeCheckCommand = "npx tsc --noEmit"
	DefaultTestCommand      = "npm test"
	DefaultOutputDir        = ".next"
	DefaultTimeout          = 15 * time.Minute
)

// StageSettings configures an optional stage.
type StageSettings struct {
	Enabled bool
	Fatal   bool   // Failure fails the build instead of adding a warning
	Command string // Used when the config sets none
}

// Settings configures the Runner.
type Settings struct {
	WorkDir       string
	BuildCommand  string
	OutputDir     string
	VerifyOutput  bool
	MaxBundleSize int64 // Bytes; zero disables the size check
	TypeCheck     StageSettings
	Tests         StageSettings
	Timeout       time.Duration // Per command
}

// Runner executes build stages through a command.Runner.
type Runner struct {
	runner   command.Runner
	settings Settings
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a build Runner.
func New(runner command.Runner, settings Settings, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if settings.BuildCommand == "" {
		settings.BuildCommand = DefaultBuildCommand
	}
	if settings.OutputDir == "" {
		settings.OutputDir = DefaultOutputDir
	}
	if settings.Timeout <= 0 {
		settings.Timeout = DefaultTimeout
	}
	if settings.TypeCheck.Command == "" {
		settings.TypeCheck.Command = DefaultTypeCheckCommand
	}
	if settings.Tests.Command == "" {
		settings.Tests.Command = DefaultTestCommand
	}
	return &Runner{
		runner:   runner,
		settings: settings,
		logger:   logger.With("component", "builder"),
		now:      time.Now,
	}
}

// TestsEnabled reports whether cfg runs a test stage.
func (r *Runner) TestsEnabled(cfg domain.DeploymentConfig) bool {
	return cfg.TestCommand != "" || r.settings.Tests.Enabled
}

// Build runs install, build, type-check and, when includeTests is set, the
// tests, then verifies the output. Log lines and progress go to rec.
func (r *Runner) Build(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, includeTests bool) (*domain.BuildMetadata, error) {
	start := r.now()
	meta := &domain.BuildMetadata{}
	defer func() { meta.Duration = r.now().Sub(start) }()

	if cfg.InstallCommand != "" {
		rec.Progress(5)
		res, err := r.stage(ctx, cfg, rec, domain.StepBuild, cfg.InstallCommand)
		if err != nil {
			return meta, err
		}
		if !res.Success() {
			return meta, domain.NewPipelineError(domain.KindBuildFailed, "install", domain.StepBuild,
				fmt.Sprintf("install command exited with code %d", res.ExitCode), nil)
		}
	}

	rec.Progress(10)
	buildCmd := cfg.BuildCommand
	if buildCmd == "" {
		buildCmd = r.settings.BuildCommand
	}
	res, err := r.stage(ctx, cfg, rec, domain.StepBuild, buildCmd)
	if err != nil {
		return meta, err
	}
	if !res.Success() {
		return meta, domain.NewPipelineError(domain.KindBuildFailed, "build", domain.StepBuild,
			fmt.Sprintf("build command exited with code %d", res.ExitCode), nil)
	}
	rec.Log("build completed")
	rec.Progress(70)

	if cfg.TypeCheckCommand != "" || r.settings.TypeCheck.Enabled {
		line := cfg.TypeCheckCommand
		if line == "" {
			line = r.settings.TypeCheck.Command
		}
		passed, err := r.optionalStage(ctx, cfg, rec, domain.StepBuild, "type-check", line, r.settings.TypeCheck.Fatal, meta)
		meta.TypeCheckPassed = &passed
		if err != nil {
			return meta, err
		}
		rec.Progress(80)
	}

	if includeTests && r.TestsEnabled(cfg) {
		passed, err := r.runTests(ctx, cfg, rec, domain.StepBuild, meta)
		meta.TestsPassed = &passed
		if err != nil {
			return meta, err
		}
		rec.Progress(90)
	}

	if r.settings.VerifyOutput {
		if err := r.verifyOutput(cfg, rec, meta); err != nil {
			return meta, err
		}
	}
	rec.Progress(100)
	return meta, nil
}

// RunTests runs the test stage on its own, for pipelines with a separate
// tests step. meta, when non-nil, receives the outcome.
func (r *Runner) RunTests(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, meta *domain.BuildMetadata) error {
	if meta == nil {
		meta = &domain.BuildMetadata{}
	}
	rec.Progress(10)
	passed, err := r.runTests(ctx, cfg, rec, domain.StepTests, meta)
	meta.TestsPassed = &passed
	if err == nil {
		rec.Progress(100)
	}
	return err
}

func (r *Runner) runTests(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, step string, meta *domain.BuildMetadata) (bool, error) {
	line := cfg.TestCommand
	if line == "" {
		line = r.settings.Tests.Command
	}
	return r.optionalStage(ctx, cfg, rec, step, "tests", line, r.settings.Tests.Fatal, meta)
}

// optionalStage runs a stage whose failure is fatal or advisory.
func (r *Runner) optionalStage(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, step, name, line string, fatal bool, meta *domain.BuildMetadata) (bool, error) {
	res, err := r.stage(ctx, cfg, rec, step, line)
	if err != nil {
		return false, err
	}
	if res.Success() {
		rec.Logf("%s passed", name)
		return true, nil
	}
	if fatal {
		return false, domain.NewPipelineError(domain.KindBuildFailed, name, step,
			fmt.Sprintf("%s exited with code %d", name, res.ExitCode), nil)
	}
	warning := fmt.Sprintf("warning: %s failed with exit code %d, continuing", name, res.ExitCode)
	rec.Log(warning)
	meta.Warnings = append(meta.Warnings, warning)
	return false, nil
}

// stage runs one shell command line in the project directory.
func (r *Runner) stage(ctx context.Context, cfg domain.DeploymentConfig, rec domain.StepRecorder, step, line string) (command.Result, error) {
	rec.Logf("$ %s", line)
	cmd := command.Shell(line)
	cmd.Dir = r.workDir(cfg)
	cmd.Env = cfg.Environment
	cmd.Timeout = r.settings.Timeout
	secrets := cfg.SensitiveValues()
	cmd.OnOutput = func(l string) { rec.Log(deployment.RedactLine(l, secrets)) }

	res, err := r.runner.Run(ctx, cmd)
	if err != nil {
		r.logger.Warn("build command failed to run", "command", line, "error", err)
		kind := domain.KindOf(err)
		if kind == domain.KindInternal {
			kind = domain.KindBuildFailed
		}
		return res, domain.NewPipelineError(kind, "build", step, err.Error(), err)
	}
	r.logger.Debug("build command finished", "command", line, "exit_code", res.ExitCode, "duration", res.Duration)
	return res, nil
}

func (r *Runner) verifyOutput(cfg domain.DeploymentConfig, rec domain.StepRecorder, meta *domain.BuildMetadata) error {
	dir := r.OutputDir(cfg)
	meta.OutputDir = dir

	files, size, err := InspectOutput(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return domain.NewPipelineError(domain.KindBuildFailed, "verify", domain.StepBuild,
			fmt.Sprintf("inspect build output: %v", err), err)
	}
	meta.ArtifactCount = files
	meta.TotalSize = size

	verdict := deployment.EvaluateBundle(files, size, r.settings.MaxBundleSize)
	if verdict.Empty {
		return domain.NewPipelineError(domain.KindEmptyBuildOutput, "verify", domain.StepBuild,
			fmt.Sprintf("%s: %s", dir, verdict.Message), nil)
	}
	if verdict.Oversize {
		meta.OversizeWarning = true
		meta.Warnings = append(meta.Warnings, "warning: "+verdict.Message)
		rec.Log("warning: " + verdict.Message)
		return nil
	}
	rec.Log(verdict.Message)
	return nil
}

// OutputDir returns the absolute or workdir-relative build output directory for cfg.
func (r *Runner) OutputDir(cfg domain.DeploymentConfig) string {
	dir := cfg.OutputDirectory
	if dir == "" {
		dir = r.settings.OutputDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(r.workDir(cfg), dir)
}

func (r *Runner) workDir(cfg domain.DeploymentConfig) string {
	if cfg.WorkDir != "" {
		return cfg.WorkDir
	}
	return r.settings.WorkDir
}

// InspectOutput counts the regular files under dir and their total size.
func InspectOutput(dir string) (files int, size int64, err error) {
	err = filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files++
		size += info.Size()
		return nil
	})
	return files, size, err
}
