package builder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// =============================================================================
// Test Helpers
// =============================================================================

type recorder struct {
	mu       sync.Mutex
	lines    []string
	progress []int
}

func (r *recorder) Log(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recorder) Logf(format string, args ...any) { r.Log(fmt.Sprintf(format, args...)) }

func (r *recorder) Progress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) joined() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return strings.Join(r.lines, "\n")
}

func writeOutput(t *testing.T, dir string, files map[string]int) {
	t.Helper()
	for name, size := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	}
}

func testConfig(dir string) domain.DeploymentConfig {
	return domain.DeploymentConfig{
		ID:       "cfg-1",
		Name:     "Cafe CRM",
		Platform: domain.PlatformVercel,
		WorkDir:  dir,
	}
}

func shellLines(m *command.MockRunner) []string {
	var lines []string
	for _, c := range m.Calls() {
		lines = append(lines, c.Args[len(c.Args)-1])
	}
	return lines
}

// =============================================================================
// Build Tests
// =============================================================================

func TestBuild_Success(t *testing.T) {
	dir := t.TempDir()
	writeOutput(t, filepath.Join(dir, ".next"), map[string]int{"server/app.js": 100, "static/chunk.js": 50})

	runner := &command.MockRunner{}
	runner.On("sh -c npm run build", command.Result{Stdout: "Compiled successfully\n"}, nil)
	b := New(runner, Settings{VerifyOutput: true}, nil)
	rec := &recorder{}

	meta, err := b.Build(context.Background(), testConfig(dir), rec, false)
	require.NoError(t, err)

	assert.Equal(t, 2, meta.ArtifactCount)
	assert.Equal(t, int64(150), meta.TotalSize)
	assert.Equal(t, filepath.Join(dir, ".next"), meta.OutputDir)
	assert.Nil(t, meta.TypeCheckPassed)
	assert.Contains(t, rec.joined(), "$ npm run build")
	assert.Contains(t, rec.joined(), "Compiled successfully")
	assert.Equal(t, 100, rec.progress[len(rec.progress)-1])

	calls := runner.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, dir, calls[0].Dir)
}

func TestBuild_StageOrder(t *testing.T) {
	runner := &command.MockRunner{}
	b := New(runner, Settings{
		TypeCheck: StageSettings{Enabled: true},
		Tests:     StageSettings{Enabled: true},
	}, nil)
	cfg := testConfig(t.TempDir())
	cfg.InstallCommand = "npm ci"
	cfg.BuildCommand = "next build"

	_, err := b.Build(context.Background(), cfg, &recorder{}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"npm ci", "next build", DefaultTypeCheckCommand, DefaultTestCommand}, shellLines(runner))
}

func TestBuild_TestsExcluded(t *testing.T) {
	runner := &command.MockRunner{}
	b := New(runner, Settings{Tests: StageSettings{Enabled: true}}, nil)

	_, err := b.Build(context.Background(), testConfig(t.TempDir()), &recorder{}, false)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultBuildCommand}, shellLines(runner))
}

func TestBuild_BuildFails(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm run build", command.Result{ExitCode: 1, Stderr: "Type error: x is not defined\n"}, nil)
	b := New(runner, Settings{TypeCheck: StageSettings{Enabled: true}}, nil)
	rec := &recorder{}

	_, err := b.Build(context.Background(), testConfig(t.TempDir()), rec, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.Contains(t, err.Error(), "exited with code 1")
	assert.Contains(t, rec.joined(), "Type error")
	assert.Len(t, runner.Calls(), 1)
}

func TestBuild_InstallFails(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm ci", command.Result{ExitCode: 1}, nil)
	b := New(runner, Settings{}, nil)
	cfg := testConfig(t.TempDir())
	cfg.InstallCommand = "npm ci"

	_, err := b.Build(context.Background(), cfg, &recorder{}, false)
	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	assert.Len(t, runner.Calls(), 1)
}

func TestBuild_Timeout(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm run build", command.Result{ExitCode: -1},
		domain.NewPipelineError(domain.KindTimeout, "run", "", "sh did not finish within 15m0s", nil))
	b := New(runner, Settings{}, nil)

	_, err := b.Build(context.Background(), testConfig(t.TempDir()), &recorder{}, false)
	assert.ErrorIs(t, err, domain.ErrTimeout)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
}

func TestBuild_TypeCheckAdvisory(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npx tsc", command.Result{ExitCode: 2}, nil)
	b := New(runner, Settings{TypeCheck: StageSettings{Enabled: true, Fatal: false}}, nil)
	rec := &recorder{}

	meta, err := b.Build(context.Background(), testConfig(t.TempDir()), rec, false)
	require.NoError(t, err)
	require.NotNil(t, meta.TypeCheckPassed)
	assert.False(t, *meta.TypeCheckPassed)
	assert.Len(t, meta.Warnings, 1)
	assert.Contains(t, rec.joined(), "warning: type-check failed")
}

func TestBuild_TestsFatal(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm test", command.Result{ExitCode: 1}, nil)
	b := New(runner, Settings{Tests: StageSettings{Enabled: true, Fatal: true}}, nil)

	meta, err := b.Build(context.Background(), testConfig(t.TempDir()), &recorder{}, true)
	assert.ErrorIs(t, err, domain.ErrBuildFailed)
	require.NotNil(t, meta.TestsPassed)
	assert.False(t, *meta.TestsPassed)
}

func TestBuild_EmptyOutput(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "out"), 0o755))
	b := New(&command.MockRunner{}, Settings{VerifyOutput: true, OutputDir: "out"}, nil)

	_, err := b.Build(context.Background(), testConfig(dir), &recorder{}, false)
	assert.ErrorIs(t, err, domain.ErrEmptyBuildOutput)
}

func TestBuild_MissingOutputIsEmpty(t *testing.T) {
	b := New(&command.MockRunner{}, Settings{VerifyOutput: true}, nil)

	_, err := b.Build(context.Background(), testConfig(t.TempDir()), &recorder{}, false)
	assert.ErrorIs(t, err, domain.ErrEmptyBuildOutput)
}

func TestBuild_OversizeIsWarning(t *testing.T) {
	dir := t.TempDir()
	writeOutput(t, filepath.Join(dir, ".next"), map[string]int{"big.js": 4096})
	b := New(&command.MockRunner{}, Settings{VerifyOutput: true, MaxBundleSize: 1024}, nil)
	rec := &recorder{}

	meta, err := b.Build(context.Background(), testConfig(dir), rec, false)
	require.NoError(t, err)
	assert.True(t, meta.OversizeWarning)
	assert.Contains(t, rec.joined(), "exceeding the 1.0 KiB limit")
}

func TestBuild_RedactsSecrets(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm run build", command.Result{Stdout: "using token tok-secret\n"}, nil)
	b := New(runner, Settings{}, nil)
	cfg := testConfig(t.TempDir())
	cfg.Vercel.Token = "tok-secret"
	rec := &recorder{}

	_, err := b.Build(context.Background(), cfg, rec, false)
	require.NoError(t, err)
	assert.NotContains(t, rec.joined(), "tok-secret")
	assert.Contains(t, rec.joined(), "using token [redacted]")
}

func TestBuild_RedactsEnvironmentValues(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm run build", command.Result{Stdout: "connecting to postgres://u:hunter2@db/x\nNODE_ENV=production\n"}, nil)
	b := New(runner, Settings{}, nil)
	cfg := testConfig(t.TempDir())
	cfg.Environment = map[string]string{"DATABASE_URL": "postgres://u:hunter2@db/x", "CI": "1"}
	rec := &recorder{}

	_, err := b.Build(context.Background(), cfg, rec, false)
	require.NoError(t, err)
	assert.NotContains(t, rec.joined(), "hunter2")
	assert.Contains(t, rec.joined(), "connecting to [redacted]")
	assert.Contains(t, rec.joined(), "NODE_ENV=production")
}

func TestBuild_PassesEnvironment(t *testing.T) {
	runner := &command.MockRunner{}
	b := New(runner, Settings{}, nil)
	cfg := testConfig(t.TempDir())
	cfg.Environment = map[string]string{"NEXT_PUBLIC_FIREBASE_PROJECT_ID": "cafe"}

	_, err := b.Build(context.Background(), cfg, &recorder{}, false)
	require.NoError(t, err)
	assert.Equal(t, "cafe", runner.Calls()[0].Env["NEXT_PUBLIC_FIREBASE_PROJECT_ID"])
}

// =============================================================================
// RunTests Tests
// =============================================================================

func TestRunTests_Separate(t *testing.T) {
	runner := &command.MockRunner{}
	b := New(runner, Settings{Tests: StageSettings{Enabled: true, Fatal: true}}, nil)
	cfg := testConfig(t.TempDir())
	cfg.TestCommand = "npm run test:ci"
	meta := &domain.BuildMetadata{}

	require.NoError(t, b.RunTests(context.Background(), cfg, &recorder{}, meta))
	require.NotNil(t, meta.TestsPassed)
	assert.True(t, *meta.TestsPassed)
	assert.Equal(t, []string{"npm run test:ci"}, shellLines(runner))
	assert.True(t, b.TestsEnabled(cfg))
}

func TestRunTests_FailureCarriesTestsStep(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("sh -c npm test", command.Result{ExitCode: 1}, nil)
	b := New(runner, Settings{Tests: StageSettings{Enabled: true, Fatal: true}}, nil)

	err := b.RunTests(context.Background(), testConfig(t.TempDir()), &recorder{}, nil)
	var pe *domain.PipelineError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.StepTests, pe.Step)
}

// =============================================================================
// InspectOutput Tests
// =============================================================================

func TestInspectOutput(t *testing.T) {
	dir := t.TempDir()
	writeOutput(t, dir, map[string]int{"a.js": 10, "nested/b.css": 20, "nested/deeper/c.map": 30})

	files, size, err := InspectOutput(dir)
	require.NoError(t, err)
	assert.Equal(t, 3, files)
	assert.Equal(t, int64(60), size)
}

func TestInspectOutput_Missing(t *testing.T) {
	_, _, err := InspectOutput(filepath.Join(t.TempDir(), "nope"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
