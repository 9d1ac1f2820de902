package validators

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/retry"
	"github.com/artpar/cafedeploy/internal/core/validation"
	"github.com/artpar/cafedeploy/internal/shell/command"
)

// =============================================================================
// Test Helpers
// =============================================================================

type fakeProber struct {
	driver string
	err    error
	calls  atomic.Int32
	gotURL string
}

func (p *fakeProber) Probe(_ context.Context, u string) (string, error) {
	p.calls.Add(1)
	p.gotURL = u
	return p.driver, p.err
}

var fixedNow = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func allEnv() map[string]string {
	env := map[string]string{}
	for _, k := range validation.DefaultRequiredEnv {
		env[k] = "value"
	}
	env["DATABASE_URL"] = "postgres://cafe@db/cafe"
	return env
}

// projectDir creates a directory with package.json, a lockfile and node_modules.
func projectDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"cafe-crm"}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package-lock.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0o755))
	return dir
}

func cleanRunner() *command.MockRunner {
	m := &command.MockRunner{}
	m.On("git status", command.Result{}, nil).
		On("git rev-parse", command.Result{Stdout: "main\n"}, nil).
		On("npm ls", command.Result{Stdout: "cafe-crm@1.0.0\n"}, nil)
	return m
}

func newTestSet(runner command.Runner, settings Settings, prober DatabaseProber) *Set {
	return NewSet(runner, settings,
		WithDatabaseProber(prober),
		WithLookupEnv(func(string) (string, bool) { return "", false }),
		WithClock(func() time.Time { return fixedNow }),
	)
}

// =============================================================================
// RunAll Tests
// =============================================================================

func TestRunAll_AllPass(t *testing.T) {
	dir := projectDir(t)
	prober := &fakeProber{driver: "pgx"}
	set := newTestSet(cleanRunner(), Settings{WorkDir: dir}, prober)

	results := set.RunAll(context.Background(), domain.DeploymentConfig{Environment: allEnv()})

	require.Len(t, results, len(AllChecks))
	for i, r := range results {
		assert.Equal(t, AllChecks[i], r.Type)
		assert.Equal(t, domain.ValidationSuccess, r.Status, "%s: %s %v", r.Type, r.Message, r.Details)
		assert.Equal(t, fixedNow, r.Timestamp)
	}
	assert.Equal(t, "postgres://cafe@db/cafe", prober.gotURL)
}

func TestRunAll_DisallowedBranch(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("git rev-parse", command.Result{Stdout: "feature/x\n"}, nil)
	set := newTestSet(runner, Settings{WorkDir: projectDir(t)}, &fakeProber{})

	results := set.RunAll(context.Background(), domain.DeploymentConfig{Environment: allEnv()})

	fatal := domain.FatalValidations(results)
	require.Len(t, fatal, 1)
	assert.Equal(t, domain.ValidationGitBranch, fatal[0].Type)
	assert.Contains(t, fatal[0].Message, "feature/x")
}

func TestRunAll_Idempotent(t *testing.T) {
	set := newTestSet(cleanRunner(), Settings{WorkDir: projectDir(t)}, &fakeProber{driver: "pgx"})
	cfg := domain.DeploymentConfig{Environment: map[string]string{"DATABASE_URL": "postgres://db"}}

	first := set.RunAll(context.Background(), cfg)
	second := set.RunAll(context.Background(), cfg)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, first[i].Status, second[i].Status, string(first[i].Type))
	}
}

func TestRunAll_Disabled(t *testing.T) {
	set := newTestSet(cleanRunner(), Settings{
		WorkDir:  projectDir(t),
		Disabled: []domain.ValidationType{domain.ValidationDatabase, domain.ValidationServices},
	}, &fakeProber{})

	results := set.RunAll(context.Background(), domain.DeploymentConfig{Environment: allEnv()})
	assert.Len(t, results, 4)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	set := newTestSet(cleanRunner(), Settings{}, &fakeProber{})

	r := set.Run(ctx, domain.ValidationGitStatus, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
}

// =============================================================================
// Git Tests
// =============================================================================

func TestGitStatus_Dirty(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("git status", command.Result{Stdout: " M app/page.tsx\n"}, nil)
	set := newTestSet(runner, Settings{WorkDir: "/srv/cafe"}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationGitStatus, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Equal(t, "/srv/cafe", runner.Calls()[0].Dir)
}

func TestGitStatus_NotARepository(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("git status", command.Result{ExitCode: 128, Stderr: "fatal: not a git repository\n"}, nil)
	set := newTestSet(runner, Settings{}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationGitStatus, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Equal(t, []string{"fatal: not a git repository"}, r.Details)
}

func TestGitBranch_ConfigWorkDirWins(t *testing.T) {
	runner := cleanRunner()
	set := newTestSet(runner, Settings{WorkDir: "/default"}, &fakeProber{})

	set.Run(context.Background(), domain.ValidationGitBranch, domain.DeploymentConfig{WorkDir: "/override"})
	assert.Equal(t, "/override", runner.Calls()[0].Dir)
}

// =============================================================================
// Dependencies Tests
// =============================================================================

func TestDependencies_NotInstalled(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{}`), 0o644))
	runner := &command.MockRunner{}
	set := newTestSet(runner, Settings{WorkDir: dir}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationDependencies, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Empty(t, runner.Calls())
}

func TestDependencies_UsesLockfileManager(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pnpm-lock.yaml"), []byte(``), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "node_modules"), 0o755))

	runner := &command.MockRunner{}
	runner.On("pnpm ls", command.Result{ExitCode: 1, Stderr: "ERR_PNPM missing dependency zod\n"}, nil)
	set := newTestSet(runner, Settings{WorkDir: dir}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationDependencies, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Len(t, runner.CallsMatching("pnpm ls --depth=0"), 1)
}

func TestDependencies_RunnerError(t *testing.T) {
	runner := &command.MockRunner{}
	runner.On("npm ls", command.Result{}, errors.New("start npm: not found"))
	set := newTestSet(runner, Settings{WorkDir: projectDir(t)}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationDependencies, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Contains(t, r.Details[0], "not found")
}

// =============================================================================
// Environment Tests
// =============================================================================

func TestEnvironment_ProcessFallback(t *testing.T) {
	set := NewSet(&command.MockRunner{}, Settings{RequiredEnv: []string{"A", "B"}},
		WithLookupEnv(func(k string) (string, bool) {
			if k == "B" {
				return "from-process", true
			}
			return "", false
		}))

	r := set.Run(context.Background(), domain.ValidationEnvironment,
		domain.DeploymentConfig{Environment: map[string]string{"A": "override"}})
	assert.Equal(t, domain.ValidationSuccess, r.Status)
}

// =============================================================================
// Services Tests
// =============================================================================

func TestServices_RequiredDown(t *testing.T) {
	var hits atomic.Int32
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer up.Close()

	set := newTestSet(&command.MockRunner{}, Settings{
		Services: []ServiceConfig{
			{Name: "auth", URL: up.URL, Required: true},
			{Name: "payments", URL: down.URL, Required: true},
		},
		ServiceRetry: retry.Policy{MaxAttempts: 3, Interval: time.Millisecond},
	}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationServices, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Equal(t, int32(3), hits.Load())
	assert.Contains(t, strings.Join(r.Details, "\n"), "payments (required)")
}

func TestServices_OptionalDownIsWarning(t *testing.T) {
	set := newTestSet(&command.MockRunner{}, Settings{
		Services:     []ServiceConfig{{Name: "analytics", URL: "http://127.0.0.1:1/unreachable"}},
		ServiceRetry: retry.Policy{MaxAttempts: 1},
	}, &fakeProber{})

	r := set.Run(context.Background(), domain.ValidationServices, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationWarning, r.Status)
}

func TestServices_TimeoutPerAttempt(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer slow.Close()

	set := newTestSet(&command.MockRunner{}, Settings{
		Services:     []ServiceConfig{{Name: "slow", URL: slow.URL, Required: true, Timeout: 50 * time.Millisecond}},
		ServiceRetry: retry.Policy{MaxAttempts: 2},
	}, &fakeProber{})

	start := time.Now()
	r := set.Run(context.Background(), domain.ValidationServices, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Less(t, time.Since(start), time.Second)
}

// =============================================================================
// Database Tests
// =============================================================================

func TestDatabase_NotConfigured(t *testing.T) {
	prober := &fakeProber{}
	set := newTestSet(&command.MockRunner{}, Settings{}, prober)

	r := set.Run(context.Background(), domain.ValidationDatabase, domain.DeploymentConfig{})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Zero(t, prober.calls.Load())
}

func TestDatabase_ProbeFails(t *testing.T) {
	prober := &fakeProber{driver: "pgx", err: errors.New("connection refused")}
	set := newTestSet(&command.MockRunner{}, Settings{}, prober)

	r := set.Run(context.Background(), domain.ValidationDatabase,
		domain.DeploymentConfig{Environment: map[string]string{"DATABASE_URL": "postgres://db"}})
	assert.Equal(t, domain.ValidationError, r.Status)
	assert.Equal(t, []string{"connection refused"}, r.Details)
}

func TestSQLProber_SQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "probe.db")
	driver, err := NewSQLProber().Probe(context.Background(), "sqlite:"+path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", driver)
}

func TestSQLProber_Unsupported(t *testing.T) {
	_, err := NewSQLProber().Probe(context.Background(), "mongodb://db")
	assert.ErrorIs(t, err, ErrUnsupportedDatabase)
}

func TestDriverFor(t *testing.T) {
	tests := []struct {
		url        string
		wantDriver string
		wantDSN    string
	}{
		{"postgresql://u:p@db:5432/cafe?sslmode=disable", "pgx", "postgresql://u:p@db:5432/cafe?sslmode=disable"},
		{"postgres://db/cafe", "pgx", "postgres://db/cafe"},
		{"mysql://u:p@db:3307/cafe", "mysql", "u:p@tcp(db:3307)/cafe"},
		{"mysql://u@db/cafe", "mysql", "u@tcp(db:3306)/cafe"},
		{"sqlite:./dev.db", "sqlite3", "./dev.db"},
		{"sqlite:///tmp/dev.db", "sqlite3", "/tmp/dev.db"},
		{"file:./dev.db?cache=shared", "sqlite3", "file:./dev.db?cache=shared"},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			driver, dsn, err := DriverFor(tt.url)
			require.NoError(t, err)
			assert.Equal(t, tt.wantDriver, driver)
			assert.Equal(t, tt.wantDSN, dsn)
		})
	}
}
