package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"slices"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/core/monitoring"
	"github.com/artpar/cafedeploy/internal/shell/healthcheck"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
	"github.com/artpar/cafedeploy/internal/shell/store"
	"github.com/artpar/cafedeploy/internal/shell/validators"
	"github.com/artpar/cafedeploy/internal/shell/workers"
)

// =============================================================================
// deploy
// =============================================================================

func cmdDeploy(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	jobPath := fs.String("job", "", "Path to a job file describing the deployment")
	name := fs.String("name", "", "Deployment name (without -job)")
	platform := fs.String("platform", "", "Hosting platform: vercel, netlify or manual (without -job)")
	manualURL := fs.String("url", "", "Live URL for the manual platform")
	workDir := fs.String("workdir", "", "Project directory")
	skip := fs.String("skip", "", "Comma-separated validations to skip")
	noHealth := fs.Bool("no-health", false, "Skip post-deploy health checks")
	typeCheck := fs.Bool("typecheck", false, "Run the type-check stage")
	tests := fs.Bool("tests", false, "Run the test stage")
	separateTests := fs.Bool("separate-tests", false, "Run tests as their own step")
	noHistory := fs.Bool("no-history", false, "Do not record the run in the history store")
	asJSON := fs.Bool("json", false, "Print the final record as JSON instead of progress lines")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	job, err := deployTarget(*jobPath, *name, *platform, *manualURL)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	if *workDir != "" {
		job.WorkDir = *workDir
	}

	skipped, err := parseChecks(*skip)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	// Progress lines go to stdout, so structured logs go to stderr.
	logger := newLogger(cfg, stderr)

	var st store.Store
	if !*noHistory {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.DSN), 0o755); err != nil {
			fmt.Fprintf(stderr, "database error: %v\n", err)
			return ExitDatabaseError
		}
		s, err := store.NewSQLiteStore(cfg.Database.DSN)
		if err != nil {
			fmt.Fprintf(stderr, "database error: %v\n", err)
			return ExitDatabaseError
		}
		defer s.Close()
		st = s
	}

	p := newPipeline(cfg, pipelineOverrides{
		Skip:          skipped,
		DisableHealth: *noHealth,
		SeparateTests: *separateTests,
		RunTests:      *tests,
		RunTypeCheck:  *typeCheck,
	}, nil, logger)

	observers := orchestrator.Observers{orchestrator.LogObserver{Logger: logger}}
	if !*asJSON {
		observers = append(observers, newConsole(stdout).Observer())
	}

	run, err := p.orchestrator.Start(context.Background(), job, observers)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	record(st, run.Record(), logger.Error, true)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(stderr, "cancelling deployment...")
			run.Cancel()
		case <-run.Done():
		}
	}()

	_, runErr := run.Wait()
	final := run.Record()
	record(st, final, logger.Error, false)

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(final)
	}

	return exitCodeFor(runErr)
}

// deployTarget resolves the config to deploy from a job file or flags.
func deployTarget(jobPath, name, platform, manualURL string) (domain.DeploymentConfig, error) {
	if jobPath != "" {
		return LoadJob(jobPath)
	}
	if name == "" {
		return domain.DeploymentConfig{}, fmt.Errorf("%w: -job or -name is required", domain.ErrInvalidConfig)
	}
	if platform == "" {
		platform = string(domain.PlatformManual)
	}
	p, err := domain.ParsePlatform(platform)
	if err != nil {
		return domain.DeploymentConfig{}, err
	}
	cfg := domain.DeploymentConfig{
		ID:       domain.Slugify(name),
		Name:     name,
		Platform: p,
		Manual:   domain.ManualSettings{URL: manualURL},
	}
	return cfg, cfg.Validate()
}

// parseChecks parses a comma-separated list of validation names.
func parseChecks(list string) ([]domain.ValidationType, error) {
	var out []domain.ValidationType
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		t := domain.ValidationType(name)
		if !slices.Contains(validators.AllChecks, t) {
			return nil, fmt.Errorf("%w: unknown validation %q", domain.ErrInvalidConfig, name)
		}
		out = append(out, t)
	}
	return out, nil
}

// record writes rec to st. create selects insert over update.
func record(st store.Store, rec domain.DeploymentLog, logErr func(string, ...any), create bool) {
	if st == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if create {
		err = st.CreateDeploymentLog(ctx, &rec)
	} else {
		err = st.UpdateDeploymentLog(ctx, &rec)
		if errors.Is(err, store.ErrNotFound) {
			err = st.CreateDeploymentLog(ctx, &rec)
		}
	}
	if err != nil {
		logErr("failed to record deployment", "deployment_id", rec.ID, "error", err)
	}
}

// exitCodeFor maps a run's terminal error to a process exit code.
func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return ExitSuccess
	case domain.KindOf(err) == domain.KindCancelled:
		return ExitCancelled
	default:
		return ExitDeployFailed
	}
}

// =============================================================================
// history
// =============================================================================

func cmdHistory(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	limit := fs.Int("limit", 20, "Maximum number of records")
	configID := fs.String("config-id", "", "Only show deployments of this config")
	status := fs.String("status", "", "Only show deployments with this status")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}

	st, err := store.NewSQLiteStore(cfg.Database.DSN)
	if err != nil {
		fmt.Fprintf(stderr, "database error: %v\n", err)
		return ExitDatabaseError
	}
	defer st.Close()

	ctx := context.Background()

	// A single ID prints the full record.
	if fs.NArg() > 0 {
		rec, err := st.GetDeploymentLog(ctx, fs.Arg(0))
		if errors.Is(err, store.ErrNotFound) {
			fmt.Fprintf(stderr, "deployment %s not found\n", fs.Arg(0))
			return ExitConfigError
		}
		if err != nil {
			fmt.Fprintf(stderr, "database error: %v\n", err)
			return ExitDatabaseError
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		enc.Encode(rec)
		return ExitSuccess
	}

	opts := store.ListOptions{Limit: *limit, Status: domain.DeploymentStatus(*status)}
	var records []domain.DeploymentLog
	if *configID != "" {
		records, err = st.ListDeploymentLogsByConfig(ctx, *configID, opts)
	} else {
		records, err = st.ListDeploymentLogs(ctx, opts)
	}
	if err != nil {
		fmt.Fprintf(stderr, "database error: %v\n", err)
		return ExitDatabaseError
	}

	printHistory(stdout, records)
	return ExitSuccess
}

func printHistory(w io.Writer, records []domain.DeploymentLog) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCONFIG\tPLATFORM\tSTATUS\tSTARTED\tDURATION\tURL")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID,
			r.ConfigID,
			r.Platform,
			r.Status,
			r.StartTime.Local().Format(time.DateTime),
			r.Duration.Round(time.Second),
			r.URL,
		)
	}
	tw.Flush()
}

// =============================================================================
// monitor
// =============================================================================

func cmdMonitor(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("monitor", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to config file")
	target := fs.String("url", "", "Base URL of the deployment to watch")
	path := fs.String("path", "", "Path to check (default: monitor.path)")
	interval := fs.Duration("interval", 0, "Time between checks (default: monitor.interval)")
	expectStatus := fs.Int("expect-status", 0, "Expected HTTP status (default 200)")
	expectContent := fs.String("expect-content", "", "Substring the response body must contain")
	once := fs.Bool("once", false, "Check once and exit")
	if err := fs.Parse(args); err != nil {
		return ExitConfigError
	}
	if *target == "" {
		fmt.Fprintln(stderr, "configuration error: -url is required")
		return ExitConfigError
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return ExitConfigError
	}
	logger := newLogger(cfg, stderr)

	if *path == "" {
		*path = cfg.Monitor.Path
	}
	if *interval == 0 {
		*interval = cfg.Monitor.Interval
	}

	check := monitoring.ChecksForPaths(*target, []string{*path}, cfg.Pipeline.Health.Policy())[0]
	if *expectStatus != 0 {
		check.ExpectedStatus = *expectStatus
	}
	if *expectContent != "" {
		check.ExpectedContent = *expectContent
	}

	checker := healthcheck.New(nil, logger)
	monitor := workers.NewHealthMonitor(checker, workers.HealthMonitorConfig{
		Check:    check,
		Interval: *interval,
	}, func(t workers.Transition) {
		fmt.Fprintln(stdout, t.Message)
	}, logger)

	if *once {
		ctx, cancel := context.WithTimeout(context.Background(), monitoring.PolicyFor(check).MaxElapsed()+time.Second)
		defer cancel()
		if r := monitor.CheckNow(ctx); !r.Success {
			return ExitDeployFailed
		}
		return ExitSuccess
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Fprintf(stdout, "monitoring %s every %s\n", check.URL, *interval)
	monitor.Start()
	<-sigCh
	monitor.Stop()

	if monitor.State() == domain.HealthUnhealthy {
		return ExitDeployFailed
	}
	return ExitSuccess
}
