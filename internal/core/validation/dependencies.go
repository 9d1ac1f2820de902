package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// Lockfiles maps each lockfile name to its package manager, in detection order.
var Lockfiles = []struct {
	Name    string
	Manager string
}{
	{"pnpm-lock.yaml", "pnpm"},
	{"yarn.lock", "yarn"},
	{"package-lock.json", "npm"},
	{"bun.lockb", "bun"},
}

// DependencyProbe is the raw state gathered from the project directory.
type DependencyProbe struct {
	HasManifest      bool   // package.json exists
	Lockfile         string // Detected lockfile name, empty if none
	ModulesInstalled bool   // node_modules exists
	ListRan          bool   // `<pm> ls` was executed
	ListExitCode     int
	ListOutput       string
}

// ManagerFor returns the package manager for a lockfile name, npm by default.
func ManagerFor(lockfile string) string {
	for _, l := range Lockfiles {
		if l.Name == lockfile {
			return l.Manager
		}
	}
	return "npm"
}

// EvaluateDependencies checks that installed packages are consistent with
// the manifest.
func EvaluateDependencies(p DependencyProbe, now time.Time) domain.ValidationResult {
	if !p.HasManifest {
		return domain.NewValidationResult(domain.ValidationDependencies, domain.ValidationError,
			"package.json not found", now)
	}
	if !p.ModulesInstalled {
		return domain.NewValidationResult(domain.ValidationDependencies, domain.ValidationError,
			"dependencies are not installed", now,
			fmt.Sprintf("run %s install", ManagerFor(p.Lockfile)))
	}
	if p.ListRan && p.ListExitCode != 0 {
		problems := dependencyProblems(p.ListOutput)
		if len(problems) == 0 {
			problems = []string{fmt.Sprintf("%s ls exited with code %d", ManagerFor(p.Lockfile), p.ListExitCode)}
		}
		return domain.NewValidationResult(domain.ValidationDependencies, domain.ValidationError,
			"installed packages do not match the manifest", now, capDetails(problems)...)
	}
	if p.Lockfile == "" {
		return domain.NewValidationResult(domain.ValidationDependencies, domain.ValidationWarning,
			"no lockfile found, installs are not reproducible", now)
	}
	return domain.NewValidationResult(domain.ValidationDependencies, domain.ValidationSuccess,
		fmt.Sprintf("dependencies installed (%s)", p.Lockfile), now)
}

// dependencyProblems picks the lines of package-manager output that name
// missing or invalid packages.
func dependencyProblems(output string) []string {
	var problems []string
	for _, line := range nonEmptyLines(output) {
		lower := strings.ToLower(line)
		if strings.Contains(lower, "missing") || strings.Contains(lower, "unmet") ||
			strings.Contains(lower, "invalid") || strings.Contains(lower, "err!") {
			problems = append(problems, strings.TrimSpace(line))
		}
	}
	return problems
}
