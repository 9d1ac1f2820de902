package validation

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// DefaultAllowedBranches is used when no allow-list is configured.
var DefaultAllowedBranches = []string{"main", "master", "production"}

// maxDetails caps the number of detail lines on a result.
const maxDetails = 20

// EvaluateGitStatus checks `git status --porcelain` output for uncommitted changes.
func EvaluateGitStatus(porcelain string, now time.Time) domain.ValidationResult {
	changes := nonEmptyLines(porcelain)
	if len(changes) == 0 {
		return domain.NewValidationResult(domain.ValidationGitStatus, domain.ValidationSuccess,
			"working tree is clean", now)
	}
	return domain.NewValidationResult(domain.ValidationGitStatus, domain.ValidationError,
		fmt.Sprintf("working tree has %d uncommitted change(s)", len(changes)), now,
		capDetails(changes)...)
}

// EvaluateGitBranch checks the current branch against allowed. An empty
// allow-list means DefaultAllowedBranches.
func EvaluateGitBranch(branch string, allowed []string, now time.Time) domain.ValidationResult {
	branch = strings.TrimSpace(branch)
	if len(allowed) == 0 {
		allowed = DefaultAllowedBranches
	}

	switch {
	case branch == "":
		return domain.NewValidationResult(domain.ValidationGitBranch, domain.ValidationError,
			"unable to determine current branch", now)
	case branch == "HEAD":
		return domain.NewValidationResult(domain.ValidationGitBranch, domain.ValidationError,
			"repository is in detached HEAD state", now,
			"allowed branches: "+strings.Join(allowed, ", "))
	case slices.Contains(allowed, branch):
		return domain.NewValidationResult(domain.ValidationGitBranch, domain.ValidationSuccess,
			fmt.Sprintf("branch %s is allowed", branch), now)
	default:
		return domain.NewValidationResult(domain.ValidationGitBranch, domain.ValidationError,
			fmt.Sprintf("branch %s is not in the allowed list", branch), now,
			"allowed branches: "+strings.Join(allowed, ", "))
	}
}

func nonEmptyLines(s string) []string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			lines = append(lines, strings.TrimRight(line, "\r"))
		}
	}
	return lines
}

func capDetails(lines []string) []string {
	if len(lines) <= maxDetails {
		return lines
	}
	out := append([]string(nil), lines[:maxDetails]...)
	return append(out, fmt.Sprintf("... and %d more", len(lines)-maxDetails))
}
