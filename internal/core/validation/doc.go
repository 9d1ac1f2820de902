// Package validation provides pure evaluators for deployment preconditions.
//
// The imperative shell (internal/shell/validators) gathers raw probe output
// such as git porcelain text, the current branch name, environment lookups
// and service responses. The functions here turn that output into
// domain.ValidationResult values. All functions are pure (no I/O, no side
// effects) and take the evaluation time as a parameter.
//
// # Functions
//
//   - EvaluateGitStatus: Working tree must be clean
//   - EvaluateGitBranch: Current branch must be in the allow-list
//   - EvaluateDependencies: Manifest, lockfile and installed packages must agree
//   - EvaluateEnvironment: Required variables must be present and non-empty
//   - EvaluateServices: Required services must respond
//   - EvaluateDatabase: Connectivity probe must succeed
//
// # Usage
//
//	out, _ := runner.Run(ctx, command.Command{Name: "git", Args: []string{"status", "--porcelain"}})
//	result := validation.EvaluateGitStatus(out.Stdout, time.Now())
package validation
