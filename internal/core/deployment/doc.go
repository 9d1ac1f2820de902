// Package deployment provides pure functions for deployment planning.
//
// This package contains the functional core logic the shell needs around
// platform deploys: CLI argument planning, URL extraction from provider
// output, overall progress mapping and build output evaluation. All
// functions are pure (no I/O, no side effects).
//
// # Functions
//
//   - Arguments: Plan platform CLI invocations (VercelArgs, NetlifyArgs, RedactArgs)
//   - URLs: Extract the deployment URL with a placeholder fallback (ResolveURL)
//   - Progress: Map phase-local progress onto the run (OverallProgress)
//   - Bundle: Judge build output size and emptiness (EvaluateBundle)
//
// # Usage
//
// The imperative shell (internal/shell/provider) plans a command, runs it
// through the command runner, then resolves the URL from its output.
//
//	args := deployment.VercelArgs(cfg)
//	res, _ := runner.Run(ctx, command.Command{Name: "vercel", Args: args})
//	url, fallback := deployment.ResolveURL(cfg, res.Stdout)
package deployment
