package deployment

import (
	"slices"
	"sort"
	"strings"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// CLI Argument Planning
// =============================================================================

// VercelArgs plans `vercel deploy` for cfg. Environment overrides are passed
// as runtime env (-e) and build env (-b), sorted by key.
//
// Example:
//
//	VercelArgs(cfg) // returns ["deploy", "--yes", "--prod", "--token", "..."]
func VercelArgs(cfg domain.DeploymentConfig) []string {
	args := []string{"deploy", "--yes"}
	if !cfg.Vercel.Preview {
		args = append(args, "--prod")
	}
	if cfg.Vercel.Token != "" {
		args = append(args, "--token", cfg.Vercel.Token)
	}
	if cfg.Vercel.Scope != "" {
		args = append(args, "--scope", cfg.Vercel.Scope)
	}
	for _, k := range sortedKeys(cfg.Environment) {
		pair := k + "=" + cfg.Environment[k]
		args = append(args, "-e", pair, "-b", pair)
	}
	return args
}

// VercelEnv returns the process environment for the Vercel CLI. Project
// linkage is passed this way so no .vercel directory is needed.
func VercelEnv(cfg domain.DeploymentConfig) map[string]string {
	env := map[string]string{}
	if cfg.Vercel.OrgID != "" {
		env["VERCEL_ORG_ID"] = cfg.Vercel.OrgID
	}
	if cfg.Vercel.ProjectID != "" {
		env["VERCEL_PROJECT_ID"] = cfg.Vercel.ProjectID
	}
	return env
}

// NetlifyArgs plans `netlify deploy` publishing dir.
func NetlifyArgs(cfg domain.DeploymentConfig, dir string) []string {
	args := []string{"deploy", "--dir", dir, "--json"}
	if !cfg.Netlify.Draft {
		args = append(args, "--prod")
	}
	if cfg.Netlify.SiteID != "" {
		args = append(args, "--site", cfg.Netlify.SiteID)
	}
	if cfg.Netlify.Token != "" {
		args = append(args, "--auth", cfg.Netlify.Token)
	}
	return args
}

// RedactArgs returns a copy of args safe to log. Secrets are matched
// against whole argument values, never substrings, so flag names survive.
// Values after a credential flag and the value half of every env pair are
// masked even when not listed.
func RedactArgs(args []string, secrets []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		prev := ""
		if i > 0 {
			prev = args[i-1]
		}
		switch {
		case credentialFlags[prev]:
			out[i] = redacted
		case envFlags[prev]:
			out[i] = redactPair(a)
		case slices.Contains(secrets, a):
			out[i] = redacted
		default:
			out[i] = redactInlineFlag(a, secrets)
		}
	}
	return out
}

const redacted = "[redacted]"

var (
	credentialFlags = map[string]bool{"--token": true, "--auth": true}
	envFlags        = map[string]bool{"-e": true, "-b": true, "--env": true, "--build-env": true}
)

// redactPair masks the value of KEY=VALUE, or the whole argument when it
// has no key.
func redactPair(a string) string {
	k, _, ok := strings.Cut(a, "=")
	if !ok {
		return redacted
	}
	return k + "=" + redacted
}

// redactInlineFlag handles the --flag=value form.
func redactInlineFlag(a string, secrets []string) string {
	flag, value, ok := strings.Cut(a, "=")
	if !ok || !strings.HasPrefix(flag, "-") {
		return a
	}
	switch {
	case envFlags[flag]:
		return flag + "=" + redactPair(value)
	case credentialFlags[flag], slices.Contains(secrets, value):
		return flag + "=" + redacted
	}
	return a
}

// RedactLine masks every occurrence of a secret in free-form output.
func RedactLine(line string, secrets []string) string {
	for _, s := range secrets {
		if s != "" {
			line = strings.ReplaceAll(line, s, redacted)
		}
	}
	return line
}

// CommandLine renders a command for logs.
func CommandLine(name string, args []string) string {
	return strings.Join(slices.Insert(slices.Clone(args), 0, name), " ")
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
