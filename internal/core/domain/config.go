package domain

import (
	"fmt"
	"maps"
	"net/url"
	"slices"
)

// =============================================================================
// Deployment Config
// =============================================================================

// VercelSettings holds Vercel credentials and project linkage.
type VercelSettings struct {
	Token     string `json:"token,omitempty" yaml:"token"`
	ProjectID string `json:"project_id,omitempty" yaml:"project_id"`
	OrgID     string `json:"org_id,omitempty" yaml:"org_id"`
	Scope     string `json:"scope,omitempty" yaml:"scope"`
	Preview   bool   `json:"preview,omitempty" yaml:"preview"` // Deploy without --prod
}

// NetlifySettings holds Netlify credentials and site linkage.
type NetlifySettings struct {
	Token      string      `json:"token,omitempty" yaml:"token"`
	SiteID     string      `json:"site_id,omitempty" yaml:"site_id"`
	Mode       NetlifyMode `json:"mode,omitempty" yaml:"mode"`
	APIBaseURL string      `json:"api_base_url,omitempty" yaml:"api_base_url"`
	Draft      bool        `json:"draft,omitempty" yaml:"draft"` // Deploy without --prod
}

// ManualSettings configures the no-op platform.
type ManualSettings struct {
	URL string `json:"url,omitempty" yaml:"url"`
}

// DeploymentConfig describes one deployment target. It is owned by the caller
// and must not be mutated once a run has started.
type DeploymentConfig struct {
	ID       string          `json:"id" yaml:"id"`
	Name     string          `json:"name" yaml:"name"`
	Platform HostingPlatform `json:"platform" yaml:"platform"`

	Vercel  VercelSettings  `json:"vercel,omitempty" yaml:"vercel"`
	Netlify NetlifySettings `json:"netlify,omitempty" yaml:"netlify"`
	Manual  ManualSettings  `json:"manual,omitempty" yaml:"manual"`

	// Environment holds variable overrides passed to every command and
	// consulted before the process environment during validation.
	Environment map[string]string `json:"environment,omitempty" yaml:"environment"`

	WorkDir          string `json:"work_dir,omitempty" yaml:"work_dir"`
	InstallCommand   string `json:"install_command,omitempty" yaml:"install_command"`
	BuildCommand     string `json:"build_command,omitempty" yaml:"build_command"`
	OutputDirectory  string `json:"output_directory,omitempty" yaml:"output_directory"`
	TypeCheckCommand string `json:"typecheck_command,omitempty" yaml:"typecheck_command"`
	TestCommand      string `json:"test_command,omitempty" yaml:"test_command"`

	// AutoRollback is recorded and surfaced when critical health checks
	// fail. The pipeline itself never redeploys a previous version.
	AutoRollback bool `json:"auto_rollback,omitempty" yaml:"auto_rollback"`
}

// Validate checks that the config can be run.
func (c DeploymentConfig) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidConfig)
	}
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidConfig)
	}
	if !c.Platform.Valid() {
		return fmt.Errorf("%w: unsupported platform %q", ErrInvalidConfig, c.Platform)
	}
	if c.Platform == PlatformNetlify {
		switch c.Netlify.Mode {
		case "", NetlifyModeCLI:
		case NetlifyModeAPI:
			if c.Netlify.Token == "" || c.Netlify.SiteID == "" {
				return fmt.Errorf("%w: netlify api mode requires token and site_id", ErrInvalidConfig)
			}
		default:
			return fmt.Errorf("%w: unsupported netlify mode %q", ErrInvalidConfig, c.Netlify.Mode)
		}
	}
	return nil
}

// Clone returns a deep copy of the config.
func (c DeploymentConfig) Clone() DeploymentConfig {
	c.Environment = maps.Clone(c.Environment)
	return c
}

// Redacted returns a copy with credentials and environment values masked,
// suitable for snapshots and stored records.
func (c DeploymentConfig) Redacted() DeploymentConfig {
	out := c.Clone()
	if out.Vercel.Token != "" {
		out.Vercel.Token = redactedValue
	}
	if out.Netlify.Token != "" {
		out.Netlify.Token = redactedValue
	}
	for k := range out.Environment {
		out.Environment[k] = redactedValue
	}
	return out
}

// Secrets returns the credential values that must never appear in logs.
func (c DeploymentConfig) Secrets() []string {
	var secrets []string
	if c.Vercel.Token != "" {
		secrets = append(secrets, c.Vercel.Token)
	}
	if c.Netlify.Token != "" {
		secrets = append(secrets, c.Netlify.Token)
	}
	return secrets
}

// SensitiveValues returns Secrets plus every environment value long enough
// to mask safely in free-form output. Plain http(s) URLs without
// credentials are public and are left visible.
func (c DeploymentConfig) SensitiveValues() []string {
	values := c.Secrets()
	for _, k := range slices.Sorted(maps.Keys(c.Environment)) {
		v := c.Environment[k]
		if len(v) < minSensitiveLen || isPublicURL(v) {
			continue
		}
		values = append(values, v)
	}
	return values
}

func isPublicURL(v string) bool {
	u, err := url.Parse(v)
	if err != nil || u.User != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.RawQuery == ""
}

// Shorter values such as "1" or "true" would mask unrelated output.
const minSensitiveLen = 6

const redactedValue = "[redacted]"
