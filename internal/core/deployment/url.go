package deployment

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// URL Extraction
// =============================================================================

var urlPattern = regexp.MustCompile(`https://[A-Za-z0-9][A-Za-z0-9.\-]*[A-Za-z0-9](?::\d+)?(?:/[^\s"'<>]*)?`)

// platformHosts is the hostname suffix each platform serves deployments under.
var platformHosts = map[domain.HostingPlatform]string{
	domain.PlatformVercel:  ".vercel.app",
	domain.PlatformNetlify: ".netlify.app",
}

// ExtractURL finds the deployment URL in CLI output. A URL on the
// platform's own domain wins, the last such URL when there are several,
// since both CLIs print inspection links before the final address.
func ExtractURL(platform domain.HostingPlatform, output string) (string, bool) {
	if platform == domain.PlatformNetlify {
		if u, ok := ParseNetlifyJSON(output); ok {
			return u, true
		}
	}

	matches := urlPattern.FindAllString(output, -1)
	if len(matches) == 0 {
		return "", false
	}

	if suffix, ok := platformHosts[platform]; ok {
		for i := len(matches) - 1; i >= 0; i-- {
			if hostOf(matches[i]) != "" && strings.HasSuffix(hostOf(matches[i]), suffix) {
				return strings.TrimRight(matches[i], ".,;)"), true
			}
		}
	}
	return strings.TrimRight(matches[len(matches)-1], ".,;)"), true
}

// netlifyDeployOutput is the subset of `netlify deploy --json` and of the
// deploys API response that carries URLs.
type netlifyDeployOutput struct {
	DeployURL string `json:"deploy_url"`
	URL       string `json:"url"`
	SSLURL    string `json:"ssl_url"`
	DeployID  string `json:"deploy_id"`
	ID        string `json:"id"`
}

// ParseNetlifyJSON reads the URL from Netlify JSON output. Production URLs
// win over per-deploy URLs. Leading non-JSON noise is skipped.
func ParseNetlifyJSON(output string) (string, bool) {
	start := strings.Index(output, "{")
	end := strings.LastIndex(output, "}")
	if start < 0 || end < start {
		return "", false
	}

	var out netlifyDeployOutput
	if err := json.Unmarshal([]byte(output[start:end+1]), &out); err != nil {
		return "", false
	}
	for _, u := range []string{out.SSLURL, out.URL, out.DeployURL} {
		if strings.HasPrefix(u, "https://") {
			return u, true
		}
	}
	for _, u := range []string{out.URL, out.DeployURL} {
		if strings.HasPrefix(u, "http://") {
			return "https://" + strings.TrimPrefix(u, "http://"), true
		}
	}
	return "", false
}

// PlaceholderURL is the address assumed when provider output cannot be
// parsed.
//
// Example:
//
//	PlaceholderURL(domain.PlatformVercel, "Cafe CRM") // returns "https://cafe-crm.vercel.app"
func PlaceholderURL(platform domain.HostingPlatform, name string) string {
	suffix, ok := platformHosts[platform]
	if !ok {
		suffix = ".example.com"
	}
	return "https://" + domain.Slugify(name) + suffix
}

// ResolveURL returns the deployment URL for cfg given provider output. The
// second result is true when the placeholder was used.
func ResolveURL(cfg domain.DeploymentConfig, output string) (string, bool) {
	if cfg.Platform == domain.PlatformManual {
		if cfg.Manual.URL != "" {
			return cfg.Manual.URL, false
		}
		return PlaceholderURL(cfg.Platform, cfg.Name), true
	}
	if u, ok := ExtractURL(cfg.Platform, output); ok {
		return u, false
	}
	return PlaceholderURL(cfg.Platform, cfg.Name), true
}

func hostOf(u string) string {
	rest := strings.TrimPrefix(u, "https://")
	if i := strings.IndexAny(rest, "/:"); i >= 0 {
		rest = rest[:i]
	}
	return strings.ToLower(rest)
}
