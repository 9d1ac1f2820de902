// Package domain contains the core data model of the deployment pipeline.
package domain

import (
	"fmt"
	"strings"
)

// =============================================================================
// Hosting Platform
// =============================================================================

// HostingPlatform is the provider that ultimately serves the built artifact.
type HostingPlatform string

const (
	PlatformVercel  HostingPlatform = "vercel"
	PlatformNetlify HostingPlatform = "netlify"
	PlatformManual  HostingPlatform = "manual"
)

// Platforms lists every supported platform.
var Platforms = []HostingPlatform{PlatformVercel, PlatformNetlify, PlatformManual}

// Valid reports whether p is a supported platform.
func (p HostingPlatform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePlatform parses a platform name, case-insensitively.
func ParsePlatform(s string) (HostingPlatform, error) {
	p := HostingPlatform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("%w: unsupported platform %q", ErrInvalidConfig, s)
	}
	return p, nil
}

// NetlifyMode selects how deploys reach Netlify.
type NetlifyMode string

const (
	NetlifyModeCLI NetlifyMode = "cli"
	NetlifyModeAPI NetlifyMode = "api"
)
