package validation

import (
	"fmt"
	"strings"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// DefaultRequiredEnv is the fixed set of variables the application needs at
// runtime: database URL, auth secret, auth URL, Firebase API key, Firebase
// project id and AI API key.
var DefaultRequiredEnv = []string{
	"DATABASE_URL",
	"NEXTAUTH_SECRET",
	"NEXTAUTH_URL",
	"NEXT_PUBLIC_FIREBASE_API_KEY",
	"NEXT_PUBLIC_FIREBASE_PROJECT_ID",
	"OPENAI_API_KEY",
}

// LookupFunc resolves an environment variable.
type LookupFunc func(key string) (string, bool)

// Overlay returns a lookup that consults overrides before fallback.
func Overlay(overrides map[string]string, fallback LookupFunc) LookupFunc {
	return func(key string) (string, bool) {
		if v, ok := overrides[key]; ok {
			return v, true
		}
		if fallback == nil {
			return "", false
		}
		return fallback(key)
	}
}

// EvaluateEnvironment checks that every required variable is present and
// non-empty. An empty required list means DefaultRequiredEnv.
func EvaluateEnvironment(required []string, lookup LookupFunc, now time.Time) domain.ValidationResult {
	if len(required) == 0 {
		required = DefaultRequiredEnv
	}

	var missing []string
	for _, key := range required {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			missing = append(missing, key)
		}
	}

	if len(missing) > 0 {
		return domain.NewValidationResult(domain.ValidationEnvironment, domain.ValidationError,
			fmt.Sprintf("%d required environment variable(s) missing", len(missing)), now, missing...)
	}
	return domain.NewValidationResult(domain.ValidationEnvironment, domain.ValidationSuccess,
		fmt.Sprintf("all %d required environment variables set", len(required)), now)
}
