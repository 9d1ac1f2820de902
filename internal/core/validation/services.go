package validation

import (
	"fmt"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// ServiceOutcome is the result of probing one external service.
type ServiceOutcome struct {
	Name      string
	URL       string
	Required  bool
	Reachable bool
	Status    int
	Attempts  int
	Latency   time.Duration
	Error     string
}

// ReachableStatus reports whether an HTTP status means the service is up.
// Anything below 500 counts: auth walls and 404s still prove reachability.
func ReachableStatus(code int) bool {
	return code > 0 && code < 500
}

// EvaluateServices folds probe outcomes into one result. A failing required
// service is an error, a failing optional one a warning.
func EvaluateServices(outcomes []ServiceOutcome, now time.Time) domain.ValidationResult {
	if len(outcomes) == 0 {
		return domain.NewValidationResult(domain.ValidationServices, domain.ValidationSuccess,
			"no external services configured", now)
	}

	var details []string
	requiredDown, optionalDown := 0, 0
	for _, o := range outcomes {
		if o.Reachable {
			details = append(details, fmt.Sprintf("%s: reachable (%d) in %s", o.Name, o.Status, o.Latency.Round(time.Millisecond)))
			continue
		}
		reason := o.Error
		if reason == "" {
			reason = fmt.Sprintf("status %d", o.Status)
		}
		kind := "optional"
		if o.Required {
			kind = "required"
			requiredDown++
		} else {
			optionalDown++
		}
		details = append(details, fmt.Sprintf("%s (%s): unreachable after %d attempt(s): %s", o.Name, kind, o.Attempts, reason))
	}

	switch {
	case requiredDown > 0:
		return domain.NewValidationResult(domain.ValidationServices, domain.ValidationError,
			fmt.Sprintf("%d required service(s) unreachable", requiredDown), now, details...)
	case optionalDown > 0:
		return domain.NewValidationResult(domain.ValidationServices, domain.ValidationWarning,
			fmt.Sprintf("%d optional service(s) unreachable", optionalDown), now, details...)
	default:
		return domain.NewValidationResult(domain.ValidationServices, domain.ValidationSuccess,
			fmt.Sprintf("all %d service(s) reachable", len(outcomes)), now, details...)
	}
}
