package validation

import (
	"fmt"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
)

// DatabaseOutcome is the result of a connectivity probe.
type DatabaseOutcome struct {
	Configured bool // A database URL was available
	Driver     string
	Latency    time.Duration
	Err        error
}

// EvaluateDatabase turns a connectivity probe into a result.
func EvaluateDatabase(o DatabaseOutcome, now time.Time) domain.ValidationResult {
	if !o.Configured {
		return domain.NewValidationResult(domain.ValidationDatabase, domain.ValidationError,
			"DATABASE_URL is not set", now)
	}
	if o.Err != nil {
		return domain.NewValidationResult(domain.ValidationDatabase, domain.ValidationError,
			"database connectivity probe failed", now, o.Err.Error())
	}
	return domain.NewValidationResult(domain.ValidationDatabase, domain.ValidationSuccess,
		fmt.Sprintf("database reachable via %s in %s", o.Driver, o.Latency.Round(time.Millisecond)), now)
}
