package deployment

import "github.com/artpar/cafedeploy/internal/core/domain"

// =============================================================================
// Overall Progress
// =============================================================================

// phaseRange is the slice of overall progress a phase occupies.
type phaseRange struct {
	from, to int
}

var phaseRanges = map[string]phaseRange{
	PhaseValidation:         {0, 20},
	domain.StepBuild:        {20, 55},
	domain.StepTests:        {55, 60},
	domain.StepDeploy:       {60, 85},
	domain.StepHealthChecks: {85, 100},
}

// PhaseValidation names the validation phase, which has no step.
const PhaseValidation = "validation"

// OverallProgress maps a phase-local percentage onto 0-100 for the run.
// Unknown phases report 0.
func OverallProgress(phase string, percent int) int {
	r, ok := phaseRanges[phase]
	if !ok {
		return 0
	}
	percent = min(max(percent, 0), 100)
	return r.from + (r.to-r.from)*percent/100
}

// ValidationProgress maps completed validations onto the validation phase.
func ValidationProgress(done, total int) int {
	if total <= 0 {
		return OverallProgress(PhaseValidation, 100)
	}
	return OverallProgress(PhaseValidation, done*100/total)
}
