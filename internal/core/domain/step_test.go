package domain

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// =============================================================================
// Step Lifecycle Tests
// =============================================================================

func TestStep_Lifecycle(t *testing.T) {
	step := NewStep(StepBuild, "Build", "Run the production build")
	assert.Equal(t, StepPending, step.Status)

	require.NoError(t, step.Start(testNow))
	assert.True(t, step.AppendLog("npm run build"))
	assert.True(t, step.SetProgress(40))

	require.NoError(t, step.Finish(StepSuccess, testNow.Add(3*time.Second)))
	assert.Equal(t, StepSuccess, step.Status)
	assert.Equal(t, 3*time.Second, step.Duration)
	assert.Equal(t, 100, step.Progress)
	assert.Equal(t, []string{"npm run build"}, step.Logs)
}

func TestStep_Finish_ErrorKeepsProgress(t *testing.T) {
	step := NewStep(StepDeploy, "Deploy", "")
	require.NoError(t, step.Start(testNow))
	step.SetProgress(30)

	require.NoError(t, step.Finish(StepError, testNow.Add(time.Second)))
	assert.Equal(t, 30, step.Progress)
}

func TestStep_Finish_NonTerminalRejected(t *testing.T) {
	step := NewStep(StepDeploy, "Deploy", "")
	require.NoError(t, step.Start(testNow))

	err := step.Finish(StepRunning, testNow)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestStep_Finish_ClampsEndTime(t *testing.T) {
	step := NewStep(StepDeploy, "Deploy", "")
	require.NoError(t, step.Start(testNow))

	require.NoError(t, step.Finish(StepSuccess, testNow.Add(-time.Minute)))
	assert.False(t, step.EndTime.Before(*step.StartTime))
	assert.Zero(t, step.Duration)
}

func TestStep_TerminalIsFinal(t *testing.T) {
	step := NewStep(StepBuild, "Build", "")
	require.NoError(t, step.Start(testNow))
	require.NoError(t, step.Finish(StepError, testNow))

	assert.ErrorIs(t, step.Start(testNow), ErrInvalidTransition)
	assert.ErrorIs(t, step.Finish(StepSuccess, testNow), ErrInvalidTransition)
	assert.False(t, step.AppendLog("late line"))
	assert.False(t, step.SetProgress(90))
}

func TestStep_SkipFromPending(t *testing.T) {
	step := NewStep(StepTests, "Tests", "")
	require.NoError(t, step.Finish(StepSkipped, testNow))
	assert.Nil(t, step.StartTime)
	assert.NotNil(t, step.EndTime)
}

func TestStep_SetProgress_Clamps(t *testing.T) {
	step := NewStep(StepBuild, "Build", "")
	require.NoError(t, step.Start(testNow))

	assert.True(t, step.SetProgress(250))
	assert.Equal(t, 100, step.Progress)
	assert.False(t, step.SetProgress(-5))
}

func TestStep_Clone_Independent(t *testing.T) {
	step := NewStep(StepBuild, "Build", "")
	require.NoError(t, step.Start(testNow))
	step.AppendLog("one")

	clone := step.Clone()
	clone.Logs[0] = "changed"
	*clone.StartTime = testNow.Add(time.Hour)

	assert.Equal(t, "one", step.Logs[0])
	assert.Equal(t, testNow, *step.StartTime)
}

// =============================================================================
// Property Tests
// =============================================================================

// stepOp is one randomly chosen mutation applied to a step.
type stepOp struct {
	Kind     int
	Progress int
	Offset   int
}

func applyStepOp(s *DeploymentStep, op stepOp, now time.Time) {
	at := now.Add(time.Duration(op.Offset) * time.Second)
	switch op.Kind {
	case 0:
		_ = s.Start(at)
	case 1:
		s.SetProgress(op.Progress)
	case 2:
		s.AppendLog("line")
	case 3:
		_ = s.Finish(StepSuccess, at)
	case 4:
		_ = s.Finish(StepError, at)
	case 5:
		_ = s.Finish(StepSkipped, at)
	}
}

func genStepOps() gopter.Gen {
	return gen.SliceOf(gopter.CombineGens(
		gen.IntRange(0, 5),
		gen.IntRange(-20, 120),
		gen.IntRange(-30, 30),
	).Map(func(v []interface{}) stepOp {
		return stepOp{Kind: v[0].(int), Progress: v[1].(int), Offset: v[2].(int)}
	}))
}

func TestStep_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("step status never leaves a terminal state", prop.ForAll(
		func(ops []stepOp) bool {
			step := NewStep(StepBuild, "Build", "")
			var terminal StepStatus
			for _, op := range ops {
				applyStepOp(step, op, testNow)
				if terminal != "" && step.Status != terminal {
					return false
				}
				if step.Status.IsTerminal() && terminal == "" {
					terminal = step.Status
				}
			}
			return true
		},
		genStepOps(),
	))

	properties.Property("progress is monotonically non-decreasing", prop.ForAll(
		func(ops []stepOp) bool {
			step := NewStep(StepBuild, "Build", "")
			last := step.Progress
			for _, op := range ops {
				applyStepOp(step, op, testNow)
				if step.Progress < last || step.Progress > 100 {
					return false
				}
				last = step.Progress
			}
			return true
		},
		genStepOps(),
	))

	properties.Property("end time is never before start time", prop.ForAll(
		func(ops []stepOp) bool {
			step := NewStep(StepBuild, "Build", "")
			for _, op := range ops {
				applyStepOp(step, op, testNow)
			}
			if step.StartTime != nil && step.EndTime != nil {
				return !step.EndTime.Before(*step.StartTime) && step.Duration >= 0
			}
			return true
		},
		genStepOps(),
	))

	properties.TestingRun(t)
}
