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

// =============================================================================
// Status Transition Tests
// =============================================================================

func TestValidateTransition_HappyPath(t *testing.T) {
	path := []DeploymentStatus{StatusIdle, StatusValidating, StatusBuilding, StatusTesting, StatusDeploying, StatusSuccess}
	for i := 0; i < len(path)-1; i++ {
		assert.NoError(t, ValidateTransition(path[i], path[i+1]), "%s -> %s", path[i], path[i+1])
	}
}

func TestValidateTransition_TestingIsOptional(t *testing.T) {
	assert.NoError(t, ValidateTransition(StatusBuilding, StatusDeploying))
}

func TestValidateTransition_Invalid(t *testing.T) {
	tests := []struct {
		from, to DeploymentStatus
	}{
		{StatusIdle, StatusBuilding},
		{StatusValidating, StatusDeploying},
		{StatusDeploying, StatusBuilding},
		{StatusSuccess, StatusError},
		{StatusError, StatusIdle},
		{StatusCancelled, StatusValidating},
		{"bogus", StatusValidating},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.ErrorIs(t, ValidateTransition(tt.from, tt.to), ErrInvalidTransition)
		})
	}
}

func TestValidateTransition_CancelFromEveryActiveState(t *testing.T) {
	for _, s := range []DeploymentStatus{StatusIdle, StatusValidating, StatusBuilding, StatusTesting, StatusDeploying} {
		assert.NoError(t, ValidateTransition(s, StatusCancelled), string(s))
		assert.NoError(t, ValidateTransition(s, StatusError), string(s))
	}
}

// =============================================================================
// Deployment State Tests
// =============================================================================

func TestNewDeploymentState_RedactsConfig(t *testing.T) {
	state := NewDeploymentState("run-1", validConfig(), testNow)

	assert.Equal(t, StatusIdle, state.Status)
	assert.Equal(t, redactedValue, state.Config.Vercel.Token)
	assert.Empty(t, state.Steps)
	assert.Nil(t, state.EndTime)
}

func TestDeploymentState_TransitionToTerminal(t *testing.T) {
	state := NewDeploymentState("run-1", validConfig(), testNow)
	require.NoError(t, state.Transition(StatusValidating, testNow))
	state.CurrentStep = "validation"

	require.NoError(t, state.Transition(StatusError, testNow.Add(time.Minute)))
	require.NotNil(t, state.EndTime)
	assert.Empty(t, state.CurrentStep)
	assert.Equal(t, time.Minute, state.Duration(testNow.Add(time.Hour)))

	assert.ErrorIs(t, state.Transition(StatusSuccess, testNow), ErrInvalidTransition)
	assert.Equal(t, StatusError, state.Status)
}

func TestDeploymentState_Steps(t *testing.T) {
	state := NewDeploymentState("run-1", validConfig(), testNow)
	build := state.AddStep(NewStep(StepBuild, "Build", ""))
	require.NoError(t, build.Start(testNow))

	assert.Equal(t, StepBuild, state.CurrentStep)
	assert.Same(t, build, state.Step(StepBuild))
	assert.Same(t, build, state.RunningStep())
	assert.Nil(t, state.Step(StepDeploy))
}

func TestDeploymentState_Clone_Independent(t *testing.T) {
	state := NewDeploymentState("run-1", validConfig(), testNow)
	step := state.AddStep(NewStep(StepBuild, "Build", ""))
	require.NoError(t, step.Start(testNow))
	step.AppendLog("first")
	state.Logs = append(state.Logs, "first")
	state.Build = &BuildMetadata{Warnings: []string{"large bundle"}}

	clone := state.Clone()
	clone.Steps[0].Logs[0] = "changed"
	clone.Logs[0] = "changed"
	clone.Build.Warnings[0] = "changed"
	clone.Config.Environment["DATABASE_URL"] = "changed"

	assert.Equal(t, "first", state.Steps[0].Logs[0])
	assert.Equal(t, "first", state.Logs[0])
	assert.Equal(t, "large bundle", state.Build.Warnings[0])
	assert.Equal(t, redactedValue, state.Config.Environment["DATABASE_URL"])
}

// =============================================================================
// Deployment Log Tests
// =============================================================================

func TestNewDeploymentLog_Failure(t *testing.T) {
	state := NewDeploymentState("run-1", validConfig(), testNow)
	require.NoError(t, state.Transition(StatusValidating, testNow))
	state.Error = "branch feature/x is not allowed"
	state.ErrorKind = KindValidationFailed
	require.NoError(t, state.Transition(StatusError, testNow.Add(2*time.Second)))

	record := NewDeploymentLog(*state, testNow.Add(time.Hour))

	assert.Equal(t, "run-1", record.ID)
	assert.Equal(t, "cfg-1", record.ConfigID)
	assert.Equal(t, PlatformVercel, record.Platform)
	assert.Equal(t, 2*time.Second, record.Duration)
	assert.False(t, record.Succeeded())
	require.NotNil(t, record.Error)
	assert.Equal(t, KindValidationFailed, record.Error.Kind)
}

func TestNewDeploymentLog_Success(t *testing.T) {
	state := NewDeploymentState("run-1", validConfig(), testNow)
	for _, s := range []DeploymentStatus{StatusValidating, StatusBuilding, StatusDeploying, StatusSuccess} {
		require.NoError(t, state.Transition(s, testNow))
	}
	state.URL = "https://cafe-crm.vercel.app"

	record := NewDeploymentLog(*state, testNow)
	assert.True(t, record.Succeeded())
	assert.Nil(t, record.Error)
	assert.Equal(t, "https://cafe-crm.vercel.app", record.URL)
}

// =============================================================================
// Property Tests
// =============================================================================

var allStatuses = []DeploymentStatus{
	StatusIdle, StatusValidating, StatusBuilding, StatusTesting,
	StatusDeploying, StatusSuccess, StatusError, StatusCancelled,
}

func TestDeploymentState_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("accepted transitions only follow defined edges", prop.ForAll(
		func(targets []int) bool {
			state := NewDeploymentState("run", validConfig(), testNow)
			seenValidating := false
			for _, idx := range targets {
				from := state.Status
				to := allStatuses[idx]
				if err := state.Transition(to, testNow); err != nil {
					if state.Status != from {
						return false
					}
					continue
				}
				if from.IsTerminal() {
					return false
				}
				if to == StatusValidating {
					seenValidating = true
				}
				if to == StatusDeploying && !seenValidating {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.IntRange(0, len(allStatuses)-1)),
	))

	properties.TestingRun(t)
}
