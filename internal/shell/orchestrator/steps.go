package orchestrator

import (
	"fmt"

	"github.com/artpar/cafedeploy/internal/core/deployment"
	"github.com/artpar/cafedeploy/internal/core/domain"
)

// =============================================================================
// State Updates
// =============================================================================

// update applies fn to the state and, if fn reports a change, delivers the
// resulting snapshot. Nothing is applied once the run is sealed.
func (r *Run) update(fn func(s *domain.DeploymentState) bool, deliver func(snap domain.DeploymentState)) bool {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	r.mu.Lock()
	if r.sealed || !fn(r.state) {
		r.mu.Unlock()
		return false
	}
	snap := r.state.Clone()
	r.mu.Unlock()

	if deliver != nil {
		deliver(snap)
	}
	return true
}

func (r *Run) transition(to domain.DeploymentStatus) error {
	var err error
	r.update(func(s *domain.DeploymentState) bool {
		err = s.Transition(to, r.now())
		return err == nil
	}, r.obs.OnStatusChange)
	if err != nil {
		return domain.NewPipelineError(domain.KindInternal, "deploy", "", err.Error(), err)
	}
	return nil
}

// log appends a line to step, or to the run when step is empty.
func (r *Run) log(step, line string) {
	r.update(func(s *domain.DeploymentState) bool {
		if step == "" {
			s.Logs = append(s.Logs, line)
			return true
		}
		st := s.Step(step)
		if st == nil || !st.AppendLog(line) {
			return false
		}
		s.Logs = append(s.Logs, fmt.Sprintf("[%s] %s", step, line))
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnLog(snap, step, line)
	})
}

func (r *Run) progress(step string, percent int) {
	r.update(func(s *domain.DeploymentState) bool {
		st := s.Step(step)
		if st == nil || !st.SetProgress(percent) {
			return false
		}
		s.Progress = max(s.Progress, deployment.OverallProgress(step, st.Progress))
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnStepProgress(snap, *snap.Step(step))
	})
}

func (r *Run) setBuild(meta *domain.BuildMetadata) {
	if meta == nil {
		return
	}
	b := meta.Clone()
	r.update(func(s *domain.DeploymentState) bool {
		s.Build = &b
		return true
	}, nil)
}

// =============================================================================
// Steps
// =============================================================================

// runStep runs fn as a new step. On success the step is finished; on error
// it is left running for settle to finalize.
func (r *Run) runStep(id, name, desc string, fn func(rec domain.StepRecorder) error) error {
	if err := r.ctx.Err(); err != nil {
		return domain.NewPipelineError(domain.KindCancelled, "deploy", "", "deployment cancelled", err)
	}
	if err := r.startStep(id, name, desc); err != nil {
		return err
	}
	if err := fn(stepRecorder{run: r, step: id}); err != nil {
		return err
	}
	r.finishStep(id, domain.StepSuccess)
	return nil
}

func (r *Run) startStep(id, name, desc string) error {
	var err error
	r.update(func(s *domain.DeploymentState) bool {
		st := s.AddStep(domain.NewStep(id, name, desc))
		if err = st.Start(r.now()); err != nil {
			return false
		}
		s.Progress = max(s.Progress, deployment.OverallProgress(id, 0))
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnStepProgress(snap, *snap.Step(id))
	})
	if err != nil {
		return domain.NewPipelineError(domain.KindInternal, "deploy", id, err.Error(), err)
	}
	return nil
}

func (r *Run) finishStep(id string, status domain.StepStatus) {
	r.update(func(s *domain.DeploymentState) bool {
		st := s.Step(id)
		if st == nil || st.Finish(status, r.now()) != nil {
			return false
		}
		if status == domain.StepSuccess {
			s.Progress = max(s.Progress, deployment.OverallProgress(id, 100))
		}
		return true
	}, func(snap domain.DeploymentState) {
		r.obs.OnStepComplete(snap, *snap.Step(id))
	})
}

// skipStep records a step that did not run.
func (r *Run) skipStep(id, name, desc, reason string) error {
	r.update(func(s *domain.DeploymentState) bool {
		s.AddStep(domain.NewStep(id, name, desc))
		return true
	}, nil)
	r.log(id, reason)
	r.finishStep(id, domain.StepSkipped)
	return nil
}

// failRunning finishes the running step as error with a last log line and
// returns its ID.
func (r *Run) failRunning(line string) string {
	var id string
	r.update(func(s *domain.DeploymentState) bool {
		st := s.RunningStep()
		if st == nil {
			return false
		}
		id = st.ID
		st.AppendLog(line)
		s.Logs = append(s.Logs, fmt.Sprintf("[%s] %s", id, line))
		return st.Finish(domain.StepError, r.now()) == nil
	}, func(snap domain.DeploymentState) {
		r.obs.OnLog(snap, id, line)
		r.obs.OnStepComplete(snap, *snap.Step(id))
	})
	return id
}

// =============================================================================
// Step Recorder
// =============================================================================

// stepRecorder is the StepRecorder handed to the component running a step.
type stepRecorder struct {
	run  *Run
	step string
}

func (rec stepRecorder) Log(line string) { rec.run.log(rec.step, line) }

func (rec stepRecorder) Logf(format string, args ...any) {
	rec.run.log(rec.step, fmt.Sprintf(format, args...))
}

func (rec stepRecorder) Progress(percent int) { rec.run.progress(rec.step, percent) }
