package main

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/artpar/cafedeploy/internal/core/domain"
	"github.com/artpar/cafedeploy/internal/shell/orchestrator"
)

// =============================================================================
// Console Output
// =============================================================================

// console renders pipeline events as human-readable lines.
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

// Observer returns an observer that writes to the console.
func (c *console) Observer() orchestrator.Observer {
	return orchestrator.EventFunc(c.handle)
}

func (c *console) handle(e orchestrator.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch e.Type {
	case orchestrator.EventStatus:
		fmt.Fprintf(c.w, "==> %s (%d%%)\n", e.Status, e.Progress)
	case orchestrator.EventValidation:
		for _, v := range e.Validations {
			fmt.Fprintf(c.w, "  %s %-12s %s\n", validationMark(v.Status), v.Type, v.Message)
			for _, d := range v.Details {
				fmt.Fprintf(c.w, "      %s\n", d)
			}
		}
	case orchestrator.EventLog:
		if e.StepID != "" {
			fmt.Fprintf(c.w, "  [%s] %s\n", e.StepID, e.Line)
		} else {
			fmt.Fprintf(c.w, "  %s\n", e.Line)
		}
	case orchestrator.EventStepComplete:
		if e.Step != nil {
			fmt.Fprintf(c.w, "  step %s: %s (%s)\n", e.Step.ID, e.Step.Status, e.Step.Duration.Round(time.Millisecond))
		}
	case orchestrator.EventComplete:
		fmt.Fprintf(c.w, "==> deployed to %s\n", e.URL)
	case orchestrator.EventError:
		fmt.Fprintf(c.w, "==> deployment failed: %s\n", e.Error)
	}
}

func validationMark(s domain.ValidationStatus) string {
	switch s {
	case domain.ValidationSuccess:
		return "[ok]  "
	case domain.ValidationWarning:
		return "[warn]"
	case domain.ValidationError:
		return "[fail]"
	default:
		return "[..]  "
	}
}
