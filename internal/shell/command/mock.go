package command

import (
	"context"
	"strings"
	"sync"
)

// MockRunner is a test double for Runner that records calls and returns
// pre-configured responses. It is safe for concurrent use.
type MockRunner struct {
	// RunFn is called when no rule matches. If nil, returns exit 0.
	RunFn func(ctx context.Context, cmd Command) (Result, error)

	mu    sync.Mutex
	rules []mockRule
	calls []Command
}

type mockRule struct {
	prefix string
	fn     func(ctx context.Context, cmd Command) (Result, error)
}

// On responds with res and err to commands whose String() starts with prefix.
// Earlier rules win.
func (m *MockRunner) On(prefix string, res Result, err error) *MockRunner {
	return m.OnFunc(prefix, func(context.Context, Command) (Result, error) { return res, err })
}

// OnFunc responds through fn to commands whose String() starts with prefix.
func (m *MockRunner) OnFunc(prefix string, fn func(ctx context.Context, cmd Command) (Result, error)) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = append(m.rules, mockRule{prefix: prefix, fn: fn})
	return m
}

// Run implements Runner. Stdout and stderr of the response are replayed
// line by line through OnOutput.
func (m *MockRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	fn := m.RunFn
	line := cmd.String()
	for _, r := range m.rules {
		if strings.HasPrefix(line, r.prefix) {
			fn = r.fn
			break
		}
	}
	m.mu.Unlock()

	if fn == nil {
		return Result{}, nil
	}
	res, err := fn(ctx, cmd)
	if cmd.OnOutput != nil {
		for _, out := range []string{res.Stdout, res.Stderr} {
			for _, l := range strings.Split(strings.TrimRight(out, "\n"), "\n") {
				if l != "" {
					cmd.OnOutput(l)
				}
			}
		}
	}
	return res, err
}

// Calls returns every recorded command.
func (m *MockRunner) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Command(nil), m.calls...)
}

// CallsMatching returns the recorded commands whose String() contains substr.
func (m *MockRunner) CallsMatching(substr string) []Command {
	var out []Command
	for _, c := range m.Calls() {
		if strings.Contains(c.String(), substr) {
			out = append(out, c)
		}
	}
	return out
}
