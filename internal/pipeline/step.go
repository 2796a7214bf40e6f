// Package pipeline runs an ordered list of named steps exactly once each,
// resuming across process restarts from a persisted progress record.
package pipeline

import (
	"context"
	"log/slog"
	"slices"
)

// Step is one named unit of pipeline work. C is the build configuration
// threaded through every step.
type Step[C any] interface {
	Name() string
	// ShouldRun decides from the completed step names whether the step
	// executes in this invocation.
	ShouldRun(completed []string) bool
	Run(ctx context.Context, cfg C, logger *slog.Logger) error
}

// Named supplies Name and the default ShouldRun (run unless already
// completed) to step types that embed it.
type Named struct {
	StepName string
}

func (n Named) Name() string { return n.StepName }

func (n Named) ShouldRun(completed []string) bool {
	return !slices.Contains(completed, n.StepName)
}

// UntilCompleted returns a ShouldRun rule that keeps re-running a step while
// the dependent step has not completed yet.
func UntilCompleted(dependent string) func([]string) bool {
	return func(completed []string) bool {
		return !slices.Contains(completed, dependent)
	}
}

// Func adapts a plain function into a Step.
type Func[C any] struct {
	Named
	Fn func(ctx context.Context, cfg C, logger *slog.Logger) error
	// Rerun overrides the default ShouldRun when set.
	Rerun func(completed []string) bool
}

func (f Func[C]) ShouldRun(completed []string) bool {
	if f.Rerun != nil {
		return f.Rerun(completed)
	}
	return f.Named.ShouldRun(completed)
}

func (f Func[C]) Run(ctx context.Context, cfg C, logger *slog.Logger) error {
	return f.Fn(ctx, cfg, logger)
}
