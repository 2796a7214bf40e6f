package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// StepError reports the step that halted the pipeline.
type StepError struct {
	Index   int
	Name    string
	LogPath string
	Err     error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v; see %s", e.Index+1, e.Name, e.Err, e.LogPath)
}

func (e *StepError) Unwrap() error { return e.Err }

// Reporter observes step lifecycle events.
type Reporter interface {
	StepSkipped(index int, name string)
	StepStarted(index int, name, logPath string)
	StepFinished(index int, name string, elapsed time.Duration, err error)
}

// LogFileName returns the per-step log name for the step at 0-based index.
func LogFileName(index int, name string) string {
	return fmt.Sprintf("Step-%03d-%s.log", index+1, name)
}

// Executor runs steps in order against one working directory.
type Executor[C any] struct {
	WorkDir string
	// LogDir defaults to WorkDir/logs.
	LogDir   string
	Config   C
	Reporter Reporter
	// LogLevel lowers the step log threshold below info, for debug output.
	// Step logs always keep info and above.
	LogLevel slog.Level
	// Mirror, when set, receives a copy of every step log.
	Mirror io.Writer
}

func (e *Executor[C]) logDir() string {
	if e.LogDir != "" {
		return e.LogDir
	}
	return filepath.Join(e.WorkDir, "logs")
}

// Run executes steps sequentially, skipping those whose ShouldRun declines,
// and persists progress after every success. It stops at the first failure.
// The context is only checked between steps; a running step is never
// interrupted.
func (e *Executor[C]) Run(ctx context.Context, steps []Step[C]) error {
	if err := checkUnique(steps); err != nil {
		return err
	}
	progress, err := LoadProgress(e.WorkDir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(e.logDir(), 0o755); err != nil {
		return fmt.Errorf("create log dir: %w", err)
	}

	for i, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline interrupted before %s: %w", step.Name(), err)
		}
		if !step.ShouldRun(progress.Completed()) {
			e.report().StepSkipped(i, step.Name())
			continue
		}
		if err := e.runStep(ctx, i, step, progress); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor[C]) runStep(ctx context.Context, i int, step Step[C], progress *Progress) error {
	name := step.Name()
	logPath := filepath.Join(e.logDir(), LogFileName(i, name))

	if err := os.Remove(logPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StepError{Index: i, Name: name, LogPath: logPath, Err: err}
	}
	f, err := os.Create(logPath)
	if err != nil {
		return &StepError{Index: i, Name: name, LogPath: logPath, Err: err}
	}
	defer f.Close()

	var w io.Writer = f
	if e.Mirror != nil {
		w = io.MultiWriter(f, e.Mirror)
	}
	level := min(e.LogLevel, slog.LevelInfo)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})).With("step", name)
	logger.Info("executing step", "index", i+1, "type", fmt.Sprintf("%T", step))

	e.report().StepStarted(i, name, logPath)
	start := time.Now()
	runErr := step.Run(ctx, e.Config, logger)
	elapsed := time.Since(start)

	if runErr == nil && progress.Add(name) {
		runErr = progress.Save(e.WorkDir)
	}
	if runErr != nil {
		logger.Error("step failed", "error", runErr, "elapsed", elapsed.Round(time.Millisecond))
		e.report().StepFinished(i, name, elapsed, runErr)
		return &StepError{Index: i, Name: name, LogPath: logPath, Err: runErr}
	}

	logger.Info("step completed", "elapsed", elapsed.Round(time.Millisecond))
	e.report().StepFinished(i, name, elapsed, nil)
	return nil
}

func (e *Executor[C]) report() Reporter {
	if e.Reporter == nil {
		return nopReporter{}
	}
	return e.Reporter
}

func checkUnique[C any](steps []Step[C]) error {
	seen := make(map[string]int, len(steps))
	for i, s := range steps {
		if j, dup := seen[s.Name()]; dup {
			return fmt.Errorf("duplicate step name %q at positions %d and %d", s.Name(), j+1, i+1)
		}
		seen[s.Name()] = i
	}
	return nil
}

type nopReporter struct{}

func (nopReporter) StepSkipped(int, string) {}

func (nopReporter) StepStarted(int, string, string) {}

func (nopReporter) StepFinished(int, string, time.Duration, error) {}

// Reporters fans events out to every non-nil reporter.
func Reporters(rs ...Reporter) Reporter {
	var out multiReporter
	for _, r := range rs {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

type multiReporter []Reporter

func (m multiReporter) StepSkipped(i int, name string) {
	for _, r := range m {
		r.StepSkipped(i, name)
	}
}

func (m multiReporter) StepStarted(i int, name, logPath string) {
	for _, r := range m {
		r.StepStarted(i, name, logPath)
	}
}

func (m multiReporter) StepFinished(i int, name string, elapsed time.Duration, err error) {
	for _, r := range m {
		r.StepFinished(i, name, elapsed, err)
	}
}
