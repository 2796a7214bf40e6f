package shell

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"
)

// LoginShell is the interpreter used by Login.
var LoginShell = "/bin/sh"

// pipeDrainDelay bounds how long Run waits for inherited pipes to close after
// the process itself has exited.
const pipeDrainDelay = 5 * time.Second

// Command describes one external process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	// Env replaces the environment entirely. A nil map inherits the parent's.
	Env    map[string]string
	Logger *slog.Logger
	// SkipBlankLines drops whitespace-only lines from both forwarding and
	// captured output.
	SkipBlankLines bool
}

// New returns a Command for path with the given arguments.
func New(path string, args ...string) Command {
	return Command{Path: path, Args: args}
}

// Login wraps parts into a single `sh -l -c` invocation, so shell syntax such
// as leading VAR=value exports and redirections work as typed.
func Login(parts ...string) Command {
	return Command{Path: LoginShell, Args: []string{"-l", "-c", JoinArgs(parts)}}
}

// JoinArgs joins command parts with spaces, double-quoting any part that
// contains whitespace and is not already quoted. Assignments carrying their
// own quoted value (FOO='a b') are left as they are.
func JoinArgs(parts []string) string {
	quoted := make([]string, len(parts))
	for i, p := range parts {
		quoted[i] = quoteArg(p)
	}
	return strings.Join(quoted, " ")
}

func quoteArg(p string) string {
	if !strings.ContainsAny(p, " \t\n") {
		return p
	}
	if strings.HasPrefix(p, `"`) || strings.HasPrefix(p, `'`) {
		return p
	}
	if strings.Contains(p, `='`) || strings.Contains(p, `="`) {
		return p
	}
	return `"` + p + `"`
}

// String renders the command line for logs and error messages.
func (c Command) String() string {
	return JoinArgs(append([]string{c.Path}, c.Args...))
}

// Run executes the command and returns its stdout lines joined by "\n".
//
// Every stdout line is logged at info level and every stderr line at error
// level as soon as it is complete. Once started, the process always runs to
// completion; there is no cancellation.
func (c Command) Run() (string, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = envList(c.Env)
	}

	stdout := newStream()
	stderr := newStream()
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	cmd.WaitDelay = pipeDrainDelay

	var (
		fwd      sync.WaitGroup
		outLines []string
		errLines []string
	)
	fwd.Add(2)
	go func() {
		defer fwd.Done()
		outLines = forward(stdout.lines.NewReader(), c.SkipBlankLines, func(line string) { logger.Info(line) })
	}()
	go func() {
		defer fwd.Done()
		errLines = forward(stderr.lines.NewReader(), c.SkipBlankLines, func(line string) { logger.Error(line) })
	}()

	logger.Info("executing command", "command", c.String(), "dir", c.Dir)

	if err := cmd.Start(); err != nil {
		stdout.finish()
		stderr.finish()
		fwd.Wait()
		return "", &StartError{Command: c.String(), Err: err}
	}

	exited := make(chan error, 1)
	go func() {
		exited <- cmd.Wait()
	}()
	waitErr := <-exited

	outErr := stdout.finish()
	errErr := stderr.finish()
	fwd.Wait()

	out := strings.Join(outLines, "\n")

	if waitErr != nil && !errors.Is(waitErr, exec.ErrWaitDelay) {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return out, &ExitError{
				Command: c.String(),
				Code:    exitErr.ExitCode(),
				Stdout:  out,
				Stderr:  strings.Join(errLines, "\n"),
			}
		}
		return out, fmt.Errorf("wait for %s: %w", c.String(), waitErr)
	}
	if errors.Is(waitErr, exec.ErrWaitDelay) {
		logger.Warn("output pipes still open after exit", "command", c.String())
	}
	if err := errors.Join(outErr, errErr); err != nil {
		return out, fmt.Errorf("%s: %w", c.String(), err)
	}
	return out, nil
}

// forward emits lines in order as they complete. An empty line is held until
// another line follows it, so the assembler's final flush after a trailing
// newline is never forwarded or captured.
func forward(r *Reader, skipBlank bool, emit func(string)) []string {
	var (
		captured []string
		held     bool
	)
	for {
		line, ok := r.Next()
		if !ok {
			return captured
		}
		if held {
			held = false
			captured = append(captured, "")
			emit("")
		}
		if skipBlank && strings.TrimSpace(line) == "" {
			continue
		}
		if line == "" {
			held = true
			continue
		}
		captured = append(captured, line)
		emit(line)
	}
}

func envList(env map[string]string) []string {
	list := make([]string, 0, len(env))
	for k, v := range env {
		list = append(list, k+"="+v)
	}
	sort.Strings(list)
	return list
}

// stream is the io.Writer handed to exec. It feeds a LineAssembler until the
// runner marks it finished; later writes are dropped.
type stream struct {
	mu       sync.Mutex
	finished bool
	lines    *LineAssembler
}

func newStream() *stream {
	return &stream{lines: NewLineAssembler()}
}

func (s *stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return len(p), nil
	}
	if err := s.lines.Append(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// finish closes the assembler exactly once and returns its decode error.
func (s *stream) finish() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finished = true
	return s.lines.Close()
}
