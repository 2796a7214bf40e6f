package shell

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingHandler keeps every forwarded line with its level.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, r)
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

// lines returns forwarded output lines, leaving out the runner's own notices.
func (h *recordingHandler) lines(level slog.Level) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []string
	for _, r := range h.records {
		if r.Level != level || r.Message == "executing command" {
			continue
		}
		out = append(out, r.Message)
	}
	return out
}

func sh(script string) Command {
	return New("/bin/sh", "-c", script)
}

func TestRunCapturesStdout(t *testing.T) {
	t.Parallel()

	out, err := sh("printf foo").Run()
	require.NoError(t, err)
	require.Equal(t, "foo", out)
}

func TestRunExitErrorCarriesStreams(t *testing.T) {
	t.Parallel()

	_, err := sh("echo out; echo err >&2; exit 7").Run()

	var exitErr *ExitError
	require.ErrorAs(t, err, &exitErr)
	require.Equal(t, 7, exitErr.Code)
	require.Contains(t, exitErr.Stdout, "out")
	require.Contains(t, exitErr.Stderr, "err")
	require.Contains(t, exitErr.Error(), "exit status 7")
}

func TestRunForwardsEveryLineOnce(t *testing.T) {
	t.Parallel()

	const n, m = 200, 150
	script := fmt.Sprintf(`i=0; while [ $i -lt %d ]; do echo "out $i"; if [ $i -lt %d ]; then echo "err $i" >&2; fi; i=$((i+1)); done`, n, m)

	h := &recordingHandler{}
	cmd := sh(script)
	cmd.Logger = slog.New(h)
	out, err := cmd.Run()
	require.NoError(t, err)

	infos := h.lines(slog.LevelInfo)
	errs := h.lines(slog.LevelError)

	require.Len(t, infos, n)
	require.Len(t, errs, m)
	for i := 0; i < n; i++ {
		require.Equal(t, fmt.Sprintf("out %d", i), infos[i])
	}
	for i := 0; i < m; i++ {
		require.Equal(t, fmt.Sprintf("err %d", i), errs[i])
	}
	require.Equal(t, strings.Join(infos, "\n"), out)
}

func TestRunForwardsNothingForSilentCommand(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	cmd := sh("true")
	cmd.Logger = slog.New(h)
	out, err := cmd.Run()
	require.NoError(t, err)
	require.Empty(t, out)
	require.Empty(t, h.lines(slog.LevelInfo))
	require.Empty(t, h.lines(slog.LevelError))
}

func TestRunKeepsInteriorEmptyLines(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name   string
		script string
		infos  []string
		errs   []string
	}{
		{name: "trailing newline", script: `printf 'a\nb\n'; printf 'e\n' >&2`, infos: []string{"a", "b"}, errs: []string{"e"}},
		{name: "blank between", script: `printf 'a\n\nb\n'`, infos: []string{"a", "", "b"}},
		{name: "blank at end", script: `printf 'a\n\n'`, infos: []string{"a", ""}},
		{name: "no trailing newline", script: `printf 'a\nb'`, infos: []string{"a", "b"}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			h := &recordingHandler{}
			cmd := sh(tc.script)
			cmd.Logger = slog.New(h)
			out, err := cmd.Run()
			require.NoError(t, err)
			require.Equal(t, tc.infos, h.lines(slog.LevelInfo))
			require.Equal(t, tc.errs, h.lines(slog.LevelError))
			require.Equal(t, strings.Join(tc.infos, "\n"), out)
		})
	}
}

func TestRunSkipBlankLines(t *testing.T) {
	t.Parallel()

	h := &recordingHandler{}
	cmd := sh(`printf 'a\n\n   \nb\n'`)
	cmd.Logger = slog.New(h)
	cmd.SkipBlankLines = true

	out, err := cmd.Run()
	require.NoError(t, err)
	require.Equal(t, "a\nb", out)
	require.Equal(t, []string{"a", "b"}, h.lines(slog.LevelInfo))
}

func TestRunStartFailure(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "does-not-exist")).Run()

	var startErr *StartError
	require.ErrorAs(t, err, &startErr)
	require.Contains(t, err.Error(), "failed to start command")
}

func TestRunEnvAndDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cmd := sh(`printf '%s|%s|%s' "$GREETING" "${HOME:-unset}" "$(pwd)"`)
	cmd.Dir = dir
	cmd.Env = map[string]string{"GREETING": "hello", "PATH": os.Getenv("PATH")}

	out, err := cmd.Run()
	require.NoError(t, err)

	parts := strings.Split(out, "|")
	require.Len(t, parts, 3)
	require.Equal(t, "hello", parts[0])
	require.Equal(t, "unset", parts[1])
	resolved, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	require.Equal(t, resolved, parts[2])
}

func TestRunInvalidUTF8IsError(t *testing.T) {
	t.Parallel()

	out, err := sh(`printf 'fine\nbroken\377'`).Run()
	require.ErrorIs(t, err, ErrInvalidUTF8)
	require.True(t, bytes.HasPrefix([]byte(out), []byte("fine\nbroken")))
}

func TestJoinArgs(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		parts []string
		want  string
	}{
		{name: "plain", parts: []string{"make", "-j4"}, want: "make -j4"},
		{name: "space is quoted", parts: []string{"ls", "My Dir"}, want: `ls "My Dir"`},
		{name: "already quoted", parts: []string{"echo", `"a b"`}, want: `echo "a b"`},
		{name: "quoted assignment", parts: []string{"CFLAGS='-Os -fpic'", "./configure"}, want: "CFLAGS='-Os -fpic' ./configure"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, JoinArgs(tc.parts))
		})
	}
}

func TestLoginRunsThroughShell(t *testing.T) {
	t.Parallel()

	cmd := Login("GREETING='hi there'", "sh", "-c", "'printf \"$GREETING\"'")
	out, err := cmd.Run()
	require.NoError(t, err)
	require.Equal(t, "hi there", out)
}
