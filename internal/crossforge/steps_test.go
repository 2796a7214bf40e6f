package crossforge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"crossforge/internal/pipeline"
	"crossforge/internal/workpool"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func readCalls(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// useFakeGit points gitPath at a script that records its arguments. Clones
// create a .git folder and fail for URLs containing "broken".
func useFakeGit(t *testing.T) (calls string) {
	t.Helper()
	dir := t.TempDir()
	calls = filepath.Join(dir, "calls")
	path := writeScript(t, dir, "git", `echo "git $*" >> '`+calls+`'
case "$1" in
clone)
	case "$3" in *broken*) echo "fatal: repository not found" >&2; exit 128 ;; esac
	mkdir -p "$4/.git"
	echo "Cloning into '$4'..." >&2
	;;
-C)
	if [ "$3" = rev-parse ] && [ ! -d "$2/.git" ]; then exit 128; fi
	;;
esac
exit 0
`)
	old := gitPath
	gitPath = path
	t.Cleanup(func() { gitPath = old })
	return calls
}

func TestNinjaItemRunsThroughExecutor(t *testing.T) {
	gitCalls := useFakeGit(t)

	cfg := testConfig(t)
	bin := t.TempDir()
	toolCalls := filepath.Join(bin, "calls")
	writeScript(t, bin, "cmake", `echo "cmake $*" >> '`+toolCalls+`'
if [ "$1" = --build ] && [ -n "$DESTDIR" ]; then
	mkdir -p "$DESTDIR/lib" && echo so > "$DESTDIR/lib/libdemo.so"
fi
`)
	writeScript(t, bin, "ninja", `echo "ninja $*" >> '`+toolCalls+`'`+"\n")
	cfg.SDK.CMakeBin = bin

	patch := cfg.PatchPath("demo")
	require.NoError(t, os.MkdirAll(filepath.Dir(patch), 0o755))
	require.NoError(t, os.WriteFile(patch, []byte("--- a\n+++ b\n"), 0o644))

	item := &CMakeItem{
		repoSource: repoSource{repo: Repo{Name: "demo", Revision: Tag("v1.2.0")}},
		targets:    []string{"demo"},
		entries:    []string{"DEMO_FAST=ON"},
		install:    true,
	}
	exec := &pipeline.Executor[*Config]{WorkDir: cfg.WorkingDir, Config: cfg}
	require.NoError(t, exec.Run(context.Background(), item.Steps()))

	repo := cfg.RepoDir("demo")
	require.Equal(t, []string{
		"git -C " + repo + " clean -f",
		"git -C " + repo + " reset --hard v1.2.0",
		"git -C " + repo + " apply " + patch,
	}, readCalls(t, gitCalls))

	build := cfg.BuildDir("demo")
	require.Equal(t, []string{
		"cmake -G Ninja -S " + repo + " -B " + build +
			" -D CMAKE_INSTALL_PREFIX=/ -D CMAKE_BUILD_TYPE=Release -D DEMO_FAST=ON",
		"ninja -C " + build + " -j5 demo",
		"cmake --build " + build + " --target install",
	}, readCalls(t, toolCalls))

	require.FileExists(t, filepath.Join(cfg.InstallDir("demo"), "lib", "libdemo.so"))
	require.DirExists(t, build)

	progress, err := pipeline.LoadProgress(cfg.WorkingDir)
	require.NoError(t, err)
	require.Equal(t, []string{"configure-demo", "build-demo", "install-demo"}, progress.Completed())
}

func TestNinjaBuildFailureKeepsConfigurePending(t *testing.T) {
	useFakeGit(t)

	cfg := testConfig(t)
	bin := t.TempDir()
	writeScript(t, bin, "cmake", "exit 0\n")
	writeScript(t, bin, "ninja", "echo 'error: missing header' >&2\nexit 1\n")
	cfg.SDK.CMakeBin = bin

	item := &CMakeItem{repoSource: repoSource{repo: Repo{Name: "demo", Revision: Tag("v1")}}}
	exec := &pipeline.Executor[*Config]{WorkDir: cfg.WorkingDir, Config: cfg}
	err := exec.Run(context.Background(), item.Steps())

	var stepErr *pipeline.StepError
	require.ErrorAs(t, err, &stepErr)
	require.Equal(t, "build-demo", stepErr.Name)

	progress, err := pipeline.LoadProgress(cfg.WorkingDir)
	require.NoError(t, err)
	require.Equal(t, []string{"configure-demo"}, progress.Completed())
	require.True(t, item.Steps()[0].ShouldRun(progress.Completed()))

	log, err := os.ReadFile(stepErr.LogPath)
	require.NoError(t, err)
	require.Contains(t, string(log), "missing header")
}

func TestCheckoutStepClonesThenResets(t *testing.T) {
	calls := useFakeGit(t)

	cfg := testConfig(t)
	cfg.CheckoutConcurrency = 2
	repos := []Repo{
		{Name: "alpha", URL: "https://example.com/alpha.git"},
		{Name: "beta", URL: "https://example.com/beta.git", Revision: Tag("2.0")},
	}
	revs := RevisionTable{"alpha": Commit("00c403debcd0a007b854bb35e598466207a2d58c")}

	step := NewCheckoutStep(repos, revs)
	require.Equal(t, CheckoutStepName, step.Name())
	require.NoError(t, step.Run(context.Background(), cfg, discardLogger()))

	got := readCalls(t, calls)
	alpha, beta := cfg.RepoDir("alpha"), cfg.RepoDir("beta")
	require.Contains(t, got, "git clone --progress https://example.com/alpha.git "+alpha)
	require.Contains(t, got, "git clone --progress https://example.com/beta.git "+beta)
	require.Contains(t, got, "git -C "+alpha+" reset --hard 00c403debcd0a007b854bb35e598466207a2d58c")
	require.Contains(t, got, "git -C "+beta+" reset --hard 2.0")

	log, err := os.ReadFile(filepath.Join(cfg.LogsDir(), "git-clone-alpha.log"))
	require.NoError(t, err)
	require.Contains(t, string(log), "Cloning into")

	// Existing work trees are only reset.
	require.NoError(t, os.Remove(calls))
	require.NoError(t, step.Run(context.Background(), cfg, discardLogger()))
	for _, c := range readCalls(t, calls) {
		require.NotContains(t, c, "clone")
	}
}

func TestCheckoutStepRedrawsSettledBlock(t *testing.T) {
	useFakeGit(t)

	cfg := testConfig(t)
	cfg.CheckoutConcurrency = 3
	repos := []Repo{
		{Name: "alpha", URL: "https://example.com/alpha.git", Revision: Tag("v1")},
		{Name: "beta", URL: "https://example.com/beta.git", Revision: Tag("v1")},
		{Name: "gamma", URL: "https://example.com/gamma.git", Revision: Tag("v1")},
	}

	var out strings.Builder
	step := NewCheckoutStep(repos, RevisionTable{})
	step.out = &out
	step.tty = true
	require.NoError(t, step.Run(context.Background(), cfg, discardLogger()))
	require.False(t, consoleOwned.Load())

	text := out.String()
	idx := strings.LastIndex(text, "\033[3A")
	require.NotEqual(t, -1, idx)
	last := text[idx:]
	require.Equal(t, 3, strings.Count(last, colSuccess.Sprint("success")))
	require.NotContains(t, last, "fetching")
	require.NotContains(t, last, "waiting")
}

func TestCheckoutStepFailures(t *testing.T) {
	useFakeGit(t)

	cfg := testConfig(t)
	cfg.CheckoutConcurrency = 1

	err := NewCheckoutStep([]Repo{{Name: "gamma"}}, RevisionTable{}).Run(context.Background(), cfg, discardLogger())
	require.ErrorIs(t, err, ErrRevisionNotFound)
	require.NoDirExists(t, cfg.LogsDir())

	repos := []Repo{
		{Name: "broken", URL: "https://example.com/broken.git", Revision: Tag("v1")},
		{Name: "later", URL: "https://example.com/later.git", Revision: Tag("v1")},
	}
	err = NewCheckoutStep(repos, RevisionTable{}).Run(context.Background(), cfg, discardLogger())
	require.ErrorContains(t, err, "clone https://example.com/broken.git")
}

func TestCheckoutDisplay(t *testing.T) {
	t.Parallel()

	success := colSuccess.Sprint("success")
	var b strings.Builder
	d := newCheckoutDisplay(&b, false, []string{"a", "long-name"})
	d.render([]workpool.Entry{{Key: "a"}, {Key: "long-name"}})
	require.Empty(t, b.String())

	d.render([]workpool.Entry{{Key: "a", Status: workpool.Success}, {Key: "long-name", Status: workpool.Fetching}})
	rowA := fmt.Sprintf("%-9s  %s\n", "a", success)
	require.Equal(t, rowA, b.String())

	d.render([]workpool.Entry{{Key: "a", Status: workpool.Success}, {Key: "long-name", Status: workpool.Success}})
	require.Equal(t, rowA+"long-name  "+success+"\n", b.String())

	var tty strings.Builder
	d = newCheckoutDisplay(&tty, true, []string{"a"})
	d.render([]workpool.Entry{{Key: "a"}})
	d.render([]workpool.Entry{{Key: "a", Status: workpool.Fetching}})
	require.Contains(t, tty.String(), "\033[1A")
	require.Contains(t, tty.String(), colInfo.Sprint("fetching"))
	require.Contains(t, tty.String(), colNote.Sprint("waiting"))
}
