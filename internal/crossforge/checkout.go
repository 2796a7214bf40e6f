package crossforge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"crossforge/internal/pipeline"
	"crossforge/internal/workpool"
)

// CheckoutStepName is the name of the step that clones and resets every
// repository of the graph.
const CheckoutStepName = "checkout"

// CheckoutStep brings every repository to its pinned revision, cloning the
// ones that are missing. Repositories are processed concurrently.
type CheckoutStep struct {
	pipeline.Named
	repos []Repo
	revs  RevisionTable

	out io.Writer
	tty bool
}

func NewCheckoutStep(repos []Repo, revs RevisionTable) *CheckoutStep {
	return &CheckoutStep{
		Named: pipeline.Named{StepName: CheckoutStepName},
		repos: repos,
		revs:  revs,
		out:   os.Stdout,
		tty:   isTerminal(os.Stdout),
	}
}

func (s *CheckoutStep) Run(ctx context.Context, cfg *Config, logger *slog.Logger) error {
	if err := s.revs.Check(s.repos); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.LogsDir(), 0o755); err != nil {
		return err
	}

	d := workpool.New(s.repos,
		func(r Repo) string { return r.Name },
		func(_ context.Context, r Repo) error {
			obj, _ := s.revs.Resolve(r)
			return checkoutRepo(cfg, r, obj)
		},
		workpool.Options{Limit: cfg.CheckoutConcurrency, StopOnFailure: true},
	)

	names := make([]string, len(s.repos))
	for i, r := range s.repos {
		names[i] = r.Name
	}
	if s.tty {
		consoleOwned.Store(true)
		defer consoleOwned.Store(false)
		io.WriteString(s.out, "\r\033[K")
	}
	display := newCheckoutDisplay(s.out, s.tty, names)
	d.Tracker().OnChange = func() { display.render(d.Tracker().Snapshot()) }
	display.render(d.Tracker().Snapshot())

	logger.Info("checking out repositories", "count", len(s.repos), "limit", cfg.CheckoutConcurrency)
	d.Start(ctx)
	err := d.Wait()
	// Concurrent OnChange renders may land out of order; redraw the settled state.
	display.render(d.Tracker().Snapshot())

	for _, e := range d.Tracker().Snapshot() {
		if e.Err != nil {
			logger.Error("checkout failed", "repo", e.Key, "status", e.Status, "err", e.Err)
			continue
		}
		logger.Info("checkout finished", "repo", e.Key, "status", e.Status)
	}
	return err
}

// checkoutRepo clones repo when its directory is not a git work tree yet and
// resets it to object. Git output goes to logs/git-clone-<repo>.log.
func checkoutRepo(cfg *Config, repo Repo, object string) error {
	logPath := filepath.Join(cfg.LogsDir(), "git-clone-"+repo.Name+".log")
	f, err := os.Create(logPath)
	if err != nil {
		return err
	}
	defer f.Close()
	logger := slog.New(slog.NewTextHandler(f, nil)).With("repo", repo.Name)

	dir := cfg.RepoDir(repo.Name)
	if !isGitRepo(dir, logger) {
		logger.Info("cloning", "url", repo.URL, "dir", dir)
		if err := gitClone(repo.URL, dir, logger); err != nil {
			return err
		}
	}
	logger.Info("resetting", "object", object)
	return gitReset(dir, object, logger)
}

// checkoutDisplay renders one row per repository. On a terminal the block is
// redrawn in place; otherwise a row is printed when a repository settles.
type checkoutDisplay struct {
	mu      sync.Mutex
	out     io.Writer
	tty     bool
	width   int
	drawn   int
	printed map[string]bool
}

func newCheckoutDisplay(out io.Writer, tty bool, names []string) *checkoutDisplay {
	width := 0
	for _, n := range names {
		width = max(width, len(n))
	}
	return &checkoutDisplay{out: out, tty: tty, width: width, printed: make(map[string]bool)}
}

func (d *checkoutDisplay) render(entries []workpool.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.tty {
		for _, e := range entries {
			if e.Status.Terminal() && !d.printed[e.Key] {
				d.printed[e.Key] = true
				fmt.Fprintln(d.out, d.row(e))
			}
		}
		return
	}

	var b strings.Builder
	if d.drawn > 0 {
		fmt.Fprintf(&b, "\033[%dA", d.drawn)
	}
	for _, e := range entries {
		b.WriteString("\r\033[K")
		b.WriteString(d.row(e))
		b.WriteByte('\n')
	}
	d.drawn = len(entries)
	io.WriteString(d.out, b.String())
}

func (d *checkoutDisplay) row(e workpool.Entry) string {
	name := fmt.Sprintf("%-*s", d.width, e.Key)
	switch e.Status {
	case workpool.Fetching:
		return name + "  " + colInfo.Sprint("fetching")
	case workpool.Success:
		return name + "  " + colSuccess.Sprint("success")
	case workpool.Failed:
		return name + "  " + colError.Sprint("failed")
	default:
		return name + "  " + colNote.Sprint("waiting")
	}
}
