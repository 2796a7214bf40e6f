package crossforge

import (
	"fmt"
	"log/slog"

	"crossforge/internal/shell"
)

// gitPath is the git executable. Tests point it at a fake.
var gitPath = "git"

func gitCommand(logger *slog.Logger, args ...string) shell.Command {
	cmd := shell.New(gitPath, args...)
	cmd.Logger = logger
	return cmd
}

// isGitRepo reports whether dir is inside a git work tree.
func isGitRepo(dir string, logger *slog.Logger) bool {
	_, err := gitCommand(logger, "-C", dir, "rev-parse").Run()
	return err == nil
}

func gitClone(url, dir string, logger *slog.Logger) error {
	if _, err := gitCommand(logger, "clone", "--progress", url, dir).Run(); err != nil {
		return fmt.Errorf("clone %s: %w", url, err)
	}
	return nil
}

// gitReset drops untracked files and local edits, then moves the work tree
// to object.
func gitReset(dir, object string, logger *slog.Logger) error {
	if _, err := gitCommand(logger, "-C", dir, "clean", "-f").Run(); err != nil {
		return fmt.Errorf("clean %s: %w", dir, err)
	}
	if _, err := gitCommand(logger, "-C", dir, "reset", "--hard", object).Run(); err != nil {
		return fmt.Errorf("reset %s to %s: %w", dir, object, err)
	}
	return nil
}

func gitApply(dir, patch string, logger *slog.Logger) error {
	if _, err := gitCommand(logger, "-C", dir, "apply", patch).Run(); err != nil {
		return fmt.Errorf("apply %s: %w", patch, err)
	}
	return nil
}
