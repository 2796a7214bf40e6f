package crossforge

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"crossforge/internal/pipeline"
)

// CreateToolchainStepName is the step assembling toolchain/ from the
// install trees.
const CreateToolchainStepName = "create-toolchain"

// CreateToolchainStep merges every install tree into toolchain/usr. Host
// items contribute their whole tree; arch specific items contribute only
// their shared libraries, under usr/lib/swift/android/<arch>.
type CreateToolchainStep struct {
	pipeline.Named
	items []Item
	repos []Repo
}

func NewCreateToolchainStep(items []Item, repos []Repo) *CreateToolchainStep {
	return &CreateToolchainStep{
		Named: pipeline.Named{StepName: CreateToolchainStepName},
		items: items,
		repos: repos,
	}
}

func (s *CreateToolchainStep) Run(_ context.Context, cfg *Config, logger *slog.Logger) error {
	root := cfg.ToolchainDir()
	usr := filepath.Join(root, "usr")
	if err := os.RemoveAll(root); err != nil {
		return err
	}
	if err := os.MkdirAll(usr, 0o755); err != nil {
		return err
	}

	isCriticalAtomic.Store(1)
	defer isCriticalAtomic.Store(0)

	copied := 0
	for _, it := range s.items {
		src := cfg.InstallDir(it.Name())
		if !dirExists(src) {
			logger.Debug("no install tree", "item", it.Name())
			continue
		}
		var err error
		if a, ok := it.(ArchSpecific); ok {
			dst := filepath.Join(usr, "lib", "swift", "android", a.Arch().SwiftArch)
			logger.Info("copying shared libraries", "item", it.Name(), "to", dst)
			err = copySharedLibs(filepath.Join(src, "lib"), dst)
		} else {
			logger.Info("copying install tree", "item", it.Name(), "to", usr)
			err = copyTree(src, usr)
		}
		if err != nil {
			return fmt.Errorf("copy %s: %w", it.Name(), err)
		}
		copied++
	}
	if copied == 0 {
		return &PreconditionError{What: "install trees", Path: cfg.InstallRoot()}
	}

	for _, name := range []string{"LICENSE.txt", "LICENSE"} {
		src := filepath.Join(cfg.SourceRoot, name)
		if fileExists(src) {
			if err := copyFile(src, filepath.Join(root, name)); err != nil {
				return err
			}
			break
		}
	}
	if err := s.copyRepoLicenses(cfg, filepath.Join(usr, "share")); err != nil {
		return err
	}

	if cfg.SDK != nil {
		ndk := filepath.Base(cfg.SDK.NDK.Dir) + "\n"
		if err := os.WriteFile(filepath.Join(root, "NDK_VERSION"), []byte(ndk), 0o644); err != nil {
			return err
		}
	}

	n, err := writeManifest(root)
	if err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	logger.Info("toolchain assembled", "dir", root, "items", copied, "files", n)
	return nil
}

// copyRepoLicenses copies LICENSE* and COPYING* from every checked-out
// repository to share/<repo>/.
func (s *CreateToolchainStep) copyRepoLicenses(cfg *Config, share string) error {
	for _, r := range s.repos {
		entries, err := os.ReadDir(cfg.RepoDir(r.Name))
		if err != nil {
			continue
		}
		for _, e := range entries {
			upper := strings.ToUpper(e.Name())
			if e.IsDir() || !(strings.HasPrefix(upper, "LICENSE") || strings.HasPrefix(upper, "COPYING")) {
				continue
			}
			dst := filepath.Join(share, r.Name, e.Name())
			if fileExists(dst) {
				continue
			}
			if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
				return err
			}
			if err := copyFile(filepath.Join(cfg.RepoDir(r.Name), e.Name()), dst); err != nil {
				return err
			}
		}
	}
	return nil
}

// copyTree merges src into dst, preserving modes and symlinks. Existing
// files are overwritten.
func copyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}
		switch {
		case d.IsDir():
			return os.MkdirAll(target, info.Mode().Perm()|0o700)
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			return os.Symlink(link, target)
		case info.Mode().IsRegular():
			return copyFile(path, target)
		default:
			return nil
		}
	})
}

// copySharedLibs copies *.so and *.so.* entries of dir, symlinks included,
// so versioned SONAME links keep resolving.
func copySharedLibs(dir, dst string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasSuffix(name, ".so") || strings.Contains(name, ".so.")) {
			continue
		}
		src := filepath.Join(dir, name)
		target := filepath.Join(dst, name)
		if e.Type()&os.ModeSymlink != 0 {
			link, err := os.Readlink(src)
			if err != nil {
				return err
			}
			_ = os.Remove(target)
			if err := os.Symlink(link, target); err != nil {
				return err
			}
			continue
		}
		if err := copyFile(src, target); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	fi, err := in.Stat()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	_ = os.Remove(dst)
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, fi.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
