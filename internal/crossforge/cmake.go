package crossforge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"crossforge/internal/pipeline"
	"crossforge/internal/shell"
)

// CMakeItem is a repository configured with CMake and built with Ninja for
// the host.
type CMakeItem struct {
	repoSource
	name    string
	targets []string
	entries []string
	deps    []Dependency
	install bool
}

func (c *CMakeItem) Name() string {
	if c.name != "" {
		return c.name
	}
	return c.repo.Name
}

func (c *CMakeItem) Targets() []string { return c.targets }

func (c *CMakeItem) CacheEntries(*Config) []string { return c.entries }

func (c *CMakeItem) Dependencies() []Dependency { return c.deps }

func (c *CMakeItem) ConfigEntries(depName string, cfg *Config) []string {
	return buildModules{item: c.Name()}.ConfigEntries(depName, cfg)
}

func (c *CMakeItem) Steps() []Step { return ninjaSteps(c, c.install) }

// AndroidCMakeItem cross-compiles a CMake project for one arch with the NDK
// toolchain file.
type AndroidCMakeItem struct {
	CMakeItem
	forArch
}

func (a *AndroidCMakeItem) Name() string { return a.CMakeItem.Name() + "-" + a.arch.Name }

func (a *AndroidCMakeItem) CacheEntries(cfg *Config) []string {
	entries := []string{
		"CMAKE_TOOLCHAIN_FILE=" + cfg.SDK.CMakeToolchainFile(),
		"ANDROID_ABI=" + a.arch.NDKABI,
		"ANDROID_PLATFORM=android-" + cfg.APILevel,
	}
	return append(entries, a.entries...)
}

func (a *AndroidCMakeItem) ConfigEntries(depName string, cfg *Config) []string {
	return buildModules{item: a.Name()}.ConfigEntries(depName, cfg)
}

func (a *AndroidCMakeItem) Steps() []Step { return ninjaSteps(a, a.install) }

func configureStepName(item string) string { return "configure-" + item }
func buildStepName(item string) string { return "build-" + item }
func installStepName(item string) string { return "install-" + item }

// ninjaSteps returns configure, build and optionally install for item. The
// configure step re-runs until the build step has completed, so a failed
// build can be fixed by changing cache entries.
func ninjaSteps(item NinjaBuildable, install bool) []Step {
	name := item.Name()
	steps := []Step{
		pipeline.Func[*Config]{
			Named: pipeline.Named{StepName: configureStepName(name)},
			Fn: func(_ context.Context, cfg *Config, logger *slog.Logger) error {
				if err := prepareSource(cfg, item, logger); err != nil {
					return err
				}
				return cmakeConfigure(cfg, item, logger)
			},
			Rerun: pipeline.UntilCompleted(buildStepName(name)),
		},
		pipeline.Func[*Config]{
			Named: pipeline.Named{StepName: buildStepName(name)},
			Fn: func(_ context.Context, cfg *Config, logger *slog.Logger) error {
				return ninjaBuild(cfg, item, logger)
			},
		},
	}
	if install {
		steps = append(steps, pipeline.Func[*Config]{
			Named: pipeline.Named{StepName: installStepName(name)},
			Fn: func(_ context.Context, cfg *Config, logger *slog.Logger) error {
				return cmakeInstall(cfg, item, logger)
			},
		})
	}
	return steps
}

// cmakeArgs builds the configure command line: base settings, the item's
// own entries, then each dependency's entries in declaration order.
func cmakeArgs(cfg *Config, item NinjaBuildable) []string {
	args := []string{
		"-G", "Ninja",
		"-S", item.SourceDir(cfg),
		"-B", cfg.BuildDir(item.Name()),
		"-D", "CMAKE_INSTALL_PREFIX=/",
		"-D", "CMAKE_BUILD_TYPE=Release",
	}
	for _, e := range item.CacheEntries(cfg) {
		args = append(args, "-D", e)
	}
	for _, dep := range item.Dependencies() {
		for _, e := range dep.Provider.ConfigEntries(dep.Name, cfg) {
			args = append(args, "-D", e)
		}
	}
	return args
}

func cmakeConfigure(cfg *Config, item NinjaBuildable, logger *slog.Logger) error {
	cmd := toolCommand(cfg, logger, cfg.SDK.CMakePath(), cmakeArgs(cfg, item)...)
	if _, err := cmd.Run(); err != nil {
		return fmt.Errorf("configure %s: %w", item.Name(), err)
	}
	return nil
}

func ninjaBuild(cfg *Config, item NinjaBuildable, logger *slog.Logger) error {
	args := append([]string{"-C", cfg.BuildDir(item.Name()), "-j" + strconv.Itoa(cfg.BuildJobs)}, item.Targets()...)
	cmd := toolCommand(cfg, logger, cfg.SDK.NinjaPath(), args...)
	if _, err := cmd.Run(); err != nil {
		return fmt.Errorf("build %s: %w", item.Name(), err)
	}
	return nil
}

func cmakeInstall(cfg *Config, item Item, logger *slog.Logger) error {
	dest := cfg.InstallDir(item.Name())
	if err := os.RemoveAll(dest); err != nil {
		return err
	}
	cmd := toolCommand(cfg, logger, cfg.SDK.CMakePath(), "--build", cfg.BuildDir(item.Name()), "--target", "install")
	cmd.Env["DESTDIR"] = dest
	if _, err := cmd.Run(); err != nil {
		return fmt.Errorf("install %s: %w", item.Name(), err)
	}
	return nil
}

// prepareSource resets the item's repository, applies its patch when one
// exists and recreates an empty build directory.
func prepareSource(cfg *Config, item Item, logger *slog.Logger) error {
	if rb, ok := item.(RepoBacked); ok {
		repo := rb.Repo()
		obj, err := resolveObject(item)
		if err != nil {
			return err
		}
		logger.Info("resetting repository", "repo", repo.Name, "object", obj)
		if err := gitReset(cfg.RepoDir(repo.Name), obj, logger); err != nil {
			return err
		}
		if p, ok := item.(Patched); ok {
			if err := applyPatch(cfg, repo.Name, p.PatchName(), logger); err != nil {
				return err
			}
		}
	}

	dir := cfg.BuildDir(item.Name())
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("wipe build directory: %w", err)
	}
	return os.MkdirAll(dir, 0o755)
}

func applyPatch(cfg *Config, repo, name string, logger *slog.Logger) error {
	patch := cfg.PatchPath(name)
	if !fileExists(patch) {
		logger.Debug("no patch", "path", patch)
		return nil
	}
	sum, err := fileB3(patch)
	if err != nil {
		return err
	}
	logger.Info("applying patch", "path", patch, "b3", sum)
	return gitApply(cfg.RepoDir(repo), patch, logger)
}

// resolveObject returns the git object a repo-backed item is reset to.
func resolveObject(item Item) (string, error) {
	if r, ok := item.(interface{ checkoutObject() (string, error) }); ok {
		return r.checkoutObject()
	}
	return item.(RepoBacked).Repo().Revision.Value, nil
}

// toolCommand prepares an invocation with the SDK's cmake directory first on
// PATH, so cmake finds the bundled ninja.
func toolCommand(cfg *Config, logger *slog.Logger, path string, args ...string) shell.Command {
	cmd := shell.New(path, args...)
	cmd.Logger = logger
	cmd.Env = inheritEnv()
	if cfg.SDK != nil {
		cmd.Env["PATH"] = cfg.SDK.CMakeBin + string(os.PathListSeparator) + cmd.Env["PATH"]
	}
	return cmd
}

func inheritEnv() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
