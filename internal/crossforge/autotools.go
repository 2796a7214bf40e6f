package crossforge

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"

	"crossforge/internal/pipeline"
	"crossforge/internal/shell"
)

const commonCFlags = "-Os -fpic -ffunction-sections -funwind-tables -fstack-protector -fno-strict-aliasing"

// configureFlavor selects how an autotools-style project is configured.
type configureFlavor int

const (
	// flavorAutoconf runs autogen.sh (when bootstrap is set) and configure
	// with the NDK compilers exported.
	flavorAutoconf configureFlavor = iota
	// flavorOpenSSL runs OpenSSL's perl Configure with an android-* target.
	flavorOpenSSL
)

// AutotoolsItem cross-compiles a configure/make project for one arch.
type AutotoolsItem struct {
	repoSource
	forArch
	flavor      configureFlavor
	bootstrap   bool
	args        []string
	makeArgs    []string
	installArgs []string
}

func (a *AutotoolsItem) Name() string { return a.repo.Name + "-" + a.arch.Name }

func makeStepName(item string) string { return "make-" + item }

func (a *AutotoolsItem) Steps() []Step {
	name := a.Name()
	return []Step{
		pipeline.Func[*Config]{
			Named: pipeline.Named{StepName: configureStepName(name)},
			Fn: func(_ context.Context, cfg *Config, logger *slog.Logger) error {
				if err := prepareSource(cfg, a, logger); err != nil {
					return err
				}
				if err := os.MkdirAll(cfg.InstallDir(name), 0o755); err != nil {
					return err
				}
				return a.configure(cfg, logger)
			},
			Rerun: pipeline.UntilCompleted(makeStepName(name)),
		},
		pipeline.Func[*Config]{
			Named: pipeline.Named{StepName: makeStepName(name)},
			Fn: func(_ context.Context, cfg *Config, logger *slog.Logger) error {
				args := append([]string{"-j" + strconv.Itoa(cfg.BuildJobs)}, a.makeArgs...)
				return a.make(cfg, logger, args)
			},
		},
		pipeline.Func[*Config]{
			Named: pipeline.Named{StepName: installStepName(name)},
			Fn: func(_ context.Context, cfg *Config, logger *slog.Logger) error {
				args := a.installArgs
				if len(args) == 0 {
					args = []string{"install"}
				}
				return a.make(cfg, logger, args)
			},
		},
	}
}

// compilerExports are the NDK compiler settings autoconf picks up from the
// environment.
func compilerExports(cfg *Config, arch Arch) []string {
	flags := commonCFlags + " " + arch.CFlags
	return []string{
		"CC='" + cfg.SDK.ClangPath(arch, cfg.APILevel) + "'",
		"CXX='" + cfg.SDK.ClangPPPath(arch, cfg.APILevel) + "'",
		"CHOST=" + arch.NDKLibArchName,
		"CFLAGS='" + flags + "'",
		"CPPFLAGS='" + flags + "'",
		"CXXFLAGS='" + flags + " -frtti -fexceptions -std=c++11 -Wno-error=unused-command-line-argument'",
	}
}

// configureCommand renders the configure invocation as login-shell parts.
func (a *AutotoolsItem) configureCommand(cfg *Config) []string {
	src := a.SourceDir(cfg)
	prefix := "--prefix=" + cfg.InstallDir(a.Name())

	switch a.flavor {
	case flavorOpenSSL:
		parts := []string{
			"ANDROID_NDK_ROOT=" + cfg.SDK.NDK.Dir,
			"ANDROID_NDK_HOME=" + cfg.SDK.NDK.Dir,
			"PATH=" + filepath.Join(cfg.SDK.NDK.Toolchain, "bin") + ":$PATH",
			filepath.Join(src, "Configure"),
			opensslTarget(a.arch),
			"-D__ANDROID_API__=" + cfg.APILevel,
			prefix,
		}
		return append(parts, a.args...)
	default:
		parts := append(compilerExports(cfg, a.arch), filepath.Join(src, "configure"),
			"--host="+a.arch.NDKLibArchName,
			"--with-sysroot="+filepath.Join(cfg.SDK.NDK.Toolchain, "sysroot"),
			prefix,
		)
		return append(parts, a.args...)
	}
}

func (a *AutotoolsItem) configure(cfg *Config, logger *slog.Logger) error {
	dir := cfg.BuildDir(a.Name())
	if a.bootstrap {
		cmd := shell.Login("NOCONFIGURE=1", filepath.Join(a.SourceDir(cfg), "autogen.sh"))
		cmd.Dir = a.SourceDir(cfg)
		cmd.Logger = logger
		if _, err := cmd.Run(); err != nil {
			return fmt.Errorf("autogen %s: %w", a.Name(), err)
		}
	}
	cmd := shell.Login(a.configureCommand(cfg)...)
	cmd.Dir = dir
	cmd.Logger = logger
	if _, err := cmd.Run(); err != nil {
		return fmt.Errorf("configure %s: %w", a.Name(), err)
	}
	return nil
}

func (a *AutotoolsItem) make(cfg *Config, logger *slog.Logger, args []string) error {
	cmd := shell.Login(append([]string{"make"}, args...)...)
	cmd.Dir = cfg.BuildDir(a.Name())
	cmd.Logger = logger
	if _, err := cmd.Run(); err != nil {
		return fmt.Errorf("make %s %v: %w", a.Name(), args, err)
	}
	return nil
}

func opensslTarget(arch Arch) string {
	switch arch.Name {
	case ArchARM64.Name:
		return "android-arm64"
	case ArchARMv7.Name:
		return "android-arm"
	case ArchX86.Name:
		return "android-x86"
	default:
		return "android-x86_64"
	}
}
