package crossforge

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	ndkGCCVersion   = "4.9"
	ndkClangVersion = "14.0.6"
)

var (
	repoLLVM           = Repo{Name: "llvm-project", URL: "https://github.com/apple/llvm-project.git"}
	repoCmark          = Repo{Name: "swift-cmark", URL: "https://github.com/apple/swift-cmark.git"}
	repoSwift          = Repo{Name: "swift", URL: "https://github.com/apple/swift.git", Revision: Tag("swift-5.7-RELEASE")}
	repoYams           = Repo{Name: "yams", URL: "https://github.com/jpsim/yams.git"}
	repoArgumentParser = Repo{Name: "swift-argument-parser", URL: "https://github.com/apple/swift-argument-parser.git"}
	repoSwiftSystem    = Repo{Name: "swift-system", URL: "https://github.com/apple/swift-system.git"}
	repoLibDispatch    = Repo{Name: "swift-corelibs-libdispatch", URL: "https://github.com/apple/swift-corelibs-libdispatch.git"}
	repoLibXML2        = Repo{Name: "libxml2", URL: "https://github.com/GNOME/libxml2.git"}
	repoOpenSSL        = Repo{Name: "openssl", URL: "https://github.com/openssl/openssl.git"}
)

// DefaultGraph returns the Android toolchain build: host LLVM, cmark and the
// Swift compiler, then per-arch libdispatch, libxml2 and OpenSSL.
func DefaultGraph(revs RevisionTable, archs []Arch) *Graph {
	src := func(r Repo, subdir string) repoSource {
		return repoSource{repo: r, subdir: subdir, revs: revs}
	}

	llvm := &CMakeItem{
		repoSource: src(repoLLVM, "llvm"),
		targets:    []string{"clang", "llvm-tblgen", "clang-tblgen", "llvm-libraries", "clang-libraries"},
		entries: []string{
			"LLVM_INCLUDE_EXAMPLES=false",
			"LLVM_INCLUDE_TESTS=false",
			"LLVM_INCLUDE_DOCS=false",
			"LLVM_BUILD_TOOLS=false",
			"LLVM_INSTALL_BINUTILS_SYMLINKS=false",
			"LLVM_ENABLE_ASSERTIONS=TRUE",
			"LLVM_BUILD_EXTERNAL_COMPILER_RT=TRUE",
			"LLVM_ENABLE_PROJECTS=clang",
		},
	}
	cmark := &CMakeItem{repoSource: src(repoCmark, "")}
	swift := &CMakeItem{
		repoSource: src(repoSwift, ""),
		entries:    swiftEntries(archs),
		deps: []Dependency{
			{Name: "LLVM", Provider: llvmModule{item: llvm.Name()}},
			{Name: "Clang", Provider: llvmModule{item: llvm.Name()}},
			{Name: "Cmark", Provider: cmarkDependency{repo: repoCmark.Name, item: cmark.Name()}},
			{Name: "NDK", Provider: ndkDependency{}},
		},
		install: true,
	}

	items := []Item{
		llvm,
		cmark,
		&CMakeItem{repoSource: src(repoYams, "")},
		&CMakeItem{repoSource: src(repoArgumentParser, "")},
		&CMakeItem{repoSource: src(repoSwiftSystem, "")},
		swift,
	}
	for _, arch := range archs {
		items = append(items,
			&AndroidCMakeItem{
				CMakeItem: CMakeItem{
					repoSource: src(repoLibDispatch, ""),
					entries:    []string{"ENABLE_SWIFT=NO", "ENABLE_TESTING=NO", "BUILD_SHARED_LIBS=YES"},
					install:    true,
				},
				forArch: forArch{arch: arch},
			},
			&AutotoolsItem{
				repoSource: src(repoLibXML2, ""),
				forArch:    forArch{arch: arch},
				flavor:     flavorAutoconf,
				bootstrap:  true,
				args: []string{
					"--without-lzma", "--disable-static", "--enable-shared",
					"--without-http", "--without-html", "--without-ftp", "--without-python",
				},
			},
			&AutotoolsItem{
				repoSource:  src(repoOpenSSL, ""),
				forArch:     forArch{arch: arch},
				flavor:      flavorOpenSSL,
				makeArgs:    []string{"SHLIB_VERSION_NUMBER=", "SHLIB_EXT=.so"},
				installArgs: []string{"SHLIB_VERSION_NUMBER=", "SHLIB_EXT=.so", "install_sw", "install_ssldirs"},
			},
		)
	}

	return &Graph{
		Repos: []Repo{
			repoSwift, repoLLVM, repoCmark, repoYams, repoArgumentParser,
			repoSwiftSystem, repoLibDispatch, repoLibXML2, repoOpenSSL,
		},
		Items:     items,
		Revisions: revs,
	}
}

// swiftEntries configures a compiler that targets every selected Android
// arch from the build host.
func swiftEntries(archs []Arch) []string {
	swiftArchs := make([]string, len(archs))
	for i, a := range archs {
		swiftArchs[i] = a.SwiftArch
	}
	variant, sdk := "linux", "LINUX"
	if runtime.GOOS == "darwin" {
		variant, sdk = "macosx", "OSX"
	}
	hostArch := "x86_64"
	if runtime.GOARCH == "arm64" {
		hostArch = "arm64"
	}

	return []string{
		"SWIFT_HOST_VARIANT=" + variant,
		"SWIFT_HOST_VARIANT_SDK=" + sdk,
		"SWIFT_HOST_VARIANT_ARCH=" + hostArch,
		"SWIFT_SDKS=ANDROID;" + sdk,
		"SWIFT_PRIMARY_VARIANT_SDK=ANDROID",
		"SWIFT_SDK_ANDROID_ARCHITECTURES=" + strings.Join(swiftArchs, ";"),
		"SWIFT_ANDROID_DEPLOY_DEVICE_PATH=/data/local/tmp",
		"SWIFT_STDLIB_ENABLE_SIL_OWNERSHIP=FALSE",
		"SWIFT_ENABLE_GUARANTEED_NORMAL_ARGUMENTS=TRUE",
		"CMAKE_EXPORT_COMPILE_COMMANDS=TRUE",
		"SWIFT_STDLIB_ENABLE_STDLIBCORE_EXCLUSIVITY_CHECKING=FALSE",
		"SWIFT_BUILD_SOURCEKIT=FALSE",
		"SWIFT_ENABLE_SOURCEKIT_TESTS=FALSE",
		"SWIFT_SOURCEKIT_USE_INPROC_LIBRARY=TRUE",
		"SWIFT_STDLIB_ASSERTIONS=FALSE",
		"SWIFT_INCLUDE_TOOLS=TRUE",
		"SWIFT_BUILD_REMOTE_MIRROR=TRUE",
		"SWIFT_STDLIB_SIL_DEBUGGING=FALSE",
		"SWIFT_BUILD_DYNAMIC_STDLIB=FALSE",
		"SWIFT_BUILD_STATIC_STDLIB=FALSE",
		"SWIFT_BUILD_DYNAMIC_SDK_OVERLAY=FALSE",
		"SWIFT_BUILD_STATIC_SDK_OVERLAY=FALSE",
		"SWIFT_BUILD_PERF_TESTSUITE=FALSE",
		"SWIFT_BUILD_EXTERNAL_PERF_TESTSUITE=FALSE",
		"SWIFT_BUILD_EXAMPLES=FALSE",
		"SWIFT_INCLUDE_TESTS=FALSE",
		"SWIFT_INCLUDE_DOCS=FALSE",
		"SWIFT_INSTALL_COMPONENTS=autolink-driver;compiler;clang-builtin-headers;stdlib;swift-remote-mirror;sdk-overlay;license",
		"SWIFT_ENABLE_LLD_LINKER=FALSE",
		"SWIFT_ENABLE_GOLD_LINKER=TRUE",
		"SWIFT_ENABLE_DISPATCH=false",
		"LIBDISPATCH_CMAKE_BUILD_TYPE=Release",
		"SWIFT_OVERLAY_TARGETS=",
		"SWIFT_ENABLE_IOS32=false",
		"SWIFT_AST_VERIFIER=FALSE",
		"SWIFT_RUNTIME_ENABLE_LEAK_CHECKER=FALSE",
		"SWIFT_STDLIB_SUPPORT_BACK_DEPLOYMENT=FALSE",
		"LLVM_LIT_ARGS=-sv",
		"LLVM_ENABLE_ASSERTIONS=TRUE",
		"COVERAGE_DB=",
	}
}

// llvmModule points <Dep>_DIR at the per-project CMake package LLVM exports
// from its build tree.
type llvmModule struct {
	item string
}

func (l llvmModule) ConfigEntries(depName string, cfg *Config) []string {
	dir := filepath.Join(cfg.BuildDir(l.item), "lib", "cmake", strings.ToLower(depName))
	return []string{fmt.Sprintf("%s_DIR=%s", depName, dir)}
}

// cmarkDependency hands Swift the cmark source and build trees.
type cmarkDependency struct {
	repo string
	item string
}

func (c cmarkDependency) ConfigEntries(_ string, cfg *Config) []string {
	return []string{
		"SWIFT_PATH_TO_CMARK_SOURCE=" + cfg.RepoDir(c.repo),
		"SWIFT_PATH_TO_CMARK_BUILD=" + cfg.BuildDir(c.item),
	}
}

// ndkDependency describes the NDK to the Swift build.
type ndkDependency struct{}

func (ndkDependency) ConfigEntries(_ string, cfg *Config) []string {
	return []string{
		"SWIFT_ANDROID_NDK_PATH=" + cfg.SDK.NDK.Dir,
		"SWIFT_ANDROID_NDK_GCC_VERSION=" + ndkGCCVersion,
		"SWIFT_ANDROID_API_LEVEL=" + cfg.APILevel,
		"SWIFT_ANDROID_NDK_CLANG_VERSION=" + ndkClangVersion,
	}
}
