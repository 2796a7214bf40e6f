package crossforge

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
)

// NDK is a validated Android NDK installation.
type NDK struct {
	Dir       string
	Version   Version
	Toolchain string
}

// AndroidSDK holds the tool locations found under an SDK root.
type AndroidSDK struct {
	Root     string
	NDK      NDK
	CMakeBin string
}

// hostTag is the NDK prebuilt folder name for the running host.
func hostTag() string {
	if runtime.GOOS == "darwin" {
		return "darwin-x86_64"
	}
	return "linux-x86_64"
}

// DiscoverSDK validates root and picks an NDK whose major version equals
// ndkMajor plus the newest CMake shipped with the SDK.
func DiscoverSDK(root string, ndkMajor int) (*AndroidSDK, error) {
	if !dirExists(root) {
		return nil, &PreconditionError{What: "Android SDK", Path: root}
	}
	ndk, err := findNDK(filepath.Join(root, "ndk"), ndkMajor)
	if err != nil {
		return nil, err
	}
	cmakeBin, err := findCMake(filepath.Join(root, "cmake"))
	if err != nil {
		return nil, err
	}
	return &AndroidSDK{Root: root, NDK: ndk, CMakeBin: cmakeBin}, nil
}

func findNDK(dir string, major int) (NDK, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return NDK{}, &PreconditionError{What: "NDK folder", Path: dir, Err: err}
	}

	var errs []error
	var found []NDK
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		candidate := filepath.Join(dir, e.Name())
		v, err := ParseVersion(e.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", candidate, err))
			continue
		}
		if v.Major != major {
			errs = append(errs, fmt.Errorf("%s: major version %d, want %d", candidate, v.Major, major))
			continue
		}
		toolchain := filepath.Join(candidate, "toolchains", "llvm", "prebuilt", hostTag())
		if !dirExists(toolchain) {
			errs = append(errs, fmt.Errorf("%s: missing toolchain folder %s", candidate, toolchain))
			continue
		}
		found = append(found, NDK{Dir: candidate, Version: v, Toolchain: toolchain})
	}
	if len(found) == 0 {
		if len(errs) == 0 {
			errs = append(errs, errors.New("folder is empty"))
		}
		return NDK{}, NewCompositeError(fmt.Sprintf("no usable NDK v%d in %s", major, dir), errs...)
	}
	sort.Slice(found, func(i, j int) bool { return found[j].Version.Less(found[i].Version) })
	return found[0], nil
}

func findCMake(dir string) (string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", &PreconditionError{What: "CMake folder", Path: dir, Err: err}
	}

	type candidate struct {
		bin string
		v   Version
	}
	var errs []error
	var found []candidate
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		bin := filepath.Join(dir, e.Name(), "bin")
		v, err := ParseVersion(e.Name())
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			continue
		}
		if !fileExists(filepath.Join(bin, "cmake")) {
			errs = append(errs, fmt.Errorf("%s: no cmake binary in %s", e.Name(), bin))
			continue
		}
		found = append(found, candidate{bin: bin, v: v})
	}
	if len(found) == 0 {
		if len(errs) == 0 {
			errs = append(errs, errors.New("folder is empty"))
		}
		return "", NewCompositeError("no usable CMake in "+dir, errs...)
	}
	sort.Slice(found, func(i, j int) bool { return found[j].v.Less(found[i].v) })
	return found[0].bin, nil
}

// ClangPath returns the API-level specific clang driver for arch.
func (s *AndroidSDK) ClangPath(arch Arch, apiLevel string) string {
	return filepath.Join(s.NDK.Toolchain, "bin", arch.ClangPrefix+apiLevel+"-clang")
}

// ClangPPPath is the C++ counterpart of ClangPath.
func (s *AndroidSDK) ClangPPPath(arch Arch, apiLevel string) string {
	return filepath.Join(s.NDK.Toolchain, "bin", arch.ClangPrefix+apiLevel+"-clang++")
}

// CMakePath is the cmake executable.
func (s *AndroidSDK) CMakePath() string {
	return filepath.Join(s.CMakeBin, "cmake")
}

// NinjaPath is the ninja executable bundled with the SDK's CMake.
func (s *AndroidSDK) NinjaPath() string {
	return filepath.Join(s.CMakeBin, "ninja")
}

// CMakeToolchainFile is the NDK's android.toolchain.cmake.
func (s *AndroidSDK) CMakeToolchainFile() string {
	return filepath.Join(s.NDK.Dir, "build", "cmake", "android.toolchain.cmake")
}

// ParseNDKMajor converts the configured NDK version to its major number.
func ParseNDKMajor(s string) (int, error) {
	v, err := ParseVersion(s)
	if err != nil {
		return 0, fmt.Errorf("ndk version: %w", err)
	}
	return v.Major, nil
}

func dirExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}

func fileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}
