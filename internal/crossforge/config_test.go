package crossforge

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFileName)
	writeFile(t, path, `
workingDir: /tmp/work
sourceRoot: /src
ndkVersion: "26"
archs: [aarch64, x86_64]
buildJobs: 12
archive:
  format: xz
publish:
  bucket: toolchains
  prefix: nightly
`, 0o644)

	cfg, err := LoadConfig(path, true)
	require.NoError(t, err)
	require.Equal(t, "/tmp/work", cfg.WorkingDir)
	require.Equal(t, "26", cfg.NDKVersion)
	require.Equal(t, "21", cfg.APILevel)
	require.Equal(t, []string{"aarch64", "x86_64"}, cfg.Archs)
	require.Equal(t, 12, cfg.BuildJobs)
	require.Equal(t, 5, cfg.CheckoutConcurrency)
	require.Equal(t, ArchiveConfig{Format: "xz", Name: "android-toolchain"}, cfg.Archive)
	require.True(t, cfg.Publish.Enabled())
	require.Equal(t, "nightly", cfg.Publish.Prefix)
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFileName)
	cfg, err := LoadConfig(path, false)
	require.NoError(t, err)
	require.Equal(t, DefaultConfig().Archive, cfg.Archive)

	_, err = LoadConfig(path, true)
	require.ErrorContains(t, err, "read config")
}

func TestLoadConfigRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ConfigFileName)
	writeFile(t, path, "buildJobs: [1, 2\n", 0o644)
	_, err := LoadConfig(path, true)
	require.ErrorContains(t, err, "parse "+path)
}

func TestMergeEnvOverrides(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		env     []string
		check   func(t *testing.T, cfg *Config)
		message string
	}{
		{
			name: "strings and lists",
			env: []string{
				"CROSSFORGE_WORKING_DIR=/w",
				"CROSSFORGE_ARCHS=aarch64, x86",
				"CROSSFORGE_ARCHIVE_FORMAT=zip",
				"R2_BUCKET_NAME=bucket",
				"R2_ACCESS_KEY_ID=key",
				"UNRELATED=1",
			},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "/w", cfg.WorkingDir)
				require.Equal(t, []string{"aarch64", "x86"}, cfg.Archs)
				require.Equal(t, "zip", cfg.Archive.Format)
				require.Equal(t, "bucket", cfg.Publish.Bucket)
				require.Equal(t, "key", cfg.Publish.AccessKeyID)
			},
		},
		{
			name: "numbers",
			env:  []string{"CROSSFORGE_BUILD_JOBS=32", "CROSSFORGE_CHECKOUT_CONCURRENCY=2"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, 32, cfg.BuildJobs)
				require.Equal(t, 2, cfg.CheckoutConcurrency)
			},
		},
		{
			name:    "bad number",
			env:     []string{"CROSSFORGE_BUILD_JOBS=many"},
			message: `CROSSFORGE_BUILD_JOBS: "many" is not a number`,
		},
		{
			name: "android home fallback",
			env:  []string{"ANDROID_SDK_ROOT=/opt/sdk-root", "ANDROID_HOME=/opt/sdk"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "/opt/sdk", cfg.AndroidSDK)
			},
		},
		{
			name: "explicit sdk wins",
			env:  []string{"CROSSFORGE_ANDROID_SDK=/explicit", "ANDROID_HOME=/opt/sdk"},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "/explicit", cfg.AndroidSDK)
			},
		},
		{
			name: "empty values are ignored",
			env:  []string{"CROSSFORGE_API_LEVEL=", "CROSSFORGE_BUILD_JOBS="},
			check: func(t *testing.T, cfg *Config) {
				require.Equal(t, "21", cfg.APILevel)
				require.Equal(t, 5, cfg.BuildJobs)
			},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			err := mergeEnvOverrides(cfg, tc.env)
			if tc.message != "" {
				require.ErrorContains(t, err, tc.message)
				return
			}
			require.NoError(t, err)
			tc.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func(t *testing.T) *Config {
		cfg := DefaultConfig()
		cfg.WorkingDir = filepath.Join(t.TempDir(), "work")
		cfg.SourceRoot = t.TempDir()
		cfg.AndroidSDK = fakeSDK(t, []string{"25.1.8937393"}, []string{"3.22.1"})
		return cfg
	}

	t.Run("valid", func(t *testing.T) {
		t.Parallel()
		cfg := valid(t)
		cfg.Archs = []string{"x86_64"}
		require.NoError(t, cfg.Validate())
		require.DirExists(t, cfg.WorkingDir)
		require.True(t, filepath.IsAbs(cfg.WorkingDir))
		require.Equal(t, []Arch{ArchX86_64}, cfg.TargetArchs)
		require.NotNil(t, cfg.SDK)
		require.Equal(t, filepath.Join(cfg.WorkingDir, "android-toolchain.tar.zst"), cfg.ArchivePath())
	})

	testCases := []struct {
		name    string
		mutate  func(cfg *Config)
		message string
	}{
		{name: "no source root", mutate: func(c *Config) { c.SourceRoot = "" }, message: "source root is not set"},
		{name: "missing source root", mutate: func(c *Config) { c.SourceRoot = "/does/not/exist" }, message: "source root not found"},
		{name: "zero jobs", mutate: func(c *Config) { c.BuildJobs = 0 }, message: "buildJobs must be at least 1"},
		{name: "zero concurrency", mutate: func(c *Config) { c.CheckoutConcurrency = 0 }, message: "checkoutConcurrency must be at least 1"},
		{name: "bad format", mutate: func(c *Config) { c.Archive.Format = "rar" }, message: "unsupported archive format"},
		{name: "no archive name", mutate: func(c *Config) { c.Archive.Name = "" }, message: "archive name is not set"},
		{name: "publish without keys", mutate: func(c *Config) { c.Publish.Bucket = "b" }, message: "credentials are missing"},
		{name: "bad arch", mutate: func(c *Config) { c.Archs = []string{"sparc"} }, message: "unsupported arch"},
		{name: "no sdk", mutate: func(c *Config) { c.AndroidSDK = "" }, message: "android SDK path is not set"},
		{name: "bad ndk version", mutate: func(c *Config) { c.NDKVersion = "r25" }, message: "ndk version"},
		{name: "ndk not installed", mutate: func(c *Config) { c.NDKVersion = "27" }, message: "no usable NDK v27"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid(t)
			tc.mutate(cfg)
			require.ErrorContains(t, cfg.Validate(), tc.message)
		})
	}
}

func TestConfigPaths(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.WorkingDir = "/w"
	cfg.SourceRoot = "/src"
	cfg.Archive.Format = "zip"

	require.Equal(t, "/w/logs", cfg.LogsDir())
	require.Equal(t, "/w/build/swift", cfg.BuildDir("swift"))
	require.Equal(t, "/w/install/openssl-x86", cfg.InstallDir("openssl-x86"))
	require.Equal(t, "/w/toolchain", cfg.ToolchainDir())
	require.Equal(t, "/w/yams", cfg.RepoDir("yams"))
	require.Equal(t, "/src/patches/swift.patch", cfg.PatchPath("swift"))
	require.Equal(t, "/w/android-toolchain.zip", cfg.ArchivePath())
}
