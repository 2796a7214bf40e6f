package crossforge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFileName is looked up in the working directory when --config is not
// given.
const ConfigFileName = "crossforge.yaml"

// ArchiveConfig selects how the finished toolchain is packaged.
type ArchiveConfig struct {
	Format string `yaml:"format"`
	Name   string `yaml:"name"`
}

// PublishConfig holds the R2/S3 destination of the packaged toolchain.
type PublishConfig struct {
	AccountID       string `yaml:"accountId"`
	Bucket          string `yaml:"bucket"`
	AccessKeyID     string `yaml:"accessKeyId"`
	SecretAccessKey string `yaml:"secretAccessKey"`
	Prefix          string `yaml:"prefix"`
	// Endpoint overrides the R2 endpoint derived from AccountID.
	Endpoint string `yaml:"endpoint"`
}

// Enabled reports whether a publish destination is configured.
func (p PublishConfig) Enabled() bool {
	return p.Bucket != ""
}

// Config is the build configuration threaded through every step.
type Config struct {
	WorkingDir          string        `yaml:"workingDir"`
	SourceRoot          string        `yaml:"sourceRoot"`
	AndroidSDK          string        `yaml:"androidSdk"`
	NDKVersion          string        `yaml:"ndkVersion"`
	APILevel            string        `yaml:"apiLevel"`
	Archs               []string      `yaml:"archs"`
	CheckoutConcurrency int           `yaml:"checkoutConcurrency"`
	BuildJobs           int           `yaml:"buildJobs"`
	LogLevel            string        `yaml:"logLevel"`
	Revisions           string        `yaml:"revisions"`
	Archive             ArchiveConfig `yaml:"archive"`
	Publish             PublishConfig `yaml:"publish"`

	// Resolved by Validate.
	SDK         *AndroidSDK `yaml:"-"`
	TargetArchs []Arch      `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		WorkingDir:          ".",
		NDKVersion:          "25",
		APILevel:            "21",
		CheckoutConcurrency: 5,
		BuildJobs:           5,
		LogLevel:            "info",
		Archive:             ArchiveConfig{Format: "zst", Name: "android-toolchain"},
	}
}

// LoadConfig reads path over the defaults and applies environment overrides.
// A missing file is not an error unless required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && !required:
		debugf("=> No config file at %s, using defaults\n", path)
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := mergeEnvOverrides(cfg, os.Environ()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeEnvOverrides applies CROSSFORGE_* and R2_* variables on top of cfg.
func mergeEnvOverrides(cfg *Config, environ []string) error {
	env := make(map[string]string)
	for _, kv := range environ {
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) == 2 {
			env[parts[0]] = parts[1]
		}
	}

	str := map[string]*string{
		"CROSSFORGE_WORKING_DIR":    &cfg.WorkingDir,
		"CROSSFORGE_SOURCE_ROOT":    &cfg.SourceRoot,
		"CROSSFORGE_ANDROID_SDK":    &cfg.AndroidSDK,
		"CROSSFORGE_NDK_VERSION":    &cfg.NDKVersion,
		"CROSSFORGE_API_LEVEL":      &cfg.APILevel,
		"CROSSFORGE_LOG_LEVEL":      &cfg.LogLevel,
		"CROSSFORGE_REVISIONS":      &cfg.Revisions,
		"CROSSFORGE_ARCHIVE_FORMAT": &cfg.Archive.Format,
		"CROSSFORGE_ARCHIVE_NAME":   &cfg.Archive.Name,
		"CROSSFORGE_PUBLISH_PREFIX": &cfg.Publish.Prefix,
		"CROSSFORGE_R2_ENDPOINT":    &cfg.Publish.Endpoint,
		"R2_ACCOUNT_ID":             &cfg.Publish.AccountID,
		"R2_ACCESS_KEY_ID":          &cfg.Publish.AccessKeyID,
		"R2_SECRET_ACCESS_KEY":      &cfg.Publish.SecretAccessKey,
		"R2_BUCKET_NAME":            &cfg.Publish.Bucket,
	}
	for key, dst := range str {
		if v, ok := env[key]; ok && v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"CROSSFORGE_CHECKOUT_CONCURRENCY": &cfg.CheckoutConcurrency,
		"CROSSFORGE_BUILD_JOBS":           &cfg.BuildJobs,
	}
	for key, dst := range ints {
		v, ok := env[key]
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %q is not a number", key, v)
		}
		*dst = n
	}

	if v := env["CROSSFORGE_ARCHS"]; v != "" {
		cfg.Archs = splitList(v)
	}
	if env["CROSSFORGE_DEBUG"] == "1" {
		Debug = true
	}

	// Fall back to the SDK variables Android tooling already exports.
	if cfg.AndroidSDK == "" {
		for _, key := range []string{"ANDROID_HOME", "ANDROID_SDK_ROOT"} {
			if v := env[key]; v != "" {
				cfg.AndroidSDK = v
				break
			}
		}
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, f := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, strings.TrimSpace(f))
	}
	return out
}

// Validate checks every precondition before any mutating work starts and
// resolves the SDK and target archs. The working directory is created when
// missing.
func (c *Config) Validate() error {
	if c.WorkingDir == "" {
		return errors.New("working directory is not set")
	}
	abs, err := filepath.Abs(c.WorkingDir)
	if err != nil {
		return err
	}
	c.WorkingDir = abs
	if err := os.MkdirAll(c.WorkingDir, 0o755); err != nil {
		return fmt.Errorf("create working directory: %w", err)
	}

	if c.SourceRoot == "" {
		return errors.New("source root is not set")
	}
	if c.SourceRoot, err = filepath.Abs(c.SourceRoot); err != nil {
		return err
	}
	if !dirExists(c.SourceRoot) {
		return &PreconditionError{What: "source root", Path: c.SourceRoot}
	}

	if c.CheckoutConcurrency < 1 {
		return fmt.Errorf("checkoutConcurrency must be at least 1, got %d", c.CheckoutConcurrency)
	}
	if c.BuildJobs < 1 {
		return fmt.Errorf("buildJobs must be at least 1, got %d", c.BuildJobs)
	}
	if _, err := archiveExt(c.Archive.Format); err != nil {
		return err
	}
	if c.Archive.Name == "" {
		return errors.New("archive name is not set")
	}
	if c.Publish.Enabled() && (c.Publish.AccessKeyID == "" || c.Publish.SecretAccessKey == "") {
		return errors.New("publish bucket is set but credentials are missing (R2_ACCESS_KEY_ID, R2_SECRET_ACCESS_KEY)")
	}

	if c.TargetArchs, err = ResolveArchs(c.Archs); err != nil {
		return err
	}

	if c.AndroidSDK == "" {
		return errors.New("android SDK path is not set (--android-sdk or ANDROID_HOME)")
	}
	major, err := ParseNDKMajor(c.NDKVersion)
	if err != nil {
		return err
	}
	if c.SDK, err = DiscoverSDK(c.AndroidSDK, major); err != nil {
		return err
	}
	return nil
}

// LogsDir holds the per-step logs.
func (c *Config) LogsDir() string { return filepath.Join(c.WorkingDir, "logs") }

// BuildsDir is the parent of every item build directory.
func (c *Config) BuildsDir() string { return filepath.Join(c.WorkingDir, "build") }

// InstallRoot is the parent of every item install directory.
func (c *Config) InstallRoot() string { return filepath.Join(c.WorkingDir, "install") }

// ToolchainDir receives the assembled toolchain.
func (c *Config) ToolchainDir() string { return filepath.Join(c.WorkingDir, "toolchain") }

// RepoDir is where the named repository is checked out.
func (c *Config) RepoDir(repo string) string { return filepath.Join(c.WorkingDir, repo) }

// BuildDir is the build directory of the named item.
func (c *Config) BuildDir(item string) string { return filepath.Join(c.BuildsDir(), item) }

// InstallDir is the install directory of the named item.
func (c *Config) InstallDir(item string) string { return filepath.Join(c.InstallRoot(), item) }

// PatchPath is the optional patch applied to a repository before configure.
func (c *Config) PatchPath(name string) string {
	return filepath.Join(c.SourceRoot, "patches", name+".patch")
}

// ArchivePath is the packaged toolchain file.
func (c *Config) ArchivePath() string {
	ext, _ := archiveExt(c.Archive.Format)
	return filepath.Join(c.WorkingDir, c.Archive.Name+ext)
}
