// config.go: Loader configuration, defaults, validation and file loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// Config drives a Loader. Zero values are replaced by ApplyDefaults.
type Config struct {
	// AppNativeDir is the application's private native library directory,
	// checked first by the system search. Empty skips it.
	AppNativeDir string `json:"app_native_dir,omitempty" yaml:"app_native_dir,omitempty"`

	// SystemRoot holds vendor/lib64, vendor/lib, lib64 and lib. Empty
	// restricts the system search to AppNativeDir.
	SystemRoot string `json:"system_root,omitempty" yaml:"system_root,omitempty"`

	// SearchDirectories replaces the directory list derived from
	// AppNativeDir and SystemRoot when set.
	SearchDirectories []SearchDirectory `json:"search_directories,omitempty" yaml:"search_directories,omitempty"`

	// InstallRoot receives "<tag>" install and "<tag>-<pid>" staging
	// directories. Anything else found there is deleted.
	InstallRoot string `json:"install_root" yaml:"install_root"`

	// BundlePath is a zip archive with "lib/<abi>/<file>" entries.
	BundlePath string `json:"bundle_path,omitempty" yaml:"bundle_path,omitempty"`

	// AssetRoot is an unpacked asset tree. It takes precedence over
	// BundlePath.
	AssetRoot string `json:"asset_root,omitempty" yaml:"asset_root,omitempty"`

	ABIs     []string `json:"abis,omitempty" yaml:"abis,omitempty"`
	Platform string   `json:"platform,omitempty" yaml:"platform,omitempty"`

	// UpdateEpsilon is the freshness tolerance window.
	UpdateEpsilon time.Duration `json:"update_epsilon" yaml:"update_epsilon"`

	// CheckSystemFreshness applies the freshness gate to system candidates
	// too. Off by default: system libraries predate the application.
	CheckSystemFreshness bool `json:"check_system_freshness,omitempty" yaml:"check_system_freshness,omitempty"`

	// ForceExtract skips the default and system lookups.
	ForceExtract bool `json:"force_extract,omitempty" yaml:"force_extract,omitempty"`

	// DisableExtraction never touches the bundle or the install root.
	DisableExtraction bool `json:"disable_extraction,omitempty" yaml:"disable_extraction,omitempty"`

	// VersionCode and PackageMetadataPath select the package information
	// source when none is given to the Loader: a metadata file when the
	// path is set, otherwise the running executable stamped with
	// VersionCode.
	VersionCode         int64  `json:"version_code,omitempty" yaml:"version_code,omitempty"`
	PackageMetadataPath string `json:"package_metadata_path,omitempty" yaml:"package_metadata_path,omitempty"`

	HashAlgorithm HashAlgorithm     `json:"hash_algorithm,omitempty" yaml:"hash_algorithm,omitempty"`
	Checksums     map[string]string `json:"checksums,omitempty" yaml:"checksums,omitempty"`

	// AuditFile enables the argus audit trail of install and cleanup events.
	AuditFile string `json:"audit_file,omitempty" yaml:"audit_file,omitempty"`
}

// DefaultConfig returns a configuration for the current platform.
func DefaultConfig() Config {
	config := Config{}
	config.ApplyDefaults()
	return config
}

// DefaultInstallRoot is the user cache directory, or the temp directory
// when no cache directory is known.
func DefaultInstallRoot() string {
	base, err := os.UserCacheDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "nativeload")
}

func defaultSystemRoot(platform string) string {
	switch platform {
	case "android":
		return "/system"
	case "windows", "ios", "js", "wasip1":
		return ""
	default:
		return "/usr"
	}
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Platform == "" {
		c.Platform = runtime.GOOS
	}
	if c.SystemRoot == "" && len(c.SearchDirectories) == 0 {
		c.SystemRoot = defaultSystemRoot(c.Platform)
	}
	if c.InstallRoot == "" {
		c.InstallRoot = DefaultInstallRoot()
	}
	if len(c.ABIs) == 0 {
		c.ABIs = DefaultABIs()
	}
	if c.UpdateEpsilon == 0 {
		c.UpdateEpsilon = DefaultUpdateEpsilon
	}
	if c.HashAlgorithm == "" {
		c.HashAlgorithm = HashAlgorithmSHA256
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.InstallRoot == "" {
		return NewConfigValidationError("install_root is required", nil)
	}
	if !filepath.IsAbs(c.InstallRoot) {
		return NewConfigValidationError(fmt.Sprintf("install_root must be absolute: %s", c.InstallRoot), nil)
	}
	if c.UpdateEpsilon < 0 {
		return NewConfigValidationError("update_epsilon cannot be negative", nil)
	}
	if c.ForceExtract && c.DisableExtraction {
		return NewConfigValidationError("force_extract and disable_extraction are mutually exclusive", nil)
	}
	if c.HashAlgorithm != "" && !c.HashAlgorithm.Valid() {
		return NewConfigValidationError(fmt.Sprintf("unsupported hash algorithm: %s", c.HashAlgorithm), nil)
	}
	for _, abi := range c.ABIs {
		if abi == "" || strings.ContainsAny(abi, `/\`) || abi == ".." {
			return NewConfigValidationError(fmt.Sprintf("invalid ABI: %q", abi), nil)
		}
	}
	for i, dir := range c.SearchDirectories {
		if dir.Path != "" && !filepath.IsAbs(dir.Path) {
			return NewConfigValidationError(fmt.Sprintf("search directory %d must be absolute: %s", i, dir.Path), nil)
		}
	}
	return nil
}

// Directories returns the ordered system search list.
func (c Config) Directories() []SearchDirectory {
	if len(c.SearchDirectories) > 0 {
		return append([]SearchDirectory(nil), c.SearchDirectories...)
	}
	if c.SystemRoot == "" {
		return []SearchDirectory{{Name: DirAppNative, Path: c.AppNativeDir}}
	}
	return DefaultSearchDirectories(c.AppNativeDir, c.SystemRoot)
}

// BundleOpener returns the opener for the configured bundle, or nil when
// neither AssetRoot nor BundlePath is set.
func (c Config) BundleOpener() BundleOpener {
	switch {
	case c.AssetRoot != "":
		return AssetDirOpener(c.AssetRoot)
	case c.BundlePath != "":
		return ZipBundleOpener(c.BundlePath)
	default:
		return nil
	}
}

// PackageInfoSource returns the package information source implied by the
// configuration.
func (c Config) PackageInfoSource() PackageInfoSource {
	if c.PackageMetadataPath != "" {
		return ManifestPackageInfo{Path: c.PackageMetadataPath}
	}
	return ExecutablePackageInfo{VersionCode: c.VersionCode}
}

// LoadConfigFromFile reads a configuration file in any format argus
// detects. YAML goes through yaml.v3; the rest through argus into JSON
// binding. ${VAR:-default} placeholders in path fields are expanded, then
// defaults are applied and the result validated.
func LoadConfigFromFile(path string) (Config, error) {
	config, err := readConfigFile(path)
	if err != nil {
		return config, err
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// readConfigFile parses path and expands placeholders without applying
// defaults or validating.
func readConfigFile(path string) (Config, error) {
	var config Config

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if os.IsNotExist(err) {
			return config, NewConfigNotFoundError(path)
		}
		return config, NewConfigParseError(path, err)
	}

	format := argus.DetectFormat(path)
	if format == argus.FormatYAML {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return config, NewConfigParseError(path, err)
		}
	} else {
		values, err := argus.ParseConfig(data, format)
		if err != nil {
			return config, NewConfigParseError(path, err)
		}
		if err := bindConfig(values, &config); err != nil {
			return config, NewConfigParseError(path, err)
		}
	}

	if err := ExpandConfigPaths(&config, DefaultEnvConfigOptions()); err != nil {
		return config, err
	}
	return config, nil
}

// bindConfig converts an argus map to Config through JSON. Durations may
// be written as strings ("90s") or as nanoseconds.
func bindConfig(values map[string]interface{}, config *Config) error {
	if values == nil {
		return fmt.Errorf("configuration map is nil")
	}

	if raw, ok := values["update_epsilon"].(string); ok {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("update_epsilon: %w", err)
		}
		values["update_epsilon"] = int64(d)
	}

	jsonBytes, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal config map to JSON: %w", err)
	}
	if err := json.Unmarshal(jsonBytes, config); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}
