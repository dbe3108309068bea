// env_config.go: Environment variable expansion and overrides for Config
//
// Path fields may reference the environment with ${VAR} or ${VAR:-default};
// NATIVELOAD_* variables override individual fields after the file is read.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// EnvPrefix prefixes every override variable.
const EnvPrefix = "NATIVELOAD_"

var variablePattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// EnvConfigOptions configures environment variable processing behavior.
type EnvConfigOptions struct {
	// Prefix is tried before the bare variable name.
	Prefix string `json:"prefix" yaml:"prefix"`

	// FailOnMissing turns an unresolved variable without default into an error.
	FailOnMissing bool `json:"fail_on_missing" yaml:"fail_on_missing"`

	// ValidateValues rejects values with NUL or control characters.
	ValidateValues bool `json:"validate_values" yaml:"validate_values"`

	// Defaults apply when neither the environment nor an inline default
	// provides a value.
	Defaults map[string]string `json:"defaults,omitempty" yaml:"defaults,omitempty"`
}

// DefaultEnvConfigOptions returns the options used by ApplyEnvironment.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         EnvPrefix,
		ValidateValues: true,
		Defaults:       make(map[string]string),
	}
}

// ExpandEnvironmentVariables replaces ${VAR} and ${VAR:-default}
// placeholders in input.
//
// Resolution order: prefixed variable, bare variable, inline default,
// options.Defaults, then empty string (or an error with FailOnMissing).
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if input == "" || !strings.Contains(input, "${") {
		return input, nil
	}

	var firstErr error
	result := variablePattern.ReplaceAllStringFunc(input, func(match string) string {
		submatches := variablePattern.FindStringSubmatch(match)
		expanded, err := expandVariable(submatches[1], submatches[3], options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return expanded
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func expandVariable(name, inlineDefault string, options EnvConfigOptions) (string, error) {
	prefixed := options.Prefix + name
	if value := os.Getenv(prefixed); value != "" {
		return sanitizeEnvValue(value, options)
	}
	if value := os.Getenv(name); value != "" {
		return sanitizeEnvValue(value, options)
	}
	if inlineDefault != "" {
		return sanitizeEnvValue(inlineDefault, options)
	}
	if value, ok := options.Defaults[name]; ok {
		return sanitizeEnvValue(value, options)
	}

	if options.FailOnMissing {
		return "", NewConfigValidationError(fmt.Sprintf("required environment variable not found: %s (also tried %s)", name, prefixed), nil)
	}
	return "", nil
}

func sanitizeEnvValue(value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}

	if strings.Contains(value, "\x00") {
		return "", NewConfigValidationError("environment variable value contains null byte", nil)
	}

	maxLength := 4096
	if len(value) > maxLength {
		return "", NewConfigValidationError(fmt.Sprintf("environment variable value too long: %d bytes (max %d)", len(value), maxLength), nil)
	}

	for i, r := range value {
		if r < 32 && r != '\t' {
			return "", NewConfigValidationError(fmt.Sprintf("environment variable contains control character at position %d", i), nil)
		}
	}
	return value, nil
}

// ExpandConfigPaths expands placeholders in every path field of config.
func ExpandConfigPaths(config *Config, options EnvConfigOptions) error {
	fields := map[string]*string{
		"app_native_dir":        &config.AppNativeDir,
		"system_root":           &config.SystemRoot,
		"install_root":          &config.InstallRoot,
		"bundle_path":           &config.BundlePath,
		"asset_root":            &config.AssetRoot,
		"package_metadata_path": &config.PackageMetadataPath,
		"audit_file":            &config.AuditFile,
	}

	for name, field := range fields {
		expanded, err := ExpandEnvironmentVariables(*field, options)
		if err != nil {
			return NewConfigValidationError("failed to expand "+name, err)
		}
		*field = expanded
	}

	for i := range config.SearchDirectories {
		expanded, err := ExpandEnvironmentVariables(config.SearchDirectories[i].Path, options)
		if err != nil {
			return NewConfigValidationError(fmt.Sprintf("failed to expand search directory %d", i), err)
		}
		config.SearchDirectories[i].Path = expanded
	}

	return nil
}

// ApplyEnvironment expands path placeholders and then applies NATIVELOAD_*
// overrides:
//
//	NATIVELOAD_INSTALL_ROOT, NATIVELOAD_BUNDLE_PATH, NATIVELOAD_ASSET_ROOT,
//	NATIVELOAD_APP_NATIVE_DIR, NATIVELOAD_SYSTEM_ROOT, NATIVELOAD_ABIS
//	(comma separated), NATIVELOAD_UPDATE_EPSILON (duration),
//	NATIVELOAD_FORCE_EXTRACT, NATIVELOAD_DISABLE_EXTRACTION (bool),
//	NATIVELOAD_VERSION_CODE (integer), NATIVELOAD_AUDIT_FILE.
func ApplyEnvironment(config *Config) error {
	if err := ExpandConfigPaths(config, DefaultEnvConfigOptions()); err != nil {
		return err
	}

	stringFields := map[string]*string{
		"INSTALL_ROOT":   &config.InstallRoot,
		"BUNDLE_PATH":    &config.BundlePath,
		"ASSET_ROOT":     &config.AssetRoot,
		"APP_NATIVE_DIR": &config.AppNativeDir,
		"SYSTEM_ROOT":    &config.SystemRoot,
		"AUDIT_FILE":     &config.AuditFile,
	}
	for key, field := range stringFields {
		if value, ok := os.LookupEnv(EnvPrefix + key); ok {
			*field = value
		}
	}

	if value, ok := os.LookupEnv(EnvPrefix + "ABIS"); ok {
		config.ABIs = splitList(value)
	}

	if value, ok := os.LookupEnv(EnvPrefix + "UPDATE_EPSILON"); ok {
		d, err := time.ParseDuration(value)
		if err != nil {
			return NewConfigValidationError(EnvPrefix+"UPDATE_EPSILON is not a duration", err)
		}
		config.UpdateEpsilon = d
	}

	boolFields := map[string]*bool{
		"FORCE_EXTRACT":      &config.ForceExtract,
		"DISABLE_EXTRACTION": &config.DisableExtraction,
	}
	for key, field := range boolFields {
		value, ok := os.LookupEnv(EnvPrefix + key)
		if !ok {
			continue
		}
		b, err := strconv.ParseBool(value)
		if err != nil {
			return NewConfigValidationError(EnvPrefix+key+" is not a boolean", err)
		}
		*field = b
	}

	if value, ok := os.LookupEnv(EnvPrefix + "VERSION_CODE"); ok {
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return NewConfigValidationError(EnvPrefix+"VERSION_CODE is not an integer", err)
		}
		config.VersionCode = n
	}

	return nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
