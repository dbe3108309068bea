// package_info.go: Sources of application package metadata
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// PackageInfo is the subset of package metadata the loader needs.
// Times are Unix epoch milliseconds; zero means unknown.
type PackageInfo struct {
	VersionCode        int64 `json:"version_code" yaml:"version_code"`
	FirstInstallMillis int64 `json:"first_install_time" yaml:"first_install_time"`
	LastUpdateMillis   int64 `json:"last_update_time" yaml:"last_update_time"`
}

// PackageInfoSource supplies package metadata. Errors make the loader fall
// back to the sentinel version tag.
type PackageInfoSource interface {
	PackageInfo() (PackageInfo, error)
}

// PackageInfoFunc adapts a function to PackageInfoSource.
type PackageInfoFunc func() (PackageInfo, error)

// PackageInfo implements PackageInfoSource.
func (f PackageInfoFunc) PackageInfo() (PackageInfo, error) {
	return f()
}

// StaticPackageInfo always returns the same metadata.
type StaticPackageInfo PackageInfo

// PackageInfo implements PackageInfoSource.
func (s StaticPackageInfo) PackageInfo() (PackageInfo, error) {
	return PackageInfo(s), nil
}

// ManifestPackageInfo reads metadata from a JSON, YAML or TOML file written
// by the application's installer.
//
// Example YAML manifest:
//
//	version_code: 3
//	first_install_time: 1700000000000
//	last_update_time: 1700000500000
type ManifestPackageInfo struct {
	Path string
}

// PackageInfo implements PackageInfoSource.
func (m ManifestPackageInfo) PackageInfo() (PackageInfo, error) {
	var info PackageInfo

	data, err := os.ReadFile(filepath.Clean(m.Path))
	if err != nil {
		return info, NewPackageInfoError(m.Path, err)
	}

	format := argus.DetectFormat(m.Path)
	if format == argus.FormatYAML {
		if err := yaml.Unmarshal(data, &info); err != nil {
			return info, NewPackageInfoError(m.Path, err)
		}
		return info, nil
	}

	values, err := argus.ParseConfig(data, format)
	if err != nil {
		return info, NewPackageInfoError(m.Path, err)
	}

	for key, target := range map[string]*int64{
		"version_code":       &info.VersionCode,
		"first_install_time": &info.FirstInstallMillis,
		"last_update_time":   &info.LastUpdateMillis,
	} {
		raw, ok := values[key]
		if !ok {
			continue
		}
		n, err := toInt64(raw)
		if err != nil {
			return info, NewPackageInfoError(m.Path, fmt.Errorf("field %s: %w", key, err))
		}
		*target = n
	}

	return info, nil
}

// ExecutablePackageInfo treats the running executable as the installed
// package: its modification time is both the install and the update time.
type ExecutablePackageInfo struct {
	VersionCode int64

	// executable is swapped in tests.
	executable func() (string, error)
}

// PackageInfo implements PackageInfoSource.
func (e ExecutablePackageInfo) PackageInfo() (PackageInfo, error) {
	locate := e.executable
	if locate == nil {
		locate = os.Executable
	}

	path, err := locate()
	if err != nil {
		return PackageInfo{}, NewPackageInfoError("executable", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return PackageInfo{}, NewPackageInfoError(path, err)
	}

	modified := info.ModTime().UnixMilli()
	return PackageInfo{
		VersionCode:        e.VersionCode,
		FirstInstallMillis: modified,
		LastUpdateMillis:   modified,
	}, nil
}

func toInt64(value interface{}) (int64, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		return int64(v), nil
	case string:
		return strconv.ParseInt(v, 10, 64)
	default:
		return 0, fmt.Errorf("unsupported numeric value %v (%T)", value, value)
	}
}
