// search.go: Ordered candidate directory search for pre-installed libraries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"os"
	"path/filepath"
	"time"
)

// DefaultUpdateEpsilon absorbs clock and filesystem timestamp skew between
// a package update and the files it writes.
const DefaultUpdateEpsilon = 60 * time.Second

// Search directory names used in logs and metric labels.
const (
	DirAppNative = "app_native"
	DirVendor64  = "vendor_lib64"
	DirVendor    = "vendor_lib"
	DirSystem64  = "system_lib64"
	DirSystem    = "system_lib"
)

// SearchDirectory is one entry of the ordered candidate list.
type SearchDirectory struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// DefaultSearchDirectories builds the standard search order: the
// application's private native directory, then vendor and system library
// directories under systemRoot, 64-bit before 32-bit.
func DefaultSearchDirectories(appNativeDir, systemRoot string) []SearchDirectory {
	vendorRoot := filepath.Join(systemRoot, "vendor")
	return []SearchDirectory{
		{Name: DirAppNative, Path: appNativeDir},
		{Name: DirVendor64, Path: filepath.Join(vendorRoot, "lib64")},
		{Name: DirVendor, Path: filepath.Join(vendorRoot, "lib")},
		{Name: DirSystem64, Path: filepath.Join(systemRoot, "lib64")},
		{Name: DirSystem, Path: filepath.Join(systemRoot, "lib")},
	}
}

// Freshness rejects files written before the current application build
// was installed, minus Epsilon.
type Freshness struct {
	UpdateEpochMillis int64
	Epsilon           time.Duration
}

// IsStale reports whether modTime is strictly older than the update time
// minus the tolerance window.
func (f *Freshness) IsStale(modTime time.Time) bool {
	if f == nil {
		return false
	}
	bound := f.UpdateEpochMillis - f.Epsilon.Milliseconds()
	return modTime.UnixMilli() < bound
}

// PathSearch checks an ordered, immutable list of directories.
type PathSearch struct {
	directories []SearchDirectory
	logger      Logger
}

// NewPathSearch creates a search over directories. Entries with an empty
// path are dropped; the slice is copied so later caller edits have no effect.
func NewPathSearch(directories []SearchDirectory, logger Logger) *PathSearch {
	dirs := make([]SearchDirectory, 0, len(directories))
	for _, dir := range directories {
		if dir.Path == "" {
			continue
		}
		dirs = append(dirs, dir)
	}
	return &PathSearch{
		directories: dirs,
		logger:      NewLogger(logger),
	}
}

// Directories returns a copy of the search order.
func (s *PathSearch) Directories() []SearchDirectory {
	out := make([]SearchDirectory, len(s.directories))
	copy(out, s.directories)
	return out
}

// Find returns the first existing, fresh match for fileName.
// A nil freshness gate disables the timestamp check.
func (s *PathSearch) Find(fileName string, freshness *Freshness) (string, bool) {
	matches := s.scan(fileName, freshness, true)
	if len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

// Candidates returns every existing, fresh match for fileName in search order.
func (s *PathSearch) Candidates(fileName string, freshness *Freshness) []string {
	return s.scan(fileName, freshness, false)
}

func (s *PathSearch) scan(fileName string, freshness *Freshness, firstOnly bool) []string {
	var matches []string
	for _, dir := range s.directories {
		path := filepath.Join(dir.Path, fileName)
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if freshness.IsStale(info.ModTime()) {
			s.logger.Warn("Not up to date library",
				"path", path,
				"directory", dir.Name,
				"mod_time", info.ModTime(),
				"update_epoch_ms", freshness.UpdateEpochMillis)
			continue
		}
		s.logger.Debug("Found library", "path", path, "directory", dir.Name)
		matches = append(matches, path)
		if firstOnly {
			break
		}
	}
	return matches
}
