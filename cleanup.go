// cleanup.go: Best-effort removal of install and staging directories left
// behind by previous application versions
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// CleanupReport summarizes one Purge run.
type CleanupReport struct {
	// Removed lists the top-level entries that are gone.
	Removed []string `json:"removed"`
	// Kept lists the top-level entries that belong to the current tag.
	Kept []string `json:"kept"`
	// Warnings holds one CleanupWarning per path that could not be removed.
	Warnings []error `json:"-"`
}

// Cleaner purges install roots.
type Cleaner struct {
	logger Logger
}

// NewCleaner creates a cleaner.
func NewCleaner(logger Logger) *Cleaner {
	return &Cleaner{logger: NewLogger(logger)}
}

// BelongsToTag reports whether a top-level install root entry is owned by
// tag: either the install directory itself or a staging directory
// "<tag>-<pid>" of a process running the same version.
func BelongsToTag(name, tag string) bool {
	return name == tag || strings.HasPrefix(name, tag+"-")
}

// Purge removes every top-level entry of root that does not belong to tag.
// Nothing is returned as an error: failures are logged and reported.
func (c *Cleaner) Purge(root, tag string) CleanupReport {
	var report CleanupReport

	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.warn(&report, root, err)
		}
		return report
	}

	for _, entry := range entries {
		name := entry.Name()
		if BelongsToTag(name, tag) {
			report.Kept = append(report.Kept, name)
			continue
		}

		path := filepath.Join(root, name)
		if c.removeTree(&report, path) {
			c.logger.Debug("Removed stale install path", "path", path, "current_tag", tag)
			report.Removed = append(report.Removed, name)
		}
	}

	return report
}

// removeTree deletes path deepest first and reports whether path is gone.
func (c *Cleaner) removeTree(report *CleanupReport, path string) bool {
	var paths []string
	walkErr := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			c.warn(report, p, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		paths = append(paths, p)
		return nil
	})
	if walkErr != nil {
		c.warn(report, path, walkErr)
	}

	// WalkDir is lexical and pre-order, so reverse order is children first.
	for i := len(paths) - 1; i >= 0; i-- {
		if err := os.Remove(paths[i]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.warn(report, paths[i], err)
		}
	}

	_, err := os.Lstat(path)
	return errors.Is(err, fs.ErrNotExist)
}

func (c *Cleaner) warn(report *CleanupReport, path string, cause error) {
	warning := NewCleanupWarning(path, cause)
	report.Warnings = append(report.Warnings, warning)
	c.logger.Warn("Failed to remove stale install path", "path", path, "error", cause)
}
