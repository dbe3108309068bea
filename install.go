// install.go: Promotes a staged library into the versioned install directory
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
)

// installedFileMode is applied to the staging file before promotion so the
// installed library is never observable with other permissions.
const installedFileMode fs.FileMode = 0o755

// InstallOutcome describes a promotion.
type InstallOutcome struct {
	// Path is the installed library, ours or the race winner's.
	Path string `json:"path"`

	// RaceLost is set when another process promoted the same file first.
	RaceLost bool `json:"race_lost"`
}

// Installer performs no-replace promotions of staging files.
type Installer struct {
	logger Logger
}

// NewInstaller creates an installer.
func NewInstaller(logger Logger) *Installer {
	return &Installer{logger: NewLogger(logger)}
}

// Install moves stagingPath to installDir/fileName without ever replacing an
// existing destination. An existing destination means a concurrent process
// won the race: the staging file is dropped and the destination adopted.
func (i *Installer) Install(stagingPath, installDir, fileName string) (InstallOutcome, error) {
	destination := filepath.Join(installDir, fileName)

	if err := os.Chmod(stagingPath, installedFileMode); err != nil {
		i.discard(stagingPath)
		return InstallOutcome{}, NewInstallError(fileName, destination, err)
	}

	if err := os.MkdirAll(installDir, 0o755); err != nil {
		i.discard(stagingPath)
		return InstallOutcome{}, NewInstallError(fileName, destination, err)
	}

	err := renameNoReplace(stagingPath, destination)
	switch {
	case err == nil:
		if syncErr := syncDir(installDir); syncErr != nil {
			i.logger.Debug("Install directory sync failed", "dir", installDir, "error", syncErr)
		}
		i.removeStagingDir(stagingPath)
		i.logger.Info("Library installed", "path", destination)
		return InstallOutcome{Path: destination}, nil

	case errors.Is(err, fs.ErrExist):
		i.discard(stagingPath)
		i.removeStagingDir(stagingPath)
		i.logger.Info("Library already installed by another process", "path", destination)
		return InstallOutcome{Path: destination, RaceLost: true}, nil

	default:
		i.discard(stagingPath)
		return InstallOutcome{}, NewInstallError(fileName, destination, err)
	}
}

func (i *Installer) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		i.logger.Warn("Failed to delete staging file", "path", path, "error", err)
	}
}

// removeStagingDir drops the per-process staging directory once empty.
func (i *Installer) removeStagingDir(stagingPath string) {
	dir := filepath.Dir(stagingPath)
	if err := os.Remove(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		i.logger.Debug("Staging directory left in place", "dir", dir, "error", err)
	}
}

// linkRename promotes by hard link then unlink. The link fails with EEXIST
// when the destination exists, which gives no-replace semantics on any
// filesystem that supports hard links.
func linkRename(oldpath, newpath string) error {
	if err := os.Link(oldpath, newpath); err != nil {
		return err
	}
	if err := os.Remove(oldpath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// syncDir flushes directory metadata so a promotion survives a crash.
func syncDir(dir string) error {
	d, err := os.Open(filepath.Clean(dir))
	if err != nil {
		return err
	}
	syncErr := d.Sync()
	closeErr := d.Close()
	if syncErr != nil {
		return syncErr
	}
	return closeErr
}
