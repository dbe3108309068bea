// rename_other.go: No-replace rename for platforms without renameat2
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build !linux

package nativeload

func renameNoReplace(oldpath, newpath string) error {
	return linkRename(oldpath, newpath)
}
