// activate_other.go: Platforms without a supported dynamic linker
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build !darwin && !freebsd && !linux && !windows

package nativeload

import "runtime"

type systemActivator struct{}

func (systemActivator) Open(path string) (*Library, error) {
	return nil, NewUnsupportedPlatformError(runtime.GOOS)
}
