// activate_unix.go: dlopen based activation via purego
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build darwin || freebsd || linux

package nativeload

import (
	"github.com/ebitengine/purego"
)

type systemActivator struct{}

func (systemActivator) Open(path string) (*Library, error) {
	handle, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, NewActivationError(path, err)
	}

	return NewLibrary(path, handle,
		func(symbol string) (uintptr, error) {
			return purego.Dlsym(handle, symbol)
		},
		func() error {
			return purego.Dlclose(handle)
		},
	), nil
}
