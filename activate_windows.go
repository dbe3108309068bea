// activate_windows.go: LoadLibrary based activation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build windows

package nativeload

import (
	"golang.org/x/sys/windows"
)

type systemActivator struct{}

func (systemActivator) Open(path string) (*Library, error) {
	handle, err := windows.LoadLibrary(path)
	if err != nil {
		return nil, NewActivationError(path, err)
	}

	return NewLibrary(path, uintptr(handle),
		func(symbol string) (uintptr, error) {
			return windows.GetProcAddress(handle, symbol)
		},
		func() error {
			return windows.FreeLibrary(handle)
		},
	), nil
}
