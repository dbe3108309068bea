// activate.go: Dynamic activation of shared libraries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"fmt"
	"sync"
)

// Library is an activated shared library. Functions inside it are reached
// only through Lookup; how they are invoked is up to the caller.
type Library struct {
	// Name is what was handed to the dynamic linker: a bare file name for
	// the default search, otherwise an absolute path.
	Name string

	handle  uintptr
	lookup  func(symbol string) (uintptr, error)
	release func() error

	closeOnce sync.Once
	closeErr  error
}

// NewLibrary builds a Library from activator primitives. Either function
// may be nil.
func NewLibrary(name string, handle uintptr, lookup func(string) (uintptr, error), release func() error) *Library {
	return &Library{Name: name, handle: handle, lookup: lookup, release: release}
}

// Handle returns the platform handle.
func (l *Library) Handle() uintptr {
	return l.handle
}

// Lookup resolves an exported symbol to its address.
func (l *Library) Lookup(symbol string) (uintptr, error) {
	if l.lookup == nil {
		return 0, NewSymbolNotFoundError(l.Name, symbol, fmt.Errorf("library has no symbol table"))
	}
	addr, err := l.lookup(symbol)
	if err != nil {
		return 0, NewSymbolNotFoundError(l.Name, symbol, err)
	}
	return addr, nil
}

// Close releases the handle. Subsequent calls return the first result.
func (l *Library) Close() error {
	l.closeOnce.Do(func() {
		if l.release != nil {
			l.closeErr = l.release()
		}
	})
	return l.closeErr
}

// Activator loads a shared library into the process.
type Activator interface {
	// Open loads path. A bare file name uses the platform's default
	// library search; anything else is loaded as given.
	Open(path string) (*Library, error)
}

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func(path string) (*Library, error)

// Open implements Activator.
func (f ActivatorFunc) Open(path string) (*Library, error) {
	return f(path)
}

// NewSystemActivator returns the platform dynamic linker.
func NewSystemActivator() Activator {
	return systemActivator{}
}
