// bundle.go: Application bundle abstraction for native library entries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"errors"
	"io"
)

// ErrEntryNotFound is returned by Bundle.Open when the entry is absent.
var ErrEntryNotFound = errors.New("nativeload: bundle entry not found")

// UnknownSize marks an Entry whose uncompressed length is not known up front.
const UnknownSize int64 = -1

// Entry is an open bundle entry.
type Entry struct {
	Name   string
	Size   int64
	Reader io.ReadCloser
}

// Bundle is a read-only view of the application package: a zip archive or
// an asset tree holding entries keyed "lib/<abi>/<file>".
type Bundle interface {
	// Open returns the named entry, or an error wrapping ErrEntryNotFound.
	Open(name string) (*Entry, error)

	// Close releases the bundle.
	Close() error

	// String describes the bundle for logs.
	String() string
}

// BundleOpener opens the bundle on demand. The loader only opens a bundle
// when extraction is required and closes it right after.
type BundleOpener func() (Bundle, error)

// StaticBundle returns an opener that always hands out b and never closes it.
func StaticBundle(b Bundle) BundleOpener {
	return func() (Bundle, error) {
		return nopCloseBundle{b}, nil
	}
}

type nopCloseBundle struct {
	Bundle
}

func (nopCloseBundle) Close() error { return nil }
