// capability.go: Optional native acceleration with a pure Go fallback
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNativeUnavailable signals that the caller should take its pure Go path.
var ErrNativeUnavailable = errors.New("nativeload: native library unavailable")

// Capability loads one library lazily, once, and remembers the outcome.
// Unlike the Loader it also remembers failures, so a degraded caller does
// not retry the whole fallback chain on every request.
//
//	codec := nativeload.NewCapability(loader, "ymagine")
//	if lib, err := codec.Library(); err == nil {
//	    decode, _ := lib.Lookup("YmagineDecode")
//	    ...
//	}
type Capability struct {
	loader *Loader
	name   string

	once   sync.Once
	result LoadResult
}

// NewCapability binds name to loader. A nil loader uses DefaultLoader.
func NewCapability(loader *Loader, name string) *Capability {
	return &Capability{loader: loader, name: name}
}

func (c *Capability) resolve() LoadResult {
	c.once.Do(func() {
		if c.loader == nil {
			c.result = EnsureLoaded(c.name)
			return
		}
		c.result = c.loader.EnsureLoaded(c.name)
	})
	return c.result
}

// Available reports whether the library was activated.
func (c *Capability) Available() bool {
	return c.resolve().OK
}

// Result returns the underlying load result.
func (c *Capability) Result() LoadResult {
	return c.resolve()
}

// Library returns the activated library, or an error wrapping both
// ErrNativeUnavailable and the load failure.
func (c *Capability) Library() (*Library, error) {
	result := c.resolve()
	if !result.OK {
		return nil, fmt.Errorf("%s: %w: %w", c.name, ErrNativeUnavailable, result.Err)
	}
	return result.Library, nil
}
