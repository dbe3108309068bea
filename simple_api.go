// simple_api.go: Fluent builder and process-wide default loader
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// SimpleBuilder assembles a Loader with a fluent interface.
type SimpleBuilder struct {
	config  Config
	options []LoaderOption
	errors  []error
}

// Simple starts a builder from DefaultConfig.
//
// Example:
//
//	loader, err := nativeload.Simple().
//	    WithInstallRoot(filepath.Join(cacheDir, "native")).
//	    WithBundle("./app.zip").
//	    Build()
func Simple() *SimpleBuilder {
	return &SimpleBuilder{config: DefaultConfig()}
}

// FromEnvironment starts a builder from DefaultConfig with NATIVELOAD_*
// overrides applied.
func FromEnvironment() *SimpleBuilder {
	b := Simple()
	if err := ApplyEnvironment(&b.config); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// FromFile starts a builder from a configuration file with NATIVELOAD_*
// overrides applied on top. Validation happens in Build.
func FromFile(path string) *SimpleBuilder {
	config, err := readConfigFile(path)
	b := &SimpleBuilder{config: config}
	if err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	if err := ApplyEnvironment(&b.config); err != nil {
		b.errors = append(b.errors, err)
	}
	b.config.ApplyDefaults()
	return b
}

// WithInstallRoot sets the directory that receives extracted libraries.
func (b *SimpleBuilder) WithInstallRoot(dir string) *SimpleBuilder {
	if dir == "" {
		b.errors = append(b.errors, errors.New("install root cannot be empty"))
		return b
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		b.errors = append(b.errors, fmt.Errorf("install root %q: %w", dir, err))
		return b
	}
	b.config.InstallRoot = abs
	return b
}

// WithBundle extracts from the zip archive at path.
func (b *SimpleBuilder) WithBundle(path string) *SimpleBuilder {
	b.config.BundlePath = path
	b.config.AssetRoot = ""
	return b
}

// WithAssets extracts from the asset tree rooted at dir.
func (b *SimpleBuilder) WithAssets(dir string) *SimpleBuilder {
	b.config.AssetRoot = dir
	return b
}

// WithABIs sets the ABI preference order.
func (b *SimpleBuilder) WithABIs(abis ...string) *SimpleBuilder {
	if len(abis) == 0 {
		b.errors = append(b.errors, errors.New("at least one ABI is required"))
		return b
	}
	b.config.ABIs = abis
	return b
}

// WithSearchDirectories replaces the system search list.
func (b *SimpleBuilder) WithSearchDirectories(dirs ...SearchDirectory) *SimpleBuilder {
	b.config.SearchDirectories = dirs
	return b
}

// WithUpdateEpsilon sets the freshness tolerance window.
func (b *SimpleBuilder) WithUpdateEpsilon(epsilon time.Duration) *SimpleBuilder {
	b.config.UpdateEpsilon = epsilon
	return b
}

// WithChecksums enables integrity verification of extracted files.
func (b *SimpleBuilder) WithChecksums(algorithm HashAlgorithm, checksums map[string]string) *SimpleBuilder {
	b.config.HashAlgorithm = algorithm
	b.config.Checksums = checksums
	return b
}

// ForceExtract always installs from the bundle.
func (b *SimpleBuilder) ForceExtract() *SimpleBuilder {
	b.config.ForceExtract = true
	return b
}

// SystemOnly never extracts.
func (b *SimpleBuilder) SystemOnly() *SimpleBuilder {
	b.config.DisableExtraction = true
	return b
}

// WithLogger sets the logger.
func (b *SimpleBuilder) WithLogger(logger any) *SimpleBuilder {
	if _, err := ResolveLogger(logger); err != nil {
		b.errors = append(b.errors, err)
		return b
	}
	b.options = append(b.options, WithLogger(logger))
	return b
}

// WithMetrics sets the metrics collector.
func (b *SimpleBuilder) WithMetrics(collector MetricsCollector) *SimpleBuilder {
	b.options = append(b.options, WithMetrics(collector))
	return b
}

// WithOptions appends raw loader options.
func (b *SimpleBuilder) WithOptions(opts ...LoaderOption) *SimpleBuilder {
	b.options = append(b.options, opts...)
	return b
}

// Config returns the configuration built so far.
func (b *SimpleBuilder) Config() Config {
	return b.config
}

// Build creates the Loader, failing on the first recorded error.
func (b *SimpleBuilder) Build() (*Loader, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	return NewLoader(b.config, b.options...)
}

var (
	defaultLoaderMu sync.Mutex
	defaultLoader   *Loader
)

// DefaultLoader returns the process-wide Loader, built from the
// environment on first use. A failed build is retried on the next call.
func DefaultLoader() (*Loader, error) {
	defaultLoaderMu.Lock()
	defer defaultLoaderMu.Unlock()

	if defaultLoader != nil {
		return defaultLoader, nil
	}

	loader, err := FromEnvironment().WithLogger(DefaultLogger()).Build()
	if err != nil {
		return nil, err
	}
	defaultLoader = loader
	return loader, nil
}

// SetDefaultLoader replaces the process-wide Loader.
func SetDefaultLoader(loader *Loader) {
	defaultLoaderMu.Lock()
	defer defaultLoaderMu.Unlock()
	defaultLoader = loader
}

// EnsureLoaded loads name through the process-wide Loader.
func EnsureLoaded(name string) LoadResult {
	loader, err := DefaultLoader()
	if err != nil {
		return LoadResult{ErrorKind: KindOf(err), Err: err}
	}
	return loader.EnsureLoaded(name)
}
