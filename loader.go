// loader.go: Fallback chain that locates, installs and activates a bundled
// native library
//
// The chain for one logical name is:
//
//  1. the dynamic linker's default search, by platform file name
//  2. the ordered system directories, each candidate by absolute path
//  3. the versioned install directory installRoot/<tag>, if fresh
//  4. cleanup of other versions, extraction from the bundle into
//     installRoot/<tag>-<pid>, no-replace promotion into installRoot/<tag>
//
// Several processes of the same application may run step 4 at once. Each
// writes its own staging directory and the filesystem arbitrates the
// promotion; the losers adopt the winner's file.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// LoadResult is the outcome of EnsureLoaded. It never carries a panic:
// every failure is reported through ErrorKind and Err.
type LoadResult struct {
	OK        bool
	Path      string
	Source    LoadSource
	ErrorKind ErrorKind
	Err       error
	Record    ArtifactRecord
	Library   *Library
	Duration  time.Duration
}

// Loader runs the fallback chain. It is safe for concurrent use; calls for
// the same name are serialized, different names proceed in parallel.
type Loader struct {
	config     Config
	logger     Logger
	naming     *NamingResolver
	search     *PathSearch
	extractor  *Extractor
	integrity  *IntegrityVerifier
	installer  *Installer
	cleaner    *Cleaner
	activator  Activator
	openBundle BundleOpener
	metrics    MetricsCollector
	audit      *AuditTrail
	ownsAudit  bool
	pid        int

	packageInfo PackageInfoSource
	version     *versionMemo

	mu     sync.RWMutex
	loaded map[string]LoadResult
	locks  keyedMutex

	optionErrs []error
}

// LoaderOption customizes a Loader.
type LoaderOption func(*Loader)

// WithLogger sets the logger. Accepts anything NewLogger accepts; other
// types make NewLoader fail.
func WithLogger(logger any) LoaderOption {
	return func(l *Loader) {
		resolved, err := ResolveLogger(logger)
		if err != nil {
			l.optionErrs = append(l.optionErrs, err)
			return
		}
		l.logger = resolved
	}
}

// WithActivator replaces the platform dynamic linker.
func WithActivator(activator Activator) LoaderOption {
	return func(l *Loader) { l.activator = activator }
}

// WithBundleOpener replaces the bundle derived from the configuration.
func WithBundleOpener(opener BundleOpener) LoaderOption {
	return func(l *Loader) { l.openBundle = opener }
}

// WithPackageInfo replaces the package information source.
func WithPackageInfo(source PackageInfoSource) LoaderOption {
	return func(l *Loader) { l.packageInfo = source }
}

// WithMetrics sets the metrics collector.
func WithMetrics(collector MetricsCollector) LoaderOption {
	return func(l *Loader) { l.metrics = collector }
}

// WithAuditTrail sets the audit trail. The caller keeps ownership.
func WithAuditTrail(audit *AuditTrail) LoaderOption {
	return func(l *Loader) { l.audit = audit }
}

// WithProcessID overrides the identifier used in staging directory names.
// Distinct values let one process stand in for several.
func WithProcessID(pid int) LoaderOption {
	return func(l *Loader) { l.pid = pid }
}

// NewLoader validates config and builds a Loader.
func NewLoader(config Config, opts ...LoaderOption) (*Loader, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	l := &Loader{
		config: config,
		logger: NewNoOpLogger(),
		pid:    os.Getpid(),
		loaded: make(map[string]LoadResult),
	}
	for _, opt := range opts {
		opt(l)
	}
	if len(l.optionErrs) > 0 {
		return nil, l.optionErrs[0]
	}

	if l.activator == nil {
		l.activator = NewSystemActivator()
	}
	if l.openBundle == nil {
		l.openBundle = config.BundleOpener()
	}
	if l.packageInfo == nil {
		l.packageInfo = config.PackageInfoSource()
	}
	if l.metrics == nil {
		l.metrics = noopMetricsCollector{}
	}
	if l.audit == nil && config.AuditFile != "" {
		audit, err := NewAuditTrail(config.AuditFile)
		if err != nil {
			return nil, err
		}
		l.audit = audit
		l.ownsAudit = true
	}

	l.naming = NewNamingResolver(config.Platform, config.ABIs)
	l.search = NewPathSearch(config.Directories(), l.logger)
	l.integrity = NewIntegrityVerifier(config.HashAlgorithm, config.Checksums)
	l.extractor = NewExtractor(l.logger, l.integrity)
	l.installer = NewInstaller(l.logger)
	l.cleaner = NewCleaner(l.logger)
	l.version = newVersionMemo(l.packageInfo, l.logger)

	return l, nil
}

// Config returns the effective configuration.
func (l *Loader) Config() Config {
	return l.config
}

// VersionTag returns the tag of the running application build, computed
// on first use and never again.
func (l *Loader) VersionTag() VersionTag {
	return l.version.get()
}

// InstallDir returns installRoot/<tag>.
func (l *Loader) InstallDir() string {
	return filepath.Join(l.config.InstallRoot, l.VersionTag().String())
}

// StagingDir returns installRoot/<tag>-<pid>.
func (l *Loader) StagingDir() string {
	return filepath.Join(l.config.InstallRoot, fmt.Sprintf("%s-%d", l.VersionTag(), l.pid))
}

// Loaded returns the memoized result for name, if it was activated.
func (l *Loader) Loaded(name string) (LoadResult, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	result, ok := l.loaded[name]
	if !ok {
		return LoadResult{}, false
	}
	return result.clone(), true
}

// clone copies the record history so callers never share it.
func (r LoadResult) clone() LoadResult {
	r.Record = r.Record.clone()
	return r
}

// EnsureLoaded makes the named library available. The first success is
// memoized and later calls get a copy of it. Failures are not memoized.
func (l *Loader) EnsureLoaded(name string) LoadResult {
	start := time.Now()

	if err := ValidateLibraryName(name); err != nil {
		record := newArtifactRecord(name, "")
		return l.finish(start, l.failed(record, err))
	}

	if result, ok := l.Loaded(name); ok {
		return result
	}

	unlock := l.locks.lock(name)
	defer unlock()

	if result, ok := l.Loaded(name); ok {
		return result
	}

	result := l.finish(start, l.load(name))
	if result.OK {
		l.mu.Lock()
		l.loaded[name] = result.clone()
		count := len(l.loaded)
		l.mu.Unlock()
		l.metrics.SetGauge(MetricLoadedLibraries, nil, float64(count))
	}
	return result
}

// EnsureLoadedAll loads names in order and stops at the first failure.
// The returned slice holds one result per attempted name.
func (l *Loader) EnsureLoadedAll(names ...string) ([]LoadResult, error) {
	results := make([]LoadResult, 0, len(names))
	for _, name := range names {
		result := l.EnsureLoaded(name)
		results = append(results, result)
		if !result.OK {
			return results, result.Err
		}
	}
	return results, nil
}

// Close releases the audit trail if the Loader opened it. Activated
// libraries stay loaded.
func (l *Loader) Close() error {
	if l.ownsAudit {
		return l.audit.Close()
	}
	return nil
}

func (l *Loader) load(name string) LoadResult {
	fileName := l.naming.FileName(name)
	record := newArtifactRecord(name, fileName)
	logger := l.logger.With("library", name, "file_name", fileName)

	if !l.config.ForceExtract {
		if result, ok := l.loadFromSystem(record, logger); ok {
			return result
		}
	}

	tag := l.VersionTag()
	installDir := filepath.Join(l.config.InstallRoot, tag.String())
	installedPath := filepath.Join(installDir, fileName)

	if l.installedIsFresh(installedPath, tag, logger) {
		library, err := l.activator.Open(installedPath)
		if err != nil {
			logger.Error("Error loading installed library", "path", installedPath, "error", err)
			return l.failed(record, asActivationError(installedPath, err))
		}
		logger.Info("Library loaded", "path", installedPath, "source", SourceInstalled)
		return l.succeeded(record, StateFoundInstalled, SourceInstalled, installedPath, library)
	}

	if l.config.DisableExtraction {
		logger.Warn("Library not found and extraction is disabled")
		return l.failed(record, NewMissingArtifactError(fileName, l.naming.ABIs()))
	}

	return l.extractAndInstall(name, record, tag, logger)
}

// loadFromSystem runs the default search then every system candidate.
func (l *Loader) loadFromSystem(record *ArtifactRecord, logger Logger) (LoadResult, bool) {
	fileName := record.FileName

	library, err := l.activator.Open(fileName)
	if err == nil {
		logger.Info("Library loaded", "path", fileName, "source", SourceDefault)
		return l.succeeded(record, StateFoundSystem, SourceDefault, fileName, library), true
	}
	logger.Debug("Library not found by default search", "error", err)

	var freshness *Freshness
	if l.config.CheckSystemFreshness {
		freshness = l.VersionTag().Freshness(l.config.UpdateEpsilon)
	}

	for _, path := range l.search.Candidates(fileName, freshness) {
		library, err := l.activator.Open(path)
		if err != nil {
			logger.Warn("Error loading library", "path", path, "error", err)
			continue
		}
		logger.Info("Library loaded", "path", path, "source", SourceSystem)
		return l.succeeded(record, StateFoundSystem, SourceSystem, path, library), true
	}

	return LoadResult{}, false
}

// installedIsFresh reports whether path is a usable install for tag. A
// stale or corrupt file is deleted so the promotion that follows can take
// its place.
func (l *Loader) installedIsFresh(path string, tag VersionTag, logger Logger) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	freshness := tag.Freshness(l.config.UpdateEpsilon)
	if freshness.IsStale(info.ModTime()) {
		logger.Warn("Not up to date library",
			"path", path,
			"modified", info.ModTime(),
			"update_time", tag.UpdateTime())
	} else if err := l.integrity.VerifyFile(path, filepath.Base(path)); err != nil {
		logger.Warn("Installed library failed integrity check", "path", path, "error", err)
		l.audit.Record(AuditIntegrityMismatch, map[string]interface{}{"path": path})
	} else {
		return true
	}

	if err := os.Remove(path); err != nil && !stderrors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to delete stale library", "path", path, "error", err)
	}
	return false
}

func (l *Loader) extractAndInstall(name string, record *ArtifactRecord, tag VersionTag, logger Logger) LoadResult {
	fileName := record.FileName
	installDir := filepath.Join(l.config.InstallRoot, tag.String())

	if l.openBundle == nil {
		logger.Error("No application bundle configured")
		return l.failed(record, NewBundleUnavailableError("none", fmt.Errorf("no bundle configured")))
	}

	l.purge(tag)

	record.transition(StateExtracting, "")
	bundle, err := l.openBundle()
	if err != nil {
		l.metrics.IncrementCounter(MetricExtractionsTotal, map[string]string{"result": "bundle_unavailable", "abi": ""}, 1)
		return l.failed(record, asBundleError(err))
	}
	defer bundle.Close()

	stagingDir := filepath.Join(l.config.InstallRoot, fmt.Sprintf("%s-%d", tag, l.pid))
	staged, err := l.extractor.Extract(bundle, l.naming.Resolve(name), stagingDir)
	if err != nil {
		kind := KindOf(err)
		l.metrics.IncrementCounter(MetricExtractionsTotal, map[string]string{"result": kind.String(), "abi": ""}, 1)
		if hasCode(err, ErrCodeIntegrityMismatch) {
			l.audit.Record(AuditIntegrityMismatch, map[string]interface{}{"library": name, "bundle": bundle.String()})
		}
		removeEmptyDir(stagingDir)
		return l.failed(record, err)
	}
	l.metrics.IncrementCounter(MetricExtractionsTotal, map[string]string{"result": "ok", "abi": staged.ABI}, 1)
	record.transition(StateStaged, staged.Path)

	outcome, err := l.installer.Install(staged.Path, installDir, fileName)
	if err != nil {
		logger.Error("Unable to install library", "error", err)
		removeEmptyDir(stagingDir)
		return l.failed(record, err)
	}

	event := AuditLibraryInstalled
	if outcome.RaceLost {
		event = AuditInstallRaceLost
		l.metrics.IncrementCounter(MetricInstallRacesTotal, nil, 1)
	}
	l.audit.Record(event, map[string]interface{}{
		"library": name,
		"path":    outcome.Path,
		"abi":     staged.ABI,
		"digest":  staged.Digest,
	})

	library, err := l.activator.Open(outcome.Path)
	if err != nil {
		logger.Error("Error loading library", "path", outcome.Path, "error", err)
		return l.failed(record, asActivationError(outcome.Path, err))
	}

	logger.Info("Library loaded", "path", outcome.Path, "source", SourceExtracted, "race_lost", outcome.RaceLost)
	return l.succeeded(record, StateInstalled, SourceExtracted, outcome.Path, library)
}

// purge runs StaleCleanup. It never fails the load.
func (l *Loader) purge(tag VersionTag) {
	report := l.cleaner.Purge(l.config.InstallRoot, tag.String())
	if n := len(report.Removed); n > 0 {
		l.metrics.IncrementCounter(MetricCleanupRemovedTotal, nil, int64(n))
		for _, removed := range report.Removed {
			l.audit.Record(AuditStalePathRemoved, map[string]interface{}{
				"path":        filepath.Join(l.config.InstallRoot, removed),
				"current_tag": tag.String(),
			})
		}
	}
	if n := len(report.Warnings); n > 0 {
		l.metrics.IncrementCounter(MetricCleanupWarningsTotal, nil, int64(n))
	}
}

func (l *Loader) succeeded(record *ArtifactRecord, state ArtifactState, source LoadSource, path string, library *Library) LoadResult {
	record.transition(state, path)
	return LoadResult{
		OK:        true,
		Path:      path,
		Source:    source,
		ErrorKind: ErrorKindNone,
		Record:    record.snapshot(),
		Library:   library,
	}
}

func (l *Loader) failed(record *ArtifactRecord, err error) LoadResult {
	record.transition(StateMissing, "")
	return LoadResult{
		ErrorKind: KindOf(err),
		Err:       err,
		Record:    record.snapshot(),
	}
}

func (l *Loader) finish(start time.Time, result LoadResult) LoadResult {
	result.Duration = time.Since(start)

	source := string(result.Source)
	if source == "" {
		source = "none"
	}
	l.metrics.IncrementCounter(MetricLoadsTotal, map[string]string{
		"source": source,
		"result": result.ErrorKind.String(),
	}, 1)
	l.metrics.RecordHistogram(MetricLoadSeconds, map[string]string{"source": source}, result.Duration.Seconds())
	return result
}

func asActivationError(path string, err error) error {
	if KindOf(err) == ErrorKindActivationError {
		return err
	}
	return NewActivationError(path, err)
}

func asBundleError(err error) error {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return err
	}
	return NewBundleUnavailableError("bundle", err)
}

func hasCode(err error, code string) bool {
	var structured *errors.Error
	return stderrors.As(err, &structured) && string(structured.ErrorCode()) == code
}

func removeEmptyDir(dir string) {
	_ = os.Remove(dir)
}

// keyedMutex serializes work per key.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	entry, ok := k.locks[key]
	if !ok {
		entry = &keyedLock{}
		k.locks[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
