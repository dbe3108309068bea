// loader_test.go: End-to-end tests for the load fallback chain
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fooPayload = bytes.Repeat([]byte("\x7fELF foo "), 4096)

func fooBundle(t *testing.T) Bundle {
	return zipBundle(t, map[string][]byte{"lib/arm64/libfoo.so": fooPayload})
}

func historyStates(record ArtifactRecord) []ArtifactState {
	states := make([]ArtifactState, 0, len(record.History))
	for _, tr := range record.History {
		states = append(states, tr.State)
	}
	return states
}

func TestLoader_EndToEndExtraction(t *testing.T) {
	dir := t.TempDir()
	loader, activator := newTestLoader(t, dir, fooBundle(t))

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK, "load failed: %v", result.Err)

	want := filepath.Join(dir, "root", "3-1000", "libfoo.so")
	assert.Equal(t, want, result.Path)
	assert.Equal(t, SourceExtracted, result.Source)
	assert.Equal(t, ErrorKindNone, result.ErrorKind)
	assert.NoError(t, result.Err)
	require.NotNil(t, result.Library)
	assert.Equal(t, want, result.Library.Name)

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, fooPayload, data)

	assert.Equal(t, StateInstalled, result.Record.State)
	assert.Equal(t, want, result.Record.ResolvedPath)
	assert.Equal(t, []ArtifactState{StateUnresolved, StateExtracting, StateStaged, StateInstalled}, historyStates(result.Record))
	assert.False(t, result.Record.FinishedAt.IsZero())

	assert.Equal(t, "libfoo.so", activator.Opened()[0], "default search is tried first")
	assert.NoDirExists(t, loader.StagingDir())
	assert.Equal(t, filepath.Join(dir, "root", "3-1000"), loader.InstallDir())
}

func TestLoader_Idempotent(t *testing.T) {
	dir := t.TempDir()
	var opens atomic.Int32
	bundle := fooBundle(t)
	opener := func() (Bundle, error) {
		opens.Add(1)
		return nopCloseBundle{bundle}, nil
	}

	loader, activator := newTestLoader(t, dir, nil, WithBundleOpener(opener))

	first := loader.EnsureLoaded("foo")
	require.True(t, first.OK)
	openedAfterFirst := len(activator.Opened())

	second := loader.EnsureLoaded("foo")
	require.True(t, second.OK)

	assert.Equal(t, first.Path, second.Path)
	assert.Same(t, first.Library, second.Library)
	assert.Equal(t, int32(1), opens.Load(), "bundle is opened once")
	assert.Len(t, activator.Opened(), openedAfterFirst, "memoized result touches nothing")

	cached, ok := loader.Loaded("foo")
	assert.True(t, ok)
	assert.Equal(t, first.Path, cached.Path)
}

func TestLoader_RaceConvergence(t *testing.T) {
	dir := t.TempDir()
	bundle := fooBundle(t)

	const processes = 8
	loaders := make([]*Loader, processes)
	for i := range loaders {
		loaders[i], _ = newTestLoader(t, dir, bundle, WithProcessID(1000+i))
	}

	results := make([]LoadResult, processes)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range loaders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = loaders[i].EnsureLoaded("foo")
		}(i)
	}
	close(start)
	wg.Wait()

	want := filepath.Join(dir, "root", "3-1000", "libfoo.so")
	for i, result := range results {
		require.True(t, result.OK, "process %d failed: %v", i, result.Err)
		assert.Equal(t, want, result.Path)
	}

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, fooPayload, data)

	entries, err := os.ReadDir(filepath.Join(dir, "root"))
	require.NoError(t, err)
	require.Len(t, entries, 1, "every staging directory is gone")
	assert.Equal(t, "3-1000", entries[0].Name())
}

func TestLoader_ManyNamesConcurrently(t *testing.T) {
	dir := t.TempDir()
	const libraries = 16
	entries := make(map[string][]byte, libraries)
	for i := 0; i < libraries; i++ {
		entries[fmt.Sprintf("lib/arm64/libn%d.so", i)] = []byte(fmt.Sprintf("library %d", i))
	}
	loader, _ := newTestLoader(t, dir, zipBundle(t, entries))

	results := make([]LoadResult, libraries)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < libraries; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = loader.EnsureLoaded(fmt.Sprintf("n%d", i))
		}(i)
	}
	close(start)
	wg.Wait()

	for i, result := range results {
		require.True(t, result.OK, "library %d failed: %v", i, result.Err)
		data, err := os.ReadFile(result.Path)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("library %d", i), string(data))
	}
	assert.NoDirExists(t, loader.StagingDir())
}

func TestLoader_LoadersSharingProcessID(t *testing.T) {
	dir := t.TempDir()
	bundle := fooBundle(t)

	const instances = 4
	loaders := make([]*Loader, instances)
	for i := range loaders {
		loaders[i], _ = newTestLoader(t, dir, bundle, WithProcessID(7))
	}

	results := make([]LoadResult, instances)
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := range loaders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = loaders[i].EnsureLoaded("foo")
		}(i)
	}
	close(start)
	wg.Wait()

	want := filepath.Join(dir, "root", "3-1000", "libfoo.so")
	for i, result := range results {
		require.True(t, result.OK, "loader %d failed: %v", i, result.Err)
		assert.Equal(t, want, result.Path)
	}

	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, fooPayload, data)
	assert.NoDirExists(t, filepath.Join(dir, "root", "3-1000-7"))
}

func TestLoader_SystemDirectoryWins(t *testing.T) {
	dir := t.TempDir()
	config := testConfig(dir)
	vendorLib := filepath.Join(config.SearchDirectories[1].Path, "libfoo.so")
	writeFile(t, vendorLib, []byte("vendor"), zeroTime)

	loader, _ := newTestLoader(t, dir, fooBundle(t))
	result := loader.EnsureLoaded("foo")

	require.True(t, result.OK)
	assert.Equal(t, vendorLib, result.Path)
	assert.Equal(t, SourceSystem, result.Source)
	assert.Equal(t, StateFoundSystem, result.Record.State)
	assert.NoDirExists(t, filepath.Join(dir, "root"), "no extraction when a system copy loads")
}

func TestLoader_SystemCandidateLoadFailureContinues(t *testing.T) {
	dir := t.TempDir()
	config := testConfig(dir)
	broken := filepath.Join(config.SearchDirectories[0].Path, "libfoo.so")
	good := filepath.Join(config.SearchDirectories[2].Path, "libfoo.so")
	writeFile(t, broken, []byte("broken"), zeroTime)
	writeFile(t, good, []byte("good"), zeroTime)

	loader, activator := newTestLoader(t, dir, nil)
	activator.reject[broken] = true

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK)
	assert.Equal(t, good, result.Path)
	assert.Equal(t, []string{"libfoo.so", broken, good}, activator.Opened())
}

func TestLoader_DefaultSearch(t *testing.T) {
	dir := t.TempDir()
	loader, activator := newTestLoader(t, dir, nil)
	activator.allowed["libfoo.so"] = true

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK)
	assert.Equal(t, "libfoo.so", result.Path)
	assert.Equal(t, SourceDefault, result.Source)
	assert.Equal(t, StateFoundSystem, result.Record.State)
}

func TestLoader_ReusesFreshInstall(t *testing.T) {
	dir := t.TempDir()
	installed := filepath.Join(dir, "root", "3-1000", "libfoo.so")
	writeFile(t, installed, []byte("installed earlier"), zeroTime)

	loader, _ := newTestLoader(t, dir, nil)
	result := loader.EnsureLoaded("foo")

	require.True(t, result.OK, "load failed: %v", result.Err)
	assert.Equal(t, installed, result.Path)
	assert.Equal(t, SourceInstalled, result.Source)
	assert.Equal(t, StateFoundInstalled, result.Record.State)
}

func TestLoader_CorruptInstallIsReextracted(t *testing.T) {
	dir := t.TempDir()
	installed := filepath.Join(dir, "root", "3-1000", "libfoo.so")
	writeFile(t, installed, []byte("half written"), zeroTime)

	sum := sha256.Sum256(fooPayload)
	config := testConfig(dir)
	config.Checksums = map[string]string{"libfoo.so": hex.EncodeToString(sum[:])}
	logger := NewTestLogger()

	loader, err := NewLoader(config,
		WithActivator(newFakeActivator()),
		WithPackageInfo(StaticPackageInfo{VersionCode: 3, LastUpdateMillis: 1000}),
		WithBundleOpener(StaticBundle(fooBundle(t))),
		WithLogger(logger))
	require.NoError(t, err)

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK, "load failed: %v", result.Err)
	assert.Equal(t, installed, result.Path)
	assert.Equal(t, SourceExtracted, result.Source)
	assert.True(t, logger.HasMessage("WARN", "Installed library failed integrity check"))

	data, err := os.ReadFile(installed)
	require.NoError(t, err)
	assert.Equal(t, fooPayload, data)
}

func TestLoader_StaleInstallIsReextracted(t *testing.T) {
	dir := t.TempDir()
	update := time.Now().Add(time.Hour).Truncate(time.Second)
	tag := NewVersionTag(PackageInfo{VersionCode: 3, LastUpdateMillis: update.UnixMilli()})

	installed := filepath.Join(dir, "root", tag.String(), "libfoo.so")
	writeFile(t, installed, []byte("stale"), update.Add(-2*DefaultUpdateEpsilon))

	logger := NewTestLogger()
	loader, _ := newTestLoader(t, dir, fooBundle(t),
		WithPackageInfo(StaticPackageInfo{VersionCode: 3, LastUpdateMillis: update.UnixMilli()}),
		WithLogger(logger))

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK, "load failed: %v", result.Err)
	assert.Equal(t, installed, result.Path)
	assert.Equal(t, SourceExtracted, result.Source)
	assert.True(t, logger.HasMessage("WARN", "Not up to date library"))

	data, err := os.ReadFile(installed)
	require.NoError(t, err)
	assert.Equal(t, fooPayload, data)
}

func TestLoader_ActivationErrorAfterInstall(t *testing.T) {
	dir := t.TempDir()
	loader, activator := newTestLoader(t, dir, fooBundle(t))
	installed := filepath.Join(dir, "root", "3-1000", "libfoo.so")
	activator.reject[installed] = true

	result := loader.EnsureLoaded("foo")
	require.False(t, result.OK)
	assert.Equal(t, ErrorKindActivationError, result.ErrorKind)
	assert.Equal(t, StateMissing, result.Record.State)
	assert.FileExists(t, installed, "the artifact stays installed")

	_, cached := loader.Loaded("foo")
	assert.False(t, cached, "failures are not memoized")

	delete(activator.reject, installed)
	retry := loader.EnsureLoaded("foo")
	require.True(t, retry.OK)
	assert.Equal(t, SourceInstalled, retry.Source)
}

func TestLoader_MissingArtifact(t *testing.T) {
	dir := t.TempDir()
	bundle := zipBundle(t, map[string][]byte{"lib/x86/libfoo.so": []byte("x86")})
	loader, _ := newTestLoader(t, dir, bundle)

	result := loader.EnsureLoaded("foo")
	require.False(t, result.OK)
	assert.Equal(t, ErrorKindMissingArtifact, result.ErrorKind)
	assert.Equal(t, StateMissing, result.Record.State)
	assert.Empty(t, result.Path)
	assert.Nil(t, result.Library)
}

func TestLoader_CorruptBundleEntry(t *testing.T) {
	dir := t.TempDir()
	loader, _ := newTestLoader(t, dir, corruptStoredZip(t, "lib/arm64/libfoo.so", fooPayload))

	result := loader.EnsureLoaded("foo")
	require.False(t, result.OK)
	assert.Equal(t, ErrorKindMissingArtifact, result.ErrorKind)
	assert.True(t, hasCode(result.Err, ErrCodeBundleReadError))
	assert.NoFileExists(t, filepath.Join(dir, "root", "3-1000", "libfoo.so"))
	assert.NoDirExists(t, loader.StagingDir())
}

func TestLoader_NoBundleConfigured(t *testing.T) {
	loader, _ := newTestLoader(t, t.TempDir(), nil)

	result := loader.EnsureLoaded("foo")
	assert.False(t, result.OK)
	assert.Equal(t, ErrorKindMissingArtifact, result.ErrorKind)
}

func TestLoader_BundleOpenFailure(t *testing.T) {
	loader, _ := newTestLoader(t, t.TempDir(), nil, WithBundleOpener(func() (Bundle, error) {
		return nil, errors.New("apk unreadable")
	}))

	result := loader.EnsureLoaded("foo")
	assert.False(t, result.OK)
	assert.Equal(t, ErrorKindMissingArtifact, result.ErrorKind)
	assert.True(t, hasCode(result.Err, ErrCodeBundleUnavailable))
}

func TestLoader_InstallError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "root", "3-1000"), []byte("a file where the install dir goes"), zeroTime)

	loader, _ := newTestLoader(t, dir, fooBundle(t))
	result := loader.EnsureLoaded("foo")

	require.False(t, result.OK)
	assert.Equal(t, ErrorKindInstallError, result.ErrorKind)
	assert.NoDirExists(t, loader.StagingDir())
}

func TestLoader_DisableExtraction(t *testing.T) {
	dir := t.TempDir()
	config := testConfig(dir)
	config.DisableExtraction = true

	opened := false
	loader, err := NewLoader(config,
		WithActivator(newFakeActivator()),
		WithPackageInfo(StaticPackageInfo{VersionCode: 3, LastUpdateMillis: 1000}),
		WithBundleOpener(func() (Bundle, error) {
			opened = true
			return fooBundle(t), nil
		}))
	require.NoError(t, err)

	result := loader.EnsureLoaded("foo")
	assert.False(t, result.OK)
	assert.Equal(t, ErrorKindMissingArtifact, result.ErrorKind)
	assert.False(t, opened)
	assert.NoDirExists(t, config.InstallRoot)
}

func TestLoader_ForceExtractSkipsSystem(t *testing.T) {
	dir := t.TempDir()
	config := testConfig(dir)
	config.ForceExtract = true
	writeFile(t, filepath.Join(config.SearchDirectories[0].Path, "libfoo.so"), []byte("system"), zeroTime)

	activator := newFakeActivator()
	loader, err := NewLoader(config,
		WithActivator(activator),
		WithPackageInfo(StaticPackageInfo{VersionCode: 3, LastUpdateMillis: 1000}),
		WithBundleOpener(StaticBundle(fooBundle(t))))
	require.NoError(t, err)

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK)
	assert.Equal(t, SourceExtracted, result.Source)
	assert.Equal(t, []string{result.Path}, activator.Opened())
}

func TestLoader_PurgesOtherVersions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "root", "2-900", "libfoo.so"), []byte("old"), zeroTime)
	writeFile(t, filepath.Join(dir, "root", "2-900-55", "libfoo.so"), []byte("old staging"), zeroTime)

	metrics := NewDefaultMetricsCollector()
	loader, _ := newTestLoader(t, dir, fooBundle(t), WithMetrics(metrics))

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK)
	assert.NoDirExists(t, filepath.Join(dir, "root", "2-900"))
	assert.NoDirExists(t, filepath.Join(dir, "root", "2-900-55"))
	assert.Equal(t, int64(2), metrics.Counter(MetricCleanupRemovedTotal, nil))
}

func TestLoader_SentinelTag(t *testing.T) {
	dir := t.TempDir()
	loader, _ := newTestLoader(t, dir, fooBundle(t), WithPackageInfo(PackageInfoFunc(func() (PackageInfo, error) {
		return PackageInfo{}, errors.New("no package manager")
	})))

	result := loader.EnsureLoaded("foo")
	require.True(t, result.OK)
	assert.Equal(t, filepath.Join(dir, "root", "0", "libfoo.so"), result.Path)
	assert.True(t, loader.VersionTag().IsSentinel())
}

func TestLoader_InvalidName(t *testing.T) {
	loader, activator := newTestLoader(t, t.TempDir(), fooBundle(t))

	result := loader.EnsureLoaded("../etc/passwd")
	assert.False(t, result.OK)
	assert.Equal(t, ErrorKindInvalidName, result.ErrorKind)
	assert.Empty(t, activator.Opened())
}

func TestLoader_EnsureLoadedAll(t *testing.T) {
	dir := t.TempDir()
	bundle := zipBundle(t, map[string][]byte{
		"lib/arm64/libfoo.so": fooPayload,
		"lib/arm64/libbar.so": []byte("bar"),
	})
	loader, _ := newTestLoader(t, dir, bundle)

	results, err := loader.EnsureLoadedAll("foo", "bar")
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.True(t, results[1].OK)

	results, err = loader.EnsureLoadedAll("foo", "baz", "bar")
	require.Error(t, err)
	assert.Len(t, results, 2, "stops at the first failure")
	assert.Equal(t, ErrorKindMissingArtifact, KindOf(err))
}

func TestLoader_ResultsDoNotShareHistory(t *testing.T) {
	loader, _ := newTestLoader(t, t.TempDir(), fooBundle(t))

	first := loader.EnsureLoaded("foo")
	require.True(t, first.OK)
	require.NotEmpty(t, first.Record.History)
	first.Record.History[0].State = StateMissing

	second := loader.EnsureLoaded("foo")
	assert.Equal(t, StateUnresolved, second.Record.History[0].State)
	second.Record.History[0].State = StateMissing

	cached, ok := loader.Loaded("foo")
	require.True(t, ok)
	assert.Equal(t, StateUnresolved, cached.Record.History[0].State)
}

func TestLoader_ConcurrentCallsSameName(t *testing.T) {
	dir := t.TempDir()
	var opens atomic.Int32
	bundle := fooBundle(t)
	loader, _ := newTestLoader(t, dir, nil, WithBundleOpener(func() (Bundle, error) {
		opens.Add(1)
		return nopCloseBundle{bundle}, nil
	}))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.True(t, loader.EnsureLoaded("foo").OK)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), opens.Load(), "in-process callers are serialized per name")
}

func TestLoader_Metrics(t *testing.T) {
	metrics := NewDefaultMetricsCollector()
	loader, _ := newTestLoader(t, t.TempDir(), fooBundle(t), WithMetrics(metrics))

	require.True(t, loader.EnsureLoaded("foo").OK)
	assert.False(t, loader.EnsureLoaded("missing").OK)

	assert.Equal(t, int64(1), metrics.Counter(MetricLoadsTotal, map[string]string{"source": "extracted", "result": "none"}))
	assert.Equal(t, int64(1), metrics.Counter(MetricLoadsTotal, map[string]string{"source": "none", "result": "missing_artifact"}))
	assert.Equal(t, int64(1), metrics.Counter(MetricExtractionsTotal, map[string]string{"result": "ok", "abi": "arm64"}))

	snapshot := metrics.GetMetrics()
	assert.Equal(t, float64(1), snapshot[MetricLoadedLibraries])
}

func TestNewLoader_InvalidConfig(t *testing.T) {
	_, err := NewLoader(Config{InstallRoot: "relative/path"})
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeConfigValidationError))
}

func TestNewLoader_UnsupportedLogger(t *testing.T) {
	var err error
	assert.NotPanics(t, func() {
		_, err = NewLoader(testConfig(t.TempDir()), WithLogger(42))
	})
	require.Error(t, err)
	assert.True(t, hasCode(err, ErrCodeConfigValidationError))
}

func TestKeyedMutex_ReleasesEntries(t *testing.T) {
	var k keyedMutex
	unlock := k.lock("a")
	unlockB := k.lock("b")
	assert.Len(t, k.locks, 2)
	unlock()
	unlockB()
	assert.Empty(t, k.locks)
}
