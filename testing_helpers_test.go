// testing_helpers_test.go: Shared fixtures for loader tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
)

// fakeActivator stands in for the dynamic linker. Bare file names always
// fail, like a default search that finds nothing; absolute paths succeed
// when the file exists and is not listed in reject.
type fakeActivator struct {
	mu      sync.Mutex
	opened  []string
	reject  map[string]bool
	allowed map[string]bool
}

func newFakeActivator() *fakeActivator {
	return &fakeActivator{reject: make(map[string]bool), allowed: make(map[string]bool)}
}

func (f *fakeActivator) Open(path string) (*Library, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, path)

	if f.allowed[path] {
		return NewLibrary(path, uintptr(len(f.opened)), nil, nil), nil
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("%s: cannot open shared object file", path)
	}
	if f.reject[path] {
		return nil, fmt.Errorf("%s: wrong ELF class", path)
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	release := func() error { return nil }
	lookup := func(symbol string) (uintptr, error) {
		if symbol == "missing" {
			return 0, errors.New("undefined symbol")
		}
		return 0x1000, nil
	}
	return NewLibrary(path, uintptr(len(f.opened)), lookup, release), nil
}

func (f *fakeActivator) Opened() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

// buildZip returns an in-memory zip archive holding entries.
func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range entries {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

// zipBundle wraps buildZip output in a Bundle.
func zipBundle(t *testing.T, entries map[string][]byte) Bundle {
	t.Helper()

	data := buildZip(t, entries)
	bundle, err := NewZipBundle(bytes.NewReader(data), int64(len(data)), "test.zip")
	require.NoError(t, err)
	return bundle
}

// corruptStoredZip returns a bundle with one uncompressed entry whose
// payload has a byte flipped after the CRC was recorded.
func corruptStoredZip(t *testing.T, name string, payload []byte) Bundle {
	t.Helper()

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	fw, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	require.NoError(t, err)
	_, err = fw.Write(payload)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	data := buf.Bytes()
	offset := bytes.Index(data, payload)
	require.GreaterOrEqual(t, offset, 0)
	data[offset+len(payload)/2] ^= 0xff

	bundle, err := NewZipBundle(bytes.NewReader(data), int64(len(data)), "corrupt.zip")
	require.NoError(t, err)
	return bundle
}

// writeZipFile stores a zip archive on disk and returns its path.
func writeZipFile(t *testing.T, dir string, entries map[string][]byte) string {
	t.Helper()

	path := filepath.Join(dir, "bundle.zip")
	require.NoError(t, os.WriteFile(path, buildZip(t, entries), 0o644))
	return path
}

// writeFile creates path with content and parents, then sets its mtime.
func writeFile(t *testing.T, path string, content []byte, modTime time.Time) {
	t.Helper()

	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, content, 0o644))
	if !modTime.IsZero() {
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}
}

// testConfig isolates a loader inside dir: no real system directories are
// searched and the platform is fixed to linux naming.
func testConfig(dir string) Config {
	return Config{
		Platform:    "linux",
		ABIs:        []string{"arm64", "armeabi"},
		InstallRoot: filepath.Join(dir, "root"),
		SearchDirectories: []SearchDirectory{
			{Name: DirAppNative, Path: filepath.Join(dir, "app", "lib")},
			{Name: DirVendor64, Path: filepath.Join(dir, "system", "vendor", "lib64")},
			{Name: DirSystem, Path: filepath.Join(dir, "system", "lib")},
		},
	}
}

// newTestLoader builds a loader over testConfig with a fake activator,
// tag 3-1000 and the given bundle.
func newTestLoader(t *testing.T, dir string, bundle Bundle, opts ...LoaderOption) (*Loader, *fakeActivator) {
	t.Helper()

	activator := newFakeActivator()
	base := []LoaderOption{
		WithActivator(activator),
		WithPackageInfo(StaticPackageInfo{VersionCode: 3, LastUpdateMillis: 1000}),
	}
	if bundle != nil {
		base = append(base, WithBundleOpener(StaticBundle(bundle)))
	}

	loader, err := NewLoader(testConfig(dir), append(base, opts...)...)
	require.NoError(t, err)
	return loader, activator
}

// failingReader returns data then err.
type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

// fakeBundle serves fixed entries with caller-controlled sizes and readers.
type fakeBundle struct {
	entries map[string]*fakeEntry
	closed  bool
}

type fakeEntry struct {
	size   int64
	reader func() io.Reader
}

func (b *fakeBundle) Open(name string) (*Entry, error) {
	e, ok := b.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrEntryNotFound)
	}
	return &Entry{Name: name, Size: e.size, Reader: io.NopCloser(e.reader())}, nil
}

func (b *fakeBundle) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBundle) String() string { return "fake" }

// zeroTime leaves a file's mtime as written.
var zeroTime time.Time
