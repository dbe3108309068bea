// bundle_assets.go: Asset tree bundle with optional compressed entries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compressed asset suffixes, tried after the plain entry.
const (
	zstdSuffix = ".zst"
	lz4Suffix  = ".lz4"
)

// AssetBundle serves entries from a file tree such as an unpacked asset
// directory or an embed.FS. An entry may be stored plain, as "<entry>.zst"
// or as "<entry>.lz4"; compressed variants are decoded while reading.
type AssetBundle struct {
	fsys   fs.FS
	source string
}

// NewAssetBundle creates a bundle over fsys.
func NewAssetBundle(fsys fs.FS, source string) *AssetBundle {
	return &AssetBundle{fsys: fsys, source: source}
}

// AssetDirOpener returns a BundleOpener for the directory at root.
func AssetDirOpener(root string) BundleOpener {
	return func() (Bundle, error) {
		info, err := os.Stat(root)
		if err != nil {
			return nil, NewBundleUnavailableError(root, err)
		}
		if !info.IsDir() {
			return nil, NewBundleUnavailableError(root, fmt.Errorf("%s is not a directory", root))
		}
		return NewAssetBundle(os.DirFS(root), root), nil
	}
}

// AssetFSOpener returns a BundleOpener serving fsys.
func AssetFSOpener(fsys fs.FS, source string) BundleOpener {
	return func() (Bundle, error) {
		return NewAssetBundle(fsys, source), nil
	}
}

// Open implements Bundle.
func (a *AssetBundle) Open(name string) (*Entry, error) {
	if entry, err := a.openPlain(name); !errors.Is(err, fs.ErrNotExist) {
		return entry, err
	}

	if f, err := a.fsys.Open(name + zstdSuffix); err == nil {
		decoder, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("opening zstd stream %s: %w", name, err)
		}
		return &Entry{
			Name:   name + zstdSuffix,
			Size:   UnknownSize,
			Reader: &decodedReader{reader: decoder.IOReadCloser(), underlying: f},
		}, nil
	}

	if f, err := a.fsys.Open(name + lz4Suffix); err == nil {
		return &Entry{
			Name:   name + lz4Suffix,
			Size:   UnknownSize,
			Reader: &decodedReader{reader: io.NopCloser(lz4.NewReader(f)), underlying: f},
		}, nil
	}

	return nil, fmt.Errorf("%s: %w", name, ErrEntryNotFound)
}

func (a *AssetBundle) openPlain(name string) (*Entry, error) {
	f, err := a.fsys.Open(name)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%s is a directory: %w", name, ErrEntryNotFound)
	}

	return &Entry{Name: name, Size: info.Size(), Reader: f}, nil
}

// Close implements Bundle.
func (a *AssetBundle) Close() error { return nil }

// String implements Bundle.
func (a *AssetBundle) String() string {
	return "assets:" + a.source
}

// decodedReader closes both the decoder and the file underneath it.
type decodedReader struct {
	reader     io.ReadCloser
	underlying io.Closer
}

func (d *decodedReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decodedReader) Close() error {
	decodeErr := d.reader.Close()
	closeErr := d.underlying.Close()
	if decodeErr != nil {
		return decodeErr
	}
	return closeErr
}
