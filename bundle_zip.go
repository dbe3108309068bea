// bundle_zip.go: Zip archive bundle backed by klauspost/compress
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"
)

// ZipBundle serves entries from a zip archive. Entry reads verify the
// archive's CRC-32 and declared size.
type ZipBundle struct {
	source  string
	closer  io.Closer
	entries map[string]*zip.File
}

// OpenZipBundle opens the archive at path.
func OpenZipBundle(path string) (*ZipBundle, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, NewBundleUnavailableError(path, err)
	}
	return newZipBundle(path, &rc.Reader, rc), nil
}

// NewZipBundle reads an archive from r, for example bytes embedded in the
// executable.
func NewZipBundle(r io.ReaderAt, size int64, source string) (*ZipBundle, error) {
	reader, err := zip.NewReader(r, size)
	if err != nil {
		return nil, NewBundleUnavailableError(source, err)
	}
	return newZipBundle(source, reader, nil), nil
}

// ZipBundleOpener returns a BundleOpener for the archive at path.
func ZipBundleOpener(path string) BundleOpener {
	return func() (Bundle, error) {
		return OpenZipBundle(path)
	}
}

func newZipBundle(source string, reader *zip.Reader, closer io.Closer) *ZipBundle {
	entries := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		if f.FileInfo().IsDir() {
			continue
		}
		entries[f.Name] = f
	}
	return &ZipBundle{source: source, closer: closer, entries: entries}
}

// Open implements Bundle.
func (z *ZipBundle) Open(name string) (*Entry, error) {
	f, ok := z.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrEntryNotFound)
	}

	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s in %s: %w", name, z.source, err)
	}

	return &Entry{
		Name:   name,
		Size:   int64(f.UncompressedSize64),
		Reader: rc,
	}, nil
}

// Close implements Bundle.
func (z *ZipBundle) Close() error {
	if z.closer == nil {
		return nil
	}
	return z.closer.Close()
}

// String implements Bundle.
func (z *ZipBundle) String() string {
	return "zip:" + z.source
}
