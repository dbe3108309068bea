// extract.go: Streams a library entry out of the bundle into a staging file
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"encoding/hex"
	"errors"
	"hash"
	"io"
	"io/fs"
	"os"
)

// extractBufferSize is the fixed copy buffer for entry streaming.
const extractBufferSize = 16 * 1024

// StagedArtifact is a fully written staging file owned by one extraction.
type StagedArtifact struct {
	Path      string `json:"path"`
	ABI       string `json:"abi"`
	EntryName string `json:"entry_name"`
	Size      int64  `json:"size"`
	Digest    string `json:"digest,omitempty"`
	FellBack  bool   `json:"fell_back"`
}

// Extractor copies bundle entries to staging files.
type Extractor struct {
	logger    Logger
	integrity *IntegrityVerifier
}

// NewExtractor creates an extractor. A nil verifier disables checksums.
func NewExtractor(logger Logger, integrity *IntegrityVerifier) *Extractor {
	return &Extractor{logger: NewLogger(logger), integrity: integrity}
}

// Extract looks up the candidates in ABI order and streams the first entry
// found into stagingDir. Any failure removes the partial staging file.
func (e *Extractor) Extract(bundle Bundle, candidates []Candidate, stagingDir string) (*StagedArtifact, error) {
	if len(candidates) == 0 {
		return nil, NewMissingArtifactError("", nil)
	}

	entry, chosen, err := e.locate(bundle, candidates)
	if err != nil {
		return nil, err
	}
	defer entry.Reader.Close()

	out, err := createStagingFile(stagingDir, chosen.FileName)
	if err != nil {
		return nil, NewStagingError(stagingDir, err)
	}
	stagingPath := out.Name()
	e.logger.Debug("Unpacking library",
		"entry", entry.Name,
		"staging_path", stagingPath,
		"bundle", bundle.String())

	staged := &StagedArtifact{
		Path:      stagingPath,
		ABI:       chosen.ABI,
		EntryName: entry.Name,
		FellBack:  chosen.ABI != candidates[0].ABI,
	}

	var hasher hash.Hash
	if _, ok := e.integrity.Expected(chosen.FileName); ok {
		hasher = e.integrity.NewHash()
	}

	written, copyErr := copyEntry(out, entry.Reader, hasher)
	if copyErr == nil {
		copyErr = syncAndClose(out)
	} else {
		out.Close()
	}
	if copyErr != nil {
		e.discard(stagingPath)
		var readErr *entryReadError
		if errors.As(copyErr, &readErr) {
			return nil, NewBundleReadError(entry.Name, bundle.String(), readErr.err)
		}
		return nil, NewStagingError(stagingPath, copyErr)
	}

	if entry.Size != UnknownSize && written != entry.Size {
		e.discard(stagingPath)
		return nil, NewTruncatedArtifactError(entry.Name, entry.Size, written)
	}

	staged.Size = written
	if hasher != nil {
		staged.Digest = hex.EncodeToString(hasher.Sum(nil))
		if err := e.integrity.Verify(chosen.FileName, staged.Digest); err != nil {
			e.discard(stagingPath)
			return nil, err
		}
	}

	return staged, nil
}

// locate opens the first candidate present in the bundle.
func (e *Extractor) locate(bundle Bundle, candidates []Candidate) (*Entry, Candidate, error) {
	abis := make([]string, 0, len(candidates))
	for i, candidate := range candidates {
		abis = append(abis, candidate.ABI)

		entry, err := bundle.Open(candidate.EntryName)
		if errors.Is(err, ErrEntryNotFound) {
			continue
		}
		if err != nil {
			return nil, Candidate{}, NewBundleUnavailableError(bundle.String(), err)
		}

		if i > 0 {
			e.logger.Warn("Falling back to secondary ABI",
				"from", candidates[0].ABI,
				"to", candidate.ABI,
				"entry", candidate.EntryName)
		}
		return entry, candidate, nil
	}

	e.logger.Error("Bundle is missing library",
		"file_name", candidates[0].FileName,
		"abis", abis,
		"bundle", bundle.String())
	return nil, Candidate{}, NewMissingArtifactError(candidates[0].FileName, abis)
}

func (e *Extractor) discard(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("Failed to delete partial staging file", "path", path, "error", err)
	}
}

// stagingCreateAttempts bounds retries when a sibling call removes the
// shared staging directory between MkdirAll and file creation.
const stagingCreateAttempts = 3

// createStagingFile creates a file private to this call inside dir. The
// directory is shared by every extraction of the process, so the file name
// carries a random suffix.
func createStagingFile(dir, fileName string) (*os.File, error) {
	var err error
	for attempt := 0; attempt < stagingCreateAttempts; attempt++ {
		if err = os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		var f *os.File
		f, err = os.CreateTemp(dir, fileName+".*")
		if err == nil {
			return f, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return nil, err
}

// entryReadError marks a failure reading the bundle entry, as opposed to
// writing the staging file.
type entryReadError struct {
	err error
}

func (e *entryReadError) Error() string { return "reading bundle entry: " + e.err.Error() }

func (e *entryReadError) Unwrap() error { return e.err }

// copyEntry streams src into dst through a fixed-size buffer, feeding the
// optional hasher with the same bytes. Source failures are returned as
// *entryReadError.
func copyEntry(dst io.Writer, src io.Reader, hasher hash.Hash) (int64, error) {
	buffer := make([]byte, extractBufferSize)
	var written int64
	for {
		n, readErr := src.Read(buffer)
		if n > 0 {
			if _, err := dst.Write(buffer[:n]); err != nil {
				return written, err
			}
			if hasher != nil {
				hasher.Write(buffer[:n])
			}
			written += int64(n)
		}
		if readErr == io.EOF {
			return written, nil
		}
		if readErr != nil {
			return written, &entryReadError{err: readErr}
		}
	}
}

func syncAndClose(f *os.File) error {
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
