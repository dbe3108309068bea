// integrity.go: Optional checksum verification for extracted libraries
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/zeebo/blake3"
)

// HashAlgorithm defines supported hash algorithms
type HashAlgorithm string

const (
	// HashAlgorithmSHA256 uses crypto/sha256.
	HashAlgorithmSHA256 HashAlgorithm = "sha256"
	// HashAlgorithmBLAKE3 uses zeebo/blake3 (32-byte output).
	HashAlgorithmBLAKE3 HashAlgorithm = "blake3"
)

// Valid reports whether the algorithm is supported.
func (a HashAlgorithm) Valid() bool {
	return a == HashAlgorithmSHA256 || a == HashAlgorithmBLAKE3
}

func (a HashAlgorithm) newHash() hash.Hash {
	if a == HashAlgorithmBLAKE3 {
		return blake3.New()
	}
	return sha256.New()
}

// IntegrityVerifier checks extracted libraries against expected digests
// keyed by platform file name. Files without an expected digest pass.
type IntegrityVerifier struct {
	algorithm HashAlgorithm
	checksums map[string]string
}

// NewIntegrityVerifier returns nil when checksums is empty, which disables
// verification.
func NewIntegrityVerifier(algorithm HashAlgorithm, checksums map[string]string) *IntegrityVerifier {
	if len(checksums) == 0 {
		return nil
	}
	if algorithm == "" {
		algorithm = HashAlgorithmSHA256
	}

	normalized := make(map[string]string, len(checksums))
	for name, digest := range checksums {
		normalized[name] = strings.ToLower(strings.TrimSpace(digest))
	}
	return &IntegrityVerifier{algorithm: algorithm, checksums: normalized}
}

// Expected returns the digest registered for fileName.
func (v *IntegrityVerifier) Expected(fileName string) (string, bool) {
	if v == nil {
		return "", false
	}
	digest, ok := v.checksums[fileName]
	return digest, ok
}

// NewHash returns a fresh hasher for the configured algorithm.
func (v *IntegrityVerifier) NewHash() hash.Hash {
	return v.algorithm.newHash()
}

// Verify compares a computed digest with the expected one.
func (v *IntegrityVerifier) Verify(fileName, actual string) error {
	expected, ok := v.Expected(fileName)
	if !ok {
		return nil
	}
	if expected != actual {
		return NewIntegrityMismatchError(fileName, expected, actual)
	}
	return nil
}

// VerifyFile hashes the file at path and checks it against the digest
// registered for fileName. Files without a registered digest pass unread.
func (v *IntegrityVerifier) VerifyFile(path, fileName string) error {
	if _, ok := v.Expected(fileName); !ok {
		return nil
	}
	actual, err := HashFile(path, v.algorithm)
	if err != nil {
		return err
	}
	return v.Verify(fileName, actual)
}

// HashFile streams the file at path through algorithm and returns the hex
// digest.
func HashFile(path string, algorithm HashAlgorithm) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := algorithm.newHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
