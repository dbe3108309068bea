// errors.go: structured error definitions for the native artifact loader
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the nativeload system
const (
	// Library name errors (2000-2019)
	ErrCodeInvalidLibraryName = "NATIVE_2001"

	// Bundle and extraction errors (2020-2049)
	ErrCodeMissingArtifact   = "NATIVE_2021"
	ErrCodeBundleUnavailable = "NATIVE_2022"
	ErrCodeTruncatedArtifact = "NATIVE_2023"
	ErrCodeIntegrityMismatch = "NATIVE_2024"
	ErrCodeBundleReadError   = "NATIVE_2025"

	// Installation errors (2050-2079)
	ErrCodeInstallError = "NATIVE_2051"
	ErrCodeStagingError = "NATIVE_2052"

	// Activation errors (2080-2099)
	ErrCodeActivationError     = "NATIVE_2081"
	ErrCodeUnsupportedPlatform = "NATIVE_2082"
	ErrCodeSymbolNotFound      = "NATIVE_2083"

	// Cleanup warnings (2100-2119)
	ErrCodeCleanupWarning = "CLEANUP_2101"

	// Configuration errors (1700-1799)
	ErrCodeConfigNotFound        = "CONFIG_1701"
	ErrCodeConfigParseError      = "CONFIG_1702"
	ErrCodeConfigValidationError = "CONFIG_1703"
	ErrCodePackageInfoError      = "CONFIG_1710"
)

// ErrorKind classifies a failed EnsureLoaded call.
type ErrorKind int

const (
	// ErrorKindNone means the library was activated.
	ErrorKindNone ErrorKind = iota
	// ErrorKindInvalidName means the logical name was rejected before any I/O.
	ErrorKindInvalidName
	// ErrorKindMissingArtifact means the bundle holds no usable entry for any ABI.
	ErrorKindMissingArtifact
	// ErrorKindInstallError means a filesystem failure not caused by a lost race.
	ErrorKindInstallError
	// ErrorKindActivationError means the artifact is present but would not load.
	ErrorKindActivationError
)

// String returns the kind name used in logs and metric labels.
func (k ErrorKind) String() string {
	switch k {
	case ErrorKindNone:
		return "none"
	case ErrorKindInvalidName:
		return "invalid_name"
	case ErrorKindMissingArtifact:
		return "missing_artifact"
	case ErrorKindInstallError:
		return "install_error"
	case ErrorKindActivationError:
		return "activation_error"
	default:
		return "unknown"
	}
}

// KindOf maps an error produced by this package to its ErrorKind.
// Errors from elsewhere are reported as ErrorKindInstallError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}

	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		return ErrorKindInstallError
	}

	switch string(structured.ErrorCode()) {
	case ErrCodeInvalidLibraryName:
		return ErrorKindInvalidName
	case ErrCodeMissingArtifact, ErrCodeBundleUnavailable, ErrCodeTruncatedArtifact, ErrCodeIntegrityMismatch, ErrCodeBundleReadError:
		return ErrorKindMissingArtifact
	case ErrCodeActivationError, ErrCodeUnsupportedPlatform, ErrCodeSymbolNotFound:
		return ErrorKindActivationError
	default:
		return ErrorKindInstallError
	}
}

// Library name error constructors

func NewInvalidLibraryNameError(name, reason string) *errors.Error {
	return errors.New(ErrCodeInvalidLibraryName, "Invalid library name: "+reason).
		WithUserMessage("Library name must be a plain, non-empty identifier").
		WithContext("library_name", name).
		WithSeverity("error")
}

// Bundle and extraction error constructors

func NewMissingArtifactError(fileName string, abis []string) *errors.Error {
	return errors.New(ErrCodeMissingArtifact, "Bundle is missing library").
		WithUserMessage("The application bundle has no entry for this library on any supported ABI").
		WithContext("file_name", fileName).
		WithContext("abis", abis).
		WithSeverity("error")
}

func NewBundleUnavailableError(source string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeBundleUnavailable, "Error opening bundle").
		WithUserMessage("The application bundle could not be opened").
		WithContext("bundle", source).
		WithSeverity("error")
}

func NewTruncatedArtifactError(entryName string, expected, actual int64) *errors.Error {
	return errors.New(ErrCodeTruncatedArtifact, "Bundle entry truncated").
		WithUserMessage("The library entry ended before its declared size").
		WithContext("entry", entryName).
		WithContext("expected_bytes", expected).
		WithContext("actual_bytes", actual).
		WithSeverity("error")
}

func NewBundleReadError(entryName, source string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeBundleReadError, "Error reading bundle entry").
		WithUserMessage("The library entry in the application bundle is corrupt or unreadable").
		WithContext("entry", entryName).
		WithContext("bundle", source).
		WithSeverity("error")
}

func NewIntegrityMismatchError(fileName, expected, actual string) *errors.Error {
	return errors.New(ErrCodeIntegrityMismatch, "Library digest mismatch").
		WithUserMessage("The extracted library does not match its expected checksum").
		WithContext("file_name", fileName).
		WithContext("expected_digest", expected).
		WithContext("actual_digest", actual).
		WithSeverity("error")
}

// Installation error constructors

func NewStagingError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeStagingError, "Unable to write staging file").
		WithUserMessage("The library could not be unpacked to its staging location").
		WithContext("staging_path", path).
		WithSeverity("error")
}

func NewInstallError(fileName, destination string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeInstallError, "Unable to install library").
		WithUserMessage("The unpacked library could not be moved into the install directory").
		WithContext("file_name", fileName).
		WithContext("destination", destination).
		WithSeverity("error")
}

// Activation error constructors

func NewActivationError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeActivationError, "Error loading library").
		WithUserMessage("The library exists but the dynamic linker refused to load it").
		WithContext("library_path", path).
		WithSeverity("error")
}

func NewUnsupportedPlatformError(platform string) *errors.Error {
	return errors.New(ErrCodeUnsupportedPlatform, "Dynamic loading unsupported").
		WithUserMessage("Shared libraries cannot be loaded on this platform").
		WithContext("platform", platform).
		WithSeverity("error")
}

func NewSymbolNotFoundError(library, symbol string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeSymbolNotFound, "Symbol not found").
		WithUserMessage("The loaded library does not export the requested symbol").
		WithContext("library_path", library).
		WithContext("symbol", symbol).
		WithSeverity("error")
}

// Cleanup warning constructor

func NewCleanupWarning(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeCleanupWarning, "Failed to remove stale path").
		WithUserMessage("A stale install path could not be removed").
		WithContext("path", path).
		WithSeverity("warning")
}

// Configuration error constructors

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file could not be found").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigValidationError, "Configuration validation error: "+message).
			WithUserMessage("Configuration validation failed").
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigValidationError, "Configuration validation error: "+message).
		WithUserMessage("Configuration validation failed").
		WithSeverity("error")
}

func NewPackageInfoError(source string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodePackageInfoError, "Package information unavailable").
		WithUserMessage("Application package metadata could not be read").
		WithContext("source", source).
		WithSeverity("warning")
}
