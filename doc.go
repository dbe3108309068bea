// Package nativeload locates, installs and activates a platform specific
// shared library shipped inside an application bundle.
//
// EnsureLoaded walks a fallback chain, cheapest step first: the dynamic
// linker's default search, an ordered list of vendor and system library
// directories, a private install directory namespaced by the application's
// version tag, and finally extraction from the bundle (a zip archive or an
// asset tree holding "lib/<abi>/<file>" entries) with ABI fallback.
//
// Extraction is safe when several processes of the same application race:
// each process writes its own staging directory "<tag>-<pid>" and promotes
// the file with a rename that never replaces an existing destination. The
// process that loses the race adopts the file already installed. Install
// directories of other versions are removed on a best-effort basis; the
// current version's directories are never touched.
//
// Basic usage:
//
//	loader, err := nativeload.Simple().
//	    WithInstallRoot("/var/cache/myapp/native").
//	    WithBundle("/opt/myapp/app.zip").
//	    WithLogger(logrus.StandardLogger()).
//	    Build()
//	if err != nil {
//	    return err
//	}
//
//	result := loader.EnsureLoaded("ymagine")
//	if !result.OK {
//	    // result.ErrorKind is MissingArtifact, InstallError or
//	    // ActivationError; fall back to the pure Go path.
//	}
//	sym, err := result.Library.Lookup("YmagineDecode")
//
// Configuration can be read from YAML, JSON, TOML and the other formats
// argus detects with LoadConfigFromFile, and every path field accepts
// ${VAR:-default} placeholders. NATIVELOAD_* variables override fields.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0
package nativeload
