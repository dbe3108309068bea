// naming.go: Logical library name to platform file name mapping
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"runtime"
	"strings"
)

// Candidate is one ABI-specific place a library may live inside a bundle.
type Candidate struct {
	ABI       string `json:"abi"`
	FileName  string `json:"file_name"`
	EntryName string `json:"entry_name"`
}

// NamingResolver maps logical names to platform file names and bundle
// entries. It performs no I/O.
type NamingResolver struct {
	platform string
	abis     []string
}

// NewNamingResolver creates a resolver for platform (a GOOS value) and an
// ordered ABI list. Empty arguments select the running platform defaults.
func NewNamingResolver(platform string, abis []string) *NamingResolver {
	if platform == "" {
		platform = runtime.GOOS
	}
	if len(abis) == 0 {
		abis = DefaultABIs()
	}

	ordered := make([]string, 0, len(abis))
	seen := make(map[string]bool, len(abis))
	for _, abi := range abis {
		if abi == "" || seen[abi] {
			continue
		}
		seen[abi] = true
		ordered = append(ordered, abi)
	}

	return &NamingResolver{platform: platform, abis: ordered}
}

// DefaultABIs returns the ABI preference list for the running architecture,
// using the directory names application bundles conventionally carry.
func DefaultABIs() []string {
	return abisForArch(runtime.GOARCH)
}

func abisForArch(arch string) []string {
	switch arch {
	case "arm64":
		return []string{"arm64-v8a"}
	case "arm":
		return []string{"armeabi-v7a", "armeabi"}
	case "amd64":
		return []string{"x86_64"}
	case "386":
		return []string{"x86"}
	case "riscv64":
		return []string{"riscv64"}
	default:
		return []string{arch}
	}
}

// MapLibraryName maps a logical name to the running platform's file name.
func MapLibraryName(name string) string {
	return mapLibraryName(runtime.GOOS, name)
}

func mapLibraryName(platform, name string) string {
	prefix, suffix := "lib", ".so"
	switch platform {
	case "darwin", "ios":
		suffix = ".dylib"
	case "windows":
		prefix, suffix = "", ".dll"
	}

	if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) && len(name) > len(prefix)+len(suffix) {
		return name
	}
	return prefix + name + suffix
}

// FileName returns the platform file name for name.
func (r *NamingResolver) FileName(name string) string {
	return mapLibraryName(r.platform, name)
}

// ABIs returns a copy of the ordered ABI list.
func (r *NamingResolver) ABIs() []string {
	out := make([]string, len(r.abis))
	copy(out, r.abis)
	return out
}

// Platform returns the GOOS value the resolver maps names for.
func (r *NamingResolver) Platform() string {
	return r.platform
}

// Resolve returns one candidate per ABI, primary first.
func (r *NamingResolver) Resolve(name string) []Candidate {
	fileName := r.FileName(name)
	candidates := make([]Candidate, 0, len(r.abis))
	for _, abi := range r.abis {
		candidates = append(candidates, Candidate{
			ABI:       abi,
			FileName:  fileName,
			EntryName: "lib/" + abi + "/" + fileName,
		})
	}
	return candidates
}

// ValidateLibraryName rejects names that could escape the install
// directory or confuse the dynamic linker.
func ValidateLibraryName(name string) error {
	if strings.TrimSpace(name) == "" {
		return NewInvalidLibraryNameError(name, "name is empty")
	}
	if strings.Contains(name, "..") {
		return NewInvalidLibraryNameError(name, "name contains '..'")
	}
	if strings.ContainsAny(name, `/\`) {
		return NewInvalidLibraryNameError(name, "name contains a path separator")
	}
	for _, r := range name {
		if r < 32 || r == 127 {
			return NewInvalidLibraryNameError(name, "name contains a control character")
		}
	}
	return nil
}
