// record.go: Per-call artifact lifecycle record
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"time"

	"github.com/agilira/go-timecache"
)

// ArtifactState is the lifecycle position of one EnsureLoaded call.
type ArtifactState int

const (
	StateUnresolved ArtifactState = iota
	StateFoundSystem
	StateFoundInstalled
	StateExtracting
	StateStaged
	StateInstalled
	StateMissing
)

// String returns the state name.
func (s ArtifactState) String() string {
	switch s {
	case StateUnresolved:
		return "UNRESOLVED"
	case StateFoundSystem:
		return "FOUND_SYSTEM"
	case StateFoundInstalled:
		return "FOUND_INSTALLED"
	case StateExtracting:
		return "EXTRACTING"
	case StateStaged:
		return "STAGED"
	case StateInstalled:
		return "INSTALLED"
	case StateMissing:
		return "MISSING"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s ArtifactState) Terminal() bool {
	switch s {
	case StateFoundSystem, StateFoundInstalled, StateInstalled, StateMissing:
		return true
	default:
		return false
	}
}

// LoadSource names the step of the fallback chain that produced a library.
type LoadSource string

const (
	SourceNone      LoadSource = ""
	SourceDefault   LoadSource = "default"
	SourceSystem    LoadSource = "system"
	SourceInstalled LoadSource = "installed"
	SourceExtracted LoadSource = "extracted"
)

// Transition is one entry of an ArtifactRecord history.
type Transition struct {
	State ArtifactState `json:"state"`
	Path  string        `json:"path,omitempty"`
	At    time.Time     `json:"at"`
}

// ArtifactRecord traces one EnsureLoaded call from UNRESOLVED to a
// terminal state.
type ArtifactRecord struct {
	Name         string        `json:"name"`
	FileName     string        `json:"file_name"`
	ResolvedPath string        `json:"resolved_path,omitempty"`
	State        ArtifactState `json:"state"`
	History      []Transition  `json:"history"`
	StartedAt    time.Time     `json:"started_at"`
	FinishedAt   time.Time     `json:"finished_at,omitempty"`
}

func newArtifactRecord(name, fileName string) *ArtifactRecord {
	now := timecache.CachedTime()
	return &ArtifactRecord{
		Name:      name,
		FileName:  fileName,
		State:     StateUnresolved,
		History:   []Transition{{State: StateUnresolved, At: now}},
		StartedAt: now,
	}
}

// transition moves the record forward. Terminal records do not move.
func (r *ArtifactRecord) transition(state ArtifactState, path string) {
	if r.State.Terminal() {
		return
	}

	now := timecache.CachedTime()
	r.State = state
	if path != "" {
		r.ResolvedPath = path
	}
	r.History = append(r.History, Transition{State: state, Path: path, At: now})
	if state.Terminal() {
		r.FinishedAt = now
	}
}

// snapshot returns a copy safe to hand to callers.
func (r *ArtifactRecord) snapshot() ArtifactRecord {
	return r.clone()
}

func (r ArtifactRecord) clone() ArtifactRecord {
	r.History = append([]Transition(nil), r.History...)
	return r
}
