// record_test.go: Artifact lifecycle record tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestArtifactRecord_Transitions(t *testing.T) {
	record := newArtifactRecord("foo", "libfoo.so")
	assert.Equal(t, StateUnresolved, record.State)
	assert.True(t, record.FinishedAt.IsZero())

	record.transition(StateExtracting, "")
	record.transition(StateStaged, "/root/3-1000-7/libfoo.so")
	assert.Equal(t, "/root/3-1000-7/libfoo.so", record.ResolvedPath)
	assert.True(t, record.FinishedAt.IsZero())

	record.transition(StateInstalled, "/root/3-1000/libfoo.so")
	assert.Equal(t, StateInstalled, record.State)
	assert.Equal(t, "/root/3-1000/libfoo.so", record.ResolvedPath)
	assert.False(t, record.FinishedAt.IsZero())
	assert.Len(t, record.History, 4)
}

func TestArtifactRecord_TerminalIsFinal(t *testing.T) {
	record := newArtifactRecord("foo", "libfoo.so")
	record.transition(StateMissing, "")
	record.transition(StateInstalled, "/somewhere")

	assert.Equal(t, StateMissing, record.State)
	assert.Empty(t, record.ResolvedPath)
	assert.Len(t, record.History, 2)
}

func TestArtifactRecord_SnapshotIsIndependent(t *testing.T) {
	record := newArtifactRecord("foo", "libfoo.so")
	snapshot := record.snapshot()

	record.transition(StateExtracting, "")
	assert.Len(t, snapshot.History, 1)
	assert.Equal(t, StateUnresolved, snapshot.State)

	snapshot.History[0].State = StateMissing
	assert.Equal(t, StateUnresolved, record.snapshot().History[0].State)
}

func TestArtifactState(t *testing.T) {
	terminal := map[ArtifactState]bool{
		StateUnresolved:     false,
		StateFoundSystem:    true,
		StateFoundInstalled: true,
		StateExtracting:     false,
		StateStaged:         false,
		StateInstalled:      true,
		StateMissing:        true,
	}
	for state, want := range terminal {
		assert.Equal(t, want, state.Terminal(), state.String())
	}

	assert.Equal(t, "FOUND_INSTALLED", StateFoundInstalled.String())
	assert.Equal(t, "UNKNOWN", ArtifactState(42).String())
}
