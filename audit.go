// audit.go: Audit trail of install root mutations via argus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agilira/argus"
	"github.com/agilira/go-timecache"
)

// Audit event types.
const (
	AuditLibraryInstalled  = "library_installed"
	AuditInstallRaceLost   = "install_race_lost"
	AuditStalePathRemoved  = "stale_path_removed"
	AuditIntegrityMismatch = "integrity_mismatch"
)

// AuditTrail records every change the loader makes under the install root.
// A nil *AuditTrail discards events.
type AuditTrail struct {
	mu     sync.Mutex
	logger *argus.AuditLogger
}

// NewAuditTrail opens an audit log at file, creating its directory.
func NewAuditTrail(file string) (*AuditTrail, error) {
	if err := os.MkdirAll(filepath.Dir(file), 0o750); err != nil {
		return nil, NewConfigValidationError("failed to create audit directory", err)
	}

	auditor, err := argus.NewAuditLogger(argus.AuditConfig{
		Enabled:       true,
		OutputFile:    file,
		MinLevel:      argus.AuditInfo,
		BufferSize:    256,
		FlushInterval: time.Second,
		IncludeStack:  false,
	})
	if err != nil {
		return nil, NewConfigValidationError("failed to create audit logger", err)
	}

	return &AuditTrail{logger: auditor}, nil
}

// Record writes one event.
func (a *AuditTrail) Record(event string, context map[string]interface{}) {
	if a == nil {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logger == nil {
		return
	}

	if context == nil {
		context = make(map[string]interface{})
	}
	context["component"] = "nativeload"
	context["pid"] = os.Getpid()
	context["timestamp"] = timecache.CachedTime().Format(time.RFC3339)

	a.logger.LogSecurityEvent(event, "Native library install event", context)
}

// Close flushes and closes the log. Later events are discarded.
func (a *AuditTrail) Close() error {
	if a == nil {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.logger == nil {
		return nil
	}
	err := a.logger.Close()
	a.logger = nil
	return err
}
