// logging_logrus.go: Logger adapter for sirupsen/logrus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// LogrusAdapter wraps a *logrus.Entry so it satisfies Logger.
// Key-value args become logrus fields; a dangling key is stored under "arg".
type LogrusAdapter struct {
	entry *logrus.Entry
}

// NewLogrusAdapter creates an adapter around entry.
func NewLogrusAdapter(entry *logrus.Entry) *LogrusAdapter {
	return &LogrusAdapter{entry: entry}
}

// Debug implements Logger.
func (a *LogrusAdapter) Debug(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Debug(msg)
}

// Info implements Logger.
func (a *LogrusAdapter) Info(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Info(msg)
}

// Warn implements Logger.
func (a *LogrusAdapter) Warn(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Warn(msg)
}

// Error implements Logger.
func (a *LogrusAdapter) Error(msg string, args ...any) {
	a.entry.WithFields(argsToFields(args)).Error(msg)
}

// With implements Logger.
func (a *LogrusAdapter) With(args ...any) Logger {
	return &LogrusAdapter{entry: a.entry.WithFields(argsToFields(args))}
}

func argsToFields(args []any) logrus.Fields {
	fields := make(logrus.Fields, len(args)/2+1)
	for i := 0; i < len(args); i += 2 {
		if i+1 >= len(args) {
			fields["arg"] = args[i]
			break
		}
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		fields[key] = args[i+1]
	}
	return fields
}
