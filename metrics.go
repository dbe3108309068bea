// metrics.go: Metrics collection for library loads, extractions and cleanup
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Metric names recorded by the Loader.
const (
	MetricLoadsTotal           = "nativeload_loads_total"
	MetricLoadSeconds          = "nativeload_load_seconds"
	MetricExtractionsTotal     = "nativeload_extractions_total"
	MetricInstallRacesTotal    = "nativeload_install_races_total"
	MetricCleanupRemovedTotal  = "nativeload_cleanup_removed_total"
	MetricCleanupWarningsTotal = "nativeload_cleanup_warnings_total"
	MetricLoadedLibraries      = "nativeload_loaded_libraries"
)

// MetricsCollector receives loader metrics. Implementations must be safe
// for concurrent use.
//
// Example:
//
//	collector.IncrementCounter(MetricLoadsTotal,
//	    map[string]string{"source": "extracted", "result": "none"}, 1)
//	collector.RecordHistogram(MetricLoadSeconds,
//	    map[string]string{"source": "extracted"}, 0.012)
type MetricsCollector interface {
	IncrementCounter(name string, labels map[string]string, value int64)
	SetGauge(name string, labels map[string]string, value float64)
	RecordHistogram(name string, labels map[string]string, value float64)

	// GetMetrics returns a snapshot keyed by "name{k=v,...}".
	GetMetrics() map[string]interface{}
}

// DefaultMetricsCollector keeps metrics in memory.
type DefaultMetricsCollector struct {
	metrics map[string]interface{}
	mu      sync.RWMutex
}

// NewDefaultMetricsCollector creates an in-memory collector.
func NewDefaultMetricsCollector() *DefaultMetricsCollector {
	return &DefaultMetricsCollector{
		metrics: make(map[string]interface{}),
	}
}

func (dmc *DefaultMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	key := metricKey(name, labels)
	if counter, ok := dmc.metrics[key].(int64); ok {
		dmc.metrics[key] = counter + value
		return
	}
	dmc.metrics[key] = value
}

func (dmc *DefaultMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	dmc.metrics[metricKey(name, labels)] = value
}

func (dmc *DefaultMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	dmc.mu.Lock()
	defer dmc.mu.Unlock()
	key := metricKey(name, labels)
	if histogram, ok := dmc.metrics[key].([]float64); ok {
		dmc.metrics[key] = append(histogram, value)
		return
	}
	dmc.metrics[key] = []float64{value}
}

func (dmc *DefaultMetricsCollector) GetMetrics() map[string]interface{} {
	dmc.mu.RLock()
	defer dmc.mu.RUnlock()
	result := make(map[string]interface{}, len(dmc.metrics))
	for k, v := range dmc.metrics {
		if histogram, ok := v.([]float64); ok {
			v = append([]float64(nil), histogram...)
		}
		result[k] = v
	}
	return result
}

// Counter returns the current value of a counter, zero when unset.
func (dmc *DefaultMetricsCollector) Counter(name string, labels map[string]string) int64 {
	dmc.mu.RLock()
	defer dmc.mu.RUnlock()
	value, _ := dmc.metrics[metricKey(name, labels)].(int64)
	return value
}

func metricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, fmt.Sprintf("%s=%s", k, v))
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s{%s}", name, strings.Join(parts, ","))
}

type noopMetricsCollector struct{}

func (noopMetricsCollector) IncrementCounter(string, map[string]string, int64) {}
func (noopMetricsCollector) SetGauge(string, map[string]string, float64)       {}
func (noopMetricsCollector) RecordHistogram(string, map[string]string, float64) {}
func (noopMetricsCollector) GetMetrics() map[string]interface{}                 { return nil }
