// metrics_prometheus.go: MetricsCollector backed by prometheus/client_golang
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package nativeload

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// loadSecondsBuckets covers a cached dlopen up to a cold extraction of a
// large library.
var loadSecondsBuckets = []float64{.0005, .001, .005, .01, .05, .1, .25, .5, 1, 2.5, 5}

// metricHelp documents the loader's own metrics.
var metricHelp = map[string]string{
	MetricLoadsTotal:           "EnsureLoaded calls by load source and error kind",
	MetricLoadSeconds:          "EnsureLoaded duration in seconds by load source",
	MetricExtractionsTotal:     "Bundle extractions by result",
	MetricInstallRacesTotal:    "Promotions lost to a concurrent process",
	MetricCleanupRemovedTotal:  "Stale install root entries removed",
	MetricCleanupWarningsTotal: "Install root paths that could not be removed",
	MetricLoadedLibraries:      "Libraries currently activated by this loader",
}

// PrometheusMetricsCollector registers one vector per metric name on first
// use. The label set of the first observation fixes the vector's labels.
type PrometheusMetricsCollector struct {
	factory promauto.Factory

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec

	// rejected holds names the registry refused; they are only mirrored.
	rejected map[string]bool

	fallback *DefaultMetricsCollector
}

// NewPrometheusMetricsCollector registers metrics on reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewPrometheusMetricsCollector(reg prometheus.Registerer) *PrometheusMetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &PrometheusMetricsCollector{
		factory:    promauto.With(reg),
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		rejected:   make(map[string]bool),
		fallback:   NewDefaultMetricsCollector(),
	}
}

func (p *PrometheusMetricsCollector) IncrementCounter(name string, labels map[string]string, value int64) {
	p.fallback.IncrementCounter(name, labels, value)

	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok && !p.rejected[name] {
		vec, ok = register(func() *prometheus.CounterVec {
			return p.factory.NewCounterVec(prometheus.CounterOpts{
				Name: name,
				Help: help(name, "counter"),
			}, labelNames(labels))
		})
		if ok {
			p.counters[name] = vec
		} else {
			p.rejected[name] = true
		}
	}
	p.mu.Unlock()

	if ok {
		if counter, err := vec.GetMetricWith(labels); err == nil {
			counter.Add(float64(value))
		}
	}
}

func (p *PrometheusMetricsCollector) SetGauge(name string, labels map[string]string, value float64) {
	p.fallback.SetGauge(name, labels, value)

	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok && !p.rejected[name] {
		vec, ok = register(func() *prometheus.GaugeVec {
			return p.factory.NewGaugeVec(prometheus.GaugeOpts{
				Name: name,
				Help: help(name, "gauge"),
			}, labelNames(labels))
		})
		if ok {
			p.gauges[name] = vec
		} else {
			p.rejected[name] = true
		}
	}
	p.mu.Unlock()

	if ok {
		if gauge, err := vec.GetMetricWith(labels); err == nil {
			gauge.Set(value)
		}
	}
}

func (p *PrometheusMetricsCollector) RecordHistogram(name string, labels map[string]string, value float64) {
	p.fallback.RecordHistogram(name, labels, value)

	p.mu.Lock()
	vec, ok := p.histograms[name]
	if !ok && !p.rejected[name] {
		vec, ok = register(func() *prometheus.HistogramVec {
			return p.factory.NewHistogramVec(prometheus.HistogramOpts{
				Name:    name,
				Help:    help(name, "histogram"),
				Buckets: loadSecondsBuckets,
			}, labelNames(labels))
		})
		if ok {
			p.histograms[name] = vec
		} else {
			p.rejected[name] = true
		}
	}
	p.mu.Unlock()

	if ok {
		if observer, err := vec.GetMetricWith(labels); err == nil {
			observer.Observe(value)
		}
	}
}

// GetMetrics returns the in-memory mirror of everything recorded.
func (p *PrometheusMetricsCollector) GetMetrics() map[string]interface{} {
	return p.fallback.GetMetrics()
}

// register runs a promauto constructor, which panics when the registry
// rejects the collector. Rejected metrics are dropped from export but still
// mirrored in memory.
func register[V any](create func() V) (vec V, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			vec, ok = zero, false
			if err, isErr := r.(error); isErr {
				var already prometheus.AlreadyRegisteredError
				if errors.As(err, &already) {
					if existing, match := already.ExistingCollector.(V); match {
						vec, ok = existing, true
					}
				}
			}
		}
	}()
	return create(), true
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

func help(name, kind string) string {
	if text, ok := metricHelp[name]; ok {
		return text
	}
	readable := strings.ReplaceAll(strings.TrimPrefix(name, "nativeload_"), "_", " ")
	return fmt.Sprintf("%s %s", cases.Title(language.English).String(readable), kind)
}
