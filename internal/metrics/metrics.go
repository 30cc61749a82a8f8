// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// RequestCounter counts HTTP requests by method, route and status.
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	// RequestDuration observes HTTP latency by method and route.
	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// GalleryOperations counts upload/edit/delete/list outcomes.
	GalleryOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gallery_operations_total",
			Help: "Gallery metadata operations by kind and result",
		},
		[]string{"operation", "result"},
	)

	// OrphanFiles is the number of unreferenced upload files seen by the last sweep.
	OrphanFiles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gallery_orphan_files",
			Help: "Unreferenced files in the uploads directory at the last sweep",
		},
	)

	// LeadSubmissions counts quote and booking submissions.
	LeadSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lead_submissions_total",
			Help: "Quote and booking submissions by kind and notification result",
		},
		[]string{"kind", "result"},
	)

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		RequestCounter,
		RequestDuration,
		GalleryOperations,
		OrphanFiles,
		LeadSubmissions,
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
}

// Registry returns the registry the collectors are registered with.
func Registry() *prometheus.Registry {
	return registry
}

// ObserveGallery records the outcome of one gallery operation.
func ObserveGallery(operation string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	GalleryOperations.WithLabelValues(operation, result).Inc()
}
