package scan

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_scanner_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "invoice_scanner_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	scansTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_scanner_scans_total",
			Help: "Total number of processed scans",
		},
		[]string{"status"}, // success, unsupported, decode_error, recognition_error, store_error
	)

	recognitionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_scanner_recognition_duration_seconds",
			Help:    "Text recognition duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 25, 50, 100},
		},
	)

	recognizedTextLength = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_scanner_recognized_text_length",
			Help:    "Length of recognized text",
			Buckets: []float64{0, 10, 50, 100, 500, 1000, 5000, 10000},
		},
	)

	fieldsFound = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "invoice_scanner_fields_found_total",
			Help: "Number of scans where each field was extracted",
		},
		[]string{"field"}, // cnpj, data, total
	)

	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "invoice_scanner_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)
)
