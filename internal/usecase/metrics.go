package usecase

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for AnalysesTotal.
const (
	outcomeSuccess         = "success"
	outcomeClassifierError = "classifier_error"
	outcomeStorageError    = "storage_error"
)

var (
	AnalysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skincheck_analyses_total",
			Help: "Total number of image analyses by outcome",
		},
		[]string{"outcome"},
	)

	ClassifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skincheck_classify_duration_seconds",
			Help:    "Latency of classifier calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "skincheck_resets_total",
			Help: "Total number of reset requests",
		},
	)

	RecommendedProducts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "skincheck_recommended_products",
			Help:    "Number of recommended products per analysis",
			Buckets: []float64{0, 1, 2, 4, 8, 16},
		},
	)
)
