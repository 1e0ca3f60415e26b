package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Enrollments = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "enrollments_total",
		Help:      "Enrollment requests by outcome",
	}, []string{"outcome"})

	RejectedImages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "rejected_images_total",
		Help:      "Enrollment images rejected, by reason",
	}, []string{"reason"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "recognitions_total",
		Help:      "Recognition requests by outcome",
	}, []string{"outcome"})

	Revocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceid",
		Name:      "revocations_total",
		Help:      "Revocation requests by outcome",
	}, []string{"outcome"})

	MatchDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "match_distance",
		Help:      "Chi-square distance of the nearest neighbour on recognition",
		Buckets:   prometheus.LinearBuckets(0, 10, 15),
	})

	TrainingDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "training_duration_seconds",
		Help:      "Duration of a full model training",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "inference_duration_seconds",
		Help:      "Duration of per-image pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
	}, []string{"stage"})

	TrainedSamples = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "trained_samples",
		Help:      "Number of signatures in the active model",
	})

	EnrolledProfiles = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "enrolled_profiles",
		Help:      "Number of profiles in the active model",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceid",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceid",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
