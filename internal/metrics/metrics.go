package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CaptionRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "caption_requests_total",
		Help: "Caption requests by outcome",
	}, []string{"outcome"})

	CaptionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "caption_request_duration_seconds",
		Help:    "Time spent waiting on the captioning endpoint",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 9),
	})

	StaleResults = promauto.NewCounter(prometheus.CounterOpts{
		Name: "caption_stale_results_total",
		Help: "Caption results discarded because a newer request superseded them",
	})

	IntakeRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "image_intake_rejections_total",
		Help: "Uploaded files rejected by image intake",
	}, []string{"reason"})
)
