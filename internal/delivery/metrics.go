package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	emailsProcessedCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "delivery",
			Name:      "emails_processed_total",
			Help:      "Queued emails handled by the processor, by result.",
		},
		[]string{"result"}, // sent, retry, failed, skipped
	)

	sendDurationHist = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier",
			Subsystem: "delivery",
			Name:      "send_duration_seconds",
			Help:      "Duration of mail transport calls.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"}, // ok, error
	)

	purgedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "courier",
			Subsystem: "delivery",
			Name:      "sent_rows_purged_total",
			Help:      "Sent queue rows deleted by the retention purge.",
		},
	)
)
