// Package metrics holds the process-wide prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_messages_consumed_total",
			Help: "Deliveries settled by typed consumers, by queue and outcome.",
		},
		[]string{"queue", "result"},
	)

	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_messages_published_total",
			Help: "Publish attempts by exchange and outcome.",
		},
		[]string{"exchange", "result"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "receipts_handler_duration_seconds",
			Help:    "Time spent in message handlers.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
		[]string{"queue"},
	)

	StreamConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "receipts_status_stream_connections",
			Help: "Live status-change subscriber connections.",
		},
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receipts_status_broadcasts_total",
			Help: "Events pushed to subscriber connections.",
		},
	)

	CrawlAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "receipts_crawl_admissions_total",
			Help: "Crawl authorization decisions.",
		},
		[]string{"result"},
	)

	HTTPRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "receipts_http_retries_total",
			Help: "Outgoing HTTP attempts retried after a connection error.",
		},
	)
)
