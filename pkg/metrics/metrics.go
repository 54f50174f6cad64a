package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	ReadingsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_readings_ingested_total",
			Help: "Total number of sensor readings ingested",
		},
		[]string{"sensor_type", "status"}, // status: accepted, rejected
	)

	// Alert lifecycle metrics
	AlertTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_alert_transitions_total",
			Help: "Total number of alert lifecycle transitions",
		},
		[]string{"action"},
	)

	// Dispatch metrics
	DispatchSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_dispatch_sends_total",
			Help: "Total number of per-recipient send outcomes",
		},
		[]string{"channel", "status"}, // status: sent, failed, skipped
	)

	DispatchRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_dispatch_retries_total",
			Help: "Total number of retry attempts scheduled",
		},
		[]string{"channel"},
	)

	DeliveriesConfirmed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_deliveries_confirmed_total",
			Help: "Total number of asynchronous delivery confirmations",
		},
		[]string{"channel"},
	)

	RecipientsUnreachable = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_recipients_unreachable_total",
			Help: "Recipients excluded from a channel for missing contact info",
		},
		[]string{"channel"},
	)

	StreamMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alert_engine_stream_messages_total",
			Help: "Kafka reading messages consumed",
		},
		[]string{"status"}, // status: processed, malformed, rejected
	)
)
