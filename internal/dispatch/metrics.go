package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricNamespace = "gatekeeper_dispatcher"

const resultLabel = "result"

const (
	resultProcessed = "processed"
	resultFailed    = "failed"
	resultIgnored   = "ignored"
)

var webhookEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: metricNamespace,
		Name:      "webhook_events_total",
		Help:      "count of received github webhook events by processing result",
	},
	[]string{resultLabel},
)
