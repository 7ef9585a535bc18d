package base

import (
	"github.com/VictoriaMetrics/metrics"
)

var (
	metricSends           = metrics.NewCounter(`dring_transport_sends_total`)
	metricAsks            = metrics.NewCounter(`dring_transport_asks_total`)
	metricReplies         = metrics.NewCounter(`dring_transport_replies_total`)
	metricTimeouts        = metrics.NewCounter(`dring_transport_timeouts_total`)
	metricClosedCalls     = metrics.NewCounter(`dring_transport_calls_failed_total{reason="connection_closed"}`)
	metricConnectFailures = metrics.NewCounter(`dring_transport_connect_failures_total`)
	metricBytesSent       = metrics.NewCounter(`dring_transport_bytes_sent_total`)
	metricBytesReceived   = metrics.NewCounter(`dring_transport_bytes_received_total`)
	metricHandlerErrors   = metrics.NewCounter(`dring_transport_handler_errors_total`)
	metricAskDuration     = metrics.NewHistogram(`dring_transport_ask_duration_seconds`)
	metricOpenChannels    = metrics.NewCounter(`dring_transport_open_channels`)
)
