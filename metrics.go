package main

import (
	"net/http"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	"github.com/go-kit/kit/metrics/prometheus"
	"github.com/go-pluto/shob/shared"
	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Structs

// ShobMetrics bundles all instruments of a node.
type ShobMetrics struct {
	Shared    *shared.Metrics
	Transport *TransportMetrics
}

// TransportMetrics count outgoing messages.
type TransportMetrics struct {
	Sent   metrics.Counter
	Failed metrics.Counter
	Bytes  metrics.Counter
}

// Functions

// NewShobMetrics returns prometheus backed metrics if
// addr is set and metrics recording nothing otherwise.
func NewShobMetrics(addr string) *ShobMetrics {

	if addr == "" {

		return &ShobMetrics{
			Shared: shared.NewDiscardMetrics(),
			Transport: &TransportMetrics{
				Sent:   discard.NewCounter(),
				Failed: discard.NewCounter(),
				Bytes:  discard.NewCounter(),
			},
		}
	}

	return &ShobMetrics{
		Shared: &shared.Metrics{
			Received:      newCounter("shared", "received_messages_total", "Number of applied incoming messages"),
			Rejected:      newCounter("shared", "rejected_messages_total", "Number of incoming messages that could not be applied"),
			Sent:          newCounter("shared", "sent_messages_total", "Number of messages broadcast by shared objects"),
			Notifications: newCounter("shared", "notifications_total", "Number of queued notifications"),
			Hashes: prometheus.NewGaugeFrom(prom.GaugeOpts{
				Namespace: "shob",
				Subsystem: "shared",
				Name:      "hashes",
				Help:      "Number of registered shared hashes",
			}, nil),
			Queues: prometheus.NewGaugeFrom(prom.GaugeOpts{
				Namespace: "shob",
				Subsystem: "shared",
				Name:      "queues",
				Help:      "Number of registered shared queues",
			}, nil),
		},
		Transport: &TransportMetrics{
			Sent:   newCounter("transport", "sent_total", "Number of delivered messages"),
			Failed: newCounter("transport", "failed_total", "Number of messages that could not be delivered"),
			Bytes:  newCounter("transport", "sent_bytes_total", "Number of delivered body bytes"),
		},
	}
}

func newCounter(subsystem string, name string, help string) metrics.Counter {

	return prometheus.NewCounterFrom(prom.CounterOpts{
		Namespace: "shob",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, nil)
}

func runPromHTTP(logger log.Logger, addr string) {

	if addr == "" {
		level.Debug(logger).Log("msg", "prometheus addr is empty, not exposing prometheus metrics")
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	level.Info(logger).Log("msg", "prometheus handler listening", "addr", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		level.Warn(logger).Log("msg", "failed to serve prometheus metrics", "err", err)
	}
}
