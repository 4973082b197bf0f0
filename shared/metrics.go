package shared

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
)

// Structs

// Metrics bundles the instruments a Manager reports to.
type Metrics struct {
	Received      metrics.Counter
	Rejected      metrics.Counter
	Sent          metrics.Counter
	Notifications metrics.Counter
	Hashes        metrics.Gauge
	Queues        metrics.Gauge
}

// Functions

// NewDiscardMetrics returns Metrics that record nothing.
func NewDiscardMetrics() *Metrics {

	return &Metrics{
		Received:      discard.NewCounter(),
		Rejected:      discard.NewCounter(),
		Sent:          discard.NewCounter(),
		Notifications: discard.NewCounter(),
		Hashes:        discard.NewGauge(),
		Queues:        discard.NewGauge(),
	}
}
