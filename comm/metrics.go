package comm

import (
	"github.com/go-kit/kit/metrics"
)

type metricsTransport struct {
	transport Transport
	sent      metrics.Counter
	failed    metrics.Counter
	bytes     metrics.Counter
}

// NewMetricsTransport counts sent and failed messages
// and the bytes handed to the wrapped transport.
func NewMetricsTransport(t Transport, sent metrics.Counter, failed metrics.Counter, bytes metrics.Counter) Transport {
	return &metricsTransport{
		transport: t,
		sent:      sent,
		failed:    failed,
		bytes:     bytes,
	}
}

func (t *metricsTransport) SendMessage(body string, target string) error {

	err := t.transport.SendMessage(body, target)

	if err != nil {
		t.failed.Add(1)
	} else {
		t.sent.Add(1)
		t.bytes.Add(float64(len(body)))
	}

	return err
}

func (t *metricsTransport) ClientID() string {
	return t.transport.ClientID()
}
