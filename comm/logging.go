package comm

import (
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

type loggingTransport struct {
	logger    log.Logger
	transport Transport
}

// NewLoggingTransport wraps a provided existing
// transport with the provided logger.
func NewLoggingTransport(t Transport, logger log.Logger) Transport {
	return &loggingTransport{logger, t}
}

// SendMessage wraps this transport's SendMessage
// method with added logging capabilities.
func (t *loggingTransport) SendMessage(body string, target string) error {

	err := t.transport.SendMessage(body, target)

	logger := log.With(t.logger,
		"method", "SendMessage",
		"target", target,
		"size", len(body),
	)

	if err != nil {
		level.Warn(logger).Log("msg", "failed to send message", "err", err)
	} else {
		level.Debug(logger).Log()
	}

	return err
}

func (t *loggingTransport) ClientID() string {
	return t.transport.ClientID()
}
