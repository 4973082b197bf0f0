package main

import (
	"context"
	"net"
	"sync"

	"crypto/tls"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-pluto/shob/comm"
	"github.com/go-pluto/shob/config"
	"github.com/go-pluto/shob/crypto"
	"github.com/go-pluto/shob/shared"
	"github.com/go-pluto/shob/wire"
	"github.com/pkg/errors"
)

// Structs

// node ties the manager of one process to its gRPC
// sender and receiver.
type node struct {
	logger   log.Logger
	conf     *config.Config
	manager  *shared.Manager
	sender   *comm.Sender
	receiver *comm.Receiver
	lis      net.Listener
	wg       *sync.WaitGroup
}

// Functions

// newNode wires a manager to a sender built from the
// routing table of conf and to a receiver serving lis.
func newNode(logger log.Logger, conf *config.Config, m *ShobMetrics, lis net.Listener) (*node, error) {

	var tlsConfig *tls.Config

	if conf.TLS.Enabled() {

		var err error

		// Only nodes of the routing table may connect.
		nodes := make([]string, 0, (len(conf.Peers) + 1))
		nodes = append(nodes, conf.Name)
		for peer := range conf.Peers {
			nodes = append(nodes, peer)
		}

		tlsConfig, err = crypto.NewInternalTLSConfig(conf.TLS.CertLoc, conf.TLS.KeyLoc, conf.TLS.RootCertLoc, nodes)
		if err != nil {
			return nil, errors.Wrap(err, "failed to load internal TLS config")
		}
	}

	// Leave room for the message envelope above
	// the split threshold of shared objects.
	maxMsgSize := comm.DefaultMaxMsgSize
	if 2*conf.Shared.MaxMessageSize > maxMsgSize {
		maxMsgSize = 2 * conf.Shared.MaxMessageSize
	}

	sender := comm.NewSender(logger, conf.Name, conf.Peers, conf.Queues, conf.SendTimeout, comm.SenderOptions(tlsConfig, maxMsgSize)...)

	var transport comm.Transport = sender
	transport = comm.NewLoggingTransport(transport, logger)
	transport = comm.NewMetricsTransport(transport, m.Transport.Sent, m.Transport.Failed, m.Transport.Bytes)

	manager := shared.NewManager(log.With(logger, "node", conf.Name), transport, m.Shared, conf.Shared)

	n := &node{
		logger:   logger,
		conf:     conf,
		manager:  manager,
		sender:   sender,
		receiver: comm.NewReceiver(logger, conf.Name, manager.ParseEnvMessage, comm.ReceiverOptions(tlsConfig, maxMsgSize)...),
		lis:      lis,
		wg:       &sync.WaitGroup{},
	}

	return n, nil
}

// run starts serving incoming messages, creates all
// configured subjects and consumes notifications until
// ctx is done.
func (n *node) run(ctx context.Context) error {

	errC := make(chan error, 1)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		errC <- n.receiver.Serve(n.lis)
	}()

	n.createSubjects()

	if n.conf.Shared.DumpFile != "" {
		n.manager.StartDumper(ctx, n.conf.Shared.DumpFile)
	}

	if n.conf.Shared.EnableNotifications {

		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			n.consumeNotifications(ctx)
		}()
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errC:
		return err
	}
}

// createSubjects registers all subjects listed in the
// config and requests their contents where configured.
func (n *node) createSubjects() {

	for _, subject := range n.conf.Subjects {

		typ := wire.Type(subject.Type)

		if n.manager.GetObject(subject.Name, typ) == nil {

			if typ == wire.TypeQueue {
				n.manager.CreateSharedQueue(subject.Name, subject.Queue)
			} else {
				n.manager.CreateSharedHash(subject.Name, subject.Queue)
			}
		}

		if !subject.Request {
			continue
		}

		// Peers may not be up yet. They send their
		// own request once they are.
		if err := n.manager.GetObject(subject.Name, typ).BroadCastRequest(""); err != nil {
			level.Warn(n.logger).Log(
				"msg", "failed to request subject contents",
				"subject", subject.Name,
				"err", err,
			)
		}
	}
}

// consumeNotifications logs every notification the
// manager queues.
func (n *node) consumeNotifications(ctx context.Context) {

	for {

		notification, err := n.manager.NextNotification(ctx)
		if err != nil {
			return
		}

		level.Info(n.logger).Log(
			"msg", "shared object notification",
			"notification", notification,
		)
	}
}

// close stops serving, shuts the manager down
// and closes all outgoing connections.
func (n *node) close() {

	n.receiver.Stop()
	n.manager.Shutdown()
	n.wg.Wait()

	if err := n.sender.Close(); err != nil {
		level.Warn(n.logger).Log("msg", "failed to close sender", "err", err)
	}
}
