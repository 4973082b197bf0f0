package comm

import (
	"context"
	"sync"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Constants

// DefaultSendTimeout bounds a single RPC if
// nothing else is configured.
const DefaultSendTimeout = 5 * time.Second

// Structs

// Sender delivers bodies to peers over gRPC. Targets are
// peer names or broadcast queues, the latter fanning out
// to every member except the sender itself. Connections
// are established on first use and kept.
type Sender struct {
	lock    *sync.Mutex
	logger  log.Logger
	name    string
	peers   map[string]string
	queues  map[string][]string
	timeout time.Duration
	opts    []grpc.DialOption
	conns   map[string]*grpc.ClientConn
	closed  bool
}

// Functions

// NewSender returns a sender named name. peers maps peer
// names to their addresses, queues maps queue names to
// peer names.
func NewSender(logger log.Logger, name string, peers map[string]string, queues map[string][]string, timeout time.Duration, opts ...grpc.DialOption) *Sender {

	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}

	return &Sender{
		lock:    &sync.Mutex{},
		logger:  log.With(logger, "sender", name),
		name:    name,
		peers:   peers,
		queues:  queues,
		timeout: timeout,
		opts:    opts,
		conns:   make(map[string]*grpc.ClientConn),
	}
}

// SendMessage delivers body to every peer target resolves
// to. All peers are tried, the first error is returned.
func (s *Sender) SendMessage(body string, target string) error {

	peers, err := resolveTarget(s.name, target, func(name string) bool {
		_, exists := s.peers[name]
		return exists
	}, s.queues)
	if err != nil {
		return err
	}

	var sendErr error

	for _, peer := range peers {

		if err := s.invoke(peer, body, target); err != nil {

			level.Debug(s.logger).Log("msg", "failed to deliver body", "peer", peer, "err", err)

			if sendErr == nil {
				sendErr = err
			}
		}
	}

	return sendErr
}

// invoke calls the Incoming RPC of peer.
func (s *Sender) invoke(peer string, body string, target string) error {

	conn, err := s.conn(peer)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	ctx = metadata.NewOutgoingContext(ctx, metadata.Pairs(
		senderKey, s.name,
		targetKey, target,
	))

	err = conn.Invoke(ctx, incomingMethod, wrapperspb.String(body), new(emptypb.Empty))
	if err != nil {
		return errors.Wrapf(err, "failed to send to peer '%s'", peer)
	}

	return nil
}

// conn returns the connection to peer, dialing if needed.
func (s *Sender) conn(peer string) (*grpc.ClientConn, error) {

	s.lock.Lock()
	defer s.lock.Unlock()

	if s.closed {
		return nil, ErrClosed
	}

	if conn, exists := s.conns[peer]; exists {
		return conn, nil
	}

	addr, exists := s.peers[peer]
	if !exists {
		return nil, errors.Wrapf(ErrUnknownTarget, "peer '%s'", peer)
	}

	conn, err := grpc.Dial(addr, s.opts...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial peer '%s' at %s", peer, addr)
	}

	s.conns[peer] = conn

	return conn, nil
}

// ClientID returns the name of this sender.
func (s *Sender) ClientID() string {
	return s.name
}

// Close tears down all connections.
func (s *Sender) Close() error {

	s.lock.Lock()
	defer s.lock.Unlock()

	s.closed = true

	var closeErr error

	for peer, conn := range s.conns {

		if err := conn.Close(); err != nil && closeErr == nil {
			closeErr = errors.Wrapf(err, "failed to close connection to '%s'", peer)
		}

		delete(s.conns, peer)
	}

	return closeErr
}
