package comm

import (
	"time"

	"crypto/tls"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding/gzip"
	"google.golang.org/grpc/keepalive"
)

// Constants

// DefaultMaxMsgSize is the number of bytes a message is
// allowed to carry if nothing else is configured. It
// leaves room above the default split threshold of
// shared objects. Symmetric send and receive option.
const DefaultMaxMsgSize = 4 * 1024 * 1024

// Functions

// ReceiverOptions returns a list of gRPC server
// options that the receiver uses for RPCs. A nil
// tlsConfig accepts plaintext connections.
func ReceiverOptions(tlsConfig *tls.Config, maxMsgSize int) []grpc.ServerOption {

	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxMsgSize
	}

	enfPolicy := keepalive.EnforcementPolicy{
		// Clients connecting to this receiver should wait
		// at least 30 seconds before sending a keepalive.
		MinTime: 30 * time.Second,
		// Expect keepalives even when no streams are active.
		PermitWithoutStream: true,
	}

	kaParams := keepalive.ServerParameters{
		// The receiver will ping the other node after
		// 30 seconds of inactivity for keepalive.
		Time: 30 * time.Second,
		// If no response to such keepalive ping is received
		// after 20 seconds, the connection is closed.
		Timeout: 20 * time.Second,
	}

	opts := []grpc.ServerOption{
		grpc.KeepaliveEnforcementPolicy(enfPolicy),
		grpc.KeepaliveParams(kaParams),
		grpc.MaxRecvMsgSize(maxMsgSize),
		grpc.MaxSendMsgSize(maxMsgSize),
	}

	if tlsConfig != nil {
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	return opts
}

// SenderOptions defines gRPC options for connection
// attempts from a sender to a receiver. A nil tlsConfig
// connects in plaintext.
func SenderOptions(tlsConfig *tls.Config, maxMsgSize int) []grpc.DialOption {

	if maxMsgSize <= 0 {
		maxMsgSize = DefaultMaxMsgSize
	}

	// These call options will be used for every call
	// via this connection.
	callOpts := []grpc.CallOption{
		// Compress bodies, they are highly repetitive.
		grpc.UseCompressor(gzip.Name),
		// Set maximum receive and send sizes.
		grpc.MaxCallRecvMsgSize(maxMsgSize),
		grpc.MaxCallSendMsgSize(maxMsgSize),
	}

	kaParams := keepalive.ClientParameters{
		// The client will ping the other node after
		// 30 seconds of inactivity for keepalive.
		Time: 30 * time.Second,
		// If no response to such keepalive ping is received
		// after 20 seconds, the connection is closed.
		Timeout: 20 * time.Second,
		// Expect keepalives even when no streams are active.
		PermitWithoutStream: true,
	}

	creds := insecure.NewCredentials()
	if tlsConfig != nil {
		creds = credentials.NewTLS(tlsConfig)
	}

	return []grpc.DialOption{
		grpc.WithDefaultCallOptions(callOpts...),
		grpc.WithKeepaliveParams(kaParams),
		grpc.WithTransportCredentials(creds),
	}
}
