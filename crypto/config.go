package crypto

import (
	"os"

	"crypto/tls"
	"crypto/x509"

	"github.com/pkg/errors"
)

// Variables

// ErrUnknownNode is returned during a handshake with
// a verified certificate issued to a node that is not
// part of the routing table.
var ErrUnknownNode = errors.New("certificate belongs to unknown node")

// Functions

// NewInternalTLSConfig returns a TLS config that is
// already configured completely for use in nodes to
// communicate internally. Both sides of a connection
// present a certificate signed by the root certificate.
// If nodes is not empty, the certificate's common name
// additionally has to be one of them.
func NewInternalTLSConfig(certPath string, keyPath string, rootCertPath string, nodes []string) (*tls.Config, error) {

	rootCert, err := os.ReadFile(rootCertPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading root certificate into memory failed")
	}

	// The internal root signs both server and client
	// certificates, so it is the only trusted one.
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(rootCert); !ok {
		return nil, errors.Errorf("no certificate found in root certificate file '%s'", rootCertPath)
	}

	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load TLS cert and key")
	}

	config := &tls.Config{
		RootCAs:      pool,
		ClientCAs:    pool,
		ClientAuth:   tls.RequireAndVerifyClientCert,
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS13,
	}

	if len(nodes) > 0 {
		config.VerifyPeerCertificate = verifyNodeName(nodes)
	}

	return config, nil
}

// verifyNodeName returns a hook accepting only verified
// peer certificates whose common name is in nodes.
func verifyNodeName(nodes []string) func([][]byte, [][]*x509.Certificate) error {

	known := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		known[node] = struct{}{}
	}

	return func(_ [][]byte, verifiedChains [][]*x509.Certificate) error {

		for _, chain := range verifiedChains {

			if len(chain) == 0 {
				continue
			}

			if _, exists := known[chain[0].Subject.CommonName]; exists {
				return nil
			}
		}

		if len(verifiedChains) > 0 && len(verifiedChains[0]) > 0 {
			return errors.Wrapf(ErrUnknownNode, "node '%s'", verifiedChains[0][0].Subject.CommonName)
		}

		return ErrUnknownNode
	}
}
