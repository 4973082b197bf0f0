package crypto

import (
	"fmt"
	"net"
	"os"
	"time"

	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"path/filepath"

	"github.com/pkg/errors"
)

// Structs

// PKI describes the internal PKI to generate: a root
// certificate and one certificate per node, all valid
// from NotBefore for ValidFor.
type PKI struct {
	Dir       string
	Nodes     []string
	Hosts     []string
	NotBefore time.Time
	ValidFor  time.Duration
	RSABits   int
}

// Functions

// RootCertPath returns the location of the root certificate.
func (p *PKI) RootCertPath() string {
	return filepath.Join(p.Dir, "root-cert.pem")
}

// CertPath returns the location of the certificate of node.
func (p *PKI) CertPath(node string) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s-cert.pem", node))
}

// KeyPath returns the location of the key of node.
func (p *PKI) KeyPath(node string) string {
	return filepath.Join(p.Dir, fmt.Sprintf("%s-key.pem", node))
}

// Generate writes the root key pair and a signed key
// pair for every node into Dir.
func (p *PKI) Generate() error {

	notBefore := p.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now()
	}

	// Add life-time of certificates to creation date.
	notAfter := notBefore.Add(p.ValidFor)

	if err := os.MkdirAll(p.Dir, 0700); err != nil {
		return errors.Wrap(err, "failed to create PKI directory")
	}

	// Generate root key pair.
	rootKey, err := rsa.GenerateKey(rand.Reader, p.RSABits)
	if err != nil {
		return errors.Wrap(err, "failed to generate root key")
	}

	// Prepare to create the root certificate which will
	// be used to sign internally used certificates.
	rootTemplate, err := bootstrapCertTempl(notBefore, notAfter)
	if err != nil {
		return err
	}

	// Set specific certificate values for a root certificate.
	rootTemplate.IsCA = true
	rootTemplate.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment | x509.KeyUsageCertSign
	rootTemplate.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}

	// Create the actual root certificate.
	rootCertDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		return errors.Wrap(err, "failed to create DER byte representation of root certificate")
	}

	// Parse root certificate again so that we can sign with it.
	rootCert, err := x509.ParseCertificate(rootCertDER)
	if err != nil {
		return errors.Wrap(err, "failed to parse DER root certificate to x509 certificate")
	}

	if err := writePEM(p.RootCertPath(), "CERTIFICATE", rootCertDER, 0644); err != nil {
		return err
	}

	rootKeyPath := filepath.Join(p.Dir, "root-key.pem")
	if err := writePEM(rootKeyPath, "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(rootKey), 0600); err != nil {
		return err
	}

	for _, node := range p.Nodes {

		if err := p.createNodeCert(node, notBefore, notAfter, rootCert, rootKey); err != nil {
			return err
		}
	}

	return nil
}

// bootstrapCertTempl returns a certificate template that
// has all default values for our certificates already set.
func bootstrapCertTempl(nBef time.Time, nAft time.Time) (*x509.Certificate, error) {

	// For serial number generation we need a biggest
	// number to mark the range of the serial number.
	serialNumberLimit := new(big.Int).Lsh(big.NewInt(1), 128)

	// Now generate that random number.
	serialNumber, err := rand.Int(rand.Reader, serialNumberLimit)
	if err != nil {
		return nil, errors.Wrap(err, "could not generate random serial number")
	}

	// Build a default template we use for each certificate.
	certificateTemplate := &x509.Certificate{
		SignatureAlgorithm:    x509.SHA512WithRSA,
		SerialNumber:          serialNumber,
		Subject:               pkix.Name{Organization: []string{"shob internal PKI"}},
		NotBefore:             nBef,
		NotAfter:              nAft,
		BasicConstraintsValid: true,
	}

	return certificateTemplate, nil
}

// createNodeCert obtains a node's key pair and certificate
// signed by the root certificate. The certificate is valid
// for the node name and all configured hosts.
func (p *PKI) createNodeCert(node string, nBef time.Time, nAft time.Time, rootCert *x509.Certificate, rootKey *rsa.PrivateKey) error {

	// Generate this node's key pair.
	key, err := rsa.GenerateKey(rand.Reader, p.RSABits)
	if err != nil {
		return errors.Wrapf(err, "failed to generate key for %s", node)
	}

	// Fetch a new certificate template.
	template, err := bootstrapCertTempl(nBef, nAft)
	if err != nil {
		return err
	}

	// Set specific certificate values for a normal node certificate.
	template.Subject.CommonName = node
	template.KeyUsage = x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment
	template.ExtKeyUsage = []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth}
	template.DNSNames = []string{node}

	for _, host := range p.Hosts {

		// IP addresses and names go to different fields.
		if ip := net.ParseIP(host); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, host)
		}
	}

	// Create the actual node certificate.
	certDER, err := x509.CreateCertificate(rand.Reader, template, rootCert, &key.PublicKey, rootKey)
	if err != nil {
		return errors.Wrapf(err, "failed to create DER byte representation of certificate for %s", node)
	}

	if err := writePEM(p.CertPath(node), "CERTIFICATE", certDER, 0644); err != nil {
		return err
	}

	return writePEM(p.KeyPath(node), "RSA PRIVATE KEY", x509.MarshalPKCS1PrivateKey(key), 0600)
}

// writePEM encodes data as PEM block of type typ into path.
func writePEM(path string, typ string, data []byte, perm os.FileMode) error {

	f, err := os.OpenFile(path, (os.O_WRONLY | os.O_CREATE | os.O_TRUNC), perm)
	if err != nil {
		return errors.Wrapf(err, "failed to open '%s'", path)
	}

	if err := pem.Encode(f, &pem.Block{Type: typ, Bytes: data}); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to write PEM block to '%s'", path)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return errors.Wrapf(err, "failed to sync '%s'", path)
	}

	return f.Close()
}
