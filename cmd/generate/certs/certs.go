package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	outputDir  string
	validYears int
	hosts      []string
	Cmd        = &cobra.Command{
		Use:   "certs",
		Short: "Generate a CA and a relay certificate for TLS and QUIC",
		Args:  cobra.NoArgs,
		RunE:  runGenerate,
	}
)

func init() {
	Cmd.Flags().StringVarP(&outputDir, "output", "o", "./certs", "output directory")
	Cmd.Flags().IntVarP(&validYears, "years", "y", 10, "certificate validity in years")
	Cmd.Flags().StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1", "::1"}, "DNS names and IPs the relay certificate covers")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "generate").Logger()
	logger.Info().Str("dir", outputDir).Strs("hosts", hosts).Int("years", validYears).Msg("generating certificates")

	ca, err := GenerateCA(validYears)
	if err != nil {
		return fmt.Errorf("generate CA: %w", err)
	}
	server, err := GenerateServerCert(ca, hosts, validYears)
	if err != nil {
		return fmt.Errorf("generate server cert: %w", err)
	}

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	files := []struct {
		name string
		data func() ([]byte, error)
	}{
		{"ca.key", ca.KeyPEM},
		{"ca.crt", ca.CertPEM},
		{"server.key", server.KeyPEM},
		{"server.crt", server.CertPEM},
	}
	for _, f := range files {
		data, err := f.data()
		if err != nil {
			return fmt.Errorf("encode %s: %w", f.name, err)
		}
		path := filepath.Join(outputDir, f.name)
		if err := os.WriteFile(path, data, 0600); err != nil {
			return fmt.Errorf("write %s: %w", f.name, err)
		}
		logger.Info().Str("file", path).Msg("generated")
	}
	return nil
}

// KeyPair is a certificate and its private key.
type KeyPair struct {
	Key  *ecdsa.PrivateKey
	Cert *x509.Certificate
}

// GenerateCA creates a self-signed root for the relay certificate.
func GenerateCA(validYears int) (*KeyPair, error) {
	return issue(&x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"QTalk"},
			CommonName:   "QTalk Root CA",
		},
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
		MaxPathLenZero:        true,
	}, nil, validYears)
}

// GenerateServerCert issues a relay certificate for the given hosts.
func GenerateServerCert(ca *KeyPair, hosts []string, validYears int) (*KeyPair, error) {
	template := &x509.Certificate{
		Subject: pkix.Name{
			Organization: []string{"QTalk"},
			CommonName:   "QTalk Relay",
		},
		KeyUsage:    x509.KeyUsageDigitalSignature,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}
	return issue(template, ca, validYears)
}

// issue signs template with parent, or self-signs when parent is nil.
func issue(template *x509.Certificate, parent *KeyPair, validYears int) (*KeyPair, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial number: %w", err)
	}
	template.SerialNumber = serial
	template.NotBefore = time.Now().Add(-time.Hour)
	template.NotAfter = time.Now().AddDate(validYears, 0, 0)

	signer, signerCert := key, template
	if parent != nil {
		signer, signerCert = parent.Key, parent.Cert
	}
	der, err := x509.CreateCertificate(rand.Reader, template, signerCert, &key.PublicKey, signer)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("parse certificate: %w", err)
	}
	return &KeyPair{Key: key, Cert: cert}, nil
}

// CertPEM encodes the certificate.
func (k *KeyPair) CertPEM() ([]byte, error) {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: k.Cert.Raw}), nil
}

// KeyPEM encodes the private key as PKCS#8.
func (k *KeyPair) KeyPEM() ([]byte, error) {
	der, err := x509.MarshalPKCS8PrivateKey(k.Key)
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}
