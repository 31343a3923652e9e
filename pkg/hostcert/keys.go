package hostcert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"time"
)

// hostKeyBits is the RSA modulus size used for both the host's own key and
// the device certificate the host signs during pairing.
const hostKeyBits = 2048

// GenerateHostKeyPair creates a fresh RSA-2048 key pair for a new host
// identity.
func GenerateHostKeyPair() (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, hostKeyBits)
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	return key, nil
}

// NewSelfSignedHostCertificate builds the self-signed, 30-day X.509 v3
// certificate a host presents as both its root and its own leaf during
// pairing.
func NewSelfSignedHostCertificate(key *rsa.PrivateKey) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "Root Certificate",
		},
		NotBefore:             now,
		NotAfter:              now.Add(HostCertValidity),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create host certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// SignDeviceCertificate issues a certificate for the device's public key,
// signed by the host's own key, the way pairing hands the device back a
// certificate it can present on every later TLS upgrade. devicePublicKeyDER
// is the PKCS#1-encoded RSA public key the device supplied in its
// DeviceCertificateRequest.
func SignDeviceCertificate(hostKey *rsa.PrivateKey, hostCert *x509.Certificate, devicePublicKeyDER []byte) (*x509.Certificate, error) {
	devicePub, err := x509.ParsePKCS1PublicKey(devicePublicKeyDER)
	if err != nil {
		return nil, fmt.Errorf("parse device public key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "Device",
		},
		NotBefore:             now,
		NotAfter:              now.Add(DeviceCertValidity),
		SignatureAlgorithm:    x509.SHA256WithRSA,
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, hostCert, devicePub, hostKey)
	if err != nil {
		return nil, fmt.Errorf("create device certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

// RewrapPublicKeyPKCS1ToPKCS8 converts a PKCS#1-encoded RSA public key (the
// shape the device presents) into PKIX/PKCS#8 DER, the shape pairing tools
// expect when a public key is exchanged on its own rather than embedded in
// a certificate.
func RewrapPublicKeyPKCS1ToPKCS8(pkcs1DER []byte) ([]byte, error) {
	pub, err := x509.ParsePKCS1PublicKey(pkcs1DER)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS1 public key: %w", err)
	}
	pkcs8, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshal PKIX public key: %w", err)
	}
	return pkcs8, nil
}
