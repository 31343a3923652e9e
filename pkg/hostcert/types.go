package hostcert

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"time"
)

// Certificate validity periods used by the pairing protocol.
const (
	// HostCertValidity is the validity period of the self-signed host
	// (root) certificate generated during pairing.
	HostCertValidity = 30 * 24 * time.Hour

	// DeviceCertValidity mirrors HostCertValidity: the device certificate
	// the host signs is good for exactly as long as the host cert that
	// signs it.
	DeviceCertValidity = HostCertValidity
)

// KeyPair holds an RSA-2048 key pair used for the host's own identity.
type KeyPair struct {
	PrivateKey *rsa.PrivateKey
	PublicKey  *rsa.PublicKey
}

// PairRecord is the long-lived credential set for one (host, device) pair,
// matching the fields a pairing exchange produces and the mux daemon
// persists. Created once per device; never mutated, only replaced.
type PairRecord struct {
	// HostID is the host's UUID for this record, freshly generated each
	// time the host pairs with a device.
	HostID string `plist:"HostID"`

	// SystemBUID is the host-global UUID reported to ReadBUID.
	SystemBUID string `plist:"SystemBUID"`

	// HostCertificate is the DER-encoded, self-signed host certificate.
	HostCertificate []byte `plist:"HostCertificate"`

	// HostPrivateKey is the DER-encoded (PKCS#1) host private key.
	HostPrivateKey []byte `plist:"HostPrivateKey"`

	// RootCertificate is the DER-encoded root certificate. The host acts
	// as its own root, so this is identical to HostCertificate.
	RootCertificate []byte `plist:"RootCertificate"`

	// RootPrivateKey mirrors HostPrivateKey for the same reason.
	RootPrivateKey []byte `plist:"RootPrivateKey"`

	// DeviceCertificate is the DER-encoded certificate the host issued for
	// the device's public key during pairing.
	DeviceCertificate []byte `plist:"DeviceCertificate"`

	// EscrowBag is an opaque blob returned by the device on successful
	// pairing; present only when the device's Pair reply carries one.
	EscrowBag []byte `plist:"EscrowBag,omitempty"`

	// WiFiMACAddress is the device's Wi-Fi MAC, reported alongside the
	// escrow bag and persisted with the rest of the record.
	WiFiMACAddress string `plist:"WiFiMACAddress,omitempty"`

	// DevicePublicKey is the device's own public key, rewrapped from the
	// PKCS#1-in-PEM shape it reports via GetValue(DevicePublicKey) into
	// PKIX/SubjectPublicKeyInfo DER, so later pairing tools can consume it
	// without re-fetching or re-parsing the device's PEM.
	DevicePublicKey []byte `plist:"DevicePublicKey,omitempty"`
}

// HostCert parses and returns the host's own certificate.
func (r *PairRecord) HostCert() (*x509.Certificate, error) {
	return x509.ParseCertificate(r.HostCertificate)
}

// HostKey parses and returns the host's own private key.
func (r *PairRecord) HostKey() (*rsa.PrivateKey, error) {
	return x509.ParsePKCS1PrivateKey(r.HostPrivateKey)
}

// DeviceCert parses and returns the certificate issued to the device.
func (r *PairRecord) DeviceCert() (*x509.Certificate, error) {
	return x509.ParseCertificate(r.DeviceCertificate)
}

// TLSCertificate builds a tls.Certificate from the host's own key material,
// suitable for use as the client credential during the lockdown TLS
// upgrade.
func (r *PairRecord) TLSCertificate() (tls.Certificate, error) {
	hostKey, err := r.HostKey()
	if err != nil {
		return tls.Certificate{}, err
	}
	hostCert, err := r.HostCert()
	if err != nil {
		return tls.Certificate{}, err
	}
	return tls.Certificate{
		Certificate: [][]byte{r.HostCertificate},
		PrivateKey:  hostKey,
		Leaf:        hostCert,
	}, nil
}
