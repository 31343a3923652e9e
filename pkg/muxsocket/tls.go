package muxsocket

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
)

// UpgradeMode selects how a mux-pipe's TLS handshake is used once it
// completes.
type UpgradeMode int

const (
	// UpgradeFull keeps every later byte on the connection encrypted.
	UpgradeFull UpgradeMode = iota

	// UpgradeDialOnly performs the handshake purely as an authorization
	// gate - the four DTX-bearing services require it before they accept
	// the mux pipe - then the raw, pre-TLS socket is handed back and all
	// further traffic is plaintext again.
	UpgradeDialOnly
)

// PairTLSConfig holds the certificate material taken from a pair record
// and used to build the lockdown TLS upgrade.
type PairTLSConfig struct {
	// HostCertificate is the host's own certificate and private key, used
	// as both the client credential and (since the device's counterpart
	// cert was signed by the same host key) the trust anchor.
	HostCertificate tls.Certificate

	// DeviceCertificate is the device certificate stored in the pair
	// record, added to the root pool so the device's presented leaf
	// verifies.
	DeviceCertificate *x509.Certificate
}

// NewUpgradeTLSConfig builds the *tls.Config used for the lockdown TLS
// upgrade. The device does not present a certificate usable for hostname
// verification, so verification is disabled and trust is anchored directly
// in the pair record's device certificate instead.
func NewUpgradeTLSConfig(cfg *PairTLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("PairTLSConfig is required")
	}
	if len(cfg.HostCertificate.Certificate) == 0 {
		return nil, fmt.Errorf("host certificate is required")
	}

	roots := x509.NewCertPool()
	if cfg.DeviceCertificate != nil {
		roots.AddCert(cfg.DeviceCertificate)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cfg.HostCertificate},
		RootCAs:      roots,
		// The device's leaf carries no DNS name worth checking; trust
		// rests on the pair record's device certificate instead.
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS10,
		MaxVersion:         tls.VersionTLS12,
	}, nil
}

// Upgrade performs the TLS handshake over conn using cfg. In UpgradeFull
// mode it returns the *tls.Conn for all further traffic. In UpgradeDialOnly
// mode the handshake completes and is then discarded: the function returns
// the original conn, unmodified, with no TLS session record left on it.
func Upgrade(conn net.Conn, tlsCfg *tls.Config, mode UpgradeMode) (net.Conn, error) {
	tlsConn := tls.Client(conn, tlsCfg)
	if err := tlsConn.Handshake(); err != nil {
		return nil, fmt.Errorf("tls handshake: %w", err)
	}

	switch mode {
	case UpgradeFull:
		return tlsConn, nil
	case UpgradeDialOnly:
		return conn, nil
	default:
		return nil, fmt.Errorf("unknown upgrade mode %d", mode)
	}
}
