package hostcert

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// Verification errors.
var (
	ErrCertExpired     = errors.New("certificate has expired")
	ErrCertNotYetValid = errors.New("certificate is not yet valid")
	ErrInvalidChain    = errors.New("invalid certificate chain")
)

// VerifyDeviceCertificate verifies that the device certificate in a pair
// record is still valid and was signed by that same record's host
// certificate - the host acts as its own root, so the chain is exactly one
// certificate deep.
func VerifyDeviceCertificate(record *PairRecord) error {
	if record == nil {
		return ErrInvalidRecord
	}

	hostCert, err := record.HostCert()
	if err != nil {
		return fmt.Errorf("parse host certificate: %w", err)
	}
	deviceCert, err := record.DeviceCert()
	if err != nil {
		return fmt.Errorf("parse device certificate: %w", err)
	}

	now := time.Now()
	if now.Before(deviceCert.NotBefore) {
		return ErrCertNotYetValid
	}
	if now.After(deviceCert.NotAfter) {
		return ErrCertExpired
	}

	roots := x509.NewCertPool()
	roots.AddCert(hostCert)

	opts := x509.VerifyOptions{
		Roots:       roots,
		CurrentTime: now,
		KeyUsages:   []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	if _, err := deviceCert.Verify(opts); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidChain, err)
	}
	return nil
}

// NeedsRenewal reports whether the host certificate in record has already
// expired (the current time is past its NotAfter), so that pairing should
// be redone rather than reused.
func NeedsRenewal(record *PairRecord) (bool, error) {
	hostCert, err := record.HostCert()
	if err != nil {
		return false, fmt.Errorf("parse host certificate: %w", err)
	}
	return time.Now().After(hostCert.NotAfter), nil
}
