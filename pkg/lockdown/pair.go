package lockdown

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmq-project/tmq-ios/pkg/hostcert"
)

// pair runs the full pairing protocol against a device with no existing
// pair record and persists the result via the session's store.
func (s *Session) pair(ctx context.Context) (*hostcert.PairRecord, error) {
	devicePubKeyPEM, err := s.GetValue("", "DevicePublicKey")
	if err != nil {
		return nil, fmt.Errorf("fetch device public key: %w", err)
	}
	pemBytes, ok := devicePubKeyPEM.([]byte)
	if !ok {
		if s, ok := devicePubKeyPEM.(string); ok {
			pemBytes = []byte(s)
		} else {
			return nil, fmt.Errorf("unexpected DevicePublicKey value type %T", devicePubKeyPEM)
		}
	}
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("decode device public key PEM")
	}

	hostKey, err := hostcert.GenerateHostKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate host key: %w", err)
	}
	hostCert, err := hostcert.NewSelfSignedHostCertificate(hostKey)
	if err != nil {
		return nil, fmt.Errorf("self-sign host certificate: %w", err)
	}
	deviceCert, err := hostcert.SignDeviceCertificate(hostKey, hostCert, block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("sign device certificate: %w", err)
	}
	devicePubKeyPKIX, err := hostcert.RewrapPublicKeyPKCS1ToPKCS8(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("rewrap device public key: %w", err)
	}

	hostID := newHostID()
	reply, err := s.request(map[string]any{
		"Request":               "Pair",
		"ExtendedPairingErrors": true,
		"PairRecord": map[string]any{
			"HostCertificate":   hostCert.Raw,
			"HostID":            hostID,
			"RootCertificate":   hostCert.Raw,
			"DeviceCertificate": deviceCert.Raw,
			"SystemBUID":        s.systemBUID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("send Pair request: %w", err)
	}
	if code, _ := reply["Error"].(string); code != "" {
		// PasswordProtected and PairingDialogResponsePending have no
		// defined retry policy (spec §9); surface them verbatim.
		return nil, &ServiceError{Request: "Pair", Code: code}
	}

	record := &hostcert.PairRecord{
		HostID:            hostID,
		SystemBUID:        s.systemBUID,
		HostCertificate:   hostCert.Raw,
		HostPrivateKey:    marshalHostKey(hostKey),
		RootCertificate:   hostCert.Raw,
		RootPrivateKey:    marshalHostKey(hostKey),
		DeviceCertificate: deviceCert.Raw,
		DevicePublicKey:   devicePubKeyPKIX,
	}
	if escrow, ok := reply["EscrowBag"].([]byte); ok {
		record.EscrowBag = escrow
	}
	if mac, ok := reply["WiFiMACAddress"].(string); ok {
		record.WiFiMACAddress = mac
	}

	if err := s.store.SetPairRecord(s.device.UDID, record); err != nil {
		return nil, fmt.Errorf("save pair record: %w", err)
	}
	return record, nil
}

// newHostID returns a fresh, uppercase UUID string for use as a host's
// identity in a new pair record.
func newHostID() string {
	return strings.ToUpper(uuid.NewString())
}

func marshalHostKey(key *rsa.PrivateKey) []byte {
	return x509.MarshalPKCS1PrivateKey(key)
}
