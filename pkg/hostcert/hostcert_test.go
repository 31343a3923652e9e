package hostcert

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateDevicePublicKeyDER(t *testing.T) []byte {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	return x509.MarshalPKCS1PublicKey(&key.PublicKey)
}

func buildTestRecord(t *testing.T) *PairRecord {
	t.Helper()

	hostKey, err := GenerateHostKeyPair()
	require.NoError(t, err)

	hostCert, err := NewSelfSignedHostCertificate(hostKey)
	require.NoError(t, err)

	deviceDER := generateDevicePublicKeyDER(t)
	deviceCert, err := SignDeviceCertificate(hostKey, hostCert, deviceDER)
	require.NoError(t, err)

	return &PairRecord{
		HostID:            "11111111-2222-3333-4444-555555555555",
		SystemBUID:        "66666666-7777-8888-9999-aaaaaaaaaaaa",
		HostCertificate:   hostCert.Raw,
		HostPrivateKey:    x509.MarshalPKCS1PrivateKey(hostKey),
		RootCertificate:   hostCert.Raw,
		RootPrivateKey:    x509.MarshalPKCS1PrivateKey(hostKey),
		DeviceCertificate: deviceCert.Raw,
	}
}

func TestGenerateHostKeyPair(t *testing.T) {
	key, err := GenerateHostKeyPair()
	require.NoError(t, err)
	require.Equal(t, 2048, key.N.BitLen())
}

func TestNewSelfSignedHostCertificate(t *testing.T) {
	key, err := GenerateHostKeyPair()
	require.NoError(t, err)

	cert, err := NewSelfSignedHostCertificate(key)
	require.NoError(t, err)
	require.True(t, cert.IsCA)
	require.WithinDuration(t, time.Now().Add(HostCertValidity), cert.NotAfter, time.Minute)

	roots := x509.NewCertPool()
	roots.AddCert(cert)
	_, err = cert.Verify(x509.VerifyOptions{Roots: roots})
	require.NoError(t, err)
}

func TestSignDeviceCertificate(t *testing.T) {
	record := buildTestRecord(t)
	require.NoError(t, VerifyDeviceCertificate(record))

	deviceCert, err := record.DeviceCert()
	require.NoError(t, err)
	require.Equal(t, "Device", deviceCert.Subject.CommonName)
}

func TestRewrapPublicKeyPKCS1ToPKCS8(t *testing.T) {
	der := generateDevicePublicKeyDER(t)
	pkcs8, err := RewrapPublicKeyPKCS1ToPKCS8(der)
	require.NoError(t, err)

	pub, err := x509.ParsePKIXPublicKey(pkcs8)
	require.NoError(t, err)
	_, ok := pub.(*rsa.PublicKey)
	require.True(t, ok)
}

func TestPEMRoundTrip(t *testing.T) {
	key, err := GenerateHostKeyPair()
	require.NoError(t, err)
	cert, err := NewSelfSignedHostCertificate(key)
	require.NoError(t, err)

	keyPEM := EncodeKeyPEM(key)
	decodedKey, err := DecodeKeyPEM(keyPEM)
	require.NoError(t, err)
	require.Equal(t, key.N, decodedKey.N)

	certPEM := EncodeCertPEM(cert)
	decodedCert, err := DecodeCertPEM(certPEM)
	require.NoError(t, err)
	require.Equal(t, cert.Raw, decodedCert.Raw)
}

func TestPEMFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	key, err := GenerateHostKeyPair()
	require.NoError(t, err)
	cert, err := NewSelfSignedHostCertificate(key)
	require.NoError(t, err)

	keyPath := filepath.Join(dir, "host.key")
	certPath := filepath.Join(dir, "host.pem")
	require.NoError(t, WriteKeyFile(keyPath, key))
	require.NoError(t, WriteCertFile(certPath, cert))

	gotKey, err := ReadKeyFile(keyPath)
	require.NoError(t, err)
	require.Equal(t, key.N, gotKey.N)

	gotCert, err := ReadCertFile(certPath)
	require.NoError(t, err)
	require.Equal(t, cert.Raw, gotCert.Raw)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	record := buildTestRecord(t)

	_, err := store.GetPairRecord("udid-1")
	require.ErrorIs(t, err, ErrRecordNotFound)

	require.NoError(t, store.SetPairRecord("udid-1", record))

	got, err := store.GetPairRecord("udid-1")
	require.NoError(t, err)
	require.Equal(t, record.HostID, got.HostID)

	require.Equal(t, []string{"udid-1"}, store.ListUDIDs())

	require.NoError(t, store.DeletePairRecord("udid-1"))
	_, err = store.GetPairRecord("udid-1")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestMemoryStoreRejectsNilRecord(t *testing.T) {
	store := NewMemoryStore()
	require.ErrorIs(t, store.SetPairRecord("udid-1", nil), ErrInvalidRecord)
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	record := buildTestRecord(t)

	require.NoError(t, store.SetPairRecord("udid-1", record))

	got, err := store.GetPairRecord("udid-1")
	require.NoError(t, err)
	require.Equal(t, record.HostID, got.HostID)
	require.Equal(t, record.HostCertificate, got.HostCertificate)

	require.Equal(t, []string{"udid-1"}, store.ListUDIDs())

	require.NoError(t, store.DeletePairRecord("udid-1"))
	_, err = store.GetPairRecord("udid-1")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFileStoreMissingRecord(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)

	_, err := store.GetPairRecord("does-not-exist")
	require.ErrorIs(t, err, ErrRecordNotFound)
}

func TestVerifyDeviceCertificateRejectsForeignHost(t *testing.T) {
	record := buildTestRecord(t)

	otherHostKey, err := GenerateHostKeyPair()
	require.NoError(t, err)
	otherHostCert, err := NewSelfSignedHostCertificate(otherHostKey)
	require.NoError(t, err)
	record.HostCertificate = otherHostCert.Raw

	err = VerifyDeviceCertificate(record)
	require.ErrorIs(t, err, ErrInvalidChain)
}

func TestNeedsRenewal(t *testing.T) {
	record := buildTestRecord(t)
	needs, err := NeedsRenewal(record)
	require.NoError(t, err)
	require.False(t, needs)
}
