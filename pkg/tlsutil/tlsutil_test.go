package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTestCert generates a self-signed certificate and returns the cert
// and key file paths.
func writeTestCert(t *testing.T) (string, string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-broker"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		IsCA:         true,
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)

	dir := t.TempDir()
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	certOut, err := os.Create(certPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}))
	require.NoError(t, certOut.Close())

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	keyOut, err := os.Create(keyPath)
	require.NoError(t, err)
	require.NoError(t, pem.Encode(keyOut, &pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}))
	require.NoError(t, keyOut.Close())

	return certPath, keyPath
}

func TestLoadClientConfig_Defaults(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.False(t, cfg.InsecureSkipVerify)
	assert.NotNil(t, cfg.RootCAs)
}

func TestLoadClientConfig_ExtraCA(t *testing.T) {
	certPath, _ := writeTestCert(t)

	cfg, err := LoadClientConfig(ClientConfig{CAFiles: []string{certPath}})
	require.NoError(t, err)
	assert.NotNil(t, cfg.RootCAs)
}

func TestLoadClientConfig_MissingCA(t *testing.T) {
	_, err := LoadClientConfig(ClientConfig{CAFiles: []string{"/nonexistent/ca.pem"}})
	require.Error(t, err)
}

func TestLoadClientConfig_BadPEM(t *testing.T) {
	dir := t.TempDir()
	badPath := filepath.Join(dir, "bad.pem")
	require.NoError(t, os.WriteFile(badPath, []byte("not pem"), 0o644))

	_, err := LoadClientConfig(ClientConfig{CAFiles: []string{badPath}})
	require.Error(t, err)
}

func TestLoadClientConfig_ClientCert(t *testing.T) {
	certPath, keyPath := writeTestCert(t)

	cfg, err := LoadClientConfig(ClientConfig{CertFile: certPath, KeyFile: keyPath})
	require.NoError(t, err)
	assert.Len(t, cfg.Certificates, 1)
}

func TestLoadClientConfig_CertWithoutKey(t *testing.T) {
	certPath, _ := writeTestCert(t)

	_, err := LoadClientConfig(ClientConfig{CertFile: certPath})
	require.Error(t, err)
}

func TestLoadClientConfig_MinVersion(t *testing.T) {
	cfg, err := LoadClientConfig(ClientConfig{MinVersion: "1.3"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)

	cfg, err = LoadClientConfig(ClientConfig{MinVersion: "bogus"})
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
}
