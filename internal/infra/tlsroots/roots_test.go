package tlsroots

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
)

func TestPoolConstruction(t *testing.T) {
	pool, err := NewPool()
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	if pool.Pool() == nil {
		t.Fatal("NewPool produced a nil cert pool")
	}

	if NewEmptyPool().Pool() == nil {
		t.Fatal("NewEmptyPool produced a nil cert pool")
	}
}

func TestAddCertPEM(t *testing.T) {
	t.Run("single cert", func(t *testing.T) {
		pool := NewEmptyPool()
		if err := pool.AddCertPEM(selfSignedPEM(t)); err != nil {
			t.Fatalf("AddCertPEM: %v", err)
		}
	})

	t.Run("multiple certs in one bundle", func(t *testing.T) {
		pool := NewEmptyPool()
		bundle := append(selfSignedPEM(t), selfSignedPEM(t)...)
		if err := pool.AddCertPEM(bundle); err != nil {
			t.Fatalf("AddCertPEM: %v", err)
		}
	})

	t.Run("no certificate blocks", func(t *testing.T) {
		pool := NewEmptyPool()
		if err := pool.AddCertPEM(nil); err != ErrNoCertsFound {
			t.Errorf("empty input: err = %v, want ErrNoCertsFound", err)
		}
		if err := pool.AddCertPEM([]byte("not a certificate")); err != ErrNoCertsFound {
			t.Errorf("garbage input: err = %v, want ErrNoCertsFound", err)
		}
	})

	t.Run("undecodable certificate", func(t *testing.T) {
		pool := NewEmptyPool()
		bad := pem.EncodeToMemory(&pem.Block{
			Type:  "CERTIFICATE",
			Bytes: []byte("not DER"),
		})
		if err := pool.AddCertPEM(bad); err == nil {
			t.Error("expected parse error for malformed certificate")
		}
	})
}

func TestAddCertFile(t *testing.T) {
	pool := NewEmptyPool()
	certFile := filepath.Join(t.TempDir(), "ca.crt")
	if err := os.WriteFile(certFile, selfSignedPEM(t), 0644); err != nil {
		t.Fatal(err)
	}

	if err := pool.AddCertFile(certFile); err != nil {
		t.Fatalf("AddCertFile: %v", err)
	}
	if err := pool.AddCertFile("/nonexistent/cert.pem"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestAddCertDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ca1.pem", "ca2.crt", "ca3.cer"} {
		if err := os.WriteFile(filepath.Join(dir, name), selfSignedPEM(t), 0644); err != nil {
			t.Fatal(err)
		}
	}
	// Ignored: wrong extension.
	if err := os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("readme"), 0644); err != nil {
		t.Fatal(err)
	}

	pool := NewEmptyPool()
	if err := pool.AddCertDir(dir); err != nil {
		t.Fatalf("AddCertDir: %v", err)
	}
	if err := pool.AddCertDir("/nonexistent/dir"); err == nil {
		t.Error("expected error for missing directory")
	}
}

func TestTLSConfig(t *testing.T) {
	pool := NewEmptyPool()
	cfg := pool.TLSConfig()

	if cfg.RootCAs != pool.Pool() {
		t.Error("RootCAs does not use the pool")
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
}

func TestMutualTLSConfig(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "node.crt")
	keyFile := filepath.Join(dir, "node.key")
	writeServingPair(t, certFile, keyFile)

	pool := NewEmptyPool()
	cfg, err := pool.MutualTLSConfig(certFile, keyFile)
	if err != nil {
		t.Fatalf("MutualTLSConfig: %v", err)
	}
	if len(cfg.Certificates) != 1 {
		t.Errorf("Certificates = %d, want 1", len(cfg.Certificates))
	}
	if cfg.ClientAuth != tls.RequireAndVerifyClientCert {
		t.Errorf("ClientAuth = %v, want RequireAndVerifyClientCert", cfg.ClientAuth)
	}

	if _, err := pool.MutualTLSConfig("/missing/cert", "/missing/key"); err == nil {
		t.Error("expected error for missing pair")
	}
}

// selfSignedPEM returns a fresh self-signed CA certificate in PEM.
func selfSignedPEM(t *testing.T) []byte {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"PermaMesh Test"},
			CommonName:   "test-ca.local",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
}

// writeServingPair writes a self-signed serving cert and its key.
func writeServingPair(t *testing.T, certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject: pkix.Name{
			Organization: []string{"PermaMesh Test"},
			CommonName:   "node.local",
		},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	if err := os.WriteFile(certFile, certPEM, 0644); err != nil {
		t.Fatal(err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	if err := os.WriteFile(keyFile, keyPEM, 0600); err != nil {
		t.Fatal(err)
	}
}
