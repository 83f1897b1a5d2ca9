package tlsroots

import (
	"bytes"
	"crypto/tls"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, opts ...WatcherOption) (*Watcher, string, string) {
	t.Helper()
	dir := t.TempDir()
	certFile := filepath.Join(dir, "node.crt")
	keyFile := filepath.Join(dir, "node.key")
	writeServingPair(t, certFile, keyFile)

	w, err := NewWatcher(certFile, keyFile, opts...)
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	return w, certFile, keyFile
}

func TestWatcherLoadsInitialCertificate(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	defer w.Stop()

	cert, err := w.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}
	if cert == nil {
		t.Fatal("no certificate loaded at construction")
	}

	clientCert, err := w.GetClientCertificate(nil)
	if err != nil || clientCert == nil {
		t.Errorf("GetClientCertificate = %v, %v", clientCert, err)
	}
}

func TestWatcherRejectsBadPair(t *testing.T) {
	dir := t.TempDir()
	certFile := filepath.Join(dir, "node.crt")
	keyFile := filepath.Join(dir, "node.key")
	os.WriteFile(certFile, []byte("not a cert"), 0644)
	os.WriteFile(keyFile, []byte("not a key"), 0600)

	if _, err := NewWatcher(certFile, keyFile); err == nil {
		t.Error("expected error for undecodable pair")
	}
	if _, err := NewWatcher("/missing/cert.pem", "/missing/key.pem"); err == nil {
		t.Error("expected error for missing files")
	}
}

func TestWatcherOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	w, _, _ := newTestWatcher(t,
		WithLogger(logger),
		WithDebounce(200*time.Millisecond))
	defer w.Stop()

	if w.logger != logger {
		t.Error("WithLogger not applied")
	}
	if w.debounce != 200*time.Millisecond {
		t.Errorf("debounce = %v, want 200ms", w.debounce)
	}
}

func TestWatcherReloadsOnRotation(t *testing.T) {
	w, certFile, keyFile := newTestWatcher(t, WithDebounce(20*time.Millisecond))

	before, err := w.GetCertificate(nil)
	if err != nil {
		t.Fatalf("GetCertificate: %v", err)
	}

	w.StartAsync()
	defer w.Stop()
	time.Sleep(100 * time.Millisecond)

	// Rotate: a fresh pair lands at the same paths.
	writeServingPair(t, certFile, keyFile)

	deadline := time.Now().Add(3 * time.Second)
	for {
		after, err := w.GetCertificate(nil)
		if err != nil {
			t.Fatalf("GetCertificate: %v", err)
		}
		if !bytes.Equal(after.Certificate[0], before.Certificate[0]) {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("certificate never reloaded after rotation")
		}
		time.Sleep(25 * time.Millisecond)
	}
}

func TestWatcherServesTLSConfig(t *testing.T) {
	w, _, _ := newTestWatcher(t)
	defer w.Stop()

	cfg := &tls.Config{
		GetCertificate: w.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}

	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil {
		t.Fatalf("GetCertificate via config: %v", err)
	}
	if cert == nil {
		t.Fatal("nil certificate via config")
	}
}
