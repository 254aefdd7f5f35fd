package uploader

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/trackbuf/trackbuf/agent/internal/config"
)

// testCert is a self-signed CA certificate for 127.0.0.1 written to disk as PEM.
type testCert struct {
	pair     tls.Certificate
	certFile string
	keyFile  string
}

func newTestCert(t *testing.T, notAfter time.Time) testCert {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "trackbuf test collector"},
		NotBefore:             notAfter.Add(-365 * 24 * time.Hour),
		NotAfter:              notAfter,
		IPAddresses:           []net.IP{net.ParseIP("127.0.0.1")},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	dir := t.TempDir()
	tc := testCert{
		certFile: filepath.Join(dir, "cert.pem"),
		keyFile:  filepath.Join(dir, "key.pem"),
	}
	if err := os.WriteFile(tc.certFile, certPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tc.keyFile, keyPEM, 0o600); err != nil {
		t.Fatal(err)
	}
	tc.pair, err = tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		t.Fatal(err)
	}
	return tc
}

// mtlsAuth trusts tc as the collector CA and presents it as the client cert.
func (tc testCert) mtlsAuth() config.AuthConfig {
	return config.AuthConfig{Mode: "mtls", CertFile: tc.certFile, KeyFile: tc.keyFile, CAFile: tc.certFile}
}

func newCertServer(t *testing.T, tc testCert) *httptest.Server {
	t.Helper()
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	srv.TLS = &tls.Config{Certificates: []tls.Certificate{tc.pair}}
	srv.StartTLS()
	t.Cleanup(srv.Close)
	return srv
}

func TestCertState(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		notAfter time.Time
		want     string
		wantDays int
	}{
		{"far future", now.Add(90 * 24 * time.Hour), "valid", 90},
		{"inside window", now.Add(10 * 24 * time.Hour), "expiring", 10},
		{"window edge", now.Add(30 * 24 * time.Hour), "expiring", 30},
		{"expired", now.Add(-36 * time.Hour), "expired", -2},
		{"expires now", now, "expired", 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, days := certState(tc.notAfter, now)
			if status != tc.want || days != tc.wantDays {
				t.Errorf("certState: got %s/%d, want %s/%d", status, days, tc.want, tc.wantDays)
			}
		})
	}
}

func TestCheckCertificate_PlainHTTPSkipped(t *testing.T) {
	if _, ok := CheckCertificate(context.Background(), "http://localhost:8080/", config.AuthConfig{}, config.TLSConfig{}); ok {
		t.Error("ok = true for a plain-HTTP collector")
	}
}

func TestCheckCertificate_Statuses(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name     string
		notAfter time.Time
		trustCA  bool
		skip     bool
		want     string
	}{
		{"trusted via ca_file", now.Add(200 * 24 * time.Hour), true, false, "valid"},
		{"expiring soon", now.Add(10 * 24 * time.Hour), true, false, "expiring"},
		{"expired under default verification", now.Add(-48 * time.Hour), false, false, "expired"},
		{"expired with private ca", now.Add(-48 * time.Hour), true, false, "expired"},
		{"unknown authority", now.Add(200 * 24 * time.Hour), false, false, "untrusted"},
		{"unknown authority skip-verify", now.Add(200 * 24 * time.Hour), false, true, "valid"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cert := newTestCert(t, tc.notAfter)
			srv := newCertServer(t, cert)

			auth := config.AuthConfig{}
			if tc.trustCA {
				auth = cert.mtlsAuth()
			}
			cs, ok := CheckCertificate(context.Background(), srv.URL, auth, config.TLSConfig{InsecureSkipVerify: tc.skip})
			if !ok {
				t.Fatal("ok = false for an https collector")
			}
			if cs.Status != tc.want {
				t.Fatalf("status: got %q (err %v), want %q", cs.Status, cs.Err, tc.want)
			}
			if cs.Issuer != "trackbuf test collector" {
				t.Errorf("issuer: got %q", cs.Issuer)
			}
			if !cs.NotAfter.Equal(tc.notAfter.Truncate(time.Second)) {
				t.Errorf("NotAfter: got %v, want %v", cs.NotAfter, tc.notAfter.Truncate(time.Second))
			}
		})
	}
}

func TestCheckCertificate_Unreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	cs, ok := CheckCertificate(context.Background(), "https://"+addr+"/", config.AuthConfig{}, config.TLSConfig{})
	if !ok || cs.Status != "unreachable" || cs.Err == nil {
		t.Errorf("closed port: got ok=%v status=%q err=%v", ok, cs.Status, cs.Err)
	}
}
