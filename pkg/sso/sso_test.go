// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package sso

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
)

func TestNewHTTPClient(t *testing.T) {
	cert, key := generateClientCert(t)
	tests := []struct {
		name      string
		conf      conf.SSOConfig
		wantError bool
	}{
		{"without certificate", conf.SSOConfig{}, false},
		{"certificate without key", conf.SSOConfig{Cert: cert}, true},
		{"malformed key pair", conf.SSOConfig{Cert: "dummy-cert", CertKey: "dummy-key"}, true},
		{"valid key pair", conf.SSOConfig{Cert: cert, CertKey: key}, false},
		{"valid key pair and bundle", conf.SSOConfig{Cert: cert, CertKey: key, CABundle: cert}, false},
		{"bundle without certificates", conf.SSOConfig{CABundle: "not a pem"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := NewHTTPClient(tt.conf)
			if (err != nil) != tt.wantError {
				t.Fatalf("NewHTTPClient() error = %v, wantError %v", err, tt.wantError)
			}
			if err == nil && client == nil {
				t.Error("expected a client")
			}
		})
	}
}

// Self-signed client certificate and key, PEM encoded.
func generateClientCert(t *testing.T) (certPEM, keyPEM string) {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "adjust"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("failed to create certificate: %v", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: keyDER}))
	return certPEM, keyPEM
}

func TestNewHTTPClientWithSelfSignedCert(t *testing.T) {
	cert, key := generateClientCert(t)
	client, err := NewHTTPClient(conf.SSOConfig{Cert: cert, CertKey: key, SelfSigned: true})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v, want no error", err)
	}
	transport, ok := client.Transport.(*requestLogger)
	if !ok {
		t.Fatalf("expected transport of type *requestLogger, got %T", client.Transport)
	}
	httpTransport, ok := transport.T.(*http.Transport)
	if !ok {
		t.Fatalf("expected inner transport of type *http.Transport, got %T", transport.T)
	}
	tlsConfig := httpTransport.TLSClientConfig
	if tlsConfig == nil {
		t.Fatal("expected TLSClientConfig to be set")
	}
	if !tlsConfig.InsecureSkipVerify {
		t.Error("expected InsecureSkipVerify for self-signed certificates")
	}
	if len(tlsConfig.Certificates) != 1 {
		t.Errorf("expected the client certificate to be configured, got %d", len(tlsConfig.Certificates))
	}
	if tlsConfig.RootCAs == nil {
		t.Error("expected the client certificate to be trusted as root")
	}
}

func TestNewHTTPClientWithCABundle(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bundle := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: server.Certificate().Raw})
	client, err := NewHTTPClient(conf.SSOConfig{CABundle: string(bundle)})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v, want no error", err)
	}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("expected the ca bundle to be trusted, got %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
}

func TestNewHTTPClientWithoutCABundleRejectsUnknownCA(t *testing.T) {
	server := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client, err := NewHTTPClient(conf.SSOConfig{})
	if err != nil {
		t.Fatalf("NewHTTPClient() error = %v, want no error", err)
	}
	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, server.URL, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := client.Do(req)
	if err == nil {
		resp.Body.Close()
		t.Fatal("expected certificate verification to fail")
	}
}
