// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package sso

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cobaltcore-dev/pipeline-adjust/pkg/conf"
)

// Custom HTTP round tripper that logs each request.
type requestLogger struct {
	T http.RoundTripper
}

// RoundTrip logs the request URL before making the request.
func (lrt *requestLogger) RoundTrip(req *http.Request) (*http.Response, error) {
	slog.Debug("making http request", "method", req.Method, "url", req.URL.String())
	return lrt.T.RoundTrip(req)
}

// Create a new HTTP client with the given SSO configuration
// and logging for each request.
func NewHTTPClient(conf conf.SSOConfig) (*http.Client, error) {
	tlsConfig := &tls.Config{
		// If the cert is self signed, skip verification.
		//nolint:gosec
		InsecureSkipVerify: conf.SelfSigned,
	}
	if conf.CABundle != "" {
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM([]byte(conf.CABundle)) {
			return nil, errors.New("no certificates found in ca bundle")
		}
		tlsConfig.RootCAs = pool
	}
	if conf.Cert == "" {
		// Disable SSO if no certificate is provided.
		slog.Debug("making http requests without SSO")
		return &http.Client{Transport: &requestLogger{T: &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: tlsConfig,
		}}}, nil
	}
	// If we have a public key, we also need a private key.
	if conf.CertKey == "" {
		return nil, errors.New("missing cert key for SSO")
	}
	cert, err := tls.X509KeyPair(
		[]byte(conf.Cert),
		[]byte(conf.CertKey),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}
	tlsConfig.Certificates = []tls.Certificate{cert}
	if tlsConfig.RootCAs == nil {
		caCertPool := x509.NewCertPool()
		caCertPool.AddCert(cert.Leaf)
		tlsConfig.RootCAs = caCertPool
	}
	return &http.Client{Transport: &requestLogger{T: &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,
	}}}, nil
}
