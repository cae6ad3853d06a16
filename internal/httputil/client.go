// Package httputil provides a hardened HTTP client, per-session client
// identities and input sanitization utilities.
package httputil

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	utls "github.com/refraction-networking/utls"
)

// NewClient creates an HTTP client whose TLS handshake mimics a browser.
// Catalog and download-page origins serve degraded pages to stock Go
// fingerprints, so the plain crypto/tls transport is not used.
func NewClient() *http.Client {
	return &http.Client{
		Timeout:   30 * time.Second,
		Transport: newBrowserTransport(utls.HelloChrome_Auto),
	}
}

// newBrowserTransport dials TLS with the given hello. ALPN is pinned to
// HTTP/1.1 since net/http cannot speak h2 over a non-crypto/tls conn.
func newBrowserTransport(hello utls.ClientHelloID) *http.Transport {
	dialer := &net.Dialer{Timeout: 15 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			rawConn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, err := net.SplitHostPort(addr)
			if err != nil {
				rawConn.Close()
				return nil, err
			}

			spec, err := utls.UTLSIdToSpec(hello)
			if err != nil {
				rawConn.Close()
				return nil, fmt.Errorf("building client hello: %w", err)
			}
			for _, ext := range spec.Extensions {
				if alpn, ok := ext.(*utls.ALPNExtension); ok {
					alpn.AlpnProtocols = []string{"http/1.1"}
				}
			}

			conn := utls.UClient(rawConn, &utls.Config{ServerName: host, MinVersion: utls.VersionTLS12}, utls.HelloCustom)
			if err := conn.ApplyPreset(&spec); err != nil {
				rawConn.Close()
				return nil, fmt.Errorf("applying client hello: %w", err)
			}
			if err := conn.HandshakeContext(ctx); err != nil {
				rawConn.Close()
				return nil, err
			}
			return conn, nil
		},
		ForceAttemptHTTP2:   false,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 5,
		IdleConnTimeout:     30 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// Get performs a GET request with browser-like headers for the given identity.
func Get(ctx context.Context, client *http.Client, url string, id Identity) (*http.Response, error) {
	if err := ValidateURL(url); err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	id.Apply(req)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	return client.Do(req)
}
