package netmon

import (
	"context"
	"net"
	"net/http"
	"time"
)

// TCPProber probes connectivity by dialing addr (host:port) and
// immediately closing the connection.
type TCPProber struct {
	Addr    string
	Timeout time.Duration
}

// Probe implements Prober.
func (p TCPProber) Probe(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// HTTPHeadProber probes connectivity with an HTTP HEAD request against
// the remote store's health endpoint.
type HTTPHeadProber struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// Probe implements Prober.
func (p HTTPHeadProber) Probe(ctx context.Context) bool {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode < http.StatusInternalServerError
}
