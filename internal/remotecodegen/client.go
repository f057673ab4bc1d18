package remotecodegen

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"time"

	http3 "github.com/quic-go/quic-go/http3"

	"github.com/lucent-lang/lucentc/internal/il"
)

// Client posts IL programs to a remote Server and returns the
// compiled assembly text.
type Client struct {
	http    *http.Client
	baseURL string
}

// NewClient builds a Client targeting baseURL (e.g. "https://host:port").
func NewClient(baseURL string, tlsCfg *tls.Config, opts Options) *Client {
	tr := &http3.Transport{TLSClientConfig: enforceTLS13(tlsCfg), QUICConfig: quicConfig(opts)}

	return &Client{http: &http.Client{Transport: tr, Timeout: 30 * time.Second}, baseURL: baseURL}
}

// Compile sends p to the remote server and returns the compiled
// assembly text.
func (c *Client) Compile(ctx context.Context, p *il.Program) ([]byte, error) {
	wire, err := il.Encode(p)
	if err != nil {
		return nil, fmt.Errorf("remotecodegen: encoding program: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+CompilePath, bytes.NewReader(wire))
	if err != nil {
		return nil, fmt.Errorf("remotecodegen: building request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("remotecodegen: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("remotecodegen: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("remotecodegen: server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}

	return body, nil
}

// Close releases the client's underlying QUIC transport resources.
func (c *Client) Close() error {
	if tr, ok := c.http.Transport.(*http3.Transport); ok {
		return tr.Close()
	}

	return nil
}
