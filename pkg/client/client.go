package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// APIError is a non-200 answer of the daemon.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.Status)
	}
	return fmt.Sprintf("API error (%d): %s", e.Status, e.Message)
}

// Client talks to the rigwatch daemon.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL string
	Timeout time.Duration
	Logger  *slog.Logger
	// CACert trusts the daemon's (self-signed) certificate.
	CACert   string
	Insecure bool
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8390/api",
		Timeout: 10 * time.Second,
	}
}

func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if config.CACert != "" || config.Insecure {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}, nil
}

// IsReachable checks if the daemon is running and reachable
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.List(ctx)
	if err != nil {
		c.logger.Debug("Daemon unreachable", "error", err)
		return false
	}
	return true
}

// List returns every worker in start order.
func (c *Client) List(ctx context.Context) ([]WorkerStatus, error) {
	var out []WorkerStatus
	err := c.do(ctx, http.MethodGet, "/workers", nil, "", &out)
	return out, err
}

func (c *Client) Get(ctx context.Context, kind string) (WorkerStatus, error) {
	var out WorkerStatus
	err := c.do(ctx, http.MethodGet, "/workers/"+url.PathEscape(kind), nil, "", &out)
	return out, err
}

// Start starts a worker. secret, when given, is sent as the raw body and
// zeroed afterwards.
func (c *Client) Start(ctx context.Context, kind string, secret []byte) error {
	defer clear(secret)
	return c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(kind)+"/start", secret, "application/octet-stream", nil)
}

// Restart behaves like Start for a running worker's replacement.
func (c *Client) Restart(ctx context.Context, kind string, secret []byte) error {
	defer clear(secret)
	return c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(kind)+"/restart", secret, "application/octet-stream", nil)
}

// Stop stops a worker. secret is only needed where an elevated child must be
// killed through the helper; it is zeroed afterwards.
func (c *Client) Stop(ctx context.Context, kind string, secret []byte) error {
	defer clear(secret)
	return c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(kind)+"/stop", secret, "application/octet-stream", nil)
}

// Input sends one line to the worker's stdin.
func (c *Client) Input(ctx context.Context, kind, line string) error {
	body, err := json.Marshal(map[string]string{"line": line})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/workers/"+url.PathEscape(kind)+"/input", body, "application/json", nil)
}

func (c *Client) SetXvbRuntime(ctx context.Context, rt XvbRuntime) error {
	body, err := json.Marshal(rt)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/xvb/runtime", body, "application/json", nil)
}

// setupClientTLS configures TLS settings for HTTP client
func setupClientTLS(config Config) (*tls.Config, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		// #nosec G402 -- explicit opt-in for self-signed local daemons
		tlsConfig.InsecureSkipVerify = true
		return tlsConfig, nil
	}
	caCert, err := os.ReadFile(filepath.Clean(config.CACert))
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("failed to parse CA certificate")
	}
	tlsConfig.RootCAs = pool
	return tlsConfig, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string, out any) error {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.errorFrom(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) errorFrom(resp *http.Response) error {
	var er ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		c.logger.Debug("Failed to decode error response", "status", resp.StatusCode)
		return &APIError{Status: resp.StatusCode}
	}
	c.logger.Debug("API request failed", "error", er.Error, "status", resp.StatusCode)
	return &APIError{Status: resp.StatusCode, Message: er.Error}
}
