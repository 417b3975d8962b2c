package xvb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultPublicURL  = "https://xmrvsbeast.com/p2pool/stats"
	DefaultPrivateURL = "https://xmrvsbeast.com/cgi-bin/p2pool_bonus_history_gupaxx_api.cgi"

	PrivateTimeout = 10 * time.Second
	publicTimeout  = 3 * time.Second
	publicWindow   = 6 * time.Second
)

var (
	// ErrInvalidToken is returned for HTTP 422. The token is not sent again.
	ErrInvalidToken = errors.New("the token is invalid for this xmr address")
	ErrStatus       = errors.New("unexpected response status")
)

// PublicStats mirrors the public round endpoint.
type PublicStats struct {
	TimeRemain    *uint32  `json:"time_remain"`
	BonusHR       *float64 `json:"bonus_hr"`
	DonateHR      *float64 `json:"donate_hr"`
	DonateMiners  *uint32  `json:"donate_miners"`
	DonateWorkers *uint32  `json:"donate_workers"`
	Players       *uint32  `json:"players"`
	PlayersRound  *uint32  `json:"players_round"`
	Winner        string   `json:"winner"`
	ShareEffort   string   `json:"share_effort"`
	BlockReward   string   `json:"block_reward"`
	RoundType     string   `json:"round_type"`
}

// PrivateStats mirrors the private account endpoint.
type PrivateStats struct {
	Fails       uint8   `json:"fails"`
	DonorAvg1h  float64 `json:"donor_1hr_avg"`
	DonorAvg24h float64 `json:"donor_24hr_avg"`
}

// Client talks to the XvB public and private endpoints.
type Client struct {
	HTTP       *http.Client
	PublicURL  string
	PrivateURL string
	Address    string
	Token      string

	mu       sync.Mutex
	rejected string // token refused with 422
	failures int
}

func NewClient(address, token string) *Client {
	return &Client{
		HTTP:       &http.Client{},
		PublicURL:  DefaultPublicURL,
		PrivateURL: DefaultPrivateURL,
		Address:    address,
		Token:      token,
	}
}

// Failures is the number of consecutive failed private requests.
func (c *Client) Failures() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failures
}

// Public fetches the round stats, retrying with exponential backoff within
// a short window. Undecodable bodies are not retried.
func (c *Client) Public(ctx context.Context) (PublicStats, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxElapsedTime = publicWindow
	return backoff.RetryWithData(func() (PublicStats, error) {
		var out PublicStats
		resp, err := c.get(ctx, c.PublicURL, publicTimeout)
		if err != nil {
			return out, err
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			_, _ = io.Copy(io.Discard, resp.Body)
			return out, fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return out, backoff.Permanent(fmt.Errorf("decode public stats: %w", err))
		}
		return out, nil
	}, backoff.WithContext(b, ctx))
}

// Private fetches the account stats. A single failure is reported as is;
// the caller decides what it means. After a 422 the same token is refused
// locally without a request.
func (c *Client) Private(ctx context.Context) (PrivateStats, error) {
	c.mu.Lock()
	refused := c.rejected != "" && c.rejected == c.Token
	c.mu.Unlock()
	if refused {
		return PrivateStats{}, c.fail(ErrInvalidToken)
	}

	q := url.Values{}
	q.Set("address", c.Address)
	q.Set("token", c.Token)
	resp, err := c.get(ctx, c.PrivateURL+"?"+q.Encode(), PrivateTimeout)
	if err != nil {
		return PrivateStats{}, c.fail(err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		var out PrivateStats
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return PrivateStats{}, c.fail(fmt.Errorf("decode private stats: %w", err))
		}
		c.mu.Lock()
		c.failures = 0
		c.mu.Unlock()
		return out, nil
	case http.StatusUnprocessableEntity:
		c.mu.Lock()
		c.rejected = c.Token
		c.mu.Unlock()
		return PrivateStats{}, c.fail(ErrInvalidToken)
	default:
		_, _ = io.Copy(io.Discard, resp.Body)
		return PrivateStats{}, c.fail(fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode))
	}
}

func (c *Client) fail(err error) error {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
	return err
}

func (c *Client) get(ctx context.Context, uri string, timeout time.Duration) (*http.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
