package stats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/loykin/rigwatch/internal/matcher"
	"github.com/loykin/rigwatch/internal/process"
)

// Unknown renders a value the worker has not reported yet.
const Unknown = "???"

// DefaultTimeout bounds every local status request.
const DefaultTimeout = 500 * time.Millisecond

var ErrUnexpectedStatus = errors.New("unexpected http status")

// Endpoint describes one status request.
type Endpoint struct {
	URI     string
	Token   string // sent as a bearer token when set
	Timeout time.Duration
}

// Request issues a bounded GET against ep and decodes the body into T.
// Fields absent or null in the body leave T's zero value (nil pointers).
func Request[T any](ctx context.Context, client *http.Client, ep Endpoint) (T, error) {
	var out T
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ep.URI, nil)
	if err != nil {
		return out, err
	}
	if ep.Token != "" {
		req.Header.Set("Authorization", "Bearer "+ep.Token)
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return out, fmt.Errorf("%w: %d from %s", ErrUnexpectedStatus, resp.StatusCode, ep.URI)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return out, fmt.Errorf("decode %s: %w", ep.URI, err)
	}
	return out, nil
}

// Cell guards one public snapshot shared between a watchdog and readers.
type Cell[T any] struct {
	mu sync.RWMutex
	v  T
}

func NewCell[T any](v T) *Cell[T] { return &Cell[T]{v: v} }

func (c *Cell[T]) Load() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.v
}

func (c *Cell[T]) Store(v T) {
	c.mu.Lock()
	c.v = v
	c.mu.Unlock()
}

// Update applies fn to the held value under the write lock. fn must not block.
func (c *Cell[T]) Update(fn func(*T)) {
	c.mu.Lock()
	fn(&c.v)
	c.mu.Unlock()
}

// UpdateFromOutput drains the parse buffer of p and moves it to the state
// the first matching marker names. It reports the new state when one matched
// and was applied; a pending Stop or Restart keeps p in Middle.
func UpdateFromOutput(p *process.Process, m matcher.Matcher) (process.State, bool) {
	text := p.Output().TakeParse()
	if text == "" || m == nil {
		return 0, false
	}
	s, ok := m.Match(text)
	if !ok || !p.Advance(s) {
		return 0, false
	}
	return s, true
}
