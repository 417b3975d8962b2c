package xvb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Target is the pool a hashing engine should mine on.
type Target struct {
	URL  string `json:"url"`
	User string `json:"user,omitempty"`
}

// Switcher points a hashing engine at a pool.
type Switcher interface {
	Switch(ctx context.Context, t Target) error
}

// APISwitcher rewrites the first pool of an XMRig or XMRig-Proxy config
// through its HTTP API (GET/PUT /1/config).
type APISwitcher struct {
	Base   string
	Token  string
	Client *http.Client
}

func (a *APISwitcher) Switch(ctx context.Context, t Target) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cfg := map[string]any{}
	if err := a.do(ctx, http.MethodGet, nil, &cfg); err != nil {
		return fmt.Errorf("read engine config: %w", err)
	}
	pools, _ := cfg["pools"].([]any)
	first := map[string]any{}
	if len(pools) > 0 {
		if m, ok := pools[0].(map[string]any); ok {
			first = m
		}
	}
	first["url"] = t.URL
	if t.User != "" {
		first["user"] = t.User
	}
	if len(pools) == 0 {
		pools = []any{first}
	} else {
		pools[0] = first
	}
	cfg["pools"] = pools
	if err := a.do(ctx, http.MethodPut, cfg, nil); err != nil {
		return fmt.Errorf("write engine config: %w", err)
	}
	return nil
}

func (a *APISwitcher) do(ctx context.Context, method string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.Base+"/1/config", body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.Token)
	}
	client := a.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode/100 != 2 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%w: %d", ErrStatus, resp.StatusCode)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Probe dials every node concurrently and returns them ordered by latency,
// unreachable ones dropped.
func Probe(ctx context.Context, nodes []string, timeout time.Duration) []string {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	type result struct {
		node string
		rtt  time.Duration
	}
	dlr := net.Dialer{Timeout: timeout}
	var (
		mu sync.Mutex
		ok []result
		wg sync.WaitGroup
	)
	for _, n := range nodes {
		wg.Add(1)
		go func(n string) {
			defer wg.Done()
			start := time.Now()
			conn, err := dlr.DialContext(ctx, "tcp", n)
			if err != nil {
				return
			}
			_ = conn.Close()
			mu.Lock()
			ok = append(ok, result{n, time.Since(start)})
			mu.Unlock()
		}(n)
	}
	wg.Wait()
	sort.Slice(ok, func(i, j int) bool { return ok[i].rtt < ok[j].rtt })
	out := make([]string, len(ok))
	for i, r := range ok {
		out[i] = r.node
	}
	return out
}
