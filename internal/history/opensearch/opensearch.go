package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/loykin/rigwatch/internal/history"
)

// maxRetries bounds the attempts made for 429 and 5xx answers.
const maxRetries = 3

// Sink indexes events as flat documents: POST {baseURL}/{index}/_doc.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
	backoff func() backoff.BackOff
}

// doc is the indexed shape of an event. Flat fields keep dashboards simple.
type doc struct {
	Timestamp time.Time `json:"@timestamp"`
	Event     string    `json:"event"`
	Worker    string    `json:"worker"`
	RunID     string    `json:"run_id,omitempty"`
	PID       int       `json:"pid,omitempty"`
	State     string    `json:"state"`
	Detail    string    `json:"detail,omitempty"`
}

func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			return backoff.WithMaxRetries(b, maxRetries)
		},
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(doc{
		Timestamp: e.OccurredAt,
		Event:     string(e.Type),
		Worker:    e.Record.Worker,
		RunID:     e.Record.RunID,
		PID:       e.Record.PID,
		State:     e.Record.State,
		Detail:    e.Record.Detail,
	})
	if err != nil {
		return fmt.Errorf("opensearch sink encode: %w", err)
	}
	u := s.baseURL + "/" + s.index + "/_doc"
	return backoff.Retry(func() error {
		return s.post(ctx, u, body)
	}, backoff.WithContext(s.backoff(), ctx))
}

func (s *Sink) post(ctx context.Context, u string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	switch {
	case resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("opensearch sink status %d", resp.StatusCode)
	default:
		return backoff.Permanent(fmt.Errorf("opensearch sink status %d", resp.StatusCode))
	}
}
