// Package opensearch indexes history events into OpenSearch (or
// Elasticsearch) through the document REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/tally/internal/history"
)

const defaultTimeout = 5 * time.Second

// Options locates the index. Username enables basic auth.
type Options struct {
	BaseURL  string // scheme://host:port
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

// Sink POSTs each event to {BaseURL}/{Index}/_doc.
type Sink struct {
	client *http.Client
	docURL string
	opts   Options
}

func New(opts Options) (*Sink, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Index == "" {
		return nil, fmt.Errorf("opensearch: empty index")
	}
	u, err := url.JoinPath(strings.TrimRight(opts.BaseURL, "/"), opts.Index, "_doc")
	if err != nil {
		return nil, fmt.Errorf("opensearch: %w", err)
	}
	return &Sink{client: &http.Client{Timeout: opts.Timeout}, docURL: u, opts: opts}, nil
}

// document is the indexed shape; @timestamp lets dashboards pick the time field.
type document struct {
	history.Event
	Timestamp time.Time `json:"@timestamp"`
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(document{Event: e, Timestamp: e.OccurredAt})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.docURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("opensearch: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch: index %s: status %d: %s", s.opts.Index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
