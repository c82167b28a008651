// Package opensearch indexes session events through the OpenSearch (or
// Elasticsearch) document API.
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

	"github.com/loykin/telenotify/internal/history"
)

// DefaultIndex receives events when Options.Index is empty.
const DefaultIndex = "session-history"

type Options struct {
	BaseURL  string // e.g. http://localhost:9200
	Index    string
	Username string
	Password string
	Timeout  time.Duration // per request; default 5s
}

// Sink writes one document per event. Events carrying a session id are
// stored under "<session>-<event>" so a retried send overwrites instead of
// duplicating.
type Sink struct {
	client *http.Client
	opts   Options
}

// document flattens the record next to the event fields.
type document struct {
	Timestamp time.Time         `json:"@timestamp"`
	Event     history.EventType `json:"event"`
	history.Record
}

func New(opts Options) *Sink {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	return &Sink{client: &http.Client{Timeout: opts.Timeout}, opts: opts}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	body, err := json.Marshal(document{Timestamp: e.OccurredAt.UTC(), Event: e.Type, Record: e.Record})
	if err != nil {
		return err
	}

	method, u := http.MethodPost, fmt.Sprintf("%s/%s/_doc", s.opts.BaseURL, url.PathEscape(s.opts.Index))
	if id := e.Record.SessionID; id != "" {
		method, u = http.MethodPut, u+"/"+url.PathEscape(id+"-"+string(e.Type))
	}
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.opts.Index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}
