// Package httpbridge talks to an engine query bridge over HTTP/JSON.
//
// The bridge exposes three endpoints:
//
//	POST   /v1/sessions             {"archive": "<path>"}  -> {"session_id": "<id>"}
//	POST   /v1/sessions/{id}/query  <request>               -> {"rows": [<record>...]}
//	DELETE /v1/sessions/{id}
//
// Records carry category_name, child_name, _date and value. Window bounds are
// sent both as naive ISO timestamps and in the engine's own 12-hour layout.
package httpbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/HatiCode/solpivot/pkg/normalize"
	"github.com/HatiCode/solpivot/pkg/query"
)

const isoLayout = "2006-01-02T15:04:05"

// Client opens bridge sessions. It is safe for concurrent use; the sessions
// it returns are not.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a client for the bridge at baseURL (scheme and host, e.g.
// "http://localhost:8090"). A default timeout of 60 seconds applies to each
// HTTP request; per-query deadlines come from the caller's context.
func New(baseURL string) *Client {
	return NewWithTimeout(baseURL, 60*time.Second)
}

// NewWithTimeout creates a client with a custom per-request timeout.
func NewWithTimeout(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type openRequest struct {
	Archive string `json:"archive"`
}

type openResponse struct {
	SessionID string `json:"session_id"`
}

type windowPayload struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	StartEngine string `json:"start_engine"`
	EndEngine   string `json:"end_engine"`
}

type queryPayload struct {
	Collection int            `json:"collection"`
	Property   int            `json:"property"`
	Parent     string         `json:"parent"`
	Child      string         `json:"child"`
	Period     string         `json:"period"`
	Window     *windowPayload `json:"window,omitempty"`
}

type queryResponse struct {
	Rows []map[string]any `json:"rows"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Open implements query.Opener.
func (c *Client) Open(ctx context.Context, archivePath string) (query.Session, error) {
	if archivePath == "" {
		return nil, errors.New("httpbridge: archive path cannot be empty")
	}

	var resp openResponse
	if err := c.do(ctx, http.MethodPost, "/v1/sessions", openRequest{Archive: archivePath}, &resp); err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	if resp.SessionID == "" {
		return nil, errors.New("open session: bridge returned an empty session id")
	}
	return &session{client: c, id: resp.SessionID}, nil
}

// Ping checks that the bridge answers.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

type session struct {
	client *Client
	id     string
	closed bool
}

func (s *session) Query(ctx context.Context, req query.Request) (query.Result, error) {
	if s.closed {
		return query.Result{}, errors.New("httpbridge: query on closed session")
	}

	payload := queryPayload{
		Collection: req.Collection,
		Property:   req.Property,
		Parent:     req.Parent,
		Child:      req.Child,
		Period:     string(req.Period),
	}
	if req.Window != nil {
		payload.Window = &windowPayload{
			Start:       req.Window.Start.Format(isoLayout),
			End:         req.Window.End.Format(isoLayout),
			StartEngine: normalize.FormatTimestamp(req.Window.Start),
			EndEngine:   normalize.FormatTimestamp(req.Window.End),
		}
	}

	var resp queryResponse
	if err := s.client.do(ctx, http.MethodPost, "/v1/sessions/"+url.PathEscape(s.id)+"/query", payload, &resp); err != nil {
		return query.Result{}, fmt.Errorf("query collection %d property %d: %w", req.Collection, req.Property, err)
	}
	return query.DecodeRows(resp.Rows), nil
}

func (s *session) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.do(ctx, http.MethodDelete, "/v1/sessions/"+url.PathEscape(s.id), nil, nil); err != nil {
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	return nil
}

// do sends body as JSON and decodes a 2xx response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	u = u.JoinPath(path)

	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		rdr = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var er errorResponse
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er) == nil && er.Error != "" {
			return fmt.Errorf("bridge: status %d: %s", resp.StatusCode, er.Error)
		}
		return fmt.Errorf("bridge: status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
