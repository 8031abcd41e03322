package upstream

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/danmuck/rollcall/internal/observability"
	"github.com/rs/zerolog/log"
)

var ErrBaseURLRequired = errors.New("upstream: base url required")

const maxErrorBody = 64 << 10

// Config describes one remote HTTP collaborator.
type Config struct {
	// Target labels metrics and logs, e.g. "attendance" or "detector".
	Target  string
	BaseURL string
	Timeout time.Duration
	// CAFile optionally pins the server certificate authority for https targets.
	CAFile string
}

// StatusError is a non-2xx response. Message is the server's own error text.
type StatusError struct {
	Target  string
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s %s: status %d", e.Target, e.Method, e.Path, e.Code)
	}
	return fmt.Sprintf("%s: %s %s: status %d: %s", e.Target, e.Method, e.Path, e.Code, e.Message)
}

func (e *StatusError) ServerMessage() string {
	return e.Message
}

// Client issues JSON requests against one base URL.
type Client struct {
	target  string
	baseURL string
	http    *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	base := BaseURL(cfg.BaseURL)
	if base == "" {
		return nil, ErrBaseURLRequired
	}
	httpClient, err := NewHTTPClient(cfg.Timeout, cfg.CAFile)
	if err != nil {
		return nil, err
	}
	target := strings.TrimSpace(cfg.Target)
	if target == "" {
		target = "upstream"
	}
	return &Client{target: target, baseURL: base, http: httpClient}, nil
}

// NewHTTPClient builds an http.Client. When caFile is set only the
// authorities in it are trusted.
func NewHTTPClient(timeout time.Duration, caFile string) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}
	caFile = strings.TrimSpace(caFile)
	if caFile == "" {
		return client, nil
	}
	pem, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("upstream: read ca file: %w", err)
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("upstream: ca file %q has no certificates", caFile)
	}
	client.Transport = &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12},
	}
	return client, nil
}

// BaseURL normalizes "host:port", ":port" and full URLs into a scheme-qualified
// base without a trailing slash.
func BaseURL(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return ""
	}
	if strings.HasPrefix(addr, "http://") || strings.HasPrefix(addr, "https://") {
		return strings.TrimRight(addr, "/")
	}
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + strings.TrimRight(addr, "/")
}

func (c *Client) Target() string  { return c.target }
func (c *Client) BaseURL() string { return c.baseURL }

// Request is one outbound call.
type Request struct {
	Method string
	Path   string
	// Route labels metrics in place of Path when Path embeds ids.
	Route       string
	Query       url.Values
	Body        io.Reader
	ContentType string
}

// Do sends req and decodes a 2xx JSON body into out (when out is non-nil).
// Non-2xx answers become *StatusError.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	start := time.Now()
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	route := req.Route
	if route == "" {
		route = req.Path
	}
	u := c.baseURL + req.Path
	if len(req.Query) > 0 {
		u += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, u, req.Body)
	if err != nil {
		observability.RecordUpstream(c.target, method, route, 0, time.Since(start), false)
		return fmt.Errorf("%s: build request: %w", c.target, err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		log.Error().
			Str("target", c.target).
			Str("method", method).
			Str("url", u).
			Err(err).
			Msg("upstream_request_failed")
		observability.RecordUpstream(c.target, method, route, 0, time.Since(start), false)
		return fmt.Errorf("%s: %s %s: %w", c.target, method, req.Path, err)
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	observability.RecordUpstream(c.target, method, route, resp.StatusCode, time.Since(start), ok)
	log.Debug().
		Str("target", c.target).
		Str("method", method).
		Str("url", u).
		Int("status", resp.StatusCode).
		Dur("duration", time.Since(start)).
		Msg("upstream_request")

	if !ok {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{
			Target:  c.target,
			Method:  method,
			Path:    req.Path,
			Code:    resp.StatusCode,
			Message: errorMessage(body),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode %s response: %w", c.target, req.Path, err)
	}
	return nil
}

// errorMessage pulls the attendance server's "error" or "message" field.
func errorMessage(body []byte) string {
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	if m := strings.TrimSpace(payload.Error); m != "" {
		return m
	}
	return strings.TrimSpace(payload.Message)
}
